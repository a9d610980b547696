package models

import (
	"github.com/uptrace/bun"
)

// CapacityRecord is the authoritative seat-count state for one slot.
// Created lazily on the first booking against a slot and never deleted,
// even when a slot returns to full capacity.
type CapacityRecord struct {
	bun.BaseModel `bun:"table:capacity_counts"`

	SlotID         string `bun:"slot_id,pk" json:"slot_id"`
	TotalCapacity  int    `bun:"total_capacity,notnull" json:"total_capacity"`
	BookedSeats    int    `bun:"booked_seats,notnull" json:"booked_seats"`
	RemainingSeats int    `bun:"remaining_seats,notnull" json:"remaining_seats"`
}

// SlotAvailability is what the slot picker renders: one enumerated slot
// annotated with its live remaining count.
type SlotAvailability struct {
	SlotID         string `json:"slot_id"`
	Date           string `json:"date"`
	Time           string `json:"time"`
	RemainingSeats int    `json:"remaining_seats"`
	Full           bool   `json:"full"`
	Past           bool   `json:"past"`
}
