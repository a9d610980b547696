package models

import (
	"time"

	"github.com/uptrace/bun"
)

const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
)

type BookingRequest struct {
	Name    string `json:"name"`
	Persons int    `json:"persons"`
	Date    string `json:"date"`
	Time    string `json:"time"`
}

type Booking struct {
	bun.BaseModel `bun:"table:table_bookings"`

	BookingID string    `bun:"booking_id,pk" json:"booking_id"`
	Name      string    `bun:"name,notnull" json:"name"`
	Persons   int       `bun:"persons,notnull" json:"persons"`
	SlotID    string    `bun:"slot_id,notnull" json:"slot_id"`
	Date      string    `bun:"date,notnull" json:"date"`
	Time      string    `bun:"time_slot,notnull" json:"time"`
	Status    string    `bun:"status,notnull" json:"status"`
	CreatedAt time.Time `bun:"created_at,notnull" json:"created_at"`
}

type BookingResponse struct {
	BookingID      string `json:"booking_id"`
	SlotID         string `json:"slot_id"`
	Name           string `json:"name"`
	Persons        int    `json:"persons"`
	Status         string `json:"status"`
	RemainingSeats int    `json:"remaining_seats"`
}

// BookingFilter carries the admin dashboard's filter and sort parameters.
// Zero values mean "no constraint".
type BookingFilter struct {
	NameContains string
	Status       string
	Date         string
	Time         string
	MinPersons   int
	MaxPersons   int
	SortBy       string // "created_at" or "date", default "created_at"
	SortDesc     bool
}
