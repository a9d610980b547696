package slots

import (
	"fmt"
	"regexp"
	"time"

	"ms-reservation/internal/models"
)

const (
	DateLayout = "2006-01-02"

	// Operating window defaults: 10 AM – 10 PM.
	DefaultOpenHour  = 10
	DefaultCloseHour = 22
)

var slotIDPattern = regexp.MustCompile(`^(\d{4}-\d{2}-\d{2})_(\d{2}):00$`)

// Enumerate returns one "HH:00" label per integer hour in [openHour, closeHour).
func Enumerate(openHour, closeHour int) []string {
	labels := []string{}
	for hour := openHour; hour < closeHour; hour++ {
		labels = append(labels, fmt.Sprintf("%02d:00", hour))
	}
	return labels
}

// ID builds the canonical slot id for a date and time label, e.g.
// "2025-06-01_14:00".
func ID(date, timeLabel string) string {
	return date + "_" + timeLabel
}

// ParseID splits a canonical slot id back into date and time label. The date
// and hour are validated so malformed ids are rejected at the boundary before
// any transaction is attempted.
func ParseID(slotID string) (date, timeLabel string, err error) {
	m := slotIDPattern.FindStringSubmatch(slotID)
	if m == nil {
		return "", "", fmt.Errorf("malformed slot id %q", slotID)
	}
	if _, err := time.Parse(DateLayout, m[1]); err != nil {
		return "", "", fmt.Errorf("malformed slot id %q: %w", slotID, err)
	}
	var hour int
	if _, err := fmt.Sscanf(m[2], "%02d", &hour); err != nil || hour > 23 {
		return "", "", fmt.Errorf("malformed slot id %q: bad hour", slotID)
	}
	return m[1], m[2] + ":00", nil
}

// IsPast reports whether a slot has already started. Only today's slots can
// be past: the slot is past iff date equals now's calendar date and the slot
// start time is at or before now.
func IsPast(date, timeLabel string, now time.Time) bool {
	if date != now.Format(DateLayout) {
		return false
	}
	var hour, minute int
	if _, err := fmt.Sscanf(timeLabel, "%02d:%02d", &hour, &minute); err != nil {
		return false
	}
	start := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	return !start.After(now)
}

// IsBeforeToday reports whether the date lies strictly before now's calendar
// date. Such dates are not bookable at all.
func IsBeforeToday(date string, now time.Time) bool {
	d, err := time.Parse(DateLayout, date)
	if err != nil {
		return false
	}
	today, _ := time.Parse(DateLayout, now.Format(DateLayout))
	return d.Before(today)
}

// IsFull reports whether a slot has no seats left. A nil record means no
// booking ever touched the slot, so the full capacity is free.
func IsFull(record *models.CapacityRecord, totalCapacity int) bool {
	if record == nil {
		return totalCapacity <= 0
	}
	return record.RemainingSeats <= 0
}
