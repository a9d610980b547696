package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/uptrace/bun"

	"ms-reservation/internal/models"
	"ms-reservation/internal/reservation"
)

type DB struct {
	Bun *bun.DB
}

// maxAttempts bounds the optimistic-concurrency retry loop. A slot contended
// beyond this is surfaced as a transient failure instead of hanging.
const maxAttempts = 5

// errConflict signals that another transaction modified the same capacity
// record between our read and write. Retried transparently, never surfaced.
var errConflict = errors.New("capacity record changed concurrently")

func retryBackoff(attempt int) time.Duration {
	return time.Duration(attempt) * 10 * time.Millisecond
}

// ---------------- RESERVE ----------------

// ReserveSeats atomically decrements a slot's remaining seats and inserts the
// booking. Both writes commit together or not at all. Concurrent writers to
// the same slot are detected by a guarded write on the previously read
// booked_seats value and retried from the read.
func (d *DB) ReserveSeats(ctx context.Context, slotID, date, timeLabel, name string, persons, totalCapacity int) (*models.Booking, *models.CapacityRecord, error) {
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		booking, record, err := d.reserveOnce(ctx, slotID, date, timeLabel, name, persons, totalCapacity)
		if errors.Is(err, errConflict) {
			time.Sleep(retryBackoff(attempt))
			continue
		}
		return booking, record, err
	}
	return nil, nil, fmt.Errorf("%w: slot %s contended beyond %d attempts", reservation.ErrTransient, slotID, maxAttempts)
}

func (d *DB) reserveOnce(ctx context.Context, slotID, date, timeLabel, name string, persons, totalCapacity int) (*models.Booking, *models.CapacityRecord, error) {
	var booking models.Booking
	var record models.CapacityRecord

	err := d.Bun.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		err := tx.NewSelect().
			Model(&record).
			Where("slot_id = ?", slotID).
			Limit(1).
			Scan(ctx)

		switch {
		case errors.Is(err, sql.ErrNoRows):
			// First booking against this slot: the record exists implicitly
			// at full capacity until now.
			if totalCapacity < persons {
				return reservation.ErrInsufficientCapacity
			}
			record = models.CapacityRecord{
				SlotID:         slotID,
				TotalCapacity:  totalCapacity,
				BookedSeats:    persons,
				RemainingSeats: totalCapacity - persons,
			}
			res, err := tx.NewInsert().
				Model(&record).
				On("CONFLICT (slot_id) DO NOTHING").
				Exec(ctx)
			if err != nil {
				return err
			}
			if affected, _ := res.RowsAffected(); affected == 0 {
				// Someone created the record between our read and write.
				return errConflict
			}

		case err != nil:
			return err

		default:
			if record.RemainingSeats < persons {
				return reservation.ErrInsufficientCapacity
			}
			prevBooked := record.BookedSeats
			record.BookedSeats += persons
			record.RemainingSeats = record.TotalCapacity - record.BookedSeats

			res, err := tx.NewUpdate().
				Model(&record).
				Column("total_capacity", "booked_seats", "remaining_seats").
				Where("slot_id = ? AND booked_seats = ?", slotID, prevBooked).
				Exec(ctx)
			if err != nil {
				return err
			}
			if affected, _ := res.RowsAffected(); affected == 0 {
				return errConflict
			}
		}

		now := time.Now().UTC()
		booking = models.Booking{
			BookingID: fmt.Sprintf("%s_%d", slotID, now.UnixNano()),
			Name:      name,
			Persons:   persons,
			SlotID:    slotID,
			Date:      date,
			Time:      timeLabel,
			Status:    models.StatusPending,
			CreatedAt: now,
		}
		_, err = tx.NewInsert().Model(&booking).Exec(ctx)
		return err
	})

	if err != nil {
		if errors.Is(err, errConflict) ||
			errors.Is(err, reservation.ErrInsufficientCapacity) {
			return nil, nil, err
		}
		return nil, nil, fmt.Errorf("%w: %v", reservation.ErrTransient, err)
	}
	return &booking, &record, nil
}

// ---------------- RELEASE ----------------

// ReleaseSeats deletes the booking and gives its seats back to the slot in
// one transaction. The new counts are clamped into [0, total]; clamped
// reports whether clamping actually changed the arithmetic, which would mean
// the ledger had drifted.
func (d *DB) ReleaseSeats(ctx context.Context, bookingID string) (record *models.CapacityRecord, clamped bool, err error) {
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		record, clamped, err = d.releaseOnce(ctx, bookingID)
		if errors.Is(err, errConflict) {
			time.Sleep(retryBackoff(attempt))
			continue
		}
		return record, clamped, err
	}
	return nil, false, fmt.Errorf("%w: booking %s contended beyond %d attempts", reservation.ErrTransient, bookingID, maxAttempts)
}

func (d *DB) releaseOnce(ctx context.Context, bookingID string) (*models.CapacityRecord, bool, error) {
	var record *models.CapacityRecord
	var clamped bool

	err := d.Bun.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		var booking models.Booking
		err := tx.NewSelect().
			Model(&booking).
			Where("booking_id = ?", bookingID).
			Limit(1).
			Scan(ctx)
		if errors.Is(err, sql.ErrNoRows) {
			return reservation.ErrNotFound
		}
		if err != nil {
			return err
		}

		var rec models.CapacityRecord
		err = tx.NewSelect().
			Model(&rec).
			Where("slot_id = ?", booking.SlotID).
			Limit(1).
			Scan(ctx)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			// No ledger entry for the slot; nothing to give back.
		case err != nil:
			return err
		default:
			prevBooked := rec.BookedSeats
			newRemaining := rec.RemainingSeats + booking.Persons
			if newRemaining > rec.TotalCapacity {
				newRemaining = rec.TotalCapacity
				clamped = true
			}
			newBooked := rec.BookedSeats - booking.Persons
			if newBooked < 0 {
				newBooked = 0
				clamped = true
			}
			rec.BookedSeats = newBooked
			rec.RemainingSeats = newRemaining

			res, err := tx.NewUpdate().
				Model(&rec).
				Column("booked_seats", "remaining_seats").
				Where("slot_id = ? AND booked_seats = ?", rec.SlotID, prevBooked).
				Exec(ctx)
			if err != nil {
				return err
			}
			if affected, _ := res.RowsAffected(); affected == 0 {
				return errConflict
			}
			record = &rec
		}

		res, err := tx.NewDelete().
			Model((*models.Booking)(nil)).
			Where("booking_id = ?", bookingID).
			Exec(ctx)
		if err != nil {
			return err
		}
		if affected, _ := res.RowsAffected(); affected == 0 {
			return reservation.ErrNotFound
		}
		return nil
	})

	if err != nil {
		if errors.Is(err, errConflict) ||
			errors.Is(err, reservation.ErrNotFound) {
			return nil, false, err
		}
		return nil, false, fmt.Errorf("%w: %v", reservation.ErrTransient, err)
	}
	return record, clamped, nil
}

// ---------------- STATUS ----------------

// MarkCompleted flips the booking's status. The ledger is untouched: a
// completed booking's seats stay counted in the slot's history.
func (d *DB) MarkCompleted(ctx context.Context, bookingID string) error {
	res, err := d.Bun.NewUpdate().
		Model((*models.Booking)(nil)).
		Set("status = ?", models.StatusCompleted).
		Where("booking_id = ?", bookingID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", reservation.ErrTransient, err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return reservation.ErrNotFound
	}
	return nil
}

// ---------------- QUERIES ----------------

func (d *DB) GetBooking(ctx context.Context, bookingID string) (*models.Booking, error) {
	var booking models.Booking
	err := d.Bun.NewSelect().
		Model(&booking).
		Where("booking_id = ?", bookingID).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, reservation.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", reservation.ErrTransient, err)
	}
	return &booking, nil
}

// GetCapacity returns nil without error when no booking ever touched the
// slot; callers treat that as full capacity remaining.
func (d *DB) GetCapacity(ctx context.Context, slotID string) (*models.CapacityRecord, error) {
	var record models.CapacityRecord
	err := d.Bun.NewSelect().
		Model(&record).
		Where("slot_id = ?", slotID).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", reservation.ErrTransient, err)
	}
	return &record, nil
}

// ListCapacities returns all capacity records whose slot date falls in
// [from, to]. Slot ids sort lexicographically by date then hour, so a prefix
// range over the id column is enough.
func (d *DB) ListCapacities(ctx context.Context, from, to string) ([]models.CapacityRecord, error) {
	var records []models.CapacityRecord
	q := d.Bun.NewSelect().Model(&records)
	if from != "" {
		q = q.Where("slot_id >= ?", from)
	}
	if to != "" {
		q = q.Where("slot_id < ?", to+"_~")
	}
	if err := q.Order("slot_id").Scan(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", reservation.ErrTransient, err)
	}
	return records, nil
}

func (d *DB) ListBookings(ctx context.Context, filter models.BookingFilter) ([]models.Booking, error) {
	var bookings []models.Booking
	q := d.Bun.NewSelect().Model(&bookings)

	if filter.NameContains != "" {
		q = q.Where("lower(name) LIKE ?", "%"+strings.ToLower(filter.NameContains)+"%")
	}
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	if filter.Date != "" {
		q = q.Where("date = ?", filter.Date)
	}
	if filter.Time != "" {
		q = q.Where("time_slot = ?", filter.Time)
	}
	if filter.MinPersons > 0 {
		q = q.Where("persons >= ?", filter.MinPersons)
	}
	if filter.MaxPersons > 0 {
		q = q.Where("persons <= ?", filter.MaxPersons)
	}

	sortBy := "created_at"
	if filter.SortBy == "date" {
		sortBy = "date"
	}
	order := sortBy + " ASC"
	if filter.SortDesc {
		order = sortBy + " DESC"
	}

	if err := q.Order(order).Scan(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", reservation.ErrTransient, err)
	}
	return bookings, nil
}
