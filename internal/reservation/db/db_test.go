package db_test

import (
	"context"
	"database/sql"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"

	"ms-reservation/internal/models"
	"ms-reservation/internal/reservation"
	"ms-reservation/internal/reservation/db"
)

const totalCapacity = 40

func setupTestDB(t *testing.T) (*db.DB, *bun.DB) {
	sqldb, err := sql.Open(sqliteshim.ShimName, "file::memory:?cache=shared")
	if err != nil {
		t.Fatalf("Failed to connect to in-memory database: %v", err)
	}
	// Shared-cache memory databases still vanish once the last connection
	// closes, so keep the pool on a single connection.
	sqldb.SetMaxOpenConns(1)

	bunDB := bun.NewDB(sqldb, sqlitedialect.New())
	if err := db.Bootstrap(context.Background(), bunDB); err != nil {
		t.Fatalf("Failed to create tables: %v", err)
	}

	return &db.DB{Bun: bunDB}, bunDB
}

func TestReserveSeatsCreatesLedgerAndBooking(t *testing.T) {
	dbLayer, bunDB := setupTestDB(t)
	defer bunDB.Close()
	ctx := context.Background()

	booking, record, err := dbLayer.ReserveSeats(ctx, "2025-06-01_14:00", "2025-06-01", "14:00", "Asha", 5, totalCapacity)
	require.NoError(t, err)
	require.NotNil(t, booking)
	require.NotNil(t, record)

	assert.Equal(t, "2025-06-01_14:00", booking.SlotID)
	assert.Equal(t, models.StatusPending, booking.Status)
	assert.Equal(t, 5, booking.Persons)
	assert.False(t, booking.CreatedAt.IsZero())

	assert.Equal(t, totalCapacity, record.TotalCapacity)
	assert.Equal(t, 5, record.BookedSeats)
	assert.Equal(t, 35, record.RemainingSeats)

	// The booking id embeds the slot and the creation instant.
	assert.Contains(t, booking.BookingID, "2025-06-01_14:00_")
}

func TestReserveSeatsInsufficientCapacity(t *testing.T) {
	dbLayer, bunDB := setupTestDB(t)
	defer bunDB.Close()
	ctx := context.Background()

	_, _, err := dbLayer.ReserveSeats(ctx, "2025-06-01_14:00", "2025-06-01", "14:00", "Asha", 38, totalCapacity)
	require.NoError(t, err)

	_, _, err = dbLayer.ReserveSeats(ctx, "2025-06-01_14:00", "2025-06-01", "14:00", "Ben", 3, totalCapacity)
	assert.ErrorIs(t, err, reservation.ErrInsufficientCapacity)

	// The failed attempt left nothing behind: no partial booking, counts
	// unchanged.
	record, err := dbLayer.GetCapacity(ctx, "2025-06-01_14:00")
	require.NoError(t, err)
	assert.Equal(t, 38, record.BookedSeats)
	assert.Equal(t, 2, record.RemainingSeats)

	bookings, err := dbLayer.ListBookings(ctx, models.BookingFilter{})
	require.NoError(t, err)
	assert.Len(t, bookings, 1)
}

func TestReserveSeatsBoundaryAtZero(t *testing.T) {
	dbLayer, bunDB := setupTestDB(t)
	defer bunDB.Close()
	ctx := context.Background()

	_, _, err := dbLayer.ReserveSeats(ctx, "2025-06-01_14:00", "2025-06-01", "14:00", "Asha", 37, totalCapacity)
	require.NoError(t, err)

	// Taking exactly the remaining seats succeeds and empties the slot.
	_, record, err := dbLayer.ReserveSeats(ctx, "2025-06-01_14:00", "2025-06-01", "14:00", "Ben", 3, totalCapacity)
	require.NoError(t, err)
	assert.Equal(t, 0, record.RemainingSeats)
	assert.Equal(t, totalCapacity, record.BookedSeats)

	_, _, err = dbLayer.ReserveSeats(ctx, "2025-06-01_14:00", "2025-06-01", "14:00", "Cara", 1, totalCapacity)
	assert.ErrorIs(t, err, reservation.ErrInsufficientCapacity)
}

func TestConcurrentReservationsNeverOversell(t *testing.T) {
	dbLayer, bunDB := setupTestDB(t)
	defer bunDB.Close()
	ctx := context.Background()

	// Two parties race for an empty 40-seat slot: 25 + 20 > 40, so exactly
	// one must win.
	var wg sync.WaitGroup
	errs := make([]error, 2)
	sizes := []int{25, 20}
	for i, persons := range sizes {
		wg.Add(1)
		go func(i, persons int) {
			defer wg.Done()
			_, _, errs[i] = dbLayer.ReserveSeats(ctx, "2025-06-01_18:00", "2025-06-01", "18:00", "Racer", persons, totalCapacity)
		}(i, persons)
	}
	wg.Wait()

	var successes, capacityFailures int
	var winner int
	for i, err := range errs {
		switch {
		case err == nil:
			successes++
			winner = sizes[i]
		case assert.ErrorIs(t, err, reservation.ErrInsufficientCapacity):
			capacityFailures++
		}
	}
	assert.Equal(t, 1, successes)
	assert.Equal(t, 1, capacityFailures)

	record, err := dbLayer.GetCapacity(ctx, "2025-06-01_18:00")
	require.NoError(t, err)
	assert.Equal(t, totalCapacity-winner, record.RemainingSeats)
	assert.Equal(t, winner, record.BookedSeats)
}

func TestReleaseSeatsRoundTrip(t *testing.T) {
	dbLayer, bunDB := setupTestDB(t)
	defer bunDB.Close()
	ctx := context.Background()

	_, before, err := dbLayer.ReserveSeats(ctx, "2025-06-01_14:00", "2025-06-01", "14:00", "Asha", 10, totalCapacity)
	require.NoError(t, err)

	booking, _, err := dbLayer.ReserveSeats(ctx, "2025-06-01_14:00", "2025-06-01", "14:00", "Ben", 5, totalCapacity)
	require.NoError(t, err)

	record, clamped, err := dbLayer.ReleaseSeats(ctx, booking.BookingID)
	require.NoError(t, err)
	assert.False(t, clamped)

	// Remaining seats are restored to exactly the pre-reservation value.
	assert.Equal(t, before.RemainingSeats, record.RemainingSeats)
	assert.Equal(t, before.BookedSeats, record.BookedSeats)

	// The booking itself is gone.
	_, err = dbLayer.GetBooking(ctx, booking.BookingID)
	assert.ErrorIs(t, err, reservation.ErrNotFound)
}

func TestReleaseSeatsNotFound(t *testing.T) {
	dbLayer, bunDB := setupTestDB(t)
	defer bunDB.Close()

	_, _, err := dbLayer.ReleaseSeats(context.Background(), "2025-06-01_14:00_123")
	assert.ErrorIs(t, err, reservation.ErrNotFound)
}

func TestReleaseSeatsClampsDriftedLedger(t *testing.T) {
	dbLayer, bunDB := setupTestDB(t)
	defer bunDB.Close()
	ctx := context.Background()

	booking, _, err := dbLayer.ReserveSeats(ctx, "2025-06-01_14:00", "2025-06-01", "14:00", "Asha", 5, totalCapacity)
	require.NoError(t, err)

	// Corrupt the ledger out of band so the release arithmetic would push
	// remaining past total.
	_, err = bunDB.NewUpdate().
		Model((*models.CapacityRecord)(nil)).
		Set("booked_seats = ?", 2).
		Set("remaining_seats = ?", 38).
		Where("slot_id = ?", "2025-06-01_14:00").
		Exec(ctx)
	require.NoError(t, err)

	record, clamped, err := dbLayer.ReleaseSeats(ctx, booking.BookingID)
	require.NoError(t, err)
	assert.True(t, clamped)
	assert.Equal(t, totalCapacity, record.RemainingSeats)
	assert.Equal(t, 0, record.BookedSeats)
}

func TestMarkCompletedIsLedgerNeutral(t *testing.T) {
	dbLayer, bunDB := setupTestDB(t)
	defer bunDB.Close()
	ctx := context.Background()

	booking, before, err := dbLayer.ReserveSeats(ctx, "2025-06-01_14:00", "2025-06-01", "14:00", "Asha", 5, totalCapacity)
	require.NoError(t, err)

	require.NoError(t, dbLayer.MarkCompleted(ctx, booking.BookingID))

	updated, err := dbLayer.GetBooking(ctx, booking.BookingID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, updated.Status)

	// Completion never touches the slot's counts.
	record, err := dbLayer.GetCapacity(ctx, "2025-06-01_14:00")
	require.NoError(t, err)
	assert.Equal(t, before.BookedSeats, record.BookedSeats)
	assert.Equal(t, before.RemainingSeats, record.RemainingSeats)
}

func TestMarkCompletedNotFound(t *testing.T) {
	dbLayer, bunDB := setupTestDB(t)
	defer bunDB.Close()

	err := dbLayer.MarkCompleted(context.Background(), "missing")
	assert.ErrorIs(t, err, reservation.ErrNotFound)
}

func TestLedgerMatchesBookingSum(t *testing.T) {
	dbLayer, bunDB := setupTestDB(t)
	defer bunDB.Close()
	ctx := context.Background()

	var toCancel string
	for i, persons := range []int{4, 6, 2} {
		booking, _, err := dbLayer.ReserveSeats(ctx, "2025-06-01_14:00", "2025-06-01", "14:00", "Guest", persons, totalCapacity)
		require.NoError(t, err)
		if i == 1 {
			toCancel = booking.BookingID
		}
	}

	_, _, err := dbLayer.ReleaseSeats(ctx, toCancel)
	require.NoError(t, err)

	bookings, err := dbLayer.ListBookings(ctx, models.BookingFilter{Date: "2025-06-01"})
	require.NoError(t, err)

	sum := 0
	for _, b := range bookings {
		sum += b.Persons
	}

	record, err := dbLayer.GetCapacity(ctx, "2025-06-01_14:00")
	require.NoError(t, err)
	assert.Equal(t, sum, record.BookedSeats)
	assert.Equal(t, totalCapacity-sum, record.RemainingSeats)
}

func TestGetCapacityAbsentSlot(t *testing.T) {
	dbLayer, bunDB := setupTestDB(t)
	defer bunDB.Close()

	record, err := dbLayer.GetCapacity(context.Background(), "2025-06-01_09:00")
	require.NoError(t, err)
	assert.Nil(t, record)
}

func TestListCapacitiesDateRange(t *testing.T) {
	dbLayer, bunDB := setupTestDB(t)
	defer bunDB.Close()
	ctx := context.Background()

	for _, slot := range []struct{ id, date, label string }{
		{"2025-06-01_14:00", "2025-06-01", "14:00"},
		{"2025-06-02_10:00", "2025-06-02", "10:00"},
		{"2025-06-05_20:00", "2025-06-05", "20:00"},
	} {
		_, _, err := dbLayer.ReserveSeats(ctx, slot.id, slot.date, slot.label, "Guest", 2, totalCapacity)
		require.NoError(t, err)
	}

	records, err := dbLayer.ListCapacities(ctx, "2025-06-01", "2025-06-02")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "2025-06-01_14:00", records[0].SlotID)
	assert.Equal(t, "2025-06-02_10:00", records[1].SlotID)

	all, err := dbLayer.ListCapacities(ctx, "", "")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestListBookingsFilters(t *testing.T) {
	dbLayer, bunDB := setupTestDB(t)
	defer bunDB.Close()
	ctx := context.Background()

	seed := []struct {
		name    string
		persons int
		slotID  string
		date    string
		label   string
	}{
		{"Alice Smith", 2, "2025-06-01_14:00", "2025-06-01", "14:00"},
		{"Bob Jones", 6, "2025-06-01_18:00", "2025-06-01", "18:00"},
		{"Alicia Keys", 4, "2025-06-02_14:00", "2025-06-02", "14:00"},
	}
	var completed string
	for i, s := range seed {
		booking, _, err := dbLayer.ReserveSeats(ctx, s.slotID, s.date, s.label, s.name, s.persons, totalCapacity)
		require.NoError(t, err)
		if i == 0 {
			completed = booking.BookingID
		}
	}
	require.NoError(t, dbLayer.MarkCompleted(ctx, completed))

	byName, err := dbLayer.ListBookings(ctx, models.BookingFilter{NameContains: "ali"})
	require.NoError(t, err)
	assert.Len(t, byName, 2)

	byStatus, err := dbLayer.ListBookings(ctx, models.BookingFilter{Status: models.StatusCompleted})
	require.NoError(t, err)
	require.Len(t, byStatus, 1)
	assert.Equal(t, "Alice Smith", byStatus[0].Name)

	byDate, err := dbLayer.ListBookings(ctx, models.BookingFilter{Date: "2025-06-01"})
	require.NoError(t, err)
	assert.Len(t, byDate, 2)

	byTime, err := dbLayer.ListBookings(ctx, models.BookingFilter{Time: "14:00"})
	require.NoError(t, err)
	assert.Len(t, byTime, 2)

	byRange, err := dbLayer.ListBookings(ctx, models.BookingFilter{MinPersons: 3, MaxPersons: 5})
	require.NoError(t, err)
	require.Len(t, byRange, 1)
	assert.Equal(t, "Alicia Keys", byRange[0].Name)

	sorted, err := dbLayer.ListBookings(ctx, models.BookingFilter{SortBy: "date", SortDesc: true})
	require.NoError(t, err)
	require.Len(t, sorted, 3)
	assert.Equal(t, "2025-06-02", sorted[0].Date)
}
