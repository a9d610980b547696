package reservation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ms-reservation/internal/config"
	"ms-reservation/internal/logger"
	"ms-reservation/internal/models"
	"ms-reservation/internal/slots"
)

type DBLayer interface {
	ReserveSeats(ctx context.Context, slotID, date, timeLabel, name string, persons, totalCapacity int) (*models.Booking, *models.CapacityRecord, error)
	ReleaseSeats(ctx context.Context, bookingID string) (*models.CapacityRecord, bool, error)
	MarkCompleted(ctx context.Context, bookingID string) error
	GetBooking(ctx context.Context, bookingID string) (*models.Booking, error)
	GetCapacity(ctx context.Context, slotID string) (*models.CapacityRecord, error)
	ListCapacities(ctx context.Context, from, to string) ([]models.CapacityRecord, error)
	ListBookings(ctx context.Context, filter models.BookingFilter) ([]models.Booking, error)
}

// FeedPublisher receives every committed capacity snapshot. Delivery is
// downstream and best-effort; it must never block the transaction path.
type FeedPublisher interface {
	Publish(record models.CapacityRecord)
}

type EventPublisher interface {
	PublishBookingCreated(booking models.Booking) error
	PublishBookingCancelled(booking models.Booking) error
	PublishBookingCompleted(booking models.Booking) error
}

// IdempotencyGuard maps a client-supplied idempotency key to the booking it
// produced, so a retry after an ambiguous timeout returns the original
// booking instead of double-reserving.
type IdempotencyGuard interface {
	Claim(ctx context.Context, key string) (existingBookingID string, claimed bool, err error)
	Confirm(ctx context.Context, key, bookingID string) error
	Release(ctx context.Context, key string) error
}

type Service struct {
	DB     DBLayer
	Feed   FeedPublisher
	Kafka  EventPublisher
	Idem   IdempotencyGuard
	Logger *logger.Logger
	Venue  config.VenueConfig
}

func NewService(db DBLayer, feed FeedPublisher, kafka EventPublisher, idem IdempotencyGuard, log *logger.Logger, venue config.VenueConfig) *Service {
	return &Service{DB: db, Feed: feed, Kafka: kafka, Idem: idem, Logger: log, Venue: venue}
}

// ---------------- RESERVE ----------------

// ReserveSeats validates the request, then runs the atomic
// decrement-and-insert against the store. idemKey may be empty, in which
// case an ambiguous failure means the client must check before retrying.
func (s *Service) ReserveSeats(ctx context.Context, req models.BookingRequest, idemKey string) (*models.BookingResponse, error) {
	if err := s.validateRequest(req); err != nil {
		return nil, err
	}
	slotID := slots.ID(req.Date, req.Time)

	// keyClaimed tracks whether this attempt owns the idempotency key; only
	// the owner may confirm or release it.
	keyClaimed := false
	if idemKey != "" && s.Idem != nil {
		existingID, claimed, err := s.Idem.Claim(ctx, idemKey)
		if err != nil {
			s.Logger.Warn("BOOKING", fmt.Sprintf("Idempotency claim failed, proceeding without guard: %v", err))
		} else if !claimed {
			if existingID == "" {
				return nil, fmt.Errorf("%w: reservation with this idempotency key is still in flight", ErrTransient)
			}
			booking, err := s.DB.GetBooking(ctx, existingID)
			if errors.Is(err, ErrNotFound) {
				// Stale claim: the booking it points at is gone (cancelled or
				// never committed). Drop the claim so a retry can start over.
				if relErr := s.Idem.Release(ctx, idemKey); relErr != nil {
					s.Logger.Warn("BOOKING", fmt.Sprintf("Failed to release stale idempotency key: %v", relErr))
				}
				return nil, fmt.Errorf("%w: idempotency key pointed at a missing booking, retry", ErrTransient)
			}
			if err != nil {
				return nil, err
			}
			s.Logger.LogBooking("REPLAY", booking.BookingID, "Returned existing booking for idempotency key")
			return s.toResponse(ctx, booking)
		} else {
			keyClaimed = true
		}
	}

	booking, record, err := s.DB.ReserveSeats(ctx, slotID, req.Date, req.Time, req.Name, req.Persons, s.Venue.TotalCapacity)
	if err != nil {
		if keyClaimed {
			if relErr := s.Idem.Release(ctx, idemKey); relErr != nil {
				s.Logger.Warn("BOOKING", fmt.Sprintf("Failed to release idempotency key: %v", relErr))
			}
		}
		if errors.Is(err, ErrInsufficientCapacity) {
			s.Logger.LogCapacity(slotID, fmt.Sprintf("Rejected party of %d: insufficient capacity", req.Persons))
		} else {
			s.Logger.Error("BOOKING", fmt.Sprintf("Reservation for slot %s failed: %v", slotID, err))
		}
		return nil, err
	}

	if keyClaimed {
		if err := s.Idem.Confirm(ctx, idemKey, booking.BookingID); err != nil {
			s.Logger.Warn("BOOKING", fmt.Sprintf("Failed to confirm idempotency key: %v", err))
		}
	}

	s.Logger.LogBooking("CREATE", booking.BookingID,
		fmt.Sprintf("Reserved %d seats for %q, %d remaining in slot %s", booking.Persons, booking.Name, record.RemainingSeats, slotID))

	s.publishSnapshot(record)
	if s.Kafka != nil {
		if err := s.Kafka.PublishBookingCreated(*booking); err != nil {
			s.Logger.Error("KAFKA", fmt.Sprintf("Publish booking_created failed: %v", err))
		}
	}

	return &models.BookingResponse{
		BookingID:      booking.BookingID,
		SlotID:         booking.SlotID,
		Name:           booking.Name,
		Persons:        booking.Persons,
		Status:         booking.Status,
		RemainingSeats: record.RemainingSeats,
	}, nil
}

func (s *Service) validateRequest(req models.BookingRequest) error {
	if req.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	if req.Persons < 1 {
		return fmt.Errorf("%w: party size must be at least 1", ErrInvalidInput)
	}
	if _, err := time.Parse(slots.DateLayout, req.Date); err != nil {
		return fmt.Errorf("%w: malformed date %q", ErrInvalidInput, req.Date)
	}
	if _, _, err := slots.ParseID(slots.ID(req.Date, req.Time)); err != nil {
		return fmt.Errorf("%w: malformed time slot %q", ErrInvalidInput, req.Time)
	}

	var hour int
	fmt.Sscanf(req.Time, "%02d", &hour)
	if hour < s.Venue.OpenHour || hour >= s.Venue.CloseHour {
		return fmt.Errorf("%w: slot %s is outside opening hours", ErrInvalidInput, req.Time)
	}

	now := time.Now()
	if slots.IsBeforeToday(req.Date, now) || slots.IsPast(req.Date, req.Time, now) {
		return fmt.Errorf("%w: slot %s %s has already passed", ErrInvalidInput, req.Date, req.Time)
	}
	return nil
}

func (s *Service) toResponse(ctx context.Context, booking *models.Booking) (*models.BookingResponse, error) {
	remaining := s.Venue.TotalCapacity
	if record, err := s.DB.GetCapacity(ctx, booking.SlotID); err == nil && record != nil {
		remaining = record.RemainingSeats
	}
	return &models.BookingResponse{
		BookingID:      booking.BookingID,
		SlotID:         booking.SlotID,
		Name:           booking.Name,
		Persons:        booking.Persons,
		Status:         booking.Status,
		RemainingSeats: remaining,
	}, nil
}

// ---------------- ADMIN COMPENSATION ----------------

// CancelBooking removes the booking and gives its seats back to the slot.
// Conflicts with concurrent reservations on the same slot are resolved by
// the store's retry loop; the ledger invariant holds either way.
func (s *Service) CancelBooking(ctx context.Context, bookingID string) error {
	booking, err := s.DB.GetBooking(ctx, bookingID)
	if err != nil {
		return err
	}

	record, clamped, err := s.DB.ReleaseSeats(ctx, bookingID)
	if err != nil {
		s.Logger.Error("BOOKING", fmt.Sprintf("Cancel of %s failed: %v", bookingID, err))
		return err
	}
	if clamped {
		// CAS writes should make drift impossible; a clamp that bites means
		// the ledger was corrupted out of band.
		s.Logger.Warn("CAPACITY", fmt.Sprintf("Ledger drift detected on slot %s: release of %d seats was clamped", booking.SlotID, booking.Persons))
	}

	s.Logger.LogBooking("CANCEL", bookingID,
		fmt.Sprintf("Released %d seats back to slot %s", booking.Persons, booking.SlotID))

	if record != nil {
		s.publishSnapshot(record)
	}
	if s.Kafka != nil {
		if err := s.Kafka.PublishBookingCancelled(*booking); err != nil {
			s.Logger.Error("KAFKA", fmt.Sprintf("Publish booking_cancelled failed: %v", err))
		}
	}
	return nil
}

// CompleteBooking is a status-only mutation. The slot's counts are part of
// its history and stay as they are.
func (s *Service) CompleteBooking(ctx context.Context, bookingID string) error {
	booking, err := s.DB.GetBooking(ctx, bookingID)
	if err != nil {
		return err
	}

	if err := s.DB.MarkCompleted(ctx, bookingID); err != nil {
		s.Logger.Error("BOOKING", fmt.Sprintf("Complete of %s failed: %v", bookingID, err))
		return err
	}
	s.Logger.LogBooking("COMPLETE", bookingID, "Marked completed")

	if s.Kafka != nil {
		booking.Status = models.StatusCompleted
		if err := s.Kafka.PublishBookingCompleted(*booking); err != nil {
			s.Logger.Error("KAFKA", fmt.Sprintf("Publish booking_completed failed: %v", err))
		}
	}
	return nil
}

// ---------------- QUERIES ----------------

func (s *Service) GetBooking(ctx context.Context, bookingID string) (*models.Booking, error) {
	return s.DB.GetBooking(ctx, bookingID)
}

func (s *Service) ListBookings(ctx context.Context, filter models.BookingFilter) ([]models.Booking, error) {
	return s.DB.ListBookings(ctx, filter)
}

func (s *Service) ListCapacities(ctx context.Context, from, to string) ([]models.CapacityRecord, error) {
	return s.DB.ListCapacities(ctx, from, to)
}

// SlotAvailability assembles the slot picker view for one date: every
// bookable hour with its live remaining count and past/full flags.
func (s *Service) SlotAvailability(ctx context.Context, date string, now time.Time) ([]models.SlotAvailability, error) {
	if _, err := time.Parse(slots.DateLayout, date); err != nil {
		return nil, fmt.Errorf("%w: malformed date %q", ErrInvalidInput, date)
	}

	records, err := s.DB.ListCapacities(ctx, date, date)
	if err != nil {
		return nil, err
	}
	bySlot := make(map[string]*models.CapacityRecord, len(records))
	for i := range records {
		bySlot[records[i].SlotID] = &records[i]
	}

	labels := slots.Enumerate(s.Venue.OpenHour, s.Venue.CloseHour)
	availability := make([]models.SlotAvailability, 0, len(labels))
	for _, label := range labels {
		slotID := slots.ID(date, label)
		record := bySlot[slotID]
		remaining := s.Venue.TotalCapacity
		if record != nil {
			remaining = record.RemainingSeats
		}
		availability = append(availability, models.SlotAvailability{
			SlotID:         slotID,
			Date:           date,
			Time:           label,
			RemainingSeats: remaining,
			Full:           slots.IsFull(record, s.Venue.TotalCapacity),
			Past:           slots.IsPast(date, label, now),
		})
	}
	return availability, nil
}

func (s *Service) publishSnapshot(record *models.CapacityRecord) {
	if s.Feed == nil || record == nil {
		return
	}
	s.Feed.Publish(*record)
}
