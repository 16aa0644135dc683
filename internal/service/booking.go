package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"dispatch/internal/domain"
	"dispatch/internal/geo"
	"dispatch/internal/logger"
	"dispatch/internal/observability"
	"dispatch/internal/realtime"
	"dispatch/internal/redis"
	"dispatch/internal/repository"
)

const bookingLockTimeout = 5 * time.Second

// DutyChecker reports whether a driver is on duty.
type DutyChecker interface {
	IsOnDuty(ctx context.Context, driverID string) (bool, error)
}

// AcceptFollowUp runs after a booking was accepted.
type AcceptFollowUp interface {
	AlertForBooking(ctx context.Context, bookingID string) error
}

// BookingService drives bookings through their lifecycle.
type BookingService struct {
	bookingRepo repository.BookingRepository
	duty        DutyChecker
	locker      BookingLocker
	bus         realtime.Publisher
	tasks       TaskSubmitter
	followUp    AcceptFollowUp
	log         logger.ILogger
}

// NewBookingService creates a new BookingService. followUp may be nil.
func NewBookingService(
	bookingRepo repository.BookingRepository,
	duty DutyChecker,
	locker BookingLocker,
	bus realtime.Publisher,
	tasks TaskSubmitter,
	followUp AcceptFollowUp,
	log logger.ILogger,
) *BookingService {
	return &BookingService{
		bookingRepo: bookingRepo,
		duty:        duty,
		locker:      locker,
		bus:         bus,
		tasks:       tasks,
		followUp:    followUp,
		log:         log,
	}
}

// CreateBookingRequest contains the parameters for opening a booking.
type CreateBookingRequest struct {
	RequesterID string
	Pickup      geo.Point
	Destination geo.Point
}

// Create opens a pending booking.
func (s *BookingService) Create(ctx context.Context, req CreateBookingRequest) (*domain.Booking, error) {
	if !realtime.ValidID(req.RequesterID) {
		return nil, ErrInvalidRequesterID
	}
	if !req.Pickup.Valid() || !req.Destination.Valid() {
		return nil, ErrInvalidLocation
	}

	now := time.Now().UTC()
	booking := &domain.Booking{
		ID:               uuid.New().String(),
		RequesterID:      req.RequesterID,
		Pickup:           req.Pickup,
		Destination:      req.Destination,
		Status:           domain.BookingStatusPending,
		AlertedObservers: []string{},
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.bookingRepo.Create(ctx, booking); err != nil {
		return nil, err
	}

	s.log.Info("booking created",
		logger.String("booking_id", booking.ID),
		logger.String("requester_id", booking.RequesterID))
	return booking, nil
}

// Get returns a booking by ID.
func (s *BookingService) Get(ctx context.Context, bookingID string) (*domain.Booking, error) {
	if !realtime.ValidID(bookingID) {
		return nil, ErrInvalidBookingID
	}
	return s.bookingRepo.GetByID(ctx, bookingID)
}

// ListActive returns pending and accepted bookings matching the filter.
func (s *BookingService) ListActive(ctx context.Context, filter domain.BookingFilter) ([]*domain.Booking, error) {
	return s.bookingRepo.ListActive(ctx, filter)
}

// Accept assigns an on-duty driver to a pending booking.
func (s *BookingService) Accept(ctx context.Context, bookingID, driverID string) (*domain.Booking, error) {
	if !realtime.ValidID(driverID) {
		return nil, ErrInvalidDriverID
	}

	booking, err := s.transition(ctx, "accept", bookingID, func(ctx context.Context, b *domain.Booking) error {
		onDuty, err := s.duty.IsOnDuty(ctx, driverID)
		if err != nil {
			return err
		}
		if !onDuty {
			return ErrNotOnDuty
		}
		if b.Status != domain.BookingStatusPending {
			return ErrInvalidTransition
		}
		b.Status = domain.BookingStatusAccepted
		b.DriverID = driverID
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, realtime.BookingChannel(booking.ID), realtime.AcceptedEvent{DriverID: driverID})

	if s.followUp != nil {
		id := booking.ID
		s.tasks.Submit(Task{
			Name: "proximity-alerts",
			Key:  id,
			Run: func(ctx context.Context) error {
				return s.followUp.AlertForBooking(ctx, id)
			},
		})
	}
	return booking, nil
}

// Complete finishes an accepted booking on behalf of its driver.
func (s *BookingService) Complete(ctx context.Context, bookingID, driverID string) (*domain.Booking, error) {
	if !realtime.ValidID(driverID) {
		return nil, ErrInvalidDriverID
	}

	booking, err := s.transition(ctx, "complete", bookingID, func(_ context.Context, b *domain.Booking) error {
		if b.DriverID != driverID {
			return ErrForbidden
		}
		if b.Status != domain.BookingStatusAccepted {
			return ErrInvalidTransition
		}
		b.Status = domain.BookingStatusCompleted
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, realtime.BookingChannel(booking.ID), realtime.CompletedEvent{})
	s.publish(ctx, realtime.GlobalChannel, realtime.CompletedEvent{BookingID: booking.ID})
	return booking, nil
}

// Cancel withdraws a pending booking on behalf of its requester.
func (s *BookingService) Cancel(ctx context.Context, bookingID, requesterID string) (*domain.Booking, error) {
	if !realtime.ValidID(requesterID) {
		return nil, ErrInvalidRequesterID
	}

	booking, err := s.transition(ctx, "cancel", bookingID, func(_ context.Context, b *domain.Booking) error {
		if b.RequesterID != requesterID {
			return ErrForbidden
		}
		if b.Status != domain.BookingStatusPending {
			return ErrInvalidTransition
		}
		b.Status = domain.BookingStatusCancelled
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, realtime.BookingChannel(booking.ID), realtime.CancelledEvent{})
	return booking, nil
}

// Release returns an accepted booking to pending so another driver can take
// it. Releasing carries no penalty for the driver.
func (s *BookingService) Release(ctx context.Context, bookingID, driverID string) (*domain.Booking, error) {
	if !realtime.ValidID(driverID) {
		return nil, ErrInvalidDriverID
	}

	booking, err := s.transition(ctx, "release", bookingID, func(_ context.Context, b *domain.Booking) error {
		if b.DriverID != driverID {
			return ErrForbidden
		}
		if b.Status != domain.BookingStatusAccepted {
			return ErrInvalidTransition
		}
		b.Status = domain.BookingStatusPending
		b.DriverID = ""
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, realtime.BookingChannel(booking.ID), realtime.ReleasedEvent{})
	s.log.Info("booking released",
		logger.String("booking_id", booking.ID),
		logger.String("driver_id", driverID))
	return booking, nil
}

// transition loads the booking under its lock, lets apply check and mutate
// it, then persists the change against the version that was read.
func (s *BookingService) transition(
	ctx context.Context,
	op string,
	bookingID string,
	apply func(ctx context.Context, b *domain.Booking) error,
) (*domain.Booking, error) {
	if !realtime.ValidID(bookingID) {
		return nil, ErrInvalidBookingID
	}

	lockCtx, cancel := context.WithTimeout(ctx, bookingLockTimeout)
	unlock, err := s.locker.Lock(lockCtx, bookingID)
	cancel()
	if err != nil {
		observability.BookingTransitionErrorsTotal.WithLabelValues(op).Inc()
		if isLockContention(err) {
			return nil, fmt.Errorf("%w: %v", ErrConflict, err)
		}
		return nil, fmt.Errorf("failed to lock booking: %w", err)
	}
	defer unlock()

	booking, err := s.bookingRepo.GetByID(ctx, bookingID)
	if err != nil {
		observability.BookingTransitionErrorsTotal.WithLabelValues(op).Inc()
		return nil, err
	}

	from := booking.Status
	if err := apply(ctx, booking); err != nil {
		observability.BookingTransitionErrorsTotal.WithLabelValues(op).Inc()
		return nil, err
	}
	if !domain.CanTransition(from, booking.Status) {
		observability.BookingTransitionErrorsTotal.WithLabelValues(op).Inc()
		return nil, ErrInvalidTransition
	}

	if err := s.bookingRepo.UpdateStatus(ctx, booking, from); err != nil {
		observability.BookingTransitionErrorsTotal.WithLabelValues(op).Inc()
		return nil, err
	}

	observability.BookingTransitionsTotal.WithLabelValues(string(booking.Status)).Inc()
	s.log.Info("booking transitioned",
		logger.String("booking_id", booking.ID),
		logger.String("from", string(from)),
		logger.String("to", string(booking.Status)))
	return booking, nil
}

// isLockContention reports whether a Lock error means another holder kept
// the booking for too long, as opposed to the lock backend failing.
func isLockContention(err error) bool {
	return errors.Is(err, redis.ErrLockTimeout) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled)
}

func (s *BookingService) publish(ctx context.Context, channel string, evt realtime.Event) {
	if err := s.bus.Publish(ctx, channel, evt); err != nil {
		s.log.Error("failed to publish event",
			logger.String("channel", channel),
			logger.String("type", evt.EventType()),
			logger.Error(err))
	}
}
