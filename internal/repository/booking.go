package repository

import (
	"context"

	"dispatch/internal/domain"
)

// BookingRepository defines the persistence operations for bookings.
type BookingRepository interface {
	// Create persists a new booking.
	Create(ctx context.Context, booking *domain.Booking) error

	// GetByID retrieves a booking by ID.
	GetByID(ctx context.Context, id string) (*domain.Booking, error)

	// ListActive retrieves pending and accepted bookings matching the filter.
	ListActive(ctx context.Context, filter domain.BookingFilter) ([]*domain.Booking, error)

	// UpdateStatus persists booking.Status and booking.DriverID if the stored
	// row is still in status from at booking.StatusVersion. On success the
	// version on booking is advanced. Returns ErrConflict when the row moved.
	UpdateStatus(ctx context.Context, booking *domain.Booking, from domain.BookingStatus) error

	// AddAlertedObserver adds observerID to the booking's alerted set.
	// Reports false when the observer was already present.
	AddAlertedObserver(ctx context.Context, bookingID, observerID string) (bool, error)

	// CountActiveByDriver returns the number of accepted bookings held by a driver.
	CountActiveByDriver(ctx context.Context, driverID string) (int, error)
}
