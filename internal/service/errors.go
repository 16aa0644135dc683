package service

import (
	"errors"
	"fmt"

	"dispatch/internal/realtime"
	"dispatch/internal/repository"
)

var (
	// ErrInvalidTransition is returned when a booking is not in a status the
	// requested operation can start from.
	ErrInvalidTransition = errors.New("invalid booking transition")

	// ErrNotOnDuty is returned when a driver acts without being on duty.
	ErrNotOnDuty = errors.New("driver not on duty")

	// ErrForbidden is returned when the caller does not own the booking.
	ErrForbidden = errors.New("forbidden")

	// ErrInvalidPayload is returned for malformed input. It is the same
	// sentinel the realtime boundary uses for rejected frames.
	ErrInvalidPayload = realtime.ErrInvalidPayload

	// ErrUpstreamUnavailable is returned when the routing or ETA provider failed.
	ErrUpstreamUnavailable = errors.New("upstream provider unavailable")

	// ErrConflict is returned when a concurrent transition won the race.
	ErrConflict = repository.ErrConflict

	// ErrInvalidBookingID is returned when booking ID is empty or malformed.
	ErrInvalidBookingID = fmt.Errorf("%w: invalid booking id", ErrInvalidPayload)

	// ErrInvalidDriverID is returned when driver ID is empty or malformed.
	ErrInvalidDriverID = fmt.Errorf("%w: invalid driver id", ErrInvalidPayload)

	// ErrInvalidRequesterID is returned when requester ID is empty or malformed.
	ErrInvalidRequesterID = fmt.Errorf("%w: invalid requester id", ErrInvalidPayload)

	// ErrInvalidLocation is returned when coordinates are out of range.
	ErrInvalidLocation = fmt.Errorf("%w: invalid location", ErrInvalidPayload)

	// ErrInvalidRadius is returned when a search radius is not positive.
	ErrInvalidRadius = fmt.Errorf("%w: search radius must be positive", ErrInvalidPayload)
)
