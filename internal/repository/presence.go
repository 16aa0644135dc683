package repository

import (
	"context"

	"dispatch/internal/domain"
)

// PresenceRepository persists the durable part of driver presence: the duty
// flag and rating. Locations live in the geo index.
type PresenceRepository interface {
	// Get retrieves the stored presence of a driver without location or load.
	Get(ctx context.Context, driverID string) (*domain.DriverPresence, error)

	// SetOnDuty stores the duty flag, creating the record when missing.
	SetOnDuty(ctx context.Context, driverID string, onDuty bool) error
}
