package repository

import (
	"context"

	"dispatch/internal/domain"
)

// ObserverRepository reads observer positions maintained elsewhere.
type ObserverRepository interface {
	// ListLocated retrieves every observer with a known location.
	ListLocated(ctx context.Context) ([]*domain.ObserverPresence, error)
}
