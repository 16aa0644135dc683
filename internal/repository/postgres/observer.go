package postgres

import (
	"context"
	"database/sql"

	"dispatch/internal/domain"
)

// ObserverRepository is a read-only PostgreSQL implementation of
// repository.ObserverRepository.
type ObserverRepository struct {
	q Querier
}

// NewObserverRepository creates a new PostgreSQL observer repository.
func NewObserverRepository(db *sql.DB) *ObserverRepository {
	return &ObserverRepository{q: db}
}

// ListLocated retrieves every observer with a known location.
func (r *ObserverRepository) ListLocated(ctx context.Context) ([]*domain.ObserverPresence, error) {
	query := `
		SELECT observer_id, COALESCE(station, ''), lat, lng, location_updated_at
		FROM observers
		WHERE lat IS NOT NULL AND lng IS NOT NULL
	`

	rows, err := r.q.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var observers []*domain.ObserverPresence
	for rows.Next() {
		var o domain.ObserverPresence
		var loc domain.Location
		var updatedAt sql.NullTime
		if err := rows.Scan(&o.ObserverID, &o.Station, &loc.Lat, &loc.Lng, &updatedAt); err != nil {
			return nil, err
		}
		if updatedAt.Valid {
			loc.UpdatedAt = updatedAt.Time
		}
		o.CurrentLocation = &loc
		observers = append(observers, &o)
	}
	return observers, rows.Err()
}
