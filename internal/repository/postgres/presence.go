package postgres

import (
	"context"
	"database/sql"
	"errors"

	"dispatch/internal/domain"
	"dispatch/internal/repository"
)

// PresenceRepository is a PostgreSQL implementation of repository.PresenceRepository.
type PresenceRepository struct {
	q Querier
}

// NewPresenceRepository creates a new PostgreSQL presence repository.
func NewPresenceRepository(db *sql.DB) *PresenceRepository {
	return &PresenceRepository{q: db}
}

// Get retrieves the stored duty flag and rating of a driver.
func (r *PresenceRepository) Get(ctx context.Context, driverID string) (*domain.DriverPresence, error) {
	query := `SELECT driver_id, on_duty, rating FROM driver_presence WHERE driver_id = $1`

	var p domain.DriverPresence
	err := r.q.QueryRowContext(ctx, query, driverID).Scan(&p.DriverID, &p.OnDuty, &p.Rating)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

// SetOnDuty stores the duty flag, creating the record when missing.
func (r *PresenceRepository) SetOnDuty(ctx context.Context, driverID string, onDuty bool) error {
	query := `
		INSERT INTO driver_presence (driver_id, on_duty, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (driver_id) DO UPDATE SET on_duty = EXCLUDED.on_duty, updated_at = NOW()
	`
	_, err := r.q.ExecContext(ctx, query, driverID, onDuty)
	return err
}
