package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/lib/pq"

	"dispatch/internal/domain"
	"dispatch/internal/repository"
)

// BookingRepository is a PostgreSQL implementation of repository.BookingRepository.
type BookingRepository struct {
	q Querier
}

// NewBookingRepository creates a new PostgreSQL booking repository.
func NewBookingRepository(db *sql.DB) *BookingRepository {
	return &BookingRepository{q: db}
}

const bookingColumns = `id, requester_id, driver_id, pickup_lat, pickup_lng, destination_lat, destination_lng,
	status, alerted_observers, status_version, created_at, updated_at`

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanBooking(row rowScanner) (*domain.Booking, error) {
	var b domain.Booking
	var driverID sql.NullString
	var alerted pq.StringArray

	err := row.Scan(
		&b.ID,
		&b.RequesterID,
		&driverID,
		&b.Pickup.Lat,
		&b.Pickup.Lng,
		&b.Destination.Lat,
		&b.Destination.Lng,
		&b.Status,
		&alerted,
		&b.StatusVersion,
		&b.CreatedAt,
		&b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if driverID.Valid {
		b.DriverID = driverID.String
	}
	b.AlertedObservers = []string(alerted)
	return &b, nil
}

// Create persists a new booking.
func (r *BookingRepository) Create(ctx context.Context, booking *domain.Booking) error {
	query := `
		INSERT INTO bookings (id, requester_id, driver_id, pickup_lat, pickup_lng, destination_lat, destination_lng,
			status, alerted_observers, status_version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	alerted := booking.AlertedObservers
	if alerted == nil {
		alerted = []string{}
	}

	_, err := r.q.ExecContext(ctx, query,
		booking.ID,
		booking.RequesterID,
		nullString(booking.DriverID),
		booking.Pickup.Lat,
		booking.Pickup.Lng,
		booking.Destination.Lat,
		booking.Destination.Lng,
		booking.Status,
		pq.Array(alerted),
		booking.StatusVersion,
		booking.CreatedAt,
		booking.UpdatedAt,
	)
	return err
}

// GetByID retrieves a booking by ID.
func (r *BookingRepository) GetByID(ctx context.Context, id string) (*domain.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE id = $1`

	booking, err := scanBooking(r.q.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return booking, nil
}

// ListActive retrieves pending and accepted bookings matching the filter,
// newest first.
func (r *BookingRepository) ListActive(ctx context.Context, filter domain.BookingFilter) ([]*domain.Booking, error) {
	conds := []string{`status IN ('pending', 'accepted')`}
	var args []any
	if filter.RequesterID != "" {
		args = append(args, filter.RequesterID)
		conds = append(conds, `requester_id = $`+itoa(len(args)))
	}
	if filter.DriverID != "" {
		args = append(args, filter.DriverID)
		conds = append(conds, `driver_id = $`+itoa(len(args)))
	}

	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE ` +
		strings.Join(conds, " AND ") + ` ORDER BY created_at DESC LIMIT 100`

	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bookings []*domain.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		bookings = append(bookings, b)
	}
	return bookings, rows.Err()
}

// UpdateStatus applies a status change guarded by the status and version the
// caller read.
func (r *BookingRepository) UpdateStatus(ctx context.Context, booking *domain.Booking, from domain.BookingStatus) error {
	query := `
		UPDATE bookings
		SET status = $1,
			driver_id = $2,
			status_version = status_version + 1,
			updated_at = $3
		WHERE id = $4 AND status = $5 AND status_version = $6
	`

	now := time.Now().UTC()
	result, err := r.q.ExecContext(ctx, query,
		booking.Status,
		nullString(booking.DriverID),
		now,
		booking.ID,
		from,
		booking.StatusVersion,
	)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		if _, err := r.GetByID(ctx, booking.ID); err != nil {
			return err
		}
		return repository.ErrConflict
	}

	booking.StatusVersion++
	booking.UpdatedAt = now
	return nil
}

// AddAlertedObserver appends observerID unless it is already recorded. The
// check and the append happen in one statement.
func (r *BookingRepository) AddAlertedObserver(ctx context.Context, bookingID, observerID string) (bool, error) {
	query := `
		UPDATE bookings
		SET alerted_observers = array_append(alerted_observers, $2::text)
		WHERE id = $1 AND NOT ($2::text = ANY(alerted_observers))
	`

	result, err := r.q.ExecContext(ctx, query, bookingID, observerID)
	if err != nil {
		return false, err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}

	if rowsAffected == 0 {
		if _, err := r.GetByID(ctx, bookingID); err != nil {
			return false, err
		}
		return false, nil
	}
	return true, nil
}

// CountActiveByDriver returns the number of accepted bookings held by a driver.
func (r *BookingRepository) CountActiveByDriver(ctx context.Context, driverID string) (int, error) {
	query := `SELECT COUNT(*) FROM bookings WHERE driver_id = $1 AND status = 'accepted'`

	var n int
	if err := r.q.QueryRowContext(ctx, query, driverID).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
