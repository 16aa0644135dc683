package repository

import "errors"

var (
	// ErrNotFound is returned when a requested entity does not exist.
	ErrNotFound = errors.New("entity not found")

	// ErrConflict is returned when an optimistic update lost a race.
	ErrConflict = errors.New("entity was modified concurrently")
)
