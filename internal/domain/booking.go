package domain

import (
	"time"

	"dispatch/internal/geo"
)

// BookingStatus represents the current status of a booking.
type BookingStatus string

const (
	BookingStatusPending   BookingStatus = "pending"
	BookingStatusAccepted  BookingStatus = "accepted"
	BookingStatusCompleted BookingStatus = "completed"
	BookingStatusCancelled BookingStatus = "cancelled"
)

// transitions lists every legal status change. accepted -> pending is the
// driver release back-edge.
var transitions = map[BookingStatus][]BookingStatus{
	BookingStatusPending:  {BookingStatusAccepted, BookingStatusCancelled},
	BookingStatusAccepted: {BookingStatusCompleted, BookingStatusPending},
}

// CanTransition reports whether a booking may move from one status to another.
func CanTransition(from, to BookingStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsActive reports whether the status still belongs in active listings.
func (s BookingStatus) IsActive() bool {
	return s == BookingStatusPending || s == BookingStatusAccepted
}

// IsTerminal reports whether no further transition is possible.
func (s BookingStatus) IsTerminal() bool {
	return s == BookingStatusCompleted || s == BookingStatusCancelled
}

// Booking is a single emergency-vehicle request.
type Booking struct {
	ID          string
	RequesterID string
	DriverID    string // empty until accepted
	Pickup      geo.Point
	Destination geo.Point
	Status      BookingStatus

	// AlertedObservers only grows; each observer is notified at most once.
	AlertedObservers []string

	StatusVersion int
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// HasAlerted reports whether observerID was already notified for this booking.
func (b *Booking) HasAlerted(observerID string) bool {
	for _, id := range b.AlertedObservers {
		if id == observerID {
			return true
		}
	}
	return false
}

// BookingFilter narrows active booking listings. Empty fields match anything.
type BookingFilter struct {
	RequesterID string
	DriverID    string
}
