package domain

import (
	"time"

	"dispatch/internal/geo"
)

// Location is a position together with the moment it was reported.
type Location struct {
	geo.Point
	UpdatedAt time.Time
}

// DriverPresence is the live availability of a driver.
type DriverPresence struct {
	DriverID        string
	OnDuty          bool
	CurrentLocation *Location
	CurrentLoad     int
	Rating          float64
}

// Available reports whether the driver is on duty with no active booking.
func (p DriverPresence) Available() bool {
	return p.OnDuty && p.CurrentLoad == 0
}

// OfflineReason explains why a driver left duty.
type OfflineReason string

const (
	OfflineReasonManual OfflineReason = "manual"
	OfflineReasonStale  OfflineReason = "stale_location"
)
