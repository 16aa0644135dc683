package domain

import "dispatch/internal/geo"

// ObserverPresence is a law-enforcement observer that may be alerted when a
// booking's route passes nearby. Maintained by an external subsystem.
type ObserverPresence struct {
	ObserverID      string
	Station         string
	CurrentLocation *Location
}

// Route is the ordered polyline a driver is expected to follow.
type Route []Point

// Point re-exports the coordinate type so callers need not import geo.
type Point = geo.Point
