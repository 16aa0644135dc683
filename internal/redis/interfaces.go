package redis

import (
	"context"

	"dispatch/internal/domain"
	"dispatch/internal/geo"
)

// LocationStoreInterface defines the interface for the driver geo index.
type LocationStoreInterface interface {
	UpdateLocation(ctx context.Context, driverID string, p geo.Point) error
	FindNearbyDrivers(ctx context.Context, center geo.Point, radiusKm float64) ([]DriverLocation, error)
	RemoveLocation(ctx context.Context, driverID string) error
}

// PresenceCacheInterface defines the duty flag cache.
type PresenceCacheInterface interface {
	GetPresence(ctx context.Context, driverID string) (*CachedPresence, error)
	SetPresence(ctx context.Context, p *CachedPresence) error
	InvalidatePresence(ctx context.Context, driverID string) error
}

// RouteCacheInterface defines the per-booking route cache.
type RouteCacheInterface interface {
	GetRoute(ctx context.Context, bookingID string) (domain.Route, error)
	SetRoute(ctx context.Context, bookingID string, route domain.Route) error
}

// ETACacheInterface defines the travel time cache.
type ETACacheInterface interface {
	GetETA(ctx context.Context, from, to geo.Point) (float64, bool, error)
	SetETA(ctx context.Context, from, to geo.Point, minutes float64) error
}

// Ensure concrete types implement interfaces.
var (
	_ LocationStoreInterface = (*LocationStore)(nil)
	_ PresenceCacheInterface = (*CacheStore)(nil)
	_ RouteCacheInterface    = (*CacheStore)(nil)
	_ ETACacheInterface      = (*CacheStore)(nil)
)
