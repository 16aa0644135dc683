package redis

import (
	"context"

	"github.com/redis/go-redis/v9"

	"dispatch/internal/geo"
)

const driverLocationKey = "dispatch:drivers:locations"

// DriverLocation is a driver's position as held in the geo index.
type DriverLocation struct {
	DriverID string
	geo.Point
}

// LocationStore keeps on-duty driver positions in a Redis GEO set so every
// instance sees the same nearby candidates.
type LocationStore struct {
	client *redis.Client
}

// NewLocationStore creates a new LocationStore.
func NewLocationStore(client *redis.Client) *LocationStore {
	return &LocationStore{client: client}
}

// UpdateLocation stores a driver's location using GEOADD.
func (s *LocationStore) UpdateLocation(ctx context.Context, driverID string, p geo.Point) error {
	return s.client.GeoAdd(ctx, driverLocationKey, &redis.GeoLocation{
		Name:      driverID,
		Longitude: p.Lng,
		Latitude:  p.Lat,
	}).Err()
}

// FindNearbyDrivers returns drivers within radiusKm of center, nearest first.
func (s *LocationStore) FindNearbyDrivers(ctx context.Context, center geo.Point, radiusKm float64) ([]DriverLocation, error) {
	results, err := s.client.GeoSearchLocation(ctx, driverLocationKey, &redis.GeoSearchLocationQuery{
		GeoSearchQuery: redis.GeoSearchQuery{
			Longitude:  center.Lng,
			Latitude:   center.Lat,
			Radius:     radiusKm,
			RadiusUnit: "km",
			Sort:       "ASC",
		},
		WithCoord: true,
	}).Result()
	if err != nil {
		return nil, err
	}

	locations := make([]DriverLocation, 0, len(results))
	for _, r := range results {
		locations = append(locations, DriverLocation{
			DriverID: r.Name,
			Point:    geo.Point{Lat: r.Latitude, Lng: r.Longitude},
		})
	}
	return locations, nil
}

// RemoveLocation removes a driver's location from the geo index.
func (s *LocationStore) RemoveLocation(ctx context.Context, driverID string) error {
	return s.client.ZRem(ctx, driverLocationKey, driverID).Err()
}
