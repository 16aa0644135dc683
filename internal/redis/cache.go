package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"dispatch/internal/domain"
	"dispatch/internal/geo"
)

// Cache TTL constants
const (
	PresenceCacheTTL = 30 * time.Second // duty flag is refreshed lazily
	RouteCacheTTL    = 6 * time.Hour    // a route never changes once fetched
)

// Key prefixes
const (
	presenceCachePrefix = "cache:presence:"
	routeCachePrefix    = "cache:route:"
	etaCachePrefix      = "cache:eta:"
)

// CachedPresence is the durable part of a driver's presence.
type CachedPresence struct {
	DriverID string  `json:"driver_id"`
	OnDuty   bool    `json:"on_duty"`
	Rating   float64 `json:"rating"`
}

// CacheStore handles entity caching in Redis.
type CacheStore struct {
	client *redis.Client
	etaTTL time.Duration
}

// NewCacheStore creates a new CacheStore.
func NewCacheStore(client *redis.Client, etaTTL time.Duration) *CacheStore {
	return &CacheStore{client: client, etaTTL: etaTTL}
}

// GetPresence retrieves a driver's presence. A miss returns nil, nil.
func (s *CacheStore) GetPresence(ctx context.Context, driverID string) (*CachedPresence, error) {
	var p CachedPresence
	ok, err := s.getJSON(ctx, presenceCachePrefix+driverID, &p)
	if err != nil || !ok {
		return nil, err
	}
	return &p, nil
}

// SetPresence stores a driver's presence.
func (s *CacheStore) SetPresence(ctx context.Context, p *CachedPresence) error {
	return s.setJSON(ctx, presenceCachePrefix+p.DriverID, p, PresenceCacheTTL)
}

// InvalidatePresence removes a driver's presence from cache.
func (s *CacheStore) InvalidatePresence(ctx context.Context, driverID string) error {
	return s.client.Del(ctx, presenceCachePrefix+driverID).Err()
}

// GetRoute retrieves the decoded route of a booking. A miss returns nil, nil.
func (s *CacheStore) GetRoute(ctx context.Context, bookingID string) (domain.Route, error) {
	var route domain.Route
	ok, err := s.getJSON(ctx, routeCachePrefix+bookingID, &route)
	if err != nil || !ok {
		return nil, err
	}
	return route, nil
}

// SetRoute stores the decoded route of a booking.
func (s *CacheStore) SetRoute(ctx context.Context, bookingID string, route domain.Route) error {
	return s.setJSON(ctx, routeCachePrefix+bookingID, route, RouteCacheTTL)
}

// GetETA retrieves a cached travel time in minutes.
func (s *CacheStore) GetETA(ctx context.Context, from, to geo.Point) (float64, bool, error) {
	v, err := s.client.Get(ctx, etaKey(from, to)).Float64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return v, true, nil
}

// SetETA stores a travel time in minutes.
func (s *CacheStore) SetETA(ctx context.Context, from, to geo.Point, minutes float64) error {
	return s.client.Set(ctx, etaKey(from, to), minutes, s.etaTTL).Err()
}

// etaKey rounds to ~11 m so nearby requests share an entry.
func etaKey(from, to geo.Point) string {
	return fmt.Sprintf("%s%.4f,%.4f->%.4f,%.4f", etaCachePrefix, from.Lat, from.Lng, to.Lat, to.Lng)
}

func (s *CacheStore) getJSON(ctx context.Context, key string, dest any) (bool, error) {
	data, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil // Cache miss
		}
		return false, err
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return false, err
	}
	return true, nil
}

func (s *CacheStore) setJSON(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, key, data, ttl).Err()
}
