package routing

import (
	"context"
	"errors"
	"fmt"

	"googlemaps.github.io/maps"

	"dispatch/internal/geo"
	"dispatch/internal/logger"
	internalRedis "dispatch/internal/redis"
)

// DefaultSpeedKmh is the city speed assumed by the straight-line estimator.
const DefaultSpeedKmh = 30.0

// Predictor returns the expected travel time in minutes.
type Predictor interface {
	PredictETA(ctx context.Context, from, to geo.Point) (float64, error)
}

// GoogleETA asks the Distance Matrix API for live driving time.
type GoogleETA struct {
	client *maps.Client
}

// NewGoogleETA creates a predictor backed by client.
func NewGoogleETA(client *maps.Client) *GoogleETA {
	return &GoogleETA{client: client}
}

// PredictETA returns traffic-aware driving minutes when available.
func (g *GoogleETA) PredictETA(ctx context.Context, from, to geo.Point) (float64, error) {
	resp, err := g.client.DistanceMatrix(ctx, &maps.DistanceMatrixRequest{
		Origins:       []string{formatPoint(from)},
		Destinations:  []string{formatPoint(to)},
		Mode:          maps.TravelModeDriving,
		DepartureTime: "now",
	})
	if err != nil {
		return 0, fmt.Errorf("maps api error: %w", err)
	}
	if len(resp.Rows) == 0 || len(resp.Rows[0].Elements) == 0 {
		return 0, errors.New("empty distance matrix")
	}

	el := resp.Rows[0].Elements[0]
	if el.Status != "OK" {
		return 0, fmt.Errorf("distance matrix element status %s", el.Status)
	}
	d := el.DurationInTraffic
	if d == 0 {
		d = el.Duration
	}
	return d.Minutes(), nil
}

// StraightLineETA estimates travel time from great-circle distance at a
// constant speed.
type StraightLineETA struct {
	SpeedKmh float64
}

// PredictETA never fails.
func (s StraightLineETA) PredictETA(ctx context.Context, from, to geo.Point) (float64, error) {
	speed := s.SpeedKmh
	if speed <= 0 {
		speed = DefaultSpeedKmh
	}
	return geo.DistanceKm(from, to) / speed * 60, nil
}

// FallbackETA tries Primary and uses Fallback when it fails.
type FallbackETA struct {
	Primary  Predictor
	Fallback Predictor
	Log      logger.ILogger
}

// PredictETA returns the primary estimate or the fallback one.
func (f FallbackETA) PredictETA(ctx context.Context, from, to geo.Point) (float64, error) {
	minutes, err := f.Primary.PredictETA(ctx, from, to)
	if err == nil {
		return minutes, nil
	}
	if f.Log != nil {
		f.Log.Warning("eta provider failed, using fallback", logger.Error(err))
	}
	return f.Fallback.PredictETA(ctx, from, to)
}

// CachedETA memoizes another predictor in Redis.
type CachedETA struct {
	next  Predictor
	cache internalRedis.ETACacheInterface
}

// NewCachedETA wraps next with cache.
func NewCachedETA(next Predictor, cache internalRedis.ETACacheInterface) *CachedETA {
	return &CachedETA{next: next, cache: cache}
}

// PredictETA serves from cache when possible. Cache errors are ignored.
func (c *CachedETA) PredictETA(ctx context.Context, from, to geo.Point) (float64, error) {
	if minutes, ok, err := c.cache.GetETA(ctx, from, to); err == nil && ok {
		return minutes, nil
	}

	minutes, err := c.next.PredictETA(ctx, from, to)
	if err != nil {
		return 0, err
	}
	_ = c.cache.SetETA(ctx, from, to, minutes)
	return minutes, nil
}
