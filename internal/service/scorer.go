package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"dispatch/internal/domain"
	"dispatch/internal/geo"
	"dispatch/internal/logger"
	"dispatch/internal/observability"
)

const (
	// SearchRadiusKm bounds the candidate list shown for a booking.
	SearchRadiusKm = 15.0
	// BestDriverRadiusKm bounds the single best driver pick.
	BestDriverRadiusKm = 5.0

	defaultRankLimit = 10
)

// Score weights. Lower scores rank first.
const (
	weightDistanceKm   = 0.4
	weightETAMinutes   = 0.3
	weightLoad         = 5.0
	weightRating       = 0.5
	unavailablePenalty = 10.0
)

// CandidateSource lists drivers near a point.
type CandidateSource interface {
	NearbyDrivers(ctx context.Context, center geo.Point, radiusKm float64) ([]domain.DriverPresence, error)
}

// ETAPredictor predicts travel time in minutes.
type ETAPredictor interface {
	PredictETA(ctx context.Context, from, to geo.Point) (float64, error)
}

// ScoredDriver is a ranked candidate.
type ScoredDriver struct {
	DriverID    string    `json:"driverId"`
	Location    geo.Point `json:"location"`
	DistanceKm  float64   `json:"distanceKm"`
	ETAMinutes  float64   `json:"etaMinutes"`
	CurrentLoad int       `json:"currentLoad"`
	Rating      float64   `json:"rating"`
	Available   bool      `json:"available"`
	Score       float64   `json:"score"`
}

// RankRequest contains the parameters for ranking drivers.
type RankRequest struct {
	Pickup   geo.Point
	RadiusKm float64
	Limit    int // 0 uses the default
}

// Scorer ranks drivers for a pickup point.
type Scorer struct {
	candidates CandidateSource
	eta        ETAPredictor
	log        logger.ILogger
}

// NewScorer creates a new Scorer.
func NewScorer(candidates CandidateSource, eta ETAPredictor, log logger.ILogger) *Scorer {
	return &Scorer{candidates: candidates, eta: eta, log: log}
}

// Score combines the ranking inputs into a single value.
func Score(distanceKm, etaMinutes float64, load int, rating float64, available bool) float64 {
	s := weightDistanceKm*distanceKm +
		weightETAMinutes*etaMinutes +
		weightLoad*float64(load) -
		weightRating*rating
	if !available {
		s += unavailablePenalty
	}
	return s
}

// Rank returns on-duty drivers within the radius ordered by ascending score.
// Equal scores keep the order the candidates were listed in.
func (s *Scorer) Rank(ctx context.Context, req RankRequest) ([]ScoredDriver, error) {
	if !req.Pickup.Valid() {
		return nil, ErrInvalidLocation
	}
	if req.RadiusKm <= 0 {
		return nil, ErrInvalidRadius
	}
	limit := req.Limit
	if limit <= 0 {
		limit = defaultRankLimit
	}

	start := time.Now()
	defer func() {
		observability.RankLatency.Observe(time.Since(start).Seconds())
	}()

	candidates, err := s.candidates.NearbyDrivers(ctx, req.Pickup, req.RadiusKm)
	if err != nil {
		return nil, err
	}

	ranked := make([]ScoredDriver, 0, len(candidates))
	for _, c := range candidates {
		if !c.OnDuty || c.CurrentLocation == nil {
			continue
		}
		distanceKm := geo.DistanceKm(c.CurrentLocation.Point, req.Pickup)
		if distanceKm > req.RadiusKm {
			continue
		}

		eta, err := s.eta.PredictETA(ctx, c.CurrentLocation.Point, req.Pickup)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
		}

		available := c.Available()
		ranked = append(ranked, ScoredDriver{
			DriverID:    c.DriverID,
			Location:    c.CurrentLocation.Point,
			DistanceKm:  distanceKm,
			ETAMinutes:  eta,
			CurrentLoad: c.CurrentLoad,
			Rating:      c.Rating,
			Available:   available,
			Score:       Score(distanceKm, eta, c.CurrentLoad, c.Rating, available),
		})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score < ranked[j].Score
	})
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}

	s.log.Debug("ranked drivers",
		logger.Int("candidates", len(candidates)),
		logger.Int("ranked", len(ranked)),
		logger.Float64("radius_km", req.RadiusKm))
	return ranked, nil
}

// BestDriver returns the top ranked driver, or nil when nobody qualifies.
func (s *Scorer) BestDriver(ctx context.Context, pickup geo.Point, radiusKm float64) (*ScoredDriver, error) {
	ranked, err := s.Rank(ctx, RankRequest{Pickup: pickup, RadiusKm: radiusKm, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(ranked) == 0 {
		return nil, nil
	}
	return &ranked[0], nil
}
