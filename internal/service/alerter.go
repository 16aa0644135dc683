package service

import (
	"context"
	"fmt"
	"math"

	"dispatch/internal/domain"
	"dispatch/internal/geo"
	"dispatch/internal/logger"
	"dispatch/internal/observability"
	"dispatch/internal/realtime"
	"dispatch/internal/redis"
	"dispatch/internal/repository"
)

const (
	// DefaultProximityMeters is the distance under which an observer is alerted.
	DefaultProximityMeters = 150.0
	// DefaultRouteSampleStride keeps every n-th route point.
	DefaultRouteSampleStride = 5
)

// RouteProvider returns the driving route between two points. A nil route
// with a nil error means no route exists.
type RouteProvider interface {
	Route(ctx context.Context, origin, destination geo.Point) (domain.Route, error)
}

// AlerterOptions tunes the alerter. Zero values use the defaults.
type AlerterOptions struct {
	ThresholdMeters float64
	SampleStride    int
}

// Alerter warns observers whose position lies near an accepted booking's route.
type Alerter struct {
	bookingRepo  repository.BookingRepository
	observerRepo repository.ObserverRepository
	routes       RouteProvider
	routeCache   redis.RouteCacheInterface
	bus          realtime.Publisher
	log          logger.ILogger

	thresholdMeters float64
	stride          int
}

// NewAlerter creates a new Alerter. routes and routeCache may be nil.
func NewAlerter(
	bookingRepo repository.BookingRepository,
	observerRepo repository.ObserverRepository,
	routes RouteProvider,
	routeCache redis.RouteCacheInterface,
	bus realtime.Publisher,
	log logger.ILogger,
	opts AlerterOptions,
) *Alerter {
	if opts.ThresholdMeters <= 0 {
		opts.ThresholdMeters = DefaultProximityMeters
	}
	if opts.SampleStride <= 0 {
		opts.SampleStride = DefaultRouteSampleStride
	}
	return &Alerter{
		bookingRepo:     bookingRepo,
		observerRepo:    observerRepo,
		routes:          routes,
		routeCache:      routeCache,
		bus:             bus,
		log:             log,
		thresholdMeters: opts.ThresholdMeters,
		stride:          opts.SampleStride,
	}
}

// AlertForBooking sends one proximity alert to every located observer near
// the booking's route who has not been alerted for it yet.
func (a *Alerter) AlertForBooking(ctx context.Context, bookingID string) error {
	booking, err := a.bookingRepo.GetByID(ctx, bookingID)
	if err != nil {
		return err
	}
	if booking.Status != domain.BookingStatusAccepted {
		a.log.Debug("booking no longer accepted, skipping proximity alerts",
			logger.String("booking_id", bookingID),
			logger.String("status", string(booking.Status)))
		return nil
	}

	route, err := a.route(ctx, booking)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	if len(route) == 0 {
		observability.RouteSkippedTotal.Inc()
		a.log.Info("no route for booking, skipping proximity alerts", logger.String("booking_id", bookingID))
		return nil
	}

	path := geo.Sample(route, a.stride)

	observers, err := a.observerRepo.ListLocated(ctx)
	if err != nil {
		return err
	}

	alerted := 0
	for _, o := range observers {
		if o.CurrentLocation == nil {
			continue
		}
		d, ok := geo.MinDistanceToPath(o.CurrentLocation.Point, path)
		if !ok || d > a.thresholdMeters {
			continue
		}

		added, err := a.bookingRepo.AddAlertedObserver(ctx, booking.ID, o.ObserverID)
		if err != nil {
			a.log.Error("failed to record alerted observer",
				logger.String("booking_id", booking.ID),
				logger.String("observer_id", o.ObserverID),
				logger.Error(err))
			continue
		}
		if !added {
			continue
		}

		evt := realtime.ProximityAlertEvent{
			BookingID:      booking.ID,
			DistanceMeters: math.Round(d*10) / 10,
		}
		if err := a.bus.Publish(ctx, realtime.IdentityChannel(o.ObserverID), evt); err != nil {
			a.log.Error("failed to publish proximity alert",
				logger.String("observer_id", o.ObserverID),
				logger.Error(err))
			continue
		}
		observability.ProximityAlertsTotal.Inc()
		alerted++
	}

	a.log.Info("proximity check done",
		logger.String("booking_id", booking.ID),
		logger.Int("route_points", len(route)),
		logger.Int("observers", len(observers)),
		logger.Int("alerted", alerted))
	return nil
}

func (a *Alerter) route(ctx context.Context, booking *domain.Booking) (domain.Route, error) {
	if a.routeCache != nil {
		if cached, err := a.routeCache.GetRoute(ctx, booking.ID); err == nil && len(cached) > 0 {
			return cached, nil
		}
	}
	if a.routes == nil {
		return nil, nil
	}

	route, err := a.routes.Route(ctx, booking.Pickup, booking.Destination)
	if err != nil {
		return nil, err
	}
	if a.routeCache != nil && len(route) > 0 {
		if err := a.routeCache.SetRoute(ctx, booking.ID, route); err != nil {
			a.log.Warning("failed to cache route", logger.String("booking_id", booking.ID), logger.Error(err))
		}
	}
	return route, nil
}
