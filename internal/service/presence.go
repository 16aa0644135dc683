package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"dispatch/internal/domain"
	"dispatch/internal/geo"
	"dispatch/internal/logger"
	"dispatch/internal/observability"
	"dispatch/internal/realtime"
	"dispatch/internal/redis"
	"dispatch/internal/repository"
)

const (
	// DefaultStaleAfter is how long an on-duty driver may stay silent.
	DefaultStaleAfter = 60 * time.Second

	// dutyRefreshInterval bounds how long a duty flag read from storage is
	// trusted before it is read again.
	dutyRefreshInterval = 30 * time.Second

	staleCleanupTimeout = 5 * time.Second
)

// driverState is the tracker's view of one driver. gen increases on every
// change so a timer armed for an older generation does nothing when it fires.
type driverState struct {
	onDuty    bool
	loaded    bool
	checkedAt time.Time
	rating    float64
	location  *domain.Location
	timer     Timer
	gen       uint64
}

// PresenceOptions tunes the tracker. Zero values use the defaults.
type PresenceOptions struct {
	StaleAfter time.Duration
	Clock      Clock
}

// PresenceTracker owns driver presence: duty state, last location and the
// staleness timer of every driver this instance has seen.
type PresenceTracker struct {
	mu      sync.Mutex
	drivers map[string]*driverState

	presenceRepo  repository.PresenceRepository
	bookingRepo   repository.BookingRepository
	locationStore redis.LocationStoreInterface
	cacheStore    redis.PresenceCacheInterface
	bus           realtime.Publisher
	log           logger.ILogger

	clock      Clock
	staleAfter time.Duration
}

// NewPresenceTracker creates a new PresenceTracker. cacheStore may be nil.
func NewPresenceTracker(
	presenceRepo repository.PresenceRepository,
	bookingRepo repository.BookingRepository,
	locationStore redis.LocationStoreInterface,
	cacheStore redis.PresenceCacheInterface,
	bus realtime.Publisher,
	log logger.ILogger,
	opts PresenceOptions,
) *PresenceTracker {
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = DefaultStaleAfter
	}
	if opts.Clock == nil {
		opts.Clock = RealClock()
	}
	return &PresenceTracker{
		drivers:       make(map[string]*driverState),
		presenceRepo:  presenceRepo,
		bookingRepo:   bookingRepo,
		locationStore: locationStore,
		cacheStore:    cacheStore,
		bus:           bus,
		log:           log,
		clock:         opts.Clock,
		staleAfter:    opts.StaleAfter,
	}
}

// UpdateLocationRequest contains the parameters for a driver location update.
type UpdateLocationRequest struct {
	DriverID string
	Point    geo.Point
	// BookingID restricts the republish to one booking. Empty means every
	// booking the driver currently holds.
	BookingID string
}

// SetOnDuty marks a driver on duty and arms the staleness timer.
func (t *PresenceTracker) SetOnDuty(ctx context.Context, driverID string) error {
	if !realtime.ValidID(driverID) {
		return ErrInvalidDriverID
	}

	if err := t.presenceRepo.SetOnDuty(ctx, driverID, true); err != nil {
		return fmt.Errorf("failed to store duty flag: %w", err)
	}
	t.invalidateCache(ctx, driverID)

	t.mu.Lock()
	st := t.stateLocked(driverID)
	wasOnDuty := st.onDuty
	st.onDuty = true
	st.loaded = true
	st.checkedAt = t.clock.Now()
	t.armLocked(driverID, st)
	t.mu.Unlock()

	if !wasOnDuty {
		observability.DriversOnDuty.Inc()
		t.log.Info("driver on duty", logger.String("driver_id", driverID))
	}
	return nil
}

// SetOffDuty takes a driver off duty, cancels the staleness timer and clears
// the last location.
func (t *PresenceTracker) SetOffDuty(ctx context.Context, driverID string) error {
	if !realtime.ValidID(driverID) {
		return ErrInvalidDriverID
	}

	t.mu.Lock()
	st := t.stateLocked(driverID)
	wasOnDuty := st.onDuty
	t.clearLocked(st)
	st.loaded = true
	st.checkedAt = t.clock.Now()
	t.mu.Unlock()

	if err := t.presenceRepo.SetOnDuty(ctx, driverID, false); err != nil {
		return fmt.Errorf("failed to store duty flag: %w", err)
	}
	if err := t.locationStore.RemoveLocation(ctx, driverID); err != nil {
		t.log.Error("failed to remove driver from geo index", logger.String("driver_id", driverID), logger.Error(err))
	}
	t.invalidateCache(ctx, driverID)

	if wasOnDuty {
		observability.DriversOnDuty.Dec()
		t.publish(ctx, realtime.IdentityChannel(driverID), realtime.DriverOfflineEvent{Reason: string(domain.OfflineReasonManual)})
		t.log.Info("driver off duty", logger.String("driver_id", driverID))
	}
	return nil
}

// UpdateLocation records a driver position, republishes it to the driver's
// bookings and restarts the staleness window.
func (t *PresenceTracker) UpdateLocation(ctx context.Context, req UpdateLocationRequest) error {
	if !realtime.ValidID(req.DriverID) {
		return ErrInvalidDriverID
	}
	if !req.Point.Valid() {
		return ErrInvalidLocation
	}
	if req.BookingID != "" && !realtime.ValidID(req.BookingID) {
		return ErrInvalidBookingID
	}

	onDuty, err := t.IsOnDuty(ctx, req.DriverID)
	if err != nil {
		return err
	}
	if !onDuty {
		return ErrNotOnDuty
	}

	now := t.clock.Now()

	t.mu.Lock()
	st := t.stateLocked(req.DriverID)
	if !st.onDuty {
		// Went off duty while the flag was being read.
		t.mu.Unlock()
		return ErrNotOnDuty
	}
	st.location = &domain.Location{Point: req.Point, UpdatedAt: now}
	t.armLocked(req.DriverID, st)
	t.mu.Unlock()

	if err := t.locationStore.UpdateLocation(ctx, req.DriverID, req.Point); err != nil {
		return fmt.Errorf("failed to index driver location: %w", err)
	}
	observability.LocationUpdatesTotal.Inc()

	channels, err := t.bookingChannels(ctx, req.DriverID, req.BookingID)
	if err != nil {
		return err
	}
	evt := realtime.DriverLocationEvent{Lat: req.Point.Lat, Lng: req.Point.Lng, Timestamp: now.UTC()}
	for _, ch := range channels {
		t.publish(ctx, ch, evt)
	}
	return nil
}

// bookingChannels resolves where a driver position is relayed. A named
// booking must be held by the driver.
func (t *PresenceTracker) bookingChannels(ctx context.Context, driverID, bookingID string) ([]string, error) {
	if bookingID != "" {
		booking, err := t.bookingRepo.GetByID(ctx, bookingID)
		if err != nil {
			return nil, err
		}
		if booking.DriverID != driverID || booking.Status != domain.BookingStatusAccepted {
			return nil, ErrForbidden
		}
		return []string{realtime.BookingChannel(bookingID)}, nil
	}

	bookings, err := t.bookingRepo.ListActive(ctx, domain.BookingFilter{DriverID: driverID})
	if err != nil {
		return nil, err
	}
	channels := make([]string, 0, len(bookings))
	for _, b := range bookings {
		if b.Status == domain.BookingStatusAccepted {
			channels = append(channels, realtime.BookingChannel(b.ID))
		}
	}
	return channels, nil
}

// PublishRequesterLocation relays a requester's position to their booking.
func (t *PresenceTracker) PublishRequesterLocation(ctx context.Context, requesterID, bookingID string, p geo.Point) error {
	if !realtime.ValidID(requesterID) {
		return ErrInvalidRequesterID
	}
	if !realtime.ValidID(bookingID) {
		return ErrInvalidBookingID
	}
	if !p.Valid() {
		return ErrInvalidLocation
	}

	booking, err := t.bookingRepo.GetByID(ctx, bookingID)
	if err != nil {
		return err
	}
	if booking.RequesterID != requesterID {
		return ErrForbidden
	}
	if !booking.Status.IsActive() {
		return ErrInvalidTransition
	}

	t.publish(ctx, realtime.BookingChannel(bookingID), realtime.RequesterLocationEvent{
		Lat:       p.Lat,
		Lng:       p.Lng,
		Timestamp: t.clock.Now().UTC(),
	})
	return nil
}

// IsOnDuty reports the driver's duty flag, reading it from storage when the
// local copy is missing or old. Reading never arms the staleness timer: only
// the instance receiving the driver's duty and location messages does.
func (t *PresenceTracker) IsOnDuty(ctx context.Context, driverID string) (bool, error) {
	t.mu.Lock()
	var gen uint64
	st, ok := t.drivers[driverID]
	if ok {
		if st.loaded && (st.timer != nil || t.clock.Now().Sub(st.checkedAt) < dutyRefreshInterval) {
			onDuty := st.onDuty
			t.mu.Unlock()
			return onDuty, nil
		}
		gen = st.gen
	}
	t.mu.Unlock()

	stored, err := t.loadPresence(ctx, driverID, gen)
	if err != nil {
		return false, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	st = t.stateLocked(driverID)
	if st.gen != gen || st.timer != nil {
		// A local change landed while storage was being read; it wins.
		return st.onDuty, nil
	}
	if st.onDuty != stored.OnDuty {
		if stored.OnDuty {
			observability.DriversOnDuty.Inc()
		} else {
			observability.DriversOnDuty.Dec()
		}
	}
	st.onDuty = stored.OnDuty
	st.rating = stored.Rating
	st.loaded = true
	st.checkedAt = t.clock.Now()
	if !st.onDuty {
		st.location = nil
	}
	return st.onDuty, nil
}

// loadPresence reads the duty flag through the cache. gen is the driver's
// generation when the read started; the cache is only refilled if no local
// change happened since.
func (t *PresenceTracker) loadPresence(ctx context.Context, driverID string, gen uint64) (*domain.DriverPresence, error) {
	if t.cacheStore != nil {
		if cached, err := t.cacheStore.GetPresence(ctx, driverID); err == nil && cached != nil {
			return &domain.DriverPresence{DriverID: driverID, OnDuty: cached.OnDuty, Rating: cached.Rating}, nil
		}
	}

	stored, err := t.presenceRepo.Get(ctx, driverID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return &domain.DriverPresence{DriverID: driverID}, nil
		}
		return nil, err
	}

	if t.cacheStore == nil || t.generation(driverID) != gen {
		return stored, nil
	}
	if err := t.cacheStore.SetPresence(ctx, &redis.CachedPresence{
		DriverID: driverID,
		OnDuty:   stored.OnDuty,
		Rating:   stored.Rating,
	}); err != nil {
		t.log.Warning("failed to cache presence", logger.String("driver_id", driverID), logger.Error(err))
	}
	return stored, nil
}

func (t *PresenceTracker) generation(driverID string) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if st, ok := t.drivers[driverID]; ok {
		return st.gen
	}
	return 0
}

// Presence returns a snapshot of a driver's presence including current load.
func (t *PresenceTracker) Presence(ctx context.Context, driverID string) (*domain.DriverPresence, error) {
	if !realtime.ValidID(driverID) {
		return nil, ErrInvalidDriverID
	}
	if _, err := t.IsOnDuty(ctx, driverID); err != nil {
		return nil, err
	}

	load, err := t.bookingRepo.CountActiveByDriver(ctx, driverID)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	p := t.snapshotLocked(driverID, t.drivers[driverID])
	p.CurrentLoad = load
	return &p, nil
}

// NearbyDrivers returns on-duty drivers with a location within radiusKm of
// center, nearest first.
func (t *PresenceTracker) NearbyDrivers(ctx context.Context, center geo.Point, radiusKm float64) ([]domain.DriverPresence, error) {
	indexed, err := t.locationStore.FindNearbyDrivers(ctx, center, radiusKm)
	if err != nil {
		return nil, fmt.Errorf("failed to query geo index: %w", err)
	}

	out := make([]domain.DriverPresence, 0, len(indexed))
	for _, loc := range indexed {
		onDuty, err := t.IsOnDuty(ctx, loc.DriverID)
		if err != nil {
			return nil, err
		}
		if !onDuty {
			continue
		}

		load, err := t.bookingRepo.CountActiveByDriver(ctx, loc.DriverID)
		if err != nil {
			return nil, err
		}

		t.mu.Lock()
		p := t.snapshotLocked(loc.DriverID, t.drivers[loc.DriverID])
		t.mu.Unlock()

		if p.CurrentLocation == nil {
			// Reported to another instance; the index holds the position.
			p.CurrentLocation = &domain.Location{Point: loc.Point}
		}
		p.CurrentLoad = load
		out = append(out, p)
	}
	return out, nil
}

// Stop cancels every pending staleness timer.
func (t *PresenceTracker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, st := range t.drivers {
		if st.timer != nil {
			st.timer.Stop()
			st.timer = nil
		}
		st.gen++
	}
}

func (t *PresenceTracker) stateLocked(driverID string) *driverState {
	st, ok := t.drivers[driverID]
	if !ok {
		st = &driverState{}
		t.drivers[driverID] = st
	}
	return st
}

func (t *PresenceTracker) snapshotLocked(driverID string, st *driverState) domain.DriverPresence {
	p := domain.DriverPresence{DriverID: driverID}
	if st == nil {
		return p
	}
	p.OnDuty = st.onDuty
	p.Rating = st.rating
	if st.location != nil {
		loc := *st.location
		p.CurrentLocation = &loc
	}
	return p
}

// armLocked replaces the driver's staleness timer with a fresh one.
func (t *PresenceTracker) armLocked(driverID string, st *driverState) {
	if st.timer != nil {
		st.timer.Stop()
	}
	st.gen++
	gen := st.gen
	st.timer = t.clock.AfterFunc(t.staleAfter, func() {
		t.expire(driverID, gen)
	})
}

func (t *PresenceTracker) clearLocked(st *driverState) {
	if st.timer != nil {
		st.timer.Stop()
		st.timer = nil
	}
	st.gen++
	st.onDuty = false
	st.location = nil
}

// expire forces a silent driver off duty unless something changed since the
// timer was armed.
func (t *PresenceTracker) expire(driverID string, gen uint64) {
	t.mu.Lock()
	st, ok := t.drivers[driverID]
	if !ok || st.gen != gen || !st.onDuty {
		t.mu.Unlock()
		return
	}
	t.clearLocked(st)
	st.checkedAt = t.clock.Now()
	t.mu.Unlock()

	observability.DriversOnDuty.Dec()
	observability.PresenceStaleTotal.Inc()
	t.log.Warning("driver forced off duty",
		logger.String("driver_id", driverID),
		logger.String("cause", string(domain.OfflineReasonStale)),
		logger.Duration("silent_for", t.staleAfter))

	ctx, cancel := context.WithTimeout(context.Background(), staleCleanupTimeout)
	defer cancel()

	if err := t.presenceRepo.SetOnDuty(ctx, driverID, false); err != nil {
		t.log.Error("failed to store stale duty flag", logger.String("driver_id", driverID), logger.Error(err))
	}
	if err := t.locationStore.RemoveLocation(ctx, driverID); err != nil {
		t.log.Error("failed to remove stale driver from geo index", logger.String("driver_id", driverID), logger.Error(err))
	}
	t.invalidateCache(ctx, driverID)
	t.publish(ctx, realtime.IdentityChannel(driverID), realtime.DriverOfflineEvent{Reason: string(domain.OfflineReasonStale)})
}

func (t *PresenceTracker) invalidateCache(ctx context.Context, driverID string) {
	if t.cacheStore == nil {
		return
	}
	if err := t.cacheStore.InvalidatePresence(ctx, driverID); err != nil {
		t.log.Warning("failed to invalidate presence cache", logger.String("driver_id", driverID), logger.Error(err))
	}
}

func (t *PresenceTracker) publish(ctx context.Context, channel string, evt realtime.Event) {
	if err := t.bus.Publish(ctx, channel, evt); err != nil {
		t.log.Error("failed to publish event",
			logger.String("channel", channel),
			logger.String("type", evt.EventType()),
			logger.Error(err))
	}
}
