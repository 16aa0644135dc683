package tests

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"dispatch/internal/domain"
	"dispatch/internal/geo"
	"dispatch/internal/realtime"
	"dispatch/internal/redis"
	"dispatch/internal/repository"
	"dispatch/internal/service"
)

// ErrInjected is a generic failure for error injection.
var ErrInjected = errors.New("injected failure")

// ──────────────────────────────────────────────
// MOCK BOOKING REPOSITORY
// ──────────────────────────────────────────────

// MockBookingRepository is a mock implementation of BookingRepository.
type MockBookingRepository struct {
	mu       sync.RWMutex
	bookings map[string]*domain.Booking

	// Counters for verification
	CreateCallCount       int32
	UpdateStatusCallCount int32
	AddAlertedCallCount   int32

	// Error injection
	CreateError       error
	GetError          error
	UpdateStatusError error
	ListActiveError   error
	AddAlertedError   error
}

// NewMockBookingRepository creates a new mock booking repository.
func NewMockBookingRepository() *MockBookingRepository {
	return &MockBookingRepository{
		bookings: make(map[string]*domain.Booking),
	}
}

// AddBooking adds a booking to the mock repository.
func (m *MockBookingRepository) AddBooking(b *domain.Booking) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := cloneBooking(b)
	m.bookings[b.ID] = c
}

func (m *MockBookingRepository) Create(ctx context.Context, b *domain.Booking) error {
	atomic.AddInt32(&m.CreateCallCount, 1)
	if m.CreateError != nil {
		return m.CreateError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bookings[b.ID] = cloneBooking(b)
	return nil
}

func (m *MockBookingRepository) GetByID(ctx context.Context, id string) (*domain.Booking, error) {
	if m.GetError != nil {
		return nil, m.GetError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.bookings[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return cloneBooking(b), nil
}

func (m *MockBookingRepository) ListActive(ctx context.Context, filter domain.BookingFilter) ([]*domain.Booking, error) {
	if m.ListActiveError != nil {
		return nil, m.ListActiveError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]*domain.Booking, 0)
	for _, b := range m.bookings {
		if !b.Status.IsActive() {
			continue
		}
		if filter.RequesterID != "" && b.RequesterID != filter.RequesterID {
			continue
		}
		if filter.DriverID != "" && b.DriverID != filter.DriverID {
			continue
		}
		result = append(result, cloneBooking(b))
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (m *MockBookingRepository) UpdateStatus(ctx context.Context, b *domain.Booking, from domain.BookingStatus) error {
	atomic.AddInt32(&m.UpdateStatusCallCount, 1)
	if m.UpdateStatusError != nil {
		return m.UpdateStatusError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.bookings[b.ID]
	if !ok {
		return repository.ErrNotFound
	}
	if stored.Status != from || stored.StatusVersion != b.StatusVersion {
		return repository.ErrConflict
	}
	b.StatusVersion++
	b.UpdatedAt = time.Now().UTC()
	stored.Status = b.Status
	stored.DriverID = b.DriverID
	stored.StatusVersion = b.StatusVersion
	stored.UpdatedAt = b.UpdatedAt
	return nil
}

func (m *MockBookingRepository) AddAlertedObserver(ctx context.Context, bookingID, observerID string) (bool, error) {
	atomic.AddInt32(&m.AddAlertedCallCount, 1)
	if m.AddAlertedError != nil {
		return false, m.AddAlertedError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[bookingID]
	if !ok {
		return false, repository.ErrNotFound
	}
	if b.HasAlerted(observerID) {
		return false, nil
	}
	b.AlertedObservers = append(b.AlertedObservers, observerID)
	return true, nil
}

func (m *MockBookingRepository) CountActiveByDriver(ctx context.Context, driverID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, b := range m.bookings {
		if b.DriverID == driverID && b.Status == domain.BookingStatusAccepted {
			n++
		}
	}
	return n, nil
}

// GetBooking returns a copy of a stored booking for test assertions.
func (m *MockBookingRepository) GetBooking(id string) *domain.Booking {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.bookings[id]
	if !ok {
		return nil
	}
	return cloneBooking(b)
}

func cloneBooking(b *domain.Booking) *domain.Booking {
	c := *b
	c.AlertedObservers = append([]string(nil), b.AlertedObservers...)
	return &c
}

// ──────────────────────────────────────────────
// MOCK PRESENCE REPOSITORY
// ──────────────────────────────────────────────

// MockPresenceRepository is a mock implementation of PresenceRepository.
type MockPresenceRepository struct {
	mu      sync.RWMutex
	drivers map[string]*domain.DriverPresence

	// Counters for verification
	GetCallCount       int32
	SetOnDutyCallCount int32

	// Error injection
	GetError       error
	SetOnDutyError error

	// AfterGet runs once a read has been taken, before it is returned.
	AfterGet func(driverID string)
}

// NewMockPresenceRepository creates a new mock presence repository.
func NewMockPresenceRepository() *MockPresenceRepository {
	return &MockPresenceRepository{
		drivers: make(map[string]*domain.DriverPresence),
	}
}

// AddDriver stores a driver's duty flag and rating.
func (m *MockPresenceRepository) AddDriver(driverID string, onDuty bool, rating float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drivers[driverID] = &domain.DriverPresence{DriverID: driverID, OnDuty: onDuty, Rating: rating}
}

func (m *MockPresenceRepository) Get(ctx context.Context, driverID string) (*domain.DriverPresence, error) {
	atomic.AddInt32(&m.GetCallCount, 1)
	if m.GetError != nil {
		return nil, m.GetError
	}
	m.mu.RLock()
	p, ok := m.drivers[driverID]
	var cp domain.DriverPresence
	if ok {
		cp = *p
	}
	m.mu.RUnlock()

	if m.AfterGet != nil {
		m.AfterGet(driverID)
	}
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &cp, nil
}

func (m *MockPresenceRepository) SetOnDuty(ctx context.Context, driverID string, onDuty bool) error {
	atomic.AddInt32(&m.SetOnDutyCallCount, 1)
	if m.SetOnDutyError != nil {
		return m.SetOnDutyError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.drivers[driverID]
	if !ok {
		p = &domain.DriverPresence{DriverID: driverID}
		m.drivers[driverID] = p
	}
	p.OnDuty = onDuty
	return nil
}

// StoredOnDuty returns the persisted duty flag for test assertions.
func (m *MockPresenceRepository) StoredOnDuty(driverID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.drivers[driverID]
	return ok && p.OnDuty
}

// ──────────────────────────────────────────────
// MOCK PRESENCE CACHE
// ──────────────────────────────────────────────

// MockPresenceCache is a mock implementation of PresenceCacheInterface.
type MockPresenceCache struct {
	mu      sync.RWMutex
	entries map[string]redis.CachedPresence

	SetCallCount int32

	SetError error
}

// NewMockPresenceCache creates a new mock presence cache.
func NewMockPresenceCache() *MockPresenceCache {
	return &MockPresenceCache{entries: make(map[string]redis.CachedPresence)}
}

func (m *MockPresenceCache) GetPresence(ctx context.Context, driverID string) (*redis.CachedPresence, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.entries[driverID]
	if !ok {
		return nil, errors.New("cache miss")
	}
	return &p, nil
}

func (m *MockPresenceCache) SetPresence(ctx context.Context, p *redis.CachedPresence) error {
	atomic.AddInt32(&m.SetCallCount, 1)
	if m.SetError != nil {
		return m.SetError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[p.DriverID] = *p
	return nil
}

func (m *MockPresenceCache) InvalidatePresence(ctx context.Context, driverID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, driverID)
	return nil
}

// Cached returns the cached entry for driverID, if any.
func (m *MockPresenceCache) Cached(driverID string) (redis.CachedPresence, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.entries[driverID]
	return p, ok
}

// ──────────────────────────────────────────────
// MOCK OBSERVER REPOSITORY
// ──────────────────────────────────────────────

// MockObserverRepository is a mock implementation of ObserverRepository.
type MockObserverRepository struct {
	mu        sync.RWMutex
	observers []*domain.ObserverPresence

	ListError error
}

// NewMockObserverRepository creates a new mock observer repository.
func NewMockObserverRepository() *MockObserverRepository {
	return &MockObserverRepository{}
}

// AddObserver adds an observer at p.
func (m *MockObserverRepository) AddObserver(observerID string, p geo.Point) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers = append(m.observers, &domain.ObserverPresence{
		ObserverID:      observerID,
		Station:         "station-" + observerID,
		CurrentLocation: &domain.Location{Point: p, UpdatedAt: time.Now()},
	})
}

func (m *MockObserverRepository) ListLocated(ctx context.Context) ([]*domain.ObserverPresence, error) {
	if m.ListError != nil {
		return nil, m.ListError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]*domain.ObserverPresence, 0, len(m.observers))
	for _, o := range m.observers {
		if o.CurrentLocation == nil {
			continue
		}
		cp := *o
		result = append(result, &cp)
	}
	return result, nil
}

// ──────────────────────────────────────────────
// MOCK LOCATION STORE
// ──────────────────────────────────────────────

// MockLocationStore is a mock implementation of LocationStoreInterface.
type MockLocationStore struct {
	mu        sync.RWMutex
	locations map[string]geo.Point

	// Counters for verification
	UpdateCallCount int32
	RemoveCallCount int32

	// Error injection
	UpdateError error
	FindError   error
}

// NewMockLocationStore creates a new mock location store.
func NewMockLocationStore() *MockLocationStore {
	return &MockLocationStore{
		locations: make(map[string]geo.Point),
	}
}

func (m *MockLocationStore) UpdateLocation(ctx context.Context, driverID string, p geo.Point) error {
	atomic.AddInt32(&m.UpdateCallCount, 1)
	if m.UpdateError != nil {
		return m.UpdateError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.locations[driverID] = p
	return nil
}

func (m *MockLocationStore) FindNearbyDrivers(ctx context.Context, center geo.Point, radiusKm float64) ([]redis.DriverLocation, error) {
	if m.FindError != nil {
		return nil, m.FindError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]redis.DriverLocation, 0)
	for id, p := range m.locations {
		if geo.DistanceKm(center, p) <= radiusKm {
			result = append(result, redis.DriverLocation{DriverID: id, Point: p})
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		di, dj := geo.Distance(center, result[i].Point), geo.Distance(center, result[j].Point)
		if di == dj {
			return result[i].DriverID < result[j].DriverID
		}
		return di < dj
	})
	return result, nil
}

func (m *MockLocationStore) RemoveLocation(ctx context.Context, driverID string) error {
	atomic.AddInt32(&m.RemoveCallCount, 1)
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.locations, driverID)
	return nil
}

// Has reports whether the driver is in the index.
func (m *MockLocationStore) Has(driverID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.locations[driverID]
	return ok
}

// ──────────────────────────────────────────────
// MOCK ROUTE PROVIDER AND CACHE
// ──────────────────────────────────────────────

// MockRouteProvider is a mock implementation of service.RouteProvider.
type MockRouteProvider struct {
	mu    sync.RWMutex
	route domain.Route

	CallCount int32

	// Err fails every call; FailTimes fails only the first n calls.
	Err       error
	FailTimes int32
}

// NewMockRouteProvider creates a provider returning route.
func NewMockRouteProvider(route domain.Route) *MockRouteProvider {
	return &MockRouteProvider{route: route}
}

func (m *MockRouteProvider) Route(ctx context.Context, origin, destination geo.Point) (domain.Route, error) {
	n := atomic.AddInt32(&m.CallCount, 1)
	if m.Err != nil {
		return nil, m.Err
	}
	if n <= m.FailTimes {
		return nil, ErrInjected
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.route == nil {
		return nil, nil
	}
	return append(domain.Route(nil), m.route...), nil
}

// MockRouteCache is a mock implementation of RouteCacheInterface.
type MockRouteCache struct {
	mu     sync.RWMutex
	routes map[string]domain.Route

	SetCallCount int32
}

// NewMockRouteCache creates a new mock route cache.
func NewMockRouteCache() *MockRouteCache {
	return &MockRouteCache{routes: make(map[string]domain.Route)}
}

func (m *MockRouteCache) GetRoute(ctx context.Context, bookingID string) (domain.Route, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.routes[bookingID]
	if !ok {
		return nil, errors.New("cache miss")
	}
	return append(domain.Route(nil), r...), nil
}

func (m *MockRouteCache) SetRoute(ctx context.Context, bookingID string, route domain.Route) error {
	atomic.AddInt32(&m.SetCallCount, 1)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.routes[bookingID] = append(domain.Route(nil), route...)
	return nil
}

// ──────────────────────────────────────────────
// MOCK ETA PREDICTOR
// ──────────────────────────────────────────────

// MockETA is a mock implementation of service.ETAPredictor. Without ETAFunc
// it assumes 30 km/h in a straight line.
type MockETA struct {
	ETAFunc   func(from, to geo.Point) float64
	Err       error
	CallCount int32
}

func (m *MockETA) PredictETA(ctx context.Context, from, to geo.Point) (float64, error) {
	atomic.AddInt32(&m.CallCount, 1)
	if m.Err != nil {
		return 0, m.Err
	}
	if m.ETAFunc != nil {
		return m.ETAFunc(from, to), nil
	}
	return geo.DistanceKm(from, to) * 2, nil
}

// ──────────────────────────────────────────────
// MOCK DUTY CHECKER
// ──────────────────────────────────────────────

// MockDutyChecker is a mock implementation of service.DutyChecker.
type MockDutyChecker struct {
	mu     sync.RWMutex
	onDuty map[string]bool

	Err error
}

// NewMockDutyChecker creates a checker with the given drivers on duty.
func NewMockDutyChecker(driverIDs ...string) *MockDutyChecker {
	m := &MockDutyChecker{onDuty: make(map[string]bool)}
	for _, id := range driverIDs {
		m.onDuty[id] = true
	}
	return m
}

// Set changes a driver's duty flag.
func (m *MockDutyChecker) Set(driverID string, onDuty bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onDuty[driverID] = onDuty
}

func (m *MockDutyChecker) IsOnDuty(ctx context.Context, driverID string) (bool, error) {
	if m.Err != nil {
		return false, m.Err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.onDuty[driverID], nil
}

// ──────────────────────────────────────────────
// RECORDING PUBLISHER
// ──────────────────────────────────────────────

// PublishedEvent is one recorded publish.
type PublishedEvent struct {
	Channel string
	Event   realtime.Event
}

// RecordingPublisher is a realtime.Publisher that remembers every event.
type RecordingPublisher struct {
	mu     sync.RWMutex
	events []PublishedEvent

	Err error
}

// NewRecordingPublisher creates a new recording publisher.
func NewRecordingPublisher() *RecordingPublisher {
	return &RecordingPublisher{}
}

func (p *RecordingPublisher) Publish(ctx context.Context, channel string, evt realtime.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, PublishedEvent{Channel: channel, Event: evt})
	return p.Err
}

// Events returns a copy of every recorded event.
func (p *RecordingPublisher) Events() []PublishedEvent {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]PublishedEvent(nil), p.events...)
}

// EventsOn returns the events recorded on channel.
func (p *RecordingPublisher) EventsOn(channel string) []realtime.Event {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []realtime.Event
	for _, e := range p.events {
		if e.Channel == channel {
			out = append(out, e.Event)
		}
	}
	return out
}

// CountType returns how many events of type tag were recorded.
func (p *RecordingPublisher) CountType(tag string) int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	n := 0
	for _, e := range p.events {
		if e.Event.EventType() == tag {
			n++
		}
	}
	return n
}

// Reset forgets recorded events.
func (p *RecordingPublisher) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = nil
}

// ──────────────────────────────────────────────
// FAKE CLOCK
// ──────────────────────────────────────────────

// FakeClock is a service.Clock whose timers fire only on Advance.
type FakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	clock   *FakeClock
	at      time.Time
	f       func()
	stopped bool
	fired   bool
}

// NewFakeClock creates a clock starting at start.
func NewFakeClock(start time.Time) *FakeClock {
	return &FakeClock{now: start}
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *FakeClock) AfterFunc(d time.Duration, f func()) service.Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

// Advance moves the clock forward and runs every timer that became due, in
// deadline order, outside the clock lock.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []*fakeTimer
	pending := c.timers[:0]
	for _, t := range c.timers {
		switch {
		case t.stopped:
		case !t.at.After(c.now):
			t.fired = true
			due = append(due, t)
		default:
			pending = append(pending, t)
		}
	}
	c.timers = pending
	c.mu.Unlock()

	sort.SliceStable(due, func(i, j int) bool { return due[i].at.Before(due[j].at) })
	for _, t := range due {
		t.f()
	}
}

// Pending returns the number of armed timers.
func (c *FakeClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.stopped {
			n++
		}
	}
	return n
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

// ──────────────────────────────────────────────
// SYNC TASK RUNNER
// ──────────────────────────────────────────────

// SyncTaskRunner runs submitted tasks inline, once, and keeps their errors.
type SyncTaskRunner struct {
	mu     sync.Mutex
	tasks  []service.Task
	errors []error
}

func (r *SyncTaskRunner) Submit(task service.Task) {
	err := task.Run(context.Background())
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks = append(r.tasks, task)
	r.errors = append(r.errors, err)
}

// Count returns how many tasks were run.
func (r *SyncTaskRunner) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tasks)
}

// Errors returns the result of every task run.
func (r *SyncTaskRunner) Errors() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.errors...)
}

// Ensure mocks implement interfaces.
var (
	_ repository.BookingRepository  = (*MockBookingRepository)(nil)
	_ repository.PresenceRepository = (*MockPresenceRepository)(nil)
	_ repository.ObserverRepository = (*MockObserverRepository)(nil)
	_ redis.LocationStoreInterface  = (*MockLocationStore)(nil)
	_ redis.PresenceCacheInterface  = (*MockPresenceCache)(nil)
	_ redis.RouteCacheInterface     = (*MockRouteCache)(nil)
	_ service.RouteProvider         = (*MockRouteProvider)(nil)
	_ service.ETAPredictor          = (*MockETA)(nil)
	_ service.DutyChecker           = (*MockDutyChecker)(nil)
	_ service.TaskSubmitter         = (*SyncTaskRunner)(nil)
	_ service.Clock                 = (*FakeClock)(nil)
	_ realtime.Publisher            = (*RecordingPublisher)(nil)
)
