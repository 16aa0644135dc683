package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"dispatch/internal/domain"
	"dispatch/internal/geo"
	"dispatch/internal/logger"
	"dispatch/internal/realtime"
	"dispatch/internal/service"
	"dispatch/internal/tests"
)

type testServer struct {
	router    *gin.Engine
	bookings  *tests.MockBookingRepository
	presence  *tests.MockPresenceRepository
	locations *tests.MockLocationStore
	bus       *tests.RecordingPublisher
	tracker   *service.PresenceTracker
	realtime  *RealtimeHandler
}

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

func newTestServer() *testServer {
	s := &testServer{
		bookings:  tests.NewMockBookingRepository(),
		presence:  tests.NewMockPresenceRepository(),
		locations: tests.NewMockLocationStore(),
		bus:       tests.NewRecordingPublisher(),
	}
	log := logger.NewNop()
	s.tracker = service.NewPresenceTracker(s.presence, s.bookings, s.locations, nil, s.bus, log, service.PresenceOptions{
		Clock: tests.NewFakeClock(time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)),
	})
	scorer := service.NewScorer(s.tracker, &tests.MockETA{}, log)
	bookingService := service.NewBookingService(s.bookings, s.tracker, service.NewLocalLocker(), s.bus, &tests.SyncTaskRunner{}, nil, log)

	bookingHandler := NewBookingHandler(bookingService, scorer)
	driverHandler := NewDriverHandler(s.tracker)
	s.realtime = NewRealtimeHandler(s.tracker)

	r := gin.New()
	v1 := r.Group("/v1")
	v1.POST("/bookings", bookingHandler.CreateBooking)
	v1.GET("/bookings", bookingHandler.ListBookings)
	v1.GET("/bookings/:id", bookingHandler.GetBooking)
	v1.GET("/bookings/:id/drivers", bookingHandler.RankDrivers)
	v1.GET("/bookings/:id/best-driver", bookingHandler.BestDriver)
	v1.POST("/bookings/:id/accept", bookingHandler.AcceptBooking)
	v1.POST("/bookings/:id/complete", bookingHandler.CompleteBooking)
	v1.POST("/bookings/:id/cancel", bookingHandler.CancelBooking)
	v1.POST("/bookings/:id/release", bookingHandler.ReleaseBooking)
	v1.GET("/drivers/nearby", driverHandler.Nearby)
	v1.POST("/drivers/:id/duty", driverHandler.SetDuty)
	v1.POST("/drivers/:id/location", driverHandler.UpdateLocation)
	v1.GET("/drivers/:id/presence", driverHandler.GetPresence)
	r.GET("/ws", s.realtime.ServeWS)
	s.router = r
	return s
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
	return v
}

func ptr(v float64) *float64 {
	return &v
}

func coords(lat, lng float64) *CoordinatesRequest {
	return &CoordinatesRequest{Lat: ptr(lat), Lng: ptr(lng)}
}

func (s *testServer) createBooking(t *testing.T) BookingResponse {
	t.Helper()
	w := s.do(t, http.MethodPost, "/v1/bookings", CreateBookingRequest{
		RequesterID: "requester-1",
		Pickup:      coords(12.90, 77.60),
		Destination: coords(12.95, 77.65),
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create booking: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	return decode[BookingResponse](t, w)
}

func TestCreateBooking(t *testing.T) {
	t.Parallel()
	s := newTestServer()

	b := s.createBooking(t)
	if b.Status != string(domain.BookingStatusPending) || b.ID == "" {
		t.Errorf("expected a pending booking with id, got %+v", b)
	}

	w := s.do(t, http.MethodPost, "/v1/bookings", CreateBookingRequest{
		RequesterID: "requester-1",
		Pickup:      coords(120, 77.60),
		Destination: coords(12.95, 77.65),
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad coordinates, got %d", w.Code)
	}
	if resp := decode[ErrorResponse](t, w); resp.Code != "invalid_payload" {
		t.Errorf("expected invalid_payload code, got %q", resp.Code)
	}
}

func TestCreateBooking_MissingCoordinates(t *testing.T) {
	t.Parallel()
	s := newTestServer()

	testCases := []struct {
		name string
		body any
	}{
		{"missing pickup", map[string]any{
			"requester_id": "requester-1",
			"destination":  map[string]float64{"lat": 12.95, "lng": 77.65},
		}},
		{"pickup without lat", map[string]any{
			"requester_id": "requester-1",
			"pickup":       map[string]float64{"lng": 77.60},
			"destination":  map[string]float64{"lat": 12.95, "lng": 77.65},
		}},
		{"destination without lng", map[string]any{
			"requester_id": "requester-1",
			"pickup":       map[string]float64{"lat": 12.90, "lng": 77.60},
			"destination":  map[string]float64{"lat": 12.95},
		}},
	}
	for _, tc := range testCases {
		w := s.do(t, http.MethodPost, "/v1/bookings", tc.body)
		if w.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", tc.name, w.Code)
			continue
		}
		if resp := decode[ErrorResponse](t, w); resp.Code != "invalid_payload" {
			t.Errorf("%s: expected invalid_payload code, got %q", tc.name, resp.Code)
		}
	}
	if n := int(s.bookings.CreateCallCount); n != 0 {
		t.Errorf("expected no booking stored, got %d", n)
	}
}

func TestBookingLifecycle(t *testing.T) {
	t.Parallel()
	s := newTestServer()
	b := s.createBooking(t)

	steps := []struct {
		name       string
		path       string
		body       any
		wantStatus int
		wantCode   string
	}{
		{"accept while off duty", "/accept", DriverActionRequest{DriverID: "driver-1"}, http.StatusConflict, "not_on_duty"},
		{"go on duty", "", nil, 0, ""},
		{"accept", "/accept", DriverActionRequest{DriverID: "driver-1"}, http.StatusOK, ""},
		{"accept again", "/accept", DriverActionRequest{DriverID: "driver-1"}, http.StatusConflict, "invalid_transition"},
		{"cancel accepted", "/cancel", CancelBookingRequest{RequesterID: "requester-1"}, http.StatusConflict, "invalid_transition"},
		{"complete by stranger", "/complete", DriverActionRequest{DriverID: "driver-2"}, http.StatusForbidden, "forbidden"},
		{"complete", "/complete", DriverActionRequest{DriverID: "driver-1"}, http.StatusOK, ""},
		{"complete twice", "/complete", DriverActionRequest{DriverID: "driver-1"}, http.StatusConflict, "invalid_transition"},
	}

	for _, step := range steps {
		if step.path == "" {
			w := s.do(t, http.MethodPost, "/v1/drivers/driver-1/duty", map[string]bool{"on_duty": true})
			if w.Code != http.StatusNoContent {
				t.Fatalf("%s: expected 204, got %d", step.name, w.Code)
			}
			continue
		}

		w := s.do(t, http.MethodPost, "/v1/bookings/"+b.ID+step.path, step.body)
		if w.Code != step.wantStatus {
			t.Fatalf("%s: expected %d, got %d: %s", step.name, step.wantStatus, w.Code, w.Body.String())
		}
		if step.wantCode != "" {
			if resp := decode[ErrorResponse](t, w); resp.Code != step.wantCode {
				t.Errorf("%s: expected code %q, got %q", step.name, step.wantCode, resp.Code)
			}
		}
	}

	got := decode[BookingResponse](t, s.do(t, http.MethodGet, "/v1/bookings/"+b.ID, nil))
	if got.Status != string(domain.BookingStatusCompleted) || got.DriverID != "driver-1" {
		t.Errorf("expected completed by driver-1, got %+v", got)
	}
}

func TestGetBooking_NotFound(t *testing.T) {
	t.Parallel()
	s := newTestServer()

	w := s.do(t, http.MethodGet, "/v1/bookings/missing", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestDriverEndpoints(t *testing.T) {
	t.Parallel()
	s := newTestServer()

	w := s.do(t, http.MethodPost, "/v1/drivers/driver-1/location", UpdateLocationRequest{Lat: ptr(12.91), Lng: ptr(77.61)})
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409 before duty, got %d", w.Code)
	}

	if w := s.do(t, http.MethodPost, "/v1/drivers/driver-1/duty", map[string]any{}); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 without on_duty, got %d", w.Code)
	}
	if w := s.do(t, http.MethodPost, "/v1/drivers/driver-1/duty", map[string]bool{"on_duty": true}); w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", w.Code)
	}
	if w := s.do(t, http.MethodPost, "/v1/drivers/driver-1/location", map[string]float64{"lng": 77.61}); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 without lat, got %d", w.Code)
	}
	if w := s.do(t, http.MethodPost, "/v1/drivers/driver-1/location", UpdateLocationRequest{Lat: ptr(12.91), Lng: ptr(77.61)}); w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", w.Code, w.Body.String())
	}

	p := decode[PresenceResponse](t, s.do(t, http.MethodGet, "/v1/drivers/driver-1/presence", nil))
	if !p.OnDuty || !p.Available || p.CurrentLocation == nil || p.CurrentLocation.Lat != 12.91 {
		t.Errorf("unexpected presence %+v", p)
	}

	nearby := decode[[]PresenceResponse](t, s.do(t, http.MethodGet, "/v1/drivers/nearby?lat=12.90&lng=77.60&radius_km=5", nil))
	if len(nearby) != 1 || nearby[0].DriverID != "driver-1" {
		t.Errorf("expected driver-1 nearby, got %+v", nearby)
	}

	testCases := []struct {
		name string
		path string
	}{
		{"missing lat", "/v1/drivers/nearby?lng=77.60"},
		{"latitude out of range", "/v1/drivers/nearby?lat=95&lng=77.60"},
		{"zero radius", "/v1/drivers/nearby?lat=12.9&lng=77.60&radius_km=0"},
	}
	for _, tc := range testCases {
		if w := s.do(t, http.MethodGet, tc.path, nil); w.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", tc.name, w.Code)
		}
	}
}

func TestRankDrivers(t *testing.T) {
	t.Parallel()
	s := newTestServer()
	b := s.createBooking(t)

	for _, d := range []struct {
		id string
		p  geo.Point
	}{
		{"driver-near", geo.Point{Lat: 12.91, Lng: 77.61}},
		{"driver-far", geo.Point{Lat: 12.95, Lng: 77.65}},
	} {
		if err := s.tracker.SetOnDuty(context.Background(), d.id); err != nil {
			t.Fatalf("set on duty: %v", err)
		}
		if err := s.tracker.UpdateLocation(context.Background(), service.UpdateLocationRequest{DriverID: d.id, Point: d.p}); err != nil {
			t.Fatalf("update location: %v", err)
		}
	}

	ranked := decode[RankedDriversResponse](t, s.do(t, http.MethodGet, "/v1/bookings/"+b.ID+"/drivers", nil))
	if len(ranked.Drivers) != 2 || ranked.Drivers[0].DriverID != "driver-near" {
		t.Errorf("expected both drivers with driver-near first, got %+v", ranked.Drivers)
	}

	best := decode[BestDriverResponse](t, s.do(t, http.MethodGet, "/v1/bookings/"+b.ID+"/best-driver", nil))
	if best.Driver == nil || best.Driver.DriverID != "driver-near" {
		t.Errorf("expected driver-near as best driver, got %+v", best.Driver)
	}
}

func TestRealtimeHandler_HandleInbound(t *testing.T) {
	t.Parallel()
	s := newTestServer()
	ctx := context.Background()
	sender := realtime.NewSubscriber("sub-1", "driver-1", 4)

	err := s.realtime.HandleInbound(ctx, sender, realtime.DriverLocationMessage{Point: geo.Point{Lat: 12.9, Lng: 77.6}})
	if s.realtime.ErrorCode(err) != "not_on_duty" {
		t.Fatalf("expected not_on_duty, got %v", err)
	}

	if err := s.realtime.HandleInbound(ctx, sender, realtime.DutyMessage{OnDuty: true}); err != nil {
		t.Fatalf("duty: %v", err)
	}
	if err := s.realtime.HandleInbound(ctx, sender, realtime.DriverLocationMessage{Point: geo.Point{Lat: 12.9, Lng: 77.6}}); err != nil {
		t.Fatalf("location: %v", err)
	}
	if !s.locations.Has("driver-1") {
		t.Error("expected the sender's location to be indexed")
	}

	if err := s.realtime.HandleInbound(ctx, sender, realtime.DutyMessage{OnDuty: false}); err != nil {
		t.Fatalf("off duty: %v", err)
	}
	if s.presence.StoredOnDuty("driver-1") {
		t.Error("expected driver off duty")
	}
}

func TestServeWS_RejectsBadIdentity(t *testing.T) {
	t.Parallel()
	s := newTestServer()

	if w := s.do(t, http.MethodGet, "/ws", nil); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 without identity, got %d", w.Code)
	}
	if w := s.do(t, http.MethodGet, "/ws?identity=driver-1", nil); w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 before a server is attached, got %d", w.Code)
	}
}
