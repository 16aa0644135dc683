package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"dispatch/internal/logger"
)

var errNotOnDuty = errors.New("driver not on duty")

type stubInboundHandler struct {
	mu       sync.Mutex
	received []Inbound
	err      error
}

func (h *stubInboundHandler) HandleInbound(ctx context.Context, sender *Subscriber, msg Inbound) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.received = append(h.received, msg)
	return h.err
}

func (h *stubInboundHandler) ErrorCode(err error) string {
	if errors.Is(err, errNotOnDuty) {
		return "not_on_duty"
	}
	return "rejected"
}

func dialTestServer(t *testing.T, handler InboundHandler) (*Bus, *websocket.Conn) {
	t.Helper()

	bus := NewBus(NewHub(logger.NewNop()), nil, logger.NewNop())
	srv := NewServer(bus, handler, logger.NewNop(), 16)

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		srv.ServeWS(w, r, r.URL.Query().Get("identity"))
	}))
	t.Cleanup(ts.Close)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "?identity=drv-1"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return bus, conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) Envelope {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("bad envelope: %v", err)
	}
	return env
}

func TestServer_InvalidPayloadReportedToSender(t *testing.T) {
	t.Parallel()

	handler := &stubInboundHandler{}
	_, conn := dialTestServer(t, handler)

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"driver.location","data":{"lat":"x"}}`)); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	env := readEnvelope(t, conn)
	if env.Type != TypeError {
		t.Fatalf("expected error envelope, got %s", env.Type)
	}
	var body ErrorEvent
	_ = json.Unmarshal(env.Data, &body)
	if body.Code != "invalid_payload" {
		t.Errorf("expected invalid_payload code, got %s", body.Code)
	}

	handler.mu.Lock()
	defer handler.mu.Unlock()
	if len(handler.received) != 0 {
		t.Errorf("expected invalid frame to be dropped, handler saw %d", len(handler.received))
	}
}

func TestServer_SubscribeThenReceive(t *testing.T) {
	t.Parallel()

	bus, conn := dialTestServer(t, &stubInboundHandler{})

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"subscribe","data":{"channel":"booking:b-1"}}`)); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if env := readEnvelope(t, conn); env.Type != TypeSubscribed {
		t.Fatalf("expected subscribed ack, got %s", env.Type)
	}

	_ = bus.Publish(context.Background(), BookingChannel("b-1"), ReleasedEvent{})

	env := readEnvelope(t, conn)
	if env.Type != TypeReleased || env.Channel != "booking:b-1" {
		t.Errorf("expected released on booking:b-1, got %s on %s", env.Type, env.Channel)
	}
}

func TestServer_IdentityChannelJoinedOnConnect(t *testing.T) {
	t.Parallel()

	bus, conn := dialTestServer(t, &stubInboundHandler{})

	// The join happens during the upgrade; poll until it is visible.
	deadline := time.Now().Add(2 * time.Second)
	for bus.Hub().MemberCount(IdentityChannel("drv-1")) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("identity channel was never joined")
		}
		time.Sleep(10 * time.Millisecond)
	}

	_ = bus.Publish(context.Background(), IdentityChannel("drv-1"), DriverOfflineEvent{Reason: "stale_location"})
	if env := readEnvelope(t, conn); env.Type != TypeDriverOffline {
		t.Errorf("expected driver.offline, got %s", env.Type)
	}
}

func TestServer_HandlerErrorUsesErrorCode(t *testing.T) {
	t.Parallel()

	handler := &stubInboundHandler{err: errNotOnDuty}
	_, conn := dialTestServer(t, handler)

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"driver.location","data":{"lat":12.9,"lng":77.6}}`)); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	env := readEnvelope(t, conn)
	var body ErrorEvent
	_ = json.Unmarshal(env.Data, &body)
	if env.Type != TypeError || body.Code != "not_on_duty" {
		t.Errorf("expected not_on_duty error, got %s/%s", env.Type, body.Code)
	}
}
