package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"dispatch/internal/logger"
)

type recordingSink struct {
	mu       sync.Mutex
	channels []string
	err      error
}

func (s *recordingSink) Write(ctx context.Context, channel string, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.channels = append(s.channels, channel)
	return s.err
}

// loopbackBroker hands payloads straight back to a hub, as Redis would.
type loopbackBroker struct {
	hub   *Hub
	calls int
	err   error
}

func (b *loopbackBroker) Publish(ctx context.Context, channel string, payload []byte) error {
	b.calls++
	if b.err != nil {
		return b.err
	}
	b.hub.Broadcast(channel, payload)
	return nil
}

func decodeEnvelope(t *testing.T, payload []byte) Envelope {
	t.Helper()
	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		t.Fatalf("failed to decode envelope: %v", err)
	}
	return env
}

func TestBus_PublishEncodesEnvelope(t *testing.T) {
	t.Parallel()

	hub := NewHub(logger.NewNop())
	bus := NewBus(hub, nil, logger.NewNop())
	fixed := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	bus.now = func() time.Time { return fixed }

	sub := NewSubscriber("s", "", 4)
	hub.Join(sub, BookingChannel("b-1"))

	if err := bus.Publish(context.Background(), BookingChannel("b-1"), AcceptedEvent{DriverID: "drv-1"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	env := decodeEnvelope(t, <-sub.Messages())
	if env.Type != TypeAccepted || env.Channel != "booking:b-1" || !env.Timestamp.Equal(fixed) {
		t.Errorf("unexpected envelope %+v", env)
	}

	var data AcceptedEvent
	if err := json.Unmarshal(env.Data, &data); err != nil {
		t.Fatalf("failed to decode data: %v", err)
	}
	if data.DriverID != "drv-1" {
		t.Errorf("expected driverId drv-1, got %s", data.DriverID)
	}
}

func TestBus_CompletedEventShapes(t *testing.T) {
	t.Parallel()

	hub := NewHub(logger.NewNop())
	bus := NewBus(hub, nil, logger.NewNop())

	global := NewSubscriber("g", "", 4)
	booking := NewSubscriber("b", "", 4)
	hub.Join(global, GlobalChannel)
	hub.Join(booking, BookingChannel("b-1"))

	ctx := context.Background()
	_ = bus.Publish(ctx, BookingChannel("b-1"), CompletedEvent{})
	_ = bus.Publish(ctx, GlobalChannel, CompletedEvent{BookingID: "b-1"})

	if env := decodeEnvelope(t, <-booking.Messages()); string(env.Data) != `{}` {
		t.Errorf("expected empty body on booking channel, got %s", env.Data)
	}
	if env := decodeEnvelope(t, <-global.Messages()); string(env.Data) != `{"bookingId":"b-1"}` {
		t.Errorf("expected bookingId on global channel, got %s", env.Data)
	}
}

func TestBus_RejectsUnknownChannel(t *testing.T) {
	t.Parallel()

	bus := NewBus(NewHub(logger.NewNop()), nil, logger.NewNop())
	err := bus.Publish(context.Background(), "lobby", ReleasedEvent{})
	if !errors.Is(err, ErrInvalidPayload) {
		t.Errorf("expected ErrInvalidPayload, got %v", err)
	}
}

func TestBus_BrokerAndSinks(t *testing.T) {
	t.Parallel()

	hub := NewHub(logger.NewNop())
	broker := &loopbackBroker{hub: hub}
	okSink := &recordingSink{}
	badSink := &recordingSink{err: errors.New("kafka down")}
	bus := NewBus(hub, broker, logger.NewNop(), badSink, okSink)

	sub := NewSubscriber("s", "", 4)
	hub.Join(sub, IdentityChannel("obs-1"))

	err := bus.Publish(context.Background(), IdentityChannel("obs-1"), ProximityAlertEvent{BookingID: "b-1", DistanceMeters: 42})
	if err != nil {
		t.Fatalf("sink failure must not surface, got %v", err)
	}
	if broker.calls != 1 {
		t.Errorf("expected broker to be used once, got %d", broker.calls)
	}
	if len(sub.Messages()) != 1 {
		t.Errorf("expected exactly one delivery through the broker, got %d", len(sub.Messages()))
	}
	if len(okSink.channels) != 1 || len(badSink.channels) != 1 {
		t.Errorf("expected every sink to be written once, got %d and %d", len(okSink.channels), len(badSink.channels))
	}
}

func TestBus_BrokerFailureFallsBackToLocal(t *testing.T) {
	t.Parallel()

	hub := NewHub(logger.NewNop())
	broker := &loopbackBroker{hub: hub, err: errors.New("redis down")}
	bus := NewBus(hub, broker, logger.NewNop())

	sub := NewSubscriber("s", "", 4)
	hub.Join(sub, GlobalChannel)

	if err := bus.Publish(context.Background(), GlobalChannel, CompletedEvent{BookingID: "b-1"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sub.Messages()) != 1 {
		t.Errorf("expected local delivery after broker failure, got %d messages", len(sub.Messages()))
	}
}
