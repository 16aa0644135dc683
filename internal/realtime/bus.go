package realtime

import (
	"context"
	"fmt"
	"time"

	"dispatch/internal/logger"
	"dispatch/internal/observability"
)

// Publisher is what core services depend on to emit events.
type Publisher interface {
	Publish(ctx context.Context, channel string, evt Event) error
}

// Broker relays encoded envelopes between instances. The broker is expected
// to hand every payload back to each instance's hub, including the sender's.
type Broker interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// Sink receives a copy of every published envelope.
type Sink interface {
	Write(ctx context.Context, channel string, payload []byte) error
}

// Bus encodes events and routes them to the hub, a broker, and sinks.
type Bus struct {
	hub    *Hub
	broker Broker
	sinks  []Sink
	log    logger.ILogger
	now    func() time.Time
}

// NewBus creates a bus. broker may be nil for single-instance deployments.
func NewBus(hub *Hub, broker Broker, log logger.ILogger, sinks ...Sink) *Bus {
	return &Bus{
		hub:    hub,
		broker: broker,
		sinks:  sinks,
		log:    log,
		now:    time.Now,
	}
}

// Publish sends evt to every subscriber of channel. A broker failure falls
// back to local delivery; sink failures are logged only.
func (b *Bus) Publish(ctx context.Context, channel string, evt Event) error {
	if !ValidChannel(channel) {
		return fmt.Errorf("%w: unknown channel %q", ErrInvalidPayload, channel)
	}

	payload, err := Encode(channel, evt, b.now())
	if err != nil {
		return fmt.Errorf("failed to encode %s event: %w", evt.EventType(), err)
	}
	observability.EventsPublishedTotal.WithLabelValues(evt.EventType()).Inc()

	if b.broker == nil {
		b.hub.Broadcast(channel, payload)
	} else if err := b.broker.Publish(ctx, channel, payload); err != nil {
		b.log.Warning("broker publish failed, delivering locally",
			logger.String("channel", channel),
			logger.Error(err))
		b.hub.Broadcast(channel, payload)
	}

	for _, sink := range b.sinks {
		if err := sink.Write(ctx, channel, payload); err != nil {
			b.log.Error("event sink write failed",
				logger.String("channel", channel),
				logger.String("type", evt.EventType()),
				logger.Error(err))
		}
	}
	return nil
}

// SendTo encodes evt and delivers it to one subscriber, bypassing channels.
func (b *Bus) SendTo(sub *Subscriber, evt Event) bool {
	payload, err := Encode("", evt, b.now())
	if err != nil {
		return false
	}
	return b.hub.Send(sub, payload)
}

// Hub returns the local hub.
func (b *Bus) Hub() *Hub {
	return b.hub
}

var _ Publisher = (*Bus)(nil)
