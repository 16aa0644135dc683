package realtime

import (
	"context"
	"strings"

	"github.com/redis/go-redis/v9"

	"dispatch/internal/logger"
)

const defaultBrokerPrefix = "dispatch:events:"

// RedisBroker fans events out to every instance through Redis Pub/Sub.
type RedisBroker struct {
	client *redis.Client
	prefix string
	log    logger.ILogger
}

// NewRedisBroker creates a broker publishing under the dispatch prefix.
func NewRedisBroker(client *redis.Client, log logger.ILogger) *RedisBroker {
	return &RedisBroker{client: client, prefix: defaultBrokerPrefix, log: log}
}

// Publish sends payload to every instance subscribed to the prefix.
func (b *RedisBroker) Publish(ctx context.Context, channel string, payload []byte) error {
	return b.client.Publish(ctx, b.prefix+channel, payload).Err()
}

// Run relays every message published under the prefix into hub until ctx
// is done.
func (b *RedisBroker) Run(ctx context.Context, hub *Hub) error {
	pubsub := b.client.PSubscribe(ctx, b.prefix+"*")
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return err
	}
	b.log.Info("realtime broker subscribed", logger.String("pattern", b.prefix+"*"))

	msgs := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			hub.Broadcast(strings.TrimPrefix(msg.Channel, b.prefix), []byte(msg.Payload))
		}
	}
}

var _ Broker = (*RedisBroker)(nil)
