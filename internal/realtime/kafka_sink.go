package realtime

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaSink mirrors published envelopes to a Kafka topic. Messages are keyed
// by channel so a booking's events stay ordered within a partition.
type KafkaSink struct {
	writer *kafka.Writer
}

// NewKafkaSink creates a sink writing to topic on brokers.
func NewKafkaSink(brokers []string, topic string) *KafkaSink {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 50 * time.Millisecond,
		Async:        true,
	}
	return &KafkaSink{writer: w}
}

// Write queues payload for delivery.
func (k *KafkaSink) Write(ctx context.Context, channel string, payload []byte) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return k.writer.WriteMessages(ctx, kafka.Message{Key: []byte(channel), Value: payload})
}

// Close flushes pending messages.
func (k *KafkaSink) Close() error {
	if k.writer == nil {
		return nil
	}
	return k.writer.Close()
}

var _ Sink = (*KafkaSink)(nil)
