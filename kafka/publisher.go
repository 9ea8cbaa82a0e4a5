// Package kafka implements the outbox broker contract on Apache Kafka via
// segmentio/kafka-go. Envelope topics map to Kafka topics and envelope keys
// to partition keys, so messages for one aggregate land on one partition.
package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/helixir/outbox"
)

// Publisher defaults.
const (
	defaultBatchSize    = 100
	defaultBatchTimeout = 10 * time.Millisecond
)

// Config holds Kafka publisher settings.
type Config struct {
	// Brokers is the list of Kafka broker addresses.
	Brokers []string
	// BatchSize is the maximum number of messages to batch before sending.
	BatchSize int
	// BatchTimeout is the maximum time to wait for a batch to fill before
	// sending.
	BatchTimeout time.Duration
}

// messageWriter is the subset of *kafka.Writer used by the publisher.
// It allows tests to substitute a fake without a broker.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Compile-time check that *Publisher implements the broker contract.
var _ outbox.Publisher = (*Publisher)(nil)

// Publisher publishes envelope payloads to Kafka. It is safe for concurrent
// use, though the dispatcher publishes sequentially.
type Publisher struct {
	writer messageWriter
	logger zerolog.Logger
}

// NewPublisher creates a Publisher connected to the given brokers. The writer
// hashes the message key for partition assignment and requires
// acknowledgment from all in-sync replicas before reporting success, which is
// what makes a nil Publish return trustworthy for marking dispatched.
func NewPublisher(cfg Config, logger zerolog.Logger) (*Publisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("at least one kafka broker is required")
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	batchTimeout := cfg.BatchTimeout
	if batchTimeout <= 0 {
		batchTimeout = defaultBatchTimeout
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Balancer:     &kafka.Hash{},
		BatchSize:    batchSize,
		BatchTimeout: batchTimeout,
		RequiredAcks: kafka.RequireAll,
	}

	return &Publisher{
		writer: writer,
		logger: logger.With().Str("component", "kafka_publisher").Logger(),
	}, nil
}

// Publish sends one message to the given topic, keyed for partitioning.
// It blocks until the broker acknowledges the write or ctx expires.
func (p *Publisher) Publish(ctx context.Context, topic, key string, payload []byte) error {
	msg := kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: payload,
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("writing message to topic %q: %w", topic, err)
	}

	p.logger.Trace().
		Str("topic", topic).
		Str("key", key).
		Int("bytes", len(payload)).
		Msg("message published")

	return nil
}

// Close flushes pending writes and releases the underlying writer.
func (p *Publisher) Close() error {
	if err := p.writer.Close(); err != nil {
		return fmt.Errorf("closing kafka writer: %w", err)
	}
	return nil
}
