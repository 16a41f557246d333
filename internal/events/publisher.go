// Package events fans committed domain changes out to Kafka, the report
// cache and the WIP recalculation queue.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

// Publisher writes keyed messages to a topic.
type Publisher interface {
	Publish(ctx context.Context, key string, value any) error
	Close() error
}

// KafkaWriter wraps kafka.Writer methods for testing.
type KafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher publishes JSON messages with kafka-go.
type KafkaPublisher struct {
	logger *slog.Logger
	writer KafkaWriter
	topic  string
}

// NewKafkaPublisher builds a synchronous writer for topic on brokers.
func NewKafkaPublisher(logger *slog.Logger, brokers []string, topic string, writeTimeout time.Duration) (*KafkaPublisher, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("events: kafka brokers are not configured")
	}
	if topic == "" {
		return nil, fmt.Errorf("events: kafka topic is not configured")
	}
	if logger == nil {
		logger = slog.Default()
	}
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
		WriteTimeout:           writeTimeout,
	}
	return newKafkaPublisher(logger, writer, topic), nil
}

func newKafkaPublisher(logger *slog.Logger, writer KafkaWriter, topic string) *KafkaPublisher {
	return &KafkaPublisher{logger: logger, writer: writer, topic: topic}
}

// Publish marshals value and writes it under key. Messages with the same key
// land on the same partition, which keeps per source ordering.
func (p *KafkaPublisher) Publish(ctx context.Context, key string, value any) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("events: marshal %s: %w", key, err)
	}
	if err := p.writer.WriteMessages(ctx, kafka.Message{Key: []byte(key), Value: payload}); err != nil {
		return fmt.Errorf("events: publish to %s: %w", p.topic, err)
	}
	p.logger.Debug("event published", slog.String("topic", p.topic), slog.String("key", key))
	return nil
}

// Close flushes and closes the writer.
func (p *KafkaPublisher) Close() error {
	if err := p.writer.Close(); err != nil {
		return fmt.Errorf("events: close writer for %s: %w", p.topic, err)
	}
	return nil
}
