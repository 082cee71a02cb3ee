package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"ms-registration/internal/logger"
)

const (
	TopicAttendeeMessages = "registration.attendee_messages"
	TopicCapacityChanged  = "event.capacity_changed"
)

// MessageWriter is the part of *kafka.Writer the producer uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Producer struct {
	Writer MessageWriter
	Logger *logger.Logger
}

func NewProducer(brokers []string, topic string, log *logger.Logger) *Producer {
	writer := kafka.NewWriter(kafka.WriterConfig{
		Brokers:      brokers,
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 50 * time.Millisecond,
	})
	return &Producer{Writer: writer, Logger: log}
}

// Publish streams value as JSON. Messages with the same key land on the
// same partition, so one registration's messages stay ordered.
func (p *Producer) Publish(ctx context.Context, key string, value interface{}) error {
	msgBytes, err := json.Marshal(value)
	if err != nil {
		return err
	}

	p.Logger.LogKafka("PUBLISH", key, fmt.Sprintf("%d bytes", len(msgBytes)))

	if err := p.Writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(key),
		Value: msgBytes,
	}); err != nil {
		return fmt.Errorf("kafka publish %s: %w", key, err)
	}
	return nil
}

func (p *Producer) Close() error {
	return p.Writer.Close()
}
