package kafka

import (
	"context"
	"errors"
	"fmt"

	"github.com/segmentio/kafka-go"

	"ms-registration/internal/logger"
)

type Consumer struct {
	reader *kafka.Reader
	log    *logger.Logger
}

// NewConsumer creates a new Kafka consumer for the given topic and group
func NewConsumer(brokers []string, topic, groupID string, log *logger.Logger) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 1,
		MaxBytes: 10e6, // 10MB
	})
	return &Consumer{reader: reader, log: log}
}

// Start reads until ctx is cancelled. A message is committed after handler
// returns, whether or not it failed; failures are logged.
func (c *Consumer) Start(ctx context.Context, handler func(ctx context.Context, msg kafka.Message) error) {
	c.log.LogKafka("CONSUME", c.reader.Config().Topic, "consumer started")

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				c.log.LogKafka("CONSUME", c.reader.Config().Topic, "consumer stopped")
				return
			}
			c.log.Error("KAFKA", fmt.Sprintf("Error reading message: %v", err))
			continue
		}

		if err := handler(ctx, msg); err != nil {
			c.log.Error("KAFKA", fmt.Sprintf("Failed to handle message at offset %d: %v", msg.Offset, err))
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			c.log.Error("KAFKA", fmt.Sprintf("Failed to commit offset %d: %v", msg.Offset, err))
		}
	}
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
