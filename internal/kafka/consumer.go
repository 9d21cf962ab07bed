package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"ms-contest/internal/logger"
	"ms-contest/internal/models"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

type Consumer struct {
	reader messageReader
	logger *logger.Logger
}

// NewConsumer joins a group unique to this process, so every instance sees every event.
// It starts at the newest offset; history is not replayed.
func NewConsumer(brokers []string, topic, groupPrefix string, log *logger.Logger) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     brokers,
		Topic:       topic,
		GroupID:     fmt.Sprintf("%s-%s", groupPrefix, uuid.NewString()),
		StartOffset: kafka.LastOffset,
		MinBytes:    1,
		MaxBytes:    10e6, // 10MB
		MaxWait:     500 * time.Millisecond,
	})
	return &Consumer{reader: reader, logger: log}
}

// DecodeContestEvent parses a message produced by Producer.
func DecodeContestEvent(msg kafka.Message) (models.ContestEvent, error) {
	var event models.ContestEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		return event, fmt.Errorf("decode contest event: %w", err)
	}
	if event.Type == "" {
		return event, errors.New("decode contest event: missing type")
	}
	return event, nil
}

// Start consumes until ctx is done. Undecodable messages are skipped.
func (c *Consumer) Start(ctx context.Context, handler func(context.Context, models.ContestEvent)) {
	c.logger.Info("KAFKA", "🔄 Contest event consumer started")

	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.logger.Info("KAFKA", "Contest event consumer stopped")
				return
			}
			c.logger.Error("KAFKA", fmt.Sprintf("❌ Error reading message: %v", err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		event, err := DecodeContestEvent(msg)
		if err != nil {
			c.logger.Warn("KAFKA", fmt.Sprintf("⚠️ Skipping message at offset %d: %v", msg.Offset, err))
			continue
		}

		c.logger.Debug("KAFKA", fmt.Sprintf("📩 Received %s for entry %d", event.Type, event.EntryID))
		handler(ctx, event)
	}
}

// Close gracefully shuts down the Kafka reader
func (c *Consumer) Close() error {
	return c.reader.Close()
}
