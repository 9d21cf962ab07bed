package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"ms-contest/internal/logger"
	"ms-contest/internal/models"

	"github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer publishes contest events. Messages are keyed by entry id so events for one
// entry stay ordered within a partition.
type Producer struct {
	Writer  messageWriter
	Topic   string
	Logger  *logger.Logger
	Timeout time.Duration
}

func NewProducer(brokers []string, topic string, log *logger.Logger) *Producer {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 10 * time.Millisecond,
	}
	return &Producer{Writer: writer, Topic: topic, Logger: log, Timeout: 5 * time.Second}
}

func eventKey(event models.ContestEvent) []byte {
	if event.EntryID == 0 {
		return []byte("contest")
	}
	return []byte(strconv.FormatInt(event.EntryID, 10))
}

// PublishContestEvent streams one ledger change to Kafka
func (p *Producer) PublishContestEvent(ctx context.Context, event models.ContestEvent) error {
	msgBytes, err := json.Marshal(event)
	if err != nil {
		return err
	}

	if p.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}

	err = p.Writer.WriteMessages(ctx, kafka.Message{
		Key:   eventKey(event),
		Value: msgBytes,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(event.Type)},
		},
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w", event.Type, err)
	}

	if p.Logger != nil {
		p.Logger.Debug("KAFKA", fmt.Sprintf("[%s] %s - entry %d", event.Type, p.Topic, event.EntryID))
	}
	return nil
}

func (p *Producer) Close() error {
	return p.Writer.Close()
}
