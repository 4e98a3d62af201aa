// Package kafka publishes refresh cycle events to a Kafka topic.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

// Header keys attached to every message.
const (
	EventHeader     = "event"
	MessageIDHeader = "message_id"
)

// Config selects the brokers and destination topic.
type Config struct {
	Brokers []string
	Topic   string
}

type writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher writes JSON payloads to one Kafka topic. The logical event name
// travels as the message key and the event header.
type Publisher struct {
	w   writer
	now func() time.Time
}

// New creates a Publisher backed by a kafka-go Writer.
func New(cfg Config) (*Publisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers are required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka topic is required")
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		MaxAttempts:            3,
		AllowAutoTopicCreation: true,
	}
	return newWithWriter(w), nil
}

func newWithWriter(w writer) *Publisher {
	return &Publisher{w: w, now: time.Now}
}

// Publish writes the payload synchronously.
func (p *Publisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	id := uuid.NewString()
	msg := kafka.Message{
		Key:   []byte(topic),
		Value: data,
		Time:  p.now().UTC(),
		Headers: []kafka.Header{
			{Key: EventHeader, Value: []byte(topic)},
			{Key: MessageIDHeader, Value: []byte(id)},
		},
	}
	if err := p.w.WriteMessages(ctx, msg); err != nil {
		return "", fmt.Errorf("write kafka message: %w", err)
	}
	return id, nil
}

// Close flushes and closes the writer.
func (p *Publisher) Close() error {
	return p.w.Close()
}
