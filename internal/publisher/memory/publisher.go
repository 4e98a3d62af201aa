// Package memory contains an in-memory cycle event publisher for development and tests.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Publisher stores published payloads for inspection.
type Publisher struct {
	mu       sync.RWMutex
	messages []PublishedMessage
}

// PublishedMessage captures one publish call. Data holds the JSON encoding
// other backends would have sent.
type PublishedMessage struct {
	Topic   string
	Payload any
	Data    []byte
}

// New returns a memory Publisher.
func New() *Publisher {
	return &Publisher{}
}

// Publish records the message and returns a pseudo ID.
func (p *Publisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, PublishedMessage{Topic: topic, Payload: payload, Data: data})
	return fmt.Sprintf("memory-%d", len(p.messages)), nil
}

// Messages returns the recorded publishes.
func (p *Publisher) Messages() []PublishedMessage {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]PublishedMessage, len(p.messages))
	copy(out, p.messages)
	return out
}
