// Package nats publishes refresh cycle events to NATS subjects.
package nats

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

// Config selects the server and subject prefix.
type Config struct {
	URL           string
	SubjectPrefix string
}

type conn interface {
	PublishMsg(msg *nats.Msg) error
	FlushWithContext(ctx context.Context) error
	Close()
}

// Publisher sends JSON payloads on <prefix>.<topic>.
type Publisher struct {
	conn   conn
	prefix string
}

// Connect dials the NATS server.
func Connect(cfg Config) (*Publisher, error) {
	if cfg.URL == "" {
		cfg.URL = nats.DefaultURL
	}
	nc, err := nats.Connect(cfg.URL, nats.Name("news-refresher"))
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return newWithConn(nc, cfg.SubjectPrefix), nil
}

func newWithConn(c conn, prefix string) *Publisher {
	return &Publisher{conn: c, prefix: prefix}
}

// Publish sends the payload and flushes so delivery errors surface here. The
// returned ID is also sent as the Nats-Msg-Id header.
func (p *Publisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	id := uuid.NewString()
	msg := nats.NewMsg(p.subject(topic))
	msg.Data = data
	msg.Header.Set(nats.MsgIdHdr, id)
	if err := p.conn.PublishMsg(msg); err != nil {
		return "", fmt.Errorf("publish %s: %w", msg.Subject, err)
	}
	if err := p.conn.FlushWithContext(ctx); err != nil {
		return "", fmt.Errorf("flush nats: %w", err)
	}
	return id, nil
}

// Close closes the connection.
func (p *Publisher) Close() {
	p.conn.Close()
}

func (p *Publisher) subject(topic string) string {
	switch {
	case p.prefix == "":
		return topic
	case topic == "":
		return p.prefix
	default:
		return p.prefix + "." + topic
	}
}
