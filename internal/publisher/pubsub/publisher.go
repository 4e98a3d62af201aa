// Package pubsub publishes refresh cycle events to Google Cloud Pub/Sub.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"go.opentelemetry.io/otel"
)

// EventAttribute carries the logical topic name on every message.
const EventAttribute = "event"

// Publisher wraps a Pub/Sub publisher client.
type Publisher struct {
	publisher *pubsub.Publisher
}

// New creates a Publisher for the provided topic publisher.
func New(publisher *pubsub.Publisher) *Publisher {
	return &Publisher{publisher: publisher}
}

// NewForTopic verifies that topicID exists and is active before returning a
// Publisher bound to it.
func NewForTopic(ctx context.Context, client *pubsub.Client, projectID, topicID string) (*Publisher, error) {
	if client == nil {
		return nil, fmt.Errorf("pubsub client is required")
	}
	name := fullTopicName(projectID, topicID)
	topic, err := client.TopicAdminClient.GetTopic(ctx, &pubsubpb.GetTopicRequest{Topic: name})
	if err != nil {
		return nil, fmt.Errorf("get pubsub topic %q: %w", topicID, err)
	}
	if topic.GetState() != pubsubpb.Topic_ACTIVE && topic.GetState() != pubsubpb.Topic_STATE_UNSPECIFIED {
		return nil, fmt.Errorf("pubsub topic %q is not active in project %q", topicID, projectID)
	}
	return New(client.Publisher(name)), nil
}

func fullTopicName(projectID, topicID string) string {
	return fmt.Sprintf("projects/%s/topics/%s", projectID, topicID)
}

// Publish marshals the payload to JSON and publishes it, waiting for the
// server-assigned message ID.
func (p *Publisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	if p.publisher == nil {
		return "", fmt.Errorf("pubsub publisher is not configured")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	msg := &pubsub.Message{Data: data, Attributes: map[string]string{}}
	if topic != "" {
		msg.Attributes[EventAttribute] = topic
	}
	otel.GetTextMapPropagator().Inject(ctx, &pubsubCarrier{attrs: msg.Attributes})

	id, err := p.publisher.Publish(ctx, msg).Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish message: %w", err)
	}
	return id, nil
}

// Stop flushes pending messages.
func (p *Publisher) Stop() {
	if p.publisher != nil {
		p.publisher.Stop()
	}
}

// pubsubCarrier implements propagation.TextMapCarrier for Pub/Sub attributes.
type pubsubCarrier struct {
	attrs map[string]string
}

func (c *pubsubCarrier) Get(key string) string {
	return c.attrs[key]
}

func (c *pubsubCarrier) Set(key, value string) {
	c.attrs[key] = value
}

func (c *pubsubCarrier) Keys() []string {
	keys := make([]string, 0, len(c.attrs))
	for k := range c.attrs {
		keys = append(keys, k)
	}
	return keys
}
