package kafka

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	_, err := New(Config{Topic: "cycles"})
	require.ErrorContains(t, err, "brokers")
	_, err = New(Config{Brokers: []string{"localhost:9092"}})
	require.ErrorContains(t, err, "topic")

	p, err := New(Config{Brokers: []string{"localhost:9092"}, Topic: "cycles"})
	require.NoError(t, err)
	require.NoError(t, p.Close())
}

func TestPublishWritesMessage(t *testing.T) {
	t.Parallel()

	fw := &fakeWriter{}
	p := newWithWriter(fw)
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return fixed }

	id, err := p.Publish(context.Background(), "refresh.cycle", map[string]bool{"success": true})
	require.NoError(t, err)

	require.Len(t, fw.msgs, 1)
	msg := fw.msgs[0]
	require.Equal(t, "refresh.cycle", string(msg.Key))
	require.JSONEq(t, `{"success":true}`, string(msg.Value))
	require.Equal(t, fixed, msg.Time)
	require.Equal(t, []kafka.Header{
		{Key: EventHeader, Value: []byte("refresh.cycle")},
		{Key: MessageIDHeader, Value: []byte(id)},
	}, msg.Headers)

	require.NoError(t, p.Close())
	require.True(t, fw.closed)
}

func TestPublishWriteError(t *testing.T) {
	t.Parallel()

	p := newWithWriter(&fakeWriter{err: errors.New("leader not available")})
	_, err := p.Publish(context.Background(), "t", 1)
	require.ErrorContains(t, err, "write kafka message")
}
