package nats

import (
	"context"
	"errors"
	"testing"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	msgs     []*nats.Msg
	pubErr   error
	flushErr error
	closed   bool
}

func (f *fakeConn) PublishMsg(msg *nats.Msg) error {
	if f.pubErr != nil {
		return f.pubErr
	}
	f.msgs = append(f.msgs, msg)
	return nil
}

func (f *fakeConn) FlushWithContext(context.Context) error { return f.flushErr }

func (f *fakeConn) Close() { f.closed = true }

func TestPublishBuildsSubjectAndHeaders(t *testing.T) {
	t.Parallel()

	fc := &fakeConn{}
	p := newWithConn(fc, "news")
	id, err := p.Publish(context.Background(), "refresh.cycle", map[string]int{"count": 4})
	require.NoError(t, err)

	require.Len(t, fc.msgs, 1)
	msg := fc.msgs[0]
	require.Equal(t, "news.refresh.cycle", msg.Subject)
	require.JSONEq(t, `{"count":4}`, string(msg.Data))
	require.Equal(t, id, msg.Header.Get(nats.MsgIdHdr))

	p.Close()
	require.True(t, fc.closed)
}

func TestSubject(t *testing.T) {
	t.Parallel()

	require.Equal(t, "cycle", newWithConn(&fakeConn{}, "").subject("cycle"))
	require.Equal(t, "news", newWithConn(&fakeConn{}, "news").subject(""))
}

func TestPublishErrors(t *testing.T) {
	t.Parallel()

	_, err := newWithConn(&fakeConn{pubErr: nats.ErrConnectionClosed}, "").Publish(context.Background(), "t", 1)
	require.ErrorIs(t, err, nats.ErrConnectionClosed)

	_, err = newWithConn(&fakeConn{flushErr: errors.New("timeout")}, "").Publish(context.Background(), "t", 1)
	require.ErrorContains(t, err, "flush nats")

	_, err = newWithConn(&fakeConn{}, "").Publish(context.Background(), "t", func() {})
	require.ErrorContains(t, err, "marshal payload")
}
