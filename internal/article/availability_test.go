package article

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type flakyPinger struct {
	failures int32
	calls    atomic.Int32
}

func (p *flakyPinger) Ping(context.Context) error {
	if p.calls.Add(1) <= p.failures {
		return errors.New("connection refused")
	}
	return nil
}

func TestWaitAvailable_SucceedsAfterRetries(t *testing.T) {
	t.Parallel()

	p := &flakyPinger{failures: 2}
	err := WaitAvailable(context.Background(), p, time.Second, 5*time.Millisecond)
	require.NoError(t, err)
	require.EqualValues(t, 3, p.calls.Load())
}

func TestWaitAvailable_TimesOut(t *testing.T) {
	t.Parallel()

	p := &flakyPinger{failures: 1 << 20}
	err := WaitAvailable(context.Background(), p, 30*time.Millisecond, 5*time.Millisecond)
	require.ErrorIs(t, err, ErrDatastoreUnavailable)
	require.Contains(t, err.Error(), "connection refused")
}

func TestWaitAvailable_NilPinger(t *testing.T) {
	t.Parallel()

	err := WaitAvailable(context.Background(), nil, time.Second, time.Millisecond)
	require.ErrorIs(t, err, ErrDatastoreUnavailable)
}

func TestAvailable(t *testing.T) {
	t.Parallel()

	require.True(t, Available(context.Background(), &flakyPinger{}, time.Second))
	require.False(t, Available(context.Background(), &flakyPinger{failures: 1}, time.Second))
	require.False(t, Available(context.Background(), nil, time.Second))
}
