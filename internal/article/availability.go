package article

import (
	"context"
	"fmt"
	"time"
)

// WaitAvailable polls p until Ping succeeds or timeout elapses. It returns an
// error wrapping ErrDatastoreUnavailable when the datastore never answers.
func WaitAvailable(ctx context.Context, p Pinger, timeout, interval time.Duration) error {
	if p == nil {
		return fmt.Errorf("no datastore configured: %w", ErrDatastoreUnavailable)
	}
	if interval <= 0 {
		interval = time.Second
	}
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var lastErr error
	for {
		if lastErr = ping(waitCtx, p, interval); lastErr == nil {
			return nil
		}
		select {
		case <-waitCtx.Done():
			return fmt.Errorf("waited %s: %w (last error: %v)", timeout, ErrDatastoreUnavailable, lastErr)
		case <-ticker.C:
		}
	}
}

// Available reports whether a single bounded ping succeeds.
func Available(ctx context.Context, p Pinger, timeout time.Duration) bool {
	if p == nil {
		return false
	}
	return ping(ctx, p, timeout) == nil
}

func ping(ctx context.Context, p Pinger, timeout time.Duration) error {
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := p.Ping(pingCtx); err != nil {
		return fmt.Errorf("ping datastore: %w", err)
	}
	return nil
}
