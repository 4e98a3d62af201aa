// Package retry runs operations under a bounded attempt/backoff policy.
package retry

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math"
	"math/big"
	"time"
)

// ErrAttemptTimeout is reported when a single attempt outlives Policy.AttemptTimeout.
var ErrAttemptTimeout = errors.New("attempt timed out")

// Policy describes how an operation is retried.
type Policy struct {
	// MaxAttempts is the total number of tries, including the first.
	MaxAttempts int
	// Backoff returns the wait before the next attempt. attempt starts at 1.
	Backoff func(attempt int) time.Duration
	// Retryable decides whether an error is worth another try. Nil retries
	// everything except caller cancellation.
	Retryable func(err error) bool
	// AttemptTimeout bounds each attempt when > 0. The operation is raced
	// against a timer, so an operation that ignores its context still returns.
	AttemptTimeout time.Duration
	// OnRetry is invoked before sleeping for the next attempt.
	OnRetry func(attempt int, err error)
	// Sleep waits for d or until ctx is done. Defaults to a timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Do runs op until it succeeds, the policy is exhausted, or ctx is done.
func Do(ctx context.Context, p Policy, op func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = Sleep
	}
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = p.run(ctx, op)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return fmt.Errorf("attempt %d: %w", attempt, err)
		}
		if attempt == attempts || !p.retryable(err) {
			break
		}
		if p.OnRetry != nil {
			p.OnRetry(attempt, err)
		}
		if p.Backoff != nil {
			if serr := sleep(ctx, p.Backoff(attempt)); serr != nil {
				return fmt.Errorf("retry wait: %w", serr)
			}
		}
	}
	return err
}

func (p Policy) run(ctx context.Context, op func(ctx context.Context) error) error {
	if p.AttemptTimeout <= 0 {
		return op(ctx)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, p.AttemptTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- op(attemptCtx)
	}()

	timer := time.NewTimer(p.AttemptTimeout)
	defer timer.Stop()

	select {
	case err := <-done:
		return err
	case <-timer.C:
		return fmt.Errorf("%w after %s", ErrAttemptTimeout, p.AttemptTimeout)
	case <-ctx.Done():
		return fmt.Errorf("attempt canceled: %w", ctx.Err())
	}
}

func (p Policy) retryable(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	if p.Retryable == nil {
		return true
	}
	return p.Retryable(err)
}

// Constant returns a backoff that always waits d.
func Constant(d time.Duration) func(int) time.Duration {
	return func(int) time.Duration { return d }
}

// Exponential returns a jittered exponential backoff capped at maxDelay.
func Exponential(base, maxDelay time.Duration) func(int) time.Duration {
	return func(attempt int) time.Duration {
		delay := float64(base) * math.Pow(2, float64(attempt-1))
		if delay > float64(maxDelay) {
			delay = float64(maxDelay)
		}
		return time.Duration(delay/2) + jitter(time.Duration(delay)/2)
	}
}

func jitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(limit)))
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}

// Sleep waits for d, returning early with an error if ctx finishes first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("sleep interrupted: %w", ctx.Err())
	case <-t.C:
		return nil
	}
}
