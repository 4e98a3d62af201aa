// Package ratelimit throttles article page downloads per host.
package ratelimit

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/news-refresher/internal/metrics"
)

// Config holds rate limiter configuration.
type Config struct {
	// RatePerHost is the steady-state allowance in requests per second.
	// Values <= 0 disable throttling.
	RatePerHost float64
	Burst       int
}

// Limiter hands out one token bucket per host.
type Limiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

// New creates a new Limiter.
func New(cfg Config) *Limiter {
	limit := rate.Limit(cfg.RatePerHost)
	if cfg.RatePerHost <= 0 {
		limit = rate.Inf
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{
		limiters: make(map[string]*rate.Limiter),
		limit:    limit,
		burst:    burst,
	}
}

// Wait blocks until rawURL's host may be contacted again or ctx ends.
func (l *Limiter) Wait(ctx context.Context, rawURL string) error {
	host := hostOf(rawURL)
	bucket := l.bucket(host)

	start := time.Now()
	if err := bucket.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait for %s: %w", host, err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObserveRateLimitDelay(host, waited)
	}
	return nil
}

// Hosts returns the number of hosts seen so far.
func (l *Limiter) Hosts() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}

func (l *Limiter) bucket(host string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.limiters[host]
	if !ok {
		b = rate.NewLimiter(l.limit, l.burst)
		l.limiters[host] = b
	}
	return b
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}
