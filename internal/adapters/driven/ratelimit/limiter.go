// Package ratelimit paces calls to embedding and chat providers.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/custodia-labs/planaudit/internal/core/ports/driven"
)

// Ensure Limiter implements the interface.
var _ driven.Throttle = (*Limiter)(nil)

// DefaultBackoff is the pause applied when a provider sends no retry-after value.
const DefaultBackoff = 10 * time.Second

// Config holds rate limiting configuration for one provider.
type Config struct {
	// RequestsPerSecond is the sustained rate limit. Zero or less disables pacing.
	RequestsPerSecond float64
	// Burst is the maximum burst size.
	Burst int
}

// Limiter is a token bucket shared by every call to one provider,
// with a backoff window opened by Backoff after a 429 response.
type Limiter struct {
	mu      sync.Mutex
	limiter *rate.Limiter
	retryAt time.Time
	now     func() time.Time
}

// New creates a limiter for the given configuration.
func New(cfg Config) *Limiter {
	limit := rate.Limit(cfg.RequestsPerSecond)
	if cfg.RequestsPerSecond <= 0 {
		limit = rate.Inf
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	return &Limiter{
		limiter: rate.NewLimiter(limit, burst),
		now:     time.Now,
	}
}

// Wait blocks until a request can be made without exceeding the rate limit.
// It also respects any backoff window opened by Backoff.
func (l *Limiter) Wait(ctx context.Context) error {
	l.mu.Lock()
	retryAt := l.retryAt
	l.mu.Unlock()

	if wait := retryAt.Sub(l.now()); wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}

	return l.limiter.Wait(ctx)
}

// Backoff pauses all callers for retryAfterSeconds, or DefaultBackoff when
// the provider gave no value. A shorter window never replaces a longer one.
func (l *Limiter) Backoff(retryAfterSeconds int) {
	d := DefaultBackoff
	if retryAfterSeconds > 0 {
		d = time.Duration(retryAfterSeconds) * time.Second
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if until := l.now().Add(d); until.After(l.retryAt) {
		l.retryAt = until
	}
}

// Allow reports whether a request can be made immediately, consuming a token if so.
func (l *Limiter) Allow() bool {
	l.mu.Lock()
	retryAt := l.retryAt
	l.mu.Unlock()

	if l.now().Before(retryAt) {
		return false
	}
	return l.limiter.Allow()
}
