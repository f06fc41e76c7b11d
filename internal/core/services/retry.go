package services

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"github.com/custodia-labs/planaudit/internal/core/domain"
	"github.com/custodia-labs/planaudit/internal/logger"
)

// RetryPolicy retries transient provider failures with capped exponential backoff.
// One policy is shared by the cached embedder and the delegated model judge.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration

	// Jitter spreads each delay by up to this fraction in either direction.
	Jitter float64

	// sleep waits for d or until ctx is done. Tests replace it.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewRetryPolicy creates a retry policy from settings.
func NewRetryPolicy(s domain.RetrySettings) *RetryPolicy {
	p := &RetryPolicy{
		MaxAttempts: s.MaxAttempts,
		BaseDelay:   s.BaseDelay,
		MaxDelay:    s.MaxDelay,
		Jitter:      s.Jitter,
	}
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	return p
}

// Do runs op until it succeeds, fails permanently, or attempts run out.
// It returns the number of attempts made along with op's last error.
func (p *RetryPolicy) Do(ctx context.Context, name string, op func(ctx context.Context) error) (int, error) {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return attempt, ctxErr
		}

		err = op(ctx)
		if err == nil {
			return attempt + 1, nil
		}
		if !Retryable(err) || attempt == attempts-1 {
			return attempt + 1, err
		}

		delay := p.delay(attempt, err)
		logger.Debug("%s failed (attempt %d/%d), retrying in %s: %v", name, attempt+1, attempts, delay, err)
		if sleepErr := p.wait(ctx, delay); sleepErr != nil {
			return attempt + 1, sleepErr
		}
	}
	return attempts, err
}

// Retryable reports whether err is a transient provider failure worth another attempt.
// Authentication failures and cancellation are permanent.
func Retryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return false
	case errors.Is(err, domain.ErrProviderAuth), errors.Is(err, domain.ErrProviderUnavailable):
		return false
	case errors.Is(err, domain.ErrProviderTransient),
		errors.Is(err, domain.ErrRateLimited),
		errors.Is(err, domain.ErrMalformedResponse):
		return true
	default:
		return false
	}
}

// delay returns the pause before the attempt after attempt (zero-based).
// A provider retry-after hint overrides the backoff when it is longer.
func (p *RetryPolicy) delay(attempt int, err error) time.Duration {
	d := p.BaseDelay << attempt
	if d <= 0 || (p.MaxDelay > 0 && d > p.MaxDelay) {
		d = p.MaxDelay
	}

	if p.Jitter > 0 && d > 0 {
		spread := (rand.Float64()*2 - 1) * p.Jitter
		d = time.Duration(float64(d) * (1 + spread))
	}

	var hint *domain.RetryHint
	if errors.As(err, &hint) && hint.After > d {
		d = hint.After
	}
	return d
}

func (p *RetryPolicy) wait(ctx context.Context, d time.Duration) error {
	if p.sleep != nil {
		return p.sleep(ctx, d)
	}
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
