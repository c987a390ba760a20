package llm

import (
	"context"
	"time"

	"github.com/avast/retry-go/v4"
)

// RetryPolicy is shared by every generation call.
type RetryPolicy struct {
	// MaxAttempts counts the first call.
	MaxAttempts int

	// BaseDelay is the wait after the first failure; it doubles each retry.
	BaseDelay time.Duration

	// MaxDelay caps a single wait.
	MaxDelay time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   2 * time.Second,
		MaxDelay:    8 * time.Second,
	}
}

func (p RetryPolicy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// Backoff returns the wait that follows the given failed attempt (1-based).
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := p.BaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// Do runs fn until it succeeds, returns a non-retryable error, or the
// attempts run out. It returns the number of attempts made and the last error.
func (p RetryPolicy) Do(ctx context.Context, fn func(attempt int) error, onRetry func(attempt int, err error, wait time.Duration)) (int, error) {
	attempts := 0
	maxAttempts := p.attempts()

	err := retry.Do(
		func() error {
			attempts++
			return fn(attempts)
		},
		retry.Context(ctx),
		retry.Attempts(uint(maxAttempts)),
		retry.Delay(p.BaseDelay),
		retry.MaxDelay(p.MaxDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.RetryIf(IsRetryable),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			next := int(n) + 1
			if onRetry != nil && next < maxAttempts {
				onRetry(next, err, p.Backoff(next))
			}
		}),
	)

	return attempts, err
}
