package service

import (
	"context"
	"time"

	"github.com/Rican7/retry"
	"github.com/Rican7/retry/backoff"
	"github.com/Rican7/retry/strategy"
)

// RetryPolicy is an exponential backoff policy for one endpoint
type RetryPolicy struct {
	Attempts  uint
	BaseDelay time.Duration
	Factor    float64
}

// DefaultRetryPolicy returns the policy used when an endpoint sets none
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Attempts:  4,
		BaseDelay: 100 * time.Millisecond,
		Factor:    2,
	}
}

// Do runs op until it succeeds, fails with a non-transient error, ctx ends or
// the attempts run out. It returns the number of calls made and the last error.
func (p RetryPolicy) Do(ctx context.Context, op func(ctx context.Context) error, transient func(error) bool) (uint, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	attempts := p.Attempts
	if attempts == 0 {
		attempts = 1
	}

	var calls uint
	var lastErr error
	err := retry.Retry(
		func(uint) error {
			calls++
			lastErr = op(ctx)
			return lastErr
		},
		func(uint) bool { return calls < attempts },
		func(uint) bool { return ctx.Err() == nil },
		func(uint) bool { return calls == 0 || (transient != nil && transient(lastErr)) },
		backoffWithContext(ctx, backoff.Exponential(p.BaseDelay, p.Factor)),
	)

	return calls, err
}

// backoffWithContext is strategy.Backoff with a sleep that ends when ctx does
func backoffWithContext(ctx context.Context, algorithm backoff.Algorithm) strategy.Strategy {
	return func(attempt uint) bool {
		if attempt == 0 {
			return true
		}

		timer := time.NewTimer(algorithm(attempt))
		defer timer.Stop()

		select {
		case <-ctx.Done():
			return false
		case <-timer.C:
			return true
		}
	}
}
