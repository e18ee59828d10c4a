package retry

import (
	"context"
	"errors"
	"time"
)

// ErrRetry marks errors to be retried. Wrap it with the cause.
var ErrRetry = errors.New("retry")

// Backoff is a (blocking) function returns when to retry.
//
// # Args
//
// - context: context. If context is canceled, Backoff should return ctx.Err().
//
// # Returns
//
// - error: nil if retry, non-nil if not.
type Backoff func(context.Context) error

// StaticBackoff returns a Backoff function that waits for a fixed interval.
func StaticBackoff(interval time.Duration) Backoff {
	return ExponentialBackoff(interval, 1, 0)
}

// ExponentialBackoff returns a Backoff function that waits with exponential backoff.
//
// # Args
//
// - initialInterval: initial interval.
//
// - r: multiplier of interval.
//
// - max: upper bound of interval. 0 means unbounded.
//
// # Returns
//
// Backoff function.
// For N-th call, it waits for `min(initialInterval * r^N, max)` or context to be done.
func ExponentialBackoff(initialInterval time.Duration, r float64, max time.Duration) Backoff {
	interval := initialInterval
	return func(ctx context.Context) error {
		timer := time.NewTimer(interval)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			interval = time.Duration(float64(interval) * r)
			if 0 < max && max < interval {
				interval = max
			}
			return nil
		}
	}
}

// Limited stops b after n retries.
func Limited(n int, b Backoff) Backoff {
	count := 0
	return func(ctx context.Context) error {
		if n <= count {
			return ErrExhausted
		}
		count += 1
		return b(ctx)
	}
}

// ErrExhausted is returned from Backoff made by Limited when retries are exhausted.
var ErrExhausted = errors.New("retry: exhausted")

// Blocking calls f until it returns nil or non-retry error.
//
// # Args
//
// - ctx: context
//
// - b: backoff function. It is called before each retry, not before the first try.
//
// - f: function to be called. If f returns ErrRetry, Blocking calls f again after backoff.
//
// # Returns
//
// - T: last return value of f
//
// - error: error returned by f, or error from b joined with the last error of f.
func Blocking[T any](ctx context.Context, b Backoff, f func() (T, error)) (T, error) {
	for {
		last, err := f()
		if err == nil {
			return last, nil
		}
		if !errors.Is(err, ErrRetry) {
			return last, err
		}
		if berr := b(ctx); berr != nil {
			return last, errors.Join(berr, err)
		}
	}
}
