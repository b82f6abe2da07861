package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrRetry lets Blocking call the function again.
//
// Wrap it to tell why: fmt.Errorf("%w: %w", retry.ErrRetry, err)
var ErrRetry = errors.New("retry")

// Backoff is a (blocking) function returns when to retry.
//
// If context is canceled, Backoff should return ctx.Err().
type Backoff func(context.Context) error

// StaticBackoff waits for a fixed interval.
func StaticBackoff(interval time.Duration) Backoff {
	return ExponentialBackoff(interval, 1, interval)
}

// ExponentialBackoff waits `initial * r^N` for the N-th retry, up to max.
func ExponentialBackoff(initial time.Duration, r float64, max time.Duration) Backoff {
	interval := initial
	return func(ctx context.Context) error {
		timer := time.NewTimer(interval)
		defer timer.Stop()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
		interval = min(time.Duration(float64(interval)*r), max)
		return nil
	}
}

// Blocking calls f until it returns nil or non-retry error.
//
// The first call is made at once. Retries wait with b.
//
// # Returns
//
// - T: last return value of f
//
// - error: error returned by f. When ctx is done during backoff,
// ctx.Err() which also wraps the last error of f.
func Blocking[T any](ctx context.Context, b Backoff, f func() (T, error)) (T, error) {
	for {
		last, err := f()
		if err == nil || !errors.Is(err, ErrRetry) {
			return last, err
		}
		if berr := b(ctx); berr != nil {
			return last, fmt.Errorf("%w (last: %w)", berr, err)
		}
	}
}
