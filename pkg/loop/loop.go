// Package loop repeats a task, sleeping between rounds.
//
// The executor uses it for its background chores: checking dataset configs
// for drift, and any other periodic work which should stop with the replica.
package loop

import (
	"context"
	"time"
)

// Next tells Start what to do after a round.
type Next struct {
	err      error
	quit     bool
	interval time.Duration
}

// Continue starts the next round after interval.
//
// A wake-up (see WithWake) starts it earlier.
func Continue(interval time.Duration) Next {
	return Next{interval: interval}
}

// Break ends the loop. Start returns err.
func Break(err error) Next {
	return Next{quit: true, err: err}
}

// Task is a round of the loop.
//
// It receives the value returned by the last round (or init, at first),
// and returns the new value and what to do next.
type Task[T any] func(context.Context, T) (T, Next)

// Start runs task repeatedly until it breaks or ctx is done.
//
// The zero value of Next is Continue(0).
//
// Start returns the value of the last round, together with the error passed to
// Break or ctx.Err(). It is nil when the loop breaks with Break(nil).
//
// Example: checks dataset configs every 5 minutes, counting failed rounds.
//
//	loop.Start(ctx, 0, func(ctx context.Context, failures int) (int, loop.Next) {
//		if 0 < watcher.CheckAll(ctx) {
//			failures += 1
//		}
//		return failures, loop.Continue(5 * time.Minute)
//	})
func Start[T any](ctx context.Context, init T, task Task[T], options ...Option) (T, error) {
	conf := &config{}
	for _, opt := range options {
		conf = opt(conf)
	}

	if err := ctx.Err(); err != nil {
		return init, err
	}

	value := init
	for {
		v, n := round(ctx, conf.timeout, task, value)
		if n.err != nil {
			return v, n.err
		}
		if n.quit {
			return v, nil
		}
		value = v

		if err := conf.sleep(ctx, n.interval); err != nil {
			return value, err
		}
	}
}

type config struct {
	timeout time.Duration
	wake    <-chan struct{}
}

func round[T any](ctx context.Context, timeout time.Duration, task Task[T], value T) (T, Next) {
	if timeout <= 0 {
		return task(ctx, value)
	}
	rctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return task(rctx, value)
}

// sleep waits for d, a wake-up or ctx, whichever comes first.
//
// It returns ctx.Err() when ctx is done.
func (c *config) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		// shutting down is priority.
		return ctx.Err()
	case <-timer.C:
	case <-c.wake:
	}
	return ctx.Err()
}

type Option func(*config) *config

// WithTimeout bounds each round by d.
//
// The timeout is set on the context passed to the task.
func WithTimeout(d time.Duration) Option {
	return func(c *config) *config {
		c.timeout = d
		return c
	}
}

// WithWake makes a receive from wake cut the interval short.
//
// Send to wake without blocking, with a buffered channel of size 1, to
// coalesce wake-ups coming while a round is running.
func WithWake(wake <-chan struct{}) Option {
	return func(c *config) *config {
		c.wake = wake
		return c
	}
}
