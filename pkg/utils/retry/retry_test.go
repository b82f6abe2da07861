package retry_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/opst/importexec/pkg/utils/retry"
	"github.com/opst/importexec/pkg/utils/try"
)

func TestBlocking(t *testing.T) {
	t.Run("it calls function until it does not return ErrRetry", func(t *testing.T) {
		count := 0
		got, err := retry.Blocking(
			context.Background(), retry.StaticBackoff(time.Millisecond),
			func() (int, error) {
				count += 1
				if count < 3 {
					return count, retry.ErrRetry
				}
				return count, nil
			},
		)
		if err != nil {
			t.Fatal(err)
		}
		if got != 3 {
			t.Errorf("got %d, want 3", got)
		}
	})

	t.Run("it stops on non-retry error", func(t *testing.T) {
		expected := errors.New("fake")
		_, err := retry.Blocking(
			context.Background(), retry.StaticBackoff(time.Millisecond),
			func() (int, error) { return 0, expected },
		)
		if !errors.Is(err, expected) {
			t.Errorf("got %v, want %v", err, expected)
		}
	})

	t.Run("it stops when context is done", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		_, err := retry.Blocking(
			ctx, retry.StaticBackoff(5*time.Millisecond),
			func() (int, error) { return 0, retry.ErrRetry },
		)
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("got %v", err)
		}
	})

	t.Run("it calls at once, and waits only between retries", func(t *testing.T) {
		begin := time.Now()
		try.To(retry.Blocking(
			context.Background(), retry.StaticBackoff(time.Hour),
			func() (int, error) { return 1, nil },
		)).OrFatal(t)
		if elapsed := time.Since(begin); time.Second < elapsed {
			t.Errorf("the first call waits: %s", elapsed)
		}
	})

	t.Run("the last error is kept when context is done", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		cause := errors.New("connection refused")
		_, err := retry.Blocking(
			ctx, retry.ExponentialBackoff(time.Millisecond, 2, 4*time.Millisecond),
			func() (int, error) { return 0, fmt.Errorf("%w: %w", retry.ErrRetry, cause) },
		)
		if !errors.Is(err, context.DeadlineExceeded) || !errors.Is(err, cause) {
			t.Errorf("got %v", err)
		}
	})
}

func TestExponentialBackoff(t *testing.T) {
	b := retry.ExponentialBackoff(2*time.Millisecond, 2, 5*time.Millisecond)
	want := []time.Duration{2 * time.Millisecond, 4 * time.Millisecond, 5 * time.Millisecond, 5 * time.Millisecond}
	for nth, w := range want {
		begin := time.Now()
		if err := b(context.Background()); err != nil {
			t.Fatal(err)
		}
		if elapsed := time.Since(begin); elapsed < w {
			t.Errorf("#%d: waits %s, want at least %s", nth, elapsed, w)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := b(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("canceled: got %v", err)
	}
}
