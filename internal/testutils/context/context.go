package context

import (
	"context"
	"testing"
	"time"
)

// margin left before the deadline of tests, to clean up jobs and servers.
const margin = time.Second

// For returns a context which ends a second before the test's deadline,
// or when the test finishes.
func For(t *testing.T) context.Context {
	t.Helper()
	ctx := context.Background()
	if deadline, ok := t.Deadline(); ok {
		dctx, cancel := context.WithDeadline(ctx, deadline.Add(-margin))
		t.Cleanup(cancel)
		return dctx
	}
	ctx, cancel := context.WithCancel(ctx)
	t.Cleanup(cancel)
	return ctx
}

// Within is For bounded by d as well.
//
// Use it where a test waits on a job or a server which may hang.
func Within(t *testing.T, d time.Duration) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(For(t), d)
	t.Cleanup(cancel)
	return ctx
}
