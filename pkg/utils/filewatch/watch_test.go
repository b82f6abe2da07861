package filewatch_test

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/opst/importexec/pkg/utils/filewatch"
)

func waitOrFatal(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(5 * time.Second):
		t.Fatal("timeout: no modification is detected")
	}
}

func TestUntilModifyContext(t *testing.T) {
	t.Run("when a file is created in a watched directory, it cancels context", func(t *testing.T) {
		dir := t.TempDir()

		ctx, cancel, err := filewatch.UntilModifyContext(context.Background(), dir)
		if err != nil {
			t.Fatal(err)
		}
		defer cancel()

		if err := ctx.Err(); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if err := os.WriteFile(filepath.Join(dir, "file"), []byte("x"), 0644); err != nil {
			t.Fatal(err)
		}

		waitOrFatal(t, ctx.Done())
		if context.Cause(ctx) == nil {
			t.Error("cause is not set")
		}
	})

	t.Run("when a watched file is written, it cancels context", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "config.json")
		if err := os.WriteFile(file, []byte("{}"), 0644); err != nil {
			t.Fatal(err)
		}

		ctx, cancel, err := filewatch.UntilModifyContext(context.Background(), file)
		if err != nil {
			t.Fatal(err)
		}
		defer cancel()

		if err := os.WriteFile(file, []byte(`{"release_year": 2022}`), 0644); err != nil {
			t.Fatal(err)
		}
		waitOrFatal(t, ctx.Done())
	})

	t.Run("when the target does not exist, it returns error", func(t *testing.T) {
		ctx, cancel, err := filewatch.UntilModifyContext(
			context.Background(), filepath.Join(t.TempDir(), "missing"),
		)
		if err == nil {
			cancel()
			t.Fatal("expected error, but got nil")
		}
		if ctx != nil {
			t.Error("context should be nil on error")
		}
	})
}

func TestOnModify(t *testing.T) {
	t.Run("it calls handler for each modification until context is done", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "config.json")
		if err := os.WriteFile(file, []byte("{}"), 0644); err != nil {
			t.Fatal(err)
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		var count atomic.Int32
		called := make(chan struct{}, 16)
		if err := filewatch.OnModify(ctx, func(fsnotify.Event) {
			count.Add(1)
			called <- struct{}{}
		}, file); err != nil {
			t.Fatal(err)
		}

		if err := os.WriteFile(file, []byte("[]"), 0644); err != nil {
			t.Fatal(err)
		}
		waitOrFatal(t, called)

		if count.Load() < 1 {
			t.Error("handler is not called")
		}
	})
}
