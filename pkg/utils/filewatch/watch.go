package filewatch

import (
	"context"
	"fmt"

	"github.com/fsnotify/fsnotify"
)

// UntilModifyContext returns a context that is canceled
// when one of target files is modified (= written, created, removed, or renamed).
//
// # Args
//
// - ctx: context.Context
//
// - targetFilePath ...string: file pathes to be watched.
//
// # Returns
//
// - context.Context: context that is canceled when one of target files is modified.
// Its cause tells which file is updated.
//
// - func(): cancel function.
//
// - error: error caused when it fails to start watching files.
// If error is not nil, both of the the context and the cancel function are nil.
func UntilModifyContext(ctx context.Context, targetFilePath ...string) (context.Context, func(), error) {
	cctx, cancel := context.WithCancelCause(ctx)

	err := OnModify(cctx, func(event fsnotify.Event) {
		cancel(fmt.Errorf("%s is updated (%s)", event.Name, event.Op.String()))
	}, targetFilePath...)
	if err != nil {
		cancel(err)
		return nil, nil, err
	}

	return cctx, func() { cancel(nil) }, nil
}

// OnModify calls handler for each modification of target files
// until ctx is done.
//
// handler is called from a single goroutine, one event after another.
//
// # Returns
//
// - error: error caused when it fails to start watching files.
func OnModify(ctx context.Context, handler func(fsnotify.Event), targetFilePath ...string) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	for _, f := range targetFilePath {
		if err := w.Add(f); err != nil {
			w.Close()
			return err
		}
	}

	go func() {
		defer w.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-w.Events:
				if !ok {
					return
				}
				if event.Op == fsnotify.Chmod {
					continue
				}
				handler(event)
			case _, ok := <-w.Errors:
				if !ok {
					return
				}
			}
		}
	}()

	return nil
}
