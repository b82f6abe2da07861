package configsync

import (
	"context"
	"maps"
	"math"
	"path/filepath"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/labstack/gommon/log"
	"github.com/opst/importexec/pkg/loop"
	"github.com/opst/importexec/pkg/utils/filewatch"
)

// Status is the last result of checking a Source.
type Status struct {
	Report    Report
	Err       error
	CheckedAt time.Time
}

// Watcher checks drift of Sources periodically, and on each modification of local files.
//
// Drift found by Watcher is logged. It does not stop imports by itself;
// imports check their Source again before running.
type Watcher struct {
	logger  *log.Logger
	sources map[string]Source

	mu   sync.RWMutex
	last map[string]Status
}

func NewWatcher(logger *log.Logger, sources map[string]Source) *Watcher {
	return &Watcher{
		logger:  logger,
		sources: sources,
		last:    map[string]Status{},
	}
}

// Check checks a Source named name and records its Status.
func (w *Watcher) Check(ctx context.Context, name string) (Status, bool) {
	src, ok := w.sources[name]
	if !ok {
		return Status{}, false
	}

	_, rep, err := src.Load(ctx)
	st := Status{Report: rep, Err: err, CheckedAt: time.Now()}
	if err != nil {
		w.logger.Warnf("dataset %s: config check failed: %s", name, err)
	} else {
		w.logger.Debugf("dataset %s: config is in sync: %s", name, rep.Local)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.last[name] = st
	return st, true
}

// CheckAll checks all Sources, in order of their names.
//
// It returns the number of Sources failed.
func (w *Watcher) CheckAll(ctx context.Context) int {
	names := make([]string, 0, len(w.sources))
	for n := range w.sources {
		names = append(names, n)
	}
	sort.Strings(names)

	failed := 0
	for _, n := range names {
		if st, _ := w.Check(ctx, n); st.Err != nil {
			failed += 1
		}
	}
	return failed
}

// Status returns the last Status of a Source.
func (w *Watcher) Status(name string) (Status, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	st, ok := w.last[name]
	return st, ok
}

// Run checks all Sources every interval until ctx is done.
// When interval is not positive, there are no periodic checks.
//
// Also, a modification of a local file triggers the check of its Source.
// Checks run one at a time; modifications coming during a check are
// coalesced into the next one.
func (w *Watcher) Run(ctx context.Context, interval time.Duration) error {
	byPath := map[string][]string{}
	paths := []string{}
	for name, src := range w.sources {
		p := filepath.Clean(src.LocalPath)
		if _, ok := byPath[p]; !ok {
			paths = append(paths, p)
		}
		byPath[p] = append(byPath[p], name)
	}

	periodic := 0 < interval
	wake := make(chan struct{}, 1)
	var pmu sync.Mutex
	pending := map[string]struct{}{}

	if 0 < len(paths) {
		if err := filewatch.OnModify(ctx, func(ev fsnotify.Event) {
			names := byPath[filepath.Clean(ev.Name)]
			if len(names) == 0 {
				return
			}
			w.logger.Infof("%s is modified (%s). checking %v again.", ev.Name, ev.Op, names)
			pmu.Lock()
			for _, n := range names {
				pending[n] = struct{}{}
			}
			pmu.Unlock()
			select {
			case wake <- struct{}{}:
			default:
			}
		}, paths...); err != nil {
			return err
		}
	}

	_, err := loop.Start(ctx, time.Time{}, func(ctx context.Context, lastFull time.Time) (time.Time, loop.Next) {
		pmu.Lock()
		names := slices.Sorted(maps.Keys(pending))
		clear(pending)
		pmu.Unlock()

		if periodic && interval <= time.Since(lastFull) {
			if failed := w.CheckAll(ctx); 0 < failed {
				w.logger.Warnf("%d of %d dataset configs are not ready for import", failed, len(w.sources))
			}
			lastFull = time.Now()
		} else {
			for _, n := range names {
				w.Check(ctx, n)
			}
		}
		if !periodic {
			return lastFull, loop.Continue(math.MaxInt64)
		}
		return lastFull, loop.Continue(interval - time.Since(lastFull))
	}, loop.WithWake(wake), loop.WithTimeout(interval))
	return err
}
