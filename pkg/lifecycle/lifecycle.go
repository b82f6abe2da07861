// Package lifecycle tracks the state of an executor replica.
//
// A replica moves Starting -> Ready -> Draining -> Terminated. It may also
// move Starting -> Failed, when it does not become ready in the startup
// window. Transitions never go back.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

type State int

const (
	Starting State = iota
	Ready
	Draining
	Terminated
	Failed
)

func (s State) String() string {
	switch s {
	case Starting:
		return "starting"
	case Ready:
		return "ready"
	case Draining:
		return "draining"
	case Terminated:
		return "terminated"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

var (
	ErrInvalidTransition = errors.New("lifecycle: invalid transition")
	ErrStartupFailed     = errors.New("lifecycle: startup failed")
)

var transitions = map[State][]State{
	Starting: {Ready, Draining, Failed},
	Ready:    {Draining},
	Draining: {Terminated},
}

// Lifecycle is safe for concurrent use.
type Lifecycle struct {
	mu        sync.Mutex
	state     State
	threshold int
	failures  int
	cause     error
	failed    chan struct{}
	draining  chan struct{}
}

// New creates a Lifecycle in Starting.
//
// startupFailureThreshold is the number of consecutive startup probes which
// may fail before the replica is regarded as Failed. Values below 1 are
// treated as 1.
func New(startupFailureThreshold int) *Lifecycle {
	if startupFailureThreshold < 1 {
		startupFailureThreshold = 1
	}
	return &Lifecycle{
		state:     Starting,
		threshold: startupFailureThreshold,
		failed:    make(chan struct{}),
		draining:  make(chan struct{}),
	}
}

func (l *Lifecycle) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Healthy reports whether the replica accepts new requests.
func (l *Lifecycle) Healthy() bool {
	return l.State() == Ready
}

// Err returns the cause of Failed, or of Draining when it was caused by a failure.
func (l *Lifecycle) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cause
}

// Failed is closed when the replica becomes Failed.
func (l *Lifecycle) Failed() <-chan struct{} {
	return l.failed
}

// Draining is closed when the replica stops accepting new requests.
func (l *Lifecycle) Draining() <-chan struct{} {
	return l.draining
}

func (l *Lifecycle) moveLocked(to State) error {
	for _, s := range transitions[l.state] {
		if s != to {
			continue
		}
		l.state = to
		switch to {
		case Failed:
			close(l.failed)
		case Draining:
			close(l.draining)
		}
		return nil
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, l.state, to)
}

func (l *Lifecycle) MarkReady() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.moveLocked(Ready)
}

// BeginDrain stops admission of new requests.
//
// cause is nil for a shutdown signal, and non-nil for a liveness failure.
func (l *Lifecycle) BeginDrain(cause error) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.moveLocked(Draining); err != nil {
		return err
	}
	l.cause = cause
	return nil
}

func (l *Lifecycle) Terminate() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.moveLocked(Terminated)
}

// Fail moves a Starting replica to Failed.
func (l *Lifecycle) Fail(cause error) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.moveLocked(Failed); err != nil {
		return err
	}
	l.cause = fmt.Errorf("%w: %w", ErrStartupFailed, cause)
	return nil
}

// Probe records a startup probe and returns the state it observed.
//
// While Starting, each probe counts as a failure. When failures reach the
// threshold, the replica becomes Failed. Probes in other states do not count.
func (l *Lifecycle) Probe() State {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state != Starting {
		return l.state
	}

	l.failures += 1
	if l.failures < l.threshold {
		return l.state
	}
	l.moveLocked(Failed)
	l.cause = fmt.Errorf(
		"%w: %d consecutive startup probes failed", ErrStartupFailed, l.failures,
	)
	return l.state
}

// Watchdog fails the replica when it is still Starting after period * threshold.
//
// It returns at the end of the window, or when ctx is done.
func (l *Lifecycle) Watchdog(ctx context.Context, period time.Duration) {
	l.mu.Lock()
	window := period * time.Duration(l.threshold)
	l.mu.Unlock()

	timer := time.NewTimer(window)
	defer timer.Stop()

	select {
	case <-ctx.Done():
	case <-timer.C:
		l.mu.Lock()
		defer l.mu.Unlock()
		if l.state == Starting {
			l.moveLocked(Failed)
			l.cause = fmt.Errorf(
				"%w: not ready in %s", ErrStartupFailed, window,
			)
		}
	}
}
