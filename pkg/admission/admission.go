// Package admission bounds jobs running on a replica by memory and by count.
package admission

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/semaphore"
	"k8s.io/apimachinery/pkg/api/resource"
)

var (
	ErrInvalidLimit = errors.New("admission: invalid limit")

	// ErrTooLarge is returned when a reservation cannot fit in the ceiling at all.
	ErrTooLarge = errors.New("admission: reservation exceeds ceiling")
)

// Controller reserves memory out of a fixed ceiling.
type Controller struct {
	ceiling int64
	perJob  int64
	maxJobs int
	memory  *semaphore.Weighted
	slots   *semaphore.Weighted
}

// New creates a Controller.
//
// ceiling is the memory of the replica. perJob is the memory reserved for
// each job. maxJobs caps the number of jobs at once; 0 means the cap is
// given only by ceiling / perJob.
func New(ceiling, perJob resource.Quantity, maxJobs int) (*Controller, error) {
	c := ceiling.Value()
	p := perJob.Value()
	if c <= 0 || p <= 0 {
		return nil, fmt.Errorf(
			"%w: ceiling (%s) and per-job reservation (%s) should be positive",
			ErrInvalidLimit, ceiling.String(), perJob.String(),
		)
	}
	if c < p {
		return nil, fmt.Errorf(
			"%w: per-job reservation %s > ceiling %s",
			ErrTooLarge, perJob.String(), ceiling.String(),
		)
	}
	if maxJobs < 0 {
		return nil, fmt.Errorf("%w: max jobs should not be negative: %d", ErrInvalidLimit, maxJobs)
	}

	byMemory := c / p
	if maxJobs == 0 || int64(maxJobs) > byMemory {
		maxJobs = int(byMemory)
	}

	return &Controller{
		ceiling: c,
		perJob:  p,
		maxJobs: maxJobs,
		memory:  semaphore.NewWeighted(c),
		slots:   semaphore.NewWeighted(int64(maxJobs)),
	}, nil
}

// Capacity returns the number of jobs which can run at once.
func (c *Controller) Capacity() int {
	return c.maxJobs
}

// Ticket is a reservation. Release it exactly once.
type Ticket struct {
	release func()
}

func (t Ticket) Release() {
	t.release()
}

// Acquire blocks until a job slot and its memory are available, or ctx is done.
func (c *Controller) Acquire(ctx context.Context) (Ticket, error) {
	if err := c.slots.Acquire(ctx, 1); err != nil {
		return Ticket{}, err
	}
	if err := c.memory.Acquire(ctx, c.perJob); err != nil {
		c.slots.Release(1)
		return Ticket{}, err
	}
	return Ticket{release: func() {
		c.memory.Release(c.perJob)
		c.slots.Release(1)
	}}, nil
}

// TryAcquire is Acquire without waiting. ok is false when nothing is reserved.
func (c *Controller) TryAcquire() (t Ticket, ok bool) {
	if !c.slots.TryAcquire(1) {
		return Ticket{}, false
	}
	if !c.memory.TryAcquire(c.perJob) {
		c.slots.Release(1)
		return Ticket{}, false
	}
	return Ticket{release: func() {
		c.memory.Release(c.perJob)
		c.slots.Release(1)
	}}, true
}
