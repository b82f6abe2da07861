// Package jobs queues import jobs and runs them on a bounded worker pool.
package jobs

import (
	"context"
	"errors"
	"time"
)

type Status string

const (
	Queued    Status = "queued"
	Running   Status = "running"
	Succeeded Status = "succeeded"
	Failed    Status = "failed"
	Canceled  Status = "canceled"
)

// Done reports whether the status is final.
func (s Status) Done() bool {
	switch s {
	case Succeeded, Failed, Canceled:
		return true
	default:
		return false
	}
}

var (
	ErrNotFound   = errors.New("jobs: not found")
	ErrConflict   = errors.New("jobs: conflict")
	ErrQueueFull  = errors.New("jobs: queue is full")
	ErrClosed     = errors.New("jobs: dispatcher is closed")
	ErrJobTimeout = errors.New("jobs: job exceeds its deadline")
)

// Failure is a failed parameter of a job.
type Failure struct {
	Stage    string
	FileName string
	GeoLevel string
	Message  string
}

type Job struct {
	Id      string
	Dataset string
	Status  Status

	// Error is the message of the cause when the job has failed or is canceled.
	Error string

	Failures  []Failure
	Artifacts []string

	CreatedAt  time.Time
	StartedAt  *time.Time
	FinishedAt *time.Time
}

// Store keeps jobs.
type Store interface {
	// Insert a new job.
	//
	// # Returns
	//
	// - error: ErrConflict if a job with same id exists.
	Insert(ctx context.Context, job Job) error

	// Update replaces a job.
	//
	// # Returns
	//
	// - error: ErrNotFound if no job has the id.
	Update(ctx context.Context, job Job) error

	// Get a job by id.
	//
	// # Returns
	//
	// - error: ErrNotFound if no job has the id.
	Get(ctx context.Context, id string) (Job, error)

	// List jobs, newest first.
	//
	// # Args
	//
	// - dataset: filter by dataset name. Empty means all.
	//
	// - limit: max number of jobs. Non-positive means no limit.
	List(ctx context.Context, dataset string, limit int) ([]Job, error)
}
