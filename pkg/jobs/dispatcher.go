package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/gommon/log"
	"github.com/opst/importexec/pkg/admission"
	"github.com/opst/importexec/pkg/importer"
)

// Task runs an import for a job.
//
// ctx is canceled at the deadline of the job, or when the dispatcher is
// forced to stop.
type Task func(ctx context.Context, job Job) (importer.Result, error)

type Dispatcher struct {
	store   Store
	task    Task
	admit   *admission.Controller
	timeout time.Duration
	logger  *log.Logger
	now     func() time.Time

	queue chan Job

	// context of running jobs. canceled at the end of draining.
	runCtx    context.Context
	cancelRun context.CancelFunc

	mu       sync.Mutex
	draining bool
	waiters  map[string]chan struct{}
	workers  sync.WaitGroup
}

type option struct {
	queueSize int
	timeout   time.Duration
	logger    *log.Logger
	now       func() time.Time
}

type Option func(*option) *option

// WithQueueSize sets the number of jobs which can wait. Default: 16.
func WithQueueSize(n int) Option {
	return func(o *option) *option {
		if 0 < n {
			o.queueSize = n
		}
		return o
	}
}

// WithTimeout sets the deadline of each job. Default: 30 minutes.
func WithTimeout(d time.Duration) Option {
	return func(o *option) *option {
		o.timeout = d
		return o
	}
}

func WithLogger(l *log.Logger) Option {
	return func(o *option) *option {
		o.logger = l
		return o
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *option) *option {
		o.now = now
		return o
	}
}

// Start a Dispatcher with workers as many as admit.Capacity().
func Start(store Store, task Task, admit *admission.Controller, options ...Option) *Dispatcher {
	opt := &option{
		queueSize: 16,
		timeout:   30 * time.Minute,
		now:       time.Now,
	}
	for _, o := range options {
		opt = o(opt)
	}
	if opt.logger == nil {
		opt.logger = log.New("jobs")
	}

	runCtx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		store:     store,
		task:      task,
		admit:     admit,
		timeout:   opt.timeout,
		logger:    opt.logger,
		now:       opt.now,
		queue:     make(chan Job, opt.queueSize),
		runCtx:    runCtx,
		cancelRun: cancel,
		waiters:   map[string]chan struct{}{},
	}

	for range admit.Capacity() {
		d.workers.Add(1)
		go d.work()
	}
	return d
}

// Submit enqueues a job for the dataset.
//
// # Returns
//
// - Job: the queued job.
//
// - error: ErrClosed when draining, ErrQueueFull when the queue has no room.
// Other errors are from Store.
func (d *Dispatcher) Submit(ctx context.Context, dataset string) (Job, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.draining {
		return Job{}, ErrClosed
	}
	if len(d.queue) == cap(d.queue) {
		return Job{}, fmt.Errorf("%w: %d jobs are waiting", ErrQueueFull, len(d.queue))
	}

	job := Job{
		Id:        uuid.NewString(),
		Dataset:   dataset,
		Status:    Queued,
		CreatedAt: d.now(),
	}
	if err := d.store.Insert(ctx, job); err != nil {
		return Job{}, err
	}
	d.waiters[job.Id] = make(chan struct{})

	// it does not block: queue has room and it is sent only under d.mu.
	d.queue <- job
	d.logger.Infof("job %s (%s) is queued", job.Id, job.Dataset)
	return job, nil
}

func (d *Dispatcher) Get(ctx context.Context, id string) (Job, error) {
	return d.store.Get(ctx, id)
}

func (d *Dispatcher) List(ctx context.Context, dataset string, limit int) ([]Job, error) {
	return d.store.List(ctx, dataset, limit)
}

// Wait blocks until the job is done or ctx is done, and returns the job at that time.
func (d *Dispatcher) Wait(ctx context.Context, id string) (Job, error) {
	d.mu.Lock()
	done, ok := d.waiters[id]
	d.mu.Unlock()

	if ok {
		select {
		case <-done:
		case <-ctx.Done():
		}
	}
	return d.store.Get(context.WithoutCancel(ctx), id)
}

// Drain stops accepting new jobs.
//
// Running jobs continue until ctx is done; after that they are canceled.
// Jobs not started yet are canceled. Drain returns when all workers have stopped.
//
// # Returns
//
// - error: ctx.Err() if running jobs are canceled, or ErrClosed if Drain has been called.
func (d *Dispatcher) Drain(ctx context.Context) error {
	d.mu.Lock()
	if d.draining {
		d.mu.Unlock()
		return ErrClosed
	}
	d.draining = true
	close(d.queue)
	d.mu.Unlock()

	stopped := make(chan struct{})
	go func() {
		d.workers.Wait()
		close(stopped)
	}()

	select {
	case <-stopped:
		d.cancelRun()
		return nil
	case <-ctx.Done():
		d.logger.Warnf("draining window is over. canceling running jobs")
		d.cancelRun()
		<-stopped
		return ctx.Err()
	}
}

func (d *Dispatcher) isDraining() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.draining
}

func (d *Dispatcher) finish(job Job) {
	ctx := context.WithoutCancel(d.runCtx)
	now := d.now()
	job.FinishedAt = &now
	if err := d.store.Update(ctx, job); err != nil {
		d.logger.Errorf("job %s: failed to record status %s: %s", job.Id, job.Status, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if done, ok := d.waiters[job.Id]; ok {
		close(done)
		delete(d.waiters, job.Id)
	}
}

func (d *Dispatcher) work() {
	defer d.workers.Done()
	for job := range d.queue {
		if d.isDraining() {
			job.Status = Canceled
			job.Error = "replica is draining"
			d.finish(job)
			continue
		}
		d.run(job)
	}
}

func (d *Dispatcher) run(job Job) {
	ticket, err := d.admit.Acquire(d.runCtx)
	if err != nil {
		job.Status = Canceled
		job.Error = err.Error()
		d.finish(job)
		return
	}
	defer ticket.Release()

	started := d.now()
	job.Status = Running
	job.StartedAt = &started
	if err := d.store.Update(context.WithoutCancel(d.runCtx), job); err != nil {
		d.logger.Errorf("job %s: failed to record status %s: %s", job.Id, job.Status, err)
	}
	d.logger.Infof("job %s (%s) is started", job.Id, job.Dataset)

	ctx, cancel := context.WithTimeoutCause(d.runCtx, d.timeout, ErrJobTimeout)
	defer cancel()

	result, err := d.task(ctx, job)
	job = settle(ctx, job, result, err)
	d.finish(job)
	d.logger.Infof("job %s (%s) is %s", job.Id, job.Dataset, job.Status)
}

// settle decides the final state of a job from its outcome.
func settle(ctx context.Context, job Job, result importer.Result, err error) Job {
	job.Artifacts = result.Artifacts()
	job.Failures = []Failure{}
	for _, f := range result.Failures() {
		job.Failures = append(job.Failures, Failure{
			Stage:    string(f.Stage),
			FileName: f.FileName,
			GeoLevel: string(f.GeoLevel),
			Message:  f.Err.Error(),
		})
	}

	if err == nil {
		err = result.Err()
	}
	switch {
	case err == nil && ctx.Err() == nil:
		job.Status = Succeeded
	case errors.Is(context.Cause(ctx), ErrJobTimeout):
		job.Status = Failed
		job.Error = ErrJobTimeout.Error()
		if err != nil {
			job.Error = fmt.Sprintf("%s: %s", ErrJobTimeout, err)
		}
	case ctx.Err() != nil:
		job.Status = Canceled
		job.Error = context.Cause(ctx).Error()
	default:
		job.Status = Failed
		job.Error = err.Error()
	}
	return job
}
