package queue

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/chunmedia/chunconv/internal/media"
)

// Queue errors.
var (
	ErrQueueClosed = errors.New("queue is closed")
	ErrUnknownJob  = errors.New("unknown job")
)

// Runner executes one job. A nil return means the job succeeded; a
// non-nil return means it failed unless its context was cancelled. The
// runner must not return before the underlying work has fully stopped, so
// a worker slot is never reused while a cancelled process still runs.
type Runner interface {
	Run(ctx context.Context, job *Job) error
}

// RunnerFunc adapts a function to the Runner interface.
type RunnerFunc func(ctx context.Context, job *Job) error

// Run calls f.
func (f RunnerFunc) Run(ctx context.Context, job *Job) error { return f(ctx, job) }

// Queue admits jobs in arrival order and executes them on a fixed number
// of worker slots. Admission is unbounded; only execution is.
type Queue struct {
	runner Runner
	logger *slog.Logger
	slots  int

	mu      sync.Mutex
	cond    *sync.Cond
	pending []*Job
	jobs    map[string]*Job
	order   []string // admission order, for listing
	closed  bool

	wg sync.WaitGroup
}

// New creates a queue with the given number of worker slots. Workers do
// not start until Start is called.
func New(slots int, runner Runner, logger *slog.Logger) *Queue {
	if slots < 1 {
		slots = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	q := &Queue{
		runner: runner,
		logger: logger,
		slots:  slots,
		jobs:   make(map[string]*Job),
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Slots returns the number of worker slots.
func (q *Queue) Slots() int { return q.slots }

// Start launches the worker pool. Workers exit when ctx is cancelled or
// Close is called and the pending list drains.
func (q *Queue) Start(ctx context.Context) {
	for i := 0; i < q.slots; i++ {
		q.wg.Add(1)
		go q.worker(ctx, i)
	}
	// Wake blocked workers when the root context ends.
	go func() {
		<-ctx.Done()
		q.cond.Broadcast()
	}()
}

// Close stops admission. Already queued jobs still run; call Wait to block
// until the pool drains.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.cond.Broadcast()
}

// Wait blocks until all workers have exited.
func (q *Queue) Wait() { q.wg.Wait() }

// Enqueue admits a job. The spec must already be validated and accepted by
// the compatibility engine; the queue does not re-check it.
func (q *Queue) Enqueue(spec *media.JobSpec) (*Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil, ErrQueueClosed
	}
	job := newJob(spec)
	q.jobs[job.ID] = job
	q.order = append(q.order, job.ID)
	q.pending = append(q.pending, job)
	q.cond.Signal()

	q.logger.Info("job enqueued",
		"job_id", job.ID,
		"input", spec.InputPath,
		"container", spec.Container.String(),
		"position", len(q.pending),
	)
	return job, nil
}

// Get returns a job by ID.
func (q *Queue) Get(id string) (*Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.jobs[id]
	if !ok {
		return nil, ErrUnknownJob
	}
	return job, nil
}

// List returns snapshots of all known jobs in admission order.
func (q *Queue) List() []Snapshot {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Snapshot, 0, len(q.order))
	for _, id := range q.order {
		out = append(out, q.jobs[id].Snapshot())
	}
	return out
}

// Cancel requests cancellation of a job and returns the state the request
// observed. A queued job is cancelled immediately, in the same job-lock
// acquisition that a dispatching worker would need to start it, so it never
// runs. A running job has its context cancelled; it stays Running until the
// runner confirms the work has stopped, and only then moves to Cancelled
// and frees its slot. Cancelling a terminal job is a no-op.
func (q *Queue) Cancel(id string) (State, error) {
	q.mu.Lock()
	job, ok := q.jobs[id]
	q.mu.Unlock()
	if !ok {
		return "", ErrUnknownJob
	}

	observed := job.requestCancel("cancelled before start")
	if observed == StateQueued {
		q.logger.Info("job cancelled while queued", "job_id", id)
	}
	return observed, nil
}

// Stalled returns snapshots of running jobs whose last progress update is
// older than window. Jobs that have not reported progress yet are measured
// from their start time.
func (q *Queue) Stalled(window time.Duration) []Snapshot {
	cutoff := time.Now().Add(-window)
	var out []Snapshot
	for _, snap := range q.List() {
		if snap.State != StateRunning {
			continue
		}
		last := snap.Progress.Updated
		if last.IsZero() {
			last = snap.StartedAt
		}
		if last.Before(cutoff) {
			out = append(out, snap)
		}
	}
	return out
}

// worker pulls pending jobs in FIFO order and runs them one at a time.
func (q *Queue) worker(ctx context.Context, id int) {
	defer q.wg.Done()
	for {
		job, ok := q.next(ctx)
		if !ok {
			return
		}
		q.runJob(ctx, job)
	}
}

// next blocks until a pending job is available, the queue is closed and
// drained, or ctx ends.
func (q *Queue) next(ctx context.Context) (*Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for {
		if ctx.Err() != nil {
			return nil, false
		}
		if len(q.pending) > 0 {
			job := q.pending[0]
			q.pending = q.pending[1:]
			return job, true
		}
		if q.closed {
			return nil, false
		}
		q.cond.Wait()
	}
}

func (q *Queue) runJob(ctx context.Context, job *Job) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if !job.markRunning(cancel) {
		// Cancelled while waiting in the pending list.
		return
	}

	q.logger.Info("job started", "job_id", job.ID)
	start := time.Now()

	err := q.runner.Run(runCtx, job)

	switch {
	case err == nil:
		job.markTerminal(StateSucceeded, "")
		q.logger.Info("job succeeded",
			"job_id", job.ID,
			"duration", time.Since(start).Round(time.Millisecond),
		)
	case job.wasCancelRequested() || errors.Is(err, context.Canceled):
		job.markTerminal(StateCancelled, "cancelled")
		q.logger.Info("job cancelled",
			"job_id", job.ID,
			"duration", time.Since(start).Round(time.Millisecond),
		)
	default:
		job.markTerminal(StateFailed, err.Error())
		q.logger.Error("job failed",
			"job_id", job.ID,
			"error", err,
			"duration", time.Since(start).Round(time.Millisecond),
		)
	}
}
