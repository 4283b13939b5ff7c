// Package queue runs conversion jobs through a bounded worker pool with
// first-in-first-out admission. Jobs move through a strict state machine
// and reach exactly one terminal state.
package queue

import (
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/chunmedia/chunconv/internal/media"
)

// State is a job lifecycle state.
type State string

const (
	// StateQueued means the job is admitted and waiting for a worker slot.
	StateQueued State = "queued"
	// StateRunning means a worker slot is executing the job.
	StateRunning State = "running"
	// StateSucceeded means the job finished and produced its output.
	StateSucceeded State = "succeeded"
	// StateFailed means the job finished without producing its output.
	StateFailed State = "failed"
	// StateCancelled means the job was cancelled before completing.
	StateCancelled State = "cancelled"
)

// IsTerminal reports whether the state is final.
func (s State) IsTerminal() bool {
	switch s {
	case StateSucceeded, StateFailed, StateCancelled:
		return true
	}
	return false
}

// String returns the state name.
func (s State) String() string { return string(s) }

// Progress is the externally visible progress of a running job.
type Progress struct {
	Fraction float64 // 0..1, or -1 when the source duration is unknown
	Updated  time.Time
}

// Job is one admitted conversion. All state access goes through the
// accessor methods; the queue owns the transitions.
type Job struct {
	ID   string
	Spec *media.JobSpec

	mu         sync.Mutex
	state      State
	reason     string
	progress   Progress
	enqueuedAt time.Time
	startedAt  time.Time
	finishedAt time.Time

	cancelRequested bool
	cancel          func() // set while running
}

func newJob(spec *media.JobSpec) *Job {
	return &Job{
		ID:         ulid.Make().String(),
		Spec:       spec,
		state:      StateQueued,
		enqueuedAt: time.Now(),
	}
}

// State returns the current lifecycle state.
func (j *Job) State() State {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

// Reason returns the failure or cancellation reason, empty otherwise.
func (j *Job) Reason() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.reason
}

// ReportProgress records the latest progress fraction. The queue's stall
// detection keys off the update timestamp.
func (j *Job) ReportProgress(fraction float64) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.progress = Progress{Fraction: fraction, Updated: time.Now()}
}

// Progress returns the last reported progress.
func (j *Job) Progress() Progress {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.progress
}

// Snapshot is a point-in-time copy of a job's externally visible state.
type Snapshot struct {
	ID         string
	State      State
	Reason     string
	Progress   Progress
	EnqueuedAt time.Time
	StartedAt  time.Time
	FinishedAt time.Time
}

// Snapshot returns a copy of the job's current state.
func (j *Job) Snapshot() Snapshot {
	j.mu.Lock()
	defer j.mu.Unlock()
	return Snapshot{
		ID:         j.ID,
		State:      j.state,
		Reason:     j.reason,
		Progress:   j.progress,
		EnqueuedAt: j.enqueuedAt,
		StartedAt:  j.startedAt,
		FinishedAt: j.finishedAt,
	}
}

// markRunning transitions Queued to Running. Returns false when the job is
// no longer eligible to run (cancelled while queued).
func (j *Job) markRunning(cancel func()) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state != StateQueued {
		return false
	}
	j.state = StateRunning
	j.startedAt = time.Now()
	j.cancel = cancel
	return true
}

// markTerminal moves the job to a terminal state exactly once. Returns
// false when the job already reached one.
func (j *Job) markTerminal(state State, reason string) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state.IsTerminal() {
		return false
	}
	j.state = state
	j.reason = reason
	j.finishedAt = time.Now()
	j.cancel = nil
	return true
}

// requestCancel flags the job as cancelled-by-user and returns the state
// it observed. A queued job moves to Cancelled under the same lock
// acquisition, so a dispatching worker can never transition it to Running
// afterwards. A running job has its run context cancelled and keeps its
// state until the runner confirms the work stopped.
func (j *Job) requestCancel(queuedReason string) State {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.cancelRequested = true
	observed := j.state
	switch {
	case observed == StateQueued:
		j.state = StateCancelled
		j.reason = queuedReason
		j.finishedAt = time.Now()
	case j.cancel != nil:
		j.cancel()
	}
	return observed
}

func (j *Job) wasCancelRequested() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.cancelRequested
}
