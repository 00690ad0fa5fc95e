// Package ledger tracks the lifecycle of synthesis jobs.
//
// Jobs in a non-terminal state live in a plain map and are never evicted.
// Once a job completes or fails it moves into a bounded, TTL-expiring LRU so
// a long-lived process cannot grow without limit. Reads return copies and
// never mutate ledger state.
package ledger

import (
	"errors"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/book-expert/voiceclone-service/internal/core"
)

// Transition errors.
var (
	ErrJobNotFound  = errors.New("job not found")
	ErrJobNotActive = errors.New("job is not in an active state")
)

// Ledger is a concurrency-safe map from job id to job record.
type Ledger struct {
	mu       sync.Mutex
	active   map[string]*core.Job
	terminal *expirable.LRU[string, *core.Job]
}

// New creates a Ledger whose terminal-job history holds at most capacity
// entries, each expiring after ttl.
func New(capacity int, ttl time.Duration) *Ledger {
	return &Ledger{
		active:   make(map[string]*core.Job),
		terminal: expirable.NewLRU[string, *core.Job](capacity, nil, ttl),
	}
}

// Create registers a new job in the Queued state.
func (l *Ledger) Create(jobID string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.active[jobID] = &core.Job{
		ID:     jobID,
		Status: core.JobStatusQueued,
		Result: nil,
		Error:  "",
	}
}

// MarkProcessing transitions a queued job to Processing. Only the worker that
// owns the job calls this.
func (l *Ledger) MarkProcessing(jobID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	job, ok := l.active[jobID]
	if !ok {
		return ErrJobNotFound
	}

	job.Status = core.JobStatusProcessing

	return nil
}

// Complete records a successful result and moves the job to terminal history.
func (l *Ledger) Complete(jobID string, result *core.SynthesisResult) error {
	return l.finish(jobID, core.JobStatusCompleted, result, "")
}

// Fail records a failure message and moves the job to terminal history.
func (l *Ledger) Fail(jobID string, message string) error {
	return l.finish(jobID, core.JobStatusFailed, nil, message)
}

func (l *Ledger) finish(jobID string, status core.JobStatus, result *core.SynthesisResult, message string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	job, ok := l.active[jobID]
	if !ok {
		return ErrJobNotActive
	}

	job.Status = status
	job.Result = result
	job.Error = message

	delete(l.active, jobID)
	l.terminal.Add(jobID, job)

	return nil
}

// Get returns a copy of the job record, if present. Active records are
// copied while the mutex is held, since their owning worker mutates them
// under the same lock. Terminal records are immutable once added to the LRU.
func (l *Ledger) Get(jobID string) (core.Job, bool) {
	l.mu.Lock()

	if job, ok := l.active[jobID]; ok {
		value := *job
		l.mu.Unlock()

		return value, true
	}

	l.mu.Unlock()

	job, ok := l.terminal.Get(jobID)
	if !ok {
		return core.Job{}, false
	}

	return *job, true
}

// ActiveCount reports the number of jobs still queued or processing.
func (l *Ledger) ActiveCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return len(l.active)
}
