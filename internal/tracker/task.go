package tracker

import (
	"context"
	"sync"
	"time"

	"github.com/Ftthreign/Aisthesis-hackaton-KOLOSALAI/pkg/models"
)

// Transition is one observed status change of a job.
type Transition struct {
	JobID    string           `json:"id"`
	From     models.Status    `json:"from"`
	To       models.Status    `json:"to"`
	Analysis *models.Analysis `json:"analysis,omitempty"`
	At       time.Time        `json:"at"`
}

const subscriberBuffer = 8

// Task follows one job until it reaches a terminal status, gives up, or is
// cancelled. At most one Task polls a given job id at a time.
type Task struct {
	id     string
	cancel context.CancelFunc
	done   chan struct{}

	mu     sync.Mutex
	status models.Status
	record *models.Analysis
	err    error
	subs   []chan Transition
	ended  bool
	// pinned tasks are followed by a view and outlive a waiter that leaves.
	pinned bool
}

func newTask(id string, status models.Status, cancel context.CancelFunc) *Task {
	return &Task{
		id:     id,
		status: status,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

// finishedTask is a Task for a job already known to be terminal.
func finishedTask(rec *models.Analysis, err error) *Task {
	t := newTask(rec.ID, rec.Status, func() {})
	t.finish(rec, err)
	return t
}

func (t *Task) ID() string { return t.id }

// Status is the last status observed for the job.
func (t *Task) Status() models.Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// Done is closed when the task has ended.
func (t *Task) Done() <-chan struct{} { return t.done }

// Wait blocks until the task ends or ctx is done. It returns the last record
// observed and the reason the task ended: nil for COMPLETED, a
// *JobFailedError, ErrTimeout, ErrJobRemoved, an unauthorized error from the
// backend, or context.Canceled after Cancel.
func (t *Task) Wait(ctx context.Context) (*models.Analysis, error) {
	select {
	case <-t.done:
		return t.Result()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Result is what Wait returns, without blocking. Before the task ends it
// returns the last record and a nil error.
func (t *Task) Result() (*models.Analysis, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.record, t.err
}

// Cancel stops polling. A request already sent is not interrupted; its
// response is discarded.
func (t *Task) Cancel() { t.cancel() }

func (t *Task) pin() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pinned = true
}

// abandon cancels the task on behalf of a waiter that left, unless a view
// is following it.
func (t *Task) abandon() {
	t.mu.Lock()
	pinned := t.pinned
	t.mu.Unlock()
	if !pinned {
		t.cancel()
	}
}

// Subscribe returns a channel that receives every later transition and is
// closed when the task ends. Slow subscribers miss transitions rather than
// stall the poller.
func (t *Task) Subscribe() <-chan Transition {
	ch := make(chan Transition, subscriberBuffer)
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ended {
		close(ch)
		return ch
	}
	t.subs = append(t.subs, ch)
	return ch
}

func (t *Task) emit(tr Transition) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status = tr.To
	if tr.Analysis != nil {
		t.record = tr.Analysis
	}
	for _, ch := range t.subs {
		select {
		case ch <- tr:
		default:
		}
	}
}

func (t *Task) finish(rec *models.Analysis, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ended {
		return
	}
	t.ended = true
	if rec != nil {
		t.record = rec
		t.status = rec.Status
	}
	t.err = err
	for _, ch := range t.subs {
		close(ch)
	}
	t.subs = nil
	close(t.done)
}
