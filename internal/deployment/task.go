package deployment

import (
	"context"
	"sync"
)

// Task is the handle returned by Dispatch. Callers may wait on it or
// discard it.
type Task struct {
	Job *Job

	mu      sync.Mutex
	state   State
	outcome Outcome
	done    chan struct{}
}

func newTask(job *Job) *Task {
	return &Task{
		Job:   job,
		state: StateCreated,
		done:  make(chan struct{}),
	}
}

// Done is closed once the task reaches a terminal state.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// State returns the current state.
func (t *Task) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Wait blocks until the task finishes or ctx is done.
func (t *Task) Wait(ctx context.Context) (Outcome, error) {
	select {
	case <-t.done:
		t.mu.Lock()
		defer t.mu.Unlock()
		return t.outcome, nil
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}

// transition moves the task to next and reports whether the move was legal.
func (t *Task) transition(next State) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.state.CanTransition(next) {
		return false
	}
	t.state = next
	return true
}

func (t *Task) finish(outcome Outcome) bool {
	t.mu.Lock()
	if !t.state.CanTransition(outcome.State) {
		t.mu.Unlock()
		return false
	}
	t.state = outcome.State
	t.outcome = outcome
	t.mu.Unlock()

	close(t.done)
	return true
}
