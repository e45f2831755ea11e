package deployment

import (
	"fmt"
	"time"

	"deployhook/internal/environment"
	"deployhook/internal/target"
	"deployhook/internal/webhook"

	"github.com/google/uuid"
)

// State is the lifecycle state of a deploy job.
type State string

const (
	StateCreated   State = "created"
	StateRunning   State = "running"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
	StateTimedOut  State = "timed_out"
)

// Terminal reports whether s is a final state.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed || s == StateTimedOut
}

// CanTransition reports whether moving from s to next is allowed:
// created -> running -> one terminal state.
func (s State) CanTransition(next State) bool {
	switch s {
	case StateCreated:
		return next == StateRunning
	case StateRunning:
		return next.Terminal()
	default:
		return false
	}
}

// Job is a deploy that an event warranted. It is consumed exactly once.
type Job struct {
	ID        string
	Target    *target.Target
	Profile   environment.Profile
	Provider  webhook.Provider
	Reason    string
	SourceID  int
	Timeout   time.Duration
	CreatedAt time.Time
}

// Outcome is the terminal result of a job.
type Outcome struct {
	JobID      string        `json:"job_id"`
	Target     string        `json:"target"`
	State      State         `json:"state"`
	ExitCode   *int          `json:"exit_code,omitempty"`
	Message    string        `json:"message"`
	Reason     string        `json:"reason"`
	Duration   time.Duration `json:"-"`
	Seconds    float64       `json:"duration_seconds"`
	FinishedAt time.Time     `json:"finished_at"`
}

// Decide evaluates ev against the branch of profile and, when the event is
// a merge into that branch, builds a Job for t. The returned Decision
// carries the trigger or ignore reason either way.
func Decide(ev webhook.Event, t *target.Target, profile environment.Profile, defaultTimeout time.Duration) (*Job, webhook.Decision) {
	decision := webhook.Decide(ev, profile.Branch)
	if !decision.Deploy {
		return nil, decision
	}

	return &Job{
		ID:        uuid.NewString(),
		Target:    t,
		Profile:   profile,
		Provider:  ev.Provider,
		Reason:    decision.Reason,
		SourceID:  decision.SourceID,
		Timeout:   t.EffectiveTimeout(defaultTimeout),
		CreatedAt: time.Now(),
	}, decision
}

func (j *Job) String() string {
	return fmt.Sprintf("job %s (%s, %s)", j.ID, j.Target.Name, j.Profile.Name)
}
