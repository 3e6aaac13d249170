package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// RunStatus is the lifecycle state of a workflow run.
type RunStatus string

const (
	// RunQueued is a run accepted but not yet picked up by a worker.
	RunQueued RunStatus = "queued"
	// RunRunning is a run a worker is currently executing.
	RunRunning RunStatus = "running"
	// RunErrored is a run whose last attempt failed and that will be retried.
	RunErrored RunStatus = "errored"
	// RunCompleted is a run whose every step completed.
	RunCompleted RunStatus = "completed"
	// RunFailed is a run that exhausted its attempts.
	RunFailed RunStatus = "failed"
)

// Terminal reports whether no further attempts will be made for a run in this state.
func (s RunStatus) Terminal() bool {
	return s == RunCompleted || s == RunFailed
}

// StepStatus is the recorded outcome of one named step.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
)

// StepOutcome is one entry of a run's step log.
type StepOutcome struct {
	Step      string          `json:"step"`
	Status    StepStatus      `json:"status"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Run is one execution instance of a workflow for one payload.
type Run struct {
	ID        string          `json:"id"`
	Workflow  string          `json:"workflow"`
	Payload   json.RawMessage `json:"payload"`
	Status    RunStatus       `json:"status"`
	Attempts  int             `json:"attempts"`
	LastError string          `json:"last_error,omitempty"`
	Steps     []*StepOutcome  `json:"steps"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Step returns the outcome recorded for name, or nil when the step has not started.
func (r *Run) Step(name string) *StepOutcome {
	for _, s := range r.Steps {
		if s.Step == name {
			return s
		}
	}
	return nil
}

// Result decodes the stored result of a completed step into out.
func (r *Run) Result(name string, out interface{}) error {
	s := r.Step(name)
	if s == nil || s.Status != StepCompleted {
		return fmt.Errorf("step %q has no completed result", name)
	}
	if err := json.Unmarshal(s.Result, out); err != nil {
		return fmt.Errorf("decode result of step %q: %w", name, err)
	}
	return nil
}
