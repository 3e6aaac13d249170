// Package workflow provides a durable step engine: named steps whose completed outcomes are
// persisted and reused when a run is replayed after a failure or restart.
package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/hyperjump/kioku/internal/metrics"
	"github.com/hyperjump/kioku/internal/models"
	"github.com/hyperjump/kioku/internal/storage"
)

var tracer = otel.Tracer("github.com/hyperjump/kioku/workflow")

// StepFunc performs one step. The returned value must be JSON-serializable; it is persisted
// as the step result and handed back to later steps through RunContext.Result.
type StepFunc func(ctx context.Context, rc *RunContext) (interface{}, error)

// Step is a named unit of work. Names must be unique within a Definition.
type Step struct {
	Name string
	Run  StepFunc
}

// Definition is an ordered list of steps plus an optional hook invoked after a run completes.
type Definition struct {
	Name       string
	Steps      []Step
	OnComplete func(ctx context.Context, run *models.Run)
}

// StepError reports which step of which run failed.
type StepError struct {
	RunID string
	Step  string
	Err   error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("run %s: step %q: %v", e.RunID, e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// RunContext gives a step access to the run payload and to results of earlier steps.
type RunContext struct {
	run *models.Run
}

// RunID returns the ID of the run being executed.
func (rc *RunContext) RunID() string { return rc.run.ID }

// Payload decodes the run payload into out.
func (rc *RunContext) Payload(out interface{}) error {
	if err := json.Unmarshal(rc.run.Payload, out); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	return nil
}

// Result decodes the result of an earlier completed step into out.
func (rc *RunContext) Result(step string, out interface{}) error {
	return rc.run.Result(step, out)
}

// Engine executes definitions against runs, persisting every step outcome.
type Engine struct {
	store  storage.RunStore
	logger *zap.Logger
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithEngineLogger sets a logger for step events.
func WithEngineLogger(l *zap.Logger) EngineOption {
	return func(e *Engine) { e.logger = l }
}

// NewEngine creates an engine recording outcomes in store.
func NewEngine(store storage.RunStore, opts ...EngineOption) *Engine {
	e := &Engine{store: store, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute drives run through the steps of def in order. Steps already completed in the run's
// log are skipped and their stored results reused. The first failing step halts the run and
// is returned as a *StepError; earlier completed steps are not rolled back.
func (e *Engine) Execute(ctx context.Context, def *Definition, run *models.Run) error {
	rc := &RunContext{run: run}
	for _, step := range def.Steps {
		if outcome := run.Step(step.Name); outcome != nil && outcome.Status == models.StepCompleted {
			metrics.StepsTotal.WithLabelValues(step.Name, "skipped").Inc()
			e.logger.Debug("step replayed from log", zap.String("run_id", run.ID), zap.String("step", step.Name))
			continue
		}
		if err := e.runStep(ctx, step, rc); err != nil {
			return &StepError{RunID: run.ID, Step: step.Name, Err: err}
		}
	}
	return nil
}

func (e *Engine) runStep(ctx context.Context, step Step, rc *RunContext) error {
	run := rc.run
	ctx, span := tracer.Start(ctx, step.Name)
	defer span.End()
	span.SetAttributes(
		attribute.String("kioku.run.id", run.ID),
		attribute.String("kioku.workflow", run.Workflow),
		attribute.String("kioku.step", step.Name),
	)

	if err := e.record(ctx, run, &models.StepOutcome{Step: step.Name, Status: models.StepPending}); err != nil {
		return err
	}

	start := time.Now()
	value, err := step.Run(ctx, rc)
	metrics.StepDuration.WithLabelValues(step.Name).Observe(time.Since(start).Seconds())
	if err == nil {
		var result []byte
		result, err = json.Marshal(value)
		if err == nil {
			err = e.record(ctx, run, &models.StepOutcome{Step: step.Name, Status: models.StepCompleted, Result: result})
			if err == nil {
				metrics.StepsTotal.WithLabelValues(step.Name, "completed").Inc()
				e.logger.Debug("step completed", zap.String("run_id", run.ID), zap.String("step", step.Name))
				return nil
			}
		}
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	metrics.StepsTotal.WithLabelValues(step.Name, "failed").Inc()
	if recErr := e.record(ctx, run, &models.StepOutcome{Step: step.Name, Status: models.StepFailed, Error: err.Error()}); recErr != nil {
		e.logger.Warn("failed to record step failure", zap.String("run_id", run.ID), zap.String("step", step.Name), zap.Error(recErr))
	}
	return err
}

// record persists outcome and mirrors it into the in-memory run so later steps can read it.
func (e *Engine) record(ctx context.Context, run *models.Run, outcome *models.StepOutcome) error {
	outcome.UpdatedAt = time.Now().UTC()
	if err := e.store.RecordStep(ctx, run.ID, outcome); err != nil {
		return err
	}
	if existing := run.Step(outcome.Step); existing != nil {
		*existing = *outcome
	} else {
		run.Steps = append(run.Steps, outcome)
	}
	return nil
}
