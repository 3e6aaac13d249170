package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hyperjump/kioku/internal/metrics"
	"github.com/hyperjump/kioku/internal/models"
	"github.com/hyperjump/kioku/internal/storage"
)

const (
	defaultWorkers     = 4
	defaultMaxAttempts = 5
	defaultBackoff     = 2 * time.Second
	maxBackoff         = 5 * time.Minute
	queueSize          = 1024
)

// ErrStopped is returned by Submit after Stop has been called.
var ErrStopped = errors.New("scheduler stopped")

// ErrNotRetryable is returned by Retry for a run that has not failed terminally.
var ErrNotRetryable = errors.New("only failed runs can be retried")

// Scheduler runs workflow runs on a pool of workers. Failed runs are retried from their first
// incomplete step with exponential backoff until MaxAttempts is reached, after which the run is
// marked failed. Runs left unfinished by a previous process are resumed on Start.
type Scheduler struct {
	store       storage.RunStore
	engine      *Engine
	defs        map[string]*Definition
	workers     int
	maxAttempts int
	backoff     time.Duration
	logger      *zap.Logger

	queue    chan string
	stopping chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	mu      sync.Mutex
	started bool
	timers  map[string]*time.Timer
	queued  map[string]bool
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithLogger sets the scheduler logger. The engine shares it.
func WithLogger(l *zap.Logger) SchedulerOption {
	return func(s *Scheduler) { s.logger = l }
}

// WithWorkers sets the number of concurrent workers.
func WithWorkers(n int) SchedulerOption {
	return func(s *Scheduler) {
		if n > 0 {
			s.workers = n
		}
	}
}

// WithMaxAttempts bounds how many times a run is attempted before it is marked failed.
func WithMaxAttempts(n int) SchedulerOption {
	return func(s *Scheduler) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

// WithBackoff sets the delay before the first retry. Later retries double it.
func WithBackoff(d time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		if d > 0 {
			s.backoff = d
		}
	}
}

// NewScheduler creates a scheduler persisting runs in store.
func NewScheduler(store storage.RunStore, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		store:       store,
		defs:        make(map[string]*Definition),
		workers:     defaultWorkers,
		maxAttempts: defaultMaxAttempts,
		backoff:     defaultBackoff,
		logger:      zap.NewNop(),
		queue:       make(chan string, queueSize),
		stopping:    make(chan struct{}),
		timers:      make(map[string]*time.Timer),
		queued:      make(map[string]bool),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.engine = NewEngine(store, WithEngineLogger(s.logger))
	return s
}

// Register makes def available to Submit. It must be called before Start.
func (s *Scheduler) Register(def *Definition) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.defs[def.Name] = def
}

// Start launches the workers and re-enqueues every unfinished run found in the store. Runs
// left running by a previous process are put back in the queue first.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.mu.Unlock()

	// No worker of this process has claimed anything yet, so every running run is orphaned.
	orphaned, err := s.store.ListRuns(ctx, models.RunRunning)
	if err != nil {
		return fmt.Errorf("list orphaned runs: %w", err)
	}
	for _, run := range orphaned {
		if err := s.store.UpdateRun(ctx, run.ID, models.RunQueued, run.Attempts, run.LastError); err != nil {
			return fmt.Errorf("requeue orphaned run %s: %w", run.ID, err)
		}
	}

	pending, err := s.store.ListRuns(ctx, models.RunQueued, models.RunErrored)
	if err != nil {
		return fmt.Errorf("list unfinished runs: %w", err)
	}

	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go s.work()
	}
	if len(pending) > 0 {
		s.logger.Info("resuming unfinished runs", zap.Int("runs", len(pending)))
	}
	go func() {
		for _, run := range pending {
			s.enqueue(run.ID)
		}
	}()
	return nil
}

// Submit persists a new run of the named workflow and queues it. It returns once the run is
// durably recorded; execution happens asynchronously.
func (s *Scheduler) Submit(ctx context.Context, workflow string, payload interface{}) (*models.Run, error) {
	select {
	case <-s.stopping:
		return nil, ErrStopped
	default:
	}
	s.mu.Lock()
	_, ok := s.defs[workflow]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("unknown workflow: %s", workflow)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	run := &models.Run{
		ID:       uuid.New().String(),
		Workflow: workflow,
		Payload:  data,
		Status:   models.RunQueued,
	}
	if err := s.store.CreateRun(ctx, run); err != nil {
		return nil, err
	}
	if !s.offer(run.ID) {
		go s.enqueue(run.ID)
	}
	return run, nil
}

// Retry resets a failed run's attempt budget and queues it again.
func (s *Scheduler) Retry(ctx context.Context, runID string) (*models.Run, error) {
	run, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.Status != models.RunFailed {
		return nil, fmt.Errorf("run %s is %s: %w", runID, run.Status, ErrNotRetryable)
	}
	if err := s.store.UpdateRun(ctx, runID, models.RunQueued, 0, run.LastError); err != nil {
		return nil, err
	}
	run.Status = models.RunQueued
	run.Attempts = 0
	s.enqueue(runID)
	return run, nil
}

// Stop stops accepting work, cancels pending retries and waits for in-flight runs to finish.
// A step in progress is never interrupted.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopping)
		s.mu.Lock()
		for id, t := range s.timers {
			t.Stop()
			delete(s.timers, id)
		}
		s.mu.Unlock()
	})
	s.wg.Wait()
}

// mark records runID as waiting in the queue. It reports false if it already is.
func (s *Scheduler) mark(runID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.queued[runID] {
		return false
	}
	s.queued[runID] = true
	return true
}

func (s *Scheduler) unmark(runID string) {
	s.mu.Lock()
	delete(s.queued, runID)
	s.mu.Unlock()
}

// offer queues runID without blocking. It reports false when the queue is full.
func (s *Scheduler) offer(runID string) bool {
	if !s.mark(runID) {
		return true
	}
	select {
	case s.queue <- runID:
		return true
	default:
		s.unmark(runID)
		return false
	}
}

func (s *Scheduler) enqueue(runID string) {
	if !s.mark(runID) {
		return
	}
	select {
	case s.queue <- runID:
	case <-s.stopping:
		s.unmark(runID)
	}
}

func (s *Scheduler) work() {
	defer s.wg.Done()
	for {
		select {
		case <-s.stopping:
			return
		case id := <-s.queue:
			s.unmark(id)
			s.process(id)
		}
	}
}

func (s *Scheduler) process(runID string) {
	// Runs are not cancelled mid-flight; Stop waits for them instead.
	ctx := context.Background()
	claimed, err := s.store.ClaimRun(ctx, runID)
	if err != nil {
		s.logger.Error("claim run failed", zap.String("run_id", runID), zap.Error(err))
		return
	}
	if !claimed {
		s.logger.Debug("run already claimed or finished", zap.String("run_id", runID))
		return
	}
	run, err := s.store.GetRun(ctx, runID)
	if err != nil {
		s.logger.Error("load run failed", zap.String("run_id", runID), zap.Error(err))
		return
	}
	s.mu.Lock()
	def, ok := s.defs[run.Workflow]
	s.mu.Unlock()
	if !ok {
		msg := fmt.Sprintf("unknown workflow: %s", run.Workflow)
		if err := s.store.UpdateRun(ctx, run.ID, models.RunFailed, run.Attempts, msg); err != nil {
			s.logger.Error("mark run failed failed", zap.String("run_id", runID), zap.Error(err))
		}
		s.logger.Error("run references unknown workflow", zap.String("run_id", runID), zap.String("workflow", run.Workflow))
		return
	}

	execErr := s.engine.Execute(ctx, def, run)
	if execErr == nil {
		run.Status = models.RunCompleted
		run.LastError = ""
		if err := s.store.UpdateRun(ctx, run.ID, models.RunCompleted, run.Attempts, ""); err != nil {
			s.logger.Error("mark run completed failed", zap.String("run_id", runID), zap.Error(err))
		}
		metrics.RunsTotal.WithLabelValues(run.Workflow, "completed").Inc()
		s.logger.Info("run completed", zap.String("run_id", run.ID), zap.String("workflow", run.Workflow), zap.Int("attempts", run.Attempts))
		if def.OnComplete != nil {
			def.OnComplete(ctx, run)
		}
		return
	}

	run.LastError = execErr.Error()
	if run.Attempts >= s.maxAttempts {
		run.Status = models.RunFailed
		if err := s.store.UpdateRun(ctx, run.ID, models.RunFailed, run.Attempts, run.LastError); err != nil {
			s.logger.Error("mark run failed failed", zap.String("run_id", runID), zap.Error(err))
		}
		metrics.RunsTotal.WithLabelValues(run.Workflow, "failed").Inc()
		s.logger.Error("run failed permanently",
			zap.String("run_id", run.ID),
			zap.String("workflow", run.Workflow),
			zap.Int("attempts", run.Attempts),
			zap.Error(execErr))
		return
	}

	run.Status = models.RunErrored
	if err := s.store.UpdateRun(ctx, run.ID, models.RunErrored, run.Attempts, run.LastError); err != nil {
		s.logger.Error("mark run errored failed", zap.String("run_id", runID), zap.Error(err))
	}
	metrics.RunsTotal.WithLabelValues(run.Workflow, "errored").Inc()
	delay := s.retryDelay(run.Attempts)
	s.logger.Warn("run attempt failed, will retry",
		zap.String("run_id", run.ID),
		zap.Int("attempts", run.Attempts),
		zap.Duration("retry_in", delay),
		zap.Error(execErr))
	s.scheduleRetry(run.ID, delay)
}

func (s *Scheduler) retryDelay(attempts int) time.Duration {
	d := s.backoff
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= maxBackoff {
			return maxBackoff
		}
	}
	return d
}

func (s *Scheduler) scheduleRetry(runID string, delay time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.stopping:
		return
	default:
	}
	s.timers[runID] = time.AfterFunc(delay, func() {
		s.mu.Lock()
		delete(s.timers, runID)
		s.mu.Unlock()
		s.enqueue(runID)
	})
}
