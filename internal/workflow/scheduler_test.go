package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hyperjump/kioku/internal/models"
	"github.com/hyperjump/kioku/internal/storage"
)

func waitForStatus(t *testing.T, store storage.RunStore, runID string, want models.RunStatus) *models.Run {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		run, err := store.GetRun(context.Background(), runID)
		if err == nil && run.Status == want {
			return run
		}
		if time.Now().After(deadline) {
			status := models.RunStatus("")
			if run != nil {
				status = run.Status
			}
			t.Fatalf("run %s: status %q, want %q (err=%v)", runID, status, want, err)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestScheduler_SubmitCompletes(t *testing.T) {
	store := newTestStore(t)
	var calls [3]int32
	var fail atomic.Bool
	def := counterDef(&calls, &fail)
	var completed atomic.Int32
	def.OnComplete = func(ctx context.Context, run *models.Run) { completed.Add(1) }

	s := NewScheduler(store, WithWorkers(2), WithBackoff(10*time.Millisecond))
	s.Register(def)
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer s.Stop()

	run, err := s.Submit(context.Background(), "counter", map[string]int{"n": 3})
	if err != nil {
		t.Fatal(err)
	}
	done := waitForStatus(t, store, run.ID, models.RunCompleted)
	if done.Attempts != 1 {
		t.Errorf("attempts = %d, want 1", done.Attempts)
	}
	s.Stop()
	if completed.Load() != 1 {
		t.Errorf("OnComplete called %d times", completed.Load())
	}
}

func TestScheduler_RetriesFromFailedStep(t *testing.T) {
	store := newTestStore(t)
	var calls [3]int32
	var fail atomic.Bool
	fail.Store(true)
	def := counterDef(&calls, &fail)
	def.OnComplete = func(ctx context.Context, run *models.Run) {}

	s := NewScheduler(store, WithWorkers(1), WithBackoff(20*time.Millisecond), WithMaxAttempts(10))
	s.Register(def)
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer s.Stop()

	run, err := s.Submit(context.Background(), "counter", map[string]int{"n": 1})
	if err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return atomic.LoadInt32(&calls[1]) >= 2 })
	fail.Store(false)
	done := waitForStatus(t, store, run.ID, models.RunCompleted)

	if atomic.LoadInt32(&calls[0]) != 1 {
		t.Errorf("first step ran %d times, want 1", calls[0])
	}
	if done.Attempts < 2 {
		t.Errorf("attempts = %d, want >= 2", done.Attempts)
	}
	var third int
	if err := done.Result("third", &third); err != nil || third != 22 {
		t.Errorf("third = %d, %v", third, err)
	}
}

func TestScheduler_MarksRunFailedAfterMaxAttempts(t *testing.T) {
	store := newTestStore(t)
	var calls [3]int32
	var fail atomic.Bool
	fail.Store(true)
	def := counterDef(&calls, &fail)

	s := NewScheduler(store, WithWorkers(1), WithBackoff(5*time.Millisecond), WithMaxAttempts(3))
	s.Register(def)
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer s.Stop()

	run, err := s.Submit(context.Background(), "counter", map[string]int{"n": 1})
	if err != nil {
		t.Fatal(err)
	}
	failed := waitForStatus(t, store, run.ID, models.RunFailed)
	if failed.Attempts != 3 {
		t.Errorf("attempts = %d, want 3", failed.Attempts)
	}
	if failed.LastError == "" {
		t.Error("last error should be recorded")
	}
	if atomic.LoadInt32(&calls[1]) != 3 {
		t.Errorf("second step ran %d times, want 3", calls[1])
	}

	fail.Store(false)
	if _, err := s.Retry(context.Background(), run.ID); err != nil {
		t.Fatal(err)
	}
	waitForStatus(t, store, run.ID, models.RunCompleted)
	if atomic.LoadInt32(&calls[0]) != 1 {
		t.Errorf("first step ran %d times after manual retry, want 1", calls[0])
	}
	if _, err := s.Retry(context.Background(), run.ID); !errors.Is(err, ErrNotRetryable) {
		t.Errorf("retrying a completed run: err = %v, want ErrNotRetryable", err)
	}
}

func TestScheduler_ResumesUnfinishedRunsOnStart(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	var calls [3]int32
	var fail atomic.Bool
	def := counterDef(&calls, &fail)

	// Simulate a process that died after the first step completed.
	run := &models.Run{ID: "crashed", Workflow: "counter", Payload: json.RawMessage(`{"n":5}`), Status: models.RunRunning, Attempts: 1}
	if err := store.CreateRun(ctx, run); err != nil {
		t.Fatal(err)
	}
	if err := store.RecordStep(ctx, run.ID, &models.StepOutcome{Step: "first", Status: models.StepCompleted, Result: json.RawMessage(`7`)}); err != nil {
		t.Fatal(err)
	}

	s := NewScheduler(store, WithWorkers(1))
	s.Register(def)
	if err := s.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer s.Stop()

	done := waitForStatus(t, store, run.ID, models.RunCompleted)
	if atomic.LoadInt32(&calls[0]) != 0 {
		t.Error("completed first step must not be re-run on resume")
	}
	var third int
	if err := done.Result("third", &third); err != nil || third != 16 {
		t.Errorf("third = %d, %v (want result built on the stored first result)", third, err)
	}
}

func TestScheduler_SubmitBeforeStartRunsOnce(t *testing.T) {
	store := newTestStore(t)
	var calls [3]int32
	var fail atomic.Bool
	def := counterDef(&calls, &fail)

	s := NewScheduler(store, WithWorkers(2))
	s.Register(def)
	run, err := s.Submit(context.Background(), "counter", map[string]int{"n": 2})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer s.Stop()

	done := waitForStatus(t, store, run.ID, models.RunCompleted)
	s.Stop()
	if n := atomic.LoadInt32(&calls[0]); n != 1 {
		t.Errorf("first step ran %d times, want 1", n)
	}
	if done.Attempts != 1 {
		t.Errorf("attempts = %d, want 1", done.Attempts)
	}
}

func TestScheduler_SkipsRunClaimedElsewhere(t *testing.T) {
	store := newTestStore(t)
	var calls [3]int32
	var fail atomic.Bool
	s := NewScheduler(store)
	s.Register(counterDef(&calls, &fail))

	run := newRun(t, store, "counter", `{"n":1}`)
	if claimed, err := store.ClaimRun(context.Background(), run.ID); err != nil || !claimed {
		t.Fatalf("claim = %v, %v", claimed, err)
	}
	s.process(run.ID)
	if n := atomic.LoadInt32(&calls[0]); n != 0 {
		t.Errorf("a running run was executed again: first step ran %d times", n)
	}
}

func TestScheduler_SubmitWithFullQueueStillRuns(t *testing.T) {
	store := newTestStore(t)
	var calls [3]int32
	var fail atomic.Bool
	s := NewScheduler(store, WithWorkers(1))
	s.queue = make(chan string, 1)
	s.Register(counterDef(&calls, &fail))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var ids []string
	for i := 0; i < 3; i++ {
		run, err := s.Submit(ctx, "counter", map[string]int{"n": i})
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, run.ID)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer s.Stop()

	for _, id := range ids {
		waitForStatus(t, store, id, models.RunCompleted)
	}
	s.Stop()
	if n := atomic.LoadInt32(&calls[0]); n != 3 {
		t.Errorf("first step ran %d times, want 3", n)
	}
}

func TestScheduler_SubmitUnknownWorkflow(t *testing.T) {
	s := NewScheduler(newTestStore(t))
	if _, err := s.Submit(context.Background(), "missing", nil); err == nil {
		t.Error("expected error for unknown workflow")
	}
}

func TestScheduler_SubmitAfterStop(t *testing.T) {
	s := NewScheduler(newTestStore(t))
	s.Register(&Definition{Name: "noop"})
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	s.Stop()
	if _, err := s.Submit(context.Background(), "noop", nil); err != ErrStopped {
		t.Errorf("expected ErrStopped, got %v", err)
	}
}

func TestScheduler_RetryDelay(t *testing.T) {
	s := NewScheduler(newTestStore(t), WithBackoff(time.Second))
	tests := []struct {
		attempts int
		want     time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{4, 8 * time.Second},
		{30, maxBackoff},
	}
	for _, tt := range tests {
		if got := s.retryDelay(tt.attempts); got != tt.want {
			t.Errorf("retryDelay(%d) = %v, want %v", tt.attempts, got, tt.want)
		}
	}
}
