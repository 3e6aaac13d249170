package storage

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"

	"github.com/hyperjump/kioku/internal/models"
)

func newTestStorage(t *testing.T) *SQLiteStorage {
	t.Helper()
	store, err := NewSQLiteStorage(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSQLiteStorage_Notes(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	first, err := store.InsertNote(ctx, "Paris is the capital of France")
	if err != nil {
		t.Fatal(err)
	}
	if first.ID == "" || first.CreatedAt.IsZero() {
		t.Fatalf("InsertNote returned %+v", first)
	}
	second, err := store.InsertNote(ctx, "The Seine flows through Paris")
	if err != nil {
		t.Fatal(err)
	}
	if second.ID == first.ID {
		t.Error("note IDs should be unique")
	}

	got, err := store.GetNote(ctx, first.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Text != "Paris is the capital of France" {
		t.Errorf("got %+v", got)
	}

	list, err := store.ListNotes(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 || list[0].ID != first.ID {
		t.Errorf("ListNotes = %+v", list)
	}

	n, err := store.CountNotes(ctx)
	if err != nil || n != 2 {
		t.Errorf("CountNotes = %d, %v", n, err)
	}

	if err := store.DeleteNote(ctx, first.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := store.GetNote(ctx, first.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
	if err := store.DeleteNote(ctx, first.ID); err != nil {
		t.Errorf("deleting a missing note should succeed, got %v", err)
	}
}

func TestSQLiteStorage_GetNote_notFound(t *testing.T) {
	store := newTestStorage(t)
	for _, id := range []string{"42", "not-a-number", ""} {
		if _, err := store.GetNote(context.Background(), id); !errors.Is(err, ErrNotFound) {
			t.Errorf("GetNote(%q): expected ErrNotFound, got %v", id, err)
		}
	}
}

func TestSQLiteStorage_ListNotes_empty(t *testing.T) {
	store := newTestStorage(t)
	list, err := store.ListNotes(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if list == nil || len(list) != 0 {
		t.Errorf("expected empty non-nil list, got %v", list)
	}
}

func TestSQLiteStorage_Runs(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	run := &models.Run{ID: "run-1", Workflow: "ingest-note", Payload: json.RawMessage(`{"text":"hi"}`)}
	if err := store.CreateRun(ctx, run); err != nil {
		t.Fatal(err)
	}
	if run.Status != models.RunQueued {
		t.Errorf("new run status = %s", run.Status)
	}

	steps := []*models.StepOutcome{
		{Step: "create database record", Status: models.StepCompleted, Result: json.RawMessage(`{"id":"1"}`)},
		{Step: "generate embedding", Status: models.StepFailed, Error: "provider down"},
	}
	for _, s := range steps {
		if err := store.RecordStep(ctx, run.ID, s); err != nil {
			t.Fatal(err)
		}
	}
	if err := store.UpdateRun(ctx, run.ID, models.RunErrored, 1, "provider down"); err != nil {
		t.Fatal(err)
	}

	got, err := store.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != models.RunErrored || got.Attempts != 1 || got.LastError != "provider down" {
		t.Errorf("run = %+v", got)
	}
	if len(got.Steps) != 2 || got.Steps[0].Step != "create database record" || got.Steps[1].Step != "generate embedding" {
		t.Fatalf("steps = %+v", got.Steps)
	}
	if string(got.Steps[0].Result) != `{"id":"1"}` {
		t.Errorf("result = %s", got.Steps[0].Result)
	}

	list, err := store.ListRuns(ctx, models.RunQueued, models.RunErrored)
	if err != nil || len(list) != 1 {
		t.Fatalf("ListRuns = %v, %v", list, err)
	}
	list, err = store.ListRuns(ctx, models.RunCompleted)
	if err != nil || len(list) != 0 {
		t.Fatalf("ListRuns(completed) = %v, %v", list, err)
	}

	counts, err := store.CountRuns(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if counts[models.RunErrored] != 1 {
		t.Errorf("counts = %v", counts)
	}
}

func TestSQLiteStorage_RecordStep_completedIsImmutable(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()
	if err := store.CreateRun(ctx, &models.Run{ID: "r", Workflow: "w", Payload: json.RawMessage(`{}`)}); err != nil {
		t.Fatal(err)
	}
	if err := store.RecordStep(ctx, "r", &models.StepOutcome{Step: "s", Status: models.StepPending}); err != nil {
		t.Fatal(err)
	}
	if err := store.RecordStep(ctx, "r", &models.StepOutcome{Step: "s", Status: models.StepCompleted, Result: json.RawMessage(`1`)}); err != nil {
		t.Fatal(err)
	}
	if err := store.RecordStep(ctx, "r", &models.StepOutcome{Step: "s", Status: models.StepFailed, Error: "late"}); err != nil {
		t.Fatal(err)
	}
	got, err := store.GetRun(ctx, "r")
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Steps) != 1 || got.Steps[0].Status != models.StepCompleted || string(got.Steps[0].Result) != "1" {
		t.Errorf("completed outcome was overwritten: %+v", got.Steps[0])
	}
}

func TestSQLiteStorage_GetRun_notFound(t *testing.T) {
	store := newTestStorage(t)
	if _, err := store.GetRun(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := store.UpdateRun(context.Background(), "missing", models.RunFailed, 1, ""); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSQLiteStorage_ClaimRun(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()
	if err := store.CreateRun(ctx, &models.Run{ID: "r", Workflow: "w", Payload: json.RawMessage(`{}`)}); err != nil {
		t.Fatal(err)
	}

	claimed, err := store.ClaimRun(ctx, "r")
	if err != nil || !claimed {
		t.Fatalf("first claim = %v, %v", claimed, err)
	}
	claimed, err = store.ClaimRun(ctx, "r")
	if err != nil || claimed {
		t.Fatalf("claiming a running run = %v, %v, want false", claimed, err)
	}

	if err := store.UpdateRun(ctx, "r", models.RunErrored, 1, "boom"); err != nil {
		t.Fatal(err)
	}
	claimed, err = store.ClaimRun(ctx, "r")
	if err != nil || !claimed {
		t.Fatalf("claiming an errored run = %v, %v", claimed, err)
	}
	got, err := store.GetRun(ctx, "r")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != models.RunRunning || got.Attempts != 2 {
		t.Errorf("run = %s attempts=%d, want running attempts=2", got.Status, got.Attempts)
	}

	if err := store.UpdateRun(ctx, "r", models.RunCompleted, 2, ""); err != nil {
		t.Fatal(err)
	}
	if claimed, _ := store.ClaimRun(ctx, "r"); claimed {
		t.Error("a completed run must not be claimed")
	}
	if claimed, err := store.ClaimRun(ctx, "missing"); err != nil || claimed {
		t.Errorf("claiming an unknown run = %v, %v", claimed, err)
	}
}
