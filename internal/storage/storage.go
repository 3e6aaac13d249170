// Package storage defines the persistence interfaces for notes and workflow runs.
package storage

import (
	"context"
	"errors"

	"github.com/hyperjump/kioku/internal/models"
)

// ErrNotFound is returned when a note or run does not exist.
var ErrNotFound = errors.New("not found")

// NoteStore persists notes. IDs are assigned by the store.
type NoteStore interface {
	InsertNote(ctx context.Context, text string) (*models.Note, error)
	GetNote(ctx context.Context, id string) (*models.Note, error)
	ListNotes(ctx context.Context) ([]*models.Note, error)
	DeleteNote(ctx context.Context, id string) error
	CountNotes(ctx context.Context) (int64, error)
}

// RunStore persists workflow runs and their step logs.
// A step outcome recorded as completed is never overwritten.
type RunStore interface {
	CreateRun(ctx context.Context, run *models.Run) error
	GetRun(ctx context.Context, id string) (*models.Run, error)
	UpdateRun(ctx context.Context, id string, status models.RunStatus, attempts int, lastError string) error
	ClaimRun(ctx context.Context, id string) (bool, error)
	ListRuns(ctx context.Context, statuses ...models.RunStatus) ([]*models.Run, error)
	RecordStep(ctx context.Context, runID string, outcome *models.StepOutcome) error
	CountRuns(ctx context.Context) (map[models.RunStatus]int64, error)
}

// Storage is the combined note and run store backed by one database.
type Storage interface {
	NoteStore
	RunStore
	Close() error
}
