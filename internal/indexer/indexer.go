// Package indexer turns submitted text into stored notes and vectors through a durable
// ingestion workflow, and keeps the note, vector and keyword indices consistent on delete.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/hyperjump/kioku/internal/embedding"
	"github.com/hyperjump/kioku/internal/extract"
	"github.com/hyperjump/kioku/internal/keyword"
	"github.com/hyperjump/kioku/internal/metrics"
	"github.com/hyperjump/kioku/internal/models"
	"github.com/hyperjump/kioku/internal/storage"
	"github.com/hyperjump/kioku/internal/vector"
	"github.com/hyperjump/kioku/internal/workflow"
)

// Ingestion workflow and step names. Step names key the persisted step log, so renaming one
// makes in-flight runs repeat that step.
const (
	IngestionWorkflow     = "ingest-note"
	StepCreateRecord      = "create database record"
	StepGenerateEmbedding = "generate embedding"
	StepInsertVector      = "insert vector"
)

// DefaultNamespace is the vector namespace used when none is configured.
const DefaultNamespace = "default"

// Submitter schedules workflow runs. *workflow.Scheduler implements it.
type Submitter interface {
	Register(def *workflow.Definition)
	Submit(ctx context.Context, workflow string, payload interface{}) (*models.Run, error)
}

// Indexer ingests and deletes notes.
type Indexer struct {
	notes        storage.NoteStore
	embedder     embedding.Embedder
	vectorIndex  vector.VectorIndex
	keywordIndex keyword.KeywordIndex
	runs         Submitter
	extractor    *extract.Extractor
	namespace    string
	chunkSize    int
	chunkOverlap int
	processedDir string
	logger       *zap.Logger
}

// IndexerOption configures an Indexer.
type IndexerOption func(*Indexer)

// WithLogger sets a logger for ingestion and deletion events.
func WithLogger(l *zap.Logger) IndexerOption {
	return func(idx *Indexer) { idx.logger = l }
}

// WithKeywordIndex keeps a full-text index of notes up to date. Without it only the vector
// index is maintained.
func WithKeywordIndex(k keyword.KeywordIndex) IndexerOption {
	return func(idx *Indexer) { idx.keywordIndex = k }
}

// WithNamespace sets the vector namespace notes are written to.
func WithNamespace(ns string) IndexerOption {
	return func(idx *Indexer) {
		if ns != "" {
			idx.namespace = ns
		}
	}
}

// WithInbox configures file ingestion: extracted text is split into chunks of chunkSize
// characters overlapping by chunkOverlap, and ingested files are moved into processedDir
// (relative to the file's directory unless absolute).
func WithInbox(chunkSize, chunkOverlap int, processedDir string) IndexerOption {
	return func(idx *Indexer) {
		if chunkSize > 0 {
			idx.chunkSize = chunkSize
		}
		if chunkOverlap >= 0 && chunkOverlap < idx.chunkSize {
			idx.chunkOverlap = chunkOverlap
		}
		if processedDir != "" {
			idx.processedDir = processedDir
		}
	}
}

// NewIndexer creates an indexer and registers the ingestion workflow with runs.
func NewIndexer(
	notes storage.NoteStore,
	embedder embedding.Embedder,
	vectorIndex vector.VectorIndex,
	runs Submitter,
	opts ...IndexerOption,
) *Indexer {
	idx := &Indexer{
		notes:        notes,
		embedder:     embedder,
		vectorIndex:  vectorIndex,
		runs:         runs,
		extractor:    extract.NewExtractor(),
		namespace:    DefaultNamespace,
		chunkSize:    1000,
		chunkOverlap: 100,
		processedDir: ".ingested",
		logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(idx)
	}
	runs.Register(idx.Definition())
	return idx
}

// Namespace returns the vector namespace notes are written to.
func (idx *Indexer) Namespace() string {
	return idx.namespace
}

// Definition returns the ingestion workflow: insert the note, embed the submitted text, then
// upsert the vector keyed by the note ID. Completed runs are added to the keyword index.
func (idx *Indexer) Definition() *workflow.Definition {
	return &workflow.Definition{
		Name: IngestionWorkflow,
		Steps: []workflow.Step{
			{Name: StepCreateRecord, Run: idx.createRecord},
			{Name: StepGenerateEmbedding, Run: idx.generateEmbedding},
			{Name: StepInsertVector, Run: idx.insertVector},
		},
		OnComplete: idx.indexKeywords,
	}
}

func (idx *Indexer) createRecord(ctx context.Context, rc *workflow.RunContext) (interface{}, error) {
	var in models.NoteInput
	if err := rc.Payload(&in); err != nil {
		return nil, err
	}
	note, err := idx.notes.InsertNote(ctx, in.Text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrPersistence, err)
	}
	if note == nil || note.ID == "" {
		return nil, models.ErrPersistence
	}
	return note, nil
}

// generateEmbedding embeds the submitted text rather than the stored row.
func (idx *Indexer) generateEmbedding(ctx context.Context, rc *workflow.RunContext) (interface{}, error) {
	var in models.NoteInput
	if err := rc.Payload(&in); err != nil {
		return nil, err
	}
	values, err := idx.embedder.Embed(ctx, in.Text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrEmbedding, err)
	}
	if len(values) == 0 {
		return nil, models.ErrEmbedding
	}
	return values, nil
}

func (idx *Indexer) insertVector(ctx context.Context, rc *workflow.RunContext) (interface{}, error) {
	var note models.Note
	if err := rc.Result(StepCreateRecord, &note); err != nil {
		return nil, err
	}
	var values []float32
	if err := rc.Result(StepGenerateEmbedding, &values); err != nil {
		return nil, err
	}
	record := models.VectorRecord{ID: note.ID, Values: values, Namespace: idx.namespace}
	if err := idx.vectorIndex.Upsert(ctx, []models.VectorRecord{record}); err != nil {
		return nil, err
	}
	return map[string]string{"id": record.ID, "namespace": record.Namespace}, nil
}

func (idx *Indexer) indexKeywords(ctx context.Context, run *models.Run) {
	if idx.keywordIndex == nil {
		return
	}
	var note models.Note
	if err := run.Result(StepCreateRecord, &note); err != nil {
		idx.logger.Warn("completed run has no note record", zap.String("run_id", run.ID), zap.Error(err))
		return
	}
	if err := idx.keywordIndex.Index(ctx, &note); err != nil {
		idx.logger.Warn("keyword indexing failed", zap.String("note_id", note.ID), zap.Error(err))
		return
	}
	idx.logger.Debug("note ingested", zap.String("run_id", run.ID), zap.String("note_id", note.ID))
}

// Submit validates input and schedules an ingestion run without waiting for it.
// Returns models.ErrValidation for missing or blank text.
func (idx *Indexer) Submit(ctx context.Context, input *models.NoteInput) (*models.Run, error) {
	if err := input.Validate(); err != nil {
		return nil, err
	}
	run, err := idx.runs.Submit(ctx, IngestionWorkflow, models.NoteInput{Text: input.Text})
	if err != nil {
		return nil, fmt.Errorf("schedule ingestion: %w", err)
	}
	idx.logger.Debug("ingestion scheduled", zap.String("run_id", run.ID), zap.Int("chars", len(input.Text)))
	return run, nil
}

// DeleteNote deletes the note row, then removes its vector and keyword entries. The index
// removals are best effort: a failure is logged and counted but the delete still succeeds,
// which can leave an orphaned vector that later queries drop when its note is missing.
// Deleting an unknown id is not an error.
func (idx *Indexer) DeleteNote(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return models.ErrValidation
	}
	if err := idx.notes.DeleteNote(ctx, id); err != nil {
		return fmt.Errorf("delete note: %w", err)
	}
	if err := idx.vectorIndex.DeleteByIDs(ctx, []string{id}, idx.namespace); err != nil {
		metrics.PartialDeletes.Inc()
		idx.logger.Warn("vector delete failed, vector left orphaned", zap.String("note_id", id), zap.Error(err))
	}
	if idx.keywordIndex != nil {
		if err := idx.keywordIndex.Delete(ctx, id); err != nil {
			idx.logger.Warn("keyword delete failed", zap.String("note_id", id), zap.Error(err))
		}
	}
	idx.logger.Debug("note deleted", zap.String("note_id", id))
	return nil
}

// BackfillKeywords indexes every stored note into the keyword index when the index holds fewer
// documents than the store, e.g. after the index directory was removed. Returns how many notes
// were indexed.
func (idx *Indexer) BackfillKeywords(ctx context.Context) (int, error) {
	if idx.keywordIndex == nil {
		return 0, nil
	}
	have, err := idx.keywordIndex.DocCount()
	if err != nil {
		return 0, fmt.Errorf("keyword doc count: %w", err)
	}
	want, err := idx.notes.CountNotes(ctx)
	if err != nil {
		return 0, err
	}
	if int64(have) >= want {
		return 0, nil
	}
	notes, err := idx.notes.ListNotes(ctx)
	if err != nil {
		return 0, err
	}
	var errs []error
	n := 0
	for _, note := range notes {
		if err := idx.keywordIndex.Index(ctx, note); err != nil {
			errs = append(errs, fmt.Errorf("note %s: %w", note.ID, err))
			continue
		}
		n++
	}
	idx.logger.Info("keyword index backfilled", zap.Int("notes", n))
	return n, errors.Join(errs...)
}
