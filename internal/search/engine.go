// Package search answers questions with retrieval-augmented generation and ranks notes for
// keyword and semantic search.
package search

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hyperjump/kioku/internal/chat"
	"github.com/hyperjump/kioku/internal/embedding"
	"github.com/hyperjump/kioku/internal/keyword"
	"github.com/hyperjump/kioku/internal/metrics"
	"github.com/hyperjump/kioku/internal/models"
	"github.com/hyperjump/kioku/internal/storage"
	"github.com/hyperjump/kioku/internal/vector"
	"github.com/hyperjump/kioku/pkg/utils"
)

var tracer = otel.Tracer("github.com/hyperjump/kioku/search")

const (
	defaultTopK             = 5
	defaultFetchConcurrency = 5
	defaultNamespace        = "default"
	snippetLength           = 200
)

// Engine runs the retrieval pipeline and note search. It holds no per-request state.
type Engine struct {
	notes            storage.NoteStore
	embedder         embedding.Embedder
	vectorIndex      vector.VectorIndex
	chat             chat.Provider
	keywordIndex     keyword.KeywordIndex
	topK             int
	namespace        string
	fetchConcurrency int
	defaultQuery     string
	logger           *zap.Logger
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithLogger sets a logger for pipeline events.
func WithLogger(l *zap.Logger) EngineOption {
	return func(e *Engine) { e.logger = l }
}

// WithKeywordIndex enables the keyword side of Search.
func WithKeywordIndex(k keyword.KeywordIndex) EngineOption {
	return func(e *Engine) { e.keywordIndex = k }
}

// WithTopK sets how many vector matches are considered as context.
func WithTopK(k int) EngineOption {
	return func(e *Engine) {
		if k > 0 {
			e.topK = k
		}
	}
}

// WithNamespace sets the vector namespace queried.
func WithNamespace(ns string) EngineOption {
	return func(e *Engine) {
		if ns != "" {
			e.namespace = ns
		}
	}
}

// WithFetchConcurrency bounds how many notes are fetched at once.
func WithFetchConcurrency(n int) EngineOption {
	return func(e *Engine) {
		if n > 0 {
			e.fetchConcurrency = n
		}
	}
}

// WithDefaultQuery sets the query used when a request carries none.
func WithDefaultQuery(q string) EngineOption {
	return func(e *Engine) {
		if q != "" {
			e.defaultQuery = q
		}
	}
}

// NewEngine creates a search engine with the given dependencies.
func NewEngine(
	notes storage.NoteStore,
	embedder embedding.Embedder,
	vectorIndex vector.VectorIndex,
	chatProvider chat.Provider,
	opts ...EngineOption,
) *Engine {
	e := &Engine{
		notes:            notes,
		embedder:         embedder,
		vectorIndex:      vectorIndex,
		chat:             chatProvider,
		topK:             defaultTopK,
		namespace:        defaultNamespace,
		fetchConcurrency: defaultFetchConcurrency,
		defaultQuery:     models.DefaultQuery,
		logger:           zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Answer runs one query through the pipeline: embed the query, take the top matches, fetch
// their notes, build the prompt and ask the chat model. The returned messages are the prior
// turns followed by the user turn and the assistant turn.
//
// Embedding, vector and storage failures are returned as errors. When the chat model fails or
// returns no text the error wraps models.ErrGenerationUnavailable.
func (e *Engine) Answer(ctx context.Context, req *models.QueryRequest) (*models.QueryResponse, error) {
	if req == nil {
		req = &models.QueryRequest{}
	}
	req.Normalize(e.defaultQuery)

	ctx, span := tracer.Start(ctx, "retrieval.answer")
	defer span.End()
	span.SetAttributes(attribute.Int("kioku.prior_messages", len(req.Messages)))

	notes, err := e.Retrieve(ctx, req.Query)
	if err != nil {
		metrics.QueriesTotal.WithLabelValues("error").Inc()
		failSpan(span, err)
		return nil, err
	}
	metrics.ContextNotes.Observe(float64(len(notes)))

	messages := BuildMessages(ContextBlock(notes), req.Messages, req.Query)
	reply, err := e.chat.Complete(ctx, messages)
	if err == nil && reply == "" {
		err = models.ErrGenerationUnavailable
	} else if err != nil {
		err = fmt.Errorf("%w: %v", models.ErrGenerationUnavailable, err)
	}
	if err != nil {
		metrics.QueriesTotal.WithLabelValues("generation_failed").Inc()
		failSpan(span, err)
		e.logger.Warn("chat model produced no answer", zap.Int("notes", len(notes)), zap.Error(err))
		return nil, err
	}

	metrics.QueriesTotal.WithLabelValues("answered").Inc()
	e.logger.Debug("query answered", zap.Int("notes", len(notes)), zap.Int("reply_chars", len(reply)))

	history := make([]models.Message, 0, len(req.Messages)+2)
	history = append(history, req.Messages...)
	history = append(history,
		models.Message{Role: models.RoleUser, Content: req.Query},
		models.Message{Role: models.RoleAssistant, Content: reply},
	)
	return &models.QueryResponse{Messages: history, Response: reply}, nil
}

// Retrieve returns the notes most similar to query, in match order. Matches whose note no
// longer exists are dropped.
func (e *Engine) Retrieve(ctx context.Context, query string) ([]*models.Note, error) {
	ctx, span := tracer.Start(ctx, "retrieval.retrieve")
	defer span.End()

	values, err := e.embedQuery(ctx, query)
	if err != nil {
		return nil, err
	}
	matches, err := e.vectorIndex.Query(ctx, values, e.topK, e.namespace)
	if err != nil {
		return nil, fmt.Errorf("vector query: %w", err)
	}
	span.SetAttributes(attribute.Int("kioku.matches", len(matches)))

	ids := make([]string, len(matches))
	for i, m := range matches {
		ids[i] = m.ID
	}
	notes, err := e.fetchNotes(ctx, ids)
	if err != nil {
		return nil, err
	}
	e.logger.Debug("context retrieved", zap.Int("matches", len(matches)), zap.Int("notes", len(notes)))
	return notes, nil
}

func (e *Engine) embedQuery(ctx context.Context, query string) ([]float32, error) {
	values, err := e.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrEmbedding, err)
	}
	if len(values) == 0 {
		return nil, models.ErrEmbedding
	}
	return values, nil
}

// fetchNotes loads notes concurrently. Each ID gets its own result slot so the output keeps
// the order of ids regardless of completion order. A missing note leaves its slot empty; any
// other storage error fails the whole fetch.
func (e *Engine) fetchNotes(ctx context.Context, ids []string) ([]*models.Note, error) {
	slots := make([]*models.Note, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.fetchConcurrency)
	for i, id := range ids {
		g.Go(func() error {
			note, err := e.notes.GetNote(gctx, id)
			if errors.Is(err, storage.ErrNotFound) {
				return nil
			}
			if err != nil {
				return fmt.Errorf("fetch note %s: %w", id, err)
			}
			slots[i] = note
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	notes := make([]*models.Note, 0, len(slots))
	for _, n := range slots {
		if n != nil {
			notes = append(notes, n)
		}
	}
	return notes, nil
}

// Search ranks notes for q by blending normalized keyword and semantic scores.
func (e *Engine) Search(ctx context.Context, q *models.NoteSearchQuery) (*models.NoteSearchResponse, error) {
	startTime := time.Now()
	if err := q.Validate(); err != nil {
		return nil, err
	}
	ctx, span := tracer.Start(ctx, "search.notes")
	defer span.End()

	candidates := q.Limit * 4
	if candidates < 20 {
		candidates = 20
	}

	var (
		keywordResults []*keyword.KeywordResult
		matches        []*vector.Match
	)
	g, gctx := errgroup.WithContext(ctx)
	if q.KeywordWeight > 0 && e.keywordIndex != nil {
		g.Go(func() error {
			opts := &keyword.SearchOptions{FuzzyEnabled: q.Fuzzy, PhraseBoost: 1.5}
			results, err := e.keywordIndex.Search(gctx, q.Query, candidates, opts)
			if err != nil {
				return fmt.Errorf("keyword search failed: %w", err)
			}
			keywordResults = results
			return nil
		})
	}
	if q.SemanticWeight > 0 {
		g.Go(func() error {
			values, err := e.embedQuery(gctx, q.Query)
			if err != nil {
				return err
			}
			results, err := e.vectorIndex.Query(gctx, values, candidates, e.namespace)
			if err != nil {
				return fmt.Errorf("vector search failed: %w", err)
			}
			matches = results
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		failSpan(span, err)
		return nil, err
	}

	fused := Fuse(NormalizeKeywordScores(keywordResults), NormalizeSemanticScores(matches), q.KeywordWeight, q.SemanticWeight)
	if q.MinScore > 0 {
		filtered := fused[:0]
		for _, r := range fused {
			if r.Score >= q.MinScore {
				filtered = append(filtered, r)
			}
		}
		fused = filtered
	}

	ids := make([]string, len(fused))
	for i, r := range fused {
		ids[i] = r.NoteID
	}
	notes, err := e.fetchNotes(ctx, ids)
	if err != nil {
		failSpan(span, err)
		return nil, err
	}
	byID := make(map[string]*models.Note, len(notes))
	for _, n := range notes {
		byID[n.ID] = n
	}

	response := &models.NoteSearchResponse{
		Results: make([]*models.NoteSearchResult, 0, q.Limit),
		Query:   q.Query,
	}
	for _, r := range fused {
		note, ok := byID[r.NoteID]
		if !ok {
			continue
		}
		response.Total++
		if len(response.Results) == q.Limit {
			continue
		}
		response.Results = append(response.Results, &models.NoteSearchResult{
			Note:          note,
			Snippet:       utils.Truncate(note.Text, snippetLength),
			Score:         r.Score,
			KeywordScore:  r.KeywordScore,
			SemanticScore: r.SemanticScore,
			Rank:          len(response.Results) + 1,
		})
	}
	response.QueryTime = time.Since(startTime).Milliseconds()
	return response, nil
}

func failSpan(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
