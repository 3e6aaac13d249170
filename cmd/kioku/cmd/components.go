package cmd

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/kioku/internal/chat"
	"github.com/hyperjump/kioku/internal/config"
	"github.com/hyperjump/kioku/internal/embedding"
	"github.com/hyperjump/kioku/internal/indexer"
	"github.com/hyperjump/kioku/internal/keyword"
	"github.com/hyperjump/kioku/internal/search"
	"github.com/hyperjump/kioku/internal/storage"
	"github.com/hyperjump/kioku/internal/vector"
	"github.com/hyperjump/kioku/internal/workflow"
)

// Components holds initialized services.
type Components struct {
	Storage      storage.Storage
	Embedder     embedding.Embedder
	VectorIndex  vector.VectorIndex
	KeywordIndex keyword.KeywordIndex
	Scheduler    *workflow.Scheduler
	Indexer      *indexer.Indexer
	Engine       *search.Engine
}

// Close stops the scheduler, letting in-flight steps finish, then closes every store.
func (c *Components) Close() {
	if c.Scheduler != nil {
		c.Scheduler.Stop()
	}
	if c.KeywordIndex != nil {
		_ = c.KeywordIndex.Close()
	}
	if c.VectorIndex != nil {
		_ = c.VectorIndex.Close()
	}
	if c.Embedder != nil {
		_ = c.Embedder.Close()
	}
	if c.Storage != nil {
		_ = c.Storage.Close()
	}
}

// initializeComponents opens the stores and providers named by cfg and wires the ingestion
// workflow. The scheduler is not started.
func initializeComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger) (_ *Components, err error) {
	c := &Components{}
	defer func() {
		if err != nil {
			c.Close()
		}
	}()

	store, err := storage.NewSQLiteStorage(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	c.Storage = store

	c.Embedder, err = embedding.New(ctx, cfg.Embedding, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}

	c.VectorIndex, err = vector.NewVectorIndex(ctx, cfg.Vector, cfg.Storage.VectorPath, c.Embedder.Dimensions())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize vector index: %w", err)
	}
	logger.Info("vector index initialized",
		zap.String("type", cfg.Vector.IndexType),
		zap.String("namespace", cfg.Vector.Namespace))

	c.KeywordIndex, err = keyword.NewBleveIndex(cfg.Storage.KeywordIndexPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize keyword index: %w", err)
	}

	chatProvider, err := chat.New(ctx, cfg.Chat)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize chat provider: %w", err)
	}

	c.Scheduler = workflow.NewScheduler(store,
		workflow.WithWorkers(cfg.Workflow.Workers),
		workflow.WithMaxAttempts(cfg.Workflow.MaxAttempts),
		workflow.WithBackoff(time.Duration(cfg.Workflow.RetryBackoffSecs)*time.Second),
		workflow.WithLogger(logger),
	)
	c.Indexer = indexer.NewIndexer(store, c.Embedder, c.VectorIndex, c.Scheduler,
		indexer.WithLogger(logger),
		indexer.WithKeywordIndex(c.KeywordIndex),
		indexer.WithNamespace(cfg.Vector.Namespace),
		indexer.WithInbox(cfg.Inbox.ChunkSize, cfg.Inbox.ChunkOverlap, cfg.Inbox.ProcessedDir),
	)
	if n, err := c.Indexer.BackfillKeywords(ctx); err != nil {
		logger.Warn("keyword backfill failed", zap.Error(err))
	} else if n > 0 {
		logger.Info("keyword index backfilled", zap.Int("notes", n))
	}

	c.Engine = search.NewEngine(store, c.Embedder, c.VectorIndex, chatProvider,
		search.WithLogger(logger),
		search.WithKeywordIndex(c.KeywordIndex),
		search.WithTopK(cfg.Retrieval.TopK),
		search.WithNamespace(cfg.Vector.Namespace),
		search.WithFetchConcurrency(cfg.Retrieval.FetchConcurrency),
		search.WithDefaultQuery(cfg.Retrieval.DefaultQuery),
	)
	return c, nil
}
