// Package server provides the HTTP API for Kioku.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/hyperjump/kioku/internal/config"
	"github.com/hyperjump/kioku/internal/indexer"
	"github.com/hyperjump/kioku/internal/keyword"
	"github.com/hyperjump/kioku/internal/metrics"
	"github.com/hyperjump/kioku/internal/models"
	"github.com/hyperjump/kioku/internal/search"
	"github.com/hyperjump/kioku/internal/storage"
	"github.com/hyperjump/kioku/internal/vector"
)

// RunRetrier re-queues a terminally failed workflow run. *workflow.Scheduler implements it.
type RunRetrier interface {
	Retry(ctx context.Context, runID string) (*models.Run, error)
}

// InboxService reports the directories watched for dropped files. *watcher.Watcher implements it.
type InboxService interface {
	Directories() []string
}

// Server is the HTTP server for the Kioku API.
type Server struct {
	engine   *search.Engine
	indexer  *indexer.Indexer
	storage  storage.Storage
	vectors  vector.VectorIndex
	keywords keyword.KeywordIndex
	runs     RunRetrier
	inbox    InboxService
	config   *config.Config
	logger   *zap.Logger
	server   *http.Server
}

// ServerOption configures optional server dependencies.
type ServerOption func(*Server)

// WithKeywordIndex reports the keyword index size in status.
func WithKeywordIndex(k keyword.KeywordIndex) ServerOption {
	return func(s *Server) { s.keywords = k }
}

// WithRetrier enables POST /api/v1/runs/{id}/retry.
func WithRetrier(r RunRetrier) ServerOption {
	return func(s *Server) { s.runs = r }
}

// WithInbox reports watched inbox directories in status.
func WithInbox(i InboxService) ServerOption {
	return func(s *Server) { s.inbox = i }
}

// NewServer creates a server with the given dependencies.
func NewServer(
	engine *search.Engine,
	idx *indexer.Indexer,
	store storage.Storage,
	vectors vector.VectorIndex,
	cfg *config.Config,
	logger *zap.Logger,
	opts ...ServerOption,
) *Server {
	s := &Server{
		engine:  engine,
		indexer: idx,
		storage: store,
		vectors: vectors,
		config:  cfg,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router builds the HTTP handler with every route and middleware.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors(s.config.Server.CORSOrigins))
	r.Use(methodOverride)

	r.Post("/", s.handleQuery)
	r.Get("/notes.json", s.handleListNotes)
	r.Post("/notes", s.handleCreateNote)
	r.Delete("/notes/{id}", s.handleDeleteNote)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/query", s.handleQuery)
		r.Get("/notes", s.handleListNotes)
		r.Post("/notes", s.handleCreateNote)
		r.Get("/notes/search", s.handleSearchNotes)
		r.Get("/notes/{id}", s.handleGetNote)
		r.Delete("/notes/{id}", s.handleDeleteNote)
		r.Get("/runs/{id}", s.handleGetRun)
		r.Post("/runs/{id}/retry", s.handleRetryRun)
		r.Get("/status", s.handleStatus)
	})

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", metrics.Handler())
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("Starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
