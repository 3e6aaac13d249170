package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hyperjump/kioku/internal/server"
	"github.com/hyperjump/kioku/internal/watcher"
	"github.com/hyperjump/kioku/pkg/utils"
)

func newServerCmd(opts *rootOptions) *cobra.Command {
	var debug bool
	cmd := &cobra.Command{
		Use:   "server",
		Short: "Start the HTTP server, ingestion workers and inbox watcher",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(opts, debug)
		},
	}
	cmd.Flags().BoolVar(&debug, "debug", false, "enable debug logging")
	return cmd
}

func runServer(opts *rootOptions, debug bool) error {
	cfg, resolvedConfigPath, err := loadConfig(opts.configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	debugMode := cfg.Debug || debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("config loaded",
		zap.String("config_path", resolvedConfigPath),
		zap.Bool("debug", debugMode),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	components, err := initializeComponents(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer components.Close()

	if err := components.Scheduler.Start(ctx); err != nil {
		return fmt.Errorf("failed to start workflow scheduler: %w", err)
	}

	idx := components.Indexer
	inbox := watcher.NewWatcher(cfg.Inbox.Directories, cfg.Inbox.Extensions,
		func(path string) {
			runs, err := idx.IngestFile(context.Background(), path)
			if err != nil {
				logger.Warn("inbox ingest failed", zap.String("path", path), zap.Error(err))
				return
			}
			logger.Info("inbox file submitted", zap.String("path", path), zap.Int("runs", len(runs)))
		},
		watcher.WithLogger(logger),
	)
	if err := inbox.Start(ctx); err != nil {
		return fmt.Errorf("failed to start inbox watcher: %w", err)
	}
	defer inbox.Stop()
	inbox.SyncExistingFiles()

	srv := server.NewServer(
		components.Engine,
		components.Indexer,
		components.Storage,
		components.VectorIndex,
		cfg,
		logger,
		server.WithKeywordIndex(components.KeywordIndex),
		server.WithRetrier(components.Scheduler),
		server.WithInbox(inbox),
	)
	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	select {
	case <-sigChan:
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	}

	logger.Info("Shutting down...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	return srv.Stop(shutdownCtx)
}
