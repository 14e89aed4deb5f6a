package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hyperjump/kbsearch/internal/config"
	"github.com/hyperjump/kbsearch/internal/indexer"
	"github.com/hyperjump/kbsearch/internal/models"
	"github.com/hyperjump/kbsearch/internal/server"
	"github.com/hyperjump/kbsearch/internal/watcher"
)

func serverCMD(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "server",
		Short: "Run the HTTP API server and the inbox watcher",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, path, logger, err := opts.setup()
			if err != nil {
				return err
			}
			defer logger.Sync()
			logger.Info("config loaded", zap.String("config_path", path), zap.Bool("debug", cfg.Debug))
			return runServer(cmd.Context(), cfg, path, logger)
		},
	}
}

func runServer(ctx context.Context, cfg *config.Config, configPath string, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	components, err := initializeComponents(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer components.Close()

	watch := newWatcher(cfg, components.Indexer, logger)
	if err := watch.Start(ctx); err != nil {
		return err
	}
	defer watch.Stop()
	go watch.SyncExistingFiles()

	srv := server.NewServer(components.Engine, components.Indexer, components.Storage, cfg,
		server.WithLogger(logger),
		server.WithKeywordIndex(components.KeywordIndex),
		server.WithMetrics(components.Metrics),
		server.WithWatcher(watch, configPath),
	)
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Stop(shutdownCtx)
}

// newWatcher binds the configured inbox directories to IndexFile.
func newWatcher(cfg *config.Config, idx *indexer.Indexer, logger *zap.Logger) *watcher.Watcher {
	roots := make([]watcher.Root, 0, len(cfg.Watch.Directories))
	for _, d := range cfg.Watch.Directories {
		kind, err := models.ParseKind(d.Kind)
		if err != nil {
			logger.Warn("watch directory skipped", zap.String("path", d.Path), zap.Error(err))
			continue
		}
		roots = append(roots, watcher.Root{Path: d.Path, Kind: kind})
	}
	onIndex := func(path string, kind models.Kind) {
		batch, err := idx.IndexFile(context.Background(), path, kind)
		if err == nil {
			err = batch.Err()
		}
		if err != nil {
			logger.Warn("watch index file failed", zap.String("path", path), zap.Error(err))
			return
		}
		logger.Info("watch indexed file",
			zap.String("path", path),
			zap.Int("created", batch.Created),
			zap.Int("updated", batch.Updated),
			zap.Int("unchanged", batch.Unchanged))
	}
	return watcher.NewWatcher(roots, cfg.Watch.Extensions, cfg.Watch.RecursiveOrDefault(), onIndex,
		watcher.WithLogger(logger))
}
