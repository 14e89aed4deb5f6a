package main

import (
	"context"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/hyperjump/kbsearch/internal/cache"
	"github.com/hyperjump/kbsearch/internal/config"
	"github.com/hyperjump/kbsearch/internal/embedding"
	"github.com/hyperjump/kbsearch/internal/extract"
	"github.com/hyperjump/kbsearch/internal/indexer"
	"github.com/hyperjump/kbsearch/internal/keyword"
	"github.com/hyperjump/kbsearch/internal/metrics"
	"github.com/hyperjump/kbsearch/internal/normalize"
	"github.com/hyperjump/kbsearch/internal/search"
	"github.com/hyperjump/kbsearch/internal/storage"
	"github.com/hyperjump/kbsearch/internal/vector"
)

// Components holds initialized services.
type Components struct {
	Storage      storage.Storage
	Engine       *search.Engine
	KeywordIndex keyword.Index
	Indexer      *indexer.Indexer
	Metrics      *metrics.Metrics

	closers []io.Closer
}

// Close releases everything in reverse order of creation.
func (c *Components) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		_ = c.closers[i].Close()
	}
}

func initializeComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger) (_ *Components, err error) {
	c := &Components{Metrics: metrics.New()}
	defer func() {
		if err != nil {
			c.Close()
		}
	}()

	c.Storage, err = openStorage(ctx, cfg.Storage)
	if err != nil {
		return nil, err
	}
	c.closers = append(c.closers, c.Storage)

	embedder, err := newEmbedder(cfg.Embedding, logger)
	if err != nil {
		return nil, err
	}
	embedder = c.Metrics.InstrumentEmbedder(embedder)

	embCache, cacheCloser, err := newCache(ctx, cfg, c.Storage, c.Metrics, logger)
	if err != nil {
		_ = embedder.Close()
		return nil, err
	}
	if cacheCloser != nil {
		c.closers = append(c.closers, cacheCloser)
	}

	metric, err := vector.ParseMetric(cfg.Search.Metric)
	if err != nil {
		_ = embedder.Close()
		return nil, err
	}
	engineOpts := []search.Option{
		search.WithNormalizer(normalize.New(cfg.Normalize.Options())),
		search.WithCache(embCache),
		search.WithMetric(metric),
		search.WithLogger(logger),
		search.WithObserver(c.Metrics),
	}
	if cfg.Embedding.Dimensions > 0 {
		engineOpts = append(engineOpts, search.WithDimensions(cfg.Embedding.Dimensions))
	}
	c.Engine = search.NewEngine(embedder, engineOpts...)
	c.closers = append(c.closers, c.Engine)
	c.Metrics.RegisterIndexSize(func() int { return c.Engine.Stats().Documents })

	kw, err := keyword.NewBleveIndex(cfg.Storage.BleveIndexPath, keyword.WithFuzziness(1), keyword.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize keyword index: %w", err)
	}
	c.KeywordIndex = kw
	c.closers = append(c.closers, kw)

	c.Indexer = indexer.NewIndexer(c.Storage, c.Engine,
		indexer.WithLogger(logger),
		indexer.WithKeywordIndex(kw),
		indexer.WithExtractor(extract.NewExtractor()),
		indexer.WithMaxBytes(cfg.Upload.MaxBytes),
	)
	stats, err := c.Indexer.Rebuild(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to rebuild index: %w", err)
	}
	logger.Info("index rebuilt",
		zap.Int("restored", stats.Restored),
		zap.Int("reembedded", stats.Reembedded),
		zap.Int("failed", stats.Failed))
	return c, nil
}

func openStorage(ctx context.Context, cfg config.StorageConfig) (storage.Storage, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		return storage.NewPostgresStorage(ctx, cfg.PostgresDSN)
	default:
		return storage.NewSQLiteStorage(cfg.DatabasePath)
	}
}

func newEmbedder(cfg config.EmbeddingConfig, logger *zap.Logger) (embedding.Embedder, error) {
	switch cfg.Provider {
	case config.ProviderOpenAI:
		return embedding.NewOpenAIEmbedder(embedding.OpenAIConfig{
			APIKey:            cfg.APIKey,
			BaseURL:           cfg.BaseURL,
			Model:             cfg.Model,
			Dimensions:        cfg.Dimensions,
			Timeout:           cfg.Timeout,
			MaxRetries:        cfg.MaxRetries,
			RequestsPerSecond: cfg.RequestsPerSecond,
			Burst:             cfg.Burst,
		}, embedding.WithLogger(logger))
	case config.ProviderONNX:
		return embedding.NewONNXEmbedder(embedding.ONNXConfig{
			ModelPath:   cfg.ModelPath,
			LibraryPath: cfg.LibraryPath,
			Dimensions:  cfg.Dimensions,
			MaxTokens:   cfg.MaxTokens,
		})
	case config.ProviderHash:
		return embedding.NewHashEmbedder(cfg.Dimensions), nil
	}
	return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
}

// newCache builds the embedding cache. Persistent entries are namespaced by embedding
// model so that switching models never serves stale vectors.
func newCache(ctx context.Context, cfg *config.Config, store storage.Storage, m *metrics.Metrics, logger *zap.Logger) (*cache.Cache, io.Closer, error) {
	opts := []cache.Option{
		cache.WithCapacity(cfg.Cache.Capacity),
		cache.WithLogger(logger),
		cache.WithObserver(m),
	}
	namespace := cfg.Embedding.Namespace()
	switch cfg.Cache.Backend {
	case config.CacheStore:
		opts = append(opts, cache.WithStore(storage.NewCacheStore(store, namespace)))
	case config.CacheRedis:
		rs, err := cache.NewRedisStore(ctx, cache.RedisOptions{
			Addr:     cfg.Cache.RedisAddr,
			Password: cfg.Cache.RedisPassword,
			DB:       cfg.Cache.RedisDB,
			Prefix:   cfg.Cache.RedisPrefix + namespace + ":",
		})
		if err != nil {
			return nil, nil, err
		}
		return cache.New(append(opts, cache.WithStore(rs))...), rs, nil
	}
	return cache.New(opts...), nil, nil
}
