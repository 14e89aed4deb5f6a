// Package server provides the HTTP API for kbsearch.
package server

import (
	"context"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/hyperjump/kbsearch/internal/config"
	"github.com/hyperjump/kbsearch/internal/dashboard"
	"github.com/hyperjump/kbsearch/internal/indexer"
	"github.com/hyperjump/kbsearch/internal/keyword"
	"github.com/hyperjump/kbsearch/internal/metrics"
	"github.com/hyperjump/kbsearch/internal/search"
	"github.com/hyperjump/kbsearch/internal/storage"
	"github.com/hyperjump/kbsearch/internal/watcher"
)

// WatchService manages the watched inbox directories at runtime.
type WatchService interface {
	Directories() []watcher.Root
	AddDirectory(root watcher.Root, syncExisting bool) error
	RemoveDirectory(path string) error
}

// Server is the HTTP server for the kbsearch API.
type Server struct {
	engine    *search.Engine
	indexer   *indexer.Indexer
	storage   storage.Storage
	keyword   keyword.Index
	dashboard *dashboard.Service
	metrics   *metrics.Metrics
	config    *config.Config
	logger    *zap.Logger
	server    *http.Server

	watch         WatchService
	configPath    string
	watchConfigMu sync.Mutex
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithKeywordIndex enables GET /api/v1/keyword.
func WithKeywordIndex(k keyword.Index) Option {
	return func(s *Server) { s.keyword = k }
}

// WithMetrics serves m at the configured metrics path.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithWatcher enables the watch directory endpoints. Changes are saved to configPath
// when it is set.
func WithWatcher(w WatchService, configPath string) Option {
	return func(s *Server) {
		s.watch = w
		s.configPath = configPath
	}
}

// NewServer creates a server with the given dependencies.
func NewServer(engine *search.Engine, idx *indexer.Indexer, store storage.Storage, cfg *config.Config, opts ...Option) *Server {
	s := &Server{
		engine:    engine,
		indexer:   idx,
		storage:   store,
		dashboard: dashboard.New(store, engine),
		config:    cfg,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the API router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	if s.config.Server.RequestTimeout > 0 {
		r.Use(middleware.Timeout(s.config.Server.RequestTimeout))
	}
	r.Use(middleware.Compress(5))

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/search", s.handleSearch)
		r.Get("/keyword", s.handleKeywordSearch)

		r.Post("/documents", s.handleIndexDocument)
		r.Get("/documents", s.handleListDocuments)
		r.Get("/documents/{id}", s.handleGetDocument)
		r.Delete("/documents/{id}", s.handleDeleteDocument)
		r.Post("/uploads", s.handleUpload)

		r.Get("/dashboard/stats", s.handleDashboardStats)
		r.Get("/dashboard/daily-tickets", s.handleDailyTickets)
		r.Get("/dashboard/similarity", s.handleSimilarity)
		r.Get("/dashboard/projection", s.handleProjection)

		r.Get("/status", s.handleStatus)

		r.Get("/watch/directories", s.handleWatchDirectoriesList)
		r.Post("/watch/directories", s.handleWatchDirectoriesAdd)
		r.Delete("/watch/directories", s.handleWatchDirectoriesRemove)
	})
	r.Get("/health", s.handleHealth)
	if s.metrics != nil && s.config.Metrics.EnabledOrDefault() {
		r.Handle(s.config.Metrics.Path, s.metrics.Handler())
	}
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := s.config.Server.Addr()
	s.server = &http.Server{
		Addr:    addr,
		Handler: s.Handler(),
	}
	s.logger.Info("starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
