// Package search ties the similarity pipeline together: normalize, fingerprint, cached
// embedding, vector index.
package search

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/kbsearch/internal/cache"
	"github.com/hyperjump/kbsearch/internal/embedding"
	"github.com/hyperjump/kbsearch/internal/models"
	"github.com/hyperjump/kbsearch/internal/normalize"
	"github.com/hyperjump/kbsearch/internal/vector"
	"github.com/hyperjump/kbsearch/pkg/utils"
)

var (
	// ErrEmptyQuery is returned when a query normalizes to empty text.
	ErrEmptyQuery = errors.New("query is empty after normalization")
	// ErrEmptyContent is returned when a document normalizes to empty text.
	ErrEmptyContent = errors.New("document text is empty after normalization")
)

// Request is a similarity query. Kind restricts results to one document kind; an empty
// Metric uses the engine default.
type Request struct {
	Query  string
	K      int
	Kind   models.Kind
	Metric vector.Metric
}

// Observer receives search timings.
type Observer interface {
	ObserveSearch(d time.Duration, err error)
}

// Stats describes the engine state.
type Stats struct {
	Documents  int         `json:"documents"`
	Articles   int         `json:"articles"`
	Tickets    int         `json:"tickets"`
	Dimensions int         `json:"dimensions"`
	Metric     string      `json:"metric"`
	Cache      cache.Stats `json:"cache"`
}

// Engine owns the in-memory pipeline state. Build one at startup, share it between the
// HTTP server, indexer and CLI, and Close it on shutdown.
type Engine struct {
	normalizer *normalize.Normalizer
	cache      *cache.Cache
	embedder   embedding.Embedder
	index      *vector.Index
	metric     vector.Metric
	logger     *zap.Logger
	observer   Observer

	mu    sync.RWMutex
	kinds map[string]models.Kind
}

// Option configures an Engine.
type Option func(*Engine)

// WithNormalizer overrides the default normalization policy.
func WithNormalizer(n *normalize.Normalizer) Option {
	return func(e *Engine) { e.normalizer = n }
}

// WithCache supplies a configured embedding cache.
func WithCache(c *cache.Cache) Option {
	return func(e *Engine) { e.cache = c }
}

// WithDimensions fixes the index dimension up front.
func WithDimensions(d int) Option {
	return func(e *Engine) { e.index = vector.NewIndex(d) }
}

// WithMetric sets the default metric.
func WithMetric(m vector.Metric) Option {
	return func(e *Engine) { e.metric = m }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = utils.NamedLogger(l, "search") }
}

// WithObserver registers a search timing observer.
func WithObserver(o Observer) Option {
	return func(e *Engine) { e.observer = o }
}

// NewEngine builds an engine around an embedding provider.
func NewEngine(embedder embedding.Embedder, opts ...Option) *Engine {
	e := &Engine{
		normalizer: normalize.New(normalize.DefaultOptions()),
		embedder:   embedder,
		metric:     vector.DefaultMetric,
		logger:     zap.NewNop(),
		kinds:      make(map[string]models.Kind),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.cache == nil {
		e.cache = cache.New(cache.WithLogger(e.logger))
	}
	if e.index == nil {
		e.index = vector.NewIndex(embedder.Dimensions())
	}
	return e
}

// Prepare fills the normalized text and fingerprint of doc from its raw text.
func (e *Engine) Prepare(doc *models.Document) {
	doc.NormalizedText, doc.Fingerprint = e.normalizer.Fingerprint(doc.RawText)
}

// Embedding returns the cached embedding for normalized text, calling the provider on a miss.
func (e *Engine) Embedding(ctx context.Context, fingerprint, normalized string) ([]float32, error) {
	return e.cache.GetOrCompute(ctx, fingerprint, func(ctx context.Context) ([]float32, error) {
		e.logger.Debug("embedding cache miss", zap.String("fingerprint", fingerprint))
		return e.embedder.Embed(ctx, normalized)
	})
}

// Ingest normalizes doc, obtains its embedding through the cache and inserts it into the
// index, replacing any previous entry with the same id. On success doc carries the
// normalized text, fingerprint and embedding. On failure the index is unchanged.
func (e *Engine) Ingest(ctx context.Context, doc *models.Document) error {
	e.Prepare(doc)
	if doc.NormalizedText == "" {
		return ErrEmptyContent
	}
	vec, err := e.Embedding(ctx, doc.Fingerprint, doc.NormalizedText)
	if err != nil {
		return err
	}
	if err := e.insert(doc.ID, doc.Kind, vec); err != nil {
		return err
	}
	doc.Embedding = vec
	e.logger.Debug("document ingested", zap.String("id", doc.ID), zap.String("kind", string(doc.Kind)))
	return nil
}

// Restore indexes a document whose embedding was loaded from storage, without calling the
// provider. The embedding also seeds the cache under the document fingerprint. If seeding
// fails the index keeps its previous entry for doc.ID.
func (e *Engine) Restore(ctx context.Context, doc *models.Document) error {
	if len(doc.Embedding) == 0 {
		return fmt.Errorf("restore %s: no stored embedding", doc.ID)
	}
	e.mu.Lock()
	prev, hadPrev := e.index.Get(doc.ID)
	prevKind := e.kinds[doc.ID]
	e.mu.Unlock()

	// The index rejects a wrong dimension before anything reaches the cache.
	if err := e.insert(doc.ID, doc.Kind, doc.Embedding); err != nil {
		return err
	}
	if doc.Fingerprint != "" {
		if err := e.cache.Put(ctx, doc.Fingerprint, doc.Embedding); err != nil {
			if hadPrev {
				_ = e.insert(doc.ID, prevKind, prev)
			} else {
				_ = e.Remove(ctx, doc.ID)
			}
			return fmt.Errorf("restore %s: %w", doc.ID, err)
		}
	}
	return nil
}

func (e *Engine) insert(id string, kind models.Kind, vec []float32) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.index.Insert(id, vec); err != nil {
		return fmt.Errorf("index %s: %w", id, err)
	}
	e.kinds[id] = kind
	return nil
}

// Remove evicts id from the index. Cache entries are keyed by content and stay.
func (e *Engine) Remove(_ context.Context, id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.index.Remove(id)
	delete(e.kinds, id)
	return nil
}

// Search returns the k documents most similar to query under the default metric.
func (e *Engine) Search(ctx context.Context, query string, k int) ([]vector.Result, error) {
	return e.SearchRequest(ctx, Request{Query: query, K: k})
}

// SearchRequest runs a similarity query with kind and metric options.
func (e *Engine) SearchRequest(ctx context.Context, req Request) (results []vector.Result, err error) {
	start := time.Now()
	defer func() {
		if e.observer != nil {
			e.observer.ObserveSearch(time.Since(start), err)
		}
	}()

	normalized, fingerprint := e.normalizer.Fingerprint(req.Query)
	if normalized == "" {
		return nil, ErrEmptyQuery
	}
	metric := req.Metric
	if metric == "" {
		metric = e.metric
	}

	vec, err := e.Embedding(ctx, fingerprint, normalized)
	if err != nil {
		return nil, err
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	var keep func(string) bool
	if req.Kind != "" {
		keep = func(id string) bool { return e.kinds[id] == req.Kind }
	}
	results, err = e.index.QueryFiltered(vec, req.K, metric, keep)
	if err != nil {
		return nil, err
	}
	e.logger.Debug("search",
		zap.String("query", utils.Truncate(normalized, 64)),
		zap.Int("k", req.K),
		zap.Int("results", len(results)),
		zap.Duration("elapsed", time.Since(start)))
	return results, nil
}

// Vectors returns the indexed embeddings of one kind (all kinds when kind is empty) in
// insertion order.
func (e *Engine) Vectors(kind models.Kind) []vector.Entry {
	e.mu.RLock()
	defer e.mu.RUnlock()
	all := e.index.Entries()
	if kind == "" {
		return all
	}
	out := all[:0]
	for _, en := range all {
		if e.kinds[en.ID] == kind {
			out = append(out, en)
		}
	}
	return out
}

// Contains reports whether id is indexed.
func (e *Engine) Contains(id string) bool {
	_, ok := e.index.Get(id)
	return ok
}

// Metric returns the default metric.
func (e *Engine) Metric() vector.Metric {
	return e.metric
}

// Cache returns the embedding cache.
func (e *Engine) Cache() *cache.Cache {
	return e.cache
}

// Stats returns index and cache counters.
func (e *Engine) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s := Stats{
		Documents:  e.index.Len(),
		Dimensions: e.index.Dimensions(),
		Metric:     string(e.metric),
		Cache:      e.cache.Stats(),
	}
	for _, k := range e.kinds {
		switch k {
		case models.KindArticle:
			s.Articles++
		case models.KindTicket:
			s.Tickets++
		}
	}
	return s
}

// Close releases the embedding provider.
func (e *Engine) Close() error {
	return e.embedder.Close()
}
