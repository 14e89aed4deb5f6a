// Package indexer keeps the document store, the similarity index and the keyword index
// in step when documents are added, replaced or deleted.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hyperjump/kbsearch/internal/extract"
	"github.com/hyperjump/kbsearch/internal/keyword"
	"github.com/hyperjump/kbsearch/internal/models"
	"github.com/hyperjump/kbsearch/internal/search"
	"github.com/hyperjump/kbsearch/internal/storage"
)

// Status describes what IndexDocument did.
type Status string

const (
	StatusCreated   Status = "created"
	StatusUpdated   Status = "updated"
	StatusUnchanged Status = "unchanged"
)

// Result is the outcome of indexing one document.
type Result struct {
	Document *models.Document `json:"document"`
	Status   Status           `json:"status"`
}

// BatchResult summarizes a multi-document upload. Errors holds one entry per failed
// document; the others were indexed.
type BatchResult struct {
	Created   int      `json:"created"`
	Updated   int      `json:"updated"`
	Unchanged int      `json:"unchanged"`
	IDs       []string `json:"ids"`
	Errors    []error  `json:"-"`
}

func (b *BatchResult) add(r *Result) {
	switch r.Status {
	case StatusCreated:
		b.Created++
	case StatusUpdated:
		b.Updated++
	case StatusUnchanged:
		b.Unchanged++
	}
	b.IDs = append(b.IDs, r.Document.ID)
}

// Err joins the per-document errors, or returns nil.
func (b *BatchResult) Err() error {
	return errors.Join(b.Errors...)
}

// Summary is the wire form of a BatchResult for one ingested file.
type Summary struct {
	File      string   `json:"file"`
	Kind      string   `json:"kind"`
	Created   int      `json:"created"`
	Updated   int      `json:"updated"`
	Unchanged int      `json:"unchanged"`
	IDs       []string `json:"ids"`
	Errors    []string `json:"errors"`
}

// Summarize reports b for file.
func (b *BatchResult) Summarize(file string, kind models.Kind) *Summary {
	s := &Summary{
		File:      file,
		Kind:      string(kind),
		Created:   b.Created,
		Updated:   b.Updated,
		Unchanged: b.Unchanged,
		IDs:       append([]string{}, b.IDs...),
		Errors:    make([]string, 0, len(b.Errors)),
	}
	for _, err := range b.Errors {
		s.Errors = append(s.Errors, err.Error())
	}
	return s
}

const lockStripes = 64

// Indexer indexes documents into storage, the similarity engine and the keyword index.
type Indexer struct {
	storage     storage.Storage
	engine      *search.Engine
	keyword     keyword.Index
	extractor   *extract.Extractor
	newID       func() string
	maxBytes    int64
	concurrency int
	logger      *zap.Logger

	locks [lockStripes]sync.Mutex
}

// Option configures an Indexer.
type Option func(*Indexer)

// WithLogger sets a logger for debug output (document indexed, document deleted, etc.).
func WithLogger(l *zap.Logger) Option {
	return func(idx *Indexer) { idx.logger = l }
}

// WithKeywordIndex also maintains a keyword index.
func WithKeywordIndex(k keyword.Index) Option {
	return func(idx *Indexer) { idx.keyword = k }
}

// WithExtractor sets the article file extractor used by IndexFile.
func WithExtractor(e *extract.Extractor) Option {
	return func(idx *Indexer) { idx.extractor = e }
}

// WithIDFunc sets the id generator for documents without a natural id.
func WithIDFunc(f func() string) Option {
	return func(idx *Indexer) { idx.newID = f }
}

// WithMaxBytes limits the size of files passed to IndexFile.
func WithMaxBytes(n int64) Option {
	return func(idx *Indexer) { idx.maxBytes = n }
}

// WithConcurrency bounds how many documents of one batch are embedded at once.
func WithConcurrency(n int) Option {
	return func(idx *Indexer) { idx.concurrency = n }
}

// NewIndexer creates an indexer over store and engine.
func NewIndexer(store storage.Storage, engine *search.Engine, opts ...Option) *Indexer {
	idx := &Indexer{
		storage:     store,
		engine:      engine,
		extractor:   extract.NewExtractor(),
		newID:       func() string { return uuid.New().String() },
		concurrency: 4,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(idx)
	}
	return idx
}

// lock serializes writers of one document id.
func (idx *Indexer) lock(id string) func() {
	m := &idx.locks[xxhash.Sum64String(id)%lockStripes]
	m.Lock()
	return m.Unlock
}

// IndexDocument validates input and stores, embeds and indexes the document. Re-sending
// a document whose content is unchanged keeps its version and makes no provider call;
// a changed article gets its stored version bumped by 0.1.
func (idx *Indexer) IndexDocument(ctx context.Context, input *models.DocumentInput) (*Result, error) {
	doc, err := input.Document(idx.newID)
	if err != nil {
		return nil, err
	}
	defer idx.lock(doc.ID)()

	existing, err := idx.storage.GetDocument(ctx, doc.ID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("failed to load document %s: %w", doc.ID, err)
	}

	idx.engine.Prepare(doc)
	if existing != nil && existing.SameContent(doc) && len(existing.Embedding) > 0 {
		if !idx.engine.Contains(existing.ID) {
			if err := idx.engine.Restore(ctx, existing); err != nil {
				return nil, err
			}
		}
		idx.logger.Debug("indexer document unchanged", zap.String("id", doc.ID))
		return &Result{Document: existing, Status: StatusUnchanged}, nil
	}

	status := StatusCreated
	if existing != nil {
		status = StatusUpdated
		if doc.Article != nil && existing.Article != nil {
			doc.Article.Version = models.BumpVersion(existing.Article.Version)
		}
	}

	if err := idx.engine.Ingest(ctx, doc); err != nil {
		return nil, err
	}
	if err := idx.storage.UpsertDocument(ctx, doc); err != nil {
		idx.rollback(ctx, doc.ID, existing)
		return nil, fmt.Errorf("failed to store document: %w", err)
	}
	idx.indexKeyword(ctx, doc)

	idx.logger.Debug("indexer document indexed",
		zap.String("id", doc.ID),
		zap.String("kind", string(doc.Kind)),
		zap.String("status", string(status)))
	return &Result{Document: doc, Status: status}, nil
}

// rollback puts the similarity index back to the stored state after a failed write.
func (idx *Indexer) rollback(ctx context.Context, id string, existing *models.Document) {
	if existing != nil && len(existing.Embedding) > 0 {
		if err := idx.engine.Restore(ctx, existing); err == nil {
			return
		}
	}
	_ = idx.engine.Remove(ctx, id)
}

func (idx *Indexer) indexKeyword(ctx context.Context, doc *models.Document) {
	if idx.keyword == nil {
		return
	}
	if err := idx.keyword.Index(ctx, doc); err != nil {
		idx.logger.Warn("keyword indexing failed", zap.String("id", doc.ID), zap.Error(err))
	}
}

// IndexDocuments indexes inputs with bounded concurrency. A failing document does not
// stop the others.
func (idx *Indexer) IndexDocuments(ctx context.Context, inputs []*models.DocumentInput) *BatchResult {
	results := make([]*Result, len(inputs))
	errs := make([]error, len(inputs))

	var g errgroup.Group
	g.SetLimit(max(idx.concurrency, 1))
	for i, in := range inputs {
		i, in := i, in
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				errs[i] = err
				return nil
			}
			r, err := idx.IndexDocument(ctx, in)
			if err != nil {
				errs[i] = fmt.Errorf("document %d: %w", i+1, err)
				return nil
			}
			results[i] = r
			return nil
		})
	}
	_ = g.Wait()

	batch := &BatchResult{}
	for i := range inputs {
		if errs[i] != nil {
			batch.Errors = append(batch.Errors, errs[i])
			continue
		}
		batch.add(results[i])
	}
	idx.logger.Info("indexer batch done",
		zap.Int("created", batch.Created),
		zap.Int("updated", batch.Updated),
		zap.Int("unchanged", batch.Unchanged),
		zap.Int("failed", len(batch.Errors)))
	return batch
}

// DeleteDocument removes a document from all indices and storage.
func (idx *Indexer) DeleteDocument(ctx context.Context, id string) error {
	defer idx.lock(id)()
	idx.logger.Debug("indexer deleting document", zap.String("id", id))

	if _, err := idx.storage.GetDocument(ctx, id); err != nil {
		return err
	}
	if err := idx.engine.Remove(ctx, id); err != nil {
		return fmt.Errorf("failed to delete from similarity index: %w", err)
	}
	if idx.keyword != nil {
		if err := idx.keyword.Delete(ctx, id); err != nil {
			return fmt.Errorf("failed to delete from keyword index: %w", err)
		}
	}
	if err := idx.storage.DeleteDocument(ctx, id); err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	idx.logger.Debug("indexer document deleted", zap.String("id", id))
	return nil
}
