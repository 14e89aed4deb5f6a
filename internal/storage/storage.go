// Package storage persists documents, their embeddings and the embedding cache.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hyperjump/kbsearch/internal/models"
)

// ErrNotFound is returned when a document id does not exist.
var ErrNotFound = errors.New("document not found")

// ListOptions filters and pages ListDocuments. Limit <= 0 returns every match.
type ListOptions struct {
	Kind   models.Kind
	Offset int
	Limit  int
}

// Storage is the durable document store.
type Storage interface {
	// UpsertDocument inserts doc or replaces the stored document with the same id,
	// keeping the original creation time.
	UpsertDocument(ctx context.Context, doc *models.Document) error
	GetDocument(ctx context.Context, id string) (*models.Document, error)
	DeleteDocument(ctx context.Context, id string) error
	ListDocuments(ctx context.Context, opts ListOptions) ([]*models.Document, error)
	// CountDocuments counts documents of kind, or all documents when kind is empty.
	CountDocuments(ctx context.Context, kind models.Kind) (int64, error)
	// CountByDay counts documents of kind created since the given time, keyed by UTC
	// calendar day in YYYY-MM-DD form.
	CountByDay(ctx context.Context, kind models.Kind, since time.Time) (map[string]int64, error)

	GetEmbedding(ctx context.Context, namespace, fingerprint string) ([]float32, bool, error)
	// PutEmbedding stores an embedding unless one exists for the key already.
	PutEmbedding(ctx context.Context, namespace, fingerprint string, v []float32) error
	DeleteEmbedding(ctx context.Context, namespace, fingerprint string) error

	Close() error
}

// CacheStore exposes the embedding table of a Storage under one namespace, satisfying
// cache.Store.
type CacheStore struct {
	storage   Storage
	namespace string
}

// NewCacheStore returns the embedding cache view of s for namespace (usually the model name).
func NewCacheStore(s Storage, namespace string) *CacheStore {
	return &CacheStore{storage: s, namespace: namespace}
}

func (c *CacheStore) Get(ctx context.Context, fingerprint string) ([]float32, bool, error) {
	return c.storage.GetEmbedding(ctx, c.namespace, fingerprint)
}

func (c *CacheStore) Put(ctx context.Context, fingerprint string, v []float32) error {
	return c.storage.PutEmbedding(ctx, c.namespace, fingerprint, v)
}

func (c *CacheStore) Delete(ctx context.Context, fingerprint string) error {
	return c.storage.DeleteEmbedding(ctx, c.namespace, fingerprint)
}

// encodeFields returns the JSON of the variant fields of doc.
func encodeFields(doc *models.Document) ([]byte, error) {
	var v any
	switch doc.Kind {
	case models.KindArticle:
		v = doc.Article
	case models.KindTicket:
		v = doc.Ticket
	default:
		return nil, fmt.Errorf("unknown document kind %q", doc.Kind)
	}
	return json.Marshal(v)
}

// decodeFields sets the variant fields of doc from their JSON.
func decodeFields(doc *models.Document, data []byte) error {
	switch doc.Kind {
	case models.KindArticle:
		doc.Article = &models.ArticleFields{}
		return json.Unmarshal(data, doc.Article)
	case models.KindTicket:
		doc.Ticket = &models.TicketFields{}
		return json.Unmarshal(data, doc.Ticket)
	}
	return fmt.Errorf("unknown document kind %q", doc.Kind)
}

// stamp sets UpdatedAt to now, and CreatedAt too when unset.
func stamp(doc *models.Document, now time.Time) {
	now = now.UTC()
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	doc.UpdatedAt = now
}
