// Package keyword provides full-text search over article and ticket text, next to the
// embedding similarity search.
package keyword

import (
	"context"
	"errors"

	"github.com/hyperjump/kbsearch/internal/models"
)

// DefaultLimit is used when Search is called with limit <= 0.
const DefaultLimit = 20

// ErrEmptyQuery is returned for a blank keyword query.
var ErrEmptyQuery = errors.New("keyword query cannot be empty")

// Index defines keyword search operations.
type Index interface {
	Index(ctx context.Context, doc *models.Document) error
	IndexBatch(ctx context.Context, docs []*models.Document) error
	// Search matches query against titles and content. An empty kind searches both kinds.
	Search(ctx context.Context, query string, kind models.Kind, limit int) ([]*models.KeywordResult, error)
	Delete(ctx context.Context, id string) error
	DocCount() (uint64, error)
	Close() error
}
