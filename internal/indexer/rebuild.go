package indexer

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/hyperjump/kbsearch/internal/models"
	"github.com/hyperjump/kbsearch/internal/storage"
	"github.com/hyperjump/kbsearch/internal/vector"
)

const rebuildPageSize = 500

// RebuildStats counts what Rebuild did.
type RebuildStats struct {
	Restored   int `json:"restored"`
	Reembedded int `json:"reembedded"`
	Failed     int `json:"failed"`
}

// Rebuild loads every stored document into the similarity and keyword indices. Stored
// embeddings are reused without provider calls; documents stored without one, whose
// normalized text no longer matches the current policy, or whose embedding has the wrong
// dimension are embedded again and written back.
func (idx *Indexer) Rebuild(ctx context.Context) (RebuildStats, error) {
	var stats RebuildStats
	for offset := 0; ; offset += rebuildPageSize {
		docs, err := idx.storage.ListDocuments(ctx, storage.ListOptions{Offset: offset, Limit: rebuildPageSize})
		if err != nil {
			return stats, fmt.Errorf("list documents: %w", err)
		}
		for _, doc := range docs {
			if err := ctx.Err(); err != nil {
				return stats, err
			}
			reembedded, err := idx.rebuildOne(ctx, doc)
			switch {
			case err != nil:
				stats.Failed++
				idx.logger.Warn("rebuild failed for document", zap.String("id", doc.ID), zap.Error(err))
			case reembedded:
				stats.Reembedded++
			default:
				stats.Restored++
			}
		}
		if idx.keyword != nil && len(docs) > 0 {
			if err := idx.keyword.IndexBatch(ctx, docs); err != nil {
				idx.logger.Warn("keyword rebuild failed", zap.Error(err))
			}
		}
		if len(docs) < rebuildPageSize {
			break
		}
	}
	idx.logger.Info("index rebuilt",
		zap.Int("restored", stats.Restored),
		zap.Int("reembedded", stats.Reembedded),
		zap.Int("failed", stats.Failed))
	return stats, nil
}

func (idx *Indexer) rebuildOne(ctx context.Context, doc *models.Document) (bool, error) {
	stored := doc.Fingerprint
	idx.engine.Prepare(doc)
	if len(doc.Embedding) > 0 && doc.Fingerprint == stored {
		err := idx.engine.Restore(ctx, doc)
		if err == nil {
			return false, nil
		}
		if !errors.Is(err, vector.ErrDimensionMismatch) {
			return false, err
		}
	}
	if err := idx.engine.Ingest(ctx, doc); err != nil {
		return true, err
	}
	if err := idx.storage.UpsertDocument(ctx, doc); err != nil {
		return true, fmt.Errorf("store re-embedded document: %w", err)
	}
	return true, nil
}
