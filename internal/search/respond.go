package search

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/kbsearch/internal/models"
	"github.com/hyperjump/kbsearch/internal/storage"
	"github.com/hyperjump/kbsearch/internal/vector"
)

// DocumentLoader resolves indexed ids to stored documents.
type DocumentLoader interface {
	GetDocument(ctx context.Context, id string) (*models.Document, error)
}

// Query validates q, runs it and attaches the stored documents to the hits. Ids that
// vanished from the store between query and load are skipped.
func (e *Engine) Query(ctx context.Context, q *models.SearchQuery, maxK int, docs DocumentLoader) (*models.SearchResponse, error) {
	start := time.Now()
	if strings.TrimSpace(q.Query) == "" {
		return nil, ErrEmptyQuery
	}
	if err := q.Validate(maxK); err != nil {
		return nil, &models.FieldError{Field: "query", Message: err.Error()}
	}
	metric := e.metric
	if q.Metric != "" {
		m, err := vector.ParseMetric(q.Metric)
		if err != nil {
			return nil, &models.FieldError{Field: "metric", Message: err.Error()}
		}
		metric = m
	}

	hits, err := e.SearchRequest(ctx, Request{Query: q.Query, K: q.K, Kind: q.Kind, Metric: metric})
	if err != nil {
		return nil, err
	}
	resp := &models.SearchResponse{
		Query:   q.Query,
		Metric:  string(metric),
		Results: make([]*models.SearchResult, 0, len(hits)),
	}
	for _, h := range hits {
		doc, err := docs.GetDocument(ctx, h.ID)
		if errors.Is(err, storage.ErrNotFound) {
			e.logger.Debug("search hit missing from store", zap.String("id", h.ID))
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", h.ID, err)
		}
		resp.Results = append(resp.Results, &models.SearchResult{
			Document: doc,
			Score:    h.Score,
			Rank:     len(resp.Results) + 1,
		})
	}
	resp.Total = len(resp.Results)
	resp.QueryTime = time.Since(start).Milliseconds()
	return resp, nil
}
