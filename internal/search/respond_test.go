package search

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/kbsearch/internal/models"
	"github.com/hyperjump/kbsearch/internal/storage"
)

type mapLoader map[string]*models.Document

func (m mapLoader) GetDocument(_ context.Context, id string) (*models.Document, error) {
	if d, ok := m[id]; ok {
		return d, nil
	}
	return nil, storage.ErrNotFound
}

func TestEngine_QueryAttachesDocuments(t *testing.T) {
	ctx := context.Background()
	e := NewEngine(newCounting(128))
	loader := mapLoader{}
	for id, title := range map[string]string{
		"KB1": "VPN disconnects every hour",
		"KB2": "Outlook calendar not syncing",
		"KB3": "Laptop battery drains quickly",
	} {
		doc := article(id, title)
		require.NoError(t, e.Ingest(ctx, doc))
		loader[id] = doc
	}
	delete(loader, "KB3")

	resp, err := e.Query(ctx, &models.SearchQuery{Query: "VPN disconnects every hour", K: 3}, 0, loader)
	require.NoError(t, err)
	require.Len(t, resp.Results, 2)
	assert.Equal(t, 2, resp.Total)
	assert.Equal(t, "cosine", resp.Metric)
	assert.Equal(t, "KB1", resp.Results[0].Document.ID)
	assert.Equal(t, 1, resp.Results[0].Rank)
	assert.Equal(t, 2, resp.Results[1].Rank)
}

func TestEngine_QueryValidation(t *testing.T) {
	e := NewEngine(newCounting(16))
	var fe *models.FieldError

	_, err := e.Query(context.Background(), &models.SearchQuery{}, 0, mapLoader{})
	assert.ErrorIs(t, err, ErrEmptyQuery)
	_, err = e.Query(context.Background(), &models.SearchQuery{Query: " \t"}, 0, mapLoader{})
	assert.ErrorIs(t, err, ErrEmptyQuery)

	_, err = e.Query(context.Background(), &models.SearchQuery{Query: "x", Kind: "invoice"}, 0, mapLoader{})
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "query", fe.Field)

	_, err = e.Query(context.Background(), &models.SearchQuery{Query: "x", Metric: "manhattan"}, 0, mapLoader{})
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "metric", fe.Field)

	_, err = e.Query(context.Background(), &models.SearchQuery{Query: "<p> </p>"}, 0, mapLoader{})
	assert.ErrorIs(t, err, ErrEmptyQuery)
}

func TestEngine_QueryClampsK(t *testing.T) {
	ctx := context.Background()
	e := NewEngine(newCounting(32))
	loader := mapLoader{}
	for _, id := range []string{"KB1", "KB2", "KB3"} {
		doc := article(id, "printer jam "+id)
		require.NoError(t, e.Ingest(ctx, doc))
		loader[id] = doc
	}
	q := &models.SearchQuery{Query: "printer jam", K: 50}
	resp, err := e.Query(ctx, q, 2, loader)
	require.NoError(t, err)
	assert.Equal(t, 2, q.K)
	assert.Len(t, resp.Results, 2)
}
