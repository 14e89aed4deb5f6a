package metrics

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/kbsearch/internal/cache"
	"github.com/hyperjump/kbsearch/internal/embedding"
	"github.com/hyperjump/kbsearch/internal/search"
)

var (
	_ cache.Observer  = (*Metrics)(nil)
	_ search.Observer = (*Metrics)(nil)
)

type failingEmbedder struct{ embedding.Embedder }

func (failingEmbedder) Embed(context.Context, string) ([]float32, error) {
	return nil, &embedding.ProviderError{Reason: "rate limited"}
}

func TestCacheCounters(t *testing.T) {
	m := New()
	m.CacheHit()
	m.CacheHit()
	m.CacheMiss()
	assert.Equal(t, 2.0, testutil.ToFloat64(m.cacheHits))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.cacheMisses))
}

func TestObserveSearch(t *testing.T) {
	m := New()
	m.ObserveSearch(10*time.Millisecond, nil)
	m.ObserveSearch(time.Millisecond, errors.New("boom"))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.searches.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.searches.WithLabelValues("error")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.searchLatency))
}

func TestInstrumentEmbedder(t *testing.T) {
	m := New()
	ctx := context.Background()

	ok := m.InstrumentEmbedder(embedding.NewHashEmbedder(16))
	_, err := ok.Embed(ctx, "hello")
	require.NoError(t, err)
	_, err = ok.EmbedBatch(ctx, []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, 16, ok.Dimensions())

	bad := m.InstrumentEmbedder(failingEmbedder{embedding.NewHashEmbedder(16)})
	_, err = bad.Embed(ctx, "hello")
	require.Error(t, err)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.providerCalls.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.providerCalls.WithLabelValues("error")))
}

func TestHandler(t *testing.T) {
	m := New()
	m.RegisterIndexSize(func() int { return 7 })
	m.CacheMiss()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()
	assert.Equal(t, 200, rec.Code)
	assert.True(t, strings.Contains(body, "kbsearch_index_documents 7"), body)
	assert.Contains(t, body, "kbsearch_embedding_cache_misses_total 1")
}
