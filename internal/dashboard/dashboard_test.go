package dashboard

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/kbsearch/internal/embedding"
	"github.com/hyperjump/kbsearch/internal/models"
	"github.com/hyperjump/kbsearch/internal/search"
	"github.com/hyperjump/kbsearch/internal/storage"
)

func newService(t *testing.T) (*Service, storage.Storage, *search.Engine) {
	t.Helper()
	store, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	engine := search.NewEngine(embedding.NewHashEmbedder(32))
	svc := New(store, engine)
	svc.now = func() time.Time { return time.Date(2024, 7, 14, 15, 0, 0, 0, time.UTC) }
	return svc, store, engine
}

func ticketDoc(id, quality string, created time.Time) *models.Document {
	doc := &models.Document{
		ID:   id,
		Kind: models.KindTicket,
		Ticket: &models.TicketFields{TrackingIndex: id, Description: "ticket " + id,
			Quality: quality, UserProficiency: "Beginner", PotentialImpact: "Low"},
		CreatedAt: created,
	}
	doc.RawText = doc.EmbeddingText()
	return doc
}

func articleDoc(id, title, category string) *models.Document {
	doc := &models.Document{
		ID:      id,
		Kind:    models.KindArticle,
		Article: &models.ArticleFields{Number: id, Version: "1.0", Title: title, Category: category},
	}
	doc.RawText = doc.EmbeddingText()
	return doc
}

func TestStatistics(t *testing.T) {
	svc, store, _ := newService(t)
	ctx := context.Background()
	now := svc.now()
	for _, doc := range []*models.Document{
		articleDoc("KB1", "VPN", "Network"),
		articleDoc("KB2", "Wifi", "Network"),
		articleDoc("KB3", "Mail", ""),
		ticketDoc("T1", "Good", now),
		ticketDoc("T2", "Poor", now),
	} {
		require.NoError(t, store.UpsertDocument(ctx, doc))
	}

	st, err := svc.Statistics(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 3, st.TotalArticles)
	assert.EqualValues(t, 2, st.TotalTickets)
	assert.Equal(t, map[string]int64{"Network": 2, "Unknown": 1}, st.ArticleCategories)
	assert.Equal(t, map[string]int64{"Good": 1, "Poor": 1}, st.TicketQuality)
	assert.Equal(t, map[string]int64{"Beginner": 2}, st.UserProficiency)
}

func TestDailyTicketCounts(t *testing.T) {
	svc, store, _ := newService(t)
	ctx := context.Background()
	now := svc.now()
	for _, doc := range []*models.Document{
		ticketDoc("T1", "Good", now),
		ticketDoc("T2", "Good", now.Add(-2*time.Hour)),
		ticketDoc("T3", "Good", now.AddDate(0, 0, -2)),
		ticketDoc("T4", "Good", now.AddDate(0, 0, -10)),
	} {
		require.NoError(t, store.UpsertDocument(ctx, doc))
	}

	days, err := svc.DailyTicketCounts(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, []DayCount{
		{Date: "2024-07-12", Count: 1},
		{Date: "2024-07-13", Count: 0},
		{Date: "2024-07-14", Count: 2},
	}, days)

	month, err := svc.DailyTicketCounts(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, month, DefaultDays)
}

func TestSimilarityMatrix(t *testing.T) {
	svc, store, engine := newService(t)
	ctx := context.Background()
	docs := []*models.Document{
		articleDoc("KB1", "Reset VPN token", "Network"),
		articleDoc("KB2", "Reset VPN password", "Network"),
		ticketDoc("T1", "Good", svc.now()),
	}
	for _, doc := range docs {
		require.NoError(t, engine.Ingest(ctx, doc))
		require.NoError(t, store.UpsertDocument(ctx, doc))
	}

	m, err := svc.SimilarityMatrix(ctx, models.KindArticle, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"KB1", "KB2"}, m.IDs)
	assert.Equal(t, []string{"Reset VPN token", "Reset VPN password"}, m.Labels)
	require.Len(t, m.Values, 2)
	assert.InDelta(t, 1.0, m.Values[0][0], 1e-9)
	assert.Equal(t, m.Values[0][1], m.Values[1][0])
	assert.Greater(t, m.Values[0][1], 0.0)

	tickets, err := svc.SimilarityMatrix(ctx, models.KindTicket, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"T1"}, tickets.Labels)

	limited, err := svc.SimilarityMatrix(ctx, "", 2)
	require.NoError(t, err)
	assert.Len(t, limited.IDs, 2)
}

func unitVector(width int, axis int, scale float32) []float32 {
	v := make([]float32, width)
	v[axis] = scale
	return v
}

func TestSimilarityMatrix_ZeroVectorDiagonal(t *testing.T) {
	svc, _, engine := newService(t)
	ctx := context.Background()
	require.NoError(t, engine.Restore(ctx, &models.Document{ID: "Z", Kind: models.KindTicket, Embedding: make([]float32, 32)}))
	require.NoError(t, engine.Restore(ctx, &models.Document{ID: "U", Kind: models.KindTicket, Embedding: unitVector(32, 0, 1)}))

	m, err := svc.SimilarityMatrix(ctx, models.KindTicket, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"Z", "U"}, m.IDs)
	assert.Zero(t, m.Values[0][0])
	assert.Zero(t, m.Values[0][1])
	assert.InDelta(t, 1.0, m.Values[1][1], 1e-9)
}

func TestProjection(t *testing.T) {
	svc, store, engine := newService(t)
	ctx := context.Background()
	for i, id := range []string{"KB1", "KB2", "KB3", "KB4"} {
		doc := articleDoc(id, "Article "+id, "Network")
		doc.Embedding = unitVector(32, 0, float32(i))
		require.NoError(t, engine.Restore(ctx, doc))
		require.NoError(t, store.UpsertDocument(ctx, doc))
	}

	p, err := svc.Projection(ctx, models.KindArticle, 2, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"KB1", "KB2", "KB3", "KB4"}, p.IDs)
	assert.Equal(t, "Article KB1", p.Labels[0])
	require.Len(t, p.Points, 4)
	want := []float64{-1.5, -0.5, 0.5, 1.5}
	sign := 1.0
	if p.Points[0][0] > 0 {
		sign = -1
	}
	for i, pt := range p.Points {
		require.Len(t, pt, 2)
		assert.InDelta(t, want[i], sign*pt[0], 1e-6)
		assert.InDelta(t, 0, pt[1], 1e-6)
	}
	assert.InDelta(t, 1.0, p.Explained[0], 1e-6)

	p3, err := svc.Projection(ctx, models.KindArticle, 3, 2)
	require.NoError(t, err)
	require.Len(t, p3.Points, 2)
	for _, pt := range p3.Points {
		assert.Len(t, pt, 3)
	}
	assert.InDelta(t, 0.5, math.Abs(p3.Points[0][0]), 1e-6)
}

func TestProjection_Edges(t *testing.T) {
	svc, _, engine := newService(t)
	ctx := context.Background()

	_, err := svc.Projection(ctx, models.KindArticle, 4, 0)
	assert.ErrorIs(t, err, ErrInvalidDims)

	empty, err := svc.Projection(ctx, models.KindArticle, 2, 0)
	require.NoError(t, err)
	assert.Empty(t, empty.Points)

	require.NoError(t, engine.Restore(ctx, &models.Document{ID: "T1", Kind: models.KindTicket, Embedding: unitVector(32, 3, 2)}))
	single, err := svc.Projection(ctx, models.KindTicket, 3, 0)
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{0, 0, 0}}, single.Points)
}
