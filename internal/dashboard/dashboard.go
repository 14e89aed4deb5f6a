// Package dashboard aggregates document statistics and embedding similarity data for the
// dashboard endpoints. It returns plain data; rendering is left to the client.
package dashboard

import (
	"context"
	"fmt"
	"time"

	"github.com/hyperjump/kbsearch/internal/models"
	"github.com/hyperjump/kbsearch/internal/search"
	"github.com/hyperjump/kbsearch/internal/storage"
	"github.com/hyperjump/kbsearch/internal/vector"
)

// DefaultDays is the window of DailyTicketCounts when none is given.
const DefaultDays = 30

// DefaultMatrixLimit caps SimilarityMatrix when no limit is given.
const DefaultMatrixLimit = 50

// Statistics are document totals and attribute distributions.
type Statistics struct {
	TotalArticles          int64            `json:"total_kb_articles"`
	TotalTickets           int64            `json:"total_tickets"`
	ArticleCategories      map[string]int64 `json:"kb_article_categories"`
	TicketQuality          map[string]int64 `json:"ticket_quality_distribution"`
	UserProficiency        map[string]int64 `json:"user_proficiency_distribution"`
	PotentialImpact        map[string]int64 `json:"potential_impact_distribution"`
	IndexedDocuments       int              `json:"indexed_documents"`
	CacheHits              uint64           `json:"embedding_cache_hits"`
	CacheMisses            uint64           `json:"embedding_cache_misses"`
	EmbeddingCacheEntries  int              `json:"embedding_cache_entries"`
	EmbeddingCacheHitRatio float64          `json:"embedding_cache_hit_ratio"`
}

// DayCount is the number of tickets created on one UTC calendar day.
type DayCount struct {
	Date  string `json:"date"`
	Count int64  `json:"count"`
}

// Matrix is a pairwise similarity matrix over indexed documents of one kind.
type Matrix struct {
	Kind   models.Kind `json:"kind"`
	Metric string      `json:"metric"`
	IDs    []string    `json:"ids"`
	Labels []string    `json:"labels"`
	Values [][]float64 `json:"values"`
}

// Service computes dashboard data from the store and the search engine.
type Service struct {
	storage storage.Storage
	engine  *search.Engine
	now     func() time.Time
}

// New returns a dashboard service.
func New(store storage.Storage, engine *search.Engine) *Service {
	return &Service{storage: store, engine: engine, now: time.Now}
}

// Statistics counts documents per kind and tallies the categorical attributes.
func (s *Service) Statistics(ctx context.Context) (*Statistics, error) {
	st := &Statistics{
		ArticleCategories: map[string]int64{},
		TicketQuality:     map[string]int64{},
		UserProficiency:   map[string]int64{},
		PotentialImpact:   map[string]int64{},
	}
	docs, err := s.storage.ListDocuments(ctx, storage.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	for _, doc := range docs {
		switch {
		case doc.Article != nil:
			st.TotalArticles++
			st.ArticleCategories[orUnknown(doc.Article.Category)]++
		case doc.Ticket != nil:
			st.TotalTickets++
			st.TicketQuality[orUnknown(doc.Ticket.Quality)]++
			st.UserProficiency[orUnknown(doc.Ticket.UserProficiency)]++
			st.PotentialImpact[orUnknown(doc.Ticket.PotentialImpact)]++
		}
	}

	es := s.engine.Stats()
	st.IndexedDocuments = es.Documents
	st.CacheHits, st.CacheMisses = es.Cache.Hits, es.Cache.Misses
	st.EmbeddingCacheEntries = es.Cache.Entries
	if total := es.Cache.Hits + es.Cache.Misses; total > 0 {
		st.EmbeddingCacheHitRatio = float64(es.Cache.Hits) / float64(total)
	}
	return st, nil
}

func orUnknown(s string) string {
	if s == "" {
		return "Unknown"
	}
	return s
}

// DailyTicketCounts returns one entry per UTC day for the last days days, oldest first,
// including days without tickets.
func (s *Service) DailyTicketCounts(ctx context.Context, days int) ([]DayCount, error) {
	if days <= 0 {
		days = DefaultDays
	}
	today := s.now().UTC().Truncate(24 * time.Hour)
	start := today.AddDate(0, 0, -(days - 1))
	counts, err := s.storage.CountByDay(ctx, models.KindTicket, start)
	if err != nil {
		return nil, fmt.Errorf("count tickets by day: %w", err)
	}
	out := make([]DayCount, 0, days)
	for d := start; !d.After(today); d = d.AddDate(0, 0, 1) {
		key := d.Format(time.DateOnly)
		out = append(out, DayCount{Date: key, Count: counts[key]})
	}
	return out, nil
}

// SimilarityMatrix returns pairwise cosine similarities between the first limit indexed
// documents of kind. Article rows are labelled by title, tickets by tracking index.
func (s *Service) SimilarityMatrix(ctx context.Context, kind models.Kind, limit int) (*Matrix, error) {
	if limit <= 0 {
		limit = DefaultMatrixLimit
	}
	entries := s.engine.Vectors(kind)
	if len(entries) > limit {
		entries = entries[:limit]
	}

	m := &Matrix{
		Kind:   kind,
		Metric: string(vector.Cosine),
		IDs:    make([]string, len(entries)),
		Labels: make([]string, len(entries)),
		Values: make([][]float64, len(entries)),
	}
	for i, en := range entries {
		m.IDs[i] = en.ID
		m.Labels[i] = s.label(ctx, en.ID)
		m.Values[i] = make([]float64, len(entries))
	}
	for i := range entries {
		for j := i; j < len(entries); j++ {
			sim, err := vector.Similarity(vector.Cosine, entries[i].Vector, entries[j].Vector)
			if err != nil {
				return nil, err
			}
			m.Values[i][j], m.Values[j][i] = sim, sim
		}
	}
	return m, nil
}

// label is the article title for id, or id itself.
func (s *Service) label(ctx context.Context, id string) string {
	if doc, err := s.storage.GetDocument(ctx, id); err == nil && doc.Article != nil && doc.Article.Title != "" {
		return doc.Article.Title
	}
	return id
}
