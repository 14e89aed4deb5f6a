package cli

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/kbsearch/internal/dashboard"
	"github.com/hyperjump/kbsearch/internal/indexer"
	"github.com/hyperjump/kbsearch/internal/models"
	"github.com/hyperjump/kbsearch/internal/search"
)

func sampleResponse() *models.SearchResponse {
	return &models.SearchResponse{
		Query:     "vpn drops",
		Metric:    "cosine",
		QueryTime: 42,
		Total:     2,
		Results: []*models.SearchResult{
			{
				Rank:  1,
				Score: 0.91,
				Document: &models.Document{
					ID:      "KB1",
					Kind:    models.KindArticle,
					Article: &models.ArticleFields{Number: "KB1", Version: "1.1", Category: "Network", Title: "VPN disconnects"},
					RawText: "VPN disconnects Update the client.",
				},
			},
			{
				Rank:  2,
				Score: 0.5,
				Document: &models.Document{
					ID:      "T7",
					Kind:    models.KindTicket,
					Ticket:  &models.TicketFields{TrackingIndex: "T7", Description: "VPN drops", Quality: "Good", UserProficiency: "Beginner", PotentialImpact: "Low"},
					RawText: "VPN drops",
				},
			},
		},
	}
}

func TestParseOutputFormat(t *testing.T) {
	f, err := ParseOutputFormat("")
	require.NoError(t, err)
	assert.Equal(t, OutputText, f)
	f, err = ParseOutputFormat("JSON")
	require.NoError(t, err)
	assert.Equal(t, OutputJSON, f)
	_, err = ParseOutputFormat("compact")
	assert.Error(t, err)
}

func TestWriteSearchResults_JSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteSearchResults(&buf, sampleResponse(), OutputJSON))

	var decoded models.SearchResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "vpn drops", decoded.Query)
	require.Len(t, decoded.Results, 2)
	assert.Equal(t, "KB1", decoded.Results[0].Document.ID)
}

func TestWriteSearchResults_text(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteSearchResults(&buf, sampleResponse(), OutputText))
	out := buf.String()

	assert.Contains(t, out, "Found 2 results in 42ms (metric: cosine)")
	assert.Contains(t, out, "Rank: 1 | Score: 0.9100 | article KB1")
	assert.Contains(t, out, "Version: 1.1 | Category: Network")
	assert.Contains(t, out, "Quality: Good | Proficiency: Beginner | Impact: Low")
	assert.Less(t, strings.Index(out, "KB1"), strings.Index(out, "T7"))
}

func TestWriteKeywordResults(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteKeywordResults(&buf, nil, OutputText))
	assert.Contains(t, buf.String(), "No results found.")

	buf.Reset()
	require.NoError(t, WriteKeywordResults(&buf, []*models.KeywordResult{{ID: "KB2", Title: "Outlook", Score: 1.5}}, OutputText))
	assert.Contains(t, buf.String(), "[1] KB2 Outlook (1.50)")
}

func TestWriteIngestSummary(t *testing.T) {
	s := &indexer.Summary{File: "tickets.csv", Created: 2, Unchanged: 1, Errors: []string{"T9: provider down"}}
	var buf bytes.Buffer
	require.NoError(t, WriteIngestSummary(&buf, s, OutputText))
	assert.Contains(t, buf.String(), "tickets.csv: 2 created, 0 updated, 1 unchanged")
	assert.Contains(t, buf.String(), "error: T9: provider down")
}

func TestWriteStatus(t *testing.T) {
	n := uint64(3)
	s := &Status{
		Documents:        3,
		KeywordDocuments: &n,
		Engine:           search.Stats{Documents: 3, Articles: 2, Tickets: 1, Dimensions: 384, Metric: "cosine"},
		Config:           map[string]interface{}{"storage_driver": "sqlite", "cache_backend": "store"},
	}
	var buf bytes.Buffer
	require.NoError(t, WriteStatus(&buf, s, OutputText))
	out := buf.String()
	assert.Contains(t, out, "2 articles, 1 tickets")
	assert.Contains(t, out, "keyword_documents:  3")
	assert.Less(t, strings.Index(out, "cache_backend"), strings.Index(out, "storage_driver"))
}

func TestWriteStatistics_sortsDistributions(t *testing.T) {
	st := &dashboard.Statistics{
		TotalArticles:     3,
		ArticleCategories: map[string]int64{"Network": 1, "Email": 2},
	}
	var buf bytes.Buffer
	require.NoError(t, WriteStatistics(&buf, st, OutputText))
	out := buf.String()
	assert.Contains(t, out, "KB articles: 3")
	assert.Less(t, strings.Index(out, "Email"), strings.Index(out, "Network"))
	assert.NotContains(t, out, "Ticket quality")
}
