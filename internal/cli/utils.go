// Package cli formats command output and talks to a running kbsearch server.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/hyperjump/kbsearch/internal/dashboard"
	"github.com/hyperjump/kbsearch/internal/indexer"
	"github.com/hyperjump/kbsearch/internal/models"
	"github.com/hyperjump/kbsearch/internal/search"
	"github.com/hyperjump/kbsearch/pkg/utils"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// ParseOutputFormat accepts "text" or "json"; empty means text.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch OutputFormat(strings.ToLower(s)) {
	case "", OutputText:
		return OutputText, nil
	case OutputJSON:
		return OutputJSON, nil
	}
	return "", fmt.Errorf("unknown output format %q; use text or json", s)
}

// WriteJSON writes v as indented JSON.
func WriteJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// WriteSearchResults writes search results to w in the given format.
func WriteSearchResults(w io.Writer, response *models.SearchResponse, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, response)
	}
	fmt.Fprintf(w, "\nFound %d results in %dms (metric: %s)\n\n", response.Total, response.QueryTime, response.Metric)
	for _, result := range response.Results {
		writeOneResult(w, result)
	}
	return nil
}

func writeOneResult(w io.Writer, result *models.SearchResult) {
	doc := result.Document
	fmt.Fprintf(w, "─────────────────────────────────────────────────────────\n")
	fmt.Fprintf(w, "Rank: %d | Score: %.4f | %s %s\n", result.Rank, result.Score, doc.Kind, doc.ID)
	if title := doc.Title(); title != "" {
		fmt.Fprintf(w, "Title: %s\n", title)
	}
	switch {
	case doc.Article != nil:
		if doc.Article.Version != "" {
			fmt.Fprintf(w, "Version: %s", doc.Article.Version)
			if doc.Article.Category != "" {
				fmt.Fprintf(w, " | Category: %s", doc.Article.Category)
			}
			fmt.Fprintln(w)
		}
	case doc.Ticket != nil:
		fmt.Fprintf(w, "Quality: %s | Proficiency: %s | Impact: %s\n",
			doc.Ticket.Quality, doc.Ticket.UserProficiency, doc.Ticket.PotentialImpact)
	}
	fmt.Fprintf(w, "\n%s\n\n", utils.Truncate(doc.RawText, 200))
}

// WriteKeywordResults writes keyword search hits.
func WriteKeywordResults(w io.Writer, results []*models.KeywordResult, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, results)
	}
	if len(results) == 0 {
		fmt.Fprintln(w, "No results found.")
		return nil
	}
	for i, r := range results {
		fmt.Fprintf(w, "  [%d] %s %s (%.2f)\n", i+1, r.ID, r.Title, r.Score)
	}
	return nil
}

// WriteIngestSummary writes the result of an ingest.
func WriteIngestSummary(w io.Writer, s *indexer.Summary, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, s)
	}
	fmt.Fprintf(w, "%s: %d created, %d updated, %d unchanged\n", s.File, s.Created, s.Updated, s.Unchanged)
	for _, e := range s.Errors {
		fmt.Fprintf(w, "  error: %s\n", e)
	}
	return nil
}

// Status is the shape of GET /api/v1/status.
type Status struct {
	Documents        int64                  `json:"documents"`
	KeywordDocuments *uint64                `json:"keyword_documents,omitempty"`
	Engine           search.Stats           `json:"engine"`
	Config           map[string]interface{} `json:"config,omitempty"`
}

// WriteStatus writes engine and storage status.
func WriteStatus(w io.Writer, s *Status, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, s)
	}
	fmt.Fprintf(w, "documents:          %d   # stored documents\n", s.Documents)
	fmt.Fprintf(w, "indexed:            %d   # %d articles, %d tickets\n", s.Engine.Documents, s.Engine.Articles, s.Engine.Tickets)
	if s.KeywordDocuments != nil {
		fmt.Fprintf(w, "keyword_documents:  %d\n", *s.KeywordDocuments)
	}
	fmt.Fprintf(w, "dimensions:         %d\n", s.Engine.Dimensions)
	fmt.Fprintf(w, "metric:             %s\n", s.Engine.Metric)
	fmt.Fprintf(w, "cache:              %d hits, %d misses, %d entries\n", s.Engine.Cache.Hits, s.Engine.Cache.Misses, s.Engine.Cache.Entries)
	if len(s.Config) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "# configuration")
		keys := make([]string, 0, len(s.Config))
		for k := range s.Config {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(w, "%-21s %v\n", k+":", s.Config[k])
		}
	}
	return nil
}

// WriteStatistics writes dashboard statistics.
func WriteStatistics(w io.Writer, st *dashboard.Statistics, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, st)
	}
	fmt.Fprintf(w, "KB articles: %d\n", st.TotalArticles)
	fmt.Fprintf(w, "Tickets:     %d\n", st.TotalTickets)
	writeDistribution(w, "Article categories", st.ArticleCategories)
	writeDistribution(w, "Ticket quality", st.TicketQuality)
	writeDistribution(w, "User proficiency", st.UserProficiency)
	writeDistribution(w, "Potential impact", st.PotentialImpact)
	fmt.Fprintf(w, "\nEmbedding cache: %d hits, %d misses (hit ratio %.2f)\n",
		st.CacheHits, st.CacheMisses, st.EmbeddingCacheHitRatio)
	return nil
}

func writeDistribution(w io.Writer, name string, counts map[string]int64) {
	if len(counts) == 0 {
		return
	}
	fmt.Fprintf(w, "\n%s:\n", name)
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if counts[keys[i]] != counts[keys[j]] {
			return counts[keys[i]] > counts[keys[j]]
		}
		return keys[i] < keys[j]
	})
	for _, k := range keys {
		fmt.Fprintf(w, "  %-20s %d\n", k, counts[k])
	}
}
