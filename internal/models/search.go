package models

import "fmt"

// Search limits.
const (
	DefaultK = 5
	MaxK     = 100
)

// SearchQuery is a similarity search request.
type SearchQuery struct {
	Query  string `json:"query"`
	K      int    `json:"k,omitempty"`
	Kind   Kind   `json:"kind,omitempty"`
	Metric string `json:"metric,omitempty"`
}

// Validate rejects a blank query and clamps K into [1, maxK] (DefaultK when unset).
// Blank text after normalization is caught later by the search engine.
func (q *SearchQuery) Validate(maxK int) error {
	if q.Query == "" {
		return fmt.Errorf("query cannot be empty")
	}
	if maxK <= 0 {
		maxK = MaxK
	}
	if q.K <= 0 {
		q.K = DefaultK
	}
	if q.K > maxK {
		q.K = maxK
	}
	if q.Kind != "" {
		k, err := ParseKind(string(q.Kind))
		if err != nil {
			return err
		}
		q.Kind = k
	}
	return nil
}

// SearchResult is one ranked hit.
type SearchResult struct {
	Document *Document `json:"document"`
	Score    float64   `json:"score"`
	Rank     int       `json:"rank"`
}

// SearchResponse is the answer to a SearchQuery.
type SearchResponse struct {
	Query     string          `json:"query"`
	Metric    string          `json:"metric"`
	Results   []*SearchResult `json:"results"`
	Total     int             `json:"total"`
	QueryTime int64           `json:"query_time_ms"`
}

// KeywordResult is a keyword search hit.
type KeywordResult struct {
	ID         string            `json:"id"`
	Kind       Kind              `json:"kind"`
	Title      string            `json:"title"`
	Score      float64           `json:"score"`
	Highlights map[string]string `json:"highlights,omitempty"`
}
