package keyword

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/blevesearch/bleve/v2"
	keywordanalyzer "github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	blevequery "github.com/blevesearch/bleve/v2/search/query"
	"go.uber.org/zap"

	"github.com/hyperjump/kbsearch/internal/models"
)

const (
	fieldKind     = "kind"
	fieldTitle    = "title"
	fieldContent  = "content"
	fieldCategory = "category"
)

// BleveIndex implements Index using Bleve.
type BleveIndex struct {
	index      bleve.Index
	titleBoost float64
	fuzziness  int
	logger     *zap.Logger
}

// Option configures a BleveIndex.
type Option func(*BleveIndex)

// WithTitleBoost multiplies the score of title matches. Values <= 1 disable the boost.
func WithTitleBoost(boost float64) Option {
	return func(b *BleveIndex) { b.titleBoost = boost }
}

// WithFuzziness enables typo-tolerant matching within the given edit distance (1 or 2).
func WithFuzziness(n int) Option {
	return func(b *BleveIndex) { b.fuzziness = n }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(b *BleveIndex) { b.logger = l }
}

func newMapping() mapping.IndexMapping {
	im := bleve.NewIndexMapping()
	doc := bleve.NewDocumentMapping()

	// Standard analyzer: lowercase and tokenize without stemming, so "vpn" matches "VPN"
	// and product names are not mangled.
	text := bleve.NewTextFieldMapping()
	text.Analyzer = standard.Name
	doc.AddFieldMappingsAt(fieldTitle, text)
	doc.AddFieldMappingsAt(fieldContent, text)

	exact := bleve.NewTextFieldMapping()
	exact.Analyzer = keywordanalyzer.Name
	doc.AddFieldMappingsAt(fieldKind, exact)
	doc.AddFieldMappingsAt(fieldCategory, exact)

	im.DefaultMapping = doc
	return im
}

// NewBleveIndex creates or opens a Bleve index at path. An empty path gives an in-memory
// index. If the mapping changes, remove the index directory; Rebuild repopulates it.
func NewBleveIndex(path string, opts ...Option) (*BleveIndex, error) {
	b := &BleveIndex{titleBoost: 2.0, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(b)
	}

	var (
		idx bleve.Index
		err error
	)
	switch {
	case path == "":
		idx, err = bleve.NewMemOnly(newMapping())
	default:
		if _, statErr := os.Stat(path); statErr == nil {
			idx, err = bleve.Open(path)
		} else {
			idx, err = bleve.New(path, newMapping())
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open Bleve index: %w", err)
	}
	b.index = idx
	return b, nil
}

func record(doc *models.Document) map[string]interface{} {
	content := doc.RawText
	if doc.Article != nil && doc.Article.Keywords != "" {
		content += "\n" + doc.Article.Keywords
	}
	return map[string]interface{}{
		fieldKind:     string(doc.Kind),
		fieldTitle:    doc.Title(),
		fieldContent:  content,
		fieldCategory: doc.Category(),
	}
}

// Index adds or replaces doc.
func (b *BleveIndex) Index(ctx context.Context, doc *models.Document) error {
	if err := b.index.Index(doc.ID, record(doc)); err != nil {
		return fmt.Errorf("keyword index %s: %w", doc.ID, err)
	}
	return nil
}

// IndexBatch adds or replaces docs in one batch.
func (b *BleveIndex) IndexBatch(ctx context.Context, docs []*models.Document) error {
	batch := b.index.NewBatch()
	for _, doc := range docs {
		if err := batch.Index(doc.ID, record(doc)); err != nil {
			return fmt.Errorf("keyword index %s: %w", doc.ID, err)
		}
	}
	if err := b.index.Batch(batch); err != nil {
		return fmt.Errorf("keyword index batch: %w", err)
	}
	return nil
}

// Search runs query over title (boosted) and content, optionally restricted to kind.
func (b *BleveIndex) Search(ctx context.Context, query string, kind models.Kind, limit int) ([]*models.KeywordResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	if limit <= 0 {
		limit = DefaultLimit
	}

	title := b.fieldQuery(query, fieldTitle)
	if b.titleBoost > 1 {
		title.SetBoost(b.titleBoost)
	}
	var q blevequery.Query = bleve.NewDisjunctionQuery(title, b.fieldQuery(query, fieldContent))
	if kind != "" {
		kq := bleve.NewTermQuery(string(kind))
		kq.SetField(fieldKind)
		q = bleve.NewConjunctionQuery(q, kq)
	}

	req := bleve.NewSearchRequestOptions(q, limit, 0, false)
	req.Fields = []string{fieldKind, fieldTitle}
	req.Highlight = bleve.NewHighlight()
	req.Highlight.AddField(fieldTitle)
	req.Highlight.AddField(fieldContent)

	res, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("keyword search failed: %w", err)
	}
	b.logger.Debug("keyword search",
		zap.String("query", query),
		zap.String("kind", string(kind)),
		zap.Uint64("total", res.Total))

	out := make([]*models.KeywordResult, 0, len(res.Hits))
	for _, hit := range res.Hits {
		r := &models.KeywordResult{
			ID:    hit.ID,
			Kind:  models.Kind(stringField(hit.Fields, fieldKind)),
			Title: stringField(hit.Fields, fieldTitle),
			Score: hit.Score,
		}
		for field, fragments := range hit.Fragments {
			if len(fragments) == 0 {
				continue
			}
			if r.Highlights == nil {
				r.Highlights = make(map[string]string, len(hit.Fragments))
			}
			r.Highlights[field] = fragments[0]
		}
		out = append(out, r)
	}
	return out, nil
}

// fieldQuery matches query in one field; with fuzziness set every term is matched
// within that edit distance.
func (b *BleveIndex) fieldQuery(query, field string) blevequery.BoostableQuery {
	terms := strings.Fields(strings.ToLower(query))
	if b.fuzziness <= 0 || len(terms) == 0 {
		mq := bleve.NewMatchQuery(query)
		mq.SetField(field)
		return mq
	}
	queries := make([]blevequery.Query, 0, len(terms))
	for _, term := range terms {
		fq := bleve.NewFuzzyQuery(term)
		fq.SetFuzziness(b.fuzziness)
		fq.SetField(field)
		queries = append(queries, fq)
	}
	return bleve.NewDisjunctionQuery(queries...)
}

func stringField(fields map[string]interface{}, name string) string {
	if s, ok := fields[name].(string); ok {
		return s
	}
	return ""
}

// Delete removes a document from the index.
func (b *BleveIndex) Delete(ctx context.Context, id string) error {
	return b.index.Delete(id)
}

// DocCount returns the total number of documents in the index.
func (b *BleveIndex) DocCount() (uint64, error) {
	return b.index.DocCount()
}

// Close closes the Bleve index.
func (b *BleveIndex) Close() error {
	return b.index.Close()
}
