package embedding

import (
	"context"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"

	"github.com/hyperjump/kbsearch/pkg/utils"
)

// DefaultHashDimensions is used when NewHashEmbedder is given a non-positive size.
const DefaultHashDimensions = 384

// HashEmbedder maps text to a signed bag-of-words feature-hashing vector, L2 normalized.
// Texts sharing words get a positive cosine similarity, which makes it useful offline and
// in tests. It never fails and never calls the network.
type HashEmbedder struct {
	dimensions int
}

// NewHashEmbedder returns a HashEmbedder producing vectors of the given size.
func NewHashEmbedder(dimensions int) *HashEmbedder {
	if dimensions <= 0 {
		dimensions = DefaultHashDimensions
	}
	return &HashEmbedder{dimensions: dimensions}
}

// Embed returns the feature vector for text. Text without any word yields a zero vector.
func (e *HashEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, &ProviderError{Reason: "canceled", Err: err}
	}
	v := make([]float32, e.dimensions)
	for _, tok := range Words(text) {
		h := xxhash.Sum64String(tok)
		idx := h % uint64(e.dimensions)
		if h>>63 == 1 {
			v[idx]--
		} else {
			v[idx]++
		}
	}
	utils.NormalizeL2(v)
	return v, nil
}

func (e *HashEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return embedEach(ctx, e, texts)
}

func (e *HashEmbedder) Dimensions() int {
	return e.dimensions
}

func (e *HashEmbedder) Close() error {
	return nil
}

// Words splits text into lowercase runs of letters and digits.
func Words(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}
