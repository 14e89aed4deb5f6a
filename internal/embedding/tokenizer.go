package embedding

import "github.com/cespare/xxhash/v2"

const (
	clsToken  = 101
	sepToken  = 102
	vocabSize = 30000
	// firstWordID skips the reserved BERT ids ([PAD], [UNK], [CLS], [SEP], [MASK]).
	firstWordID = 1000
)

// Tokenizer produces BERT-style model inputs (input_ids, attention_mask, token_type_ids).
type Tokenizer interface {
	Tokenize(text string, maxTokens int) (inputIDs, attentionMask, tokenTypeIDs []int64)
}

// HashTokenizer maps each word to a hashed vocabulary id. It needs no vocabulary file.
type HashTokenizer struct{}

// Tokenize returns three slices of length maxTokens: [CLS] words... [SEP] then padding.
func (t *HashTokenizer) Tokenize(text string, maxTokens int) (inputIDs, attentionMask, tokenTypeIDs []int64) {
	if maxTokens < 2 {
		maxTokens = 256
	}
	inputIDs = make([]int64, maxTokens)
	attentionMask = make([]int64, maxTokens)
	tokenTypeIDs = make([]int64, maxTokens)

	inputIDs[0] = clsToken
	attentionMask[0] = 1
	pos := 1
	for _, w := range Words(text) {
		if pos >= maxTokens-1 {
			break
		}
		inputIDs[pos] = firstWordID + int64(xxhash.Sum64String(w)%(vocabSize-firstWordID))
		attentionMask[pos] = 1
		pos++
	}
	inputIDs[pos] = sepToken
	attentionMask[pos] = 1
	return inputIDs, attentionMask, tokenTypeIDs
}
