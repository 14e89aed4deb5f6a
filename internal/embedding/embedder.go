// Package embedding is the gateway to embedding providers: a hosted OpenAI-compatible API,
// a local ONNX model, or a deterministic feature-hashing embedder.
//
// Retries, rate limiting and authentication live in the implementations. Callers see either
// a vector or a *ProviderError.
package embedding

import (
	"context"
	"errors"
	"fmt"
)

// Embedder produces vector embeddings for text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	// Dimensions returns the vector length, or 0 when it is only known after the first call.
	Dimensions() int
	Close() error
}

// ProviderError reports that an embedding could not be obtained.
type ProviderError struct {
	Reason string
	Err    error
}

func (e *ProviderError) Error() string {
	if e.Err == nil {
		return "embedding provider: " + e.Reason
	}
	return fmt.Sprintf("embedding provider: %s: %v", e.Reason, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// AsProviderError returns err as a *ProviderError, wrapping it with reason when it is not
// one already. A nil err stays nil.
func AsProviderError(err error, reason string) error {
	if err == nil {
		return nil
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return err
	}
	return &ProviderError{Reason: reason, Err: err}
}

// embedEach implements EmbedBatch on top of Embed.
func embedEach(ctx context.Context, e Embedder, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		v, err := e.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}
