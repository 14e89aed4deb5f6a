package embedding

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"sync"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/hyperjump/kbsearch/pkg/utils"
)

// OpenAIConfig configures an OpenAI-compatible embeddings endpoint.
type OpenAIConfig struct {
	APIKey            string
	BaseURL           string
	Model             string
	Dimensions        int
	Timeout           time.Duration
	MaxRetries        int
	RequestsPerSecond float64
	Burst             int
	// InitialBackoff is the first retry delay; later delays double with jitter.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// OpenAIEmbedder calls the embeddings endpoint of an OpenAI-compatible API.
type OpenAIEmbedder struct {
	client  *openai.Client
	model   string
	// requested is sent as the dimensions parameter; zero keeps the model's native size.
	requested int
	limiter *rate.Limiter
	logger  *zap.Logger

	maxRetries     int
	initialBackoff time.Duration
	maxBackoff     time.Duration

	mu         sync.RWMutex
	dimensions int
}

// Option configures an OpenAIEmbedder.
type Option func(*OpenAIEmbedder)

// WithLogger sets the logger for retry and failure events.
func WithLogger(l *zap.Logger) Option {
	return func(e *OpenAIEmbedder) {
		e.logger = utils.NamedLogger(l, "openai")
	}
}

// NewOpenAIEmbedder builds an embedder from cfg. It does not contact the API.
func NewOpenAIEmbedder(cfg OpenAIConfig, opts ...Option) (*OpenAIEmbedder, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai embedder: api key is required")
	}
	if cfg.Model == "" {
		return nil, errors.New("openai embedder: model is required")
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	clientCfg.HTTPClient = &http.Client{Timeout: timeout}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	initial := cfg.InitialBackoff
	if initial <= 0 {
		initial = 500 * time.Millisecond
	}
	maxBackoff := cfg.MaxBackoff
	if maxBackoff <= 0 {
		maxBackoff = 20 * time.Second
	}
	retries := cfg.MaxRetries
	if retries < 0 {
		retries = 0
	}

	e := &OpenAIEmbedder{
		client:         openai.NewClientWithConfig(clientCfg),
		model:          cfg.Model,
		requested:      cfg.Dimensions,
		limiter:        rate.NewLimiter(limit, burst),
		logger:         zap.NewNop(),
		maxRetries:     retries,
		initialBackoff: initial,
		maxBackoff:     maxBackoff,
		dimensions:     cfg.Dimensions,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Embed returns the embedding of a single text.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds texts in one request, retrying transient failures.
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	req := openai.EmbeddingRequest{
		Input:      texts,
		Model:      openai.EmbeddingModel(e.model),
		Dimensions: e.requested,
	}

	var lastErr error
	for attempt := 0; attempt <= e.maxRetries; attempt++ {
		if attempt > 0 {
			delay := e.backoff(attempt)
			e.logger.Warn("retrying embedding request",
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay),
				zap.Error(lastErr))
			select {
			case <-ctx.Done():
				return nil, &ProviderError{Reason: "canceled", Err: ctx.Err()}
			case <-time.After(delay):
			}
		}
		if err := e.limiter.Wait(ctx); err != nil {
			return nil, &ProviderError{Reason: "rate limiter", Err: err}
		}

		resp, err := e.client.CreateEmbeddings(ctx, req)
		if err == nil {
			return e.collect(resp, len(texts))
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, &ProviderError{Reason: "canceled", Err: ctx.Err()}
		}
		if !retryable(err) {
			break
		}
	}
	e.logger.Error("embedding request failed", zap.Error(lastErr))
	return nil, &ProviderError{Reason: reasonFor(lastErr), Err: lastErr}
}

func (e *OpenAIEmbedder) collect(resp openai.EmbeddingResponse, n int) ([][]float32, error) {
	if len(resp.Data) != n {
		return nil, &ProviderError{Reason: fmt.Sprintf("expected %d embeddings, got %d", n, len(resp.Data))}
	}
	out := make([][]float32, n)
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= n {
			return nil, &ProviderError{Reason: fmt.Sprintf("embedding index %d out of range", d.Index)}
		}
		if len(d.Embedding) == 0 {
			return nil, &ProviderError{Reason: "empty embedding"}
		}
		out[d.Index] = d.Embedding
	}
	for i, v := range out {
		if v == nil {
			return nil, &ProviderError{Reason: fmt.Sprintf("missing embedding %d", i)}
		}
	}

	e.mu.Lock()
	if e.dimensions == 0 {
		e.dimensions = len(out[0])
	}
	e.mu.Unlock()
	return out, nil
}

// backoff returns a jittered exponential delay for the given retry attempt (1-based).
func (e *OpenAIEmbedder) backoff(attempt int) time.Duration {
	d := e.initialBackoff << (attempt - 1)
	if d <= 0 || d > e.maxBackoff {
		d = e.maxBackoff
	}
	half := d / 2
	return half + time.Duration(rand.Int63n(int64(half)+1))
}

func (e *OpenAIEmbedder) Dimensions() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.dimensions
}

func (e *OpenAIEmbedder) Close() error {
	return nil
}

func statusCode(err error) int {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	return 0
}

// retryable reports whether err is a rate limit, a server error or a transport failure.
func retryable(err error) bool {
	code := statusCode(err)
	switch {
	case code == 0:
		return true
	case code == http.StatusTooManyRequests, code == http.StatusRequestTimeout:
		return true
	case code >= 500:
		return true
	}
	return false
}

func reasonFor(err error) string {
	switch code := statusCode(err); {
	case code == http.StatusUnauthorized, code == http.StatusForbidden:
		return "authentication failed"
	case code == http.StatusTooManyRequests:
		return "rate limited"
	case code >= 500:
		return fmt.Sprintf("server error %d", code)
	case code >= 400:
		return fmt.Sprintf("request rejected %d", code)
	}
	return "request failed"
}
