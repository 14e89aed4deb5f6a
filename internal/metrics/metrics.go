// Package metrics exposes Prometheus metrics for the embedding cache, the embedding
// provider and similarity search on a dedicated registry.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hyperjump/kbsearch/internal/embedding"
)

const namespace = "kbsearch"

// Metrics holds the collectors. It satisfies cache.Observer and search.Observer.
type Metrics struct {
	registry *prometheus.Registry

	cacheHits       prometheus.Counter
	cacheMisses     prometheus.Counter
	providerCalls   *prometheus.CounterVec
	providerLatency prometheus.Histogram
	searches        *prometheus.CounterVec
	searchLatency   prometheus.Histogram
}

// New registers the collectors, plus the Go runtime and process collectors, on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "embedding_cache", Name: "hits_total",
			Help: "Embedding lookups served from the cache.",
		}),
		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "embedding_cache", Name: "misses_total",
			Help: "Embedding lookups that had to call the provider.",
		}),
		providerCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "provider", Name: "requests_total",
			Help: "Embedding provider calls by outcome.",
		}, []string{"outcome"}),
		providerLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "provider", Name: "request_duration_seconds",
			Help:    "Embedding provider call latency, retries included.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
		searches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "search", Name: "queries_total",
			Help: "Similarity queries by outcome.",
		}, []string{"outcome"}),
		searchLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "search", Name: "duration_seconds",
			Help:    "Similarity query latency, query embedding included.",
			Buckets: prometheus.DefBuckets,
		}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.cacheHits, m.cacheMisses,
		m.providerCalls, m.providerLatency,
		m.searches, m.searchLatency,
	)
	return m
}

// Registry returns the registry holding every collector.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RegisterIndexSize exports f as the number of indexed documents, read at scrape time.
func (m *Metrics) RegisterIndexSize(f func() int) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: "index", Name: "documents",
		Help: "Documents in the similarity index.",
	}, func() float64 { return float64(f()) }))
}

func (m *Metrics) CacheHit()  { m.cacheHits.Inc() }
func (m *Metrics) CacheMiss() { m.cacheMisses.Inc() }

// ObserveSearch records one similarity query.
func (m *Metrics) ObserveSearch(d time.Duration, err error) {
	m.searches.WithLabelValues(outcome(err)).Inc()
	m.searchLatency.Observe(d.Seconds())
}

func (m *Metrics) observeProvider(start time.Time, err error) {
	m.providerCalls.WithLabelValues(outcome(err)).Inc()
	m.providerLatency.Observe(time.Since(start).Seconds())
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// InstrumentEmbedder wraps e so every provider call is counted and timed.
func (m *Metrics) InstrumentEmbedder(e embedding.Embedder) embedding.Embedder {
	return &instrumentedEmbedder{Embedder: e, metrics: m}
}

type instrumentedEmbedder struct {
	embedding.Embedder
	metrics *Metrics
}

func (i *instrumentedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	start := time.Now()
	v, err := i.Embedder.Embed(ctx, text)
	i.metrics.observeProvider(start, err)
	return v, err
}

func (i *instrumentedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	start := time.Now()
	vs, err := i.Embedder.EmbedBatch(ctx, texts)
	i.metrics.observeProvider(start, err)
	return vs, err
}
