// Package cache memoizes embeddings by content fingerprint.
//
// A Cache sits in front of the embedding provider: on a hit the stored vector is returned,
// on a miss the compute function runs once per fingerprint no matter how many callers ask
// concurrently. Lookups for unrelated fingerprints do not block each other.
package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/hyperjump/kbsearch/internal/embedding"
	"github.com/hyperjump/kbsearch/pkg/utils"
)

// Store persists cache entries. Implementations must be safe for concurrent use.
type Store interface {
	Get(ctx context.Context, fingerprint string) ([]float32, bool, error)
	Put(ctx context.Context, fingerprint string, embedding []float32) error
	Delete(ctx context.Context, fingerprint string) error
}

// ComputeFunc produces the embedding for a fingerprint on a miss.
type ComputeFunc func(ctx context.Context) ([]float32, error)

// Observer receives hit and miss events, e.g. for metrics.
type Observer interface {
	CacheHit()
	CacheMiss()
}

// Stats is a snapshot of cache activity.
type Stats struct {
	Hits    uint64 `json:"hits"`
	Misses  uint64 `json:"misses"`
	Entries int    `json:"entries"`
}

// Cache maps fingerprints to embeddings. Returned slices are shared and must not be modified.
type Cache struct {
	mem      *MemoryStore
	store    Store
	group    singleflight.Group
	logger   *zap.Logger
	observer Observer

	hits   atomic.Uint64
	misses atomic.Uint64

	// generations counts invalidations per fingerprint so that a compute finishing after
	// Invalidate does not bring the entry back.
	genMu       sync.Mutex
	generations map[string]uint64
}

// Option configures a Cache.
type Option func(*Cache)

// WithStore adds a durable or shared layer behind the in-process LRU.
func WithStore(s Store) Option {
	return func(c *Cache) {
		c.store = s
	}
}

// WithCapacity bounds the in-process LRU. Zero means unbounded.
func WithCapacity(n int) Option {
	return func(c *Cache) {
		c.mem = NewMemoryStore(n)
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Cache) {
		c.logger = utils.NamedLogger(l, "cache")
	}
}

// WithObserver registers hit/miss callbacks.
func WithObserver(o Observer) Option {
	return func(c *Cache) {
		c.observer = o
	}
}

// New creates a Cache. Without options it is an unbounded in-memory cache.
func New(opts ...Option) *Cache {
	c := &Cache{
		mem:         NewMemoryStore(0),
		logger:      zap.NewNop(),
		generations: make(map[string]uint64),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetOrCompute returns the embedding cached under fingerprint, calling compute on a miss.
// Concurrent callers for the same fingerprint share a single compute call and its result.
// A compute failure is returned as *embedding.ProviderError and nothing is stored.
//
// compute runs with the context of the caller that started it; other callers waiting on
// it stop waiting when their own context ends. When that caller gives up, the remaining
// callers start a new compute under their own contexts.
func (c *Cache) GetOrCompute(ctx context.Context, fingerprint string, compute ComputeFunc) ([]float32, error) {
	if v, ok, _ := c.mem.Get(ctx, fingerprint); ok {
		c.hit()
		return v, nil
	}

	for {
		ch := c.group.DoChan(fingerprint, func() (any, error) {
			return c.load(ctx, fingerprint, compute)
		})
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case res := <-ch:
			if res.Err == nil {
				return res.Val.([]float32), nil
			}
			if isContextErr(res.Err) && ctx.Err() == nil {
				continue
			}
			return nil, res.Err
		}
	}
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func (c *Cache) generation(fingerprint string) uint64 {
	c.genMu.Lock()
	defer c.genMu.Unlock()
	return c.generations[fingerprint]
}

func (c *Cache) load(ctx context.Context, fingerprint string, compute ComputeFunc) ([]float32, error) {
	gen := c.generation(fingerprint)

	// A previous flight may have finished between the first lookup and this one.
	if v, ok, _ := c.mem.Get(ctx, fingerprint); ok {
		c.hit()
		return v, nil
	}

	if c.store != nil {
		v, ok, err := c.store.Get(ctx, fingerprint)
		if err != nil {
			return nil, fmt.Errorf("cache store get: %w", err)
		}
		if ok {
			_ = c.mem.Put(ctx, fingerprint, v)
			c.hit()
			return v, nil
		}
	}

	c.miss()
	c.logger.Debug("computing embedding", zap.String("fingerprint", fingerprint))
	v, err := compute(ctx)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, embedding.AsProviderError(err, "compute failed")
	}
	if len(v) == 0 {
		return nil, &embedding.ProviderError{Reason: "empty embedding"}
	}
	v = utils.CloneVector(v)

	if c.generation(fingerprint) != gen {
		return v, nil
	}
	if c.store != nil {
		if err := c.store.Put(ctx, fingerprint, v); err != nil {
			return nil, fmt.Errorf("cache store put: %w", err)
		}
	}
	_ = c.mem.Put(ctx, fingerprint, v)
	// Invalidate may have run between the check above and the writes.
	if c.generation(fingerprint) != gen {
		_ = c.mem.Delete(ctx, fingerprint)
		if c.store != nil {
			_ = c.store.Delete(ctx, fingerprint)
		}
	}
	return v, nil
}

// Get returns the cached embedding without computing.
func (c *Cache) Get(ctx context.Context, fingerprint string) ([]float32, bool, error) {
	if v, ok, _ := c.mem.Get(ctx, fingerprint); ok {
		return v, true, nil
	}
	if c.store == nil {
		return nil, false, nil
	}
	v, ok, err := c.store.Get(ctx, fingerprint)
	if err != nil {
		return nil, false, fmt.Errorf("cache store get: %w", err)
	}
	if ok {
		_ = c.mem.Put(ctx, fingerprint, v)
	}
	return v, ok, nil
}

// Put seeds the cache with a known embedding, e.g. one loaded from the document store.
// An existing entry is left unchanged.
func (c *Cache) Put(ctx context.Context, fingerprint string, v []float32) error {
	if len(v) == 0 {
		return fmt.Errorf("cache put %s: empty embedding", fingerprint)
	}
	v = utils.CloneVector(v)
	if c.store != nil {
		if err := c.store.Put(ctx, fingerprint, v); err != nil {
			return fmt.Errorf("cache store put: %w", err)
		}
	}
	return c.mem.Put(ctx, fingerprint, v)
}

// Invalidate removes the entry for fingerprint; the next GetOrCompute recomputes it.
// A compute already in flight for fingerprint still answers its callers but is not stored.
func (c *Cache) Invalidate(ctx context.Context, fingerprint string) error {
	c.genMu.Lock()
	c.generations[fingerprint]++
	c.genMu.Unlock()
	c.group.Forget(fingerprint)
	_ = c.mem.Delete(ctx, fingerprint)
	if c.store != nil {
		if err := c.store.Delete(ctx, fingerprint); err != nil {
			return fmt.Errorf("cache store delete: %w", err)
		}
	}
	return nil
}

// Len returns the number of entries held in process.
func (c *Cache) Len() int {
	return c.mem.Len()
}

// Stats returns hit, miss and entry counts.
func (c *Cache) Stats() Stats {
	return Stats{Hits: c.hits.Load(), Misses: c.misses.Load(), Entries: c.mem.Len()}
}

func (c *Cache) hit() {
	c.hits.Add(1)
	if c.observer != nil {
		c.observer.CacheHit()
	}
}

func (c *Cache) miss() {
	c.misses.Add(1)
	if c.observer != nil {
		c.observer.CacheMiss()
	}
}
