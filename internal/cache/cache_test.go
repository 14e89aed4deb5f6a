package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/kbsearch/internal/embedding"
)

func constant(v []float32, calls *atomic.Int32) ComputeFunc {
	return func(context.Context) ([]float32, error) {
		calls.Add(1)
		return v, nil
	}
}

func TestGetOrCompute_HitSkipsCompute(t *testing.T) {
	c := New()
	ctx := context.Background()
	var calls atomic.Int32

	v1, err := c.GetOrCompute(ctx, "fp", constant([]float32{1, 2}, &calls))
	require.NoError(t, err)
	v2, err := c.GetOrCompute(ctx, "fp", constant([]float32{9, 9}, &calls))
	require.NoError(t, err)

	assert.Equal(t, []float32{1, 2}, v1)
	assert.Equal(t, v1, v2)
	assert.EqualValues(t, 1, calls.Load())
	assert.Equal(t, Stats{Hits: 1, Misses: 1, Entries: 1}, c.Stats())
}

func TestGetOrCompute_ConcurrentCallersShareOneCompute(t *testing.T) {
	c := New()
	ctx := context.Background()
	var calls atomic.Int32
	release := make(chan struct{})

	compute := func(context.Context) ([]float32, error) {
		calls.Add(1)
		<-release
		return []float32{0.5, 0.5}, nil
	}

	const callers = 32
	results := make([][]float32, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := c.GetOrCompute(ctx, "same", compute)
			assert.NoError(t, err)
			results[i] = v
		}(i)
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.EqualValues(t, 1, calls.Load())
	for _, v := range results {
		assert.Equal(t, []float32{0.5, 0.5}, v)
	}
}

func TestGetOrCompute_UnrelatedKeysRunInParallel(t *testing.T) {
	c := New()
	ctx := context.Background()
	started := make(chan struct{}, 2)
	release := make(chan struct{})

	compute := func(context.Context) ([]float32, error) {
		started <- struct{}{}
		<-release
		return []float32{1}, nil
	}

	var wg sync.WaitGroup
	for _, fp := range []string{"a", "b"} {
		wg.Add(1)
		go func(fp string) {
			defer wg.Done()
			_, err := c.GetOrCompute(ctx, fp, compute)
			assert.NoError(t, err)
		}(fp)
	}

	for i := 0; i < 2; i++ {
		select {
		case <-started:
		case <-time.After(2 * time.Second):
			t.Fatal("computes for different fingerprints did not overlap")
		}
	}
	close(release)
	wg.Wait()
	assert.Equal(t, 2, c.Len())
}

func TestGetOrCompute_FailureStoresNothing(t *testing.T) {
	c := New()
	ctx := context.Background()
	boom := errors.New("quota exceeded")

	_, err := c.GetOrCompute(ctx, "fp", func(context.Context) ([]float32, error) {
		return nil, boom
	})
	var pe *embedding.ProviderError
	require.True(t, errors.As(err, &pe))
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, c.Len())

	var calls atomic.Int32
	v, err := c.GetOrCompute(ctx, "fp", constant([]float32{3}, &calls))
	require.NoError(t, err)
	assert.Equal(t, []float32{3}, v)
	assert.EqualValues(t, 1, calls.Load())
}

func TestGetOrCompute_ProviderErrorPassesThrough(t *testing.T) {
	c := New()
	orig := &embedding.ProviderError{Reason: "rate limited"}

	_, err := c.GetOrCompute(context.Background(), "fp", func(context.Context) ([]float32, error) {
		return nil, orig
	})
	assert.Same(t, orig, err)
}

func TestGetOrCompute_EmptyEmbeddingRejected(t *testing.T) {
	c := New()
	_, err := c.GetOrCompute(context.Background(), "fp", func(context.Context) ([]float32, error) {
		return []float32{}, nil
	})
	var pe *embedding.ProviderError
	assert.True(t, errors.As(err, &pe))
	assert.Equal(t, 0, c.Len())
}

func TestGetOrCompute_WaiterHonoursOwnContext(t *testing.T) {
	c := New()
	release := make(chan struct{})
	defer close(release)

	go func() {
		_, _ = c.GetOrCompute(context.Background(), "slow", func(context.Context) ([]float32, error) {
			<-release
			return []float32{1}, nil
		})
	}()
	time.Sleep(10 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := c.GetOrCompute(ctx, "slow", func(context.Context) ([]float32, error) {
		t.Error("waiter must not start its own compute")
		return nil, nil
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestGetOrCompute_CanceledStarterDoesNotFailWaiters(t *testing.T) {
	c := New()
	var calls atomic.Int32
	started := make(chan struct{}, 2)
	compute := func(ctx context.Context) ([]float32, error) {
		calls.Add(1)
		started <- struct{}{}
		select {
		case <-ctx.Done():
			return nil, &embedding.ProviderError{Reason: "canceled", Err: ctx.Err()}
		case <-time.After(50 * time.Millisecond):
			return []float32{3, 4}, nil
		}
	}

	starterCtx, cancel := context.WithCancel(context.Background())
	starterErr := make(chan error, 1)
	go func() {
		_, err := c.GetOrCompute(starterCtx, "fp", compute)
		starterErr <- err
	}()
	<-started

	type result struct {
		v   []float32
		err error
	}
	waiter := make(chan result, 1)
	go func() {
		v, err := c.GetOrCompute(context.Background(), "fp", compute)
		waiter <- result{v, err}
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()

	got := <-waiter
	require.NoError(t, got.err)
	assert.Equal(t, []float32{3, 4}, got.v)

	err := <-starterErr
	assert.ErrorIs(t, err, context.Canceled)
	var pe *embedding.ProviderError
	assert.False(t, errors.As(err, &pe), "cancellation is not a provider failure")
	assert.EqualValues(t, 2, calls.Load())
	assert.Equal(t, 1, c.Len())
}

func TestInvalidate_DuringCompute(t *testing.T) {
	backing := NewMemoryStore(0)
	c := New(WithStore(backing))
	ctx := context.Background()
	entered := make(chan struct{})
	release := make(chan struct{})

	done := make(chan []float32, 1)
	go func() {
		v, err := c.GetOrCompute(ctx, "fp", func(context.Context) ([]float32, error) {
			close(entered)
			<-release
			return []float32{1}, nil
		})
		assert.NoError(t, err)
		done <- v
	}()
	<-entered
	require.NoError(t, c.Invalidate(ctx, "fp"))
	close(release)

	assert.Equal(t, []float32{1}, <-done)
	assert.Equal(t, 0, c.Len())
	assert.Equal(t, 0, backing.Len())

	var calls atomic.Int32
	_, err := c.GetOrCompute(ctx, "fp", constant([]float32{2}, &calls))
	require.NoError(t, err)
	assert.EqualValues(t, 1, calls.Load())
	assert.Equal(t, 1, c.Len())
}

func TestInvalidate(t *testing.T) {
	c := New()
	ctx := context.Background()
	var calls atomic.Int32

	_, err := c.GetOrCompute(ctx, "fp", constant([]float32{1}, &calls))
	require.NoError(t, err)
	require.NoError(t, c.Invalidate(ctx, "fp"))
	assert.Equal(t, 0, c.Len())

	_, err = c.GetOrCompute(ctx, "fp", constant([]float32{1}, &calls))
	require.NoError(t, err)
	assert.EqualValues(t, 2, calls.Load())
}

func TestComputedVectorIsCopied(t *testing.T) {
	c := New()
	src := []float32{1, 2}
	var calls atomic.Int32

	got, err := c.GetOrCompute(context.Background(), "fp", constant(src, &calls))
	require.NoError(t, err)
	src[0] = 42
	assert.Equal(t, float32(1), got[0])
}

type recordingStore struct {
	*MemoryStore
	puts   atomic.Int32
	putErr error
}

func (s *recordingStore) Put(ctx context.Context, fp string, v []float32) error {
	s.puts.Add(1)
	if s.putErr != nil {
		return s.putErr
	}
	return s.MemoryStore.Put(ctx, fp, v)
}

func TestBackingStore(t *testing.T) {
	ctx := context.Background()
	backing := &recordingStore{MemoryStore: NewMemoryStore(0)}
	require.NoError(t, backing.MemoryStore.Put(ctx, "warm", []float32{7}))

	c := New(WithStore(backing))
	var calls atomic.Int32

	v, err := c.GetOrCompute(ctx, "warm", constant([]float32{0}, &calls))
	require.NoError(t, err)
	assert.Equal(t, []float32{7}, v)
	assert.EqualValues(t, 0, calls.Load())

	_, err = c.GetOrCompute(ctx, "cold", constant([]float32{8}, &calls))
	require.NoError(t, err)
	assert.EqualValues(t, 1, calls.Load())
	assert.EqualValues(t, 1, backing.puts.Load())

	stored, ok, err := backing.Get(ctx, "cold")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []float32{8}, stored)
}

func TestBackingStorePutFailure(t *testing.T) {
	ctx := context.Background()
	backing := &recordingStore{MemoryStore: NewMemoryStore(0), putErr: errors.New("disk full")}
	c := New(WithStore(backing))
	var calls atomic.Int32

	_, err := c.GetOrCompute(ctx, "fp", constant([]float32{1}, &calls))
	require.Error(t, err)
	assert.Equal(t, 0, c.Len())
}

type countingObserver struct {
	hits, misses atomic.Int32
}

func (o *countingObserver) CacheHit()  { o.hits.Add(1) }
func (o *countingObserver) CacheMiss() { o.misses.Add(1) }

func TestObserver(t *testing.T) {
	obs := &countingObserver{}
	c := New(WithObserver(obs), WithCapacity(10))
	ctx := context.Background()
	var calls atomic.Int32

	for i := 0; i < 3; i++ {
		_, err := c.GetOrCompute(ctx, "fp", constant([]float32{1}, &calls))
		require.NoError(t, err)
	}
	assert.EqualValues(t, 2, obs.hits.Load())
	assert.EqualValues(t, 1, obs.misses.Load())
}

func TestPutSeedsCache(t *testing.T) {
	c := New()
	ctx := context.Background()
	require.NoError(t, c.Put(ctx, "fp", []float32{4}))
	assert.Error(t, c.Put(ctx, "other", nil))

	v, ok, err := c.Get(ctx, "fp")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []float32{4}, v)

	_, ok, err = c.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}
