package liveness

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xXDeath420Xx/livebot/internal/adapter/metrics"
	"github.com/xXDeath420Xx/livebot/internal/domain"
)

type fakeStore[V any] struct {
	mu      sync.Mutex
	values  map[string]V
	getErr  error
	setErr  error
	sets    int
	deletes int
}

func newFakeStore[V any]() *fakeStore[V] {
	return &fakeStore[V]{values: make(map[string]V)}
}

func (f *fakeStore[V]) Get(_ context.Context, key string) (V, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var zero V
	if f.getErr != nil {
		return zero, false, f.getErr
	}
	v, ok := f.values[key]
	return v, ok, nil
}

func (f *fakeStore[V]) Set(_ context.Context, key string, value V, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sets++
	if f.setErr != nil {
		return f.setErr
	}
	f.values[key] = value
	return nil
}

func (f *fakeStore[V]) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes++
	delete(f.values, key)
	return nil
}

func stringKey(s string) string { return s }

func TestCache_HitWithinTTL(t *testing.T) {
	clock := clockwork.NewFakeClock()
	c := New[string, int]("test", time.Minute, clock, stringKey)

	var calls int
	load := func(context.Context) (int, error) { calls++; return 42, nil }

	v, err := c.Get(context.Background(), "a", load)
	require.NoError(t, err)
	assert.Equal(t, 42, v)

	clock.Advance(59 * time.Second)
	v, err = c.Get(context.Background(), "a", load)
	require.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.Equal(t, 1, calls)
}

func TestCache_ReloadsAfterTTL(t *testing.T) {
	clock := clockwork.NewFakeClock()
	c := New[string, int]("test", time.Minute, clock, stringKey)

	var calls int
	load := func(context.Context) (int, error) { calls++; return calls, nil }

	_, _ = c.Get(context.Background(), "a", load)
	clock.Advance(time.Minute)
	v, err := c.Get(context.Background(), "a", load)
	require.NoError(t, err)
	assert.Equal(t, 2, v)
	assert.Equal(t, 2, calls)
}

func TestCache_ErrorsAreNotCached(t *testing.T) {
	c := New[string, int]("test", time.Minute, clockwork.NewFakeClock(), stringKey)

	boom := errors.New("boom")
	_, err := c.Get(context.Background(), "a", func(context.Context) (int, error) { return 0, boom })
	require.ErrorIs(t, err, boom)

	v, err := c.Get(context.Background(), "a", func(context.Context) (int, error) { return 7, nil })
	require.NoError(t, err)
	assert.Equal(t, 7, v)
}

func TestCache_CoalescesConcurrentMisses(t *testing.T) {
	c := New[string, int]("test", time.Minute, clockwork.NewFakeClock(), stringKey)

	var calls atomic.Int32
	release := make(chan struct{})
	load := func(context.Context) (int, error) {
		calls.Add(1)
		<-release
		return 1, nil
	}

	const callers = 20
	var wg sync.WaitGroup
	var started sync.WaitGroup
	started.Add(callers)
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			started.Done()
			v, err := c.Get(context.Background(), "same", load)
			assert.NoError(t, err)
			assert.Equal(t, 1, v)
		}()
	}
	started.Wait()
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
}

func TestCache_UsesSharedLayer(t *testing.T) {
	clock := clockwork.NewFakeClock()
	store := newFakeStore[int]()
	store.values["a"] = 99

	c := New("test", time.Minute, clock, stringKey, WithStore[string](Store[int](store)))

	v, err := c.Get(context.Background(), "a", func(context.Context) (int, error) {
		t.Fatal("loader must not run on shared hit")
		return 0, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 99, v)

	_, ok := c.Peek("a")
	assert.True(t, ok, "shared hit should populate memory layer")
}

func TestCache_SharedLayerErrorsDegradeToLoad(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewCacheMetrics(reg)
	store := newFakeStore[int]()
	store.getErr = errors.New("redis down")
	store.setErr = errors.New("redis down")

	c := New("test", time.Minute, clockwork.NewFakeClock(), stringKey,
		WithStore[string](Store[int](store)), WithMetrics[string, int](m))

	v, err := c.Get(context.Background(), "a", func(context.Context) (int, error) { return 5, nil })
	require.NoError(t, err)
	assert.Equal(t, 5, v)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Errors.WithLabelValues("test")))
}

func TestCache_InvalidateRemovesBothLayers(t *testing.T) {
	store := newFakeStore[int]()
	c := New("test", time.Minute, clockwork.NewFakeClock(), stringKey, WithStore[string](Store[int](store)))

	c.Set(context.Background(), "a", 1)
	c.Invalidate(context.Background(), "a")

	_, ok := c.Peek("a")
	assert.False(t, ok)
	assert.Equal(t, 1, store.deletes)
	assert.Empty(t, store.values)
}

func TestCache_EvictExpired(t *testing.T) {
	clock := clockwork.NewFakeClock()
	c := New[string, int]("test", time.Minute, clock, stringKey)

	c.Set(context.Background(), "old", 1)
	clock.Advance(30 * time.Second)
	c.Set(context.Background(), "new", 2)
	clock.Advance(31 * time.Second)

	assert.Equal(t, 1, c.EvictExpired())
	assert.Equal(t, 1, c.Len())
}

func TestIdentityKeyString_NoDelimiterCollision(t *testing.T) {
	a := domain.IdentityKey{Platform: domain.PlatformTwitch, NativeID: `a":"b`}
	b := domain.IdentityKey{Platform: domain.PlatformTwitch, NativeID: "a", Login: "b"}
	assert.NotEqual(t, IdentityKeyString(a), IdentityKeyString(b))
}
