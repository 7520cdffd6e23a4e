package liveness

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/singleflight"

	"github.com/xXDeath420Xx/livebot/internal/adapter/metrics"
)

// Store is an optional shared second-level cache. Implementations report misses as (zero, false, nil).
type Store[V any] interface {
	Get(ctx context.Context, key string) (V, bool, error)
	Set(ctx context.Context, key string, value V, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// Loader fetches a value on a cache miss.
type Loader[V any] func(ctx context.Context) (V, error)

// Cache is a TTL cache keyed by a comparable value type. Concurrent misses for the same key share one
// load. Loader errors are never cached, and L2 errors degrade to a direct load.
type Cache[K comparable, V any] struct {
	name      string
	ttl       time.Duration
	clock     clockwork.Clock
	keyString func(K) string
	l2        Store[V]
	metrics   *metrics.CacheMetrics

	mu      sync.RWMutex
	entries map[K]entry[V]
	group   singleflight.Group
}

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

type Option[K comparable, V any] func(*Cache[K, V])

// WithStore adds a shared L2 layer.
func WithStore[K comparable, V any](s Store[V]) Option[K, V] {
	return func(c *Cache[K, V]) { c.l2 = s }
}

func WithMetrics[K comparable, V any](m *metrics.CacheMetrics) Option[K, V] {
	return func(c *Cache[K, V]) { c.metrics = m }
}

// New creates a cache. keyString must be injective: it names the single-flight group and the L2 key.
func New[K comparable, V any](name string, ttl time.Duration, clock clockwork.Clock, keyString func(K) string, opts ...Option[K, V]) *Cache[K, V] {
	c := &Cache[K, V]{
		name:      name,
		ttl:       ttl,
		clock:     clock,
		keyString: keyString,
		entries:   make(map[K]entry[V]),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the cached value for key or runs load once for all concurrent callers.
func (c *Cache[K, V]) Get(ctx context.Context, key K, load Loader[V]) (V, error) {
	if v, ok := c.Peek(key); ok {
		c.hit("memory")
		return v, nil
	}

	sk := c.keyString(key)
	result, err, shared := c.group.Do(sk, func() (any, error) {
		// Another caller may have filled L1 between Peek and Do.
		if v, ok := c.Peek(key); ok {
			c.hit("memory")
			return v, nil
		}

		if v, ok := c.getL2(ctx, sk); ok {
			c.hit("shared")
			c.set(key, v)
			return v, nil
		}

		if c.metrics != nil {
			c.metrics.Misses.WithLabelValues(c.name).Inc()
		}
		v, err := load(ctx)
		if err != nil {
			return v, err
		}

		c.set(key, v)
		c.setL2(ctx, sk, v)
		return v, nil
	})
	if shared && c.metrics != nil {
		c.metrics.Coalesced.WithLabelValues(c.name).Inc()
	}

	v, _ := result.(V)
	return v, err
}

// Peek returns an unexpired L1 entry without loading.
func (c *Cache[K, V]) Peek(key K) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[key]
	if !ok || !c.clock.Now().Before(e.expiresAt) {
		var zero V
		return zero, false
	}
	return e.value, true
}

// Set stores a value in both layers.
func (c *Cache[K, V]) Set(ctx context.Context, key K, value V) {
	c.set(key, value)
	c.setL2(ctx, c.keyString(key), value)
}

// Invalidate removes key from both layers.
func (c *Cache[K, V]) Invalidate(ctx context.Context, key K) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()

	if c.l2 == nil {
		return
	}
	if err := c.l2.Delete(ctx, c.keyString(key)); err != nil {
		slog.WarnContext(ctx, "Shared cache delete failed", "cache", c.name, "error", err)
	}
}

func (c *Cache[K, V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// EvictExpired drops expired L1 entries and returns how many were removed.
func (c *Cache[K, V]) EvictExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	evicted := 0
	for k, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, k)
			evicted++
		}
	}

	if evicted > 0 && c.metrics != nil {
		c.metrics.Evictions.WithLabelValues(c.name).Add(float64(evicted))
	}
	return evicted
}

// StartEvictionTimer periodically evicts expired L1 entries. Returns a stop function.
func (c *Cache[K, V]) StartEvictionTimer(interval time.Duration) func() {
	ticker := c.clock.NewTicker(interval)
	done := make(chan struct{})

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.Chan():
				if n := c.EvictExpired(); n > 0 {
					slog.Debug("Evicted expired cache entries", "cache", c.name, "count", n, "remaining", c.Len())
				}
			case <-done:
				return
			}
		}
	}()

	var once sync.Once
	return func() { once.Do(func() { close(done) }) }
}

func (c *Cache[K, V]) set(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry[V]{value: value, expiresAt: c.clock.Now().Add(c.ttl)}
}

func (c *Cache[K, V]) getL2(ctx context.Context, key string) (V, bool) {
	var zero V
	if c.l2 == nil {
		return zero, false
	}

	v, ok, err := c.l2.Get(ctx, key)
	if err != nil {
		c.l2Error(ctx, "get", err)
		return zero, false
	}
	return v, ok
}

func (c *Cache[K, V]) setL2(ctx context.Context, key string, value V) {
	if c.l2 == nil {
		return
	}
	if err := c.l2.Set(ctx, key, value, c.ttl); err != nil {
		c.l2Error(ctx, "set", err)
	}
}

func (c *Cache[K, V]) l2Error(ctx context.Context, op string, err error) {
	if c.metrics != nil {
		c.metrics.Errors.WithLabelValues(c.name).Inc()
	}
	slog.WarnContext(ctx, "Shared cache unavailable, using direct fetch", "cache", c.name, "op", op, "error", err)
}

func (c *Cache[K, V]) hit(layer string) {
	if c.metrics != nil {
		c.metrics.Hits.WithLabelValues(c.name, layer).Inc()
	}
}
