package liveness

import (
	"context"
	"strconv"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/xXDeath420Xx/livebot/internal/adapter/metrics"
	"github.com/xXDeath420Xx/livebot/internal/domain"
)

const (
	DefaultSnapshotTTL      = 75 * time.Second
	DefaultGuildSettingsTTL = 300 * time.Second
)

// Fetcher performs the uncached probe call for one identity.
type Fetcher func(ctx context.Context, id domain.Identity) (domain.LiveSnapshot, error)

// SnapshotCache memoizes probe results per identity.
type SnapshotCache struct {
	cache *Cache[domain.IdentityKey, domain.LiveSnapshot]
}

func NewSnapshotCache(ttl time.Duration, clock clockwork.Clock, l2 Store[domain.LiveSnapshot], m *metrics.CacheMetrics) *SnapshotCache {
	opts := []Option[domain.IdentityKey, domain.LiveSnapshot]{
		WithMetrics[domain.IdentityKey, domain.LiveSnapshot](m),
	}
	if l2 != nil {
		opts = append(opts, WithStore[domain.IdentityKey](l2))
	}
	return &SnapshotCache{cache: New("liveness", ttl, clock, IdentityKeyString, opts...)}
}

// Get returns the cached snapshot for id, calling fetch on a miss.
func (s *SnapshotCache) Get(ctx context.Context, id domain.Identity, fetch Fetcher) (domain.LiveSnapshot, error) {
	return s.cache.Get(ctx, id.Key(), func(ctx context.Context) (domain.LiveSnapshot, error) {
		return fetch(ctx, id)
	})
}

// Invalidate forgets the snapshot for id so the next pass probes again.
func (s *SnapshotCache) Invalidate(ctx context.Context, id domain.Identity) {
	s.cache.Invalidate(ctx, id.Key())
}

func (s *SnapshotCache) StartEvictionTimer(interval time.Duration) func() {
	return s.cache.StartEvictionTimer(interval)
}

// IdentityKeyString renders an IdentityKey for single-flight and shared-cache keys. Each part is quoted so
// no value can forge a delimiter.
func IdentityKeyString(k domain.IdentityKey) string {
	return strconv.Quote(string(k.Platform)) + ":" + strconv.Quote(k.NativeID) + ":" + strconv.Quote(k.Login)
}
