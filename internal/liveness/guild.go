package liveness

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/xXDeath420Xx/livebot/internal/adapter/metrics"
	"github.com/xXDeath420Xx/livebot/internal/domain"
)

// GuildSettingsCache decorates a GuildRepository with a coarse TTL cache.
type GuildSettingsCache struct {
	guilds domain.GuildRepository
	cache  *Cache[string, domain.GuildSettings]
}

var _ domain.GuildRepository = (*GuildSettingsCache)(nil)

func NewGuildSettingsCache(guilds domain.GuildRepository, ttl time.Duration, clock clockwork.Clock, l2 Store[domain.GuildSettings], m *metrics.CacheMetrics) *GuildSettingsCache {
	opts := []Option[string, domain.GuildSettings]{WithMetrics[string, domain.GuildSettings](m)}
	if l2 != nil {
		opts = append(opts, WithStore[string](l2))
	}
	return &GuildSettingsCache{
		guilds: guilds,
		cache:  New("guild_settings", ttl, clock, func(id string) string { return id }, opts...),
	}
}

func (g *GuildSettingsCache) GetSettings(ctx context.Context, guildID string) (*domain.GuildSettings, error) {
	settings, err := g.cache.Get(ctx, guildID, func(ctx context.Context) (domain.GuildSettings, error) {
		s, err := g.guilds.GetSettings(ctx, guildID)
		if err != nil {
			return domain.GuildSettings{}, err
		}
		return *s, nil
	})
	if err != nil {
		return nil, err
	}
	return &settings, nil
}

// Invalidate drops the cached settings of a guild, e.g. after a role was purged from its configuration.
func (g *GuildSettingsCache) Invalidate(ctx context.Context, guildID string) {
	g.cache.Invalidate(ctx, guildID)
}
