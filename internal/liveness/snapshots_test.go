package liveness

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xXDeath420Xx/livebot/internal/domain"
)

func TestSnapshotCache_OneFetchPerIdentity(t *testing.T) {
	cache := NewSnapshotCache(DefaultSnapshotTTL, clockwork.NewFakeClock(), nil, nil)

	calls := map[domain.IdentityKey]int{}
	fetch := func(_ context.Context, id domain.Identity) (domain.LiveSnapshot, error) {
		calls[id.Key()]++
		return domain.LiveSnapshot{IsLive: true, Title: "hi", Platform: id.Platform}, nil
	}

	alice := domain.Identity{Platform: domain.PlatformTwitch, NativeID: "1", Username: "alice"}
	aliceRenamed := domain.Identity{Platform: domain.PlatformTwitch, NativeID: "1", Username: "alice2"}
	bob := domain.Identity{Platform: domain.PlatformKick, NativeID: "1", Username: "bob"}

	for _, id := range []domain.Identity{alice, aliceRenamed, bob, alice} {
		snap, err := cache.Get(context.Background(), id, fetch)
		require.NoError(t, err)
		assert.True(t, snap.IsLive)
	}

	assert.Equal(t, 1, calls[alice.Key()])
	assert.Equal(t, 1, calls[bob.Key()])
}

func TestSnapshotCache_InvalidateForcesRefetch(t *testing.T) {
	cache := NewSnapshotCache(DefaultSnapshotTTL, clockwork.NewFakeClock(), nil, nil)
	id := domain.Identity{Platform: domain.PlatformTwitch, NativeID: "1"}

	var calls int
	fetch := func(context.Context, domain.Identity) (domain.LiveSnapshot, error) {
		calls++
		return domain.Offline(domain.PlatformTwitch), nil
	}

	_, _ = cache.Get(context.Background(), id, fetch)
	cache.Invalidate(context.Background(), id)
	_, _ = cache.Get(context.Background(), id, fetch)
	assert.Equal(t, 2, calls)
}

type stubGuilds struct {
	calls    int
	settings map[string]domain.GuildSettings
}

func (s *stubGuilds) GetSettings(_ context.Context, guildID string) (*domain.GuildSettings, error) {
	s.calls++
	g, ok := s.settings[guildID]
	if !ok {
		return nil, domain.ErrGuildNotFound
	}
	return &g, nil
}

func TestGuildSettingsCache(t *testing.T) {
	clock := clockwork.NewFakeClock()
	repo := &stubGuilds{settings: map[string]domain.GuildSettings{
		"g1": {GuildID: "g1", AnnounceChannel: "c1"},
	}}
	cache := NewGuildSettingsCache(repo, DefaultGuildSettingsTTL, clock, nil, nil)

	for range 3 {
		s, err := cache.GetSettings(context.Background(), "g1")
		require.NoError(t, err)
		assert.Equal(t, "c1", s.AnnounceChannel)
	}
	assert.Equal(t, 1, repo.calls)

	clock.Advance(DefaultGuildSettingsTTL)
	_, err := cache.GetSettings(context.Background(), "g1")
	require.NoError(t, err)
	assert.Equal(t, 2, repo.calls)

	_, err = cache.GetSettings(context.Background(), "missing")
	assert.True(t, errors.Is(err, domain.ErrGuildNotFound))
}

func TestMemoryStatusStore(t *testing.T) {
	store := NewMemoryStatusStore()
	key := domain.IdentityKey{Platform: domain.PlatformTwitch, NativeID: "1"}

	_, ok, err := store.Get(context.Background(), key)
	require.NoError(t, err)
	assert.False(t, ok)

	now := time.Unix(1700000000, 0)
	require.NoError(t, store.Record(context.Background(), key, domain.LiveStatus{Live: true, ObservedAt: now}))

	got, ok, err := store.Get(context.Background(), key)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, got.Live)
	assert.Equal(t, now, got.ObservedAt)
}
