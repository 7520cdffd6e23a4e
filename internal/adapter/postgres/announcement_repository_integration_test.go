package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xXDeath420Xx/livebot/internal/crypto"
	"github.com/xXDeath420Xx/livebot/internal/domain"
)

func TestAnnouncementLedger_OneRowPerSubscriptionAndChannel(t *testing.T) {
	pool := setupTestDB(t)
	repo := NewAnnouncementRepo(pool)
	ctx := context.Background()

	a := domain.Announcement{
		SubscriptionID: uuid.New(),
		StreamerID:     uuid.New(),
		GuildID:        "g1",
		ChannelID:      "live",
		MessageID:      "m1",
		Platform:       domain.PlatformTwitch,
		Title:          "Hello",
	}
	require.NoError(t, repo.Upsert(ctx, a))

	a.MessageID = "m2"
	a.Title = "Hello again"
	a.ViewerCount = 40
	require.NoError(t, repo.Upsert(ctx, a))

	rows, err := repo.ListBySubscription(ctx, a.SubscriptionID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "m2", rows[0].MessageID)
	assert.Equal(t, "Hello again", rows[0].Title)
	assert.Equal(t, 40, rows[0].ViewerCount)

	got, err := repo.Get(ctx, a.Key())
	require.NoError(t, err)
	assert.Equal(t, domain.PlatformTwitch, got.Platform)

	byStreamer, err := repo.ListByStreamer(ctx, a.StreamerID)
	require.NoError(t, err)
	assert.Len(t, byStreamer, 1)

	require.NoError(t, repo.Delete(ctx, a.Key()))
	require.NoError(t, repo.Delete(ctx, a.Key()))

	_, err = repo.Get(ctx, a.Key())
	assert.ErrorIs(t, err, domain.ErrAnnouncementNotFound)

	all, err := repo.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestSessions_Lifecycle(t *testing.T) {
	pool := setupTestDB(t)
	repo := NewSessionRepo(pool)
	ctx := context.Background()

	subID, streamerID := uuid.New(), uuid.New()
	start := time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)
	open := domain.StreamSession{SubscriptionID: subID, StreamerID: streamerID, GuildID: "g1", ChannelID: "c", Title: "Hello", PeakViewers: 5, StartedAt: start}

	require.NoError(t, repo.Open(ctx, open))
	require.NoError(t, repo.Open(ctx, open))

	require.NoError(t, repo.TrackViewers(ctx, subID, 50))
	require.NoError(t, repo.TrackViewers(ctx, subID, 20))

	closed, err := repo.Close(ctx, subID, start.Add(2*time.Hour))
	require.NoError(t, err)
	require.NotNil(t, closed)
	assert.Equal(t, 50, closed.PeakViewers)
	assert.Equal(t, 2*time.Hour, closed.Duration(time.Time{}))

	again, err := repo.Close(ctx, subID, start.Add(3*time.Hour))
	require.NoError(t, err)
	assert.Nil(t, again)

	last, err := repo.Last(ctx, subID)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, closed.ID, last.ID)

	none, err := repo.Last(ctx, uuid.New())
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestSessions_CloseByStreamer(t *testing.T) {
	pool := setupTestDB(t)
	repo := NewSessionRepo(pool)
	ctx := context.Background()

	streamerID := uuid.New()
	now := time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)
	for range 3 {
		require.NoError(t, repo.Open(ctx, domain.StreamSession{SubscriptionID: uuid.New(), StreamerID: streamerID, GuildID: "g", ChannelID: "c", StartedAt: now}))
	}

	n, err := repo.CloseByStreamer(ctx, streamerID, now.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	n, err = repo.CloseByStreamer(ctx, streamerID, now.Add(time.Hour))
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestWebhookRepo_SealsToken(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	svc, err := crypto.NewAESGCM("0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef")
	require.NoError(t, err)
	repo := NewWebhookRepo(pool, svc)

	_, err = repo.Get(ctx, "c1")
	assert.ErrorIs(t, err, domain.ErrWebhookNotFound)

	require.NoError(t, repo.Save(ctx, domain.Webhook{ChannelID: "c1", ID: "w1", Token: "secret"}))

	var stored string
	require.NoError(t, pool.QueryRow(ctx, `SELECT token_encrypted FROM webhooks WHERE channel_id = 'c1'`).Scan(&stored))
	assert.NotEqual(t, "secret", stored)

	w, err := repo.Get(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, domain.Webhook{ChannelID: "c1", ID: "w1", Token: "secret"}, *w)

	require.NoError(t, repo.Delete(ctx, "c1"))
	_, err = repo.Get(ctx, "c1")
	assert.ErrorIs(t, err, domain.ErrWebhookNotFound)
}
