package kick

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xXDeath420Xx/livebot/internal/domain"
)

const liveChannel = `{
  "id": 1,
  "user_id": 2,
  "slug": "alice-k",
  "user": {"username": "Alice_K", "profile_pic": "https://files.kick.com/alice.png"},
  "livestream": {
    "session_title": "Ranked grind",
    "is_live": true,
    "is_mature": true,
    "language": "English",
    "viewer_count": 77,
    "start_time": "2026-03-01 20:00:00",
    "thumbnail": {"url": "https://images.kick.com/thumb.webp"},
    "categories": [{"name": "Valorant"}],
    "tags": ["fps"]
  }
}`

func newTestProbe(t *testing.T, handler http.HandlerFunc) *Probe {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewProbe(srv.URL, http.DefaultTransport)
}

func respond(status int, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}
}

func TestProbe_IsLive(t *testing.T) {
	paths := make(chan string, 1)
	probe := newTestProbe(t, func(w http.ResponseWriter, r *http.Request) {
		paths <- r.URL.Path
		respond(http.StatusOK, liveChannel)(w, r)
	})

	snap, err := probe.IsLive(context.Background(), domain.Identity{Platform: domain.PlatformKick, Username: "Alice_K"})
	require.NoError(t, err)
	assert.Equal(t, "/api/v2/channels/alice-k", <-paths)
	assert.True(t, snap.IsLive)
	assert.Equal(t, "Ranked grind", snap.Title)
	assert.Equal(t, "Valorant", snap.Game)
	assert.Equal(t, 77, snap.ViewerCount)
	assert.Equal(t, "https://images.kick.com/thumb.webp", snap.ThumbnailURL)
	assert.Equal(t, "https://files.kick.com/alice.png", snap.ProfileImageURL)
	assert.Equal(t, 20, snap.StartedAt.Hour())
	assert.Equal(t, domain.PlatformKick, snap.Platform)
}

func TestProbe_IsLiveOffline(t *testing.T) {
	probe := newTestProbe(t, respond(http.StatusOK, `{"id":1,"slug":"alice-k","livestream":null}`))

	snap, err := probe.IsLive(context.Background(), domain.Identity{Platform: domain.PlatformKick, NativeID: "alice-k"})
	require.NoError(t, err)
	assert.Equal(t, domain.Offline(domain.PlatformKick), snap)
}

func TestProbe_ErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   error
	}{
		{"unknown channel", http.StatusNotFound, domain.ErrIdentityNotFound},
		{"rate limited", http.StatusTooManyRequests, domain.ErrRateLimited},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			probe := newTestProbe(t, respond(tt.status, `{}`))
			_, err := probe.IsLive(context.Background(), domain.Identity{Platform: domain.PlatformKick, NativeID: "x"})
			assert.ErrorIs(t, err, tt.want)
		})
	}

	t.Run("server error", func(t *testing.T) {
		probe := newTestProbe(t, respond(http.StatusBadGateway, `upstream down`))
		_, err := probe.IsLive(context.Background(), domain.Identity{Platform: domain.PlatformKick, NativeID: "x"})
		require.Error(t, err)
		assert.NotErrorIs(t, err, domain.ErrIdentityNotFound)
		assert.Contains(t, err.Error(), "upstream down")
	})
}

func TestProbe_GetUserIdentity(t *testing.T) {
	probe := newTestProbe(t, respond(http.StatusOK, liveChannel))

	id, err := probe.GetUserIdentity(context.Background(), "Alice_K")
	require.NoError(t, err)
	assert.Equal(t, &domain.Identity{Platform: domain.PlatformKick, NativeID: "alice-k", Username: "alice-k"}, id)
}

func TestProbe_GetStreamDetails(t *testing.T) {
	probe := newTestProbe(t, respond(http.StatusOK, liveChannel))

	details, err := probe.GetStreamDetails(context.Background(), domain.Identity{Platform: domain.PlatformKick, NativeID: "alice-k"})
	require.NoError(t, err)
	require.NotNil(t, details)
	assert.True(t, details.IsMature)
	assert.Equal(t, []string{"fps"}, details.Tags)
	assert.Equal(t, "English", details.Language)
}

func TestProbe_EmptySlug(t *testing.T) {
	probe := NewProbe("", http.DefaultTransport)

	_, err := probe.IsLive(context.Background(), domain.Identity{Platform: domain.PlatformKick})
	assert.ErrorIs(t, err, domain.ErrIdentityNotFound)
}
