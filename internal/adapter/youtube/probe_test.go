package youtube

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xXDeath420Xx/livebot/internal/domain"
)

const channelID = "UCabcdefghijklmnopqrstuv"

type fakeAPI struct {
	search   map[string]any
	videos   map[string]any
	channels map[string]any
	status   int
}

func newTestProbe(t *testing.T, api fakeAPI) *Probe {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-key", r.URL.Query().Get("key"))
		w.Header().Set("Content-Type", "application/json")
		if api.status != 0 {
			w.WriteHeader(api.status)
			_, _ = w.Write([]byte(`{"error":{"code":403,"message":"quota","errors":[{"reason":"quotaExceeded","domain":"youtube.quota"}]}}`))
			return
		}

		var body map[string]any
		switch r.URL.Path {
		case "/youtube/v3/search":
			assert.Equal(t, "live", r.URL.Query().Get("eventType"))
			body = api.search
		case "/youtube/v3/videos":
			body = api.videos
		case "/youtube/v3/channels":
			body = api.channels
		default:
			http.NotFound(w, r)
			return
		}
		if body == nil {
			body = map[string]any{"items": []any{}}
		}
		_ = json.NewEncoder(w).Encode(body)
	}))
	t.Cleanup(srv.Close)

	probe, err := NewProbe(context.Background(), "test-key", srv.URL+"/", http.DefaultTransport)
	require.NoError(t, err)
	return probe
}

func liveAPI() fakeAPI {
	return fakeAPI{
		search: map[string]any{"items": []any{map[string]any{"id": map[string]any{"kind": "youtube#video", "videoId": "v1"}}}},
		videos: map[string]any{"items": []any{map[string]any{
			"id": "v1",
			"snippet": map[string]any{
				"title":        "Building a compiler",
				"channelTitle": "Alice Codes",
				"thumbnails": map[string]any{
					"high":   map[string]any{"url": "https://i.ytimg.com/high.jpg"},
					"maxres": map[string]any{"url": "https://i.ytimg.com/maxres.jpg"},
				},
				"tags": []string{"go"},
			},
			"liveStreamingDetails": map[string]any{
				"actualStartTime":   "2026-03-01T20:00:00Z",
				"concurrentViewers": "1234",
			},
		}}},
	}
}

func TestNewProbe_RequiresKey(t *testing.T) {
	_, err := NewProbe(context.Background(), "", "", http.DefaultTransport)
	assert.Error(t, err)
}

func TestProbe_IsLive(t *testing.T) {
	probe := newTestProbe(t, liveAPI())

	snap, err := probe.IsLive(context.Background(), domain.Identity{Platform: domain.PlatformYouTube, NativeID: channelID})
	require.NoError(t, err)
	assert.True(t, snap.IsLive)
	assert.Equal(t, "Building a compiler", snap.Title)
	assert.Equal(t, 1234, snap.ViewerCount)
	assert.Equal(t, "https://i.ytimg.com/maxres.jpg", snap.ThumbnailURL)
	assert.Equal(t, domain.PlatformYouTube, snap.Platform)
	assert.False(t, snap.StartedAt.IsZero())
}

func TestProbe_IsLiveOffline(t *testing.T) {
	probe := newTestProbe(t, fakeAPI{})

	snap, err := probe.IsLive(context.Background(), domain.Identity{Platform: domain.PlatformYouTube, NativeID: channelID})
	require.NoError(t, err)
	assert.False(t, snap.IsLive)
}

func TestProbe_IsLiveEndedBroadcast(t *testing.T) {
	api := liveAPI()
	video := api.videos["items"].([]any)[0].(map[string]any)
	video["liveStreamingDetails"].(map[string]any)["actualEndTime"] = "2026-03-01T22:00:00Z"
	probe := newTestProbe(t, api)

	snap, err := probe.IsLive(context.Background(), domain.Identity{Platform: domain.PlatformYouTube, NativeID: channelID})
	require.NoError(t, err)
	assert.False(t, snap.IsLive)
}

func TestProbe_QuotaExceededIsRateLimited(t *testing.T) {
	probe := newTestProbe(t, fakeAPI{status: http.StatusForbidden})

	_, err := probe.IsLive(context.Background(), domain.Identity{Platform: domain.PlatformYouTube, NativeID: channelID})
	assert.ErrorIs(t, err, domain.ErrRateLimited)
}

func TestProbe_GetUserIdentity(t *testing.T) {
	api := fakeAPI{channels: map[string]any{"items": []any{map[string]any{
		"id":      channelID,
		"snippet": map[string]any{"title": "Alice Codes", "customUrl": "@alicecodes"},
	}}}}
	probe := newTestProbe(t, api)

	id, err := probe.GetUserIdentity(context.Background(), "@AliceCodes")
	require.NoError(t, err)
	assert.Equal(t, &domain.Identity{Platform: domain.PlatformYouTube, NativeID: channelID, Username: "alicecodes"}, id)
}

func TestProbe_GetUserIdentityNotFound(t *testing.T) {
	probe := newTestProbe(t, fakeAPI{})

	_, err := probe.GetUserIdentity(context.Background(), "@ghost")
	assert.ErrorIs(t, err, domain.ErrIdentityNotFound)
}

func TestIsChannelID(t *testing.T) {
	assert.True(t, isChannelID(channelID))
	assert.False(t, isChannelID("@alice"))
	assert.False(t, isChannelID("UCshort"))
}
