package twitch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xXDeath420Xx/livebot/internal/domain"
)

type fakeHelix struct {
	mu          sync.Mutex
	streams     []map[string]any
	users       []map[string]any
	teams       []map[string]any
	streamsCode int
	lastQuery   string

	tokenCalls atomic.Int32
}

func (f *fakeHelix) query() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastQuery
}

func (f *fakeHelix) setUsers(users []map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users = users
}

func (f *fakeHelix) server(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		f.tokenCalls.Add(1)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "client_credentials", r.PostForm.Get("grant_type"))
		assert.Equal(t, "cid", r.PostForm.Get("client_id"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"app-token","token_type":"bearer","expires_in":3600}`))
	})
	api := func(data func() []map[string]any, code func() int) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "Bearer app-token", r.Header.Get("Authorization"))
			assert.Equal(t, "cid", r.Header.Get("Client-Id"))
			f.mu.Lock()
			defer f.mu.Unlock()
			f.lastQuery = r.URL.RawQuery
			w.Header().Set("Content-Type", "application/json")
			if c := code(); c != 0 && c != http.StatusOK {
				w.WriteHeader(c)
				_, _ = w.Write([]byte(`{"error":"Too Many Requests","status":429,"message":"slow down"}`))
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]any{"data": data()})
		}
	}
	ok := func() int { return 0 }
	mux.HandleFunc("/streams", api(func() []map[string]any { return f.streams }, func() int { return f.streamsCode }))
	mux.HandleFunc("/users", api(func() []map[string]any { return f.users }, ok))
	mux.HandleFunc("/teams", api(func() []map[string]any { return f.teams }, ok))

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestClient(t *testing.T, f *fakeHelix) *Client {
	t.Helper()
	srv := f.server(t)
	client, err := NewClient(Config{
		ClientID:     "cid",
		ClientSecret: "secret",
		TokenURL:     srv.URL + "/oauth2/token",
		APIBaseURL:   srv.URL,
	}, http.DefaultTransport)
	require.NoError(t, err)
	return client
}

func TestNewClient_RequiresCredentials(t *testing.T) {
	_, err := NewClient(Config{ClientID: "cid"}, http.DefaultTransport)
	assert.Error(t, err)
}

func TestProbe_IsLive(t *testing.T) {
	f := &fakeHelix{
		streams: []map[string]any{{
			"id":            "s1",
			"user_id":       "100",
			"user_login":    "alice",
			"game_name":     "Celeste",
			"title":         "Speedrun",
			"viewer_count":  42,
			"started_at":    "2026-03-01T20:00:00Z",
			"thumbnail_url": "https://img/live_user_alice-{width}x{height}.jpg",
			"language":      "en",
		}},
		users: []map[string]any{{"id": "100", "login": "alice", "profile_image_url": "https://img/alice.png"}},
	}
	probe := NewProbe(newTestClient(t, f))

	snap, err := probe.IsLive(context.Background(), domain.Identity{Platform: domain.PlatformTwitch, NativeID: "100", Username: "alice"})
	require.NoError(t, err)
	assert.True(t, snap.IsLive)
	assert.Equal(t, "Speedrun", snap.Title)
	assert.Equal(t, "Celeste", snap.Game)
	assert.Equal(t, 42, snap.ViewerCount)
	assert.Equal(t, "https://img/live_user_alice-1280x720.jpg", snap.ThumbnailURL)
	assert.Equal(t, "https://img/alice.png", snap.ProfileImageURL)
	assert.Equal(t, domain.PlatformTwitch, snap.Platform)
	assert.Equal(t, 2026, snap.StartedAt.Year())
	assert.Equal(t, int32(1), f.tokenCalls.Load(), "the app token is reused")
}

func TestProbe_IsLiveOffline(t *testing.T) {
	f := &fakeHelix{}
	probe := NewProbe(newTestClient(t, f))

	snap, err := probe.IsLive(context.Background(), domain.Identity{Platform: domain.PlatformTwitch, Username: "Alice"})
	require.NoError(t, err)
	assert.False(t, snap.IsLive)
	assert.Contains(t, f.query(), "user_login=alice")
}

func TestProbe_IsLiveRateLimited(t *testing.T) {
	f := &fakeHelix{streamsCode: http.StatusTooManyRequests}
	probe := NewProbe(newTestClient(t, f))

	_, err := probe.IsLive(context.Background(), domain.Identity{Platform: domain.PlatformTwitch, NativeID: "100"})
	assert.ErrorIs(t, err, domain.ErrRateLimited)
}

func TestProbe_GetUserIdentity(t *testing.T) {
	f := &fakeHelix{users: []map[string]any{{"id": "100", "login": "alice"}}}
	probe := NewProbe(newTestClient(t, f))

	id, err := probe.GetUserIdentity(context.Background(), " Alice ")
	require.NoError(t, err)
	assert.Equal(t, &domain.Identity{Platform: domain.PlatformTwitch, NativeID: "100", Username: "alice"}, id)

	f.setUsers(nil)
	_, err = probe.GetUserIdentity(context.Background(), "nobody")
	assert.ErrorIs(t, err, domain.ErrIdentityNotFound)
}

func TestProbe_GetStreamDetailsOffline(t *testing.T) {
	probe := NewProbe(newTestClient(t, &fakeHelix{}))

	details, err := probe.GetStreamDetails(context.Background(), domain.Identity{Platform: domain.PlatformTwitch, NativeID: "100"})
	require.NoError(t, err)
	assert.Nil(t, details)
}

func TestRoster_Members(t *testing.T) {
	f := &fakeHelix{teams: []map[string]any{{
		"id":        "t1",
		"team_name": "speedrunners",
		"users": []map[string]any{
			{"user_id": "100", "user_login": "alice", "user_name": "Alice"},
			{"user_id": "200", "user_login": "bob", "user_name": "Bob"},
		},
	}}}
	roster := NewRoster(newTestClient(t, f))

	members, err := roster.Members(context.Background(), domain.Team{Platform: domain.PlatformTwitch, Name: "speedrunners"})
	require.NoError(t, err)
	assert.Equal(t, []domain.Identity{
		{Platform: domain.PlatformTwitch, NativeID: "100", Username: "alice"},
		{Platform: domain.PlatformTwitch, NativeID: "200", Username: "bob"},
	}, members)
	assert.Contains(t, f.query(), "name=speedrunners")
}

func TestRoster_UnknownTeam(t *testing.T) {
	roster := NewRoster(newTestClient(t, &fakeHelix{}))

	_, err := roster.Members(context.Background(), domain.Team{Platform: domain.PlatformTwitch, Name: "ghosts"})
	assert.ErrorIs(t, err, domain.ErrTeamNotFound)
}

func TestRoster_RejectsOtherPlatforms(t *testing.T) {
	roster := NewRoster(newTestClient(t, &fakeHelix{}))

	_, err := roster.Members(context.Background(), domain.Team{Platform: domain.PlatformKick, Name: "x"})
	assert.ErrorIs(t, err, domain.ErrUnsupportedPlatform)
}
