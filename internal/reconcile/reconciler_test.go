package reconcile

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xXDeath420Xx/livebot/internal/domain"
	"github.com/xXDeath420Xx/livebot/internal/domain/domaintest"
	"github.com/xXDeath420Xx/livebot/internal/liveness"
	"github.com/xXDeath420Xx/livebot/internal/probe"
	"github.com/xXDeath420Xx/livebot/internal/queue"
)

const guildID = "g1"

type harness struct {
	clock  *clockwork.FakeClock
	db     *domaintest.DB
	queue  *queue.Memory
	twitch *domaintest.Probe
	kick   *domaintest.Probe
	r      *Reconciler
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()

	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	h := &harness{
		clock:  clock,
		db:     domaintest.NewDB(clock),
		queue:  queue.NewMemory(clock),
		twitch: domaintest.NewProbe(domain.PlatformTwitch),
		kick:   domaintest.NewProbe(domain.PlatformKick),
	}
	h.db.PutGuild(domain.GuildSettings{GuildID: guildID, AnnounceChannel: "announce", EndBehavior: domain.EndDelete})

	h.r = New(Deps{
		Subscriptions: h.db.Subscriptions(),
		Guilds:        h.db.Guilds(),
		Streamers:     h.db.Streamers(),
		Announcements: h.db.Announcements(),
		Sessions:      h.db.Sessions(),
		Queue:         h.queue,
		Statuses:      liveness.NewMemoryStatusStore(),
		Snapshots:     liveness.NewSnapshotCache(liveness.DefaultSnapshotTTL, clock, nil, nil),
		Probes:        probe.NewRegistry(h.twitch, h.kick),
		Clock:         clock,
	}, cfg)
	return h
}

func (h *harness) streamer(platform domain.Platform, nativeID, username string) domain.Streamer {
	return h.db.PutStreamer(domain.Streamer{Platform: platform, NativeID: nativeID, Username: username})
}

func (h *harness) subscribe(s domain.Streamer, channelID string) domain.Subscription {
	return h.db.PutSubscription(domain.Subscription{GuildID: guildID, StreamerID: s.ID, ChannelID: channelID})
}

func (h *harness) announce(sub domain.Subscription, s domain.Streamer, channelID, title string) domain.Announcement {
	a := domain.Announcement{
		SubscriptionID: sub.ID,
		StreamerID:     s.ID,
		GuildID:        sub.GuildID,
		ChannelID:      channelID,
		MessageID:      "msg-" + channelID,
		Platform:       s.Platform,
		Title:          title,
	}
	h.db.PutAnnouncement(a)
	return a
}

func (h *harness) run(t *testing.T) Summary {
	t.Helper()
	summary, err := h.r.Run(context.Background())
	require.NoError(t, err)
	return summary
}

// nextPass moves time past the liveness TTL so the next pass probes again.
func (h *harness) nextPass() {
	h.clock.Advance(liveness.DefaultSnapshotTTL + time.Second)
}

// drain claims and acknowledges every ready job, returning them in claim order.
func (h *harness) drain(t *testing.T) []domain.Action {
	t.Helper()
	var out []domain.Action
	for {
		a, err := h.queue.Claim(context.Background(), time.Minute)
		require.NoError(t, err)
		if a == nil {
			return out
		}
		out = append(out, *a)
		require.NoError(t, h.queue.Ack(context.Background(), *a))
	}
}

func TestRun_LiveStreamerEnqueuesCreateOnce(t *testing.T) {
	h := newHarness(t, Config{})
	s := h.streamer(domain.PlatformTwitch, "100", "alice")
	h.subscribe(s, "")
	h.twitch.SetLive(s.Identity(), domain.LiveSnapshot{Title: "hello", Game: "chess", ViewerCount: 3})

	summary := h.run(t)
	assert.Equal(t, 1, summary.Enqueued[domain.ActionCreateAnnouncement])
	assert.Equal(t, 1, summary.Live)

	// A second pass over unchanged state must not enqueue anything new.
	h.nextPass()
	summary = h.run(t)
	assert.Equal(t, 0, summary.TotalEnqueued())

	actions := h.drain(t)
	require.Len(t, actions, 1)
	assert.Equal(t, domain.ActionCreateAnnouncement, actions[0].Kind)
	assert.Equal(t, "announce", actions[0].ChannelID)
	assert.Equal(t, "hello", actions[0].Snapshot.Title)
}

func TestRun_SharedIdentityProbedOncePerPass(t *testing.T) {
	h := newHarness(t, Config{Concurrency: 4})
	s := h.streamer(domain.PlatformTwitch, "100", "alice")
	for i := range 5 {
		h.db.PutSubscription(domain.Subscription{GuildID: "guild-" + string(rune('a'+i)), StreamerID: s.ID})
		h.db.PutGuild(domain.GuildSettings{GuildID: "guild-" + string(rune('a'+i)), AnnounceChannel: "c"})
	}
	h.twitch.SetLive(s.Identity(), domain.LiveSnapshot{Title: "t"})

	summary := h.run(t)
	assert.Equal(t, 1, h.twitch.Calls(s.Identity()))
	assert.Equal(t, 1, summary.Identities)
	assert.Equal(t, 5, summary.Enqueued[domain.ActionCreateAnnouncement])
}

func TestRun_OfflineEndsAnnouncementAndClosesSession(t *testing.T) {
	h := newHarness(t, Config{})
	s := h.streamer(domain.PlatformTwitch, "100", "alice")
	sub := h.subscribe(s, "chan")
	h.announce(sub, s, "chan", "t")
	require.NoError(t, h.db.Sessions().Open(context.Background(), domain.StreamSession{SubscriptionID: sub.ID, StreamerID: s.ID, StartedAt: h.clock.Now()}))

	summary := h.run(t)
	assert.Equal(t, 1, summary.Enqueued[domain.ActionEndAnnouncement])

	sessions := h.db.AllSessions()
	require.Len(t, sessions, 1)
	require.NotNil(t, sessions[0].EndedAt)

	actions := h.drain(t)
	require.Len(t, actions, 1)
	assert.Equal(t, domain.ActionEndAnnouncement, actions[0].Kind)
	assert.Equal(t, "chan", actions[0].ChannelID)
}

func TestRun_UnknownProbeLeavesAnnouncementAlone(t *testing.T) {
	h := newHarness(t, Config{})
	s := h.streamer(domain.PlatformTwitch, "100", "alice")
	sub := h.subscribe(s, "chan")
	h.announce(sub, s, "chan", "t")
	h.twitch.SetError(s.Identity(), errors.New("helix: 503"))

	summary := h.run(t)
	assert.Equal(t, 1, summary.Unknown)
	assert.Equal(t, 0, summary.TotalEnqueued())
	assert.Equal(t, 0, h.queue.Len())
}

func TestRun_UnknownPrimaryIdentityIsNotOffline(t *testing.T) {
	h := newHarness(t, Config{})
	s := h.streamer(domain.PlatformTwitch, "100", "alice")
	sub := h.subscribe(s, "chan")
	h.announce(sub, s, "chan", "t")
	h.twitch.SetError(s.Identity(), domain.ErrIdentityNotFound)

	summary := h.run(t)
	assert.Equal(t, 0, summary.TotalEnqueued())
}

func TestRun_OrphanedAnnouncementIsTornDown(t *testing.T) {
	h := newHarness(t, Config{})
	s := h.streamer(domain.PlatformTwitch, "100", "alice")
	sub := h.subscribe(s, "chan")
	h.announce(sub, s, "chan", "t")
	require.NoError(t, h.db.Sessions().Open(context.Background(), domain.StreamSession{SubscriptionID: sub.ID, StreamerID: s.ID}))
	h.db.DeleteSubscription(sub.ID)

	// Orphans are torn down even when the streamer is live.
	h.twitch.SetLive(s.Identity(), domain.LiveSnapshot{Title: "t"})

	summary := h.run(t)
	assert.Equal(t, 1, summary.Orphans)
	assert.Equal(t, 1, summary.Enqueued[domain.ActionEndAnnouncement])
	require.NotNil(t, h.db.AllSessions()[0].EndedAt)

	// Still pending: no duplicate end on the next pass.
	h.nextPass()
	summary = h.run(t)
	assert.Equal(t, 0, summary.TotalEnqueued())
}

func TestRun_RefreshIsThrottled(t *testing.T) {
	h := newHarness(t, Config{RefreshEveryN: 3})
	s := h.streamer(domain.PlatformTwitch, "100", "alice")
	sub := h.subscribe(s, "chan")
	h.announce(sub, s, "chan", "old title")
	h.twitch.SetLive(s.Identity(), domain.LiveSnapshot{Title: "new title"})

	var updates []int
	for pass := 1; pass <= 6; pass++ {
		summary := h.run(t)
		updates = append(updates, summary.Enqueued[domain.ActionUpdateAnnouncement])
		h.drain(t)
		h.nextPass()
	}
	assert.Equal(t, []int{0, 0, 1, 0, 0, 1}, updates)
}

func TestRun_UnchangedDisplayIsNotRefreshed(t *testing.T) {
	h := newHarness(t, Config{RefreshEveryN: 1})
	s := h.streamer(domain.PlatformTwitch, "100", "alice")
	sub := h.subscribe(s, "chan")
	h.announce(sub, s, "chan", "same")
	h.twitch.SetLive(s.Identity(), domain.LiveSnapshot{Title: "same"})

	summary := h.run(t)
	assert.Equal(t, 0, summary.TotalEnqueued())
}

func TestRun_ChannelChangeCreatesInNewChannel(t *testing.T) {
	h := newHarness(t, Config{})
	s := h.streamer(domain.PlatformTwitch, "100", "alice")
	sub := h.subscribe(s, "new")
	h.announce(sub, s, "old", "t")
	h.twitch.SetLive(s.Identity(), domain.LiveSnapshot{Title: "t"})

	h.run(t)
	actions := h.drain(t)
	require.Len(t, actions, 1)
	assert.Equal(t, domain.ActionCreateAnnouncement, actions[0].Kind)
	assert.Equal(t, "new", actions[0].ChannelID)
}

func TestRun_LiveAgainReplacesPendingEnd(t *testing.T) {
	h := newHarness(t, Config{})
	s := h.streamer(domain.PlatformTwitch, "100", "alice")
	sub := h.subscribe(s, "chan")
	h.announce(sub, s, "chan", "t")

	summary := h.run(t)
	require.Equal(t, 1, summary.Enqueued[domain.ActionEndAnnouncement])

	h.nextPass()
	h.twitch.SetLive(s.Identity(), domain.LiveSnapshot{Title: "t"})
	summary = h.run(t)
	assert.Equal(t, 1, summary.Enqueued[domain.ActionCreateAnnouncement])

	actions := h.drain(t)
	require.Len(t, actions, 1)
	assert.Equal(t, domain.ActionCreateAnnouncement, actions[0].Kind)
}

func TestRun_RefreshDoesNotDowngradePendingCreate(t *testing.T) {
	h := newHarness(t, Config{RefreshEveryN: 1})
	s := h.streamer(domain.PlatformTwitch, "100", "alice")
	sub := h.subscribe(s, "chan")
	h.announce(sub, s, "chan", "one")

	h.run(t)

	h.nextPass()
	h.twitch.SetLive(s.Identity(), domain.LiveSnapshot{Title: "two"})
	h.run(t)

	h.nextPass()
	h.twitch.SetLive(s.Identity(), domain.LiveSnapshot{Title: "three"})
	summary := h.run(t)
	assert.Equal(t, 0, summary.Enqueued[domain.ActionUpdateAnnouncement])

	key := domain.ActionKey{Class: domain.ClassAnnouncement, SubscriptionID: sub.ID}
	pending, err := h.queue.PendingKinds(context.Background(), []domain.ActionKey{key})
	require.NoError(t, err)
	assert.Equal(t, domain.ActionCreateAnnouncement, pending[key])

	actions := h.drain(t)
	require.Len(t, actions, 1)
	assert.Equal(t, domain.ActionCreateAnnouncement, actions[0].Kind)
}

func TestRun_OfflineBeforeCreateRanEnqueuesEnd(t *testing.T) {
	h := newHarness(t, Config{})
	s := h.streamer(domain.PlatformTwitch, "100", "alice")
	h.subscribe(s, "chan")
	h.twitch.SetLive(s.Identity(), domain.LiveSnapshot{Title: "t"})
	h.run(t)

	h.nextPass()
	h.twitch.SetOffline(s.Identity())
	summary := h.run(t)
	assert.Equal(t, 1, summary.Enqueued[domain.ActionEndAnnouncement])

	actions := h.drain(t)
	require.Len(t, actions, 1)
	assert.Equal(t, domain.ActionEndAnnouncement, actions[0].Kind)
}

func TestRun_AlternateHintCarriesLiveness(t *testing.T) {
	h := newHarness(t, Config{})
	s := h.db.PutStreamer(domain.Streamer{
		Platform:     domain.PlatformKick,
		NativeID:     "k1",
		Username:     "alice",
		AltUsernames: map[domain.Platform]string{domain.PlatformTwitch: "alice_tv"},
	})
	h.subscribe(s, "chan")
	alt := h.streamer(domain.PlatformTwitch, "t1", "alice_tv")
	h.twitch.SetLive(alt.Identity(), domain.LiveSnapshot{Title: "on twitch"})

	summary := h.run(t)
	assert.Equal(t, 1, summary.Enqueued[domain.ActionCreateAnnouncement])

	actions := h.drain(t)
	require.Len(t, actions, 1)
	assert.Equal(t, domain.PlatformTwitch, actions[0].Snapshot.Platform)
	assert.Equal(t, "on twitch", actions[0].Snapshot.Title)
}

func TestRun_UnknownAlternateHintDoesNotBlockOffline(t *testing.T) {
	h := newHarness(t, Config{})
	s := h.db.PutStreamer(domain.Streamer{
		Platform:     domain.PlatformKick,
		NativeID:     "k1",
		Username:     "alice",
		AltUsernames: map[domain.Platform]string{domain.PlatformTwitch: "gone"},
	})
	sub := h.subscribe(s, "chan")
	h.announce(sub, s, "chan", "t")
	h.twitch.SetError(domain.Identity{Platform: domain.PlatformTwitch, Username: "gone"}, domain.ErrIdentityNotFound)

	summary := h.run(t)
	assert.Equal(t, 1, summary.Enqueued[domain.ActionEndAnnouncement])
}

func TestRun_NoChannelSkipsAnnouncementButSyncsRole(t *testing.T) {
	h := newHarness(t, Config{})
	h.db.PutGuild(domain.GuildSettings{GuildID: guildID, LiveRoleID: "live-role"})
	s := h.db.PutStreamer(domain.Streamer{Platform: domain.PlatformTwitch, NativeID: "100", Username: "alice", DiscordUserID: "u1"})
	h.subscribe(s, "")
	h.twitch.SetLive(s.Identity(), domain.LiveSnapshot{Title: "t"})

	summary := h.run(t)
	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, 0, summary.Enqueued[domain.ActionCreateAnnouncement])
	assert.Equal(t, 1, summary.Enqueued[domain.ActionSyncRoles])
	h.drain(t)

	h.nextPass()
	summary = h.run(t)
	assert.Equal(t, 0, summary.Enqueued[domain.ActionSyncRoles])

	h.nextPass()
	h.twitch.SetOffline(s.Identity())
	summary = h.run(t)
	assert.Equal(t, 1, summary.Enqueued[domain.ActionSyncRoles])
}

func TestRun_AuthoritativeAvatarWins(t *testing.T) {
	h := newHarness(t, Config{Authoritative: domain.PlatformTwitch})
	tw := h.db.PutStreamer(domain.Streamer{Platform: domain.PlatformTwitch, NativeID: "t1", Username: "alice", DiscordUserID: "u1"})
	kk := h.db.PutStreamer(domain.Streamer{Platform: domain.PlatformKick, NativeID: "k1", Username: "alice", DiscordUserID: "u1"})
	h.subscribe(tw, "chan")
	h.subscribe(kk, "chan")

	h.twitch.SetLive(tw.Identity(), domain.LiveSnapshot{ProfileImageURL: "https://img/twitch.png"})
	h.kick.SetLive(kk.Identity(), domain.LiveSnapshot{ProfileImageURL: "https://img/kick.png"})

	h.run(t)

	gotTw, _ := h.db.Streamer(tw.ID)
	gotKk, _ := h.db.Streamer(kk.ID)
	assert.Equal(t, "https://img/twitch.png", gotTw.AvatarURL)
	assert.Equal(t, "https://img/twitch.png", gotKk.AvatarURL)
	assert.Equal(t, domain.PlatformTwitch, gotKk.AvatarSource)
}

func TestRun_UsernameDriftIsPatched(t *testing.T) {
	h := newHarness(t, Config{})
	s := h.streamer(domain.PlatformTwitch, "100", "alice")
	h.subscribe(s, "chan")
	h.twitch.SetLive(s.Identity(), domain.LiveSnapshot{Username: "alice_renamed"})

	h.run(t)

	got, _ := h.db.Streamer(s.ID)
	assert.Equal(t, "alice_renamed", got.Username)
}

func TestRun_RecordsConfirmedStatusOnly(t *testing.T) {
	h := newHarness(t, Config{})
	statuses := liveness.NewMemoryStatusStore()
	h.r.deps.Statuses = statuses

	live := h.streamer(domain.PlatformTwitch, "1", "live")
	broken := h.streamer(domain.PlatformTwitch, "2", "broken")
	h.subscribe(live, "chan")
	h.subscribe(broken, "chan")
	h.twitch.SetLive(live.Identity(), domain.LiveSnapshot{})
	h.twitch.SetError(broken.Identity(), errors.New("boom"))

	h.run(t)

	st, ok, err := statuses.Get(context.Background(), live.Key())
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, st.Live)

	_, ok, err = statuses.Get(context.Background(), broken.Key())
	require.NoError(t, err)
	assert.False(t, ok)
}

type gateProbe struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (g *gateProbe) Platform() domain.Platform { return domain.PlatformYouTube }

func (g *gateProbe) IsLive(ctx context.Context, _ domain.Identity) (domain.LiveSnapshot, error) {
	g.once.Do(func() { close(g.started) })
	select {
	case <-g.release:
	case <-ctx.Done():
		return domain.LiveSnapshot{}, ctx.Err()
	}
	return domain.Offline(domain.PlatformYouTube), nil
}

func (g *gateProbe) GetStreamDetails(context.Context, domain.Identity) (*domain.StreamDetails, error) {
	return nil, domain.ErrIdentityNotFound
}

func (g *gateProbe) GetUserIdentity(context.Context, string) (*domain.Identity, error) {
	return nil, domain.ErrIdentityNotFound
}

func TestRun_OverlappingPassIsRejected(t *testing.T) {
	h := newHarness(t, Config{})
	gate := &gateProbe{started: make(chan struct{}), release: make(chan struct{})}
	h.r.deps.Probes.Register(gate)

	s := h.streamer(domain.PlatformYouTube, "yt1", "alice")
	h.subscribe(s, "chan")

	done := make(chan error, 1)
	go func() {
		_, err := h.r.Run(context.Background())
		done <- err
	}()

	<-gate.started
	_, err := h.r.Run(context.Background())
	assert.ErrorIs(t, err, domain.ErrPassInProgress)

	close(gate.release)
	require.NoError(t, <-done)
}
