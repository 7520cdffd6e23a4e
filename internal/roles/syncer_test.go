package roles

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xXDeath420Xx/livebot/internal/domain"
	"github.com/xXDeath420Xx/livebot/internal/domain/domaintest"
	"github.com/xXDeath420Xx/livebot/internal/liveness"
)

const (
	guildID = "g1"
	userID  = "u1"
)

type fixture struct {
	db       *domaintest.DB
	statuses *liveness.MemoryStatusStore
	sink     *domaintest.Roles
	syncer   *Syncer
	streamer domain.Streamer
}

func newFixture(t *testing.T, liveRole string) *fixture {
	t.Helper()
	db := domaintest.NewDB(clockwork.NewFakeClock())
	f := &fixture{
		db:       db,
		statuses: liveness.NewMemoryStatusStore(),
		sink:     domaintest.NewRoles(),
	}
	db.PutGuild(domain.GuildSettings{GuildID: guildID, AnnounceChannel: "c", LiveRoleID: liveRole})
	f.sink.AddRole(guildID, liveRole)
	f.streamer = db.PutStreamer(domain.Streamer{Platform: domain.PlatformTwitch, NativeID: "1", Username: "alice", DiscordUserID: userID})
	db.PutSubscription(domain.Subscription{GuildID: guildID, StreamerID: f.streamer.ID})
	f.syncer = NewSyncer(db.Subscriptions(), db.Guilds(), f.statuses, f.sink, nil)
	return f
}

func (f *fixture) setLive(t *testing.T, s domain.Streamer, live bool) {
	t.Helper()
	require.NoError(t, f.statuses.Record(context.Background(), s.Key(), domain.LiveStatus{Live: live}))
}

func TestReconcile_GrantsAndRevokes(t *testing.T) {
	f := newFixture(t, "live")
	ctx := context.Background()

	f.setLive(t, f.streamer, true)
	res, err := f.syncer.Reconcile(ctx, guildID, userID)
	require.NoError(t, err)
	assert.Equal(t, []string{"live"}, res.Added)
	assert.True(t, f.sink.Has(guildID, userID, "live"))

	// Second call is a no-op.
	res, err = f.syncer.Reconcile(ctx, guildID, userID)
	require.NoError(t, err)
	assert.Empty(t, res.Added)
	assert.Equal(t, 1, f.sink.Mutations())

	f.setLive(t, f.streamer, false)
	res, err = f.syncer.Reconcile(ctx, guildID, userID)
	require.NoError(t, err)
	assert.Equal(t, []string{"live"}, res.Removed)
	assert.False(t, f.sink.Has(guildID, userID, "live"))
}

func TestReconcile_KeepsRoleWhileAnotherLinkedStreamerIsLive(t *testing.T) {
	f := newFixture(t, "live")
	ctx := context.Background()

	kick := f.db.PutStreamer(domain.Streamer{Platform: domain.PlatformKick, NativeID: "k", Username: "alice", DiscordUserID: userID})
	f.db.PutSubscription(domain.Subscription{GuildID: guildID, StreamerID: kick.ID})
	f.sink.Grant(guildID, userID, "live")

	f.setLive(t, f.streamer, false)
	f.setLive(t, kick, true)

	res, err := f.syncer.Reconcile(ctx, guildID, userID)
	require.NoError(t, err)
	assert.Empty(t, res.Removed)
	assert.True(t, f.sink.Has(guildID, userID, "live"))
}

func TestReconcile_LeavesUnmanagedRolesAlone(t *testing.T) {
	f := newFixture(t, "live")
	f.sink.Grant(guildID, userID, "moderator")

	_, err := f.syncer.Reconcile(context.Background(), guildID, userID)
	require.NoError(t, err)
	assert.True(t, f.sink.Has(guildID, userID, "moderator"))
	assert.Zero(t, f.sink.Mutations())
}

func TestReconcile_PurgesDeletedRole(t *testing.T) {
	f := newFixture(t, "live")
	f.sink.DeleteRole(guildID, "live")
	f.setLive(t, f.streamer, true)

	var purged []string
	f.syncer.OnPurge = func(_ context.Context, g string) { purged = append(purged, g) }

	res, err := f.syncer.Reconcile(context.Background(), guildID, userID)
	require.NoError(t, err)
	assert.Equal(t, []string{"live"}, res.Purged)
	assert.Equal(t, []string{guildID}, purged)
	assert.Zero(t, f.sink.Mutations())

	settings, err := f.db.Guilds().GetSettings(context.Background(), guildID)
	require.NoError(t, err)
	assert.Empty(t, settings.LiveRoleID)
}

func TestReconcile_PurgeInvalidatesCachedGuildSettings(t *testing.T) {
	f := newFixture(t, "live")
	ctx := context.Background()

	guilds := liveness.NewGuildSettingsCache(f.db.Guilds(), 5*time.Minute, clockwork.NewFakeClock(), nil, nil)
	f.syncer = NewSyncer(f.db.Subscriptions(), guilds, f.statuses, f.sink, nil)
	f.syncer.OnPurge = guilds.Invalidate

	cached, err := guilds.GetSettings(ctx, guildID)
	require.NoError(t, err)
	require.Equal(t, "live", cached.LiveRoleID)

	f.sink.DeleteRole(guildID, "live")
	f.setLive(t, f.streamer, true)
	_, err = f.syncer.Reconcile(ctx, guildID, userID)
	require.NoError(t, err)

	cached, err = guilds.GetSettings(ctx, guildID)
	require.NoError(t, err)
	assert.Empty(t, cached.LiveRoleID)
}

func TestReconcile_PurgesUnmanageableRole(t *testing.T) {
	f := newFixture(t, "live")
	f.sink.SetUnmanageable(guildID, "live")
	f.setLive(t, f.streamer, true)

	res, err := f.syncer.Reconcile(context.Background(), guildID, userID)
	require.NoError(t, err)
	assert.Equal(t, []string{"live"}, res.Purged)

	managed, err := f.db.Subscriptions().ManagedRoles(context.Background(), guildID)
	require.NoError(t, err)
	assert.Empty(t, managed)
}

func TestReconcile_PermissionErrorDoesNotAbort(t *testing.T) {
	f := newFixture(t, "live")
	ctx := context.Background()

	team := f.db.PutTeam(domain.Team{GuildID: guildID, Name: "crew", LiveRoleID: "crew-role"})
	f.sink.AddRole(guildID, "crew-role")
	other := f.db.PutStreamer(domain.Streamer{Platform: domain.PlatformKick, NativeID: "k", DiscordUserID: userID})
	f.db.PutSubscription(domain.Subscription{GuildID: guildID, StreamerID: other.ID, TeamID: &team.ID})

	f.setLive(t, f.streamer, true)
	f.setLive(t, other, true)

	f.sink.MutateErr = func(_, roleID string) error {
		if roleID == "crew-role" {
			return fmt.Errorf("discord: 50013: %w", domain.ErrPermissionDenied)
		}
		return nil
	}

	res, err := f.syncer.Reconcile(ctx, guildID, userID)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Denied)
	assert.Equal(t, []string{"live"}, res.Added)
}

func TestReconcile_OtherMutationErrorsAreReturned(t *testing.T) {
	f := newFixture(t, "live")
	f.setLive(t, f.streamer, true)
	f.sink.MutateErr = func(string, string) error { return errors.New("gateway timeout") }

	_, err := f.syncer.Reconcile(context.Background(), guildID, userID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gateway timeout")
}

func TestReconcile_AlsoManagedRevokesPurgedReferences(t *testing.T) {
	f := newFixture(t, "live")
	f.sink.AddRole(guildID, "old-sub-role")
	f.sink.Grant(guildID, userID, "old-sub-role")

	res, err := f.syncer.Reconcile(context.Background(), guildID, userID, "old-sub-role")
	require.NoError(t, err)
	assert.Equal(t, []string{"old-sub-role"}, res.Removed)
}

func TestReconcile_NoUserIsNoop(t *testing.T) {
	f := newFixture(t, "live")
	res, err := f.syncer.Reconcile(context.Background(), guildID, "")
	require.NoError(t, err)
	assert.Equal(t, Result{}, res)
}
