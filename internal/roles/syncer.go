package roles

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/xXDeath420Xx/livebot/internal/adapter/metrics"
	"github.com/xXDeath420Xx/livebot/internal/domain"
)

// Result reports what one Reconcile call did.
type Result struct {
	Added   []string
	Removed []string
	// Purged holds roles dropped from configuration because they were deleted or became unmanageable.
	Purged []string
	Denied int
}

// Syncer applies the role diff for one guild member.
type Syncer struct {
	subscriptions domain.SubscriptionRepository
	guilds        domain.GuildRepository
	statuses      domain.LiveStatusStore
	sink          domain.RoleSink
	metrics       *metrics.RoleMetrics

	// OnPurge, when set, runs after a role reference was removed from a guild's configuration.
	OnPurge func(ctx context.Context, guildID string)
}

func NewSyncer(subscriptions domain.SubscriptionRepository, guilds domain.GuildRepository, statuses domain.LiveStatusStore, sink domain.RoleSink, m *metrics.RoleMetrics) *Syncer {
	return &Syncer{
		subscriptions: subscriptions,
		guilds:        guilds,
		statuses:      statuses,
		sink:          sink,
		metrics:       m,
	}
}

// Desired computes the live roles a member should hold in a guild: the resolved role of every
// subscription of the member's linked streamers whose last confirmed status is live.
func (s *Syncer) Desired(ctx context.Context, guildID, userID string) ([]string, error) {
	views, err := s.subscriptions.ListByGuildAndUser(ctx, guildID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	if len(views) == 0 {
		return nil, nil
	}

	settings, err := s.guilds.GetSettings(ctx, guildID)
	if errors.Is(err, domain.ErrGuildNotFound) {
		settings, err = &domain.GuildSettings{GuildID: guildID}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load guild settings: %w", err)
	}

	var desired []string
	for _, v := range views {
		roleID := v.Resolve(*settings).RoleID
		if roleID == "" || slices.Contains(desired, roleID) {
			continue
		}
		status, ok, err := s.statuses.Get(ctx, v.Streamer.Key())
		if err != nil {
			return nil, fmt.Errorf("failed to read live status: %w", err)
		}
		if ok && status.Live {
			desired = append(desired, roleID)
		}
	}
	return desired, nil
}

// Reconcile applies exactly the diff between the member's desired and current managed roles. Extra
// managed roles can be passed for references that were already removed from configuration, e.g. by a purge.
//
// Permission failures are counted and skipped. Any other mutation failure is returned after the remaining
// roles were attempted.
func (s *Syncer) Reconcile(ctx context.Context, guildID, userID string, alsoManaged ...string) (Result, error) {
	var res Result
	if userID == "" {
		return res, nil
	}

	desired, err := s.Desired(ctx, guildID, userID)
	if err != nil {
		return res, err
	}
	managed, err := s.subscriptions.ManagedRoles(ctx, guildID)
	if err != nil {
		return res, fmt.Errorf("failed to list managed roles: %w", err)
	}
	managed = append(managed, alsoManaged...)

	current, err := s.sink.MemberRoles(ctx, guildID, userID)
	if err != nil {
		return res, fmt.Errorf("failed to fetch member roles: %w", err)
	}

	diff := ComputeDiff(desired, current, managed)
	if diff.IsEmpty() {
		return res, nil
	}

	log := slog.With("guild_id", guildID, "discord_user_id", userID)
	var errs []error

	apply := func(op, roleID string, mutate func(context.Context, string, string, string) error) bool {
		ok, err := s.validate(ctx, guildID, roleID)
		if err != nil {
			errs = append(errs, err)
			return false
		}
		if !ok {
			res.Purged = append(res.Purged, roleID)
			return false
		}

		err = mutate(ctx, guildID, userID, roleID)
		switch {
		case err == nil:
			s.count(op, "ok")
			return true
		case errors.Is(err, domain.ErrPermissionDenied):
			res.Denied++
			s.count(op, "denied")
			log.WarnContext(ctx, "Missing permission for role mutation", "op", op, "role_id", roleID, "error", err)
		default:
			s.count(op, "error")
			errs = append(errs, fmt.Errorf("failed to %s role %s: %w", op, roleID, err))
		}
		return false
	}

	for _, roleID := range diff.Add {
		if apply("add", roleID, s.sink.Add) {
			res.Added = append(res.Added, roleID)
		}
	}
	for _, roleID := range diff.Remove {
		if apply("remove", roleID, s.sink.Remove) {
			res.Removed = append(res.Removed, roleID)
		}
	}

	if len(res.Added)+len(res.Removed) > 0 {
		log.InfoContext(ctx, "Member roles synced", "added", res.Added, "removed", res.Removed)
	}
	return res, errors.Join(errs...)
}

// validate checks that a role still exists and sits below the bot. A failed check purges the role from
// every configuration table of the guild so it is not retried.
func (s *Syncer) validate(ctx context.Context, guildID, roleID string) (bool, error) {
	exists, err := s.sink.RoleExists(ctx, guildID, roleID)
	if err != nil {
		return false, fmt.Errorf("failed to check role %s: %w", roleID, err)
	}

	reason := "deleted"
	if exists {
		manageable, err := s.sink.IsRoleManageable(ctx, guildID, roleID)
		if err != nil {
			return false, fmt.Errorf("failed to check role %s: %w", roleID, err)
		}
		if manageable {
			return true, nil
		}
		reason = "unmanageable"
	}

	if err := s.subscriptions.PurgeRole(ctx, guildID, roleID); err != nil {
		return false, fmt.Errorf("failed to purge role %s: %w", roleID, err)
	}
	slog.WarnContext(ctx, "Purged invalid role from configuration", "guild_id", guildID, "role_id", roleID, "reason", reason)
	if s.metrics != nil {
		s.metrics.RolesPurged.Inc()
	}
	if s.OnPurge != nil {
		s.OnPurge(ctx, guildID)
	}
	return false, nil
}

func (s *Syncer) count(op, outcome string) {
	if s.metrics != nil {
		s.metrics.Mutations.WithLabelValues(op, outcome).Inc()
	}
}
