// Package teamsync mirrors external team rosters into subscriptions and auto-links members' accounts on
// secondary platforms.
package teamsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/xXDeath420Xx/livebot/internal/adapter/metrics"
	"github.com/xXDeath420Xx/livebot/internal/domain"
	"github.com/xXDeath420Xx/livebot/internal/platform/correlation"
	"github.com/xXDeath420Xx/livebot/internal/probe"
)

// Exclusion names an account that must never be auto-linked.
type Exclusion struct {
	Platform domain.Platform
	Username string
}

type Deps struct {
	Teams         domain.TeamRepository
	Subscriptions domain.SubscriptionRepository
	Streamers     domain.StreamerRepository
	Blacklist     domain.Blacklist
	// Rosters holds the roster source of each team platform.
	Rosters map[domain.Platform]domain.TeamRoster
	Probes  *probe.Registry
	Clock   clockwork.Clock
	Metrics *metrics.TeamSyncMetrics
}

type Config struct {
	// Secondary lists the platforms members are auto-linked onto.
	Secondary  []domain.Platform
	Exclusions []Exclusion
}

// Result summarises the sync of one team.
type Result struct {
	TeamID   uuid.UUID
	Team     string
	Added    int
	Removed  int
	Linked   int
	Excluded int
	Err      error
}

type Syncer struct {
	deps     Deps
	cfg      Config
	excluded map[domain.IdentityKey]bool
}

func New(deps Deps, cfg Config) *Syncer {
	excluded := make(map[domain.IdentityKey]bool, len(cfg.Exclusions))
	for _, e := range cfg.Exclusions {
		excluded[exclusionKey(e.Platform, e.Username)] = true
	}
	return &Syncer{deps: deps, cfg: cfg, excluded: excluded}
}

// SyncAll syncs every configured team. A failing team does not stop the others.
func (s *Syncer) SyncAll(ctx context.Context) ([]Result, error) {
	teams, err := s.deps.Teams.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list teams: %w", err)
	}

	results := make([]Result, 0, len(teams))
	for _, team := range teams {
		teamCtx := correlation.WithID(ctx, correlation.NewID())
		res := s.sync(teamCtx, team)
		if res.Err != nil {
			slog.ErrorContext(teamCtx, "Team sync failed", "team_id", team.ID, "team", team.Name, "platform", team.Platform, "error", res.Err)
		}
		results = append(results, res)
	}
	return results, nil
}

// SyncTeam syncs a single team by id.
func (s *Syncer) SyncTeam(ctx context.Context, teamID uuid.UUID) (Result, error) {
	team, err := s.deps.Teams.GetByID(ctx, teamID)
	if err != nil {
		return Result{TeamID: teamID}, err
	}
	res := s.sync(ctx, *team)
	return res, res.Err
}

func (s *Syncer) sync(ctx context.Context, team domain.Team) Result {
	res := Result{TeamID: team.ID, Team: team.Name}
	err := s.syncRoster(ctx, team, &res)
	res.Err = err

	if m := s.deps.Metrics; m != nil {
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		m.Runs.WithLabelValues(outcome).Inc()
		m.Changes.WithLabelValues("added").Add(float64(res.Added))
		m.Changes.WithLabelValues("removed").Add(float64(res.Removed))
		m.Changes.WithLabelValues("linked").Add(float64(res.Linked))
	}

	if err == nil {
		slog.InfoContext(ctx, "Team synced", "team", team.Name, "added", res.Added, "removed", res.Removed, "linked", res.Linked, "excluded", res.Excluded)
	}
	return res
}

func (s *Syncer) syncRoster(ctx context.Context, team domain.Team, res *Result) error {
	roster, ok := s.deps.Rosters[team.Platform]
	if !ok {
		return fmt.Errorf("%w: no roster source for %s", domain.ErrUnsupportedPlatform, team.Platform)
	}

	members, err := roster.Members(ctx, team)
	if err != nil {
		return fmt.Errorf("failed to fetch roster: %w", err)
	}
	current, err := s.deps.Subscriptions.ListByTeam(ctx, team.ID)
	if err != nil {
		return fmt.Errorf("failed to list team subscriptions: %w", err)
	}

	onRoster := make(map[domain.IdentityKey]bool, len(members))
	for _, m := range members {
		onRoster[m.Key()] = true
	}

	subscribed := make(map[domain.IdentityKey]bool, len(current))
	for _, v := range current {
		if v.Streamer.Platform == team.Platform {
			subscribed[v.Streamer.Key()] = true
		}
	}

	var errs []error
	var linkFrom []domain.Streamer

	for _, m := range members {
		if subscribed[m.Key()] {
			continue
		}
		streamer, added, err := s.add(ctx, team, m)
		if err != nil {
			errs = append(errs, fmt.Errorf("add %s: %w", m.Username, err))
			continue
		}
		if added {
			res.Added++
		}
		if streamer != nil && streamer.DiscordUserID != "" {
			linkFrom = append(linkFrom, *streamer)
		}
	}

	// Members leave the team but keep their subscription, now configured on its own.
	gone := make(map[string]bool)
	for _, v := range current {
		if v.Streamer.Platform != team.Platform || onRoster[v.Streamer.Key()] {
			if v.Streamer.Platform == team.Platform && v.Streamer.DiscordUserID != "" {
				linkFrom = append(linkFrom, v.Streamer)
			}
			continue
		}
		if err := s.deps.Subscriptions.SetTeam(ctx, v.Subscription.ID, nil); err != nil {
			errs = append(errs, fmt.Errorf("disassociate %s: %w", v.Streamer.Username, err))
			continue
		}
		res.Removed++
		if v.Streamer.DiscordUserID != "" {
			gone[v.Streamer.DiscordUserID] = true
		}
	}

	// Auto-linked accounts follow their primary member out of the team.
	for _, v := range current {
		if v.Streamer.Platform == team.Platform || !gone[v.Streamer.DiscordUserID] {
			continue
		}
		if err := s.deps.Subscriptions.SetTeam(ctx, v.Subscription.ID, nil); err != nil {
			errs = append(errs, fmt.Errorf("disassociate %s: %w", v.Streamer.Username, err))
		}
	}

	for _, st := range linkFrom {
		n, excluded, err := s.linkSecondary(ctx, team, st)
		res.Linked += n
		res.Excluded += excluded
		if err != nil {
			errs = append(errs, fmt.Errorf("link %s: %w", st.Username, err))
		}
	}

	if err := errors.Join(errs...); err != nil {
		return err
	}
	if err := s.deps.Teams.MarkSynced(ctx, team.ID, s.deps.Clock.Now()); err != nil {
		return fmt.Errorf("failed to mark team synced: %w", err)
	}
	return nil
}

// add creates the member's streamer row and team subscription. Blacklisted members are skipped.
func (s *Syncer) add(ctx context.Context, team domain.Team, m domain.Identity) (*domain.Streamer, bool, error) {
	if s.deps.Blacklist != nil {
		blocked, err := s.deps.Blacklist.IsBlacklisted(ctx, m.Platform, m.NativeID)
		if err != nil {
			return nil, false, err
		}
		if blocked {
			slog.InfoContext(ctx, "Skipping blacklisted team member", "team", team.Name, "platform", m.Platform, "native_id", m.NativeID)
			return nil, false, nil
		}
	}

	streamer, err := s.deps.Streamers.Upsert(ctx, domain.NewStreamer{
		Platform: m.Platform,
		NativeID: m.NativeID,
		Username: m.Username,
	})
	if err != nil {
		return nil, false, err
	}

	teamID := team.ID
	if _, err := s.deps.Subscriptions.Create(ctx, domain.NewSubscription{
		GuildID:    team.GuildID,
		StreamerID: streamer.ID,
		ChannelID:  domain.DefaultChannel,
		TeamID:     &teamID,
	}); err != nil {
		return nil, false, err
	}
	return streamer, true, nil
}

// linkSecondary looks for accounts with the member's username on the secondary platforms and links them
// to the member's Discord user.
func (s *Syncer) linkSecondary(ctx context.Context, team domain.Team, member domain.Streamer) (linked, excluded int, err error) {
	if s.deps.Probes == nil {
		return 0, 0, nil
	}

	existing, err := s.deps.Streamers.ListByDiscordUser(ctx, member.DiscordUserID)
	if err != nil {
		return 0, 0, err
	}
	has := make(map[domain.Platform]bool, len(existing))
	for _, st := range existing {
		has[st.Platform] = true
	}

	var errs []error
	for _, p := range s.cfg.Secondary {
		if p == member.Platform || has[p] {
			continue
		}
		if s.excluded[exclusionKey(p, member.Username)] {
			excluded++
			continue
		}

		id, err := s.deps.Probes.Lookup(ctx, p, member.Username)
		if errors.Is(err, domain.ErrIdentityNotFound) || errors.Is(err, domain.ErrUnsupportedPlatform) {
			continue
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("lookup on %s: %w", p, err))
			continue
		}
		if s.excluded[exclusionKey(p, id.Username)] {
			excluded++
			continue
		}
		if s.deps.Blacklist != nil {
			if blocked, err := s.deps.Blacklist.IsBlacklisted(ctx, p, id.NativeID); err != nil || blocked {
				if err != nil {
					errs = append(errs, err)
				}
				continue
			}
		}

		alt, err := s.deps.Streamers.Upsert(ctx, domain.NewStreamer{
			Platform:      p,
			NativeID:      id.NativeID,
			Username:      id.Username,
			DiscordUserID: member.DiscordUserID,
		})
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if alt.DiscordUserID != member.DiscordUserID {
			// Already claimed by someone else.
			continue
		}

		teamID := team.ID
		if _, err := s.deps.Subscriptions.Create(ctx, domain.NewSubscription{
			GuildID:    team.GuildID,
			StreamerID: alt.ID,
			ChannelID:  domain.DefaultChannel,
			TeamID:     &teamID,
		}); err != nil {
			errs = append(errs, err)
			continue
		}

		linked++
		slog.InfoContext(ctx, "Auto-linked secondary account", "team", team.Name, "discord_user_id", member.DiscordUserID, "platform", p, "username", id.Username)
	}
	return linked, excluded, errors.Join(errs...)
}

func exclusionKey(p domain.Platform, username string) domain.IdentityKey {
	return domain.IdentityKey{Platform: p, Login: strings.ToLower(strings.TrimSpace(username))}
}
