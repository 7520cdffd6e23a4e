package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/xXDeath420Xx/livebot/internal/domain"
	apperrors "github.com/xXDeath420Xx/livebot/internal/platform/errors"
	"github.com/xXDeath420Xx/livebot/internal/reconcile"
	"github.com/xXDeath420Xx/livebot/internal/roles"
	"github.com/xXDeath420Xx/livebot/internal/teamsync"
)

// RoleReconciler applies the live-role diff for one guild member.
type RoleReconciler interface {
	Reconcile(ctx context.Context, guildID, userID string, alsoManaged ...string) (roles.Result, error)
}

type ServiceDeps struct {
	Streamers     domain.StreamerRepository
	Subscriptions domain.SubscriptionRepository
	Announcements domain.AnnouncementRepository
	Sessions      domain.SessionRepository
	Blacklist     domain.Blacklist
	Queue         domain.ActionQueue
	Sink          domain.MessagingSink
	Roles         RoleReconciler
	Scheduler     *Scheduler
	Teams         *teamsync.Syncer
	Clock         clockwork.Clock
}

// Service is the administrative surface shared by the HTTP API and the CLI.
type Service struct {
	deps ServiceDeps
}

func NewService(deps ServiceDeps) *Service {
	return &Service{deps: deps}
}

// PurgeItem is the outcome of one step of a purge.
type PurgeItem struct {
	Step   string `json:"step"`
	Target string `json:"target"`
	Error  string `json:"error,omitempty"`
}

func (i PurgeItem) OK() bool { return i.Error == "" }

// PurgeReport lists every step of a purge so operators see exactly what failed.
type PurgeReport struct {
	StreamerID uuid.UUID   `json:"streamer_id"`
	Platform   string      `json:"platform"`
	Username   string      `json:"username"`
	Items      []PurgeItem `json:"items"`
}

func (r *PurgeReport) record(step, target string, err error) {
	item := PurgeItem{Step: step, Target: target}
	if err != nil {
		item.Error = err.Error()
	}
	r.Items = append(r.Items, item)
}

func (r PurgeReport) Failed() int {
	n := 0
	for _, i := range r.Items {
		if !i.OK() {
			n++
		}
	}
	return n
}

func (r PurgeReport) Succeeded() int { return len(r.Items) - r.Failed() }

// String renders a readable per-item summary.
func (r PurgeReport) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Purged %s on %s: %d ok, %d failed\n", r.Username, r.Platform, r.Succeeded(), r.Failed())
	for _, i := range r.Items {
		if i.OK() {
			fmt.Fprintf(&b, "  ok    %-20s %s\n", i.Step, i.Target)
		} else {
			fmt.Fprintf(&b, "  FAIL  %-20s %s: %s\n", i.Step, i.Target, i.Error)
		}
	}
	return b.String()
}

// PurgeIdentity tears down everything tied to a streamer: posted announcements, stream sessions,
// subscriptions and the live roles they granted. The identity is blacklisted so automated flows do not
// add it back. Every step runs even if an earlier one failed.
func (s *Service) PurgeIdentity(ctx context.Context, streamerID uuid.UUID, reason string) (PurgeReport, error) {
	streamer, err := s.deps.Streamers.GetByID(ctx, streamerID)
	if errors.Is(err, domain.ErrStreamerNotFound) {
		return PurgeReport{StreamerID: streamerID}, apperrors.NotFoundError("streamer not found").WithContext("streamer_id", streamerID)
	}
	if err != nil {
		return PurgeReport{StreamerID: streamerID}, apperrors.InternalError("failed to load streamer", err)
	}

	report := PurgeReport{StreamerID: streamer.ID, Platform: string(streamer.Platform), Username: streamer.Username}
	log := slog.With("streamer_id", streamer.ID, "platform", streamer.Platform, "native_id", streamer.NativeID)

	subs, err := s.deps.Subscriptions.ListByStreamer(ctx, streamer.ID)
	if err != nil {
		return report, apperrors.InternalError("failed to list subscriptions", err)
	}

	anns, err := s.deps.Announcements.ListByStreamer(ctx, streamer.ID)
	report.record("list_announcements", streamer.ID.String(), err)
	for _, ann := range anns {
		target := ann.GuildID + "/" + ann.ChannelID
		err := s.deps.Sink.Delete(ctx, ann.ChannelID, ann.MessageID)
		if errors.Is(err, domain.ErrMessageNotFound) {
			err = nil
		}
		report.record("delete_message", target, err)
		report.record("delete_announcement", target, s.deps.Announcements.Delete(ctx, ann.Key()))
	}

	_, err = s.deps.Sessions.CloseByStreamer(ctx, streamer.ID, s.deps.Clock.Now())
	report.record("close_sessions", streamer.ID.String(), err)

	_, err = s.deps.Subscriptions.DeleteByStreamer(ctx, streamer.ID)
	report.record("delete_subscriptions", fmt.Sprintf("%d subscriptions", len(subs)), err)

	if s.deps.Blacklist != nil {
		report.record("blacklist", string(streamer.Platform)+"/"+streamer.NativeID, s.deps.Blacklist.Add(ctx, streamer.Platform, streamer.NativeID, reason))
	}

	if s.deps.Roles != nil && streamer.DiscordUserID != "" {
		for _, guildID := range guildsOf(subs) {
			_, err := s.deps.Roles.Reconcile(ctx, guildID, streamer.DiscordUserID, subscriptionRoles(subs, guildID)...)
			report.record("revoke_roles", guildID, err)
		}
	}

	report.record("delete_streamer", streamer.ID.String(), s.deps.Streamers.Delete(ctx, streamer.ID))

	log.InfoContext(ctx, "Identity purged", "succeeded", report.Succeeded(), "failed", report.Failed())
	return report, nil
}

// TriggerPass runs a reconciliation pass now.
func (s *Service) TriggerPass(ctx context.Context) (reconcile.Summary, error) {
	summary, err := s.deps.Scheduler.TriggerPass(ctx)
	if errors.Is(err, domain.ErrPassInProgress) || errors.Is(err, ErrPassLocked) {
		return summary, apperrors.ConflictError(err.Error())
	}
	return summary, err
}

// SyncTeam syncs one team now.
func (s *Service) SyncTeam(ctx context.Context, teamID uuid.UUID) (teamsync.Result, error) {
	res, err := s.deps.Teams.SyncTeam(ctx, teamID)
	if errors.Is(err, domain.ErrTeamNotFound) {
		return res, apperrors.NotFoundError("team not found").WithContext("team_id", teamID)
	}
	return res, err
}

// SyncTeams syncs every configured team now.
func (s *Service) SyncTeams(ctx context.Context) ([]teamsync.Result, error) {
	return s.deps.Teams.SyncAll(ctx)
}

// DeadLetters returns the newest dead-lettered jobs.
func (s *Service) DeadLetters(ctx context.Context, limit int) ([]domain.DeadLetter, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	return s.deps.Queue.DeadLetters(ctx, limit)
}

func guildsOf(subs []domain.Subscription) []string {
	var guilds []string
	for _, sub := range subs {
		if !slices.Contains(guilds, sub.GuildID) {
			guilds = append(guilds, sub.GuildID)
		}
	}
	slices.Sort(guilds)
	return guilds
}

// subscriptionRoles returns the role overrides of the purged subscriptions. They are gone from configuration
// by the time roles are reconciled, so they are passed in as managed explicitly.
func subscriptionRoles(subs []domain.Subscription, guildID string) []string {
	var out []string
	for _, sub := range subs {
		if sub.GuildID == guildID && sub.RoleID != "" {
			out = append(out, sub.RoleID)
		}
	}
	return out
}
