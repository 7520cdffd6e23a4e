// Package worker applies queued actions: it posts, edits and retires announcements and syncs member roles.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jonboulle/clockwork"

	"github.com/xXDeath420Xx/livebot/internal/domain"
	apperrors "github.com/xXDeath420Xx/livebot/internal/platform/errors"
	"github.com/xXDeath420Xx/livebot/internal/roles"
)

// RoleReconciler applies the live-role diff for one guild member.
type RoleReconciler interface {
	Reconcile(ctx context.Context, guildID, userID string, alsoManaged ...string) (roles.Result, error)
}

type Deps struct {
	Subscriptions domain.SubscriptionRepository
	Guilds        domain.GuildRepository
	Streamers     domain.StreamerRepository
	Announcements domain.AnnouncementRepository
	Sessions      domain.SessionRepository
	Sink          domain.MessagingSink
	// Roles is optional. Without it announcement jobs skip the follow-up role sync.
	Roles RoleReconciler
	Clock clockwork.Clock
}

// Handler executes one action. Every handler is idempotent: replaying a job converges on the same ledger.
type Handler struct {
	deps Deps
}

func NewHandler(deps Deps) *Handler {
	return &Handler{deps: deps}
}

func (h *Handler) Handle(ctx context.Context, a domain.Action) error {
	switch a.Kind {
	case domain.ActionCreateAnnouncement, domain.ActionUpdateAnnouncement:
		return h.announce(ctx, a)
	case domain.ActionEndAnnouncement:
		return h.end(ctx, a)
	case domain.ActionSyncRoles:
		return h.syncRoles(ctx, a)
	default:
		return apperrors.ValidationError("unknown action kind " + string(a.Kind))
	}
}

func (h *Handler) announce(ctx context.Context, a domain.Action) error {
	v, err := h.deps.Subscriptions.GetByID(ctx, a.SubscriptionID)
	if errors.Is(err, domain.ErrSubscriptionNotFound) {
		// The next pass tears down anything left behind.
		slog.InfoContext(ctx, "Subscription removed before announcement ran", "subscription_id", a.SubscriptionID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load subscription: %w", err)
	}
	if a.ChannelID == domain.DefaultChannel {
		return fmt.Errorf("%w: subscription %s", domain.ErrNoChannel, a.SubscriptionID)
	}

	settings, err := h.settings(ctx, a.GuildID)
	if err != nil {
		return err
	}

	key := domain.AnnouncementKey{SubscriptionID: a.SubscriptionID, ChannelID: a.ChannelID}
	existing, err := h.deps.Announcements.Get(ctx, key)
	if errors.Is(err, domain.ErrAnnouncementNotFound) {
		existing, err = nil, nil
	}
	if err != nil {
		return fmt.Errorf("failed to load announcement: %w", err)
	}

	payload := livePayload(*v, settings, domain.Target{ChannelID: a.ChannelID, RoleID: a.RoleID}, a.Snapshot)
	ref, err := h.deliver(ctx, existing, a.ChannelID, payload)
	if err != nil {
		return err
	}

	ann := domain.Announcement{
		SubscriptionID: a.SubscriptionID,
		StreamerID:     a.StreamerID,
		GuildID:        a.GuildID,
		ChannelID:      a.ChannelID,
		MessageID:      ref.MessageID,
		Platform:       payload.Embed.Platform,
		Title:          a.Snapshot.Title,
		Game:           a.Snapshot.Game,
		ThumbnailURL:   a.Snapshot.ThumbnailURL,
		ViewerCount:    a.Snapshot.ViewerCount,
	}
	if err := h.deps.Announcements.Upsert(ctx, ann); err != nil {
		if existing == nil || existing.MessageID != ref.MessageID {
			// An unrecorded message would be duplicated by the retry.
			if derr := h.deps.Sink.Delete(ctx, ref.ChannelID, ref.MessageID); derr != nil {
				slog.WarnContext(ctx, "Failed to remove unrecorded message", "channel_id", ref.ChannelID, "message_id", ref.MessageID, "error", derr)
			}
		}
		return fmt.Errorf("failed to record announcement: %w", err)
	}

	if a.Kind != domain.ActionCreateAnnouncement {
		return nil
	}

	h.retireOthers(ctx, *v, settings, a.ChannelID)

	started := a.Snapshot.StartedAt
	if started.IsZero() {
		started = h.deps.Clock.Now()
	}
	session := domain.StreamSession{
		SubscriptionID: a.SubscriptionID,
		StreamerID:     a.StreamerID,
		GuildID:        a.GuildID,
		ChannelID:      a.ChannelID,
		Title:          a.Snapshot.Title,
		PeakViewers:    a.Snapshot.ViewerCount,
		StartedAt:      started,
	}
	if err := h.deps.Sessions.Open(ctx, session); err != nil {
		slog.WarnContext(ctx, "Failed to open stream session", "subscription_id", a.SubscriptionID, "error", err)
	}

	h.followUpRoles(ctx, a)
	slog.InfoContext(ctx, "Announcement posted", "subscription_id", a.SubscriptionID, "channel_id", a.ChannelID, "message_id", ref.MessageID)
	return nil
}

// deliver edits the existing message, or sends a new one if there is none or it was deleted by hand.
func (h *Handler) deliver(ctx context.Context, existing *domain.Announcement, channelID string, payload domain.MessagePayload) (domain.MessageRef, error) {
	if existing != nil {
		ref, err := h.deps.Sink.Edit(ctx, channelID, existing.MessageID, payload)
		if err == nil {
			return ref, nil
		}
		if !errors.Is(err, domain.ErrMessageNotFound) {
			return domain.MessageRef{}, apperrors.DeliveryError("failed to edit announcement", err).WithContext("channel_id", channelID)
		}
	}

	ref, err := h.deps.Sink.Send(ctx, channelID, payload)
	if err != nil {
		return domain.MessageRef{}, apperrors.DeliveryError("failed to send announcement", err).WithContext("channel_id", channelID)
	}
	return ref, nil
}

// retireOthers ends announcements the subscription still has in channels other than keep.
func (h *Handler) retireOthers(ctx context.Context, v domain.SubscriptionView, settings domain.GuildSettings, keep string) {
	anns, err := h.deps.Announcements.ListBySubscription(ctx, v.Subscription.ID)
	if err != nil {
		slog.WarnContext(ctx, "Failed to list announcements", "subscription_id", v.Subscription.ID, "error", err)
		return
	}
	for _, ann := range anns {
		if ann.ChannelID == keep {
			continue
		}
		if err := h.retire(ctx, v, settings, ann, nil); err != nil {
			slog.WarnContext(ctx, "Failed to retire announcement in previous channel", "subscription_id", ann.SubscriptionID, "channel_id", ann.ChannelID, "error", err)
		}
	}
}

func (h *Handler) end(ctx context.Context, a domain.Action) error {
	anns, err := h.deps.Announcements.ListBySubscription(ctx, a.SubscriptionID)
	if err != nil {
		return fmt.Errorf("failed to list announcements: %w", err)
	}
	settings, err := h.settings(ctx, a.GuildID)
	if err != nil {
		return err
	}

	now := h.deps.Clock.Now()
	session, err := h.deps.Sessions.Close(ctx, a.SubscriptionID, now)
	if err == nil && session == nil {
		session, err = h.deps.Sessions.Last(ctx, a.SubscriptionID)
	}
	if err != nil {
		slog.WarnContext(ctx, "Failed to load stream session", "subscription_id", a.SubscriptionID, "error", err)
		session = nil
	}

	v := h.viewFor(ctx, a)
	var errs []error
	for _, ann := range anns {
		if err := h.retire(ctx, v, settings, ann, session); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}

	h.followUpRoles(ctx, a)
	if len(anns) > 0 {
		slog.InfoContext(ctx, "Announcement ended", "subscription_id", a.SubscriptionID, "behavior", settings.EndBehavior, "count", len(anns))
	}
	return nil
}

// retire deletes or summarises one message and drops its ledger row. A message that is already gone counts
// as retired.
func (h *Handler) retire(ctx context.Context, v domain.SubscriptionView, settings domain.GuildSettings, ann domain.Announcement, session *domain.StreamSession) error {
	var err error
	if settings.EndBehavior == domain.EndSummary {
		_, err = h.deps.Sink.Edit(ctx, ann.ChannelID, ann.MessageID, summaryPayload(v, ann, session, h.deps.Clock.Now()))
	} else {
		err = h.deps.Sink.Delete(ctx, ann.ChannelID, ann.MessageID)
	}
	if err != nil && !errors.Is(err, domain.ErrMessageNotFound) {
		return apperrors.DeliveryError("failed to end announcement", err).WithContext("channel_id", ann.ChannelID)
	}

	if err := h.deps.Announcements.Delete(ctx, ann.Key()); err != nil {
		return fmt.Errorf("failed to delete announcement: %w", err)
	}
	return nil
}

// viewFor loads what the summary needs. Orphaned subscriptions fall back to the bare streamer.
func (h *Handler) viewFor(ctx context.Context, a domain.Action) domain.SubscriptionView {
	if v, err := h.deps.Subscriptions.GetByID(ctx, a.SubscriptionID); err == nil {
		return *v
	}
	v := domain.SubscriptionView{
		Subscription: domain.Subscription{ID: a.SubscriptionID, GuildID: a.GuildID, StreamerID: a.StreamerID},
		Streamer:     domain.Streamer{ID: a.StreamerID},
	}
	if s, err := h.deps.Streamers.GetByID(ctx, a.StreamerID); err == nil {
		v.Streamer = *s
	}
	return v
}

func (h *Handler) syncRoles(ctx context.Context, a domain.Action) error {
	if h.deps.Roles == nil || a.DiscordUserID == "" {
		return nil
	}
	if _, err := h.deps.Roles.Reconcile(ctx, a.GuildID, a.DiscordUserID); err != nil {
		return fmt.Errorf("failed to sync roles: %w", err)
	}
	return nil
}

// followUpRoles runs the role sync after an announcement change. Its failure does not fail the job:
// the announcement is already delivered and the next transition syncs again.
func (h *Handler) followUpRoles(ctx context.Context, a domain.Action) {
	if err := h.syncRoles(ctx, a); err != nil {
		slog.WarnContext(ctx, "Role sync after announcement failed", "guild_id", a.GuildID, "discord_user_id", a.DiscordUserID, "error", err)
	}
}

func (h *Handler) settings(ctx context.Context, guildID string) (domain.GuildSettings, error) {
	s, err := h.deps.Guilds.GetSettings(ctx, guildID)
	if errors.Is(err, domain.ErrGuildNotFound) {
		return domain.GuildSettings{GuildID: guildID, EndBehavior: domain.EndDelete}, nil
	}
	if err != nil {
		return domain.GuildSettings{}, fmt.Errorf("failed to load guild settings: %w", err)
	}
	return *s, nil
}
