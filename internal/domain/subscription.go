package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// DefaultChannel is the sentinel channel value meaning "use the team or guild default".
const DefaultChannel = ""

// Subscription binds a streamer to a guild with optional presentation and delivery overrides.
type Subscription struct {
	ID            uuid.UUID
	GuildID       string
	StreamerID    uuid.UUID
	ChannelID     string
	TeamID        *uuid.UUID
	RoleID        string
	Nickname      string
	AvatarURL     string
	CustomMessage string
	CreatedAt     time.Time
}

// EndBehavior controls what happens to an announcement message when the stream ends.
type EndBehavior string

const (
	EndDelete  EndBehavior = "delete"
	EndSummary EndBehavior = "summary"
)

// ParseEndBehavior converts a string to an EndBehavior, defaulting to delete.
func ParseEndBehavior(s string) EndBehavior {
	switch s {
	case "summary":
		return EndSummary
	default:
		return EndDelete
	}
}

// GuildSettings holds tenant-wide defaults.
type GuildSettings struct {
	GuildID         string
	AnnounceChannel string
	LiveRoleID      string
	EndBehavior     EndBehavior
	CustomMessage   string
}

// Team groups subscriptions synced from an external roster.
type Team struct {
	ID           uuid.UUID
	GuildID      string
	Platform     Platform
	Name         string
	ChannelID    string
	LiveRoleID   string
	LastSyncedAt *time.Time
}

// SubscriptionView is a subscription joined with everything needed to reconcile it.
type SubscriptionView struct {
	Subscription Subscription
	Streamer     Streamer
	Team         *Team
}

// Target is the resolved delivery channel and live role of a subscription.
type Target struct {
	ChannelID string
	RoleID    string
}

// Resolve applies the override chain: subscription > team > guild default.
func (v SubscriptionView) Resolve(guild GuildSettings) Target {
	var t Target

	t.ChannelID = v.Subscription.ChannelID
	if t.ChannelID == DefaultChannel && v.Team != nil {
		t.ChannelID = v.Team.ChannelID
	}
	if t.ChannelID == DefaultChannel {
		t.ChannelID = guild.AnnounceChannel
	}

	t.RoleID = v.Subscription.RoleID
	if t.RoleID == "" && v.Team != nil {
		t.RoleID = v.Team.LiveRoleID
	}
	if t.RoleID == "" {
		t.RoleID = guild.LiveRoleID
	}

	return t
}

// NewSubscription carries the fields needed to create a subscription row.
type NewSubscription struct {
	GuildID    string
	StreamerID uuid.UUID
	ChannelID  string
	TeamID     *uuid.UUID
}

type SubscriptionRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*SubscriptionView, error)
	ListForReconcile(ctx context.Context) ([]SubscriptionView, error)
	ListByGuildAndUser(ctx context.Context, guildID, discordUserID string) ([]SubscriptionView, error)
	ListByStreamer(ctx context.Context, streamerID uuid.UUID) ([]Subscription, error)
	ListByTeam(ctx context.Context, teamID uuid.UUID) ([]SubscriptionView, error)
	// Create is idempotent on (guild, streamer, channel).
	Create(ctx context.Context, s NewSubscription) (*Subscription, error)
	SetTeam(ctx context.Context, id uuid.UUID, teamID *uuid.UUID) error
	DeleteByStreamer(ctx context.Context, streamerID uuid.UUID) (int64, error)
	// ManagedRoles returns every role id configured at guild, team or subscription level.
	ManagedRoles(ctx context.Context, guildID string) ([]string, error)
	// PurgeRole removes a role reference from every configuration table of the guild.
	PurgeRole(ctx context.Context, guildID, roleID string) error
}

type GuildRepository interface {
	GetSettings(ctx context.Context, guildID string) (*GuildSettings, error)
}

type TeamRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*Team, error)
	List(ctx context.Context) ([]Team, error)
	MarkSynced(ctx context.Context, id uuid.UUID, at time.Time) error
}

// TeamRoster fetches the authoritative member list of an external team.
type TeamRoster interface {
	Members(ctx context.Context, team Team) ([]Identity, error)
}
