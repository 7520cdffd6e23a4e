package domain

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
)

// IdentityKey is the composite cache/map key for an external account. Exactly one of NativeID and Login
// is set: Login is only used for alternate-platform hints whose native id has not been resolved yet.
type IdentityKey struct {
	Platform Platform
	NativeID string
	Login    string
}

// Identity is what a Probe needs to look an account up.
type Identity struct {
	Platform Platform
	NativeID string
	Username string
}

// Key returns the composite key, preferring the stable native id.
func (i Identity) Key() IdentityKey {
	if i.NativeID != "" {
		return IdentityKey{Platform: i.Platform, NativeID: i.NativeID}
	}
	return IdentityKey{Platform: i.Platform, Login: strings.ToLower(i.Username)}
}

// Streamer is one row per (platform, native id).
type Streamer struct {
	ID            uuid.UUID
	Platform      Platform
	NativeID      string
	Username      string
	DiscordUserID string
	AvatarURL     string
	AvatarSource  Platform
	// AltUsernames holds known handles of the same human on other platforms.
	AltUsernames map[Platform]string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (s Streamer) Identity() Identity {
	return Identity{Platform: s.Platform, NativeID: s.NativeID, Username: s.Username}
}

func (s Streamer) Key() IdentityKey { return s.Identity().Key() }

// URL returns the public watch URL.
func (s Streamer) URL() string { return s.Platform.ChannelURL(s.Username, s.NativeID) }

// StreamerPatch is a partial update. Nil fields are left untouched.
type StreamerPatch struct {
	Username      *string
	DiscordUserID *string
	AvatarURL     *string
	AvatarSource  *Platform
	AltUsernames  map[Platform]string
}

func (p StreamerPatch) IsEmpty() bool {
	return p.Username == nil && p.DiscordUserID == nil && p.AvatarURL == nil && p.AvatarSource == nil && len(p.AltUsernames) == 0
}

// NewStreamer carries the fields needed to create a streamer row.
type NewStreamer struct {
	Platform      Platform
	NativeID      string
	Username      string
	DiscordUserID string
	AvatarURL     string
}

type StreamerRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*Streamer, error)
	GetByKey(ctx context.Context, platform Platform, nativeID string) (*Streamer, error)
	FindByUsername(ctx context.Context, platform Platform, username string) (*Streamer, error)
	ListByDiscordUser(ctx context.Context, discordUserID string) ([]Streamer, error)
	// Upsert creates the row or refreshes its username, returning the stored streamer.
	Upsert(ctx context.Context, s NewStreamer) (*Streamer, error)
	ApplyPatch(ctx context.Context, id uuid.UUID, patch StreamerPatch) error
	Delete(ctx context.Context, id uuid.UUID) error
}

// Blacklist excludes identities from being (re)added by automated flows.
type Blacklist interface {
	IsBlacklisted(ctx context.Context, platform Platform, nativeID string) (bool, error)
	Add(ctx context.Context, platform Platform, nativeID, reason string) error
}
