package domain

import (
	"context"
	"time"
)

// LiveSnapshot is a probe result. It is never persisted beyond the liveness cache TTL.
type LiveSnapshot struct {
	IsLive          bool      `json:"is_live"`
	Title           string    `json:"title,omitempty"`
	Game            string    `json:"game,omitempty"`
	ViewerCount     int       `json:"viewer_count,omitempty"`
	ThumbnailURL    string    `json:"thumbnail_url,omitempty"`
	StartedAt       time.Time `json:"started_at,omitzero"`
	ProfileImageURL string    `json:"profile_image_url,omitempty"`
	Username        string    `json:"username,omitempty"`
	Platform        Platform  `json:"platform"`
}

// Offline is the confirmed not-live snapshot.
func Offline(p Platform) LiveSnapshot { return LiveSnapshot{Platform: p} }

// SameDisplay reports whether two snapshots would render the same announcement.
func (s LiveSnapshot) SameDisplay(title, game, thumbnail string, viewers int) bool {
	return s.Title == title && s.Game == game && s.ThumbnailURL == thumbnail && s.ViewerCount == viewers
}

// StreamDetails is the richer, non-cached description of a live stream.
type StreamDetails struct {
	LiveSnapshot
	Language string
	Tags     []string
	IsMature bool
}

// Probe is a per-platform adapter.
//
// IsLive must not return an error for "offline" and returns ErrIdentityNotFound for unknown accounts;
// any other error is a transport-level failure.
type Probe interface {
	Platform() Platform
	IsLive(ctx context.Context, id Identity) (LiveSnapshot, error)
	GetStreamDetails(ctx context.Context, id Identity) (*StreamDetails, error)
	GetUserIdentity(ctx context.Context, username string) (*Identity, error)
}

// LiveStatus is the last confirmed observation of an identity.
type LiveStatus struct {
	Live       bool
	ObservedAt time.Time
}

// LiveStatusStore records confirmed live/offline observations for role desire computation.
type LiveStatusStore interface {
	Record(ctx context.Context, key IdentityKey, status LiveStatus) error
	Get(ctx context.Context, key IdentityKey) (LiveStatus, bool, error)
}
