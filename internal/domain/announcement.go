package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// AnnouncementKey identifies the single active announcement of a subscription in a channel.
type AnnouncementKey struct {
	SubscriptionID uuid.UUID
	ChannelID      string
}

// Announcement is the durable record of a posted live notification.
type Announcement struct {
	SubscriptionID uuid.UUID
	StreamerID     uuid.UUID
	GuildID        string
	ChannelID      string
	MessageID      string
	Platform       Platform
	Title          string
	Game           string
	ThumbnailURL   string
	ViewerCount    int
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (a Announcement) Key() AnnouncementKey {
	return AnnouncementKey{SubscriptionID: a.SubscriptionID, ChannelID: a.ChannelID}
}

type AnnouncementRepository interface {
	List(ctx context.Context) ([]Announcement, error)
	ListBySubscription(ctx context.Context, subscriptionID uuid.UUID) ([]Announcement, error)
	ListByStreamer(ctx context.Context, streamerID uuid.UUID) ([]Announcement, error)
	Get(ctx context.Context, key AnnouncementKey) (*Announcement, error)
	Upsert(ctx context.Context, a Announcement) error
	Delete(ctx context.Context, key AnnouncementKey) error
}

// StreamSession records one live period for summary statistics.
type StreamSession struct {
	ID             uuid.UUID
	SubscriptionID uuid.UUID
	StreamerID     uuid.UUID
	GuildID        string
	ChannelID      string
	Title          string
	PeakViewers    int
	StartedAt      time.Time
	EndedAt        *time.Time
}

// Duration returns the session length, using now for open sessions.
func (s StreamSession) Duration(now time.Time) time.Duration {
	end := now
	if s.EndedAt != nil {
		end = *s.EndedAt
	}
	return end.Sub(s.StartedAt)
}

type SessionRepository interface {
	// Open starts a session unless one is already open for the subscription.
	Open(ctx context.Context, s StreamSession) error
	// TrackViewers raises the peak viewer count of the open session.
	TrackViewers(ctx context.Context, subscriptionID uuid.UUID, viewers int) error
	// Close ends the open session and returns it, or nil if none was open.
	Close(ctx context.Context, subscriptionID uuid.UUID, at time.Time) (*StreamSession, error)
	CloseByStreamer(ctx context.Context, streamerID uuid.UUID, at time.Time) (int64, error)
	// Last returns the most recent session of the subscription, open or closed.
	Last(ctx context.Context, subscriptionID uuid.UUID) (*StreamSession, error)
}
