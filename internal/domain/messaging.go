package domain

import (
	"context"
	"time"
)

// Sender is the identity a message is posted as. It is never the bot's own identity.
type Sender struct {
	Name      string
	AvatarURL string
}

// Embed is the platform-neutral rich part of an announcement.
type Embed struct {
	Title        string
	URL          string
	Description  string
	Game         string
	ViewerCount  int
	ThumbnailURL string
	StartedAt    time.Time
	Platform     Platform
	Ended        bool
	Footer       string
}

type MessagePayload struct {
	Sender  Sender
	Content string
	Embed   *Embed
}

type MessageRef struct {
	ChannelID string
	MessageID string
}

// MessagingSink delivers announcements. Edit and Delete return ErrMessageNotFound when the message is gone.
type MessagingSink interface {
	Send(ctx context.Context, channelID string, payload MessagePayload) (MessageRef, error)
	Edit(ctx context.Context, channelID, messageID string, payload MessagePayload) (MessageRef, error)
	Delete(ctx context.Context, channelID, messageID string) error
}

// RoleSink mutates guild member roles.
type RoleSink interface {
	MemberRoles(ctx context.Context, guildID, userID string) ([]string, error)
	Add(ctx context.Context, guildID, userID, roleID string) error
	Remove(ctx context.Context, guildID, userID, roleID string) error
	RoleExists(ctx context.Context, guildID, roleID string) (bool, error)
	// IsRoleManageable reports whether the role is below the bot's highest role and not integration-managed.
	IsRoleManageable(ctx context.Context, guildID, roleID string) (bool, error)
}

// Webhook is the branded sender credential of one announcement channel.
type Webhook struct {
	ChannelID string
	ID        string
	Token     string
}

// WebhookStore persists webhook credentials. Get returns ErrWebhookNotFound when none is stored.
type WebhookStore interface {
	Get(ctx context.Context, channelID string) (*Webhook, error)
	Save(ctx context.Context, w Webhook) error
	Delete(ctx context.Context, channelID string) error
}
