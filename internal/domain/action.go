package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ActionKind is the side effect a job applies.
type ActionKind string

const (
	ActionCreateAnnouncement ActionKind = "create-announcement"
	ActionUpdateAnnouncement ActionKind = "update-announcement"
	ActionEndAnnouncement    ActionKind = "end-announcement"
	ActionSyncRoles          ActionKind = "sync-roles"
)

// ActionClass groups kinds that share a dedupe slot.
type ActionClass string

const (
	ClassAnnouncement ActionClass = "announcement"
	ClassRoles        ActionClass = "roles"
)

func (k ActionKind) Class() ActionClass {
	if k == ActionSyncRoles {
		return ClassRoles
	}
	return ClassAnnouncement
}

// ActionKey is the dedupe key: at most one pending or in-flight job exists per key.
type ActionKey struct {
	Class          ActionClass
	SubscriptionID uuid.UUID
}

// String renders the queue key, e.g. "announcement-<subscriptionId>".
func (k ActionKey) String() string {
	return string(k.Class) + "-" + k.SubscriptionID.String()
}

// Action is a queued, idempotent side effect.
type Action struct {
	Kind           ActionKind   `json:"kind"`
	SubscriptionID uuid.UUID    `json:"subscription_id"`
	StreamerID     uuid.UUID    `json:"streamer_id"`
	GuildID        string       `json:"guild_id"`
	ChannelID      string       `json:"channel_id,omitempty"`
	RoleID         string       `json:"role_id,omitempty"`
	DiscordUserID  string       `json:"discord_user_id,omitempty"`
	Snapshot       LiveSnapshot `json:"snapshot"`

	Seq        int64     `json:"seq"`
	Attempts   int       `json:"attempts"`
	EnqueuedAt time.Time `json:"enqueued_at"`
	LastError  string    `json:"last_error,omitempty"`
}

func (a Action) Key() ActionKey {
	return ActionKey{Class: a.Kind.Class(), SubscriptionID: a.SubscriptionID}
}

// DeadLetter is a job that exhausted its attempts.
type DeadLetter struct {
	Action   Action    `json:"action"`
	Error    string    `json:"error"`
	FailedAt time.Time `json:"failed_at"`
}

// ActionQueue is a durable at-least-once queue keyed by ActionKey.
type ActionQueue interface {
	// Enqueue stores the action, replacing any pending job with the same key.
	Enqueue(ctx context.Context, a Action) error
	// PendingKinds returns the kind of the pending or in-flight job for each key that has one.
	PendingKinds(ctx context.Context, keys []ActionKey) (map[ActionKey]ActionKind, error)
	// Claim leases the next ready job whose key is not already in flight. It returns nil when idle.
	Claim(ctx context.Context, lease time.Duration) (*Action, error)
	Ack(ctx context.Context, a Action) error
	Retry(ctx context.Context, a Action, runAt time.Time) error
	DeadLetter(ctx context.Context, a Action, cause error) error
	// RequeueExpired returns jobs with an expired lease to the ready set.
	RequeueExpired(ctx context.Context) (int, error)
	DeadLetters(ctx context.Context, limit int) ([]DeadLetter, error)
}
