package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xXDeath420Xx/livebot/internal/domain"
)

const announcementColumns = `subscription_id, channel_id, streamer_id, guild_id, message_id, platform, title, game, thumbnail_url, viewer_count, created_at, updated_at`

// AnnouncementRepo is the announcement ledger: at most one row per (subscription, channel).
type AnnouncementRepo struct {
	pool *pgxpool.Pool
}

var _ domain.AnnouncementRepository = (*AnnouncementRepo)(nil)

func NewAnnouncementRepo(pool *pgxpool.Pool) *AnnouncementRepo {
	return &AnnouncementRepo{pool: pool}
}

func scanAnnouncement(row pgx.Row, a *domain.Announcement) error {
	var platform string
	if err := row.Scan(&a.SubscriptionID, &a.ChannelID, &a.StreamerID, &a.GuildID, &a.MessageID, &platform,
		&a.Title, &a.Game, &a.ThumbnailURL, &a.ViewerCount, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return err
	}
	a.Platform = domain.Platform(platform)
	return nil
}

func (r *AnnouncementRepo) list(ctx context.Context, what, where string, args ...any) ([]domain.Announcement, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+announcementColumns+` FROM announcements WHERE `+where+` ORDER BY created_at, subscription_id, channel_id`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list announcements %s: %w", what, err)
	}
	defer rows.Close()

	var out []domain.Announcement
	for rows.Next() {
		var a domain.Announcement
		if err := scanAnnouncement(rows, &a); err != nil {
			return nil, fmt.Errorf("failed to scan announcement: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *AnnouncementRepo) List(ctx context.Context) ([]domain.Announcement, error) {
	return r.list(ctx, "", `TRUE`)
}

func (r *AnnouncementRepo) ListBySubscription(ctx context.Context, subscriptionID uuid.UUID) ([]domain.Announcement, error) {
	return r.list(ctx, "by subscription", `subscription_id = $1`, subscriptionID)
}

func (r *AnnouncementRepo) ListByStreamer(ctx context.Context, streamerID uuid.UUID) ([]domain.Announcement, error) {
	return r.list(ctx, "by streamer", `streamer_id = $1`, streamerID)
}

func (r *AnnouncementRepo) Get(ctx context.Context, key domain.AnnouncementKey) (*domain.Announcement, error) {
	var a domain.Announcement
	err := scanAnnouncement(r.pool.QueryRow(ctx, `SELECT `+announcementColumns+` FROM announcements WHERE subscription_id = $1 AND channel_id = $2`,
		key.SubscriptionID, key.ChannelID), &a)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrAnnouncementNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get announcement: %w", err)
	}
	return &a, nil
}

func (r *AnnouncementRepo) Upsert(ctx context.Context, a domain.Announcement) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO announcements (subscription_id, channel_id, streamer_id, guild_id, message_id, platform, title, game, thumbnail_url, viewer_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (subscription_id, channel_id) DO UPDATE SET
			message_id    = EXCLUDED.message_id,
			platform      = EXCLUDED.platform,
			title         = EXCLUDED.title,
			game          = EXCLUDED.game,
			thumbnail_url = EXCLUDED.thumbnail_url,
			viewer_count  = EXCLUDED.viewer_count,
			updated_at    = now()`,
		a.SubscriptionID, a.ChannelID, a.StreamerID, a.GuildID, a.MessageID, string(a.Platform),
		a.Title, a.Game, a.ThumbnailURL, a.ViewerCount)
	if err != nil {
		return fmt.Errorf("failed to upsert announcement: %w", err)
	}
	return nil
}

func (r *AnnouncementRepo) Delete(ctx context.Context, key domain.AnnouncementKey) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM announcements WHERE subscription_id = $1 AND channel_id = $2`, key.SubscriptionID, key.ChannelID); err != nil {
		return fmt.Errorf("failed to delete announcement: %w", err)
	}
	return nil
}

const sessionColumns = `id, subscription_id, streamer_id, guild_id, channel_id, title, peak_viewers, started_at, ended_at`

type SessionRepo struct {
	pool *pgxpool.Pool
}

var _ domain.SessionRepository = (*SessionRepo)(nil)

func NewSessionRepo(pool *pgxpool.Pool) *SessionRepo {
	return &SessionRepo{pool: pool}
}

func scanSession(row pgx.Row) (*domain.StreamSession, error) {
	var s domain.StreamSession
	err := row.Scan(&s.ID, &s.SubscriptionID, &s.StreamerID, &s.GuildID, &s.ChannelID, &s.Title, &s.PeakViewers, &s.StartedAt, &s.EndedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// Open starts a session unless one is already open for the subscription.
func (r *SessionRepo) Open(ctx context.Context, s domain.StreamSession) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO stream_sessions (subscription_id, streamer_id, guild_id, channel_id, title, peak_viewers, started_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (subscription_id) WHERE ended_at IS NULL DO NOTHING`,
		s.SubscriptionID, s.StreamerID, s.GuildID, s.ChannelID, s.Title, s.PeakViewers, s.StartedAt)
	if err != nil {
		return fmt.Errorf("failed to open stream session: %w", err)
	}
	return nil
}

func (r *SessionRepo) TrackViewers(ctx context.Context, subscriptionID uuid.UUID, viewers int) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE stream_sessions SET peak_viewers = GREATEST(peak_viewers, $2)
		WHERE subscription_id = $1 AND ended_at IS NULL`, subscriptionID, viewers)
	if err != nil {
		return fmt.Errorf("failed to track viewers: %w", err)
	}
	return nil
}

func (r *SessionRepo) Close(ctx context.Context, subscriptionID uuid.UUID, at time.Time) (*domain.StreamSession, error) {
	s, err := scanSession(r.pool.QueryRow(ctx, `
		UPDATE stream_sessions SET ended_at = $2
		WHERE subscription_id = $1 AND ended_at IS NULL
		RETURNING `+sessionColumns, subscriptionID, at))
	if err != nil {
		return nil, fmt.Errorf("failed to close stream session: %w", err)
	}
	return s, nil
}

func (r *SessionRepo) CloseByStreamer(ctx context.Context, streamerID uuid.UUID, at time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `UPDATE stream_sessions SET ended_at = $2 WHERE streamer_id = $1 AND ended_at IS NULL`, streamerID, at)
	if err != nil {
		return 0, fmt.Errorf("failed to close stream sessions: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *SessionRepo) Last(ctx context.Context, subscriptionID uuid.UUID) (*domain.StreamSession, error) {
	s, err := scanSession(r.pool.QueryRow(ctx, `
		SELECT `+sessionColumns+` FROM stream_sessions
		WHERE subscription_id = $1 ORDER BY started_at DESC LIMIT 1`, subscriptionID))
	if err != nil {
		return nil, fmt.Errorf("failed to get last stream session: %w", err)
	}
	return s, nil
}
