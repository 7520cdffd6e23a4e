package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xXDeath420Xx/livebot/internal/domain"
)

// streamerColumns must match the Scan order in scanStreamer.
const streamerColumns = `s.id, s.platform, s.native_id, s.username, s.discord_user_id, s.avatar_url, s.avatar_source, s.alt_usernames, s.created_at, s.updated_at`

type StreamerRepo struct {
	pool *pgxpool.Pool
}

var _ domain.StreamerRepository = (*StreamerRepo)(nil)

func NewStreamerRepo(pool *pgxpool.Pool) *StreamerRepo {
	return &StreamerRepo{pool: pool}
}

// streamerScan collects the columns of streamerColumns so they can be scanned alongside other columns.
type streamerScan struct {
	s            *domain.Streamer
	platform     string
	avatarSource string
	alts         map[domain.Platform]string
}

func newStreamerScan(s *domain.Streamer) *streamerScan {
	return &streamerScan{s: s}
}

func (d *streamerScan) dest() []any {
	return []any{&d.s.ID, &d.platform, &d.s.NativeID, &d.s.Username, &d.s.DiscordUserID, &d.s.AvatarURL, &d.avatarSource, &d.alts, &d.s.CreatedAt, &d.s.UpdatedAt}
}

func (d *streamerScan) finish() {
	d.s.Platform = domain.Platform(d.platform)
	d.s.AvatarSource = domain.Platform(d.avatarSource)
	if len(d.alts) > 0 {
		d.s.AltUsernames = d.alts
	}
}

func scanStreamer(row pgx.Row, s *domain.Streamer) error {
	d := newStreamerScan(s)
	if err := row.Scan(d.dest()...); err != nil {
		return err
	}
	d.finish()
	return nil
}

func (r *StreamerRepo) getOne(ctx context.Context, what, where string, args ...any) (*domain.Streamer, error) {
	var s domain.Streamer
	err := scanStreamer(r.pool.QueryRow(ctx, `SELECT `+streamerColumns+` FROM streamers s WHERE `+where, args...), &s)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrStreamerNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get streamer by %s: %w", what, err)
	}
	return &s, nil
}

func (r *StreamerRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Streamer, error) {
	return r.getOne(ctx, "id", `s.id = $1`, id)
}

func (r *StreamerRepo) GetByKey(ctx context.Context, platform domain.Platform, nativeID string) (*domain.Streamer, error) {
	return r.getOne(ctx, "key", `s.platform = $1 AND s.native_id = $2`, string(platform), nativeID)
}

// FindByUsername matches case-insensitively. Usernames are hints for lookups only, never join keys.
func (r *StreamerRepo) FindByUsername(ctx context.Context, platform domain.Platform, username string) (*domain.Streamer, error) {
	return r.getOne(ctx, "username", `s.platform = $1 AND lower(s.username) = lower($2) ORDER BY s.updated_at DESC LIMIT 1`, string(platform), username)
}

func (r *StreamerRepo) ListByDiscordUser(ctx context.Context, discordUserID string) ([]domain.Streamer, error) {
	if discordUserID == "" {
		return nil, nil
	}
	rows, err := r.pool.Query(ctx, `SELECT `+streamerColumns+` FROM streamers s WHERE s.discord_user_id = $1 ORDER BY s.id`, discordUserID)
	if err != nil {
		return nil, fmt.Errorf("failed to list streamers by discord user: %w", err)
	}
	defer rows.Close()

	var out []domain.Streamer
	for rows.Next() {
		var s domain.Streamer
		if err := scanStreamer(rows, &s); err != nil {
			return nil, fmt.Errorf("failed to scan streamer: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Upsert inserts the identity or refreshes its username. Discord link and avatar are only filled when
// empty; overwriting them is ApplyPatch's job.
func (r *StreamerRepo) Upsert(ctx context.Context, n domain.NewStreamer) (*domain.Streamer, error) {
	avatarSource := ""
	if n.AvatarURL != "" {
		avatarSource = string(n.Platform)
	}

	var s domain.Streamer
	err := scanStreamer(r.pool.QueryRow(ctx, `
		INSERT INTO streamers AS s (platform, native_id, username, discord_user_id, avatar_url, avatar_source)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (platform, native_id) DO UPDATE SET
			username        = EXCLUDED.username,
			discord_user_id = CASE WHEN s.discord_user_id = '' THEN EXCLUDED.discord_user_id ELSE s.discord_user_id END,
			avatar_url      = CASE WHEN s.avatar_url = '' THEN EXCLUDED.avatar_url ELSE s.avatar_url END,
			avatar_source   = CASE WHEN s.avatar_url = '' THEN EXCLUDED.avatar_source ELSE s.avatar_source END,
			updated_at      = now()
		RETURNING `+streamerColumns,
		string(n.Platform), n.NativeID, n.Username, n.DiscordUserID, n.AvatarURL, avatarSource,
	), &s)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert streamer: %w", err)
	}
	return &s, nil
}

func (r *StreamerRepo) ApplyPatch(ctx context.Context, id uuid.UUID, patch domain.StreamerPatch) error {
	sql, args, ok, err := buildStreamerPatch(id, patch)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	tag, err := r.pool.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("failed to patch streamer: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrStreamerNotFound
	}
	return nil
}

// Delete removes the streamer. Subscriptions cascade.
func (r *StreamerRepo) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM streamers WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete streamer: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrStreamerNotFound
	}
	return nil
}

// BlacklistRepo implements domain.Blacklist.
type BlacklistRepo struct {
	pool *pgxpool.Pool
}

var _ domain.Blacklist = (*BlacklistRepo)(nil)

func NewBlacklistRepo(pool *pgxpool.Pool) *BlacklistRepo {
	return &BlacklistRepo{pool: pool}
}

func (r *BlacklistRepo) IsBlacklisted(ctx context.Context, platform domain.Platform, nativeID string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM blacklist WHERE platform = $1 AND native_id = $2)`, string(platform), nativeID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check blacklist: %w", err)
	}
	return exists, nil
}

func (r *BlacklistRepo) Add(ctx context.Context, platform domain.Platform, nativeID, reason string) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO blacklist (platform, native_id, reason) VALUES ($1, $2, $3)
		ON CONFLICT (platform, native_id) DO UPDATE SET reason = EXCLUDED.reason`,
		string(platform), nativeID, reason)
	if err != nil {
		return fmt.Errorf("failed to add to blacklist: %w", err)
	}
	return nil
}
