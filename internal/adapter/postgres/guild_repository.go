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

type GuildRepo struct {
	pool *pgxpool.Pool
}

var _ domain.GuildRepository = (*GuildRepo)(nil)

func NewGuildRepo(pool *pgxpool.Pool) *GuildRepo {
	return &GuildRepo{pool: pool}
}

func (r *GuildRepo) GetSettings(ctx context.Context, guildID string) (*domain.GuildSettings, error) {
	g := domain.GuildSettings{GuildID: guildID}
	var endBehavior string
	err := r.pool.QueryRow(ctx, `
		SELECT announce_channel_id, live_role_id, end_behavior, custom_message
		FROM guilds WHERE guild_id = $1`, guildID,
	).Scan(&g.AnnounceChannel, &g.LiveRoleID, &endBehavior, &g.CustomMessage)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrGuildNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get guild settings: %w", err)
	}
	g.EndBehavior = domain.ParseEndBehavior(endBehavior)
	return &g, nil
}

// Upsert writes the guild defaults.
func (r *GuildRepo) Upsert(ctx context.Context, g domain.GuildSettings) error {
	endBehavior := g.EndBehavior
	if endBehavior == "" {
		endBehavior = domain.EndDelete
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO guilds (guild_id, announce_channel_id, live_role_id, end_behavior, custom_message)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (guild_id) DO UPDATE SET
			announce_channel_id = EXCLUDED.announce_channel_id,
			live_role_id        = EXCLUDED.live_role_id,
			end_behavior        = EXCLUDED.end_behavior,
			custom_message      = EXCLUDED.custom_message,
			updated_at          = now()`,
		g.GuildID, g.AnnounceChannel, g.LiveRoleID, string(endBehavior), g.CustomMessage)
	if err != nil {
		return fmt.Errorf("failed to upsert guild settings: %w", err)
	}
	return nil
}

const teamColumns = `id, guild_id, platform, name, channel_id, live_role_id, last_synced_at`

type TeamRepo struct {
	pool *pgxpool.Pool
}

var _ domain.TeamRepository = (*TeamRepo)(nil)

func NewTeamRepo(pool *pgxpool.Pool) *TeamRepo {
	return &TeamRepo{pool: pool}
}

func scanTeam(row pgx.Row, t *domain.Team) error {
	var platform string
	if err := row.Scan(&t.ID, &t.GuildID, &platform, &t.Name, &t.ChannelID, &t.LiveRoleID, &t.LastSyncedAt); err != nil {
		return err
	}
	t.Platform = domain.Platform(platform)
	return nil
}

func (r *TeamRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Team, error) {
	var t domain.Team
	err := scanTeam(r.pool.QueryRow(ctx, `SELECT `+teamColumns+` FROM teams WHERE id = $1`, id), &t)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrTeamNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get team: %w", err)
	}
	return &t, nil
}

func (r *TeamRepo) List(ctx context.Context) ([]domain.Team, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+teamColumns+` FROM teams ORDER BY guild_id, name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list teams: %w", err)
	}
	defer rows.Close()

	var out []domain.Team
	for rows.Next() {
		var t domain.Team
		if err := scanTeam(rows, &t); err != nil {
			return nil, fmt.Errorf("failed to scan team: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Create registers a team roster binding for a guild.
func (r *TeamRepo) Create(ctx context.Context, t domain.Team) (*domain.Team, error) {
	var out domain.Team
	err := scanTeam(r.pool.QueryRow(ctx, `
		INSERT INTO teams (guild_id, platform, name, channel_id, live_role_id)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+teamColumns,
		t.GuildID, string(t.Platform), t.Name, t.ChannelID, t.LiveRoleID), &out)
	if err != nil {
		return nil, fmt.Errorf("failed to create team: %w", err)
	}
	return &out, nil
}

func (r *TeamRepo) MarkSynced(ctx context.Context, id uuid.UUID, at time.Time) error {
	tag, err := r.pool.Exec(ctx, `UPDATE teams SET last_synced_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("failed to mark team synced: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrTeamNotFound
	}
	return nil
}
