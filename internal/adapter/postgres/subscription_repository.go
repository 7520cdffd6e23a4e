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

const subscriptionColumns = `sub.id, sub.guild_id, sub.streamer_id, sub.channel_id, sub.team_id, sub.role_id, sub.nickname, sub.avatar_url, sub.custom_message, sub.created_at`

// viewQuery joins everything a reconcile needs. Scan order: subscription, streamer, team.
const viewQuery = `SELECT ` + subscriptionColumns + `, ` + streamerColumns + `,
		t.guild_id, t.platform, t.name, t.channel_id, t.live_role_id, t.last_synced_at
	FROM subscriptions sub
	JOIN streamers s ON s.id = sub.streamer_id
	LEFT JOIN teams t ON t.id = sub.team_id`

type SubscriptionRepo struct {
	pool *pgxpool.Pool
}

var _ domain.SubscriptionRepository = (*SubscriptionRepo)(nil)

func NewSubscriptionRepo(pool *pgxpool.Pool) *SubscriptionRepo {
	return &SubscriptionRepo{pool: pool}
}

func subscriptionDest(sub *domain.Subscription) []any {
	return []any{&sub.ID, &sub.GuildID, &sub.StreamerID, &sub.ChannelID, &sub.TeamID, &sub.RoleID, &sub.Nickname, &sub.AvatarURL, &sub.CustomMessage, &sub.CreatedAt}
}

func scanView(row pgx.Row) (domain.SubscriptionView, error) {
	var (
		v    domain.SubscriptionView
		team struct {
			guildID, platform, name, channelID, roleID *string
			lastSynced                                 *time.Time
		}
	)
	streamer := newStreamerScan(&v.Streamer)

	dest := subscriptionDest(&v.Subscription)
	dest = append(dest, streamer.dest()...)
	dest = append(dest, &team.guildID, &team.platform, &team.name, &team.channelID, &team.roleID, &team.lastSynced)
	if err := row.Scan(dest...); err != nil {
		return v, err
	}
	streamer.finish()

	if v.Subscription.TeamID != nil && team.guildID != nil {
		v.Team = &domain.Team{
			ID:           *v.Subscription.TeamID,
			GuildID:      *team.guildID,
			Platform:     domain.Platform(*team.platform),
			Name:         *team.name,
			ChannelID:    *team.channelID,
			LiveRoleID:   *team.roleID,
			LastSyncedAt: team.lastSynced,
		}
	}
	return v, nil
}

func (r *SubscriptionRepo) listViews(ctx context.Context, what, where string, args ...any) ([]domain.SubscriptionView, error) {
	rows, err := r.pool.Query(ctx, viewQuery+` WHERE `+where+` ORDER BY sub.created_at, sub.id`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list subscriptions %s: %w", what, err)
	}
	defer rows.Close()

	var out []domain.SubscriptionView
	for rows.Next() {
		v, err := scanView(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan subscription: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (r *SubscriptionRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.SubscriptionView, error) {
	v, err := scanView(r.pool.QueryRow(ctx, viewQuery+` WHERE sub.id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}
	return &v, nil
}

func (r *SubscriptionRepo) ListForReconcile(ctx context.Context) ([]domain.SubscriptionView, error) {
	return r.listViews(ctx, "for reconcile", `TRUE`)
}

func (r *SubscriptionRepo) ListByGuildAndUser(ctx context.Context, guildID, discordUserID string) ([]domain.SubscriptionView, error) {
	if discordUserID == "" {
		return nil, nil
	}
	return r.listViews(ctx, "by guild and user", `sub.guild_id = $1 AND s.discord_user_id = $2`, guildID, discordUserID)
}

func (r *SubscriptionRepo) ListByTeam(ctx context.Context, teamID uuid.UUID) ([]domain.SubscriptionView, error) {
	return r.listViews(ctx, "by team", `sub.team_id = $1`, teamID)
}

func (r *SubscriptionRepo) ListByStreamer(ctx context.Context, streamerID uuid.UUID) ([]domain.Subscription, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions sub WHERE sub.streamer_id = $1 ORDER BY sub.created_at, sub.id`, streamerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list subscriptions by streamer: %w", err)
	}
	defer rows.Close()

	var out []domain.Subscription
	for rows.Next() {
		var sub domain.Subscription
		if err := rows.Scan(subscriptionDest(&sub)...); err != nil {
			return nil, fmt.Errorf("failed to scan subscription: %w", err)
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

// Create is idempotent on (guild, streamer, channel). An existing row keeps its team unless it had none.
func (r *SubscriptionRepo) Create(ctx context.Context, n domain.NewSubscription) (*domain.Subscription, error) {
	var sub domain.Subscription
	err := r.pool.QueryRow(ctx, `
		INSERT INTO subscriptions AS sub (guild_id, streamer_id, channel_id, team_id)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (guild_id, streamer_id, channel_id) DO UPDATE SET team_id = COALESCE(sub.team_id, EXCLUDED.team_id)
		RETURNING `+subscriptionColumns,
		n.GuildID, n.StreamerID, n.ChannelID, n.TeamID,
	).Scan(subscriptionDest(&sub)...)
	if err != nil {
		return nil, fmt.Errorf("failed to create subscription: %w", err)
	}
	return &sub, nil
}

func (r *SubscriptionRepo) SetTeam(ctx context.Context, id uuid.UUID, teamID *uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `UPDATE subscriptions SET team_id = $2 WHERE id = $1`, id, teamID)
	if err != nil {
		return fmt.Errorf("failed to set subscription team: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrSubscriptionNotFound
	}
	return nil
}

func (r *SubscriptionRepo) DeleteByStreamer(ctx context.Context, streamerID uuid.UUID) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM subscriptions WHERE streamer_id = $1`, streamerID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete subscriptions: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *SubscriptionRepo) ManagedRoles(ctx context.Context, guildID string) ([]string, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT live_role_id FROM guilds WHERE guild_id = $1 AND live_role_id <> ''
		UNION
		SELECT live_role_id FROM teams WHERE guild_id = $1 AND live_role_id <> ''
		UNION
		SELECT role_id FROM subscriptions WHERE guild_id = $1 AND role_id <> ''
		ORDER BY 1`, guildID)
	if err != nil {
		return nil, fmt.Errorf("failed to list managed roles: %w", err)
	}
	roles, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to scan managed roles: %w", err)
	}
	return roles, nil
}

// PurgeRole clears the role from guild, team and subscription configuration in one transaction.
func (r *SubscriptionRepo) PurgeRole(ctx context.Context, guildID, roleID string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	statements := []string{
		`UPDATE guilds SET live_role_id = '', updated_at = now() WHERE guild_id = $1 AND live_role_id = $2`,
		`UPDATE teams SET live_role_id = '' WHERE guild_id = $1 AND live_role_id = $2`,
		`UPDATE subscriptions SET role_id = '' WHERE guild_id = $1 AND role_id = $2`,
	}
	for _, stmt := range statements {
		if _, err := tx.Exec(ctx, stmt, guildID, roleID); err != nil {
			return fmt.Errorf("failed to purge role: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
