package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xXDeath420Xx/livebot/internal/crypto"
	"github.com/xXDeath420Xx/livebot/internal/domain"
)

// WebhookRepo stores webhook credentials with the token sealed at rest.
type WebhookRepo struct {
	pool   *pgxpool.Pool
	crypto crypto.Service
}

var _ domain.WebhookStore = (*WebhookRepo)(nil)

func NewWebhookRepo(pool *pgxpool.Pool, cryptoSvc crypto.Service) *WebhookRepo {
	return &WebhookRepo{pool: pool, crypto: cryptoSvc}
}

func (r *WebhookRepo) Get(ctx context.Context, channelID string) (*domain.Webhook, error) {
	w := domain.Webhook{ChannelID: channelID}
	var sealed string
	err := r.pool.QueryRow(ctx, `SELECT webhook_id, token_encrypted FROM webhooks WHERE channel_id = $1`, channelID).Scan(&w.ID, &sealed)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrWebhookNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get webhook: %w", err)
	}

	w.Token, err = r.crypto.Decrypt(sealed)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt webhook token: %w", err)
	}
	return &w, nil
}

func (r *WebhookRepo) Save(ctx context.Context, w domain.Webhook) error {
	sealed, err := r.crypto.Encrypt(w.Token)
	if err != nil {
		return fmt.Errorf("failed to encrypt webhook token: %w", err)
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO webhooks (channel_id, webhook_id, token_encrypted) VALUES ($1, $2, $3)
		ON CONFLICT (channel_id) DO UPDATE SET webhook_id = EXCLUDED.webhook_id, token_encrypted = EXCLUDED.token_encrypted, created_at = now()`,
		w.ChannelID, w.ID, sealed)
	if err != nil {
		return fmt.Errorf("failed to save webhook: %w", err)
	}
	return nil
}

func (r *WebhookRepo) Delete(ctx context.Context, channelID string) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM webhooks WHERE channel_id = $1`, channelID); err != nil {
		return fmt.Errorf("failed to delete webhook: %w", err)
	}
	return nil
}
