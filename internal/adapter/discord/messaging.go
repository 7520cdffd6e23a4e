package discord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/xXDeath420Xx/livebot/internal/adapter/metrics"
	"github.com/xXDeath420Xx/livebot/internal/domain"
)

// webhookName labels the one webhook per channel this bot owns.
const webhookName = "livebot announcements"

// WebhookAPI is the subset of *discordgo.Session the messaging sink calls.
type WebhookAPI interface {
	ChannelWebhooks(channelID string, options ...discordgo.RequestOption) ([]*discordgo.Webhook, error)
	WebhookCreate(channelID, name, avatar string, options ...discordgo.RequestOption) (*discordgo.Webhook, error)
	WebhookExecute(webhookID, token string, wait bool, data *discordgo.WebhookParams, options ...discordgo.RequestOption) (*discordgo.Message, error)
	WebhookMessageEdit(webhookID, token, messageID string, data *discordgo.WebhookEdit, options ...discordgo.RequestOption) (*discordgo.Message, error)
	WebhookMessageDelete(webhookID, token, messageID string, options ...discordgo.RequestOption) error
	ChannelMessageDelete(channelID, messageID string, options ...discordgo.RequestOption) error
}

// MessagingSink posts announcements through a webhook per channel so each message carries the streamer's
// name and avatar. Webhooks are created on demand, persisted by the store and forgotten when Discord
// reports them deleted.
type MessagingSink struct {
	api     WebhookAPI
	store   domain.WebhookStore
	metrics *metrics.DiscordMetrics

	mu       sync.Mutex
	webhooks map[string]domain.Webhook
}

var _ domain.MessagingSink = (*MessagingSink)(nil)

func NewMessagingSink(api WebhookAPI, store domain.WebhookStore, m *metrics.DiscordMetrics) *MessagingSink {
	return &MessagingSink{
		api:      api,
		store:    store,
		metrics:  m,
		webhooks: make(map[string]domain.Webhook),
	}
}

// Send posts a new message. A deleted webhook is replaced once before giving up.
func (s *MessagingSink) Send(ctx context.Context, channelID string, payload domain.MessagePayload) (domain.MessageRef, error) {
	params := &discordgo.WebhookParams{
		Content:         payload.Content,
		Username:        payload.Sender.Name,
		AvatarURL:       payload.Sender.AvatarURL,
		Embeds:          embeds(payload.Embed),
		AllowedMentions: &discordgo.MessageAllowedMentions{Parse: []discordgo.AllowedMentionType{discordgo.AllowedMentionTypeRoles}},
	}

	for attempt := 0; ; attempt++ {
		hook, err := s.webhook(ctx, channelID)
		if err != nil {
			return domain.MessageRef{}, err
		}

		msg, err := s.api.WebhookExecute(hook.ID, hook.Token, true, params, withContext(ctx))
		if err != nil && isUnknownWebhook(err) && attempt == 0 {
			s.forget(ctx, channelID)
			continue
		}
		err = classify(err)
		observe(s.metrics, "send", err)
		if err != nil {
			return domain.MessageRef{}, fmt.Errorf("failed to execute webhook: %w", err)
		}
		return domain.MessageRef{ChannelID: channelID, MessageID: msg.ID}, nil
	}
}

// Edit rewrites a message in place. A message whose posting webhook is unknown or deleted cannot be
// edited and reports ErrMessageNotFound.
func (s *MessagingSink) Edit(ctx context.Context, channelID, messageID string, payload domain.MessagePayload) (domain.MessageRef, error) {
	hook, ok, err := s.known(ctx, channelID)
	if err != nil {
		return domain.MessageRef{}, err
	}
	if !ok {
		return domain.MessageRef{}, fmt.Errorf("no webhook for channel %s: %w", channelID, domain.ErrMessageNotFound)
	}

	content := payload.Content
	list := embeds(payload.Embed)
	if list == nil {
		list = []*discordgo.MessageEmbed{}
	}
	edit := &discordgo.WebhookEdit{Content: &content, Embeds: &list}

	_, err = s.api.WebhookMessageEdit(hook.ID, hook.Token, messageID, edit, withContext(ctx))
	if isUnknownWebhook(err) {
		s.forget(ctx, channelID)
		err = fmt.Errorf("%w: %w", domain.ErrMessageNotFound, err)
	}
	err = classify(err)
	observe(s.metrics, "edit", err)
	if err != nil {
		return domain.MessageRef{}, fmt.Errorf("failed to edit webhook message: %w", err)
	}
	return domain.MessageRef{ChannelID: channelID, MessageID: messageID}, nil
}

// Delete removes a message. Without a usable webhook the bot deletes it directly.
func (s *MessagingSink) Delete(ctx context.Context, channelID, messageID string) error {
	hook, ok, err := s.known(ctx, channelID)
	if err != nil {
		return err
	}

	operation := "delete"
	if ok {
		err = s.api.WebhookMessageDelete(hook.ID, hook.Token, messageID, withContext(ctx))
		if isUnknownWebhook(err) {
			s.forget(ctx, channelID)
			ok = false
		}
	}
	if !ok {
		operation = "delete_as_bot"
		err = s.api.ChannelMessageDelete(channelID, messageID, withContext(ctx))
	}

	err = classify(err)
	observe(s.metrics, operation, err)
	if err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}
	return nil
}

// known returns the channel's webhook from memory or the store without touching Discord.
func (s *MessagingSink) known(ctx context.Context, channelID string) (domain.Webhook, bool, error) {
	s.mu.Lock()
	hook, ok := s.webhooks[channelID]
	s.mu.Unlock()
	if ok {
		return hook, true, nil
	}

	stored, err := s.store.Get(ctx, channelID)
	switch {
	case err == nil:
		s.remember(*stored)
		return *stored, true, nil
	case errors.Is(err, domain.ErrWebhookNotFound):
		return domain.Webhook{}, false, nil
	default:
		return domain.Webhook{}, false, fmt.Errorf("failed to load webhook: %w", err)
	}
}

// webhook returns the channel's known webhook, adopts an existing bot-owned one, or creates one.
func (s *MessagingSink) webhook(ctx context.Context, channelID string) (domain.Webhook, error) {
	hook, ok, err := s.known(ctx, channelID)
	if err != nil || ok {
		return hook, err
	}

	existing, err := s.api.ChannelWebhooks(channelID, withContext(ctx))
	if err != nil {
		err = classify(err)
		observe(s.metrics, "list_webhooks", err)
		return domain.Webhook{}, fmt.Errorf("failed to list webhooks: %w", err)
	}
	for _, w := range existing {
		if w.Name == webhookName && w.Token != "" {
			hook = domain.Webhook{ChannelID: channelID, ID: w.ID, Token: w.Token}
			return hook, s.persist(ctx, hook)
		}
	}

	created, err := s.api.WebhookCreate(channelID, webhookName, "", withContext(ctx))
	err = classify(err)
	observe(s.metrics, "create_webhook", err)
	if err != nil {
		return domain.Webhook{}, fmt.Errorf("failed to create webhook: %w", err)
	}
	if s.metrics != nil {
		s.metrics.WebhooksCreated.Inc()
	}
	slog.InfoContext(ctx, "Created announcement webhook", "channel_id", channelID, "webhook_id", created.ID)

	hook = domain.Webhook{ChannelID: channelID, ID: created.ID, Token: created.Token}
	return hook, s.persist(ctx, hook)
}

func (s *MessagingSink) persist(ctx context.Context, hook domain.Webhook) error {
	s.remember(hook)
	if err := s.store.Save(ctx, hook); err != nil {
		return fmt.Errorf("failed to save webhook: %w", err)
	}
	return nil
}

func (s *MessagingSink) remember(hook domain.Webhook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.webhooks[hook.ChannelID] = hook
}

func (s *MessagingSink) forget(ctx context.Context, channelID string) {
	s.mu.Lock()
	delete(s.webhooks, channelID)
	s.mu.Unlock()

	slog.WarnContext(ctx, "Announcement webhook was deleted, forgetting it", "channel_id", channelID)
	if err := s.store.Delete(ctx, channelID); err != nil {
		slog.WarnContext(ctx, "Failed to delete stored webhook", "channel_id", channelID, "error", err)
	}
}
