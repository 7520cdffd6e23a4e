// Package discord delivers announcements through per-channel webhooks and manages member roles with the
// bot session.
package discord

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/bwmarrin/discordgo"

	"github.com/xXDeath420Xx/livebot/internal/adapter/metrics"
	"github.com/xXDeath420Xx/livebot/internal/domain"
)

// NewSession creates a REST-only bot session. Rate limits surface as errors so the action queue can back
// off instead of blocking a worker.
func NewSession(token string) (*discordgo.Session, error) {
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("failed to create Discord session: %w", err)
	}
	s.ShouldRetryOnRateLimit = false
	s.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildMembers
	return s, nil
}

// classify maps a discordgo error onto the domain error taxonomy, keeping the original as the cause.
func classify(err error) error {
	if err == nil {
		return nil
	}

	var rl *discordgo.RateLimitError
	if errors.As(err, &rl) {
		return fmt.Errorf("%w: %w", domain.ErrRateLimited, err)
	}

	var rest *discordgo.RESTError
	if !errors.As(err, &rest) {
		return err
	}

	if rest.Message != nil {
		switch rest.Message.Code {
		case discordgo.ErrCodeUnknownMessage:
			return fmt.Errorf("%w: %w", domain.ErrMessageNotFound, err)
		case discordgo.ErrCodeUnknownChannel:
			return fmt.Errorf("%w: %w", domain.ErrNoChannel, err)
		case discordgo.ErrCodeMissingPermissions, discordgo.ErrCodeMissingAccess:
			return fmt.Errorf("%w: %w", domain.ErrPermissionDenied, err)
		}
	}

	if rest.Response != nil {
		switch rest.Response.StatusCode {
		case http.StatusForbidden:
			return fmt.Errorf("%w: %w", domain.ErrPermissionDenied, err)
		case http.StatusTooManyRequests:
			return fmt.Errorf("%w: %w", domain.ErrRateLimited, err)
		case http.StatusNotFound:
			return fmt.Errorf("%w: %w", domain.ErrMessageNotFound, err)
		}
	}
	return err
}

// isUnknownWebhook reports whether the webhook behind a call was deleted.
func isUnknownWebhook(err error) bool {
	return isCode(err, discordgo.ErrCodeUnknownWebhook)
}

func observe(m *metrics.DiscordMetrics, operation string, err error) {
	if m == nil {
		return
	}
	outcome := "success"
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrRateLimited):
		outcome = "rate_limited"
	case errors.Is(err, domain.ErrPermissionDenied):
		outcome = "forbidden"
	case errors.Is(err, domain.ErrMessageNotFound):
		outcome = "not_found"
	default:
		outcome = "error"
	}
	m.Requests.WithLabelValues(operation, outcome).Inc()
}

func withContext(ctx context.Context) discordgo.RequestOption {
	return discordgo.WithContext(ctx)
}
