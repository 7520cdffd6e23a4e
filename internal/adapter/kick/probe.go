// Package kick probes Kick channels through the public channel endpoint.
package kick

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/xXDeath420Xx/livebot/internal/domain"
)

const (
	defaultBaseURL = "https://kick.com"
	requestTimeout = 10 * time.Second
	startTimeForm  = "2006-01-02 15:04:05"
)

type channelResponse struct {
	ID     int64  `json:"id"`
	UserID int64  `json:"user_id"`
	Slug   string `json:"slug"`
	User   struct {
		Username   string `json:"username"`
		ProfilePic string `json:"profile_pic"`
	} `json:"user"`
	Livestream *struct {
		SessionTitle string `json:"session_title"`
		IsLive       bool   `json:"is_live"`
		IsMature     bool   `json:"is_mature"`
		Language     string `json:"language"`
		ViewerCount  int    `json:"viewer_count"`
		StartTime    string `json:"start_time"`
		Thumbnail    *struct {
			URL string `json:"url"`
		} `json:"thumbnail"`
		Categories []struct {
			Name string `json:"name"`
		} `json:"categories"`
		Tags []string `json:"tags"`
	} `json:"livestream"`
}

// Probe reports Kick liveness. Kick ids are channel slugs, so NativeID and the login coincide.
type Probe struct {
	baseURL string
	http    *http.Client
}

var _ domain.Probe = (*Probe)(nil)

// NewProbe creates the probe. baseURL overrides kick.com in tests and may be empty.
func NewProbe(baseURL string, base http.RoundTripper) *Probe {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Probe{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Transport: base, Timeout: requestTimeout},
	}
}

func (p *Probe) Platform() domain.Platform { return domain.PlatformKick }

// IsLive returns ErrIdentityNotFound for unknown slugs.
func (p *Probe) IsLive(ctx context.Context, id domain.Identity) (domain.LiveSnapshot, error) {
	ch, err := p.fetch(ctx, slugOf(id))
	if err != nil {
		return domain.LiveSnapshot{}, err
	}
	return snapshot(ch), nil
}

// GetStreamDetails returns nil when the channel is offline.
func (p *Probe) GetStreamDetails(ctx context.Context, id domain.Identity) (*domain.StreamDetails, error) {
	ch, err := p.fetch(ctx, slugOf(id))
	if err != nil {
		return nil, err
	}
	snap := snapshot(ch)
	if !snap.IsLive {
		return nil, nil
	}
	return &domain.StreamDetails{
		LiveSnapshot: snap,
		Language:     ch.Livestream.Language,
		Tags:         ch.Livestream.Tags,
		IsMature:     ch.Livestream.IsMature,
	}, nil
}

func (p *Probe) GetUserIdentity(ctx context.Context, username string) (*domain.Identity, error) {
	ch, err := p.fetch(ctx, normalize(username))
	if err != nil {
		return nil, err
	}
	return &domain.Identity{Platform: domain.PlatformKick, NativeID: ch.Slug, Username: ch.Slug}, nil
}

func (p *Probe) fetch(ctx context.Context, slug string) (*channelResponse, error) {
	if slug == "" {
		return nil, fmt.Errorf("empty kick slug: %w", domain.ErrIdentityNotFound)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/api/v2/channels/"+url.PathEscape(slug), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build kick request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("kick channel request: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("Failed to close response body", "error", err)
		}
	}()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, fmt.Errorf("kick channel %q: %w", slug, domain.ErrIdentityNotFound)
	case http.StatusTooManyRequests:
		return nil, fmt.Errorf("kick channel %q: %w", slug, domain.ErrRateLimited)
	default:
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("kick channel %q: status %d: %s", slug, resp.StatusCode, strings.TrimSpace(string(b)))
	}

	var ch channelResponse
	if err := json.NewDecoder(resp.Body).Decode(&ch); err != nil {
		return nil, fmt.Errorf("failed to decode kick channel: %w", err)
	}
	if ch.Slug == "" {
		ch.Slug = slug
	}
	return &ch, nil
}

func snapshot(ch *channelResponse) domain.LiveSnapshot {
	ls := ch.Livestream
	if ls == nil || !ls.IsLive {
		return domain.Offline(domain.PlatformKick)
	}

	snap := domain.LiveSnapshot{
		IsLive:          true,
		Title:           ls.SessionTitle,
		ViewerCount:     ls.ViewerCount,
		ProfileImageURL: ch.User.ProfilePic,
		Username:        ch.Slug,
		Platform:        domain.PlatformKick,
	}
	if len(ls.Categories) > 0 {
		snap.Game = ls.Categories[0].Name
	}
	if ls.Thumbnail != nil {
		snap.ThumbnailURL = ls.Thumbnail.URL
	}
	if t, err := time.ParseInLocation(startTimeForm, ls.StartTime, time.UTC); err == nil {
		snap.StartedAt = t
	}
	return snap
}

func slugOf(id domain.Identity) string {
	if id.NativeID != "" {
		return normalize(id.NativeID)
	}
	return normalize(id.Username)
}

// normalize maps a display name to its slug: lower case, underscores become dashes.
func normalize(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "_", "-")
}
