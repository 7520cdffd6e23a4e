// Package youtube probes YouTube channels through the Data API v3 with an API key.
package youtube

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"google.golang.org/api/googleapi"
	"google.golang.org/api/googleapi/transport"
	"google.golang.org/api/option"
	yt "google.golang.org/api/youtube/v3"

	"github.com/xXDeath420Xx/livebot/internal/domain"
)

const requestTimeout = 10 * time.Second

// Probe reports YouTube liveness. A live check costs a search call plus a videos call, so the liveness
// cache TTL matters more here than on the other platforms.
type Probe struct {
	svc *yt.Service
}

var _ domain.Probe = (*Probe)(nil)

// NewProbe creates the probe. endpoint overrides the API root in tests and may be empty.
func NewProbe(ctx context.Context, apiKey, endpoint string, base http.RoundTripper) (*Probe, error) {
	if apiKey == "" {
		return nil, errors.New("youtube api key is required")
	}
	client := &http.Client{
		Timeout:   requestTimeout,
		Transport: &transport.APIKey{Key: apiKey, Transport: base},
	}

	opts := []option.ClientOption{option.WithHTTPClient(client)}
	if endpoint != "" {
		opts = append(opts, option.WithEndpoint(endpoint))
	}
	svc, err := yt.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create youtube service: %w", err)
	}
	return &Probe{svc: svc}, nil
}

func (p *Probe) Platform() domain.Platform { return domain.PlatformYouTube }

func (p *Probe) IsLive(ctx context.Context, id domain.Identity) (domain.LiveSnapshot, error) {
	video, err := p.liveVideo(ctx, id)
	if err != nil {
		return domain.LiveSnapshot{}, err
	}
	if video == nil {
		return domain.Offline(domain.PlatformYouTube), nil
	}
	return snapshot(video), nil
}

// GetStreamDetails returns nil when the channel is offline.
func (p *Probe) GetStreamDetails(ctx context.Context, id domain.Identity) (*domain.StreamDetails, error) {
	video, err := p.liveVideo(ctx, id)
	if err != nil || video == nil {
		return nil, err
	}
	details := &domain.StreamDetails{LiveSnapshot: snapshot(video)}
	if video.Snippet != nil {
		details.Language = video.Snippet.DefaultAudioLanguage
		details.Tags = video.Snippet.Tags
	}
	if video.ContentDetails != nil && video.ContentDetails.ContentRating != nil {
		details.IsMature = video.ContentDetails.ContentRating.YtRating == "ytAgeRestricted"
	}
	return details, nil
}

// GetUserIdentity resolves a channel id (UC...) or an @handle to the channel.
func (p *Probe) GetUserIdentity(ctx context.Context, username string) (*domain.Identity, error) {
	ch, err := p.channel(ctx, username)
	if err != nil {
		return nil, err
	}

	handle := strings.TrimPrefix(strings.TrimSpace(username), "@")
	if ch.Snippet != nil && ch.Snippet.CustomUrl != "" {
		handle = strings.TrimPrefix(ch.Snippet.CustomUrl, "@")
	}
	return &domain.Identity{Platform: domain.PlatformYouTube, NativeID: ch.Id, Username: handle}, nil
}

func (p *Probe) channel(ctx context.Context, username string) (*yt.Channel, error) {
	name := strings.TrimSpace(username)
	call := p.svc.Channels.List([]string{"id", "snippet"}).Context(ctx)
	if isChannelID(name) {
		call = call.Id(name)
	} else {
		call = call.ForHandle(strings.TrimPrefix(name, "@"))
	}

	resp, err := call.Do()
	if err != nil {
		return nil, classify("channels.list", err)
	}
	if len(resp.Items) == 0 {
		return nil, fmt.Errorf("youtube channel %q: %w", name, domain.ErrIdentityNotFound)
	}
	return resp.Items[0], nil
}

// liveVideo returns the channel's current live broadcast or nil.
func (p *Probe) liveVideo(ctx context.Context, id domain.Identity) (*yt.Video, error) {
	channelID := id.NativeID
	if channelID == "" {
		ch, err := p.channel(ctx, id.Username)
		if err != nil {
			return nil, err
		}
		channelID = ch.Id
	}

	search, err := p.svc.Search.List([]string{"id"}).
		ChannelId(channelID).
		EventType("live").
		Type("video").
		MaxResults(1).
		Context(ctx).
		Do()
	if err != nil {
		return nil, classify("search.list", err)
	}
	if len(search.Items) == 0 || search.Items[0].Id == nil || search.Items[0].Id.VideoId == "" {
		return nil, nil
	}

	videos, err := p.svc.Videos.List([]string{"snippet", "liveStreamingDetails", "contentDetails"}).
		Id(search.Items[0].Id.VideoId).
		Context(ctx).
		Do()
	if err != nil {
		return nil, classify("videos.list", err)
	}
	if len(videos.Items) == 0 {
		return nil, nil
	}

	video := videos.Items[0]
	// Search results lag; a broadcast that already ended still carries an end time.
	if d := video.LiveStreamingDetails; d != nil && d.ActualEndTime != "" {
		return nil, nil
	}
	return video, nil
}

func snapshot(v *yt.Video) domain.LiveSnapshot {
	snap := domain.LiveSnapshot{IsLive: true, Platform: domain.PlatformYouTube}
	if s := v.Snippet; s != nil {
		snap.Title = s.Title
		snap.Username = s.ChannelTitle
		snap.ThumbnailURL = bestThumbnail(s.Thumbnails)
	}
	if d := v.LiveStreamingDetails; d != nil {
		snap.ViewerCount = int(d.ConcurrentViewers)
		if t, err := time.Parse(time.RFC3339, d.ActualStartTime); err == nil {
			snap.StartedAt = t
		}
	}
	return snap
}

func bestThumbnail(t *yt.ThumbnailDetails) string {
	if t == nil {
		return ""
	}
	for _, th := range []*yt.Thumbnail{t.Maxres, t.Standard, t.High, t.Medium, t.Default} {
		if th != nil && th.Url != "" {
			return th.Url
		}
	}
	return ""
}

func isChannelID(s string) bool {
	return len(s) == 24 && strings.HasPrefix(s, "UC")
}

// classify marks quota exhaustion as a rate limit.
func classify(op string, err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		if gerr.Code == http.StatusTooManyRequests {
			return fmt.Errorf("youtube %s: %w: %w", op, domain.ErrRateLimited, err)
		}
		for _, item := range gerr.Errors {
			if item.Reason == "quotaExceeded" || item.Reason == "rateLimitExceeded" {
				return fmt.Errorf("youtube %s: %w: %w", op, domain.ErrRateLimited, err)
			}
		}
	}
	return fmt.Errorf("youtube %s: %w", op, err)
}
