package twitch

import (
	"context"
	"fmt"
	"strings"

	"github.com/nicklaw5/helix/v2"

	"github.com/xXDeath420Xx/livebot/internal/domain"
)

// Probe reports Twitch liveness.
type Probe struct {
	client *Client
}

var _ domain.Probe = (*Probe)(nil)

func NewProbe(client *Client) *Probe {
	return &Probe{client: client}
}

func (p *Probe) Platform() domain.Platform { return domain.PlatformTwitch }

// IsLive queries by user id when known and by login otherwise. An absent stream is a confirmed offline.
func (p *Probe) IsLive(ctx context.Context, id domain.Identity) (domain.LiveSnapshot, error) {
	stream, err := p.stream(ctx, id)
	if err != nil {
		return domain.LiveSnapshot{}, err
	}
	if stream == nil {
		return domain.Offline(domain.PlatformTwitch), nil
	}

	snap := snapshot(*stream)
	if user, err := p.user(ctx, &helix.UsersParams{IDs: []string{stream.UserID}}); err == nil && user != nil {
		snap.ProfileImageURL = user.ProfileImageURL
	}
	return snap, nil
}

// GetStreamDetails returns nil when the channel is offline.
func (p *Probe) GetStreamDetails(ctx context.Context, id domain.Identity) (*domain.StreamDetails, error) {
	stream, err := p.stream(ctx, id)
	if err != nil || stream == nil {
		return nil, err
	}
	return &domain.StreamDetails{
		LiveSnapshot: snapshot(*stream),
		Language:     stream.Language,
		Tags:         stream.Tags,
		IsMature:     stream.IsMature,
	}, nil
}

func (p *Probe) GetUserIdentity(ctx context.Context, username string) (*domain.Identity, error) {
	login := strings.ToLower(strings.TrimSpace(username))
	user, err := p.user(ctx, &helix.UsersParams{Logins: []string{login}})
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, fmt.Errorf("twitch user %q: %w", login, domain.ErrIdentityNotFound)
	}
	return &domain.Identity{Platform: domain.PlatformTwitch, NativeID: user.ID, Username: user.Login}, nil
}

func (p *Probe) stream(ctx context.Context, id domain.Identity) (*helix.Stream, error) {
	params := &helix.StreamsParams{First: 1}
	if id.NativeID != "" {
		params.UserIDs = []string{id.NativeID}
	} else {
		params.UserLogins = []string{strings.ToLower(id.Username)}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	resp, err := p.client.helix.GetStreams(params)
	if err != nil {
		return nil, fmt.Errorf("helix get streams: %w", err)
	}
	if err := checkResponse("get streams", &resp.ResponseCommon); err != nil {
		return nil, err
	}
	if len(resp.Data.Streams) == 0 {
		return nil, nil
	}
	return &resp.Data.Streams[0], nil
}

func (p *Probe) user(ctx context.Context, params *helix.UsersParams) (*helix.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	resp, err := p.client.helix.GetUsers(params)
	if err != nil {
		return nil, fmt.Errorf("helix get users: %w", err)
	}
	if err := checkResponse("get users", &resp.ResponseCommon); err != nil {
		return nil, err
	}
	if len(resp.Data.Users) == 0 {
		return nil, nil
	}
	return &resp.Data.Users[0], nil
}

func snapshot(s helix.Stream) domain.LiveSnapshot {
	return domain.LiveSnapshot{
		IsLive:       true,
		Title:        s.Title,
		Game:         s.GameName,
		ViewerCount:  s.ViewerCount,
		ThumbnailURL: thumbnail(s.ThumbnailURL),
		StartedAt:    s.StartedAt,
		Username:     s.UserLogin,
		Platform:     domain.PlatformTwitch,
	}
}
