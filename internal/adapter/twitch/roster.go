package twitch

import (
	"context"
	"fmt"

	"github.com/nicklaw5/helix/v2"

	"github.com/xXDeath420Xx/livebot/internal/domain"
)

// Roster reads Twitch team membership.
type Roster struct {
	client *Client
}

var _ domain.TeamRoster = (*Roster)(nil)

func NewRoster(client *Client) *Roster {
	return &Roster{client: client}
}

// Members returns every member of the named team. An unknown team is ErrTeamNotFound.
func (r *Roster) Members(ctx context.Context, team domain.Team) ([]domain.Identity, error) {
	if team.Platform != domain.PlatformTwitch {
		return nil, fmt.Errorf("%w: %s teams", domain.ErrUnsupportedPlatform, team.Platform)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	resp, err := r.client.helix.GetTeams(&helix.GetTeamsParams{Name: team.Name})
	if err != nil {
		return nil, fmt.Errorf("helix get teams: %w", err)
	}
	if resp.StatusCode == 404 || (resp.StatusCode == 200 && len(resp.Data.Teams) == 0) {
		return nil, fmt.Errorf("twitch team %q: %w", team.Name, domain.ErrTeamNotFound)
	}
	if err := checkResponse("get teams", &resp.ResponseCommon); err != nil {
		return nil, err
	}

	users := resp.Data.Teams[0].Users
	members := make([]domain.Identity, 0, len(users))
	for _, u := range users {
		members = append(members, domain.Identity{Platform: domain.PlatformTwitch, NativeID: u.UserID, Username: u.UserLogin})
	}
	return members, nil
}
