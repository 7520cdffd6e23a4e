// Package twitch probes Twitch through Helix with an app access token and reads team rosters.
package twitch

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/nicklaw5/helix/v2"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/xXDeath420Xx/livebot/internal/domain"
)

const (
	defaultTokenURL = "https://id.twitch.tv/oauth2/token"
	requestTimeout  = 10 * time.Second
	thumbnailWidth  = "1280"
	thumbnailHeight = "720"
)

// Config holds the app credentials. TokenURL and APIBaseURL override the Twitch endpoints in tests.
type Config struct {
	ClientID     string
	ClientSecret string
	TokenURL     string
	APIBaseURL   string
}

// Client is a Helix client whose requests carry a client-credentials app token. The token is fetched
// lazily and refreshed by the oauth2 transport.
type Client struct {
	helix *helix.Client
}

// NewClient builds the client on top of base, the shared outbound transport.
func NewClient(cfg Config, base http.RoundTripper) (*Client, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, fmt.Errorf("twitch client id and secret are required")
	}
	tokenURL := cfg.TokenURL
	if tokenURL == "" {
		tokenURL = defaultTokenURL
	}

	cc := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     tokenURL,
		AuthStyle:    oauth2.AuthStyleInParams,
	}
	tokenClient := &http.Client{Transport: base, Timeout: requestTimeout}
	tokenCtx := context.WithValue(context.Background(), oauth2.HTTPClient, tokenClient)

	httpClient := &http.Client{
		Timeout:   requestTimeout,
		Transport: &oauth2.Transport{Source: cc.TokenSource(tokenCtx), Base: base},
	}

	hc, err := helix.NewClient(&helix.Options{
		ClientID:   cfg.ClientID,
		HTTPClient: httpClient,
		APIBaseURL: cfg.APIBaseURL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create helix client: %w", err)
	}
	return &Client{helix: hc}, nil
}

// checkResponse turns a non-2xx Helix reply into an error.
func checkResponse(op string, resp *helix.ResponseCommon) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("helix %s: %w", op, domain.ErrRateLimited)
	}
	return fmt.Errorf("helix %s: status %d: %s", op, resp.StatusCode, resp.ErrorMessage)
}

func thumbnail(url string) string {
	return strings.NewReplacer("{width}", thumbnailWidth, "{height}", thumbnailHeight).Replace(url)
}
