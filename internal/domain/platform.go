package domain

import (
	"fmt"
	"strings"
)

// Platform identifies an external livestreaming service.
type Platform string

const (
	PlatformTwitch  Platform = "twitch"
	PlatformKick    Platform = "kick"
	PlatformYouTube Platform = "youtube"
)

// ParsePlatform converts a string to a Platform, rejecting unknown values.
func ParsePlatform(s string) (Platform, error) {
	switch p := Platform(strings.ToLower(strings.TrimSpace(s))); p {
	case PlatformTwitch, PlatformKick, PlatformYouTube:
		return p, nil
	default:
		return "", fmt.Errorf("unknown platform %q", s)
	}
}

func (p Platform) String() string { return string(p) }

// ChannelURL returns the public watch URL for an account on this platform.
func (p Platform) ChannelURL(username, nativeID string) string {
	switch p {
	case PlatformTwitch:
		return "https://www.twitch.tv/" + strings.ToLower(username)
	case PlatformKick:
		return "https://kick.com/" + strings.ToLower(username)
	case PlatformYouTube:
		if nativeID == "" {
			return "https://www.youtube.com/@" + username + "/live"
		}
		return "https://www.youtube.com/channel/" + nativeID + "/live"
	default:
		return ""
	}
}
