package worker

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/xXDeath420Xx/livebot/internal/domain"
)

// DefaultMessage is used when neither the subscription nor the guild configures a message.
const DefaultMessage = "{username} is now live on {platform}! {url}"

// Render fills the placeholders of a custom message template.
func Render(template string, v domain.SubscriptionView, snap domain.LiveSnapshot, roleID string) string {
	if strings.TrimSpace(template) == "" {
		template = DefaultMessage
	}

	mention := ""
	if roleID != "" {
		mention = "<@&" + roleID + ">"
	}

	platform := livePlatform(v, snap)
	return strings.NewReplacer(
		"{username}", liveUsername(v, snap),
		"{platform}", displayName(platform),
		"{url}", watchURL(v, snap),
		"{title}", snap.Title,
		"{game}", snap.Game,
		"{viewers}", strconv.Itoa(snap.ViewerCount),
		"{role}", mention,
	).Replace(template)
}

func livePayload(v domain.SubscriptionView, settings domain.GuildSettings, target domain.Target, snap domain.LiveSnapshot) domain.MessagePayload {
	template := v.Subscription.CustomMessage
	if template == "" {
		template = settings.CustomMessage
	}

	title := snap.Title
	if title == "" {
		title = liveUsername(v, snap) + " is live"
	}

	return domain.MessagePayload{
		Sender:  sender(v),
		Content: Render(template, v, snap, target.RoleID),
		Embed: &domain.Embed{
			Title:        title,
			URL:          watchURL(v, snap),
			Game:         snap.Game,
			ViewerCount:  snap.ViewerCount,
			ThumbnailURL: snap.ThumbnailURL,
			StartedAt:    snap.StartedAt,
			Platform:     livePlatform(v, snap),
		},
	}
}

// summaryPayload renders the ended form of an announcement. session may be nil.
func summaryPayload(v domain.SubscriptionView, ann domain.Announcement, session *domain.StreamSession, now time.Time) domain.MessagePayload {
	embed := &domain.Embed{
		Title:    ann.Title,
		URL:      v.Streamer.URL(),
		Game:     ann.Game,
		Platform: ann.Platform,
		Ended:    true,
		Footer:   "Stream ended",
	}
	if embed.Title == "" {
		embed.Title = v.Streamer.Username + " was live"
	}

	if session != nil {
		embed.StartedAt = session.StartedAt
		embed.ViewerCount = session.PeakViewers
		embed.Description = fmt.Sprintf("Streamed for %s, peak of %d viewers", formatDuration(session.Duration(now)), session.PeakViewers)
	}

	return domain.MessagePayload{
		Sender:  sender(v),
		Content: v.Streamer.Username + " has ended the stream.",
		Embed:   embed,
	}
}

// sender brands the message as the streamer, never as the bot.
func sender(v domain.SubscriptionView) domain.Sender {
	s := domain.Sender{Name: v.Subscription.Nickname, AvatarURL: v.Subscription.AvatarURL}
	if s.Name == "" {
		s.Name = v.Streamer.Username
	}
	if s.AvatarURL == "" {
		s.AvatarURL = v.Streamer.AvatarURL
	}
	return s
}

func livePlatform(v domain.SubscriptionView, snap domain.LiveSnapshot) domain.Platform {
	if snap.Platform != "" {
		return snap.Platform
	}
	return v.Streamer.Platform
}

// liveUsername is the handle on the platform the stream was found on, which differs from the streamer's
// own handle when an alternate identity is live.
func liveUsername(v domain.SubscriptionView, snap domain.LiveSnapshot) string {
	p := livePlatform(v, snap)
	switch {
	case p == v.Streamer.Platform:
		return v.Streamer.Username
	case snap.Username != "":
		return snap.Username
	case v.Streamer.AltUsernames[p] != "":
		return v.Streamer.AltUsernames[p]
	default:
		return v.Streamer.Username
	}
}

func watchURL(v domain.SubscriptionView, snap domain.LiveSnapshot) string {
	p := livePlatform(v, snap)
	if p == v.Streamer.Platform {
		return v.Streamer.URL()
	}
	return p.ChannelURL(liveUsername(v, snap), "")
}

func displayName(p domain.Platform) string {
	switch p {
	case domain.PlatformTwitch:
		return "Twitch"
	case domain.PlatformKick:
		return "Kick"
	case domain.PlatformYouTube:
		return "YouTube"
	default:
		return string(p)
	}
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Minute)
	h := int(d / time.Hour)
	m := int((d % time.Hour) / time.Minute)
	if h == 0 {
		return strconv.Itoa(m) + "m"
	}
	return fmt.Sprintf("%dh %dm", h, m)
}
