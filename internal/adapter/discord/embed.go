package discord

import (
	"strconv"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/xXDeath420Xx/livebot/internal/domain"
)

const endedColor = 0x747F8D

var platformColors = map[domain.Platform]int{
	domain.PlatformTwitch:  0x9146FF,
	domain.PlatformYouTube: 0xFF0000,
	domain.PlatformKick:    0x53FC18,
}

func toEmbed(e *domain.Embed) *discordgo.MessageEmbed {
	if e == nil {
		return nil
	}

	embed := &discordgo.MessageEmbed{
		Title:       e.Title,
		URL:         e.URL,
		Description: e.Description,
		Color:       platformColors[e.Platform],
	}
	if e.Ended {
		embed.Color = endedColor
	}

	if e.Game != "" {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{Name: "Game", Value: e.Game, Inline: true})
	}
	if e.ViewerCount > 0 {
		name := "Viewers"
		if e.Ended {
			name = "Peak viewers"
		}
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{Name: name, Value: strconv.Itoa(e.ViewerCount), Inline: true})
	}
	if e.ThumbnailURL != "" && !e.Ended {
		embed.Image = &discordgo.MessageEmbedImage{URL: e.ThumbnailURL}
	}
	if !e.StartedAt.IsZero() {
		embed.Timestamp = e.StartedAt.UTC().Format(time.RFC3339)
	}
	if e.Footer != "" {
		embed.Footer = &discordgo.MessageEmbedFooter{Text: e.Footer}
	}
	return embed
}

func embeds(e *domain.Embed) []*discordgo.MessageEmbed {
	if embed := toEmbed(e); embed != nil {
		return []*discordgo.MessageEmbed{embed}
	}
	return nil
}
