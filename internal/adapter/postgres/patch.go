package postgres

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/xXDeath420Xx/livebot/internal/domain"
)

// streamerColumn enumerates the columns a StreamerPatch may touch. Column names never come from input.
type streamerColumn string

const (
	colUsername      streamerColumn = "username"
	colDiscordUserID streamerColumn = "discord_user_id"
	colAvatarURL     streamerColumn = "avatar_url"
	colAvatarSource  streamerColumn = "avatar_source"
	colAltUsernames  streamerColumn = "alt_usernames"
)

// buildStreamerPatch renders a single parameterized UPDATE for the non-nil fields of p. ok is false
// when the patch is empty.
func buildStreamerPatch(id uuid.UUID, p domain.StreamerPatch) (sql string, args []any, ok bool, err error) {
	if p.IsEmpty() {
		return "", nil, false, nil
	}

	var sets []string
	set := func(col streamerColumn, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}

	if p.Username != nil {
		set(colUsername, *p.Username)
	}
	if p.DiscordUserID != nil {
		set(colDiscordUserID, *p.DiscordUserID)
	}
	if p.AvatarURL != nil {
		set(colAvatarURL, *p.AvatarURL)
	}
	if p.AvatarSource != nil {
		set(colAvatarSource, string(*p.AvatarSource))
	}
	if len(p.AltUsernames) > 0 {
		raw, err := json.Marshal(p.AltUsernames)
		if err != nil {
			return "", nil, false, fmt.Errorf("failed to encode alternate usernames: %w", err)
		}
		// Merged into the stored map rather than replacing it.
		args = append(args, string(raw))
		sets = append(sets, fmt.Sprintf("%s = %s || $%d::jsonb", colAltUsernames, colAltUsernames, len(args)))
	}

	args = append(args, id)
	sql = fmt.Sprintf("UPDATE streamers SET %s, updated_at = now() WHERE id = $%d", strings.Join(sets, ", "), len(args))
	return sql, args, true, nil
}
