package reconcile

import (
	"github.com/google/uuid"

	"github.com/xXDeath420Xx/livebot/internal/domain"
)

// AvatarPolicy decides which avatar writes a fresh snapshot may cause.
type AvatarPolicy struct {
	Authoritative domain.Platform
}

// Apply returns the patches, keyed by streamer id, implied by seeing avatarURL on platform for streamer.
// linked holds the other streamers sharing streamer's Discord user.
//
// The authoritative platform always overwrites and propagates to linked streamers. Any other platform only
// fills an empty avatar and never touches linked streamers.
func (p AvatarPolicy) Apply(streamer domain.Streamer, platform domain.Platform, avatarURL string, linked []domain.Streamer) map[uuid.UUID]domain.StreamerPatch {
	if avatarURL == "" {
		return nil
	}

	out := make(map[uuid.UUID]domain.StreamerPatch)

	if platform == p.Authoritative {
		for _, s := range append([]domain.Streamer{streamer}, linked...) {
			if s.AvatarURL == avatarURL && s.AvatarSource == platform {
				continue
			}
			out[s.ID] = avatarPatch(avatarURL, platform)
		}
		return out
	}

	if streamer.AvatarURL == "" {
		out[streamer.ID] = avatarPatch(avatarURL, platform)
	}
	return out
}

func avatarPatch(url string, source domain.Platform) domain.StreamerPatch {
	return domain.StreamerPatch{AvatarURL: &url, AvatarSource: &source}
}
