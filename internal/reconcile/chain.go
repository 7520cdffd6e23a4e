package reconcile

import (
	"errors"

	"github.com/xXDeath420Xx/livebot/internal/domain"
)

// Candidate is one (platform, identity) pair a logical streamer may be live on.
type Candidate struct {
	Identity domain.Identity
	// Primary is the streamer's own identity. Alternate hints are not primary.
	Primary bool
}

// Chain is the ordered candidate list of a streamer: its own identity first, then alternate-platform hints.
type Chain []Candidate

type probeResult struct {
	snapshot domain.LiveSnapshot
	err      error
}

// Outcome is the folded live state of a chain.
type Outcome struct {
	// Known is false when a probe failed before any candidate was confirmed live.
	Known    bool
	Live     bool
	Snapshot domain.LiveSnapshot
	Source   domain.Identity
	Err      error
}

// Fold applies first-live-wins over the chain. A failed probe makes the outcome unknown unless an earlier
// candidate was already live. An unknown alternate hint counts as offline so that a stale hint cannot
// pin an announcement forever; an unknown primary identity stays unknown.
func (c Chain) Fold(results map[domain.IdentityKey]probeResult) Outcome {
	var offline *Outcome

	for _, cand := range c {
		r, ok := results[cand.Identity.Key()]
		if !ok {
			continue
		}

		if r.err != nil {
			if !cand.Primary && errors.Is(r.err, domain.ErrIdentityNotFound) {
				continue
			}
			return Outcome{Known: false, Source: cand.Identity, Err: r.err}
		}

		if r.snapshot.IsLive {
			return Outcome{Known: true, Live: true, Snapshot: r.snapshot, Source: cand.Identity}
		}

		if offline == nil {
			offline = &Outcome{Known: true, Live: false, Snapshot: r.snapshot, Source: cand.Identity}
		}
	}

	if offline == nil {
		return Outcome{Known: false}
	}
	return *offline
}
