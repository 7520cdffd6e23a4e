package domain

import "errors"

var (
	ErrStreamerNotFound     = errors.New("streamer not found")
	ErrSubscriptionNotFound = errors.New("subscription not found")
	ErrAnnouncementNotFound = errors.New("announcement not found")
	ErrTeamNotFound         = errors.New("team not found")
	ErrGuildNotFound        = errors.New("guild not found")
	ErrWebhookNotFound      = errors.New("webhook not found")

	// ErrIdentityNotFound means the platform does not know the account. Treated as offline until reconfigured.
	ErrIdentityNotFound = errors.New("identity not found on platform")
	// ErrTransientProbe marks network and rate-limit failures of a probe.
	ErrTransientProbe = errors.New("transient probe failure")
	// ErrUnsupportedPlatform is returned when no probe is registered for a platform.
	ErrUnsupportedPlatform = errors.New("unsupported platform")

	ErrMessageNotFound  = errors.New("message not found")
	ErrPermissionDenied = errors.New("permission denied")
	ErrNoChannel        = errors.New("no announcement channel resolved")
	// ErrRateLimited asks the caller to back off longer than for an ordinary failure.
	ErrRateLimited = errors.New("rate limited")

	ErrPassInProgress = errors.New("reconciliation pass already in progress")
)
