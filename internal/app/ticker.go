package app

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/xXDeath420Xx/livebot/internal/adapter/metrics"
	"github.com/xXDeath420Xx/livebot/internal/domain"
	"github.com/xXDeath420Xx/livebot/internal/platform/correlation"
	"github.com/xXDeath420Xx/livebot/internal/platform/retry"
	"github.com/xXDeath420Xx/livebot/internal/reconcile"
	"github.com/xXDeath420Xx/livebot/internal/teamsync"
)

const (
	defaultPollInterval     = 90 * time.Second
	defaultTeamSyncInterval = time.Hour
)

// PassRunner runs one reconciliation pass.
type PassRunner interface {
	Run(ctx context.Context) (reconcile.Summary, error)
}

// TeamSyncer syncs every configured team.
type TeamSyncer interface {
	SyncAll(ctx context.Context) ([]teamsync.Result, error)
}

// PassLock serialises passes across instances.
type PassLock interface {
	TryAcquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

// ErrPassLocked means another instance holds the pass lock.
var ErrPassLocked = errors.New("reconciliation pass running on another instance")

// Scheduler is the single periodic driver of reconciliation passes and team syncs.
type Scheduler struct {
	passes       PassRunner
	teams        TeamSyncer
	lock         PassLock
	clock        clockwork.Clock
	pollInterval time.Duration
	teamInterval time.Duration
	metrics      *metrics.ReconcileMetrics
	// releaseRetry bounds the attempts to hand back the pass lock. A lock left behind blocks every instance
	// until its TTL runs out.
	releaseRetry retry.Policy
}

// NewScheduler creates the driver. teams and lock may be nil.
func NewScheduler(passes PassRunner, teams TeamSyncer, lock PassLock, clock clockwork.Clock, pollInterval, teamInterval time.Duration, m *metrics.ReconcileMetrics) *Scheduler {
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	if teamInterval <= 0 {
		teamInterval = defaultTeamSyncInterval
	}
	return &Scheduler{
		passes:       passes,
		teams:        teams,
		lock:         lock,
		clock:        clock,
		pollInterval: pollInterval,
		teamInterval: teamInterval,
		metrics:      m,
		releaseRetry: retry.Policy{MaxAttempts: 3, InitialBackoff: 200 * time.Millisecond, MaxBackoff: time.Second},
	}
}

// Run runs a pass immediately and then on every tick. Team sync runs on its own slower ticker. It blocks
// until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	if s.teams != nil {
		go s.runTeamSync(ctx)
	}

	s.tick(ctx)

	ticker := s.clock.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("Scheduler stopped")
			return
		case <-ticker.Chan():
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	passCtx := correlation.WithID(ctx, correlation.NewID())
	_, err := s.TriggerPass(passCtx)
	switch {
	case errors.Is(err, domain.ErrPassInProgress):
		slog.WarnContext(passCtx, "Previous reconciliation pass still running, skipping tick")
		s.countSkip("skipped_overlap")
	case errors.Is(err, ErrPassLocked):
		slog.DebugContext(passCtx, "Reconciliation pass owned by another instance, skipping tick")
		s.countSkip("skipped_lock")
	}
}

// TriggerPass runs one pass now under the cross-instance lock. It returns ErrPassInProgress if a local pass
// is running and ErrPassLocked if another instance holds the lock.
func (s *Scheduler) TriggerPass(ctx context.Context) (reconcile.Summary, error) {
	if s.lock != nil {
		ok, err := s.lock.TryAcquire(ctx)
		if err != nil {
			// Lock store down: the local mutex alone guards the pass.
			slog.WarnContext(ctx, "Pass lock unavailable, running unlocked", "error", err)
		} else if !ok {
			return reconcile.Summary{}, ErrPassLocked
		} else {
			defer s.releaseLock(context.WithoutCancel(ctx))
		}
	}

	return s.passes.Run(ctx)
}

func (s *Scheduler) releaseLock(ctx context.Context) {
	policy := s.releaseRetry
	policy.OnRetry = func(attempt int, err error, backoff time.Duration) {
		slog.DebugContext(ctx, "Retrying pass lock release", "attempt", attempt, "backoff", backoff, "error", err)
	}
	err := retry.DoVoid(ctx, policy, func(error) retry.Action { return retry.Retry }, func() error {
		return s.lock.Release(ctx)
	})
	if err != nil {
		slog.WarnContext(ctx, "Failed to release pass lock", "error", err)
	}
}

func (s *Scheduler) runTeamSync(ctx context.Context) {
	ticker := s.clock.NewTicker(s.teamInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			syncCtx := correlation.WithID(ctx, correlation.NewID())
			results, err := s.teams.SyncAll(syncCtx)
			if err != nil {
				slog.ErrorContext(syncCtx, "Team sync failed", "error", err)
				continue
			}
			slog.InfoContext(syncCtx, "Team sync complete", "teams", len(results))
		}
	}
}

func (s *Scheduler) countSkip(outcome string) {
	if s.metrics != nil {
		s.metrics.PassesTotal.WithLabelValues(outcome).Inc()
	}
}
