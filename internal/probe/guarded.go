package probe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"github.com/jonboulle/clockwork"
	"golang.org/x/time/rate"

	"github.com/xXDeath420Xx/livebot/internal/adapter/metrics"
	"github.com/xXDeath420Xx/livebot/internal/domain"
	apperrors "github.com/xXDeath420Xx/livebot/internal/platform/errors"
)

// GuardOptions tunes the per-platform guard.
type GuardOptions struct {
	RatePerSecond float64
	Burst         int
	// BreakerDelay is how long the breaker stays open before a trial call.
	BreakerDelay time.Duration
	// OnBreakerOpen runs each time the breaker trips, typically to rebuild the shared HTTP transport.
	OnBreakerOpen func()
}

// Guarded wraps a probe with a rate limiter, a circuit breaker and metrics. It also normalises errors:
// everything except ErrIdentityNotFound comes back as a transient probe error.
type Guarded struct {
	inner   domain.Probe
	limiter *rate.Limiter
	cb      circuitbreaker.CircuitBreaker[any]
	clock   clockwork.Clock
	metrics *metrics.ProbeMetrics
}

var _ domain.Probe = (*Guarded)(nil)

func NewGuarded(inner domain.Probe, opts GuardOptions, clock clockwork.Clock, m *metrics.ProbeMetrics) *Guarded {
	if opts.RatePerSecond <= 0 {
		opts.RatePerSecond = 10
	}
	if opts.Burst <= 0 {
		opts.Burst = max(1, int(opts.RatePerSecond))
	}
	if opts.BreakerDelay <= 0 {
		opts.BreakerDelay = 30 * time.Second
	}

	platform := inner.Platform()
	cb := circuitbreaker.NewBuilder[any]().
		WithFailureRateThreshold(0.6, 5, time.Minute).
		WithDelay(opts.BreakerDelay).
		WithSuccessThreshold(1).
		OnStateChanged(func(e circuitbreaker.StateChangedEvent) {
			slog.Warn("Probe circuit breaker state changed",
				"platform", platform,
				"from", e.OldState.String(),
				"to", e.NewState.String(),
			)
			if m != nil {
				m.BreakerState.WithLabelValues(string(platform)).Set(breakerStateValue(e.NewState))
			}
			if e.NewState == circuitbreaker.OpenState && opts.OnBreakerOpen != nil {
				opts.OnBreakerOpen()
			}
		}).
		Build()

	return &Guarded{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Limit(opts.RatePerSecond), opts.Burst),
		cb:      cb,
		clock:   clock,
		metrics: m,
	}
}

func (g *Guarded) Platform() domain.Platform { return g.inner.Platform() }

func (g *Guarded) IsLive(ctx context.Context, id domain.Identity) (domain.LiveSnapshot, error) {
	var snap domain.LiveSnapshot
	err := g.guard(ctx, "is_live", func(ctx context.Context) error {
		var err error
		snap, err = g.inner.IsLive(ctx, id)
		return err
	})
	if err != nil {
		g.count(outcomeOf(err))
		return domain.LiveSnapshot{}, err
	}

	if snap.Platform == "" {
		snap.Platform = g.Platform()
	}
	if snap.IsLive {
		g.count("live")
	} else {
		g.count("offline")
	}
	return snap, nil
}

func (g *Guarded) GetStreamDetails(ctx context.Context, id domain.Identity) (*domain.StreamDetails, error) {
	var details *domain.StreamDetails
	err := g.guard(ctx, "stream_details", func(ctx context.Context) error {
		var err error
		details, err = g.inner.GetStreamDetails(ctx, id)
		return err
	})
	if err != nil {
		g.count(outcomeOf(err))
	}
	return details, err
}

func (g *Guarded) GetUserIdentity(ctx context.Context, username string) (*domain.Identity, error) {
	var identity *domain.Identity
	err := g.guard(ctx, "user_identity", func(ctx context.Context) error {
		var err error
		identity, err = g.inner.GetUserIdentity(ctx, username)
		return err
	})
	if err != nil {
		g.count(outcomeOf(err))
	}
	return identity, err
}

func (g *Guarded) guard(ctx context.Context, op string, call func(context.Context) error) error {
	platform := string(g.Platform())

	if !g.cb.TryAcquirePermit() {
		return transient(platform, op, circuitbreaker.ErrOpen)
	}
	if err := g.limiter.Wait(ctx); err != nil {
		g.cb.RecordSuccess()
		return transient(platform, op, err)
	}

	start := g.clock.Now()
	err := call(ctx)
	if g.metrics != nil {
		g.metrics.Duration.WithLabelValues(platform).Observe(g.clock.Since(start).Seconds())
	}

	switch {
	case err == nil, errors.Is(err, domain.ErrIdentityNotFound):
		g.cb.RecordSuccess()
		return err
	default:
		g.cb.RecordError(err)
		return transient(platform, op, err)
	}
}

func (g *Guarded) count(outcome string) {
	if g.metrics != nil {
		g.metrics.Calls.WithLabelValues(string(g.Platform()), outcome).Inc()
	}
}

func transient(platform, op string, err error) error {
	if errors.Is(err, domain.ErrTransientProbe) {
		return err
	}
	return apperrors.TransientProbeError(platform+" "+op, fmt.Errorf("%w: %w", domain.ErrTransientProbe, err)).
		WithContext("platform", platform)
}

func outcomeOf(err error) string {
	switch {
	case errors.Is(err, domain.ErrIdentityNotFound):
		return "not_found"
	case errors.Is(err, circuitbreaker.ErrOpen):
		return "rejected"
	default:
		return "error"
	}
}

func breakerStateValue(state circuitbreaker.State) float64 {
	switch state {
	case circuitbreaker.ClosedState:
		return 0
	case circuitbreaker.HalfOpenState:
		return 1
	case circuitbreaker.OpenState:
		return 2
	default:
		return -1
	}
}
