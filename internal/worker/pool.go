package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel/attribute"

	"github.com/xXDeath420Xx/livebot/internal/adapter/metrics"
	"github.com/xXDeath420Xx/livebot/internal/domain"
	"github.com/xXDeath420Xx/livebot/internal/platform/correlation"
	apperrors "github.com/xXDeath420Xx/livebot/internal/platform/errors"
	"github.com/xXDeath420Xx/livebot/internal/platform/retry"
	"github.com/xXDeath420Xx/livebot/internal/platform/telemetry"
)

// JobHandler executes one claimed action.
type JobHandler interface {
	Handle(ctx context.Context, a domain.Action) error
}

type PoolConfig struct {
	Workers int
	// Lease is how long a claimed job stays invisible to other workers.
	Lease        time.Duration
	PollInterval time.Duration
	ReapInterval time.Duration
	Retry        retry.Policy
}

// Pool runs a fixed number of workers against the action queue.
type Pool struct {
	queue   domain.ActionQueue
	handler JobHandler
	clock   clockwork.Clock
	cfg     PoolConfig
	metrics *metrics.WorkerMetrics

	wg sync.WaitGroup
}

func NewPool(queue domain.ActionQueue, handler JobHandler, clock clockwork.Clock, cfg PoolConfig, m *metrics.WorkerMetrics) *Pool {
	cfg.Workers = max(cfg.Workers, 1)
	if cfg.Lease <= 0 {
		cfg.Lease = 2 * time.Minute
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.ReapInterval <= 0 {
		cfg.ReapInterval = 30 * time.Second
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry.MaxAttempts = 5
	}
	if cfg.Retry.InitialBackoff <= 0 {
		cfg.Retry.InitialBackoff = 2 * time.Second
	}

	return &Pool{queue: queue, handler: handler, clock: clock, cfg: cfg, metrics: m}
}

// Run starts the workers and the lease reaper and blocks until ctx is cancelled and every worker returned.
func (p *Pool) Run(ctx context.Context) {
	for i := range p.cfg.Workers {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.work(ctx, i)
		}()
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.reap(ctx)
	}()

	slog.Info("Worker pool started", "workers", p.cfg.Workers)
	<-ctx.Done()
	p.wg.Wait()
	slog.Info("Worker pool stopped")
}

func (p *Pool) work(ctx context.Context, id int) {
	for ctx.Err() == nil {
		processed, err := p.RunOnce(ctx)
		if err != nil {
			slog.WarnContext(ctx, "Worker failed to claim job", "worker", id, "error", err)
		}
		if processed {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-p.clock.After(p.cfg.PollInterval):
		}
	}
}

func (p *Pool) reap(ctx context.Context) {
	ticker := p.clock.NewTicker(p.cfg.ReapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			n, err := p.queue.RequeueExpired(ctx)
			if err != nil {
				slog.WarnContext(ctx, "Failed to requeue expired jobs", "error", err)
				continue
			}
			if n > 0 {
				slog.WarnContext(ctx, "Requeued jobs with expired leases", "count", n)
				if p.metrics != nil {
					p.metrics.LeasesReaped.Add(float64(n))
				}
			}
		}
	}
}

// RunOnce claims and settles a single job. It reports whether a job was processed.
func (p *Pool) RunOnce(ctx context.Context) (bool, error) {
	a, err := p.queue.Claim(ctx, p.cfg.Lease)
	if err != nil {
		return false, err
	}
	if a == nil {
		return false, nil
	}

	jobCtx := correlation.WithID(ctx, correlation.NewID())
	jobCtx, span := telemetry.StartSpan(jobCtx, "worker.job",
		attribute.String("action.kind", string(a.Kind)),
		attribute.String("subscription.id", a.SubscriptionID.String()),
		attribute.Int("action.attempt", a.Attempts),
	)

	start := p.clock.Now()
	herr := p.handler.Handle(jobCtx, *a)
	telemetry.End(span, herr)

	outcome := p.settle(jobCtx, *a, herr)
	if p.metrics != nil {
		p.metrics.Jobs.WithLabelValues(string(a.Kind), outcome).Inc()
		p.metrics.JobDuration.WithLabelValues(string(a.Kind)).Observe(p.clock.Since(start).Seconds())
	}
	return true, nil
}

// settle acks, reschedules or dead-letters a handled job and returns the outcome label.
func (p *Pool) settle(ctx context.Context, a domain.Action, herr error) string {
	log := slog.With(
		"action", a.Kind,
		"subscription_id", a.SubscriptionID,
		"guild_id", a.GuildID,
		"channel_id", a.ChannelID,
		"attempt", a.Attempts,
	)

	if herr == nil {
		if err := p.queue.Ack(ctx, a); err != nil {
			log.WarnContext(ctx, "Failed to ack job", "error", err)
		}
		return "succeeded"
	}

	action := Classify(herr)
	switch {
	case action == retry.Stop:
		log.WarnContext(ctx, "Dropping job that cannot succeed", "error", herr)
		if err := p.queue.Ack(ctx, a); err != nil {
			log.WarnContext(ctx, "Failed to ack job", "error", err)
		}
		return "dropped"

	case p.cfg.Retry.Exhausted(a.Attempts):
		log.ErrorContext(ctx, "Job exhausted its attempts, moved to dead letters", "error", herr)
		if err := p.queue.DeadLetter(ctx, a, herr); err != nil {
			log.ErrorContext(ctx, "Failed to dead-letter job", "error", err)
		}
		return "dead_lettered"

	default:
		delay := p.cfg.Retry.Backoff(a.Attempts, action)
		a.LastError = herr.Error()
		log.WarnContext(ctx, "Job failed, retrying", "error", herr, "backoff", delay)
		if err := p.queue.Retry(ctx, a, p.clock.Now().Add(delay)); err != nil {
			log.WarnContext(ctx, "Failed to reschedule job", "error", err)
		}
		return "retried"
	}
}

// Classify maps a handler error onto the retry taxonomy. Permission and configuration failures cannot be
// fixed by retrying.
func Classify(err error) retry.Action {
	switch {
	case errors.Is(err, domain.ErrPermissionDenied),
		errors.Is(err, domain.ErrNoChannel),
		apperrors.Is(err, apperrors.TypePermission),
		apperrors.Is(err, apperrors.TypeConfiguration),
		apperrors.Is(err, apperrors.TypeValidation):
		return retry.Stop
	case errors.Is(err, domain.ErrRateLimited):
		return retry.After
	default:
		return retry.Retry
	}
}
