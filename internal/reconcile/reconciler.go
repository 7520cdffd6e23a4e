// Package reconcile turns the configured subscriptions and the announcement ledger into queued actions.
package reconcile

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/xXDeath420Xx/livebot/internal/adapter/metrics"
	"github.com/xXDeath420Xx/livebot/internal/domain"
	"github.com/xXDeath420Xx/livebot/internal/liveness"
	"github.com/xXDeath420Xx/livebot/internal/platform/correlation"
	"github.com/xXDeath420Xx/livebot/internal/platform/telemetry"
	"github.com/xXDeath420Xx/livebot/internal/probe"
)

type Config struct {
	// Concurrency bounds parallel probe calls within a pass.
	Concurrency int
	// RefreshEveryN throttles visible edits of a live announcement to every Nth pass.
	RefreshEveryN int
	Authoritative domain.Platform
}

type Deps struct {
	Subscriptions domain.SubscriptionRepository
	Guilds        domain.GuildRepository
	Streamers     domain.StreamerRepository
	Announcements domain.AnnouncementRepository
	Sessions      domain.SessionRepository
	Queue         domain.ActionQueue
	Statuses      domain.LiveStatusStore
	Snapshots     *liveness.SnapshotCache
	Probes        *probe.Registry
	Clock         clockwork.Clock
	Metrics       *metrics.ReconcileMetrics
}

// Reconciler runs reconciliation passes. Passes never overlap: a pass started while another is running
// returns ErrPassInProgress.
type Reconciler struct {
	deps    Deps
	cfg     Config
	avatars AvatarPolicy

	running sync.Mutex

	mu       sync.Mutex
	refresh  map[uuid.UUID]int
	roleLive map[uuid.UUID]bool
}

func New(deps Deps, cfg Config) *Reconciler {
	cfg.Concurrency = max(cfg.Concurrency, 1)
	cfg.RefreshEveryN = max(cfg.RefreshEveryN, 1)
	if cfg.Authoritative == "" {
		cfg.Authoritative = domain.PlatformTwitch
	}

	return &Reconciler{
		deps:     deps,
		cfg:      cfg,
		avatars:  AvatarPolicy{Authoritative: cfg.Authoritative},
		refresh:  make(map[uuid.UUID]int),
		roleLive: make(map[uuid.UUID]bool),
	}
}

// Summary describes one completed pass.
type Summary struct {
	Subscriptions int
	Identities    int
	Live          int
	Unknown       int
	Skipped       int
	Orphans       int
	Failed        int
	Enqueued      map[domain.ActionKind]int
	Duration      time.Duration
}

func (s Summary) TotalEnqueued() int {
	total := 0
	for _, n := range s.Enqueued {
		total += n
	}
	return total
}

// pass holds the state of one run.
type pass struct {
	now     time.Time
	pending map[domain.ActionKey]domain.ActionKind
	guilds  map[string]*domain.GuildSettings
	summary Summary
}

// Run executes one reconciliation pass.
func (r *Reconciler) Run(ctx context.Context) (Summary, error) {
	if !r.running.TryLock() {
		return Summary{}, domain.ErrPassInProgress
	}
	defer r.running.Unlock()

	ctx = correlation.Ensure(ctx)
	ctx, span := telemetry.StartSpan(ctx, "reconcile.pass")

	start := r.deps.Clock.Now()
	summary, err := r.run(ctx)
	summary.Duration = r.deps.Clock.Since(start)
	telemetry.End(span, err)

	if m := r.deps.Metrics; m != nil {
		m.PassDuration.Observe(summary.Duration.Seconds())
		if err != nil {
			m.PassesTotal.WithLabelValues("failed").Inc()
		} else {
			m.PassesTotal.WithLabelValues("completed").Inc()
			m.LastPassUnix.Set(float64(r.deps.Clock.Now().Unix()))
		}
	}

	if err != nil {
		slog.ErrorContext(ctx, "Reconciliation pass failed", "error", err, "duration", summary.Duration)
		return summary, err
	}

	slog.InfoContext(ctx, "Reconciliation pass complete",
		"subscriptions", summary.Subscriptions,
		"identities", summary.Identities,
		"live", summary.Live,
		"unknown", summary.Unknown,
		"enqueued", summary.TotalEnqueued(),
		"orphans", summary.Orphans,
		"failed", summary.Failed,
		"duration", summary.Duration,
	)
	return summary, nil
}

func (r *Reconciler) run(ctx context.Context) (Summary, error) {
	p := &pass{
		now:     r.deps.Clock.Now(),
		guilds:  make(map[string]*domain.GuildSettings),
		summary: Summary{Enqueued: make(map[domain.ActionKind]int)},
	}

	views, err := r.deps.Subscriptions.ListForReconcile(ctx)
	if err != nil {
		return p.summary, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	ledger, err := r.deps.Announcements.List(ctx)
	if err != nil {
		return p.summary, fmt.Errorf("failed to list announcements: %w", err)
	}
	p.summary.Subscriptions = len(views)

	bySub := make(map[uuid.UUID][]domain.Announcement)
	for _, a := range ledger {
		bySub[a.SubscriptionID] = append(bySub[a.SubscriptionID], a)
	}

	streamers, chains := r.buildChains(ctx, views)
	results := r.probeAll(ctx, chains)
	p.summary.Identities = len(results)

	r.applyProfileDrift(ctx, streamers, results)

	outcomes := make(map[uuid.UUID]Outcome, len(chains))
	for id, chain := range chains {
		out := chain.Fold(results)
		outcomes[id] = out
		if !out.Known {
			continue
		}
		status := domain.LiveStatus{Live: out.Live, ObservedAt: p.now}
		if err := r.deps.Statuses.Record(ctx, streamers[id].Key(), status); err != nil {
			slog.WarnContext(ctx, "Failed to record live status", "streamer_id", id, "error", err)
		}
	}

	p.pending = r.pendingKinds(ctx, views, ledger)

	touched := make(map[uuid.UUID]bool, len(views))
	for _, v := range views {
		touched[v.Subscription.ID] = true
		out := outcomes[v.Streamer.ID]
		if out.Live {
			p.summary.Live++
		}
		if err := r.reconcileSubscription(ctx, p, v, out, bySub[v.Subscription.ID]); err != nil {
			p.summary.Failed++
			slog.ErrorContext(ctx, "Failed to reconcile subscription", append(viewAttrs(v), "error", err)...)
		}
	}

	r.teardownOrphans(ctx, p, ledger, touched)
	r.forget(touched)

	return p.summary, nil
}

// buildChains returns the distinct streamers referenced by views, plus the candidate chain of each.
func (r *Reconciler) buildChains(ctx context.Context, views []domain.SubscriptionView) (map[uuid.UUID]domain.Streamer, map[uuid.UUID]Chain) {
	streamers := make(map[uuid.UUID]domain.Streamer)
	for _, v := range views {
		streamers[v.Streamer.ID] = v.Streamer
	}

	resolved := make(map[domain.IdentityKey]domain.Identity)
	chains := make(map[uuid.UUID]Chain, len(streamers))

	for id, s := range streamers {
		chain := Chain{{Identity: s.Identity(), Primary: true}}

		for _, platform := range slices.Sorted(maps.Keys(s.AltUsernames)) {
			username := strings.TrimSpace(s.AltUsernames[platform])
			if username == "" || platform == s.Platform {
				continue
			}
			if _, err := r.deps.Probes.Get(platform); err != nil {
				continue
			}

			hint := domain.Identity{Platform: platform, Username: username}
			alt, ok := resolved[hint.Key()]
			if !ok {
				alt = r.resolveHint(ctx, hint)
				resolved[hint.Key()] = alt
			}
			chain = append(chain, Candidate{Identity: alt})
		}

		chains[id] = chain
	}

	return streamers, chains
}

// resolveHint prefers a known streamer's native id over probing by login.
func (r *Reconciler) resolveHint(ctx context.Context, hint domain.Identity) domain.Identity {
	known, err := r.deps.Streamers.FindByUsername(ctx, hint.Platform, hint.Username)
	switch {
	case err == nil:
		return known.Identity()
	case errors.Is(err, domain.ErrStreamerNotFound):
		return hint
	default:
		slog.WarnContext(ctx, "Failed to resolve alternate identity", "platform", hint.Platform, "username", hint.Username, "error", err)
		return hint
	}
}

// probeAll probes every distinct identity once, with bounded parallelism.
func (r *Reconciler) probeAll(ctx context.Context, chains map[uuid.UUID]Chain) map[domain.IdentityKey]probeResult {
	distinct := make(map[domain.IdentityKey]domain.Identity)
	for _, chain := range chains {
		for _, c := range chain {
			distinct[c.Identity.Key()] = c.Identity
		}
	}

	results := make(map[domain.IdentityKey]probeResult, len(distinct))
	var mu sync.Mutex

	var g errgroup.Group
	g.SetLimit(r.cfg.Concurrency)
	for key, id := range distinct {
		g.Go(func() error {
			snap, err := r.deps.Snapshots.Get(ctx, id, r.deps.Probes.IsLive)
			if err != nil {
				slog.WarnContext(ctx, "Probe failed, treating streamer as unknown",
					"platform", id.Platform, "native_id", id.NativeID, "username", id.Username, "error", err)
			}

			mu.Lock()
			results[key] = probeResult{snapshot: snap, err: err}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return results
}

// applyProfileDrift writes avatar and username changes seen in this pass's snapshots. Authoritative
// platform streamers go first so their propagation is what lower-priority platforms observe.
func (r *Reconciler) applyProfileDrift(ctx context.Context, streamers map[uuid.UUID]domain.Streamer, results map[domain.IdentityKey]probeResult) {
	current := maps.Clone(streamers)

	order := slices.SortedFunc(maps.Values(streamers), func(a, b domain.Streamer) int {
		aa, ba := a.Platform == r.cfg.Authoritative, b.Platform == r.cfg.Authoritative
		if aa != ba {
			if aa {
				return -1
			}
			return 1
		}
		return cmp.Compare(a.ID.String(), b.ID.String())
	})

	for _, s := range order {
		res, ok := results[s.Key()]
		if !ok || res.err != nil {
			continue
		}
		s = current[s.ID]

		patches := make(map[uuid.UUID]domain.StreamerPatch)
		if url := res.snapshot.ProfileImageURL; url != "" {
			var linked []domain.Streamer
			if s.Platform == r.cfg.Authoritative && s.DiscordUserID != "" {
				linked = r.linkedStreamers(ctx, s, current)
			}
			patches = r.avatars.Apply(s, s.Platform, url, linked)
		}

		if name := res.snapshot.Username; name != "" && name != s.Username {
			patch := patches[s.ID]
			patch.Username = &name
			patches[s.ID] = patch
		}

		for id, patch := range patches {
			if err := r.deps.Streamers.ApplyPatch(ctx, id, patch); err != nil {
				slog.WarnContext(ctx, "Failed to update streamer profile", "streamer_id", id, "error", err)
				continue
			}

			updated, ok := current[id]
			if !ok {
				updated = domain.Streamer{ID: id}
			}
			if patch.AvatarURL != nil {
				updated.AvatarURL = *patch.AvatarURL
				updated.AvatarSource = *patch.AvatarSource
				if m := r.deps.Metrics; m != nil {
					m.AvatarUpdates.WithLabelValues(string(*patch.AvatarSource)).Inc()
				}
			}
			if patch.Username != nil {
				updated.Username = *patch.Username
			}
			current[id] = updated
		}
	}
}

func (r *Reconciler) linkedStreamers(ctx context.Context, s domain.Streamer, current map[uuid.UUID]domain.Streamer) []domain.Streamer {
	all, err := r.deps.Streamers.ListByDiscordUser(ctx, s.DiscordUserID)
	if err != nil {
		slog.WarnContext(ctx, "Failed to list linked streamers", "discord_user_id", s.DiscordUserID, "error", err)
		return nil
	}

	linked := make([]domain.Streamer, 0, len(all))
	for _, l := range all {
		if l.ID == s.ID {
			continue
		}
		if c, ok := current[l.ID]; ok {
			l = c
		}
		linked = append(linked, l)
	}
	return linked
}

func (r *Reconciler) pendingKinds(ctx context.Context, views []domain.SubscriptionView, ledger []domain.Announcement) map[domain.ActionKey]domain.ActionKind {
	seen := make(map[domain.ActionKey]bool)
	keys := make([]domain.ActionKey, 0, 2*len(views)+len(ledger))
	add := func(k domain.ActionKey) {
		if !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
	}
	for _, v := range views {
		add(domain.ActionKey{Class: domain.ClassAnnouncement, SubscriptionID: v.Subscription.ID})
		add(domain.ActionKey{Class: domain.ClassRoles, SubscriptionID: v.Subscription.ID})
	}
	for _, a := range ledger {
		add(domain.ActionKey{Class: domain.ClassAnnouncement, SubscriptionID: a.SubscriptionID})
	}

	pending, err := r.deps.Queue.PendingKinds(ctx, keys)
	if err != nil {
		// Enqueue replaces by key, so a missed dedupe only costs a rewrite.
		slog.WarnContext(ctx, "Failed to read pending actions", "error", err)
		return make(map[domain.ActionKey]domain.ActionKind)
	}
	if pending == nil {
		pending = make(map[domain.ActionKey]domain.ActionKind)
	}
	return pending
}

func (r *Reconciler) reconcileSubscription(ctx context.Context, p *pass, v domain.SubscriptionView, out Outcome, anns []domain.Announcement) error {
	sub := v.Subscription

	if !out.Known {
		// Unknown is not offline: leave existing announcements alone this pass.
		p.summary.Unknown++
		r.skip(p, "probe_unknown")
		return nil
	}

	settings, err := r.guildSettings(ctx, p, sub.GuildID)
	if err != nil {
		return fmt.Errorf("failed to load guild settings: %w", err)
	}
	target := v.Resolve(*settings)

	if target.ChannelID == domain.DefaultChannel {
		r.skip(p, "no_channel")
		r.syncRoleOnly(ctx, p, v, target, out)
		if len(anns) > 0 {
			return r.end(ctx, p, v, anns[0].ChannelID, anns[0].Platform)
		}
		return nil
	}

	var current *domain.Announcement
	for i := range anns {
		if anns[i].ChannelID == target.ChannelID {
			current = &anns[i]
			break
		}
	}

	annKey := domain.ActionKey{Class: domain.ClassAnnouncement, SubscriptionID: sub.ID}
	switch {
	case out.Live && (current == nil || p.pending[annKey] == domain.ActionEndAnnouncement ||
		p.pending[annKey] == domain.ActionCreateAnnouncement):
		// A queued create is never downgraded to an update; the worker still has to open the session.
		r.resetRefresh(sub.ID)
		return r.enqueue(ctx, p, r.action(p, domain.ActionCreateAnnouncement, v, target, out.Snapshot))

	case out.Live:
		if err := r.deps.Sessions.TrackViewers(ctx, sub.ID, out.Snapshot.ViewerCount); err != nil {
			slog.WarnContext(ctx, "Failed to track viewers", append(viewAttrs(v), "error", err)...)
		}
		if !r.refreshDue(sub.ID) {
			return nil
		}
		if out.Snapshot.SameDisplay(current.Title, current.Game, current.ThumbnailURL, current.ViewerCount) {
			return nil
		}
		return r.enqueue(ctx, p, r.action(p, domain.ActionUpdateAnnouncement, v, target, out.Snapshot))

	case len(anns) > 0:
		return r.end(ctx, p, v, anns[0].ChannelID, anns[0].Platform)

	case p.pending[annKey] == domain.ActionCreateAnnouncement:
		// The stream ended before its create job ran.
		return r.end(ctx, p, v, target.ChannelID, out.Snapshot.Platform)

	default:
		return nil
	}
}

// syncRoleOnly handles subscriptions with a role but no announcement channel. Their role grants are
// driven by live-state transitions instead of announcement actions.
func (r *Reconciler) syncRoleOnly(ctx context.Context, p *pass, v domain.SubscriptionView, target domain.Target, out Outcome) {
	if target.RoleID == "" || v.Streamer.DiscordUserID == "" {
		return
	}

	r.mu.Lock()
	prev, seen := r.roleLive[v.Subscription.ID]
	r.roleLive[v.Subscription.ID] = out.Live
	r.mu.Unlock()

	if seen && prev == out.Live {
		return
	}

	if err := r.enqueue(ctx, p, r.action(p, domain.ActionSyncRoles, v, target, out.Snapshot)); err != nil {
		slog.ErrorContext(ctx, "Failed to enqueue role sync", append(viewAttrs(v), "error", err)...)
		r.mu.Lock()
		delete(r.roleLive, v.Subscription.ID)
		r.mu.Unlock()
	}
}

func (r *Reconciler) end(ctx context.Context, p *pass, v domain.SubscriptionView, channelID string, platform domain.Platform) error {
	r.resetRefresh(v.Subscription.ID)

	a := domain.Action{
		Kind:           domain.ActionEndAnnouncement,
		SubscriptionID: v.Subscription.ID,
		StreamerID:     v.Streamer.ID,
		GuildID:        v.Subscription.GuildID,
		ChannelID:      channelID,
		DiscordUserID:  v.Streamer.DiscordUserID,
		Snapshot:       domain.Offline(platform),
		EnqueuedAt:     p.now,
	}
	if err := r.enqueue(ctx, p, a); err != nil {
		return err
	}
	return r.closeSession(ctx, p, v.Subscription.ID)
}

func (r *Reconciler) teardownOrphans(ctx context.Context, p *pass, ledger []domain.Announcement, touched map[uuid.UUID]bool) {
	done := make(map[uuid.UUID]bool)

	for _, ann := range ledger {
		if touched[ann.SubscriptionID] || done[ann.SubscriptionID] {
			continue
		}
		done[ann.SubscriptionID] = true
		p.summary.Orphans++

		a := domain.Action{
			Kind:           domain.ActionEndAnnouncement,
			SubscriptionID: ann.SubscriptionID,
			StreamerID:     ann.StreamerID,
			GuildID:        ann.GuildID,
			ChannelID:      ann.ChannelID,
			Snapshot:       domain.Offline(ann.Platform),
			EnqueuedAt:     p.now,
		}
		if s, err := r.deps.Streamers.GetByID(ctx, ann.StreamerID); err == nil {
			a.DiscordUserID = s.DiscordUserID
		}

		attrs := []any{"subscription_id", ann.SubscriptionID, "guild_id", ann.GuildID, "channel_id", ann.ChannelID}
		if err := r.enqueue(ctx, p, a); err != nil {
			p.summary.Failed++
			slog.ErrorContext(ctx, "Failed to tear down orphaned announcement", append(attrs, "error", err)...)
			continue
		}
		if err := r.closeSession(ctx, p, ann.SubscriptionID); err != nil {
			slog.WarnContext(ctx, "Failed to close orphaned session", append(attrs, "error", err)...)
		}
		slog.InfoContext(ctx, "Tearing down orphaned announcement", attrs...)
	}
}

func (r *Reconciler) enqueue(ctx context.Context, p *pass, a domain.Action) error {
	key := a.Key()
	if p.pending[key] == a.Kind {
		return nil
	}

	if err := r.deps.Queue.Enqueue(ctx, a); err != nil {
		return fmt.Errorf("failed to enqueue %s: %w", a.Kind, err)
	}

	p.pending[key] = a.Kind
	p.summary.Enqueued[a.Kind]++
	if m := r.deps.Metrics; m != nil {
		m.ActionsEnqueued.WithLabelValues(string(a.Kind)).Inc()
	}
	return nil
}

func (r *Reconciler) closeSession(ctx context.Context, p *pass, subscriptionID uuid.UUID) error {
	if _, err := r.deps.Sessions.Close(ctx, subscriptionID, p.now); err != nil {
		return fmt.Errorf("failed to close session: %w", err)
	}
	return nil
}

func (r *Reconciler) guildSettings(ctx context.Context, p *pass, guildID string) (*domain.GuildSettings, error) {
	if s, ok := p.guilds[guildID]; ok {
		return s, nil
	}

	s, err := r.deps.Guilds.GetSettings(ctx, guildID)
	if errors.Is(err, domain.ErrGuildNotFound) {
		s, err = &domain.GuildSettings{GuildID: guildID, EndBehavior: domain.EndDelete}, nil
	}
	if err != nil {
		return nil, err
	}

	p.guilds[guildID] = s
	return s, nil
}

func (r *Reconciler) action(p *pass, kind domain.ActionKind, v domain.SubscriptionView, target domain.Target, snap domain.LiveSnapshot) domain.Action {
	return domain.Action{
		Kind:           kind,
		SubscriptionID: v.Subscription.ID,
		StreamerID:     v.Streamer.ID,
		GuildID:        v.Subscription.GuildID,
		ChannelID:      target.ChannelID,
		RoleID:         target.RoleID,
		DiscordUserID:  v.Streamer.DiscordUserID,
		Snapshot:       snap,
		EnqueuedAt:     p.now,
	}
}

func (r *Reconciler) refreshDue(id uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refresh[id]++
	return r.refresh[id]%r.cfg.RefreshEveryN == 0
}

func (r *Reconciler) resetRefresh(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.refresh, id)
}

// forget drops per-subscription memory for subscriptions that no longer exist.
func (r *Reconciler) forget(touched map[uuid.UUID]bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id := range r.refresh {
		if !touched[id] {
			delete(r.refresh, id)
		}
	}
	for id := range r.roleLive {
		if !touched[id] {
			delete(r.roleLive, id)
		}
	}
}

func (r *Reconciler) skip(p *pass, reason string) {
	p.summary.Skipped++
	if m := r.deps.Metrics; m != nil {
		m.SubscriptionSkip.WithLabelValues(reason).Inc()
	}
}

func viewAttrs(v domain.SubscriptionView) []any {
	return []any{
		"subscription_id", v.Subscription.ID,
		"guild_id", v.Subscription.GuildID,
		"streamer_id", v.Streamer.ID,
		"platform", v.Streamer.Platform,
		"native_id", v.Streamer.NativeID,
	}
}
