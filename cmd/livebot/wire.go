package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"

	"github.com/xXDeath420Xx/livebot/internal/adapter/discord"
	"github.com/xXDeath420Xx/livebot/internal/adapter/kick"
	"github.com/xXDeath420Xx/livebot/internal/adapter/metrics"
	"github.com/xXDeath420Xx/livebot/internal/adapter/postgres"
	"github.com/xXDeath420Xx/livebot/internal/adapter/redis"
	"github.com/xXDeath420Xx/livebot/internal/adapter/twitch"
	"github.com/xXDeath420Xx/livebot/internal/adapter/youtube"
	"github.com/xXDeath420Xx/livebot/internal/app"
	"github.com/xXDeath420Xx/livebot/internal/crypto"
	"github.com/xXDeath420Xx/livebot/internal/domain"
	"github.com/xXDeath420Xx/livebot/internal/liveness"
	"github.com/xXDeath420Xx/livebot/internal/platform/config"
	"github.com/xXDeath420Xx/livebot/internal/platform/httpx"
	"github.com/xXDeath420Xx/livebot/internal/platform/retry"
	"github.com/xXDeath420Xx/livebot/internal/probe"
	"github.com/xXDeath420Xx/livebot/internal/reconcile"
	"github.com/xXDeath420Xx/livebot/internal/roles"
	"github.com/xXDeath420Xx/livebot/internal/teamsync"
	"github.com/xXDeath420Xx/livebot/internal/worker"
)

const (
	connectTimeout   = 10 * time.Second
	passLockTTL      = 5 * time.Minute
	evictionInterval = time.Minute
)

// components is the wired object graph shared by every command.
type components struct {
	db        *pgxpool.Pool
	rdb       *goredis.Client
	registry  *prometheus.Registry
	http      *metrics.HTTPMetrics
	service   *app.Service
	scheduler *app.Scheduler
	pool      *worker.Pool
	snapshots *liveness.SnapshotCache

	closers []func()
}

func (c *components) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
}

func (c *components) onClose(fn func()) { c.closers = append(c.closers, fn) }

func setupDB(ctx context.Context, cfg *config.Config, m *metrics.DBMetrics) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	db, err := postgres.Connect(ctx, cfg.DatabaseURL, m)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

func setupProbes(ctx context.Context, cfg *config.Config, clock clockwork.Clock, m *metrics.ProbeMetrics) (*probe.Registry, map[domain.Platform]domain.TeamRoster, error) {
	transport := httpx.NewTransport()
	guard := probe.GuardOptions{RatePerSecond: cfg.ProbeRatePerSecond, OnBreakerOpen: transport.Reset}

	registry := probe.NewRegistry()
	rosters := make(map[domain.Platform]domain.TeamRoster)

	if cfg.TwitchEnabled() {
		client, err := twitch.NewClient(twitch.Config{ClientID: cfg.TwitchClientID, ClientSecret: cfg.TwitchClientSecret}, transport)
		if err != nil {
			return nil, nil, err
		}
		registry.Register(probe.NewGuarded(twitch.NewProbe(client), guard, clock, m))
		rosters[domain.PlatformTwitch] = twitch.NewRoster(client)
	}

	if cfg.YouTubeEnabled() {
		yt, err := youtube.NewProbe(ctx, cfg.YouTubeAPIKey, "", transport)
		if err != nil {
			return nil, nil, err
		}
		registry.Register(probe.NewGuarded(yt, guard, clock, m))
	}

	if cfg.KickEnabled {
		registry.Register(probe.NewGuarded(kick.NewProbe("", transport), guard, clock, m))
	}

	slog.Info("Probes registered", "platforms", registry.Platforms())
	return registry, rosters, nil
}

func exclusions(cfg *config.Config) ([]teamsync.Exclusion, error) {
	raw, err := config.LoadExclusions(cfg.TeamSyncExclusionsFile)
	if err != nil {
		return nil, err
	}

	out := make([]teamsync.Exclusion, 0, len(raw))
	for _, e := range raw {
		p, err := domain.ParsePlatform(e.Platform)
		if err != nil {
			return nil, fmt.Errorf("exclusion %s/%s: %w", e.Platform, e.Username, err)
		}
		out = append(out, teamsync.Exclusion{Platform: p, Username: e.Username})
	}
	return out, nil
}

func secondaryPlatforms(registry *probe.Registry, authoritative domain.Platform) []domain.Platform {
	var out []domain.Platform
	for _, p := range registry.Platforms() {
		if p != authoritative {
			out = append(out, p)
		}
	}
	return out
}

// build wires every component. The caller owns the returned graph and must Close it.
func build(ctx context.Context, cfg *config.Config) (_ *components, err error) {
	clock := clockwork.NewRealClock()
	c := &components{registry: metrics.NewRegistry()}
	defer func() {
		if err != nil {
			c.Close()
		}
	}()

	reg := c.registry
	c.http = metrics.NewHTTPMetrics(reg)
	cacheMetrics := metrics.NewCacheMetrics(reg)
	reconcileMetrics := metrics.NewReconcileMetrics(reg)
	discordMetrics := metrics.NewDiscordMetrics(reg)

	c.db, err = setupDB(ctx, cfg, metrics.NewDBMetrics(reg))
	if err != nil {
		return nil, err
	}
	c.onClose(c.db.Close)

	c.rdb, err = redis.NewClient(ctx, cfg.RedisURL, metrics.NewRedisMetrics(reg))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	c.onClose(func() { _ = c.rdb.Close() })

	cryptoSvc, err := crypto.New(cfg.TokenEncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create crypto service: %w", err)
	}

	authoritative, err := domain.ParsePlatform(cfg.AuthoritativePlatform)
	if err != nil {
		return nil, err
	}

	excluded, err := exclusions(cfg)
	if err != nil {
		return nil, err
	}

	streamers := postgres.NewStreamerRepo(c.db)
	subscriptions := postgres.NewSubscriptionRepo(c.db)
	announcements := postgres.NewAnnouncementRepo(c.db)
	sessions := postgres.NewSessionRepo(c.db)
	blacklist := postgres.NewBlacklistRepo(c.db)
	guilds := liveness.NewGuildSettingsCache(postgres.NewGuildRepo(c.db), cfg.GuildSettingsTTL, clock,
		redis.NewStore[domain.GuildSettings](c.rdb, "guild_settings"), cacheMetrics)

	queue := redis.NewActionQueue(c.rdb, clock)
	statuses := redis.NewStatusStore(c.rdb)

	c.snapshots = liveness.NewSnapshotCache(cfg.LivenessTTL, clock,
		redis.NewStore[domain.LiveSnapshot](c.rdb, "snapshots"), cacheMetrics)
	c.onClose(c.snapshots.StartEvictionTimer(evictionInterval))

	session, err := discord.NewSession(cfg.DiscordBotToken)
	if err != nil {
		return nil, err
	}
	sink := discord.NewMessagingSink(session, postgres.NewWebhookRepo(c.db, cryptoSvc), discordMetrics)
	roleSync := roles.NewSyncer(subscriptions, guilds, statuses, discord.NewRoleSink(session, discordMetrics), metrics.NewRoleMetrics(reg))
	roleSync.OnPurge = guilds.Invalidate

	probes, rosters, err := setupProbes(ctx, cfg, clock, metrics.NewProbeMetrics(reg))
	if err != nil {
		return nil, err
	}

	reconciler := reconcile.New(reconcile.Deps{
		Subscriptions: subscriptions,
		Guilds:        guilds,
		Streamers:     streamers,
		Announcements: announcements,
		Sessions:      sessions,
		Queue:         queue,
		Statuses:      statuses,
		Snapshots:     c.snapshots,
		Probes:        probes,
		Clock:         clock,
		Metrics:       reconcileMetrics,
	}, reconcile.Config{
		Concurrency:   cfg.ProbeConcurrency,
		RefreshEveryN: cfg.RefreshEveryNPasses,
		Authoritative: authoritative,
	})

	teams := teamsync.New(teamsync.Deps{
		Teams:         postgres.NewTeamRepo(c.db),
		Subscriptions: subscriptions,
		Streamers:     streamers,
		Blacklist:     blacklist,
		Rosters:       rosters,
		Probes:        probes,
		Clock:         clock,
		Metrics:       metrics.NewTeamSyncMetrics(reg),
	}, teamsync.Config{
		Secondary:  secondaryPlatforms(probes, authoritative),
		Exclusions: excluded,
	})

	var teamSyncer app.TeamSyncer
	if len(rosters) > 0 {
		teamSyncer = teams
	}
	c.scheduler = app.NewScheduler(reconciler, teamSyncer, redis.NewPassLock(c.rdb, cfg.InstanceID, passLockTTL),
		clock, cfg.PollInterval, cfg.TeamSyncInterval, reconcileMetrics)

	handler := worker.NewHandler(worker.Deps{
		Subscriptions: subscriptions,
		Guilds:        guilds,
		Streamers:     streamers,
		Announcements: announcements,
		Sessions:      sessions,
		Sink:          sink,
		Roles:         roleSync,
		Clock:         clock,
	})
	c.pool = worker.NewPool(queue, handler, clock, worker.PoolConfig{
		Workers: cfg.WorkerCount,
		Lease:   cfg.JobLease,
		Retry: retry.Policy{
			MaxAttempts:      cfg.JobMaxAttempts,
			InitialBackoff:   cfg.JobInitialBackoff,
			RateLimitBackoff: 30 * time.Second,
			MaxBackoff:       10 * time.Minute,
		},
	}, metrics.NewWorkerMetrics(reg))

	c.service = app.NewService(app.ServiceDeps{
		Streamers:     streamers,
		Subscriptions: subscriptions,
		Announcements: announcements,
		Sessions:      sessions,
		Blacklist:     blacklist,
		Queue:         queue,
		Sink:          sink,
		Roles:         roleSync,
		Scheduler:     c.scheduler,
		Teams:         teams,
		Clock:         clock,
	})

	return c, nil
}

var _ discord.WebhookAPI = (*discordgo.Session)(nil)
var _ discord.RoleAPI = (*discordgo.Session)(nil)
