package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/xXDeath420Xx/livebot/internal/adapter/httpserver"
	"github.com/xXDeath420Xx/livebot/internal/adapter/metrics"
	"github.com/xXDeath420Xx/livebot/internal/adapter/postgres"
	"github.com/xXDeath420Xx/livebot/internal/platform/config"
	"github.com/xXDeath420Xx/livebot/internal/platform/telemetry"
	"github.com/xXDeath420Xx/livebot/internal/platform/version"
)

const shutdownTimeout = 10 * time.Second

func serveCmd(load func() *config.Config) *cobra.Command {
	var skipMigrations bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the reconciler, the action workers and the admin HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := load()
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			slog.Info("Application starting", "env", cfg.AppEnv, "port", cfg.Port, "instance_id", cfg.InstanceID, "version", version.Get().Version)

			shutdownTracing, err := telemetry.Init(cfg.OTLPEndpoint, "livebot", version.Get().Version, cfg.InstanceID)
			if err != nil {
				return err
			}
			defer shutdownTracing()

			c, err := build(ctx, cfg)
			if err != nil {
				return err
			}
			defer c.Close()

			if !skipMigrations {
				if err := postgres.RunMigrationsWithLock(ctx, c.db); err != nil {
					return err
				}
			}

			srv := httpserver.NewServer(
				httpserver.Config{Port: cfg.Port, AdminToken: cfg.AdminToken},
				c.service,
				httpserver.WithMetrics(metrics.Handler(c.registry), c.http.Middleware()),
				httpserver.WithHealthChecks(
					httpserver.HealthCheck{Name: "postgres", Check: c.db.Ping},
					httpserver.HealthCheck{Name: "redis", Check: func(ctx context.Context) error { return c.rdb.Ping(ctx).Err() }},
				),
			)

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				c.pool.Run(gctx)
				return nil
			})
			g.Go(func() error {
				c.scheduler.Run(gctx)
				return nil
			})
			g.Go(func() error {
				if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
			g.Go(func() error {
				<-gctx.Done()
				slog.Info("Shutdown signal received, cleaning up...")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			})

			return g.Wait()
		},
	}

	cmd.Flags().BoolVar(&skipMigrations, "skip-migrations", false, "do not apply pending migrations on startup")
	return cmd
}
