// Package httpserver serves the health, metrics and admin endpoints of a livebot instance.
package httpserver

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/xXDeath420Xx/livebot/internal/app"
	"github.com/xXDeath420Xx/livebot/internal/domain"
	"github.com/xXDeath420Xx/livebot/internal/reconcile"
	"github.com/xXDeath420Xx/livebot/internal/teamsync"
)

type appService interface {
	PurgeIdentity(ctx context.Context, streamerID uuid.UUID, reason string) (app.PurgeReport, error)
	TriggerPass(ctx context.Context) (reconcile.Summary, error)
	SyncTeam(ctx context.Context, teamID uuid.UUID) (teamsync.Result, error)
	DeadLetters(ctx context.Context, limit int) ([]domain.DeadLetter, error)
}

type Config struct {
	Port string
	// AdminToken protects /admin/*. Empty disables the admin routes.
	AdminToken string
}

type Server struct {
	echo *echo.Echo
	cfg  Config

	app            appService
	metricsHandler http.Handler
	httpMiddleware echo.MiddlewareFunc

	healthChecks []HealthCheck
	startTime    time.Time
}

type Option func(*Server)

// WithMetrics serves h on /metrics and records request metrics with mw.
func WithMetrics(h http.Handler, mw echo.MiddlewareFunc) Option {
	return func(s *Server) {
		s.metricsHandler = h
		s.httpMiddleware = mw
	}
}

func WithHealthChecks(checks ...HealthCheck) Option {
	return func(s *Server) { s.healthChecks = append(s.healthChecks, checks...) }
}

func NewServer(cfg Config, app appService, opts ...Option) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	srv := &Server{
		echo:      e,
		cfg:       cfg,
		app:       app,
		startTime: time.Now(),
	}
	for _, opt := range opts {
		opt(srv)
	}

	srv.registerRoutes()
	return srv
}

func (s *Server) Start() error {
	slog.Info("Starting admin server", "port", s.cfg.Port, "admin_enabled", s.cfg.AdminToken != "")
	if err := s.echo.Start(":" + s.cfg.Port); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	return nil
}

// ServeHTTP lets tests drive the full middleware chain.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}
