package httpserver

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/xXDeath420Xx/livebot/internal/domain"
	apperrors "github.com/xXDeath420Xx/livebot/internal/platform/errors"
)

const defaultDeadLetterLimit = 50

type purgeRequest struct {
	Reason string `json:"reason"`
}

type passResponse struct {
	Subscriptions int                       `json:"subscriptions"`
	Identities    int                       `json:"identities"`
	Live          int                       `json:"live"`
	Unknown       int                       `json:"unknown"`
	Skipped       int                       `json:"skipped"`
	Orphans       int                       `json:"orphans"`
	Failed        int                       `json:"failed"`
	Enqueued      map[domain.ActionKind]int `json:"enqueued"`
	DurationMS    int64                     `json:"duration_ms"`
}

type teamSyncResponse struct {
	TeamID   uuid.UUID `json:"team_id"`
	Team     string    `json:"team"`
	Added    int       `json:"added"`
	Removed  int       `json:"removed"`
	Linked   int       `json:"linked"`
	Excluded int       `json:"excluded"`
}

func (s *Server) registerAdminRoutes(g *echo.Group) {
	g.POST("/streamers/:id/purge", s.handlePurge)
	g.POST("/teams/:id/sync", s.handleTeamSync)
	g.POST("/reconcile", s.handleReconcile)
	g.GET("/dead-letters", s.handleDeadLetters)
}

func (s *Server) handlePurge(c echo.Context) error {
	streamerID, err := parseID(c)
	if err != nil {
		return err
	}

	var req purgeRequest
	if c.Request().ContentLength > 0 {
		if err := c.Bind(&req); err != nil {
			return apperrors.ValidationError("invalid request body")
		}
	}
	if req.Reason == "" {
		req.Reason = "admin purge"
	}

	report, err := s.app.PurgeIdentity(c.Request().Context(), streamerID, req.Reason)
	if err != nil {
		return err
	}

	status := http.StatusOK
	if report.Failed() > 0 {
		status = http.StatusMultiStatus
	}
	if err := c.JSON(status, report); err != nil {
		return fmt.Errorf("failed to write purge report: %w", err)
	}
	return nil
}

func (s *Server) handleTeamSync(c echo.Context) error {
	teamID, err := parseID(c)
	if err != nil {
		return err
	}

	res, err := s.app.SyncTeam(c.Request().Context(), teamID)
	if err != nil {
		return err
	}

	resp := teamSyncResponse{
		TeamID:   res.TeamID,
		Team:     res.Team,
		Added:    res.Added,
		Removed:  res.Removed,
		Linked:   res.Linked,
		Excluded: res.Excluded,
	}
	if err := c.JSON(http.StatusOK, resp); err != nil {
		return fmt.Errorf("failed to write team sync response: %w", err)
	}
	return nil
}

func (s *Server) handleReconcile(c echo.Context) error {
	summary, err := s.app.TriggerPass(c.Request().Context())
	if err != nil {
		return err
	}

	resp := passResponse{
		Subscriptions: summary.Subscriptions,
		Identities:    summary.Identities,
		Live:          summary.Live,
		Unknown:       summary.Unknown,
		Skipped:       summary.Skipped,
		Orphans:       summary.Orphans,
		Failed:        summary.Failed,
		Enqueued:      summary.Enqueued,
		DurationMS:    summary.Duration.Milliseconds(),
	}
	if err := c.JSON(http.StatusOK, resp); err != nil {
		return fmt.Errorf("failed to write pass summary: %w", err)
	}
	return nil
}

func (s *Server) handleDeadLetters(c echo.Context) error {
	limit := defaultDeadLetterLimit
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return apperrors.ValidationError("limit must be a positive integer").WithContext("limit", raw)
		}
		limit = n
	}

	letters, err := s.app.DeadLetters(c.Request().Context(), limit)
	if err != nil {
		return err
	}
	if letters == nil {
		letters = []domain.DeadLetter{}
	}
	if err := c.JSON(http.StatusOK, letters); err != nil {
		return fmt.Errorf("failed to write dead letters: %w", err)
	}
	return nil
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, apperrors.ValidationError("invalid id").WithContext("id", c.Param("id"))
	}
	return id, nil
}
