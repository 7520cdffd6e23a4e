package httpserver

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/xXDeath420Xx/livebot/internal/app"
	"github.com/xXDeath420Xx/livebot/internal/domain"
	"github.com/xXDeath420Xx/livebot/internal/reconcile"
	"github.com/xXDeath420Xx/livebot/internal/teamsync"
)

const testToken = "s3cret"

type mockAppService struct {
	purgeIdentityFn func(ctx context.Context, streamerID uuid.UUID, reason string) (app.PurgeReport, error)
	triggerPassFn   func(ctx context.Context) (reconcile.Summary, error)
	syncTeamFn      func(ctx context.Context, teamID uuid.UUID) (teamsync.Result, error)
	deadLettersFn   func(ctx context.Context, limit int) ([]domain.DeadLetter, error)
}

func (m *mockAppService) PurgeIdentity(ctx context.Context, streamerID uuid.UUID, reason string) (app.PurgeReport, error) {
	if m.purgeIdentityFn != nil {
		return m.purgeIdentityFn(ctx, streamerID, reason)
	}
	return app.PurgeReport{StreamerID: streamerID}, nil
}

func (m *mockAppService) TriggerPass(ctx context.Context) (reconcile.Summary, error) {
	if m.triggerPassFn != nil {
		return m.triggerPassFn(ctx)
	}
	return reconcile.Summary{}, nil
}

func (m *mockAppService) SyncTeam(ctx context.Context, teamID uuid.UUID) (teamsync.Result, error) {
	if m.syncTeamFn != nil {
		return m.syncTeamFn(ctx, teamID)
	}
	return teamsync.Result{TeamID: teamID}, nil
}

func (m *mockAppService) DeadLetters(ctx context.Context, limit int) ([]domain.DeadLetter, error) {
	if m.deadLettersFn != nil {
		return m.deadLettersFn(ctx, limit)
	}
	return nil, nil
}

func newTestServer(t *testing.T, svc appService, opts ...Option) *Server {
	t.Helper()
	return NewServer(Config{Port: "0", AdminToken: testToken}, svc, opts...)
}

func do(srv *Server, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	req.Header.Set("Authorization", "Bearer "+testToken)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}
