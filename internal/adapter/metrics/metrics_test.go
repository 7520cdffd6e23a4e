package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegistry_AllCollectorsRegister(t *testing.T) {
	reg := NewRegistry()

	require.NotPanics(t, func() {
		NewCacheMetrics(reg)
		NewReconcileMetrics(reg)
		NewProbeMetrics(reg)
		NewWorkerMetrics(reg)
		NewRoleMetrics(reg)
		NewTeamSyncMetrics(reg)
		NewRedisMetrics(reg)
		NewHTTPMetrics(reg)
		NewDBMetrics(reg)
		NewDiscordMetrics(reg)
	})
}

func TestHandler_ServesNamespacedMetrics(t *testing.T) {
	reg := NewRegistry()
	m := NewReconcileMetrics(reg)
	m.PassesTotal.WithLabelValues("completed").Inc()

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `livebot_reconcile_passes_total{outcome="completed"} 1`)
}

func TestProbeMetrics_CountsByLabel(t *testing.T) {
	reg := NewRegistry()
	m := NewProbeMetrics(reg)

	m.Calls.WithLabelValues("twitch", "live").Inc()
	m.Calls.WithLabelValues("twitch", "live").Inc()
	m.Calls.WithLabelValues("kick", "error").Inc()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Calls.WithLabelValues("twitch", "live")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Calls.WithLabelValues("kick", "error")))
}
