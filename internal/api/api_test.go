package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	infragin "github.com/ironscout/harvester/infrastructure/gin"
	"github.com/ironscout/harvester/infrastructure/logger"
	"github.com/ironscout/harvester/infrastructure/metrics"
	"github.com/ironscout/harvester/internal/api"
	"github.com/ironscout/harvester/internal/database"
	"github.com/ironscout/harvester/internal/domain"
	"github.com/ironscout/harvester/internal/observability"
	"github.com/ironscout/harvester/internal/scheduler"
	"github.com/ironscout/harvester/testutils"
)

type fakeStatus struct {
	status scheduler.Status
}

func (f fakeStatus) Status() scheduler.Status { return f.status }

type testServer struct {
	router *gin.Engine
	mem    *testutils.MemStore
}

func newTestServer(t *testing.T, deps api.Deps) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	mem := testutils.NewMemStore(func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) })
	store := mem.Store()
	if deps.Targets == nil {
		deps.Targets = store.Targets
	}
	if deps.Settings == nil {
		deps.Settings = store.Settings
	}
	deps.Logger = logger.NewNop()

	router := gin.New()
	api.SetupRoutes(router, &infragin.Config{ServiceName: "harvester", ServiceVersion: "test"}, deps)
	return &testServer{router: router, mem: mem}
}

func (s *testServer) do(method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func TestSchedulerStatus(t *testing.T) {
	last := &scheduler.TickReport{Outcome: observability.TickCompleted, Enqueued: 42}
	srv := newTestServer(t, api.Deps{
		SchedulerEnabled: true,
		Scheduler: fakeStatus{status: scheduler.Status{
			Started:      true,
			Mode:         "adapter",
			TickInterval: "1m0s",
			LastTick:     last,
		}},
	})

	w := srv.do(http.MethodGet, "/api/v1/scheduler/status", "")
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, true, body["enabled"])
	assert.Equal(t, true, body["started"])
	assert.Equal(t, "adapter", body["mode"])
	lastTick, ok := body["last_tick"].(map[string]any)
	require.True(t, ok)
	assert.InDelta(t, 42, lastTick["enqueued"], 0)
}

func TestSchedulerStatus_Disabled(t *testing.T) {
	srv := newTestServer(t, api.Deps{})

	w := srv.do(http.MethodGet, "/api/v1/scheduler/status", "")
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, false, body["enabled"])
	assert.Equal(t, false, body["started"])
	assert.NotContains(t, body, "last_tick")
}

func TestSetSchedulerEnabled(t *testing.T) {
	srv := newTestServer(t, api.Deps{})

	w := srv.do(http.MethodPut, "/api/v1/scheduler/enabled", `{"enabled": true}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"restart_required":true`)

	value, found, err := srv.mem.Store().Settings.GetBool(context.Background(), database.SettingSchedulerEnabled)
	require.NoError(t, err)
	assert.True(t, found)
	assert.True(t, value)
}

func TestSetSchedulerEnabled_Errors(t *testing.T) {
	srv := newTestServer(t, api.Deps{})

	w := srv.do(http.MethodPut, "/api/v1/scheduler/enabled", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	srv.mem.FailOn("Settings.SetBool", errors.New("db down"))
	w = srv.do(http.MethodPut, "/api/v1/scheduler/enabled", `{"enabled": false}`)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestTriggerTarget(t *testing.T) {
	srv := newTestServer(t, api.Deps{})
	srv.mem.AddTarget(domain.Target{ID: "t-1", SourceID: "s-1", AdapterID: "acme", Enabled: true, Status: domain.TargetStatusActive})

	w := srv.do(http.MethodPost, "/api/v1/targets/t-1/trigger", "")
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Contains(t, w.Body.String(), domain.LastStatusManualPending)

	got, ok := srv.mem.Target("t-1")
	require.True(t, ok)
	require.NotNil(t, got.LastStatus)
	assert.Equal(t, domain.LastStatusManualPending, *got.LastStatus)
}

func TestTriggerTarget_Errors(t *testing.T) {
	srv := newTestServer(t, api.Deps{})

	w := srv.do(http.MethodPost, "/api/v1/targets/missing/trigger", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.JSONEq(t, `{"error":"target not found","code":"NOT_FOUND"}`, w.Body.String())

	srv.mem.AddTarget(domain.Target{ID: "t-1", SourceID: "s-1", AdapterID: "acme"})
	srv.mem.FailOn("Targets.RequestManual", errors.New("db down"))
	w = srv.do(http.MethodPost, "/api/v1/targets/t-1/trigger", "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, api.Deps{
		HealthChecks: map[string]infragin.HealthChecker{
			"database": func(context.Context) error { return nil },
		},
	})
	w := srv.do(http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)

	srv = newTestServer(t, api.Deps{
		HealthChecks: map[string]infragin.HealthChecker{
			"redis": func(context.Context) error { return errors.New("connection refused") },
		},
	})
	w = srv.do(http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "connection refused")
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := observability.NewMetrics(reg)
	m.TicksTotal.WithLabelValues(observability.TickCompleted).Inc()

	srv := newTestServer(t, api.Deps{
		Gatherer:    reg,
		HTTPMetrics: metrics.NewHTTPMetrics(reg, observability.MetricsNamespace),
	})
	srv.do(http.MethodGet, "/api/v1/scheduler/status", "")

	w := srv.do(http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `harvester_scheduler_ticks_total{outcome="completed"} 1`)
	assert.Contains(t, w.Body.String(),
		`harvester_http_requests_total{method="GET",route="/api/v1/scheduler/status",status="200"} 1`)
}
