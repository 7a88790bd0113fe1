package metrics_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/ironscout/harvester/infrastructure/metrics"
)

func TestMiddleware_LabelsByRouteTemplate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	reg := prometheus.NewRegistry()
	m := metrics.NewHTTPMetrics(reg, "test")

	router := gin.New()
	router.Use(m.Middleware())
	router.POST("/targets/:id/trigger", func(c *gin.Context) { c.Status(http.StatusAccepted) })

	for _, path := range []string{"/targets/a/trigger", "/targets/b/trigger", "/nowhere"} {
		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, path, nil))
	}

	count, err := testutil.GatherAndCount(reg, "test_http_requests_total")
	assert.NoError(t, err)
	assert.Equal(t, 2, count)

	expected := `
# HELP test_http_requests_total Total number of HTTP requests
# TYPE test_http_requests_total counter
test_http_requests_total{method="POST",route="/targets/:id/trigger",status="202"} 2
test_http_requests_total{method="POST",route="unmatched",status="404"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "test_http_requests_total"))
}
