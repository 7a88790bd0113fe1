package api

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	infragin "github.com/ironscout/harvester/infrastructure/gin"
	"github.com/ironscout/harvester/infrastructure/logger"
	"github.com/ironscout/harvester/infrastructure/metrics"
	"github.com/ironscout/harvester/internal/database"
)

// Deps holds what the admin routes read and write.
type Deps struct {
	Scheduler        StatusProvider
	SchedulerEnabled bool
	Targets          ManualTriggerStore
	Settings         database.SettingsStore
	Gatherer         prometheus.Gatherer
	// HTTPMetrics, when set, records per-route request metrics.
	HTTPMetrics      *metrics.HTTPMetrics
	HealthChecks     map[string]infragin.HealthChecker
	Logger           logger.Logger
}

// NewServer builds the admin HTTP server.
func NewServer(cfg *infragin.Config, deps Deps) *infragin.Server {
	return infragin.NewServer(cfg, deps.Logger, func(router *gin.Engine) {
		SetupRoutes(router, cfg, deps)
	})
}

// SetupRoutes registers health, metrics and the v1 admin routes.
func SetupRoutes(router *gin.Engine, cfg *infragin.Config, deps Deps) {
	if deps.HTTPMetrics != nil {
		router.Use(deps.HTTPMetrics.Middleware())
	}
	infragin.RegisterHealthRoutes(router, cfg, deps.HealthChecks)

	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	schedulerHandler := NewSchedulerHandler(deps.Scheduler, deps.Settings, deps.SchedulerEnabled, deps.Logger)
	targetsHandler := NewTargetsHandler(deps.Targets, deps.Logger)

	v1 := router.Group("/api/v1")
	v1.GET("/scheduler/status", schedulerHandler.GetStatus)
	v1.PUT("/scheduler/enabled", schedulerHandler.SetEnabled)
	v1.POST("/targets/:id/trigger", targetsHandler.Trigger)
}
