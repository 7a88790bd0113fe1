package bootstrap

import (
	"context"

	infragin "github.com/ironscout/harvester/infrastructure/gin"
	"github.com/ironscout/harvester/infrastructure/metrics"
	"github.com/ironscout/harvester/internal/api"
	"github.com/ironscout/harvester/internal/observability"
)

// ServerComponents holds the HTTP server and its error channel.
type ServerComponents struct {
	Server    *infragin.Server
	ErrorChan <-chan error
}

// SetupHTTPServer builds the admin server and starts it in the background.
func SetupHTTPServer(
	deps *CommandDeps,
	db *DatabaseComponents,
	q *QueueComponents,
	services *ServiceComponents,
) *ServerComponents {
	serverCfg := deps.Config.Server
	ginCfg := &infragin.Config{
		Port:            serverCfg.Port,
		Debug:           serverCfg.Debug,
		ReadTimeout:     serverCfg.ReadTimeout,
		WriteTimeout:    serverCfg.WriteTimeout,
		ShutdownTimeout: serverCfg.ShutdownTimeout,
		ServiceName:     ServiceName,
		ServiceVersion:  Version,
	}

	server := api.NewServer(ginCfg, api.Deps{
		Scheduler:        services.Scheduler,
		SchedulerEnabled: services.Enabled,
		Targets:          db.Store.Targets,
		Settings:         db.Store.Settings,
		Gatherer:         services.MetricsRegistry,
		HTTPMetrics:      metrics.NewHTTPMetrics(services.MetricsRegistry, observability.MetricsNamespace),
		HealthChecks: map[string]infragin.HealthChecker{
			"database": db.DB.PingContext,
			"redis": func(ctx context.Context) error {
				return q.Client.Ping(ctx).Err()
			},
		},
		Logger: deps.Logger,
	})

	return &ServerComponents{
		Server:    server,
		ErrorChan: server.StartAsync(),
	}
}
