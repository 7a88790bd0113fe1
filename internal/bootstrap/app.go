// Package bootstrap handles application initialization and lifecycle management
// for the harvester scheduler.
//
// The bootstrap process follows these phases:
//   - Phase 1: Config & Logger - Load configuration and create logger
//   - Phase 2: Database - Connect to PostgreSQL, migrate, create repositories
//   - Phase 3: Queue - Connect to Redis and create the job queue
//   - Phase 4: Services - Register adapters and wire the scheduler
//   - Phase 5: Server - Create and start the admin HTTP server
//   - Phase 6: Run - Wait for interrupt signal or error
package bootstrap

import (
	"context"
	"fmt"

	"github.com/ironscout/harvester/infrastructure/logger"
)

// Start initializes and runs the harvester until interrupted.
func Start(ctx context.Context, configPath string) error {
	// Phase 1: Initialize config and logger
	deps, err := NewCommandDeps(configPath)
	if err != nil {
		return fmt.Errorf("failed to initialize dependencies: %w", err)
	}
	defer func() { _ = deps.Logger.Sync() }()

	// Phase 2: Setup database (PostgreSQL) and repositories
	dbComponents, err := SetupDatabase(ctx, deps)
	if err != nil {
		return fmt.Errorf("failed to setup database: %w", err)
	}
	defer dbComponents.Close(deps.Logger)

	if migrateErr := dbComponents.Migrate(deps.Logger); migrateErr != nil {
		return migrateErr
	}

	// Phase 3: Setup queue (Redis)
	queueComponents, err := SetupQueue(ctx, deps)
	if err != nil {
		return fmt.Errorf("failed to setup queue: %w", err)
	}
	defer queueComponents.Close(deps.Logger)

	// Phase 4: Setup services (registry, scheduler)
	services, err := SetupServices(ctx, deps, dbComponents, queueComponents)
	if err != nil {
		return fmt.Errorf("failed to setup services: %w", err)
	}

	if services.Enabled {
		if startErr := services.Scheduler.Start(ctx); startErr != nil {
			return fmt.Errorf("failed to start scheduler: %w", startErr)
		}
	} else {
		deps.Logger.Info("Scheduler disabled; serving admin API only")
	}

	// Phase 5: Setup HTTP server
	serverComponents := SetupHTTPServer(deps, dbComponents, queueComponents, services)

	// Phase 6: Run until interrupt or error
	return RunUntilInterrupt(deps.Logger, serverComponents.Server, services.Scheduler, serverComponents.ErrorChan)
}

// TickOnce wires the scheduler without the loop or HTTP server, runs a single
// tick and returns its report.
func TickOnce(ctx context.Context, configPath string) (*TickResult, error) {
	deps, err := NewCommandDeps(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize dependencies: %w", err)
	}
	defer func() { _ = deps.Logger.Sync() }()

	dbComponents, err := SetupDatabase(ctx, deps)
	if err != nil {
		return nil, fmt.Errorf("failed to setup database: %w", err)
	}
	defer dbComponents.Close(deps.Logger)

	queueComponents, err := SetupQueue(ctx, deps)
	if err != nil {
		return nil, fmt.Errorf("failed to setup queue: %w", err)
	}
	defer queueComponents.Close(deps.Logger)

	services, err := SetupServices(ctx, deps, dbComponents, queueComponents)
	if err != nil {
		return nil, fmt.Errorf("failed to setup services: %w", err)
	}

	report := services.Scheduler.Tick(ctx)
	deps.Logger.Info("Single tick finished",
		logger.String("outcome", report.Outcome),
		logger.Int("enqueued", report.Enqueued),
	)
	return &TickResult{Enabled: services.Enabled, Report: report}, nil
}
