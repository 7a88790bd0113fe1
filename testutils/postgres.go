// Package testutils provides shared fakes and container helpers for tests.
package testutils

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	infraconfig "github.com/ironscout/harvester/infrastructure/config"
)

const (
	postgresImage          = "postgres:16-alpine"
	postgresStartupTimeout = 60 * time.Second
	postgresReadyOccurs    = 2
)

// PostgresContainer is a disposable PostgreSQL instance.
type PostgresContainer struct {
	Container testcontainers.Container
	Config    infraconfig.DatabaseConfig
}

// StartPostgres starts a PostgreSQL container and returns its connection settings.
func StartPostgres(ctx context.Context) (*PostgresContainer, error) {
	req := testcontainers.ContainerRequest{
		Image:        postgresImage,
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "harvester",
			"POSTGRES_PASSWORD": "harvester",
			"POSTGRES_DB":       "harvester_test",
		},
		// The entrypoint restarts the server once after init.
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(postgresReadyOccurs).
			WithStartupTimeout(postgresStartupTimeout),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start postgres container: %w", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("failed to get container host: %w", err)
	}

	mappedPort, err := container.MappedPort(ctx, "5432")
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("failed to get container port: %w", err)
	}

	port, err := strconv.Atoi(mappedPort.Port())
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("parse mapped port: %w", err)
	}

	cfg := infraconfig.DatabaseConfig{
		Host:     host,
		Port:     port,
		User:     "harvester",
		Password: "harvester",
		Database: "harvester_test",
	}
	cfg.SetDefaults()

	return &PostgresContainer{Container: container, Config: cfg}, nil
}

// Stop terminates the container.
func (p *PostgresContainer) Stop(ctx context.Context) error {
	if p == nil || p.Container == nil {
		return nil
	}
	return p.Container.Terminate(ctx)
}
