package bootstrap

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/ironscout/harvester/infrastructure/logger"
	"github.com/ironscout/harvester/infrastructure/retry"
	"github.com/ironscout/harvester/internal/database"
)

// DatabaseComponents holds the connection and the repository bundle.
type DatabaseComponents struct {
	DB    *sqlx.DB
	Store *database.Store
}

// SetupDatabase connects to PostgreSQL, retrying transient failures, and
// creates all repositories.
func SetupDatabase(ctx context.Context, deps *CommandDeps) (*DatabaseComponents, error) {
	db, err := ConnectDatabase(ctx, deps)
	if err != nil {
		return nil, err
	}
	return &DatabaseComponents{DB: db, Store: database.NewStore(db)}, nil
}

// ConnectDatabase opens the PostgreSQL pool, retrying transient failures.
func ConnectDatabase(ctx context.Context, deps *CommandDeps) (*sqlx.DB, error) {
	var db *sqlx.DB
	err := retry.Retry(ctx, retry.DefaultConfig(), func() error {
		conn, connErr := database.NewPostgresConnection(ctx, deps.Config.Database)
		if connErr != nil {
			deps.Logger.Warn("Database not ready", logger.Error(connErr))
			return connErr
		}
		db = conn
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	deps.Logger.Info("Connected to PostgreSQL",
		logger.String("host", deps.Config.Database.Host),
		logger.String("database", deps.Config.Database.Database),
	)
	return db, nil
}

// Migrate applies pending schema migrations.
func (c *DatabaseComponents) Migrate(log logger.Logger) error {
	migrator, err := database.NewMigrator(c.DB, log)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}
	if upErr := migrator.Up(); upErr != nil {
		return fmt.Errorf("failed to migrate database: %w", upErr)
	}
	return nil
}

// Close closes the connection pool.
func (c *DatabaseComponents) Close(log logger.Logger) {
	if err := c.DB.Close(); err != nil {
		log.Error("Failed to close database", logger.Error(err))
	}
}
