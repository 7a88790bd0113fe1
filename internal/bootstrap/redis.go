package bootstrap

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/ironscout/harvester/infrastructure/logger"
	infraredis "github.com/ironscout/harvester/infrastructure/redis"
	"github.com/ironscout/harvester/infrastructure/retry"
	"github.com/ironscout/harvester/internal/queue"
)

// QueueComponents holds the Redis client and the job queue built on it.
type QueueComponents struct {
	Client *redis.Client
	Queue  *queue.RedisQueue
}

// SetupQueue connects to Redis, retrying transient failures, and creates the
// job queue.
func SetupQueue(ctx context.Context, deps *CommandDeps) (*QueueComponents, error) {
	var client *redis.Client
	err := retry.Retry(ctx, retry.DefaultConfig(), func() error {
		c, connErr := infraredis.NewClient(ctx, deps.Config.Redis)
		if connErr != nil {
			deps.Logger.Warn("Redis not ready", logger.Error(connErr))
			return connErr
		}
		client = c
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	qcfg := deps.Config.Queue
	q := queue.NewRedisQueue(client, queue.RedisConfig{
		KeyPrefix:            qcfg.KeyPrefix,
		Capacity:             qcfg.Capacity,
		MaxPendingPerAdapter: qcfg.MaxPendingPerAdapter,
		RejectRetryAfter:     qcfg.RejectRetryAfter,
	}, deps.Logger)

	deps.Logger.Info("Connected to Redis",
		logger.String("address", deps.Config.Redis.Address),
		logger.String("key_prefix", qcfg.KeyPrefix),
		logger.Int("capacity", qcfg.Capacity),
	)
	return &QueueComponents{Client: client, Queue: q}, nil
}

// Close closes the Redis client.
func (c *QueueComponents) Close(log logger.Logger) {
	if err := c.Client.Close(); err != nil {
		log.Error("Failed to close redis client", logger.Error(err))
	}
}
