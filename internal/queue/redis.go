package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ironscout/harvester/infrastructure/logger"
)

// Lua results from enqueueScript.
const (
	scriptAccepted     = 1
	scriptDeduplicated = 2
	scriptQueueFull    = -1
	scriptAdapterLimit = -2
)

// enqueueScript admits a job atomically.
// KEYS: jobs hash, waiting zset, active zset, adapter pending counter.
// ARGV: job id, payload, score, capacity, max pending per adapter.
var enqueueScript = redis.NewScript(`
	if redis.call("HEXISTS", KEYS[1], ARGV[1]) == 1 then
		return 2
	end
	local total = redis.call("ZCARD", KEYS[2]) + redis.call("ZCARD", KEYS[3])
	if total >= tonumber(ARGV[4]) then
		return -1
	end
	local pending = tonumber(redis.call("GET", KEYS[4]) or "0")
	if pending >= tonumber(ARGV[5]) then
		return -2
	end
	redis.call("HSET", KEYS[1], ARGV[1], ARGV[2])
	redis.call("ZADD", KEYS[2], ARGV[3], ARGV[1])
	redis.call("INCR", KEYS[4])
	return 1
`)

// decrementScript lowers a counter without going below zero.
var decrementScript = redis.NewScript(`
	local v = tonumber(redis.call("GET", KEYS[1]) or "0")
	if v <= 0 then
		return 0
	end
	return redis.call("DECR", KEYS[1])
`)

// claimScript moves the oldest waiting job to active and returns its payload.
var claimScript = redis.NewScript(`
	local ids = redis.call("ZRANGE", KEYS[1], 0, 0)
	if #ids == 0 then
		return false
	end
	redis.call("ZREM", KEYS[1], ids[1])
	redis.call("ZADD", KEYS[2], ARGV[1], ids[1])
	return redis.call("HGET", KEYS[3], ids[1])
`)

// RedisConfig sizes the queue.
type RedisConfig struct {
	KeyPrefix            string
	Capacity             int
	MaxPendingPerAdapter int
	RejectRetryAfter     time.Duration
}

// RedisQueue is a Queue backed by Redis. Waiting and active jobs are sorted
// sets scored by enqueue time; payloads live in one hash keyed by job id.
type RedisQueue struct {
	client *redis.Client
	cfg    RedisConfig
	logger logger.Logger
}

var (
	_ Queue  = (*RedisQueue)(nil)
	_ Worker = (*RedisQueue)(nil)
)

// NewRedisQueue creates a queue on an existing client.
func NewRedisQueue(client *redis.Client, cfg RedisConfig, log logger.Logger) *RedisQueue {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "harvester:queue"
	}
	return &RedisQueue{client: client, cfg: cfg, logger: log}
}

func (q *RedisQueue) jobsKey() string    { return q.cfg.KeyPrefix + ":jobs" }
func (q *RedisQueue) waitingKey() string { return q.cfg.KeyPrefix + ":waiting" }
func (q *RedisQueue) activeKey() string  { return q.cfg.KeyPrefix + ":active" }

func (q *RedisQueue) pendingKey(adapterID string) string {
	return fmt.Sprintf("%s:pending:%s", q.cfg.KeyPrefix, adapterID)
}

func (q *RedisQueue) stateKey(state JobState) (string, error) {
	switch state {
	case JobStateWaiting:
		return q.waitingKey(), nil
	case JobStateActive:
		return q.activeKey(), nil
	default:
		return "", fmt.Errorf("unknown job state %q", state)
	}
}

// Enqueue admits the job unless it is already queued, the queue is full or the
// adapter has too many pending jobs.
func (q *RedisQueue) Enqueue(ctx context.Context, job Job) (EnqueueResult, error) {
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now().UTC()
	}

	payload, err := json.Marshal(job)
	if err != nil {
		return EnqueueResult{}, fmt.Errorf("marshal job %s: %w", job.ID(), err)
	}

	keys := []string{q.jobsKey(), q.waitingKey(), q.activeKey(), q.pendingKey(job.AdapterID)}
	code, err := enqueueScript.Run(ctx, q.client, keys,
		job.ID(), payload, job.EnqueuedAt.UnixMilli(), q.cfg.Capacity, q.cfg.MaxPendingPerAdapter,
	).Int()
	if err != nil {
		return EnqueueResult{}, fmt.Errorf("enqueue %s: %w", job.ID(), err)
	}

	switch code {
	case scriptAccepted:
		return EnqueueResult{Status: EnqueueAccepted}, nil
	case scriptDeduplicated:
		return EnqueueResult{Status: EnqueueDeduplicated}, nil
	case scriptQueueFull:
		return q.rejected(ReasonQueueFull), nil
	case scriptAdapterLimit:
		return q.rejected(ReasonAdapterPendingLimit), nil
	default:
		return EnqueueResult{}, fmt.Errorf("enqueue %s: unexpected script result %d", job.ID(), code)
	}
}

func (q *RedisQueue) rejected(reason string) EnqueueResult {
	return EnqueueResult{Status: EnqueueRejected, Reason: reason, RetryAfter: q.cfg.RejectRetryAfter}
}

// Jobs lists jobs in the given states, oldest first within each state.
func (q *RedisQueue) Jobs(ctx context.Context, states []JobState) ([]Job, error) {
	var jobs []Job
	for _, state := range states {
		key, err := q.stateKey(state)
		if err != nil {
			return nil, err
		}

		ids, err := q.client.ZRange(ctx, key, 0, -1).Result()
		if err != nil {
			return nil, fmt.Errorf("list %s jobs: %w", state, err)
		}
		if len(ids) == 0 {
			continue
		}

		payloads, err := q.client.HMGet(ctx, q.jobsKey(), ids...).Result()
		if err != nil {
			return nil, fmt.Errorf("load %s jobs: %w", state, err)
		}

		for i, raw := range payloads {
			s, ok := raw.(string)
			if !ok {
				// Removed between the two reads.
				continue
			}
			var job Job
			if decodeErr := json.Unmarshal([]byte(s), &job); decodeErr != nil {
				q.logger.Warn("Skipping undecodable queue entry",
					logger.String("job_id", ids[i]),
					logger.Error(decodeErr),
				)
				continue
			}
			job.State = state
			jobs = append(jobs, job)
		}
	}
	return jobs, nil
}

// Stats reports occupancy against the configured capacity.
func (q *RedisQueue) Stats(ctx context.Context) (Stats, error) {
	pipe := q.client.Pipeline()
	waiting := pipe.ZCard(ctx, q.waitingKey())
	active := pipe.ZCard(ctx, q.activeKey())
	if _, err := pipe.Exec(ctx); err != nil {
		return Stats{}, fmt.Errorf("read queue stats: %w", err)
	}

	total := int(waiting.Val() + active.Val())
	return Stats{
		Waiting:            int(waiting.Val()),
		Active:             int(active.Val()),
		Total:              total,
		Capacity:           q.cfg.Capacity,
		UtilizationPercent: Utilization(total, q.cfg.Capacity),
	}, nil
}

// DecrementAdapterPending lowers the adapter's pending count, never below zero.
func (q *RedisQueue) DecrementAdapterPending(ctx context.Context, adapterID string) error {
	if err := decrementScript.Run(ctx, q.client, []string{q.pendingKey(adapterID)}).Err(); err != nil {
		return fmt.Errorf("decrement pending for %s: %w", adapterID, err)
	}
	return nil
}

// AdapterPending returns the adapter's pending count.
func (q *RedisQueue) AdapterPending(ctx context.Context, adapterID string) (int, error) {
	n, err := q.client.Get(ctx, q.pendingKey(adapterID)).Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read pending for %s: %w", adapterID, err)
	}
	return n, nil
}

// Remove deletes the job from every state. The adapter counter is left to the caller.
func (q *RedisQueue) Remove(ctx context.Context, job Job) error {
	id := job.ID()
	pipe := q.client.TxPipeline()
	pipe.HDel(ctx, q.jobsKey(), id)
	pipe.ZRem(ctx, q.waitingKey(), id)
	pipe.ZRem(ctx, q.activeKey(), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("remove %s: %w", id, err)
	}
	return nil
}

// Claim moves the oldest waiting job to active. It returns nil when nothing waits.
func (q *RedisQueue) Claim(ctx context.Context) (*Job, error) {
	keys := []string{q.waitingKey(), q.activeKey(), q.jobsKey()}
	raw, err := claimScript.Run(ctx, q.client, keys, time.Now().UnixMilli()).Text()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim job: %w", err)
	}

	var job Job
	if decodeErr := json.Unmarshal([]byte(raw), &job); decodeErr != nil {
		return nil, fmt.Errorf("decode claimed job: %w", decodeErr)
	}
	job.State = JobStateActive
	return &job, nil
}

// Ack removes a finished job and releases its adapter slot.
func (q *RedisQueue) Ack(ctx context.Context, job Job) error {
	if err := q.Remove(ctx, job); err != nil {
		return err
	}
	return q.DecrementAdapterPending(ctx, job.AdapterID)
}
