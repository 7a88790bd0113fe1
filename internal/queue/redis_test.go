package queue_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ironscout/harvester/infrastructure/logger"
	"github.com/ironscout/harvester/internal/domain"
	"github.com/ironscout/harvester/internal/queue"
)

func newTestQueue(t *testing.T, cfg queue.RedisConfig) *queue.RedisQueue {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return queue.NewRedisQueue(client, cfg, logger.NewNop())
}

func job(targetID, adapterID string) queue.Job {
	return queue.Job{
		TargetID:   targetID,
		URL:        "https://shop.example/" + targetID,
		SourceID:   "src-1",
		AdapterID:  adapterID,
		RunID:      "run-1",
		Trigger:    domain.TriggerScheduled,
		EnqueuedAt: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestRedisQueue_EnqueueAcceptsAndDeduplicates(t *testing.T) {
	q := newTestQueue(t, queue.RedisConfig{Capacity: 10, MaxPendingPerAdapter: 10})
	ctx := context.Background()

	res, err := q.Enqueue(ctx, job("t-1", "acme"))
	require.NoError(t, err)
	assert.Equal(t, queue.EnqueueAccepted, res.Status)

	res, err = q.Enqueue(ctx, job("t-1", "acme"))
	require.NoError(t, err)
	assert.Equal(t, queue.EnqueueDeduplicated, res.Status)

	pending, err := q.AdapterPending(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, 1, pending)
}

func TestRedisQueue_RejectsWhenFull(t *testing.T) {
	q := newTestQueue(t, queue.RedisConfig{Capacity: 2, MaxPendingPerAdapter: 10, RejectRetryAfter: 5 * time.Second})
	ctx := context.Background()

	for _, id := range []string{"t-1", "t-2"} {
		res, err := q.Enqueue(ctx, job(id, "acme"))
		require.NoError(t, err)
		require.Equal(t, queue.EnqueueAccepted, res.Status)
	}

	res, err := q.Enqueue(ctx, job("t-3", "acme"))
	require.NoError(t, err)
	assert.Equal(t, queue.EnqueueRejected, res.Status)
	assert.Equal(t, queue.ReasonQueueFull, res.Reason)
	assert.Equal(t, 5*time.Second, res.RetryAfter)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Total)
	assert.InDelta(t, 100.0, stats.UtilizationPercent, 0.001)
}

func TestRedisQueue_RejectsOverAdapterLimit(t *testing.T) {
	q := newTestQueue(t, queue.RedisConfig{Capacity: 100, MaxPendingPerAdapter: 1, RejectRetryAfter: time.Second})
	ctx := context.Background()

	_, err := q.Enqueue(ctx, job("t-1", "acme"))
	require.NoError(t, err)

	res, err := q.Enqueue(ctx, job("t-2", "acme"))
	require.NoError(t, err)
	assert.Equal(t, queue.EnqueueRejected, res.Status)
	assert.Equal(t, queue.ReasonAdapterPendingLimit, res.Reason)

	// Other adapters are unaffected.
	res, err = q.Enqueue(ctx, job("t-3", "other"))
	require.NoError(t, err)
	assert.Equal(t, queue.EnqueueAccepted, res.Status)
}

func TestRedisQueue_WorkerClaimAckAndJobs(t *testing.T) {
	q := newTestQueue(t, queue.RedisConfig{Capacity: 10, MaxPendingPerAdapter: 10})
	var w queue.Worker = q
	ctx := context.Background()

	first := job("t-1", "acme")
	second := job("t-2", "acme")
	second.EnqueuedAt = first.EnqueuedAt.Add(time.Second)
	for _, j := range []queue.Job{first, second} {
		_, err := q.Enqueue(ctx, j)
		require.NoError(t, err)
	}

	claimed, err := w.Claim(ctx)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, "t-1", claimed.TargetID)

	active, err := q.Jobs(ctx, []queue.JobState{queue.JobStateActive})
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, queue.JobStateActive, active[0].State)

	all, err := q.Jobs(ctx, []queue.JobState{queue.JobStateWaiting, queue.JobStateActive})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	require.NoError(t, w.Ack(ctx, *claimed))

	pending, err := w.AdapterPending(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, 1, pending)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Waiting)
	assert.Equal(t, 0, stats.Active)
}

func TestRedisQueue_ClaimEmpty(t *testing.T) {
	q := newTestQueue(t, queue.RedisConfig{Capacity: 10, MaxPendingPerAdapter: 10})

	claimed, err := q.Claim(context.Background())
	require.NoError(t, err)
	assert.Nil(t, claimed)
}

func TestRedisQueue_DecrementNeverNegative(t *testing.T) {
	q := newTestQueue(t, queue.RedisConfig{Capacity: 10, MaxPendingPerAdapter: 10})
	ctx := context.Background()

	require.NoError(t, q.DecrementAdapterPending(ctx, "acme"))

	pending, err := q.AdapterPending(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, 0, pending)
}

func TestRedisQueue_RemoveAllowsRequeue(t *testing.T) {
	q := newTestQueue(t, queue.RedisConfig{Capacity: 10, MaxPendingPerAdapter: 10})
	ctx := context.Background()

	j := job("t-1", "acme")
	_, err := q.Enqueue(ctx, j)
	require.NoError(t, err)
	require.NoError(t, q.Remove(ctx, j))

	res, err := q.Enqueue(ctx, j)
	require.NoError(t, err)
	assert.Equal(t, queue.EnqueueAccepted, res.Status)
}

func TestUtilization(t *testing.T) {
	assert.InDelta(t, 50.0, queue.Utilization(5, 10), 0.001)
	assert.InDelta(t, 100.0, queue.Utilization(0, 0), 0.001)
}
