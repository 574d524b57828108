package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/skillstream/skillstream/model"
)

// RedisQueue is a Redis list with a SETNX dedupe key per task id. LPUSH on
// submit, BRPOP on the worker side, so ids come out in submission order.
type RedisQueue struct {
	client     redis.UniversalClient
	name       string
	dedupeTTL  time.Duration
	popTimeout time.Duration
}

// NewRedisQueue creates a queue on the named Redis list.
func NewRedisQueue(client redis.UniversalClient, name string, dedupeTTL, popTimeout time.Duration) *RedisQueue {
	if name == "" {
		name = "skillstream:tasks"
	}
	if dedupeTTL <= 0 {
		dedupeTTL = 24 * time.Hour
	}
	if popTimeout <= 0 {
		popTimeout = 5 * time.Second
	}
	return &RedisQueue{
		client:     client,
		name:       name,
		dedupeTTL:  dedupeTTL,
		popTimeout: popTimeout,
	}
}

func (q *RedisQueue) dedupeKey(taskID string) string {
	return q.name + ":seen:" + taskID
}

// Enqueue claims the dedupe key first; losing the claim means the id was
// already accepted and the push is skipped.
func (q *RedisQueue) Enqueue(ctx context.Context, taskID string) error {
	claimed, err := q.client.SetNX(ctx, q.dedupeKey(taskID), 1, q.dedupeTTL).Result()
	if err != nil {
		return fmt.Errorf("queue dedupe %q: %w", taskID, err)
	}
	if !claimed {
		return model.NewConflictError(fmt.Sprintf("task %q already submitted", taskID))
	}
	if err := q.client.LPush(ctx, q.name, taskID).Err(); err != nil {
		return fmt.Errorf("queue push %q: %w", taskID, err)
	}
	return nil
}

// Dequeue pops the next id, returning "" after the pop timeout elapses
// with nothing queued.
func (q *RedisQueue) Dequeue(ctx context.Context) (string, error) {
	vals, err := q.client.BRPop(ctx, q.popTimeout, q.name).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("queue pop: %w", err)
	}
	if len(vals) != 2 {
		return "", fmt.Errorf("queue pop: unexpected reply %v", vals)
	}
	return vals[1], nil
}

// Depth reports the current list length.
func (q *RedisQueue) Depth(ctx context.Context) (int64, error) {
	n, err := q.client.LLen(ctx, q.name).Result()
	if err != nil {
		return 0, fmt.Errorf("queue depth: %w", err)
	}
	return n, nil
}

// HealthCheck pings the broker.
func (q *RedisQueue) HealthCheck(ctx context.Context) error {
	if err := q.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("queue redis ping: %w", err)
	}
	return nil
}
