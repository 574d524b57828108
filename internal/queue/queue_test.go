package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/skillstream/skillstream/model"
)

func newTestRedisQueue(t *testing.T) *RedisQueue {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisQueue(client, "skillstream:tasks", time.Hour, 100*time.Millisecond)
}

func assertConflict(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected conflict error, got nil")
	}
	var env *model.ErrorEnvelope
	if !errors.As(err, &env) {
		t.Fatalf("error type = %T, want *model.ErrorEnvelope", err)
	}
	if env.Code != model.ErrConflict {
		t.Fatalf("error code = %q, want %q", env.Code, model.ErrConflict)
	}
}

func TestRedisQueueRoundTrip(t *testing.T) {
	q := newTestRedisQueue(t)
	ctx := context.Background()

	if err := q.Enqueue(ctx, "task-1"); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := q.Enqueue(ctx, "task-2"); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	depth, err := q.Depth(ctx)
	if err != nil {
		t.Fatalf("Depth: %v", err)
	}
	if depth != 2 {
		t.Errorf("depth = %d, want 2", depth)
	}

	// Submission order is preserved.
	first, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
	if first != "task-1" {
		t.Errorf("first = %q, want task-1", first)
	}
	second, _ := q.Dequeue(ctx)
	if second != "task-2" {
		t.Errorf("second = %q, want task-2", second)
	}
}

func TestRedisQueueDuplicateIsConflict(t *testing.T) {
	q := newTestRedisQueue(t)
	ctx := context.Background()

	if err := q.Enqueue(ctx, "task-1"); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	assertConflict(t, q.Enqueue(ctx, "task-1"))

	// The duplicate must not add a second entry.
	depth, _ := q.Depth(ctx)
	if depth != 1 {
		t.Errorf("depth = %d, want 1", depth)
	}
}

func TestRedisQueueDedupeOutlivesDequeue(t *testing.T) {
	q := newTestRedisQueue(t)
	ctx := context.Background()

	if err := q.Enqueue(ctx, "task-1"); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if _, err := q.Dequeue(ctx); err != nil {
		t.Fatalf("Dequeue: %v", err)
	}

	// Re-submitting the same id after pickup is still a duplicate while
	// the dedupe window is open.
	assertConflict(t, q.Enqueue(ctx, "task-1"))
}

func TestRedisQueueDequeueTimeout(t *testing.T) {
	q := newTestRedisQueue(t)

	taskID, err := q.Dequeue(context.Background())
	if err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
	if taskID != "" {
		t.Errorf("taskID = %q, want empty on timeout", taskID)
	}
}

func TestRedisQueueHealthCheck(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	q := NewRedisQueue(client, "", 0, 0)

	if err := q.HealthCheck(context.Background()); err != nil {
		t.Fatalf("HealthCheck: %v", err)
	}

	mr.Close()
	if err := q.HealthCheck(context.Background()); err == nil {
		t.Error("expected health check failure after broker shutdown")
	}
}

func TestMemoryQueueRoundTrip(t *testing.T) {
	q := NewMemoryQueue(8, 50*time.Millisecond)
	ctx := context.Background()

	if err := q.Enqueue(ctx, "task-1"); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	assertConflict(t, q.Enqueue(ctx, "task-1"))

	taskID, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
	if taskID != "task-1" {
		t.Errorf("taskID = %q, want task-1", taskID)
	}

	taskID, err = q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
	if taskID != "" {
		t.Errorf("taskID = %q, want empty on timeout", taskID)
	}
}

func TestMemoryQueueDepth(t *testing.T) {
	q := NewMemoryQueue(8, 50*time.Millisecond)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		if err := q.Enqueue(ctx, id); err != nil {
			t.Fatalf("Enqueue %q: %v", id, err)
		}
	}
	depth, _ := q.Depth(ctx)
	if depth != 3 {
		t.Errorf("depth = %d, want 3", depth)
	}
}
