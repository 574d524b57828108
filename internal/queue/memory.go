package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/skillstream/skillstream/model"
)

// MemoryQueue is an in-process Queue for testing and single-instance
// setups. Dedupe entries never expire; the queue lives only as long as the
// process, which is shorter than any reasonable dedupe window.
type MemoryQueue struct {
	mu         sync.Mutex
	seen       map[string]bool
	ch         chan string
	popTimeout time.Duration
}

// NewMemoryQueue creates an in-memory queue with the given buffer capacity.
func NewMemoryQueue(capacity int, popTimeout time.Duration) *MemoryQueue {
	if capacity <= 0 {
		capacity = 128
	}
	if popTimeout <= 0 {
		popTimeout = 5 * time.Second
	}
	return &MemoryQueue{
		seen:       make(map[string]bool),
		ch:         make(chan string, capacity),
		popTimeout: popTimeout,
	}
}

func (q *MemoryQueue) Enqueue(_ context.Context, taskID string) error {
	q.mu.Lock()
	if q.seen[taskID] {
		q.mu.Unlock()
		return model.NewConflictError(fmt.Sprintf("task %q already submitted", taskID))
	}
	q.seen[taskID] = true
	q.mu.Unlock()

	select {
	case q.ch <- taskID:
		return nil
	default:
		q.mu.Lock()
		delete(q.seen, taskID)
		q.mu.Unlock()
		return fmt.Errorf("queue full")
	}
}

func (q *MemoryQueue) Dequeue(ctx context.Context) (string, error) {
	timer := time.NewTimer(q.popTimeout)
	defer timer.Stop()
	select {
	case taskID := <-q.ch:
		return taskID, nil
	case <-timer.C:
		return "", nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (q *MemoryQueue) Depth(context.Context) (int64, error) {
	return int64(len(q.ch)), nil
}

func (q *MemoryQueue) HealthCheck(context.Context) error { return nil }
