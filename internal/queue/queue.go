// Package queue hands submitted task ids from the serving process to the
// worker pool. The task id doubles as the idempotency key: enqueueing an id
// that was already accepted within the dedupe window is a conflict, which
// gives at-most-one-active-run-per-id semantics without any coordination in
// the pipeline itself.
package queue

import "context"

// Queue is the task hand-off between submission and the worker pool.
type Queue interface {
	// Enqueue adds a task id. A duplicate id inside the idempotency
	// window returns a conflict error.
	Enqueue(ctx context.Context, taskID string) error

	// Dequeue blocks up to the configured pop timeout and returns the
	// next task id, or the empty string when none arrived in time.
	Dequeue(ctx context.Context) (string, error)

	// Depth reports the number of ids currently waiting.
	Depth(ctx context.Context) (int64, error)

	// HealthCheck verifies the backing broker is reachable.
	HealthCheck(ctx context.Context) error
}
