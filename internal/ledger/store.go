// Package ledger persists task progress records. The ledger is the durable
// source of truth for task state: live events are advisory, and any consumer
// can reconstruct where a task stands from the ledger alone.
package ledger

import (
	"context"

	"github.com/skillstream/skillstream/model"
)

// Store persists task progress records.
//
// Progress is monotone: an Advance carrying a lower progress value than the
// stored one is ignored. Once a task reaches a terminal status, every further
// mutation is a silent no-op.
type Store interface {
	// Create persists a new task in pending status.
	Create(ctx context.Context, task model.Task) error

	// Get retrieves a task by ID. Returns TASK_NOT_FOUND if absent.
	Get(ctx context.Context, taskID string) (model.Task, error)

	// List returns tasks matching the filters, newest first.
	List(ctx context.Context, filters Filters) ([]model.Task, error)

	// Start transitions a pending task to in_progress and stamps StartedAt.
	Start(ctx context.Context, taskID string) error

	// Advance updates progress and the current step label. Regressions and
	// post-terminal calls are ignored.
	Advance(ctx context.Context, taskID string, progress int, step string) error

	// Complete transitions the task to completed with the final report,
	// setting progress to 100. No-op if already terminal.
	Complete(ctx context.Context, taskID string, report *model.Report) error

	// Fail transitions the task to failed with an error message. No-op if
	// already terminal.
	Fail(ctx context.Context, taskID string, message string) error

	// HealthCheck verifies the backing store is reachable.
	HealthCheck(ctx context.Context) error
}

// Filters are optional filters for listing tasks.
type Filters struct {
	UserID string
	Status model.TaskStatus
	Kind   model.TaskKind
	Limit  int
	Offset int
}
