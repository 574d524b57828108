package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/skillstream/skillstream/model"
)

// MemoryStore is an in-memory Store for testing and single-process setups.
type MemoryStore struct {
	mu    sync.RWMutex
	tasks map[string]model.Task // key: task ID
}

// NewMemoryStore creates a new in-memory task store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tasks: make(map[string]model.Task),
	}
}

// Create persists a new task.
func (s *MemoryStore) Create(_ context.Context, task model.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tasks[task.ID]; exists {
		return model.NewConflictError(
			fmt.Sprintf("task %q already exists", task.ID),
		)
	}
	s.tasks[task.ID] = task
	return nil
}

// Get retrieves a task by ID.
func (s *MemoryStore) Get(_ context.Context, taskID string) (model.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	task, exists := s.tasks[taskID]
	if !exists {
		return model.Task{}, model.NewTaskNotFoundError(taskID)
	}
	return task, nil
}

// List returns tasks matching the filters, newest first.
func (s *MemoryStore) List(_ context.Context, filters Filters) ([]model.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var tasks []model.Task
	for _, task := range s.tasks {
		if filters.UserID != "" && task.UserID != filters.UserID {
			continue
		}
		if filters.Status != "" && task.Status != filters.Status {
			continue
		}
		if filters.Kind != "" && task.Kind != filters.Kind {
			continue
		}
		tasks = append(tasks, task)
	}

	sort.Slice(tasks, func(i, j int) bool {
		return tasks[i].StartedAt.After(tasks[j].StartedAt)
	})

	if filters.Offset > 0 {
		if filters.Offset >= len(tasks) {
			return nil, nil
		}
		tasks = tasks[filters.Offset:]
	}
	if filters.Limit > 0 && filters.Limit < len(tasks) {
		tasks = tasks[:filters.Limit]
	}
	return tasks, nil
}

// Start transitions a pending task to in_progress.
func (s *MemoryStore) Start(_ context.Context, taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, exists := s.tasks[taskID]
	if !exists {
		return model.NewTaskNotFoundError(taskID)
	}
	if task.Status != model.TaskStatusPending {
		return nil
	}
	task.Status = model.TaskStatusInProgress
	task.StartedAt = time.Now().UTC()
	s.tasks[taskID] = task
	return nil
}

// Advance updates progress and the step label, ignoring regressions and
// post-terminal calls.
func (s *MemoryStore) Advance(_ context.Context, taskID string, progress int, step string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, exists := s.tasks[taskID]
	if !exists {
		return model.NewTaskNotFoundError(taskID)
	}
	if task.Status.Terminal() || progress < task.Progress {
		return nil
	}
	task.Progress = progress
	task.CurrentStep = step
	s.tasks[taskID] = task
	return nil
}

// Complete transitions the task to completed with its report.
func (s *MemoryStore) Complete(_ context.Context, taskID string, report *model.Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, exists := s.tasks[taskID]
	if !exists {
		return model.NewTaskNotFoundError(taskID)
	}
	if task.Status.Terminal() {
		return nil
	}
	now := time.Now().UTC()
	task.Status = model.TaskStatusCompleted
	task.Progress = 100
	task.Result = report
	task.ErrorMessage = ""
	task.CompletedAt = &now
	s.tasks[taskID] = task
	return nil
}

// Fail transitions the task to failed with an error message.
func (s *MemoryStore) Fail(_ context.Context, taskID string, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, exists := s.tasks[taskID]
	if !exists {
		return model.NewTaskNotFoundError(taskID)
	}
	if task.Status.Terminal() {
		return nil
	}
	now := time.Now().UTC()
	task.Status = model.TaskStatusFailed
	task.ErrorMessage = message
	task.Result = nil
	task.CompletedAt = &now
	s.tasks[taskID] = task
	return nil
}

// HealthCheck always succeeds for the in-memory store.
func (s *MemoryStore) HealthCheck(_ context.Context) error {
	return nil
}
