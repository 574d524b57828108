package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/skillstream/skillstream/model"
)

// Schema is the DDL for the tasks table. Applied by EnsureSchema on startup.
const Schema = `
CREATE TABLE IF NOT EXISTS tasks (
	id            TEXT PRIMARY KEY,
	kind          TEXT NOT NULL,
	status        TEXT NOT NULL,
	progress      INT  NOT NULL DEFAULT 0,
	current_step  TEXT NOT NULL DEFAULT '',
	total_steps   INT  NOT NULL,
	user_id       TEXT NOT NULL DEFAULT '',
	request       JSONB,
	result        JSONB,
	error_message TEXT NOT NULL DEFAULT '',
	started_at    TIMESTAMPTZ NOT NULL,
	completed_at  TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS tasks_user_id_idx ON tasks (user_id);
CREATE INDEX IF NOT EXISTS tasks_status_idx ON tasks (status);
`

// PgStore is a PostgreSQL-backed Store using pgx/v5.
type PgStore struct {
	pool *pgxpool.Pool
}

// NewPgStore creates a new PostgreSQL task store.
func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

// EnsureSchema creates the tasks table if it does not exist.
func (s *PgStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// Create inserts a new task row.
func (s *PgStore) Create(ctx context.Context, task model.Task) error {
	requestJSON, err := json.Marshal(task.Request)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO tasks (
			id, kind, status, progress, current_step, total_steps,
			user_id, request, error_message, started_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		task.ID, task.Kind, task.Status, task.Progress, task.CurrentStep, task.TotalSteps,
		task.UserID, requestJSON, task.ErrorMessage, task.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

// Get retrieves a task by ID.
func (s *PgStore) Get(ctx context.Context, taskID string) (model.Task, error) {
	var task model.Task
	var requestJSON, resultJSON []byte

	err := s.pool.QueryRow(ctx, `
		SELECT id, kind, status, progress, current_step, total_steps,
		       user_id, request, result, error_message, started_at, completed_at
		FROM tasks
		WHERE id = $1`,
		taskID,
	).Scan(
		&task.ID, &task.Kind, &task.Status, &task.Progress, &task.CurrentStep, &task.TotalSteps,
		&task.UserID, &requestJSON, &resultJSON, &task.ErrorMessage, &task.StartedAt, &task.CompletedAt,
	)
	if err == pgx.ErrNoRows {
		return model.Task{}, model.NewTaskNotFoundError(taskID)
	}
	if err != nil {
		return model.Task{}, fmt.Errorf("query task: %w", err)
	}

	if requestJSON != nil {
		if err := json.Unmarshal(requestJSON, &task.Request); err != nil {
			return model.Task{}, fmt.Errorf("unmarshal request: %w", err)
		}
	}
	if resultJSON != nil {
		if err := json.Unmarshal(resultJSON, &task.Result); err != nil {
			return model.Task{}, fmt.Errorf("unmarshal result: %w", err)
		}
	}
	return task, nil
}

// List returns tasks matching the filters, newest first.
func (s *PgStore) List(ctx context.Context, filters Filters) ([]model.Task, error) {
	query := `SELECT id, kind, status, progress, current_step, total_steps,
	                 user_id, request, result, error_message, started_at, completed_at
	          FROM tasks
	          WHERE 1=1`
	args := []any{}
	argIdx := 1

	if filters.UserID != "" {
		query += fmt.Sprintf(" AND user_id = $%d", argIdx)
		args = append(args, filters.UserID)
		argIdx++
	}
	if filters.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, filters.Status)
		argIdx++
	}
	if filters.Kind != "" {
		query += fmt.Sprintf(" AND kind = $%d", argIdx)
		args = append(args, filters.Kind)
		argIdx++
	}

	query += " ORDER BY started_at DESC"

	if filters.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, filters.Limit)
		argIdx++
	}
	if filters.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, filters.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()

	var tasks []model.Task
	for rows.Next() {
		var task model.Task
		var requestJSON, resultJSON []byte
		if err := rows.Scan(
			&task.ID, &task.Kind, &task.Status, &task.Progress, &task.CurrentStep, &task.TotalSteps,
			&task.UserID, &requestJSON, &resultJSON, &task.ErrorMessage, &task.StartedAt, &task.CompletedAt,
		); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		if requestJSON != nil {
			_ = json.Unmarshal(requestJSON, &task.Request)
		}
		if resultJSON != nil {
			_ = json.Unmarshal(resultJSON, &task.Result)
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

// Start transitions a pending task to in_progress.
func (s *PgStore) Start(ctx context.Context, taskID string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE tasks SET status = $1, started_at = $2
		WHERE id = $3 AND status = $4`,
		model.TaskStatusInProgress, time.Now().UTC(),
		taskID, model.TaskStatusPending,
	)
	if err != nil {
		return fmt.Errorf("start task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.verifyExists(ctx, taskID)
	}
	return nil
}

// Advance updates progress and the step label. The WHERE clause enforces
// monotone progress and terminal immutability in a single statement.
func (s *PgStore) Advance(ctx context.Context, taskID string, progress int, step string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE tasks SET progress = $1, current_step = $2
		WHERE id = $3 AND progress <= $1 AND status NOT IN ($4, $5)`,
		progress, step, taskID,
		model.TaskStatusCompleted, model.TaskStatusFailed,
	)
	if err != nil {
		return fmt.Errorf("advance task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.verifyExists(ctx, taskID)
	}
	return nil
}

// Complete transitions the task to completed with its report.
func (s *PgStore) Complete(ctx context.Context, taskID string, report *model.Report) error {
	resultJSON, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE tasks SET status = $1, progress = 100, result = $2,
		       error_message = '', completed_at = $3
		WHERE id = $4 AND status NOT IN ($1, $5)`,
		model.TaskStatusCompleted, resultJSON, time.Now().UTC(),
		taskID, model.TaskStatusFailed,
	)
	if err != nil {
		return fmt.Errorf("complete task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.verifyExists(ctx, taskID)
	}
	return nil
}

// Fail transitions the task to failed with an error message.
func (s *PgStore) Fail(ctx context.Context, taskID string, message string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE tasks SET status = $1, error_message = $2, result = NULL,
		       completed_at = $3
		WHERE id = $4 AND status NOT IN ($1, $5)`,
		model.TaskStatusFailed, message, time.Now().UTC(),
		taskID, model.TaskStatusCompleted,
	)
	if err != nil {
		return fmt.Errorf("fail task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.verifyExists(ctx, taskID)
	}
	return nil
}

// HealthCheck pings the database.
func (s *PgStore) HealthCheck(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// verifyExists distinguishes a guarded no-op update from a missing row.
func (s *PgStore) verifyExists(ctx context.Context, taskID string) error {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM tasks WHERE id = $1)`, taskID,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("verify task: %w", err)
	}
	if !exists {
		return model.NewTaskNotFoundError(taskID)
	}
	return nil
}
