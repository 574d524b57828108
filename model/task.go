// Package model contains the shared domain types exchanged between the
// worker process, the serving process, and the durable progress ledger.
package model

import (
	"strings"
	"time"
)

// TaskKind identifies which pipeline variant a task runs.
type TaskKind string

const (
	// TaskKindGeneration is the full document-backed generation pipeline.
	TaskKindGeneration TaskKind = "generation"
	// TaskKindQuickGeneration runs the same pipeline on raw request text.
	TaskKindQuickGeneration TaskKind = "quick_generation"
)

// TaskStatus is the lifecycle state of a task in the progress ledger.
type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusInProgress TaskStatus = "in_progress"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
)

// Terminal reports whether the status is a final state.
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed
}

// TotalSteps is the fixed number of pipeline stages per task.
const TotalSteps = 5

// TaskRequest is the input snapshot that starts a run. It is stored on the
// ledger row verbatim so a task remains reproducible after the fact.
type TaskRequest struct {
	Kind          TaskKind `json:"kind"`
	ResumeText    string   `json:"resume_text,omitempty"`
	JobDescText   string   `json:"job_description,omitempty"`
	PositionTitle string   `json:"position_title"`
	Provider      string   `json:"provider,omitempty"`
	Model         string   `json:"model,omitempty"`
	UserID        string   `json:"user_id,omitempty"`
}

// InputScenario describes which of the two input documents were supplied.
type InputScenario string

const (
	ScenarioResumeOnly InputScenario = "resume_only"
	ScenarioJDOnly     InputScenario = "jd_only"
	ScenarioBoth       InputScenario = "both"
)

// Scenario derives the input scenario from the request texts. The empty
// string is returned when neither document is present.
func (r TaskRequest) Scenario() InputScenario {
	hasResume := strings.TrimSpace(r.ResumeText) != ""
	hasJD := strings.TrimSpace(r.JobDescText) != ""
	switch {
	case hasResume && hasJD:
		return ScenarioBoth
	case hasResume:
		return ScenarioResumeOnly
	case hasJD:
		return ScenarioJDOnly
	default:
		return ""
	}
}

// Task is the durable, task-keyed progress record shared between the worker
// and the serving process. One row per task id.
//
// Invariant: once Status is terminal, exactly one of Result / ErrorMessage
// is set; neither is set before that.
type Task struct {
	ID           string       `json:"task_id"`
	Kind         TaskKind     `json:"kind"`
	Status       TaskStatus   `json:"status"`
	Progress     int          `json:"progress"`
	CurrentStep  string       `json:"current_step"`
	TotalSteps   int          `json:"total_steps"`
	UserID       string       `json:"user_id,omitempty"`
	Request      *TaskRequest `json:"request,omitempty"`
	Result       *Report      `json:"result,omitempty"`
	ErrorMessage string       `json:"error_message,omitempty"`
	StartedAt    time.Time    `json:"started_at"`
	CompletedAt  *time.Time   `json:"completed_at,omitempty"`
}

// EstimateRemaining projects the remaining run time from elapsed time and
// current progress. Returns a default before any progress is reported and
// zero once the task is terminal.
func (t Task) EstimateRemaining(now time.Time) time.Duration {
	const defaultEstimate = 15 * time.Minute
	if t.Status.Terminal() || t.Progress >= 100 {
		return 0
	}
	if t.StartedAt.IsZero() || t.Progress <= 0 {
		return defaultEstimate
	}
	elapsed := now.Sub(t.StartedAt)
	total := time.Duration(float64(elapsed) / float64(t.Progress) * 100)
	if total <= elapsed {
		return 0
	}
	return total - elapsed
}
