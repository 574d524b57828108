// Package stream fans task events out to live push connections. One hub per
// task id owns a single broker subscription and a single ledger poll loop,
// shared by every connection watching that task.
package stream

import (
	"time"

	"github.com/skillstream/skillstream/model"
)

// Message kinds pushed to clients.
const (
	KindProgressUpdate = "progress_update"
	KindStreamEvent    = "stream_event"
	KindTaskCompleted  = "task_completed"
)

// Message is the JSON frame pushed over a live connection. Exactly the
// fields for the message's kind are set.
type Message struct {
	Kind string `json:"type"`

	// progress_update
	Progress           int              `json:"progress,omitempty"`
	Status             model.TaskStatus `json:"status,omitempty"`
	CurrentStep        string           `json:"current_step,omitempty"`
	TotalSteps         int              `json:"total_steps,omitempty"`
	EstimatedRemaining float64          `json:"estimated_remaining_seconds,omitempty"`

	// stream_event
	EventType  model.EventType `json:"event_type,omitempty"`
	StageName  string          `json:"stage_name,omitempty"`
	Payload    map[string]any  `json:"payload,omitempty"`
	Timestamp  time.Time       `json:"timestamp,omitempty"`
	SequenceID uint64          `json:"sequence_id,omitempty"`

	// task_completed
	Result       *model.Report `json:"result,omitempty"`
	ErrorMessage string        `json:"error_message,omitempty"`
}

// ProgressMessage builds a progress_update frame from a ledger snapshot.
func ProgressMessage(task model.Task, now time.Time) Message {
	return Message{
		Kind:               KindProgressUpdate,
		Progress:           task.Progress,
		Status:             task.Status,
		CurrentStep:        task.CurrentStep,
		TotalSteps:         task.TotalSteps,
		EstimatedRemaining: task.EstimateRemaining(now).Seconds(),
	}
}

// EventMessage wraps a bridge event into a stream_event frame.
func EventMessage(evt model.StreamEvent) Message {
	return Message{
		Kind:       KindStreamEvent,
		EventType:  evt.Type,
		StageName:  evt.Stage,
		Payload:    evt.Payload,
		Timestamp:  evt.Timestamp,
		SequenceID: evt.SequenceID,
	}
}

// CompletionMessage builds the terminal task_completed frame.
func CompletionMessage(task model.Task) Message {
	return Message{
		Kind:         KindTaskCompleted,
		Status:       task.Status,
		Result:       task.Result,
		ErrorMessage: task.ErrorMessage,
	}
}
