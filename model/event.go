package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType classifies stream events published by the worker.
type EventType string

const (
	EventStageStart        EventType = "stage_start"
	EventStageProgress     EventType = "stage_progress"
	EventStageThinking     EventType = "stage_thinking"
	EventStageComplete     EventType = "stage_complete"
	EventSkillFound        EventType = "skill_found"
	EventQuestionGenerated EventType = "question_generated"
	EventEvaluationResult  EventType = "evaluation_result"
	EventResponseGenerated EventType = "response_generated"
	EventSectionAssembled  EventType = "section_assembled"
	EventError             EventType = "error"
)

// StreamEvent is the unit carried over the bridge from the worker to the
// serving process. SequenceID is monotone per publisher instance and exists
// only for client-side ordering and de-duplication; it carries no delivery
// guarantee.
type StreamEvent struct {
	TaskID     string         `json:"task_id"`
	Type       EventType      `json:"event_type"`
	Stage      string         `json:"stage_name"`
	Payload    map[string]any `json:"payload,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
	SequenceID uint64         `json:"sequence_id"`
}

// Encode serializes the event for broker transport.
func (e StreamEvent) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// DecodeStreamEvent parses a broker payload back into a StreamEvent.
func DecodeStreamEvent(data []byte) (StreamEvent, error) {
	var e StreamEvent
	if err := json.Unmarshal(data, &e); err != nil {
		return StreamEvent{}, fmt.Errorf("decode stream event: %w", err)
	}
	return e, nil
}

// StreamChannel is the broker channel name for a task's event stream.
func StreamChannel(taskID string) string {
	return "stream:task:" + taskID
}
