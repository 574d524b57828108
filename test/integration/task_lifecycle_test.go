package integration

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/skillstream/skillstream/model"
)

func TestTaskLifecycle_success(t *testing.T) {
	h := NewTestHarness(t,
		WithLLMResponses(
			ExtractionReply(),
			QuestionsReply("Go"),
			QuestionsReply("Kubernetes"),
			QuestionsReply("PostgreSQL"),
			// Evaluation and guidance calls fall through to the empty
			// default reply and resolve with deterministic fallbacks.
		),
	)

	taskID := h.SubmitTask(GenerationRequest())

	task := h.WaitForStatus(taskID, model.TaskStatusCompleted, 5*time.Second)
	if task.Progress != 100 {
		t.Errorf("progress = %d, want 100", task.Progress)
	}
	if task.Result == nil {
		t.Fatal("completed task should carry a report")
	}
	if task.ErrorMessage != "" {
		t.Errorf("completed task should not carry an error, got %q", task.ErrorMessage)
	}
	if task.Result.CandidateName != "Jane Doe" {
		t.Errorf("candidate name = %q, want Jane Doe", task.Result.CandidateName)
	}
	if len(task.Result.StageBreakdown) != model.TotalSteps {
		t.Errorf("stage breakdown has %d entries, want %d", len(task.Result.StageBreakdown), model.TotalSteps)
	}
	for _, perf := range task.Result.StageBreakdown {
		if !perf.Success {
			t.Errorf("stage %s should have succeeded: %s", perf.Stage, perf.Error)
		}
	}
	if task.Result.FormattedReport == "" {
		t.Error("formatted report should not be empty")
	}

	// The GET endpoint reflects the terminal record.
	resp := h.GET("/v1/tasks/" + taskID)
	var view struct {
		Status             model.TaskStatus `json:"status"`
		Progress           int              `json:"progress"`
		EstimatedRemaining float64          `json:"estimated_remaining"`
		Result             *model.Report    `json:"result"`
	}
	h.AssertStatus(resp, http.StatusOK)
	h.ParseJSON(resp, &view)
	if view.Status != model.TaskStatusCompleted || view.Progress != 100 {
		t.Errorf("view = %+v, want completed at 100", view)
	}
	if view.EstimatedRemaining != 0 {
		t.Errorf("estimated_remaining = %v, want 0 for terminal task", view.EstimatedRemaining)
	}
	if view.Result == nil {
		t.Error("GET should return the report")
	}
}

func TestTaskLifecycle_extractionFailureFailsTask(t *testing.T) {
	h := NewTestHarness(t, WithLLMError(fmt.Errorf("model unavailable")))

	taskID := h.SubmitTask(GenerationRequest())

	task := h.WaitForStatus(taskID, model.TaskStatusFailed, 5*time.Second)
	if task.Result != nil {
		t.Error("failed task must not carry a report")
	}
	if task.ErrorMessage == "" {
		t.Error("failed task must carry an error message")
	}
}

func TestTaskLifecycle_duplicateSubmitIsConflict(t *testing.T) {
	h := NewTestHarness(t, WithLLMResponses(ExtractionReply()))

	body := GenerationRequest()
	body["task_id"] = "lifecycle-dup"

	resp := h.POST("/v1/tasks", body)
	h.AssertStatus(resp, http.StatusAccepted)
	resp.Body.Close()

	resp = h.POST("/v1/tasks", body)
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("second submit = %d, want 409", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestTaskLifecycle_listReflectsTerminalState(t *testing.T) {
	h := NewTestHarness(t,
		WithLLMResponses(
			ExtractionReply(),
			QuestionsReply("Go"),
			QuestionsReply("Kubernetes"),
			QuestionsReply("PostgreSQL"),
		),
	)

	taskID := h.SubmitTask(GenerationRequest())
	h.WaitForStatus(taskID, model.TaskStatusCompleted, 5*time.Second)

	resp := h.GET("/v1/tasks?status=completed")
	h.AssertStatus(resp, http.StatusOK)
	var list struct {
		Tasks []model.Task `json:"tasks"`
		Count int          `json:"count"`
	}
	h.ParseJSON(resp, &list)
	if list.Count != 1 || list.Tasks[0].ID != taskID {
		t.Errorf("list = %+v, want the completed task", list)
	}
}

func TestTaskLifecycle_progressIsMonotoneInLedger(t *testing.T) {
	h := NewTestHarness(t,
		WithLLMResponses(
			ExtractionReply(),
			QuestionsReply("Go"),
			QuestionsReply("Kubernetes"),
			QuestionsReply("PostgreSQL"),
		),
	)

	taskID := h.SubmitTask(GenerationRequest())

	last := -1
	deadline := time.Now().Add(5 * time.Second)
	for {
		task, err := h.Store.Get(context.Background(), taskID)
		if err == nil {
			if task.Progress < last {
				t.Fatalf("progress regressed from %d to %d", last, task.Progress)
			}
			last = task.Progress
			if task.Status.Terminal() {
				break
			}
		}
		if time.Now().After(deadline) {
			t.Fatal("task never finished")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if last != 100 {
		t.Errorf("final progress = %d, want 100", last)
	}
}
