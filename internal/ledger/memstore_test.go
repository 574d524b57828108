package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/skillstream/skillstream/model"
)

func newTask(id string) model.Task {
	return model.Task{
		ID:         id,
		Kind:       model.TaskKindGeneration,
		Status:     model.TaskStatusPending,
		TotalSteps: model.TotalSteps,
		StartedAt:  time.Now().UTC(),
	}
}

func TestCreate_and_Get(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	if err := s.Create(ctx, newTask("t1")); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := s.Get(ctx, "t1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != model.TaskStatusPending {
		t.Errorf("status = %q, want pending", got.Status)
	}
	if got.Progress != 0 {
		t.Errorf("progress = %d, want 0", got.Progress)
	}
}

func TestCreate_duplicateConflicts(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	s.Create(ctx, newTask("t1"))
	err := s.Create(ctx, newTask("t1"))
	if err == nil {
		t.Fatal("expected conflict error")
	}
	env, ok := err.(*model.ErrorEnvelope)
	if !ok || env.Code != model.ErrConflict {
		t.Errorf("error = %v, want CONFLICT envelope", err)
	}
}

func TestGet_notFound(t *testing.T) {
	s := NewMemoryStore()
	_, err := s.Get(context.Background(), "missing")
	if err == nil {
		t.Fatal("expected not found error")
	}
	env, ok := err.(*model.ErrorEnvelope)
	if !ok || env.Code != model.ErrTaskNotFound {
		t.Errorf("error = %v, want TASK_NOT_FOUND envelope", err)
	}
}

func TestStart_transitionsPendingOnly(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	s.Create(ctx, newTask("t1"))

	if err := s.Start(ctx, "t1"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	got, _ := s.Get(ctx, "t1")
	if got.Status != model.TaskStatusInProgress {
		t.Errorf("status = %q, want in_progress", got.Status)
	}

	// Starting again is a no-op.
	firstStart := got.StartedAt
	time.Sleep(time.Millisecond)
	if err := s.Start(ctx, "t1"); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	got, _ = s.Get(ctx, "t1")
	if !got.StartedAt.Equal(firstStart) {
		t.Error("second Start should not restamp StartedAt")
	}
}

func TestAdvance_monotoneProgress(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	s.Create(ctx, newTask("t1"))
	s.Start(ctx, "t1")

	if err := s.Advance(ctx, "t1", 40, "Generating Questions"); err != nil {
		t.Fatalf("Advance: %v", err)
	}
	got, _ := s.Get(ctx, "t1")
	if got.Progress != 40 || got.CurrentStep != "Generating Questions" {
		t.Errorf("got progress=%d step=%q", got.Progress, got.CurrentStep)
	}

	// A lower progress value is ignored.
	if err := s.Advance(ctx, "t1", 20, "Extracting Skills"); err != nil {
		t.Fatalf("regressing Advance: %v", err)
	}
	got, _ = s.Get(ctx, "t1")
	if got.Progress != 40 {
		t.Errorf("progress = %d after regression, want 40", got.Progress)
	}
	if got.CurrentStep != "Generating Questions" {
		t.Errorf("step = %q after regression, want unchanged", got.CurrentStep)
	}

	// An equal progress value may update the step label.
	if err := s.Advance(ctx, "t1", 40, "Evaluating Questions"); err != nil {
		t.Fatalf("equal Advance: %v", err)
	}
	got, _ = s.Get(ctx, "t1")
	if got.CurrentStep != "Evaluating Questions" {
		t.Errorf("step = %q, want updated at equal progress", got.CurrentStep)
	}
}

func TestComplete_terminalExclusivity(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	s.Create(ctx, newTask("t1"))
	s.Start(ctx, "t1")
	s.Fail(ctx, "t1", "something broke")

	// Complete after Fail must not overwrite the failure.
	report := &model.Report{PositionTitle: "Engineer"}
	if err := s.Complete(ctx, "t1", report); err != nil {
		t.Fatalf("Complete after Fail: %v", err)
	}
	got, _ := s.Get(ctx, "t1")
	if got.Status != model.TaskStatusFailed {
		t.Errorf("status = %q, want failed", got.Status)
	}
	if got.Result != nil {
		t.Error("result must stay nil on a failed task")
	}
	if got.ErrorMessage == "" {
		t.Error("error message must be preserved")
	}
}

func TestComplete_setsResultAndClearsError(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	s.Create(ctx, newTask("t1"))
	s.Start(ctx, "t1")
	s.Advance(ctx, "t1", 80, "Finalizing Report")

	report := &model.Report{PositionTitle: "Engineer"}
	if err := s.Complete(ctx, "t1", report); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	got, _ := s.Get(ctx, "t1")
	if got.Status != model.TaskStatusCompleted {
		t.Errorf("status = %q, want completed", got.Status)
	}
	if got.Progress != 100 {
		t.Errorf("progress = %d, want 100", got.Progress)
	}
	if got.Result == nil || got.Result.PositionTitle != "Engineer" {
		t.Errorf("result = %+v, want stored report", got.Result)
	}
	if got.ErrorMessage != "" {
		t.Errorf("error message = %q, want empty", got.ErrorMessage)
	}
	if got.CompletedAt == nil {
		t.Error("CompletedAt should be set")
	}
}

func TestAdvance_afterTerminalIsNoop(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	s.Create(ctx, newTask("t1"))
	s.Start(ctx, "t1")
	s.Complete(ctx, "t1", &model.Report{})

	if err := s.Advance(ctx, "t1", 99, "late update"); err != nil {
		t.Fatalf("Advance after terminal: %v", err)
	}
	got, _ := s.Get(ctx, "t1")
	if got.Progress != 100 {
		t.Errorf("progress = %d, want 100 preserved", got.Progress)
	}
	if got.CurrentStep == "late update" {
		t.Error("step must not change after terminal")
	}
}

func TestFail_afterCompleteIsNoop(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	s.Create(ctx, newTask("t1"))
	s.Start(ctx, "t1")
	s.Complete(ctx, "t1", &model.Report{})

	if err := s.Fail(ctx, "t1", "too late"); err != nil {
		t.Fatalf("Fail after Complete: %v", err)
	}
	got, _ := s.Get(ctx, "t1")
	if got.Status != model.TaskStatusCompleted {
		t.Errorf("status = %q, want completed preserved", got.Status)
	}
	if got.ErrorMessage != "" {
		t.Errorf("error message = %q, want empty", got.ErrorMessage)
	}
}

func TestList_filtersAndOrder(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	older := newTask("t1")
	older.UserID = "u1"
	older.StartedAt = time.Now().UTC().Add(-time.Hour)
	s.Create(ctx, older)

	newer := newTask("t2")
	newer.UserID = "u1"
	s.Create(ctx, newer)

	other := newTask("t3")
	other.UserID = "u2"
	s.Create(ctx, other)

	tasks, err := s.List(ctx, Filters{UserID: "u1"})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(tasks) != 2 {
		t.Fatalf("len = %d, want 2", len(tasks))
	}
	if tasks[0].ID != "t2" {
		t.Errorf("first task = %q, want newest first", tasks[0].ID)
	}

	tasks, _ = s.List(ctx, Filters{UserID: "u1", Limit: 1, Offset: 1})
	if len(tasks) != 1 || tasks[0].ID != "t1" {
		t.Errorf("paged list = %+v, want [t1]", tasks)
	}

	tasks, _ = s.List(ctx, Filters{Status: model.TaskStatusPending})
	if len(tasks) != 3 {
		t.Errorf("status filter len = %d, want 3", len(tasks))
	}
}
