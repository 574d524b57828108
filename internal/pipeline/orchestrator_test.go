package pipeline

import (
	"context"
	"fmt"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"

	"github.com/skillstream/skillstream/internal/ledger"
	"github.com/skillstream/skillstream/internal/llm"
	"github.com/skillstream/skillstream/internal/observability"
	"github.com/skillstream/skillstream/model"
)

const extractionReply = `{
	"skills": [
		{"skill_name": "Go", "category": "Programming Languages", "evidence_from_text": "five years of Go services", "experience_level": "Advanced", "confidence_score": 5, "context": "payments platform"},
		{"skill_name": "Kubernetes", "category": "Infrastructure", "evidence_from_text": "ran production clusters", "experience_level": "Intermediate", "confidence_score": 3, "context": "multi-region deployments"},
		{"skill_name": "PostgreSQL", "category": "Infrastructure", "evidence_from_text": "query tuning", "experience_level": "Advanced", "confidence_score": 4, "context": "transactional workloads"}
	],
	"categories": [
		{"name": "Programming Languages", "description": "languages", "priority": 1},
		{"name": "Infrastructure", "description": "platform", "priority": 2}
	]
}`

const languageQuestionsReply = `{"questions": [
	{"question_id": "go_1", "question_text": "Explain how the Go runtime schedules goroutines in your payments platform.", "question_type": "implementation_details", "difficulty_level": 4, "estimated_time_minutes": 10, "targeted_skill": "Go", "rationale": "evidence of concurrent services", "tags": ["go"]},
	{"question_id": "go_2", "question_text": "Derive the complexity of your hot path and explain how you would optimize it.", "question_type": "optimization_scaling", "difficulty_level": 5, "estimated_time_minutes": 12, "targeted_skill": "Go", "rationale": "advanced level", "tags": ["go"]}
]}`

const infraQuestionsReply = `{"questions": [
	{"question_id": "k8s_1", "question_text": "Walk through debugging a crash-looping pod in your multi-region deployments.", "question_type": "edge_cases_debugging", "difficulty_level": 3, "estimated_time_minutes": 10, "targeted_skill": "Kubernetes", "rationale": "operations evidence", "tags": ["kubernetes"]},
	{"question_id": "pg_1", "question_text": "How would you optimize a slow query against a hot transactional PostgreSQL table?", "question_type": "optimization_scaling", "difficulty_level": 4, "estimated_time_minutes": 10, "targeted_skill": "PostgreSQL", "rationale": "tuning evidence", "tags": ["postgresql"]}
]}`

func newRunTask(t *testing.T, store ledger.Store) model.Task {
	t.Helper()
	task := model.Task{
		ID:     "task-run-1",
		Kind:   model.TaskKindGeneration,
		Status: model.TaskStatusPending,
		Request: &model.TaskRequest{
			Kind:          model.TaskKindGeneration,
			ResumeText:    "Jane Doe\nSenior Go engineer",
			JobDescText:   "We need a senior backend engineer",
			PositionTitle: "Senior Backend Engineer",
		},
		TotalSteps: model.TotalSteps,
	}
	if err := store.Create(context.Background(), task); err != nil {
		t.Fatalf("Create: %v", err)
	}
	return task
}

func TestOrchestratorEndToEndSuccess(t *testing.T) {
	store := ledger.NewMemoryStore()
	task := newRunTask(t, store)

	// Evaluation and guidance calls fall past the script onto the empty
	// default reply and take their deterministic fallbacks.
	client := llm.NewMockClient(extractionReply, languageQuestionsReply, infraQuestionsReply)
	emitter := &recordingEmitter{}

	orch := NewOrchestrator(client, store, emitter, zap.NewNop(), nil, 0.1)
	state := orch.Run(context.Background(), task)

	if state.Marker != MarkerCompleted {
		t.Fatalf("marker = %q, want %q (errors: %v)", state.Marker, MarkerCompleted, state.Errors)
	}
	if len(state.Results) != 5 {
		t.Fatalf("stage results = %d, want 5", len(state.Results))
	}
	for _, res := range state.Results {
		if !res.Success {
			t.Errorf("stage %s failed: %s", res.Stage, res.Error)
		}
	}

	stored, err := store.Get(context.Background(), task.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if stored.Status != model.TaskStatusCompleted {
		t.Errorf("status = %q, want completed", stored.Status)
	}
	if stored.Progress != 100 {
		t.Errorf("progress = %d, want 100", stored.Progress)
	}
	if stored.Result == nil {
		t.Fatal("no result snapshot stored")
	}
	if stored.Result.FormattedReport == "" {
		t.Error("empty formatted report")
	}
	if len(stored.Result.StageBreakdown) != 5 {
		t.Errorf("stage breakdown = %d entries, want 5", len(stored.Result.StageBreakdown))
	}
	if stored.ErrorMessage != "" {
		t.Errorf("error message = %q, want empty", stored.ErrorMessage)
	}

	if got := len(emitter.ofType(model.EventSkillFound)); got != 3 {
		t.Errorf("skill_found events = %d, want 3", got)
	}
	if got := len(emitter.ofType(model.EventStageComplete)); got != 5 {
		t.Errorf("stage_complete events = %d, want 5", got)
	}
}

func TestOrchestratorFailureRoutesToErrorState(t *testing.T) {
	store := ledger.NewMemoryStore()
	task := newRunTask(t, store)

	client := llm.NewMockClient(extractionReply, languageQuestionsReply, infraQuestionsReply)
	emitter := &recordingEmitter{}

	orch := NewOrchestrator(client, store, emitter, zap.NewNop(), nil, 0.1)
	// Simulate a fatal evaluator failure in stage 3.
	orch.stages[2] = &stubStage{name: StageEvaluateQuestions, runErr: fmt.Errorf("evaluator crashed")}

	state := orch.Run(context.Background(), task)

	if state.Marker != MarkerError {
		t.Fatalf("marker = %q, want %q", state.Marker, MarkerError)
	}
	if len(state.Results) != 3 {
		t.Fatalf("stage results = %d, want 3 (no stages after the failure)", len(state.Results))
	}
	if !state.Results[0].Success || !state.Results[1].Success {
		t.Error("stages before the failure should have succeeded")
	}
	if state.Results[2].Success {
		t.Error("failed stage recorded as success")
	}
	if got := state.FirstFailedStage(); got != StageEvaluateQuestions {
		t.Errorf("first failed stage = %q, want %q", got, StageEvaluateQuestions)
	}
	if got := state.LastSuccessfulStage(); got != StageGenerateQuestions {
		t.Errorf("last successful stage = %q, want %q", got, StageGenerateQuestions)
	}

	stored, err := store.Get(context.Background(), task.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if stored.Status != model.TaskStatusFailed {
		t.Errorf("status = %q, want failed", stored.Status)
	}
	if stored.ErrorMessage == "" {
		t.Error("missing error message")
	}
	if stored.Result != nil {
		t.Error("failed task must not carry a result snapshot")
	}

	errorEvents := emitter.ofType(model.EventError)
	if len(errorEvents) == 0 {
		t.Fatal("missing error events")
	}
	last := errorEvents[len(errorEvents)-1]
	if last.Payload["failed_stage"] != StageEvaluateQuestions {
		t.Errorf("failed_stage = %v, want %q", last.Payload["failed_stage"], StageEvaluateQuestions)
	}
	if last.Payload["last_successful_stage"] != StageGenerateQuestions {
		t.Errorf("last_successful_stage = %v", last.Payload["last_successful_stage"])
	}
}

func TestOrchestratorMissingInputFailsFirstStage(t *testing.T) {
	store := ledger.NewMemoryStore()
	task := model.Task{
		ID:         "task-run-2",
		Kind:       model.TaskKindGeneration,
		Status:     model.TaskStatusPending,
		Request:    &model.TaskRequest{PositionTitle: "Engineer"},
		TotalSteps: model.TotalSteps,
	}
	if err := store.Create(context.Background(), task); err != nil {
		t.Fatalf("Create: %v", err)
	}

	orch := NewOrchestrator(llm.NewMockClient(), store, nil, zap.NewNop(), nil, 0.1)
	state := orch.Run(context.Background(), task)

	if state.Marker != MarkerError {
		t.Fatalf("marker = %q, want error", state.Marker)
	}
	if len(state.Results) != 1 {
		t.Fatalf("stage results = %d, want 1", len(state.Results))
	}

	stored, _ := store.Get(context.Background(), task.ID)
	if stored.Status != model.TaskStatusFailed {
		t.Errorf("status = %q, want failed", stored.Status)
	}
}

func TestOrchestratorProgressIsMonotone(t *testing.T) {
	store := ledger.NewMemoryStore()
	task := newRunTask(t, store)

	client := llm.NewMockClient(extractionReply, languageQuestionsReply, infraQuestionsReply)
	orch := NewOrchestrator(client, store, nil, zap.NewNop(), nil, 0.1)

	orch.Run(context.Background(), task)

	stored, err := store.Get(context.Background(), task.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if stored.Progress != 100 {
		t.Errorf("final progress = %d, want 100", stored.Progress)
	}
	if stored.CompletedAt == nil {
		t.Error("missing completion timestamp")
	}
}

func TestOrchestratorRecordsModelRequests(t *testing.T) {
	store := ledger.NewMemoryStore()
	task := newRunTask(t, store)

	client := llm.NewMockClient(extractionReply, languageQuestionsReply, infraQuestionsReply)
	metrics := observability.InitMetrics(prometheus.NewRegistry())

	orch := NewOrchestrator(client, store, nil, zap.NewNop(), metrics, 0.1)
	state := orch.Run(context.Background(), task)
	if state.Marker != MarkerCompleted {
		t.Fatalf("marker = %q, want %q (errors: %v)", state.Marker, MarkerCompleted, state.Errors)
	}

	got := testutil.ToFloat64(metrics.LLMRequestsTotal.WithLabelValues("mock", "success"))
	if got == 0 {
		t.Fatal("no model requests recorded")
	}
	if int(got) != len(client.Calls) {
		t.Errorf("recorded model requests = %v, want %d", got, len(client.Calls))
	}
}
