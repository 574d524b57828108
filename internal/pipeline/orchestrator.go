package pipeline

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/skillstream/skillstream/internal/ledger"
	"github.com/skillstream/skillstream/internal/llm"
	"github.com/skillstream/skillstream/internal/observability"
	"github.com/skillstream/skillstream/model"
)

// Orchestrator drives one task through the five stages in order. Routing is
// a pure function of each stage's result: on success the next stage runs,
// on failure the run drops into the absorbing error path which aggregates
// the accumulated errors and fails the task. Ledger and event delivery
// problems are logged and swallowed, they never affect the run's outcome.
//
// Each Run call owns its State; an Orchestrator is safe to share across
// concurrent worker goroutines.
type Orchestrator struct {
	store   ledger.Store
	emitter Emitter
	logger  *zap.Logger
	metrics *observability.Metrics
	deps    *stageDeps
	stages  []Stage
}

// NewOrchestrator wires the pipeline. emitter may be nil for callers that
// do not stream.
func NewOrchestrator(client llm.Client, store ledger.Store, emitter Emitter, logger *zap.Logger, metrics *observability.Metrics, temperature float64) *Orchestrator {
	if emitter == nil {
		emitter = NopEmitter{}
	}
	deps := &stageDeps{
		client:      client,
		emitter:     emitter,
		metrics:     metrics,
		temperature: temperature,
	}
	return &Orchestrator{
		store:   store,
		emitter: emitter,
		logger:  logger,
		metrics: metrics,
		deps:    deps,
		stages: []Stage{
			&ExtractStage{deps: deps},
			&QuestionStage{deps: deps},
			&EvaluateStage{deps: deps},
			&ResponseStage{deps: deps},
			&ReportStage{deps: deps},
		},
	}
}

// Run executes the full pipeline for one task and records the terminal
// outcome on the ledger. The returned state carries the stage history for
// inspection; stage failures surface through the ledger, never as errors.
func (o *Orchestrator) Run(ctx context.Context, task model.Task) *State {
	logger := observability.TaskLogger(ctx, o.logger, task.ID)

	var req model.TaskRequest
	if task.Request != nil {
		req = *task.Request
	}

	ctx, span := observability.StartSpan(ctx, "pipeline.run",
		observability.AttrTaskID.String(task.ID),
		observability.AttrTaskKind.String(string(task.Kind)),
		observability.AttrScenario.String(string(req.Scenario())),
	)
	defer span.End()

	state := NewState(task.ID, req)
	start := time.Now()

	if err := o.store.Start(ctx, task.ID); err != nil {
		logger.Warn("ledger start failed", zap.Error(err))
	}
	if o.metrics != nil {
		o.metrics.RecordTaskStarted()
	}
	logger.Info("task started",
		zap.String("kind", string(task.Kind)),
		zap.String("scenario", string(state.Scenario)))

	for i, st := range o.stages {
		o.advance(ctx, logger, task.ID, i*100/len(o.stages), st.Label())
		if res := execute(ctx, st, state, o.emitter, logger, o.metrics); !res.Success {
			o.fail(ctx, logger, task, state, start)
			return state
		}
	}

	o.complete(ctx, logger, task, state, start)
	return state
}

// advance writes a progress update. Failures are logged and swallowed so a
// broken ledger can never abort the pipeline.
func (o *Orchestrator) advance(ctx context.Context, logger *zap.Logger, taskID string, progress int, step string) {
	if err := o.store.Advance(ctx, taskID, progress, step); err != nil {
		logger.Warn("progress update failed",
			zap.Int("progress", progress),
			zap.String("step", step),
			zap.Error(err))
	}
	o.emitter.Emit(taskID, model.EventStageProgress, "", map[string]any{
		"progress":     progress,
		"current_step": step,
	})
}

func (o *Orchestrator) complete(ctx context.Context, logger *zap.Logger, task model.Task, state *State, start time.Time) {
	elapsed := time.Since(start)

	report := state.Report
	if report != nil {
		report.ProcessingTime = elapsed
		report.StageBreakdown = state.Results
	}

	if err := o.store.Complete(ctx, task.ID, report); err != nil {
		logger.Warn("ledger complete failed", zap.Error(err))
	}
	if o.metrics != nil {
		o.metrics.RecordTaskCompleted(string(task.Kind), "completed", elapsed)
	}
	logger.Info("task completed",
		zap.Duration("duration", elapsed),
		zap.Int("skills", len(state.Skills)),
		zap.Int("questions", len(state.Questions)),
		zap.Int("approved", len(state.Approved)))
}

// fail is the absorbing error path: the accumulated stage errors collapse
// into one message stored on the task, alongside which stage got furthest.
func (o *Orchestrator) fail(ctx context.Context, logger *zap.Logger, task model.Task, state *State, start time.Time) {
	elapsed := time.Since(start)
	message := strings.Join(state.Errors, "; ")
	if message == "" {
		message = "pipeline failed"
	}

	if err := o.store.Fail(ctx, task.ID, message); err != nil {
		logger.Warn("ledger fail failed", zap.Error(err))
	}
	if o.metrics != nil {
		o.metrics.RecordTaskCompleted(string(task.Kind), "failed", elapsed)
	}

	o.emitter.Emit(task.ID, model.EventError, state.FirstFailedStage(), map[string]any{
		"error":                 message,
		"failed_stage":          state.FirstFailedStage(),
		"last_successful_stage": state.LastSuccessfulStage(),
	})
	logger.Error("task failed",
		zap.Duration("duration", elapsed),
		zap.String("failed_stage", state.FirstFailedStage()),
		zap.String("last_successful_stage", state.LastSuccessfulStage()),
		zap.String("error", message))
}
