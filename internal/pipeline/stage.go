package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/skillstream/skillstream/internal/observability"
	"github.com/skillstream/skillstream/model"
)

// Stage is one step of the pipeline. Check validates the state fields the
// stage requires before Run is invoked; Run mutates the state with the
// stage's output. Stages recover from bad model responses internally with
// deterministic fallbacks where one exists; an error returned from Run is
// pipeline-fatal.
type Stage interface {
	Name() string
	// Label is the human-readable step written to the progress ledger.
	Label() string
	// Marker is the routing marker recorded on success.
	Marker() string
	Check(s *State) error
	Run(ctx context.Context, s *State) error
}

// Emitter pushes stream events from inside the pipeline. Implementations
// must never block; event delivery is fire-and-forget.
type Emitter interface {
	Emit(taskID string, eventType model.EventType, stage string, payload map[string]any)
}

// NopEmitter discards all events.
type NopEmitter struct{}

func (NopEmitter) Emit(string, model.EventType, string, map[string]any) {}

// execute runs one stage inside the safe-execution envelope: preconditions
// are checked first, panics and errors from the stage body are converted
// into a failed result and the error marker, and the result history is
// appended either way. The caller routes on the returned result, an
// execute call itself never fails.
func execute(ctx context.Context, st Stage, state *State, emitter Emitter, logger *zap.Logger, metrics *observability.Metrics) model.StagePerformance {
	ctx, span := observability.StartSpan(ctx, "pipeline."+st.Name(),
		observability.AttrTaskID.String(state.TaskID),
		observability.AttrStage.String(st.Name()),
	)
	start := time.Now()

	emitter.Emit(state.TaskID, model.EventStageStart, st.Name(), map[string]any{
		"step": st.Label(),
	})

	err := runGuarded(ctx, st, state)

	res := model.StagePerformance{
		Stage:    st.Name(),
		Duration: time.Since(start),
	}
	res.DurationMS = res.Duration.Milliseconds()

	if err != nil {
		res.Error = fmt.Sprintf("%s failed: %v", st.Label(), err)
		state.Errors = append(state.Errors, res.Error)
		state.Marker = MarkerError
		logger.Error("stage failed",
			zap.String("stage", st.Name()),
			zap.Duration("duration", res.Duration),
			zap.Error(err))
		if metrics != nil {
			metrics.RecordStageExecution(st.Name(), "error", res.Duration)
		}
		emitter.Emit(state.TaskID, model.EventError, st.Name(), map[string]any{
			"error": res.Error,
		})
	} else {
		res.Success = true
		state.Marker = st.Marker()
		logger.Info("stage completed",
			zap.String("stage", st.Name()),
			zap.Duration("duration", res.Duration))
		if metrics != nil {
			metrics.RecordStageExecution(st.Name(), "success", res.Duration)
		}
		emitter.Emit(state.TaskID, model.EventStageComplete, st.Name(), map[string]any{
			"duration_ms": res.DurationMS,
		})
	}

	state.Results = append(state.Results, res)
	observability.EndSpanWithError(span, err)
	return res
}

// runGuarded invokes Check then Run, converting panics into errors so a
// single misbehaving stage can never take the worker process down.
func runGuarded(ctx context.Context, st Stage, state *State) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	if err := st.Check(state); err != nil {
		return err
	}
	return st.Run(ctx, state)
}
