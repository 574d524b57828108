// Package pipeline runs the five stage generation workflow for a single
// task: extract skills, generate questions, evaluate questions, generate
// responses, assemble report. Stages are strictly sequential and share one
// State value per run.
package pipeline

import (
	"github.com/skillstream/skillstream/model"
)

// Stage name constants, also used in metrics labels and stream events.
const (
	StageExtractSkills     = "extract_skills"
	StageGenerateQuestions = "generate_questions"
	StageEvaluateQuestions = "evaluate_questions"
	StageGenerateResponses = "generate_responses"
	StageAssembleReport    = "assemble_report"
)

// Markers recorded in State.Marker after each stage. The orchestrator routes
// on these, never on errors escaping a stage.
const (
	MarkerPending            = "pending"
	MarkerSkillsExtracted    = "skills_extracted"
	MarkerQuestionsGenerated = "questions_generated"
	MarkerQuestionsEvaluated = "questions_evaluated"
	MarkerResponsesGenerated = "responses_generated"
	MarkerCompleted          = "completed"
	MarkerError              = "error"
)

// State is the in-memory aggregate one task run threads through its stages.
// It is owned by a single orchestrator run and never shared between tasks.
type State struct {
	TaskID   string
	Request  model.TaskRequest
	Scenario model.InputScenario

	Skills      []model.ExtractedSkill
	Categories  []model.SkillCategory
	Questions   []model.TechnicalQuestion
	Evaluations []model.QuestionEvaluation
	Approved    []model.TechnicalQuestion
	Responses   []model.ExpectedResponse
	Report      *model.Report

	// Marker is the routing state: a success marker after each stage, or
	// MarkerError once any stage fails.
	Marker string

	// Errors accumulates pipeline-fatal messages. Locally recovered
	// failures inside a stage body never appear here.
	Errors []string

	// Results is the per-stage execution history, in run order.
	Results []model.StagePerformance
}

// NewState builds the initial state for a task run.
func NewState(taskID string, req model.TaskRequest) *State {
	return &State{
		TaskID:   taskID,
		Request:  req,
		Scenario: req.Scenario(),
		Marker:   MarkerPending,
	}
}

// LastSuccessfulStage returns the name of the most recent stage that
// succeeded, or the empty string when none has.
func (s *State) LastSuccessfulStage() string {
	for i := len(s.Results) - 1; i >= 0; i-- {
		if s.Results[i].Success {
			return s.Results[i].Stage
		}
	}
	return ""
}

// FirstFailedStage returns the name of the first stage that failed, or the
// empty string when all recorded stages succeeded.
func (s *State) FirstFailedStage() string {
	for _, r := range s.Results {
		if !r.Success {
			return r.Stage
		}
	}
	return ""
}

// SkillByName finds an extracted skill by exact name.
func (s *State) SkillByName(name string) (model.ExtractedSkill, bool) {
	for _, sk := range s.Skills {
		if sk.SkillName == name {
			return sk, true
		}
	}
	return model.ExtractedSkill{}, false
}
