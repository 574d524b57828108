package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/skillstream/skillstream/internal/llm"
	"github.com/skillstream/skillstream/model"
)

// EvaluateStage scores every generated question on four quality axes and
// keeps the approved subset. A failed model evaluation degrades to keyword
// heuristics for that question.
type EvaluateStage struct {
	deps *stageDeps
}

func (s *EvaluateStage) Name() string   { return StageEvaluateQuestions }
func (s *EvaluateStage) Label() string  { return "Evaluating Questions" }
func (s *EvaluateStage) Marker() string { return MarkerQuestionsEvaluated }

func (s *EvaluateStage) Check(st *State) error {
	if len(st.Questions) == 0 {
		return fmt.Errorf("no generated questions available")
	}
	return nil
}

func (s *EvaluateStage) Run(ctx context.Context, st *State) error {
	total := len(st.Questions)
	s.deps.emitter.Emit(st.TaskID, model.EventStageThinking, s.Name(), map[string]any{
		"message": fmt.Sprintf("Analyzing %d questions for technical depth and relevance...", total),
	})

	evaluations := make([]model.QuestionEvaluation, 0, total)
	var approved []model.TechnicalQuestion

	for i, question := range st.Questions {
		s.deps.emitter.Emit(st.TaskID, model.EventStageThinking, s.Name(), map[string]any{
			"message": fmt.Sprintf("Evaluating question %d/%d: %s...", i+1, total, truncate(question.QuestionText, 80)),
		})

		eval := s.evaluateQuestion(ctx, st, question)
		evaluations = append(evaluations, eval)
		if eval.Approved {
			approved = append(approved, question)
		}

		s.deps.emitter.Emit(st.TaskID, model.EventEvaluationResult, s.Name(), map[string]any{
			"question_id":                eval.QuestionID,
			"technical_depth_score":      eval.TechnicalDepth,
			"relevance_score":            eval.Relevance,
			"difficulty_appropriateness": eval.DifficultyFit,
			"non_generic_score":          eval.NonGeneric,
			"overall_quality":            eval.OverallQuality,
			"approved":                   eval.Approved,
			"feedback":                   eval.Feedback,
			"question_index":             i + 1,
			"total_questions":            total,
		})
	}

	st.Evaluations = evaluations
	st.Approved = approved
	return nil
}

func (s *EvaluateStage) evaluateQuestion(ctx context.Context, st *State, question model.TechnicalQuestion) model.QuestionEvaluation {
	skill, ok := st.SkillByName(question.TargetedSkill)
	if !ok {
		return model.QuestionEvaluation{
			QuestionID:     question.QuestionID,
			TechnicalDepth: 2,
			Relevance:      2,
			DifficultyFit:  2,
			NonGeneric:     2,
			OverallQuality: 2,
			Feedback:       "Could not find matching skill for evaluation",
			Approved:       false,
		}
	}

	system, prompt := evaluationPrompts(question, skill)
	reply, err := s.deps.complete(ctx, llm.CompletionRequest{
		System:      system,
		Prompt:      prompt,
		Temperature: s.deps.temperature,
	})
	if err == nil {
		var eval model.QuestionEvaluation
		if derr := decodeOutput(reply, &eval); derr == nil && eval.OverallQuality > 0 {
			eval.QuestionID = question.QuestionID
			return eval
		}
	}

	s.deps.fallback(s.Name())
	return heuristicEvaluation(question, skill)
}

// heuristicEvaluation scores a question from simple keyword signals when
// the model cannot be consulted. Each axis starts at a moderate 3 and is
// bumped to 4 when its signal is present.
func heuristicEvaluation(question model.TechnicalQuestion, skill model.ExtractedSkill) model.QuestionEvaluation {
	text := strings.ToLower(question.QuestionText)

	depth := 3
	for _, kw := range []string{"derive", "mathematical", "algorithm", "complexity", "optimize"} {
		if strings.Contains(text, kw) {
			depth = 4
			break
		}
	}

	relevance := 3
	if strings.Contains(text, strings.ToLower(skill.SkillName)) {
		relevance = 4
	}

	difficultyFit := 3
	if question.Difficulty <= skill.ConfidenceScore {
		difficultyFit = 4
	}

	nonGeneric := 3
	for _, word := range strings.Fields(strings.ToLower(skill.Context)) {
		if len(word) > 3 && strings.Contains(text, word) {
			nonGeneric = 4
			break
		}
	}

	overall := (depth + relevance + difficultyFit + nonGeneric) / 4
	return model.QuestionEvaluation{
		QuestionID:     question.QuestionID,
		TechnicalDepth: depth,
		Relevance:      relevance,
		DifficultyFit:  difficultyFit,
		NonGeneric:     nonGeneric,
		OverallQuality: overall,
		Feedback:       "Fallback evaluation - LLM evaluation failed",
		Approved:       overall >= 3,
	}
}

func evaluationPrompts(question model.TechnicalQuestion, skill model.ExtractedSkill) (system, prompt string) {
	system = `You are an expert technical interview evaluator. Assess the quality of technical interview questions against strict criteria, each scored 1-5:

1. TECHNICAL DEPTH: 1 = surface level, 5 = tests mathematical foundations and internals
2. RELEVANCE: 1 = not relevant to the candidate's experience, 5 = perfectly tailored to it
3. DIFFICULTY APPROPRIATENESS: 1 = too easy or too hard for the candidate's level, 5 = perfect calibration
4. NON-GENERIC SCORE: 1 = could ask any candidate, 5 = completely tailored, could not ask others

APPROVAL CRITERIA: every score >= 3 and overall quality >= 3.`

	prompt = fmt.Sprintf(`Evaluate this technical interview question:

QUESTION:
ID: %s
Text: %s
Type: %s
Difficulty Level: %d
Targeted Skill: %s
Rationale: %s

CANDIDATE'S SKILL CONTEXT:
Skill: %s
Experience Level: %s
Confidence Score: %d/5
Evidence: %s
Context: %s

Provide the evaluation in JSON format:

{
  "question_id": %q,
  "technical_depth_score": 1-5,
  "relevance_score": 1-5,
  "difficulty_appropriateness": 1-5,
  "non_generic_score": 1-5,
  "overall_quality": 1-5,
  "feedback": "comprehensive feedback",
  "approved": true/false
}

Be strict. Only approve questions that truly test deep technical understanding and are specifically tailored to the candidate's experience.`,
		question.QuestionID, question.QuestionText, question.QuestionType, question.Difficulty,
		question.TargetedSkill, question.Rationale,
		skill.SkillName, skill.ExperienceLevel, skill.ConfidenceScore, skill.Evidence, skill.Context,
		question.QuestionID)
	return system, prompt
}
