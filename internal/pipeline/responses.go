package pipeline

import (
	"context"
	"fmt"

	"github.com/skillstream/skillstream/internal/llm"
	"github.com/skillstream/skillstream/model"
)

// ResponseStage produces interviewer guidance for every approved question:
// required concepts, answer indicators, red flags, follow-ups and a scoring
// rubric. A failed model call degrades to a generic guidance template for
// that question.
type ResponseStage struct {
	deps *stageDeps
}

func (s *ResponseStage) Name() string   { return StageGenerateResponses }
func (s *ResponseStage) Label() string  { return "Creating Guidance" }
func (s *ResponseStage) Marker() string { return MarkerResponsesGenerated }

func (s *ResponseStage) Check(st *State) error {
	if len(st.Approved) == 0 {
		return fmt.Errorf("no approved questions available")
	}
	return nil
}

func (s *ResponseStage) Run(ctx context.Context, st *State) error {
	total := len(st.Approved)
	s.deps.emitter.Emit(st.TaskID, model.EventStageThinking, s.Name(), map[string]any{
		"message": fmt.Sprintf("Creating interviewer guidance for %d approved questions...", total),
	})

	responses := make([]model.ExpectedResponse, 0, total)
	for i, question := range st.Approved {
		resp := s.generateResponse(ctx, st, question)
		responses = append(responses, resp)

		s.deps.emitter.Emit(st.TaskID, model.EventResponseGenerated, s.Name(), map[string]any{
			"question_id":     resp.QuestionID,
			"key_concepts":    resp.KeyConcepts,
			"response_index":  i + 1,
			"total_responses": total,
		})
	}

	st.Responses = responses
	return nil
}

func (s *ResponseStage) generateResponse(ctx context.Context, st *State, question model.TechnicalQuestion) model.ExpectedResponse {
	skill, _ := st.SkillByName(question.TargetedSkill)
	eval := evaluationFor(st.Evaluations, question.QuestionID)

	system, prompt := responsePrompts(question, skill, eval)
	reply, err := s.deps.complete(ctx, llm.CompletionRequest{
		System:      system,
		Prompt:      prompt,
		Temperature: s.deps.temperature,
	})
	if err == nil {
		var resp model.ExpectedResponse
		if derr := decodeOutput(reply, &resp); derr == nil && len(resp.KeyConcepts) > 0 {
			resp.QuestionID = question.QuestionID
			return resp
		}
	}

	s.deps.fallback(s.Name())
	return fallbackResponse(question)
}

func evaluationFor(evaluations []model.QuestionEvaluation, questionID string) *model.QuestionEvaluation {
	for i := range evaluations {
		if evaluations[i].QuestionID == questionID {
			return &evaluations[i]
		}
	}
	return nil
}

// fallbackResponse is the deterministic guidance template used when the
// model cannot produce question-specific guidance.
func fallbackResponse(question model.TechnicalQuestion) model.ExpectedResponse {
	return model.ExpectedResponse{
		QuestionID: question.QuestionID,
		KeyConcepts: []string{
			fmt.Sprintf("Core %s concepts", question.TargetedSkill),
			"Technical implementation details",
			"Performance considerations",
		},
		GoodIndicators: []string{
			"Demonstrates deep technical understanding",
			"Provides specific examples from experience",
			"Discusses trade-offs and alternatives",
		},
		RedFlags: []string{
			"Vague or generic responses",
			"Incorrect technical details",
			"No awareness of limitations or edge cases",
		},
		FollowUps: []string{
			fmt.Sprintf("Can you elaborate on the %s implementation?", question.TargetedSkill),
			"What challenges did you face and how did you solve them?",
			"How would you optimize this for better performance?",
		},
		Rubric: model.ScoringRubric{
			Excellent:    "Complete technical accuracy with deep insights",
			Good:         "Good technical understanding with minor gaps",
			Average:      "Basic understanding with some inaccuracies",
			BelowAverage: "Limited understanding with major gaps",
			Poor:         "Little to no technical understanding",
		},
	}
}

func responsePrompts(question model.TechnicalQuestion, skill model.ExtractedSkill, eval *model.QuestionEvaluation) (system, prompt string) {
	system = `You are an expert technical interviewer creating detailed guidance for interviewers. Provide comprehensive expected responses that help interviewers identify whether the candidate truly understands the technical concepts, recognize excellent versus poor answers, know what follow-up questions to ask, and score responses fairly and consistently. Make the guidance actionable for interviewers who may not be experts in every technical area.`

	skillContext := ""
	if skill.SkillName != "" {
		skillContext = fmt.Sprintf(`
CANDIDATE'S SKILL CONTEXT:
Skill: %s
Experience Level: %s
Evidence: %s
Context: %s
Confidence: %d/5
`, skill.SkillName, skill.ExperienceLevel, skill.Evidence, skill.Context, skill.ConfidenceScore)
	}

	evalContext := ""
	if eval != nil {
		evalContext = fmt.Sprintf(`
QUESTION EVALUATION:
Technical Depth: %d/5
Difficulty Level: %d/5
Overall Quality: %d/5
`, eval.TechnicalDepth, question.Difficulty, eval.OverallQuality)
	}

	prompt = fmt.Sprintf(`Generate comprehensive interviewer guidance for this technical question:

QUESTION DETAILS:
ID: %s
Question: %s
Type: %s
Targeted Skill: %s
Rationale: %s
Estimated Time: %d minutes
%s%s
Provide detailed guidance in JSON format:

{
  "question_id": %q,
  "key_concepts_required": ["essential concept 1", "essential concept 2", "essential concept 3"],
  "good_answer_indicators": ["indicator of deep understanding 1", "indicator 2", "indicator 3"],
  "red_flags": ["warning sign 1", "warning sign 2", "warning sign 3"],
  "follow_up_questions": ["probing follow-up 1", "probing follow-up 2", "probing follow-up 3"],
  "scoring_rubric": {
    "excellent": "criteria for excellent (5/5)",
    "good": "criteria for good (4/5)",
    "average": "criteria for average (3/5)",
    "below_average": "criteria for below average (2/5)",
    "poor": "criteria for poor (1/5)"
  }
}

IMPORTANT:
- Be specific to this exact question and technical area
- Include technical details interviewers should listen for
- Make scoring criteria objective and clear
- Consider the candidate's demonstrated experience level`,
		question.QuestionID, question.QuestionText, question.QuestionType,
		question.TargetedSkill, question.Rationale, question.EstimatedMins,
		skillContext, evalContext, question.QuestionID)
	return system, prompt
}
