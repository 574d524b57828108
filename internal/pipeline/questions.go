package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/skillstream/skillstream/internal/llm"
	"github.com/skillstream/skillstream/model"
)

// QuestionStage generates deep technical questions per skill category. A
// failed or malformed model response for one category degrades to a small
// deterministic question set for that category instead of failing the run.
type QuestionStage struct {
	deps *stageDeps
}

func (s *QuestionStage) Name() string   { return StageGenerateQuestions }
func (s *QuestionStage) Label() string  { return "Generating Questions" }
func (s *QuestionStage) Marker() string { return MarkerQuestionsGenerated }

func (s *QuestionStage) Check(st *State) error {
	if len(st.Skills) == 0 {
		return fmt.Errorf("no extracted skills available")
	}
	return nil
}

type questionOutput struct {
	Questions []model.TechnicalQuestion `json:"questions"`
}

func (s *QuestionStage) Run(ctx context.Context, st *State) error {
	categories, grouped := groupSkillsByCategory(st.Skills)

	s.deps.emitter.Emit(st.TaskID, model.EventStageThinking, s.Name(), map[string]any{
		"message": fmt.Sprintf("Generating questions for %d skill categories...", len(categories)),
	})

	var questions []model.TechnicalQuestion
	for _, category := range categories {
		questions = append(questions, s.questionsForCategory(ctx, st, category, grouped[category])...)
	}
	if len(questions) == 0 {
		return fmt.Errorf("no questions could be generated")
	}

	for i, q := range questions {
		s.deps.emitter.Emit(st.TaskID, model.EventQuestionGenerated, s.Name(), map[string]any{
			"question_id":     q.QuestionID,
			"question_text":   q.QuestionText,
			"question_type":   q.QuestionType,
			"targeted_skill":  q.TargetedSkill,
			"difficulty":      q.Difficulty,
			"question_index":  i + 1,
			"total_questions": len(questions),
		})
	}

	st.Questions = questions
	return nil
}

// groupSkillsByCategory returns the categories in first-seen order plus the
// skills under each, so generation output is stable for the same input.
func groupSkillsByCategory(skills []model.ExtractedSkill) ([]string, map[string][]model.ExtractedSkill) {
	var order []string
	grouped := make(map[string][]model.ExtractedSkill)
	for _, skill := range skills {
		if _, ok := grouped[skill.Category]; !ok {
			order = append(order, skill.Category)
		}
		grouped[skill.Category] = append(grouped[skill.Category], skill)
	}
	return order, grouped
}

func (s *QuestionStage) questionsForCategory(ctx context.Context, st *State, category string, skills []model.ExtractedSkill) []model.TechnicalQuestion {
	system, prompt := questionPrompts(category, skills, st.Scenario)

	reply, err := s.deps.complete(ctx, llm.CompletionRequest{
		System:      system,
		Prompt:      prompt,
		Temperature: s.deps.temperature,
	})
	if err == nil {
		var out questionOutput
		if derr := decodeOutput(reply, &out); derr == nil && len(out.Questions) > 0 {
			return out.Questions
		}
	}

	s.deps.fallback(s.Name())
	return fallbackQuestions(skills, category)
}

// fallbackQuestions is the deterministic degradation path for a category:
// up to three broad questions built straight from the extracted evidence.
func fallbackQuestions(skills []model.ExtractedSkill, category string) []model.TechnicalQuestion {
	if len(skills) > 3 {
		skills = skills[:3]
	}
	questions := make([]model.TechnicalQuestion, 0, len(skills))
	for i, skill := range skills {
		difficulty := skill.ConfidenceScore
		if difficulty > 4 {
			difficulty = 4
		}
		questions = append(questions, model.TechnicalQuestion{
			QuestionID: fmt.Sprintf("%s_FALLBACK_%d", category, i+1),
			QuestionText: fmt.Sprintf("Explain the core technical principles underlying %s. "+
				"Based on your experience with %s, how would you optimize performance and handle edge cases?",
				skill.SkillName, skill.Context),
			QuestionType:  model.QuestionImplementationDetails,
			Difficulty:    difficulty,
			EstimatedMins: 10,
			TargetedSkill: skill.SkillName,
			Rationale: fmt.Sprintf("Fallback question to test understanding of %s based on evidence: %s",
				skill.SkillName, truncate(skill.Evidence, 100)),
			Tags: []string{strings.ReplaceAll(strings.ToLower(skill.SkillName), " ", "_")},
		})
	}
	return questions
}

func questionPrompts(category string, skills []model.ExtractedSkill, scenario model.InputScenario) (system, prompt string) {
	type skillContext struct {
		Name            string                `json:"name"`
		ExperienceLevel model.ExperienceLevel `json:"experience_level"`
		Confidence      int                   `json:"confidence"`
		Evidence        string                `json:"evidence"`
		Context         string                `json:"context"`
		Technologies    []string              `json:"technologies,omitempty"`
	}
	contexts := make([]skillContext, 0, len(skills))
	for _, skill := range skills {
		contexts = append(contexts, skillContext{
			Name:            skill.SkillName,
			ExperienceLevel: skill.ExperienceLevel,
			Confidence:      skill.ConfidenceScore,
			Evidence:        skill.Evidence,
			Context:         skill.Context,
			Technologies:    skill.Technologies,
		})
	}
	contextJSON, _ := json.MarshalIndent(contexts, "", "  ")

	system = fmt.Sprintf(`You are an expert technical interviewer specializing in %s. Your goal is to create DEEP, NON-GENERIC technical questions that test true understanding.

CORE PRINCIPLES:
1. Questions must be SPECIFIC to the candidate's experience, not generic
2. Test mathematical foundations, implementation details, and optimization knowledge
3. Mix different question types for comprehensive assessment
4. Difficulty should match the candidate's demonstrated experience level
5. Each question should have a clear rationale based on the evidence

AVOID generic questions that could apply to any candidate, simple "what is X" questions, and questions that test only memorization.`, category)

	prompt = fmt.Sprintf(`Generate deep technical interview questions for the %s category.

CANDIDATE'S SKILLS IN THIS CATEGORY:
%s

INPUT SCENARIO: %s

REQUIREMENTS:
1. Generate 2-3 questions per skill (if skill has high confidence/importance)
2. Questions must be tailored to the candidate's specific experience and evidence
3. Mix question types to test different aspects of knowledge
4. Ensure each question tests DEEP understanding, not surface knowledge

OUTPUT FORMAT (JSON):
{
  "questions": [
    {
      "question_id": "unique_id",
      "question_text": "detailed technical question",
      "question_type": "mathematical_foundation|implementation_details|optimization_scaling|edge_cases_debugging|system_design|best_practices|theoretical_concepts",
      "difficulty_level": 1-5,
      "estimated_time_minutes": 5-15,
      "targeted_skill": "specific skill name",
      "rationale": "why this question for this candidate based on their evidence",
      "tags": ["relevant", "technical", "tags"]
    }
  ]
}

Make each question specific to their experience and test deep technical understanding.`, category, contextJSON, scenario)
	return system, prompt
}
