package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/skillstream/skillstream/internal/llm"
	"github.com/skillstream/skillstream/internal/observability"
	"github.com/skillstream/skillstream/model"
)

// stageDeps is the shared dependency set handed to every stage.
type stageDeps struct {
	client      llm.Client
	emitter     Emitter
	metrics     *observability.Metrics
	temperature float64
}

// fallback counts a locally recovered model failure for the stage.
func (d *stageDeps) fallback(stage string) {
	if d.metrics != nil {
		d.metrics.RecordStageFallback(stage)
	}
}

// complete calls the model and records the request outcome.
func (d *stageDeps) complete(ctx context.Context, req llm.CompletionRequest) (string, error) {
	start := time.Now()
	reply, err := d.client.Complete(ctx, req)
	if d.metrics != nil {
		status := "success"
		if err != nil {
			status = "error"
		}
		d.metrics.RecordLLMRequest(d.client.Provider(), status, time.Since(start))
	}
	return reply, err
}

// ExtractStage reads the input documents and produces the skill inventory
// the rest of the pipeline works from. There is no local fallback here: a
// failed extraction fails the run, because every later stage depends on it.
type ExtractStage struct {
	deps *stageDeps
}

func (s *ExtractStage) Name() string   { return StageExtractSkills }
func (s *ExtractStage) Label() string  { return "Extracting Skills" }
func (s *ExtractStage) Marker() string { return MarkerSkillsExtracted }

func (s *ExtractStage) Check(st *State) error {
	if st.Scenario == "" {
		return fmt.Errorf("no input documents provided")
	}
	if st.Request.PositionTitle == "" {
		return fmt.Errorf("position title is required")
	}
	return nil
}

type extractionOutput struct {
	Skills     []model.ExtractedSkill `json:"skills"`
	Categories []model.SkillCategory  `json:"categories"`
}

func (s *ExtractStage) Run(ctx context.Context, st *State) error {
	s.deps.emitter.Emit(st.TaskID, model.EventStageThinking, s.Name(), map[string]any{
		"message": scenarioThinking(st.Scenario),
	})

	system, prompt := extractionPrompts(st.Scenario, st.Request)
	reply, err := s.deps.complete(ctx, llm.CompletionRequest{
		System:      system,
		Prompt:      prompt,
		Temperature: s.deps.temperature,
	})
	if err != nil {
		return fmt.Errorf("skill extraction request: %w", err)
	}

	var out extractionOutput
	if err := decodeOutput(reply, &out); err != nil {
		return fmt.Errorf("skill extraction output: %w", err)
	}
	if len(out.Skills) == 0 {
		return fmt.Errorf("no technical skills found in the input documents")
	}

	s.deps.emitter.Emit(st.TaskID, model.EventStageThinking, s.Name(), map[string]any{
		"message": fmt.Sprintf("Found %d skills across %d categories", len(out.Skills), len(out.Categories)),
	})
	for i, skill := range out.Skills {
		s.deps.emitter.Emit(st.TaskID, model.EventSkillFound, s.Name(), map[string]any{
			"skill_name":       skill.SkillName,
			"category":         skill.Category,
			"experience_level": skill.ExperienceLevel,
			"confidence_score": skill.ConfidenceScore,
			"skill_index":      i + 1,
			"total_skills":     len(out.Skills),
		})
	}

	st.Skills = out.Skills
	st.Categories = out.Categories
	return nil
}

func scenarioThinking(scenario model.InputScenario) string {
	switch scenario {
	case model.ScenarioResumeOnly:
		return "Analyzing resume for technical skills..."
	case model.ScenarioJDOnly:
		return "Analyzing job description for required skills..."
	case model.ScenarioBoth:
		return "Analyzing both resume and job description to identify skill matches and gaps..."
	default:
		return "Processing documents..."
	}
}

const extractionFormat = `Provide a comprehensive analysis in the following JSON format:

{
  "skills": [
    {
      "skill_name": "exact skill name",
      "category": "logical category (e.g. Programming Languages, Backend Frameworks, Databases, Cloud Platforms)",
      "evidence_from_text": "exact text snippet where mentioned",
      "experience_level": "Beginner/Intermediate/Advanced/Expert",
      "confidence_score": 1-5,
      "context": "work/project context where used",
      "years_of_experience": "if mentioned explicitly",
      "specific_technologies": ["related tools/versions"]
    }
  ],
  "categories": [
    {
      "name": "category name",
      "description": "what this category covers",
      "priority": 1-5
    }
  ]
}`

func extractionPrompts(scenario model.InputScenario, req model.TaskRequest) (system, prompt string) {
	switch scenario {
	case model.ScenarioResumeOnly:
		system = `You are an expert technical recruiter and skill extraction specialist. Analyze a resume and extract ALL technical skills with high accuracy.

Focus on programming languages, frameworks, libraries, databases, cloud platforms, tools, methodologies, algorithms and specific technologies. For each skill determine the experience level from context clues, your confidence in the assessment, the specific evidence from the text, and the work or project context where it was used.`
		prompt = fmt.Sprintf(`Analyze this resume for the position of %q and extract ALL technical skills.

RESUME:
%s

%s

IMPORTANT:
- Extract EVERY technical skill mentioned, even if briefly
- Infer experience levels from context (project complexity, role seniority, achievements)
- High confidence (4-5) only for skills with clear evidence
- Priority 1 = most important for the role`, req.PositionTitle, req.ResumeText, extractionFormat)

	case model.ScenarioJDOnly:
		system = `You are an expert at analyzing job descriptions to identify required technical skills. Extract both explicit requirements and implicit skills needed for the role, distinguishing must-have from nice-to-have, and noting the technical depth and experience levels expected.`
		prompt = fmt.Sprintf(`Analyze this job description for %q and extract ALL required or preferred technical skills, including skills candidates would need to have or learn for the role.

JOB DESCRIPTION:
%s

%s

IMPORTANT:
- Include both explicit and implicit skill requirements
- Consider ecosystem technologies (if React is mentioned, also consider JavaScript, CSS)
- Confidence based on how explicitly the skill is mentioned
- Experience level based on role seniority and requirements`, req.PositionTitle, req.JobDescText, extractionFormat)

	default:
		system = `You are analyzing both a candidate's resume and a job description to create a comprehensive skill assessment. Identify skills the candidate HAS, skills the role NEEDS, MATCHES where they align, GAPS where the role needs skills not evidenced in the resume, and ADDITIONAL skills beyond the role requirements. This analysis will drive targeted interview questions.`
		prompt = fmt.Sprintf(`Analyze this resume against the job requirements for %q.

RESUME:
%s

JOB DESCRIPTION:
%s

%s

IMPORTANT:
- Cover both demonstrated skills and role requirements
- Mark confidence from the strength of the resume evidence
- Priority reflects importance to this specific role`, req.PositionTitle, req.ResumeText, req.JobDescText, extractionFormat)
	}
	return system, prompt
}
