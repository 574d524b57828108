package model

import "time"

// ExperienceLevel grades how deeply a candidate knows a skill.
type ExperienceLevel string

const (
	LevelBeginner     ExperienceLevel = "Beginner"
	LevelIntermediate ExperienceLevel = "Intermediate"
	LevelAdvanced     ExperienceLevel = "Advanced"
	LevelExpert       ExperienceLevel = "Expert"
)

// SkillCategory groups related skills, e.g. "Backend Development".
type SkillCategory struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Priority    int    `json:"priority"`
}

// ExtractedSkill is one technical skill found in the input documents.
type ExtractedSkill struct {
	SkillName       string          `json:"skill_name"`
	Category        string          `json:"category"`
	Evidence        string          `json:"evidence_from_text"`
	ExperienceLevel ExperienceLevel `json:"experience_level"`
	ConfidenceScore int             `json:"confidence_score"`
	Context         string          `json:"context"`
	YearsExperience string          `json:"years_of_experience,omitempty"`
	Technologies    []string        `json:"specific_technologies,omitempty"`
}

// QuestionType classifies generated questions.
type QuestionType string

const (
	QuestionMathematicalFoundation QuestionType = "mathematical_foundation"
	QuestionImplementationDetails  QuestionType = "implementation_details"
	QuestionOptimizationScaling    QuestionType = "optimization_scaling"
	QuestionEdgeCasesDebugging     QuestionType = "edge_cases_debugging"
	QuestionSystemDesign           QuestionType = "system_design"
	QuestionBestPractices          QuestionType = "best_practices"
	QuestionTheoreticalConcepts    QuestionType = "theoretical_concepts"
)

// TechnicalQuestion is one generated interview question.
type TechnicalQuestion struct {
	QuestionID     string       `json:"question_id"`
	QuestionText   string       `json:"question_text"`
	QuestionType   QuestionType `json:"question_type"`
	Difficulty     int          `json:"difficulty_level"`
	EstimatedMins  int          `json:"estimated_time_minutes"`
	TargetedSkill  string       `json:"targeted_skill"`
	Rationale      string       `json:"rationale"`
	Tags           []string     `json:"tags,omitempty"`
}

// QuestionEvaluation scores one question's quality on 1-5 scales.
type QuestionEvaluation struct {
	QuestionID          string `json:"question_id"`
	TechnicalDepth      int    `json:"technical_depth_score"`
	Relevance           int    `json:"relevance_score"`
	DifficultyFit       int    `json:"difficulty_appropriateness"`
	NonGeneric          int    `json:"non_generic_score"`
	OverallQuality      int    `json:"overall_quality"`
	Feedback            string `json:"feedback"`
	Approved            bool   `json:"approved"`
}

// ScoringRubric describes what each answer grade looks like.
type ScoringRubric struct {
	Excellent    string `json:"excellent"`
	Good         string `json:"good"`
	Average      string `json:"average"`
	BelowAverage string `json:"below_average"`
	Poor         string `json:"poor"`
}

// ExpectedResponse is interviewer guidance for one question.
type ExpectedResponse struct {
	QuestionID       string        `json:"question_id"`
	KeyConcepts      []string      `json:"key_concepts_required"`
	GoodIndicators   []string      `json:"good_answer_indicators"`
	RedFlags         []string      `json:"red_flags"`
	FollowUps        []string      `json:"follow_up_questions"`
	Rubric           ScoringRubric `json:"scoring_rubric"`
}

// SkillAssessment bundles everything generated for a single skill.
type SkillAssessment struct {
	SkillName   string               `json:"skill_name"`
	Category    string               `json:"category"`
	Skill       ExtractedSkill       `json:"extracted_skill"`
	Questions   []TechnicalQuestion  `json:"questions"`
	Evaluations []QuestionEvaluation `json:"question_evaluations"`
	Responses   []ExpectedResponse   `json:"expected_responses"`
	Summary     string               `json:"overall_assessment"`
}

// ReportSection groups skill assessments that share a category.
type ReportSection struct {
	SectionID     string            `json:"section_id"`
	SectionName   string            `json:"section_name"`
	Description   string            `json:"description"`
	Assessments   []SkillAssessment `json:"skill_assessments"`
	EstimatedMins int               `json:"estimated_total_time"`
	Priority      int               `json:"priority"`
}

// StagePerformance is one entry of the per-stage timing breakdown included
// in the final result.
type StagePerformance struct {
	Stage      string        `json:"stage"`
	Success    bool          `json:"success"`
	Duration   time.Duration `json:"duration"`
	DurationMS int64         `json:"duration_ms"`
	Error      string        `json:"error,omitempty"`
}

// Report is the terminal result payload of a completed task.
type Report struct {
	CandidateName     string             `json:"candidate_name,omitempty"`
	PositionTitle     string             `json:"position_title"`
	GeneratedAt       time.Time          `json:"generated_at"`
	InputScenario     InputScenario      `json:"input_scenario"`
	SkillsIdentified  int                `json:"skills_identified"`
	CategoriesCovered int                `json:"categories_covered"`
	QuestionsTotal    int                `json:"questions_generated"`
	DurationMins      int                `json:"interview_duration_minutes"`
	Sections          []ReportSection    `json:"sections"`
	KeyStrengths      []string           `json:"key_strengths,omitempty"`
	PotentialConcerns []string           `json:"potential_concerns,omitempty"`
	FocusAreas        []string           `json:"focus_areas,omitempty"`
	Recommendation    string             `json:"overall_recommendation,omitempty"`
	FormattedReport   string             `json:"formatted_report"`
	ProcessingTime    time.Duration      `json:"processing_time"`
	StageBreakdown    []StagePerformance `json:"stage_breakdown"`
}
