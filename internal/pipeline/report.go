package pipeline

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/skillstream/skillstream/model"
)

// ReportStage assembles everything the earlier stages produced into the
// final evaluation report: per-skill assessments, category sections, the
// candidate summary and the formatted document. Assembly is fully
// deterministic, no model calls happen here.
type ReportStage struct {
	deps *stageDeps
}

func (s *ReportStage) Name() string   { return StageAssembleReport }
func (s *ReportStage) Label() string  { return "Finalizing Report" }
func (s *ReportStage) Marker() string { return MarkerCompleted }

func (s *ReportStage) Check(st *State) error {
	if len(st.Approved) == 0 {
		return fmt.Errorf("no approved questions available")
	}
	if len(st.Responses) == 0 {
		return fmt.Errorf("no expected responses available")
	}
	return nil
}

func (s *ReportStage) Run(ctx context.Context, st *State) error {
	assessments := buildSkillAssessments(st)
	sections := buildSections(assessments, st.Categories)
	if len(sections) == 0 {
		return fmt.Errorf("no report sections could be assembled")
	}

	for i, section := range sections {
		s.deps.emitter.Emit(st.TaskID, model.EventSectionAssembled, s.Name(), map[string]any{
			"section_id":     section.SectionID,
			"section_name":   section.SectionName,
			"question_count": sectionQuestionCount(section),
			"estimated_mins": section.EstimatedMins,
			"section_index":  i + 1,
			"total_sections": len(sections),
		})
	}

	totalQuestions := 0
	totalMins := 0
	for _, section := range sections {
		totalQuestions += sectionQuestionCount(section)
		totalMins += section.EstimatedMins
	}

	report := &model.Report{
		CandidateName:     extractCandidateName(st.Request.ResumeText),
		PositionTitle:     st.Request.PositionTitle,
		GeneratedAt:       time.Now().UTC(),
		InputScenario:     st.Scenario,
		SkillsIdentified:  len(st.Skills),
		CategoriesCovered: len(sections),
		QuestionsTotal:    totalQuestions,
		DurationMins:      totalMins,
		Sections:          sections,
		KeyStrengths:      identifyKeyStrengths(st.Skills, sections),
		PotentialConcerns: identifyPotentialConcerns(st.Skills, sections, totalQuestions),
		FocusAreas:        recommendFocusAreas(sections),
		Recommendation:    overallRecommendation(st.Skills, st.Scenario, totalQuestions),
	}
	report.FormattedReport = formatReport(report)

	st.Report = report
	return nil
}

// buildSkillAssessments groups approved questions by targeted skill in
// first-seen order and attaches the matching evaluations and responses.
// Questions targeting a skill that was never extracted are left out.
func buildSkillAssessments(st *State) []model.SkillAssessment {
	var order []string
	grouped := make(map[string]*model.SkillAssessment)

	for _, question := range st.Approved {
		name := question.TargetedSkill
		assessment, ok := grouped[name]
		if !ok {
			skill, found := st.SkillByName(name)
			if !found {
				continue
			}
			assessment = &model.SkillAssessment{
				SkillName: name,
				Category:  skill.Category,
				Skill:     skill,
			}
			grouped[name] = assessment
			order = append(order, name)
		}

		assessment.Questions = append(assessment.Questions, question)
		if eval := evaluationFor(st.Evaluations, question.QuestionID); eval != nil {
			assessment.Evaluations = append(assessment.Evaluations, *eval)
		}
		for _, resp := range st.Responses {
			if resp.QuestionID == question.QuestionID {
				assessment.Responses = append(assessment.Responses, resp)
				break
			}
		}
	}

	assessments := make([]model.SkillAssessment, 0, len(order))
	for _, name := range order {
		assessment := grouped[name]
		assessment.Summary = assessmentSummary(assessment)
		assessments = append(assessments, *assessment)
	}
	return assessments
}

func assessmentSummary(a *model.SkillAssessment) string {
	avg := 0.0
	if len(a.Evaluations) > 0 {
		sum := 0
		for _, e := range a.Evaluations {
			sum += e.OverallQuality
		}
		avg = float64(sum) / float64(len(a.Evaluations))
	}

	var types []string
	seen := make(map[model.QuestionType]bool)
	for _, q := range a.Questions {
		if !seen[q.QuestionType] {
			seen[q.QuestionType] = true
			types = append(types, strings.ReplaceAll(string(q.QuestionType), "_", " "))
		}
	}

	return fmt.Sprintf("Assessment covers %d deep technical questions targeting %s (%s level, confidence: %d/5). "+
		"Questions focus on: %s. Average question quality: %.1f/5.",
		len(a.Questions), a.SkillName, a.Skill.ExperienceLevel, a.Skill.ConfidenceScore,
		strings.Join(types, ", "), avg)
}

// buildSections groups assessments by category, ordered by the category
// priorities discovered during extraction. Categories the extractor never
// described get appended after the described ones.
func buildSections(assessments []model.SkillAssessment, categories []model.SkillCategory) []model.ReportSection {
	grouped := make(map[string][]model.SkillAssessment)
	var seen []string
	for _, a := range assessments {
		if _, ok := grouped[a.Category]; !ok {
			seen = append(seen, a.Category)
		}
		grouped[a.Category] = append(grouped[a.Category], a)
	}

	described := make(map[string]model.SkillCategory, len(categories))
	for _, c := range categories {
		described[c.Name] = c
	}

	ordered := make([]model.SkillCategory, len(categories))
	copy(ordered, categories)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Priority < ordered[j].Priority })
	for _, name := range seen {
		if _, ok := described[name]; !ok {
			ordered = append(ordered, model.SkillCategory{Name: name, Priority: len(ordered) + 1})
		}
	}

	var sections []model.ReportSection
	for _, category := range ordered {
		group, ok := grouped[category.Name]
		if !ok {
			continue
		}
		total := 0
		for _, a := range group {
			for _, q := range a.Questions {
				total += q.EstimatedMins
			}
		}
		sections = append(sections, model.ReportSection{
			SectionID:     fmt.Sprintf("section_%d", len(sections)+1),
			SectionName:   category.Name,
			Description:   category.Description,
			Assessments:   group,
			EstimatedMins: total,
			Priority:      category.Priority,
		})
	}
	return sections
}

func sectionQuestionCount(section model.ReportSection) int {
	n := 0
	for _, a := range section.Assessments {
		n += len(a.Questions)
	}
	return n
}

// extractCandidateName scans the first resume lines for something that
// looks like a name: two or three alphabetic title-case words.
func extractCandidateName(resumeText string) string {
	if resumeText == "" {
		return ""
	}
	lines := strings.Split(resumeText, "\n")
	if len(lines) > 5 {
		lines = lines[:5]
	}
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if len(line) < 3 || len(line) > 50 {
			continue
		}
		words := strings.Fields(line)
		if len(words) < 2 || len(words) > 3 {
			continue
		}
		ok := true
		for _, word := range words {
			if !isAlpha(word) || !unicode.IsUpper(rune(word[0])) {
				ok = false
				break
			}
		}
		if ok {
			return line
		}
	}
	return ""
}

func isAlpha(s string) bool {
	for _, r := range s {
		if !unicode.IsLetter(r) {
			return false
		}
	}
	return len(s) > 0
}

func identifyKeyStrengths(skills []model.ExtractedSkill, sections []model.ReportSection) []string {
	var strengths []string

	highConfidence := filterSkills(skills, func(s model.ExtractedSkill) bool { return s.ConfidenceScore >= 4 })
	sort.SliceStable(highConfidence, func(i, j int) bool {
		return highConfidence[i].ConfidenceScore > highConfidence[j].ConfidenceScore
	})
	if len(highConfidence) > 3 {
		highConfidence = highConfidence[:3]
	}
	for _, s := range highConfidence {
		strengths = append(strengths, fmt.Sprintf("Strong evidence of %s expertise (%s level)", s.SkillName, s.ExperienceLevel))
	}

	if n := categoryCount(skills); n >= 3 {
		strengths = append(strengths, fmt.Sprintf("Broad technical expertise across %d different categories", n))
	}

	advanced := filterSkills(skills, func(s model.ExtractedSkill) bool {
		return s.ExperienceLevel == model.LevelAdvanced || s.ExperienceLevel == model.LevelExpert
	})
	if len(advanced) >= 2 {
		names := skillNames(advanced)
		if len(names) > 3 {
			names = names[:3]
		}
		strengths = append(strengths, fmt.Sprintf("Advanced proficiency in multiple areas: %s", strings.Join(names, ", ")))
	}

	for _, section := range sections {
		if section.Priority <= 2 {
			strengths = append(strengths, "Sufficient experience depth to warrant comprehensive technical assessment")
			break
		}
	}

	if len(strengths) > 4 {
		strengths = strengths[:4]
	}
	return strengths
}

func identifyPotentialConcerns(skills []model.ExtractedSkill, sections []model.ReportSection, totalQuestions int) []string {
	var concerns []string

	lowConfidence := filterSkills(skills, func(s model.ExtractedSkill) bool { return s.ConfidenceScore <= 2 })
	if len(lowConfidence) > 0 {
		concerns = append(concerns, fmt.Sprintf("Limited evidence for %d mentioned skills", len(lowConfidence)))
	}

	beginner := filterSkills(skills, func(s model.ExtractedSkill) bool { return s.ExperienceLevel == model.LevelBeginner })
	if len(beginner) >= 2 {
		names := skillNames(beginner)
		if len(names) > 3 {
			names = names[:3]
		}
		concerns = append(concerns, fmt.Sprintf("Several skills at beginner level: %s", strings.Join(names, ", ")))
	}

	if len(sections) < 2 {
		concerns = append(concerns, "Limited technical breadth - few skill categories identified")
	}
	if totalQuestions < 5 {
		concerns = append(concerns, "Limited depth of experience may result in fewer technical questions")
	}

	if len(concerns) > 4 {
		concerns = concerns[:4]
	}
	return concerns
}

func recommendFocusAreas(sections []model.ReportSection) []string {
	var focus []string
	add := func(item string) {
		for _, existing := range focus {
			if existing == item {
				return
			}
		}
		focus = append(focus, item)
	}

	byPriority := make([]model.ReportSection, len(sections))
	copy(byPriority, sections)
	sort.SliceStable(byPriority, func(i, j int) bool { return byPriority[i].Priority < byPriority[j].Priority })
	for i, section := range byPriority {
		if i >= 2 {
			break
		}
		add(fmt.Sprintf("Prioritize %s assessment - %d targeted questions available",
			section.SectionName, sectionQuestionCount(section)))
	}

	byQuestions := make([]model.ReportSection, len(sections))
	copy(byQuestions, sections)
	sort.SliceStable(byQuestions, func(i, j int) bool {
		return sectionQuestionCount(byQuestions[i]) > sectionQuestionCount(byQuestions[j])
	})
	for i, section := range byQuestions {
		if i >= 2 {
			break
		}
		if sectionQuestionCount(section) >= 3 {
			add(fmt.Sprintf("Deep dive into %s - candidate shows strong evidence", section.SectionName))
		}
	}

	total := 0
	for _, section := range sections {
		total += section.EstimatedMins
	}
	if total > 60 {
		add(fmt.Sprintf("Consider time management - full assessment estimated at %d minutes", total))
	}

	if len(focus) > 4 {
		focus = focus[:4]
	}
	return focus
}

// overallRecommendation grades the candidate on simple strength signals and
// frames the result by input scenario.
func overallRecommendation(skills []model.ExtractedSkill, scenario model.InputScenario, totalQuestions int) string {
	highConfidence := len(filterSkills(skills, func(s model.ExtractedSkill) bool { return s.ConfidenceScore >= 4 }))
	advanced := len(filterSkills(skills, func(s model.ExtractedSkill) bool {
		return s.ExperienceLevel == model.LevelAdvanced || s.ExperienceLevel == model.LevelExpert
	}))
	categories := categoryCount(skills)

	score := 0
	switch {
	case highConfidence >= 3:
		score += 2
	case highConfidence >= 1:
		score++
	}
	switch {
	case advanced >= 2:
		score += 2
	case advanced >= 1:
		score++
	}
	switch {
	case categories >= 4:
		score += 2
	case categories >= 2:
		score++
	}
	if totalQuestions >= 8 {
		score++
	}

	var context string
	switch scenario {
	case model.ScenarioBoth:
		context = "Strong alignment between candidate skills and role requirements. "
	case model.ScenarioResumeOnly:
		context = "Assessment based on candidate's demonstrated experience. "
	default:
		context = "Assessment covers all role requirements. "
	}

	switch {
	case score >= 6:
		return context + "Highly recommended - demonstrates deep technical expertise across multiple areas. Proceed with confidence to technical interview."
	case score >= 4:
		return context + "Recommended - shows solid technical foundation. Good candidate for technical interview with focus on identified strength areas."
	case score >= 2:
		return context + "Conditionally recommended - adequate technical background but may need focused assessment in key areas."
	default:
		return context + "Requires careful evaluation - limited evidence of deep technical expertise. Consider preliminary screening."
	}
}

func filterSkills(skills []model.ExtractedSkill, keep func(model.ExtractedSkill) bool) []model.ExtractedSkill {
	var out []model.ExtractedSkill
	for _, s := range skills {
		if keep(s) {
			out = append(out, s)
		}
	}
	return out
}

func skillNames(skills []model.ExtractedSkill) []string {
	names := make([]string, 0, len(skills))
	for _, s := range skills {
		names = append(names, s.SkillName)
	}
	return names
}

func categoryCount(skills []model.ExtractedSkill) int {
	seen := make(map[string]bool)
	for _, s := range skills {
		seen[s.Category] = true
	}
	return len(seen)
}

// formatReport renders the markdown document included in the result.
func formatReport(r *model.Report) string {
	var b strings.Builder

	name := r.CandidateName
	if name == "" {
		name = "Candidate"
	}
	fmt.Fprintf(&b, "# Technical Interview Evaluation: %s\n", name)
	fmt.Fprintf(&b, "**Position:** %s\n", r.PositionTitle)
	fmt.Fprintf(&b, "**Evaluation Date:** %s\n", r.GeneratedAt.Format("2006-01-02"))
	fmt.Fprintf(&b, "**Input Scenario:** %s\n\n", r.InputScenario)

	b.WriteString("## Executive Summary\n\n")
	fmt.Fprintf(&b, "**Skills Identified:** %d\n", r.SkillsIdentified)
	fmt.Fprintf(&b, "**Categories Covered:** %d\n", r.CategoriesCovered)
	fmt.Fprintf(&b, "**Technical Questions Generated:** %d\n", r.QuestionsTotal)
	fmt.Fprintf(&b, "**Estimated Interview Duration:** %d minutes\n\n", r.DurationMins)
	fmt.Fprintf(&b, "**Overall Recommendation:** %s\n\n", r.Recommendation)

	b.WriteString("## Key Insights\n\n### Strengths\n")
	for _, s := range r.KeyStrengths {
		fmt.Fprintf(&b, "- %s\n", s)
	}
	if len(r.PotentialConcerns) > 0 {
		b.WriteString("\n### Areas for Assessment\n")
		for _, c := range r.PotentialConcerns {
			fmt.Fprintf(&b, "- %s\n", c)
		}
	}
	b.WriteString("\n### Recommended Focus Areas\n")
	for _, f := range r.FocusAreas {
		fmt.Fprintf(&b, "- %s\n", f)
	}
	b.WriteString("\n")

	for i, section := range r.Sections {
		fmt.Fprintf(&b, "## Section %d: %s\n", i+1, section.SectionName)
		if section.Description != "" {
			fmt.Fprintf(&b, "*%s*\n", section.Description)
		}
		fmt.Fprintf(&b, "**Estimated Time:** %d minutes\n\n", section.EstimatedMins)

		for j, assessment := range section.Assessments {
			fmt.Fprintf(&b, "### %d.%d %s\n\n", i+1, j+1, assessment.SkillName)
			fmt.Fprintf(&b, "**Experience Level:** %s (Confidence: %d/5)\n",
				assessment.Skill.ExperienceLevel, assessment.Skill.ConfidenceScore)
			fmt.Fprintf(&b, "**Evidence:** %s\n", assessment.Skill.Evidence)
			if assessment.Skill.Context != "" {
				fmt.Fprintf(&b, "**Context:** %s\n", assessment.Skill.Context)
			}
			b.WriteString("\n**Technical Questions:**\n\n")

			for k, question := range assessment.Questions {
				fmt.Fprintf(&b, "**%d.%d.%d. %s**\n", i+1, j+1, k+1, question.QuestionText)
				fmt.Fprintf(&b, "- **Question Type:** %s\n", strings.ReplaceAll(string(question.QuestionType), "_", " "))
				fmt.Fprintf(&b, "- **Difficulty Level:** %d/5\n", question.Difficulty)
				fmt.Fprintf(&b, "- **Estimated Time:** %d minutes\n", question.EstimatedMins)
				fmt.Fprintf(&b, "- **Rationale:** %s\n\n", question.Rationale)

				resp := responseFor(assessment.Responses, question.QuestionID)
				if resp == nil {
					continue
				}
				b.WriteString("**Expected Response Guidance:**\n")
				writeGuidanceList(&b, "Key Concepts Required", resp.KeyConcepts)
				writeGuidanceList(&b, "Good Answer Indicators", resp.GoodIndicators)
				writeGuidanceList(&b, "Red Flags", resp.RedFlags)
				writeGuidanceList(&b, "Follow-up Questions", resp.FollowUps)
				b.WriteString("*Scoring Rubric:*\n")
				fmt.Fprintf(&b, "  - Excellent: %s\n", resp.Rubric.Excellent)
				fmt.Fprintf(&b, "  - Good: %s\n", resp.Rubric.Good)
				fmt.Fprintf(&b, "  - Average: %s\n", resp.Rubric.Average)
				fmt.Fprintf(&b, "  - Below Average: %s\n", resp.Rubric.BelowAverage)
				fmt.Fprintf(&b, "  - Poor: %s\n\n", resp.Rubric.Poor)
			}
		}
	}

	return b.String()
}

func responseFor(responses []model.ExpectedResponse, questionID string) *model.ExpectedResponse {
	for i := range responses {
		if responses[i].QuestionID == questionID {
			return &responses[i]
		}
	}
	return nil
}

func writeGuidanceList(b *strings.Builder, title string, items []string) {
	fmt.Fprintf(b, "*%s:*\n", title)
	for _, item := range items {
		fmt.Fprintf(b, "  - %s\n", item)
	}
}
