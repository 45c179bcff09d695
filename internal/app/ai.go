package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"

	"questive/api/internal/quota"
	"questive/api/internal/store"
)

// SuggestedMilestone is one AI-proposed milestone for a goal.
type SuggestedMilestone struct {
	Title         string `json:"title"`
	EstimatedDays int    `json:"estimatedDays"`
	Order         int    `json:"order"`
}

// Prioritization is the AI's suggested task order plus its reasoning.
type Prioritization struct {
	OrderedTaskIDs []string `json:"orderedTaskIds"`
	Reasoning      string   `json:"reasoning"`
}

// AIStatus reports availability and the quota left for today.
type AIStatus struct {
	Available      bool `json:"available"`
	RemainingCalls int  `json:"remainingCalls"`
}

// quotaWindow loads the user's AI usage window; a missing profile means an
// untouched window.
func (s *Service) quotaWindow(ctx context.Context, userID string) (quota.Window, error) {
	profile, err := s.store.GetProfile(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return quota.Window{}, nil
		}
		return quota.Window{}, err
	}
	return quota.Window{Count: profile.AICallsToday, WindowStart: profile.LastAICallDate}, nil
}

// admitAICall checks today's quota, resetting a stale window in storage so
// the counter reflects the current day.
func (s *Service) admitAICall(ctx context.Context, userID string) (bool, error) {
	window, err := s.quotaWindow(ctx, userID)
	if err != nil {
		return false, err
	}
	now := s.now()
	if window.Stale(now) && window.WindowStart != nil {
		if err := s.store.ResetAICalls(ctx, userID, quota.DayStart(now)); err != nil {
			return false, err
		}
	}
	return window.Admit(now), nil
}

// recordAICall increments the counter after a successful model call.
func (s *Service) recordAICall(ctx context.Context, userID string) {
	if err := s.store.RecordAICall(ctx, userID, quota.DayStart(s.now())); err != nil {
		log.Printf("ai: record call for %s: %v", userID, err)
	}
}

// buildProfileContext renders the profile block for prompts. A profile
// without a bio contributes nothing at all.
func (s *Service) buildProfileContext(ctx context.Context, userID string) string {
	profile, err := s.store.GetProfile(ctx, userID)
	if err != nil || profile.Bio == "" {
		return ""
	}

	var parts []string
	parts = append(parts, "Background: "+profile.Bio)
	if profile.CurrentRole != "" {
		parts = append(parts, "Current Role: "+profile.CurrentRole)
	}
	if profile.YearsExperience != nil {
		parts = append(parts, fmt.Sprintf("Experience: %d years", *profile.YearsExperience))
	}
	if profile.Company != "" {
		parts = append(parts, "Company/School: "+profile.Company)
	}
	if len(profile.Skills) > 0 {
		parts = append(parts, "Skills: "+strings.Join(profile.Skills, ", "))
	}
	if len(profile.SkillsGained) > 0 {
		parts = append(parts, "Skills gained from completed goals: "+strings.Join(profile.SkillsGained, ", "))
	}

	return "\nUser Profile:\n" + strings.Join(parts, "\n")
}

// MilestoneSuggestionInput describes the goal to break down. The goal does
// not have to exist yet: callers drafting a new goal pass Title/Description
// directly, while GoalID is a convenience that loads both from a saved goal.
type MilestoneSuggestionInput struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	GoalID      string `json:"goalId"`
}

// GenerateMilestones asks the model to break a goal into 3-5 milestones.
func (s *Service) GenerateMilestones(ctx context.Context, session Session, input MilestoneSuggestionInput) ([]SuggestedMilestone, error) {
	if s.ai == nil || !s.ai.Available() {
		return nil, actionError("AI features are not available. Please configure GOOGLE_AI_API_KEY.")
	}

	title := strings.TrimSpace(input.Title)
	description := strings.TrimSpace(input.Description)
	if input.GoalID != "" {
		goal, err := s.store.GetGoal(ctx, session.UserID, input.GoalID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, actionError("Goal not found")
			}
			return nil, err
		}
		title = goal.Title
		description = goal.Description
	}
	if title == "" {
		return nil, actionError("Title is required")
	}

	admitted, err := s.admitAICall(ctx, session.UserID)
	if err != nil {
		return nil, err
	}
	if !admitted {
		return nil, actionError("Daily AI call limit reached. Try again tomorrow.")
	}

	profileContext := s.buildProfileContext(ctx, session.UserID)

	var sb strings.Builder
	sb.WriteString("You are a goal planning assistant. Break down this goal into 3-5 actionable milestones.\n")
	sb.WriteString(profileContext)
	sb.WriteString("\n\nGoal: \"" + title + "\"\n")
	if description != "" {
		sb.WriteString("Description: \"" + description + "\"\n")
	}
	sb.WriteString(`
Consider the user's current skill level and experience when suggesting milestones.
For experienced users, skip basics. For beginners, include foundational steps.
Each milestone should be specific, measurable, and achievable.

Return JSON only (no markdown):
{
  "milestones": [
    { "title": "...", "estimatedDays": N, "order": N }
  ]
}`)

	text, err := s.ai.Complete(ctx, sb.String())
	if err != nil {
		log.Printf("ai: milestone generation: %v", err)
		return nil, actionError("Failed to generate milestones. Please try again.")
	}

	var parsed struct {
		Milestones []SuggestedMilestone `json:"milestones"`
	}
	if err := json.Unmarshal([]byte(stripCodeFence(text)), &parsed); err != nil {
		log.Printf("ai: milestone parse: %v", err)
		return nil, actionError("Failed to generate milestones. Please try again.")
	}

	s.recordAICall(ctx, session.UserID)
	return parsed.Milestones, nil
}

// PrioritizeTasks asks the model for an optimal ordering of board tasks.
// Only tasks the caller owns are considered; unknown ids are ignored.
func (s *Service) PrioritizeTasks(ctx context.Context, session Session, taskIDs []string) (Prioritization, error) {
	if s.ai == nil || !s.ai.Available() {
		return Prioritization{}, actionError("AI features are not available. Please configure GOOGLE_AI_API_KEY.")
	}

	tasks, err := s.store.ListTasksByIDs(ctx, session.UserID, taskIDs)
	if err != nil {
		return Prioritization{}, err
	}
	if len(tasks) < 2 {
		return Prioritization{}, actionError("Need at least 2 tasks to prioritize.")
	}

	admitted, err := s.admitAICall(ctx, session.UserID)
	if err != nil {
		return Prioritization{}, err
	}
	if !admitted {
		return Prioritization{}, actionError("Daily AI call limit reached. Try again tomorrow.")
	}

	type taskData struct {
		ID           string  `json:"id"`
		Title        string  `json:"title"`
		DueDate      *string `json:"dueDate"`
		GoalTitle    string  `json:"goalTitle"`
		GoalPriority string  `json:"goalPriority"`
	}
	data := make([]taskData, 0, len(tasks))
	for _, task := range tasks {
		item := taskData{
			ID:           task.ID,
			Title:        task.Title,
			GoalTitle:    "Quick Task",
			GoalPriority: store.PriorityMedium,
		}
		if task.DueDate != nil {
			due := task.DueDate.Format("2006-01-02")
			item.DueDate = &due
		}
		if task.Context != nil {
			item.GoalTitle = task.Context.GoalTitle
			item.GoalPriority = task.Context.GoalPriority
		}
		data = append(data, item)
	}
	encoded, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return Prioritization{}, fmt.Errorf("marshal task data: %w", err)
	}

	prompt := fmt.Sprintf(`Given these tasks, suggest the optimal order to complete them today.
Consider: deadlines (sooner = higher priority), goal priority (HIGH > MEDIUM > LOW), and task dependencies.

Tasks:
%s

Return JSON only (no markdown):
{
  "orderedTaskIds": ["id1", "id2", ...],
  "reasoning": "Brief explanation of the suggested order"
}`, encoded)

	text, err := s.ai.Complete(ctx, prompt)
	if err != nil {
		log.Printf("ai: task prioritization: %v", err)
		return Prioritization{}, actionError("Failed to prioritize tasks: " + err.Error())
	}

	var parsed Prioritization
	if err := json.Unmarshal([]byte(stripCodeFence(text)), &parsed); err != nil {
		log.Printf("ai: prioritization parse: %v", err)
		return Prioritization{}, actionError("Failed to prioritize tasks: " + err.Error())
	}

	s.recordAICall(ctx, session.UserID)
	return parsed, nil
}

// updateProfileFromCompletion infers skills from a just-completed goal and
// folds them into the profile. It runs in the background after goal
// completion; every failure is swallowed, it must never surface to the user.
func (s *Service) updateProfileFromCompletion(ctx context.Context, userID string, goal store.Goal) {
	if s.ai == nil || !s.ai.Available() {
		return
	}

	milestones, err := s.store.ListCompletedMilestones(ctx, goal.ID)
	if err != nil {
		log.Printf("ai: profile update load milestones: %v", err)
		return
	}
	titles := make([]string, 0, len(milestones))
	for _, milestone := range milestones {
		titles = append(titles, milestone.Title)
	}

	var sb strings.Builder
	sb.WriteString("A user completed this goal:\n")
	sb.WriteString("Goal: \"" + goal.Title + "\"\n")
	if goal.Description != "" {
		sb.WriteString("Description: \"" + goal.Description + "\"\n")
	}
	sb.WriteString("Milestones completed: " + strings.Join(titles, ", "))
	sb.WriteString(`

Extract 1-3 skills or achievements to add to their profile.
Be concise - just skill keywords or short phrases, not sentences.
Focus on transferable skills or domain knowledge gained.

Return JSON only (no markdown):
{
  "skillsGained": ["skill1", "skill2"]
}`)

	text, err := s.ai.Complete(ctx, sb.String())
	if err != nil {
		log.Printf("ai: profile update: %v", err)
		return
	}

	var parsed struct {
		SkillsGained []string `json:"skillsGained"`
	}
	if err := json.Unmarshal([]byte(stripCodeFence(text)), &parsed); err != nil {
		log.Printf("ai: profile update parse: %v", err)
		return
	}

	if err := s.store.AppendSkillsGained(ctx, userID, parsed.SkillsGained); err != nil {
		log.Printf("ai: profile update store: %v", err)
	}
}

// GetAIStatus reports whether AI is configured and how many calls remain
// today. It never mutates the quota window.
func (s *Service) GetAIStatus(ctx context.Context, session Session) (AIStatus, error) {
	status := AIStatus{Available: s.ai != nil && s.ai.Available()}

	window, err := s.quotaWindow(ctx, session.UserID)
	if err != nil {
		return AIStatus{}, err
	}
	status.RemainingCalls = window.Remaining(s.now())
	return status, nil
}

// stripCodeFence removes a ```json fence if the model wrapped its output
// despite being asked not to.
func stripCodeFence(text string) string {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}
