package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"questive/api/internal/search"
	"questive/api/internal/store"
	"questive/api/internal/util"
)

type GoalInput struct {
	CategoryID  string     `json:"categoryId"`
	Title       string     `json:"title"`
	Description *string    `json:"description"`
	Status      string     `json:"status"`
	Priority    string     `json:"priority"`
	TargetDate  *time.Time `json:"targetDate"`
}

var allowedGoalStatuses = map[string]struct{}{
	store.GoalStatusNotStarted: {},
	store.GoalStatusInProgress: {},
	store.GoalStatusCompleted:  {},
	store.GoalStatusOnHold:     {},
}

var allowedPriorities = map[string]struct{}{
	store.PriorityLow:    {},
	store.PriorityMedium: {},
	store.PriorityHigh:   {},
}

// GoalWithMilestones is a goal plus its milestones, oldest first.
type GoalWithMilestones struct {
	store.Goal
	Milestones []store.Milestone `json:"milestones"`
}

func (s *Service) ListGoals(ctx context.Context, session Session, categoryID string) ([]store.Goal, error) {
	return s.store.ListGoals(ctx, session.UserID, categoryID)
}

func (s *Service) GetGoal(ctx context.Context, session Session, goalID string) (GoalWithMilestones, error) {
	goal, err := s.store.GetGoal(ctx, session.UserID, goalID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return GoalWithMilestones{}, domainError(http.StatusNotFound, "NOT_FOUND", "Goal not found", nil)
		}
		return GoalWithMilestones{}, err
	}
	milestones, err := s.store.ListMilestones(ctx, goalID)
	if err != nil {
		return GoalWithMilestones{}, err
	}
	return GoalWithMilestones{Goal: goal, Milestones: milestones}, nil
}

func (s *Service) CreateGoal(ctx context.Context, session Session, input GoalInput) (store.Goal, error) {
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return store.Goal{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "title is required", nil)
	}

	// The category must belong to the caller.
	if _, err := s.store.GetCategory(ctx, session.UserID, input.CategoryID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Goal{}, domainError(http.StatusNotFound, "NOT_FOUND", "Category not found", nil)
		}
		return store.Goal{}, err
	}

	goal := store.Goal{
		ID:          util.NewID("goal"),
		UserID:      session.UserID,
		CategoryID:  input.CategoryID,
		Title:       title,
		Description: stringValue(input.Description),
		Status:      input.Status,
		Priority:    input.Priority,
		TargetDate:  input.TargetDate,
	}
	if goal.Status == "" {
		goal.Status = store.GoalStatusNotStarted
	}
	if goal.Priority == "" {
		goal.Priority = store.PriorityMedium
	}
	if _, ok := allowedGoalStatuses[goal.Status]; !ok {
		return store.Goal{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "invalid status", nil)
	}
	if _, ok := allowedPriorities[goal.Priority]; !ok {
		return store.Goal{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "invalid priority", nil)
	}

	if err := s.store.InsertGoal(ctx, goal); err != nil {
		return store.Goal{}, fmt.Errorf("create goal: %w", err)
	}

	s.indexGoal(goal)
	return s.store.GetGoal(ctx, session.UserID, goal.ID)
}

// UpdateGoal applies a partial update. Completing a goal (any status other
// than COMPLETED changing to COMPLETED) kicks off profile enrichment in the
// background; its outcome never affects the update.
func (s *Service) UpdateGoal(ctx context.Context, session Session, goalID string, input GoalInput) (store.Goal, error) {
	goal, err := s.store.GetGoal(ctx, session.UserID, goalID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Goal{}, domainError(http.StatusNotFound, "NOT_FOUND", "Goal not found", nil)
		}
		return store.Goal{}, err
	}
	previousStatus := goal.Status

	if title := strings.TrimSpace(input.Title); title != "" {
		goal.Title = title
	}
	if input.Description != nil {
		goal.Description = *input.Description
	}
	if input.TargetDate != nil {
		goal.TargetDate = input.TargetDate
	}
	if input.CategoryID != "" && input.CategoryID != goal.CategoryID {
		if _, err := s.store.GetCategory(ctx, session.UserID, input.CategoryID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return store.Goal{}, domainError(http.StatusNotFound, "NOT_FOUND", "Category not found", nil)
			}
			return store.Goal{}, err
		}
		goal.CategoryID = input.CategoryID
	}
	if input.Status != "" {
		if _, ok := allowedGoalStatuses[input.Status]; !ok {
			return store.Goal{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "invalid status", nil)
		}
		goal.Status = input.Status
	}
	if input.Priority != "" {
		if _, ok := allowedPriorities[input.Priority]; !ok {
			return store.Goal{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "invalid priority", nil)
		}
		goal.Priority = input.Priority
	}

	if err := s.store.UpdateGoal(ctx, goal); err != nil {
		return store.Goal{}, fmt.Errorf("update goal: %w", err)
	}

	s.indexGoal(goal)

	if previousStatus != store.GoalStatusCompleted && goal.Status == store.GoalStatusCompleted {
		hookCtx := context.WithoutCancel(ctx)
		s.background(func() { s.updateProfileFromCompletion(hookCtx, session.UserID, goal) })
	}

	return goal, nil
}

func (s *Service) DeleteGoal(ctx context.Context, session Session, goalID string) error {
	if _, err := s.store.GetGoal(ctx, session.UserID, goalID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domainError(http.StatusNotFound, "NOT_FOUND", "Goal not found", nil)
		}
		return err
	}
	cascade, err := s.store.DeleteGoal(ctx, goalID)
	if err != nil {
		return fmt.Errorf("delete goal: %w", err)
	}
	cascade.Goals = append(cascade.Goals, goalID)
	s.purgeSearchIndex(cascade)
	return nil
}

// purgeSearchIndex drops index entries for rows removed by a cascading
// delete, so stale hits do not linger until the next full reindex.
func (s *Service) purgeSearchIndex(cascade store.CascadeIDs) {
	if s.search == nil {
		return
	}
	for _, id := range cascade.Goals {
		s.search.DeleteGoal(id)
	}
	for _, id := range cascade.Milestones {
		s.search.DeleteMilestone(id)
	}
	for _, id := range cascade.Tasks {
		s.search.DeleteTask(id)
	}
}

// DashboardStats summarizes progress for the dashboard header.
func (s *Service) DashboardStats(ctx context.Context, session Session) (store.DashboardStats, error) {
	var stats store.DashboardStats
	var err error

	if stats.TotalGoals, err = s.store.CountGoals(ctx, session.UserID, ""); err != nil {
		return store.DashboardStats{}, err
	}
	if stats.CompletedGoals, err = s.store.CountGoals(ctx, session.UserID, store.GoalStatusCompleted); err != nil {
		return store.DashboardStats{}, err
	}
	if stats.InProgressGoals, err = s.store.CountGoals(ctx, session.UserID, store.GoalStatusInProgress); err != nil {
		return store.DashboardStats{}, err
	}
	if stats.TotalMilestones, err = s.store.CountMilestonesByOwner(ctx, session.UserID, ""); err != nil {
		return store.DashboardStats{}, err
	}
	if stats.CompletedMilestones, err = s.store.CountMilestonesByOwner(ctx, session.UserID, store.MilestoneStatusCompleted); err != nil {
		return store.DashboardStats{}, err
	}
	if stats.TotalGoals > 0 {
		stats.CompletionRate = stats.CompletedGoals * 100 / stats.TotalGoals
	}
	return stats, nil
}

// UpcomingMilestones lists the next pending milestones across all goals.
func (s *Service) UpcomingMilestones(ctx context.Context, session Session, limit int) ([]store.UpcomingMilestone, error) {
	if limit <= 0 || limit > 50 {
		limit = 5
	}
	return s.store.ListUpcomingMilestones(ctx, session.UserID, s.now(), limit)
}

func (s *Service) indexGoal(goal store.Goal) {
	if s.search == nil {
		return
	}
	s.search.IndexGoal(search.GoalRecord{
		ID:          goal.ID,
		UserID:      goal.UserID,
		CategoryID:  goal.CategoryID,
		Title:       goal.Title,
		Description: goal.Description,
		Status:      goal.Status,
	})
}
