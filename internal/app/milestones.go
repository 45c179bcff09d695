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

type MilestoneInput struct {
	Title   string     `json:"title"`
	Notes   *string    `json:"notes"`
	DueDate *time.Time `json:"dueDate"`
}

func (s *Service) ListMilestones(ctx context.Context, session Session, goalID string) ([]store.Milestone, error) {
	if _, err := s.store.GetGoal(ctx, session.UserID, goalID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domainError(http.StatusNotFound, "NOT_FOUND", "Goal not found", nil)
		}
		return nil, err
	}
	return s.store.ListMilestones(ctx, goalID)
}

func (s *Service) CreateMilestone(ctx context.Context, session Session, goalID string, input MilestoneInput) (store.Milestone, error) {
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return store.Milestone{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "title is required", nil)
	}

	if _, err := s.store.GetGoal(ctx, session.UserID, goalID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Milestone{}, domainError(http.StatusNotFound, "NOT_FOUND", "Goal not found", nil)
		}
		return store.Milestone{}, err
	}

	milestone := store.Milestone{
		ID:      util.NewID("ms"),
		GoalID:  goalID,
		Title:   title,
		Notes:   stringValue(input.Notes),
		DueDate: input.DueDate,
		Status:  store.MilestoneStatusPending,
	}
	if err := s.store.InsertMilestone(ctx, milestone); err != nil {
		return store.Milestone{}, fmt.Errorf("create milestone: %w", err)
	}

	s.indexMilestone(session.UserID, milestone)
	return s.store.GetMilestoneOwned(ctx, session.UserID, milestone.ID)
}

func (s *Service) UpdateMilestone(ctx context.Context, session Session, milestoneID string, input MilestoneInput) (store.Milestone, error) {
	milestone, err := s.store.GetMilestoneOwned(ctx, session.UserID, milestoneID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Milestone{}, domainError(http.StatusNotFound, "NOT_FOUND", "Milestone not found", nil)
		}
		return store.Milestone{}, err
	}

	if title := strings.TrimSpace(input.Title); title != "" {
		milestone.Title = title
	}
	if input.Notes != nil {
		milestone.Notes = *input.Notes
	}
	if input.DueDate != nil {
		milestone.DueDate = input.DueDate
	}

	if err := s.store.UpdateMilestone(ctx, milestone); err != nil {
		return store.Milestone{}, fmt.Errorf("update milestone: %w", err)
	}

	s.indexMilestone(session.UserID, milestone)
	return milestone, nil
}

// ToggleMilestone flips a milestone between PENDING and COMPLETED.
// Completing sets completedAt; reopening clears it. The linked board task,
// if any, is left alone: task state flows into milestones, never back out.
func (s *Service) ToggleMilestone(ctx context.Context, session Session, milestoneID string) (store.Milestone, error) {
	milestone, err := s.store.GetMilestoneOwned(ctx, session.UserID, milestoneID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Milestone{}, domainError(http.StatusNotFound, "NOT_FOUND", "Milestone not found", nil)
		}
		return store.Milestone{}, err
	}

	if milestone.Status == store.MilestoneStatusCompleted {
		milestone.Status = store.MilestoneStatusPending
		milestone.CompletedAt = nil
	} else {
		now := s.now()
		milestone.Status = store.MilestoneStatusCompleted
		milestone.CompletedAt = &now
	}

	if err := s.store.SetMilestoneStatus(ctx, milestone.ID, milestone.Status, milestone.CompletedAt); err != nil {
		return store.Milestone{}, fmt.Errorf("toggle milestone: %w", err)
	}

	s.indexMilestone(session.UserID, milestone)
	return milestone, nil
}

func (s *Service) DeleteMilestone(ctx context.Context, session Session, milestoneID string) error {
	if _, err := s.store.GetMilestoneOwned(ctx, session.UserID, milestoneID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domainError(http.StatusNotFound, "NOT_FOUND", "Milestone not found", nil)
		}
		return err
	}
	cascade, err := s.store.DeleteMilestone(ctx, milestoneID)
	if err != nil {
		return fmt.Errorf("delete milestone: %w", err)
	}
	cascade.Milestones = append(cascade.Milestones, milestoneID)
	s.purgeSearchIndex(cascade)
	return nil
}

func (s *Service) indexMilestone(userID string, milestone store.Milestone) {
	if s.search == nil {
		return
	}
	s.search.IndexMilestone(search.MilestoneRecord{
		ID:     milestone.ID,
		UserID: userID,
		GoalID: milestone.GoalID,
		Title:  milestone.Title,
		Notes:  milestone.Notes,
		Status: milestone.Status,
	})
}
