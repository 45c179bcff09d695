package export

import (
	"context"
	"fmt"
	"time"

	"questive/api/internal/store"
)

// DataStore defines the data access needed to assemble a report
type DataStore interface {
	GetUserByID(ctx context.Context, id string) (store.User, error)
	ListCategories(ctx context.Context, userID string) ([]store.CategoryWithGoals, error)
	ListGoals(ctx context.Context, userID, categoryID string) ([]store.Goal, error)
	ListMilestones(ctx context.Context, goalID string) ([]store.Milestone, error)
	ListUpcomingMilestones(ctx context.Context, userID string, from time.Time, limit int) ([]store.UpcomingMilestone, error)
}

// Service renders progress reports
type Service struct {
	store DataStore
}

// NewService creates a new export service
func NewService(store DataStore) *Service {
	return &Service{store: store}
}

// BuildReport assembles the report data for a user.
func (s *Service) BuildReport(ctx context.Context, userID string) (ReportData, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return ReportData{}, fmt.Errorf("get user: %w", err)
	}

	categories, err := s.store.ListCategories(ctx, userID)
	if err != nil {
		return ReportData{}, fmt.Errorf("list categories: %w", err)
	}

	data := ReportData{
		UserName:    user.Name,
		GeneratedAt: time.Now(),
		Categories:  []ReportCategory{},
		Upcoming:    []ReportUpcoming{},
	}

	for _, category := range categories {
		reportCategory := ReportCategory{
			Name:  category.Name,
			Color: category.Color,
			Goals: []ReportGoal{},
		}

		goals, err := s.store.ListGoals(ctx, userID, category.ID)
		if err != nil {
			return ReportData{}, fmt.Errorf("list goals: %w", err)
		}

		for _, goal := range goals {
			data.TotalGoals++
			if goal.Status == store.GoalStatusCompleted {
				data.CompletedGoals++
			}

			milestones, err := s.store.ListMilestones(ctx, goal.ID)
			if err != nil {
				return ReportData{}, fmt.Errorf("list milestones: %w", err)
			}

			reportGoal := ReportGoal{
				Title:               goal.Title,
				Status:              goal.Status,
				Priority:            goal.Priority,
				TargetDate:          goal.TargetDate,
				MilestonesTotal:     len(milestones),
				CompletedMilestones: []string{},
			}
			for _, milestone := range milestones {
				if milestone.Status == store.MilestoneStatusCompleted {
					reportGoal.MilestonesDone++
					reportGoal.CompletedMilestones = append(reportGoal.CompletedMilestones, milestone.Title)
				}
			}
			reportCategory.Goals = append(reportCategory.Goals, reportGoal)
		}

		data.Categories = append(data.Categories, reportCategory)
	}

	upcoming, err := s.store.ListUpcomingMilestones(ctx, userID, time.Now(), 10)
	if err != nil {
		return ReportData{}, fmt.Errorf("list upcoming milestones: %w", err)
	}
	for _, milestone := range upcoming {
		data.Upcoming = append(data.Upcoming, ReportUpcoming{
			Title:     milestone.Title,
			GoalTitle: milestone.GoalTitle,
			DueDate:   milestone.DueDate,
		})
	}

	return data, nil
}

// ExportReport builds the report and renders it to PDF.
func (s *Service) ExportReport(ctx context.Context, userID string) (*Result, error) {
	data, err := s.BuildReport(ctx, userID)
	if err != nil {
		return nil, err
	}

	html, err := RenderReportHTML(data)
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}

	return exportPDF(html, "progress-report")
}
