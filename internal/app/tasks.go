package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"questive/api/internal/quota"
	"questive/api/internal/search"
	"questive/api/internal/store"
	"questive/api/internal/util"
)

// maxOrphanedTasksPerDay caps quick tasks (tasks with no milestone) created
// per calendar day. Materialized milestone tasks don't count against it.
const maxOrphanedTasksPerDay = 20

type TaskInput struct {
	Title   string     `json:"title"`
	Notes   *string    `json:"notes"`
	DueDate *time.Time `json:"dueDate"`
}

// GetTodayTasks materializes board tasks for milestones due today, then
// returns the board: milestone tasks plus orphaned tasks that are incomplete
// or were completed today. Running it twice in a row changes nothing the
// second time.
func (s *Service) GetTodayTasks(ctx context.Context, session Session) ([]store.TaskWithContext, error) {
	now := s.now()
	dayStart := quota.DayStart(now)
	dayEnd := dayStart.AddDate(0, 0, 1)

	due, err := s.store.ListDueMilestonesWithoutTasks(ctx, session.UserID, dayStart, dayEnd)
	if err != nil {
		return nil, fmt.Errorf("find due milestones: %w", err)
	}
	for _, milestone := range due {
		task := store.Task{
			ID:          util.NewID("task"),
			UserID:      session.UserID,
			MilestoneID: milestone.ID,
			Title:       milestone.Title,
			Notes:       milestone.Notes,
			DueDate:     milestone.DueDate,
			Position:    0,
		}
		// A concurrent request may have materialized this milestone
		// already; the insert is a no-op then.
		if _, err := s.store.InsertMilestoneTask(ctx, task); err != nil {
			return nil, fmt.Errorf("materialize task: %w", err)
		}
	}

	return s.store.ListTodayTasks(ctx, session.UserID, dayStart)
}

// CreateTask adds an orphaned quick task at the end of the board.
func (s *Service) CreateTask(ctx context.Context, session Session, input TaskInput) (store.Task, error) {
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return store.Task{}, actionError("Title is required")
	}

	now := s.now()
	dayStart := quota.DayStart(now)
	created, err := s.store.CountOrphanedTasksCreated(ctx, session.UserID, dayStart, dayStart.AddDate(0, 0, 1))
	if err != nil {
		return store.Task{}, fmt.Errorf("count quick tasks: %w", err)
	}
	if created >= maxOrphanedTasksPerDay {
		return store.Task{}, actionError(fmt.Sprintf("You can only create %d quick tasks per day", maxOrphanedTasksPerDay))
	}

	maxPosition, err := s.store.MaxTaskPosition(ctx, session.UserID)
	if err != nil {
		return store.Task{}, fmt.Errorf("max position: %w", err)
	}

	task := store.Task{
		ID:       util.NewID("task"),
		UserID:   session.UserID,
		Title:    title,
		Notes:    stringValue(input.Notes),
		DueDate:  input.DueDate,
		Position: maxPosition + 1,
	}
	if err := s.store.InsertTask(ctx, task); err != nil {
		return store.Task{}, fmt.Errorf("create task: %w", err)
	}

	s.indexTask(session.UserID, task)
	return s.store.GetTaskOwned(ctx, session.UserID, task.ID)
}

func (s *Service) UpdateTask(ctx context.Context, session Session, taskID string, input TaskInput) (store.Task, error) {
	task, err := s.store.GetTaskOwned(ctx, session.UserID, taskID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Task{}, actionError("Task not found")
		}
		return store.Task{}, err
	}

	if title := strings.TrimSpace(input.Title); title != "" {
		task.Title = title
	}
	if input.Notes != nil {
		task.Notes = *input.Notes
	}

	if err := s.store.UpdateTaskContent(ctx, task.ID, task.Title, task.Notes); err != nil {
		return store.Task{}, fmt.Errorf("update task: %w", err)
	}

	s.indexTask(session.UserID, task)
	return task, nil
}

// ToggleTaskComplete flips a task's completion. For milestone-linked tasks
// the milestone follows the task: completing the task completes the
// milestone, reopening the task reopens it. The reverse direction does not
// exist; milestones never reach back into the board.
func (s *Service) ToggleTaskComplete(ctx context.Context, session Session, taskID string) (store.Task, error) {
	task, err := s.store.GetTaskOwned(ctx, session.UserID, taskID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Task{}, actionError("Task not found")
		}
		return store.Task{}, err
	}

	if task.Completed {
		task.Completed = false
		task.CompletedAt = nil
	} else {
		now := s.now()
		task.Completed = true
		task.CompletedAt = &now
	}

	if err := s.store.SetTaskCompletion(ctx, task.ID, task.Completed, task.CompletedAt); err != nil {
		return store.Task{}, fmt.Errorf("toggle task: %w", err)
	}

	if task.MilestoneID != "" {
		status := store.MilestoneStatusPending
		if task.Completed {
			status = store.MilestoneStatusCompleted
		}
		if err := s.store.SetMilestoneStatus(ctx, task.MilestoneID, status, task.CompletedAt); err != nil {
			return store.Task{}, fmt.Errorf("sync milestone: %w", err)
		}
	}

	return task, nil
}

// DeleteTask removes an orphaned task. Milestone-linked tasks cannot be
// deleted from the board; they disappear when their milestone does.
func (s *Service) DeleteTask(ctx context.Context, session Session, taskID string) error {
	task, err := s.store.GetTaskOwned(ctx, session.UserID, taskID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return actionError("Task not found")
		}
		return err
	}
	if task.MilestoneID != "" {
		return actionError("Cannot delete milestone-linked tasks from taskboard")
	}

	if err := s.store.DeleteTask(ctx, taskID); err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	if s.search != nil {
		s.search.DeleteTask(taskID)
	}
	return nil
}

// ReorderTasks persists a drag-and-drop ordering: each task's position
// becomes its index in the submitted list. The whole batch applies or none
// of it does.
func (s *Service) ReorderTasks(ctx context.Context, session Session, taskIDs []string) error {
	if len(taskIDs) == 0 {
		return nil
	}
	if err := s.store.ReorderTasks(ctx, session.UserID, taskIDs); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return actionError("Task not found")
		}
		return fmt.Errorf("reorder tasks: %w", err)
	}
	return nil
}

func (s *Service) indexTask(userID string, task store.Task) {
	if s.search == nil {
		return
	}
	s.search.IndexTask(search.TaskRecord{
		ID:     task.ID,
		UserID: userID,
		Title:  task.Title,
		Notes:  task.Notes,
	})
}
