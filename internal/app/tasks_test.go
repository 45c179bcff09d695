package app

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"questive/api/internal/store"
)

func seedGoalWithMilestone(t *testing.T, svc *Service, sess Session, due *time.Time) (store.Goal, store.Milestone) {
	t.Helper()
	category, err := svc.CreateCategory(context.Background(), sess, CategoryInput{Name: "Career"})
	if err != nil {
		t.Fatalf("create category: %v", err)
	}
	goal, err := svc.CreateGoal(context.Background(), sess, GoalInput{CategoryID: category.ID, Title: "Learn Go"})
	if err != nil {
		t.Fatalf("create goal: %v", err)
	}
	milestone, err := svc.CreateMilestone(context.Background(), sess, goal.ID, MilestoneInput{Title: "Finish the tour", DueDate: due})
	if err != nil {
		t.Fatalf("create milestone: %v", err)
	}
	return goal, milestone
}

func TestGetTodayTasksMaterializesDueMilestonesOnce(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	sess := seedUser(fs, "usr_1", "Avery")

	now := time.Date(2026, 3, 14, 9, 0, 0, 0, time.Local)
	svc.now = func() time.Time { return now }

	due := now.Add(2 * time.Hour)
	_, milestone := seedGoalWithMilestone(t, svc, sess, &due)

	tasks, err := svc.GetTodayTasks(context.Background(), sess)
	if err != nil {
		t.Fatalf("today tasks: %v", err)
	}
	if len(tasks) != 1 {
		t.Fatalf("expected 1 materialized task, got %d", len(tasks))
	}
	if tasks[0].MilestoneID != milestone.ID || tasks[0].Title != "Finish the tour" {
		t.Fatalf("unexpected task %+v", tasks[0].Task)
	}
	if tasks[0].Context == nil || tasks[0].Context.GoalTitle != "Learn Go" {
		t.Fatalf("expected goal context, got %+v", tasks[0].Context)
	}

	// A second request finds the existing task instead of duplicating it.
	again, err := svc.GetTodayTasks(context.Background(), sess)
	if err != nil {
		t.Fatalf("today tasks again: %v", err)
	}
	if len(again) != 1 {
		t.Fatalf("expected materialization to be idempotent, got %d tasks", len(again))
	}
	if again[0].ID != tasks[0].ID {
		t.Fatalf("expected same task, got %s and %s", tasks[0].ID, again[0].ID)
	}
}

func TestGetTodayTasksSkipsMilestonesDueLater(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	sess := seedUser(fs, "usr_1", "Avery")

	now := time.Date(2026, 3, 14, 9, 0, 0, 0, time.Local)
	svc.now = func() time.Time { return now }

	due := now.AddDate(0, 0, 3)
	seedGoalWithMilestone(t, svc, sess, &due)

	tasks, err := svc.GetTodayTasks(context.Background(), sess)
	if err != nil {
		t.Fatalf("today tasks: %v", err)
	}
	if len(tasks) != 0 {
		t.Fatalf("expected no tasks for a milestone due in 3 days, got %d", len(tasks))
	}
}

func TestCreateTaskEnforcesDailyCap(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	sess := seedUser(fs, "usr_1", "Avery")

	now := time.Date(2026, 3, 14, 9, 0, 0, 0, time.Local)
	svc.now = func() time.Time { return now }
	fs.clock = svc.now

	for i := 0; i < maxOrphanedTasksPerDay; i++ {
		if _, err := svc.CreateTask(context.Background(), sess, TaskInput{Title: fmt.Sprintf("Task %d", i)}); err != nil {
			t.Fatalf("create task %d: %v", i, err)
		}
	}

	_, err := svc.CreateTask(context.Background(), sess, TaskInput{Title: "One too many"})
	var actionErr *ActionError
	if !errors.As(err, &actionErr) {
		t.Fatalf("expected ActionError, got %v", err)
	}
	if actionErr.Message != "You can only create 20 quick tasks per day" {
		t.Fatalf("unexpected message %q", actionErr.Message)
	}

	// The cap resets at local midnight.
	svc.now = func() time.Time { return now.AddDate(0, 0, 1) }
	if _, err := svc.CreateTask(context.Background(), sess, TaskInput{Title: "Fresh day"}); err != nil {
		t.Fatalf("expected cap to reset next day: %v", err)
	}
}

func TestCreateTaskRequiresTitle(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	sess := seedUser(fs, "usr_1", "Avery")

	_, err := svc.CreateTask(context.Background(), sess, TaskInput{Title: "   "})
	var actionErr *ActionError
	if !errors.As(err, &actionErr) || actionErr.Message != "Title is required" {
		t.Fatalf("expected title validation, got %v", err)
	}
}

func TestToggleTaskCompleteIsInvolutive(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	sess := seedUser(fs, "usr_1", "Avery")

	created, err := svc.CreateTask(context.Background(), sess, TaskInput{Title: "Water the plants"})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}

	done, err := svc.ToggleTaskComplete(context.Background(), sess, created.ID)
	if err != nil {
		t.Fatalf("toggle: %v", err)
	}
	if !done.Completed || done.CompletedAt == nil {
		t.Fatalf("expected completed with timestamp, got %+v", done)
	}

	undone, err := svc.ToggleTaskComplete(context.Background(), sess, created.ID)
	if err != nil {
		t.Fatalf("toggle back: %v", err)
	}
	if undone.Completed || undone.CompletedAt != nil {
		t.Fatalf("expected reopened task with no timestamp, got %+v", undone)
	}
}

func TestToggleTaskSyncsMilestoneOneWay(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	sess := seedUser(fs, "usr_1", "Avery")

	now := time.Date(2026, 3, 14, 9, 0, 0, 0, time.Local)
	svc.now = func() time.Time { return now }

	due := now.Add(time.Hour)
	_, milestone := seedGoalWithMilestone(t, svc, sess, &due)

	tasks, err := svc.GetTodayTasks(context.Background(), sess)
	if err != nil || len(tasks) != 1 {
		t.Fatalf("expected 1 task, got %d (err=%v)", len(tasks), err)
	}

	if _, err := svc.ToggleTaskComplete(context.Background(), sess, tasks[0].ID); err != nil {
		t.Fatalf("toggle: %v", err)
	}
	synced, err := svc.ListMilestones(context.Background(), sess, milestone.GoalID)
	if err != nil {
		t.Fatalf("list milestones: %v", err)
	}
	if synced[0].Status != store.MilestoneStatusCompleted || synced[0].CompletedAt == nil {
		t.Fatalf("expected milestone completed, got %+v", synced[0])
	}

	// Reopening the task reopens the milestone too.
	if _, err := svc.ToggleTaskComplete(context.Background(), sess, tasks[0].ID); err != nil {
		t.Fatalf("toggle back: %v", err)
	}
	synced, _ = svc.ListMilestones(context.Background(), sess, milestone.GoalID)
	if synced[0].Status != store.MilestoneStatusPending || synced[0].CompletedAt != nil {
		t.Fatalf("expected milestone reopened, got %+v", synced[0])
	}

	// Toggling the milestone directly leaves the task alone.
	if _, err := svc.ToggleMilestone(context.Background(), sess, milestone.ID); err != nil {
		t.Fatalf("toggle milestone: %v", err)
	}
	task, err := svc.store.GetTaskOwned(context.Background(), sess.UserID, tasks[0].ID)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if task.Completed {
		t.Fatalf("milestone toggle must not complete the task")
	}
}

func TestDeleteTaskRejectsMilestoneLinked(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	sess := seedUser(fs, "usr_1", "Avery")

	now := time.Date(2026, 3, 14, 9, 0, 0, 0, time.Local)
	svc.now = func() time.Time { return now }

	due := now.Add(time.Hour)
	seedGoalWithMilestone(t, svc, sess, &due)
	tasks, err := svc.GetTodayTasks(context.Background(), sess)
	if err != nil || len(tasks) != 1 {
		t.Fatalf("expected 1 task, got %d (err=%v)", len(tasks), err)
	}

	err = svc.DeleteTask(context.Background(), sess, tasks[0].ID)
	var actionErr *ActionError
	if !errors.As(err, &actionErr) || actionErr.Message != "Cannot delete milestone-linked tasks from taskboard" {
		t.Fatalf("expected milestone-linked rejection, got %v", err)
	}
	if _, err := svc.store.GetTaskOwned(context.Background(), sess.UserID, tasks[0].ID); err != nil {
		t.Fatalf("task should still exist: %v", err)
	}
}

func TestTaskOwnershipBoundary(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	owner := seedUser(fs, "usr_1", "Avery")
	intruder := seedUser(fs, "usr_2", "Blake")

	created, err := svc.CreateTask(context.Background(), owner, TaskInput{Title: "Private"})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}

	_, err = svc.ToggleTaskComplete(context.Background(), intruder, created.ID)
	var actionErr *ActionError
	if !errors.As(err, &actionErr) || actionErr.Message != "Task not found" {
		t.Fatalf("expected not-found for foreign task, got %v", err)
	}
}

func TestReorderTasksIsAllOrNothing(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	sess := seedUser(fs, "usr_1", "Avery")

	var ids []string
	for i := 0; i < 3; i++ {
		task, err := svc.CreateTask(context.Background(), sess, TaskInput{Title: fmt.Sprintf("Task %d", i)})
		if err != nil {
			t.Fatalf("create task: %v", err)
		}
		ids = append(ids, task.ID)
	}

	err := svc.ReorderTasks(context.Background(), sess, []string{ids[2], "task_missing", ids[0]})
	var actionErr *ActionError
	if !errors.As(err, &actionErr) || actionErr.Message != "Task not found" {
		t.Fatalf("expected not-found for unknown id, got %v", err)
	}
	for i, id := range ids {
		task, _ := svc.store.GetTaskOwned(context.Background(), sess.UserID, id)
		if task.Position != i+1 {
			t.Fatalf("positions must be untouched after failed reorder, task %d has %d", i, task.Position)
		}
	}

	if err := svc.ReorderTasks(context.Background(), sess, []string{ids[2], ids[0], ids[1]}); err != nil {
		t.Fatalf("reorder: %v", err)
	}
	reordered, _ := svc.store.GetTaskOwned(context.Background(), sess.UserID, ids[2])
	if reordered.Position != 0 {
		t.Fatalf("expected first submitted task at position 0, got %d", reordered.Position)
	}
}

func TestGetTodayTasksHidesOrphansCompletedBeforeToday(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	sess := seedUser(fs, "usr_1", "Avery")

	yesterday := time.Date(2026, 3, 13, 10, 0, 0, 0, time.Local)
	svc.now = func() time.Time { return yesterday }
	fs.clock = svc.now

	stale, err := svc.CreateTask(context.Background(), sess, TaskInput{Title: "Done yesterday"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	fresh, err := svc.CreateTask(context.Background(), sess, TaskInput{Title: "Done today"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	open, err := svc.CreateTask(context.Background(), sess, TaskInput{Title: "Still open"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.ToggleTaskComplete(context.Background(), sess, stale.ID); err != nil {
		t.Fatalf("toggle: %v", err)
	}

	today := yesterday.AddDate(0, 0, 1)
	svc.now = func() time.Time { return today }
	fs.clock = svc.now
	if _, err := svc.ToggleTaskComplete(context.Background(), sess, fresh.ID); err != nil {
		t.Fatalf("toggle: %v", err)
	}

	tasks, err := svc.GetTodayTasks(context.Background(), sess)
	if err != nil {
		t.Fatalf("today: %v", err)
	}
	seen := map[string]bool{}
	for _, task := range tasks {
		seen[task.ID] = true
	}
	if seen[stale.ID] {
		t.Fatalf("orphan completed yesterday must disappear from the board")
	}
	if !seen[fresh.ID] || !seen[open.ID] {
		t.Fatalf("expected today's completion and the open task, got %v", seen)
	}
}

func TestUpdateTaskClearsNotesWithEmptyValue(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	sess := seedUser(fs, "usr_1", "Avery")

	notes := "call before noon"
	task, err := svc.CreateTask(context.Background(), sess, TaskInput{Title: "Book dentist", Notes: &notes})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if task.Notes != notes {
		t.Fatalf("expected notes set, got %q", task.Notes)
	}

	empty := ""
	updated, err := svc.UpdateTask(context.Background(), sess, task.ID, TaskInput{Notes: &empty})
	if err != nil {
		t.Fatalf("clear: %v", err)
	}
	if updated.Notes != "" {
		t.Fatalf("explicit empty notes must clear, got %q", updated.Notes)
	}
}
