package app

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"questive/api/internal/quota"
	"questive/api/internal/store"
)

func TestGenerateMilestonesUnavailableWithoutKey(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	sess := seedUser(fs, "usr_1", "Avery")
	svc.ai = &fakeAI{available: false}

	_, err := svc.GenerateMilestones(context.Background(), sess, MilestoneSuggestionInput{Title: "Learn Go"})
	var actionErr *ActionError
	if !errors.As(err, &actionErr) {
		t.Fatalf("expected ActionError, got %v", err)
	}
	if actionErr.Message != "AI features are not available. Please configure GOOGLE_AI_API_KEY." {
		t.Fatalf("unexpected message %q", actionErr.Message)
	}
}

func TestGenerateMilestonesParsesSuggestions(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	sess := seedUser(fs, "usr_1", "Avery")
	model := &fakeAI{available: true, response: `{"milestones":[{"title":"Read the language tour","estimatedDays":3,"order":1},{"title":"Build a toy","estimatedDays":7,"order":2}]}`}
	svc.ai = model

	goal, _ := seedGoalWithMilestone(t, svc, sess, nil)

	suggestions, err := svc.GenerateMilestones(context.Background(), sess, MilestoneSuggestionInput{GoalID: goal.ID})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(suggestions) != 2 || suggestions[0].Title != "Read the language tour" || suggestions[1].EstimatedDays != 7 {
		t.Fatalf("unexpected suggestions %+v", suggestions)
	}
	if len(model.prompts) != 1 || !strings.Contains(model.prompts[0], `Goal: "Learn Go"`) {
		t.Fatalf("prompt missing goal title: %q", model.prompts)
	}

	// The successful call counts against today's quota.
	profile, err := fs.GetProfile(context.Background(), sess.UserID)
	if err != nil {
		t.Fatalf("profile: %v", err)
	}
	if profile.AICallsToday != 1 {
		t.Fatalf("expected 1 recorded call, got %d", profile.AICallsToday)
	}
}

func TestGenerateMilestonesForDraftGoal(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	sess := seedUser(fs, "usr_1", "Avery")
	model := &fakeAI{available: true, response: `{"milestones":[{"title":"Pick a dataset","estimatedDays":2,"order":1}]}`}
	svc.ai = model

	// No goal is persisted: suggestions come straight from the draft text.
	suggestions, err := svc.GenerateMilestones(context.Background(), sess, MilestoneSuggestionInput{
		Title:       "Learn statistics",
		Description: "Enough to read ML papers",
	})
	if err != nil {
		t.Fatalf("generate for draft: %v", err)
	}
	if len(suggestions) != 1 || suggestions[0].Title != "Pick a dataset" {
		t.Fatalf("unexpected suggestions %+v", suggestions)
	}
	prompt := model.prompts[0]
	if !strings.Contains(prompt, `Goal: "Learn statistics"`) || !strings.Contains(prompt, `Description: "Enough to read ML papers"`) {
		t.Fatalf("prompt missing draft fields:\n%s", prompt)
	}
}

func TestGenerateMilestonesValidatesInput(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	sess := seedUser(fs, "usr_1", "Avery")
	svc.ai = &fakeAI{available: true, response: `{"milestones":[]}`}

	_, err := svc.GenerateMilestones(context.Background(), sess, MilestoneSuggestionInput{Title: "   "})
	var actionErr *ActionError
	if !errors.As(err, &actionErr) || actionErr.Message != "Title is required" {
		t.Fatalf("expected title validation, got %v", err)
	}

	_, err = svc.GenerateMilestones(context.Background(), sess, MilestoneSuggestionInput{GoalID: "goal_missing"})
	if !errors.As(err, &actionErr) || actionErr.Message != "Goal not found" {
		t.Fatalf("expected goal lookup failure, got %v", err)
	}
}

func TestGenerateMilestonesIncludesProfileContext(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	sess := seedUser(fs, "usr_1", "Avery")
	model := &fakeAI{available: true, response: `{"milestones":[]}`}
	svc.ai = model

	years := 6
	fs.profiles[sess.UserID] = store.UserProfile{
		UserID:          sess.UserID,
		Bio:             "Backend developer moving into SRE",
		CurrentRole:     "Software Engineer",
		YearsExperience: &years,
		Skills:          []string{"Python", "Postgres"},
	}
	goal, _ := seedGoalWithMilestone(t, svc, sess, nil)

	if _, err := svc.GenerateMilestones(context.Background(), sess, MilestoneSuggestionInput{GoalID: goal.ID}); err != nil {
		t.Fatalf("generate: %v", err)
	}
	prompt := model.prompts[0]
	for _, want := range []string{
		"User Profile:",
		"Background: Backend developer moving into SRE",
		"Current Role: Software Engineer",
		"Experience: 6 years",
		"Skills: Python, Postgres",
	} {
		if !strings.Contains(prompt, want) {
			t.Fatalf("prompt missing %q:\n%s", want, prompt)
		}
	}
}

func TestGenerateMilestonesFailureDoesNotSpendQuota(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	sess := seedUser(fs, "usr_1", "Avery")
	svc.ai = &fakeAI{available: true, err: errors.New("upstream 500")}

	goal, _ := seedGoalWithMilestone(t, svc, sess, nil)

	_, err := svc.GenerateMilestones(context.Background(), sess, MilestoneSuggestionInput{GoalID: goal.ID})
	var actionErr *ActionError
	if !errors.As(err, &actionErr) || actionErr.Message != "Failed to generate milestones. Please try again." {
		t.Fatalf("expected generation failure message, got %v", err)
	}
	if _, profileErr := fs.GetProfile(context.Background(), sess.UserID); profileErr == nil {
		t.Fatalf("failed calls must not create a quota record")
	}
}

func TestAIQuotaLimitAndMidnightReset(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	sess := seedUser(fs, "usr_1", "Avery")
	svc.ai = &fakeAI{available: true, response: `{"milestones":[]}`}

	now := time.Date(2026, 3, 14, 22, 0, 0, 0, time.Local)
	svc.now = func() time.Time { return now }
	fs.clock = svc.now

	goal, _ := seedGoalWithMilestone(t, svc, sess, nil)

	today := quota.DayStart(now)
	fs.profiles[sess.UserID] = store.UserProfile{
		UserID:         sess.UserID,
		AICallsToday:   quota.DailyLimit,
		LastAICallDate: &today,
	}

	_, err := svc.GenerateMilestones(context.Background(), sess, MilestoneSuggestionInput{GoalID: goal.ID})
	var actionErr *ActionError
	if !errors.As(err, &actionErr) || actionErr.Message != "Daily AI call limit reached. Try again tomorrow." {
		t.Fatalf("expected limit message, got %v", err)
	}

	// Past midnight the window is stale and the call goes through.
	svc.now = func() time.Time { return now.Add(3 * time.Hour) }
	if _, err := svc.GenerateMilestones(context.Background(), sess, MilestoneSuggestionInput{GoalID: goal.ID}); err != nil {
		t.Fatalf("expected quota reset after midnight: %v", err)
	}
	profile, _ := fs.GetProfile(context.Background(), sess.UserID)
	if profile.AICallsToday != 1 {
		t.Fatalf("expected counter restart at 1, got %d", profile.AICallsToday)
	}
}

func TestPrioritizeTasksNeedsAtLeastTwo(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	sess := seedUser(fs, "usr_1", "Avery")
	svc.ai = &fakeAI{available: true}

	task, err := svc.CreateTask(context.Background(), sess, TaskInput{Title: "Only one"})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}

	_, err = svc.PrioritizeTasks(context.Background(), sess, []string{task.ID})
	var actionErr *ActionError
	if !errors.As(err, &actionErr) || actionErr.Message != "Need at least 2 tasks to prioritize." {
		t.Fatalf("expected minimum-task message, got %v", err)
	}
}

func TestPrioritizeTasksUsesGoalContextDefaults(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	sess := seedUser(fs, "usr_1", "Avery")
	model := &fakeAI{available: true, response: `{"orderedTaskIds":["task_b","task_a"],"reasoning":"deadline first"}`}
	svc.ai = model

	first, _ := svc.CreateTask(context.Background(), sess, TaskInput{Title: "Quick one"})
	second, _ := svc.CreateTask(context.Background(), sess, TaskInput{Title: "Quick two"})

	result, err := svc.PrioritizeTasks(context.Background(), sess, []string{first.ID, second.ID})
	if err != nil {
		t.Fatalf("prioritize: %v", err)
	}
	if result.Reasoning != "deadline first" || len(result.OrderedTaskIDs) != 2 {
		t.Fatalf("unexpected result %+v", result)
	}
	prompt := model.prompts[0]
	if !strings.Contains(prompt, `"goalTitle": "Quick Task"`) || !strings.Contains(prompt, `"goalPriority": "MEDIUM"`) {
		t.Fatalf("orphaned tasks should use default context:\n%s", prompt)
	}
}

func TestPrioritizeTasksIgnoresForeignIDs(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	owner := seedUser(fs, "usr_1", "Avery")
	intruder := seedUser(fs, "usr_2", "Blake")
	svc.ai = &fakeAI{available: true}

	first, _ := svc.CreateTask(context.Background(), owner, TaskInput{Title: "Mine"})
	second, _ := svc.CreateTask(context.Background(), owner, TaskInput{Title: "Also mine"})

	_, err := svc.PrioritizeTasks(context.Background(), intruder, []string{first.ID, second.ID})
	var actionErr *ActionError
	if !errors.As(err, &actionErr) || actionErr.Message != "Need at least 2 tasks to prioritize." {
		t.Fatalf("foreign tasks must be filtered out, got %v", err)
	}
}

func TestGetAIStatusCountsOnlyToday(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	sess := seedUser(fs, "usr_1", "Avery")
	svc.ai = &fakeAI{available: true}

	now := time.Date(2026, 3, 14, 9, 0, 0, 0, time.Local)
	svc.now = func() time.Time { return now }

	yesterday := quota.DayStart(now).AddDate(0, 0, -1)
	fs.profiles[sess.UserID] = store.UserProfile{
		UserID:         sess.UserID,
		AICallsToday:   7,
		LastAICallDate: &yesterday,
	}

	status, err := svc.GetAIStatus(context.Background(), sess)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !status.Available || status.RemainingCalls != quota.DailyLimit {
		t.Fatalf("stale window should report a full quota, got %+v", status)
	}
}

func TestUpdateProfileFromCompletionAppendsSkills(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	sess := seedUser(fs, "usr_1", "Avery")
	svc.ai = &fakeAI{available: true, response: `{"skillsGained":["Go","Distributed systems"]}`}

	goal, milestone := seedGoalWithMilestone(t, svc, sess, nil)
	if _, err := svc.ToggleMilestone(context.Background(), sess, milestone.ID); err != nil {
		t.Fatalf("complete milestone: %v", err)
	}

	loaded, err := fs.GetGoal(context.Background(), sess.UserID, goal.ID)
	if err != nil {
		t.Fatalf("get goal: %v", err)
	}
	svc.updateProfileFromCompletion(context.Background(), sess.UserID, loaded)

	profile, err := fs.GetProfile(context.Background(), sess.UserID)
	if err != nil {
		t.Fatalf("profile: %v", err)
	}
	if len(profile.SkillsGained) != 2 || profile.CompletedGoalsCount != 1 {
		t.Fatalf("expected skills recorded, got %+v", profile)
	}
}

func TestUpdateProfileFromCompletionSwallowsFailures(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	sess := seedUser(fs, "usr_1", "Avery")
	svc.ai = &fakeAI{available: true, err: errors.New("model down")}

	goal, _ := seedGoalWithMilestone(t, svc, sess, nil)
	loaded, _ := fs.GetGoal(context.Background(), sess.UserID, goal.ID)
	svc.updateProfileFromCompletion(context.Background(), sess.UserID, loaded)

	if _, err := fs.GetProfile(context.Background(), sess.UserID); err == nil {
		t.Fatalf("failed extraction must leave the profile untouched")
	}
}
