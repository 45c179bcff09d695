package export

import (
	"context"
	"strings"
	"testing"
	"time"

	"questive/api/internal/store"
)

type fakeReportStore struct {
	user       store.User
	categories []store.CategoryWithGoals
	goals      map[string][]store.Goal      // keyed by category ID
	milestones map[string][]store.Milestone // keyed by goal ID
	upcoming   []store.UpcomingMilestone
}

func (f *fakeReportStore) GetUserByID(ctx context.Context, id string) (store.User, error) {
	return f.user, nil
}

func (f *fakeReportStore) ListCategories(ctx context.Context, userID string) ([]store.CategoryWithGoals, error) {
	return f.categories, nil
}

func (f *fakeReportStore) ListGoals(ctx context.Context, userID, categoryID string) ([]store.Goal, error) {
	return f.goals[categoryID], nil
}

func (f *fakeReportStore) ListMilestones(ctx context.Context, goalID string) ([]store.Milestone, error) {
	return f.milestones[goalID], nil
}

func (f *fakeReportStore) ListUpcomingMilestones(ctx context.Context, userID string, from time.Time, limit int) ([]store.UpcomingMilestone, error) {
	return f.upcoming, nil
}

func TestBuildReport(t *testing.T) {
	fake := &fakeReportStore{
		user: store.User{ID: "usr_1", Name: "Dana"},
		categories: []store.CategoryWithGoals{
			{Category: store.Category{ID: "cat_1", Name: "Career", Color: "#3b82f6"}},
		},
		goals: map[string][]store.Goal{
			"cat_1": {
				{ID: "goal_1", Title: "Learn Go", Status: store.GoalStatusCompleted, Priority: store.PriorityHigh},
				{ID: "goal_2", Title: "Ship side project", Status: store.GoalStatusInProgress, Priority: store.PriorityMedium},
			},
		},
		milestones: map[string][]store.Milestone{
			"goal_1": {
				{ID: "ms_1", Title: "Finish tour", Status: store.MilestoneStatusCompleted},
				{ID: "ms_2", Title: "Write service", Status: store.MilestoneStatusCompleted},
			},
			"goal_2": {
				{ID: "ms_3", Title: "First release", Status: store.MilestoneStatusPending},
			},
		},
	}

	svc := NewService(fake)
	data, err := svc.BuildReport(context.Background(), "usr_1")
	if err != nil {
		t.Fatalf("BuildReport: %v", err)
	}

	if data.UserName != "Dana" {
		t.Errorf("user name = %q", data.UserName)
	}
	if data.TotalGoals != 2 || data.CompletedGoals != 1 {
		t.Errorf("goals = %d/%d, want 1/2", data.CompletedGoals, data.TotalGoals)
	}
	if len(data.Categories) != 1 || len(data.Categories[0].Goals) != 2 {
		t.Fatalf("unexpected categories %+v", data.Categories)
	}
	first := data.Categories[0].Goals[0]
	if first.MilestonesDone != 2 || first.MilestonesTotal != 2 {
		t.Errorf("milestones = %d/%d, want 2/2", first.MilestonesDone, first.MilestonesTotal)
	}
}

func TestRenderReportHTML(t *testing.T) {
	html, err := RenderReportHTML(ReportData{
		UserName:       "Dana",
		GeneratedAt:    time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC),
		TotalGoals:     3,
		CompletedGoals: 1,
		Categories: []ReportCategory{
			{Name: "Health", Color: "#22c55e", Goals: []ReportGoal{
				{Title: "Run a 10k", Status: store.GoalStatusInProgress, Priority: store.PriorityLow, MilestonesTotal: 4, MilestonesDone: 1},
			}},
		},
	})
	if err != nil {
		t.Fatalf("RenderReportHTML: %v", err)
	}
	for _, want := range []string{"Dana", "Run a 10k", "1/4 milestones", "1 of 3 goals"} {
		if !strings.Contains(html, want) {
			t.Errorf("rendered report missing %q", want)
		}
	}
}

func TestSanitizeFilename(t *testing.T) {
	cases := map[string]string{
		"progress report":  "progress-report",
		"Q1 / Q2 review!":  "Q1--Q2-review",
		"":                 "report",
		strings.Repeat("a", 80): strings.Repeat("a", 50),
	}
	for in, want := range cases {
		if got := sanitizeFilename(in); got != want {
			t.Errorf("sanitizeFilename(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestPercentEncodeForDataURL(t *testing.T) {
	got := percentEncodeForDataURL("a b+c")
	if got != "a%20b%2Bc" {
		t.Errorf("encoded = %q", got)
	}
}
