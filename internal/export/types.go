// Package export renders a user's progress report as a PDF.
package export

import (
	"errors"
	"time"
)

// Result contains the export output
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

// ErrPDFDependencyMissing indicates PDF export runtime dependencies are unavailable.
var ErrPDFDependencyMissing = errors.New("export pdf dependency missing")

// ReportGoal is one goal line in the report.
type ReportGoal struct {
	Title               string
	Status              string
	Priority            string
	TargetDate          *time.Time
	MilestonesDone      int
	MilestonesTotal     int
	CompletedMilestones []string
}

// ReportCategory groups a category's goals for the report.
type ReportCategory struct {
	Name  string
	Color string
	Goals []ReportGoal
}

// ReportUpcoming is one upcoming milestone line.
type ReportUpcoming struct {
	Title     string
	GoalTitle string
	DueDate   *time.Time
}

// ReportData is everything the report template needs.
type ReportData struct {
	UserName       string
	GeneratedAt    time.Time
	TotalGoals     int
	CompletedGoals int
	Categories     []ReportCategory
	Upcoming       []ReportUpcoming
}
