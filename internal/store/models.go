package store

import "time"

type User struct {
	ID           string
	Name         string
	Email        string
	PasswordHash string
	AvatarURL    string
	CreatedAt    time.Time
}

// UserProfile carries the extended profile plus the AI quota counters.
// aiCallsToday/lastAICallDate are written only by the quota subsystem;
// skillsGained/completedGoalsCount only by the goal-completion hook.
type UserProfile struct {
	UserID              string
	CurrentRole         string
	YearsExperience     *int
	Company             string
	Skills              []string
	Bio                 string
	SkillsGained        []string
	CompletedGoalsCount int
	AICallsToday        int
	LastAICallDate      *time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

type Category struct {
	ID        string
	UserID    string
	Name      string
	Color     string
	Icon      string
	CreatedAt time.Time
}

// GoalRef is the minimal goal projection attached to category listings,
// enough to compute per-category progress.
type GoalRef struct {
	ID     string
	Status string
}

type CategoryWithGoals struct {
	Category
	Goals []GoalRef
}

const (
	GoalStatusNotStarted = "NOT_STARTED"
	GoalStatusInProgress = "IN_PROGRESS"
	GoalStatusCompleted  = "COMPLETED"
	GoalStatusOnHold     = "ON_HOLD"

	PriorityLow    = "LOW"
	PriorityMedium = "MEDIUM"
	PriorityHigh   = "HIGH"

	MilestoneStatusPending   = "PENDING"
	MilestoneStatusCompleted = "COMPLETED"
)

type Goal struct {
	ID          string
	UserID      string
	CategoryID  string
	Title       string
	Description string
	Status      string
	Priority    string
	TargetDate  *time.Time
	CreatedAt   time.Time
}

type Milestone struct {
	ID          string
	GoalID      string
	Title       string
	Notes       string
	DueDate     *time.Time
	Status      string
	CompletedAt *time.Time
	CreatedAt   time.Time
}

// UpcomingMilestone is a pending milestone joined with its goal for
// dashboard display.
type UpcomingMilestone struct {
	Milestone
	GoalTitle string
}

type Task struct {
	ID          string
	UserID      string
	MilestoneID string // empty for orphaned quick tasks
	Title       string
	Notes       string
	DueDate     *time.Time
	Completed   bool
	CompletedAt *time.Time
	Position    int
	CreatedAt   time.Time
}

// TaskContext carries the milestone/goal/category chain for a
// milestone-linked task. Zero-valued for orphaned tasks.
type TaskContext struct {
	MilestoneTitle string
	GoalID         string
	GoalTitle      string
	GoalPriority   string
	CategoryName   string
	CategoryColor  string
}

type TaskWithContext struct {
	Task
	Context *TaskContext
}

type DashboardStats struct {
	TotalGoals          int
	CompletedGoals      int
	InProgressGoals     int
	TotalMilestones     int
	CompletedMilestones int
	CompletionRate      int
}
