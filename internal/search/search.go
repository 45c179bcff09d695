package search

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultGoal      ResultType = "goal"
	ResultMilestone ResultType = "milestone"
	ResultTask      ResultType = "task"
)

// Result is a single search hit returned to the caller.
type Result struct {
	Type       ResultType `json:"type"`
	ID         string     `json:"id"`
	Title      string     `json:"title"`
	Snippet    string     `json:"snippet"`
	GoalID     string     `json:"goalId,omitempty"`
	CategoryID string     `json:"categoryId,omitempty"`
	Status     string     `json:"status,omitempty"`
}

// Query describes a search request. UserID is mandatory: results never
// cross account boundaries.
type Query struct {
	Text       string
	UserID     string
	FilterType ResultType // empty = all types
	Limit      int
	Offset     int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// Indexer can push entities into a search index.
type Indexer interface {
	IndexGoal(g GoalRecord) error
	IndexMilestone(m MilestoneRecord) error
	IndexTask(t TaskRecord) error
	DeleteGoal(id string) error
	DeleteMilestone(id string) error
	DeleteTask(id string) error
}

// GoalRecord is the data we index for a goal.
type GoalRecord struct {
	ID          string `json:"id"`
	UserID      string `json:"userId"`
	CategoryID  string `json:"categoryId"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Status      string `json:"status"`
}

// MilestoneRecord is the data we index for a milestone.
type MilestoneRecord struct {
	ID     string `json:"id"`
	UserID string `json:"userId"`
	GoalID string `json:"goalId"`
	Title  string `json:"title"`
	Notes  string `json:"notes"`
	Status string `json:"status"`
}

// TaskRecord is the data we index for a board task.
type TaskRecord struct {
	ID     string `json:"id"`
	UserID string `json:"userId"`
	Title  string `json:"title"`
	Notes  string `json:"notes"`
}
