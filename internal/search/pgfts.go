package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
type PgFTS struct {
	db *sql.DB
}

// NewPgFTS creates a PostgreSQL FTS searcher.
func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true — if Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search executes a UNION ALL query across goals, milestones, and tasks
// using plainto_tsquery and ts_rank, with ts_headline for snippets.
func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	tsQuery := "plainto_tsquery('english', $1)"
	args := []any{q.Text, q.UserID}

	var subQueries []string

	if q.FilterType == "" || q.FilterType == ResultGoal {
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'goal'::text AS type, g.id, g.title,
				ts_headline('english', coalesce(g.description, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				''::text AS goal_id, g.category_id, g.status,
				ts_rank(g.fts, %s) AS rank
			FROM goals g
			WHERE g.user_id = $2 AND g.fts @@ %s`, tsQuery, tsQuery, tsQuery))
	}

	if q.FilterType == "" || q.FilterType == ResultMilestone {
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'milestone'::text AS type, m.id, m.title,
				ts_headline('english', coalesce(m.notes, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				m.goal_id, ''::text AS category_id, m.status,
				ts_rank(m.fts, %s) AS rank
			FROM milestones m
			JOIN goals g ON g.id = m.goal_id
			WHERE g.user_id = $2 AND m.fts @@ %s`, tsQuery, tsQuery, tsQuery))
	}

	if q.FilterType == "" || q.FilterType == ResultTask {
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'task'::text AS type, t.id, t.title,
				ts_headline('english', coalesce(t.notes, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				''::text AS goal_id, ''::text AS category_id, ''::text AS status,
				ts_rank(t.fts, %s) AS rank
			FROM tasks t
			WHERE t.user_id = $2 AND t.fts @@ %s`, tsQuery, tsQuery, tsQuery))
	}

	if len(subQueries) == 0 {
		return nil, 0, nil
	}

	countSQL := fmt.Sprintf("SELECT count(*) FROM (%s) sub",
		strings.Join(subQueries, " UNION ALL "))

	dataSQL := fmt.Sprintf(`SELECT type, id, title, snippet, goal_id, category_id, status
		FROM (%s) sub
		ORDER BY rank DESC
		LIMIT %d OFFSET %d`,
		strings.Join(subQueries, " UNION ALL "),
		limit, offset)

	ctx := context.Background()

	var total int
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var typ string
		if err := rows.Scan(&typ, &r.ID, &r.Title, &r.Snippet, &r.GoalID, &r.CategoryID, &r.Status); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.Type = ResultType(typ)
		results = append(results, r)
	}

	return results, total, rows.Err()
}

// LoadAllRecords returns all searchable records for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]GoalRecord, []MilestoneRecord, []TaskRecord, error) {
	goalRows, err := p.db.QueryContext(ctx, `
		SELECT id, user_id, category_id, title, coalesce(description, ''), status
		FROM goals
	`)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load goals: %w", err)
	}
	defer goalRows.Close()

	goals := make([]GoalRecord, 0)
	for goalRows.Next() {
		var g GoalRecord
		if err := goalRows.Scan(&g.ID, &g.UserID, &g.CategoryID, &g.Title, &g.Description, &g.Status); err != nil {
			return nil, nil, nil, fmt.Errorf("scan goal: %w", err)
		}
		goals = append(goals, g)
	}
	if err := goalRows.Err(); err != nil {
		return nil, nil, nil, fmt.Errorf("iterate goals: %w", err)
	}

	milestoneRows, err := p.db.QueryContext(ctx, `
		SELECT m.id, g.user_id, m.goal_id, m.title, coalesce(m.notes, ''), m.status
		FROM milestones m
		JOIN goals g ON g.id = m.goal_id
	`)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load milestones: %w", err)
	}
	defer milestoneRows.Close()

	milestones := make([]MilestoneRecord, 0)
	for milestoneRows.Next() {
		var m MilestoneRecord
		if err := milestoneRows.Scan(&m.ID, &m.UserID, &m.GoalID, &m.Title, &m.Notes, &m.Status); err != nil {
			return nil, nil, nil, fmt.Errorf("scan milestone: %w", err)
		}
		milestones = append(milestones, m)
	}
	if err := milestoneRows.Err(); err != nil {
		return nil, nil, nil, fmt.Errorf("iterate milestones: %w", err)
	}

	taskRows, err := p.db.QueryContext(ctx, `
		SELECT id, user_id, title, coalesce(notes, '')
		FROM tasks
	`)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load tasks: %w", err)
	}
	defer taskRows.Close()

	tasks := make([]TaskRecord, 0)
	for taskRows.Next() {
		var t TaskRecord
		if err := taskRows.Scan(&t.ID, &t.UserID, &t.Title, &t.Notes); err != nil {
			return nil, nil, nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	if err := taskRows.Err(); err != nil {
		return nil, nil, nil, fmt.Errorf("iterate tasks: %w", err)
	}

	return goals, milestones, tasks, nil
}
