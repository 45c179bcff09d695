package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// ---- users ----

func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, name, email, password_hash)
		VALUES ($1, $2, $3, $4)
	`, user.ID, user.Name, user.Email, user.PasswordHash)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, email, password_hash, COALESCE(avatar_url, ''), created_at
		FROM users
		WHERE email = $1
	`, email).Scan(&user.ID, &user.Name, &user.Email, &user.PasswordHash, &user.AvatarURL, &user.CreatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, email, password_hash, COALESCE(avatar_url, ''), created_at
		FROM users
		WHERE id = $1
	`, userID).Scan(&user.ID, &user.Name, &user.Email, &user.PasswordHash, &user.AvatarURL, &user.CreatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) UpdateUserAvatar(ctx context.Context, userID, avatarURL string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE users SET avatar_url = NULLIF($2, '') WHERE id = $1`, userID, avatarURL)
	if err != nil {
		return fmt.Errorf("update avatar: %w", err)
	}
	return nil
}

// DeleteUser removes the user row; categories, goals, milestones, tasks and
// the profile row all go with it via ON DELETE CASCADE.
func (s *PostgresStore) DeleteUser(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, userID)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	return nil
}

// ---- user profiles ----

func (s *PostgresStore) GetProfile(ctx context.Context, userID string) (UserProfile, error) {
	var (
		profile       UserProfile
		years         sql.NullInt64
		lastCall      sql.NullTime
		skillsRaw     []byte
		gainedRaw     []byte
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, COALESCE(role_title, ''), years_experience, COALESCE(company, ''),
			skills, COALESCE(bio, ''), skills_gained, completed_goals_count,
			ai_calls_today, last_ai_call_date, created_at, updated_at
		FROM user_profiles
		WHERE user_id = $1
	`, userID).Scan(
		&profile.UserID,
		&profile.CurrentRole,
		&years,
		&profile.Company,
		&skillsRaw,
		&profile.Bio,
		&gainedRaw,
		&profile.CompletedGoalsCount,
		&profile.AICallsToday,
		&lastCall,
		&profile.CreatedAt,
		&profile.UpdatedAt,
	)
	if err != nil {
		return UserProfile{}, err
	}
	if years.Valid {
		value := int(years.Int64)
		profile.YearsExperience = &value
	}
	if lastCall.Valid {
		value := lastCall.Time
		profile.LastAICallDate = &value
	}
	profile.Skills = decodeStringList(skillsRaw)
	profile.SkillsGained = decodeStringList(gainedRaw)
	return profile, nil
}

// UpsertProfile replaces the editable profile fields, leaving the quota and
// goal-completion counters untouched.
func (s *PostgresStore) UpsertProfile(ctx context.Context, profile UserProfile) error {
	skills, err := encodeStringList(profile.Skills)
	if err != nil {
		return fmt.Errorf("marshal skills: %w", err)
	}
	var years any
	if profile.YearsExperience != nil {
		years = *profile.YearsExperience
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO user_profiles (user_id, role_title, years_experience, company, skills, bio)
		VALUES ($1, NULLIF($2, ''), $3, NULLIF($4, ''), $5::jsonb, NULLIF($6, ''))
		ON CONFLICT (user_id) DO UPDATE SET
			role_title = EXCLUDED.role_title,
			years_experience = EXCLUDED.years_experience,
			company = EXCLUDED.company,
			skills = EXCLUDED.skills,
			bio = EXCLUDED.bio,
			updated_at = NOW()
	`, profile.UserID, profile.CurrentRole, years, profile.Company, string(skills), profile.Bio)
	if err != nil {
		return fmt.Errorf("upsert profile: %w", err)
	}
	return nil
}

// ResetAICalls starts a fresh quota window for the given day.
func (s *PostgresStore) ResetAICalls(ctx context.Context, userID string, day time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE user_profiles
		SET ai_calls_today = 0, last_ai_call_date = $2, updated_at = NOW()
		WHERE user_id = $1
	`, userID, day)
	if err != nil {
		return fmt.Errorf("reset ai calls: %w", err)
	}
	return nil
}

// RecordAICall increments today's AI usage, creating the profile row for
// first-time callers. A stale window restarts at 1 rather than carrying the
// previous day's count over.
func (s *PostgresStore) RecordAICall(ctx context.Context, userID string, day time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_profiles (user_id, ai_calls_today, last_ai_call_date)
		VALUES ($1, 1, $2)
		ON CONFLICT (user_id) DO UPDATE SET
			ai_calls_today = CASE
				WHEN user_profiles.last_ai_call_date IS NULL OR user_profiles.last_ai_call_date < $2 THEN 1
				ELSE user_profiles.ai_calls_today + 1
			END,
			last_ai_call_date = $2,
			updated_at = NOW()
	`, userID, day)
	if err != nil {
		return fmt.Errorf("record ai call: %w", err)
	}
	return nil
}

// AppendSkillsGained folds freshly inferred skills into the profile and bumps
// the completed-goal counter, creating the row when missing.
func (s *PostgresStore) AppendSkillsGained(ctx context.Context, userID string, skills []string) error {
	encoded, err := encodeStringList(skills)
	if err != nil {
		return fmt.Errorf("marshal skills gained: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO user_profiles (user_id, skills_gained, completed_goals_count)
		VALUES ($1, $2::jsonb, 1)
		ON CONFLICT (user_id) DO UPDATE SET
			skills_gained = user_profiles.skills_gained || EXCLUDED.skills_gained,
			completed_goals_count = user_profiles.completed_goals_count + 1,
			updated_at = NOW()
	`, userID, string(encoded))
	if err != nil {
		return fmt.Errorf("append skills gained: %w", err)
	}
	return nil
}

// ---- categories ----

func (s *PostgresStore) ListCategories(ctx context.Context, userID string) ([]CategoryWithGoals, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, name, color, icon, created_at
		FROM categories
		WHERE user_id = $1
		ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	defer rows.Close()

	items := make([]CategoryWithGoals, 0)
	index := make(map[string]int)
	for rows.Next() {
		var item CategoryWithGoals
		if err := rows.Scan(&item.ID, &item.UserID, &item.Name, &item.Color, &item.Icon, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		item.Goals = []GoalRef{}
		index[item.ID] = len(items)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate categories: %w", err)
	}

	goalRows, err := s.db.QueryContext(ctx, `
		SELECT id, status, category_id FROM goals WHERE user_id = $1
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list category goals: %w", err)
	}
	defer goalRows.Close()
	for goalRows.Next() {
		var ref GoalRef
		var categoryID string
		if err := goalRows.Scan(&ref.ID, &ref.Status, &categoryID); err != nil {
			return nil, fmt.Errorf("scan category goal: %w", err)
		}
		if i, ok := index[categoryID]; ok {
			items[i].Goals = append(items[i].Goals, ref)
		}
	}
	if err := goalRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate category goals: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetCategory(ctx context.Context, userID, categoryID string) (Category, error) {
	var item Category
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, name, color, icon, created_at
		FROM categories
		WHERE id = $1 AND user_id = $2
	`, categoryID, userID).Scan(&item.ID, &item.UserID, &item.Name, &item.Color, &item.Icon, &item.CreatedAt)
	if err != nil {
		return Category{}, err
	}
	return item, nil
}

func (s *PostgresStore) InsertCategory(ctx context.Context, item Category) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO categories (id, user_id, name, color, icon)
		VALUES ($1, $2, $3, $4, $5)
	`, item.ID, item.UserID, item.Name, item.Color, item.Icon)
	if err != nil {
		return fmt.Errorf("insert category: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateCategory(ctx context.Context, categoryID, name, color, icon string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE categories SET name = $2, color = $3, icon = $4 WHERE id = $1
	`, categoryID, name, color, icon)
	if err != nil {
		return fmt.Errorf("update category: %w", err)
	}
	return nil
}

// CascadeIDs lists the dependent rows removed by a cascading delete so the
// caller can purge matching search index entries.
type CascadeIDs struct {
	Goals      []string
	Milestones []string
	Tasks      []string
}

func (s *PostgresStore) DeleteCategory(ctx context.Context, categoryID string) (CascadeIDs, error) {
	var cascade CascadeIDs
	var err error
	if cascade.Goals, err = s.collectIDs(ctx,
		`SELECT id FROM goals WHERE category_id = $1`, categoryID); err != nil {
		return CascadeIDs{}, fmt.Errorf("delete category: %w", err)
	}
	if cascade.Milestones, err = s.collectIDs(ctx,
		`SELECT id FROM milestones WHERE goal_id IN (SELECT id FROM goals WHERE category_id = $1)`, categoryID); err != nil {
		return CascadeIDs{}, fmt.Errorf("delete category: %w", err)
	}
	if cascade.Tasks, err = s.collectIDs(ctx,
		`SELECT id FROM tasks WHERE milestone_id IN (
			SELECT id FROM milestones WHERE goal_id IN (SELECT id FROM goals WHERE category_id = $1))`, categoryID); err != nil {
		return CascadeIDs{}, fmt.Errorf("delete category: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM categories WHERE id = $1`, categoryID); err != nil {
		return CascadeIDs{}, fmt.Errorf("delete category: %w", err)
	}
	return cascade, nil
}

func (s *PostgresStore) collectIDs(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ---- goals ----

const goalColumns = `id, user_id, category_id, title, COALESCE(description, ''), status, priority, target_date, created_at`

func scanGoal(scanner interface{ Scan(...any) error }) (Goal, error) {
	var item Goal
	var targetDate sql.NullTime
	err := scanner.Scan(
		&item.ID, &item.UserID, &item.CategoryID, &item.Title, &item.Description,
		&item.Status, &item.Priority, &targetDate, &item.CreatedAt,
	)
	if err != nil {
		return Goal{}, err
	}
	if targetDate.Valid {
		value := targetDate.Time
		item.TargetDate = &value
	}
	return item, nil
}

func (s *PostgresStore) ListGoals(ctx context.Context, userID, categoryID string) ([]Goal, error) {
	query := `SELECT ` + goalColumns + ` FROM goals WHERE user_id = $1`
	args := []any{userID}
	if categoryID != "" {
		query += ` AND category_id = $2`
		args = append(args, categoryID)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list goals: %w", err)
	}
	defer rows.Close()

	items := make([]Goal, 0)
	for rows.Next() {
		item, err := scanGoal(rows)
		if err != nil {
			return nil, fmt.Errorf("scan goal: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate goals: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetGoal(ctx context.Context, userID, goalID string) (Goal, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+goalColumns+` FROM goals WHERE id = $1 AND user_id = $2`, goalID, userID)
	return scanGoal(row)
}

func (s *PostgresStore) InsertGoal(ctx context.Context, item Goal) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO goals (id, user_id, category_id, title, description, status, priority, target_date)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7, $8)
	`, item.ID, item.UserID, item.CategoryID, item.Title, item.Description, item.Status, item.Priority, nullableTime(item.TargetDate))
	if err != nil {
		return fmt.Errorf("insert goal: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateGoal(ctx context.Context, item Goal) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE goals
		SET category_id = $2, title = $3, description = NULLIF($4, ''), status = $5, priority = $6, target_date = $7
		WHERE id = $1
	`, item.ID, item.CategoryID, item.Title, item.Description, item.Status, item.Priority, nullableTime(item.TargetDate))
	if err != nil {
		return fmt.Errorf("update goal: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteGoal(ctx context.Context, goalID string) (CascadeIDs, error) {
	var cascade CascadeIDs
	var err error
	if cascade.Milestones, err = s.collectIDs(ctx,
		`SELECT id FROM milestones WHERE goal_id = $1`, goalID); err != nil {
		return CascadeIDs{}, fmt.Errorf("delete goal: %w", err)
	}
	if cascade.Tasks, err = s.collectIDs(ctx,
		`SELECT id FROM tasks WHERE milestone_id IN (SELECT id FROM milestones WHERE goal_id = $1)`, goalID); err != nil {
		return CascadeIDs{}, fmt.Errorf("delete goal: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM goals WHERE id = $1`, goalID); err != nil {
		return CascadeIDs{}, fmt.Errorf("delete goal: %w", err)
	}
	return cascade, nil
}

func (s *PostgresStore) CountGoals(ctx context.Context, userID, status string) (int, error) {
	query := `SELECT COUNT(*) FROM goals WHERE user_id = $1`
	args := []any{userID}
	if status != "" {
		query += ` AND status = $2`
		args = append(args, status)
	}
	var count int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count goals: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) CountMilestonesByOwner(ctx context.Context, userID, status string) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM milestones m
		JOIN goals g ON g.id = m.goal_id
		WHERE g.user_id = $1`
	args := []any{userID}
	if status != "" {
		query += ` AND m.status = $2`
		args = append(args, status)
	}
	var count int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count milestones: %w", err)
	}
	return count, nil
}

// ---- milestones ----

const milestoneColumns = `m.id, m.goal_id, m.title, COALESCE(m.notes, ''), m.due_date, m.status, m.completed_at, m.created_at`

func scanMilestone(scanner interface{ Scan(...any) error }) (Milestone, error) {
	var item Milestone
	var dueDate, completedAt sql.NullTime
	err := scanner.Scan(
		&item.ID, &item.GoalID, &item.Title, &item.Notes,
		&dueDate, &item.Status, &completedAt, &item.CreatedAt,
	)
	if err != nil {
		return Milestone{}, err
	}
	if dueDate.Valid {
		value := dueDate.Time
		item.DueDate = &value
	}
	if completedAt.Valid {
		value := completedAt.Time
		item.CompletedAt = &value
	}
	return item, nil
}

func (s *PostgresStore) ListMilestones(ctx context.Context, goalID string) ([]Milestone, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+milestoneColumns+` FROM milestones m WHERE m.goal_id = $1 ORDER BY m.created_at ASC
	`, goalID)
	if err != nil {
		return nil, fmt.Errorf("list milestones: %w", err)
	}
	defer rows.Close()

	items := make([]Milestone, 0)
	for rows.Next() {
		item, err := scanMilestone(rows)
		if err != nil {
			return nil, fmt.Errorf("scan milestone: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate milestones: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) ListCompletedMilestones(ctx context.Context, goalID string) ([]Milestone, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+milestoneColumns+` FROM milestones m
		WHERE m.goal_id = $1 AND m.status = 'COMPLETED'
		ORDER BY m.created_at ASC
	`, goalID)
	if err != nil {
		return nil, fmt.Errorf("list completed milestones: %w", err)
	}
	defer rows.Close()

	items := make([]Milestone, 0)
	for rows.Next() {
		item, err := scanMilestone(rows)
		if err != nil {
			return nil, fmt.Errorf("scan milestone: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate milestones: %w", err)
	}
	return items, nil
}

// GetMilestoneOwned resolves a milestone through its goal's owner; a
// milestone owned by someone else scans out as sql.ErrNoRows.
func (s *PostgresStore) GetMilestoneOwned(ctx context.Context, userID, milestoneID string) (Milestone, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+milestoneColumns+`
		FROM milestones m
		JOIN goals g ON g.id = m.goal_id
		WHERE m.id = $1 AND g.user_id = $2
	`, milestoneID, userID)
	return scanMilestone(row)
}

func (s *PostgresStore) InsertMilestone(ctx context.Context, item Milestone) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO milestones (id, goal_id, title, notes, due_date, status)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6)
	`, item.ID, item.GoalID, item.Title, item.Notes, nullableTime(item.DueDate), item.Status)
	if err != nil {
		return fmt.Errorf("insert milestone: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateMilestone(ctx context.Context, item Milestone) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE milestones
		SET title = $2, notes = NULLIF($3, ''), due_date = $4
		WHERE id = $1
	`, item.ID, item.Title, item.Notes, nullableTime(item.DueDate))
	if err != nil {
		return fmt.Errorf("update milestone: %w", err)
	}
	return nil
}

func (s *PostgresStore) SetMilestoneStatus(ctx context.Context, milestoneID, status string, completedAt *time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE milestones SET status = $2, completed_at = $3 WHERE id = $1
	`, milestoneID, status, nullableTime(completedAt))
	if err != nil {
		return fmt.Errorf("set milestone status: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteMilestone(ctx context.Context, milestoneID string) (CascadeIDs, error) {
	var cascade CascadeIDs
	var err error
	if cascade.Tasks, err = s.collectIDs(ctx,
		`SELECT id FROM tasks WHERE milestone_id = $1`, milestoneID); err != nil {
		return CascadeIDs{}, fmt.Errorf("delete milestone: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM milestones WHERE id = $1`, milestoneID); err != nil {
		return CascadeIDs{}, fmt.Errorf("delete milestone: %w", err)
	}
	return cascade, nil
}

func (s *PostgresStore) ListUpcomingMilestones(ctx context.Context, userID string, from time.Time, limit int) ([]UpcomingMilestone, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+milestoneColumns+`, g.title
		FROM milestones m
		JOIN goals g ON g.id = m.goal_id
		WHERE g.user_id = $1 AND m.status = 'PENDING' AND m.due_date >= $2
		ORDER BY m.due_date ASC
		LIMIT $3
	`, userID, from, limit)
	if err != nil {
		return nil, fmt.Errorf("list upcoming milestones: %w", err)
	}
	defer rows.Close()

	items := make([]UpcomingMilestone, 0)
	for rows.Next() {
		var item UpcomingMilestone
		var dueDate, completedAt sql.NullTime
		if err := rows.Scan(
			&item.ID, &item.GoalID, &item.Title, &item.Notes,
			&dueDate, &item.Status, &completedAt, &item.CreatedAt, &item.GoalTitle,
		); err != nil {
			return nil, fmt.Errorf("scan upcoming milestone: %w", err)
		}
		if dueDate.Valid {
			value := dueDate.Time
			item.DueDate = &value
		}
		if completedAt.Valid {
			value := completedAt.Time
			item.CompletedAt = &value
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate upcoming milestones: %w", err)
	}
	return items, nil
}

// ListDueMilestonesWithoutTasks finds PENDING milestones due inside
// [from, to) that have not been materialized onto the task board yet.
func (s *PostgresStore) ListDueMilestonesWithoutTasks(ctx context.Context, userID string, from, to time.Time) ([]Milestone, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+milestoneColumns+`
		FROM milestones m
		JOIN goals g ON g.id = m.goal_id
		WHERE g.user_id = $1
			AND m.status = 'PENDING'
			AND m.due_date >= $2 AND m.due_date < $3
			AND NOT EXISTS (SELECT 1 FROM tasks t WHERE t.milestone_id = m.id)
	`, userID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list due milestones: %w", err)
	}
	defer rows.Close()

	items := make([]Milestone, 0)
	for rows.Next() {
		item, err := scanMilestone(rows)
		if err != nil {
			return nil, fmt.Errorf("scan due milestone: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate due milestones: %w", err)
	}
	return items, nil
}

// ---- tasks ----

const taskColumns = `t.id, t.user_id, COALESCE(t.milestone_id, ''), t.title, COALESCE(t.notes, ''), t.due_date, t.completed, t.completed_at, t.sort_order, t.created_at`

const taskContextColumns = taskColumns + `,
	COALESCE(m.title, ''), COALESCE(g.id, ''), COALESCE(g.title, ''), COALESCE(g.priority, ''),
	COALESCE(c.name, ''), COALESCE(c.color, '')`

const taskContextJoins = `
	LEFT JOIN milestones m ON m.id = t.milestone_id
	LEFT JOIN goals g ON g.id = m.goal_id
	LEFT JOIN categories c ON c.id = g.category_id`

func scanTaskWithContext(scanner interface{ Scan(...any) error }) (TaskWithContext, error) {
	var item TaskWithContext
	var dueDate, completedAt sql.NullTime
	var milestoneTitle, goalID, goalTitle, goalPriority, categoryName, categoryColor string
	err := scanner.Scan(
		&item.ID, &item.UserID, &item.MilestoneID, &item.Title, &item.Notes,
		&dueDate, &item.Completed, &completedAt, &item.Position, &item.CreatedAt,
		&milestoneTitle, &goalID, &goalTitle, &goalPriority, &categoryName, &categoryColor,
	)
	if err != nil {
		return TaskWithContext{}, err
	}
	if dueDate.Valid {
		value := dueDate.Time
		item.DueDate = &value
	}
	if completedAt.Valid {
		value := completedAt.Time
		item.CompletedAt = &value
	}
	if item.MilestoneID != "" {
		item.Context = &TaskContext{
			MilestoneTitle: milestoneTitle,
			GoalID:         goalID,
			GoalTitle:      goalTitle,
			GoalPriority:   goalPriority,
			CategoryName:   categoryName,
			CategoryColor:  categoryColor,
		}
	}
	return item, nil
}

// ListTodayTasks returns milestone-linked tasks unconditionally, and orphaned
// tasks that are incomplete or were completed on or after dayStart.
func (s *PostgresStore) ListTodayTasks(ctx context.Context, userID string, dayStart time.Time) ([]TaskWithContext, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+taskContextColumns+`
		FROM tasks t`+taskContextJoins+`
		WHERE t.user_id = $1
			AND (
				t.milestone_id IS NOT NULL
				OR t.completed = FALSE
				OR t.completed_at >= $2
			)
		ORDER BY t.completed ASC, t.sort_order ASC, t.created_at DESC
	`, userID, dayStart)
	if err != nil {
		return nil, fmt.Errorf("list today tasks: %w", err)
	}
	defer rows.Close()

	items := make([]TaskWithContext, 0)
	for rows.Next() {
		item, err := scanTaskWithContext(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tasks: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetTaskOwned(ctx context.Context, userID, taskID string) (Task, error) {
	var item Task
	var dueDate, completedAt sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT `+taskColumns+` FROM tasks t WHERE t.id = $1 AND t.user_id = $2
	`, taskID, userID).Scan(
		&item.ID, &item.UserID, &item.MilestoneID, &item.Title, &item.Notes,
		&dueDate, &item.Completed, &completedAt, &item.Position, &item.CreatedAt,
	)
	if err != nil {
		return Task{}, err
	}
	if dueDate.Valid {
		value := dueDate.Time
		item.DueDate = &value
	}
	if completedAt.Valid {
		value := completedAt.Time
		item.CompletedAt = &value
	}
	return item, nil
}

func (s *PostgresStore) ListTasksByIDs(ctx context.Context, userID string, taskIDs []string) ([]TaskWithContext, error) {
	if len(taskIDs) == 0 {
		return []TaskWithContext{}, nil
	}
	encoded, err := encodeStringList(taskIDs)
	if err != nil {
		return nil, fmt.Errorf("marshal task ids: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+taskContextColumns+`
		FROM tasks t`+taskContextJoins+`
		WHERE t.user_id = $1 AND t.id IN (SELECT jsonb_array_elements_text($2::jsonb))
	`, userID, string(encoded))
	if err != nil {
		return nil, fmt.Errorf("list tasks by ids: %w", err)
	}
	defer rows.Close()

	items := make([]TaskWithContext, 0, len(taskIDs))
	for rows.Next() {
		item, err := scanTaskWithContext(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tasks: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) CountOrphanedTasksCreated(ctx context.Context, userID string, from, to time.Time) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM tasks
		WHERE user_id = $1 AND milestone_id IS NULL AND created_at >= $2 AND created_at < $3
	`, userID, from, to).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count orphaned tasks: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) MaxTaskPosition(ctx context.Context, userID string) (int, error) {
	var max int
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(sort_order), 0) FROM tasks WHERE user_id = $1
	`, userID).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("max task position: %w", err)
	}
	return max, nil
}

func (s *PostgresStore) InsertTask(ctx context.Context, item Task) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (id, user_id, milestone_id, title, notes, due_date, sort_order)
		VALUES ($1, $2, NULLIF($3, ''), $4, NULLIF($5, ''), $6, $7)
	`, item.ID, item.UserID, item.MilestoneID, item.Title, item.Notes, nullableTime(item.DueDate), item.Position)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

// InsertMilestoneTask materializes a task for a milestone. The unique index
// on milestone_id turns a concurrent duplicate into a no-op; the return
// value reports whether this call actually inserted the row.
func (s *PostgresStore) InsertMilestoneTask(ctx context.Context, item Task) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (id, user_id, milestone_id, title, notes, due_date, sort_order)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7)
		ON CONFLICT (milestone_id) WHERE milestone_id IS NOT NULL DO NOTHING
	`, item.ID, item.UserID, item.MilestoneID, item.Title, item.Notes, nullableTime(item.DueDate), item.Position)
	if err != nil {
		return false, fmt.Errorf("insert milestone task: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert milestone task result: %w", err)
	}
	return affected == 1, nil
}

func (s *PostgresStore) UpdateTaskContent(ctx context.Context, taskID, title, notes string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET title = $2, notes = NULLIF($3, '') WHERE id = $1
	`, taskID, title, notes)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	return nil
}

func (s *PostgresStore) SetTaskCompletion(ctx context.Context, taskID string, completed bool, completedAt *time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET completed = $2, completed_at = $3 WHERE id = $1
	`, taskID, completed, nullableTime(completedAt))
	if err != nil {
		return fmt.Errorf("set task completion: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteTask(ctx context.Context, taskID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = $1`, taskID)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	return nil
}

// ReorderTasks assigns position = index for every id, inside one
// transaction. An id that does not resolve to a task owned by userID aborts
// the whole batch with sql.ErrNoRows so no partial ordering is ever applied.
func (s *PostgresStore) ReorderTasks(ctx context.Context, userID string, taskIDs []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin reorder tx: %w", err)
	}
	for index, taskID := range taskIDs {
		result, err := tx.ExecContext(ctx, `
			UPDATE tasks SET sort_order = $3 WHERE id = $1 AND user_id = $2
		`, taskID, userID, index)
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("reorder task %s: %w", taskID, err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("reorder task %s result: %w", taskID, err)
		}
		if affected != 1 {
			_ = tx.Rollback()
			return sql.ErrNoRows
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit reorder tx: %w", err)
	}
	return nil
}

// ---- helpers ----

func nullableTime(value *time.Time) any {
	if value == nil {
		return nil
	}
	return *value
}

func encodeStringList(values []string) ([]byte, error) {
	if values == nil {
		values = []string{}
	}
	return json.Marshal(values)
}

func decodeStringList(raw []byte) []string {
	values := []string{}
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &values)
	}
	return values
}
