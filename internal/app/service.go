package app

import (
	"context"
	"time"

	"questive/api/internal/ai"
	"questive/api/internal/auth"
	"questive/api/internal/authpw"
	"questive/api/internal/avatar"
	"questive/api/internal/config"
	"questive/api/internal/export"
	"questive/api/internal/search"
	"questive/api/internal/session"
	"questive/api/internal/store"
	"questive/api/internal/util"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	JTI          string
	ExpiresAt    time.Time
}

type dataStore interface {
	GetUserByID(ctx context.Context, id string) (store.User, error)
	UpdateUserAvatar(ctx context.Context, userID, avatarURL string) error
	DeleteUser(ctx context.Context, userID string) error

	GetProfile(ctx context.Context, userID string) (store.UserProfile, error)
	UpsertProfile(ctx context.Context, profile store.UserProfile) error
	ResetAICalls(ctx context.Context, userID string, day time.Time) error
	RecordAICall(ctx context.Context, userID string, day time.Time) error
	AppendSkillsGained(ctx context.Context, userID string, skills []string) error

	ListCategories(ctx context.Context, userID string) ([]store.CategoryWithGoals, error)
	GetCategory(ctx context.Context, userID, categoryID string) (store.Category, error)
	InsertCategory(ctx context.Context, category store.Category) error
	UpdateCategory(ctx context.Context, categoryID, name, color, icon string) error
	DeleteCategory(ctx context.Context, categoryID string) (store.CascadeIDs, error)

	ListGoals(ctx context.Context, userID, categoryID string) ([]store.Goal, error)
	GetGoal(ctx context.Context, userID, goalID string) (store.Goal, error)
	InsertGoal(ctx context.Context, goal store.Goal) error
	UpdateGoal(ctx context.Context, goal store.Goal) error
	DeleteGoal(ctx context.Context, goalID string) (store.CascadeIDs, error)
	CountGoals(ctx context.Context, userID, status string) (int, error)
	CountMilestonesByOwner(ctx context.Context, userID, status string) (int, error)

	ListMilestones(ctx context.Context, goalID string) ([]store.Milestone, error)
	ListCompletedMilestones(ctx context.Context, goalID string) ([]store.Milestone, error)
	GetMilestoneOwned(ctx context.Context, userID, milestoneID string) (store.Milestone, error)
	InsertMilestone(ctx context.Context, milestone store.Milestone) error
	UpdateMilestone(ctx context.Context, milestone store.Milestone) error
	SetMilestoneStatus(ctx context.Context, milestoneID, status string, completedAt *time.Time) error
	DeleteMilestone(ctx context.Context, milestoneID string) (store.CascadeIDs, error)
	ListUpcomingMilestones(ctx context.Context, userID string, from time.Time, limit int) ([]store.UpcomingMilestone, error)
	ListDueMilestonesWithoutTasks(ctx context.Context, userID string, from, to time.Time) ([]store.Milestone, error)

	ListTodayTasks(ctx context.Context, userID string, dayStart time.Time) ([]store.TaskWithContext, error)
	GetTaskOwned(ctx context.Context, userID, taskID string) (store.Task, error)
	ListTasksByIDs(ctx context.Context, userID string, taskIDs []string) ([]store.TaskWithContext, error)
	CountOrphanedTasksCreated(ctx context.Context, userID string, from, to time.Time) (int, error)
	MaxTaskPosition(ctx context.Context, userID string) (int, error)
	InsertTask(ctx context.Context, task store.Task) error
	InsertMilestoneTask(ctx context.Context, task store.Task) (bool, error)
	UpdateTaskContent(ctx context.Context, taskID, title, notes string) error
	SetTaskCompletion(ctx context.Context, taskID string, completed bool, completedAt *time.Time) error
	DeleteTask(ctx context.Context, taskID string) error
	ReorderTasks(ctx context.Context, userID string, taskIDs []string) error

	Ping(ctx context.Context) error
}

type sessionStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash, userID, name string, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (session.TokenData, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
}

type searchIndex interface {
	Search(q search.Query) search.Response
	IndexGoal(g search.GoalRecord)
	IndexMilestone(m search.MilestoneRecord)
	IndexTask(t search.TaskRecord)
	DeleteGoal(id string)
	DeleteMilestone(id string)
	DeleteTask(id string)
}

type Service struct {
	cfg      config.Config
	store    dataStore
	sessions sessionStore
	authpw   *authpw.Service
	ai       ai.Completer
	search   searchIndex
	export   *export.Service
	avatars  *avatar.Service
	now      func() time.Time

	// background runs fire-and-forget work such as profile enrichment.
	// Tests replace it with an inline runner.
	background func(fn func())
}

type Deps struct {
	Store    *store.PostgresStore
	Sessions *session.RedisStore
	Auth     *authpw.Service
	AI       ai.Completer
	Search   *search.Service
	Export   *export.Service
	Avatars  *avatar.Service
}

func New(cfg config.Config, deps Deps) *Service {
	svc := &Service{
		cfg:        cfg,
		store:      deps.Store,
		sessions:   deps.Sessions,
		authpw:     deps.Auth,
		ai:         deps.AI,
		export:     deps.Export,
		avatars:    deps.Avatars,
		now:        time.Now,
		background: func(fn func()) { go fn() },
	}
	// A typed nil in the interface would defeat the nil checks.
	if deps.Search != nil {
		svc.search = deps.Search
	}
	return svc
}

// AuthPasswordService exposes the email/password auth service for HTTP handlers.
func (s *Service) AuthPasswordService() *authpw.Service {
	return s.authpw
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// CreateSession issues a fresh access and refresh token pair for a user.
func (s *Service) CreateSession(ctx context.Context, user store.User) (Session, error) {
	return s.issueSession(ctx, user)
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	data, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, err
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	user, err := s.store.GetUserByID(ctx, data.UserID)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := s.now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.TokenSecret), auth.Claims{
		Sub:  user.ID,
		Name: user.Name,
		JTI:  jti,
		Exp:  expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user.ID, user.Name, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.Name,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.TokenSecret), token)
	if err != nil {
		return Session{}, err
	}

	return Session{
		Token:     token,
		UserID:    claims.Sub,
		UserName:  claims.Name,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	if refreshToken != "" {
		return s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
	}
	return nil
}
