package app

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"questive/api/internal/auth"
	"questive/api/internal/authpw"
	"questive/api/internal/avatar"
	"questive/api/internal/export"
	"questive/api/internal/search"
	"questive/api/internal/store"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := "ready"
		statusCode := http.StatusOK
		checks := map[string]any{
			"database": map[string]any{"status": "ok"},
		}

		if err := s.service.Ping(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["database"] = map[string]any{
				"status": "error",
				"error":  err.Error(),
			}
		}

		writeJSON(w, statusCode, map[string]any{
			"ok":     status == "ready",
			"status": status,
			"checks": checks,
		})
		return
	}

	// Auth routes (no session required)
	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/signup" {
		s.handleAuthSignUp(w, r)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/signin" {
		s.handleAuthSignIn(w, r)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/session" {
		token := bearerToken(r)
		if token == "" {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false, "userName": nil})
			return
		}
		session, err := s.service.SessionFromToken(r.Context(), token)
		if err != nil {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false, "userName": nil})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"authenticated": true, "userName": session.UserName, "userId": session.UserID})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/session/refresh" {
		var body struct {
			RefreshToken string `json:"refreshToken"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		session, err := s.service.Refresh(r.Context(), body.RefreshToken)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Refresh token invalid", nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"accessToken":  session.Token,
			"refreshToken": session.RefreshToken,
			"userName":     session.UserName,
			"expiresAt":    session.ExpiresAt.Unix(),
		})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/session/logout" {
		var body struct {
			RefreshToken string `json:"refreshToken"`
		}
		_ = decodeBody(r, &body)
		if body.RefreshToken != "" {
			_ = s.service.Logout(r.Context(), body.RefreshToken)
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/search" {
		s.handleSearch(w, r, session)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/stats" {
		stats, err := s.service.DashboardStats(r.Context(), session)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, statsJSON(stats))
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/upcoming" {
		limit := 0
		if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil {
				writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "limit must be an integer", nil)
				return
			}
			limit = parsed
		}
		upcoming, err := s.service.UpcomingMilestones(r.Context(), session, limit)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		items := make([]map[string]any, 0, len(upcoming))
		for _, item := range upcoming {
			entry := milestoneJSON(item.Milestone)
			entry["goalTitle"] = item.GoalTitle
			items = append(items, entry)
		}
		writeJSON(w, http.StatusOK, map[string]any{"milestones": items})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/export/report" {
		s.handleExportReport(w, r, session)
		return
	}

	parts := splitPath(r.URL.Path)
	if len(parts) == 0 || parts[0] != "api" {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	parts = parts[1:]

	switch {
	case len(parts) >= 1 && parts[0] == "categories":
		s.handleCategories(w, r, session, parts[1:])
	case len(parts) >= 1 && parts[0] == "goals":
		s.handleGoals(w, r, session, parts[1:])
	case len(parts) >= 1 && parts[0] == "milestones":
		s.handleMilestones(w, r, session, parts[1:])
	case len(parts) >= 1 && parts[0] == "tasks":
		s.handleTasks(w, r, session, parts[1:])
	case len(parts) >= 1 && parts[0] == "ai":
		s.handleAI(w, r, session, parts[1:])
	case len(parts) >= 1 && parts[0] == "profile":
		s.handleProfile(w, r, session, parts[1:])
	case len(parts) == 1 && parts[0] == "account" && r.Method == http.MethodDelete:
		var body struct {
			RefreshToken string `json:"refreshToken"`
		}
		_ = decodeBody(r, &body)
		err := s.service.DeleteAccount(r.Context(), session, body.RefreshToken)
		writeActionResult(w, err, nil)
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleCategories(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	switch {
	case len(parts) == 0 && r.Method == http.MethodGet:
		categories, err := s.service.ListCategories(r.Context(), session)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		items := make([]map[string]any, 0, len(categories))
		for _, category := range categories {
			items = append(items, categoryWithGoalsJSON(category))
		}
		writeJSON(w, http.StatusOK, map[string]any{"categories": items})

	case len(parts) == 0 && r.Method == http.MethodPost:
		var input CategoryInput
		if err := decodeBody(r, &input); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		category, err := s.service.CreateCategory(r.Context(), session, input)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusCreated, categoryJSON(category))

	case len(parts) == 1 && r.Method == http.MethodGet:
		category, err := s.service.GetCategory(r.Context(), session, parts[0])
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, categoryJSON(category))

	case len(parts) == 1 && r.Method == http.MethodPut:
		var input CategoryInput
		if err := decodeBody(r, &input); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		category, err := s.service.UpdateCategory(r.Context(), session, parts[0], input)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, categoryJSON(category))

	case len(parts) == 1 && r.Method == http.MethodDelete:
		if err := s.service.DeleteCategory(r.Context(), session, parts[0]); err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleGoals(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	switch {
	case len(parts) == 0 && r.Method == http.MethodGet:
		categoryID := strings.TrimSpace(r.URL.Query().Get("categoryId"))
		goals, err := s.service.ListGoals(r.Context(), session, categoryID)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		items := make([]map[string]any, 0, len(goals))
		for _, goal := range goals {
			items = append(items, goalJSON(goal))
		}
		writeJSON(w, http.StatusOK, map[string]any{"goals": items})

	case len(parts) == 0 && r.Method == http.MethodPost:
		var input GoalInput
		if err := decodeBody(r, &input); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		goal, err := s.service.CreateGoal(r.Context(), session, input)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusCreated, goalJSON(goal))

	case len(parts) == 1 && r.Method == http.MethodGet:
		goal, err := s.service.GetGoal(r.Context(), session, parts[0])
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		response := goalJSON(goal.Goal)
		milestones := make([]map[string]any, 0, len(goal.Milestones))
		for _, milestone := range goal.Milestones {
			milestones = append(milestones, milestoneJSON(milestone))
		}
		response["milestones"] = milestones
		writeJSON(w, http.StatusOK, response)

	case len(parts) == 1 && r.Method == http.MethodPut:
		var input GoalInput
		if err := decodeBody(r, &input); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		goal, err := s.service.UpdateGoal(r.Context(), session, parts[0], input)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, goalJSON(goal))

	case len(parts) == 1 && r.Method == http.MethodDelete:
		if err := s.service.DeleteGoal(r.Context(), session, parts[0]); err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})

	case len(parts) == 2 && parts[1] == "milestones" && r.Method == http.MethodGet:
		milestones, err := s.service.ListMilestones(r.Context(), session, parts[0])
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		items := make([]map[string]any, 0, len(milestones))
		for _, milestone := range milestones {
			items = append(items, milestoneJSON(milestone))
		}
		writeJSON(w, http.StatusOK, map[string]any{"milestones": items})

	case len(parts) == 2 && parts[1] == "milestones" && r.Method == http.MethodPost:
		var input MilestoneInput
		if err := decodeBody(r, &input); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		milestone, err := s.service.CreateMilestone(r.Context(), session, parts[0], input)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusCreated, milestoneJSON(milestone))

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleMilestones(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	switch {
	case len(parts) == 1 && r.Method == http.MethodPut:
		var input MilestoneInput
		if err := decodeBody(r, &input); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		milestone, err := s.service.UpdateMilestone(r.Context(), session, parts[0], input)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, milestoneJSON(milestone))

	case len(parts) == 2 && parts[1] == "toggle" && r.Method == http.MethodPost:
		milestone, err := s.service.ToggleMilestone(r.Context(), session, parts[0])
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, milestoneJSON(milestone))

	case len(parts) == 1 && r.Method == http.MethodDelete:
		if err := s.service.DeleteMilestone(r.Context(), session, parts[0]); err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

// Task routes report failures inside a success envelope instead of HTTP
// error statuses, so the board UI can show the message inline.
func (s *HTTPServer) handleTasks(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	switch {
	case len(parts) == 1 && parts[0] == "today" && r.Method == http.MethodGet:
		tasks, err := s.service.GetTodayTasks(r.Context(), session)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		items := make([]map[string]any, 0, len(tasks))
		for _, task := range tasks {
			items = append(items, taskWithContextJSON(task))
		}
		writeJSON(w, http.StatusOK, map[string]any{"tasks": items})

	case len(parts) == 0 && r.Method == http.MethodPost:
		var input TaskInput
		if err := decodeBody(r, &input); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		task, err := s.service.CreateTask(r.Context(), session, input)
		writeActionResult(w, err, func() map[string]any {
			return map[string]any{"task": taskJSON(task)}
		})

	case len(parts) == 1 && parts[0] == "reorder" && r.Method == http.MethodPost:
		var body struct {
			TaskIDs []string `json:"taskIds"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		err := s.service.ReorderTasks(r.Context(), session, body.TaskIDs)
		writeActionResult(w, err, nil)

	case len(parts) == 1 && r.Method == http.MethodPut:
		var input TaskInput
		if err := decodeBody(r, &input); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		task, err := s.service.UpdateTask(r.Context(), session, parts[0], input)
		writeActionResult(w, err, func() map[string]any {
			return map[string]any{"task": taskJSON(task)}
		})

	case len(parts) == 2 && parts[1] == "toggle" && r.Method == http.MethodPost:
		task, err := s.service.ToggleTaskComplete(r.Context(), session, parts[0])
		writeActionResult(w, err, func() map[string]any {
			return map[string]any{"task": taskJSON(task)}
		})

	case len(parts) == 1 && r.Method == http.MethodDelete:
		err := s.service.DeleteTask(r.Context(), session, parts[0])
		writeActionResult(w, err, nil)

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleAI(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	switch {
	case len(parts) == 1 && parts[0] == "milestones" && r.Method == http.MethodPost:
		var body MilestoneSuggestionInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		suggestions, err := s.service.GenerateMilestones(r.Context(), session, body)
		writeActionResult(w, err, func() map[string]any {
			if suggestions == nil {
				suggestions = []SuggestedMilestone{}
			}
			return map[string]any{"milestones": suggestions}
		})

	case len(parts) == 1 && parts[0] == "prioritize" && r.Method == http.MethodPost:
		var body struct {
			TaskIDs []string `json:"taskIds"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		result, err := s.service.PrioritizeTasks(r.Context(), session, body.TaskIDs)
		writeActionResult(w, err, func() map[string]any {
			return map[string]any{
				"orderedTaskIds": result.OrderedTaskIDs,
				"reasoning":      result.Reasoning,
			}
		})

	case len(parts) == 1 && parts[0] == "status" && r.Method == http.MethodGet:
		status, err := s.service.GetAIStatus(r.Context(), session)
		if err != nil {
			httpStatus, code, message, details := mapError(err)
			writeError(w, httpStatus, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"available":      status.Available,
			"remainingCalls": status.RemainingCalls,
		})

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleProfile(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	switch {
	case len(parts) == 0 && r.Method == http.MethodGet:
		user, err := s.service.GetAccount(r.Context(), session)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		profile, hasProfile, err := s.service.GetExtendedProfile(r.Context(), session)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		response := map[string]any{"user": userJSON(user)}
		if hasProfile {
			response["profile"] = profileJSON(profile)
		} else {
			response["profile"] = nil
		}
		writeJSON(w, http.StatusOK, response)

	case len(parts) == 0 && r.Method == http.MethodPut:
		var input ProfileInput
		if err := decodeBody(r, &input); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		profile, err := s.service.SaveProfile(r.Context(), session, input)
		writeActionResult(w, err, func() map[string]any {
			return map[string]any{"profile": profileJSON(profile)}
		})

	case len(parts) == 1 && parts[0] == "skills" && r.Method == http.MethodGet:
		skills, err := s.service.GetSkillsGained(r.Context(), session)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"skillsGained": skills})

	case len(parts) == 1 && parts[0] == "avatar" && r.Method == http.MethodPost:
		s.handleAvatarUpload(w, r, session)

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleAvatarUpload(w http.ResponseWriter, r *http.Request, session Session) {
	contentType := r.Header.Get("Content-Type")
	body := http.MaxBytesReader(w, r.Body, avatar.MaxUploadSize)
	defer body.Close()

	url, err := s.service.UploadAvatar(r.Context(), session, body, r.ContentLength, contentType)
	if err != nil {
		if errors.Is(err, avatar.ErrUnsupportedType) {
			writeError(w, http.StatusUnsupportedMediaType, "UNSUPPORTED_TYPE", "Use a PNG, JPEG, or WebP image", nil)
			return
		}
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "TOO_LARGE", "Avatar must be 5MB or smaller", nil)
			return
		}
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"avatarUrl": url})
}

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request, session Session) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	filterType := strings.TrimSpace(r.URL.Query().Get("type"))
	limit := 20
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "limit must be an integer", nil)
			return
		}
		limit = parsed
	}
	offset := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("offset")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "offset must be an integer", nil)
			return
		}
		offset = parsed
	}
	if q == "" {
		writeJSON(w, http.StatusOK, search.Response{Results: []search.Result{}, Query: q})
		return
	}

	response := s.service.SearchContent(session, q, filterType, limit, offset)
	writeJSON(w, http.StatusOK, response)
}

func (s *HTTPServer) handleExportReport(w http.ResponseWriter, r *http.Request, session Session) {
	result, err := s.service.ExportProgressReport(r.Context(), session)
	if err != nil {
		if errors.Is(err, export.ErrPDFDependencyMissing) {
			writeError(w, http.StatusNotImplemented, "PDF_UNAVAILABLE", "PDF export requires a Chromium install on the server", nil)
			return
		}
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}

	w.Header().Set("Content-Type", result.MimeType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", result.Filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(result.Data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result.Data)
}

// Auth handlers for email/password authentication

func (s *HTTPServer) handleAuthSignUp(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name     string `json:"name"`
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	user, err := s.service.AuthPasswordService().SignUp(r.Context(), authpw.SignUpRequest{
		Name:     body.Name,
		Email:    body.Email,
		Password: body.Password,
	})
	if err != nil {
		if err.Error() == "email already registered" {
			writeError(w, http.StatusConflict, "EMAIL_EXISTS", "Email already registered", nil)
			return
		}
		writeError(w, http.StatusBadRequest, "SIGNUP_FAILED", err.Error(), nil)
		return
	}

	session, err := s.service.CreateSession(r.Context(), user)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "SESSION_FAILED", "Failed to create session", nil)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"accessToken":  session.Token,
		"refreshToken": session.RefreshToken,
		"userId":       session.UserID,
		"userName":     session.UserName,
		"expiresAt":    session.ExpiresAt.Unix(),
	})
}

func (s *HTTPServer) handleAuthSignIn(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	user, err := s.service.AuthPasswordService().SignIn(r.Context(), authpw.SignInRequest{
		Email:    body.Email,
		Password: body.Password,
	})
	if err != nil {
		writeError(w, http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password", nil)
		return
	}

	session, err := s.service.CreateSession(r.Context(), user)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "SESSION_FAILED", "Failed to create session", nil)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"accessToken":  session.Token,
		"refreshToken": session.RefreshToken,
		"userId":       session.UserID,
		"userName":     session.UserName,
		"expiresAt":    session.ExpiresAt.Unix(),
	})
}

func (s *HTTPServer) requireSession(w http.ResponseWriter, r *http.Request) (Session, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return Session{}, false
	}
	session, err := s.service.SessionFromToken(r.Context(), token)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredToken) || errors.Is(err, auth.ErrInvalidToken) {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			return Session{}, false
		}
		writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Session lookup failed", nil)
		return Session{}, false
	}
	return session, true
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

// writeActionResult renders the success envelope used by board, AI, and
// profile actions. An ActionError becomes {"success":false,"error":...}
// with status 200; any other error keeps the usual HTTP error mapping.
// payload is called only on success, so handlers can serialize results
// that are zero-valued on failure.
func writeActionResult(w http.ResponseWriter, err error, payload func() map[string]any) {
	var actionErr *ActionError
	if errors.As(err, &actionErr) {
		writeJSON(w, http.StatusOK, map[string]any{"success": false, "error": actionErr.Message})
		return
	}
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	response := map[string]any{"success": true}
	if payload != nil {
		for key, value := range payload() {
			response[key] = value
		}
	}
	writeJSON(w, http.StatusOK, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, sql.ErrNoRows) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}

// JSON shapes. Store models carry no tags, so responses are assembled by
// hand with the camelCase keys the frontend expects.

func userJSON(user store.User) map[string]any {
	return map[string]any{
		"id":        user.ID,
		"name":      user.Name,
		"email":     user.Email,
		"avatarUrl": nullableString(user.AvatarURL),
		"createdAt": user.CreatedAt,
	}
}

func profileJSON(profile store.UserProfile) map[string]any {
	return map[string]any{
		"userId":              profile.UserID,
		"currentRole":         nullableString(profile.CurrentRole),
		"yearsExperience":     profile.YearsExperience,
		"company":             nullableString(profile.Company),
		"skills":              nonNilStrings(profile.Skills),
		"bio":                 nullableString(profile.Bio),
		"skillsGained":        nonNilStrings(profile.SkillsGained),
		"completedGoalsCount": profile.CompletedGoalsCount,
		"createdAt":           profile.CreatedAt,
		"updatedAt":           profile.UpdatedAt,
	}
}

func categoryJSON(category store.Category) map[string]any {
	return map[string]any{
		"id":        category.ID,
		"name":      category.Name,
		"color":     category.Color,
		"icon":      category.Icon,
		"createdAt": category.CreatedAt,
	}
}

func categoryWithGoalsJSON(category store.CategoryWithGoals) map[string]any {
	goals := make([]map[string]any, 0, len(category.Goals))
	for _, goal := range category.Goals {
		goals = append(goals, map[string]any{"id": goal.ID, "status": goal.Status})
	}
	response := categoryJSON(category.Category)
	response["goals"] = goals
	return response
}

func goalJSON(goal store.Goal) map[string]any {
	return map[string]any{
		"id":          goal.ID,
		"categoryId":  goal.CategoryID,
		"title":       goal.Title,
		"description": nullableString(goal.Description),
		"status":      goal.Status,
		"priority":    goal.Priority,
		"targetDate":  goal.TargetDate,
		"createdAt":   goal.CreatedAt,
	}
}

func milestoneJSON(milestone store.Milestone) map[string]any {
	return map[string]any{
		"id":          milestone.ID,
		"goalId":      milestone.GoalID,
		"title":       milestone.Title,
		"notes":       nullableString(milestone.Notes),
		"dueDate":     milestone.DueDate,
		"status":      milestone.Status,
		"completedAt": milestone.CompletedAt,
		"createdAt":   milestone.CreatedAt,
	}
}

func taskJSON(task store.Task) map[string]any {
	return map[string]any{
		"id":          task.ID,
		"milestoneId": nullableString(task.MilestoneID),
		"title":       task.Title,
		"notes":       nullableString(task.Notes),
		"dueDate":     task.DueDate,
		"completed":   task.Completed,
		"completedAt": task.CompletedAt,
		"position":    task.Position,
		"createdAt":   task.CreatedAt,
	}
}

func taskWithContextJSON(task store.TaskWithContext) map[string]any {
	response := taskJSON(task.Task)
	if task.Context != nil {
		response["milestone"] = map[string]any{
			"title":        task.Context.MilestoneTitle,
			"goalId":       task.Context.GoalID,
			"goalTitle":    task.Context.GoalTitle,
			"goalPriority": task.Context.GoalPriority,
			"category": map[string]any{
				"name":  task.Context.CategoryName,
				"color": task.Context.CategoryColor,
			},
		}
	} else {
		response["milestone"] = nil
	}
	return response
}

func statsJSON(stats store.DashboardStats) map[string]any {
	return map[string]any{
		"totalGoals":          stats.TotalGoals,
		"completedGoals":      stats.CompletedGoals,
		"inProgressGoals":     stats.InProgressGoals,
		"totalMilestones":     stats.TotalMilestones,
		"completedMilestones": stats.CompletedMilestones,
		"completionRate":      stats.CompletionRate,
	}
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

// stringValue dereferences an optional string, treating absent as empty.
func stringValue(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}

func nonNilStrings(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
