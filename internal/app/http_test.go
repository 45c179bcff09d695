package app

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func authedRequest(t *testing.T, svc *Service, fs *fakeStore, method, path, body string) *http.Request {
	t.Helper()
	sess := seedUser(fs, "usr_1", "Avery")
	issued, err := svc.CreateSession(context.Background(), fs.users[sess.UserID])
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+issued.Token)
	return req
}

func decodeResponse(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("parse response: %v body=%s", err, rr.Body.String())
	}
	return payload
}

func TestHealthEndpoint(t *testing.T) {
	server := NewHTTPServer(newTestService(newFakeStore()), "*")
	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rr := httptest.NewRecorder()

	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Fatalf("expected request id header")
	}
}

func TestProtectedRoutesRequireBearer(t *testing.T) {
	server := NewHTTPServer(newTestService(newFakeStore()), "*")

	for _, path := range []string{"/api/goals", "/api/tasks/today", "/api/stats", "/api/profile"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rr := httptest.NewRecorder()
		server.Handler().ServeHTTP(rr, req)
		if rr.Code != http.StatusUnauthorized {
			t.Fatalf("%s: expected 401, got %d", path, rr.Code)
		}
	}
}

func TestExpiredTokenRejected(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	svc.cfg.AccessTTL = -time.Minute
	server := NewHTTPServer(svc, "*")

	req := authedRequest(t, svc, fs, http.MethodGet, "/api/goals", "")
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for expired token, got %d", rr.Code)
	}
}

func TestSignUpReturnsSessionContract(t *testing.T) {
	fs := newFakeStore()
	server := NewHTTPServer(newTestService(fs), "*")

	req := httptest.NewRequest(http.MethodPost, "/api/auth/signup",
		bytes.NewBufferString(`{"name":"Avery","email":"avery@example.com","password":"correct horse"}`))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()

	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d body=%s", rr.Code, rr.Body.String())
	}
	payload := decodeResponse(t, rr)
	if payload["accessToken"] == "" || payload["refreshToken"] == "" {
		t.Fatalf("expected token pair, got %v", payload)
	}
	if payload["userName"] != "Avery" {
		t.Fatalf("expected userName Avery, got %v", payload["userName"])
	}
}

func TestSignUpDuplicateEmailConflicts(t *testing.T) {
	fs := newFakeStore()
	server := NewHTTPServer(newTestService(fs), "*")
	body := `{"name":"Avery","email":"avery@example.com","password":"correct horse"}`

	for i, want := range []int{http.StatusCreated, http.StatusConflict} {
		req := httptest.NewRequest(http.MethodPost, "/api/auth/signup", bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
		rr := httptest.NewRecorder()
		server.Handler().ServeHTTP(rr, req)
		if rr.Code != want {
			t.Fatalf("attempt %d: expected %d, got %d body=%s", i, want, rr.Code, rr.Body.String())
		}
	}
}

func TestSignInWrongPassword(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	server := NewHTTPServer(svc, "*")

	signup := httptest.NewRequest(http.MethodPost, "/api/auth/signup",
		bytes.NewBufferString(`{"name":"Avery","email":"avery@example.com","password":"correct horse"}`))
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, signup)
	if rr.Code != http.StatusCreated {
		t.Fatalf("signup failed: %d", rr.Code)
	}

	signin := httptest.NewRequest(http.MethodPost, "/api/auth/signin",
		bytes.NewBufferString(`{"email":"avery@example.com","password":"wrong"}`))
	rr = httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, signin)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
	payload := decodeResponse(t, rr)
	if payload["code"] != "INVALID_CREDENTIALS" {
		t.Fatalf("expected INVALID_CREDENTIALS, got %v", payload)
	}
}

func TestTaskActionRendersEnvelopeNotHTTPError(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	server := NewHTTPServer(svc, "*")

	req := authedRequest(t, svc, fs, http.MethodPost, "/api/tasks", `{"title":"   "}`)
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("action failures ship inside the envelope, got status %d", rr.Code)
	}
	payload := decodeResponse(t, rr)
	if payload["success"] != false || payload["error"] != "Title is required" {
		t.Fatalf("unexpected envelope %v", payload)
	}
}

func TestTaskCreateEnvelopeSuccess(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	server := NewHTTPServer(svc, "*")

	req := authedRequest(t, svc, fs, http.MethodPost, "/api/tasks", `{"title":"Water the plants"}`)
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	payload := decodeResponse(t, rr)
	if payload["success"] != true {
		t.Fatalf("expected success, got %v", payload)
	}
	task, ok := payload["task"].(map[string]any)
	if !ok || task["title"] != "Water the plants" {
		t.Fatalf("expected task payload, got %v", payload)
	}
}

func TestGoalNotFoundIsHTTPError(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	server := NewHTTPServer(svc, "*")

	req := authedRequest(t, svc, fs, http.MethodGet, "/api/goals/goal_missing", "")
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("CRUD failures keep HTTP statuses, got %d", rr.Code)
	}
	payload := decodeResponse(t, rr)
	if payload["code"] != "NOT_FOUND" || payload["error"] != "Goal not found" {
		t.Fatalf("unexpected error body %v", payload)
	}
}

func TestAIStatusEndpoint(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	svc.ai = &fakeAI{available: true}
	server := NewHTTPServer(svc, "*")

	req := authedRequest(t, svc, fs, http.MethodGet, "/api/ai/status", "")
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	payload := decodeResponse(t, rr)
	if payload["available"] != true {
		t.Fatalf("expected available, got %v", payload)
	}
	if remaining, ok := payload["remainingCalls"].(float64); !ok || remaining != 10 {
		t.Fatalf("expected 10 remaining calls, got %v", payload["remainingCalls"])
	}
}

func TestAIMilestonesEnvelope(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	svc.ai = &fakeAI{available: false}
	server := NewHTTPServer(svc, "*")

	req := authedRequest(t, svc, fs, http.MethodPost, "/api/ai/milestones", `{"goalId":"goal_x"}`)
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 envelope, got %d", rr.Code)
	}
	payload := decodeResponse(t, rr)
	if payload["success"] != false {
		t.Fatalf("expected failure envelope, got %v", payload)
	}
	if payload["error"] != "AI features are not available. Please configure GOOGLE_AI_API_KEY." {
		t.Fatalf("unexpected error %v", payload["error"])
	}
}

func TestProfileRoundTripOverHTTP(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	server := NewHTTPServer(svc, "*")

	put := authedRequest(t, svc, fs, http.MethodPut, "/api/profile",
		`{"currentRole":"Engineer","yearsExperience":6,"skills":["Go"],"bio":"Hi"}`)
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, put)
	if rr.Code != http.StatusOK {
		t.Fatalf("put profile: %d body=%s", rr.Code, rr.Body.String())
	}

	issued, _ := svc.CreateSession(context.Background(), fs.users["usr_1"])
	get := httptest.NewRequest(http.MethodGet, "/api/profile", nil)
	get.Header.Set("Authorization", "Bearer "+issued.Token)
	rr = httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, get)
	if rr.Code != http.StatusOK {
		t.Fatalf("get profile: %d body=%s", rr.Code, rr.Body.String())
	}
	payload := decodeResponse(t, rr)
	profile, ok := payload["profile"].(map[string]any)
	if !ok {
		t.Fatalf("expected profile object, got %v", payload)
	}
	if profile["currentRole"] != "Engineer" || profile["bio"] != "Hi" {
		t.Fatalf("unexpected profile %v", profile)
	}
}

func TestSessionRefreshEndpoint(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	server := NewHTTPServer(svc, "*")
	sess := seedUser(fs, "usr_1", "Avery")
	issued, err := svc.CreateSession(context.Background(), fs.users[sess.UserID])
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	body, _ := json.Marshal(map[string]string{"refreshToken": issued.RefreshToken})
	req := httptest.NewRequest(http.MethodPost, "/api/session/refresh", bytes.NewBuffer(body))
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	payload := decodeResponse(t, rr)
	if payload["refreshToken"] == issued.RefreshToken {
		t.Fatalf("expected rotated refresh token")
	}

	// Consumed token cannot be replayed.
	req = httptest.NewRequest(http.MethodPost, "/api/session/refresh", bytes.NewBuffer(body))
	rr = httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 replay, got %d", rr.Code)
	}
}

func TestSearchRequiresQuery(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	server := NewHTTPServer(svc, "*")

	req := authedRequest(t, svc, fs, http.MethodGet, "/api/search?q=", "")
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	payload := decodeResponse(t, rr)
	results, ok := payload["results"].([]any)
	if !ok || len(results) != 0 {
		t.Fatalf("expected empty results for blank query, got %v", payload)
	}
}
