package ai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestCompleteReturnsFirstCandidate(t *testing.T) {
	var gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		var req generateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if len(req.Contents) != 1 || req.Contents[0].Parts[0].Text != "hello" {
			t.Errorf("unexpected request contents: %+v", req.Contents)
		}
		if req.GenerationConfig.ResponseMIMEType != "application/json" {
			t.Errorf("response mime type = %q", req.GenerationConfig.ResponseMIMEType)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"candidates": []map[string]any{
				{"content": map[string]any{"parts": []map[string]any{{"text": `["a","b"]`}}}},
			},
		})
	}))
	defer server.Close()

	client := NewGeminiClient(server.URL, "test-key", "gemini-2.5-flash", 5*time.Second)
	text, err := client.Complete(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if text != `["a","b"]` {
		t.Fatalf("text = %q", text)
	}
	if !strings.Contains(gotPath, "gemini-2.5-flash:generateContent") {
		t.Fatalf("unexpected path %q", gotPath)
	}
}

func TestCompleteWithoutKey(t *testing.T) {
	client := NewGeminiClient("http://localhost", "", "gemini-2.5-flash", time.Second)
	if client.Available() {
		t.Fatal("expected unavailable without key")
	}
	if _, err := client.Complete(context.Background(), "hi"); err != ErrUnavailable {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
}

func TestCompleteSurfacesServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"quota exceeded"}}`, http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := NewGeminiClient(server.URL, "test-key", "gemini-2.5-flash", 5*time.Second)
	if _, err := client.Complete(context.Background(), "hi"); err == nil {
		t.Fatal("expected error on 429")
	}
}

func TestCompleteRejectsEmptyCandidates(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"candidates":[]}`))
	}))
	defer server.Close()

	client := NewGeminiClient(server.URL, "test-key", "gemini-2.5-flash", 5*time.Second)
	if _, err := client.Complete(context.Background(), "hi"); err == nil {
		t.Fatal("expected error on empty candidates")
	}
}
