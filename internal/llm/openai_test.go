package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/skillstream/skillstream/internal/config"
)

func completionServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func TestOpenAIClient_complete(t *testing.T) {
	srv := completionServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("auth header = %q", got)
		}

		var req chatRequest
		json.NewDecoder(r.Body).Decode(&req)
		if len(req.Messages) != 2 {
			t.Errorf("messages = %d, want system + user", len(req.Messages))
		}
		if req.Messages[0].Role != "system" {
			t.Errorf("first role = %q, want system", req.Messages[0].Role)
		}

		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"content": `{"skills": []}`}},
			},
		})
	})

	c := NewOpenAIClient("test-key", "gpt-4o-mini", srv.URL, 5*time.Second)
	reply, err := c.Complete(context.Background(), CompletionRequest{
		System: "You are an interviewer.",
		Prompt: "Extract skills.",
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if reply != `{"skills": []}` {
		t.Errorf("reply = %q", reply)
	}
}

func TestOpenAIClient_retriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := completionServer(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"content": "ok"}},
			},
		})
	})

	c := NewOpenAIClient("k", "m", srv.URL, 5*time.Second)
	reply, err := c.Complete(context.Background(), CompletionRequest{Prompt: "p"})
	if err != nil {
		t.Fatalf("Complete after retries: %v", err)
	}
	if reply != "ok" {
		t.Errorf("reply = %q", reply)
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
}

func TestOpenAIClient_doesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := completionServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	})

	c := NewOpenAIClient("bad-key", "m", srv.URL, 5*time.Second)
	if _, err := c.Complete(context.Background(), CompletionRequest{Prompt: "p"}); err == nil {
		t.Fatal("expected error")
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1 (no retry on 401)", calls.Load())
	}
}

func TestOpenAIClient_emptyChoices(t *testing.T) {
	srv := completionServer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"choices": []any{}})
	})

	c := NewOpenAIClient("k", "m", srv.URL, 5*time.Second)
	if _, err := c.Complete(context.Background(), CompletionRequest{Prompt: "p"}); err == nil {
		t.Fatal("expected error for empty choices")
	}
}

func TestMockClient_scriptedResponses(t *testing.T) {
	m := NewMockClient("first", "second")
	m.Default = "fallback"

	ctx := context.Background()
	for i, want := range []string{"first", "second", "fallback"} {
		got, err := m.Complete(ctx, CompletionRequest{Prompt: "p"})
		if err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
		if got != want {
			t.Errorf("call %d = %q, want %q", i, got, want)
		}
	}
	if len(m.Calls) != 3 {
		t.Errorf("recorded calls = %d, want 3", len(m.Calls))
	}
}

func TestNew_providers(t *testing.T) {
	if _, err := New(config.LLMConfig{Provider: "mock"}); err != nil {
		t.Errorf("mock provider: %v", err)
	}

	t.Setenv("TEST_LLM_KEY", "sk-test")
	c, err := New(config.LLMConfig{Provider: "openai", APIKeyEnv: "TEST_LLM_KEY", Model: "gpt-4o-mini"})
	if err != nil {
		t.Fatalf("openai provider: %v", err)
	}
	if c.Provider() != "openai" {
		t.Errorf("provider = %q", c.Provider())
	}

	if _, err := New(config.LLMConfig{Provider: "wat"}); err == nil {
		t.Error("expected error for unknown provider")
	}

	if _, err := New(config.LLMConfig{Provider: "openai", APIKeyEnv: "TEST_LLM_KEY_MISSING"}); err == nil {
		t.Error("expected error when key env is unset")
	}
}
