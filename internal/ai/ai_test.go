package ai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestMockReplierDeterministic(t *testing.T) {
	m := MockReplier{}
	a, _ := m.GenerateReply(context.Background(), "t1", "c1", "where is my order?")
	b, _ := m.GenerateReply(context.Background(), "t1", "c1", "where is my order?")
	if a == "" || a != b {
		t.Fatalf("expected same non-empty reply, got %q and %q", a, b)
	}
	none, _ := m.GenerateReply(context.Background(), "t1", "c1", "I want to talk to a human")
	if none != "" {
		t.Fatalf("expected handoff (empty reply), got %q", none)
	}
}

func TestHTTPReplier(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/reply" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var body replyRequest
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body.ConversationID == "silent" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		_ = json.NewEncoder(w).Encode(replyResponse{Reply: " hello " + body.TenantID})
	}))
	defer srv.Close()

	h := HTTPReplier{BaseURL: srv.URL}
	got, err := h.GenerateReply(context.Background(), "t1", "c1", "hi")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "hello t1" {
		t.Fatalf("expected trimmed reply, got %q", got)
	}

	got, err = h.GenerateReply(context.Background(), "t1", "silent", "hi")
	if err != nil || got != "" {
		t.Fatalf("expected empty reply, got %q, %v", got, err)
	}
}

func TestOpenAICompatReplierSendsHistory(t *testing.T) {
	var seen int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Messages []ChatMessage `json:"messages"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		seen = len(body.Messages)
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"sure"}}]}`))
	}))
	defer srv.Close()

	a := OpenAICompatReplier{
		BaseURL: srv.URL,
		Model:   "test",
		History: func(ctx context.Context, conversationID string) ([]ChatMessage, error) {
			return []ChatMessage{{Role: "user", Content: "hi"}, {Role: "assistant", Content: "hello"}}, nil
		},
	}
	got, err := a.GenerateReply(context.Background(), "t1", "c1", "can you help?")
	if err != nil || got != "sure" {
		t.Fatalf("unexpected result %q, %v", got, err)
	}
	if seen != 4 {
		t.Fatalf("expected system + 2 history + user messages, got %d", seen)
	}
}

func TestOpenAICompatReplierRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "3")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	a := OpenAICompatReplier{BaseURL: srv.URL, Model: "test"}
	_, err := a.GenerateReply(context.Background(), "t1", "c1", "rate me")
	rl, ok := err.(RateLimitError)
	if !ok {
		t.Fatalf("expected RateLimitError, got %v", err)
	}
	if rl.RetryAfter.Seconds() != 3 {
		t.Fatalf("expected 3s retry, got %s", rl.RetryAfter)
	}
}
