package compact

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/jamesaphoenix/tx/internal/types"
)

func TestNewHaikuClient_RequiresAPIKey(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")

	_, err := newHaikuClient("")
	if err == nil {
		t.Fatal("expected error when API key is missing")
	}
	if !errors.Is(err, ErrAPIKeyRequired) {
		t.Fatalf("expected ErrAPIKeyRequired, got %v", err)
	}
}

func TestNewHaikuClient_EnvVarUsedWhenNoExplicitKey(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "test-key-from-env")

	client, err := newHaikuClient("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if client == nil {
		t.Fatal("expected non-nil client")
	}
}

func TestNewLLM_NoKeyReturnsNoop(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")

	llm := NewLLM("")
	if llm.Available() {
		t.Fatal("expected Noop when no API key is configured")
	}
	if _, _, err := llm.Summarize(context.Background(), nil); !errors.Is(err, ErrUnavailable) {
		t.Errorf("expected ErrUnavailable, got %v", err)
	}
	if _, err := llm.ExtractCandidates(context.Background(), "x"); !errors.Is(err, ErrUnavailable) {
		t.Errorf("expected ErrUnavailable, got %v", err)
	}
}

func TestNewLLM_WithKeyReturnsLive(t *testing.T) {
	llm := NewLLM("test-key")
	if !llm.Available() {
		t.Fatal("expected Live when an API key is given")
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"context canceled", context.Canceled, false},
		{"context deadline exceeded", context.DeadlineExceeded, false},
		{"generic error", errors.New("some error"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := isRetryable(tt.err)
			if got != tt.expected {
				t.Errorf("isRetryable(%v) = %v, want %v", tt.err, got, tt.expected)
			}
		})
	}
}

type mockTimeoutError struct {
	timeout bool
}

func (e *mockTimeoutError) Error() string   { return "mock timeout error" }
func (e *mockTimeoutError) Timeout() bool   { return e.timeout }
func (e *mockTimeoutError) Temporary() bool { return false }

var _ net.Error = (*mockTimeoutError)(nil)

func TestIsRetryable_NetworkTimeout(t *testing.T) {
	if !isRetryable(&mockTimeoutError{timeout: true}) {
		t.Error("network timeout error should be retryable")
	}
	if isRetryable(&mockTimeoutError{timeout: false}) {
		t.Error("non-timeout network error should not be retryable")
	}
}

func TestIsRetryable_APIErrors(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		expected   bool
	}{
		{"rate limit 429", 429, true},
		{"server error 500", 500, true},
		{"server error 503", 503, true},
		{"bad request 400", 400, false},
		{"unauthorized 401", 401, false},
		{"not found 404", 404, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			apiErr := &anthropic.Error{StatusCode: tt.statusCode}
			if got := isRetryable(apiErr); got != tt.expected {
				t.Errorf("isRetryable(API error %d) = %v, want %v", tt.statusCode, got, tt.expected)
			}
		})
	}
}

func mockAnthropicResponse(text string) map[string]interface{} {
	return map[string]interface{}{
		"id":          "msg_test123",
		"type":        "message",
		"role":        "assistant",
		"model":       "claude-haiku-4-5",
		"stop_reason": "end_turn",
		"usage": map[string]int{
			"input_tokens":  100,
			"output_tokens": 50,
		},
		"content": []map[string]interface{}{
			{"type": "text", "text": text},
		},
	}
}

func TestLive_Summarize_MockAPI(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "POST" {
			t.Errorf("expected POST, got %s", r.Method)
		}
		w.Header().Set("Content-Type", "application/json")
		resp := mockAnthropicResponse("A summary paragraph about the batch.\n\nLearnings:\n- always migrate first\n- watch for flaky tests")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	client, err := newHaikuClient("test-key", option.WithBaseURL(server.URL))
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	live := &Live{haikuClient: client}

	tasks := []*types.Task{{ID: "tx-aaa111", Title: "Fix login", Description: "OAuth was broken"}}
	summary, learnings, err := live.Summarize(context.Background(), tasks)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(summary, "summary paragraph") {
		t.Errorf("expected summary text, got %q", summary)
	}
	if len(learnings) != 2 {
		t.Fatalf("expected 2 learnings, got %d: %v", len(learnings), learnings)
	}
}

func TestLive_ExtractCandidates_CoercesInvalidFields(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		body := `[{"content":"always run migrations before tests","confidence":"high","category":"testing"},` +
			`{"content":"coerce these invalid fields","confidence":"nonsense","category":""},` +
			`{"content":"x","confidence":"low","category":"c"}]`
		_ = json.NewEncoder(w).Encode(mockAnthropicResponse(body))
	}))
	defer server.Close()

	client, err := newHaikuClient("test-key", option.WithBaseURL(server.URL))
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	live := &Live{haikuClient: client}

	candidates, err := live.ExtractCandidates(context.Background(), "transcript chunk")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// "x" is below the minimum content length and must be discarded.
	if len(candidates) != 2 {
		t.Fatalf("expected 2 surviving candidates, got %d: %+v", len(candidates), candidates)
	}
	if candidates[0].Confidence != types.ConfidenceHigh {
		t.Errorf("expected high confidence preserved, got %v", candidates[0].Confidence)
	}
	if candidates[1].Confidence != types.ConfidenceMedium {
		t.Errorf("expected invalid confidence coerced to medium, got %v", candidates[1].Confidence)
	}
	if candidates[1].Category != "other" {
		t.Errorf("expected empty category coerced to other, got %q", candidates[1].Category)
	}
}

func TestCallWithBackoff_RetriesOn429(t *testing.T) {
	var attempts int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempt := atomic.AddInt32(&attempts, 1)
		if attempt <= 2 {
			w.WriteHeader(http.StatusTooManyRequests)
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"type":  "error",
				"error": map[string]interface{}{"type": "rate_limit_error", "message": "Rate limited"},
			})
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(mockAnthropicResponse("Success after retries"))
	}))
	defer server.Close()

	client, err := newHaikuClient("test-key", option.WithBaseURL(server.URL), option.WithMaxRetries(0))
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}

	result, err := client.summarize(context.Background(), "test prompt")
	if err != nil {
		t.Fatalf("expected success after retries, got: %v", err)
	}
	if result != "Success after retries" {
		t.Errorf("expected 'Success after retries', got: %s", result)
	}
	if attempts != 3 {
		t.Errorf("expected 3 attempts, got: %d", attempts)
	}
}

func TestCallWithBackoff_NoRetryOn400(t *testing.T) {
	var attempts int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"type":  "error",
			"error": map[string]interface{}{"type": "invalid_request_error", "message": "Bad request"},
		})
	}))
	defer server.Close()

	client, err := newHaikuClient("test-key", option.WithBaseURL(server.URL), option.WithMaxRetries(0))
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}

	_, err = client.summarize(context.Background(), "test prompt")
	if err == nil {
		t.Fatal("expected error for bad request")
	}
	if attempts != 1 {
		t.Errorf("expected only 1 attempt for non-retryable error, got: %d", attempts)
	}
}

func TestCallWithBackoff_ContextTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(mockAnthropicResponse("too late"))
	}))
	defer server.Close()

	client, err := newHaikuClient("test-key", option.WithBaseURL(server.URL))
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err = client.summarize(ctx, "test prompt")
	if err == nil {
		t.Fatal("expected timeout error")
	}
}

func TestCallWithBackoff_EmptyContent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"id":      "msg_test123",
			"type":    "message",
			"role":    "assistant",
			"model":   "claude-haiku-4-5",
			"content": []map[string]interface{}{},
		})
	}))
	defer server.Close()

	client, err := newHaikuClient("test-key", option.WithBaseURL(server.URL))
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}

	_, err = client.summarize(context.Background(), "test prompt")
	if err == nil {
		t.Fatal("expected error for empty content")
	}
	if !strings.Contains(err.Error(), "no content blocks") {
		t.Errorf("expected 'no content blocks' error, got: %v", err)
	}
}

func TestSplitSummaryAndLearnings_NoLearningsHeader(t *testing.T) {
	summary, learnings, err := splitSummaryAndLearnings("just a plain summary, nothing else")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary != "just a plain summary, nothing else" {
		t.Errorf("unexpected summary: %q", summary)
	}
	if learnings != nil {
		t.Errorf("expected no learnings, got %v", learnings)
	}
}

func TestParseCandidates_InvalidJSONReturnsNil(t *testing.T) {
	if got := parseCandidates("not json"); got != nil {
		t.Errorf("expected nil for invalid JSON, got %v", got)
	}
}
