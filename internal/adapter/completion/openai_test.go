package completion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"gridassist/internal/domain"
	"gridassist/internal/infra/config"
)

// envelopeBody builds a one-choice response carrying the structured reply.
func envelopeBody(content, finishReason string) string {
	body, _ := json.Marshal(map[string]any{
		"id":    "chatcmpl-1",
		"model": "gpt-4o",
		"choices": []map[string]any{{
			"message":       map[string]any{"role": "assistant", "content": content},
			"finish_reason": finishReason,
		}},
		"usage": map[string]any{"prompt_tokens": 12, "completion_tokens": 5, "total_tokens": 17},
	})
	return string(body)
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewClient(config.CompletionConfig{
		BaseURL: server.URL,
		APIKey:  "test-key",
		Model:   "gpt-4o",
	}, nil)
}

func userTurn(text string) domain.CompletionRequest {
	return domain.CompletionRequest{Messages: []domain.Message{
		{Role: domain.RoleSystem, Content: "You are a helpful assistant."},
		{Role: domain.RoleUser, Content: text},
	}}
}

func TestClient_CompleteParsesEnvelope(t *testing.T) {
	var gotReq wireRequest
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("unexpected auth: %s", r.Header.Get("Authorization"))
		}
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decode request: %v", err)
		}
		fmt.Fprint(w, envelopeBody(`{"response_text": "There are 3 tables.", "confirmation_required": false}`, "stop"))
	})

	result, err := client.Complete(context.Background(), userTurn("How many tables?"))
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if result.ReplyText != "There are 3 tables." {
		t.Errorf("ReplyText = %q", result.ReplyText)
	}
	if result.ConfirmationRequired {
		t.Error("ConfirmationRequired should be false")
	}
	if result.FinishReason != domain.FinishStop {
		t.Errorf("FinishReason = %q, want stop", result.FinishReason)
	}
	if result.Usage.TotalTokens != 17 {
		t.Errorf("TotalTokens = %d, want 17", result.Usage.TotalTokens)
	}

	// The request is pinned to deterministic settings.
	if gotReq.Temperature != 0 {
		t.Errorf("Temperature = %v, want 0", gotReq.Temperature)
	}
	if gotReq.ResponseFormat == nil || gotReq.ResponseFormat.Type != "json_schema" {
		t.Error("request should carry the json_schema response format")
	}
}

func TestClient_CompleteParsesFirstLineOnly(t *testing.T) {
	// Some models echo the envelope twice with a trailing newline.
	content := `{"response_text": "Done.", "confirmation_required": true}` + "\n" +
		`{"response_text": "Done.", "confirmation_required": true}`
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, envelopeBody(content, "stop"))
	})

	result, err := client.Complete(context.Background(), userTurn("Add the column."))
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if result.ReplyText != "Done." {
		t.Errorf("ReplyText = %q, want %q", result.ReplyText, "Done.")
	}
	if !result.ConfirmationRequired {
		t.Error("ConfirmationRequired should be true")
	}
}

func TestClient_CompleteNonEnvelopeContent(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, envelopeBody("plain text reply", "stop"))
	})

	result, err := client.Complete(context.Background(), userTurn("hi"))
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if result.ReplyText != "plain text reply" {
		t.Errorf("ReplyText = %q", result.ReplyText)
	}
}

func TestClient_CompleteToolCalls(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ := json.Marshal(map[string]any{
			"choices": []map[string]any{{
				"message": map[string]any{
					"role": "assistant",
					"tool_calls": []map[string]any{{
						"id":   "call_1",
						"type": "function",
						"function": map[string]any{
							"name":      "get_tables",
							"arguments": "{}",
						},
					}},
				},
				"finish_reason": "tool_calls",
			}},
		})
		w.Write(body)
	})

	result, err := client.Complete(context.Background(), userTurn("list tables"))
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if result.FinishReason != domain.FinishToolCalls {
		t.Errorf("FinishReason = %q, want tool_calls", result.FinishReason)
	}
	if len(result.ToolCalls) != 1 || result.ToolCalls[0].Name != "get_tables" {
		t.Fatalf("ToolCalls = %+v", result.ToolCalls)
	}
	if len(result.Message.ToolCalls) != 1 {
		t.Error("history message should carry the tool calls")
	}
}

func TestClient_CompleteRefusal(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ := json.Marshal(map[string]any{
			"choices": []map[string]any{{
				"message": map[string]any{
					"role":    "assistant",
					"refusal": "I can't help with that.",
				},
				"finish_reason": "stop",
			}},
		})
		w.Write(body)
	})

	result, err := client.Complete(context.Background(), userTurn("do something bad"))
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if !result.Refusal {
		t.Error("Refusal should be true")
	}
	if result.ReplyText != "I can't help with that." {
		t.Errorf("ReplyText = %q", result.ReplyText)
	}
	if result.ConfirmationRequired {
		t.Error("refusals never require confirmation")
	}
}

func contextLengthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusBadRequest)
	fmt.Fprint(w, `{"error": {"code": "context_length_exceeded", "message": "too many tokens"}}`)
}

func TestClient_ContextOverflowFirstVsLater(t *testing.T) {
	client := newTestClient(t, contextLengthHandler)

	// A system prompt plus one user message is a first turn.
	_, err := client.Complete(context.Background(), userTurn("very long text"))
	if !errors.Is(err, domain.ErrTokensExceededFirst) {
		t.Errorf("first-turn err = %v, want ErrTokensExceededFirst", err)
	}

	longReq := domain.CompletionRequest{Messages: []domain.Message{
		{Role: domain.RoleSystem, Content: "sys"},
		{Role: domain.RoleUser, Content: "one"},
		{Role: domain.RoleAssistant, Content: "two"},
		{Role: domain.RoleUser, Content: "three"},
	}}
	_, err = client.Complete(context.Background(), longReq)
	if !errors.Is(err, domain.ErrTokensExceededLater) {
		t.Errorf("later-turn err = %v, want ErrTokensExceededLater", err)
	}
	if !errors.Is(err, domain.ErrContextOverflow) {
		t.Error("both overflow kinds must match ErrContextOverflow")
	}
}

func TestClient_QuotaAndAuthErrors(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error": {"code": "insufficient_quota", "message": "quota exhausted"}}`)
	})
	_, err := client.Complete(context.Background(), userTurn("hi"))
	if !errors.Is(err, domain.ErrQuotaExceeded) {
		t.Errorf("err = %v, want ErrQuotaExceeded", err)
	}
	// A quota 429 must not look like an ordinary rate limit.
	if errors.Is(err, domain.ErrRateLimit) {
		t.Error("quota error must not match ErrRateLimit")
	}

	client = newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error": {"message": "bad key"}}`)
	})
	_, err = client.Complete(context.Background(), userTurn("hi"))
	if !errors.Is(err, domain.ErrAuthInvalid) {
		t.Errorf("err = %v, want ErrAuthInvalid", err)
	}
}

func TestRetryingClient_RetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, envelopeBody(`{"response_text": "ok", "confirmation_required": false}`, "stop"))
	})

	var slept []time.Duration
	retrying := NewRetryingClient(client, RetryPolicy{
		MaxAttempts: 3,
		Backoff:     time.Second,
		Sleep: func(_ context.Context, d time.Duration) error {
			slept = append(slept, d)
			return nil
		},
	}, nil)

	result, err := retrying.Complete(context.Background(), userTurn("hi"))
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if result.ReplyText != "ok" {
		t.Errorf("ReplyText = %q", result.ReplyText)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("backend calls = %d, want 3", got)
	}
	if len(slept) != 2 || slept[0] != time.Second || slept[1] != time.Second {
		t.Errorf("slept = %v, want two fixed 1s pauses", slept)
	}
}

func TestRetryingClient_ExhaustionAndNonRetryable(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	})
	retrying := NewRetryingClient(client, RetryPolicy{
		MaxAttempts: 3,
		Backoff:     time.Second,
		Sleep:       func(context.Context, time.Duration) error { return nil },
	}, nil)

	_, err := retrying.Complete(context.Background(), userTurn("hi"))
	if !errors.Is(err, domain.ErrRetryExhausted) {
		t.Errorf("err = %v, want ErrRetryExhausted", err)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("backend calls = %d, want exactly 3", got)
	}
	if !domain.IsRetryableError(err) {
		t.Error("retry exhaustion should read as retryable to the caller")
	}

	// Quota errors pass through without a single retry.
	calls.Store(0)
	quotaClient := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error": {"code": "insufficient_quota", "message": "out of credits"}}`)
	})
	retrying = NewRetryingClient(quotaClient, RetryPolicy{
		MaxAttempts: 3,
		Backoff:     time.Second,
		Sleep:       func(context.Context, time.Duration) error { return nil },
	}, nil)
	_, err = retrying.Complete(context.Background(), userTurn("hi"))
	if !errors.Is(err, domain.ErrQuotaExceeded) {
		t.Errorf("err = %v, want ErrQuotaExceeded", err)
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("backend calls = %d, want 1 (no retries)", got)
	}
}

func TestLongContextClient_FallsBackOnce(t *testing.T) {
	var models []string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req wireRequest
		json.NewDecoder(r.Body).Decode(&req)
		models = append(models, req.Model)
		if req.Model != "gpt-4-32k" {
			contextLengthHandler(w, r)
			return
		}
		fmt.Fprint(w, envelopeBody(`{"response_text": "recovered", "confirmation_required": false}`, "stop"))
	})

	fallback := NewLongContextClient(client, "gpt-4-32k", nil)
	result, err := fallback.Complete(context.Background(), userTurn("huge prompt"))
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if result.ReplyText != "recovered" {
		t.Errorf("ReplyText = %q", result.ReplyText)
	}
	if len(models) != 2 || models[0] != "gpt-4o" || models[1] != "gpt-4-32k" {
		t.Errorf("models tried = %v, want [gpt-4o gpt-4-32k]", models)
	}
}

func TestLongContextClient_NoSecondFallback(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		contextLengthHandler(w, r)
	})

	fallback := NewLongContextClient(client, "gpt-4-32k", nil)
	_, err := fallback.Complete(context.Background(), userTurn("huge prompt"))
	if !errors.Is(err, domain.ErrContextOverflow) {
		t.Errorf("err = %v, want ErrContextOverflow", err)
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("backend calls = %d, want exactly 2 (one fallback)", got)
	}
}

func TestCircuitBreakerClient_OpensAfterFailures(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	})
	breaker := NewCircuitBreakerClient(client, config.BreakerConfig{
		MaxFailures: 2,
		Timeout:     time.Minute,
	}, nil)

	for i := 0; i < 2; i++ {
		if _, err := breaker.Complete(context.Background(), userTurn("hi")); err == nil {
			t.Fatal("expected failure")
		}
	}
	backendCalls := calls.Load()

	// Circuit is open now; the backend is no longer reached.
	_, err := breaker.Complete(context.Background(), userTurn("hi"))
	if err == nil {
		t.Fatal("expected circuit-open failure")
	}
	if calls.Load() != backendCalls {
		t.Error("open circuit should fail fast without calling the backend")
	}
}

func TestCircuitBreakerClient_IgnoresRequestShapedFailures(t *testing.T) {
	client := newTestClient(t, contextLengthHandler)
	breaker := NewCircuitBreakerClient(client, config.BreakerConfig{
		MaxFailures: 2,
		Timeout:     time.Minute,
	}, nil)

	for i := 0; i < 5; i++ {
		if _, err := breaker.Complete(context.Background(), userTurn("hi")); !errors.Is(err, domain.ErrContextOverflow) {
			t.Fatalf("call %d: err = %v, want ErrContextOverflow (circuit must stay closed)", i, err)
		}
	}
}
