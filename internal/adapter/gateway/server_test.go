package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"gridassist/internal/domain"
	"gridassist/internal/infra/config"
)

type stubService struct {
	resp *domain.AssistanceResponse
	err  error
	got  domain.AssistanceRequest
}

func (s *stubService) GetAssistance(_ context.Context, _ domain.DocumentStore, req domain.AssistanceRequest) (*domain.AssistanceResponse, error) {
	s.got = req
	if s.err != nil {
		return nil, s.err
	}
	return s.resp, nil
}

type stubDoc struct{ listErr error }

func (d *stubDoc) ApplyUserActions(context.Context, []domain.UserAction) (*domain.ApplyResult, error) {
	return &domain.ApplyResult{}, nil
}
func (d *stubDoc) ListTables(context.Context) ([]domain.TableMeta, error) { return nil, d.listErr }
func (d *stubDoc) GetTableColumns(context.Context, string) ([]domain.ColumnMeta, error) {
	return nil, nil
}
func (d *stubDoc) ListPages(context.Context) ([]domain.PageMeta, error)        { return nil, nil }
func (d *stubDoc) ListWidgets(context.Context, int64) ([]domain.WidgetMeta, error) { return nil, nil }
func (d *stubDoc) QueryReadOnly(context.Context, string, []any) ([]domain.Row, error) {
	return nil, nil
}

func newTestServer(service *stubService, rl config.RateLimitConfig) *Server {
	return NewServer(service, &stubDoc{}, config.GatewayConfig{
		Addr:      "127.0.0.1:0",
		RateLimit: rl,
	}, nil)
}

func postAssistant(t *testing.T, handler http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/assistant", strings.NewReader(body))
	handler.ServeHTTP(rec, req)
	return rec
}

func TestHandleAssistant(t *testing.T) {
	service := &stubService{resp: &domain.AssistanceResponse{
		Reply:                "Add the column?",
		ConfirmationRequired: true,
		State:                domain.ConversationState{ConversationID: "conv-1"},
	}}
	server := newTestServer(service, config.RateLimitConfig{})
	handler := server.Handler()

	rec := postAssistant(t, handler, `{"text": "add a column", "view_id": "Tasks"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}

	var resp domain.AssistanceResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Reply != "Add the column?" || !resp.ConfirmationRequired {
		t.Errorf("resp = %+v", resp)
	}
	if service.got.Context.ViewID != "Tasks" {
		t.Errorf("ViewID = %q, want Tasks", service.got.Context.ViewID)
	}

	// Bad requests.
	if rec := postAssistant(t, handler, `{}`); rec.Code != http.StatusBadRequest {
		t.Errorf("empty text status = %d, want 400", rec.Code)
	}
	if rec := postAssistant(t, handler, `not json`); rec.Code != http.StatusBadRequest {
		t.Errorf("bad json status = %d, want 400", rec.Code)
	}

	getRec := httptest.NewRecorder()
	handler.ServeHTTP(getRec, httptest.NewRequest(http.MethodGet, "/assistant", nil))
	if getRec.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET status = %d, want 405", getRec.Code)
	}
}

func TestHandleAssistant_ErrorMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   domain.ErrorCode
	}{
		{fmt.Errorf("wrap: %w", domain.ErrTokensExceededFirst), http.StatusRequestEntityTooLarge, domain.CodeContextOverflow},
		{fmt.Errorf("wrap: %w", domain.ErrTokensExceededLater), http.StatusRequestEntityTooLarge, domain.CodeContextOverflow},
		{fmt.Errorf("wrap: %w", domain.ErrQuotaExceeded), http.StatusPaymentRequired, domain.CodeQuotaExceeded},
		{fmt.Errorf("wrap: %w", domain.ErrRetryExhausted), http.StatusServiceUnavailable, domain.CodeRetryExhausted},
		{domain.NewDomainError("op", domain.ErrMaxToolCalls, "x"), http.StatusUnprocessableEntity, domain.CodeMaxToolCalls},
	}
	for _, tc := range cases {
		service := &stubService{err: tc.err}
		server := newTestServer(service, config.RateLimitConfig{})
		rec := postAssistant(t, server.Handler(), `{"text": "hi"}`)
		if rec.Code != tc.status {
			t.Errorf("%v: status = %d, want %d", tc.err, rec.Code, tc.status)
		}
		var resp errorResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode error response: %v", err)
		}
		if resp.Code != tc.code {
			t.Errorf("%v: code = %q, want %q", tc.err, resp.Code, tc.code)
		}
		// Raw upstream detail must not leak to the client.
		if strings.Contains(resp.Error, "wrap:") {
			t.Errorf("%v: error %q leaks internals", tc.err, resp.Error)
		}
	}
}

func TestHandleAssistant_RateLimitPerConversation(t *testing.T) {
	service := &stubService{resp: &domain.AssistanceResponse{Reply: "ok"}}
	server := newTestServer(service, config.RateLimitConfig{RPS: 0.001, Burst: 2})
	handler := server.Handler()

	for i := 0; i < 2; i++ {
		if rec := postAssistant(t, handler, `{"text": "hi", "conversation_id": "a"}`); rec.Code != http.StatusOK {
			t.Fatalf("request %d status = %d", i, rec.Code)
		}
	}
	if rec := postAssistant(t, handler, `{"text": "hi", "conversation_id": "a"}`); rec.Code != http.StatusTooManyRequests {
		t.Errorf("burst-exceeding status = %d, want 429", rec.Code)
	}

	// A different conversation has its own bucket.
	if rec := postAssistant(t, handler, `{"text": "hi", "conversation_id": "b"}`); rec.Code != http.StatusOK {
		t.Errorf("other conversation status = %d, want 200", rec.Code)
	}
}

func TestLimiterMapStaysBounded(t *testing.T) {
	service := &stubService{resp: &domain.AssistanceResponse{Reply: "ok"}}
	server := newTestServer(service, config.RateLimitConfig{RPS: 1, Burst: 5})
	server.limiterCap = 2
	handler := server.Handler()

	for _, id := range []string{"a", "b", "c", "d"} {
		if rec := postAssistant(t, handler, `{"text": "hi", "conversation_id": "`+id+`"}`); rec.Code != http.StatusOK {
			t.Fatalf("conversation %s status = %d", id, rec.Code)
		}
	}

	server.limitersMu.Lock()
	defer server.limitersMu.Unlock()
	if len(server.limiters) > 2 {
		t.Errorf("limiter map has %d entries, cap is 2", len(server.limiters))
	}
	// The most recent conversation survives eviction.
	if _, ok := server.limiters["d"]; !ok {
		t.Error("most recently seen conversation was evicted")
	}
}

func TestHandleHealthzAndMetrics(t *testing.T) {
	service := &stubService{resp: &domain.AssistanceResponse{Reply: "ok"}}
	server := newTestServer(service, config.RateLimitConfig{})
	handler := server.Handler()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("healthz status = %d", rec.Code)
	}

	postAssistant(t, handler, `{"text": "hi"}`)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics status = %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "gridassist_requests_total 1") {
		t.Errorf("metrics body missing request counter:\n%s", body)
	}
	if !strings.Contains(body, "# TYPE gridassist_requests_total counter") {
		t.Error("metrics body missing TYPE line")
	}
}

func TestHandleHealthz_Degraded(t *testing.T) {
	server := NewServer(&stubService{}, &stubDoc{listErr: fmt.Errorf("db locked")}, config.GatewayConfig{}, nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}
