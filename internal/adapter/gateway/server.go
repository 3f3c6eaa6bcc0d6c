// Package gateway exposes the assistant over HTTP: one assistance endpoint
// plus health and metrics, with per-conversation rate limiting.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"gridassist/internal/domain"
	"gridassist/internal/infra/config"
)

// AssistanceService is the use case the gateway fronts.
type AssistanceService interface {
	GetAssistance(ctx context.Context, doc domain.DocumentStore, req domain.AssistanceRequest) (*domain.AssistanceResponse, error)
}

// Metrics holds the gateway's atomic counters, exported on /metrics.
type Metrics struct {
	RequestsTotal    atomic.Int64
	RequestErrors    atomic.Int64
	RateLimited      atomic.Int64
	ActionsApplied   atomic.Int64
	ConfirmationsReq atomic.Int64
}

// Server is the HTTP gateway.
type Server struct {
	service   AssistanceService
	doc       domain.DocumentStore
	logger    *slog.Logger
	addr      string
	rateCfg   config.RateLimitConfig
	metrics   *Metrics
	startTime time.Time

	limitersMu sync.Mutex
	limiters   map[string]*limiterEntry
	limiterCap int

	httpSrv   *http.Server
	boundAddr string
}

// limiterEntry tracks when a conversation's limiter was last used so idle
// entries can be evicted.
type limiterEntry struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// maxLimiters caps the per-conversation limiter map; the least recently
// used entry is evicted when a new conversation would exceed it.
const maxLimiters = 1024

// NewServer creates a gateway server.
func NewServer(service AssistanceService, doc domain.DocumentStore, cfg config.GatewayConfig, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Server{
		service:    service,
		doc:        doc,
		logger:     logger,
		addr:       cfg.Addr,
		rateCfg:    cfg.RateLimit,
		metrics:    &Metrics{},
		startTime:  time.Now(),
		limiters:   make(map[string]*limiterEntry),
		limiterCap: maxLimiters,
	}
}

// Handler builds the gateway's HTTP mux. Exposed for tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/assistant", s.handleAssistant)
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/metrics", s.handleMetrics)
	return mux
}

// Start begins serving. Blocks until the context is cancelled, then shuts
// down gracefully.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("gateway listen: %w", err)
	}
	s.boundAddr = listener.Addr().String()
	s.httpSrv = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.httpSrv.Serve(listener)
	}()
	s.logger.Info("gateway listening", "addr", s.boundAddr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// BoundAddr returns the actual listen address once Start has bound it.
func (s *Server) BoundAddr() string { return s.boundAddr }

// limiterFor returns the rate limiter for a conversation, creating it on
// first use. An empty id shares the anonymous bucket. The map is capped:
// inserting past the cap evicts the least recently used conversation.
func (s *Server) limiterFor(conversationID string) *rate.Limiter {
	s.limitersMu.Lock()
	defer s.limitersMu.Unlock()

	entry, ok := s.limiters[conversationID]
	if !ok {
		if len(s.limiters) >= s.limiterCap {
			s.evictOldestLimiter()
		}
		entry = &limiterEntry{lim: rate.NewLimiter(rate.Limit(s.rateCfg.RPS), s.rateCfg.Burst)}
		s.limiters[conversationID] = entry
	}
	entry.lastSeen = time.Now()
	return entry.lim
}

// evictOldestLimiter removes the least recently seen entry. Callers hold
// limitersMu. The linear scan is fine at the cap size.
func (s *Server) evictOldestLimiter() {
	var oldestID string
	var oldest time.Time
	for id, entry := range s.limiters {
		if oldestID == "" || entry.lastSeen.Before(oldest) {
			oldestID = id
			oldest = entry.lastSeen
		}
	}
	delete(s.limiters, oldestID)
}

type assistantRequest struct {
	Text           string                    `json:"text"`
	ConversationID string                    `json:"conversation_id,omitempty"`
	ViewID         string                    `json:"view_id,omitempty"`
	State          *domain.ConversationState `json:"state,omitempty"`
}

type errorResponse struct {
	Error string           `json:"error"`
	Code  domain.ErrorCode `json:"code"`
	Retry bool             `json:"retry,omitempty"`
}

func (s *Server) handleAssistant(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.metrics.RequestsTotal.Add(1)

	var req assistantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.metrics.RequestErrors.Add(1)
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body", Code: domain.CodeInvalidArguments})
		return
	}
	if req.Text == "" {
		s.metrics.RequestErrors.Add(1)
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "text is required", Code: domain.CodeInvalidArguments})
		return
	}

	convID := req.ConversationID
	if convID == "" && req.State != nil {
		convID = req.State.ConversationID
	}
	if s.rateCfg.RPS > 0 && !s.limiterFor(convID).Allow() {
		s.metrics.RateLimited.Add(1)
		writeJSON(w, http.StatusTooManyRequests, errorResponse{Error: "too many requests for this conversation", Code: domain.CodeRateLimit, Retry: true})
		return
	}

	resp, err := s.service.GetAssistance(r.Context(), s.doc, domain.AssistanceRequest{
		Text:           req.Text,
		ConversationID: convID,
		Context:        domain.AssistanceContext{ViewID: req.ViewID},
		State:          req.State,
	})
	if err != nil {
		s.metrics.RequestErrors.Add(1)
		s.writeAssistanceError(w, err)
		return
	}

	s.metrics.ActionsApplied.Add(int64(len(resp.AppliedActions)))
	if resp.ConfirmationRequired {
		s.metrics.ConfirmationsReq.Add(1)
	}
	writeJSON(w, http.StatusOK, resp)
}

// writeAssistanceError maps loop errors to HTTP statuses. The raw error
// text stays in the log; clients get a stable generic message plus a code.
func (s *Server) writeAssistanceError(w http.ResponseWriter, err error) {
	code := domain.ErrorCodeOf(err)
	s.logger.Error("assistance request failed", "code", code, "error", err)

	status := http.StatusInternalServerError
	msg := "the assistant could not complete the request"
	switch {
	case errors.Is(err, domain.ErrTokensExceededFirst):
		status = http.StatusRequestEntityTooLarge
		msg = "the message is too long for the assistant"
	case errors.Is(err, domain.ErrContextOverflow):
		status = http.StatusRequestEntityTooLarge
		msg = "the conversation is too long; start a new one"
	case errors.Is(err, domain.ErrQuotaExceeded):
		status = http.StatusPaymentRequired
		msg = "the assistant is out of capacity"
	case errors.Is(err, domain.ErrRateLimit), errors.Is(err, domain.ErrRetryExhausted):
		status = http.StatusServiceUnavailable
		msg = "the assistant is temporarily unavailable, try again"
	case errors.Is(err, domain.ErrMaxToolCalls):
		status = http.StatusUnprocessableEntity
		msg = "the assistant could not finish the request"
	}
	writeJSON(w, status, errorResponse{Error: msg, Code: code, Retry: domain.IsRetryableError(err)})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	// The document store answering a metadata read is the liveness signal.
	if _, err := s.doc.ListTables(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
