// Package completion implements the OpenAI-compatible chat-completions
// client the assistant talks to, together with its retry, model-fallback
// and circuit-breaker wrappers. All wrappers satisfy domain.CompletionClient
// so they compose in any order.
package completion

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"gridassist/internal/domain"
)

// maxResponseBody is the maximum response body size read from the API.
const maxResponseBody = 10 * 1024 * 1024 // 10 MB

// doJSONRequest performs a JSON POST and returns the response body.
// Non-200 responses are mapped to domain errors.
func doJSONRequest(ctx context.Context, client *http.Client, url string, body []byte, headers map[string]string) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}

	httpResp, err := client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if httpResp.StatusCode != http.StatusOK {
		return nil, mapHTTPError(httpResp.StatusCode, respBody)
	}

	return respBody, nil
}

// apiError is the error envelope OpenAI-compatible endpoints return.
type apiError struct {
	Error struct {
		Code    string `json:"code"`
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// API error codes the loop reacts to.
const (
	codeContextLengthExceeded = "context_length_exceeded"
	codeInsufficientQuota     = "insufficient_quota"
)

// mapHTTPError maps an HTTP status plus response body to a domain error so
// the retry policy, model fallback and circuit breaker can classify it.
// The vendor error code wins over the raw status: a 429 caused by exhausted
// quota must not be retried like an ordinary rate limit.
func mapHTTPError(statusCode int, body []byte) error {
	var parsed apiError
	_ = json.Unmarshal(body, &parsed)
	code := parsed.Error.Code
	detail := parsed.Error.Message
	if detail == "" {
		detail = string(body)
	}
	detail = fmt.Sprintf("API error %d: %s", statusCode, detail)

	switch {
	case code == codeInsufficientQuota:
		return fmt.Errorf("%w: %s", domain.ErrQuotaExceeded, detail)
	case code == codeContextLengthExceeded || statusCode == http.StatusRequestEntityTooLarge:
		return fmt.Errorf("%w: %s", domain.ErrContextOverflow, detail)
	case statusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimit, detail)
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return fmt.Errorf("%w: %s", domain.ErrAuthInvalid, detail)
	default:
		// Server errors and anything unclassified stay retryable.
		return fmt.Errorf("%s", detail)
	}
}
