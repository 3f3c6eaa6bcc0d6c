package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorCodeOf(t *testing.T) {
	cases := []struct {
		err  error
		want ErrorCode
	}{
		{nil, CodeUnknown},
		{ErrContextOverflow, CodeContextOverflow},
		{ErrTokensExceededFirst, CodeContextOverflow},
		{ErrTokensExceededLater, CodeContextOverflow},
		{ErrQuotaExceeded, CodeQuotaExceeded},
		{fmt.Errorf("attempt 3: %w", ErrRateLimit), CodeRateLimit},
		{NewDomainError("Assistant.GetAssistance", ErrMaxToolCalls, "limit 10"), CodeMaxToolCalls},
		{errors.New("something else"), CodeUnknown},
	}
	for _, tc := range cases {
		if got := ErrorCodeOf(tc.err); got != tc.want {
			t.Errorf("ErrorCodeOf(%v) = %q, want %q", tc.err, got, tc.want)
		}
	}
}

func TestTokensExceededRefinesOverflow(t *testing.T) {
	// Both refinements must be catchable as a plain context overflow.
	if !errors.Is(ErrTokensExceededFirst, ErrContextOverflow) {
		t.Error("ErrTokensExceededFirst should match ErrContextOverflow")
	}
	if !errors.Is(ErrTokensExceededLater, ErrContextOverflow) {
		t.Error("ErrTokensExceededLater should match ErrContextOverflow")
	}
	if errors.Is(ErrTokensExceededFirst, ErrTokensExceededLater) {
		t.Error("first and later overflow must stay distinct")
	}
}

func TestIsRetryableError(t *testing.T) {
	if !IsRetryableError(ErrRateLimit) || !IsRetryableError(ErrRetryExhausted) {
		t.Error("rate limit and retry exhaustion are retryable")
	}
	for _, err := range []error{ErrQuotaExceeded, ErrAuthInvalid, ErrContextOverflow, ErrMaxToolCalls, nil} {
		if IsRetryableError(err) {
			t.Errorf("IsRetryableError(%v) = true, want false", err)
		}
	}
}

func TestDomainError(t *testing.T) {
	err := NewDomainError("Store.ApplyUserActions", ErrTableNotFound, "table Projects")
	if !errors.Is(err, ErrTableNotFound) {
		t.Error("DomainError should unwrap to its sentinel")
	}
	msg := err.Error()
	if msg != "Store.ApplyUserActions: table Projects: table not found" {
		t.Errorf("Error() = %q", msg)
	}

	if WrapOp("op", nil) != nil {
		t.Error("WrapOp(nil) should be nil")
	}
	wrapped := WrapOp("op", ErrColumnNotFound)
	if !errors.Is(wrapped, ErrColumnNotFound) {
		t.Error("WrapOp should preserve the sentinel chain")
	}
}
