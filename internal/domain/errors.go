package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for the domain layer.
var (
	// Completion errors.
	ErrContextOverflow = fmt.Errorf("context window exceeded")
	ErrQuotaExceeded   = fmt.Errorf("completion quota exceeded")
	ErrAuthInvalid     = fmt.Errorf("authentication failed")
	ErrRateLimit       = fmt.Errorf("rate limit exceeded")
	ErrRetryExhausted  = fmt.Errorf("retry attempts exhausted")

	// TokensExceededFirst and TokensExceededLater refine ErrContextOverflow:
	// first means the very first user turn (at most two messages) already
	// exceeded the window, later means the conversation outgrew it.
	ErrTokensExceededFirst = fmt.Errorf("first message too long: %w", ErrContextOverflow)
	ErrTokensExceededLater = fmt.Errorf("conversation too long: %w", ErrContextOverflow)

	// Conversation loop errors.
	ErrMaxToolCalls = fmt.Errorf("tool call limit reached")

	// Tool dispatch errors.
	ErrToolNotFound           = fmt.Errorf("tool not found")
	ErrInvalidArguments       = fmt.Errorf("invalid tool arguments")
	ErrMissingReferenceTarget = fmt.Errorf("reference target table not set")

	// Document errors.
	ErrTableNotFound  = fmt.Errorf("table not found")
	ErrColumnNotFound = fmt.Errorf("column not found")
	ErrPageNotFound   = fmt.Errorf("page not found")
	ErrWidgetNotFound = fmt.Errorf("widget not found")
	ErrReadOnlyQuery  = fmt.Errorf("query must be a read-only SELECT")
)

// DomainError wraps a sentinel error with context.
type DomainError struct {
	Op     string // operation name (e.g. "Dispatcher.Dispatch")
	Err    error  // underlying sentinel or wrapped error
	Detail string // human-readable detail
}

func (e *DomainError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *DomainError) Unwrap() error { return e.Err }

// NewDomainError creates a new DomainError.
func NewDomainError(op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail}
}

// WrapOp adds operation context to an error using fmt.Errorf wrapping.
// Returns nil if err is nil, enabling idiomatic use: return domain.WrapOp("op", err)
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// IsRetryableError reports whether err is a transient condition the caller may
// represent as "please try again". Quota, auth and loop-bound errors are not.
func IsRetryableError(err error) bool {
	return errors.Is(err, ErrRateLimit) || errors.Is(err, ErrRetryExhausted)
}

// ErrorCode is a machine-parseable error category for monitoring.
type ErrorCode string

const (
	CodeUnknown          ErrorCode = "UNKNOWN"
	CodeContextOverflow  ErrorCode = "CONTEXT_OVERFLOW"
	CodeQuotaExceeded    ErrorCode = "QUOTA_EXCEEDED"
	CodeAuthInvalid      ErrorCode = "AUTH_INVALID"
	CodeRateLimit        ErrorCode = "RATE_LIMIT"
	CodeRetryExhausted   ErrorCode = "RETRY_EXHAUSTED"
	CodeMaxToolCalls     ErrorCode = "MAX_TOOL_CALLS"
	CodeToolNotFound     ErrorCode = "TOOL_NOT_FOUND"
	CodeInvalidArguments ErrorCode = "INVALID_ARGUMENTS"
	CodeMissingRefTarget ErrorCode = "MISSING_REFERENCE_TARGET"
	CodeTableNotFound    ErrorCode = "TABLE_NOT_FOUND"
	CodeColumnNotFound   ErrorCode = "COLUMN_NOT_FOUND"
	CodePageNotFound     ErrorCode = "PAGE_NOT_FOUND"
	CodeWidgetNotFound   ErrorCode = "WIDGET_NOT_FOUND"
	CodeReadOnlyQuery    ErrorCode = "READ_ONLY_QUERY"
)

// errorCodeMap maps sentinel errors to their machine-parseable codes.
var errorCodeMap = map[error]ErrorCode{
	ErrContextOverflow:        CodeContextOverflow,
	ErrQuotaExceeded:          CodeQuotaExceeded,
	ErrAuthInvalid:            CodeAuthInvalid,
	ErrRateLimit:              CodeRateLimit,
	ErrRetryExhausted:         CodeRetryExhausted,
	ErrMaxToolCalls:           CodeMaxToolCalls,
	ErrToolNotFound:           CodeToolNotFound,
	ErrInvalidArguments:       CodeInvalidArguments,
	ErrMissingReferenceTarget: CodeMissingRefTarget,
	ErrTableNotFound:          CodeTableNotFound,
	ErrColumnNotFound:         CodeColumnNotFound,
	ErrPageNotFound:           CodePageNotFound,
	ErrWidgetNotFound:         CodeWidgetNotFound,
	ErrReadOnlyQuery:          CodeReadOnlyQuery,
}

// ErrorCodeOf returns the machine-parseable error code for the given error.
// It unwraps DomainError and uses errors.Is to match sentinel errors.
// Returns CodeUnknown if no matching sentinel is found.
func ErrorCodeOf(err error) ErrorCode {
	if err == nil {
		return CodeUnknown
	}

	if code, ok := errorCodeMap[err]; ok {
		return code
	}

	var de *DomainError
	if errors.As(err, &de) {
		if code, ok := errorCodeMap[de.Err]; ok {
			return code
		}
	}

	for sentinel, code := range errorCodeMap {
		if errors.Is(err, sentinel) {
			return code
		}
	}

	return CodeUnknown
}
