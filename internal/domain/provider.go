package domain

import "context"

// CompletionClient is the interface for the external completion endpoint.
type CompletionClient interface {
	// Complete sends the message list plus tool catalog and returns the
	// parsed result. Errors follow the taxonomy in errors.go: retryable
	// errors may be retried by the caller, fatal ones must not be.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResult, error)
	// Name returns the client's identifier (e.g. "openai").
	Name() string
}
