package completion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gridassist/internal/domain"
)

// RetryPolicy controls transient-error retries. Sleep is injectable so tests
// run without waiting; nil uses a context-aware real sleep.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration
	Sleep       func(ctx context.Context, d time.Duration) error
}

// DefaultRetryPolicy is 3 attempts with a fixed 1s pause between them.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, Backoff: time.Second}
}

func (p RetryPolicy) sleep(ctx context.Context, d time.Duration) error {
	if p.Sleep != nil {
		return p.Sleep(ctx, d)
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// RetryingClient retries transient completion failures. Quota, auth and
// context-overflow errors pass through untouched: retrying cannot fix them
// and the overflow has its own model-fallback path.
type RetryingClient struct {
	inner  domain.CompletionClient
	policy RetryPolicy
	logger *slog.Logger
}

// NewRetryingClient wraps inner with the given policy.
func NewRetryingClient(inner domain.CompletionClient, policy RetryPolicy, logger *slog.Logger) *RetryingClient {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &RetryingClient{inner: inner, policy: policy, logger: logger}
}

// Name implements domain.CompletionClient.
func (c *RetryingClient) Name() string { return c.inner.Name() }

// Complete implements domain.CompletionClient.
func (c *RetryingClient) Complete(ctx context.Context, req domain.CompletionRequest) (*domain.CompletionResult, error) {
	var lastErr error
	for attempt := 1; attempt <= c.policy.MaxAttempts; attempt++ {
		result, err := c.inner.Complete(ctx, req)
		if err == nil {
			return result, nil
		}
		if !isTransient(err) {
			return nil, err
		}
		lastErr = err
		if attempt == c.policy.MaxAttempts {
			break
		}
		c.logger.Warn("completion attempt failed, retrying",
			"attempt", attempt,
			"max_attempts", c.policy.MaxAttempts,
			"error", err,
		)
		if err := c.policy.sleep(ctx, c.policy.Backoff); err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w after %d attempts: %w", domain.ErrRetryExhausted, c.policy.MaxAttempts, lastErr)
}

// isTransient reports whether a completion error is worth retrying.
func isTransient(err error) bool {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return false
	case errors.Is(err, domain.ErrQuotaExceeded),
		errors.Is(err, domain.ErrAuthInvalid),
		errors.Is(err, domain.ErrContextOverflow):
		return false
	default:
		return true
	}
}

func isOverflow(err error) bool {
	return errors.Is(err, domain.ErrContextOverflow)
}
