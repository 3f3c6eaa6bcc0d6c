package completion

import (
	"context"
	"log/slog"

	"gridassist/internal/domain"
)

// Compile-time interface assertions.
var (
	_ domain.CompletionClient = (*Client)(nil)
	_ domain.CompletionClient = (*RetryingClient)(nil)
	_ domain.CompletionClient = (*LongContextClient)(nil)
	_ domain.CompletionClient = (*CircuitBreakerClient)(nil)
)

// LongContextClient retries a context-overflow failure exactly once on a
// configured longer-context model. A truncated reply (finish_reason length)
// counts as overflow too. Empty longModel disables the fallback.
type LongContextClient struct {
	inner     domain.CompletionClient
	longModel string
	logger    *slog.Logger
}

// NewLongContextClient wraps inner with the model fallback.
func NewLongContextClient(inner domain.CompletionClient, longModel string, logger *slog.Logger) *LongContextClient {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &LongContextClient{inner: inner, longModel: longModel, logger: logger}
}

// Name implements domain.CompletionClient.
func (c *LongContextClient) Name() string { return c.inner.Name() }

// Complete implements domain.CompletionClient.
func (c *LongContextClient) Complete(ctx context.Context, req domain.CompletionRequest) (*domain.CompletionResult, error) {
	result, err := c.inner.Complete(ctx, req)
	if c.longModel == "" || req.Model == c.longModel {
		return result, err
	}

	overflowed := isOverflow(err) || (err == nil && result.FinishReason == domain.FinishLength)
	if !overflowed {
		return result, err
	}

	c.logger.Info("context window exceeded, retrying on long-context model",
		"model", c.longModel,
		"messages", len(req.Messages),
	)
	req.Model = c.longModel
	return c.inner.Complete(ctx, req)
}
