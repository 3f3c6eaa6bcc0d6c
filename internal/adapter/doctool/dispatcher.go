package doctool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"gridassist/internal/domain"
	"gridassist/internal/infra/tracer"
)

// Dispatcher validates tool-call arguments against the catalog schemas,
// translates them into document actions and applies them. Every failure
// mode surfaces as a failed ToolCallResult so the conversation loop can
// feed it back to the model instead of aborting the turn.
type Dispatcher struct {
	catalog *Catalog
	logger  *slog.Logger
}

// NewDispatcher wires a catalog to a logger. A nil logger discards output.
func NewDispatcher(catalog *Catalog, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Dispatcher{catalog: catalog, logger: logger}
}

// Specs implements domain.ToolDispatcher.
func (d *Dispatcher) Specs() []domain.ToolSpec {
	return d.catalog.Specs()
}

// Dispatch implements domain.ToolDispatcher.
func (d *Dispatcher) Dispatch(ctx context.Context, doc domain.DocumentStore, call domain.ToolCall) domain.ToolCallResult {
	ctx, span := tracer.StartSpan(ctx, "doctool.Dispatch")
	defer span.End()
	span.SetAttributes(tracer.StringAttr("tool.name", call.Name))

	entry, ok := d.catalog.lookup(call.Name)
	if !ok {
		tracer.RecordError(span, domain.ErrToolNotFound)
		return domain.ToolCallResult{
			Err: fmt.Sprintf("unknown tool %q; use only the tools provided", call.Name),
		}
	}

	args, failMsg := d.validateArgs(entry, call.Arguments)
	if failMsg != "" {
		tracer.RecordError(span, domain.ErrInvalidArguments)
		d.logger.Warn("tool arguments rejected", "tool", call.Name, "reason", failMsg)
		return domain.ToolCallResult{Err: failMsg}
	}

	result, applied, err := entry.handler(ctx, doc, args)
	if err != nil {
		tracer.RecordError(span, err)
		d.logger.Warn("tool call failed", "tool", call.Name, "error", err)
		// A failed call changed nothing, so it is not reported as a mutation.
		return domain.ToolCallResult{Err: failureMessage(err)}
	}

	if entry.spec.Mutating {
		d.logger.Info("document mutated",
			"tool", call.Name,
			"actions", len(applied),
			"conversation_id", domain.ConversationIDFromContext(ctx),
		)
	}
	tracer.SetOK(span)
	return domain.ToolCallResult{
		Result:         result,
		IsMutation:     entry.spec.Mutating,
		AppliedActions: applied,
	}
}

// validateArgs parses and schema-checks the raw arguments. The returned
// message is empty on success and human-readable on rejection.
func (d *Dispatcher) validateArgs(entry *toolEntry, raw json.RawMessage) (map[string]any, string) {
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Sprintf("arguments are not valid JSON: %v", err)
	}
	if err := entry.schema.Validate(v); err != nil {
		return nil, fmt.Sprintf("invalid arguments for %s: %v", entry.spec.Name, err)
	}
	args, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Sprintf("invalid arguments for %s: expected a JSON object", entry.spec.Name)
	}
	return args, ""
}

// failureMessage converts handler errors into the text shown to the model.
// Sandbox rejections keep their message; infra errors are kept terse.
func failureMessage(err error) string {
	var sandboxErr *domain.SandboxError
	if errors.As(err, &sandboxErr) {
		return sandboxErr.Message
	}
	switch {
	case errors.Is(err, domain.ErrMissingReferenceTarget),
		errors.Is(err, domain.ErrTableNotFound),
		errors.Is(err, domain.ErrColumnNotFound),
		errors.Is(err, domain.ErrPageNotFound),
		errors.Is(err, domain.ErrWidgetNotFound),
		errors.Is(err, domain.ErrInvalidArguments):
		return err.Error()
	case errors.Is(err, domain.ErrReadOnlyQuery):
		return "only a single read-only SELECT statement is allowed"
	default:
		return fmt.Sprintf("tool execution failed: %v", err)
	}
}
