package domain

import (
	"context"
	"encoding/json"
)

// ToolSpec describes a tool for the completion function-calling protocol.
// Parameters is a strict JSON Schema: unknown properties are rejected and
// enums constrain formatting/type options.
type ToolSpec struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
	// Mutating marks tools whose successful dispatch changes the document.
	// It drives the confirmation contract and the applied-action audit.
	Mutating bool `json:"-"`
}

// ToolCall is a single invocation request emitted by the completion model.
// Arguments is untrusted JSON and must be validated against the catalog
// schema before dispatch.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolCallResult is the outcome of dispatching one tool call. Failures are
// values, not errors: a failed call is reported back to the model as a tool
// message so the conversation can recover.
type ToolCallResult struct {
	// Result is the JSON-encodable payload returned to the model on success.
	Result any `json:"result,omitempty"`
	// Err is the human-readable failure message, empty on success.
	Err string `json:"error,omitempty"`
	// IsMutation reports whether the call changed the document. Always false
	// on failure and for read-only tools.
	IsMutation bool `json:"is_mutation,omitempty"`
	// AppliedActions are the document actions recorded by the store for a
	// successful mutating call, accumulated across the turn for audit/undo.
	AppliedActions []AppliedAction `json:"applied_actions,omitempty"`
}

// OK reports whether the call succeeded.
func (r ToolCallResult) OK() bool { return r.Err == "" }

// ToolDispatcher validates and executes tool calls against a document.
type ToolDispatcher interface {
	// Dispatch never returns an error for a bad call: schema violations and
	// store rejections come back as a failed ToolCallResult.
	Dispatch(ctx context.Context, doc DocumentStore, call ToolCall) ToolCallResult
	// Specs lists the tool catalog in stable order.
	Specs() []ToolSpec
}
