package domain

import "time"

// Role constants for message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message represents a single message in a conversation. Exactly one role is
// set; ToolCalls is populated on assistant messages that request tool
// invocations, and ToolCallID ties a tool message back to the call it answers.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	Timestamp  time.Time  `json:"timestamp,omitzero"`
}

// FinishReason indicates why a completion ended.
type FinishReason string

const (
	FinishStop      FinishReason = "stop"
	FinishToolCalls FinishReason = "tool_calls"
	FinishLength    FinishReason = "length"
)

// CompletionRequest is sent to a completion client.
type CompletionRequest struct {
	Messages  []Message  `json:"messages"`
	Tools     []ToolSpec `json:"tools,omitempty"`
	Model     string     `json:"model,omitempty"` // override; empty = client default
	MaxTokens int        `json:"max_tokens,omitempty"`
	User      string     `json:"user,omitempty"` // opaque end-user tag (conversation id)
}

// CompletionResult is the parsed outcome of one completion exchange.
// Invariant: ToolCalls is non-empty iff FinishReason == FinishToolCalls.
type CompletionResult struct {
	// ReplyText is the user-facing text parsed from the structured envelope
	// (or the refusal text verbatim).
	ReplyText string `json:"reply_text"`
	// ConfirmationRequired is true when the assistant asks the user to confirm
	// a pending mutation. Always false for refusals.
	ConfirmationRequired bool         `json:"confirmation_required"`
	FinishReason         FinishReason `json:"finish_reason"`
	ToolCalls            []ToolCall   `json:"tool_calls,omitempty"`
	// Refusal is true when the model declined to answer.
	Refusal bool `json:"refusal,omitempty"`
	// Message is the raw assistant message, suitable for appending to the
	// conversation history as-is.
	Message Message `json:"message"`
	Usage   Usage   `json:"usage"`
}

// Usage tracks token consumption.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ConversationState is the caller-owned conversation log. It round-trips
// through the caller between turns; the assistant never retains it.
// Invariant: the first message is the system prompt, and it is regenerated
// from live document state on every turn rather than trusted from here.
type ConversationState struct {
	ConversationID string    `json:"conversation_id"`
	PromptVersion  string    `json:"prompt_version,omitempty"`
	Messages       []Message `json:"messages"`
}

// Clone returns a deep-enough copy: the message slice is copied so the
// assistant can grow it without aliasing the caller's state.
func (s *ConversationState) Clone() ConversationState {
	if s == nil {
		return ConversationState{}
	}
	cp := ConversationState{
		ConversationID: s.ConversationID,
		PromptVersion:  s.PromptVersion,
	}
	cp.Messages = make([]Message, len(s.Messages))
	copy(cp.Messages, s.Messages)
	return cp
}

// History returns the conversation messages with any leading system message
// stripped; the system prompt is rebuilt each turn.
func (s *ConversationState) History() []Message {
	msgs := s.Messages
	for len(msgs) > 0 && msgs[0].Role == RoleSystem {
		msgs = msgs[1:]
	}
	return msgs
}

// AssistanceRequest is one user turn entering the conversation loop.
type AssistanceRequest struct {
	Text           string             `json:"text"`
	ConversationID string             `json:"conversation_id,omitempty"`
	Context        AssistanceContext  `json:"context"`
	State          *ConversationState `json:"state,omitempty"`
}

// AssistanceContext carries what the user is currently looking at.
type AssistanceContext struct {
	ViewID string `json:"view_id,omitempty"`
}

// AssistanceResponse is the conversation loop's terminal output.
type AssistanceResponse struct {
	Reply                string            `json:"reply"`
	ConfirmationRequired bool              `json:"confirmation_required"`
	State                ConversationState `json:"state"`
	AppliedActions       []AppliedAction   `json:"applied_actions,omitempty"`
}
