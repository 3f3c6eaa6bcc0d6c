package completion

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel/trace"

	"gridassist/internal/domain"
	"gridassist/internal/infra/config"
	"gridassist/internal/infra/tracer"
)

// Client is an OpenAI-compatible chat-completions client. Requests always go
// out at temperature 0 with the structured reply envelope so tool selection
// and confirmation prompts stay deterministic.
type Client struct {
	model     string
	apiKey    string
	baseURL   string
	maxTokens int
	client    *http.Client
	logger    *slog.Logger
}

// NewClient builds a client from config with a pooled HTTP transport.
func NewClient(cfg config.CompletionConfig, logger *slog.Logger) *Client {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Client{
		model:     cfg.Model,
		apiKey:    cfg.APIKey,
		baseURL:   baseURL,
		maxTokens: cfg.MaxTokens,
		client:    NewHTTPClient(cfg),
		logger:    logger,
	}
}

// Name implements domain.CompletionClient.
func (c *Client) Name() string { return "openai" }

// Complete implements domain.CompletionClient.
func (c *Client) Complete(ctx context.Context, req domain.CompletionRequest) (*domain.CompletionResult, error) {
	ctx, span := tracer.StartSpan(ctx, "completion.Complete",
		trace.WithAttributes(tracer.StringAttr("completion.model", c.modelFor(req))),
	)
	defer span.End()

	body, err := json.Marshal(c.toWireRequest(req))
	if err != nil {
		tracer.RecordError(span, err)
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	headers := map[string]string{}
	if c.apiKey != "" {
		headers["Authorization"] = "Bearer " + c.apiKey
	}

	respBody, err := doJSONRequest(ctx, c.client, c.baseURL+"/chat/completions", body, headers)
	if err != nil {
		err = refineOverflow(err, len(req.Messages))
		tracer.RecordError(span, err)
		return nil, err
	}

	var wire wireResponse
	if err := json.Unmarshal(respBody, &wire); err != nil {
		tracer.RecordError(span, err)
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}

	result, err := fromWireResponse(wire)
	if err != nil {
		err = refineOverflow(err, len(req.Messages))
		tracer.RecordError(span, err)
		return nil, err
	}

	span.SetAttributes(
		tracer.IntAttr("completion.prompt_tokens", result.Usage.PromptTokens),
		tracer.IntAttr("completion.completion_tokens", result.Usage.CompletionTokens),
	)
	tracer.SetOK(span)
	c.logger.Debug("completion finished",
		"model", c.modelFor(req),
		"finish_reason", result.FinishReason,
		"tool_calls", len(result.ToolCalls),
		"tokens", result.Usage.TotalTokens,
	)
	return result, nil
}

func (c *Client) modelFor(req domain.CompletionRequest) string {
	if req.Model != "" {
		return req.Model
	}
	return c.model
}

// refineOverflow distinguishes a first user turn that is already too long
// (system prompt plus one user message) from a conversation that outgrew
// the window over time. Callers word the user-facing error differently.
func refineOverflow(err error, messageCount int) error {
	if err == nil || !isOverflow(err) {
		return err
	}
	if messageCount <= 2 {
		return fmt.Errorf("%w: %v", domain.ErrTokensExceededFirst, err)
	}
	return fmt.Errorf("%w: %v", domain.ErrTokensExceededLater, err)
}

// --- wire types ---

type wireRequest struct {
	Model          string              `json:"model"`
	Messages       []wireMessage       `json:"messages"`
	Tools          []wireTool          `json:"tools,omitempty"`
	MaxTokens      int                 `json:"max_tokens,omitempty"`
	Temperature    float64             `json:"temperature"`
	ResponseFormat *wireResponseFormat `json:"response_format,omitempty"`
	User           string              `json:"user,omitempty"`
}

type wireMessage struct {
	Role       string         `json:"role"`
	Content    string         `json:"content"`
	Refusal    string         `json:"refusal,omitempty"`
	ToolCalls  []wireToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
}

type wireTool struct {
	Type     string           `json:"type"`
	Function wireToolFunction `json:"function"`
}

type wireToolFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
	Strict      bool            `json:"strict"`
}

type wireToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type wireResponseFormat struct {
	Type       string         `json:"type"`
	JSONSchema wireJSONSchema `json:"json_schema"`
}

type wireJSONSchema struct {
	Name   string          `json:"name"`
	Strict bool            `json:"strict"`
	Schema json.RawMessage `json:"schema"`
}

type wireResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message      wireMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// replyEnvelopeSchema is the structured output format every non-tool reply
// must follow.
const replyEnvelopeSchema = `{
	"type": "object",
	"properties": {
		"response_text": {"type": "string"},
		"confirmation_required": {"type": "boolean"}
	},
	"required": ["response_text", "confirmation_required"],
	"additionalProperties": false
}`

func (c *Client) toWireRequest(req domain.CompletionRequest) wireRequest {
	msgs := make([]wireMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		wm := wireMessage{
			Role:       m.Role,
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
		}
		if m.Role == domain.RoleAssistant && len(m.ToolCalls) > 0 {
			wm.ToolCalls = make([]wireToolCall, len(m.ToolCalls))
			for i, tc := range m.ToolCalls {
				wm.ToolCalls[i] = wireToolCall{ID: tc.ID, Type: "function"}
				wm.ToolCalls[i].Function.Name = tc.Name
				wm.ToolCalls[i].Function.Arguments = string(tc.Arguments)
			}
		}
		msgs = append(msgs, wm)
	}

	wr := wireRequest{
		Model:       c.modelFor(req),
		Messages:    msgs,
		Temperature: 0,
		MaxTokens:   req.MaxTokens,
		User:        req.User,
		ResponseFormat: &wireResponseFormat{
			Type: "json_schema",
			JSONSchema: wireJSONSchema{
				Name:   "assistant_reply",
				Strict: true,
				Schema: json.RawMessage(replyEnvelopeSchema),
			},
		},
	}
	if wr.MaxTokens == 0 {
		wr.MaxTokens = c.maxTokens
	}
	if len(req.Tools) > 0 {
		wr.Tools = make([]wireTool, len(req.Tools))
		for i, t := range req.Tools {
			wr.Tools[i] = wireTool{
				Type: "function",
				Function: wireToolFunction{
					Name:        t.Name,
					Description: t.Description,
					Parameters:  t.Parameters,
					Strict:      true,
				},
			}
		}
	}
	return wr
}

func fromWireResponse(wire wireResponse) (*domain.CompletionResult, error) {
	if wire.Error != nil {
		switch wire.Error.Code {
		case codeContextLengthExceeded:
			return nil, fmt.Errorf("%w: %s", domain.ErrContextOverflow, wire.Error.Message)
		case codeInsufficientQuota:
			return nil, fmt.Errorf("%w: %s", domain.ErrQuotaExceeded, wire.Error.Message)
		default:
			return nil, fmt.Errorf("API error: %s", wire.Error.Message)
		}
	}
	if len(wire.Choices) == 0 {
		return nil, fmt.Errorf("response has no choices")
	}

	choice := wire.Choices[0]
	result := &domain.CompletionResult{
		Usage: domain.Usage{
			PromptTokens:     wire.Usage.PromptTokens,
			CompletionTokens: wire.Usage.CompletionTokens,
			TotalTokens:      wire.Usage.TotalTokens,
		},
		Message: domain.Message{
			Role:    domain.RoleAssistant,
			Content: choice.Message.Content,
		},
	}

	for _, tc := range choice.Message.ToolCalls {
		result.ToolCalls = append(result.ToolCalls, domain.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: json.RawMessage(tc.Function.Arguments),
		})
	}
	result.Message.ToolCalls = result.ToolCalls

	switch {
	case len(result.ToolCalls) > 0:
		result.FinishReason = domain.FinishToolCalls
	case choice.FinishReason == "length":
		result.FinishReason = domain.FinishLength
	default:
		result.FinishReason = domain.FinishStop
	}

	if choice.Message.Refusal != "" {
		result.Refusal = true
		result.ReplyText = choice.Message.Refusal
		result.ConfirmationRequired = false
		return result, nil
	}
	if result.FinishReason != domain.FinishToolCalls {
		result.ReplyText, result.ConfirmationRequired = parseReplyEnvelope(choice.Message.Content)
	}
	return result, nil
}

// parseReplyEnvelope extracts the structured reply. Some models echo the
// envelope twice separated by a newline, so only the first line is parsed.
// Content that is not the envelope at all is passed through as plain text.
func parseReplyEnvelope(content string) (string, bool) {
	line := content
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	line = strings.TrimSpace(line)

	var envelope struct {
		ResponseText         string `json:"response_text"`
		ConfirmationRequired bool   `json:"confirmation_required"`
	}
	if err := json.Unmarshal([]byte(line), &envelope); err != nil {
		return strings.TrimSpace(content), false
	}
	return envelope.ResponseText, envelope.ConfirmationRequired
}
