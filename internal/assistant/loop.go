package assistant

import (
	"context"
	"encoding/json"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/trace"

	"gridassist/internal/domain"
	"gridassist/internal/infra/tracer"
)

// Deps holds injected dependencies for the assistant.
type Deps struct {
	Completion domain.CompletionClient
	Dispatcher domain.ToolDispatcher
	Prompt     *PromptBuilder
	Estimator  *Estimator // optional, nil = no prompt-size estimate
	Logger     *slog.Logger
	// MaxToolCalls bounds tool-call rounds per turn; <=0 uses 10.
	MaxToolCalls int
	// LongContextModel is selected up front when the estimated prompt exceeds
	// PromptTokenBudget. Empty disables the pre-emptive switch.
	LongContextModel  string
	PromptTokenBudget int
}

// Assistant runs the prompt-complete-dispatch loop for one user turn.
type Assistant struct {
	deps Deps
}

// NewAssistant creates an assistant with the given dependencies.
func NewAssistant(deps Deps) *Assistant {
	if deps.MaxToolCalls <= 0 {
		deps.MaxToolCalls = 10
	}
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.DiscardHandler)
	}
	if deps.Prompt == nil {
		deps.Prompt = NewPromptBuilder("v1", nil)
	}
	return &Assistant{deps: deps}
}

// ULID generation for conversation ids. The monotonic reader is not safe for
// concurrent use, so it is guarded.
var (
	ulidMu      sync.Mutex
	ulidEntropy = ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0)
)

func newConversationID() string {
	ulidMu.Lock()
	defer ulidMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), ulidEntropy).String()
}

// GetAssistance runs one user turn to completion. The caller owns the
// conversation state; the loop works on a copy and returns the new state.
// Applied document actions from every mutating tool call are accumulated in
// the response; partially applied turns are reported, not rolled back.
func (a *Assistant) GetAssistance(ctx context.Context, doc domain.DocumentStore, req domain.AssistanceRequest) (*domain.AssistanceResponse, error) {
	convID := req.ConversationID
	if convID == "" && req.State != nil {
		convID = req.State.ConversationID
	}
	if convID == "" {
		convID = newConversationID()
	}
	ctx = domain.ContextWithConversationID(ctx, convID)

	ctx, span := tracer.StartSpan(ctx, "assistant.GetAssistance",
		trace.WithAttributes(tracer.StringAttr("conversation_id", convID)),
	)
	defer span.End()

	messages, err := a.deps.Prompt.Build(ctx, doc, req)
	if err != nil {
		tracer.RecordError(span, err)
		return nil, err
	}

	model := a.pickModel(messages)
	specs := a.deps.Dispatcher.Specs()
	var applied []domain.AppliedAction

	for round := 0; ; round++ {
		span.AddEvent("assistant.round", trace.WithAttributes(tracer.IntAttr("round", round)))

		result, err := a.deps.Completion.Complete(ctx, domain.CompletionRequest{
			Messages: messages,
			Tools:    specs,
			Model:    model,
			User:     convID,
		})
		if err != nil {
			tracer.RecordError(span, err)
			a.deps.Logger.Error("completion failed",
				"conversation_id", convID,
				"round", round,
				"code", domain.ErrorCodeOf(err),
				"error", err,
			)
			return nil, domain.WrapOp("Assistant.GetAssistance", err)
		}

		messages = append(messages, result.Message)
		a.deps.Logger.Debug("completion round",
			"conversation_id", convID,
			"round", round,
			"finish_reason", result.FinishReason,
			"tool_calls", len(result.ToolCalls),
			"tokens", result.Usage.TotalTokens,
		)

		if result.FinishReason != domain.FinishToolCalls {
			tracer.SetOK(span)
			return &domain.AssistanceResponse{
				Reply:                result.ReplyText,
				ConfirmationRequired: result.ConfirmationRequired,
				State: domain.ConversationState{
					ConversationID: convID,
					PromptVersion:  a.deps.Prompt.Version(),
					Messages:       messages,
				},
				AppliedActions: applied,
			}, nil
		}

		// Bound on runaway tool-call chains. The requested calls of the final
		// round are not dispatched.
		if round >= a.deps.MaxToolCalls {
			tracer.RecordError(span, domain.ErrMaxToolCalls)
			a.deps.Logger.Error("tool call limit reached",
				"conversation_id", convID,
				"max_tool_calls", a.deps.MaxToolCalls,
				"pending_calls", len(result.ToolCalls),
				"applied_actions", len(applied),
			)
			return nil, domain.NewDomainError("Assistant.GetAssistance", domain.ErrMaxToolCalls,
				"the assistant could not finish the request")
		}

		// Dispatch in array order; every outcome goes back to the model as a
		// tool message keyed by call id, failures included.
		for _, call := range result.ToolCalls {
			res := a.deps.Dispatcher.Dispatch(ctx, doc, call)
			applied = append(applied, res.AppliedActions...)
			messages = append(messages, domain.Message{
				Role:       domain.RoleTool,
				ToolCallID: call.ID,
				Content:    toolResultContent(res),
				Timestamp:  time.Now().UTC(),
			})
		}
	}
}

// pickModel pre-empts a context-overflow round-trip when the prompt is
// already estimated to exceed the default model's budget.
func (a *Assistant) pickModel(messages []domain.Message) string {
	if a.deps.Estimator == nil || a.deps.PromptTokenBudget <= 0 || a.deps.LongContextModel == "" {
		return ""
	}
	estimate := a.deps.Estimator.EstimateMessages(messages)
	if estimate <= a.deps.PromptTokenBudget {
		return ""
	}
	a.deps.Logger.Info("prompt exceeds token budget, using long-context model",
		"estimated_tokens", estimate,
		"budget", a.deps.PromptTokenBudget,
		"model", a.deps.LongContextModel,
	)
	return a.deps.LongContextModel
}

// toolResultContent serializes a tool outcome for the model. Failures are
// reported as values so the model can correct itself and retry.
func toolResultContent(res domain.ToolCallResult) string {
	if !res.OK() {
		data, _ := json.Marshal(map[string]string{"error": res.Err})
		return string(data)
	}
	if res.Result == nil {
		return "{}"
	}
	data, err := json.Marshal(res.Result)
	if err != nil {
		return `{"error": "tool result could not be serialized"}`
	}
	return string(data)
}
