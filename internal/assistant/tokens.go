package assistant

import (
	"github.com/pkoukk/tiktoken-go"

	"gridassist/internal/domain"
)

// perMessageOverhead approximates the per-message framing tokens of the
// chat-completions wire format.
const perMessageOverhead = 4

// Estimator counts prompt tokens so the loop can pick the longer-context
// model before sending a prompt that is already known not to fit. It uses
// the model's BPE when available and a bytes-per-token heuristic otherwise
// (tiktoken fetches encodings at runtime, which may be unavailable offline).
type Estimator struct {
	enc *tiktoken.Tiktoken
}

// NewEstimator builds an estimator for the given model name.
func NewEstimator(model string) *Estimator {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		return &Estimator{}
	}
	return &Estimator{enc: enc}
}

// EstimateMessages returns the approximate prompt token count of a transcript.
func (e *Estimator) EstimateMessages(messages []domain.Message) int {
	total := 0
	for _, m := range messages {
		total += e.estimateText(m.Content) + perMessageOverhead
		for _, tc := range m.ToolCalls {
			total += e.estimateText(tc.Name) + e.estimateText(string(tc.Arguments))
		}
	}
	return total
}

func (e *Estimator) estimateText(text string) int {
	if text == "" {
		return 0
	}
	if e.enc != nil {
		return len(e.enc.Encode(text, nil, nil))
	}
	// Rough heuristic: one token per 4 bytes of text.
	n := len(text) / 4
	if n == 0 {
		n = 1
	}
	return n
}
