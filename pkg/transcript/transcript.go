// Package transcript holds helpers over an orchestration transcript: token
// accounting and truncation of tool results that would not fit a budget.
package transcript

import (
	"encoding/json"
	"fmt"

	"github.com/wilhg/toolforge/pkg/adapters/llm"
)

// TruncationMarker is appended to text cut down by a Budget.
const TruncationMarker = "\n...[truncated %d of %d tokens]"

// Budget limits the size of individual tool results fed back to the model.
type Budget struct {
	estimate  TokenEstimator
	maxTokens int
}

// Option configures a Budget.
type Option func(*Budget)

// WithTokenEstimator sets the token estimator. Defaults to RuneEstimator.
func WithTokenEstimator(est TokenEstimator) Option {
	return func(b *Budget) {
		if est != nil {
			b.estimate = est
		}
	}
}

// NewBudget returns a budget of maxTokens per result. A non-positive maxTokens
// disables truncation.
func NewBudget(maxTokens int, opts ...Option) *Budget {
	b := &Budget{estimate: RuneEstimator, maxTokens: maxTokens}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Fit returns text unchanged when it fits, otherwise its longest prefix that
// fits followed by a truncation marker. The bool reports truncation.
func (b *Budget) Fit(text string) (string, bool) {
	if b == nil || b.maxTokens <= 0 {
		return text, false
	}
	total := b.estimate(text)
	if total <= b.maxTokens {
		return text, false
	}
	runes := []rune(text)
	lo, hi := 0, len(runes)
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if b.estimate(string(runes[:mid])) <= b.maxTokens {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	kept := string(runes[:lo])
	return kept + fmt.Sprintf(TruncationMarker, total-b.estimate(kept), total), true
}

// Estimate returns the estimated token count of the messages, including tool
// call arguments.
func (b *Budget) Estimate(msgs []llm.Message) int {
	est := TokenEstimator(RuneEstimator)
	if b != nil {
		est = b.estimate
	}
	n := 0
	for _, m := range msgs {
		n += est(m.Content)
		for _, tc := range m.ToolCalls {
			n += est(tc.Name) + est(string(tc.Arguments))
		}
	}
	return n
}

// Clone returns a deep-enough copy of msgs for handing out of a run.
func Clone(msgs []llm.Message) []llm.Message {
	out := make([]llm.Message, len(msgs))
	for i, m := range msgs {
		m.ToolCalls = append([]llm.ToolCall(nil), m.ToolCalls...)
		out[i] = m
	}
	return out
}

// LastAssistantText returns the content of the latest assistant message that
// has any.
func LastAssistantText(msgs []llm.Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == llm.RoleAssistant && msgs[i].Content != "" {
			return msgs[i].Content
		}
	}
	return ""
}

// ToolCallCount returns the number of tool calls requested across msgs.
func ToolCallCount(msgs []llm.Message) int {
	n := 0
	for _, m := range msgs {
		n += len(m.ToolCalls)
	}
	return n
}

// Dump renders msgs as indented JSON for debug logging.
func Dump(msgs []llm.Message) string {
	b, err := json.MarshalIndent(msgs, "", "  ")
	if err != nil {
		return fmt.Sprintf("<%v>", err)
	}
	return string(b)
}
