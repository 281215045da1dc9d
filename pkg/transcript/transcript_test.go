package transcript

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wilhg/toolforge/pkg/adapters/llm"
)

func TestBudget_Fit(t *testing.T) {
	b := NewBudget(10)
	got, cut := b.Fit("short")
	assert.False(t, cut)
	assert.Equal(t, "short", got)

	got, cut = b.Fit(strings.Repeat("x", 25))
	assert.True(t, cut)
	assert.True(t, strings.HasPrefix(got, strings.Repeat("x", 10)+"\n"))
	assert.Contains(t, got, "[truncated 15 of 25 tokens]")

	got, cut = NewBudget(0).Fit(strings.Repeat("x", 25))
	assert.False(t, cut)
	assert.Len(t, got, 25)

	var nilBudget *Budget
	got, _ = nilBudget.Fit("abc")
	assert.Equal(t, "abc", got)
}

func TestBudget_FitMultibyte(t *testing.T) {
	got, cut := NewBudget(3).Fit("héllo")
	require.True(t, cut)
	assert.True(t, strings.HasPrefix(got, "hél"))
}

func TestBudget_Estimate(t *testing.T) {
	msgs := []llm.Message{
		{Role: llm.RoleUser, Content: "abcd"},
		{Role: llm.RoleAssistant, ToolCalls: []llm.ToolCall{{Name: "ab", Arguments: json.RawMessage(`{}`)}}},
	}
	assert.Equal(t, 8, NewBudget(0).Estimate(msgs))

	words := func(s string) int { return len(strings.Fields(s)) }
	assert.Equal(t, 1, NewBudget(0, WithTokenEstimator(words)).Estimate(msgs[:1]))
}

func TestTikTokenEstimator(t *testing.T) {
	est, err := NewTikTokenEstimator("gpt-4")
	if err != nil {
		t.Skipf("tiktoken not available: %v", err)
	}
	if got := est("hello world"); got <= 0 {
		t.Fatalf("got %d tokens, want > 0", got)
	}
}

func TestHelpers(t *testing.T) {
	msgs := []llm.Message{
		{Role: llm.RoleAssistant, Content: "first", ToolCalls: []llm.ToolCall{{ID: "1"}}},
		{Role: llm.RoleTool, Content: "result"},
		{Role: llm.RoleAssistant, ToolCalls: []llm.ToolCall{{ID: "2"}, {ID: "3"}}},
	}
	assert.Equal(t, "first", LastAssistantText(msgs))
	assert.Equal(t, 3, ToolCallCount(msgs))

	cp := Clone(msgs)
	cp[0].ToolCalls[0].ID = "changed"
	assert.Equal(t, "1", msgs[0].ToolCalls[0].ID)
	assert.Contains(t, Dump(msgs[:1]), `"role": "assistant"`)
}
