//go:build integration

package gemini

import (
	"context"
	"os"
	"testing"

	"github.com/wilhg/toolforge/pkg/adapters/llm"
)

func TestGeminiToolCall(t *testing.T) {
	if os.Getenv("GOOGLE_API_KEY") == "" {
		t.Skip("GOOGLE_API_KEY not set")
	}
	ctx := context.Background()
	m, err := Factory(ctx, map[string]any{})
	if err != nil {
		t.Fatalf("factory: %v", err)
	}
	res, err := m.Generate(ctx, llm.Request{
		System:   "Call the ping tool exactly once.",
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "Execute the workflow using the available tools."}},
		Tools:    []llm.ToolSpec{{Name: "ping", Description: "Health check", Parameters: []byte(`{"type":"object","properties":{}}`)}},
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(res.ToolCalls) == 0 && res.Text == "" {
		t.Fatalf("empty response")
	}
}
