// Package prompt renders the instructions given to the reasoning model for a
// composite tool run, and lints composite descriptors before they are served.
package prompt

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/wilhg/toolforge/pkg/adapters/llm"
)

// InitialUserMessage opens every orchestration transcript.
const InitialUserMessage = "Execute the workflow using the available tools."

// Instruction is the input to Render.
type Instruction struct {
	Task    string
	UseCase string
	Logic   string
	Tools   []llm.ToolSpec
	Input   map[string]any
}

var steps = []string{
	"Call the tools in the correct order based on the orchestration logic",
	"Extract data from responses to use in subsequent calls (e.g., IDs, values)",
	"Handle data flow between calls properly",
	"Aggregate and combine results as needed",
	"Return a final consolidated response",
}

// Render builds the system instruction for an orchestration run.
func Render(in Instruction) (string, error) {
	type toolView struct {
		Name        string          `json:"name"`
		Description string          `json:"description"`
		InputSchema json.RawMessage `json:"input_schema"`
	}
	views := make([]toolView, 0, len(in.Tools))
	for _, t := range in.Tools {
		views = append(views, toolView{Name: t.Name, Description: t.Description, InputSchema: t.Parameters})
	}
	toolsJSON, err := json.MarshalIndent(views, "", "  ")
	if err != nil {
		return "", fmt.Errorf("prompt: encode tools: %w", err)
	}
	input := in.Input
	if input == nil {
		input = map[string]any{}
	}
	inputJSON, err := json.Marshal(input)
	if err != nil {
		return "", fmt.Errorf("prompt: encode input: %w", err)
	}

	var b strings.Builder
	b.WriteString("You are an orchestration agent. Your job is to execute a complex workflow by calling multiple tools in the correct order and combining their results.\n\n")
	fmt.Fprintf(&b, "TASK: %s\n\n", in.Task)
	fmt.Fprintf(&b, "USE CASE: %s\n\n", in.UseCase)
	fmt.Fprintf(&b, "ORCHESTRATION LOGIC: %s\n\n", in.Logic)
	fmt.Fprintf(&b, "AVAILABLE TOOLS: You have access to the following tools (these call the actual API):\n%s\n\n", toolsJSON)
	b.WriteString("INSTRUCTIONS:\n")
	for i, s := range steps {
		fmt.Fprintf(&b, "%d. %s\n", i+1, s)
	}
	fmt.Fprintf(&b, "\nUSER INPUT: %s\n\n", inputJSON)
	b.WriteString("Execute the workflow step by step, calling tools as needed. When the workflow is complete, reply with the final consolidated response and no further tool calls.")
	return b.String(), nil
}

// Preview returns at most n runes of s, with "..." appended when cut.
func Preview(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
