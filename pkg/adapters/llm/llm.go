// Package llm defines the reasoning model contract used by the orchestration
// engine and a registry of provider factories.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// Roles of transcript messages.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Stop reasons reported by providers.
const (
	StopEndTurn   = "end_turn"
	StopToolUse   = "tool_use"
	StopMaxTokens = "max_tokens"
	StopOther     = "other"
)

// ToolCall is a model request to invoke a named tool. ID correlates the call
// with the tool result message sent back.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// Message is one turn of the transcript.
//
// Assistant messages may carry ToolCalls. Tool messages carry the result for
// ToolCallID in Content, with IsError set when the call failed.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolName   string     `json:"tool_name,omitempty"`
	IsError    bool       `json:"is_error,omitempty"`
}

// ToolSpec describes a callable tool to the model. Parameters is a JSON schema.
type ToolSpec struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"input_schema"`
}

// Request is one reasoning step.
type Request struct {
	Model     string
	System    string
	Messages  []Message
	Tools     []ToolSpec
	MaxTokens int
}

// Response is the model's answer to a Request: either tool calls or final text.
type Response struct {
	Text         string
	ToolCalls    []ToolCall
	StopReason   string
	PromptTokens int
	OutputTokens int
	TotalTokens  int
	Model        string
}

// Message converts the response into the assistant turn to append to the transcript.
func (r Response) Message() Message {
	return Message{Role: RoleAssistant, Content: r.Text, ToolCalls: r.ToolCalls}
}

// LLM is a chat model with tool calling.
type LLM interface {
	// Name returns provider name (e.g., "openai").
	Name() string
	// Generate runs one reasoning step over the transcript.
	Generate(ctx context.Context, req Request) (Response, error)
}

// Factory constructs an LLM from provider-specific config.
// Common keys: api_key, model, base_url.
type Factory func(ctx context.Context, cfg map[string]any) (LLM, error)

var (
	regMu     sync.RWMutex
	factories = map[string]Factory{}
)

// Register registers an LLM factory under a provider name.
func Register(name string, f Factory) error {
	if name == "" {
		return fmt.Errorf("llm: empty provider name")
	}
	if f == nil {
		return fmt.Errorf("llm: nil factory for %q", name)
	}
	regMu.Lock()
	defer regMu.Unlock()
	if _, exists := factories[name]; exists {
		return fmt.Errorf("llm: provider %q already registered", name)
	}
	factories[name] = f
	return nil
}

// Resolve gets a registered factory by name.
func Resolve(name string) (Factory, bool) {
	regMu.RLock()
	defer regMu.RUnlock()
	f, ok := factories[name]
	return f, ok
}

// Range iterates all registered factories.
func Range(fn func(name string, f Factory)) {
	regMu.RLock()
	defer regMu.RUnlock()
	for n, f := range factories {
		fn(n, f)
	}
}

// Providers lists registered provider names, sorted.
func Providers() []string {
	var out []string
	Range(func(name string, _ Factory) { out = append(out, name) })
	sort.Strings(out)
	return out
}

// Open builds the named provider.
func Open(ctx context.Context, provider string, cfg map[string]any) (LLM, error) {
	f, ok := Resolve(provider)
	if !ok {
		return nil, fmt.Errorf("llm: unknown provider %q (registered: %v)", provider, Providers())
	}
	return f(ctx, cfg)
}

// DecodeArguments parses tool call arguments into a map. Empty input yields an
// empty map.
func DecodeArguments(raw json.RawMessage) (map[string]any, error) {
	out := map[string]any{}
	if len(raw) == 0 || string(raw) == "null" {
		return out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = map[string]any{}
	}
	return out, nil
}

// ConfigString reads a string key from a factory config.
func ConfigString(cfg map[string]any, key string) string {
	if v, ok := cfg[key].(string); ok {
		return v
	}
	return ""
}
