// Package fake provides a scripted reasoning model for tests.
package fake

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/wilhg/toolforge/pkg/adapters/llm"
)

// ErrScriptExhausted is returned when a scripted model runs out of steps.
var ErrScriptExhausted = errors.New("fake: script exhausted")

// Step is one scripted reply: a response or an error.
type Step struct {
	Response llm.Response
	Err      error
}

// Model replays a script of steps, or asks a function for each reply.
// Every request it receives is recorded.
type Model struct {
	mu    sync.Mutex
	name  string
	steps []Step
	fn    func(n int, req llm.Request) (llm.Response, error)
	calls []llm.Request
	ids   int
}

var _ llm.LLM = (*Model)(nil)

// Script returns a model that answers with steps in order.
func Script(steps ...Step) *Model {
	return &Model{name: "fake", steps: steps}
}

// Func returns a model whose n-th reply (0-based) comes from fn.
func Func(fn func(n int, req llm.Request) (llm.Response, error)) *Model {
	return &Model{name: "fake", fn: fn}
}

func (m *Model) Name() string { return m.name }

func (m *Model) Generate(ctx context.Context, req llm.Request) (llm.Response, error) {
	if err := ctx.Err(); err != nil {
		return llm.Response{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := req
	snap.Messages = append([]llm.Message(nil), req.Messages...)
	snap.Tools = append([]llm.ToolSpec(nil), req.Tools...)
	n := len(m.calls)
	m.calls = append(m.calls, snap)

	if m.fn != nil {
		return m.fn(n, snap)
	}
	if n >= len(m.steps) {
		return llm.Response{}, ErrScriptExhausted
	}
	st := m.steps[n]
	if st.Err != nil {
		return llm.Response{}, st.Err
	}
	resp := st.Response
	// Give unnamed calls stable ids so results can be correlated.
	for i := range resp.ToolCalls {
		if resp.ToolCalls[i].ID == "" {
			m.ids++
			resp.ToolCalls[i].ID = fmt.Sprintf("call_%d", m.ids)
		}
	}
	return resp, nil
}

// Requests returns a copy of every request received so far.
func (m *Model) Requests() []llm.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]llm.Request(nil), m.calls...)
}

// Call builds a tool call with JSON-encoded args.
func Call(id, name string, args map[string]any) llm.ToolCall {
	b, err := json.Marshal(args)
	if err != nil {
		panic(err)
	}
	return llm.ToolCall{ID: id, Name: name, Arguments: b}
}

// ToolUse is a step requesting the given tool calls.
func ToolUse(calls ...llm.ToolCall) Step {
	return Step{Response: llm.Response{ToolCalls: calls, StopReason: llm.StopToolUse}}
}

// Final is a step answering with text and no tool calls.
func Final(text string) Step {
	return Step{Response: llm.Response{Text: text, StopReason: llm.StopEndTurn}}
}

// Fail is a step returning err.
func Fail(err error) Step {
	return Step{Err: err}
}
