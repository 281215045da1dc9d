package eval

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/wilhg/toolforge/pkg/adapters/llm"
	"github.com/wilhg/toolforge/pkg/errmodel"
	"github.com/wilhg/toolforge/pkg/orchestrator"
	"github.com/wilhg/toolforge/pkg/tools"
)

// Capture is a recorded run. It decodes from a run summary that includes the
// transcript.
type Capture struct {
	Tool       string         `json:"tool"`
	Input      map[string]any `json:"input"`
	Transcript []llm.Message  `json:"transcript"`
}

// CaptureRun records r for later replay.
func CaptureRun(r *orchestrator.Run) Capture {
	s := r.Summary(true)
	return Capture{Tool: s.Tool, Input: s.Input, Transcript: s.Transcript}
}

// ReadCapture decodes a capture from JSON.
func ReadCapture(r io.Reader) (Capture, error) {
	var c Capture
	if err := json.NewDecoder(r).Decode(&c); err != nil {
		return Capture{}, errmodel.Validation("bad_json", "capture is not valid JSON", map[string]any{"detail": err.Error()})
	}
	if c.Tool == "" {
		return Capture{}, errmodel.Validation("missing_field", "capture has no tool", nil)
	}
	return c, nil
}

// ErrCaptureExhausted is returned when the run asks for more reasoning turns
// than were recorded.
var ErrCaptureExhausted = fmt.Errorf("replay: capture exhausted: %w", llm.ErrPermanent)

// replayModel answers with the recorded assistant turns in order.
type replayModel struct {
	mu    sync.Mutex
	turns []llm.Message
	next  int
}

func (m *replayModel) Name() string { return "replay" }

func (m *replayModel) Generate(ctx context.Context, _ llm.Request) (llm.Response, error) {
	if err := ctx.Err(); err != nil {
		return llm.Response{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.next >= len(m.turns) {
		return llm.Response{}, ErrCaptureExhausted
	}
	t := m.turns[m.next]
	m.next++
	resp := llm.Response{Text: t.Content, ToolCalls: t.ToolCalls, StopReason: llm.StopEndTurn, Model: "replay"}
	if len(t.ToolCalls) > 0 {
		resp.StopReason = llm.StopToolUse
	}
	return resp, nil
}

// Replay reruns the captured reasoning turns against reg and inv. Tool
// results come from inv, so the outcome shows whether the recorded plan still
// holds against the current API.
func Replay(ctx context.Context, reg *tools.Registry, inv orchestrator.Invoker, c Capture, opts ...orchestrator.Option) (*orchestrator.Run, error) {
	comp, ok := reg.LookupComposite(c.Tool)
	if !ok {
		return nil, errmodel.Validation("not_found", "unknown composite tool", map[string]any{"tool": c.Tool})
	}
	m := &replayModel{}
	for _, msg := range c.Transcript {
		if msg.Role == llm.RoleAssistant {
			m.turns = append(m.turns, msg)
		}
	}
	return orchestrator.New(reg, inv, m, opts...).Run(ctx, comp, c.Input)
}
