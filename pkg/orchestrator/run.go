package orchestrator

import (
	"fmt"
	"time"

	"github.com/wilhg/toolforge/pkg/adapters/llm"
	"github.com/wilhg/toolforge/pkg/errmodel"
	"github.com/wilhg/toolforge/pkg/transcript"
)

// Progress levels, matching MCP logging levels.
const (
	LevelInfo    = "info"
	LevelWarning = "warning"
	LevelError   = "error"
)

// Event is a progress notification emitted while a run advances.
type Event struct {
	RunID     string
	Tool      string
	State     State
	Iteration int
	Level     string
	Message   string
}

// Run is the execution record of one composite tool call. It is owned by the
// call that created it and discarded after the result is produced.
type Run struct {
	ID            string
	Tool          string
	Goal          string
	Input         map[string]any
	Transcript    []llm.Message
	Iterations    int
	MaxIterations int
	State         State
	History       []State
	Answer        string
	Err           *errmodel.Error
	Progress      []string
	StartedAt     time.Time
	FinishedAt    time.Time
}

// Text is the result shown to the caller. It is never empty for a terminal run.
func (r *Run) Text() string {
	switch r.State {
	case StateDone:
		return r.Answer
	case StateLimitExceeded:
		msg := fmt.Sprintf("Orchestration failed: Maximum iterations (%d) reached without completion", r.MaxIterations)
		if partial := transcript.LastAssistantText(r.Transcript); partial != "" {
			msg += "\n\nPartial result:\n" + partial
		}
		return msg
	case StateFailed:
		reason := "unknown error"
		if r.Err != nil {
			reason = r.Err.Message
		}
		return "Orchestration error: " + reason
	}
	return fmt.Sprintf("Orchestration in progress (%s)", r.State)
}

// IsError reports whether the run ended without an answer.
func (r *Run) IsError() bool {
	return r.State == StateLimitExceeded || r.State == StateFailed
}

// Duration is the wall time of a finished run.
func (r *Run) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Summary is the JSON view of a finished run.
type Summary struct {
	ID         string         `json:"id"`
	Tool       string         `json:"tool"`
	Input      map[string]any `json:"input,omitempty"`
	State      State          `json:"state"`
	Iterations int            `json:"iterations"`
	Answer     string         `json:"answer,omitempty"`
	Error      string         `json:"error,omitempty"`
	Transcript []llm.Message  `json:"transcript,omitempty"`
	Progress   []string       `json:"progress,omitempty"`
	DurationMS int64          `json:"duration_ms"`
}

// Summary returns the JSON view of r. The transcript is included when
// withTranscript is set.
func (r *Run) Summary(withTranscript bool) Summary {
	s := Summary{
		ID:         r.ID,
		Tool:       r.Tool,
		Input:      r.Input,
		State:      r.State,
		Iterations: r.Iterations,
		Answer:     r.Answer,
		Progress:   append([]string(nil), r.Progress...),
		DurationMS: r.Duration().Milliseconds(),
	}
	if r.IsError() {
		s.Error = r.Text()
	}
	if withTranscript {
		s.Transcript = transcript.Clone(r.Transcript)
	}
	return s
}
