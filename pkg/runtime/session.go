package runtime

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// ProgressSink receives progress messages as they happen, e.g. to forward them
// to a connected client.
type ProgressSink func(ctx context.Context, level, msg string)

// Session is the per-call context of one tool execution. It is created by the
// request-handling layer and passed into Execute; nothing outlives it.
type Session struct {
	ID string

	mu       sync.Mutex
	progress []string
	sink     ProgressSink
}

// NewSession returns a session with a fresh id. sink may be nil.
func NewSession(sink ProgressSink) *Session {
	return &Session{ID: uuid.NewString(), sink: sink}
}

// Report records a progress message and forwards it to the sink.
func (s *Session) Report(ctx context.Context, level, msg string) {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.progress = append(s.progress, msg)
	sink := s.sink
	s.mu.Unlock()
	if sink != nil {
		sink(ctx, level, msg)
	}
}

// Progress returns the messages recorded so far.
func (s *Session) Progress() []string {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.progress...)
}

// ProgressLog formats the recorded messages as a block to prepend to a result,
// or "" when there are none.
func (s *Session) ProgressLog() string {
	msgs := s.Progress()
	if len(msgs) == 0 {
		return ""
	}
	return "\n\n--- Progress Log ---\n" + strings.Join(msgs, "\n") + "\n--- End Progress Log ---\n\n"
}
