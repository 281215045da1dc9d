package orchestrator

// State is the position of a run in the orchestration state machine:
//
//	INIT -> REASONING -> TOOL_EXECUTING -> REASONING ... -> DONE | LIMIT_EXCEEDED | FAILED
type State int

const (
	StateInit State = iota
	StateReasoning
	StateToolExecuting
	StateDone
	StateLimitExceeded
	StateFailed
)

var stateNames = [...]string{
	StateInit:          "INIT",
	StateReasoning:     "REASONING",
	StateToolExecuting: "TOOL_EXECUTING",
	StateDone:          "DONE",
	StateLimitExceeded: "LIMIT_EXCEEDED",
	StateFailed:        "FAILED",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "UNKNOWN"
	}
	return stateNames[s]
}

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateDone || s == StateLimitExceeded || s == StateFailed
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// legal lists the permitted transitions.
var legal = map[State][]State{
	StateInit:          {StateReasoning, StateFailed},
	StateReasoning:     {StateToolExecuting, StateDone, StateFailed},
	StateToolExecuting: {StateReasoning, StateLimitExceeded, StateFailed},
}

func canTransition(from, to State) bool {
	for _, s := range legal[from] {
		if s == to {
			return true
		}
	}
	return false
}
