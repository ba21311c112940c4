package domain

// RunStatus is the progressive-card state machine status for one reply cycle.
type RunStatus int

const (
	RunIdle RunStatus = iota
	RunThinking
	RunToolCalling
	RunWaitingToolResult
	RunCompleted
	RunError
)

func (s RunStatus) String() string {
	switch s {
	case RunIdle:
		return "idle"
	case RunThinking:
		return "thinking"
	case RunToolCalling:
		return "tool_calling"
	case RunWaitingToolResult:
		return "waiting_tool_result"
	case RunCompleted:
		return "completed"
	case RunError:
		return "error"
	}
	return "unknown"
}

// EventPhase tags a structured agent event within a reply stream.
type EventPhase string

const (
	PhaseAssistant  EventPhase = "assistant"
	PhaseToolCall   EventPhase = "tool_call"
	PhaseToolResult EventPhase = "tool_result"
	PhaseError      EventPhase = "error"
)

// AgentEvent is one structured item produced by the downstream agent.
type AgentEvent struct {
	Phase EventPhase
	Name  string // tool name for tool_call/tool_result
	Text  string
}

// ReplyFragment is one unit delivered to a render controller. Either Events
// carries structured agent items, or Text carries a flat payload the
// controller splits heuristically.
type ReplyFragment struct {
	Text   string
	Events []AgentEvent
}
