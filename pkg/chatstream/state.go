package chatstream

// State is the lifecycle of one assistant message.
//
//	Empty ──▶ Streaming ──▶ Completed
//	  │           │
//	  └───────────┴──────▶ Failed
type State int

const (
	StateEmpty State = iota
	StateStreaming
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StateStreaming:
		return "streaming"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further mutation is accepted.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}
