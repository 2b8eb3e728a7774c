package ai

// EventKind classifies what a turn emits downstream.
type EventKind int

const (
	// KindChunk is a partial reply fragment; more will follow.
	KindChunk EventKind = iota

	// KindFinal carries the complete reply text. Terminal.
	KindFinal

	// KindCancelled: the turn was superseded by a newer user message. Terminal.
	KindCancelled

	// KindFailed carries a user-visible apology and the underlying error. Terminal.
	KindFailed
)

func (k EventKind) String() string {
	switch k {
	case KindChunk:
		return "chunk"
	case KindFinal:
		return "final"
	case KindCancelled:
		return "cancelled"
	case KindFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Event is one element of a turn's output stream. A stream is zero or more
// chunks terminated by exactly one Final, Cancelled or Failed.
type Event struct {
	Kind EventKind
	Text string

	// Escalate is set on Final when the reply indicates the user should be
	// handed to a human specialist.
	Escalate bool

	// Err is set on Failed.
	Err error
}
