package ai

import (
	"context"
	"encoding/json"
)

// ToolCall is the LLM asking for a tool invocation.
type ToolCall struct {
	ID   string
	Name string
	Args json.RawMessage
}

// ToolOutput answers one ToolCall.
type ToolOutput struct {
	CallID string
	Output string
}

// RunEventKind tags vendor run events.
type RunEventKind int

const (
	// RunDelta is an incremental text fragment.
	RunDelta RunEventKind = iota

	// RunToolCalls: the run is paused awaiting tool outputs.
	RunToolCalls

	// RunCompleted carries the full final reply. Terminal.
	RunCompleted

	// RunFailed is a terminal vendor failure.
	RunFailed
)

// RunEvent is one element of a run's event stream.
type RunEvent struct {
	Kind  RunEventKind
	Delta string
	Calls []ToolCall
	Final string
	Err   error
}

// RunHandle is one in-flight assistant run.
type RunHandle interface {
	// Events yields run events until a terminal one; the channel is closed
	// after the terminal event.
	Events() <-chan RunEvent

	// SubmitToolOutputs resumes a run paused on RunToolCalls.
	SubmitToolOutputs(ctx context.Context, outputs []ToolOutput) error

	// Cancel asks the vendor to stop the run. Best-effort.
	Cancel(ctx context.Context) error
}

// Vendor is the LLM backend the session manager drives. The vendor owns
// thread handles; the manager never inspects them. Errors must be classified
// through the faults taxonomy.
type Vendor interface {
	CreateThread(ctx context.Context) (string, error)
	AddUserMessage(ctx context.Context, threadID, text string) error
	StartRun(ctx context.Context, threadID string) (RunHandle, error)
}
