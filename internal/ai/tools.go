package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/partnerdesk/backend/internal/faults"
)

// ToolFunc is a pure function from structured args to a structured result.
// Tools must be idempotent; the registry enforces the time bound.
type ToolFunc func(ctx context.Context, args json.RawMessage) (any, error)

// ToolTimeout bounds a single tool invocation.
const ToolTimeout = 10 * time.Second

// Registry dispatches tool calls requested by the LLM. Each invocation runs
// on its own goroutine under the time bound. Tool bodies must not be handed
// to the sheet-RPC worker pool: the gateway calls inside them already go
// there, and a body parked on a worker slot would starve its own inner call.
type Registry struct {
	timeout time.Duration

	mu  sync.RWMutex
	fns map[string]ToolFunc
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{timeout: ToolTimeout, fns: make(map[string]ToolFunc)}
}

// Register adds a tool under its wire name.
func (r *Registry) Register(name string, fn ToolFunc) {
	r.mu.Lock()
	r.fns[name] = fn
	r.mu.Unlock()
}

// Names lists the registered tools.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.fns))
	for n := range r.fns {
		names = append(names, n)
	}
	return names
}

// Invoke runs one tool call and renders its result as JSON. Errors,
// including the time bound firing, come back as an error payload the LLM
// can read and retry on, never as a Go error: a broken tool must not take
// the whole turn down.
func (r *Registry) Invoke(ctx context.Context, call ToolCall) string {
	r.mu.RLock()
	fn, ok := r.fns[call.Name]
	r.mu.RUnlock()
	if !ok {
		return errorPayload(fmt.Sprintf("unknown tool %q", call.Name))
	}

	tctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	type outcome struct {
		result any
		err    error
	}
	// Buffered so a body that outlives the bound can still deliver and exit.
	done := make(chan outcome, 1)
	go func() {
		result, ferr := fn(tctx, call.Args)
		done <- outcome{result: result, err: ferr}
	}()

	var out outcome
	select {
	case out = <-done:
	case <-tctx.Done():
		if ctx.Err() == nil {
			return errorPayload(fmt.Sprintf("tool %q timed out after %s", call.Name, r.timeout))
		}
		return errorPayload(fmt.Sprintf("tool %q failed: %v", call.Name, ctx.Err()))
	}
	switch {
	case out.err == nil:
	case tctx.Err() != nil && ctx.Err() == nil:
		return errorPayload(fmt.Sprintf("tool %q timed out after %s", call.Name, r.timeout))
	case faults.IsTransient(out.err):
		return errorPayload(fmt.Sprintf("tool %q temporarily unavailable", call.Name))
	default:
		return errorPayload(fmt.Sprintf("tool %q failed: %v", call.Name, out.err))
	}

	data, err := json.Marshal(out.result)
	if err != nil {
		return errorPayload(fmt.Sprintf("tool %q produced unencodable result", call.Name))
	}
	return string(data)
}

func errorPayload(msg string) string {
	data, _ := json.Marshal(map[string]string{"error": msg})
	return string(data)
}
