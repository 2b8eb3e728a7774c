// Package tasks tracks the named background loops of the process and guards
// single-instance ownership of the messenger token with a PID lock file.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
)

// State of one tracked task.
type State string

const (
	StateRunning State = "running"
	StateDone    State = "done"
	StateFailed  State = "failed"
)

// Record is the snapshot of one task. ID correlates the start and finish
// log records of a single run.
type Record struct {
	ID        string
	Name      string
	StartedAt time.Time
	State     State
	Err       string
}

// Tracker launches named tasks under one shared cancellation scope and
// remembers how each one ended.
type Tracker struct {
	log    *slog.Logger
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	records map[string]*Record
}

// NewTracker derives the task scope from parent.
func NewTracker(parent context.Context, log *slog.Logger) *Tracker {
	ctx, cancel := context.WithCancel(parent)
	return &Tracker{
		log:     log,
		ctx:     ctx,
		cancel:  cancel,
		records: make(map[string]*Record),
	}
}

// Context is the scope every task runs under.
func (t *Tracker) Context() context.Context { return t.ctx }

// Go starts fn as a tracked task. A task that returns the scope's own
// cancellation counts as done, not failed; a panic is captured as a failure
// and does not take the process down.
func (t *Tracker) Go(name string, fn func(ctx context.Context) error) {
	id := uuid.NewString()
	t.mu.Lock()
	t.records[name] = &Record{ID: id, Name: name, StartedAt: time.Now(), State: StateRunning}
	t.mu.Unlock()
	t.log.Info("task started", slog.String("task", name), slog.String("task_id", id))

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				t.finish(name, fmt.Errorf("panic: %v\n%s", r, debug.Stack()))
			}
		}()
		err := fn(t.ctx)
		if errors.Is(err, context.Canceled) && t.ctx.Err() != nil {
			err = nil
		}
		t.finish(name, err)
	}()
}

func (t *Tracker) finish(name string, err error) {
	t.mu.Lock()
	rec := t.records[name]
	if err != nil {
		rec.State = StateFailed
		rec.Err = err.Error()
	} else {
		rec.State = StateDone
	}
	t.mu.Unlock()

	if err != nil {
		t.log.Error("task failed", slog.String("task", name),
			slog.String("task_id", rec.ID), slog.String("error", err.Error()))
		return
	}
	t.log.Info("task finished", slog.String("task", name), slog.String("task_id", rec.ID))
}

// Snapshot lists every task record, for the watchdog's state dump and the
// ops endpoint.
func (t *Tracker) Snapshot() []Record {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Record, 0, len(t.records))
	for _, rec := range t.records {
		out = append(out, *rec)
	}
	return out
}

// CancelAll cancels the task scope without waiting.
func (t *Tracker) CancelAll() { t.cancel() }

// Shutdown cancels every task and waits up to grace for them to finish.
// Returns false if some task outlived the grace period.
func (t *Tracker) Shutdown(grace time.Duration) bool {
	t.cancel()
	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(grace):
		t.log.Error("tasks did not stop within grace period",
			slog.Duration("grace", grace))
		return false
	}
}
