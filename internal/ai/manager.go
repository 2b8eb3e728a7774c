// Package ai owns the per-user LLM conversation sessions: single-flight
// turns, streaming output, tool dispatch and cancellation. A newer user
// message supersedes the in-flight turn; the latest message always wins.
package ai

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/partnerdesk/backend/internal/faults"
	"github.com/partnerdesk/backend/internal/logging"
	"github.com/partnerdesk/backend/internal/metrics"
)

// apology is the user-visible text emitted when a turn fails for good.
const apology = "К сожалению, сервис сейчас перегружен. Пожалуйста, повторите запрос чуть позже."

// Options tune the manager; zero values mean defaults.
type Options struct {
	// StreamIdleTimeout aborts a run whose event stream goes quiet. Default 60s.
	StreamIdleTimeout time.Duration

	// EscalationPatterns override the built-in "contact a specialist" set.
	EscalationPatterns []string
}

func (o Options) withDefaults() Options {
	if o.StreamIdleTimeout <= 0 {
		o.StreamIdleTimeout = 60 * time.Second
	}
	if len(o.EscalationPatterns) == 0 {
		o.EscalationPatterns = defaultEscalationPatterns
	}
	return o
}

// Manager owns every conversation session. Sessions are created on demand
// and live for the process lifetime; the population is bounded by the number
// of distinct users.
type Manager struct {
	vendor  Vendor
	tools   *Registry
	log     *slog.Logger
	history *History // nil disables chat history
	opts    Options
	now     func() time.Time

	mu       sync.Mutex
	sessions map[int64]*session
}

// session is the per-user state. turnMu serializes turns; the inner mutex
// guards the supersede bookkeeping.
type session struct {
	userID int64
	turnMu sync.Mutex

	mu           sync.Mutex
	threadID     string
	cancelTurn   context.CancelFunc
	currentTurn  string
	lastActivity time.Time
}

// NewManager builds the session manager. history may be nil.
func NewManager(vendor Vendor, tools *Registry, history *History, log *slog.Logger, opts Options) *Manager {
	return &Manager{
		vendor:   vendor,
		tools:    tools,
		log:      log,
		history:  history,
		opts:     opts.withDefaults(),
		now:      time.Now,
		sessions: make(map[int64]*session),
	}
}

// SessionCount reports how many sessions exist, for health snapshots.
func (m *Manager) SessionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

func (m *Manager) session(userID int64) *session {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[userID]
	if !ok {
		s = &session{userID: userID}
		m.sessions[userID] = s
	}
	return s
}

// Dispatch starts a turn for the user's message and returns its event
// stream. If a turn is already in flight for this session it is cancelled;
// the new turn starts once the old one observes cancellation and releases
// the session. The caller must drain the channel.
func (m *Manager) Dispatch(ctx context.Context, userID int64, text string) <-chan Event {
	s := m.session(userID)
	turnID := uuid.NewString()
	turnCtx, cancel := context.WithCancel(ctx)

	s.mu.Lock()
	if s.cancelTurn != nil {
		s.cancelTurn() // supersede: the latest message always wins
	}
	s.cancelTurn = cancel
	s.currentTurn = turnID
	s.lastActivity = m.now()
	s.mu.Unlock()

	out := make(chan Event, 16)
	go func() {
		defer close(out)
		s.turnMu.Lock()
		defer s.turnMu.Unlock()

		if turnCtx.Err() != nil {
			// Superseded while still queued behind the previous turn.
			out <- Event{Kind: KindCancelled}
			metrics.Turns.WithLabelValues("cancelled").Inc()
			return
		}

		m.runTurn(turnCtx, s, turnID, text, out)

		s.mu.Lock()
		if s.currentTurn == turnID {
			s.cancelTurn = nil
			s.currentTurn = ""
		}
		s.mu.Unlock()
		cancel()
	}()
	return out
}

type turnVerdict int

const (
	turnDone turnVerdict = iota
	turnCancelled
	turnRetryable
	turnFatal
)

func (m *Manager) runTurn(ctx context.Context, s *session, turnID, text string, out chan<- Event) {
	uid := logging.MaskUserID(strconv.FormatInt(s.userID, 10))
	m.log.Debug("turn started", slog.String("user_id", uid), slog.String("turn_id", turnID))
	m.record(s.userID, turnID, "user", text)

	threadID, err := m.thread(ctx, s)
	if err != nil {
		m.finish(ctx, out, uid, turnID, err)
		return
	}
	if err := m.vendor.AddUserMessage(ctx, threadID, text); err != nil {
		m.finish(ctx, out, uid, turnID, err)
		return
	}

	// Vendor transients get one fresh run within the turn. The thread,
	// and with it the history, is preserved across the retry.
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		final, verdict, err := m.streamRun(ctx, threadID, out)
		switch verdict {
		case turnDone:
			escalate := classifyEscalation(final, m.opts.EscalationPatterns)
			m.record(s.userID, turnID, "assistant", final)
			out <- Event{Kind: KindFinal, Text: final, Escalate: escalate}
			metrics.Turns.WithLabelValues("completed").Inc()
			m.log.Debug("turn completed",
				slog.String("user_id", uid),
				slog.String("turn_id", turnID),
				slog.Bool("escalate", escalate))
			return
		case turnCancelled:
			out <- Event{Kind: KindCancelled}
			metrics.Turns.WithLabelValues("cancelled").Inc()
			m.log.Debug("turn cancelled", slog.String("user_id", uid), slog.String("turn_id", turnID))
			return
		case turnRetryable:
			lastErr = err
			m.log.Warn("run failed, retrying once within turn",
				slog.String("user_id", uid),
				slog.String("turn_id", turnID),
				slog.String("error", err.Error()))
		case turnFatal:
			m.finish(ctx, out, uid, turnID, err)
			return
		}
	}
	m.finish(ctx, out, uid, turnID, lastErr)
}

// finish ends a turn that cannot produce a reply: cancelled turns emit
// Cancelled, everything else emits the apology through the normal path.
func (m *Manager) finish(ctx context.Context, out chan<- Event, uid, turnID string, err error) {
	if ctx.Err() != nil {
		out <- Event{Kind: KindCancelled}
		metrics.Turns.WithLabelValues("cancelled").Inc()
		return
	}
	out <- Event{Kind: KindFailed, Text: apology, Err: err}
	metrics.Turns.WithLabelValues("failed").Inc()
	m.log.Error("turn failed",
		slog.String("user_id", uid),
		slog.String("turn_id", turnID),
		slog.String("error", err.Error()))
}

// thread returns the session's vendor thread, creating it lazily.
func (m *Manager) thread(ctx context.Context, s *session) (string, error) {
	s.mu.Lock()
	threadID := s.threadID
	s.mu.Unlock()
	if threadID != "" {
		return threadID, nil
	}
	threadID, err := m.vendor.CreateThread(ctx)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	s.threadID = threadID
	s.mu.Unlock()
	return threadID, nil
}

// streamRun drives one vendor run to a terminal state, emitting chunks.
func (m *Manager) streamRun(ctx context.Context, threadID string, out chan<- Event) (string, turnVerdict, error) {
	run, err := m.vendor.StartRun(ctx, threadID)
	if err != nil {
		return "", verdictFor(ctx, err), err
	}

	idle := time.NewTimer(m.opts.StreamIdleTimeout)
	defer idle.Stop()

	for {
		select {
		case <-ctx.Done():
			m.stopRun(run)
			return "", turnCancelled, ctx.Err()

		case <-idle.C:
			m.stopRun(run)
			err := faults.Transient("run stream idle for %s", m.opts.StreamIdleTimeout)
			return "", turnRetryable, err

		case ev, ok := <-run.Events():
			if !ok {
				return "", turnRetryable, faults.Transient("run stream ended without terminal event")
			}
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(m.opts.StreamIdleTimeout)

			switch ev.Kind {
			case RunDelta:
				// Cancellation is checked at every chunk boundary.
				if ctx.Err() != nil {
					m.stopRun(run)
					return "", turnCancelled, ctx.Err()
				}
				out <- Event{Kind: KindChunk, Text: ev.Delta}

			case RunToolCalls:
				if ctx.Err() != nil {
					m.stopRun(run)
					return "", turnCancelled, ctx.Err()
				}
				outputs := make([]ToolOutput, 0, len(ev.Calls))
				for _, call := range ev.Calls {
					if ctx.Err() != nil {
						m.stopRun(run)
						return "", turnCancelled, ctx.Err()
					}
					outputs = append(outputs, ToolOutput{
						CallID: call.ID,
						Output: m.tools.Invoke(ctx, call),
					})
				}
				if err := run.SubmitToolOutputs(ctx, outputs); err != nil {
					return "", verdictFor(ctx, err), err
				}

			case RunCompleted:
				return ev.Final, turnDone, nil

			case RunFailed:
				return "", verdictFor(ctx, ev.Err), ev.Err
			}
		}
	}
}

// stopRun issues the best-effort vendor stop with its own short deadline.
func (m *Manager) stopRun(run RunHandle) {
	sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := run.Cancel(sctx); err != nil {
		m.log.Debug("run cancel failed", slog.String("error", err.Error()))
	}
}

func verdictFor(ctx context.Context, err error) turnVerdict {
	switch {
	case ctx.Err() != nil:
		return turnCancelled
	case faults.IsTransient(err):
		return turnRetryable
	default:
		return turnFatal
	}
}

// record appends to the chat history, best-effort.
func (m *Manager) record(userID int64, turnID, role, text string) {
	if m.history == nil {
		return
	}
	err := m.history.Append(TurnRecord{
		UserID: userID,
		TurnID: turnID,
		Role:   role,
		Text:   text,
		TS:     m.now(),
	})
	if err != nil {
		m.log.Warn("chat history append failed", slog.String("error", err.Error()))
	}
}
