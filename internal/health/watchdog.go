package health

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/partnerdesk/backend/internal/tasks"
)

const (
	watchdogInterval = 30 * time.Second
	staleAfter       = 120 * time.Second
)

// TaskScope is the slice of the task tracker the watchdog needs: a state
// dump for the post-mortem log and a way to stop everything.
type TaskScope interface {
	Snapshot() []tasks.Record
	CancelAll()
}

// WatchdogOptions tune the watchdog; zero values mean defaults.
type WatchdogOptions struct {
	Interval   time.Duration
	StaleAfter time.Duration
	Notify     func(reason string) // optional, called once before tasks are cancelled
	Exit       func(code int)      // test hook, defaults to os.Exit
}

// Watchdog verifies the polling loop still beats. A stalled loop means the
// process holds the messenger token without consuming updates, which is
// worse than dying: the supervisor can restart a dead process.
type Watchdog struct {
	hb      *Heartbeat
	scope   TaskScope
	log     *slog.Logger
	opts    WatchdogOptions
	now     func() time.Time
	once    sync.Once
	tripped chan struct{}
}

// NewWatchdog builds the watchdog.
func NewWatchdog(hb *Heartbeat, scope TaskScope, log *slog.Logger, opts WatchdogOptions) *Watchdog {
	if opts.Interval <= 0 {
		opts.Interval = watchdogInterval
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = staleAfter
	}
	if opts.Exit == nil {
		opts.Exit = os.Exit
	}
	return &Watchdog{
		hb:      hb,
		scope:   scope,
		log:     log,
		opts:    opts,
		now:     time.Now,
		tripped: make(chan struct{}),
	}
}

// Run checks the heartbeat until the context ends or the watchdog trips.
func (w *Watchdog) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.opts.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.tripped:
			return nil
		case <-ticker.C:
			if age := w.now().Sub(w.hb.Last()); age > w.opts.StaleAfter {
				w.trip("polling loop stalled", age)
			}
		}
	}
}

// Escalate is the health monitor's hook: the messenger has been unreachable
// past the graceful-reconnect threshold.
func (w *Watchdog) Escalate() {
	w.trip("messenger unreachable", w.now().Sub(w.hb.Last()))
}

// trip dumps state, cancels every task and exits non-zero. Runs once.
func (w *Watchdog) trip(reason string, staleness time.Duration) {
	w.once.Do(func() {
		attrs := []any{
			slog.String("severity", "CRITICAL"),
			slog.String("reason", reason),
			slog.Duration("heartbeat_age", staleness),
		}
		for _, rec := range w.scope.Snapshot() {
			attrs = append(attrs, slog.Group("task_"+rec.Name,
				slog.String("state", string(rec.State)),
				slog.Time("started_at", rec.StartedAt),
				slog.String("error", rec.Err)))
		}
		w.log.Error("watchdog tripped, exiting for supervisor restart", attrs...)
		if w.opts.Notify != nil {
			w.opts.Notify(reason)
		}
		w.scope.CancelAll()
		close(w.tripped)
		w.opts.Exit(1)
	})
}
