// Package monitor delivers specialist replies from the appeals sheet back to
// users. Delivery is at-least-once: the reply cell is cleared only after the
// message is sent and the sheet is updated, so a crash mid-sequence means a
// duplicate next tick, never a lost reply.
package monitor

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/partnerdesk/backend/internal/appeals"
	"github.com/partnerdesk/backend/internal/auth"
	"github.com/partnerdesk/backend/internal/logging"
	"github.com/partnerdesk/backend/internal/metrics"
)

// Appeals is the slice of the appeals service the monitor drives.
type Appeals interface {
	HasRecords(ctx context.Context) (bool, error)
	ScanSpecialistReplies(ctx context.Context) ([]appeals.Reply, error)
	Identity(ctx context.Context, userID int64) (*auth.Identity, error)
	AppendSpecialistNote(ctx context.Context, identity *auth.Identity, text string) error
	SetStatus(ctx context.Context, userID int64, status appeals.Status) error
	ClearSpecialistReply(ctx context.Context, rowNum int) error
}

// Sender pushes one text message to a chat.
type Sender interface {
	SendText(ctx context.Context, chatID int64, text string) error
}

// Options tune the monitor; zero values mean defaults.
type Options struct {
	Interval time.Duration // default 60s
	SendRate rate.Limit    // default 1/s
}

func (o Options) withDefaults() Options {
	if o.Interval <= 0 {
		o.Interval = 60 * time.Second
	}
	if o.SendRate <= 0 {
		o.SendRate = rate.Every(time.Second)
	}
	return o
}

// Monitor is the periodic specialist-reply sweep.
type Monitor struct {
	appeals Appeals
	send    Sender
	log     *slog.Logger
	opts    Options
	limiter *rate.Limiter
}

// New builds the monitor.
func New(ap Appeals, send Sender, log *slog.Logger, opts Options) *Monitor {
	opts = opts.withDefaults()
	return &Monitor{
		appeals: ap,
		send:    send,
		log:     log,
		opts:    opts,
		limiter: rate.NewLimiter(opts.SendRate, 1),
	}
}

// Run sweeps on the configured interval until the context ends.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.opts.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.sweep(ctx)
		}
	}
}

// sweep runs one pass. Per-reply failures are logged and left in place for
// the next tick; a sheet read failure abandons the whole pass.
func (m *Monitor) sweep(ctx context.Context) {
	has, err := m.appeals.HasRecords(ctx)
	if err != nil {
		m.log.Warn("appeals existence check failed", slog.String("error", err.Error()))
		return
	}
	if !has {
		return
	}

	replies, err := m.appeals.ScanSpecialistReplies(ctx)
	if err != nil {
		m.log.Warn("specialist reply scan failed", slog.String("error", err.Error()))
		return
	}
	for _, reply := range replies {
		if err := m.limiter.Wait(ctx); err != nil {
			return
		}
		m.deliver(ctx, reply)
	}
}

// deliver pushes one reply through send, note, status and clear, in that
// order. Aborting after a partial step is safe: the uncleared cell makes the
// next sweep pick the reply up again.
func (m *Monitor) deliver(ctx context.Context, reply appeals.Reply) {
	uid := logging.MaskUserID(strconv.FormatInt(reply.UserID, 10))

	if err := m.send.SendText(ctx, reply.UserID, reply.Text); err != nil {
		m.log.Warn("specialist reply delivery failed",
			slog.String("user_id", uid),
			slog.String("error", err.Error()))
		return
	}
	identity, err := m.appeals.Identity(ctx, reply.UserID)
	if err != nil {
		m.log.Warn("appeal identity lookup failed",
			slog.String("user_id", uid),
			slog.String("error", err.Error()))
		return
	}
	if err := m.appeals.AppendSpecialistNote(ctx, identity, reply.Text); err != nil {
		m.log.Warn("specialist note append failed",
			slog.String("user_id", uid),
			slog.String("error", err.Error()))
		return
	}
	if err := m.appeals.SetStatus(ctx, reply.UserID, appeals.StatusResolved); err != nil {
		m.log.Warn("appeal resolve failed",
			slog.String("user_id", uid),
			slog.String("error", err.Error()))
		return
	}
	if err := m.appeals.ClearSpecialistReply(ctx, reply.Row); err != nil {
		m.log.Warn("reply cell clear failed, delivery will repeat",
			slog.String("user_id", uid),
			slog.String("error", err.Error()))
		return
	}
	metrics.SpecialistDeliveries.Inc()
	m.log.Info("specialist reply delivered", slog.String("user_id", uid))
}
