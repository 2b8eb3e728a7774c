package health

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/partnerdesk/backend/internal/faults"
	"github.com/partnerdesk/backend/internal/metrics"
	"github.com/partnerdesk/backend/internal/sheets"
)

// Messenger is the identity ping the monitor uses to verify the token.
type Messenger interface {
	Ping(ctx context.Context) error
}

// SheetGateway is the slice of the gateway the monitor probes.
type SheetGateway interface {
	ReadCell(ctx context.Context, ep sheets.Endpoint, row, col int) (string, error)
	InvalidateClient()
}

const (
	defaultInterval     = 300 * time.Second
	invalidateThreshold = 3
	escalateThreshold   = 5
)

// Options tune the monitor; zero values mean defaults.
type Options struct {
	Interval time.Duration
}

// Monitor pings the messenger and runs the cheapest read on every sheet
// contour. Three consecutive failures on a contour rebuild the gateway
// client; five on the messenger hand the process to the watchdog.
type Monitor struct {
	messenger Messenger
	gw        SheetGateway
	contours  []sheets.Endpoint
	escalate  func() // watchdog hook
	log       *slog.Logger
	interval  time.Duration

	mu       sync.Mutex
	failures map[string]int
}

// NewMonitor builds the monitor. escalate is invoked when the messenger is
// persistently unreachable; nil disables escalation.
func NewMonitor(messenger Messenger, gw SheetGateway, contours []sheets.Endpoint, escalate func(), log *slog.Logger, opts Options) *Monitor {
	interval := opts.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Monitor{
		messenger: messenger,
		gw:        gw,
		contours:  contours,
		escalate:  escalate,
		log:       log,
		interval:  interval,
		failures:  make(map[string]int),
	}
}

// Healthy reports whether every contour is below its failure threshold.
// The ops /readyz endpoint serves this.
func (m *Monitor) Healthy() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, n := range m.failures {
		if n >= invalidateThreshold {
			return false
		}
	}
	return true
}

// Run checks on the configured interval until the context ends.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.check(ctx)
		}
	}
}

// check runs one full health pass.
func (m *Monitor) check(ctx context.Context) {
	if err := m.messenger.Ping(ctx); err != nil {
		n := m.fail("messenger")
		m.log.Warn("messenger ping failed",
			slog.Int("consecutive", n),
			slog.String("error", err.Error()))
		if n >= escalateThreshold && m.escalate != nil {
			m.log.Error("messenger unreachable beyond threshold, escalating to watchdog",
				slog.Int("consecutive", n))
			m.escalate()
		}
	} else {
		m.reset("messenger")
	}

	for _, ep := range m.contours {
		m.probe(ctx, ep)
	}
}

// probe runs the cheapest read on one contour. An empty sheet (NotFound) is
// a healthy answer: the backend responded.
func (m *Monitor) probe(ctx context.Context, ep sheets.Endpoint) {
	_, err := m.gw.ReadCell(ctx, ep, 1, 1)
	if err == nil || faults.IsNotFound(err) {
		m.reset(string(ep))
		return
	}
	n := m.fail(string(ep))
	m.log.Warn("contour probe failed",
		slog.String("contour", string(ep)),
		slog.Int("consecutive", n),
		slog.String("error", err.Error()))
	if n == invalidateThreshold {
		m.log.Warn("rebuilding sheets client", slog.String("contour", string(ep)))
		m.gw.InvalidateClient()
	}
}

func (m *Monitor) fail(contour string) int {
	metrics.ContourFailures.WithLabelValues(contour).Inc()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[contour]++
	return m.failures[contour]
}

func (m *Monitor) reset(contour string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[contour] = 0
}
