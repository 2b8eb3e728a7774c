// Package breaker implements the per-endpoint circuit breaker guarding the
// spreadsheet contours. A breaker trips to open after a run of consecutive
// failures, rejects immediately while open, and lets a single probe through
// once the cool-down elapses.
package breaker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/partnerdesk/backend/internal/faults"
	"github.com/partnerdesk/backend/internal/metrics"
)

// State of a breaker.
type State int

const (
	StateClosed State = iota // normal operation, calls pass through
	StateOpen                // failure threshold exceeded, calls rejected
	StateHalfOpen            // cool-down elapsed, one probe allowed
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Config tunes a single breaker.
type Config struct {
	// FailureThreshold is the number of consecutive failures that trips the
	// breaker open.
	FailureThreshold int

	// CoolDown is how long the breaker stays open before allowing a probe.
	CoolDown time.Duration

	// OnStateChange is invoked (outside the lock) on every transition.
	OnStateChange func(endpoint string, from, to State)

	// Now is the clock; defaults to time.Now. Tests inject a fake.
	Now func() time.Time
}

func (c Config) withDefaults() Config {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	if c.CoolDown <= 0 {
		c.CoolDown = 60 * time.Second
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// Breaker tracks one named endpoint.
type Breaker struct {
	endpoint string
	cfg      Config

	mu          sync.Mutex
	state       State
	failures    int       // consecutive failures while closed
	openedAt    time.Time // when the breaker last tripped
	probeActive bool      // a half-open probe is in flight
}

// New creates a breaker for the named endpoint.
func New(endpoint string, cfg Config) *Breaker {
	return &Breaker{endpoint: endpoint, cfg: cfg.withDefaults()}
}

// Endpoint returns the name the breaker guards.
func (b *Breaker) Endpoint() string { return b.endpoint }

// State reports the current state, folding in cool-down expiry.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.currentState()
}

// Call runs fn if the breaker allows it, recording the outcome. While open it
// returns faults.BreakerOpen without invoking fn. In half-open state exactly
// one caller wins the probe; the rest are rejected as if open.
func (b *Breaker) Call(fn func() error) error {
	probe, err := b.before()
	if err != nil {
		return err
	}

	err = fn()
	b.after(probe, !countsAsFailure(err))
	return err
}

// countsAsFailure decides what the breaker holds against the endpoint.
// Only availability problems count: transient and unclassified errors.
// NotFound, Validation and Permanent mean the backend answered. A bare
// context error is the caller giving up before the call ran, not the
// endpoint failing; a genuine RPC timeout arrives already classified
// Transient and still counts.
func countsAsFailure(err error) bool {
	if err == nil {
		return false
	}
	switch faults.KindOf(err) {
	case faults.KindTransient:
		return true
	case faults.KindUnknown:
		return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
	default:
		return false
	}
}

func (b *Breaker) before() (probe bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.currentState() {
	case StateOpen:
		return false, faults.BreakerOpen(b.endpoint)
	case StateHalfOpen:
		if b.probeActive {
			return false, faults.BreakerOpen(b.endpoint)
		}
		b.probeActive = true
		return true, nil
	default:
		return false, nil
	}
}

func (b *Breaker) after(probe, success bool) {
	b.mu.Lock()
	state := b.currentState()

	var transition func()
	switch state {
	case StateClosed:
		if success {
			b.failures = 0
		} else {
			b.failures++
			if b.failures >= b.cfg.FailureThreshold {
				transition = b.setStateLocked(StateOpen)
			}
		}
	case StateHalfOpen:
		if probe {
			b.probeActive = false
			if success {
				transition = b.setStateLocked(StateClosed)
			} else {
				transition = b.setStateLocked(StateOpen)
			}
		}
	}
	b.mu.Unlock()

	if transition != nil {
		transition()
	}
}

// currentState must be called under b.mu.
func (b *Breaker) currentState() State {
	if b.state == StateOpen && b.cfg.Now().Sub(b.openedAt) >= b.cfg.CoolDown {
		b.state = StateHalfOpen
		b.probeActive = false
	}
	return b.state
}

// setStateLocked performs the transition and returns the notification to run
// after the lock is released.
func (b *Breaker) setStateLocked(to State) func() {
	from := b.state
	if from == to {
		return nil
	}
	b.state = to
	switch to {
	case StateOpen:
		b.openedAt = b.cfg.Now()
		b.failures = 0
	case StateClosed:
		b.failures = 0
	}
	if b.cfg.OnStateChange == nil {
		return nil
	}
	endpoint := b.endpoint
	cb := b.cfg.OnStateChange
	return func() { cb(endpoint, from, to) }
}

// Registry hands out one breaker per endpoint name.
type Registry struct {
	cfg Config
	log *slog.Logger

	mu       sync.Mutex
	breakers map[string]*Breaker
}

// NewRegistry creates a registry; every breaker it mints shares cfg. Each
// transition updates the breaker-state gauge, then runs the configured hook
// or, absent one, logs the change.
func NewRegistry(cfg Config, log *slog.Logger) *Registry {
	base := cfg.withDefaults()
	hook := base.OnStateChange
	base.OnStateChange = func(endpoint string, from, to State) {
		metrics.ObserveBreaker(endpoint, int(to))
		if hook != nil {
			hook(endpoint, from, to)
			return
		}
		if log != nil {
			log.Warn("breaker state change",
				slog.String("endpoint", endpoint),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
		}
	}
	return &Registry{cfg: base, log: log, breakers: make(map[string]*Breaker)}
}

// For returns the breaker for the endpoint, creating it on first use.
func (r *Registry) For(endpoint string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.breakers[endpoint]
	if !ok {
		b = New(endpoint, r.cfg)
		r.breakers[endpoint] = b
	}
	return b
}

// Call runs fn under the endpoint's breaker.
func (r *Registry) Call(endpoint string, fn func() error) error {
	return r.For(endpoint).Call(fn)
}
