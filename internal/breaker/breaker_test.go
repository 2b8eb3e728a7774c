package breaker

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/partnerdesk/backend/internal/faults"
	"github.com/partnerdesk/backend/internal/metrics"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestBreaker(clock *fakeClock) *Breaker {
	return New("appeals", Config{
		FailureThreshold: 5,
		CoolDown:         60 * time.Second,
		Now:              clock.Now,
	})
}

func failTransient() error { return faults.Transient("boom") }

func TestTripsAfterFiveConsecutiveFailures(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	b := newTestBreaker(clock)

	for i := 0; i < 5; i++ {
		err := b.Call(failTransient)
		require.Error(t, err)
		assert.False(t, faults.IsBreakerOpen(err), "call %d should reach the client", i)
	}
	assert.Equal(t, StateOpen, b.State())

	// Sixth call is rejected without invoking the client.
	invoked := false
	err := b.Call(func() error { invoked = true; return nil })
	assert.True(t, faults.IsBreakerOpen(err))
	assert.False(t, invoked)
}

func TestSuccessResetsFailureRun(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	b := newTestBreaker(clock)

	for i := 0; i < 4; i++ {
		_ = b.Call(failTransient)
	}
	require.NoError(t, b.Call(func() error { return nil }))
	for i := 0; i < 4; i++ {
		_ = b.Call(failTransient)
	}
	assert.Equal(t, StateClosed, b.State(), "run was broken by a success")
}

func TestNonAvailabilityErrorsDoNotTrip(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	b := newTestBreaker(clock)

	for i := 0; i < 10; i++ {
		_ = b.Call(func() error { return faults.NotFound("row missing") })
	}
	assert.Equal(t, StateClosed, b.State())
}

func TestHalfOpenSingleProbe(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	b := newTestBreaker(clock)

	for i := 0; i < 5; i++ {
		_ = b.Call(failTransient)
	}
	require.Equal(t, StateOpen, b.State())

	clock.Advance(59 * time.Second)
	err := b.Call(func() error { return nil })
	assert.True(t, faults.IsBreakerOpen(err), "cool-down not yet elapsed")

	clock.Advance(2 * time.Second)
	require.Equal(t, StateHalfOpen, b.State())

	// Probe succeeds -> closed again.
	require.NoError(t, b.Call(func() error { return nil }))
	assert.Equal(t, StateClosed, b.State())
}

func TestHalfOpenProbeFailureReopens(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	b := newTestBreaker(clock)

	for i := 0; i < 5; i++ {
		_ = b.Call(failTransient)
	}
	clock.Advance(61 * time.Second)
	require.Error(t, b.Call(failTransient))
	assert.Equal(t, StateOpen, b.State())

	// And the cool-down starts over.
	clock.Advance(30 * time.Second)
	err := b.Call(func() error { return nil })
	assert.True(t, faults.IsBreakerOpen(err))
}

func TestHalfOpenConcurrentCallersOnlyOneProbe(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	b := newTestBreaker(clock)

	for i := 0; i < 5; i++ {
		_ = b.Call(failTransient)
	}
	clock.Advance(61 * time.Second)

	// First caller takes the probe slot and holds it.
	entered := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- b.Call(func() error {
			close(entered)
			<-release
			return nil
		})
	}()
	<-entered

	// Second caller is rejected while the probe is in flight.
	err := b.Call(func() error { return nil })
	assert.True(t, faults.IsBreakerOpen(err))

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, StateClosed, b.State())
}

func TestCallerContextErrorsDoNotTrip(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	b := newTestBreaker(clock)

	// A shutdown burst surfaces bare context errors from the pool.
	for i := 0; i < 10; i++ {
		_ = b.Call(func() error { return context.Canceled })
	}
	for i := 0; i < 10; i++ {
		_ = b.Call(func() error { return context.DeadlineExceeded })
	}
	assert.Equal(t, StateClosed, b.State())

	// Classified transients, timeouts included, still count.
	for i := 0; i < 5; i++ {
		_ = b.Call(func() error {
			return faults.Wrap(faults.KindTransient, context.DeadlineExceeded, "rpc timed out")
		})
	}
	assert.Equal(t, StateOpen, b.State())
}

func TestRegistryUpdatesStateGauge(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	r := NewRegistry(Config{
		FailureThreshold: 2,
		CoolDown:         time.Minute,
		Now:              clock.Now,
	}, nil)

	_ = r.Call("gauge-ep", failTransient)
	_ = r.Call("gauge-ep", failTransient)
	assert.Equal(t, float64(StateOpen),
		testutil.ToFloat64(metrics.BreakerState.WithLabelValues("gauge-ep")))

	clock.Advance(61 * time.Second)
	require.NoError(t, r.Call("gauge-ep", func() error { return nil }))
	assert.Equal(t, float64(StateClosed),
		testutil.ToFloat64(metrics.BreakerState.WithLabelValues("gauge-ep")))
}

func TestRegistryStateChangeNotification(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	var transitions []string
	r := NewRegistry(Config{
		FailureThreshold: 2,
		CoolDown:         time.Minute,
		Now:              clock.Now,
		OnStateChange: func(endpoint string, from, to State) {
			transitions = append(transitions, endpoint+":"+from.String()+"->"+to.String())
		},
	}, nil)

	_ = r.Call("auth", failTransient)
	_ = r.Call("auth", failTransient)
	assert.Equal(t, []string{"auth:closed->open"}, transitions)

	// Independent endpoint is unaffected.
	assert.Equal(t, StateClosed, r.For("promotions").State())
}
