// Package health watches the external backends and the polling loop. The
// health monitor reconnects gracefully; the watchdog is the last resort that
// takes the process down for the supervisor to restart.
package health

import (
	"sync/atomic"
	"time"
)

// Heartbeat is the polling loop's liveness timestamp. The router beats it on
// every successful long-poll fetch, including empty ones; the watchdog reads
// it.
type Heartbeat struct {
	last atomic.Int64 // unix nanos
}

// NewHeartbeat starts with the current time so a freshly booted process is
// not instantly considered stalled.
func NewHeartbeat() *Heartbeat {
	h := &Heartbeat{}
	h.Beat()
	return h
}

// Beat records a successful fetch.
func (h *Heartbeat) Beat() { h.last.Store(time.Now().UnixNano()) }

// Last returns the time of the most recent beat.
func (h *Heartbeat) Last() time.Time { return time.Unix(0, h.last.Load()) }
