// Package metrics registers the process metrics and serves the ops HTTP
// surface (/healthz, /readyz, /metrics).
package metrics

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// SheetCalls counts gateway operations by endpoint, operation and outcome
	// ("ok", "transient", "permanent", "not_found", "breaker_open").
	SheetCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "desk_sheet_calls_total",
		Help: "Sheets gateway calls by endpoint, operation and outcome.",
	}, []string{"endpoint", "op", "outcome"})

	// BreakerState exports each endpoint breaker state (0 closed, 1 open,
	// 2 half-open).
	BreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "desk_breaker_state",
		Help: "Circuit breaker state per endpoint (0=closed,1=open,2=half_open).",
	}, []string{"endpoint"})

	// Turns counts AI turns by outcome ("completed", "cancelled", "failed").
	Turns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "desk_ai_turns_total",
		Help: "AI conversation turns by outcome.",
	}, []string{"outcome"})

	// SpecialistDeliveries counts specialist replies forwarded to users.
	SpecialistDeliveries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "desk_specialist_deliveries_total",
		Help: "Specialist replies delivered by the response monitor.",
	})

	// PromoDeliveries counts promotion sends by outcome ("ok", "failed").
	PromoDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "desk_promo_deliveries_total",
		Help: "Promotion deliveries by outcome.",
	}, []string{"outcome"})

	// ContourFailures counts consecutive-check failures seen by the health
	// monitor, per contour.
	ContourFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "desk_contour_failures_total",
		Help: "Health check failures per contour.",
	}, []string{"contour"})

	// MessengerSends counts outbound messenger calls by outcome.
	MessengerSends = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "desk_messenger_sends_total",
		Help: "Outbound messenger sends by outcome.",
	}, []string{"outcome"})
)

// ObserveBreaker is the breaker OnStateChange hook shape.
func ObserveBreaker(endpoint string, state int) {
	BreakerState.WithLabelValues(endpoint).Set(float64(state))
}

// NewServer builds the ops HTTP server. ready reports whether all health
// contours are below their failure thresholds.
func NewServer(addr string, ready func() bool, log *slog.Logger) *http.Server {
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	r.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		if ready != nil && !ready() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("degraded\n"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready\n"))
	})

	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	if log != nil {
		log.Info("ops server configured", slog.String("addr", addr))
	}
	return srv
}
