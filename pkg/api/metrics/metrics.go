package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "capital_waterfall_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "capital_waterfall_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "capital_waterfall_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)

	ComputationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "capital_waterfall_computations_total",
			Help: "Total number of distribution computations",
		},
		[]string{"outcome"}, // "ok" or an error kind
	)

	ComputationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "capital_waterfall_computation_duration_seconds",
			Help:    "Duration of distribution computations in seconds",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14), // 100us to ~0.8s
		},
	)

	DistributedAmountTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "capital_waterfall_distributed_amount_total",
			Help: "Total amount distributed by persisted events",
		},
		[]string{"currency"},
	)

	PersistedEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "capital_waterfall_persisted_events_total",
			Help: "Total number of persist attempts",
		},
		[]string{"status"}, // "applied", "duplicate", "error"
	)
)

// Middleware returns a chi middleware that records HTTP metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		HTTPRequestsInFlight.Inc()
		defer HTTPRequestsInFlight.Dec()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		path := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			path = rc.RoutePattern()
		}

		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(ww.Status())).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

// RecordComputation records one engine run. kind is empty on success.
func RecordComputation(duration time.Duration, kind string) {
	if kind == "" {
		kind = "ok"
	}
	ComputationsTotal.WithLabelValues(kind).Inc()
	ComputationDuration.Observe(duration.Seconds())
}

// RecordPersist records one attempt to apply an event to the ledger.
func RecordPersist(status, currency string, amount float64) {
	PersistedEventsTotal.WithLabelValues(status).Inc()
	if status == "applied" {
		DistributedAmountTotal.WithLabelValues(currency).Add(amount)
	}
}
