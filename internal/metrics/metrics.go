// Package metrics provides Prometheus instrumentation for the goods
// market engine.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// TicksTotal counts price update ticks started.
	TicksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "goods_ticks_total",
		Help: "Total number of price update ticks",
	})

	// TickDuration tracks how long a full-catalog tick takes.
	TickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "goods_tick_duration_seconds",
		Help:    "Price update tick duration in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// TickItemFailures counts per-item update failures within ticks.
	TickItemFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "goods_tick_item_failures_total",
		Help: "Item updates that failed and were isolated within a tick",
	})

	// CurrentPrice exposes the committed price per item.
	CurrentPrice = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "goods_current_price",
		Help: "Current committed price per item",
	}, []string{"symbol"})

	// VetoOutcomes counts veto hook results per tick item.
	VetoOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "goods_veto_outcomes_total",
		Help: "Veto hook outcomes for proposed price changes",
	}, []string{"outcome"})

	// TradesTotal counts executed trading operations by kind.
	TradesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "goods_trades_total",
		Help: "Total number of executed trading operations",
	}, []string{"kind"})

	// CapacityRejections counts credits rejected by the holdings cap.
	CapacityRejections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "goods_capacity_rejections_total",
		Help: "Buys rejected by the per-owner holdings capacity limit",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "goods_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "goods_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "goods_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// Use the route pattern for path label to avoid high cardinality.
		path := r.URL.Path
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
