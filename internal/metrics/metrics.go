// Package metrics provides Prometheus instrumentation for the paper
// trading engine.
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
	// ReportsTotal counts order reports produced, partitioned by outcome.
	ReportsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "paper_reports_total",
		Help: "Total order reports produced",
	}, []string{"status"})

	// FillsTotal counts fills, partitioned by liquidity role.
	FillsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "paper_fills_total",
		Help: "Total fills executed",
	}, []string{"liquidity", "side"})

	// FeesPaid accumulates fees debited from the account.
	FeesPaid = promauto.NewCounter(prometheus.CounterOpts{
		Name: "paper_fees_paid_total",
		Help: "Cumulative fees debited, in quote currency",
	})

	// OpenOrders tracks the number of resting limit orders.
	OpenOrders = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "paper_open_orders",
		Help: "Number of resting limit orders in the book",
	})

	// AccountEquity tracks the mark-to-market account value.
	AccountEquity = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "paper_account_equity",
		Help: "Total equity (balance + unrealized PnL), in quote currency",
	})

	// TicksTotal counts inbound market-data ticks per symbol.
	TicksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "paper_ticks_total",
		Help: "Inbound price ticks processed",
	}, []string{"symbol"})

	// MatchSweepDuration tracks the limit-order sweep latency per tick.
	MatchSweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "paper_match_sweep_duration_seconds",
		Help:    "Duration of the limit-order match sweep per tick",
		Buckets: []float64{0.00001, 0.0001, 0.001, 0.01, 0.1},
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "paper_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "paper_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "paper_http_request_duration_seconds",
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

		// Use the raw path for the label; the API surface is small and
		// fixed, so cardinality stays bounded.
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
