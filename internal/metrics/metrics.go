// Package metrics provides Prometheus instrumentation for the ledger engine.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// LedgerWritesTotal counts ledger rows appended, partitioned by kind
	// (trade, cash_flow, option_open, option_close, option_expire, option_exercise).
	LedgerWritesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_writes_total",
		Help: "Total number of ledger rows written",
	}, []string{"kind"})

	// ReconcileTotal counts reconciliation runs by outcome.
	ReconcileTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_reconcile_total",
		Help: "Total reconciliation runs",
	}, []string{"scope", "result"})

	// ReconcileDuration tracks reconciliation latency.
	ReconcileDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ledger_reconcile_duration_seconds",
		Help:    "Reconciliation duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"scope"})

	// PositionsDerived is the number of position rows written by the last
	// reconciliation, by status.
	PositionsDerived = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ledger_positions_derived",
		Help: "Position rows written by the last reconciliation",
	}, []string{"status"})

	// InconsistentLedger counts reconciliations aborted by a ledger the
	// matcher cannot resolve.
	InconsistentLedger = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ledger_inconsistent_total",
		Help: "Reconciliations aborted by an inconsistent ledger",
	})

	// StalePrices counts unrealized P&L requests answered with missing prices.
	StalePrices = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ledger_unrealized_stale_total",
		Help: "Unrealized P&L requests with tickers lacking a current price",
	})

	// ImportRowsTotal counts CSV rows by outcome (imported, skipped, rejected).
	ImportRowsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_import_rows_total",
		Help: "CSV rows processed by the importer",
	}, []string{"result"})

	// ImportBatchDuration tracks the time to write one import batch.
	ImportBatchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ledger_import_batch_duration_seconds",
		Help:    "Import batch write duration in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// ReportCacheHits counts report cache lookups by outcome.
	ReportCacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_report_cache_total",
		Help: "Report cache lookups",
	}, []string{"result"})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ledger_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, route, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and route.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ledger_http_request_duration_seconds",
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
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
		}
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

// Hijack lets WebSocket upgrades pass through the middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	return h.Hijack()
}
