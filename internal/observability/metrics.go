// Package observability holds the telemetry plumbing of both binaries.
package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/odyssey-erp/pharmaflow/internal/inventory"
)

// LedgerInvariantOutcome is the outcome label of a movement the ledger
// refused because it would break stock bookkeeping.
const LedgerInvariantOutcome = "invariant_violation"

// Metrics owns a private registry for the API process.
type Metrics struct {
	registry *prometheus.Registry

	httpRequests *prometheus.CounterVec
	httpLatency  *prometheus.HistogramVec
	ledgerOps    *prometheus.CounterVec
	ledgerUnits  *prometheus.CounterVec
	violations   *prometheus.CounterVec
}

var _ inventory.Observer = (*Metrics)(nil)

// NewMetrics registers the HTTP and ledger collectors next to the Go runtime ones.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pharmaflow_http_requests_total",
			Help: "HTTP requests by route and status code.",
		}, []string{"route", "code"}),
		httpLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pharmaflow_http_request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: []float64{.005, .025, .1, .25, .5, 1, 2.5, 5},
		}, []string{"route"}),
		ledgerOps: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pharmaflow_ledger_operations_total",
			Help: "Inventory ledger operations by movement type and outcome.",
		}, []string{"op", "outcome"}),
		ledgerUnits: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pharmaflow_ledger_units_total",
			Help: "Units moved by applied ledger operations.",
		}, []string{"op"}),
		violations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pharmaflow_ledger_invariant_violations_total",
			Help: "Ledger operations refused for breaking stock bookkeeping.",
		}, []string{"op"}),
	}
}

// Handler serves the registry in the Prometheus text format. On a nil
// receiver it answers 503.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Middleware counts requests per chi route pattern, so path ids do not
// explode the label set.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		began := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		m.httpRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
		m.httpLatency.WithLabelValues(route).Observe(time.Since(began).Seconds())
	})
}

// ObserveLedger counts one ledger operation and the units it moved.
func (m *Metrics) ObserveLedger(op inventory.MovementType, outcome string, qty int64) {
	if m == nil {
		return
	}
	m.ledgerOps.WithLabelValues(string(op), outcome).Inc()
	if qty > 0 {
		m.ledgerUnits.WithLabelValues(string(op)).Add(float64(qty))
	}
	if outcome == LedgerInvariantOutcome {
		m.violations.WithLabelValues(string(op)).Inc()
	}
}
