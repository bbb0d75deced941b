// Package jobmetrics instruments the background workers.
package jobmetrics

import (
	"errors"
	"sync"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
)

// Run outcomes.
const (
	OutcomeOK      = "ok"
	OutcomeFailed  = "failed"
	OutcomeSkipped = "skipped"
)

// Metrics holds the worker collectors. A nil *Metrics records nothing.
type Metrics struct {
	runs        *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	stockAlerts *prometheus.CounterVec
	refunds     prometheus.Counter
	refundSum   prometheus.Counter
}

var defaultMetrics = sync.OnceValue(func() *Metrics {
	return newMetrics(prometheus.DefaultRegisterer)
})

// NewMetrics registers the collectors on registerer. A nil registerer shares
// one set registered on the default registry.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		return defaultMetrics()
	}
	return newMetrics(registerer)
}

func newMetrics(registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pharmaflow_jobs_total",
			Help: "Background task runs by task type and outcome.",
		}, []string{"job", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pharmaflow_job_duration_seconds",
			Help:    "Background task run time.",
			Buckets: []float64{.01, .05, .25, 1, 5, 15, 60},
		}, []string{"job"}),
		stockAlerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pharmaflow_stock_alerts_total",
			Help: "Products reported by the low stock scan, by stock level.",
		}, []string{"level"}),
		refunds: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pharmaflow_refunds_forwarded_total",
			Help: "Refunds handed to the payments topic.",
		}),
		refundSum: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pharmaflow_refunds_forwarded_amount_total",
			Help: "Sum of forwarded refund amounts.",
		}),
	}
	registerer.MustRegister(m.runs, m.duration, m.stockAlerts, m.refunds, m.refundSum)
	return m
}

// Observe records one run of job that began at started and returns err
// unchanged. Errors wrapping asynq.SkipRetry count as skipped.
func (m *Metrics) Observe(job string, started time.Time, err error) error {
	if m == nil {
		return err
	}
	outcome := OutcomeOK
	switch {
	case errors.Is(err, asynq.SkipRetry):
		outcome = OutcomeSkipped
	case err != nil:
		outcome = OutcomeFailed
	}
	m.runs.WithLabelValues(job, outcome).Inc()
	m.duration.WithLabelValues(job).Observe(time.Since(started).Seconds())
	return err
}

// AddStockAlerts counts products found at the given stock level by a scan.
func (m *Metrics) AddStockAlerts(level string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.stockAlerts.WithLabelValues(level).Add(float64(count))
}

// RefundForwarded counts one refund published downstream.
func (m *Metrics) RefundForwarded(amount float64) {
	if m == nil {
		return
	}
	m.refunds.Inc()
	if amount > 0 {
		m.refundSum.Add(amount)
	}
}
