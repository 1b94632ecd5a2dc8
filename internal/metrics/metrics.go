// Package metrics exposes Prometheus collectors for ticketing activity.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "festival"

// Metrics groups the collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	scans          *prometheus.CounterVec
	scanDuration   prometheus.Histogram
	holds          *prometheus.CounterVec
	orders         *prometheus.CounterVec
	reconciliation prometheus.Counter
	reaped         *prometheus.CounterVec
	published      *prometheus.CounterVec
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		scans: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gate",
			Name:      "scans_total",
			Help:      "Scan commits by result.",
		}, []string{"result"}),
		scanDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "gate",
			Name:      "scan_duration_seconds",
			Help:      "Time spent committing a scan, including the audit write.",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		}),
		holds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "inventory",
			Name:      "hold_events_total",
			Help:      "Seat hold lifecycle events.",
		}, []string{"event"}),
		orders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orders",
			Name:      "finalize_total",
			Help:      "Finalize calls by outcome.",
		}, []string{"outcome"}),
		reconciliation: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orders",
			Name:      "reconciliation_required_total",
			Help:      "Paid orders that could not be honoured and were flagged.",
		}),
		reaped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "reaped_total",
			Help:      "Rows released by the background reaper.",
		}, []string{"kind"}),
		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "published_total",
			Help:      "Broker publishes by routing key and status.",
		}, []string{"routing_key", "status"}),
	}
	for _, c := range []prometheus.Collector{m.scans, m.scanDuration, m.holds, m.orders, m.reconciliation, m.reaped, m.published} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) ObserveScan(result string, d time.Duration) {
	if m == nil {
		return
	}
	m.scans.WithLabelValues(result).Inc()
	m.scanDuration.Observe(d.Seconds())
}

// HoldEvent counts created, released, expired and converted holds.
func (m *Metrics) HoldEvent(event string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.holds.WithLabelValues(event).Add(float64(n))
}

func (m *Metrics) Finalize(outcome string) {
	if m == nil {
		return
	}
	m.orders.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ReconciliationRequired() {
	if m == nil {
		return
	}
	m.reconciliation.Inc()
}

func (m *Metrics) Reaped(kind string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.reaped.WithLabelValues(kind).Add(float64(n))
}

func (m *Metrics) Published(routingKey string, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.published.WithLabelValues(routingKey, status).Inc()
}
