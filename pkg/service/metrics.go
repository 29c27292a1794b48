package service

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	outcomeOK        = "ok"
	outcomeError     = "error"
	outcomePanic     = "panic"
	outcomeAbandoned = "abandoned"
	outcomeTimeout   = "timeout"
)

// Metrics holds the Prometheus collectors shared by every handle that is given
// them through WithMetrics. All methods are safe on a nil receiver.
type Metrics struct {
	inFlight *prometheus.GaugeVec
	calls    *prometheus.CounterVec
	wait     *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them with reg.
// It panics if registration fails, like prometheus.MustRegister.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		inFlight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "flowctx",
			Subsystem: "service",
			Name:      "in_flight",
			Help:      "Calls currently holding an admission slot.",
		}, []string{"service"}),
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flowctx",
			Subsystem: "service",
			Name:      "calls_total",
			Help:      "Handler outcomes and abandoned waits.",
		}, []string{"service", "outcome"}),
		wait: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "flowctx",
			Subsystem: "service",
			Name:      "admission_wait_seconds",
			Help:      "Time spent waiting for an admission slot.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
		}, []string{"service"}),
	}
	if reg != nil {
		reg.MustRegister(m.inFlight, m.calls, m.wait)
	}
	return m
}

func (m *Metrics) admitted(name string, waited time.Duration) {
	if m == nil {
		return
	}
	m.inFlight.WithLabelValues(name).Inc()
	m.wait.WithLabelValues(name).Observe(waited.Seconds())
}

func (m *Metrics) released(name string) {
	if m == nil {
		return
	}
	m.inFlight.WithLabelValues(name).Dec()
}

func (m *Metrics) observe(name, outcome string) {
	if m == nil {
		return
	}
	m.calls.WithLabelValues(name, outcome).Inc()
}
