package smbstore

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "smbstore"

// metrics holds the adapter's Prometheus collectors.
type metrics struct {
	operations  *prometheus.CounterVec
	degraded    prometheus.Counter
	overridden  prometheus.Counter
	diagnostics *prometheus.CounterVec
}

// newMetrics creates the collectors and registers them on reg. Collectors
// already registered by another mount on the same registry are reused.
func newMetrics(reg prometheus.Registerer) *metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &metrics{
		operations: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "operations_total",
			Help:      "Adapter operations by name and result.",
		}, []string{"op", "result"})),
		degraded: register(reg, prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "stat_degraded_total",
			Help:      "Metadata lookups that degraded to no result.",
		})),
		overridden: register(reg, prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "unlink_overridden_total",
			Help:      "Removals where the existence check disagreed with the transport's return value.",
		})),
		diagnostics: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "diagnostics_total",
			Help:      "Transport diagnostics intercepted by shielded calls.",
		}, []string{"outcome"})),
	}
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
		}
	}
	return c
}

func (m *metrics) observe(op string, err error) {
	result := "ok"
	switch {
	case errors.Is(err, ErrDiagnosticSuppressed):
		result = "suppressed"
		m.diagnostics.WithLabelValues("suppressed").Inc()
	case err != nil:
		result = "error"
		var te *TransportError
		if errors.As(err, &te) {
			m.diagnostics.WithLabelValues("converted").Inc()
		}
	}
	m.operations.WithLabelValues(op, result).Inc()
}
