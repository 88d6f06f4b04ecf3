// Package metrics holds the Prometheus collectors shared by the registry and
// sandboxes. A nil *Metrics is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Dispatch outcomes.
const (
	OutcomeOverride = "override"
	OutcomeHost     = "host"
	OutcomeDenied   = "denied"
	OutcomeError    = "error"
)

type Metrics struct {
	DispatchTotal    *prometheus.CounterVec
	HashComputations prometheus.Counter
	RegistryContexts prometheus.Gauge
	RefCountErrors   prometheus.Counter
}

// New registers the collectors on reg. Passing nil uses the default
// registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		DispatchTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sandproxy_dispatch_total",
				Help: "Dispatched calls by outcome",
			},
			[]string{"outcome"},
		),
		HashComputations: f.NewCounter(
			prometheus.CounterOpts{
				Name: "sandproxy_hash_computations_total",
				Help: "Identity hashes computed (cache misses)",
			},
		),
		RegistryContexts: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "sandproxy_registry_contexts",
				Help: "Live contexts held by the registry",
			},
		),
		RefCountErrors: f.NewCounter(
			prometheus.CounterOpts{
				Name: "sandproxy_registry_refcount_errors_total",
				Help: "Releases that found a non-positive reference count",
			},
		),
	}
}

func (m *Metrics) RecordDispatch(outcome string) {
	if m == nil {
		return
	}
	m.DispatchTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncHashComputations() {
	if m == nil {
		return
	}
	m.HashComputations.Inc()
}

func (m *Metrics) SetRegistryContexts(n int) {
	if m == nil {
		return
	}
	m.RegistryContexts.Set(float64(n))
}

func (m *Metrics) IncRefCountErrors() {
	if m == nil {
		return
	}
	m.RefCountErrors.Inc()
}
