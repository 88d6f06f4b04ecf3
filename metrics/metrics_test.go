package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordDispatch(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.RecordDispatch(OutcomeHost)
	m.RecordDispatch(OutcomeHost)
	m.RecordDispatch(OutcomeDenied)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.DispatchTotal.WithLabelValues(OutcomeHost)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DispatchTotal.WithLabelValues(OutcomeDenied)))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.DispatchTotal.WithLabelValues(OutcomeOverride)))
}

func TestGaugeAndCounters(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.SetRegistryContexts(3)
	m.IncHashComputations()
	m.IncRefCountErrors()

	assert.Equal(t, 3.0, testutil.ToFloat64(m.RegistryContexts))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HashComputations))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RefCountErrors))
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordDispatch(OutcomeError)
		m.IncHashComputations()
		m.SetRegistryContexts(1)
		m.IncRefCountErrors()
	})
}
