package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountersWithRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.Succeeded("batch", 3, 5)
	m.Succeeded("single", 1, 0)
	m.Failed("batch", "sequence_too_long")
	m.ObserveStage(StageExecute, time.Now().Add(-10*time.Millisecond))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Calls.WithLabelValues("batch", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Calls.WithLabelValues("batch", "error")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.Texts))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.Entities))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Errors.WithLabelValues("sequence_too_long")))

	families, err := reg.Gather()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["gliner_predict_calls_total"])
	assert.True(t, names["gliner_stage_duration_seconds"])
}

func TestNilRegistererDoesNotPanic(t *testing.T) {
	a := New(nil)
	b := New(nil)
	a.Succeeded("single", 1, 1)
	b.Succeeded("single", 1, 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(a.Texts))
}

func TestSharedRegistererReusesCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	a := New(reg)
	var b *Metrics
	require.NotPanics(t, func() { b = New(reg) })

	a.Succeeded("batch", 2, 1)
	b.Succeeded("batch", 3, 2)
	b.Failed("single", "execution")

	assert.Equal(t, 5.0, testutil.ToFloat64(a.Texts))
	assert.Equal(t, 3.0, testutil.ToFloat64(b.Entities))
	assert.Equal(t, 2.0, testutil.ToFloat64(a.Calls.WithLabelValues("batch", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(a.Errors.WithLabelValues("execution")))
}

func TestConflictingCollectorPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "texts_total",
		Help:      "Texts processed by successful prediction calls.",
	}))
	assert.Panics(t, func() { New(reg) })
}
