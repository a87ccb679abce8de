package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsRecord(t *testing.T) {
	m := New()
	reg := prometheus.NewRegistry()
	require.NoError(t, m.Register(reg))

	m.Event("memory_fault")
	m.Event("memory_fault")
	m.Event("queue_error")
	m.Decoded(12)
	m.Faulty(3)
	m.Tracked(4, 2)
	m.DisassemblyFailed()
	m.CacheLookup(true)
	m.CacheLookup(false)
	m.CacheLookup(false)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Events.WithLabelValues("memory_fault")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Events.WithLabelValues("queue_error")))
	assert.Equal(t, 12.0, testutil.ToFloat64(m.WavesDecoded))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.FaultyWaves))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.QueuesTracked))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.CodeObjectsTracked))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DisassemblyFailures))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.SymbolCache.WithLabelValues("miss")))

	n, err := testutil.GatherAndCount(reg)
	require.NoError(t, err)
	assert.Equal(t, 10, n)
}

func TestRegisterTwiceFails(t *testing.T) {
	m := New()
	reg := prometheus.NewRegistry()
	require.NoError(t, m.Register(reg))
	require.Error(t, m.Register(reg))

	m.Unregister(reg)
	require.NoError(t, m.Register(reg))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Event("x")
		m.Decoded(1)
		m.Faulty(1)
		m.Tracked(1, 1)
		m.DisassemblyFailed()
		m.CacheLookup(true)
	})
}
