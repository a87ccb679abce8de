package collector

import (
	"testing"

	"github.com/ALEYI17/InfraSight_gpudebug/bpf/hsa/hsatrace"
	"github.com/ALEYI17/InfraSight_gpudebug/internal/metrics"
	"github.com/ALEYI17/InfraSight_gpudebug/internal/registry"
	"github.com/ALEYI17/InfraSight_gpudebug/pkg/types"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryMirror(t *testing.T) {
	reg := registry.New(nil, nil)
	m := metrics.New()
	rm := NewRegistryMirror(reg, m)

	rm.Update(hsatrace.HsatraceQueueEventT{Flag: types.EVENT_HSA_QUEUE_CREATE, Agent: 0xA, QueueHandle: 0x100, QueueId: 1})
	rm.Update(hsatrace.HsatraceQueueEventT{Flag: types.EVENT_HSA_QUEUE_CREATE, Agent: 0xA, QueueHandle: 0x200, QueueId: 2})
	rm.Update(hsatrace.HsatraceQueueEventT{Flag: types.EVENT_HSA_QUEUE_CREATE, Agent: 0xB, QueueHandle: 0x300, QueueId: 3})
	rm.Update(hsatrace.HsatraceQueueEventT{Flag: types.EVENT_HSA_QUEUE_CREATE, Agent: 0xB, QueueId: 4, Status: 0x1008})

	require.Len(t, reg.Agents(), 2)
	a, ok := reg.AgentByHandle(0xA)
	require.True(t, ok)
	assert.Equal(t, []uint64{1, 2}, a.QueueIDs())
	b, ok := reg.AgentByHandle(0xB)
	require.True(t, ok)
	assert.NotEqual(t, a.NodeID, b.NodeID)
	assert.Equal(t, 3.0, testutil.ToFloat64(m.QueuesTracked))

	rm.Update(hsatrace.HsatraceQueueEventT{Flag: types.EVENT_HSA_QUEUE_DESTROY, QueueHandle: 0x100, QueueId: 1})
	rm.Update(hsatrace.HsatraceQueueEventT{Flag: types.EVENT_HSA_QUEUE_DESTROY, QueueId: 99})
	assert.Equal(t, []uint64{2}, a.QueueIDs())

	rm.Update(hsatrace.HsatraceExecutableEventT{Flag: types.EVENT_HSA_EXECUTABLE_FREEZE, Executable: 0xE1})
	rm.Update(hsatrace.HsatraceExecutableEventT{Flag: types.EVENT_HSA_EXECUTABLE_FREEZE, Executable: 0xE2, Status: 0x1011})
	require.Len(t, reg.Executables(), 1)
	rm.Update(hsatrace.HsatraceExecutableEventT{Flag: types.EVENT_HSA_EXECUTABLE_DESTROY, Executable: 0xE1})
	assert.Empty(t, reg.Executables())

	assert.Equal(t, 4.0, testutil.ToFloat64(m.Events.WithLabelValues("queue_create")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Events.WithLabelValues("queue_destroy")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.QueuesTracked))
	assert.Nil(t, rm.Flush())
}

func TestMirrorSkipsTakenNodeIDs(t *testing.T) {
	reg := registry.New(nil, nil)
	require.NoError(t, reg.AddAgent(registry.NewAgent(0x1, 1, "AMD", "gfx906")))
	rm := NewRegistryMirror(reg, nil)

	rm.Update(hsatrace.HsatraceQueueEventT{Flag: types.EVENT_HSA_QUEUE_CREATE, Agent: 0x2, QueueId: 5})
	a, ok := reg.AgentByHandle(0x2)
	require.True(t, ok)
	assert.Equal(t, uint32(2), a.NodeID)
}
