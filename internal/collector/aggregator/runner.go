package aggregator

import (
	"github.com/ALEYI17/InfraSight_gpudebug/internal/registry"
)

// ClassifyMemoryFault groups the XNACK waves of every queue of a, or every
// wave when all is set.
func ClassifyMemoryFault(a *registry.Agent, all bool) ([]*WaveGroup, int) {
	wa := NewWaveAggregator(!all, FaultInstructionSkip)
	wa.Update(a)
	faulty := wa.Faulty()
	return wa.Flush(), faulty
}

// ClassifyQueue groups every wave of q. A queue error names the queue, so
// there is no XNACK filter.
func ClassifyQueue(q *registry.Queue) []*WaveGroup {
	wa := NewWaveAggregator(false, 0)
	wa.Update(q)
	return wa.Flush()
}

// ClassifyAgent groups every wave of every queue of a, PCs as saved.
func ClassifyAgent(a *registry.Agent) []*WaveGroup {
	wa := NewWaveAggregator(false, 0)
	wa.Update(a)
	return wa.Flush()
}
