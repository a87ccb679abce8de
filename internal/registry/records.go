package registry

import (
	"github.com/ALEYI17/InfraSight_gpudebug/internal/savearea"
	"github.com/ALEYI17/InfraSight_gpudebug/pkg/types"
)

type Agent struct {
	// Handle is the runtime's opaque agent handle.
	Handle uint64
	NodeID uint32
	GpuID  uint32
	Name   string
	ISA    string

	ChipID           uint32
	ComputeUnits     uint32
	ShaderEngines    uint32
	SIMDsPerCU       uint32
	WavesPerCU       uint32
	MaxEngineFreqMHz uint32
	MaxMemoryFreqMHz uint32

	Status types.AgentStatus
	Layout savearea.Layout

	Queues *List[uint64, *Queue]
}

func NewAgent(handle uint64, nodeID uint32, name, isa string) *Agent {
	a := &Agent{
		Handle: handle,
		NodeID: nodeID,
		Name:   name,
		ISA:    isa,
		Status: types.AgentUnsupported,
		Queues: NewList[uint64, *Queue](),
	}
	if layout, ok := savearea.LayoutForISA(isa); ok {
		a.Layout = layout
		a.Status = types.AgentActive
	} else {
		a.Layout = layout
	}
	return a
}

func (a *Agent) Active() bool {
	return a.Status == types.AgentActive
}

// QueueIDs lists the agent's queues in registration order.
func (a *Agent) QueueIDs() []uint64 {
	return a.Queues.Keys()
}

// ResumableQueueIDs lists queues that are not marked failed.
func (a *Agent) ResumableQueueIDs() []uint64 {
	var ids []uint64
	for id, q := range a.Queues.All() {
		if q.Status != types.QueueFailure {
			ids = append(ids, id)
		}
	}
	return ids
}

type Queue struct {
	ID     uint64
	Handle uint64
	Agent  *Agent
	Status types.QueueStatus

	// SaveArea is the address of the queue's context save area header.
	SaveArea uint64

	Callback types.QueueErrorCallback
	UserData any

	// Waves holds the result of the last decode pass.
	Waves []savearea.WaveState
}

func (q *Queue) MarkFailed() {
	q.Status = types.QueueFailure
}

type Executable struct {
	ID          uint64
	NodeID      uint32
	CodeObjects *List[uint64, *CodeObject]
}

type CodeObject struct {
	LoadAddress uint64
	LoadSize    uint64
	// LoadDelta is the displacement between ELF virtual addresses and load addresses.
	LoadDelta  int64
	Path       string
	NodeID     uint32
	Executable uint64
}

func (c *CodeObject) Contains(pc uint64) bool {
	return pc >= c.LoadAddress && pc < c.LoadAddress+c.LoadSize
}

func (c *CodeObject) overlaps(o *CodeObject) bool {
	return c.LoadAddress < o.LoadAddress+o.LoadSize && o.LoadAddress < c.LoadAddress+c.LoadSize
}
