// Package intercept wraps the runtime entry points that create and destroy
// queues and executables so the registry follows the application's GPU state.
package intercept

import "github.com/ALEYI17/InfraSight_gpudebug/pkg/types"

// Queue identifies a runtime queue: its opaque handle and hardware queue id.
type Queue struct {
	Handle uint64
	ID     uint64
}

// LoadedCodeObject is one code object of a frozen executable.
type LoadedCodeObject struct {
	Agent       uint64
	LoadAddress uint64
	LoadSize    uint64
	LoadDelta   int64
	// Data is a copy of the ELF image from the code object's storage memory.
	Data []byte
}

// AgentInfo is what discovery reads for one runtime agent.
type AgentInfo struct {
	Device           types.DeviceType
	Vendor           string
	Product          string
	ISA              string
	NodeID           uint32
	LocationID       uint32
	ChipID           uint32
	ComputeUnits     uint32
	ShaderEngines    uint32
	SIMDsPerCU       uint32
	WavesPerCU       uint32
	MaxEngineFreqMHz uint32
	MaxMemoryFreqMHz uint32
}

type QueueCreateFunc func(agent uint64, size, queueType uint32, callback types.QueueErrorCallback,
	data any, privateSegment, groupSegment uint32) (Queue, types.HsaStatus)

// CoreTable is the part of the runtime's function table the agent uses.
// The first four entries are replaced by Install.
type CoreTable struct {
	MajorVersion uint32
	MinorVersion uint32

	QueueCreate       QueueCreateFunc
	QueueDestroy      func(q Queue) types.HsaStatus
	ExecutableFreeze  func(executable uint64, options string) types.HsaStatus
	ExecutableDestroy func(executable uint64) types.HsaStatus

	AgentNode         func(agent uint64) (uint32, types.HsaStatus)
	LoadedCodeObjects func(executable uint64) ([]LoadedCodeObject, types.HsaStatus)

	IterateAgents func(fn func(agent uint64) types.HsaStatus) types.HsaStatus
	AgentInfo     func(agent uint64) (AgentInfo, types.HsaStatus)

	// TrapHandlerObject returns the kernel object of the agent's ISA specific
	// trap handler.
	TrapHandlerObject func(agent uint64) (uint64, types.HsaStatus)
	AllocateKernarg   func(agent uint64, size uint64) (uint64, types.HsaStatus)
	FreeKernarg       func(addr uint64) types.HsaStatus

	SetSystemEventHandler       func(handler func(ev types.Event) types.HsaStatus) types.HsaStatus
	RegisterInternalQueueCreate func(cb func(q Queue, agent uint64)) types.HsaStatus
}

// AtLeast reports whether the table version is major.minor or newer.
func (t *CoreTable) AtLeast(major, minor uint32) bool {
	if t.MajorVersion != major {
		return t.MajorVersion > major
	}
	return t.MinorVersion >= minor
}
