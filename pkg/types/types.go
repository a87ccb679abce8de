package types

import "fmt"

// Record flags written as the first byte of every tracer ringbuf sample.
const (
	EVENT_HSA_QUEUE_CREATE       = 1
	EVENT_HSA_QUEUE_DESTROY      = 2
	EVENT_HSA_EXECUTABLE_FREEZE  = 3
	EVENT_HSA_EXECUTABLE_DESTROY = 4
)

const (
	LoaderHsaRuntime = "hsaruntime"
)

type AgentStatus uint8

const (
	AgentActive AgentStatus = iota
	AgentUnsupported
)

func (s AgentStatus) String() string {
	if s == AgentActive {
		return "active"
	}
	return "unsupported"
}

type QueueStatus uint8

const (
	QueueActive QueueStatus = iota
	QueueFailure
)

func (s QueueStatus) String() string {
	if s == QueueActive {
		return "active"
	}
	return "failure"
}

type DeviceType uint8

const (
	DeviceCPU DeviceType = iota
	DeviceGPU
	DeviceDSP
)

// HsaStatus mirrors hsa_status_t.
type HsaStatus uint32

const (
	StatusSuccess                  HsaStatus = 0x0
	StatusInfoBreak                HsaStatus = 0x1
	StatusError                    HsaStatus = 0x1000
	StatusInvalidArgument          HsaStatus = 0x1001
	StatusInvalidQueueCreation     HsaStatus = 0x1002
	StatusInvalidAllocation        HsaStatus = 0x1003
	StatusInvalidAgent             HsaStatus = 0x1004
	StatusInvalidRegion            HsaStatus = 0x1005
	StatusInvalidSignal            HsaStatus = 0x1006
	StatusInvalidQueue             HsaStatus = 0x1007
	StatusOutOfResources           HsaStatus = 0x1008
	StatusInvalidPacketFormat      HsaStatus = 0x1009
	StatusResourceFree             HsaStatus = 0x100A
	StatusNotInitialized           HsaStatus = 0x100B
	StatusRefcountOverflow         HsaStatus = 0x100C
	StatusIncompatibleArguments    HsaStatus = 0x100D
	StatusInvalidIndex             HsaStatus = 0x100E
	StatusInvalidISA               HsaStatus = 0x100F
	StatusInvalidCodeObject        HsaStatus = 0x1010
	StatusInvalidExecutable        HsaStatus = 0x1011
	StatusFrozenExecutable         HsaStatus = 0x1012
	StatusInvalidSymbolName        HsaStatus = 0x1013
	StatusVariableAlreadyDefined   HsaStatus = 0x1014
	StatusVariableUndefined        HsaStatus = 0x1015
	StatusException                HsaStatus = 0x1016
	StatusInvalidISAName           HsaStatus = 0x1017
	StatusInvalidCodeSymbol        HsaStatus = 0x1018
	StatusInvalidExecutableSymbol  HsaStatus = 0x1019
	StatusInvalidFile              HsaStatus = 0x1020
	StatusInvalidCodeObjectReader  HsaStatus = 0x1021
	StatusInvalidCache             HsaStatus = 0x1022
	StatusInvalidWavefront         HsaStatus = 0x1023
	StatusInvalidSignalGroup       HsaStatus = 0x1024
	StatusInvalidRuntimeState      HsaStatus = 0x1025
	StatusFatal                    HsaStatus = 0x1026
	StatusMemoryApertureViolation  HsaStatus = 0x29
	StatusIllegalInstruction       HsaStatus = 0x2A
	StatusMemoryFault              HsaStatus = 0x2B
)

var statusNames = map[HsaStatus]string{
	StatusSuccess:                 "HSA_STATUS_SUCCESS",
	StatusInfoBreak:               "HSA_STATUS_INFO_BREAK",
	StatusError:                   "HSA_STATUS_ERROR",
	StatusInvalidArgument:         "HSA_STATUS_ERROR_INVALID_ARGUMENT",
	StatusInvalidQueueCreation:    "HSA_STATUS_ERROR_INVALID_QUEUE_CREATION",
	StatusInvalidAllocation:       "HSA_STATUS_ERROR_INVALID_ALLOCATION",
	StatusInvalidAgent:            "HSA_STATUS_ERROR_INVALID_AGENT",
	StatusInvalidRegion:           "HSA_STATUS_ERROR_INVALID_REGION",
	StatusInvalidSignal:           "HSA_STATUS_ERROR_INVALID_SIGNAL",
	StatusInvalidQueue:            "HSA_STATUS_ERROR_INVALID_QUEUE",
	StatusOutOfResources:          "HSA_STATUS_ERROR_OUT_OF_RESOURCES",
	StatusInvalidPacketFormat:     "HSA_STATUS_ERROR_INVALID_PACKET_FORMAT",
	StatusResourceFree:            "HSA_STATUS_ERROR_RESOURCE_FREE",
	StatusNotInitialized:          "HSA_STATUS_ERROR_NOT_INITIALIZED",
	StatusRefcountOverflow:        "HSA_STATUS_ERROR_REFCOUNT_OVERFLOW",
	StatusIncompatibleArguments:   "HSA_STATUS_ERROR_INCOMPATIBLE_ARGUMENTS",
	StatusInvalidIndex:            "HSA_STATUS_ERROR_INVALID_INDEX",
	StatusInvalidISA:              "HSA_STATUS_ERROR_INVALID_ISA",
	StatusInvalidCodeObject:       "HSA_STATUS_ERROR_INVALID_CODE_OBJECT",
	StatusInvalidExecutable:       "HSA_STATUS_ERROR_INVALID_EXECUTABLE",
	StatusFrozenExecutable:        "HSA_STATUS_ERROR_FROZEN_EXECUTABLE",
	StatusInvalidSymbolName:       "HSA_STATUS_ERROR_INVALID_SYMBOL_NAME",
	StatusVariableAlreadyDefined:  "HSA_STATUS_ERROR_VARIABLE_ALREADY_DEFINED",
	StatusVariableUndefined:       "HSA_STATUS_ERROR_VARIABLE_UNDEFINED",
	StatusException:               "HSA_STATUS_ERROR_EXCEPTION",
	StatusInvalidISAName:          "HSA_STATUS_ERROR_INVALID_ISA_NAME",
	StatusInvalidCodeSymbol:       "HSA_STATUS_ERROR_INVALID_CODE_SYMBOL",
	StatusInvalidExecutableSymbol: "HSA_STATUS_ERROR_INVALID_EXECUTABLE_SYMBOL",
	StatusInvalidFile:             "HSA_STATUS_ERROR_INVALID_FILE",
	StatusInvalidCodeObjectReader: "HSA_STATUS_ERROR_INVALID_CODE_OBJECT_READER",
	StatusInvalidCache:            "HSA_STATUS_ERROR_INVALID_CACHE",
	StatusInvalidWavefront:        "HSA_STATUS_ERROR_INVALID_WAVEFRONT",
	StatusInvalidSignalGroup:      "HSA_STATUS_ERROR_INVALID_SIGNAL_GROUP",
	StatusInvalidRuntimeState:     "HSA_STATUS_ERROR_INVALID_RUNTIME_STATE",
	StatusFatal:                   "HSA_STATUS_ERROR_FATAL",
	StatusMemoryApertureViolation: "HSA_STATUS_ERROR_MEMORY_APERTURE_VIOLATION",
	StatusIllegalInstruction:      "HSA_STATUS_ERROR_ILLEGAL_INSTRUCTION",
	StatusMemoryFault:             "HSA_STATUS_ERROR_MEMORY_FAULT",
}

func (s HsaStatus) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("HSA_STATUS(0x%X)", uint32(s))
}

func (s HsaStatus) Ok() bool {
	return s == StatusSuccess || s == StatusInfoBreak
}

// Memory fault reason bits (hsa_amd_memory_fault_reason_t).
const (
	FaultPageNotPresent uint32 = 1 << 0
	FaultReadOnly       uint32 = 1 << 1
	FaultNX             uint32 = 1 << 2
	FaultHostOnly       uint32 = 1 << 3
	FaultDRAMECC        uint32 = 1 << 4
	FaultImprecise      uint32 = 1 << 5
	FaultSRAMECC        uint32 = 1 << 6
	FaultHang           uint32 = 1 << 31
)

// QueueErrorCallback is the application's queue-error callback as the runtime
// would invoke it: the failing status, the runtime queue handle, and the
// user data registered at creation.
type QueueErrorCallback func(status HsaStatus, queue uint64, data any)
