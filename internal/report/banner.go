package report

import (
	"fmt"
	"strings"

	"github.com/ALEYI17/InfraSight_gpudebug/pkg/types"
)

var faultReasons = []struct {
	bit  uint32
	text string
}{
	{types.FaultPageNotPresent, "page not present"},
	{types.FaultReadOnly, "write access to a read-only page"},
	{types.FaultNX, "execute access to a non-executable page"},
	{types.FaultHostOnly, "access to host access only"},
	{types.FaultDRAMECC, "uncorrectable DRAM ECC failure"},
	{types.FaultImprecise, "can't determine the exact fault address"},
	{types.FaultSRAMECC, "SRAM ECC failure"},
	{types.FaultHang, "GPU reset following unspecified hang"},
}

// MemoryFaultBanner prints the page of the faulting address with its low
// twelve bits masked.
func MemoryFaultBanner(ev types.MemoryFault) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Memory access fault at GPU Node: %d\n", ev.NodeID)
	fmt.Fprintf(&b, "Address: 0x%Xxxx (", ev.VirtualAddress>>12)
	for _, r := range faultReasons {
		if ev.FaultReasonMask&r.bit != 0 {
			b.WriteString(r.text)
			b.WriteString(";")
		}
	}
	b.WriteString(")\n\n")
	return b.String()
}

func QueueErrorReason(status types.HsaStatus) string {
	switch status {
	case types.StatusOutOfResources:
		return "Out of scratch"
	case types.StatusIncompatibleArguments:
		return "Invalid dim"
	case types.StatusInvalidAllocation:
		return "Invalid group memory"
	case types.StatusInvalidCodeObject:
		return "Invalid (or NULL) code"
	case types.StatusInvalidPacketFormat:
		return "Invalid format"
	case types.StatusInvalidArgument:
		return "Group is too large"
	case types.StatusInvalidISA:
		return "Out of VGPRs"
	case types.StatusException:
		return "Debug trap"
	default:
		return "Undefined code"
	}
}

func QueueErrorBanner(agentName string, nodeID uint32, queueID uint64, status types.HsaStatus) string {
	return fmt.Sprintf("Queue error state in GPU agent: %s\nNode: %d\nQueue ID: %d (%s;)\n\n",
		agentName, nodeID, queueID, QueueErrorReason(status))
}
