package timeserie

import (
	"github.com/ALEYI17/InfraSight_gpudebug/bpf/hsa/hsatrace"
	"github.com/ALEYI17/InfraSight_gpudebug/internal/grpc/pb"
	"github.com/ALEYI17/InfraSight_gpudebug/pkg/types"
)

// EventToToken turns a tracer record into a timeline token. Queue tokens
// carry the queue id as value, executable tokens the call status.
func EventToToken(ev any) *pb.RuntimeEventToken {
	switch e := ev.(type) {
	case hsatrace.HsatraceQueueEventT:
		switch e.Flag {
		case types.EVENT_HSA_QUEUE_CREATE, types.EVENT_HSA_QUEUE_DESTROY:
		default:
			return nil
		}
		return &pb.RuntimeEventToken{
			Timestamp: int64(e.TsNs),
			EventType: e.Flag,
			Handle:    e.QueueHandle,
			Value:     e.QueueId,
		}

	case hsatrace.HsatraceExecutableEventT:
		switch e.Flag {
		case types.EVENT_HSA_EXECUTABLE_FREEZE, types.EVENT_HSA_EXECUTABLE_DESTROY:
		default:
			return nil
		}
		return &pb.RuntimeEventToken{
			Timestamp: int64(e.TsNs),
			EventType: e.Flag,
			Handle:    e.Executable,
			Value:     uint64(uint32(e.Status)),
		}
	default:
		return nil
	}
}

func eventTypeName(flag uint8) string {
	switch flag {
	case types.EVENT_HSA_QUEUE_CREATE:
		return "hsa_queue_create"
	case types.EVENT_HSA_QUEUE_DESTROY:
		return "hsa_queue_destroy"
	case types.EVENT_HSA_EXECUTABLE_FREEZE:
		return "hsa_executable_freeze"
	case types.EVENT_HSA_EXECUTABLE_DESTROY:
		return "hsa_executable_destroy"
	default:
		return "unknown"
	}
}
