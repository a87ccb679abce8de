// Package timeserie buffers traced runtime calls per process and flushes
// them as event batches.
package timeserie

import (
	"sort"
	"sync"

	"github.com/ALEYI17/InfraSight_gpudebug/bpf/hsa/hsatrace"
	"github.com/ALEYI17/InfraSight_gpudebug/internal/grpc/pb"
	"golang.org/x/sys/unix"
)

const BatchType = "hsa_runtime_timeline"

type TimeSeriesCollector struct {
	mu      sync.Mutex
	buffers map[uint32][]*pb.RuntimeEventToken
	comms   map[uint32]string
	node    string
}

func NewTimeSeriesCollector(node string) *TimeSeriesCollector {
	return &TimeSeriesCollector{
		buffers: make(map[uint32][]*pb.RuntimeEventToken),
		comms:   make(map[uint32]string),
		node:    node,
	}
}

func (tc *TimeSeriesCollector) Update(ev any) {
	token := EventToToken(ev)
	if token == nil {
		return
	}
	var pid uint32
	var comm string

	switch e := ev.(type) {
	case hsatrace.HsatraceQueueEventT:
		pid, comm = e.Pid, unix.ByteSliceToString(e.Comm[:])
	case hsatrace.HsatraceExecutableEventT:
		pid, comm = e.Pid, unix.ByteSliceToString(e.Comm[:])
	default:
		return
	}
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.buffers[pid] = append(tc.buffers[pid], token)
	tc.comms[pid] = comm
}

// Flush drains the buffers, ordered by pid then arrival. It returns nil when
// nothing was buffered.
func (tc *TimeSeriesCollector) Flush() *pb.EventBatch {
	tc.mu.Lock()
	defer tc.mu.Unlock()

	if len(tc.buffers) == 0 {
		return nil
	}
	pids := make([]uint32, 0, len(tc.buffers))
	for pid := range tc.buffers {
		pids = append(pids, pid)
	}
	sort.Slice(pids, func(i, j int) bool { return pids[i] < pids[j] })

	var events []*pb.RuntimeEvent
	for _, pid := range pids {
		for _, tk := range tc.buffers[pid] {
			events = append(events, &pb.RuntimeEvent{
				Pid:       pid,
				Comm:      tc.comms[pid],
				EventType: eventTypeName(tk.EventType),
				Token:     tk,
			})
		}
	}
	tc.buffers = make(map[uint32][]*pb.RuntimeEventToken)
	tc.comms = make(map[uint32]string)

	return &pb.EventBatch{Type: BatchType, Node: tc.node, Batch: events}
}
