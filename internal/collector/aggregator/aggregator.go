// Package aggregator coalesces decoded wavefronts by program counter.
package aggregator

import (
	"sort"
	"sync"

	"github.com/ALEYI17/InfraSight_gpudebug/internal/grpc/pb"
	"github.com/ALEYI17/InfraSight_gpudebug/internal/registry"
	"github.com/ALEYI17/InfraSight_gpudebug/internal/savearea"
)

// FaultInstructionSkip is how far a faulting wave's saved PC is advanced so
// that it points past the instruction that raised the XNACK.
const FaultInstructionSkip = 8

// Wave is one decoded wavefront together with where it came from.
type Wave struct {
	State   savearea.WaveState
	QueueID uint64
	LDS     []uint32
}

type WaveAggregator struct {
	groups    map[uint64]*WaveGroup
	mu        sync.Mutex
	xnackOnly bool
	faultSkip uint64
	faulty    int
}

// NewWaveAggregator keeps only XNACK waves when xnackOnly is set. Every XNACK
// wave has faultSkip added to its PC before it is grouped.
func NewWaveAggregator(xnackOnly bool, faultSkip uint64) *WaveAggregator {
	return &WaveAggregator{
		groups:    make(map[uint64]*WaveGroup),
		xnackOnly: xnackOnly,
		faultSkip: faultSkip,
	}
}

func (wa *WaveAggregator) add(w Wave) {
	xnack := w.State.Regs.XnackError()
	if xnack {
		wa.faulty++
		w.State.Regs.PC += wa.faultSkip
	} else if wa.xnackOnly {
		return
	}

	g, ok := wa.groups[w.State.Regs.PC]
	if !ok {
		g = &WaveGroup{
			PC:      w.State.Regs.PC,
			QueueID: w.QueueID,
			First:   w.State,
			LDS:     w.LDS,
		}
		wa.groups[g.PC] = g
	}
	g.Count++
}

// Update accepts a single Wave, a *registry.Queue or a *registry.Agent.
func (wa *WaveAggregator) Update(ev any) {
	wa.mu.Lock()
	defer wa.mu.Unlock()

	switch e := ev.(type) {
	case Wave:
		wa.add(e)
	case *registry.Queue:
		wa.addQueue(e)
	case *registry.Agent:
		for _, q := range e.Queues.Values() {
			wa.addQueue(q)
		}
	}
}

func (wa *WaveAggregator) addQueue(q *registry.Queue) {
	for i := range q.Waves {
		wa.add(Wave{
			State:   q.Waves[i],
			QueueID: q.ID,
			LDS:     savearea.GroupLDS(q.Waves, i),
		})
	}
}

// Faulty is the number of XNACK waves seen since the last Flush.
func (wa *WaveAggregator) Faulty() int {
	wa.mu.Lock()
	defer wa.mu.Unlock()
	return wa.faulty
}

// Flush returns the groups in ascending PC order and resets the aggregator.
func (wa *WaveAggregator) Flush() []*WaveGroup {
	wa.mu.Lock()
	defer wa.mu.Unlock()

	groups := make([]*WaveGroup, 0, len(wa.groups))
	for _, g := range wa.groups {
		groups = append(groups, g)
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].PC < groups[j].PC })

	wa.groups = make(map[uint64]*WaveGroup)
	wa.faulty = 0
	return groups
}

// ToProto converts flushed groups for the report exporter.
func ToProto(groups []*WaveGroup) []*pb.WaveGroup {
	out := make([]*pb.WaveGroup, 0, len(groups))
	for _, g := range groups {
		out = append(out, &pb.WaveGroup{
			Pc:      g.PC,
			Count:   uint64(g.Count),
			Exec:    g.First.Regs.Exec,
			Status:  g.First.Regs.Status,
			Trapsts: g.First.Regs.TrapSts,
			M0:      g.First.Regs.M0,
			QueueId: g.QueueID,
		})
	}
	return out
}
