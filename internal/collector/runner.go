// Package collector mirrors runtime calls seen by the tracer into a registry.
package collector

import (
	"context"
	"time"

	"github.com/ALEYI17/InfraSight_gpudebug/bpf/hsa/hsatrace"
	"github.com/ALEYI17/InfraSight_gpudebug/internal/grpc/pb"
	"github.com/ALEYI17/InfraSight_gpudebug/internal/metrics"
	"github.com/ALEYI17/InfraSight_gpudebug/internal/registry"
	"github.com/ALEYI17/InfraSight_gpudebug/pkg/logutil"
	"github.com/ALEYI17/InfraSight_gpudebug/pkg/types"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// RegistryMirror keeps a registry in step with traced queue and executable
// lifetimes. Traced processes expose agents only by handle, so an agent is
// registered the first time a queue names it.
type RegistryMirror struct {
	reg      *registry.Registry
	metrics  *metrics.Metrics
	nextNode uint32
}

func NewRegistryMirror(reg *registry.Registry, m *metrics.Metrics) *RegistryMirror {
	return &RegistryMirror{reg: reg, metrics: m}
}

func (rm *RegistryMirror) Update(ev any) {
	logger := logutil.GetLogger()

	rm.reg.Lock()
	defer rm.reg.Unlock()

	switch e := ev.(type) {
	case hsatrace.HsatraceQueueEventT:
		comm := unix.ByteSliceToString(e.Comm[:])
		switch e.Flag {
		case types.EVENT_HSA_QUEUE_CREATE:
			rm.metrics.Event(types.EventQueueCreate.String())
			if e.Status != 0 {
				logger.Debug("traced queue create failed", zap.Uint32("pid", e.Pid), zap.Int32("status", e.Status))
				return
			}
			a := rm.agentFor(e.Agent)
			q := &registry.Queue{ID: e.QueueId, Handle: e.QueueHandle}
			if err := rm.reg.AddQueue(a.NodeID, q); err != nil {
				logger.Warn("cannot mirror queue", zap.Uint64("queue", e.QueueId), zap.Error(err))
				return
			}
			logger.Info("queue created",
				zap.Uint32("pid", e.Pid),
				zap.String("comm", comm),
				zap.Uint64("queue", e.QueueId),
				zap.Uint32("node", a.NodeID))
		case types.EVENT_HSA_QUEUE_DESTROY:
			rm.metrics.Event(types.EventQueueDestroy.String())
			if err := rm.reg.RemoveQueue(e.QueueId); err == nil {
				logger.Info("queue destroyed", zap.Uint32("pid", e.Pid), zap.String("comm", comm), zap.Uint64("queue", e.QueueId))
			}
		}

	case hsatrace.HsatraceExecutableEventT:
		comm := unix.ByteSliceToString(e.Comm[:])
		switch e.Flag {
		case types.EVENT_HSA_EXECUTABLE_FREEZE:
			rm.metrics.Event(types.EventExecutableCreate.String())
			if e.Status != 0 {
				return
			}
			if _, err := rm.reg.AddExecutable(e.Executable, 0); err != nil {
				logger.Warn("cannot mirror executable", zap.Uint64("executable", e.Executable), zap.Error(err))
				return
			}
			logger.Info("executable frozen", zap.Uint32("pid", e.Pid), zap.String("comm", comm), zap.Uint64("executable", e.Executable))
		case types.EVENT_HSA_EXECUTABLE_DESTROY:
			rm.metrics.Event(types.EventExecutableDestroy.String())
			if err := rm.reg.DeleteExecutable(e.Executable); err == nil {
				logger.Info("executable destroyed", zap.Uint32("pid", e.Pid), zap.String("comm", comm), zap.Uint64("executable", e.Executable))
			}
		}
	default:
		return
	}
	rm.metrics.Tracked(rm.reg.QueueCount(), rm.reg.CodeObjectCount())
}

func (rm *RegistryMirror) agentFor(handle uint64) *registry.Agent {
	if a, ok := rm.reg.AgentByHandle(handle); ok {
		return a
	}
	for {
		rm.nextNode++
		if _, taken := rm.reg.Agent(rm.nextNode); !taken {
			break
		}
	}
	a := registry.NewAgent(handle, rm.nextNode, "", "")
	_ = rm.reg.AddAgent(a)
	return a
}

// Flush never produces a batch; the mirror's output is the registry itself.
func (rm *RegistryMirror) Flush() *pb.EventBatch {
	return nil
}

// Run logs a registry summary every interval until ctx is done.
func (rm *RegistryMirror) Run(ctx context.Context, interval time.Duration) <-chan *pb.EventBatch {
	out := make(chan *pb.EventBatch)
	logger := logutil.GetLogger()

	go func() {
		defer close(out)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				rm.reg.Lock()
				queues, executables := rm.reg.QueueCount(), len(rm.reg.Executables())
				rm.reg.Unlock()
				logger.Debug("mirrored runtime state",
					zap.Int("queues", queues),
					zap.Int("executables", executables))
			}
		}
	}()

	return out
}
