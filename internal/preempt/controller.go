// Package preempt freezes an agent's hardware queues, decodes their context
// save areas and resumes the ones that are still healthy.
package preempt

import (
	"fmt"

	"github.com/ALEYI17/InfraSight_gpudebug/internal/kfd"
	"github.com/ALEYI17/InfraSight_gpudebug/internal/metrics"
	"github.com/ALEYI17/InfraSight_gpudebug/internal/registry"
	"github.com/ALEYI17/InfraSight_gpudebug/internal/savearea"
	"go.uber.org/zap"
)

type Controller struct {
	driver  kfd.Driver
	reader  kfd.MemoryReader
	pid     int
	logger  *zap.Logger
	metrics *metrics.Metrics
}

func NewController(driver kfd.Driver, reader kfd.MemoryReader, pid int, logger *zap.Logger, m *metrics.Metrics) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{driver: driver, reader: reader, pid: pid, logger: logger, metrics: m}
}

// Preempt suspends every queue of the agent in one driver call.
func (c *Controller) Preempt(a *registry.Agent) error {
	ids := a.QueueIDs()
	if len(ids) == 0 {
		return nil
	}
	c.logger.Debug("preempting queues", zap.Uint32("node", a.NodeID), zap.Uint64s("queues", ids))
	if err := c.driver.Suspend(c.pid, ids); err != nil {
		return fmt.Errorf("preempt node %d: %w", a.NodeID, err)
	}
	return nil
}

// Resume restarts the agent's queues that are not marked failed. Failed
// queues stay suspended so their state remains inspectable.
func (c *Controller) Resume(a *registry.Agent) error {
	ids := a.ResumableQueueIDs()
	if len(ids) == 0 {
		return nil
	}
	c.logger.Debug("resuming queues", zap.Uint32("node", a.NodeID), zap.Uint64s("queues", ids))
	if err := c.driver.Resume(c.pid, ids); err != nil {
		return fmt.Errorf("resume node %d: %w", a.NodeID, err)
	}
	return nil
}

// Decode rebuilds the wave list of every queue of a preempted agent.
func (c *Controller) Decode(a *registry.Agent) error {
	for _, q := range a.Queues.Values() {
		if err := c.DecodeQueue(q); err != nil {
			return err
		}
	}
	return nil
}

// DecodeQueue reads and decodes one suspended queue's save area. A wave with
// an XNACK error marks the queue failed.
func (c *Controller) DecodeQueue(q *registry.Queue) error {
	q.Waves = nil
	if q.Agent == nil {
		return fmt.Errorf("queue %d has no agent", q.ID)
	}
	if q.SaveArea == 0 {
		info, err := c.driver.QueueInfo(c.pid, q.ID)
		if err != nil {
			return fmt.Errorf("queue %d: %w", q.ID, err)
		}
		q.SaveArea = info.SaveArea
	}

	area, err := kfd.ReadSaveArea(c.reader, q.SaveArea)
	if err != nil {
		return fmt.Errorf("reading save area of queue %d: %w", q.ID, err)
	}
	waves, err := savearea.Decode(area, q.Agent.Layout)
	if err != nil {
		return fmt.Errorf("decoding save area of queue %d: %w", q.ID, err)
	}
	q.Waves = waves
	c.metrics.Decoded(len(waves))

	if savearea.AnyXnackError(waves) {
		q.MarkFailed()
	}
	c.logger.Debug("decoded queue",
		zap.Uint64("queue", q.ID),
		zap.Int("waves", len(waves)),
		zap.Stringer("status", q.Status))
	return nil
}
