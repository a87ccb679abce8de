// Package handler runs the fault and queue-error sequence: preempt the
// agent's queues, decode their save areas, classify and print the waves,
// then resume whatever is still healthy.
package handler

import (
	"context"
	"errors"
	"fmt"

	"github.com/ALEYI17/InfraSight_gpudebug/internal/collector/aggregator"
	"github.com/ALEYI17/InfraSight_gpudebug/internal/grpc/pb"
	"github.com/ALEYI17/InfraSight_gpudebug/internal/metrics"
	"github.com/ALEYI17/InfraSight_gpudebug/internal/registry"
	"github.com/ALEYI17/InfraSight_gpudebug/internal/report"
	"github.com/ALEYI17/InfraSight_gpudebug/pkg/types"
	"go.uber.org/zap"
)

var (
	ErrUnknownAgent = errors.New("agent not found")
	ErrUnknownQueue = errors.New("queue not found")
)

// Preempter freezes, decodes and resumes an agent's queues.
type Preempter interface {
	Preempt(a *registry.Agent) error
	Resume(a *registry.Agent) error
	Decode(a *registry.Agent) error
	DecodeQueue(q *registry.Queue) error
}

// Debugger receives events instead of the handler when a host debugger is
// attached.
type Debugger interface {
	GPUEvent(ev types.Event)
}

type Handler struct {
	reg     *registry.Registry
	ctl     Preempter
	printer *report.Printer
	slot    *types.EventSlot

	debugger Debugger
	printAll bool
	abort    func(error)
	onState  func(State)
	node     string
	session  string

	state   State
	logger  *zap.Logger
	metrics *metrics.Metrics
}

type Option func(*Handler)

func WithDebugger(d Debugger) Option { return func(h *Handler) { h.debugger = d } }
func WithPrintAll(all bool) Option { return func(h *Handler) { h.printAll = all } }
func WithAbort(fn func(error)) Option { return func(h *Handler) { h.abort = fn } }
func WithStateHook(fn func(State)) Option { return func(h *Handler) { h.onState = fn } }
func WithSlot(s *types.EventSlot) Option { return func(h *Handler) { h.slot = s } }
func WithLogger(l *zap.Logger) Option { return func(h *Handler) { h.logger = l } }
func WithMetrics(m *metrics.Metrics) Option { return func(h *Handler) { h.metrics = m } }

// WithIdentity labels exported reports.
func WithIdentity(node, session string) Option {
	return func(h *Handler) { h.node, h.session = node, session }
}

func New(reg *registry.Registry, ctl Preempter, printer *report.Printer, opts ...Option) *Handler {
	h := &Handler{
		reg:     reg,
		ctl:     ctl,
		printer: printer,
		slot:    &types.EventSlot{},
		logger:  zap.NewNop(),
	}
	for _, o := range opts {
		o(h)
	}
	if h.abort == nil {
		logger := h.logger
		h.abort = func(err error) {
			logger.Fatal("debug agent cannot continue", zap.Error(err))
		}
	}
	return h
}

func (h *Handler) Slot() *types.EventSlot {
	return h.slot
}

// State is only meaningful while the registry lock is held.
func (h *Handler) State() State {
	return h.state
}

func (h *Handler) enter(s State) {
	h.state = s
	if h.onState != nil {
		h.onState(s)
	}
}

// handoff gives ev to an attached debugger and reports whether it did.
func (h *Handler) handoff(ev types.Event) bool {
	h.slot.Set(ev)
	if h.debugger == nil {
		return false
	}
	h.logger.Debug("handing event to debugger", zap.String("event", types.Describe(ev)))
	h.debugger.GPUEvent(ev)
	return true
}

// Notify forwards an interception event to an attached debugger.
func (h *Handler) Notify(ev types.Event) {
	if h.debugger != nil {
		h.debugger.GPUEvent(ev)
	}
}

// HandleSystemEvent is registered as the runtime's system event handler.
func (h *Handler) HandleSystemEvent(ev types.Event) types.HsaStatus {
	switch e := ev.(type) {
	case types.MemoryFault:
		return h.HandleMemoryFault(context.Background(), e)
	default:
		h.logger.Debug("ignoring system event", zap.String("event", types.Describe(ev)))
		return types.StatusSuccess
	}
}

func (h *Handler) fatal(err error) types.HsaStatus {
	h.logger.Error("fatal debug agent error", zap.Error(err))
	h.abort(err)
	h.enter(Idle)
	return types.StatusError
}

// HandleMemoryFault reports the XNACK waves of every queue of the faulting
// agent, coalesced by PC. The report is exported once the lock is released.
func (h *Handler) HandleMemoryFault(ctx context.Context, ev types.MemoryFault) types.HsaStatus {
	h.metrics.Event(types.EventMemoryFault.String())
	if h.handoff(ev) {
		return types.StatusSuccess
	}
	r, st := h.processMemoryFault(ctx, ev)
	h.printer.Export(ctx, r)
	return st
}

func (h *Handler) processMemoryFault(ctx context.Context, ev types.MemoryFault) (*pb.WaveReport, types.HsaStatus) {
	h.reg.Lock()
	defer h.reg.Unlock()
	h.enter(Received)
	h.logger.Info("memory fault", zap.String("event", types.Describe(ev)))

	agent, ok := h.reg.AgentByHandle(ev.Agent)
	if !ok {
		h.logger.Error("memory fault on an unknown agent", zap.Uint64("agent", ev.Agent))
		h.enter(Idle)
		return nil, types.StatusError
	}
	if ev.NodeID == 0 {
		ev.NodeID = agent.NodeID
	}

	banner := report.MemoryFaultBanner(ev)
	if !agent.Active() {
		h.logger.Warn("can not print waves, unsupported agent", zap.String("isa", agent.ISA))
		r := h.present(ctx, agent, "memory_fault", 0, "", banner, nil)
		h.enter(Idle)
		return r, types.StatusSuccess
	}

	h.enter(Preempting)
	if err := h.ctl.Preempt(agent); err != nil {
		return nil, h.fatal(err)
	}
	h.enter(Decoding)
	if err := h.ctl.Decode(agent); err != nil {
		return nil, h.fatal(err)
	}

	h.enter(Classifying)
	groups, faulty := aggregator.ClassifyMemoryFault(agent, h.printAll)
	h.metrics.Faulty(faulty)

	r := h.present(ctx, agent, "memory_fault", 0, "", banner, groups)

	h.enter(Resuming)
	if err := h.ctl.Resume(agent); err != nil {
		return r, h.fatal(err)
	}
	h.enter(Idle)
	return r, types.StatusSuccess
}

// HandleQueueError is installed as every intercepted queue's error
// callback. data is the queue's registry record. The application's own
// callback runs last, outside the registry lock.
func (h *Handler) HandleQueueError(status types.HsaStatus, queue uint64, data any) {
	h.metrics.Event(types.EventQueueError.String())
	if status.Ok() {
		h.logger.Error("queue error callback invoked with a success status", zap.Uint64("queue", queue))
		return
	}

	ctx := context.Background()
	q, r, err := h.processQueueError(ctx, status, queue, data)
	if err != nil {
		h.logger.Error("queue error not handled", zap.Uint64("queue", queue), zap.Error(err))
	}
	if q != nil && q.Callback != nil {
		q.Callback(status, queue, q.UserData)
	}
	h.printer.Export(ctx, r)
}

func (h *Handler) processQueueError(ctx context.Context, status types.HsaStatus, handle uint64, data any) (*registry.Queue, *pb.WaveReport, error) {
	h.reg.Lock()
	defer h.reg.Unlock()

	q, _ := data.(*registry.Queue)
	if q == nil {
		var ok bool
		if q, ok = h.reg.QueueByHandle(handle); !ok {
			return nil, nil, fmt.Errorf("handle 0x%X: %w", handle, ErrUnknownQueue)
		}
	}
	agent := q.Agent
	if agent == nil {
		return q, nil, fmt.Errorf("queue %d: %w", q.ID, ErrUnknownAgent)
	}

	ev := types.QueueError{NodeID: agent.NodeID, QueueID: q.ID, Status: status}
	if h.handoff(ev) {
		return q, nil, nil
	}
	h.enter(Received)
	h.logger.Info("queue error", zap.String("event", types.Describe(ev)))

	banner := report.QueueErrorBanner(agent.Name, agent.NodeID, q.ID, status)
	if !agent.Active() {
		h.logger.Warn("can not print waves, unsupported agent", zap.String("isa", agent.ISA))
		r := h.present(ctx, agent, "queue_error", q.ID, status.String(), banner, nil)
		h.enter(Idle)
		return q, r, nil
	}

	h.enter(Preempting)
	if err := h.ctl.Preempt(agent); err != nil {
		h.fatal(err)
		return q, nil, err
	}
	q.MarkFailed()

	h.enter(Decoding)
	if err := h.ctl.DecodeQueue(q); err != nil {
		h.fatal(err)
		return q, nil, err
	}

	h.enter(Classifying)
	groups := aggregator.ClassifyQueue(q)
	h.metrics.Faulty(len(q.Waves))

	r := h.present(ctx, agent, "queue_error", q.ID, status.String(), banner, groups)

	h.enter(Resuming)
	if err := h.ctl.Resume(agent); err != nil {
		h.fatal(err)
		return q, r, err
	}
	h.enter(Idle)
	return q, r, nil
}

// present writes the report and returns it for export after the lock is
// released.
func (h *Handler) present(ctx context.Context, agent *registry.Agent, kind string, queueID uint64, status, banner string, groups []*aggregator.WaveGroup) *pb.WaveReport {
	h.enter(Presenting)
	text := banner
	if len(groups) > 0 {
		text += h.printer.Waves(ctx, agent, groups, h.reg)
	}
	r := &pb.WaveReport{
		Node:    h.node,
		Session: h.session,
		Kind:    kind,
		GpuNode: agent.NodeID,
		QueueId: queueID,
		Status:  status,
		Groups:  aggregator.ToProto(groups),
		Text:    text,
	}
	if err := h.printer.Write(r); err != nil {
		h.logger.Warn("writing wave report failed", zap.Error(err))
	}
	return r
}

// DumpAll preempts every supported agent and prints all of its waves. It
// backs the SIGQUIT handler.
func (h *Handler) DumpAll(ctx context.Context) error {
	reports, err := h.dumpAll(ctx)
	for _, r := range reports {
		h.printer.Export(ctx, r)
	}
	return err
}

func (h *Handler) dumpAll(ctx context.Context) ([]*pb.WaveReport, error) {
	h.reg.Lock()
	defer h.reg.Unlock()

	var reports []*pb.WaveReport
	for _, agent := range h.reg.Agents() {
		if !agent.Active() || agent.Queues.Len() == 0 {
			continue
		}
		h.enter(Preempting)
		if err := h.ctl.Preempt(agent); err != nil {
			h.fatal(err)
			return reports, err
		}
		h.enter(Decoding)
		if err := h.ctl.Decode(agent); err != nil {
			h.fatal(err)
			return reports, err
		}
		h.enter(Classifying)
		groups := aggregator.ClassifyAgent(agent)
		reports = append(reports, h.present(ctx, agent, "wave_dump", 0, "", "\n", groups))

		h.enter(Resuming)
		if err := h.ctl.Resume(agent); err != nil {
			h.fatal(err)
			return reports, err
		}
		h.enter(Idle)
	}
	return reports, nil
}
