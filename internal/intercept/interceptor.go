package intercept

import (
	"errors"
	"fmt"

	"github.com/ALEYI17/InfraSight_gpudebug/internal/metrics"
	"github.com/ALEYI17/InfraSight_gpudebug/internal/registry"
	"github.com/ALEYI17/InfraSight_gpudebug/pkg/types"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

var (
	ErrNoTable         = errors.New("runtime provided no function table")
	ErrMissingFunction = errors.New("runtime function table is incomplete")
)

type Interceptor struct {
	orig CoreTable

	reg          *registry.Registry
	slot         *types.EventSlot
	onQueueError types.QueueErrorCallback
	onEvent      func(types.Event)
	logger       *zap.Logger
	metrics      *metrics.Metrics
}

type Option func(*Interceptor)

// WithEventHook is called, with the registry lock held, after every
// intercepted event is stored in the slot.
func WithEventHook(fn func(types.Event)) Option { return func(i *Interceptor) { i.onEvent = fn } }
func WithLogger(l *zap.Logger) Option { return func(i *Interceptor) { i.logger = l } }
func WithMetrics(m *metrics.Metrics) Option { return func(i *Interceptor) { i.metrics = m } }

// Install saves the original entries of table and replaces queue create,
// queue destroy, executable freeze and executable destroy with wrappers.
// Queues created through the wrapper report errors to onQueueError with the
// *registry.Queue as data.
func Install(table *CoreTable, reg *registry.Registry, slot *types.EventSlot, onQueueError types.QueueErrorCallback, opts ...Option) (*Interceptor, error) {
	if table == nil {
		return nil, ErrNoTable
	}
	if table.QueueCreate == nil || table.QueueDestroy == nil ||
		table.ExecutableFreeze == nil || table.ExecutableDestroy == nil ||
		table.AgentNode == nil || table.LoadedCodeObjects == nil {
		return nil, ErrMissingFunction
	}

	ic := &Interceptor{
		orig:         *table,
		reg:          reg,
		slot:         slot,
		onQueueError: onQueueError,
		logger:       zap.NewNop(),
	}
	for _, o := range opts {
		o(ic)
	}

	if table.RegisterInternalQueueCreate != nil {
		if st := table.RegisterInternalQueueCreate(ic.OnInternalQueueCreate); !st.Ok() {
			return nil, fmt.Errorf("registering internal queue create callback: %s", st)
		}
	}

	ic.logger.Debug("replacing runtime functions")
	table.QueueCreate = ic.queueCreate
	table.QueueDestroy = ic.queueDestroy
	table.ExecutableFreeze = ic.executableFreeze
	table.ExecutableDestroy = ic.executableDestroy
	return ic, nil
}

// Uninstall puts the saved entries back into table.
func (ic *Interceptor) Uninstall(table *CoreTable) {
	table.QueueCreate = ic.orig.QueueCreate
	table.QueueDestroy = ic.orig.QueueDestroy
	table.ExecutableFreeze = ic.orig.ExecutableFreeze
	table.ExecutableDestroy = ic.orig.ExecutableDestroy
}

func (ic *Interceptor) publish(ev types.Event) {
	if ic.slot != nil {
		ic.slot.Set(ev)
	}
	ic.metrics.Event(ev.Kind().String())
	if ic.onEvent != nil {
		ic.onEvent(ev)
	}
}

func (ic *Interceptor) tracked() {
	ic.metrics.Tracked(ic.reg.QueueCount(), ic.reg.CodeObjectCount())
}

func (ic *Interceptor) queueCreate(agent uint64, size, queueType uint32, callback types.QueueErrorCallback,
	data any, privateSegment, groupSegment uint32) (Queue, types.HsaStatus) {
	ic.logger.Debug("interception: hsa_queue_create", zap.Uint64("agent", agent))

	node, st := ic.orig.AgentNode(agent)
	if !st.Ok() {
		ic.logger.Error("interception: cannot query agent node", zap.Stringer("status", st))
		return Queue{}, st
	}

	q := &registry.Queue{Callback: callback, UserData: data}
	created, st := ic.orig.QueueCreate(agent, size, queueType, ic.onQueueError, q, privateSegment, groupSegment)
	if !st.Ok() || created.Handle == 0 {
		ic.logger.Error("interception: cannot create a valid queue, debugging will not work", zap.Stringer("status", st))
		return created, st
	}
	q.Handle = created.Handle
	q.ID = created.ID

	ic.reg.Lock()
	defer ic.reg.Unlock()
	if err := ic.reg.AddQueue(node, q); err != nil {
		ic.logger.Error("interception: cannot register queue, its errors will not be decoded", zap.Error(err))
		return created, st
	}
	ic.tracked()
	ic.publish(types.QueueCreate{NodeID: node, QueueID: q.ID})

	ic.logger.Debug("interception: exit hsa_queue_create", zap.Uint64("queue", q.ID))
	return created, st
}

// OnInternalQueueCreate registers a queue the runtime created for itself.
// Such queues have no application callback.
func (ic *Interceptor) OnInternalQueueCreate(queue Queue, agent uint64) {
	ic.logger.Debug("interception: internal queue create", zap.Uint64("queue", queue.ID))

	node, st := ic.orig.AgentNode(agent)
	if !st.Ok() {
		ic.logger.Error("interception: cannot query agent node", zap.Stringer("status", st))
		return
	}

	ic.reg.Lock()
	defer ic.reg.Unlock()
	if err := ic.reg.AddQueue(node, &registry.Queue{ID: queue.ID, Handle: queue.Handle}); err != nil {
		ic.logger.Error("interception: cannot register internal queue", zap.Error(err))
		return
	}
	ic.tracked()
	ic.publish(types.QueueCreate{NodeID: node, QueueID: queue.ID})
}

func (ic *Interceptor) queueDestroy(queue Queue) types.HsaStatus {
	ic.logger.Debug("interception: hsa_queue_destroy", zap.Uint64("queue", queue.ID))

	ic.reg.Lock()
	_ = ic.reg.RemoveQueue(queue.ID)
	ic.tracked()
	ic.publish(types.QueueDestroy{QueueID: queue.ID})
	ic.reg.Unlock()

	st := ic.orig.QueueDestroy(queue)
	if !st.Ok() {
		ic.logger.Error("interception: error when destroying queue", zap.Stringer("status", st))
		return st
	}
	ic.logger.Debug("interception: exit hsa_queue_destroy")
	return st
}

func (ic *Interceptor) executableFreeze(executable uint64, options string) types.HsaStatus {
	ic.logger.Debug("interception: hsa_executable_freeze", zap.Uint64("executable", executable))

	st := ic.orig.ExecutableFreeze(executable, options)
	if !st.Ok() {
		ic.logger.Error("interception: cannot freeze executable", zap.Stringer("status", st))
		return st
	}

	loaded, lst := ic.orig.LoadedCodeObjects(executable)
	if !lst.Ok() {
		ic.logger.Error("interception: cannot list loaded code objects", zap.Stringer("status", lst))
		return st
	}

	ic.reg.Lock()
	defer ic.reg.Unlock()

	node, err := ic.registerExecutable(executable, loaded)
	if err != nil {
		ic.logger.Error("interception: executable not tracked", zap.Uint64("executable", executable), zap.Error(err))
		ic.tracked()
		return st
	}
	ic.tracked()
	ic.publish(types.ExecutableCreate{ExecutableID: executable, NodeID: node})

	ic.logger.Debug("interception: exit hsa_executable_freeze")
	return st
}

// registerExecutable adds executable and its code objects with the registry
// lock held. On error nothing it added stays registered.
func (ic *Interceptor) registerExecutable(executable uint64, loaded []LoadedCodeObject) (uint32, error) {
	e, err := ic.reg.AddExecutable(executable, 0)
	if err != nil {
		return 0, err
	}
	if err := ic.addCodeObjects(e, loaded); err != nil {
		return 0, multierr.Append(err, ic.reg.DeleteExecutable(executable))
	}
	return e.NodeID, nil
}

func (ic *Interceptor) addCodeObjects(e *registry.Executable, loaded []LoadedCodeObject) error {
	for _, lco := range loaded {
		node, nst := ic.orig.AgentNode(lco.Agent)
		if !nst.Ok() {
			return fmt.Errorf("code object agent 0x%X: %s", lco.Agent, nst)
		}
		// All code objects of an executable are assumed to target one agent.
		e.NodeID = node
		co := &registry.CodeObject{
			LoadAddress: lco.LoadAddress,
			LoadSize:    lco.LoadSize,
			LoadDelta:   lco.LoadDelta,
			NodeID:      node,
		}
		if err := ic.reg.AddCodeObject(co, lco.Data, e); err != nil {
			return err
		}
		ic.logger.Debug("interception: code object loaded",
			zap.String("path", co.Path),
			zap.Uint64("load_address", co.LoadAddress),
			zap.Uint64("load_size", co.LoadSize))
	}
	return nil
}

func (ic *Interceptor) executableDestroy(executable uint64) types.HsaStatus {
	ic.logger.Debug("interception: hsa_executable_destroy", zap.Uint64("executable", executable))

	ic.reg.Lock()
	ic.publish(types.ExecutableDestroy{ExecutableID: executable})
	if err := ic.reg.DeleteExecutable(executable); err != nil && !errors.Is(err, registry.ErrNotFound) {
		ic.logger.Warn("interception: removing code objects", zap.Error(err))
	}
	ic.tracked()
	ic.reg.Unlock()

	st := ic.orig.ExecutableDestroy(executable)
	if !st.Ok() {
		ic.logger.Error("interception: cannot destroy executable", zap.Stringer("status", st))
		return st
	}
	ic.logger.Debug("interception: exit hsa_executable_destroy")
	return st
}
