// Package registry mirrors the runtime's agents, queues, executables and
// loaded code objects.
//
// Registry methods do not lock. Every mutation and every iterate-then-act
// sequence must run between Lock and Unlock, which is the agent-wide lock
// shared by the interception wrappers and the event handler.
package registry

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

var ErrOverlap = errors.New("code object load range overlaps a loaded code object")

// CodeObjectStore persists raw code object bytes for external tools.
type CodeObjectStore interface {
	Save(name string, data []byte) (string, error)
	Remove(path string) error
}

type Registry struct {
	mu sync.Mutex

	agents      *List[uint32, *Agent]
	executables *List[uint64, *Executable]

	store          CodeObjectStore
	nextCodeObject uint64
	logger         *zap.Logger
}

func New(store CodeObjectStore, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		agents:      NewList[uint32, *Agent](),
		executables: NewList[uint64, *Executable](),
		store:       store,
		logger:      logger,
	}
}

func (r *Registry) Lock() { r.mu.Lock() }
func (r *Registry) Unlock() { r.mu.Unlock() }

func (r *Registry) AddAgent(a *Agent) error {
	if err := r.agents.PushBack(a.NodeID, a); err != nil {
		return fmt.Errorf("agent node %d: %w", a.NodeID, err)
	}
	return nil
}

func (r *Registry) Agent(nodeID uint32) (*Agent, bool) {
	return r.agents.Get(nodeID)
}

func (r *Registry) AgentByHandle(handle uint64) (*Agent, bool) {
	for _, a := range r.agents.All() {
		if a.Handle == handle {
			return a, true
		}
	}
	return nil, false
}

func (r *Registry) Agents() []*Agent {
	return r.agents.Values()
}

// AddQueue appends q to the agent on nodeID and sets its back reference.
func (r *Registry) AddQueue(nodeID uint32, q *Queue) error {
	a, ok := r.agents.Get(nodeID)
	if !ok {
		r.logger.Error("cannot add queue, agent not found",
			zap.Uint32("node", nodeID), zap.Uint64("queue", q.ID))
		return fmt.Errorf("agent node %d: %w", nodeID, ErrNotFound)
	}
	if err := a.Queues.PushBack(q.ID, q); err != nil {
		return fmt.Errorf("queue %d: %w", q.ID, err)
	}
	q.Agent = a
	return nil
}

// RemoveQueue drops a queue from whichever agent owns it.
func (r *Registry) RemoveQueue(queueID uint64) error {
	for _, a := range r.agents.All() {
		if q, ok := a.Queues.Remove(queueID); ok {
			q.Agent = nil
			return nil
		}
	}
	r.logger.Warn("cannot remove queue, not found", zap.Uint64("queue", queueID))
	return fmt.Errorf("queue %d: %w", queueID, ErrNotFound)
}

func (r *Registry) Queue(queueID uint64) (*Queue, bool) {
	for _, a := range r.agents.All() {
		if q, ok := a.Queues.Get(queueID); ok {
			return q, true
		}
	}
	return nil, false
}

func (r *Registry) QueueByHandle(handle uint64) (*Queue, bool) {
	for _, a := range r.agents.All() {
		for _, q := range a.Queues.All() {
			if q.Handle == handle {
				return q, true
			}
		}
	}
	return nil, false
}

func (r *Registry) AgentByQueueID(queueID uint64) (*Agent, bool) {
	q, ok := r.Queue(queueID)
	if !ok {
		return nil, false
	}
	return q.Agent, true
}

func (r *Registry) AddExecutable(execID uint64, nodeID uint32) (*Executable, error) {
	e := &Executable{
		ID:          execID,
		NodeID:      nodeID,
		CodeObjects: NewList[uint64, *CodeObject](),
	}
	if err := r.executables.PushBack(execID, e); err != nil {
		return nil, fmt.Errorf("executable 0x%X: %w", execID, err)
	}
	return e, nil
}

func (r *Registry) Executable(execID uint64) (*Executable, bool) {
	return r.executables.Get(execID)
}

func (r *Registry) Executables() []*Executable {
	return r.executables.Values()
}

// DeleteExecutable removes an executable and all of its code objects,
// deleting their persisted copies.
func (r *Registry) DeleteExecutable(execID uint64) error {
	e, ok := r.executables.Remove(execID)
	if !ok {
		r.logger.Warn("cannot delete executable, not found", zap.Uint64("executable", execID))
		return fmt.Errorf("executable 0x%X: %w", execID, ErrNotFound)
	}

	var errs error
	for _, co := range e.CodeObjects.Clear() {
		errs = multierr.Append(errs, r.removeFile(co))
	}
	return errs
}

// AddCodeObject names co CodeObject_<n>, persists data under that name and
// appends co to e.
func (r *Registry) AddCodeObject(co *CodeObject, data []byte, e *Executable) error {
	for _, other := range r.executables.All() {
		for _, loaded := range other.CodeObjects.All() {
			if loaded.NodeID == co.NodeID && loaded.overlaps(co) {
				return fmt.Errorf("%w: [0x%X, 0x%X) and [0x%X, 0x%X)", ErrOverlap,
					co.LoadAddress, co.LoadAddress+co.LoadSize,
					loaded.LoadAddress, loaded.LoadAddress+loaded.LoadSize)
			}
		}
	}

	name := fmt.Sprintf("CodeObject_%d", r.nextCodeObject)
	r.nextCodeObject++
	if r.store != nil {
		path, err := r.store.Save(name, data)
		if err != nil {
			return fmt.Errorf("saving %s: %w", name, err)
		}
		co.Path = path
	} else {
		co.Path = name
	}

	co.Executable = e.ID
	if err := e.CodeObjects.PushBack(co.LoadAddress, co); err != nil {
		return multierr.Append(fmt.Errorf("code object 0x%X: %w", co.LoadAddress, err), r.removeFile(co))
	}
	return nil
}

func (r *Registry) DeleteCodeObject(loadAddress uint64, e *Executable) error {
	co, ok := e.CodeObjects.Remove(loadAddress)
	if !ok {
		r.logger.Warn("cannot delete code object, not found",
			zap.Uint64("load_address", loadAddress), zap.Uint64("executable", e.ID))
		return fmt.Errorf("code object 0x%X: %w", loadAddress, ErrNotFound)
	}
	return r.removeFile(co)
}

// FindCodeObject returns the loaded code object whose load range holds pc.
func (r *Registry) FindCodeObject(pc uint64) (*CodeObject, bool) {
	for _, e := range r.executables.All() {
		for _, co := range e.CodeObjects.All() {
			if co.Contains(pc) {
				return co, true
			}
		}
	}
	return nil, false
}

func (r *Registry) QueueCount() int {
	n := 0
	for _, a := range r.agents.All() {
		n += a.Queues.Len()
	}
	return n
}

func (r *Registry) CodeObjectCount() int {
	n := 0
	for _, e := range r.executables.All() {
		n += e.CodeObjects.Len()
	}
	return n
}

// Clear drops every record, removing persisted code objects.
func (r *Registry) Clear() error {
	var errs error
	for _, e := range r.executables.Clear() {
		for _, co := range e.CodeObjects.Clear() {
			errs = multierr.Append(errs, r.removeFile(co))
		}
	}
	for _, a := range r.agents.Clear() {
		a.Queues.Clear()
	}
	return errs
}

func (r *Registry) removeFile(co *CodeObject) error {
	if r.store == nil || co.Path == "" {
		return nil
	}
	if err := r.store.Remove(co.Path); err != nil {
		return fmt.Errorf("removing %s: %w", co.Path, err)
	}
	return nil
}
