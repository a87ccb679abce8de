package types

import (
	"fmt"
	"sync"
)

type EventKind uint8

const (
	EventNone EventKind = iota
	EventMemoryFault
	EventQueueError
	EventExecutableCreate
	EventExecutableDestroy
	EventQueueCreate
	EventQueueDestroy
)

var eventKindNames = [...]string{
	EventNone:              "none",
	EventMemoryFault:       "memory_fault",
	EventQueueError:        "queue_error",
	EventExecutableCreate:  "executable_create",
	EventExecutableDestroy: "executable_destroy",
	EventQueueCreate:       "queue_create",
	EventQueueDestroy:      "queue_destroy",
}

func (k EventKind) String() string {
	if int(k) < len(eventKindNames) {
		return eventKindNames[k]
	}
	return fmt.Sprintf("event(%d)", uint8(k))
}

// Event is the sum type of everything the agent hands to an attached host tool.
// The concrete cases are the structs below.
type Event interface {
	Kind() EventKind
	isEvent()
}

type MemoryFault struct {
	Agent           uint64
	NodeID          uint32
	VirtualAddress  uint64
	FaultReasonMask uint32
}

type QueueError struct {
	NodeID  uint32
	QueueID uint64
	Status  HsaStatus
}

type ExecutableCreate struct {
	ExecutableID uint64
	NodeID       uint32
}

type ExecutableDestroy struct {
	ExecutableID uint64
}

type QueueCreate struct {
	NodeID  uint32
	QueueID uint64
}

type QueueDestroy struct {
	QueueID uint64
}

func (MemoryFault) Kind() EventKind       { return EventMemoryFault }
func (QueueError) Kind() EventKind        { return EventQueueError }
func (ExecutableCreate) Kind() EventKind  { return EventExecutableCreate }
func (ExecutableDestroy) Kind() EventKind { return EventExecutableDestroy }
func (QueueCreate) Kind() EventKind       { return EventQueueCreate }
func (QueueDestroy) Kind() EventKind      { return EventQueueDestroy }

func (MemoryFault) isEvent()       {}
func (QueueError) isEvent()        {}
func (ExecutableCreate) isEvent()  {}
func (ExecutableDestroy) isEvent() {}
func (QueueCreate) isEvent()       {}
func (QueueDestroy) isEvent()      {}

// Describe renders an event on one line for logs.
func Describe(ev Event) string {
	switch e := ev.(type) {
	case nil:
		return "none"
	case MemoryFault:
		return fmt.Sprintf("memory fault node=%d va=0x%X reason=0x%X", e.NodeID, e.VirtualAddress, e.FaultReasonMask)
	case QueueError:
		return fmt.Sprintf("queue error node=%d queue=%d status=%s", e.NodeID, e.QueueID, e.Status)
	case ExecutableCreate:
		return fmt.Sprintf("executable create id=0x%X node=%d", e.ExecutableID, e.NodeID)
	case ExecutableDestroy:
		return fmt.Sprintf("executable destroy id=0x%X", e.ExecutableID)
	case QueueCreate:
		return fmt.Sprintf("queue create node=%d queue=%d", e.NodeID, e.QueueID)
	case QueueDestroy:
		return fmt.Sprintf("queue destroy queue=%d", e.QueueID)
	default:
		return fmt.Sprintf("unknown event %T", ev)
	}
}

// EventSlot holds the single in-flight event. Set overwrites.
type EventSlot struct {
	mu sync.Mutex
	ev Event
}

func (s *EventSlot) Set(ev Event) {
	s.mu.Lock()
	s.ev = ev
	s.mu.Unlock()
}

func (s *EventSlot) Get() Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ev
}

func (s *EventSlot) Clear() {
	s.Set(nil)
}
