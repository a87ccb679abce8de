// Package kfd talks to the amdgpu kernel fusion driver: queue suspend and
// resume, trap handler installation, queue snapshots and save-area reads.
package kfd

import (
	"errors"
)

var (
	ErrPartialSuspend = errors.New("kfd suspended fewer queues than requested")
	ErrQueueNotFound  = errors.New("queue not present in kfd snapshot")
)

// QueueInfo is what the driver reports about one user mode queue.
type QueueInfo struct {
	QueueID uint32
	GpuID   uint32
	// SaveArea is the address of the context save area header.
	SaveArea     uint64
	SaveAreaSize uint32
	Exceptions   uint64
}

// Driver is the blocking queue control surface. Every call is all-or-nothing.
type Driver interface {
	Suspend(pid int, queueIDs []uint64) error
	Resume(pid int, queueIDs []uint64) error
	SetTrapHandler(gpuID uint32, entry, buffer, size uint64) error
	QueueInfo(pid int, queueID uint64) (QueueInfo, error)
}

// MemoryReader reads target process memory at an absolute address.
type MemoryReader interface {
	ReadAt(p []byte, addr uint64) error
}
