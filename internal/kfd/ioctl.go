package kfd

import (
	"fmt"
	"runtime"
	"unsafe"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

const DevicePath = "/dev/kfd"

const (
	iocWrite = 1
	iocRead  = 2

	kfdIoctlBase = 'K'

	dbgTrapSuspendQueues    = 6
	dbgTrapResumeQueues     = 7
	dbgTrapGetQueueSnapshot = 13

	defaultGracePeriodUs = 0
	maxSnapshotQueues    = 1024
)

func ioc(dir, nr, size uintptr) uintptr {
	return dir<<30 | size<<16 | kfdIoctlBase<<8 | nr
}

type dbgTrapArgs struct {
	Pid   uint32
	Op    uint32
	Union [24]byte
}

type suspendQueuesArgs struct {
	ExceptionMask uint64
	QueueArrayPtr uint64
	NumQueues     uint32
	GracePeriod   uint32
}

type resumeQueuesArgs struct {
	QueueArrayPtr uint64
	NumQueues     uint32
	Pad           uint32
}

type queueSnapshotArgs struct {
	ExceptionMask  uint64
	SnapshotBufPtr uint64
	NumQueues      uint32
	EntrySize      uint32
}

type queueSnapshotEntry struct {
	ExceptionStatus        uint64
	RingBaseAddress        uint64
	WritePointerAddress    uint64
	ReadPointerAddress     uint64
	CtxSaveRestoreAddress  uint64
	QueueID                uint32
	GpuID                  uint32
	RingSize               uint32
	QueueType              uint32
	CtxSaveRestoreAreaSize uint32
	Reserved               uint32
}

type setTrapHandlerArgs struct {
	Tba   uint64
	Tma   uint64
	GpuID uint32
	Pad   uint32
}

var (
	ioctlDbgTrap        = ioc(iocRead|iocWrite, 0x26, unsafe.Sizeof(dbgTrapArgs{}))
	ioctlSetTrapHandler = ioc(iocWrite, 0x13, unsafe.Sizeof(setTrapHandlerArgs{}))
)

// Device is the /dev/kfd implementation of Driver.
type Device struct {
	fd     int
	logger *zap.Logger
}

func Open(path string, logger *zap.Logger) (*Device, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	return &Device{fd: fd, logger: logger}, nil
}

func (d *Device) Close() error {
	return unix.Close(d.fd)
}

func (d *Device) ioctl(req uintptr, arg unsafe.Pointer) (uintptr, error) {
	r, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(d.fd), req, uintptr(arg))
	if errno != 0 {
		return 0, errno
	}
	return r, nil
}

func (d *Device) dbgTrap(pid int, op uint32, payload unsafe.Pointer, size uintptr) (uintptr, error) {
	args := dbgTrapArgs{Pid: uint32(pid), Op: op}
	copy(args.Union[:], unsafe.Slice((*byte)(payload), size))
	r, err := d.ioctl(ioctlDbgTrap, unsafe.Pointer(&args))
	copy(unsafe.Slice((*byte)(payload), size), args.Union[:size])
	return r, err
}

func queueArray(ids []uint64) []uint32 {
	out := make([]uint32, len(ids))
	for i, id := range ids {
		out[i] = uint32(id)
	}
	return out
}

func (d *Device) Suspend(pid int, queueIDs []uint64) error {
	if len(queueIDs) == 0 {
		return nil
	}
	ids := queueArray(queueIDs)
	args := suspendQueuesArgs{
		QueueArrayPtr: uint64(uintptr(unsafe.Pointer(&ids[0]))),
		NumQueues:     uint32(len(ids)),
		GracePeriod:   defaultGracePeriodUs,
	}
	n, err := d.dbgTrap(pid, dbgTrapSuspendQueues, unsafe.Pointer(&args), unsafe.Sizeof(args))
	runtime.KeepAlive(ids)
	if err != nil {
		return fmt.Errorf("suspend queues: %w", err)
	}
	if int(n) != len(ids) {
		return fmt.Errorf("%w: %d of %d", ErrPartialSuspend, n, len(ids))
	}
	d.logger.Debug("suspended queues", zap.Int("pid", pid), zap.Uint64s("queues", queueIDs))
	return nil
}

func (d *Device) Resume(pid int, queueIDs []uint64) error {
	if len(queueIDs) == 0 {
		return nil
	}
	ids := queueArray(queueIDs)
	args := resumeQueuesArgs{
		QueueArrayPtr: uint64(uintptr(unsafe.Pointer(&ids[0]))),
		NumQueues:     uint32(len(ids)),
	}
	n, err := d.dbgTrap(pid, dbgTrapResumeQueues, unsafe.Pointer(&args), unsafe.Sizeof(args))
	runtime.KeepAlive(ids)
	if err != nil {
		return fmt.Errorf("resume queues: %w", err)
	}
	if int(n) != len(ids) {
		return fmt.Errorf("resume queues: %d of %d resumed", n, len(ids))
	}
	d.logger.Debug("resumed queues", zap.Int("pid", pid), zap.Uint64s("queues", queueIDs))
	return nil
}

func (d *Device) SetTrapHandler(gpuID uint32, entry, buffer, size uint64) error {
	args := setTrapHandlerArgs{Tba: entry, Tma: buffer, GpuID: gpuID}
	if _, err := d.ioctl(ioctlSetTrapHandler, unsafe.Pointer(&args)); err != nil {
		return fmt.Errorf("set trap handler on gpu %d: %w", gpuID, err)
	}
	d.logger.Debug("trap handler set",
		zap.Uint32("gpu_id", gpuID),
		zap.String("entry", fmt.Sprintf("0x%X", entry)),
		zap.Uint64("buffer_size", size))
	return nil
}

func (d *Device) QueueInfo(pid int, queueID uint64) (QueueInfo, error) {
	entries, err := d.snapshot(pid)
	if err != nil {
		return QueueInfo{}, err
	}
	for _, e := range entries {
		if uint64(e.QueueID) == queueID {
			return QueueInfo{
				QueueID:      e.QueueID,
				GpuID:        e.GpuID,
				SaveArea:     e.CtxSaveRestoreAddress,
				SaveAreaSize: e.CtxSaveRestoreAreaSize,
				Exceptions:   e.ExceptionStatus,
			}, nil
		}
	}
	return QueueInfo{}, fmt.Errorf("%w: %d", ErrQueueNotFound, queueID)
}

func (d *Device) snapshot(pid int) ([]queueSnapshotEntry, error) {
	buf := make([]queueSnapshotEntry, maxSnapshotQueues)
	args := queueSnapshotArgs{
		SnapshotBufPtr: uint64(uintptr(unsafe.Pointer(&buf[0]))),
		NumQueues:      uint32(len(buf)),
		EntrySize:      uint32(unsafe.Sizeof(queueSnapshotEntry{})),
	}
	_, err := d.dbgTrap(pid, dbgTrapGetQueueSnapshot, unsafe.Pointer(&args), unsafe.Sizeof(args))
	runtime.KeepAlive(buf)
	if err != nil {
		return nil, fmt.Errorf("queue snapshot: %w", err)
	}
	n := int(args.NumQueues)
	if n > len(buf) {
		n = len(buf)
	}
	return buf[:n], nil
}
