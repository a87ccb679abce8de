package kfd

import (
	"fmt"
	"io"

	"github.com/ALEYI17/InfraSight_gpudebug/internal/savearea"
	"golang.org/x/sys/unix"
)

const SelfMemPath = "/proc/self/mem"

// ProcMem reads memory through a /proc/<pid>/mem file.
type ProcMem struct {
	fd int
}

func OpenProcMem(path string) (*ProcMem, error) {
	fd, err := unix.Open(path, unix.O_RDONLY|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	return &ProcMem{fd: fd}, nil
}

func (m *ProcMem) ReadAt(p []byte, addr uint64) error {
	for off := 0; off < len(p); {
		n, err := unix.Pread(m.fd, p[off:], int64(addr)+int64(off))
		if err != nil {
			return fmt.Errorf("pread 0x%X: %w", addr+uint64(off), err)
		}
		if n == 0 {
			return fmt.Errorf("pread 0x%X: %w", addr+uint64(off), io.ErrUnexpectedEOF)
		}
		off += n
	}
	return nil
}

func (m *ProcMem) Close() error {
	return unix.Close(m.fd)
}

// ReadSaveArea copies the header at base, then everything up to the end of
// the wave save area it declares.
func ReadSaveArea(r MemoryReader, base uint64) ([]byte, error) {
	head := make([]byte, savearea.HeaderSize)
	if err := r.ReadAt(head, base); err != nil {
		return nil, err
	}
	h, err := savearea.ParseHeader(head)
	if err != nil {
		return nil, err
	}
	if err := h.Validate(); err != nil {
		return nil, err
	}
	area := make([]byte, h.AreaSize())
	if err := r.ReadAt(area, base); err != nil {
		return nil, err
	}
	return area, nil
}
