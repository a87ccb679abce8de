// Package hsatrace holds the record layouts and object bindings of the HSA
// runtime uprobe program in hsatrace.bpf.c.
package hsatrace

//go:generate clang -O2 -g -Wall -target bpf -D__TARGET_ARCH_x86 -c hsatrace.bpf.c -o hsatrace.bpf.o

import (
	"fmt"

	"github.com/cilium/ebpf"
	"go.uber.org/multierr"
)

const DefaultObjectPath = "hsatrace.bpf.o"

// HsatraceQueueEventT is struct hsa_queue_event_t.
type HsatraceQueueEventT struct {
	Flag        uint8
	_           [3]byte
	Pid         uint32
	Comm        [16]uint8
	TsNs        uint64
	QueueHandle uint64
	QueueId     uint64
	Agent       uint64
	Status      int32
	_           [4]byte
}

// HsatraceExecutableEventT is struct hsa_executable_event_t.
type HsatraceExecutableEventT struct {
	Flag       uint8
	_          [3]byte
	Pid        uint32
	Comm       [16]uint8
	TsNs       uint64
	Executable uint64
	Status     int32
	_          [4]byte
}

type HsatracePrograms struct {
	HandleQueueCreate         *ebpf.Program `ebpf:"handle_queue_create"`
	HandleQueueCreateRet      *ebpf.Program `ebpf:"handle_queue_create_ret"`
	HandleQueueDestroy        *ebpf.Program `ebpf:"handle_queue_destroy"`
	HandleExecutableFreeze    *ebpf.Program `ebpf:"handle_executable_freeze"`
	HandleExecutableFreezeRet *ebpf.Program `ebpf:"handle_executable_freeze_ret"`
	HandleExecutableDestroy   *ebpf.Program `ebpf:"handle_executable_destroy"`
}

type HsatraceMaps struct {
	HsaRingbuf   *ebpf.Map `ebpf:"hsa_ringbuf"`
	PendingCalls *ebpf.Map `ebpf:"pending_calls"`
}

type HsatraceObjects struct {
	HsatracePrograms
	HsatraceMaps
}

func (o *HsatraceObjects) Close() error {
	var err error
	for _, c := range []interface{ Close() error }{
		o.HandleQueueCreate, o.HandleQueueCreateRet, o.HandleQueueDestroy,
		o.HandleExecutableFreeze, o.HandleExecutableFreezeRet, o.HandleExecutableDestroy,
		o.HsaRingbuf, o.PendingCalls,
	} {
		err = multierr.Append(err, c.Close())
	}
	return err
}

// LoadHsatraceObjects loads the compiled object at path into obj.
func LoadHsatraceObjects(obj *HsatraceObjects, path string, opts *ebpf.CollectionOptions) error {
	spec, err := ebpf.LoadCollectionSpec(path)
	if err != nil {
		return fmt.Errorf("loading %s: %w", path, err)
	}
	return spec.LoadAndAssign(obj, opts)
}
