// Package loaders attaches the HSA runtime uprobes to a running process and
// fans the decoded records out to collectors.
package loaders

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/ALEYI17/InfraSight_gpudebug/bpf/hsa/hsatrace"
	"github.com/ALEYI17/InfraSight_gpudebug/internal/grpc/pb"
	"github.com/ALEYI17/InfraSight_gpudebug/pkg/logutil"
	"github.com/ALEYI17/InfraSight_gpudebug/pkg/types"
	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/link"
	"github.com/cilium/ebpf/ringbuf"
	"github.com/cilium/ebpf/rlimit"
	"github.com/prometheus/procfs"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const (
	RuntimeLibrary       = "libhsa-runtime64.so"
	DefaultFlushInterval = 5 * time.Second
)

var (
	ErrEmptyRecord     = errors.New("empty record")
	ErrUnknownFlag     = errors.New("unknown event flag")
	ErrLibraryNotFound = errors.New("HSA runtime library not mapped")
)

type TracerConfig struct {
	Pid           int
	ObjectPath    string
	ProcRoot      string
	Library       string
	FlushInterval time.Duration
}

func (c TracerConfig) withDefaults() TracerConfig {
	if c.ObjectPath == "" {
		c.ObjectPath = hsatrace.DefaultObjectPath
	}
	if c.ProcRoot == "" {
		c.ProcRoot = procfs.DefaultMountPoint
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = DefaultFlushInterval
	}
	return c
}

type HsaTracerLoader struct {
	Objs       *hsatrace.HsatraceObjects
	Up         []link.Link
	Rb         *ringbuf.Reader
	collectors []types.Gpu_collectors
	interval   time.Duration
}

func NewHsaTracerLoader(cfg TracerConfig, collectors ...types.Gpu_collectors) (*HsaTracerLoader, error) {
	logger := logutil.GetLogger()
	cfg = cfg.withDefaults()

	lib := cfg.Library
	if lib == "" {
		found, err := FindRuntimeLibrary(cfg.ProcRoot, cfg.Pid)
		if err != nil {
			return nil, err
		}
		lib = found
	}

	if err := rlimit.RemoveMemlock(); err != nil {
		return nil, err
	}

	objs := hsatrace.HsatraceObjects{}
	if err := hsatrace.LoadHsatraceObjects(&objs, cfg.ObjectPath, nil); err != nil {
		logger.Error("error loading objects", zap.Error(err))
		return nil, err
	}

	ht := &HsaTracerLoader{
		Objs:       &objs,
		collectors: collectors,
		interval:   cfg.FlushInterval,
	}

	ex, err := link.OpenExecutable(lib)
	if err != nil {
		logger.Error("error opening runtime library", zap.String("path", lib), zap.Error(err))
		ht.Close()
		return nil, err
	}

	opts := &link.UprobeOptions{PID: cfg.Pid}

	functions_entry := []struct {
		name string
		prog *ebpf.Program
	}{
		{"hsa_queue_create", objs.HandleQueueCreate},
		{"hsa_queue_destroy", objs.HandleQueueDestroy},
		{"hsa_executable_freeze", objs.HandleExecutableFreeze},
		{"hsa_executable_destroy", objs.HandleExecutableDestroy},
	}

	functions_exit := []struct {
		name string
		prog *ebpf.Program
	}{
		{"hsa_queue_create", objs.HandleQueueCreateRet},
		{"hsa_executable_freeze", objs.HandleExecutableFreezeRet},
	}

	for _, fn := range functions_entry {
		up, err := ex.Uprobe(fn.name, fn.prog, opts)
		if err != nil {
			logger.Warn("failed to attach uprobe", zap.String("function", fn.name), zap.Error(err))
			continue
		}
		ht.Up = append(ht.Up, up)
		logger.Info("attached uprobe", zap.String("function", fn.name))
	}

	for _, fn := range functions_exit {
		up, err := ex.Uretprobe(fn.name, fn.prog, opts)
		if err != nil {
			logger.Warn("failed to attach uretprobe", zap.String("function", fn.name), zap.Error(err))
			continue
		}
		ht.Up = append(ht.Up, up)
		logger.Info("attached uretprobe", zap.String("function", fn.name))
	}

	rb, err := ringbuf.NewReader(objs.HsaRingbuf)
	if err != nil {
		logger.Error("error opening ring buffer", zap.Error(err))
		ht.Close()
		return nil, err
	}
	ht.Rb = rb

	return ht, nil
}

// FindRuntimeLibrary returns the path, as seen from the host, of the HSA
// runtime mapped into pid.
func FindRuntimeLibrary(procRoot string, pid int) (string, error) {
	fs, err := procfs.NewFS(procRoot)
	if err != nil {
		return "", err
	}
	proc, err := fs.Proc(pid)
	if err != nil {
		return "", fmt.Errorf("error opening process %d: %w", pid, err)
	}
	maps, err := proc.ProcMaps()
	if err != nil {
		return "", fmt.Errorf("error reading process %d memory maps: %w", pid, err)
	}
	for _, m := range maps {
		if strings.Contains(filepath.Base(m.Pathname), RuntimeLibrary) {
			return filepath.Join(procRoot, strconv.Itoa(pid), "root", m.Pathname), nil
		}
	}
	return "", fmt.Errorf("%w in process %d", ErrLibraryNotFound, pid)
}

func (ht *HsaTracerLoader) Close() error {
	var err error
	for _, up := range ht.Up {
		if up != nil {
			err = multierr.Append(err, up.Close())
		}
	}
	if ht.Rb != nil {
		err = multierr.Append(err, ht.Rb.Close())
	}
	if ht.Objs != nil {
		err = multierr.Append(err, ht.Objs.Close())
	}
	return err
}

// DecodeRecord parses one ringbuf sample by its leading flag byte.
func DecodeRecord(raw []byte) (any, error) {
	if len(raw) < 1 {
		return nil, ErrEmptyRecord
	}
	switch raw[0] {
	case types.EVENT_HSA_QUEUE_CREATE, types.EVENT_HSA_QUEUE_DESTROY:
		var e hsatrace.HsatraceQueueEventT
		if err := binary.Read(bytes.NewBuffer(raw), binary.LittleEndian, &e); err != nil {
			return nil, fmt.Errorf("parsing queue event: %w", err)
		}
		return e, nil
	case types.EVENT_HSA_EXECUTABLE_FREEZE, types.EVENT_HSA_EXECUTABLE_DESTROY:
		var e hsatrace.HsatraceExecutableEventT
		if err := binary.Read(bytes.NewBuffer(raw), binary.LittleEndian, &e); err != nil {
			return nil, fmt.Errorf("parsing executable event: %w", err)
		}
		return e, nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownFlag, raw[0])
	}
}

func (ht *HsaTracerLoader) Run(ctx context.Context, nodeName string) <-chan *pb.EventBatch {
	out := make(chan *pb.EventBatch)
	logger := logutil.GetLogger().With(zap.String("node", nodeName))

	for _, c := range ht.collectors {
		go func(col types.Gpu_collectors) {
			for batch := range col.Run(ctx, ht.interval) {
				select {
				case out <- batch:
				case <-ctx.Done():
					return
				}
			}
		}(c)
	}

	go func() {
		<-ctx.Done()
		// Unblocks the pending Read below.
		ht.Rb.Close()
	}()

	go func() {
		for {
			record, err := ht.Rb.Read()
			if err != nil {
				if errors.Is(err, ringbuf.ErrClosed) {
					logger.Info("Ring buffer closed, exiting...")
					return
				}
				logger.Error("Reading error", zap.Error(err))
				continue
			}

			ev, err := DecodeRecord(record.RawSample)
			if err != nil {
				logger.Warn("dropping record", zap.Error(err))
				continue
			}
			ht.sendToCollectors(ev)
		}
	}()

	return out
}

func (ht *HsaTracerLoader) sendToCollectors(e any) {
	for _, c := range ht.collectors {
		c.Update(e)
	}
}
