package report

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ALEYI17/InfraSight_gpudebug/internal/codeobject"
	"github.com/ALEYI17/InfraSight_gpudebug/internal/collector/aggregator"
	"github.com/ALEYI17/InfraSight_gpudebug/internal/grpc/pb"
	"github.com/ALEYI17/InfraSight_gpudebug/internal/metrics"
	"github.com/ALEYI17/InfraSight_gpudebug/internal/registry"
	"github.com/ALEYI17/InfraSight_gpudebug/internal/savearea"
	"github.com/ALEYI17/InfraSight_gpudebug/pkg/types"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryFaultBanner(t *testing.T) {
	cases := []struct {
		name string
		ev   types.MemoryFault
		want string
	}{
		{
			name: "two reasons",
			ev:   types.MemoryFault{NodeID: 2, VirtualAddress: 0x7f001234, FaultReasonMask: types.FaultPageNotPresent | types.FaultReadOnly},
			want: "Memory access fault at GPU Node: 2\nAddress: 0x7F001xxx (page not present;write access to a read-only page;)\n\n",
		},
		{
			name: "hang only",
			ev:   types.MemoryFault{NodeID: 1, VirtualAddress: 0, FaultReasonMask: types.FaultHang},
			want: "Memory access fault at GPU Node: 1\nAddress: 0x0xxx (GPU reset following unspecified hang;)\n\n",
		},
		{
			name: "no reason",
			ev:   types.MemoryFault{NodeID: 3, VirtualAddress: 0x1000},
			want: "Memory access fault at GPU Node: 3\nAddress: 0x1xxx ()\n\n",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, MemoryFaultBanner(tc.ev))
		})
	}
}

func TestQueueErrorBanner(t *testing.T) {
	assert.Equal(t,
		"Queue error state in GPU agent: AMD gfx906\nNode: 1\nQueue ID: 5 (Debug trap;)\n\n",
		QueueErrorBanner("AMD gfx906", 1, 5, types.StatusException))

	reasons := map[types.HsaStatus]string{
		types.StatusOutOfResources:        "Out of scratch",
		types.StatusIncompatibleArguments: "Invalid dim",
		types.StatusInvalidAllocation:     "Invalid group memory",
		types.StatusInvalidCodeObject:     "Invalid (or NULL) code",
		types.StatusInvalidPacketFormat:   "Invalid format",
		types.StatusInvalidArgument:       "Group is too large",
		types.StatusInvalidISA:            "Out of VGPRs",
		types.StatusException:             "Debug trap",
		types.StatusFatal:                 "Undefined code",
	}
	for status, want := range reasons {
		assert.Equal(t, want, QueueErrorReason(status), status.String())
	}
}

type fakeDisasm struct {
	out   string
	err   error
	calls [][]any
}

func (d *fakeDisasm) Disassemble(_ context.Context, gfx, path string, start, stop uint64) (string, error) {
	d.calls = append(d.calls, []any{gfx, path, start, stop})
	return d.out, d.err
}

type finder []*registry.CodeObject

func (f finder) FindCodeObject(pc uint64) (*registry.CodeObject, bool) {
	for _, co := range f {
		if co.Contains(pc) {
			return co, true
		}
	}
	return nil, false
}

func sampleGroup() *aggregator.WaveGroup {
	return &aggregator.WaveGroup{
		PC:    0x1008,
		Count: 3,
		First: savearea.WaveState{
			NumSGPRs:     6,
			SGPRs:        []uint32{0x10, 0x11, 0x12, 0x13, 0x14, 0x15},
			NumVGPRs:     2,
			NumVGPRLanes: 2,
			VGPRs:        []uint32{0xA0, 0xA1, 0xB0, 0xB1},
			Regs:         savearea.Registers{PC: 0x1008, Exec: 0xFF, Status: 0x1, TrapSts: 0x10000000, M0: 0x2},
		},
		LDS: []uint32{1, 2, 3, 4, 5},
	}
}

const sampleRegisters = "" +
	"3 wavefront(s) found in @PC: 0x0000000000001008\n" +
	"printing the first one: \n\n" +
	"   EXEC: 0x00000000000000FF\n" +
	" STATUS: 0x00000001\n" +
	"TRAPSTS: 0x10000000\n" +
	"     M0: 0x00000002\n\n" +
	"     s0: 0x00000010    s1: 0x00000011    s2: 0x00000012    s3: 0x00000013\n" +
	"     s4: 0x00000014    s5: 0x00000015\n" +
	"\n" +
	"Lane 0x0\n" +
	"     v0: 0x000000A0    v1: 0x000000B0\n" +
	"\n" +
	"Lane 0x1\n" +
	"     v0: 0x000000A1    v1: 0x000000B1\n" +
	"\n" +
	"LDS:\n\n" +
	"0x0000:  0x00000001  0x00000002  0x00000003  0x00000004\n" +
	"0x0010:  0x00000005\n" +
	"\n"

func TestWavesWithDisassembly(t *testing.T) {
	d := &fakeDisasm{out: "DISASM"}
	cache, err := codeobject.NewCacheWithLoader(4, func(string) (*codeobject.Symbols, error) {
		return codeobject.NewSymbols([]codeobject.Symbol{{Name: "vector_add", Value: 0, Size: 0x100}}), nil
	})
	require.NoError(t, err)
	m := metrics.New()
	p := NewPrinter(&bytes.Buffer{}, WithDisassembler(d), WithSymbols(cache), WithMetrics(m))

	agent := registry.NewAgent(1, 1, "AMD gfx906", "amdgcn-amd-amdhsa--gfx906")
	cos := finder{{LoadAddress: 0x1000, LoadSize: 0x100, LoadDelta: 0x1000, Path: "/tmp/ROCm_Tmp_PID_1/CodeObject_0"}}

	got := p.Waves(context.Background(), agent, []*aggregator.WaveGroup{sampleGroup()}, cos)
	want := sampleRegisters +
		"Code Object:\nDISASM\n" +
		"Symbol: vector_add+0x8\n" +
		"PC offset: 8\n\n"
	assert.Equal(t, want, got)
	require.Len(t, d.calls, 1)
	assert.Equal(t, []any{"gfx906", "/tmp/ROCm_Tmp_PID_1/CodeObject_0", uint64(0), uint64(0x28)}, d.calls[0])

	p.Waves(context.Background(), agent, []*aggregator.WaveGroup{sampleGroup()}, cos)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SymbolCache.WithLabelValues("hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SymbolCache.WithLabelValues("miss")))
}

func TestWavesDisassemblyFailure(t *testing.T) {
	m := metrics.New()
	p := NewPrinter(&bytes.Buffer{}, WithDisassembler(&fakeDisasm{err: errors.New("not found")}), WithMetrics(m))
	agent := registry.NewAgent(1, 1, "AMD gfx906", "gfx906")
	cos := finder{{LoadAddress: 0x1000, LoadSize: 0x100, Path: "/tmp/CodeObject_0"}}

	got := p.Waves(context.Background(), agent, []*aggregator.WaveGroup{sampleGroup()}, cos)
	assert.Equal(t, sampleRegisters+
		"Code Object:\n/tmp/CodeObject_0\n\n"+
		"(Disassembly unavailable - is amdgcn-capable llvm-objdump in PATH?)\n\n", got)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DisassemblyFailures))

	p = NewPrinter(&bytes.Buffer{}, WithDisassembler(&fakeDisasm{
		out: "llvm-objdump: error: '/tmp/CodeObject_0': invalid target",
		err: errors.New("exit status 1"),
	}))
	got = p.Waves(context.Background(), agent, []*aggregator.WaveGroup{sampleGroup()}, cos)
	assert.Equal(t, sampleRegisters+
		"Code Object:\n/tmp/CodeObject_0\n\n"+
		"llvm-objdump: error: '/tmp/CodeObject_0': invalid target\n"+
		"(Disassembly unavailable - is amdgcn-capable llvm-objdump in PATH?)\n\n", got)
}

func TestSymbolLookupUsesLoadDelta(t *testing.T) {
	cache, err := codeobject.NewCacheWithLoader(4, func(string) (*codeobject.Symbols, error) {
		return codeobject.NewSymbols([]codeobject.Symbol{
			{Name: "low", Value: 0, Size: 0x100},
			{Name: "linked", Value: 0x1000, Size: 0x100},
		}), nil
	})
	require.NoError(t, err)
	p := NewPrinter(&bytes.Buffer{}, WithDisassembler(&fakeDisasm{out: "DISASM"}), WithSymbols(cache))
	agent := registry.NewAgent(1, 1, "AMD gfx906", "gfx906")

	tests := []struct {
		name  string
		delta int64
		want  string
	}{
		{name: "loaded at link address", delta: 0, want: "Symbol: linked+0x8\n"},
		{name: "relocated", delta: 0x1000, want: "Symbol: low+0x8\n"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cos := finder{{LoadAddress: 0x1000, LoadSize: 0x100, LoadDelta: tc.delta, Path: "/tmp/CodeObject_" + tc.name}}
			got := p.Waves(context.Background(), agent, []*aggregator.WaveGroup{sampleGroup()}, cos)
			assert.Contains(t, got, tc.want)
		})
	}
}

func TestWavesWithoutCodeObject(t *testing.T) {
	p := NewPrinter(&bytes.Buffer{}, WithDisassembler(&fakeDisasm{}))
	agent := registry.NewAgent(1, 1, "AMD gfx906", "gfx906")
	want := sampleRegisters + "(Cannot match PC to a loaded code object)\n\n"

	assert.Equal(t, want, p.Waves(context.Background(), agent, []*aggregator.WaveGroup{sampleGroup()}, finder{}))
	assert.Equal(t, want, p.Waves(context.Background(), agent, []*aggregator.WaveGroup{sampleGroup()}, nil))
}

func TestWavesAccumulationRegisters(t *testing.T) {
	g := sampleGroup()
	g.LDS = nil
	g.First.NumAccVGPRs = 1
	g.First.NumAccVGPRLanes = 2
	g.First.AccVGPRs = []uint32{0xC0, 0xC1}

	p := NewPrinter(&bytes.Buffer{})
	got := p.Waves(context.Background(), registry.NewAgent(1, 1, "AMD", "gfx908"), []*aggregator.WaveGroup{g}, nil)
	assert.Contains(t, got, "ACC Lane 0x0\n   acc0: 0x000000C0\n\nACC Lane 0x1\n   acc0: 0x000000C1\n\n")
	assert.NotContains(t, got, "LDS:")
}

type fakeExporter struct {
	reports []*pb.WaveReport
	err     error
}

func (e *fakeExporter) SendWaveReport(_ context.Context, r *pb.WaveReport) error {
	e.reports = append(e.reports, r)
	return e.err
}

func TestEmit(t *testing.T) {
	var out bytes.Buffer
	exp := &fakeExporter{err: errors.New("unavailable")}
	p := NewPrinter(&out, WithExporter(exp))

	r := &pb.WaveReport{Kind: "memory_fault", Text: "banner\n"}
	require.NoError(t, p.Emit(context.Background(), r), "export failures are not fatal")
	assert.Equal(t, "banner\n", out.String())
	require.Len(t, exp.reports, 1)
	assert.NotZero(t, exp.reports[0].TimestampNs)
}

func TestOpenDestination(t *testing.T) {
	dir := t.TempDir()
	dump := filepath.Join(dir, "ROCm_Wave_State_Dump")

	w, err := OpenDestination(DestFile, "", dump, nil)
	require.NoError(t, err)
	_, _ = w.Write([]byte("one\n"))
	require.NoError(t, w.Close())
	w, err = OpenDestination(DestFile, "", dump, nil)
	require.NoError(t, err)
	_, _ = w.Write([]byte("two\n"))
	require.NoError(t, w.Close())
	data, err := os.ReadFile(dump)
	require.NoError(t, err)
	assert.Equal(t, "one\ntwo\n", string(data), "file mode appends")

	override := filepath.Join(dir, "out.txt")
	w, err = OpenDestination(DestStdout, override, dump, nil)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	_, err = os.Stat(override)
	require.NoError(t, err)

	for _, mode := range []string{"", DestStdout, "bogus"} {
		w, err := OpenDestination(mode, "", dump, nil)
		require.NoError(t, err)
		nc, ok := w.(nopCloser)
		require.True(t, ok, mode)
		assert.Same(t, os.Stdout, nc.Writer)
	}
}

func TestObjdumpDisassembler(t *testing.T) {
	assert.Equal(t, []string{
		"-triple=amdgcn-amd-amdhsa", "-mcpu=gfx908", "-disassemble", "-source", "-line-numbers",
		"--start-address=0xE0", "--stop-address=0x120", "/tmp/CodeObject_1",
	}, objdumpArgs("gfx908", "/tmp/CodeObject_1", 0xE0, 0x120))

	start, stop := window(0x100)
	assert.Equal(t, uint64(0xE0), start)
	assert.Equal(t, uint64(0x120), stop)
	start, _ = window(0x10)
	assert.Zero(t, start)

	_, err := ObjdumpDisassembler{Path: filepath.Join(t.TempDir(), "missing-objdump")}.
		Disassemble(context.Background(), "gfx906", "x", 0, 8)
	require.Error(t, err)

	echo, err := exec.LookPath("echo")
	if err != nil {
		t.Skip("no echo binary")
	}
	out, err := ObjdumpDisassembler{Path: echo}.Disassemble(context.Background(), "gfx906", "/tmp/co", 0, 0x20)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "-triple=amdgcn-amd-amdhsa -mcpu=gfx906"), out)
}
