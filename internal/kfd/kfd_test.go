package kfd

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"unsafe"

	"github.com/ALEYI17/InfraSight_gpudebug/internal/savearea"
	"github.com/ALEYI17/InfraSight_gpudebug/internal/savearea/areatest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIoctlNumbers(t *testing.T) {
	assert.Equal(t, uintptr(0xC0204B26), ioctlDbgTrap)
	assert.Equal(t, uintptr(0x40184B13), ioctlSetTrapHandler)

	assert.Equal(t, uintptr(32), unsafe.Sizeof(dbgTrapArgs{}))
	assert.Equal(t, uintptr(24), unsafe.Sizeof(suspendQueuesArgs{}))
	assert.Equal(t, uintptr(16), unsafe.Sizeof(resumeQueuesArgs{}))
	assert.Equal(t, uintptr(24), unsafe.Sizeof(queueSnapshotArgs{}))
	assert.Equal(t, uintptr(64), unsafe.Sizeof(queueSnapshotEntry{}))
}

func TestQueueArrayTruncatesToDriverWidth(t *testing.T) {
	assert.Equal(t, []uint32{1, 2, 0xFFFFFFFF}, queueArray([]uint64{1, 2, 0x1FFFFFFFF}))
}

type fakeMemory struct {
	base  uint64
	data  []byte
	reads int
}

func (m *fakeMemory) ReadAt(p []byte, addr uint64) error {
	m.reads++
	if addr < m.base || addr+uint64(len(p)) > m.base+uint64(len(m.data)) {
		return errors.New("unmapped")
	}
	copy(p, m.data[addr-m.base:])
	return nil
}

func TestReadSaveArea(t *testing.T) {
	layout, ok := savearea.LayoutForISA("gfx906")
	require.True(t, ok)
	area := areatest.New(layout).
		State(areatest.State{VGPRPayload: 1}).
		Wave(areatest.Wave{First: true, PC: 0x4000, Seed: 1}).
		Wave(areatest.Wave{PC: 0x4000, Seed: 2}).
		Bytes()

	// Trailing bytes past the wave state offset must not be read.
	mem := &fakeMemory{base: 0x7f0000, data: append(append([]byte{}, area...), make([]byte, 64)...)}
	got, err := ReadSaveArea(mem, 0x7f0000)
	require.NoError(t, err)
	assert.Equal(t, area, got)
	assert.Equal(t, 2, mem.reads)

	waves, err := savearea.Decode(got, layout)
	require.NoError(t, err)
	assert.Len(t, waves, 2)
}

func TestReadSaveAreaRejectsBadHeader(t *testing.T) {
	area := make([]byte, 64)
	areatest.SetHeader(area, savearea.Header{CtrlStackOffset: 16, CtrlStackSize: 8, WaveStateOffset: 64, WaveStateSize: 8})
	_, err := ReadSaveArea(&fakeMemory{base: 0, data: area}, 0)
	require.ErrorIs(t, err, savearea.ErrLayoutMismatch)

	_, err = ReadSaveArea(&fakeMemory{base: 0x1000, data: area}, 0)
	require.Error(t, err)
}

func TestProcMemReadsOwnMemory(t *testing.T) {
	m, err := OpenProcMem(SelfMemPath)
	if err != nil {
		t.Skipf("no %s: %v", SelfMemPath, err)
	}
	defer m.Close()

	want := []byte("context save area")
	got := make([]byte, len(want))
	require.NoError(t, m.ReadAt(got, uint64(uintptr(unsafe.Pointer(&want[0])))))
	assert.Equal(t, want, got)
}

func writeNode(t *testing.T, root string, idx string, gpuID string, props string) {
	t.Helper()
	dir := filepath.Join(root, idx)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "gpu_id"), []byte(gpuID+"\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "properties"), []byte(props), 0o644))
}

func TestReadTopology(t *testing.T) {
	root := t.TempDir()
	writeNode(t, root, "0", "0", "cpu_cores_count 16\nsimd_count 0\nlocation_id 0\n")
	writeNode(t, root, "1", "43521", "cpu_cores_count 0\nsimd_count 240\nlocation_id 768\nmax_waves_per_simd 10\n")
	writeNode(t, root, "2", "8841", "simd_count 480\nlocation_id 1024\nbogus line here\n")
	require.NoError(t, os.WriteFile(filepath.Join(root, "README"), nil, 0o644))

	topo, err := ReadTopology(root)
	require.NoError(t, err)
	require.Len(t, topo.Nodes, 3)
	assert.Len(t, topo.GPUs(), 2)
	assert.Equal(t, uint64(10), topo.Nodes[1].Properties["max_waves_per_simd"])

	cases := []struct {
		name     string
		location uint32
		gpuID    uint32
		err      error
	}{
		{name: "first gpu", location: 768, gpuID: 43521},
		{name: "second gpu", location: 1024, gpuID: 8841},
		{name: "cpu node is skipped", location: 0, err: ErrNodeNotFound},
		{name: "unknown", location: 5, err: ErrNodeNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			id, err := topo.GpuIDByLocation(tc.location)
			if tc.err != nil {
				require.ErrorIs(t, err, tc.err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.gpuID, id)
		})
	}
}

func TestReadTopologyMissingRoot(t *testing.T) {
	_, err := ReadTopology(filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)
}
