package registry

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/ALEYI17/InfraSight_gpudebug/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type memStore struct {
	dir     string
	files   map[string][]byte
	removed []string
	failOn  string
}

func newMemStore() *memStore {
	return &memStore{dir: "/tmp/ROCm_Tmp_test", files: make(map[string][]byte)}
}

func (m *memStore) Save(name string, data []byte) (string, error) {
	p := filepath.Join(m.dir, name)
	m.files[p] = data
	return p, nil
}

func (m *memStore) Remove(path string) error {
	if path == m.failOn {
		return errors.New("busy")
	}
	delete(m.files, path)
	m.removed = append(m.removed, path)
	return nil
}

func newTestRegistry(t *testing.T) (*Registry, *memStore, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	store := newMemStore()
	return New(store, zap.New(core)), store, logs
}

func TestQueueLifecycle(t *testing.T) {
	r, _, logs := newTestRegistry(t)

	a := NewAgent(0x100, 1, "AMD gfx906", "amdgcn-amd-amdhsa--gfx906")
	require.NoError(t, r.AddAgent(a))
	require.Error(t, r.AddAgent(NewAgent(0x200, 1, "dup", "gfx906")))

	require.NoError(t, r.AddQueue(1, &Queue{ID: 10, Handle: 0xA0}))
	require.NoError(t, r.AddQueue(1, &Queue{ID: 11, Handle: 0xB0}))
	require.ErrorIs(t, r.AddQueue(5, &Queue{ID: 12}), ErrNotFound)

	q, ok := r.Queue(11)
	require.True(t, ok)
	assert.Same(t, a, q.Agent)

	q, ok = r.QueueByHandle(0xA0)
	require.True(t, ok)
	assert.Equal(t, uint64(10), q.ID)

	got, ok := r.AgentByQueueID(10)
	require.True(t, ok)
	assert.Same(t, a, got)

	got, ok = r.AgentByHandle(0x100)
	require.True(t, ok)
	assert.Same(t, a, got)

	assert.Equal(t, []uint64{10, 11}, a.QueueIDs())
	assert.Equal(t, 2, r.QueueCount())

	q.MarkFailed()
	assert.Equal(t, []uint64{11}, a.ResumableQueueIDs())

	require.NoError(t, r.RemoveQueue(10))
	assert.Nil(t, q.Agent)
	assert.Equal(t, []uint64{11}, a.QueueIDs())

	err := r.RemoveQueue(10)
	require.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 1, logs.FilterMessage("cannot remove queue, not found").Len())
}

func TestAgentSupportStatus(t *testing.T) {
	cases := []struct {
		isa    string
		status types.AgentStatus
		acc    bool
	}{
		{isa: "amdgcn-amd-amdhsa--gfx900", status: types.AgentActive},
		{isa: "amdgcn-amd-amdhsa--gfx908", status: types.AgentActive, acc: true},
		{isa: "amdgcn-amd-amdhsa--gfx1100", status: types.AgentUnsupported},
	}
	for _, tc := range cases {
		t.Run(tc.isa, func(t *testing.T) {
			a := NewAgent(1, 1, "AMD", tc.isa)
			assert.Equal(t, tc.status, a.Status)
			assert.Equal(t, tc.acc, a.Layout.HasAccVGPRs)
			assert.Equal(t, tc.status == types.AgentActive, a.Active())
		})
	}
}

func TestFindCodeObjectAcrossExecutables(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	require.NoError(t, r.AddAgent(NewAgent(0x100, 1, "AMD gfx906", "gfx906")))

	first, err := r.AddExecutable(0xE1, 1)
	require.NoError(t, err)
	second, err := r.AddExecutable(0xE2, 1)
	require.NoError(t, err)

	require.NoError(t, r.AddCodeObject(&CodeObject{LoadAddress: 0x1000, LoadSize: 0x1000, NodeID: 1}, []byte("elf1"), first))
	require.NoError(t, r.AddCodeObject(&CodeObject{LoadAddress: 0x3000, LoadSize: 0x1000, NodeID: 1}, []byte("elf2"), second))

	co, ok := r.FindCodeObject(0x1500)
	require.True(t, ok)
	assert.Equal(t, uint64(0x1000), co.LoadAddress)
	assert.Equal(t, uint64(0xE1), co.Executable)

	co, ok = r.FindCodeObject(0x3FFF)
	require.True(t, ok)
	assert.Equal(t, uint64(0x3000), co.LoadAddress)

	_, ok = r.FindCodeObject(0x5000)
	assert.False(t, ok)
	_, ok = r.FindCodeObject(0x2000)
	assert.False(t, ok)
}

func TestAddCodeObjectNamingAndOverlap(t *testing.T) {
	r, store, _ := newTestRegistry(t)
	e, err := r.AddExecutable(0xE1, 1)
	require.NoError(t, err)

	a := &CodeObject{LoadAddress: 0x1000, LoadSize: 0x100, NodeID: 1}
	b := &CodeObject{LoadAddress: 0x2000, LoadSize: 0x100, NodeID: 1}
	require.NoError(t, r.AddCodeObject(a, []byte{1}, e))
	require.NoError(t, r.AddCodeObject(b, []byte{2}, e))

	assert.Equal(t, "/tmp/ROCm_Tmp_test/CodeObject_0", a.Path)
	assert.Equal(t, "/tmp/ROCm_Tmp_test/CodeObject_1", b.Path)
	assert.Equal(t, []byte{2}, store.files[b.Path])

	err = r.AddCodeObject(&CodeObject{LoadAddress: 0x1080, LoadSize: 0x100, NodeID: 1}, []byte{3}, e)
	require.ErrorIs(t, err, ErrOverlap)

	// Same range on another node is allowed.
	other, err := r.AddExecutable(0xE2, 2)
	require.NoError(t, err)
	require.NoError(t, r.AddCodeObject(&CodeObject{LoadAddress: 0x1080, LoadSize: 0x100, NodeID: 2}, []byte{4}, other))
	assert.Equal(t, 3, r.CodeObjectCount())
}

func TestDeleteExecutableCascades(t *testing.T) {
	r, store, logs := newTestRegistry(t)
	e, err := r.AddExecutable(0xE1, 1)
	require.NoError(t, err)

	for i := uint64(0); i < 3; i++ {
		co := &CodeObject{LoadAddress: 0x1000 * (i + 1), LoadSize: 0x800, NodeID: 1}
		require.NoError(t, r.AddCodeObject(co, []byte{byte(i)}, e))
	}
	require.Len(t, store.files, 3)

	require.NoError(t, r.DeleteExecutable(0xE1))
	assert.Empty(t, store.files)
	assert.Len(t, store.removed, 3)
	assert.Equal(t, 0, e.CodeObjects.Len())
	_, ok := r.Executable(0xE1)
	assert.False(t, ok)

	err = r.DeleteExecutable(0xBAD)
	require.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 1, logs.FilterMessage("cannot delete executable, not found").Len())
	assert.Len(t, store.removed, 3)
}

func TestDeleteCodeObject(t *testing.T) {
	r, store, _ := newTestRegistry(t)
	e, err := r.AddExecutable(0xE1, 1)
	require.NoError(t, err)
	co := &CodeObject{LoadAddress: 0x1000, LoadSize: 0x10, NodeID: 1}
	require.NoError(t, r.AddCodeObject(co, nil, e))

	require.NoError(t, r.DeleteCodeObject(0x1000, e))
	assert.Equal(t, []string{co.Path}, store.removed)
	require.ErrorIs(t, r.DeleteCodeObject(0x1000, e), ErrNotFound)
}

func TestClearAggregatesRemovalErrors(t *testing.T) {
	r, store, _ := newTestRegistry(t)
	require.NoError(t, r.AddAgent(NewAgent(1, 1, "AMD", "gfx906")))
	require.NoError(t, r.AddQueue(1, &Queue{ID: 1}))
	e, err := r.AddExecutable(0xE1, 1)
	require.NoError(t, err)
	co := &CodeObject{LoadAddress: 0x1000, LoadSize: 0x10, NodeID: 1}
	require.NoError(t, r.AddCodeObject(co, nil, e))
	require.NoError(t, r.AddCodeObject(&CodeObject{LoadAddress: 0x2000, LoadSize: 0x10, NodeID: 1}, nil, e))
	store.failOn = co.Path

	err = r.Clear()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "busy")
	assert.Len(t, store.removed, 1)
	assert.Empty(t, r.Agents())
	assert.Empty(t, r.Executables())
}
