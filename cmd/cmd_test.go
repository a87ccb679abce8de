package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/ALEYI17/InfraSight_gpudebug/internal/agent"
	"github.com/ALEYI17/InfraSight_gpudebug/internal/savearea"
	"github.com/ALEYI17/InfraSight_gpudebug/internal/savearea/areatest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := NewCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func writeDump(t *testing.T) string {
	t.Helper()
	layout, ok := savearea.LayoutForISA("gfx908")
	require.True(t, ok)
	area := areatest.New(layout).
		State(areatest.State{}).
		Wave(areatest.Wave{First: true, PC: 0x1000, TrapSts: 1 << 28}).
		Wave(areatest.Wave{PC: 0x2000}).
		Bytes()
	path := filepath.Join(t.TempDir(), "dump.bin")
	require.NoError(t, os.WriteFile(path, area, 0o644))
	return path
}

func TestDecodeCommand(t *testing.T) {
	dump := writeDump(t)

	tests := []struct {
		name    string
		args    []string
		want    []string
		notWant []string
	}{
		{
			name:    "faulty only",
			args:    []string{"decode", "--isa", "gfx908", "--input", dump},
			want:    []string{"2 wavefront(s) decoded, 1 with a memory violation\n", "1 wavefront(s) found in @PC: 0x0000000000001008\n"},
			notWant: []string{"@PC: 0x0000000000002000"},
		},
		{
			name: "all waves",
			args: []string{"decode", "--isa", "amdgcn-amd-amdhsa--gfx908", "-i", dump, "--all"},
			want: []string{"@PC: 0x0000000000001008", "@PC: 0x0000000000002000"},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			out, err := execute(t, tc.args...)
			require.NoError(t, err)
			for _, w := range tc.want {
				assert.Contains(t, out, w)
			}
			for _, w := range tc.notWant {
				assert.NotContains(t, out, w)
			}
		})
	}
}

func TestDecodeCommandErrors(t *testing.T) {
	dump := writeDump(t)

	_, err := execute(t, "decode", "--isa", "gfx803", "--input", dump)
	assert.ErrorContains(t, err, "unsupported ISA")

	_, err = execute(t, "decode", "--isa", "gfx908", "--input", filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)

	_, err = execute(t, "decode", "--isa", "gfx908")
	assert.ErrorContains(t, err, "input")

	short := filepath.Join(t.TempDir(), "short.bin")
	require.NoError(t, os.WriteFile(short, []byte{1, 2, 3}, 0o644))
	_, err = execute(t, "decode", "--isa", "gfx908", "--input", short)
	assert.ErrorIs(t, err, savearea.ErrShortBuffer)
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "ROCm debug agent version: "+agent.Version+"\n", out)
}
