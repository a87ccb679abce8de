package report

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"time"
)

const (
	DefaultObjdump = "llvm-objdump"
	// The disassembly window spans this many bytes on each side of the PC.
	disasmWindow = 0x20
)

type Disassembler interface {
	Disassemble(ctx context.Context, gfx, path string, start, stop uint64) (string, error)
}

// ObjdumpDisassembler runs an amdgcn-capable llvm-objdump.
type ObjdumpDisassembler struct {
	Path    string
	Timeout time.Duration
}

func objdumpArgs(gfx, path string, start, stop uint64) []string {
	return []string{
		"-triple=amdgcn-amd-amdhsa",
		"-mcpu=" + gfx,
		"-disassemble",
		"-source",
		"-line-numbers",
		fmt.Sprintf("--start-address=0x%X", start),
		fmt.Sprintf("--stop-address=0x%X", stop),
		path,
	}
}

func (d ObjdumpDisassembler) Disassemble(ctx context.Context, gfx, path string, start, stop uint64) (string, error) {
	bin := d.Path
	if bin == "" {
		bin = DefaultObjdump
	}
	if d.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.Timeout)
		defer cancel()
	}

	var out bytes.Buffer
	cmd := exec.CommandContext(ctx, bin, objdumpArgs(gfx, path, start, stop)...)
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		return out.String(), fmt.Errorf("%s: %w", bin, err)
	}
	return out.String(), nil
}

// window returns the disassembly range around a code object offset.
func window(offset uint64) (uint64, uint64) {
	start := uint64(0)
	if offset > disasmWindow {
		start = offset - disasmWindow
	}
	return start, offset + disasmWindow
}
