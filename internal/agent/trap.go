package agent

import (
	"errors"
	"fmt"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const (
	trapEntryOffset = 256
	trapEntryAlign  = 256
	trapBufferSize  = 4096
)

var ErrTrapEntryAlignment = errors.New("trap handler entry is not aligned")

type trapBuffer struct {
	gpuID uint32
	addr  uint64
}

// setupTrapHandlers installs the ISA specific trap handler on every
// supported agent, with a displaced stepping buffer for the debugger.
func (a *Agent) setupTrapHandlers() error {
	if a.table.TrapHandlerObject == nil || a.table.AllocateKernarg == nil {
		a.logger.Warn("runtime table cannot load trap handlers")
		return nil
	}

	a.reg.Lock()
	agents := a.reg.Agents()
	a.reg.Unlock()

	for _, ag := range agents {
		if !ag.Active() {
			continue
		}
		obj, st := a.table.TrapHandlerObject(ag.Handle)
		if !st.Ok() {
			return fmt.Errorf("loading trap handler for %s: %s", ag.ISA, st)
		}
		entry := obj + trapEntryOffset
		if entry%trapEntryAlign != 0 {
			return fmt.Errorf("%w: 0x%X", ErrTrapEntryAlignment, entry)
		}

		buf, st := a.table.AllocateKernarg(ag.Handle, trapBufferSize)
		if !st.Ok() {
			return fmt.Errorf("allocating trap buffer for node %d: %s", ag.NodeID, st)
		}
		a.traps = append(a.traps, trapBuffer{gpuID: ag.GpuID, addr: buf})

		if err := a.driver.SetTrapHandler(ag.GpuID, entry, buf, trapBufferSize); err != nil {
			return fmt.Errorf("setting trap handler for node %d: %w", ag.NodeID, err)
		}
		a.logger.Debug("trap handler installed",
			zap.Uint32("gpu_id", ag.GpuID),
			zap.String("entry", fmt.Sprintf("0x%X", entry)),
			zap.String("buffer", fmt.Sprintf("0x%X", buf)))
	}
	return nil
}

func (a *Agent) clearTrapHandlers() error {
	var errs error
	for _, t := range a.traps {
		if a.driver != nil {
			errs = multierr.Append(errs, a.driver.SetTrapHandler(t.gpuID, 0, 0, 0))
		}
		if a.table.FreeKernarg != nil {
			if st := a.table.FreeKernarg(t.addr); !st.Ok() {
				errs = multierr.Append(errs, fmt.Errorf("freeing trap buffer 0x%X: %s", t.addr, st))
			}
		}
	}
	a.traps = nil
	return errs
}
