package savearea

type Registers struct {
	PC      uint64
	Exec    uint64
	Status  uint32
	TrapSts uint32
	M0      uint32
}

// XnackError reports the TRAPSTS XNACK_ERROR bit.
func (r Registers) XnackError() bool {
	return (r.TrapSts>>28)&0x1 == 1
}

// WaveState is one decoded wavefront. VGPRs are packed register-major:
// the value of v<reg> in lane <lane> is VGPRs[reg*NumVGPRLanes+lane].
type WaveState struct {
	NumSGPRs uint32
	SGPRs    []uint32

	NumVGPRs     uint32
	NumVGPRLanes uint32
	VGPRs        []uint32

	NumAccVGPRs     uint32
	NumAccVGPRLanes uint32
	AccVGPRs        []uint32

	// LDS is non-nil only on the wave that owns its workgroup's LDS copy.
	LDSSizeDW    uint32
	LDS          []uint32
	FirstInGroup bool
	// GroupLeader indexes the LDS owner in the decoded slice, -1 if the
	// control stack never named one.
	GroupLeader int

	Regs Registers
}

func (w *WaveState) VGPR(reg, lane uint32) uint32 {
	return w.VGPRs[reg*w.NumVGPRLanes+lane]
}

func (w *WaveState) AccVGPR(reg, lane uint32) uint32 {
	return w.AccVGPRs[reg*w.NumAccVGPRLanes+lane]
}

// GroupLDS returns the LDS words of the workgroup that waves[i] belongs to.
func GroupLDS(waves []WaveState, i int) []uint32 {
	if i < 0 || i >= len(waves) {
		return nil
	}
	l := waves[i].GroupLeader
	if l < 0 || l >= len(waves) {
		return nil
	}
	return waves[l].LDS
}

func AnyXnackError(waves []WaveState) bool {
	for i := range waves {
		if waves[i].Regs.XnackError() {
			return true
		}
	}
	return false
}
