// Package savearea decodes a hardware context save area into per-wavefront
// register and LDS snapshots.
//
// The area starts with a 16 byte header. The control stack is walked from
// start to end while the wave save area is walked from end to start: every
// wave reference in the control stack consumes one wave block taken from the
// top of the remaining save area.
package savearea

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	HeaderSize = 16

	ctrlStackLeaderDwords = 2
	hwregBlockDwords      = 0x20
	trailerDwords         = 0x10

	hwregM0     = 0x0
	hwregPCLo   = 0x1
	hwregPCHi   = 0x2
	hwregExecLo = 0x3
	hwregExecHi = 0x4
	hwregStatus = 0x5
	hwregTrapSt = 0x6
)

var (
	ErrShortBuffer     = errors.New("save area shorter than its header declares")
	ErrMisaligned      = errors.New("save area offsets are not dword aligned")
	ErrLayoutMismatch  = errors.New("ctrl stack / context save address check failed")
	ErrCursorUnderflow = errors.New("wave save area exhausted before the control stack")
	ErrCursorMismatch  = errors.New("context save size check failed")
)

type Header struct {
	CtrlStackOffset uint32
	CtrlStackSize   uint32
	WaveStateOffset uint32
	WaveStateSize   uint32
}

func ParseHeader(b []byte) (Header, error) {
	var h Header
	if len(b) < HeaderSize {
		return h, fmt.Errorf("%w: %d bytes, header needs %d", ErrShortBuffer, len(b), HeaderSize)
	}
	if err := binary.Read(bytes.NewReader(b[:HeaderSize]), binary.LittleEndian, &h); err != nil {
		return h, err
	}
	return h, nil
}

// Validate checks that the control stack ends where the wave save area begins.
func (h Header) Validate() error {
	if h.WaveStateSize > h.WaveStateOffset ||
		uint64(h.CtrlStackOffset)+uint64(h.CtrlStackSize) != uint64(h.WaveStateOffset-h.WaveStateSize) {
		return fmt.Errorf("%w: ctrl_stack_offset=0x%X ctrl_stack_size=0x%X wave_state_offset=0x%X wave_state_size=0x%X",
			ErrLayoutMismatch, h.CtrlStackOffset, h.CtrlStackSize, h.WaveStateOffset, h.WaveStateSize)
	}
	if h.CtrlStackOffset%4 != 0 || h.CtrlStackSize%4 != 0 || h.WaveStateOffset%4 != 0 || h.WaveStateSize%4 != 0 {
		return ErrMisaligned
	}
	return nil
}

// AreaSize is the number of bytes from the header base that a decode reads.
func (h Header) AreaSize() uint64 {
	return uint64(h.WaveStateOffset)
}

type relaunch uint32

func (r relaunch) vgprs() uint32 { return uint32(r) & 0x3F }
func (r relaunch) sgprs() uint32 { return (uint32(r) >> 6) & 0x7 }
func (r relaunch) ldsSize() uint32 { return (uint32(r) >> 9) & 0x1FF }
func (r relaunch) firstWave() bool { return (uint32(r)>>17)&0x1 == 1 }
func (r relaunch) isEvent() bool { return (uint32(r)>>30)&0x1 == 1 }
func (r relaunch) isState() bool { return (uint32(r)>>31)&0x1 == 1 }

// footprint is the resource allocation declared by the last STATE record.
type footprint struct {
	vgprsDW    uint32
	accvgprsDW uint32
	sgprsDW    uint32
	ldsDW      uint32
}

func (f footprint) waveAreaDwords(wavefront uint32, first bool) (sgprs, hwregs, lds, size uint32) {
	accvgprs := f.vgprsDW * wavefront
	sgprs = accvgprs + f.accvgprsDW*wavefront
	hwregs = sgprs + f.sgprsDW
	lds = hwregs + hwregBlockDwords
	unused := lds
	if first {
		unused += f.ldsDW
	}
	return sgprs, hwregs, lds, unused + trailerDwords
}

// Decode walks the control stack in area and returns one WaveState per saved
// wavefront, in control stack order. area must start at the save area header
// and cover at least Header.AreaSize bytes.
func Decode(area []byte, layout Layout) ([]WaveState, error) {
	h, err := ParseHeader(area)
	if err != nil {
		return nil, err
	}
	if err := h.Validate(); err != nil {
		return nil, err
	}
	if uint64(len(area)) < h.AreaSize() {
		return nil, fmt.Errorf("%w: have %d bytes, need %d", ErrShortBuffer, len(area), h.AreaSize())
	}

	words := make([]uint32, h.AreaSize()/4)
	if err := binary.Read(bytes.NewReader(area[:len(words)*4]), binary.LittleEndian, words); err != nil {
		return nil, err
	}

	wavefront := layout.WavefrontSize
	if wavefront == 0 {
		wavefront = WavefrontSize
	}

	ctl := words[h.CtrlStackOffset/4 : (h.CtrlStackOffset+h.CtrlStackSize)/4]
	start := (h.WaveStateOffset - h.WaveStateSize) / 4
	cursor := h.WaveStateOffset / 4

	var (
		fp     footprint
		waves  []WaveState
		leader = -1
	)

	for idx := ctrlStackLeaderDwords; idx < len(ctl); idx++ {
		r := relaunch(ctl[idx])

		switch {
		case r.isState() && !r.isEvent():
			fp.vgprsDW = (1 + r.vgprs()) * 4
			fp.accvgprsDW = 0
			if layout.HasAccVGPRs {
				fp.accvgprsDW = fp.vgprsDW
			}
			fp.sgprsDW = ((1 + r.sgprs()) - 1) * 16
			fp.ldsDW = r.ldsSize() * 128

		case !r.isState() && !r.isEvent():
			first := r.firstWave()
			sgprsOff, hwregsOff, ldsOff, size := fp.waveAreaDwords(wavefront, first)
			if cursor < start || cursor-start < size {
				return nil, fmt.Errorf("%w: wave %d needs 0x%X dwords, 0x%X left",
					ErrCursorUnderflow, len(waves), size, cursor-start)
			}
			cursor -= size
			block := words[cursor : cursor+size]

			w := WaveState{
				NumSGPRs:        fp.sgprsDW,
				SGPRs:           cloneWords(block[sgprsOff : sgprsOff+fp.sgprsDW]),
				NumVGPRs:        fp.vgprsDW,
				NumVGPRLanes:    wavefront,
				VGPRs:           cloneWords(block[:fp.vgprsDW*wavefront]),
				NumAccVGPRs:     fp.accvgprsDW,
				NumAccVGPRLanes: wavefront,
				LDSSizeDW:       fp.ldsDW,
				FirstInGroup:    first,
				Regs: Registers{
					PC:      uint64(block[hwregsOff+hwregPCLo]) | uint64(block[hwregsOff+hwregPCHi])<<32,
					Exec:    uint64(block[hwregsOff+hwregExecLo]) | uint64(block[hwregsOff+hwregExecHi])<<32,
					Status:  block[hwregsOff+hwregStatus],
					TrapSts: block[hwregsOff+hwregTrapSt],
					M0:      block[hwregsOff+hwregM0],
				},
			}
			if fp.accvgprsDW > 0 {
				accOff := fp.vgprsDW * wavefront
				w.AccVGPRs = cloneWords(block[accOff : accOff+fp.accvgprsDW*wavefront])
			}
			if first {
				leader = len(waves)
				w.LDS = cloneWords(block[ldsOff : ldsOff+fp.ldsDW])
			}
			w.GroupLeader = leader
			waves = append(waves, w)
		}
	}

	if cursor != start {
		return nil, fmt.Errorf("%w: walk ended at 0x%X, expected 0x%X",
			ErrCursorMismatch, uint64(cursor)*4, uint64(start)*4)
	}
	return waves, nil
}

// cloneWords copies s into a non-nil slice.
func cloneWords(s []uint32) []uint32 {
	out := make([]uint32, len(s))
	copy(out, s)
	return out
}
