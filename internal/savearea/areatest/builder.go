// Package areatest builds synthetic context save areas for tests.
package areatest

import (
	"encoding/binary"

	"github.com/ALEYI17/InfraSight_gpudebug/internal/savearea"
)

type State struct {
	VGPRPayload uint32
	SGPRPayload uint32
	LDSPayload  uint32
}

type Wave struct {
	First   bool
	PC      uint64
	Exec    uint64
	Status  uint32
	TrapSts uint32
	M0      uint32
	// Seed distinguishes the register contents of this wave.
	Seed uint32
}

type sizedWave struct {
	Wave
	vgprs, accvgprs, sgprs, lds uint32
}

type Builder struct {
	layout savearea.Layout
	ctl    []uint32
	waves  []sizedWave
	cur    sizedWave
}

func New(layout savearea.Layout) *Builder {
	if layout.WavefrontSize == 0 {
		layout.WavefrontSize = savearea.WavefrontSize
	}
	return &Builder{layout: layout}
}

func (b *Builder) State(s State) *Builder {
	rec := uint32(1)<<31 | s.VGPRPayload&0x3F | (s.SGPRPayload&0x7)<<6 | (s.LDSPayload&0x1FF)<<9
	b.ctl = append(b.ctl, rec)
	b.cur.vgprs = (1 + s.VGPRPayload) * 4
	b.cur.accvgprs = 0
	if b.layout.HasAccVGPRs {
		b.cur.accvgprs = b.cur.vgprs
	}
	b.cur.sgprs = s.SGPRPayload * 16
	b.cur.lds = s.LDSPayload * 128
	return b
}

func (b *Builder) Event() *Builder {
	b.ctl = append(b.ctl, uint32(1)<<30)
	return b
}

func (b *Builder) Wave(w Wave) *Builder {
	var rec uint32
	if w.First {
		rec |= 1 << 17
	}
	b.ctl = append(b.ctl, rec)
	sw := b.cur
	sw.Wave = w
	b.waves = append(b.waves, sw)
	return b
}

func VGPRValue(seed, reg, lane uint32) uint32 { return seed<<24 | 0x1<<20 | reg<<8 | lane }
func AccValue(seed, reg, lane uint32) uint32 { return seed<<24 | 0x2<<20 | reg<<8 | lane }
func SGPRValue(seed, idx uint32) uint32 { return seed<<24 | 0x3<<20 | idx }
func LDSValue(seed, idx uint32) uint32 { return seed<<24 | 0x4<<20 | idx }

// waveDwords is the size of one wave block as laid out by Bytes.
func (b *Builder) waveDwords(w sizedWave) uint32 {
	n := w.vgprs*b.layout.WavefrontSize + w.accvgprs*b.layout.WavefrontSize + w.sgprs + 0x20 + 0x10
	if w.First {
		n += w.lds
	}
	return n
}

// Bytes lays out header, control stack and wave blocks. The control stack
// directly follows the header and the wave area directly follows it.
func (b *Builder) Bytes() []byte {
	ctl := append([]uint32{0xC0001, 0x0}, b.ctl...)
	ctlOffset := uint32(savearea.HeaderSize)
	ctlSize := uint32(len(ctl) * 4)

	var total uint32
	for _, w := range b.waves {
		total += b.waveDwords(w)
	}
	waveSize := total * 4
	waveOffset := ctlOffset + ctlSize + waveSize

	words := make([]uint32, waveOffset/4)
	words[0] = ctlOffset
	words[1] = ctlSize
	words[2] = waveOffset
	words[3] = waveSize
	copy(words[ctlOffset/4:], ctl)

	wf := b.layout.WavefrontSize
	cursor := waveOffset / 4
	for _, w := range b.waves {
		size := b.waveDwords(w)
		cursor -= size
		block := words[cursor : cursor+size]

		for reg := uint32(0); reg < w.vgprs; reg++ {
			for lane := uint32(0); lane < wf; lane++ {
				block[reg*wf+lane] = VGPRValue(w.Seed, reg, lane)
			}
		}
		acc := block[w.vgprs*wf:]
		for reg := uint32(0); reg < w.accvgprs; reg++ {
			for lane := uint32(0); lane < wf; lane++ {
				acc[reg*wf+lane] = AccValue(w.Seed, reg, lane)
			}
		}
		sgprs := w.vgprs*wf + w.accvgprs*wf
		for i := uint32(0); i < w.sgprs; i++ {
			block[sgprs+i] = SGPRValue(w.Seed, i)
		}
		hw := block[sgprs+w.sgprs:]
		hw[0] = w.M0
		hw[1] = uint32(w.PC)
		hw[2] = uint32(w.PC >> 32)
		hw[3] = uint32(w.Exec)
		hw[4] = uint32(w.Exec >> 32)
		hw[5] = w.Status
		hw[6] = w.TrapSts
		if w.First {
			lds := hw[0x20:]
			for i := uint32(0); i < w.lds; i++ {
				lds[i] = LDSValue(w.Seed, i)
			}
		}
	}

	out := make([]byte, len(words)*4)
	for i, v := range words {
		binary.LittleEndian.PutUint32(out[i*4:], v)
	}
	return out
}

// SetHeader overwrites the header fields of an area produced by Bytes.
func SetHeader(area []byte, h savearea.Header) {
	binary.LittleEndian.PutUint32(area[0:], h.CtrlStackOffset)
	binary.LittleEndian.PutUint32(area[4:], h.CtrlStackSize)
	binary.LittleEndian.PutUint32(area[8:], h.WaveStateOffset)
	binary.LittleEndian.PutUint32(area[12:], h.WaveStateSize)
}
