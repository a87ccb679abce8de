// Package report renders fault banners and decoded wavefronts, and delivers
// the text to the dump destination and an optional exporter.
package report

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/ALEYI17/InfraSight_gpudebug/internal/codeobject"
	"github.com/ALEYI17/InfraSight_gpudebug/internal/collector/aggregator"
	"github.com/ALEYI17/InfraSight_gpudebug/internal/grpc/pb"
	"github.com/ALEYI17/InfraSight_gpudebug/internal/metrics"
	"github.com/ALEYI17/InfraSight_gpudebug/internal/registry"
	"github.com/ALEYI17/InfraSight_gpudebug/internal/savearea"
	"go.uber.org/zap"
)

const (
	registerColumns = 4
	ldsRowBytes     = 16

	msgNoCodeObject  = "(Cannot match PC to a loaded code object)"
	msgNoDisassembly = "(Disassembly unavailable - is amdgcn-capable llvm-objdump in PATH?)"
)

// CodeObjectFinder resolves a PC to the code object loaded around it.
type CodeObjectFinder interface {
	FindCodeObject(pc uint64) (*registry.CodeObject, bool)
}

// Exporter ships a finished report somewhere besides the dump destination.
type Exporter interface {
	SendWaveReport(ctx context.Context, r *pb.WaveReport) error
}

type Printer struct {
	mu       sync.Mutex
	out      io.Writer
	disasm   Disassembler
	symbols  *codeobject.Cache
	exporter Exporter
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

type Option func(*Printer)

func WithDisassembler(d Disassembler) Option { return func(p *Printer) { p.disasm = d } }
func WithSymbols(c *codeobject.Cache) Option { return func(p *Printer) { p.symbols = c } }
func WithExporter(e Exporter) Option { return func(p *Printer) { p.exporter = e } }
func WithMetrics(m *metrics.Metrics) Option { return func(p *Printer) { p.metrics = m } }
func WithLogger(l *zap.Logger) Option { return func(p *Printer) { p.logger = l } }

func NewPrinter(out io.Writer, opts ...Option) *Printer {
	p := &Printer{out: out, disasm: ObjdumpDisassembler{}, logger: zap.NewNop()}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Waves renders every group in order. codeObjects may be nil when no code
// object tracking is available.
func (p *Printer) Waves(ctx context.Context, agent *registry.Agent, groups []*aggregator.WaveGroup, codeObjects CodeObjectFinder) string {
	var b strings.Builder
	gfx := savearea.GfxTarget(agent.ISA)
	for _, g := range groups {
		p.writeGroup(ctx, &b, gfx, g, codeObjects)
	}
	return b.String()
}

func (p *Printer) writeGroup(ctx context.Context, b *strings.Builder, gfx string, g *aggregator.WaveGroup, codeObjects CodeObjectFinder) {
	w := &g.First
	fmt.Fprintf(b, "%d wavefront(s) found in @PC: 0x%016X\n", g.Count, g.PC)
	b.WriteString("printing the first one: \n\n")
	fmt.Fprintf(b, "   EXEC: 0x%016X\n", w.Regs.Exec)
	fmt.Fprintf(b, " STATUS: 0x%08X\n", w.Regs.Status)
	fmt.Fprintf(b, "TRAPSTS: 0x%08X\n", w.Regs.TrapSts)
	fmt.Fprintf(b, "     M0: 0x%08X\n\n", w.Regs.M0)

	writeRegisters(b, "s", w.NumSGPRs, func(i uint32) uint32 { return w.SGPRs[i] })
	b.WriteString("\n")

	for lane := uint32(0); lane < w.NumVGPRLanes && w.NumVGPRs > 0; lane++ {
		fmt.Fprintf(b, "Lane 0x%X\n", lane)
		writeRegisters(b, "v", w.NumVGPRs, func(i uint32) uint32 { return w.VGPR(i, lane) })
		b.WriteString("\n")
	}

	if w.NumAccVGPRs > 0 {
		for lane := uint32(0); lane < w.NumAccVGPRLanes; lane++ {
			fmt.Fprintf(b, "ACC Lane 0x%X\n", lane)
			writeRegisters(b, "acc", w.NumAccVGPRs, func(i uint32) uint32 { return w.AccVGPR(i, lane) })
			b.WriteString("\n")
		}
	}

	if len(g.LDS) > 0 {
		b.WriteString("LDS:\n\n")
		writeLDS(b, g.LDS)
		b.WriteString("\n")
	}

	p.writeCodeObject(ctx, b, gfx, g.PC, codeObjects)
}

func writeRegisters(b *strings.Builder, prefix string, n uint32, value func(uint32) uint32) {
	for i := uint32(0); i < n; i += registerColumns {
		b.WriteString(" ")
		for j := i; j < i+registerColumns && j < n; j++ {
			fmt.Fprintf(b, "%6s: 0x%08X", fmt.Sprintf("%s%d", prefix, j), value(j))
		}
		b.WriteString("\n")
	}
}

func writeLDS(b *strings.Builder, lds []uint32) {
	const perRow = ldsRowBytes / 4
	for i := 0; i < len(lds); i += perRow {
		fmt.Fprintf(b, "0x%04X:", i*4)
		for j := i; j < i+perRow && j < len(lds); j++ {
			fmt.Fprintf(b, "  0x%08X", lds[j])
		}
		b.WriteString("\n")
	}
}

func (p *Printer) writeCodeObject(ctx context.Context, b *strings.Builder, gfx string, pc uint64, codeObjects CodeObjectFinder) {
	if codeObjects == nil {
		b.WriteString(msgNoCodeObject + "\n\n")
		return
	}
	co, ok := codeObjects.FindCodeObject(pc)
	if !ok {
		b.WriteString(msgNoCodeObject + "\n\n")
		return
	}

	offset := pc - co.LoadAddress
	annotation := p.annotate(co, pc)
	start, stop := window(offset)
	out, err := p.disasm.Disassemble(ctx, gfx, co.Path, start, stop)
	if err != nil {
		p.metrics.DisassemblyFailed()
		p.logger.Warn("disassembly failed", zap.String("path", co.Path), zap.Error(err))
		fmt.Fprintf(b, "Code Object:\n%s\n\n", co.Path)
		if out != "" {
			b.WriteString(out)
			if !strings.HasSuffix(out, "\n") {
				b.WriteString("\n")
			}
		}
		b.WriteString(annotation)
		b.WriteString(msgNoDisassembly + "\n\n")
		return
	}
	fmt.Fprintf(b, "Code Object:\n%s\n", out)
	b.WriteString(annotation)
	fmt.Fprintf(b, "PC offset: %X\n\n", offset)
}

// annotate names the function and source line holding pc, or returns "".
// Symbols are looked up at the ELF address, pc minus the load delta.
func (p *Printer) annotate(co *registry.CodeObject, pc uint64) string {
	if p.symbols == nil {
		return ""
	}
	syms, hit, err := p.symbols.GetWithHit(co.Path)
	p.metrics.CacheLookup(hit)
	if err != nil {
		p.logger.Debug("no symbols", zap.String("path", co.Path), zap.Error(err))
		return ""
	}

	addr := pc - uint64(co.LoadDelta)
	sym, off, ok := syms.Lookup(addr)
	if !ok {
		return ""
	}
	line := fmt.Sprintf("Symbol: %s+0x%X", sym.Name, off)
	if loc, ok := syms.Line(addr); ok {
		line += " at " + loc.String()
	}
	return line + "\n"
}

// ExportTimeout bounds a single exporter call.
const ExportTimeout = 5 * time.Second

// Emit writes r and exports it.
func (p *Printer) Emit(ctx context.Context, r *pb.WaveReport) error {
	if err := p.Write(r); err != nil {
		return err
	}
	p.Export(ctx, r)
	return nil
}

// Write puts r.Text on the destination.
func (p *Printer) Write(r *pb.WaveReport) error {
	if r.TimestampNs == 0 {
		r.TimestampNs = time.Now().UnixNano()
	}
	p.mu.Lock()
	_, err := io.WriteString(p.out, r.Text)
	p.mu.Unlock()
	if err != nil {
		return fmt.Errorf("writing report: %w", err)
	}
	return nil
}

// Export hands r to the exporter, if any, within ExportTimeout. Failures are
// logged only.
func (p *Printer) Export(ctx context.Context, r *pb.WaveReport) {
	if p.exporter == nil || r == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, ExportTimeout)
	defer cancel()
	if err := p.exporter.SendWaveReport(ctx, r); err != nil {
		p.logger.Warn("exporting report failed", zap.String("kind", r.Kind), zap.Error(err))
	}
}
