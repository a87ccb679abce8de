package codeobject

import (
	"debug/dwarf"
	"debug/elf"
	"errors"
	"fmt"
	"sort"
)

type Symbol struct {
	Name  string
	Value uint64
	Size  uint64
}

type Location struct {
	File   string
	Line   int
	Column int
}

func (l Location) String() string {
	if l.Column > 0 {
		return fmt.Sprintf("%s:%d:%d", l.File, l.Line, l.Column)
	}
	return fmt.Sprintf("%s:%d", l.File, l.Line)
}

type lineEntry struct {
	addr uint64
	loc  Location
}

// Symbols is the function table and line table of one code object.
type Symbols struct {
	funcs []Symbol
	lines []lineEntry
}

// NewSymbols builds a table from already resolved functions.
func NewSymbols(funcs []Symbol) *Symbols {
	s := &Symbols{funcs: append([]Symbol(nil), funcs...)}
	sort.Slice(s.funcs, func(i, j int) bool { return s.funcs[i].Value < s.funcs[j].Value })
	return s
}

// Load reads function symbols and, when present, DWARF line info from an ELF file.
func Load(path string) (*Symbols, error) {
	f, err := elf.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return fromELF(f)
}

func fromELF(f *elf.File) (*Symbols, error) {
	s := &Symbols{}

	syms, err := f.Symbols()
	if err != nil && !errors.Is(err, elf.ErrNoSymbols) {
		return nil, fmt.Errorf("reading symbols: %w", err)
	}
	for _, sym := range syms {
		if elf.ST_TYPE(sym.Info) != elf.STT_FUNC || sym.Value == 0 || sym.Name == "" {
			continue
		}
		s.funcs = append(s.funcs, Symbol{Name: sym.Name, Value: sym.Value, Size: sym.Size})
	}
	sort.Slice(s.funcs, func(i, j int) bool { return s.funcs[i].Value < s.funcs[j].Value })

	// Missing debug info only costs the line annotation.
	if d, err := f.DWARF(); err == nil {
		s.lines = readLines(d)
	}
	return s, nil
}

func readLines(d *dwarf.Data) []lineEntry {
	var lines []lineEntry
	r := d.Reader()
	for {
		e, err := r.Next()
		if err != nil || e == nil {
			break
		}
		if e.Tag != dwarf.TagCompileUnit {
			r.SkipChildren()
			continue
		}
		lr, err := d.LineReader(e)
		if err == nil && lr != nil {
			var le dwarf.LineEntry
			for {
				if err := lr.Next(&le); err != nil {
					break
				}
				if le.EndSequence || le.File == nil {
					continue
				}
				lines = append(lines, lineEntry{
					addr: le.Address,
					loc:  Location{File: le.File.Name, Line: le.Line, Column: le.Column},
				})
			}
		}
		r.SkipChildren()
	}
	sort.SliceStable(lines, func(i, j int) bool { return lines[i].addr < lines[j].addr })
	return lines
}

// Lookup finds the function covering addr and the offset into it.
func (s *Symbols) Lookup(addr uint64) (Symbol, uint64, bool) {
	i := sort.Search(len(s.funcs), func(i int) bool { return s.funcs[i].Value > addr }) - 1
	if i < 0 {
		return Symbol{}, 0, false
	}
	sym := s.funcs[i]
	if sym.Size > 0 && addr >= sym.Value+sym.Size {
		return Symbol{}, 0, false
	}
	return sym, addr - sym.Value, true
}

// Line returns the source location of the closest line entry at or below addr.
func (s *Symbols) Line(addr uint64) (Location, bool) {
	i := sort.Search(len(s.lines), func(i int) bool { return s.lines[i].addr > addr }) - 1
	if i < 0 {
		return Location{}, false
	}
	return s.lines[i].loc, true
}

func (s *Symbols) NumFuncs() int {
	return len(s.funcs)
}
