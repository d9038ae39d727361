package compiler

import (
	"bufio"
	"fmt"
	"io"
	"sort"

	"sbc/pkg/cpu"
)

// SourceLine is the statement an instruction was generated from.
type SourceLine struct {
	Unit string `json:"unit" cbor:"1,keyasint"`
	Line int    `json:"line" cbor:"2,keyasint"`
	Text string `json:"text" cbor:"3,keyasint"`
}

func (l SourceLine) String() string {
	if l.Line == 0 {
		return l.Unit
	}
	return fmt.Sprintf("%s:%d: %s", l.Unit, l.Line, l.Text)
}

// MethodData describes one compiled method. AddrIdx and End bound its code
// as instruction indices relative to the executable start. SetupEnd is the
// first index after the frame pointer has been moved and the link saved;
// Returns lists the JSR of every ret.
type MethodData struct {
	Class      string   `json:"class,omitempty" cbor:"1,keyasint,omitempty"`
	Signature  string   `json:"signature" cbor:"2,keyasint"`
	AddrIdx    int      `json:"addrIdx" cbor:"3,keyasint"`
	End        int      `json:"end" cbor:"4,keyasint"`
	SetupEnd   int      `json:"setupEnd,omitempty" cbor:"5,keyasint,omitempty"`
	Returns    []int    `json:"returns,omitempty" cbor:"6,keyasint,omitempty"`
	FrameSize  int      `json:"frameSize,omitempty" cbor:"7,keyasint,omitempty"`
	FrameItems []string `json:"frameItems,omitempty" cbor:"8,keyasint,omitempty"`
}

// Contains reports whether the relative index idx lies in the method.
func (m *MethodData) Contains(idx int) bool { return idx >= m.AddrIdx && idx < m.End }

// IsReturn reports whether idx is the JSR of a ret.
func (m *MethodData) IsReturn(idx int) bool {
	for _, r := range m.Returns {
		if r == idx {
			return true
		}
	}
	return false
}

// Compilation is a linked program: the instruction stream, the constant
// pool behind it and everything a debugger needs to map addresses back to
// source.
type Compilation struct {
	Config          cpu.Config
	Opcodes         []cpu.Opcode
	ConstData       []int32
	ConstStart      int
	ExecutableSize  int
	StaticDataCount int
	Lines           []SourceLine
	Methods         []MethodData
	Labels          map[string]LabelDef
	Refs            []LabelRef
	EntryAddrIdx    int
	HaltAddrIdx     int
	Writable        cpu.AddressSet
}

func (c *Compiler) result() *Compilation {
	spw := c.Config.SlotsPerWord
	base := c.Config.ExecutableStart * spw
	comp := &Compilation{
		Config:          c.Config,
		Opcodes:         c.opcodes,
		ConstData:       c.constData,
		ConstStart:      c.constStart,
		ExecutableSize:  (len(c.opcodes) + spw - 1) / spw,
		StaticDataCount: c.staticCount,
		Lines:           c.lines,
		Methods:         c.methods,
		Labels:          make(map[string]LabelDef, len(c.labels)),
		Refs:            make([]LabelRef, len(c.refs)),
		HaltAddrIdx:     base + c.haltIdx,
		Writable:        cpu.WritableSet(c.Config),
	}
	for name, def := range c.labels {
		comp.Labels[name] = *def
	}
	for i, ref := range c.refs {
		comp.Refs[i] = *ref
	}
	if def, ok := c.labels[methodLabel(c.entry)]; ok {
		comp.EntryAddrIdx = base + def.Value
	}
	sort.SliceStable(comp.Methods, func(i, j int) bool { return comp.Methods[i].AddrIdx < comp.Methods[j].AddrIdx })
	return comp
}

// Code returns the packed instruction words.
func (p *Compilation) Code() []int32 { return cpu.PackWords(p.Config, p.Opcodes) }

// Memory builds a fresh memory image with code and constants in place.
func (p *Compilation) Memory() []int32 {
	mem := make([]int32, p.Config.MemorySize)
	copy(mem[p.Config.ExecutableStart:], p.Code())
	copy(mem[p.ConstStart:], p.ConstData)
	return mem
}

// relIdx converts an absolute instruction index to one relative to the
// executable start.
func (p *Compilation) relIdx(addrIdx int) int {
	return addrIdx - p.Config.ExecutableStart*p.Config.SlotsPerWord
}

// MethodAt returns the method containing an absolute instruction index.
func (p *Compilation) MethodAt(addrIdx int) *MethodData {
	idx := p.relIdx(addrIdx)
	i := sort.Search(len(p.Methods), func(i int) bool { return p.Methods[i].End > idx })
	if i < len(p.Methods) && p.Methods[i].Contains(idx) {
		return &p.Methods[i]
	}
	return nil
}

// LineAt returns the source line of an absolute instruction index.
func (p *Compilation) LineAt(addrIdx int) (SourceLine, bool) {
	idx := p.relIdx(addrIdx)
	if idx < 0 || idx >= len(p.Lines) {
		return SourceLine{}, false
	}
	return p.Lines[idx], true
}

// Method finds a method by signature.
func (p *Compilation) Method(sig string) *MethodData {
	for i := range p.Methods {
		if p.Methods[i].Signature == sig {
			return &p.Methods[i]
		}
	}
	return nil
}

// Label returns the linked value of a label, as it was patched.
func (p *Compilation) Label(name string) (int, bool) {
	def, ok := p.Labels[name]
	if !ok {
		return 0, false
	}
	if def.IsAddressSlot {
		return p.Config.AddrIdxToAddrSlot(p.Config.ExecutableStart*p.Config.SlotsPerWord + def.Value), true
	}
	return def.Value, true
}

var mifHeader = []string{
	"DEPTH = 32; % Memory depth and width are required %",
	"            % DEPTH is the number of addresses %",
	"WIDTH = 32; % WIDTH is the number of bits of data per word %",
	"            % DEPTH and WIDTH should be entered as decimal numbers %",
	"ADDRESS_RADIX = HEX; % Address and value radixes are required %",
	"DATA_RADIX = HEX;    % Enter BIN, DEC, HEX, OCT, or UNS; unless %",
	"                     % otherwise specified, radixes = HEX %",
	"CONTENT",
}

// WriteMIF writes the code and constant words as a memory initialisation
// file.
func (p *Compilation) WriteMIF(w io.Writer) error {
	bw := bufio.NewWriter(w)
	for _, l := range mifHeader {
		fmt.Fprintln(bw, l)
	}
	for i, word := range p.Code() {
		fmt.Fprintf(bw, "    %06X: %08X;\n", p.Config.ExecutableStart+i, uint32(word))
	}
	for i, word := range p.ConstData {
		fmt.Fprintf(bw, "    %06X: %08X;\n", p.ConstStart+i, uint32(word))
	}
	fmt.Fprintln(bw, "END;")
	return bw.Flush()
}
