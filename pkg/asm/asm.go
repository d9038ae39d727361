package asm

import (
	"fmt"
	"strconv"
	"strings"

	"sbc/pkg/cpu"
)

// Assembler turns a raw opcode listing into instruction slots. A line holds
// an optional "label:" and an optional instruction, written either as a
// bare mnemonic ("ADD") or as an immediate followed by a mnemonic ("-3 AKX",
// "0x40000 PSH", "@loop PSH"). Immediates are encoded as the shortest prefix
// chain; label immediates always take Config.LabelPrefixes prefixes so that
// addresses are known after the first pass. ".align" pads with NOP to the
// next word. Comments start with ';'.
type Assembler struct {
	Config cpu.Config
	labels map[string]int
}

type parsedLine struct {
	lineNo   int
	labels   []string
	mnemonic string
	operand  string
}

func NewAssembler(cfg cpu.Config) *Assembler {
	return &Assembler{Config: cfg, labels: make(map[string]int)}
}

// Assemble assembles code with a fresh assembler for cfg.
func Assemble(cfg cpu.Config, code string) ([]cpu.Opcode, map[int]int, error) {
	return NewAssembler(cfg).Assemble(code)
}

// Assemble returns the instruction slots and a map from the linear index of
// each instruction's first slot to its source line. Label values are
// address-slots relative to Config.ExecutableStart.
func (a *Assembler) Assemble(code string) ([]cpu.Opcode, map[int]int, error) {
	lines := strings.Split(code, "\n")
	parsed := make([]parsedLine, 0, len(lines))
	for i, raw := range lines {
		p, err := parseLine(raw, i+1)
		if err != nil {
			return nil, nil, err
		}
		parsed = append(parsed, p)
	}
	if err := a.pass1(parsed); err != nil {
		return nil, nil, err
	}
	return a.pass2(parsed)
}

// Label returns the address-slot of a label defined by the last Assemble.
func (a *Assembler) Label(name string) (int, bool) {
	v, ok := a.labels[normalizeLabel(name)]
	return v, ok
}

func (a *Assembler) pass1(lines []parsedLine) error {
	idx := 0
	for _, p := range lines {
		for _, lbl := range p.labels {
			key := normalizeLabel(lbl)
			if _, exists := a.labels[key]; exists {
				return fmt.Errorf("duplicate label '%s' on line %d", lbl, p.lineNo)
			}
			a.labels[key] = a.Config.AddrIdxToAddrSlot(a.Config.ExecutableStart*a.Config.SlotsPerWord + idx)
		}
		n, err := a.instructionLength(p, idx)
		if err != nil {
			return err
		}
		idx += n
	}
	return nil
}

func (a *Assembler) pass2(lines []parsedLine) ([]cpu.Opcode, map[int]int, error) {
	var program []cpu.Opcode
	sourceMap := make(map[int]int)

	for _, p := range lines {
		if p.mnemonic == "" {
			continue
		}
		if p.mnemonic == ".ALIGN" {
			for len(program)%a.Config.SlotsPerWord != 0 {
				program = append(program, cpu.NOP)
			}
			continue
		}
		op, ok := cpu.ParseOpcode(p.mnemonic)
		if !ok || !op.Valid() {
			return nil, nil, fmt.Errorf("unknown instruction '%s' on line %d", p.mnemonic, p.lineNo)
		}
		sourceMap[len(program)] = p.lineNo

		if p.operand != "" {
			v, n, err := a.immediate(p.operand, p.lineNo)
			if err != nil {
				return nil, nil, err
			}
			program = append(program, a.Config.Prefixes(v, n)...)
		}
		program = append(program, op)
	}
	return program, sourceMap, nil
}

func (a *Assembler) instructionLength(p parsedLine, idx int) (int, error) {
	switch p.mnemonic {
	case "":
		return 0, nil
	case ".ALIGN":
		spw := a.Config.SlotsPerWord
		return (spw - idx%spw) % spw, nil
	}
	if p.operand == "" {
		return 1, nil
	}
	if isLabelOperand(p.operand) {
		return a.Config.LabelPrefixes() + 1, nil
	}
	v, err := parseNumber(p.operand, p.lineNo)
	if err != nil {
		return 0, err
	}
	return a.Config.PrefixCount(v) + 1, nil
}

// immediate resolves an operand to its value and prefix count.
func (a *Assembler) immediate(token string, lineNo int) (int32, int, error) {
	if isLabelOperand(token) {
		v, ok := a.labels[normalizeLabel(token[1:])]
		if !ok {
			return 0, 0, fmt.Errorf("undefined label '%s' on line %d", token[1:], lineNo)
		}
		return int32(v), a.Config.LabelPrefixes(), nil
	}
	v, err := parseNumber(token, lineNo)
	if err != nil {
		return 0, 0, err
	}
	return v, a.Config.PrefixCount(v), nil
}

func parseLine(raw string, lineNo int) (parsedLine, error) {
	p := parsedLine{lineNo: lineNo}
	line := strings.TrimSpace(stripAsmComment(raw))
	for {
		colon := strings.Index(line, ":")
		if colon < 0 {
			break
		}
		lbl := strings.TrimSpace(line[:colon])
		if !isIdentifier(lbl) {
			return p, fmt.Errorf("invalid label '%s' on line %d", lbl, lineNo)
		}
		p.labels = append(p.labels, lbl)
		line = strings.TrimSpace(line[colon+1:])
	}
	fields := strings.Fields(line)
	switch len(fields) {
	case 0:
	case 1:
		p.mnemonic = strings.ToUpper(fields[0])
	case 2:
		p.operand, p.mnemonic = fields[0], strings.ToUpper(fields[1])
	default:
		return p, fmt.Errorf("too many operands on line %d: %q", lineNo, line)
	}
	if p.mnemonic == ".ALIGN" && p.operand != "" {
		return p, fmt.Errorf(".align takes no operand on line %d", lineNo)
	}
	return p, nil
}

func stripAsmComment(line string) string {
	if i := strings.IndexByte(line, ';'); i >= 0 {
		return line[:i]
	}
	return line
}

func parseNumber(token string, lineNo int) (int32, error) {
	v, err := strconv.ParseInt(token, 0, 64)
	if err != nil || v < -1<<31 || v > 1<<32-1 {
		return 0, fmt.Errorf("invalid immediate on line %d: %s", lineNo, token)
	}
	return int32(v), nil
}

func isLabelOperand(token string) bool {
	return len(token) > 1 && token[0] == '@'
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_' || r == '.' || (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z'):
		case i > 0 && r >= '0' && r <= '9':
		default:
			return false
		}
	}
	return true
}

func normalizeLabel(label string) string {
	return strings.ToUpper(strings.TrimSpace(label))
}
