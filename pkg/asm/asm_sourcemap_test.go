package asm

import (
	"strings"
	"testing"

	"sbc/pkg/cpu"
)

func TestAssembleSourceMap(t *testing.T) {
	code := `
; Line 2: comment
5 PSH           ; Line 3: one prefix + PSH (slots 0-1)
                ; Line 4: empty
LABEL:          ; Line 5: label, points at slot 2
DUP             ; Line 6: slot 2
.align          ; Line 7: pads slots 3-4
@LABEL PSH      ; Line 8: label prefixes + PSH from slot 5
JMP             ; Line 9
`
	cfg := cpu.DefaultConfig()
	ops, sourceMap, err := Assemble(cfg, code)
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}

	n := cfg.LabelPrefixes()
	tests := []struct {
		idx  int
		line int
	}{
		{0, 3},
		{2, 6},
		{5, 8},
		{5 + n + 1, 9},
	}
	for _, tc := range tests {
		if got := sourceMap[tc.idx]; got != tc.line {
			t.Errorf("sourceMap[%d] = %d; want %d", tc.idx, got, tc.line)
		}
	}
	if len(ops) != 5+n+2 {
		t.Fatalf("len(ops) = %d; want %d", len(ops), 5+n+2)
	}
	if ops[3] != cpu.NOP || ops[4] != cpu.NOP {
		t.Errorf(".align padding = %v %v; want NOP NOP", ops[3], ops[4])
	}

	lines := cpu.Disassemble(cfg, cpu.PackWords(cfg, ops), 5, 5+n+1)
	if len(lines) != 1 || lines[0].Op != cpu.PSH || lines[0].Imm != int32(cfg.AddrIdxToAddrSlot(2)) {
		t.Errorf("label push decodes to %v; want %d PSH", lines, cfg.AddrIdxToAddrSlot(2))
	}
}

func TestAssembleDisassembleRoundTrip(t *testing.T) {
	src := []string{"-1 AKX", "STX", "262144 PSH", "7 PSH", "STA", "-300 LDY", "F2I", "NOP"}
	cfg := cpu.DefaultConfig()
	ops, _, err := Assemble(cfg, strings.Join(src, "\n"))
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}
	words := cpu.PackWords(cfg, ops)
	lines := cpu.Disassemble(cfg, words, 0, len(ops))
	if len(lines) != len(src) {
		t.Fatalf("got %d lines; want %d", len(lines), len(src))
	}
	for i, l := range lines {
		if l.String() != src[i] {
			t.Errorf("line %d = %q; want %q", i, l.String(), src[i])
		}
	}
}

func TestAssembleErrors(t *testing.T) {
	tests := []struct {
		name string
		code string
		want string
	}{
		{"unknown mnemonic", "FOO", "unknown instruction"},
		{"duplicate label", "a:\na:", "duplicate label"},
		{"undefined label", "@nowhere JMP", "undefined label"},
		{"bad immediate", "1x PSH", "invalid immediate"},
		{"bad label", "1a: NOP", "invalid label"},
		{"too many operands", "1 2 PSH", "too many operands"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := Assemble(cpu.DefaultConfig(), tc.code)
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("err = %v; want %q", err, tc.want)
			}
		})
	}
}

// An assembled program runs on the CPU: count RA down from 3 to 0.
func TestAssembledProgramRuns(t *testing.T) {
	cfg := cpu.DefaultConfig()
	code := `
3 PSH
loop:
-1 PSH
ADD
DUP
@done JPZ
@loop JMP
done:
1 PSH
` + "0x40003 PSH" + `
STA
`
	ops, _, err := Assemble(cfg, code)
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}
	mem := make([]int32, cfg.MemorySize)
	copy(mem, cpu.PackWords(cfg, ops))
	c := cpu.New(cfg, mem, cpu.WritableSet(cfg))
	c.RX, c.RY = int32(cfg.StackStart), int32(cfg.StackEnd()-1)
	err = c.Run(nil)
	if err == nil || !strings.Contains(err.Error(), cpu.ErrBreak.Error()) {
		t.Fatalf("Run = %v; want break", err)
	}
}
