package cpu

import (
	"bytes"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
)

// ops flattens a program: ints become their shortest prefix chain,
// Opcodes are emitted as-is.
func ops(cfg Config, items ...any) []Opcode {
	var out []Opcode
	for _, it := range items {
		switch v := it.(type) {
		case Opcode:
			out = append(out, v)
		case int:
			if v != 0 {
				out = append(out, cfg.Prefixes(int32(v), cfg.PrefixCount(int32(v)))...)
			}
		}
	}
	return out
}

// loadProgram builds a CPU with the program at the executable start and the
// stack registers pointing at an empty stack.
func loadProgram(cfg Config, items ...any) *CPU {
	mem := make([]int32, cfg.MemorySize)
	copy(mem[cfg.ExecutableStart:], PackWords(cfg, ops(cfg, items...)))
	c := New(cfg, mem, WritableSet(cfg))
	c.RX = int32(cfg.StackStart)
	c.RY = int32(cfg.StackEnd() - 1)
	c.Output = new(bytes.Buffer)
	return c
}

func stepN(t *testing.T, c *CPU, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		if err := c.Step(); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
	}
}

func TestPrefixCount(t *testing.T) {
	cfg := DefaultConfig()
	cases := map[int32]int{
		0: 1, 1: 1, 7: 1, -1: 1, -8: 1,
		8: 2, -9: 2, 42: 2, 127: 2, 128: 3,
		0x10000: 5, 0x1FFFF: 5, 0x40003: 5,
		math.MaxInt32: 8, math.MinInt32: 8,
	}
	for v, want := range cases {
		if got := cfg.PrefixCount(v); got != want {
			t.Errorf("PrefixCount(%d): expected %d, got %d", v, want, got)
		}
	}
	if cfg.LabelPrefixes() != 8 {
		t.Errorf("LabelPrefixes: expected 8, got %d", cfg.LabelPrefixes())
	}
}

func TestPrefixChainLoadsValue(t *testing.T) {
	cfg := DefaultConfig()
	for _, v := range []int32{1, -1, 8, -9, 42, 0x12345, -0x12345, math.MaxInt32, math.MinInt32} {
		for _, n := range []int{cfg.PrefixCount(v), cfg.LabelPrefixes()} {
			prog := append(cfg.Prefixes(v, n), PSH)
			mem := make([]int32, cfg.MemorySize)
			copy(mem, PackWords(cfg, prog))
			c := New(cfg, mem, WritableSet(cfg))
			stepN(t, c, len(prog))
			if c.RA != v {
				t.Errorf("%d prefixes of %d: RA = %d", n, v, c.RA)
			}
			if c.RK != 0 || c.PF {
				t.Errorf("RK/PF not cleared after PSH: %d %v", c.RK, c.PF)
			}
		}
	}
}

func TestPackWords(t *testing.T) {
	cfg := DefaultConfig()
	words := PackWords(cfg, []Opcode{PSH, POP, JSR, NOP, ADD, F2I})
	if len(words) != 2 {
		t.Fatalf("expected 2 words, got %d", len(words))
	}
	for i, want := range []Opcode{PSH, POP, JSR, NOP, ADD} {
		if got := SlotOpcode(cfg, words[0], i); got != want {
			t.Errorf("slot %d: expected %s, got %s", i, want, got)
		}
	}
	if got := SlotOpcode(cfg, words[1], 0); got != F2I {
		t.Errorf("second word: expected F2I, got %s", got)
	}
}

func TestAddrSlotArithmetic(t *testing.T) {
	cfg := DefaultConfig()
	for _, idx := range []int{0, 1, 4, 5, 9, 12345} {
		as := cfg.AddrIdxToAddrSlot(idx)
		if back := cfg.AddrSlotToAddrIdx(as); back != idx {
			t.Errorf("idx %d -> as %d -> idx %d", idx, as, back)
		}
	}
	if as := cfg.AddrSlot(3, 2); as != 3<<3|2 {
		t.Errorf("AddrSlot(3,2) = %d", as)
	}
}

func TestALU(t *testing.T) {
	cfg := DefaultConfig()
	cases := []struct {
		op   Opcode
		a, b int
		want int32
	}{
		{ADD, 10, 20, 30},
		{SUB, 10, 20, -10},
		{AND, 0xFF, 0x0F0F, 0x0F},
		{IOR, 0xF0, 0x0F, 0xFF},
		{XOR, 0xFF, 0x0F, 0xF0},
		{MLT, -3, 7, -21},
		{SHL, 3, 4, 48},
		{SHR, -64, 2, -16},
		{CGT, 5, 3, 1},
		{CGT, 3, 5, 0},
	}
	for _, tc := range cases {
		c := loadProgram(cfg, tc.a, PSH, tc.b, PSH, tc.op)
		stepN(t, c, len(ops(cfg, tc.a, PSH, tc.b, PSH, tc.op)))
		if c.RA != tc.want {
			t.Errorf("%d %s %d: expected %d, got %d", tc.a, tc.op, tc.b, tc.want, c.RA)
		}
	}

	c := loadProgram(cfg, -16, PSH, 2, PSH, SRU)
	stepN(t, c, len(ops(cfg, -16, PSH, 2, PSH, SRU)))
	if uint32(c.RA) != uint32(0xFFFFFFF0)>>2 {
		t.Errorf("SRU: got 0x%X", uint32(c.RA))
	}
}

func TestFloatOps(t *testing.T) {
	cfg := DefaultConfig()
	c := loadProgram(cfg, 7, PSH, I2F, 2, PSH, I2F, FPD, F2I)
	stepN(t, c, len(ops(cfg, 7, PSH, I2F, 2, PSH, I2F, FPD, F2I)))
	if c.RA != 3 {
		t.Errorf("7.0/2.0 truncated: expected 3, got %d", c.RA)
	}
	if truncate(float32(math.NaN())) != 0 || truncate(1e20) != math.MaxInt32 {
		t.Errorf("truncate does not saturate")
	}
}

func TestOperandStackCache(t *testing.T) {
	cfg := DefaultConfig()
	c := loadProgram(cfg, 1, PSH, 2, PSH, 3, PSH, SWP, POP, DUP)
	stepN(t, c, len(ops(cfg, 1, PSH, 2, PSH, 3, PSH, SWP, POP, DUP)))
	// 1 2 3 -> SWP: RA=2 RB=3 RC=1 -> POP: RA=3 RB=1 -> DUP: RA=3 RB=3 RC=1
	if c.RA != 3 || c.RB != 3 || c.RC != 1 {
		t.Errorf("expected 3/3/1, got %d/%d/%d", c.RA, c.RB, c.RC)
	}
}

func TestMemoryStackPushPop(t *testing.T) {
	cfg := DefaultConfig()
	c := loadProgram(cfg, 99, PSH, 1, AKX, STX, LDX, -1, AKX)
	stepN(t, c, len(ops(cfg, 99, PSH, 1, AKX, STX, LDX, -1, AKX)))
	if c.RA != 99 {
		t.Errorf("expected popped 99, got %d", c.RA)
	}
	if int(c.RX) != cfg.StackStart {
		t.Errorf("RX not restored: 0x%X", c.RX)
	}
	if c.Memory[cfg.StackStart+1] != 99 {
		t.Errorf("value not stored on stack")
	}
}

func TestStackFault(t *testing.T) {
	cfg := DefaultConfig()
	c := loadProgram(cfg, -1, AKX)
	err := c.Run(nil)
	if !errors.Is(err, ErrStackFault) {
		t.Fatalf("expected stack fault, got %v", err)
	}

	c = loadProgram(cfg, 1, AKY)
	if err := c.Run(nil); !errors.Is(err, ErrStackFault) {
		t.Fatalf("expected stack fault leaving the stack, got %v", err)
	}
}

func TestProtectedWrite(t *testing.T) {
	cfg := DefaultConfig()
	c := loadProgram(cfg, 5, PSH, 0x100, PSH, STA)
	err := c.Run(nil)
	var f *Fault
	if !errors.As(err, &f) || !errors.Is(err, ErrProtectedWrite) {
		t.Fatalf("expected protected write fault, got %v", err)
	}
	if f.Addr != 0x100 || f.Op != STA {
		t.Errorf("fault reports wrong address or op: %+v", f)
	}
}

func TestWriteInsideLiveStackWindow(t *testing.T) {
	cfg := DefaultConfig()
	target := cfg.StackStart + 0x100
	c := loadProgram(cfg, 5, PSH, target, PSH, STA)
	if err := c.Run(nil); !errors.Is(err, ErrStackFault) {
		t.Fatalf("expected stack fault, got %v", err)
	}
}

func TestHeapPointerMustPointIntoHeap(t *testing.T) {
	cfg := DefaultConfig()
	c := loadProgram(cfg, 5, PSH, cfg.HeapPointer, PSH, STA)
	if err := c.Run(nil); !errors.Is(err, ErrProtectedWrite) {
		t.Fatalf("expected protected write, got %v", err)
	}

	prog := []any{cfg.HeapStart + 16, PSH, cfg.HeapPointer, PSH, STA, 1, PSH, cfg.BreakAddress, PSH, STA}
	c = loadProgram(cfg, prog...)
	if err := c.Run(nil); !errors.Is(err, ErrBreak) {
		t.Fatalf("expected break, got %v", err)
	}
	if int(c.Memory[cfg.HeapPointer]) != cfg.HeapStart+16 {
		t.Errorf("heap pointer not written")
	}
}

func TestBreakResumes(t *testing.T) {
	cfg := DefaultConfig()
	prog := []any{1, PSH, cfg.BreakAddress, PSH, STA, 7, PSH, 1, PSH, cfg.BreakAddress, PSH, STA}
	c := loadProgram(cfg, prog...)
	if err := c.Run(nil); !errors.Is(err, ErrBreak) {
		t.Fatalf("expected break, got %v", err)
	}
	if err := c.Run(nil); !errors.Is(err, ErrBreak) {
		t.Fatalf("expected second break, got %v", err)
	}
	if c.RB != 7 {
		t.Errorf("execution did not resume after break: RB=%d", c.RB)
	}
}

func TestAssertCell(t *testing.T) {
	cfg := DefaultConfig()
	c := loadProgram(cfg, BreakAssert, PSH, cfg.BreakAddress, PSH, STA)
	if err := c.Run(nil); !errors.Is(err, ErrAssert) {
		t.Fatalf("expected assert, got %v", err)
	}
}

func TestStepLimit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StepsPerRun = 100
	c := loadProgram(cfg, JMP)
	if err := c.Run(nil); !errors.Is(err, ErrStepLimit) {
		t.Fatalf("expected step limit, got %v", err)
	}
	if c.Steps != 100 {
		t.Errorf("expected 100 steps, got %d", c.Steps)
	}
}

func TestBadOpcode(t *testing.T) {
	cfg := DefaultConfig()
	c := loadProgram(cfg, NOP, Opcode(0x19))
	err := c.Run(nil)
	var f *Fault
	if !errors.As(err, &f) || !errors.Is(err, ErrBadOpcode) {
		t.Fatalf("expected bad opcode, got %v", err)
	}
	if f.AddrIdx != 1 {
		t.Errorf("expected fault at 1, got %d", f.AddrIdx)
	}
}

func TestJumpAndLink(t *testing.T) {
	cfg := DefaultConfig()
	// idx 0: PFX(target) PSH JSR ; target = address-slot of idx 10
	target := cfg.AddrIdxToAddrSlot(10)
	prog := ops(cfg, target, PSH, JSR)
	for len(prog) < 10 {
		prog = append(prog, NOP)
	}
	prog = append(prog, JSR)
	mem := make([]int32, cfg.MemorySize)
	copy(mem, PackWords(cfg, prog))
	c := New(cfg, mem, WritableSet(cfg))
	stepN(t, c, len(ops(cfg, target, PSH, JSR)))
	if c.AddrIdx() != 10 {
		t.Fatalf("expected to land on 10, at %d", c.AddrIdx())
	}
	back := len(ops(cfg, target, PSH, JSR))
	if int(c.RA) != cfg.AddrIdxToAddrSlot(back) {
		t.Errorf("link register: expected %d, got %d", cfg.AddrIdxToAddrSlot(back), c.RA)
	}
	stepN(t, c, 1)
	if c.AddrIdx() != back {
		t.Errorf("return landed on %d, expected %d", c.AddrIdx(), back)
	}
}

func TestConditionalJump(t *testing.T) {
	cfg := DefaultConfig()
	skip := cfg.AddrIdxToAddrSlot(20)
	for _, cond := range []int{0, 1} {
		prog := ops(cfg, cond, PSH, skip, JPZ)
		n := len(prog)
		for len(prog) < 20 {
			prog = append(prog, NOP)
		}
		mem := make([]int32, cfg.MemorySize)
		copy(mem, PackWords(cfg, prog))
		c := New(cfg, mem, WritableSet(cfg))
		stepN(t, c, len(ops(cfg, cond, PSH))+len(ops(cfg, skip, JPZ)))
		want := n
		if cond == 0 {
			want = 20
		}
		if c.AddrIdx() != want {
			t.Errorf("cond %d: expected %d, at %d", cond, want, c.AddrIdx())
		}
	}
}

func TestBlockMove(t *testing.T) {
	cfg := DefaultConfig()
	src, dst := cfg.HeapStart, cfg.HeapStart+100
	prog := []any{dst, PSH, src, PSH, 3, PSH, MFD, NOP}
	c := loadProgram(cfg, prog...)
	c.Memory[src], c.Memory[src+1], c.Memory[src+2] = 4, 5, 6
	for c.AddrIdx() < len(ops(cfg, prog...))-1 {
		stepN(t, c, 1)
	}
	for i, want := range []int32{4, 5, 6} {
		if c.Memory[dst+i] != want {
			t.Errorf("dst[%d]: expected %d, got %d", i, want, c.Memory[dst+i])
		}
	}
	if c.RA != 0 || int(c.RB) != src+3 || int(c.RC) != dst+3 {
		t.Errorf("registers after MFD: %d %d %d", c.RA, c.RB, c.RC)
	}
}

func TestOutputAndInputCells(t *testing.T) {
	cfg := DefaultConfig()
	prog := []any{int('h'), PSH, cfg.OutputAddress, PSH, STA, cfg.InputAddress, PSH, LDA}
	c := loadProgram(cfg, prog...)
	c.PushInput("z")
	stepN(t, c, len(ops(cfg, prog...)))
	if out := c.Output.(*bytes.Buffer).String(); out != "h" {
		t.Errorf("expected output h, got %q", out)
	}
	if c.RA != 'z' {
		t.Errorf("expected input z, got %d", c.RA)
	}
}

func TestWritableSet(t *testing.T) {
	cfg := DefaultConfig()
	s := WritableSet(cfg)
	writable := []int{cfg.HeapPointer, cfg.StackStart + 1, cfg.HeapStart, cfg.StaticStart + cfg.StaticSize - 1}
	for _, a := range writable {
		if !s.Contains(a) {
			t.Errorf("0x%X should be writable", a)
		}
	}
	for _, a := range []int{0, cfg.StackStart, cfg.OutputAddress, cfg.MemorySize} {
		if s.Contains(a) {
			t.Errorf("0x%X should not be writable", a)
		}
	}
}

func TestDisassembleFoldsPrefixes(t *testing.T) {
	cfg := DefaultConfig()
	mem := PackWords(cfg, ops(cfg, 42, PSH, -1, AKX, STX))
	lines := Disassemble(cfg, mem, 0, 6)
	want := []string{"42 PSH", "-1 AKX", "STX"}
	if len(lines) != len(want) {
		t.Fatalf("expected %d lines, got %v", len(want), lines)
	}
	for i, w := range want {
		if lines[i].String() != w {
			t.Errorf("line %d: expected %q, got %q", i, w, lines[i].String())
		}
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sbc.toml")
	if err := os.WriteFile(path, []byte("steps_per_run = 500\nheap_size = 0x8000\n"), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.StepsPerRun != 500 || cfg.HeapSize != 0x8000 {
		t.Errorf("values not applied: %+v", cfg)
	}
	if cfg.StackStart != DefaultConfig().StackStart {
		t.Errorf("defaults lost")
	}

	if err := os.WriteFile(path, []byte("stack_size = 0x20000\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Errorf("expected overlap error")
	}
}

func TestConfigSet(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Set("StepsPerRun", 12); err != nil {
		t.Fatal(err)
	}
	if err := cfg.Set("heap_granularity", 32); err != nil {
		t.Fatal(err)
	}
	if cfg.StepsPerRun != 12 || cfg.HeapGranularity != 32 {
		t.Errorf("Set did not apply: %+v", cfg)
	}
	if err := cfg.Set("nope", 1); err == nil {
		t.Errorf("expected unknown name error")
	}
	if v, ok := cfg.Get("STEPSPERRUN"); !ok || v != 12 {
		t.Errorf("Get: %d %v", v, ok)
	}
}
