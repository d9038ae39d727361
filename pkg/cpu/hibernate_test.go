package cpu

import (
	"path/filepath"
	"testing"
)

func TestHibernateCoreState(t *testing.T) {
	cfg := DefaultConfig()
	c1 := loadProgram(cfg, 42, PSH, 1, AKX, STX)
	stepN(t, c1, 6)
	c1.RK, c1.PF = -3, true
	c1.PushInput("ok")

	data, err := c1.HibernateToBytes(map[string][]byte{"output.txt": []byte("hello")})
	if err != nil {
		t.Fatalf("HibernateToBytes: %v", err)
	}

	c2 := New(cfg, make([]int32, cfg.MemorySize), WritableSet(cfg))
	extra, err := c2.RestoreFromBytes(data)
	if err != nil {
		t.Fatalf("RestoreFromBytes: %v", err)
	}

	if c2.PC != c1.PC || c2.Slot != c1.Slot {
		t.Errorf("PC: got %d.%d, want %d.%d", c2.PC, c2.Slot, c1.PC, c1.Slot)
	}
	if c2.RA != c1.RA || c2.RB != c1.RB || c2.RC != c1.RC {
		t.Errorf("operand registers: got %d %d %d, want %d %d %d", c2.RA, c2.RB, c2.RC, c1.RA, c1.RB, c1.RC)
	}
	if c2.RX != c1.RX || c2.RY != c1.RY {
		t.Errorf("stack registers: got %d %d, want %d %d", c2.RX, c2.RY, c1.RX, c1.RY)
	}
	if c2.RK != -3 || !c2.PF {
		t.Errorf("prefix state: got %d %v", c2.RK, c2.PF)
	}
	if c2.Steps != 6 {
		t.Errorf("Steps: got %d, want 6", c2.Steps)
	}
	if len(c2.Input) != 2 || c2.Input[0] != 'o' {
		t.Errorf("Input: got %v", c2.Input)
	}
	if got := c2.Memory[cfg.StackStart+1]; got != 42 {
		t.Errorf("stack word: got %d, want 42", got)
	}
	for i := range c1.Memory {
		if c1.Memory[i] != c2.Memory[i] {
			t.Fatalf("memory differs at 0x%X", i)
		}
	}
	if string(extra["output.txt"]) != "hello" {
		t.Errorf("extra entry: got %q", extra["output.txt"])
	}
}

func TestHibernateNegativeWords(t *testing.T) {
	cfg := DefaultConfig()
	c1 := New(cfg, make([]int32, cfg.MemorySize), WritableSet(cfg))
	c1.Memory[cfg.HeapStart] = -1
	c1.Memory[cfg.HeapStart+1] = -0x7FFFFFFF - 1

	path := filepath.Join(t.TempDir(), "snap.zip")
	if err := c1.HibernateToFile(path); err != nil {
		t.Fatalf("HibernateToFile: %v", err)
	}
	c2 := New(cfg, make([]int32, cfg.MemorySize), WritableSet(cfg))
	if err := c2.RestoreFromFile(path); err != nil {
		t.Fatalf("RestoreFromFile: %v", err)
	}
	if c2.Memory[cfg.HeapStart] != -1 || c2.Memory[cfg.HeapStart+1] != -0x7FFFFFFF-1 {
		t.Errorf("negative words: got %d %d", c2.Memory[cfg.HeapStart], c2.Memory[cfg.HeapStart+1])
	}
}

func TestRestoreRejectsMismatchedMemory(t *testing.T) {
	cfg := DefaultConfig()
	c1 := New(cfg, make([]int32, cfg.MemorySize), WritableSet(cfg))
	data, err := c1.HibernateToBytes(nil)
	if err != nil {
		t.Fatalf("HibernateToBytes: %v", err)
	}

	small := cfg
	small.MemorySize = cfg.MemorySize - 1
	c2 := New(small, make([]int32, small.MemorySize), WritableSet(small))
	if _, err := c2.RestoreFromBytes(data); err == nil {
		t.Fatal("expected a size mismatch error")
	}
	if _, err := c2.RestoreFromBytes([]byte("not a zip")); err == nil {
		t.Fatal("expected a zip error")
	}
}
