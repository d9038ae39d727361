package cpu

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config describes the word geometry and the memory partition of the machine.
// Every field can be set from a TOML file or from a .config directive.
type Config struct {
	BitsPerWord  int `toml:"bits_per_word"`
	SlotsPerWord int `toml:"slots_per_word"`
	SlotBits     int `toml:"slot_bits"`
	PfxBits      int `toml:"pfx_bits"`

	MemorySize      int `toml:"memory_size"`
	ExecutableStart int `toml:"executable_start"`
	HeapPointer     int `toml:"heap_pointer"`

	StackStart int `toml:"stack_start"`
	StackSize  int `toml:"stack_size"`

	HeapStart       int `toml:"heap_start"`
	HeapSize        int `toml:"heap_size"`
	HeapGranularity int `toml:"heap_granularity"`

	HeapMarkerStart int `toml:"heap_marker_start"`
	HeapMarkerSize  int `toml:"heap_marker_size"`

	StaticStart int `toml:"static_start"`
	StaticSize  int `toml:"static_size"`

	OutputAddress     int `toml:"output_address"`
	InputAddress      int `toml:"input_address"`
	InputReadyAddress int `toml:"input_ready_address"`
	BreakAddress      int `toml:"break_address"`

	StepsPerRun int `toml:"steps_per_run"`
}

// DefaultConfig returns the standard 32-bit, five slot layout.
func DefaultConfig() Config {
	return Config{
		BitsPerWord:  32,
		SlotsPerWord: 5,
		SlotBits:     3,
		PfxBits:      4,

		MemorySize:      0x40004,
		ExecutableStart: 0,
		HeapPointer:     0x0FFFF,

		StackStart: 0x10000,
		StackSize:  0x10000,

		HeapStart:       0x20000,
		HeapSize:        0x10000,
		HeapGranularity: 16,

		HeapMarkerStart: 0x30000,
		HeapMarkerSize:  0x1000,

		StaticStart: 0x31000,
		StaticSize:  0xF000,

		OutputAddress:     0x40000,
		InputAddress:      0x40001,
		InputReadyAddress: 0x40002,
		BreakAddress:      0x40003,

		StepsPerRun: 1000000,
	}
}

// LoadConfig reads a TOML file over the defaults and validates the result.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("cannot read %s: %w", path, err)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse error in %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) fields() map[string]*int {
	return map[string]*int{
		"bits_per_word":       &c.BitsPerWord,
		"slots_per_word":      &c.SlotsPerWord,
		"slot_bits":           &c.SlotBits,
		"pfx_bits":            &c.PfxBits,
		"memory_size":         &c.MemorySize,
		"executable_start":    &c.ExecutableStart,
		"heap_pointer":        &c.HeapPointer,
		"stack_start":         &c.StackStart,
		"stack_size":          &c.StackSize,
		"heap_start":          &c.HeapStart,
		"heap_size":           &c.HeapSize,
		"heap_granularity":    &c.HeapGranularity,
		"heap_marker_start":   &c.HeapMarkerStart,
		"heap_marker_size":    &c.HeapMarkerSize,
		"static_start":        &c.StaticStart,
		"static_size":         &c.StaticSize,
		"output_address":      &c.OutputAddress,
		"input_address":       &c.InputAddress,
		"input_ready_address": &c.InputReadyAddress,
		"break_address":       &c.BreakAddress,
		"steps_per_run":       &c.StepsPerRun,
	}
}

// Set assigns a field by name. Both the TOML key ("steps_per_run") and the
// Go field name ("StepsPerRun") are accepted, case-insensitively.
func (c *Config) Set(name string, value int) error {
	key := strings.ToLower(name)
	fields := c.fields()
	if p, ok := fields[key]; ok {
		*p = value
		return nil
	}
	for k, p := range fields {
		if strings.ReplaceAll(k, "_", "") == key {
			*p = value
			return nil
		}
	}
	return fmt.Errorf("unknown config value %q", name)
}

// Get returns a field by name, using the same lookup rules as Set.
func (c Config) Get(name string) (int, bool) {
	key := strings.ToLower(name)
	for k, p := range c.fields() {
		if k == key || strings.ReplaceAll(k, "_", "") == key {
			return *p, true
		}
	}
	return 0, false
}

type region struct {
	name        string
	start, size int
}

// Validate checks the word geometry and that the memory regions are disjoint
// and fit in memory.
func (c Config) Validate() error {
	if c.SlotsPerWord <= 0 || c.BitsPerWord <= 0 {
		return fmt.Errorf("invalid word geometry %d/%d", c.BitsPerWord, c.SlotsPerWord)
	}
	if c.BitsPerSlot() < 6 {
		return fmt.Errorf("%d bits per slot cannot hold an opcode", c.BitsPerSlot())
	}
	if 1<<c.SlotBits < c.SlotsPerWord {
		return fmt.Errorf("slot_bits %d cannot address %d slots", c.SlotBits, c.SlotsPerWord)
	}
	if c.PfxBits <= 0 || 1<<c.PfxBits > 16 {
		return fmt.Errorf("invalid pfx_bits %d", c.PfxBits)
	}
	if c.StepsPerRun <= 0 {
		return fmt.Errorf("invalid steps_per_run %d", c.StepsPerRun)
	}
	regions := []region{
		{"heap pointer", c.HeapPointer, 1},
		{"stack", c.StackStart, c.StackSize},
		{"heap", c.HeapStart, c.HeapSize},
		{"heap markers", c.HeapMarkerStart, c.HeapMarkerSize},
		{"statics", c.StaticStart, c.StaticSize},
		{"output", c.OutputAddress, 1},
		{"input", c.InputAddress, 1},
		{"input ready", c.InputReadyAddress, 1},
		{"break", c.BreakAddress, 1},
	}
	sort.Slice(regions, func(i, j int) bool { return regions[i].start < regions[j].start })
	for i, r := range regions {
		if r.start < c.ExecutableStart || r.size < 0 || r.start+r.size > c.MemorySize {
			return fmt.Errorf("%s region 0x%X+0x%X outside memory", r.name, r.start, r.size)
		}
		if i > 0 {
			prev := regions[i-1]
			if prev.start+prev.size > r.start {
				return fmt.Errorf("%s region overlaps %s", r.name, prev.name)
			}
		}
	}
	if c.HeapGranularity <= 0 || c.HeapGranularity&(c.HeapGranularity-1) != 0 {
		return fmt.Errorf("heap granularity %d is not a power of two", c.HeapGranularity)
	}
	return nil
}

// BitsPerSlot is the width of a single instruction slot.
func (c Config) BitsPerSlot() int { return c.BitsPerWord / c.SlotsPerWord }

// StackEnd is one past the last stack word.
func (c Config) StackEnd() int { return c.StackStart + c.StackSize }

// HeapEnd is one past the last heap word.
func (c Config) HeapEnd() int { return c.HeapStart + c.HeapSize }

// ExecutableLimit is the first address the executable region may not reach.
func (c Config) ExecutableLimit() int { return c.HeapPointer }

// AddrIdx converts a word address and slot into a linear instruction index.
func (c Config) AddrIdx(addr, slot int) int { return addr*c.SlotsPerWord + slot }

// AddrSlot packs a word address and slot into an address-slot value.
func (c Config) AddrSlot(addr, slot int) int { return addr<<c.SlotBits | slot }

// AddrIdxToAddrSlot converts a linear instruction index to an address-slot.
func (c Config) AddrIdxToAddrSlot(idx int) int {
	return c.AddrSlot(idx/c.SlotsPerWord, idx%c.SlotsPerWord)
}

// AddrSlotToAddrIdx converts an address-slot to a linear instruction index.
func (c Config) AddrSlotToAddrIdx(as int) int {
	return c.AddrIdx(as>>c.SlotBits, as&(1<<c.SlotBits-1))
}

// SplitAddrSlot returns the word address and slot of an address-slot.
func (c Config) SplitAddrSlot(as int) (addr, slot int) {
	return as >> c.SlotBits, as & (1<<c.SlotBits - 1)
}

// LabelPrefixes is the number of prefix instructions reserved for a value
// patched at link time. It can represent any word.
func (c Config) LabelPrefixes() int {
	return (c.BitsPerWord + c.PfxBits - 1) / c.PfxBits
}

// PrefixCount returns the number of prefix instructions needed to load v.
func (c Config) PrefixCount(v int32) int {
	bits := 1
	for bits < 32 {
		lo := int32(-1) << (bits - 1)
		hi := -lo - 1
		if v >= lo && v <= hi {
			break
		}
		bits++
	}
	return (bits + c.PfxBits - 1) / c.PfxBits
}

// Prefixes returns the n prefix opcodes that load v, most significant
// nibble first.
func (c Config) Prefixes(v int32, n int) []Opcode {
	mask := int32(1)<<c.PfxBits - 1
	out := make([]Opcode, n)
	for i := n - 1; i >= 0; i-- {
		out[i] = PFX0 + Opcode(v&mask)
		v >>= c.PfxBits
	}
	return out
}
