package cpu

import (
	"fmt"
	"sort"
	"strings"
)

// Range is a half-open interval of word addresses.
type Range struct {
	Start int `json:"start" cbor:"1,keyasint"`
	End   int `json:"end" cbor:"2,keyasint"`
}

// AddressSet is a sorted list of disjoint ranges.
type AddressSet struct {
	Ranges []Range `json:"ranges" cbor:"1,keyasint"`
}

// Add inserts [start, start+size) and merges neighbouring ranges.
func (s *AddressSet) Add(start, size int) {
	if size <= 0 {
		return
	}
	s.Ranges = append(s.Ranges, Range{start, start + size})
	sort.Slice(s.Ranges, func(i, j int) bool { return s.Ranges[i].Start < s.Ranges[j].Start })
	merged := s.Ranges[:1]
	for _, r := range s.Ranges[1:] {
		last := &merged[len(merged)-1]
		if r.Start <= last.End {
			if r.End > last.End {
				last.End = r.End
			}
			continue
		}
		merged = append(merged, r)
	}
	s.Ranges = merged
}

// Contains reports whether addr lies in any range.
func (s AddressSet) Contains(addr int) bool {
	i := sort.Search(len(s.Ranges), func(i int) bool { return s.Ranges[i].End > addr })
	return i < len(s.Ranges) && s.Ranges[i].Start <= addr
}

func (s AddressSet) String() string {
	parts := make([]string, len(s.Ranges))
	for i, r := range s.Ranges {
		parts[i] = fmt.Sprintf("[0x%X,0x%X)", r.Start, r.End)
	}
	return strings.Join(parts, " ")
}

// WritableSet returns the addresses a running program may store to: the heap
// pointer, the stack apart from its first word, the heap, the heap markers
// and the statics.
func WritableSet(cfg Config) AddressSet {
	var s AddressSet
	s.Add(cfg.HeapPointer, 1)
	s.Add(cfg.StackStart+1, cfg.StackSize-1)
	s.Add(cfg.HeapStart, cfg.HeapSize)
	s.Add(cfg.HeapMarkerStart, cfg.HeapMarkerSize)
	s.Add(cfg.StaticStart, cfg.StaticSize)
	return s
}

// PackWords packs opcodes into words, slot 0 in the least significant bits.
func PackWords(cfg Config, ops []Opcode) []int32 {
	bits := cfg.BitsPerSlot()
	words := make([]int32, (len(ops)+cfg.SlotsPerWord-1)/cfg.SlotsPerWord)
	for i, op := range ops {
		words[i/cfg.SlotsPerWord] |= int32(uint32(op) << (uint(i%cfg.SlotsPerWord) * uint(bits)))
	}
	return words
}

// SlotOpcode extracts the opcode in the given slot of a word.
func SlotOpcode(cfg Config, word int32, slot int) Opcode {
	bits := cfg.BitsPerSlot()
	return Opcode((uint32(word) >> (uint(slot) * uint(bits))) & (1<<uint(bits) - 1))
}
