package compiler

import (
	"strings"

	"sbc/pkg/asm"
)

// TypeStack shadows the operand stack at compile time so widths and
// arithmetic kinds are known for every instruction.
type TypeStack []asm.TypeData

func (s *TypeStack) Push(t asm.TypeData) { *s = append(*s, t) }

func (s *TypeStack) Pop() (asm.TypeData, error) {
	if len(*s) == 0 {
		return asm.TypeData{}, defectf("type stack underflow")
	}
	t := (*s)[len(*s)-1]
	*s = (*s)[:len(*s)-1]
	return t, nil
}

// PopN removes n entries and returns them bottom first.
func (s *TypeStack) PopN(n int) ([]asm.TypeData, error) {
	if len(*s) < n {
		return nil, defectf("type stack underflow: need %d, have %d", n, len(*s))
	}
	out := append([]asm.TypeData(nil), (*s)[len(*s)-n:]...)
	*s = (*s)[:len(*s)-n]
	return out, nil
}

// Peek returns the entry depth places below the top.
func (s TypeStack) Peek(depth int) (asm.TypeData, error) {
	if depth >= len(s) {
		return asm.TypeData{}, defectf("type stack underflow: peek %d of %d", depth, len(s))
	}
	return s[len(s)-1-depth], nil
}

func (s TypeStack) Clone() TypeStack { return append(TypeStack(nil), s...) }

func (s TypeStack) String() string {
	parts := make([]string, len(s))
	for i, t := range s {
		parts[i] = t.String()
	}
	return "[" + strings.Join(parts, " ") + "]"
}
