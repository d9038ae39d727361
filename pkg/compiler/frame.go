package compiler

import (
	"fmt"

	"sbc/pkg/asm"
)

// Frame item kinds, as shown by the debugger.
const (
	FrameLink  = 'M'
	FrameArg   = 'A'
	FrameLocal = 'L'
)

// FrameItem is one named slot range of a method frame, addressed as
// RY+Offset.
type FrameItem struct {
	Kind   byte
	Name   string
	Type   asm.TypeData
	Offset int
	Width  int
}

// Frame is the stack frame of a method: the saved linkage at offset 0, the
// arguments (this first) and then the locals.
type Frame struct {
	Args     []FrameItem
	Locals   []FrameItem
	ArgSlots int
	Size     int
}

func (c *Compiler) newFrame(m *asm.MethodDecl) (*Frame, error) {
	f := &Frame{}
	off := 1
	add := func(list *[]FrameItem, kind byte, name string, t asm.TypeData) error {
		w, err := c.width(t)
		if err != nil {
			return err
		}
		if w == 0 {
			return fmt.Errorf("%s has no size", name)
		}
		*list = append(*list, FrameItem{Kind: kind, Name: name, Type: t, Offset: off, Width: w})
		off += w
		return nil
	}
	if !m.IsStatic() {
		if err := add(&f.Args, FrameArg, "this", thisType(m.Class)); err != nil {
			return nil, err
		}
	}
	for i, p := range m.Params {
		name := p.Name
		if name == "" {
			name = fmt.Sprintf("arg%d", i)
		}
		if err := add(&f.Args, FrameArg, name, p.Type); err != nil {
			return nil, err
		}
	}
	f.ArgSlots = off - 1
	for i, l := range m.Locals {
		name := l.Name
		if name == "" {
			name = fmt.Sprintf("V_%d", i)
		}
		if err := add(&f.Locals, FrameLocal, name, l.Type); err != nil {
			return nil, err
		}
	}
	f.Size = off
	return f, nil
}

// thisType is the type of the implicit first argument: the class itself for
// reference types, a managed reference for value types.
func thisType(cls *asm.ClassDecl) asm.TypeData {
	if cls.IsValueType() {
		return cls.Name.RefOf()
	}
	return cls.Name
}

func lookupItem(items []FrameItem, in *asm.Instruction, what string) (FrameItem, error) {
	if in.Index >= 0 {
		if in.Index >= len(items) {
			return FrameItem{}, fmt.Errorf("%s %d out of range", what, in.Index)
		}
		return items[in.Index], nil
	}
	for _, it := range items {
		if it.Name == in.Var {
			return it, nil
		}
	}
	return FrameItem{}, fmt.Errorf("unknown %s %q", what, in.Var)
}

// Arg resolves an argument operand by index or name.
func (f *Frame) Arg(in *asm.Instruction) (FrameItem, error) { return lookupItem(f.Args, in, "argument") }

// Local resolves a local operand by index or name.
func (f *Frame) Local(in *asm.Instruction) (FrameItem, error) {
	return lookupItem(f.Locals, in, "local")
}

// Names labels every frame slot: "M:" for the linkage, "A:" arguments and
// "L:" locals. Multi-word items repeat their name with a word suffix.
func (f *Frame) Names() []string {
	out := make([]string, f.Size)
	out[0] = "M:link"
	for _, list := range [][]FrameItem{f.Args, f.Locals} {
		for _, it := range list {
			for w := 0; w < it.Width; w++ {
				name := string(it.Kind) + ":" + it.Name
				if it.Width > 1 {
					name = fmt.Sprintf("%s+%d", name, w)
				}
				out[it.Offset+w] = name
			}
		}
	}
	return out
}
