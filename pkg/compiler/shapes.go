package compiler

import (
	"fmt"
	"sort"

	"sbc/pkg/asm"
)

// FieldLayout places one instance field inside an object or value type.
type FieldLayout struct {
	Decl   *asm.FieldDecl
	Type   asm.TypeData
	Offset int
	Width  int
}

// ClassShape is the resolved layout of a class: instance fields with their
// offsets (inherited ones included), the instance size in words, the
// virtual method slots in vtable order and every interface the class
// implements. Base is the arena handle of the base shape, or -1.
type ClassShape struct {
	Handle     int
	Class      *asm.ClassDecl
	Base       int
	ValueType  bool
	Fields     map[string]*FieldLayout
	Order      []*FieldLayout
	Size       int
	Slots      []*asm.MethodDecl
	Interfaces []*asm.ClassDecl

	slotIndex map[string]int
}

// Slot returns the vtable index of a classless signature.
func (s *ClassShape) Slot(sig string) (int, bool) {
	i, ok := s.slotIndex[sig]
	return i, ok
}

// Implements reports whether the class implements iface, directly or
// through a base class or another interface.
func (s *ClassShape) Implements(iface *asm.ClassDecl) bool {
	for _, i := range s.Interfaces {
		if i == iface {
			return true
		}
	}
	return false
}

// shapeArena holds the resolved shapes of one compilation. Shapes are only
// appended, so a handle stays valid until the arena is discarded.
type shapeArena struct {
	shapes   []*ClassShape
	handles  map[*asm.ClassDecl]int
	building map[*asm.ClassDecl]bool
}

func newShapeArena() *shapeArena {
	return &shapeArena{
		handles:  make(map[*asm.ClassDecl]int),
		building: make(map[*asm.ClassDecl]bool),
	}
}

// At returns the shape behind a handle.
func (a *shapeArena) At(h int) *ClassShape { return a.shapes[h] }

// base returns the base shape of sh, or nil.
func (a *shapeArena) base(sh *ClassShape) *ClassShape {
	if sh.Base < 0 {
		return nil
	}
	return a.shapes[sh.Base]
}

// resolveShapes discards every shape and rebuilds one per registered class,
// each after its base and its value-type fields.
func (c *Compiler) resolveShapes() error {
	c.arena = newShapeArena()
	names := make([]string, 0, len(c.syms.Classes))
	for name := range c.syms.Classes {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		cls := c.syms.Classes[name]
		if _, err := c.resolveShape(cls); err != nil {
			return &CompileError{Pos: cls.Pos, Err: err}
		}
	}
	log.Debugf("resolved %d class shapes", len(c.arena.shapes))
	return nil
}

// shape returns the resolved shape of cls. Classes registered after the
// arena was built, such as generic instances, are resolved on demand.
func (c *Compiler) shape(cls *asm.ClassDecl) (*ClassShape, error) {
	if c.arena == nil {
		c.arena = newShapeArena()
	}
	return c.resolveShape(cls)
}

func (c *Compiler) resolveShape(cls *asm.ClassDecl) (*ClassShape, error) {
	a := c.arena
	if h, ok := a.handles[cls]; ok {
		return a.shapes[h], nil
	}
	if a.building[cls] {
		return nil, fmt.Errorf("recursive layout of %s", cls.Name)
	}
	a.building[cls] = true
	defer delete(a.building, cls)

	sh := &ClassShape{
		Class:     cls,
		Base:      -1,
		ValueType: cls.IsValueType(),
		Fields:    make(map[string]*FieldLayout),
		slotIndex: make(map[string]int),
	}
	if cls.Extends != nil {
		base, err := c.classFor(*cls.Extends)
		if err != nil {
			return nil, err
		}
		if base != nil {
			bs, err := c.resolveShape(base)
			if err != nil {
				return nil, err
			}
			sh.Base = bs.Handle
			if !sh.ValueType {
				for _, f := range bs.Order {
					sh.Fields[f.Decl.Name] = f
					sh.Order = append(sh.Order, f)
				}
				sh.Size = bs.Size
			}
			sh.Slots = append(sh.Slots, bs.Slots...)
			for sig, i := range bs.slotIndex {
				sh.slotIndex[sig] = i
			}
			sh.Interfaces = append(sh.Interfaces, bs.Interfaces...)
		}
	}
	for _, it := range cls.Implements {
		iface, err := c.classFor(it)
		if err != nil {
			return nil, err
		}
		if iface == nil || !iface.IsInterface() {
			return nil, fmt.Errorf("%s implements %s, which is not an interface", cls.Name, it)
		}
		is, err := c.resolveShape(iface)
		if err != nil {
			return nil, err
		}
		for _, i := range append([]*asm.ClassDecl{iface}, is.Interfaces...) {
			if !sh.Implements(i) {
				sh.Interfaces = append(sh.Interfaces, i)
			}
		}
	}

	for _, f := range cls.Fields {
		if f.IsStatic() {
			continue
		}
		w, err := c.width(f.Type)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", f.Signature(), err)
		}
		fl := &FieldLayout{Decl: f, Type: f.Type, Offset: sh.Size, Width: w}
		sh.Fields[f.Name] = fl
		sh.Order = append(sh.Order, fl)
		sh.Size += w
	}

	for _, m := range cls.Methods {
		if !m.IsVirtual() {
			continue
		}
		sig := m.SlotSignature()
		if i, ok := sh.slotIndex[sig]; ok && !m.IsNewSlot() {
			sh.Slots[i] = m
			continue
		}
		sh.slotIndex[sig] = len(sh.Slots)
		sh.Slots = append(sh.Slots, m)
	}

	sh.Handle = len(a.shapes)
	a.shapes = append(a.shapes, sh)
	a.handles[cls] = sh.Handle
	return sh, nil
}

// width is the number of words a value of type t occupies on the operand
// stack, in a frame or inside an object.
func (c *Compiler) width(t asm.TypeData) (int, error) {
	if t.IsVoid() {
		return 0, nil
	}
	if t.Suffix != "" || t.IsPrimitive() {
		return 1, nil
	}
	if _, ok := t.GenericParam(); ok {
		return 0, fmt.Errorf("unbound generic parameter %s", t)
	}
	cls, err := c.classFor(t)
	if err != nil {
		return 0, err
	}
	if cls == nil || !cls.IsValueType() || cls.IsEnum() {
		return 1, nil
	}
	sh, err := c.shape(cls)
	if err != nil {
		return 0, err
	}
	if sh.Size == 0 {
		return 1, nil
	}
	return sh.Size, nil
}

// isValueType reports whether values of t are stored inline.
func (c *Compiler) isValueType(t asm.TypeData) bool {
	if t.Suffix != "" || t.IsPrimitive() || t.IsVoid() {
		return false
	}
	cls, err := c.classFor(t)
	return err == nil && cls != nil && cls.IsValueType() && !cls.IsEnum()
}

// field finds an instance field of the class behind t.
func (c *Compiler) field(ref *asm.MemberRef) (*ClassShape, *FieldLayout, error) {
	cls, err := c.classFor(ref.Class)
	if err != nil {
		return nil, nil, err
	}
	if cls == nil {
		return nil, nil, fmt.Errorf("unknown class %s", ref.Class)
	}
	sh, err := c.shape(cls)
	if err != nil {
		return nil, nil, err
	}
	fl, ok := sh.Fields[ref.Name]
	if !ok {
		return nil, nil, fmt.Errorf("unknown field %s", ref.Signature())
	}
	return sh, fl, nil
}

// staticField finds a static field, searching base classes, and returns its
// absolute address. Storage is assigned on first use.
func (c *Compiler) staticField(ref *asm.MemberRef) (*asm.FieldDecl, int, int, error) {
	t := classType(ref.Class)
	for {
		if _, err := c.classFor(t); err != nil {
			return nil, 0, 0, err
		}
		key := asm.FieldKey(t, ref.Name)
		if f := c.syms.StaticFields[key]; f != nil {
			w, err := c.width(f.Type)
			if err != nil {
				return nil, 0, 0, err
			}
			off, ok := c.statics[key]
			if !ok {
				off = c.staticCount
				c.statics[key] = off
				c.staticCount += w
			}
			return f, c.Config.StaticStart + off, w, nil
		}
		cls := c.syms.Class(t.String())
		if cls == nil || cls.Extends == nil {
			return nil, 0, 0, fmt.Errorf("unknown static field %s", ref.Signature())
		}
		t = classType(*cls.Extends)
	}
}
