package compiler

import (
	"fmt"

	"sbc/pkg/asm"
	"sbc/pkg/cpu"
)

// Runtime type checks. The second argument is a vtable address, or for the
// interface forms the offset of the interface's table entry.
const (
	IsInstSignature             = "object System.Runtime.TypeCheck::IsInst(object,int32)"
	IsInstInterfaceSignature    = "object System.Runtime.TypeCheck::IsInstInterface(object,int32)"
	CastClassSignature          = "object System.Runtime.TypeCheck::CastClass(object,int32)"
	CastClassInterfaceSignature = "object System.Runtime.TypeCheck::CastClassInterface(object,int32)"
)

// Primitives box into these runtime classes when they are declared.
var boxClasses = map[string]string{
	"bool":    "System.Boolean",
	"char":    "System.Char",
	"int32":   "System.Int32",
	"float32": "System.Single",
}

// runtimeClass is the class whose vtable tags values of t. Primitives
// without a declared box class, arrays and pointers have none.
func (c *Compiler) runtimeClass(t asm.TypeData) (*asm.ClassDecl, error) {
	if t.Suffix != "" {
		return nil, nil
	}
	if name, ok := boxClasses[t.Name]; ok {
		return c.syms.Class(name), nil
	}
	if t.IsPrimitive() && t.Name != "object" && t.Name != "string" {
		return nil, nil
	}
	return c.classFor(t)
}

// isReference reports whether values of t are object references, which
// box and unbox leave untouched.
func (c *Compiler) isReference(t asm.TypeData, cls *asm.ClassDecl) bool {
	switch {
	case t.Suffix != "", t.Name == "object", t.Name == "string":
		return true
	case cls != nil:
		return !cls.IsValueType()
	}
	return !t.IsPrimitive()
}

// pushVtable includes cls and pushes its vtable address. A value type gets
// a vtable only once it is boxed or tested.
func (c *Compiler) pushVtable(cls *asm.ClassDecl) error {
	if cls.IsValueType() {
		c.boxed[cls] = true
	}
	if err := c.include(cls); err != nil {
		return err
	}
	c.pushLabel(vtableLabel(cls.Name))
	return nil
}

// typeCheck compiles isinst and castclass: the object is replaced by itself
// when its runtime type derives from or implements the operand, otherwise
// by null. castclass traps on a failed non-null cast.
func (c *Compiler) typeCheck(ctx *methodContext, in *asm.Instruction, cast bool) error {
	if in.TypeArg == nil {
		return fmt.Errorf("%s needs a type", in.Op)
	}
	t := *in.TypeArg
	if _, err := ctx.types.Pop(); err != nil {
		return err
	}
	cls, err := c.runtimeClass(t)
	if err != nil {
		return err
	}
	if cls == nil {
		return fmt.Errorf("%s %s is not supported", in.Op, t)
	}

	hook := IsInstSignature
	if cls.IsInterface() {
		c.pushConst(int32(ifaceOffset(c.ifaceSlot(ifaceKey{Iface: cls}))))
		hook = IsInstInterfaceSignature
		if cast {
			hook = CastClassInterfaceSignature
		}
	} else {
		if err := c.pushVtable(cls); err != nil {
			return err
		}
		if cast {
			hook = CastClassSignature
		}
	}
	if err := c.callHook(hook); err != nil {
		return err
	}
	if c.isReference(t, cls) {
		ctx.types.Push(t)
	} else {
		ctx.types.Push(asm.Object)
	}
	return nil
}

func opIsinst(c *Compiler, ctx *methodContext, in *asm.Instruction) error {
	return c.typeCheck(ctx, in, false)
}

func opCastclass(c *Compiler, ctx *methodContext, in *asm.Instruction) error {
	return c.typeCheck(ctx, in, true)
}

// opBox copies a value into a fresh object tagged with the vtable of its
// runtime class, or with 0 when it has none.
func opBox(c *Compiler, ctx *methodContext, in *asm.Instruction) error {
	if in.TypeArg == nil {
		return fmt.Errorf("box needs a type")
	}
	t := *in.TypeArg
	if _, err := ctx.types.Pop(); err != nil {
		return err
	}
	cls, err := c.runtimeClass(t)
	if err != nil {
		return err
	}
	if c.isReference(t, cls) {
		ctx.types.Push(t)
		return nil
	}
	w, err := c.width(t)
	if err != nil {
		return err
	}

	c.pushConst(int32(w))
	if cls != nil {
		if err := c.pushVtable(cls); err != nil {
			return err
		}
	} else {
		c.pushConst(0)
	}
	if err := c.callHook(NewobjSignature); err != nil {
		return err
	}
	if w == 1 {
		c.emitK(-1, cpu.LDX)
		c.emit(cpu.LDX, cpu.STA)
	} else {
		c.emit(cpu.LDX)
		c.addrX(-w)
		c.copyForward(w)
	}
	c.emit(cpu.LDX)
	c.emitK(-w, cpu.STX)
	c.emitK(-w, cpu.AKX)
	ctx.types.Push(asm.Object)
	return nil
}

// opUnbox leaves the address of the boxed value; the object pointer is that
// address already.
func opUnbox(c *Compiler, ctx *methodContext, in *asm.Instruction) error {
	if in.TypeArg == nil {
		return fmt.Errorf("unbox needs a type")
	}
	if _, err := ctx.types.Pop(); err != nil {
		return err
	}
	ctx.types.Push(in.TypeArg.RefOf())
	return nil
}

// opUnboxAny copies a boxed value back onto the stack. For reference types
// it is castclass.
func opUnboxAny(c *Compiler, ctx *methodContext, in *asm.Instruction) error {
	if in.TypeArg == nil {
		return fmt.Errorf("unbox.any needs a type")
	}
	t := *in.TypeArg
	cls, err := c.runtimeClass(t)
	if err != nil {
		return err
	}
	if c.isReference(t, cls) {
		return c.typeCheck(ctx, in, true)
	}
	if _, err := ctx.types.Pop(); err != nil {
		return err
	}
	w, err := c.width(t)
	if err != nil {
		return err
	}
	c.loadIndirect(w)
	ctx.types.Push(t)
	return nil
}

// opSwitch jumps to the n-th target for a value n in range and falls
// through otherwise. The value stays in RA while each case is tested.
func opSwitch(c *Compiler, ctx *methodContext, in *asm.Instruction) error {
	if len(in.Targets) == 0 {
		return fmt.Errorf("switch needs at least one target")
	}
	if _, err := ctx.types.Pop(); err != nil {
		return err
	}
	c.stackPop()
	for i, target := range in.Targets {
		c.emit(cpu.DUP)
		if i != 0 {
			c.emitK(i, cpu.PSH)
			c.emit(cpu.SUB)
		}
		c.emitLabel(ctx.label(target))
		c.emit(cpu.JPZ)
		ctx.branchTo(target)
	}
	return nil
}
