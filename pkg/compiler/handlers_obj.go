package compiler

import (
	"fmt"

	"sbc/pkg/asm"
	"sbc/pkg/cpu"
)

// pushLabel pushes the patched value of a label.
func (c *Compiler) pushLabel(name string) {
	c.emitLabel(name)
	c.emit(cpu.PSH)
	c.stackPush()
}

// callHook calls a runtime method the code generator depends on.
func (c *Compiler) callHook(sig string) error {
	m := c.syms.Method(sig)
	if m == nil {
		return fmt.Errorf("missing runtime method %s", sig)
	}
	if err := c.include(m); err != nil {
		return err
	}
	c.emitCall(methodLabel(m))
	return nil
}

// memberRef normalises an operand: builtin class spellings are mapped and
// parameters of a generic owner are bound to its arguments.
func (c *Compiler) memberRef(in *asm.Instruction) (asm.MemberRef, error) {
	if in.Member == nil {
		return asm.MemberRef{}, fmt.Errorf("%s needs a member operand", in.Op)
	}
	ref := *in.Member
	ref.Class = classType(ref.Class)
	if len(ref.Class.Args) > 0 {
		if _, err := c.classFor(ref.Class); err != nil {
			return ref, err
		}
		ref = ref.Substitute(c.typeParams(ref.Class))
	}
	return ref, nil
}

// resolveMethod looks a method up on its class and then on each base.
func (c *Compiler) resolveMethod(ref asm.MemberRef) (*asm.MethodDecl, error) {
	t := ref.Class
	for {
		if m := c.syms.Method(asm.MethodSignature(ref.Type, t, ref.Name, ref.Args)); m != nil {
			return m, nil
		}
		cls, err := c.classFor(t)
		if err != nil {
			return nil, err
		}
		if cls == nil || cls.Extends == nil {
			return nil, fmt.Errorf("unknown method %s", ref.Signature())
		}
		t = classType(*cls.Extends)
	}
}

func opCall(c *Compiler, ctx *methodContext, in *asm.Instruction) error {
	return c.call(ctx, in, false)
}

func opCallvirt(c *Compiler, ctx *methodContext, in *asm.Instruction) error {
	return c.call(ctx, in, true)
}

func (c *Compiler) call(ctx *methodContext, in *asm.Instruction, virtual bool) error {
	ref, err := c.memberRef(in)
	if err != nil {
		return err
	}
	if fn, ok := intrinsics[ref.Signature()]; ok {
		return fn(c, ctx)
	}
	m, err := c.resolveMethod(ref)
	if err != nil {
		return err
	}
	n := len(m.Params)
	if !m.IsStatic() {
		n++
	}
	if _, err := ctx.types.PopN(n); err != nil {
		return err
	}

	if virtual && m.IsVirtual() {
		off, err := c.dispatchOffset(m)
		if err != nil {
			return err
		}
		args, err := c.argSlots(m)
		if err != nil {
			return err
		}
		if err := c.include(m.Class); err != nil {
			return err
		}
		if err := c.callSlot(m.SlotSignature()); err != nil {
			return err
		}
		c.emitK(1-args, cpu.LDX)
		c.emitK(-1, cpu.LDA)
		c.emitK(off, cpu.LDA)
		c.emit(cpu.JSR)
	} else {
		if m.IsAbstract() {
			return fmt.Errorf("direct call to abstract %s", m.Signature())
		}
		if err := c.include(m); err != nil {
			return err
		}
		c.emitCall(methodLabel(m))
	}
	if !m.Return.IsVoid() {
		ctx.types.Push(m.Return)
	}
	return nil
}

// dispatchOffset is where a virtual call to m finds its target relative to
// the receiver's vtable: a method slot for class methods, an interface table
// entry for interface methods.
func (c *Compiler) dispatchOffset(m *asm.MethodDecl) (int, error) {
	if m.Class.IsInterface() {
		return ifaceOffset(c.ifaceSlot(ifaceKey{Iface: m.Class, Sig: m.SlotSignature()})), nil
	}
	sh, err := c.shape(m.Class)
	if err != nil {
		return 0, err
	}
	slot, ok := sh.Slot(m.SlotSignature())
	if !ok {
		return 0, defectf("%s has no vtable slot", m.Signature())
	}
	return 2 + slot, nil
}

func opNewobj(c *Compiler, ctx *methodContext, in *asm.Instruction) error {
	ref, err := c.memberRef(in)
	if err != nil {
		return err
	}
	m, err := c.resolveMethod(ref)
	if err != nil {
		return err
	}
	if !m.IsCtor() || m.IsStatic() {
		return fmt.Errorf("newobj needs an instance constructor, got %s", m.Signature())
	}
	args, err := c.argSlots(m)
	if err != nil {
		return err
	}
	args--
	if _, err := ctx.types.PopN(len(m.Params)); err != nil {
		return err
	}
	cls := m.Class

	if cls.IsValueType() {
		if err := c.newValue(cls, args); err != nil {
			return err
		}
	} else {
		sh, err := c.shape(cls)
		if err != nil {
			return err
		}
		if err := c.include(cls); err != nil {
			return err
		}
		if m.Signature() == StringCtorSignature {
			c.emit(cpu.LDX)
			c.stackPush()
			c.pushConst(1)
			c.pushLabel(vtableLabel(cls.Name))
			err = c.callHook(NewarrSignature)
		} else {
			c.pushConst(int32(sh.Size))
			c.pushLabel(vtableLabel(cls.Name))
			err = c.callHook(NewobjSignature)
		}
		if err != nil {
			return err
		}
		c.rotateNew(args)
	}

	if err := c.include(m); err != nil {
		return err
	}
	c.emitCall(methodLabel(m))
	ctx.types.Push(cls.Name)
	return nil
}

// rotateNew turns [args..., p] into [p, p, args...] so the constructor
// consumes one copy of the new object and leaves the other.
func (c *Compiler) rotateNew(args int) {
	c.emitK(2, cpu.AKX)
	c.emitK(-2, cpu.LDX)
	c.emit(cpu.STX)
	if args > 0 {
		c.addrX(-1)
		c.addrX(-3)
		c.copyBackward(args)
	}
	c.emit(cpu.LDX, cpu.DUP)
	c.emitK(-2-args, cpu.STX)
	c.emitK(-1-args, cpu.STX)
	c.emitK(-1, cpu.AKX)
}

// newValue reserves a zeroed value below the constructor arguments and
// pushes its address as this: [args...] becomes [value, &value, args...].
func (c *Compiler) newValue(cls *asm.ClassDecl, args int) error {
	w, err := c.width(cls.Name)
	if err != nil {
		return err
	}
	c.emitK(w+1, cpu.AKX)
	if args > 0 {
		c.addrX(0)
		c.addrX(-w - 1)
		c.copyBackward(args)
	}
	for k := 0; k < w; k++ {
		c.emit(cpu.PSH)
		c.emitK(-args-w+k, cpu.STX)
	}
	c.addrX(-args - w)
	c.emitK(-args, cpu.STX)
	return nil
}

// onStack reports whether a value of t sits inline on the operand stack
// rather than being reached through an address.
func (c *Compiler) onStack(t asm.TypeData) bool {
	return !t.IsAddress() && c.isValueType(t)
}

func opLdfld(c *Compiler, ctx *methodContext, in *asm.Instruction) error {
	ref, err := c.memberRef(in)
	if err != nil {
		return err
	}
	_, fl, err := c.field(&ref)
	if err != nil {
		return err
	}
	obj, err := ctx.types.Pop()
	if err != nil {
		return err
	}
	off, w := fl.Offset, fl.Width

	if c.onStack(obj) {
		size, err := c.width(obj)
		if err != nil {
			return err
		}
		if w == 1 {
			c.emitK(off+1-size, cpu.LDX)
			c.emitK(-size, cpu.AKX)
			c.stackPush()
		} else {
			if off != 0 {
				c.addrX(1 - size)
				c.addrX(1 - size + off)
				c.copyForward(w)
			}
			if w != size {
				c.emitK(w-size, cpu.AKX)
			}
		}
	} else {
		c.stackPop()
		if w == 1 {
			c.emitK(off, cpu.LDA)
			c.stackPush()
		} else {
			if off != 0 {
				c.emitK(off, cpu.AKA)
			}
			c.emitK(w, cpu.AKX)
			c.addrX(1 - w)
			c.emit(cpu.SWP)
			c.copyForward(w)
		}
	}
	ctx.types.Push(fl.Type)
	return nil
}

func opLdflda(c *Compiler, ctx *methodContext, in *asm.Instruction) error {
	ref, err := c.memberRef(in)
	if err != nil {
		return err
	}
	_, fl, err := c.field(&ref)
	if err != nil {
		return err
	}
	obj, err := ctx.types.Pop()
	if err != nil {
		return err
	}
	if c.onStack(obj) {
		return fmt.Errorf("ldflda needs an address, got %s", obj)
	}
	if fl.Offset != 0 {
		c.stackPop()
		c.emitK(fl.Offset, cpu.AKA)
		c.stackPush()
	}
	ctx.types.Push(fl.Type.RefOf())
	return nil
}

func opStfld(c *Compiler, ctx *methodContext, in *asm.Instruction) error {
	ref, err := c.memberRef(in)
	if err != nil {
		return err
	}
	_, fl, err := c.field(&ref)
	if err != nil {
		return err
	}
	ts, err := ctx.types.PopN(2)
	if err != nil {
		return err
	}
	if c.onStack(ts[0]) {
		return fmt.Errorf("stfld needs an address, got %s", ts[0])
	}
	c.storeIndirect(fl.Offset, fl.Width)
	return nil
}

// storeIndirect pops [addr, value] and stores the value at addr+off.
func (c *Compiler) storeIndirect(off, w int) {
	if w == 1 {
		c.emitK(-1, cpu.LDX)
		c.emit(cpu.LDX, cpu.SWP)
		c.emitK(off, cpu.STA)
		c.emitK(-2, cpu.AKX)
		return
	}
	c.emitK(-w, cpu.LDX)
	if off != 0 {
		c.emitK(off, cpu.AKA)
	}
	c.addrX(1 - w)
	c.copyForward(w)
	c.emitK(-w-1, cpu.AKX)
}

// loadIndirect replaces the address on top of the stack with the w words
// it points at.
func (c *Compiler) loadIndirect(w int) {
	c.stackPop()
	if w == 1 {
		c.emit(cpu.LDA)
		c.stackPush()
		return
	}
	c.emitK(w, cpu.AKX)
	c.addrX(1 - w)
	c.emit(cpu.SWP)
	c.copyForward(w)
}

func opLdsfld(c *Compiler, ctx *methodContext, in *asm.Instruction) error {
	ref, err := c.memberRef(in)
	if err != nil {
		return err
	}
	f, addr, w, err := c.staticField(&ref)
	if err != nil {
		return err
	}
	if err := c.include(f.Class); err != nil {
		return err
	}
	if w == 1 {
		c.emitK(addr, cpu.PSH)
		c.emit(cpu.LDA)
		c.stackPush()
	} else {
		c.emitK(w, cpu.AKX)
		c.addrX(1 - w)
		c.emitK(addr, cpu.PSH)
		c.copyForward(w)
	}
	ctx.types.Push(f.Type)
	return nil
}

func opStsfld(c *Compiler, ctx *methodContext, in *asm.Instruction) error {
	ref, err := c.memberRef(in)
	if err != nil {
		return err
	}
	f, addr, w, err := c.staticField(&ref)
	if err != nil {
		return err
	}
	if err := c.include(f.Class); err != nil {
		return err
	}
	if _, err := ctx.types.Pop(); err != nil {
		return err
	}
	if w == 1 {
		c.stackPop()
		c.emitK(addr, cpu.PSH)
		c.emit(cpu.STA)
	} else {
		c.emitK(addr, cpu.PSH)
		c.addrX(1 - w)
		c.copyForward(w)
		c.emitK(-w, cpu.AKX)
	}
	return nil
}

func opLdsflda(c *Compiler, ctx *methodContext, in *asm.Instruction) error {
	ref, err := c.memberRef(in)
	if err != nil {
		return err
	}
	f, addr, _, err := c.staticField(&ref)
	if err != nil {
		return err
	}
	if err := c.include(f.Class); err != nil {
		return err
	}
	c.pushConst(int32(addr))
	ctx.types.Push(f.Type.RefOf())
	return nil
}

func opNewarr(c *Compiler, ctx *methodContext, in *asm.Instruction) error {
	if in.TypeArg == nil {
		return fmt.Errorf("newarr needs an element type")
	}
	if _, err := ctx.types.Pop(); err != nil {
		return err
	}
	w, err := c.width(*in.TypeArg)
	if err != nil {
		return err
	}
	c.pushConst(int32(w))
	c.pushConst(0)
	if err := c.callHook(NewarrSignature); err != nil {
		return err
	}
	ctx.types.Push(in.TypeArg.ArrayOf())
	return nil
}

func opLdlen(c *Compiler, ctx *methodContext, in *asm.Instruction) error {
	if _, err := ctx.types.Pop(); err != nil {
		return err
	}
	c.loadIndirect(1)
	ctx.types.Push(asm.Int32)
	return nil
}

// elemType is the explicit element type of an instruction, or the element
// type of the array depth places below the top of the stack.
func (c *Compiler) elemType(ctx *methodContext, in *asm.Instruction, depth int) (asm.TypeData, int, error) {
	t := asm.Object
	if in.TypeArg != nil {
		t = *in.TypeArg
	} else if arr, err := ctx.types.Peek(depth); err != nil {
		return t, 0, err
	} else if arr.IsArray() {
		t = arr.Elem()
	}
	w, err := c.width(t)
	return t, w, err
}

// elemAddr turns RA = index, RB = array into RA = address of the element.
func (c *Compiler) elemAddr(w int) {
	if w != 1 {
		c.emitK(w, cpu.PSH)
		c.emit(cpu.MLT)
	}
	c.emit(cpu.ADD)
	c.emitK(1, cpu.AKA)
}

func opLdelem(c *Compiler, ctx *methodContext, in *asm.Instruction) error {
	t, w, err := c.elemType(ctx, in, 1)
	if err != nil {
		return err
	}
	if _, err := ctx.types.PopN(2); err != nil {
		return err
	}
	c.stackPop2()
	if w == 1 {
		c.emit(cpu.ADD)
		c.emitK(1, cpu.LDA)
		c.narrow(narrowing(t))
		c.stackPush()
	} else {
		c.elemAddr(w)
		c.emitK(w, cpu.AKX)
		c.addrX(1 - w)
		c.emit(cpu.SWP)
		c.copyForward(w)
	}
	ctx.types.Push(t)
	return nil
}

func opLdelema(c *Compiler, ctx *methodContext, in *asm.Instruction) error {
	t, w, err := c.elemType(ctx, in, 1)
	if err != nil {
		return err
	}
	if _, err := ctx.types.PopN(2); err != nil {
		return err
	}
	c.stackPop2()
	c.elemAddr(w)
	c.stackPush()
	ctx.types.Push(t.RefOf())
	return nil
}

func opStelem(c *Compiler, ctx *methodContext, in *asm.Instruction) error {
	_, w, err := c.elemType(ctx, in, 2)
	if err != nil {
		return err
	}
	if _, err := ctx.types.PopN(3); err != nil {
		return err
	}
	if w == 1 {
		c.emitK(-2, cpu.LDX)
		c.emitK(-1, cpu.LDX)
		c.emit(cpu.ADD, cpu.LDX, cpu.SWP)
		c.emitK(1, cpu.STA)
		c.emitK(-3, cpu.AKX)
		return nil
	}
	c.emitK(-w-1, cpu.LDX)
	c.emitK(-w, cpu.LDX)
	c.elemAddr(w)
	c.addrX(1 - w)
	c.copyForward(w)
	c.emitK(-w-2, cpu.AKX)
	return nil
}

// indirectType is the explicit type of ldobj/stobj/initobj, or the element
// of the address on the stack.
func (c *Compiler) indirectType(ctx *methodContext, in *asm.Instruction, depth int) (int, error) {
	var t asm.TypeData
	if in.TypeArg != nil {
		t = *in.TypeArg
	} else {
		addr, err := ctx.types.Peek(depth)
		if err != nil {
			return 0, err
		}
		t = addr.Elem()
	}
	return c.width(t)
}

func opLdobj(c *Compiler, ctx *methodContext, in *asm.Instruction) error {
	w, err := c.indirectType(ctx, in, 0)
	if err != nil {
		return err
	}
	addr, err := ctx.types.Pop()
	if err != nil {
		return err
	}
	t := addr.Elem()
	if in.TypeArg != nil {
		t = *in.TypeArg
	}
	if mask, shift := narrowing(t); w == 1 && (mask != 0 || shift != 0) {
		c.stackPop()
		c.emit(cpu.LDA)
		c.narrow(mask, shift)
		c.stackPush()
	} else {
		c.loadIndirect(w)
	}
	ctx.types.Push(t)
	return nil
}

func opStobj(c *Compiler, ctx *methodContext, in *asm.Instruction) error {
	w, err := c.indirectType(ctx, in, 1)
	if err != nil {
		return err
	}
	if _, err := ctx.types.PopN(2); err != nil {
		return err
	}
	c.storeIndirect(0, w)
	return nil
}

func opInitobj(c *Compiler, ctx *methodContext, in *asm.Instruction) error {
	w, err := c.indirectType(ctx, in, 0)
	if err != nil {
		return err
	}
	if _, err := ctx.types.Pop(); err != nil {
		return err
	}
	for k := 0; k < w; k++ {
		c.emit(cpu.LDX, cpu.PSH, cpu.SWP)
		c.emitK(k, cpu.STA)
	}
	c.emitK(-1, cpu.AKX)
	return nil
}
