package compiler

import (
	"fmt"
	"math"

	"sbc/pkg/asm"
	"sbc/pkg/cpu"
)

type handler func(c *Compiler, ctx *methodContext, in *asm.Instruction) error

var handlers = map[string]handler{
	"nop":    opNop,
	"ldnull": opLdnull,
	"ldc.i4": opLdcI4,
	"ldc.r4": opLdcR4,
	"ldstr":  opLdstr,
	"dup":    opDup,
	"pop":    opPop,
	"ret":    opRet,

	"add":    binaryOp(cpu.ADD, cpu.FPA, true),
	"sub":    binaryOp(cpu.SUB, cpu.FPS, true),
	"mul":    binaryOp(cpu.MLT, cpu.FPM, true),
	"div":    binaryOp(cpu.NOP, cpu.FPD, true),
	"and":    binaryOp(cpu.AND, cpu.NOP, false),
	"or":     binaryOp(cpu.IOR, cpu.NOP, false),
	"xor":    binaryOp(cpu.XOR, cpu.NOP, false),
	"shl":    binaryOp(cpu.SHL, cpu.NOP, false),
	"shr":    binaryOp(cpu.SHR, cpu.NOP, false),
	"shr.un": binaryOp(cpu.SRU, cpu.NOP, false),
	"neg":    opNeg,
	"not":    opNot,

	"ceq": compareOp(cmpEq),
	"cgt": compareOp(cmpGt),
	"clt": compareOp(cmpLt),

	"conv.i1": convInt(0, 24),
	"conv.i2": convInt(0, 16),
	"conv.i4": convInt(0, 0),
	"conv.u1": convInt(0xFF, 0),
	"conv.u2": convInt(0xFFFF, 0),
	"conv.r4": opConvR4,

	"br":      opBr,
	"brtrue":  opBrtrue,
	"brfalse": opBrfalse,
	"beq":     compareBranch(cmpEq, true),
	"bne.un":  compareBranch(cmpEq, false),
	"bgt":     compareBranch(cmpGt, true),
	"blt":     compareBranch(cmpLt, true),
	"bge":     compareBranch(cmpLt, false),
	"ble":     compareBranch(cmpGt, false),

	"ldarg":  opLdarg,
	"ldarga": opLdarga,
	"starg":  opStarg,
	"ldloc":  opLdloc,
	"ldloca": opLdloca,
	"stloc":  opStloc,

	"call":     opCall,
	"callvirt": opCallvirt,
	"newobj":   opNewobj,
	"ldfld":    opLdfld,
	"ldflda":   opLdflda,
	"stfld":    opStfld,
	"ldsfld":   opLdsfld,
	"ldsflda":  opLdsflda,
	"stsfld":   opStsfld,
	"newarr":   opNewarr,
	"ldlen":    opLdlen,
	"ldelem":   opLdelem,
	"ldelema":  opLdelema,
	"stelem":   opStelem,
	"ldobj":    opLdobj,
	"stobj":    opStobj,
	"initobj":  opInitobj,

	"isinst":    opIsinst,
	"castclass": opCastclass,
	"box":       opBox,
	"unbox":     opUnbox,
	"unbox.any": opUnboxAny,
	"switch":    opSwitch,
}

func opNop(c *Compiler, ctx *methodContext, in *asm.Instruction) error {
	c.emit(cpu.NOP)
	return nil
}

func opLdnull(c *Compiler, ctx *methodContext, in *asm.Instruction) error {
	c.pushConst(0)
	ctx.types.Push(asm.Object)
	return nil
}

func opLdcI4(c *Compiler, ctx *methodContext, in *asm.Instruction) error {
	c.pushConst(in.Int)
	ctx.types.Push(asm.Int32)
	return nil
}

func opLdcR4(c *Compiler, ctx *methodContext, in *asm.Instruction) error {
	c.pushConst(int32(math.Float32bits(in.Float)))
	ctx.types.Push(asm.Float32)
	return nil
}

func opLdstr(c *Compiler, ctx *methodContext, in *asm.Instruction) error {
	c.pushLabel(c.stringLabel(in.Str))
	ctx.types.Push(asm.Type(StringClass))
	return nil
}

func opDup(c *Compiler, ctx *methodContext, in *asm.Instruction) error {
	t, err := ctx.types.Peek(0)
	if err != nil {
		return err
	}
	w, err := c.width(t)
	if err != nil {
		return err
	}
	if w == 1 {
		c.emit(cpu.LDX)
		c.stackPush()
	} else {
		c.emitK(w, cpu.AKX)
		c.addrX(1 - w)
		c.addrX(1 - 2*w)
		c.copyForward(w)
	}
	ctx.types.Push(t)
	return nil
}

func opPop(c *Compiler, ctx *methodContext, in *asm.Instruction) error {
	t, err := ctx.types.Pop()
	if err != nil {
		return err
	}
	w, err := c.width(t)
	if err != nil {
		return err
	}
	c.emitK(-w, cpu.AKX)
	return nil
}

func opRet(c *Compiler, ctx *methodContext, in *asm.Instruction) error {
	want := 1
	if ctx.method.Return.IsVoid() {
		want = 0
	}
	if len(ctx.types) != want {
		return defectf("stack depth %d at ret, expected %d %v", len(ctx.types), want, ctx.types)
	}
	c.emit(cpu.LDY)
	c.emitK(ctx.frame.Size, cpu.AKY)
	ctx.returns = append(ctx.returns, len(c.opcodes))
	c.emit(cpu.JSR)
	ctx.types = nil
	ctx.unreachable = true
	return nil
}

// binaryOp pops two operands and pushes intOp or floatOp of them. NOP marks
// a form the CPU has no instruction for.
func binaryOp(intOp, floatOp cpu.Opcode, allowFloat bool) handler {
	return func(c *Compiler, ctx *methodContext, in *asm.Instruction) error {
		ts, err := ctx.types.PopN(2)
		if err != nil {
			return err
		}
		left, right := ts[0], ts[1]
		float := left.IsFloat() || right.IsFloat()
		op, result := intOp, left
		switch {
		case float && !allowFloat:
			return fmt.Errorf("%s is not defined on float32", in.Op)
		case float:
			op, result = floatOp, asm.Float32
		case right.IsAddress() && !left.IsAddress():
			result = right
		}
		if op == cpu.NOP {
			return fmt.Errorf("integer %s is not supported", in.Op)
		}
		c.stackPop2()
		c.emit(op)
		c.stackPush()
		ctx.types.Push(result)
		return nil
	}
}

func opNeg(c *Compiler, ctx *methodContext, in *asm.Instruction) error {
	t, err := ctx.types.Pop()
	if err != nil {
		return err
	}
	c.stackPop()
	if t.IsFloat() {
		c.emitK(math.MinInt32, cpu.PSH)
		c.emit(cpu.XOR)
	} else {
		c.emit(cpu.PSH, cpu.SWP, cpu.SUB)
	}
	c.stackPush()
	ctx.types.Push(t)
	return nil
}

func opNot(c *Compiler, ctx *methodContext, in *asm.Instruction) error {
	t, err := ctx.types.Pop()
	if err != nil {
		return err
	}
	c.stackPop()
	c.emitK(-1, cpu.PSH)
	c.emit(cpu.XOR)
	c.stackPush()
	ctx.types.Push(t)
	return nil
}

type cmpKind int

const (
	cmpEq cmpKind = iota
	cmpGt
	cmpLt
)

// compare pops two operands and leaves 1 in RA when the relation holds.
// Floats are first mapped to integers with the same ordering.
func (c *Compiler) compare(ctx *methodContext, kind cmpKind) error {
	ts, err := ctx.types.PopN(2)
	if err != nil {
		return err
	}
	if ts[0].IsFloat() || ts[1].IsFloat() {
		c.sortableFloat(-1)
		c.sortableFloat(0)
	}
	c.stackPop2()
	switch kind {
	case cmpEq:
		c.emit(cpu.SUB, cpu.ZEQ)
	case cmpGt:
		c.emit(cpu.CGT)
	case cmpLt:
		c.emit(cpu.SWP, cpu.CGT)
	}
	return nil
}

func compareOp(kind cmpKind) handler {
	return func(c *Compiler, ctx *methodContext, in *asm.Instruction) error {
		if err := c.compare(ctx, kind); err != nil {
			return err
		}
		c.stackPush()
		ctx.types.Push(asm.Bool)
		return nil
	}
}

// branchIf jumps to the instruction's target when RA is non-zero (when is
// true) or zero (when is false), consuming RA.
func (c *Compiler) branchIf(ctx *methodContext, in *asm.Instruction, when bool) {
	if when {
		c.emit(cpu.ZEQ)
	}
	c.emitLabel(ctx.label(in.Target))
	c.emit(cpu.JPZ)
	ctx.branchTo(in.Target)
}

func compareBranch(kind cmpKind, when bool) handler {
	return func(c *Compiler, ctx *methodContext, in *asm.Instruction) error {
		if err := c.compare(ctx, kind); err != nil {
			return err
		}
		c.branchIf(ctx, in, when)
		return nil
	}
}

func opBr(c *Compiler, ctx *methodContext, in *asm.Instruction) error {
	c.emitLabel(ctx.label(in.Target))
	c.emit(cpu.JMP)
	ctx.branchTo(in.Target)
	ctx.unreachable = true
	return nil
}

func opBrtrue(c *Compiler, ctx *methodContext, in *asm.Instruction) error {
	if _, err := ctx.types.Pop(); err != nil {
		return err
	}
	c.stackPop()
	c.branchIf(ctx, in, true)
	return nil
}

func opBrfalse(c *Compiler, ctx *methodContext, in *asm.Instruction) error {
	if _, err := ctx.types.Pop(); err != nil {
		return err
	}
	c.stackPop()
	c.branchIf(ctx, in, false)
	return nil
}

// convInt converts to a 32-bit integer, then masks to an unsigned width or
// sign-extends from a narrower one.
func convInt(mask int32, shift int) handler {
	return func(c *Compiler, ctx *methodContext, in *asm.Instruction) error {
		t, err := ctx.types.Pop()
		if err != nil {
			return err
		}
		if t.IsFloat() || mask != 0 || shift != 0 {
			c.stackPop()
			if t.IsFloat() {
				c.emit(cpu.F2I)
			}
			c.narrow(mask, shift)
			c.stackPush()
		}
		ctx.types.Push(asm.Int32)
		return nil
	}
}

// narrowing is how a one-word value of t is cut to its declared width:
// unsigned types are masked, signed ones sign-extended through shift.
func narrowing(t asm.TypeData) (mask int32, shift int) {
	if t.Suffix != "" {
		return 0, 0
	}
	switch t.Name {
	case "int8":
		return 0, 24
	case "uint8":
		return 0xFF, 0
	case "int16":
		return 0, 16
	case "uint16":
		return 0xFFFF, 0
	}
	return 0, 0
}

// narrow applies a narrowing to RA.
func (c *Compiler) narrow(mask int32, shift int) {
	if mask != 0 {
		c.emitValue(mask)
		c.emit(cpu.PSH, cpu.AND)
	}
	if shift != 0 {
		c.emitK(shift, cpu.PSH)
		c.emit(cpu.SHL)
		c.emitK(shift, cpu.PSH)
		c.emit(cpu.SHR)
	}
}

func opConvR4(c *Compiler, ctx *methodContext, in *asm.Instruction) error {
	t, err := ctx.types.Pop()
	if err != nil {
		return err
	}
	if !t.IsFloat() {
		c.stackPop()
		c.emit(cpu.I2F)
		c.stackPush()
	}
	ctx.types.Push(asm.Float32)
	return nil
}

// loadFrame pushes a frame item onto the operand stack.
func (c *Compiler) loadFrame(it FrameItem) {
	if it.Width == 1 {
		c.emitK(it.Offset, cpu.LDY)
		c.stackPush()
		return
	}
	c.emitK(it.Width, cpu.AKX)
	c.addrX(1 - it.Width)
	c.addrY(it.Offset)
	c.copyForward(it.Width)
}

// storeFrame pops the operand stack into a frame item.
func (c *Compiler) storeFrame(it FrameItem) {
	if it.Width == 1 {
		c.stackPop()
		c.emitK(it.Offset, cpu.STY)
		return
	}
	c.addrY(it.Offset)
	c.addrX(1 - it.Width)
	c.copyForward(it.Width)
	c.emitK(-it.Width, cpu.AKX)
}

func opLdarg(c *Compiler, ctx *methodContext, in *asm.Instruction) error {
	it, err := ctx.frame.Arg(in)
	if err != nil {
		return err
	}
	c.loadFrame(it)
	ctx.types.Push(it.Type)
	return nil
}

func opLdloc(c *Compiler, ctx *methodContext, in *asm.Instruction) error {
	it, err := ctx.frame.Local(in)
	if err != nil {
		return err
	}
	c.loadFrame(it)
	ctx.types.Push(it.Type)
	return nil
}

func opStarg(c *Compiler, ctx *methodContext, in *asm.Instruction) error {
	it, err := ctx.frame.Arg(in)
	if err != nil {
		return err
	}
	if _, err := ctx.types.Pop(); err != nil {
		return err
	}
	c.storeFrame(it)
	return nil
}

func opStloc(c *Compiler, ctx *methodContext, in *asm.Instruction) error {
	it, err := ctx.frame.Local(in)
	if err != nil {
		return err
	}
	if _, err := ctx.types.Pop(); err != nil {
		return err
	}
	c.storeFrame(it)
	return nil
}

func opLdarga(c *Compiler, ctx *methodContext, in *asm.Instruction) error {
	it, err := ctx.frame.Arg(in)
	if err != nil {
		return err
	}
	c.addrY(it.Offset)
	c.stackPush()
	ctx.types.Push(it.Type.RefOf())
	return nil
}

func opLdloca(c *Compiler, ctx *methodContext, in *asm.Instruction) error {
	it, err := ctx.frame.Local(in)
	if err != nil {
		return err
	}
	c.addrY(it.Offset)
	c.stackPush()
	ctx.types.Push(it.Type.RefOf())
	return nil
}
