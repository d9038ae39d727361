package compiler

import (
	"fmt"

	"sbc/pkg/asm"
	"sbc/pkg/cpu"
)

const haltLabel = "Halt"

func methodLabel(m *asm.MethodDecl) string { return "m:" + m.Signature() }

func vtableLabel(t asm.TypeData) string { return "vt:" + t.String() }

// methodContext is the per-method state shared by the instruction handlers.
type methodContext struct {
	method      *asm.MethodDecl
	frame       *Frame
	types       TypeStack
	branchTypes map[string]TypeStack
	unreachable bool
	returns     []int
}

func (ctx *methodContext) label(name string) string {
	return "l:" + ctx.method.Signature() + ":" + name
}

// branchTo records the type stack for a branch target the first time it is
// seen.
func (ctx *methodContext) branchTo(target string) {
	if _, ok := ctx.branchTypes[target]; !ok {
		ctx.branchTypes[target] = ctx.types.Clone()
	}
}

func lineOf(p asm.Pos) SourceLine { return SourceLine{Unit: p.Unit, Line: p.Line, Text: p.Text} }

// include adds a node to the worklist. A method brings its class; a class
// brings its base, its static constructor and any override of a slot that
// has been called virtually.
func (c *Compiler) include(n asm.Node) error {
	if c.includedSet[n] {
		return nil
	}
	c.includedSet[n] = true
	c.included = append(c.included, n)

	switch n := n.(type) {
	case *asm.MethodDecl:
		log.Debugf("include %s", n.Signature())
		if n.IsCctor() {
			c.cctors = append(c.cctors, n)
		}
		return c.include(n.Class)
	case *asm.ClassDecl:
		log.Debugf("include class %s", n.Name)
		sh, err := c.shape(n)
		if err != nil {
			return &CompileError{Pos: n.Pos, Err: err}
		}
		if base := c.arena.base(sh); base != nil {
			if err := c.include(base.Class); err != nil {
				return err
			}
		}
		for _, m := range n.Methods {
			if m.IsCctor() {
				if err := c.include(m); err != nil {
					return err
				}
			}
		}
		for _, m := range sh.Slots {
			if m != nil && !m.IsAbstract() && c.calledSlots[m.SlotSignature()] {
				if err := c.include(m); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// callSlot marks a classless signature as virtually called and includes its
// implementation in every class included so far.
func (c *Compiler) callSlot(sig string) error {
	if c.calledSlots[sig] {
		return nil
	}
	c.calledSlots[sig] = true
	for i := 0; i < len(c.included); i++ {
		cls, ok := c.included[i].(*asm.ClassDecl)
		if !ok {
			continue
		}
		sh, err := c.shape(cls)
		if err != nil {
			return err
		}
		if idx, ok := sh.Slot(sig); ok {
			if m := sh.Slots[idx]; m != nil && !m.IsAbstract() {
				if err := c.include(m); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func (c *Compiler) allocatorIncluded() bool {
	for _, sig := range []string{NewSignature, NewarrSignature, NewobjSignature} {
		if m := c.syms.Method(sig); m != nil && c.includedSet[m] {
			return true
		}
	}
	return false
}

func (c *Compiler) argSlots(m *asm.MethodDecl) (int, error) {
	n := 0
	if !m.IsStatic() {
		n++
	}
	for _, p := range m.Params {
		w, err := c.width(p.Type)
		if err != nil {
			return 0, err
		}
		n += w
	}
	return n, nil
}

// emitStartup lays down the code at the executable start: stack and frame
// pointers, the heap and static initialiser calls, the entry call and the
// halt trap the entry returns into.
func (c *Compiler) emitStartup() error {
	c.line = SourceLine{Unit: "<startup>"}
	start := len(c.opcodes)

	c.emitK(c.Config.StackStart, cpu.PSH)
	c.emit(cpu.SWX)
	c.emitK(c.Config.StackEnd()-1, cpu.PSH)
	c.emit(cpu.SWY)

	c.heapRef = c.emitCall("m:" + HeapInitialiseSignature)
	c.cctorRef = c.emitCall(CallCctorsLabel)

	args, err := c.argSlots(c.entry)
	if err != nil {
		return &CompileError{Pos: c.entry.Pos, Err: err}
	}
	for i := 0; i < args; i++ {
		c.pushConst(0)
	}
	c.emitCall(methodLabel(c.entry))

	if err := c.defineCode(haltLabel); err != nil {
		return err
	}
	c.emitTrap(cpu.BreakHalt)
	c.haltIdx = len(c.opcodes)
	c.emitLabel(haltLabel)
	c.emit(cpu.JMP)

	c.methods = append(c.methods, MethodData{Signature: "<startup>", AddrIdx: start, End: len(c.opcodes)})

	if err := c.include(c.entry); err != nil {
		return err
	}
	if cls := c.syms.Class(StringClass); cls != nil {
		return c.include(cls)
	}
	return nil
}

func (c *Compiler) compileExecutable() error {
	if err := c.emitStartup(); err != nil {
		return err
	}
	heapInit := c.syms.Method(HeapInitialiseSignature)
	for i := 0; ; {
		for ; i < len(c.included); i++ {
			if m, ok := c.included[i].(*asm.MethodDecl); ok {
				if err := c.compileMethod(m); err != nil {
					return err
				}
			}
		}
		if heapInit != nil && !c.includedSet[heapInit] && c.allocatorIncluded() {
			if err := c.include(heapInit); err != nil {
				return err
			}
			continue
		}
		break
	}

	if heapInit == nil || !c.includedSet[heapInit] {
		if c.allocatorIncluded() {
			return fmt.Errorf("allocation requires %s", HeapInitialiseSignature)
		}
		c.heapRef.RemoveCall = true
	}
	if len(c.cctors) == 0 {
		c.cctorRef.RemoveCall = true
		return nil
	}
	return c.emitCallCctors()
}

// emitCallCctors emits the frameless trampoline that runs every included
// static constructor in inclusion order.
func (c *Compiler) emitCallCctors() error {
	c.line = SourceLine{Unit: "<cctors>"}
	start := len(c.opcodes)
	if err := c.defineCode(CallCctorsLabel); err != nil {
		return err
	}
	c.stackPush()
	for _, m := range c.cctors {
		c.emitCall(methodLabel(m))
	}
	c.stackPop()
	c.emit(cpu.JSR)
	c.methods = append(c.methods, MethodData{Signature: CallCctorsLabel, AddrIdx: start, End: len(c.opcodes)})
	return nil
}

func (c *Compiler) compileMethod(m *asm.MethodDecl) error {
	if m.IsAbstract() {
		return nil
	}
	if len(m.Body) == 0 {
		return &CompileError{Pos: m.Pos, Err: fmt.Errorf("method %s has no body", m.Signature())}
	}
	frame, err := c.newFrame(m)
	if err != nil {
		return &CompileError{Pos: m.Pos, Err: err}
	}
	c.line = lineOf(m.Pos)
	start := len(c.opcodes)
	if err := c.defineCode(methodLabel(m)); err != nil {
		return &CompileError{Pos: m.Pos, Err: err}
	}
	md := MethodData{
		Class:      m.Class.Name.String(),
		Signature:  m.Signature(),
		AddrIdx:    start,
		FrameSize:  frame.Size,
		FrameItems: frame.Names(),
	}

	c.emitK(-frame.Size, cpu.AKY)
	c.emit(cpu.STY)
	md.SetupEnd = len(c.opcodes)
	c.copyArgs(frame)
	for k := frame.ArgSlots + 1; k < frame.Size; k++ {
		c.emit(cpu.PSH)
		c.emitK(k, cpu.STY)
	}

	ctx := &methodContext{method: m, frame: frame, branchTypes: make(map[string]TypeStack)}
	for _, in := range m.Body {
		c.line = lineOf(in.Pos)
		if err := c.instruction(ctx, in); err != nil {
			return &CompileError{Pos: in.Pos, Err: err}
		}
	}
	md.End = len(c.opcodes)
	md.Returns = ctx.returns
	c.methods = append(c.methods, md)
	return nil
}

// copyArgs moves the arguments from the caller's operand stack into the new
// frame and drops them from the stack.
func (c *Compiler) copyArgs(frame *Frame) {
	n := frame.ArgSlots
	if n == 0 {
		return
	}
	wide := false
	for _, a := range frame.Args {
		wide = wide || a.Width > 1
	}
	if wide {
		c.addrY(1)
		c.addrX(1 - n)
		c.copyForward(n)
	} else {
		for k := 1; k <= n; k++ {
			c.emitK(k-n, cpu.LDX)
			c.emitK(k, cpu.STY)
		}
	}
	c.emitK(-n, cpu.AKX)
}

func (c *Compiler) instruction(ctx *methodContext, in *asm.Instruction) error {
	if in.Label != "" {
		if err := c.defineCode(ctx.label(in.Label)); err != nil {
			return err
		}
		if ctx.unreachable {
			ctx.types = ctx.branchTypes[in.Label].Clone()
			ctx.unreachable = false
		}
	}
	if in.Op == "" {
		return nil
	}
	h, ok := handlers[in.Op]
	if !ok {
		return fmt.Errorf("unsupported instruction %s", in.Op)
	}
	ctx.unreachable = false
	return h(c, ctx, in)
}

// compileConst lays out the constant pool after the code: a vtable per
// included reference class and boxed value type, each preceded by its
// interface table, then the string literals.
func (c *Compiler) compileConst() error {
	spw := c.Config.SlotsPerWord
	c.constStart = c.Config.ExecutableStart + (len(c.opcodes)+spw-1)/spw

	for _, n := range c.included {
		cls, ok := n.(*asm.ClassDecl)
		if !ok || cls.IsInterface() || (cls.IsValueType() && !c.boxed[cls]) {
			continue
		}
		sh, err := c.shape(cls)
		if err != nil {
			return err
		}
		if err := c.emitInterfaceTable(sh); err != nil {
			return err
		}
		if err := c.defineLabel(vtableLabel(cls.Name), c.constStart+len(c.constData), false); err != nil {
			return err
		}
		if base := c.arena.base(sh); base != nil && !base.ValueType && c.includedSet[base.Class] {
			c.constRef(vtableLabel(base.Class.Name))
		} else {
			c.constData = append(c.constData, 0)
		}
		c.constData = append(c.constData, int32(sh.Size))
		for _, m := range sh.Slots {
			if m != nil && !m.IsAbstract() && c.includedSet[m] {
				c.constRef(methodLabel(m))
			} else {
				c.constData = append(c.constData, 0)
			}
		}
	}

	strCls := c.syms.Class(StringClass)
	for _, s := range c.stringOrder {
		if strCls != nil && c.includedSet[strCls] {
			c.constRef(vtableLabel(strCls.Name))
		} else {
			c.constData = append(c.constData, 0)
		}
		if err := c.defineLabel(c.strings[s], c.constStart+len(c.constData), false); err != nil {
			return err
		}
		runes := []rune(s)
		c.constData = append(c.constData, int32(len(runes)))
		for _, r := range runes {
			c.constData = append(c.constData, int32(r))
		}
	}

	if err := c.defineLabel(StaticSizeLabel, c.staticCount, false); err != nil {
		return err
	}
	if c.staticCount > c.Config.StaticSize {
		return fmt.Errorf("static data needs %d words, only %d available", c.staticCount, c.Config.StaticSize)
	}
	if end := c.constStart + len(c.constData); end > c.Config.ExecutableLimit() {
		return fmt.Errorf("executable ends at 0x%X, past the limit 0x%X", end, c.Config.ExecutableLimit())
	}
	return nil
}

// stringLabel returns the label of a deduplicated string literal.
func (c *Compiler) stringLabel(s string) string {
	if l, ok := c.strings[s]; ok {
		return l
	}
	l := fmt.Sprintf("str:%d", len(c.stringOrder))
	c.strings[s] = l
	c.stringOrder = append(c.stringOrder, s)
	return l
}
