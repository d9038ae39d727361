package compiler

import (
	"sbc/pkg/cpu"
)

// CallSequenceLength is the number of slots a call occupies: a label
// placeholder, PSH and JSR. Call elision overwrites exactly this many.
func (c *Compiler) CallSequenceLength() int { return c.Config.LabelPrefixes() + 2 }

// emit appends opcodes, or overwrites them at patchAt while patching.
func (c *Compiler) emit(ops ...cpu.Opcode) {
	for _, op := range ops {
		if c.Pass == PassPatchLabels {
			c.opcodes[c.patchAt] = op
			c.patchAt++
			continue
		}
		c.opcodes = append(c.opcodes, op)
		c.lines = append(c.lines, c.line)
	}
}

// emitValue loads v into RK with the shortest prefix chain. Zero needs none.
func (c *Compiler) emitValue(v int32) {
	if v == 0 {
		return
	}
	c.emit(c.Config.Prefixes(v, c.Config.PrefixCount(v))...)
}

// emitK emits op with immediate v.
func (c *Compiler) emitK(v int, op cpu.Opcode) {
	c.emitValue(int32(v))
	c.emit(op)
}

// emitLabel reserves a full-width placeholder for a value patched at link.
func (c *Compiler) emitLabel(name string) *LabelRef {
	ref := &LabelRef{Name: name, At: len(c.opcodes)}
	c.refs = append(c.refs, ref)
	c.emit(c.Config.Prefixes(0, c.Config.LabelPrefixes())...)
	return ref
}

// emitCall jumps and links to a label.
func (c *Compiler) emitCall(name string) *LabelRef {
	ref := c.emitLabel(name)
	c.emit(cpu.PSH, cpu.JSR)
	return ref
}

// stackPush spills RA onto the memory operand stack.
func (c *Compiler) stackPush() {
	c.emitK(1, cpu.AKX)
	c.emit(cpu.STX)
}

// stackPop loads the top of the memory stack into RA and drops it.
func (c *Compiler) stackPop() {
	c.emit(cpu.LDX)
	c.emitK(-1, cpu.AKX)
}

// stackPop2 leaves the top in RA and the entry below it in RB.
func (c *Compiler) stackPop2() {
	c.emitK(-1, cpu.LDX)
	c.emit(cpu.LDX)
	c.emitK(-2, cpu.AKX)
}

// pushConst pushes an immediate onto the memory stack.
func (c *Compiler) pushConst(v int32) {
	c.emitValue(v)
	c.emit(cpu.PSH)
	c.stackPush()
}

// getX pushes the value of RX onto the register stack.
func (c *Compiler) getX() { c.emit(cpu.PSH, cpu.SWX, cpu.DUP, cpu.SWX, cpu.POP) }

// getY pushes the value of RY onto the register stack.
func (c *Compiler) getY() { c.emit(cpu.PSH, cpu.SWY, cpu.DUP, cpu.SWY, cpu.POP) }

// addrX pushes RX+off.
func (c *Compiler) addrX(off int) {
	c.getX()
	if off != 0 {
		c.emitK(off, cpu.AKA)
	}
}

// addrY pushes RY+off.
func (c *Compiler) addrY(off int) {
	c.getY()
	if off != 0 {
		c.emitK(off, cpu.AKA)
	}
}

// copyForward copies n words with RA = source and RB = destination.
func (c *Compiler) copyForward(n int) {
	c.emitK(n, cpu.PSH)
	c.emit(cpu.MFD)
}

// copyBackward copies n words downwards with RA = last source word and
// RB = last destination word.
func (c *Compiler) copyBackward(n int) {
	c.emitK(n, cpu.PSH)
	c.emit(cpu.MBD)
}

// emitTrap writes v to the break cell.
func (c *Compiler) emitTrap(v int) {
	c.emitK(v, cpu.PSH)
	c.emitK(c.Config.BreakAddress, cpu.PSH)
	c.emit(cpu.STA)
}

// sortableFloat rewrites the float at RX+off so that signed integer
// comparison orders it like the float value. Negative keys are moved up by
// one so that -0 and +0 both become 0.
func (c *Compiler) sortableFloat(off int) {
	c.emitK(off, cpu.LDX)
	c.emit(cpu.DUP)
	c.emitK(31, cpu.PSH)
	c.emit(cpu.SHR)
	c.emitK(0x7FFFFFFF, cpu.PSH)
	c.emit(cpu.AND, cpu.XOR)
	c.emit(cpu.DUP)
	c.emitK(31, cpu.PSH)
	c.emit(cpu.SRU, cpu.ADD)
	c.emitK(off, cpu.STX)
}
