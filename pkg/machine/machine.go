// Package machine drives a compiled program on the CPU and maps its state
// back to source: stepping by line, call stacks and frame slot names.
package machine

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/tliron/commonlog"

	"sbc/pkg/compiler"
	"sbc/pkg/cpu"
)

var log = commonlog.GetLogger("sbc.machine")

// StopReason says why execution returned control.
type StopReason int

const (
	// StopStep means a stepping predicate or RunTo target was reached.
	StopStep StopReason = iota
	// StopBreakpoint means execution reached a breakpoint.
	StopBreakpoint
	// StopBreak means the program executed a debugger break.
	StopBreak
	// StopHalt means the entry point returned and the startup trap fired.
	StopHalt
)

func (r StopReason) String() string {
	switch r {
	case StopStep:
		return "step"
	case StopBreakpoint:
		return "breakpoint"
	case StopBreak:
		return "break"
	case StopHalt:
		return "halt"
	default:
		return fmt.Sprintf("StopReason(%d)", int(r))
	}
}

// Machine runs one Compilation. Breakpoints are absolute instruction indices.
type Machine struct {
	Comp        *compiler.Compilation
	CPU         *cpu.CPU
	Breakpoints map[int]bool

	halted bool
	output bytes.Buffer
}

// New loads the compilation into fresh memory.
func New(comp *compiler.Compilation) *Machine {
	m := &Machine{Comp: comp, Breakpoints: make(map[int]bool)}
	m.CPU = cpu.New(comp.Config, comp.Memory(), comp.Writable)
	m.CPU.Output = &m.output
	return m
}

// Reset reloads memory and clears registers, output and the halted flag.
// Breakpoints are kept.
func (m *Machine) Reset() {
	copy(m.CPU.Memory, m.Comp.Memory())
	m.CPU.Reset()
	m.CPU.Input = nil
	m.output.Reset()
	m.halted = false
}

// Halted reports whether the program has run to completion.
func (m *Machine) Halted() bool { return m.halted }

// Output returns everything written to the output cell so far.
func (m *Machine) Output() string { return m.output.String() }

// PushInput queues characters for the program to read.
func (m *Machine) PushInput(s string) { m.CPU.PushInput(s) }

// ToggleBreakpoint flips the breakpoint at an absolute instruction index and
// reports whether it is now set.
func (m *Machine) ToggleBreakpoint(addrIdx int) bool {
	if m.Breakpoints[addrIdx] {
		delete(m.Breakpoints, addrIdx)
		return false
	}
	m.Breakpoints[addrIdx] = true
	return true
}

// Line is the source line of the next instruction.
func (m *Machine) Line() (compiler.SourceLine, bool) {
	return m.Comp.LineAt(m.CPU.AddrIdx())
}

// ReturnValue reads the word on top of the operand stack, which holds the
// entry point's result once the program has halted.
func (m *Machine) ReturnValue() (int32, error) {
	return m.CPU.Load(int(m.CPU.RX))
}

// Run executes until the program halts, breaks or reaches a breakpoint.
func (m *Machine) Run() (StopReason, error) {
	return m.run("run", func(c *cpu.CPU) bool { return m.Breakpoints[c.AddrIdx()] })
}

// RunTo executes until the instruction at addrIdx is next, or until the
// program stops for any of the reasons Run does.
func (m *Machine) RunTo(addrIdx int) (StopReason, error) {
	return m.run("run to", func(c *cpu.CPU) bool {
		return c.AddrIdx() == addrIdx || m.Breakpoints[c.AddrIdx()]
	})
}

// StepInto executes until the source line changes, following calls.
func (m *Machine) StepInto() (StopReason, error) {
	start := m.lineKey()
	return m.run("step into", func(c *cpu.CPU) bool { return m.lineKey() != start })
}

// StepOver executes until the source line changes in the current method or
// a caller. Lines inside callees only stop on breakpoints.
func (m *Machine) StepOver() (StopReason, error) {
	start, startRY := m.lineKey(), m.CPU.RY
	return m.run("step over", func(c *cpu.CPU) bool {
		if m.lineKey() == start {
			return false
		}
		return m.Breakpoints[c.AddrIdx()] || (c.RY >= startRY && m.settled())
	})
}

// StepOut executes until the current method has returned to its caller.
func (m *Machine) StepOut() (StopReason, error) {
	start, startRY := m.lineKey(), m.CPU.RY
	return m.run("step out", func(c *cpu.CPU) bool {
		if m.lineKey() == start {
			return false
		}
		return m.Breakpoints[c.AddrIdx()] || (c.RY > startRY && m.settled())
	})
}

// settled reports whether the frame pointer belongs to the method the next
// instruction is in. It does not inside a method's preamble (before the
// frame is set up) or on the JSR of a ret (after it is torn down).
func (m *Machine) settled() bool {
	idx := m.CPU.AddrIdx()
	md := m.Comp.MethodAt(idx)
	if md == nil {
		return true
	}
	rel := m.rel(idx)
	if rel >= md.AddrIdx && rel < md.SetupEnd {
		return false
	}
	return !md.IsReturn(rel)
}

type lineKey struct {
	unit string
	line int
}

func (m *Machine) lineKey() lineKey {
	l, _ := m.Line()
	return lineKey{l.Unit, l.Line}
}

func (m *Machine) rel(addrIdx int) int {
	return addrIdx - m.Comp.Config.ExecutableStart*m.Comp.Config.SlotsPerWord
}

func (m *Machine) run(what string, stop func(*cpu.CPU) bool) (StopReason, error) {
	from := m.CPU.AddrIdx()
	err := m.CPU.Run(stop)
	switch {
	case err == nil:
		reason := StopStep
		if m.Breakpoints[m.CPU.AddrIdx()] {
			reason = StopBreakpoint
		}
		log.Debugf("%s: %d -> %d (%s)", what, from, m.CPU.AddrIdx(), reason)
		return reason, nil
	case errors.Is(err, cpu.ErrBreak):
		if m.CPU.AddrIdx() == m.Comp.HaltAddrIdx {
			m.halted = true
			log.Debugf("%s: halted after %d steps", what, m.CPU.Steps)
			return StopHalt, nil
		}
		log.Debugf("%s: break at %d", what, m.CPU.AddrIdx())
		return StopBreak, nil
	default:
		idx := m.CPU.AddrIdx()
		var f *cpu.Fault
		if errors.As(err, &f) {
			idx = f.AddrIdx
		}
		if l, ok := m.Comp.LineAt(idx); ok && l.Line != 0 {
			return StopStep, fmt.Errorf("%w at %s", err, l)
		}
		return StopStep, err
	}
}
