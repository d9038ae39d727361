package machine

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/nalgeon/be"

	"sbc/lib"
	"sbc/pkg/compiler"
	"sbc/pkg/cpu"
)

const callProgram = `
.class public Program extends System.Object {
	.method public static int32 Twice(int32 x) {
		ldarg.0
		ldarg.0
		add
		ret
	}
	.method public static int32 Main() {
		.entrypoint
		ldc.i4.3
		call int32 Program::Twice(int32)
		ldc.i4.1
		add
		ret
	}
}
`

const twiceSig = "int32 Program::Twice(int32)"
const mainSig = "int32 Program::Main()"

func newMachine(t *testing.T, src string, runtime bool) *Machine {
	t.Helper()
	c := compiler.New(cpu.DefaultConfig())
	if runtime {
		be.Err(t, c.Load(lib.RuntimeName, lib.Runtime, "."), nil)
	}
	be.Err(t, c.Load("test.il", src, "."), nil)
	comp, err := c.Compile()
	be.Err(t, err, nil)
	return New(comp)
}

// findLine returns the absolute index of the first instruction generated
// from the statement text inside method sig.
func findLine(t *testing.T, m *Machine, sig, text string) int {
	t.Helper()
	md := m.Comp.Method(sig)
	be.True(t, md != nil)
	base := m.Comp.Config.ExecutableStart * m.Comp.Config.SlotsPerWord
	for i := md.AddrIdx; i < md.End; i++ {
		if m.Comp.Lines[i].Text == text {
			return base + i
		}
	}
	t.Fatalf("no instruction for %q in %s", text, sig)
	return 0
}

func currentText(m *Machine) string {
	l, _ := m.Line()
	return l.Text
}

func currentMethod(m *Machine) string {
	if md := m.Comp.MethodAt(m.CPU.AddrIdx()); md != nil {
		return md.Signature
	}
	return ""
}

func TestRunToHalt(t *testing.T) {
	m := newMachine(t, callProgram, false)
	reason, err := m.Run()
	be.Err(t, err, nil)
	be.Equal(t, reason, StopHalt)
	be.True(t, m.Halted())
	be.Equal(t, m.CPU.AddrIdx(), m.Comp.HaltAddrIdx)

	v, err := m.ReturnValue()
	be.Err(t, err, nil)
	be.Equal(t, v, int32(7))
}

func TestResetRestartsProgram(t *testing.T) {
	m := newMachine(t, callProgram, false)
	_, err := m.Run()
	be.Err(t, err, nil)

	m.Reset()
	be.Equal(t, m.Halted(), false)
	be.Equal(t, m.CPU.AddrIdx(), 0)
	reason, err := m.Run()
	be.Err(t, err, nil)
	be.Equal(t, reason, StopHalt)
}

func TestStepInto(t *testing.T) {
	m := newMachine(t, callProgram, false)

	reason, err := m.RunTo(m.Comp.EntryAddrIdx)
	be.Err(t, err, nil)
	be.Equal(t, reason, StopStep)
	be.Equal(t, currentMethod(m), mainSig)

	_, err = m.StepInto()
	be.Err(t, err, nil)
	be.Equal(t, currentText(m), "ldc.i4.3")

	_, err = m.StepInto()
	be.Err(t, err, nil)
	be.Equal(t, currentText(m), "call int32 Program::Twice(int32)")

	_, err = m.StepInto()
	be.Err(t, err, nil)
	be.Equal(t, currentMethod(m), twiceSig)
	be.True(t, strings.HasPrefix(currentText(m), ".method"))

	_, err = m.StepInto()
	be.Err(t, err, nil)
	be.Equal(t, currentText(m), "ldarg.0")
}

func TestStepOverSkipsCallee(t *testing.T) {
	m := newMachine(t, callProgram, false)
	_, err := m.RunTo(findLine(t, m, mainSig, "call int32 Program::Twice(int32)"))
	be.Err(t, err, nil)

	reason, err := m.StepOver()
	be.Err(t, err, nil)
	be.Equal(t, reason, StopStep)
	be.Equal(t, currentMethod(m), mainSig)
	be.Equal(t, currentText(m), "ldc.i4.1")
}

func TestStepOverStopsAtBreakpointInCallee(t *testing.T) {
	m := newMachine(t, callProgram, false)
	_, err := m.RunTo(findLine(t, m, mainSig, "call int32 Program::Twice(int32)"))
	be.Err(t, err, nil)

	add := findLine(t, m, twiceSig, "add")
	be.True(t, m.ToggleBreakpoint(add))
	reason, err := m.StepOver()
	be.Err(t, err, nil)
	be.Equal(t, reason, StopBreakpoint)
	be.Equal(t, m.CPU.AddrIdx(), add)

	be.Equal(t, m.ToggleBreakpoint(add), false)
	reason, err = m.Run()
	be.Err(t, err, nil)
	be.Equal(t, reason, StopHalt)
}

func TestStepOutReturnsToCaller(t *testing.T) {
	m := newMachine(t, callProgram, false)
	_, err := m.RunTo(findLine(t, m, twiceSig, "add"))
	be.Err(t, err, nil)
	inner := m.CPU.RY

	_, err = m.StepOut()
	be.Err(t, err, nil)
	be.Equal(t, currentMethod(m), mainSig)
	be.True(t, m.CPU.RY > inner)

	reason, err := m.Run()
	be.Err(t, err, nil)
	be.Equal(t, reason, StopHalt)
}

func TestRunStopsAtBreakpoint(t *testing.T) {
	m := newMachine(t, callProgram, false)
	bp := findLine(t, m, mainSig, "ldc.i4.1")
	m.ToggleBreakpoint(bp)

	reason, err := m.Run()
	be.Err(t, err, nil)
	be.Equal(t, reason, StopBreakpoint)
	be.Equal(t, m.CPU.AddrIdx(), bp)

	reason, err = m.Run()
	be.Err(t, err, nil)
	be.Equal(t, reason, StopHalt)
}

func TestCallStack(t *testing.T) {
	m := newMachine(t, callProgram, false)
	_, err := m.RunTo(findLine(t, m, twiceSig, "add"))
	be.Err(t, err, nil)

	frames, err := m.CallStack()
	be.Err(t, err, nil)
	be.Equal(t, len(frames), 3)
	be.Equal(t, frames[0].Method.Signature, twiceSig)
	be.Equal(t, frames[1].Method.Signature, mainSig)
	be.Equal(t, frames[2].Method.Signature, "<startup>")
	be.Equal(t, frames[0].Base, int(m.CPU.RY))
	be.Equal(t, frames[1].Base, int(m.CPU.RY)+frames[0].Method.FrameSize)

	line, ok := m.Comp.LineAt(frames[1].AddrIdx)
	be.True(t, ok)
	be.Equal(t, line.Text, "call int32 Program::Twice(int32)")

	names, err := m.FrameNames()
	be.Err(t, err, nil)
	be.Equal(t, names[frames[0].Base], "Program::Twice::M:link")
	be.Equal(t, names[frames[0].Base+1], "Program::Twice::A:x")
	be.Equal(t, names[frames[1].Base], "Program::Main::M:link")
}

func TestCallStackDuringPreambleAndReturn(t *testing.T) {
	m := newMachine(t, callProgram, false)
	twice := m.Comp.Method(twiceSig)
	base := m.Comp.Config.ExecutableStart * m.Comp.Config.SlotsPerWord

	check := func(at int) {
		t.Helper()
		_, err := m.RunTo(base + at)
		be.Err(t, err, nil)
		frames, err := m.CallStack()
		be.Err(t, err, nil)
		be.Equal(t, len(frames), 3)
		be.Equal(t, frames[1].Method.Signature, mainSig)
		be.Equal(t, frames[2].Method.Signature, "<startup>")
	}
	check(twice.SetupEnd - 2)
	check(twice.SetupEnd - 1)
	check(twice.Returns[0])
}

func TestDebuggerBreakContinues(t *testing.T) {
	src := `
.class public Program extends System.Object {
	.method public static int32 Main() {
		.entrypoint
		call void System.Diagnostics.Debugger::Break()
		ldc.i4.5
		ret
	}
}
`
	m := newMachine(t, src, false)
	reason, err := m.Run()
	be.Err(t, err, nil)
	be.Equal(t, reason, StopBreak)
	be.Equal(t, m.Halted(), false)

	reason, err = m.Run()
	be.Err(t, err, nil)
	be.Equal(t, reason, StopHalt)
	v, _ := m.ReturnValue()
	be.Equal(t, v, int32(5))
}

func TestStepLimit(t *testing.T) {
	src := `
.class public Program extends System.Object {
	.method public static void Main() {
		.entrypoint
	loop:
		br.s loop
	}
}
`
	m := newMachine(t, src, false)
	_, err := m.Run()
	be.Err(t, err, cpu.ErrStepLimit)
	be.True(t, strings.Contains(err.Error(), "br.s loop"))
	be.Equal(t, m.CPU.Steps, int64(m.Comp.Config.StepsPerRun))
}

func TestFaultCarriesSourceLine(t *testing.T) {
	src := `
.class public Program extends System.Object {
	.method public static void Main() {
		.entrypoint
		ldc.i4.0
		ldc.i4.1
		call void System.Runtime.Memory::Store(int32,int32)
		ret
	}
}
`
	m := newMachine(t, src, false)
	_, err := m.Run()
	be.Err(t, err, cpu.ErrProtectedWrite)
	var f *cpu.Fault
	be.True(t, errors.As(err, &f))
	be.Equal(t, f.Addr, 0)
	be.True(t, strings.Contains(err.Error(), "call void System.Runtime.Memory::Store(int32,int32)"))
}

func TestConsoleOutput(t *testing.T) {
	src := `
.class public Program extends System.Object {
	.method public static void Main() {
		.entrypoint
		ldstr "hello"
		call void System.Console::WriteLine(string)
		ldc.i4 -305
		call void System.Console::WriteLine(int32)
		ret
	}
}
`
	m := newMachine(t, src, true)
	reason, err := m.Run()
	be.Err(t, err, nil)
	be.Equal(t, reason, StopHalt)
	be.Equal(t, m.Output(), "hello\n-305\n")
}

func TestSnapshotRestore(t *testing.T) {
	m := newMachine(t, callProgram, false)
	bp := findLine(t, m, twiceSig, "add")
	m.ToggleBreakpoint(bp)
	_, err := m.Run()
	be.Err(t, err, nil)

	var buf bytes.Buffer
	m.output.WriteString("partial")
	be.Err(t, m.Snapshot(&buf), nil)

	other := New(m.Comp)
	be.Err(t, other.Restore(&buf), nil)
	be.Equal(t, other.CPU.AddrIdx(), bp)
	be.Equal(t, other.CPU.RY, m.CPU.RY)
	be.Equal(t, other.Output(), "partial")
	be.True(t, other.Breakpoints[bp])

	reason, err := other.Run()
	be.Err(t, err, nil)
	be.Equal(t, reason, StopHalt)
	v, _ := other.ReturnValue()
	be.Equal(t, v, int32(7))
}
