package cpu

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"
)

var (
	ErrBadOpcode      = errors.New("bad opcode")
	ErrBadAddress     = errors.New("address outside memory")
	ErrStackFault     = errors.New("stack fault")
	ErrProtectedWrite = errors.New("write to protected address")
	ErrStepLimit      = errors.New("step limit exceeded")
	ErrBreak          = errors.New("break")
	ErrAssert         = errors.New("assertion failed")
)

// Break cell values.
const (
	BreakNone   = 0
	BreakHalt   = 1
	BreakAssert = 2
)

// Fault is a runtime error raised by an instruction. AddrIdx is the linear
// index of the faulting instruction; Addr and Value describe the memory
// access involved, if any.
type Fault struct {
	Err     error
	Op      Opcode
	AddrIdx int
	Addr    int
	Value   int32
}

func (f *Fault) Error() string {
	switch {
	case errors.Is(f.Err, ErrProtectedWrite), errors.Is(f.Err, ErrBadAddress):
		return fmt.Sprintf("%v 0x%X (%s at %d)", f.Err, f.Addr, f.Op, f.AddrIdx)
	case errors.Is(f.Err, ErrBadOpcode):
		return fmt.Sprintf("%v 0x%02X at %d", f.Err, uint8(f.Op), f.AddrIdx)
	default:
		return fmt.Sprintf("%v (%s at %d)", f.Err, f.Op, f.AddrIdx)
	}
}

func (f *Fault) Unwrap() error { return f.Err }

// CPU interprets word-packed instructions. RA, RB and RC cache the top of the
// operand stack; RX is the operand stack pointer (growing up) and RY the frame
// pointer (growing down).
type CPU struct {
	Config   Config
	Memory   []int32
	Writable AddressSet

	PC   int
	Slot int

	RA, RB, RC int32
	RX, RY     int32
	RK         int32
	PF         bool

	// Steps counts every instruction executed since Reset.
	Steps int64

	// Output receives characters written to the output cell.
	// If nil, os.Stdout is used.
	Output io.Writer
	Input  []int32
}

// New creates a CPU over the given memory image.
func New(cfg Config, memory []int32, writable AddressSet) *CPU {
	c := &CPU{Config: cfg, Memory: memory, Writable: writable}
	c.Reset()
	return c
}

// Reset clears the registers and points PC at the executable start.
func (c *CPU) Reset() {
	c.PC, c.Slot = c.Config.ExecutableStart, 0
	c.RA, c.RB, c.RC = 0, 0, 0
	c.RX, c.RY, c.RK = 0, 0, 0
	c.PF = false
	c.Steps = 0
}

// PushInput queues characters for the input cell.
func (c *CPU) PushInput(s string) {
	for _, r := range s {
		c.Input = append(c.Input, int32(r))
	}
}

// AddrIdx is the linear index of the next instruction.
func (c *CPU) AddrIdx() int { return c.Config.AddrIdx(c.PC, c.Slot) }

// AddrSlot is the address-slot of the next instruction.
func (c *CPU) AddrSlot() int { return c.Config.AddrSlot(c.PC, c.Slot) }

func (c *CPU) outputSink() io.Writer {
	if c.Output != nil {
		return c.Output
	}
	return os.Stdout
}

func (c *CPU) push(v int32) {
	c.RC = c.RB
	c.RB = c.RA
	c.RA = v
}

func (c *CPU) pop() {
	c.RA = c.RB
	c.RB = c.RC
}

func (c *CPU) jump(as int32) {
	c.PC, c.Slot = c.Config.SplitAddrSlot(int(as))
}

func (c *CPU) advance() {
	c.Slot++
	if c.Slot == c.Config.SlotsPerWord {
		c.Slot = 0
		c.PC++
	}
}

func (c *CPU) nextAddrSlot() int32 {
	pc, slot := c.PC, c.Slot+1
	if slot == c.Config.SlotsPerWord {
		pc, slot = pc+1, 0
	}
	return int32(c.Config.AddrSlot(pc, slot))
}

// Load reads a word, serving the input cells.
func (c *CPU) Load(addr int) (int32, error) {
	switch addr {
	case c.Config.InputAddress:
		if len(c.Input) == 0 {
			return 0, nil
		}
		v := c.Input[0]
		c.Input = c.Input[1:]
		return v, nil
	case c.Config.InputReadyAddress:
		if len(c.Input) > 0 {
			return 1, nil
		}
		return 0, nil
	}
	if addr < 0 || addr >= len(c.Memory) {
		return 0, &Fault{Err: ErrBadAddress, Addr: addr}
	}
	return c.Memory[addr], nil
}

// Store writes a word after checking it against the writable set and the
// live stack window.
func (c *CPU) Store(addr int, v int32) error {
	switch addr {
	case c.Config.OutputAddress:
		fmt.Fprintf(c.outputSink(), "%c", rune(v&0xFFFF))
		return nil
	case c.Config.BreakAddress:
		switch v {
		case BreakNone:
			return nil
		case BreakAssert:
			return &Fault{Err: ErrAssert, Addr: addr, Value: v}
		default:
			return &Fault{Err: ErrBreak, Addr: addr, Value: v}
		}
	}
	if addr < 0 || addr >= len(c.Memory) || !c.Writable.Contains(addr) {
		return &Fault{Err: ErrProtectedWrite, Addr: addr, Value: v}
	}
	if addr > int(c.RX) && addr < int(c.RY) {
		return &Fault{Err: ErrStackFault, Addr: addr, Value: v}
	}
	if addr == c.Config.HeapPointer && (int(v) < c.Config.HeapStart || int(v) > c.Config.HeapEnd()) {
		return &Fault{Err: ErrProtectedWrite, Addr: addr, Value: v}
	}
	c.Memory[addr] = v
	return nil
}

func (c *CPU) checkStack() error {
	if int(c.RX) < c.Config.StackStart || c.RX > c.RY || int(c.RY) >= c.Config.StackEnd() {
		return &Fault{Err: ErrStackFault, Addr: int(c.RX), Value: c.RY}
	}
	return nil
}

func f32(v int32) float32 { return math.Float32frombits(uint32(v)) }

func bits(f float32) int32 { return int32(math.Float32bits(f)) }

func truncate(f float32) int32 {
	d := float64(f)
	switch {
	case math.IsNaN(d):
		return 0
	case d >= math.MaxInt32:
		return math.MaxInt32
	case d <= math.MinInt32:
		return math.MinInt32
	}
	return int32(d)
}

func boolWord(b bool) int32 {
	if b {
		return 1
	}
	return 0
}

// Step executes one instruction. Break and assert faults are reported after
// the instruction completes so execution can resume past them.
func (c *CPU) Step() error {
	idx := c.AddrIdx()
	if c.PC < 0 || c.PC >= len(c.Memory) {
		return &Fault{Err: ErrBadAddress, AddrIdx: idx, Addr: c.PC}
	}
	op := SlotOpcode(c.Config, c.Memory[c.PC], c.Slot)
	c.Steps++

	if op.IsPrefix() {
		if !c.PF {
			lead := int32(1) << (c.Config.PfxBits - 1)
			c.RK = 0
			if int32(op)&lead != 0 {
				c.RK = -1
			}
		}
		c.RK = c.RK<<c.Config.PfxBits | int32(op)
		c.PF = true
		c.advance()
		return nil
	}

	k := c.RK
	c.RK, c.PF = 0, false
	next := true
	var err error

	switch op {
	case PSH:
		c.push(k)
	case POP:
		c.pop()
	case SWP:
		c.RA, c.RB = c.RB, c.RA
	case DUP:
		c.RC = c.RB
		c.RB = c.RA
	case JMP:
		c.jump(k)
		next = false
	case JPZ:
		t := c.RA
		c.pop()
		if t == 0 {
			c.jump(k)
			next = false
		}
	case JSR:
		t := c.RA
		c.RA = c.nextAddrSlot()
		c.jump(t)
		next = false
	case NOP:
	case ZEQ:
		c.RA = boolWord(c.RA == 0)

	case LDX:
		var v int32
		v, err = c.Load(int(c.RX + k))
		c.push(v)
	case STX:
		err = c.Store(int(c.RX+k), c.RA)
		c.pop()
	case AKX:
		c.RX += k
		err = c.checkStack()
	case SWX:
		c.RA, c.RX = c.RX, c.RA
	case LDY:
		var v int32
		v, err = c.Load(int(c.RY + k))
		c.push(v)
	case STY:
		err = c.Store(int(c.RY+k), c.RA)
		c.pop()
	case AKY:
		c.RY += k
		err = c.checkStack()
	case SWY:
		c.RA, c.RY = c.RY, c.RA
	case LDA:
		c.RA, err = c.Load(int(c.RA + k))
	case STA:
		err = c.Store(int(c.RA+k), c.RB)
		c.RA = c.RC
		c.RB = c.RC
	case AKA:
		c.RA += k
	case MFD, MBD:
		if c.RA > 0 {
			var v int32
			if v, err = c.Load(int(c.RB)); err == nil {
				err = c.Store(int(c.RC), v)
			}
			if op == MFD {
				c.RB++
				c.RC++
			} else {
				c.RB--
				c.RC--
			}
			c.RA--
		}
		next = c.RA <= 0

	case ADD:
		c.RA = c.RB + c.RA
		c.RB = c.RC
	case SUB:
		c.RA = c.RB - c.RA
		c.RB = c.RC
	case AND:
		c.RA = c.RB & c.RA
		c.RB = c.RC
	case IOR:
		c.RA = c.RB | c.RA
		c.RB = c.RC
	case XOR:
		c.RA = c.RB ^ c.RA
		c.RB = c.RC
	case MLT:
		c.RA = c.RB * c.RA
		c.RB = c.RC
	case SHL:
		c.RA = c.RB << uint32(c.RA&31)
		c.RB = c.RC
	case SHR:
		c.RA = c.RB >> uint32(c.RA&31)
		c.RB = c.RC
	case SRU:
		c.RA = int32(uint32(c.RB) >> uint32(c.RA&31))
		c.RB = c.RC
	case CGT:
		c.RA = boolWord(c.RB > c.RA)
		c.RB = c.RC
	case FPA:
		c.RA = bits(f32(c.RB) + f32(c.RA))
		c.RB = c.RC
	case FPS:
		c.RA = bits(f32(c.RB) - f32(c.RA))
		c.RB = c.RC
	case FPM:
		c.RA = bits(f32(c.RB) * f32(c.RA))
		c.RB = c.RC
	case FPD:
		c.RA = bits(f32(c.RB) / f32(c.RA))
		c.RB = c.RC
	case I2F:
		c.RA = bits(float32(c.RA))
	case F2I:
		c.RA = truncate(f32(c.RA))

	default:
		return &Fault{Err: ErrBadOpcode, Op: op, AddrIdx: idx}
	}

	if err != nil {
		var f *Fault
		if errors.As(err, &f) {
			f.Op, f.AddrIdx = op, idx
		}
		if !errors.Is(err, ErrBreak) && !errors.Is(err, ErrAssert) {
			return err
		}
	}
	if next {
		c.advance()
	}
	return err
}

// Run executes instructions until stop returns true after an instruction,
// a fault occurs, or StepsPerRun instructions have run without stopping.
func (c *CPU) Run(stop func(*CPU) bool) error {
	for i := 0; i < c.Config.StepsPerRun; i++ {
		if err := c.Step(); err != nil {
			return err
		}
		if stop != nil && stop(c) {
			return nil
		}
	}
	return &Fault{Err: ErrStepLimit, AddrIdx: c.AddrIdx()}
}
