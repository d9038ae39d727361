package cpu

import "fmt"

// DisasmLine is one decoded instruction, with any prefix chain folded into
// its immediate.
type DisasmLine struct {
	AddrIdx  int
	Len      int
	Op       Opcode
	Imm      int32
	Prefixed bool
}

func (l DisasmLine) String() string {
	if l.Prefixed {
		return fmt.Sprintf("%d %s", l.Imm, l.Op)
	}
	return l.Op.String()
}

// Disassemble decodes the instruction slots [from, to) of memory.
// A trailing prefix chain with no instruction is reported with op NOP.
func Disassemble(cfg Config, memory []int32, from, to int) []DisasmLine {
	var out []DisasmLine
	var cur DisasmLine
	started := false
	for idx := from; idx < to; idx++ {
		addr := idx / cfg.SlotsPerWord
		if addr >= len(memory) {
			break
		}
		op := SlotOpcode(cfg, memory[addr], idx%cfg.SlotsPerWord)
		if !started {
			cur = DisasmLine{AddrIdx: idx}
			started = true
		}
		cur.Len++
		if op.IsPrefix() {
			if !cur.Prefixed {
				cur.Imm = 0
				if int32(op)&(1<<(cfg.PfxBits-1)) != 0 {
					cur.Imm = -1
				}
			}
			cur.Imm = cur.Imm<<cfg.PfxBits | int32(op)
			cur.Prefixed = true
			continue
		}
		cur.Op = op
		out = append(out, cur)
		started = false
	}
	if started {
		cur.Op = NOP
		out = append(out, cur)
	}
	return out
}
