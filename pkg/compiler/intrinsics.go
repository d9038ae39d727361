package compiler

import (
	"sbc/pkg/asm"
	"sbc/pkg/cpu"
)

type intrinsic func(c *Compiler, ctx *methodContext) error

const (
	memoryLoadSignature  = "int32 System.Runtime.Memory::Load(int32)"
	memoryStoreSignature = "void System.Runtime.Memory::Store(int32,int32)"
	assertSignature      = "void System.Diagnostics.Debug::Assert(bool)"
)

// Methods that compile to inline code rather than a call.
var intrinsics = buildIntrinsics()

func buildIntrinsics() map[string]intrinsic {
	m := map[string]intrinsic{
		memoryLoadSignature: func(c *Compiler, ctx *methodContext) error {
			if _, err := ctx.types.Pop(); err != nil {
				return err
			}
			c.loadIndirect(1)
			ctx.types.Push(asm.Int32)
			return nil
		},
		memoryStoreSignature: func(c *Compiler, ctx *methodContext) error {
			if _, err := ctx.types.PopN(2); err != nil {
				return err
			}
			c.stackPop2()
			c.emit(cpu.SWP, cpu.STA)
			return nil
		},
		BreakSignature: func(c *Compiler, ctx *methodContext) error {
			c.emitTrap(cpu.BreakHalt)
			return nil
		},
		assertSignature: func(c *Compiler, ctx *methodContext) error {
			if _, err := ctx.types.Pop(); err != nil {
				return err
			}
			c.stackPop()
			c.emit(cpu.ZEQ)
			c.emitK(1, cpu.PSH)
			c.emit(cpu.SHL)
			c.emitK(c.Config.BreakAddress, cpu.PSH)
			c.emit(cpu.STA)
			return nil
		},
		layoutSignature("StaticSize"): func(c *Compiler, ctx *methodContext) error {
			c.pushLabel(StaticSizeLabel)
			ctx.types.Push(asm.Int32)
			return nil
		},
	}

	layout := map[string]func(cpu.Config) int{
		"MemorySize":        func(cfg cpu.Config) int { return cfg.MemorySize },
		"HeapPointer":       func(cfg cpu.Config) int { return cfg.HeapPointer },
		"StackStart":        func(cfg cpu.Config) int { return cfg.StackStart },
		"StackEnd":          func(cfg cpu.Config) int { return cfg.StackEnd() },
		"HeapStart":         func(cfg cpu.Config) int { return cfg.HeapStart },
		"HeapEnd":           func(cfg cpu.Config) int { return cfg.HeapEnd() },
		"HeapGranularity":   func(cfg cpu.Config) int { return cfg.HeapGranularity },
		"HeapMarkerStart":   func(cfg cpu.Config) int { return cfg.HeapMarkerStart },
		"HeapMarkerSize":    func(cfg cpu.Config) int { return cfg.HeapMarkerSize },
		"StaticStart":       func(cfg cpu.Config) int { return cfg.StaticStart },
		"OutputAddress":     func(cfg cpu.Config) int { return cfg.OutputAddress },
		"InputAddress":      func(cfg cpu.Config) int { return cfg.InputAddress },
		"InputReadyAddress": func(cfg cpu.Config) int { return cfg.InputReadyAddress },
		"BreakAddress":      func(cfg cpu.Config) int { return cfg.BreakAddress },
	}
	for name, get := range layout {
		get := get
		m[layoutSignature(name)] = func(c *Compiler, ctx *methodContext) error {
			c.pushConst(int32(get(c.Config)))
			ctx.types.Push(asm.Int32)
			return nil
		}
	}
	return m
}

func layoutSignature(name string) string {
	return asm.MethodSignature(asm.Int32, asm.Type("System.Runtime.Layout"), name, nil)
}
