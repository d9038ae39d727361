// Command console runs a program in chunks of StepsPerRun steps, echoing its
// output as it goes. With -snapshot the machine state is saved after every
// chunk and restored on start, so a long run survives restarts.
package main

import (
	"bytes"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"sbc/pkg/asm"
	"sbc/pkg/compiler"
	"sbc/pkg/cpu"
	"sbc/pkg/machine"
	"sbc/pkg/utils"
)

// rawProgram wraps an assembled opcode listing so it can run on a machine.
// It has no startup code; any debugger break ends it.
func rawProgram(cfg cpu.Config, src utils.SourceFile) (*compiler.Compilation, error) {
	ops, sourceMap, err := asm.Assemble(cfg, src.Text)
	if err != nil {
		return nil, err
	}
	lines := make([]compiler.SourceLine, len(ops))
	cur := compiler.SourceLine{Unit: src.Name}
	for i := range ops {
		if no, ok := sourceMap[i]; ok {
			cur = compiler.SourceLine{Unit: src.Name, Line: no, Text: fmt.Sprintf("line %d", no)}
		}
		lines[i] = cur
	}
	code := cpu.PackWords(cfg, ops)
	return &compiler.Compilation{
		Config:         cfg,
		Opcodes:        ops,
		ConstStart:     cfg.ExecutableStart + len(code),
		ExecutableSize: len(code),
		Lines:          lines,
		HaltAddrIdx:    -1,
		Writable:       cpu.WritableSet(cfg),
	}, nil
}

// echo writes whatever output m produced since the last call.
type echo struct {
	w    io.Writer
	seen int
}

func (e *echo) flush(m *machine.Machine) {
	out := m.Output()
	if len(out) > e.seen {
		fmt.Fprint(e.w, out[e.seen:])
		e.seen = len(out)
	}
}

func saveSnapshot(m *machine.Machine, path string) error {
	var buf bytes.Buffer
	if err := m.Snapshot(&buf); err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0o644)
}

func main() {
	raw := flag.Bool("raw", false, "the source is a raw opcode listing")
	showAsm := flag.Bool("show-asm", false, "print the disassembly before running")
	snapshot := flag.String("snapshot", "", "snapshot file to resume from and save to")
	chunks := flag.Int("chunks", 0, "stop after this many chunks (0 runs to completion)")
	verbose := flag.Int("v", 0, "log verbosity")
	flag.Parse()
	commonlog.Configure(*verbose, nil)

	if flag.NArg() != 1 {
		log.Fatalf("usage: console [flags] file")
	}
	files, err := utils.ReadSources(flag.Args())
	if err != nil {
		log.Fatalf("Failed to read source file: %v", err)
	}
	src := files[0]
	print("Running source file:", src.Name, "\n")

	cfg := cpu.DefaultConfig()
	var comp *compiler.Compilation
	if *raw {
		comp, err = rawProgram(cfg, src)
	} else {
		comp, err = utils.Build(cfg, false, files)
	}
	if err != nil {
		log.Fatalf("Compilation failed: %v", err)
	}

	if *showAsm {
		base := cfg.ExecutableStart * cfg.SlotsPerWord
		for _, l := range cpu.Disassemble(cfg, comp.Memory(), base, base+len(comp.Opcodes)) {
			fmt.Printf("%6d  %s\n", l.AddrIdx, l)
		}
	}

	m := machine.New(comp)
	if *snapshot != "" {
		if f, err := os.Open(*snapshot); err == nil {
			err = m.Restore(f)
			f.Close()
			if err != nil {
				log.Fatalf("Restore failed: %v", err)
			}
			print("Resumed from ", *snapshot, " at step ", m.CPU.Steps, "\n")
		}
	}

	out := &echo{w: os.Stdout, seen: len(m.Output())}
	for n := 1; ; n++ {
		reason, err := m.Run()
		out.flush(m)
		switch {
		case errors.Is(err, cpu.ErrStepLimit):
			if *snapshot != "" {
				if err := saveSnapshot(m, *snapshot); err != nil {
					log.Fatalf("Snapshot failed: %v", err)
				}
			}
			if *chunks > 0 && n >= *chunks {
				print("Paused after ", m.CPU.Steps, " steps\n")
				return
			}
			continue
		case err != nil:
			log.Fatalf("Run failed: %v", err)
		case reason == machine.StopBreak && comp.HaltAddrIdx >= 0:
			continue
		}

		if *snapshot != "" {
			_ = os.Remove(*snapshot)
		}
		if v, err := m.ReturnValue(); err == nil && reason == machine.StopHalt {
			print("Halted after ", m.CPU.Steps, " steps, returned ", v, "\n")
		} else {
			print("Stopped (", reason.String(), ") after ", m.CPU.Steps, " steps\n")
		}
		return
	}
}
