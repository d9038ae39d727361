// Command sbc compiles assembly-language sources into a word-packed image
// and optionally runs it.
package main

import (
	"bytes"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"sbc/pkg/compiler"
	"sbc/pkg/cpu"
	"sbc/pkg/machine"
	"sbc/pkg/utils"
)

var log = commonlog.GetLogger("sbc.cli")

type options struct {
	config    string
	bare      bool
	mif       string
	image     string
	loadImage string
	run       bool
	input     string
	snapshot  string
	verbose   int
}

func main() {
	var o options
	flag.StringVar(&o.config, "config", "", "TOML file overriding the memory layout")
	flag.BoolVar(&o.bare, "bare", false, "do not link the embedded runtime library")
	flag.StringVar(&o.mif, "mif", "", "write a memory initialisation file")
	flag.StringVar(&o.image, "image", "", "write the compiled image (CBOR)")
	flag.StringVar(&o.loadImage, "load-image", "", "run an existing image instead of compiling sources")
	flag.BoolVar(&o.run, "run", false, "run the program after compiling")
	flag.StringVar(&o.input, "input", "", "characters queued for the input cell")
	flag.StringVar(&o.snapshot, "snapshot", "", "write a snapshot if the run stops before halting")
	flag.IntVar(&o.verbose, "v", 0, "log verbosity (1 info, 2 debug)")
	flag.Parse()

	commonlog.Configure(o.verbose, nil)

	if err := run(o, flag.Args(), os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if errors.Is(err, errUsage) {
			flag.Usage()
			os.Exit(2)
		}
		os.Exit(1)
	}
}

var errUsage = errors.New("nothing to do: give source files, or -load-image with -run")

func run(o options, args []string, stdout io.Writer) error {
	comp, err := load(o, args)
	if err != nil {
		return err
	}
	if o.mif != "" {
		var buf bytes.Buffer
		if err := comp.WriteMIF(&buf); err != nil {
			return err
		}
		if err := os.WriteFile(o.mif, buf.Bytes(), 0o644); err != nil {
			return fmt.Errorf("write %s: %w", o.mif, err)
		}
		log.Infof("wrote %s", o.mif)
	}
	if o.image != "" {
		data, err := compiler.MarshalImage(comp)
		if err != nil {
			return err
		}
		if err := os.WriteFile(o.image, data, 0o644); err != nil {
			return fmt.Errorf("write %s: %w", o.image, err)
		}
		log.Infof("wrote %s (%d bytes)", o.image, len(data))
	}
	if !o.run {
		if o.loadImage != "" && o.mif == "" && o.image == "" {
			return errUsage
		}
		fmt.Fprintf(stdout, "compiled %d words of code, %d words of constants\n", comp.ExecutableSize, len(comp.ConstData))
		return nil
	}
	return execute(o, comp, stdout)
}

func load(o options, args []string) (*compiler.Compilation, error) {
	if o.loadImage != "" {
		if len(args) > 0 {
			return nil, errors.New("-load-image takes no source files")
		}
		data, err := os.ReadFile(o.loadImage)
		if err != nil {
			return nil, err
		}
		return compiler.UnmarshalImage(data)
	}
	if len(args) == 0 {
		return nil, errUsage
	}
	cfg := cpu.DefaultConfig()
	if o.config != "" {
		var err error
		if cfg, err = cpu.LoadConfig(o.config); err != nil {
			return nil, err
		}
	}
	sources, err := utils.ReadSources(args)
	if err != nil {
		return nil, err
	}
	return utils.Build(cfg, o.bare, sources)
}

func execute(o options, comp *compiler.Compilation, stdout io.Writer) error {
	m := machine.New(comp)
	m.PushInput(o.input)
	reason, err := m.Run()
	fmt.Fprint(stdout, m.Output())
	if err != nil || reason != machine.StopHalt {
		if o.snapshot != "" {
			if serr := writeSnapshot(m, o.snapshot); serr != nil {
				return serr
			}
		}
		if err != nil {
			return fmt.Errorf("run failed: %w", err)
		}
		return fmt.Errorf("run stopped at %d: %s", m.CPU.AddrIdx(), reason)
	}
	v, err := m.ReturnValue()
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "halted after %d steps, returned %d\n", m.CPU.Steps, v)
	return nil
}

func writeSnapshot(m *machine.Machine, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := m.Snapshot(f); err != nil {
		return err
	}
	log.Infof("wrote snapshot %s", path)
	return f.Close()
}
