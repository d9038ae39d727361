package compiler

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tliron/commonlog"

	"sbc/pkg/asm"
	"sbc/pkg/cpu"
)

var log = commonlog.GetLogger("sbc.compiler")

// Pass records which stage of compilation is running.
type Pass int

const (
	PassParse Pass = iota
	PassCompileExecutable
	PassCompileConst
	PassPatchLabels
)

func (p Pass) String() string {
	switch p {
	case PassParse:
		return "Parse"
	case PassCompileExecutable:
		return "CompileExecutable"
	case PassCompileConst:
		return "CompileConst"
	case PassPatchLabels:
		return "PatchLabels"
	}
	return fmt.Sprintf("Pass(%d)", int(p))
}

// Signatures the code generator calls without a source reference.
const (
	HeapInitialiseSignature = "void System.GC::HeapInitialise()"
	NewSignature            = "int32 System.GC::New(int32)"
	NewarrSignature         = "int32 System.GC::Newarr(int32,int32,int32)"
	NewobjSignature         = "int32 System.GC::Newobj(int32,int32)"
	StringCtorSignature     = "void System.String::.ctor(char[],int32,int32)"
	BreakSignature          = "void System.Diagnostics.Debugger::Break()"

	StringClass     = "System.String"
	CallCctorsLabel = "CallCctors"
	StaticSizeLabel = "Config.StaticSize"
)

// CompilerDefect reports an internal inconsistency, such as the abstract
// type stack running dry. It indicates malformed input the front-end let
// through or a bug in the code generator.
type CompilerDefect struct {
	Msg string
}

func (e *CompilerDefect) Error() string { return "compiler defect: " + e.Msg }

func defectf(format string, args ...any) error {
	return &CompilerDefect{Msg: fmt.Sprintf(format, args...)}
}

// UnresolvedLabelError is returned by the linker for a reference with no
// definition.
type UnresolvedLabelError struct {
	Name string
}

func (e *UnresolvedLabelError) Error() string { return "unresolved label " + e.Name }

// CompileError attaches a source position to a code generation error.
type CompileError struct {
	Pos asm.Pos
	Err error
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("%s:%d: %s: %v", e.Pos.Unit, e.Pos.Line, e.Pos.Text, e.Err)
}

func (e *CompileError) Unwrap() error { return e.Err }

var ErrNoEntryPoint = errors.New("no .entrypoint method")

// Compiler turns loaded units into a linked memory image.
type Compiler struct {
	Config cpu.Config
	Pass   Pass

	syms  *SymbolTable
	arena *shapeArena

	opcodes    []cpu.Opcode
	lines      []SourceLine
	line       SourceLine
	constData  []int32
	constStart int
	labels     map[string]*LabelDef
	refs       []*LabelRef
	patchAt    int

	included    []asm.Node
	includedSet map[asm.Node]bool
	calledSlots map[string]bool
	cctors      []*asm.MethodDecl

	statics     map[string]int
	staticCount int

	ifaceSlots map[string]int
	ifaceKeys  []ifaceKey
	boxed      map[*asm.ClassDecl]bool

	strings     map[string]string
	stringOrder []string

	methods   []MethodData
	entry     *asm.MethodDecl
	heapRef   *LabelRef
	cctorRef  *LabelRef
	haltIdx   int
}

// New creates a compiler for the given memory layout.
func New(cfg cpu.Config) *Compiler {
	return &Compiler{
		Config: cfg,
		syms:   NewSymbolTable(),
	}
}

// Symbols exposes the symbol tables filled by Load.
func (c *Compiler) Symbols() *SymbolTable { return c.syms }

// Load preprocesses and parses a source unit and registers its classes,
// methods and fields. Includes are resolved against baseDir.
func (c *Compiler) Load(name, src, baseDir string) error {
	c.Pass = PassParse
	pre, err := asm.Preprocess(src, baseDir)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	unit, err := asm.Parse(name, pre)
	if err != nil {
		return err
	}
	return c.register(unit)
}

// LoadFile loads a source file from disk.
func (c *Compiler) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("cannot read %s: %w", path, err)
	}
	return c.Load(path, string(data), filepath.Dir(path))
}

func (c *Compiler) register(unit *asm.Unit) error {
	for _, cfg := range unit.Configs {
		if err := c.Config.Set(cfg.Name, cfg.Value); err != nil {
			return &CompileError{Pos: cfg.Pos, Err: err}
		}
	}
	for _, cls := range unit.Classes {
		c.syms.AddClass(cls)
	}
	c.arena = nil
	log.Debugf("loaded %s: %d classes", unit.Name, len(unit.Classes))
	return nil
}

func (c *Compiler) reset() {
	c.opcodes = nil
	c.lines = nil
	c.constData = nil
	c.labels = make(map[string]*LabelDef)
	c.refs = nil
	c.included = nil
	c.includedSet = make(map[asm.Node]bool)
	c.calledSlots = make(map[string]bool)
	c.cctors = nil
	c.statics = make(map[string]int)
	c.staticCount = 0
	c.strings = make(map[string]string)
	c.stringOrder = nil
	c.methods = nil
	c.arena = nil
	c.ifaceSlots = make(map[string]int)
	c.ifaceKeys = nil
	c.boxed = make(map[*asm.ClassDecl]bool)
}

func (c *Compiler) findEntry() (*asm.MethodDecl, error) {
	var entry *asm.MethodDecl
	for _, m := range c.syms.MethodList() {
		if !m.EntryPoint {
			continue
		}
		if entry != nil && entry != m {
			return nil, fmt.Errorf("multiple entry points: %s and %s", entry.Signature(), m.Signature())
		}
		entry = m
	}
	if entry == nil {
		return nil, ErrNoEntryPoint
	}
	if !entry.IsStatic() {
		return nil, fmt.Errorf("entry point %s must be static", entry.Signature())
	}
	return entry, nil
}

// Compile runs the executable, constant and patch passes over everything
// loaded so far and returns the linked result.
func (c *Compiler) Compile() (*Compilation, error) {
	if err := c.Config.Validate(); err != nil {
		return nil, err
	}
	c.reset()
	if err := c.resolveShapes(); err != nil {
		return nil, err
	}
	entry, err := c.findEntry()
	if err != nil {
		return nil, err
	}
	c.entry = entry

	c.Pass = PassCompileExecutable
	if err := c.compileExecutable(); err != nil {
		return nil, err
	}
	log.Debugf("executable: %d slots, %d methods", len(c.opcodes), len(c.methods))

	c.Pass = PassCompileConst
	if err := c.compileConst(); err != nil {
		return nil, err
	}
	log.Debugf("constants: %d words at 0x%X", len(c.constData), c.constStart)

	c.Pass = PassPatchLabels
	if err := c.patchLabels(); err != nil {
		return nil, err
	}

	comp := c.result()
	log.Infof("compiled %s: %d words code, %d words const, %d statics",
		entry.Signature(), comp.ExecutableSize, len(comp.ConstData), comp.StaticDataCount)
	return comp, nil
}

// CompileFiles is a convenience wrapper: load every path then compile.
func CompileFiles(cfg cpu.Config, paths ...string) (*Compilation, error) {
	c := New(cfg)
	for _, p := range paths {
		if err := c.LoadFile(p); err != nil {
			return nil, err
		}
	}
	return c.Compile()
}
