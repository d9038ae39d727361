package asm

import "strings"

// Pos locates a statement in its source unit.
type Pos struct {
	Unit string
	Line int
	Text string
}

func (p Pos) Position() Pos { return p }

// Node is any statement produced by the parser.
type Node interface {
	Position() Pos
	node()
}

// Unit is one parsed source.
type Unit struct {
	Name    string
	Classes []*ClassDecl
	Configs []*ConfigDecl
}

// ClassDecl is a .class block. Generic classes carry their raw block text in
// Template and are instantiated by substitution.
type ClassDecl struct {
	Pos
	Flags      []string
	Name       TypeData
	TypeParams []string
	Extends    *TypeData
	Implements []TypeData
	Fields     []*FieldDecl
	Methods    []*MethodDecl
	Template   string
}

func (*ClassDecl) node() {}

// IsGeneric reports whether the class is a template.
func (c *ClassDecl) IsGeneric() bool { return len(c.TypeParams) > 0 }

// IsValueType reports whether the class derives from System.ValueType.
func (c *ClassDecl) IsValueType() bool {
	return c.Extends != nil && (c.Extends.Name == "System.ValueType" || c.Extends.Name == "System.Enum")
}

// IsInterface reports whether the class is an interface declaration.
func (c *ClassDecl) IsInterface() bool { return c.HasFlag("interface") }

// IsEnum reports whether the class derives from System.Enum.
func (c *ClassDecl) IsEnum() bool {
	return c.Extends != nil && c.Extends.Name == "System.Enum"
}

// HasFlag reports whether a declaration flag is present.
func (c *ClassDecl) HasFlag(f string) bool { return hasFlag(c.Flags, f) }

// MethodDecl is a .method block.
type MethodDecl struct {
	Pos
	Class      *ClassDecl
	Flags      []string
	Return     TypeData
	Name       string
	Params     []Param
	Locals     []Param
	EntryPoint bool
	MaxStack   int
	Body       []*Instruction
}

func (*MethodDecl) node() {}

func (m *MethodDecl) IsStatic() bool   { return hasFlag(m.Flags, "static") }
func (m *MethodDecl) IsVirtual() bool  { return hasFlag(m.Flags, "virtual") || m.IsAbstract() }
func (m *MethodDecl) IsAbstract() bool { return hasFlag(m.Flags, "abstract") }
func (m *MethodDecl) IsNewSlot() bool  { return hasFlag(m.Flags, "newslot") }

// IsCtor reports whether the method is an instance constructor.
func (m *MethodDecl) IsCtor() bool { return m.Name == ".ctor" }

// IsCctor reports whether the method is a static constructor.
func (m *MethodDecl) IsCctor() bool { return m.Name == ".cctor" }

// ClassType is the declaring class as a type.
func (m *MethodDecl) ClassType() TypeData {
	if m.Class == nil {
		return TypeData{}
	}
	return m.Class.Name
}

// ArgTypes are the declared parameter types, without this.
func (m *MethodDecl) ArgTypes() []TypeData { return paramTypes(m.Params) }

// Signature returns "Ret Class::Name(args)".
func (m *MethodDecl) Signature() string {
	return MethodSignature(m.Return, m.ClassType(), m.Name, m.ArgTypes())
}

// SlotSignature returns the classless "Name(args)".
func (m *MethodDecl) SlotSignature() string { return SlotSignature(m.Name, m.ArgTypes()) }

// FieldDecl is a .field statement.
type FieldDecl struct {
	Pos
	Class *ClassDecl
	Flags []string
	Type  TypeData
	Name  string
}

func (*FieldDecl) node() {}

func (f *FieldDecl) IsStatic() bool { return hasFlag(f.Flags, "static") }

// Signature returns "Type Class::Name".
func (f *FieldDecl) Signature() string {
	return f.Type.String() + " " + FieldKey(f.Class.Name, f.Name)
}

// LocalsDecl is a .locals statement.
type LocalsDecl struct {
	Pos
	Init   bool
	Locals []Param
}

func (*LocalsDecl) node() {}

// EntryPoint marks the enclosing method as the program entry.
type EntryPoint struct{ Pos }

func (*EntryPoint) node() {}

// MaxStack is accepted and ignored.
type MaxStack struct {
	Pos
	N int
}

func (*MaxStack) node() {}

// ConfigDecl overrides a machine configuration value.
type ConfigDecl struct {
	Pos
	Name  string
	Value int
}

func (*ConfigDecl) node() {}

// OperandKind classifies what follows a mnemonic.
type OperandKind int

const (
	NoOperand OperandKind = iota
	IntOperand
	FloatOperand
	StringOperand
	LabelOperand
	VarOperand
	MemberOperand
	TypeOperand
	SwitchOperand
)

// Instruction is one bytecode instruction, normalised: short forms (".s")
// and inline indices ("ldarg.0", "ldc.i4.m1") are folded into Op and the
// parsed operand.
type Instruction struct {
	Pos
	Label   string
	Op      string
	Operand string

	Int     int32
	Float   float32
	Str     string
	Target  string
	Targets []string
	Var     string
	Index   int
	Member  *MemberRef
	TypeArg *TypeData
}

func (*Instruction) node() {}

func (in *Instruction) String() string {
	var sb strings.Builder
	if in.Label != "" {
		sb.WriteString(in.Label)
		sb.WriteString(": ")
	}
	sb.WriteString(in.Op)
	if in.Operand != "" {
		sb.WriteByte(' ')
		sb.WriteString(in.Operand)
	}
	return sb.String()
}

func hasFlag(flags []string, f string) bool {
	for _, x := range flags {
		if x == f {
			return true
		}
	}
	return false
}
