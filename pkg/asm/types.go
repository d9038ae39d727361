package asm

import "strings"

// TypeData is a parsed type reference. Its String form is the canonical key
// used by every symbol table: Name, then <Args> for generic instances, then
// any combination of the suffixes "[]", "&" and "*".
type TypeData struct {
	Name   string
	Args   []TypeData
	Suffix string
}

var typeAliases = map[string]string{
	"int":    "int32",
	"uint":   "uint32",
	"float":  "float32",
	"byte":   "uint8",
	"sbyte":  "int8",
	"short":  "int16",
	"ushort": "uint16",
	"long":   "int64",
	"ulong":  "uint64",
	"double": "float64",
	"single": "float32",
}

// Primitive names with a one word representation.
var primitives = map[string]bool{
	"bool": true, "char": true,
	"int8": true, "uint8": true, "int16": true, "uint16": true,
	"int32": true, "uint32": true, "int64": true, "uint64": true,
	"float32": true, "float64": true,
	"object": true, "string": true, "typedref": true,
}

// Builtin names that refer to runtime classes.
var builtinClasses = map[string]string{
	"object": "System.Object",
	"string": "System.String",
}

// ResolveAlias maps shorthand names onto their canonical spelling.
func ResolveAlias(name string) string {
	if a, ok := typeAliases[name]; ok {
		return a
	}
	return name
}

// Type returns a simple named type.
func Type(name string) TypeData { return TypeData{Name: name} }

var (
	Void    = Type("void")
	Int32   = Type("int32")
	Float32 = Type("float32")
	Bool    = Type("bool")
	Char    = Type("char")
	String  = Type("string")
	Object  = Type("object")
)

func (t TypeData) String() string {
	var sb strings.Builder
	sb.WriteString(t.Name)
	if len(t.Args) > 0 {
		sb.WriteByte('<')
		for i, a := range t.Args {
			if i > 0 {
				sb.WriteByte(',')
			}
			sb.WriteString(a.String())
		}
		sb.WriteByte('>')
	}
	sb.WriteString(t.Suffix)
	return sb.String()
}

// Equal compares canonical forms.
func (t TypeData) Equal(o TypeData) bool { return t.String() == o.String() }

// IsVoid reports whether t is the void type.
func (t TypeData) IsVoid() bool { return t.Name == "void" && t.Suffix == "" }

// IsPrimitive reports whether t is a one word builtin other than a class.
func (t TypeData) IsPrimitive() bool { return t.Suffix == "" && primitives[t.Name] }

// IsFloat reports whether arithmetic on t uses the float unit.
func (t TypeData) IsFloat() bool {
	return t.Suffix == "" && (t.Name == "float32" || t.Name == "float64")
}

// IsArray reports whether the outermost suffix is an array.
func (t TypeData) IsArray() bool { return strings.HasSuffix(t.Suffix, "[]") }

// IsByRef reports whether t is a managed reference.
func (t TypeData) IsByRef() bool { return strings.HasSuffix(t.Suffix, "&") }

// IsPointer reports whether t is an unmanaged pointer.
func (t TypeData) IsPointer() bool { return strings.HasSuffix(t.Suffix, "*") }

// IsAddress reports whether t holds an address of its element: a managed
// reference or a pointer.
func (t TypeData) IsAddress() bool { return t.IsByRef() || t.IsPointer() }

// Elem strips the outermost suffix.
func (t TypeData) Elem() TypeData {
	e := t
	switch {
	case strings.HasSuffix(t.Suffix, "[]"):
		e.Suffix = t.Suffix[:len(t.Suffix)-2]
	case t.Suffix != "":
		e.Suffix = t.Suffix[:len(t.Suffix)-1]
	}
	return e
}

// ArrayOf returns t[].
func (t TypeData) ArrayOf() TypeData {
	a := t
	a.Suffix += "[]"
	return a
}

// RefOf returns t&.
func (t TypeData) RefOf() TypeData {
	r := t
	r.Suffix += "&"
	return r
}

// Bare returns t without any suffix.
func (t TypeData) Bare() TypeData {
	b := t
	b.Suffix = ""
	return b
}

// ClassName returns the class a builtin name stands for, or the name itself.
func (t TypeData) ClassName() string {
	if c, ok := builtinClasses[t.Name]; ok {
		return c
	}
	return t.Bare().String()
}

// GenericParam returns the parameter reference of a !N or !Name type.
func (t TypeData) GenericParam() (string, bool) {
	if strings.HasPrefix(t.Name, "!") && !strings.HasPrefix(t.Name, "!!") {
		return t.Name[1:], true
	}
	return "", false
}

// Substitute replaces generic parameters using params, which maps both
// positional ("0") and named ("T") references to argument types.
func (t TypeData) Substitute(params map[string]TypeData) TypeData {
	if p, ok := t.GenericParam(); ok {
		if arg, ok := params[p]; ok {
			out := arg
			out.Suffix += t.Suffix
			return out
		}
	}
	if len(t.Args) == 0 {
		return t
	}
	out := t
	out.Args = make([]TypeData, len(t.Args))
	for i, a := range t.Args {
		out.Args[i] = a.Substitute(params)
	}
	return out
}

// Param is a named, typed slot: a method parameter or a local variable.
type Param struct {
	Type TypeData
	Name string
}

func typeList(ts []TypeData) string {
	parts := make([]string, len(ts))
	for i, t := range ts {
		parts[i] = t.String()
	}
	return strings.Join(parts, ",")
}

func paramTypes(ps []Param) []TypeData {
	out := make([]TypeData, len(ps))
	for i, p := range ps {
		out[i] = p.Type
	}
	return out
}

// MethodSignature formats "Ret Class::Name(A,B)".
func MethodSignature(ret, class TypeData, name string, args []TypeData) string {
	return ret.String() + " " + class.String() + "::" + name + "(" + typeList(args) + ")"
}

// SlotSignature formats the classless "Name(A,B)" used to match overrides.
func SlotSignature(name string, args []TypeData) string {
	return name + "(" + typeList(args) + ")"
}

// FieldKey formats "Class::Name".
func FieldKey(class TypeData, name string) string {
	return class.String() + "::" + name
}
