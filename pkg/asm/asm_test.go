package asm

import (
	"errors"
	"testing"
)

const pointSource = `
.class public sequential sealed Point extends [mscorlib]System.ValueType
{
	.field public int32 X
	.field public int32 Y
	.method public hidebysig instance int32 Sum() cil managed
	{
		ldarg.0
		ldfld int32 Point::X
		ldarg.0
		ldfld int32 Point::Y
		add
		ret
	}
}

.class public Program extends System.Object
{
	.field static int32 counter
	.method public static int32 Main() cil managed {
		.entrypoint
		.maxstack 8
		.locals init (valuetype Point p,
			int32 i)
		ldloca.s p
		ldc.i4.3
		stfld int32 Point::X
	loop: ldloc.1
		ldc.i4.s 10
		bge.s done
		ldloc i
		ldc.i4.1
		add
		stloc.1
		br loop
	done:
		ldloca p
		call instance int32
			Point::Sum()
		ret
	}
}
.config StepsPerRun 5000
`

func findMethod(u *Unit, class, name string) *MethodDecl {
	for _, c := range u.Classes {
		if c.Name.String() != class {
			continue
		}
		for _, m := range c.Methods {
			if m.Name == name {
				return m
			}
		}
	}
	return nil
}

func TestParseClassesAndMethods(t *testing.T) {
	u, err := Parse("point.il", pointSource)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(u.Classes) != 2 {
		t.Fatalf("expected 2 classes, got %d", len(u.Classes))
	}
	point := u.Classes[0]
	if !point.IsValueType() || len(point.Fields) != 2 || point.Fields[1].Name != "Y" {
		t.Errorf("Point parsed wrong: %+v", point)
	}
	if !point.HasFlag("sealed") {
		t.Errorf("flags lost: %v", point.Flags)
	}

	sum := findMethod(u, "Point", "Sum")
	if sum == nil || sum.IsStatic() || len(sum.Body) != 6 {
		t.Fatalf("Sum parsed wrong: %+v", sum)
	}
	if sum.Signature() != "int32 Point::Sum()" {
		t.Errorf("Sum signature = %q", sum.Signature())
	}

	main := findMethod(u, "Program", "Main")
	if main == nil || !main.EntryPoint || !main.IsStatic() || main.MaxStack != 8 {
		t.Fatalf("Main parsed wrong: %+v", main)
	}
	if len(main.Locals) != 2 || main.Locals[0].Type.String() != "Point" || main.Locals[1].Name != "i" {
		t.Errorf("locals wrong: %+v", main.Locals)
	}

	clsProgram := u.Classes[1]
	if len(clsProgram.Fields) != 1 || !clsProgram.Fields[0].IsStatic() {
		t.Errorf("static field lost: %+v", clsProgram.Fields)
	}

	if len(u.Configs) != 1 || u.Configs[0].Name != "StepsPerRun" || u.Configs[0].Value != 5000 {
		t.Errorf("config lost: %+v", u.Configs)
	}
}

func TestParseNormalisesInstructions(t *testing.T) {
	u, err := Parse("point.il", pointSource)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	body := findMethod(u, "Program", "Main").Body

	tests := []struct {
		i      int
		op     string
		label  string
		index  int
		v      string
		intVal int32
		target string
	}{
		{0, "ldloca", "", -1, "p", 0, ""},
		{1, "ldc.i4", "", -1, "", 3, ""},
		{3, "ldloc", "loop", 1, "", 0, ""},
		{4, "ldc.i4", "", -1, "", 10, ""},
		{5, "bge", "", -1, "", 0, "done"},
		{6, "ldloc", "", -1, "i", 0, ""},
		{8, "add", "", -1, "", 0, ""},
		{9, "stloc", "", 1, "", 0, ""},
		{10, "br", "", -1, "", 0, "loop"},
		{11, "", "done", -1, "", 0, ""},
	}
	for _, tc := range tests {
		in := body[tc.i]
		if in.Op != tc.op || in.Label != tc.label || in.Index != tc.index || in.Var != tc.v || in.Int != tc.intVal || in.Target != tc.target {
			t.Errorf("instruction %d = %+v; want op=%q label=%q index=%d var=%q int=%d target=%q",
				tc.i, in, tc.op, tc.label, tc.index, tc.v, tc.intVal, tc.target)
		}
	}

	call := body[13]
	if call.Op != "call" || call.Member == nil || call.Member.Signature() != "int32 Point::Sum()" || !call.Member.HasThis {
		t.Errorf("continued call parsed wrong: %+v", call)
	}
	if body[2].Member.Signature() != "int32 Point::X" {
		t.Errorf("stfld member = %q", body[2].Member.Signature())
	}
}

func TestParseTypedElementForms(t *testing.T) {
	src := `.class C
{
	.method static void M()
	{
		ldelem.i4
		stelem.ref
		ldind.i4
		ldelem Point
		newarr int32
		ldstr "he said \"hi\"\n"
		ldc.r4 1.5
		ldc.i4 0x10
		ldc.i4.m1
	}
}`
	u, err := Parse("typed.il", src)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	body := u.Classes[0].Methods[0].Body
	if body[0].Op != "ldelem" || body[0].TypeArg == nil || body[0].TypeArg.String() != "int32" {
		t.Errorf("ldelem.i4 = %+v", body[0])
	}
	if body[1].Op != "stelem" || body[1].TypeArg != nil {
		t.Errorf("stelem.ref = %+v", body[1])
	}
	if body[2].Op != "ldobj" || body[2].TypeArg.String() != "int32" {
		t.Errorf("ldind.i4 = %+v", body[2])
	}
	if body[3].TypeArg.String() != "Point" || body[4].TypeArg.String() != "int32" {
		t.Errorf("type operands wrong")
	}
	if body[5].Str != "he said \"hi\"\n" {
		t.Errorf("ldstr = %q", body[5].Str)
	}
	if body[6].Float != 1.5 || body[7].Int != 16 || body[8].Int != -1 {
		t.Errorf("numeric operands wrong: %v %v %v", body[6].Float, body[7].Int, body[8].Int)
	}
}

func TestParseGenericTemplate(t *testing.T) {
	src := `.class public Box` + "`" + `1<T> extends System.Object
{
	.field public !T _value
	.method public instance !T Get()
	{
		ldarg.0
		ldfld !0 class Box` + "`" + `1<!T>::_value
		ret
	}
}`
	u, err := Parse("box.il", src)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	box := u.Classes[0]
	if !box.IsGeneric() || box.TypeParams[0] != "T" || box.Name.String() != "Box`1" {
		t.Errorf("generic header wrong: %+v", box)
	}
	if box.Template == "" || box.Template[:6] != ".class" || box.Template[len(box.Template)-1] != '}' {
		t.Errorf("template text wrong: %q", box.Template)
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		line int
	}{
		{"unknown line", ".class C\n{\nfrobnicate 3\n}", 3},
		{"instruction outside method", ".class C\n{\nret\n}", 3},
		{"unterminated", ".class C\n{\n", 2},
		{"bad operand", ".class C\n{\n.method static void M()\n{\nldc.i4 zz\n}\n}", 5},
		{"stray brace", "}", 1},
		{"literal too wide", ".class C\n{\n.method static void M()\n{\nldc.i4 0x100000000\n}\n}", 5},
		{"literal below int32", ".class C\n{\n.method static void M()\n{\nldc.i4 -2147483649\n}\n}", 5},
		{"wide literal overflows", ".class C\n{\n.method static void M()\n{\nldc.i8 0x80000000\n}\n}", 5},
		{"double overflows", ".class C\n{\n.method static void M()\n{\nldc.r8 1e300\n}\n}", 5},
		{"single overflows", ".class C\n{\n.method static void M()\n{\nldc.r4 1e39\n}\n}", 5},
		{"switch without list", ".class C\n{\n.method static void M()\n{\nswitch a, b\n}\n}", 5},
	}
	for _, tc := range tests {
		_, err := Parse("bad.il", tc.src)
		var pe *ParseError
		if !errors.As(err, &pe) {
			t.Errorf("%s: expected ParseError, got %v", tc.name, err)
			continue
		}
		if pe.Line != tc.line {
			t.Errorf("%s: error on line %d; want %d (%v)", tc.name, pe.Line, tc.line, err)
		}
	}
}

func TestParseSwitchAndWideLiterals(t *testing.T) {
	src := `.class C
{
	.method static void M()
	{
		switch (zero, one ,two)
		ldc.i4 0xFFFFFFFF
		ldc.i4 -2147483648
		ldc.i8 42
		ldc.r8 0.25
		box int32
		unbox.any Point
		isinst C
		castclass class C
		leave.s zero
	}
}`
	u, err := Parse("switch.il", src)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	body := u.Classes[0].Methods[0].Body
	sw := body[0]
	if sw.Op != "switch" || len(sw.Targets) != 3 || sw.Targets[0] != "zero" || sw.Targets[1] != "one" || sw.Targets[2] != "two" {
		t.Errorf("switch = %+v", sw)
	}
	if body[1].Int != -1 || body[2].Int != -2147483648 {
		t.Errorf("32-bit literals = %d, %d", body[1].Int, body[2].Int)
	}
	if body[3].Op != "ldc.i4" || body[3].Int != 42 {
		t.Errorf("ldc.i8 = %+v", body[3])
	}
	if body[4].Op != "ldc.r4" || body[4].Float != 0.25 {
		t.Errorf("ldc.r8 = %+v", body[4])
	}
	for i, op := range []string{"box", "unbox.any", "isinst", "castclass"} {
		in := body[5+i]
		if in.Op != op || in.TypeArg == nil {
			t.Errorf("%s = %+v", op, in)
		}
	}
	if body[9].Op != "leave" || body[9].Target != "zero" {
		t.Errorf("leave must keep its own op, got %+v", body[9])
	}
}
