package asm

import (
	"reflect"
	"testing"
)

func TestParseType(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"int32", "int32"},
		{"int", "int32"},
		{"float", "float32"},
		{"unsigned int8", "uint8"},
		{"char[]", "char[]"},
		{"class [mscorlib]System.String", "System.String"},
		{"valuetype Point&", "Point&"},
		{"native int", "int32"},
		{"Box`1<int32>", "Box`1<int32>"},
		{"class Pair`2<int32, class Box`1<float>>[]", "Pair`2<int32,Box`1<float32>>[]"},
		{"'odd name'", "odd name"},
		{"!0", "!0"},
		{"!T[]", "!T[]"},
		{"int32*", "int32*"},
	}
	for _, tc := range tests {
		got, err := ParseType(tc.input)
		if err != nil {
			t.Errorf("ParseType(%q): %v", tc.input, err)
			continue
		}
		if got.String() != tc.want {
			t.Errorf("ParseType(%q) = %q; want %q", tc.input, got.String(), tc.want)
		}
	}

	for _, bad := range []string{"", "Box`1<int32", "int32 extra", "'unterminated"} {
		if _, err := ParseType(bad); err == nil {
			t.Errorf("ParseType(%q): expected error", bad)
		}
	}
}

func TestTypeDataHelpers(t *testing.T) {
	arr, _ := ParseType("Point[]")
	if !arr.IsArray() || arr.Elem().String() != "Point" {
		t.Errorf("array helpers wrong for %v", arr)
	}
	ref := arr.Elem().RefOf()
	if !ref.IsByRef() || !ref.IsAddress() || ref.String() != "Point&" {
		t.Errorf("RefOf wrong: %v", ref)
	}
	if !Float32.IsFloat() || Int32.IsFloat() {
		t.Errorf("IsFloat wrong")
	}
	if String.ClassName() != "System.String" {
		t.Errorf("string should map to System.String")
	}

	box, _ := ParseType("Box`1<!0[]>")
	got := box.Substitute(map[string]TypeData{"0": Int32, "T": Int32})
	if got.String() != "Box`1<int32[]>" {
		t.Errorf("Substitute = %q", got.String())
	}
}

func TestParseMemberRef(t *testing.T) {
	tests := []struct {
		input string
		want  MemberRef
		sig   string
	}{
		{
			"int32 System.GC::New(int32)",
			MemberRef{Type: Int32, Class: Type("System.GC"), Name: "New", Args: []TypeData{Int32}, IsMethod: true},
			"int32 System.GC::New(int32)",
		},
		{
			"instance void class [mscorlib]System.Object::.ctor()",
			MemberRef{HasThis: true, Type: Void, Class: Type("System.Object"), Name: ".ctor", Args: []TypeData{}, IsMethod: true},
			"void System.Object::.ctor()",
		},
		{
			"int32 Point::X",
			MemberRef{Type: Int32, Class: Type("Point"), Name: "X"},
			"int32 Point::X",
		},
		{
			"instance !0 class Box`1<int32>::get_Value()",
			MemberRef{HasThis: true, Type: Type("!0"), Class: TypeData{Name: "Box`1", Args: []TypeData{Int32}}, Name: "get_Value", Args: []TypeData{}, IsMethod: true},
			"!0 Box`1<int32>::get_Value()",
		},
		{
			"void String::.ctor(char[], int32, int32)",
			MemberRef{Type: Void, Class: Type("String"), Name: ".ctor", Args: []TypeData{Char.ArrayOf(), Int32, Int32}, IsMethod: true},
			"void String::.ctor(char[],int32,int32)",
		},
		{
			"int32 Speak()",
			MemberRef{Type: Int32, Name: "Speak", Args: []TypeData{}, IsMethod: true},
			"int32 Speak()",
		},
	}
	for _, tc := range tests {
		got, err := ParseMemberRef(tc.input)
		if err != nil {
			t.Errorf("ParseMemberRef(%q): %v", tc.input, err)
			continue
		}
		if !reflect.DeepEqual(got, tc.want) {
			t.Errorf("ParseMemberRef(%q) = %+v; want %+v", tc.input, got, tc.want)
		}
		if got.Signature() != tc.sig {
			t.Errorf("Signature(%q) = %q; want %q", tc.input, got.Signature(), tc.sig)
		}
	}
}

func TestMemberRefSubstitute(t *testing.T) {
	ref, err := ParseMemberRef("instance !0 class Box`1<int32>::get_Value()")
	if err != nil {
		t.Fatal(err)
	}
	bound := ref.Substitute(map[string]TypeData{"0": Int32})
	if bound.Signature() != "int32 Box`1<int32>::get_Value()" {
		t.Errorf("bound signature = %q", bound.Signature())
	}
}
