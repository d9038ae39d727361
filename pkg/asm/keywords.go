package asm

import (
	"regexp"
	"sort"
	"strings"
)

// Instruction mnemonics grouped by operand shape. The key is the spelling in
// source; canonical names the op the code generator sees.
var noOperandOps = []string{
	"nop", "ldnull", "dup", "pop", "ret",
	"add", "sub", "mul", "div", "and", "or", "xor", "shl", "shr", "shr.un", "neg", "not",
	"ceq", "cgt", "cgt.un", "clt", "clt.un",
	"conv.i", "conv.i1", "conv.i2", "conv.i4", "conv.u", "conv.u1", "conv.u2", "conv.u4", "conv.r4", "conv.r.un",
	"ldlen",
	"ldelem.i", "ldelem.i1", "ldelem.u1", "ldelem.i2", "ldelem.u2", "ldelem.i4", "ldelem.u4", "ldelem.r4", "ldelem.ref",
	"stelem.i", "stelem.i1", "stelem.i2", "stelem.i4", "stelem.r4", "stelem.ref",
	"ldind.i", "ldind.i1", "ldind.u1", "ldind.i2", "ldind.u2", "ldind.i4", "ldind.u4", "ldind.r4", "ldind.ref",
	"stind.i", "stind.i1", "stind.i2", "stind.i4", "stind.r4", "stind.ref",
	"throw", "rethrow", "endfinally",
}

var intOperandOps = []string{"ldc.i4", "ldc.i4.s", "ldc.i8"}

var floatOperandOps = []string{"ldc.r4", "ldc.r8"}

var stringOperandOps = []string{"ldstr"}

var labelOperandOps = []string{
	"br", "brtrue", "brfalse", "brzero", "brnull", "brinst",
	"beq", "bne.un", "bgt", "bgt.un", "blt", "blt.un", "bge", "bge.un", "ble", "ble.un", "leave",
}

var switchOperandOps = []string{"switch"}

var varOperandOps = []string{"ldarg", "ldarga", "starg", "ldloc", "ldloca", "stloc"}

var memberOperandOps = []string{
	"call", "callvirt", "newobj",
	"ldfld", "ldflda", "stfld", "ldsfld", "ldsflda", "stsfld",
}

var typeOperandOps = []string{
	"newarr", "ldelem", "ldelema", "stelem", "ldobj", "stobj", "initobj",
	"box", "unbox", "unbox.any", "isinst", "castclass",
}

// canonical folds typed element and indirect forms onto one op.
var canonical = map[string]string{
	"brzero": "brfalse", "brnull": "brfalse", "brinst": "brtrue",
	"bgt.un": "bgt", "blt.un": "blt", "bge.un": "bge", "ble.un": "ble",
	"cgt.un": "cgt", "clt.un": "clt",
	"conv.i": "conv.i4", "conv.u": "conv.i4", "conv.u4": "conv.i4", "conv.r.un": "conv.r4",
	"ldc.i8": "ldc.i4", "ldc.r8": "ldc.r4",
}

// typedElemOps maps typed element/indirect forms to their element type.
// An empty type means "use the type on the stack".
var typedElemOps = map[string]struct {
	Op   string
	Type string
}{
	"ldelem.i": {"ldelem", "int32"}, "ldelem.i1": {"ldelem", "int8"}, "ldelem.u1": {"ldelem", "uint8"},
	"ldelem.i2": {"ldelem", "int16"}, "ldelem.u2": {"ldelem", "uint16"}, "ldelem.i4": {"ldelem", "int32"},
	"ldelem.u4": {"ldelem", "uint32"}, "ldelem.r4": {"ldelem", "float32"}, "ldelem.ref": {"ldelem", ""},
	"stelem.i": {"stelem", "int32"}, "stelem.i1": {"stelem", "int8"}, "stelem.i2": {"stelem", "int16"},
	"stelem.i4": {"stelem", "int32"}, "stelem.r4": {"stelem", "float32"}, "stelem.ref": {"stelem", ""},
	"ldind.i": {"ldobj", "int32"}, "ldind.i1": {"ldobj", "int8"}, "ldind.u1": {"ldobj", "uint8"},
	"ldind.i2": {"ldobj", "int16"}, "ldind.u2": {"ldobj", "uint16"}, "ldind.i4": {"ldobj", "int32"},
	"ldind.u4": {"ldobj", "uint32"}, "ldind.r4": {"ldobj", "float32"}, "ldind.ref": {"ldobj", ""},
	"stind.i": {"stobj", "int32"}, "stind.i1": {"stobj", "int8"}, "stind.i2": {"stobj", "int16"},
	"stind.i4": {"stobj", "int32"}, "stind.r4": {"stobj", "float32"}, "stind.ref": {"stobj", ""},
}

var operandKinds = func() map[string]OperandKind {
	m := make(map[string]OperandKind)
	add := func(kind OperandKind, names ...string) {
		for _, n := range names {
			m[n] = kind
		}
	}
	add(NoOperand, noOperandOps...)
	add(IntOperand, intOperandOps...)
	add(FloatOperand, floatOperandOps...)
	add(StringOperand, stringOperandOps...)
	add(LabelOperand, labelOperandOps...)
	for _, n := range labelOperandOps {
		m[n+".s"] = LabelOperand
	}
	add(VarOperand, varOperandOps...)
	for _, n := range varOperandOps {
		m[n+".s"] = VarOperand
	}
	for _, n := range []string{"ldarg", "ldloc", "stloc"} {
		for i := 0; i < 4; i++ {
			m[n+"."+string(rune('0'+i))] = NoOperand
		}
	}
	for i := 0; i <= 8; i++ {
		m["ldc.i4."+string(rune('0'+i))] = NoOperand
	}
	m["ldc.i4.m1"] = NoOperand
	add(SwitchOperand, switchOperandOps...)
	add(MemberOperand, memberOperandOps...)
	add(TypeOperand, typeOperandOps...)
	return m
}()

// Mnemonics returns every accepted spelling, longest first.
func Mnemonics() []string {
	names := make([]string, 0, len(operandKinds))
	for n := range operandKinds {
		names = append(names, n)
	}
	sort.Slice(names, func(i, j int) bool {
		if len(names[i]) != len(names[j]) {
			return len(names[i]) > len(names[j])
		}
		return names[i] < names[j]
	})
	return names
}

var directiveNames = []string{"class", "method", "field", "locals", "entrypoint", "maxstack", "config"}

var (
	directiveRe   = regexp.MustCompile(`(?i)^\.(` + strings.Join(directiveNames, "|") + `)(?:\s+|$)`)
	instructionRe = func() *regexp.Regexp {
		quoted := make([]string, 0, len(operandKinds))
		for _, n := range Mnemonics() {
			quoted = append(quoted, regexp.QuoteMeta(n))
		}
		return regexp.MustCompile(`(?i)^(?:([A-Za-z_$@][\w$@.]*)\s*:\s*)?(` + strings.Join(quoted, "|") + `)(?:\s+|$)`)
	}()
	labelOnlyRe = regexp.MustCompile(`^([A-Za-z_$@][\w$@.]*)\s*:$`)
)

// blockDirectives own a { } block and absorb continuation lines until it opens.
var blockDirectives = map[string]bool{"class": true, "method": true}
