package asm

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ParseError reports a source line the parser could not accept.
type ParseError struct {
	Unit string
	Line int
	Text string
	Msg  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s:%d: %s: %q", e.Unit, e.Line, e.Msg, e.Text)
}

type lineKind int

const (
	otherLine lineKind = iota
	directiveLine
	instructionLine
	labelLine
	openBrace
	closeBrace
)

type srcLine struct {
	no   int
	text string
}

type statement struct {
	kind      lineKind
	directive string
	text      string
	line      int
	first     int
	last      int
}

func classify(text string) (lineKind, string) {
	switch text {
	case "{":
		return openBrace, ""
	case "}":
		return closeBrace, ""
	}
	if m := directiveRe.FindStringSubmatch(text); m != nil {
		return directiveLine, strings.ToLower(m[1])
	}
	if instructionRe.MatchString(text) {
		return instructionLine, ""
	}
	if labelOnlyRe.MatchString(text) {
		return labelLine, ""
	}
	return otherLine, ""
}

// outsideString reports whether byte i of s is outside any string literal.
func outsideString(s string, i int) bool {
	return strings.Count(s[:i], "\"")%2 == 0
}

// splitBraces separates braces that share a line with other text.
func splitBraces(no int, text string) []srcLine {
	text = strings.TrimSpace(text)
	switch {
	case text == "":
		return nil
	case text == "{" || text == "}":
		return []srcLine{{no, text}}
	case text[0] == '{' || text[0] == '}':
		return append([]srcLine{{no, text[:1]}}, splitBraces(no, text[1:])...)
	}
	last := len(text) - 1
	if (text[last] == '{' || text[last] == '}') && outsideString(text, last) {
		return append(splitBraces(no, text[:last]), srcLine{no, text[last:]})
	}
	return []srcLine{{no, text}}
}

// Parse turns preprocessed source into classes and configuration overrides.
func Parse(unitName, src string) (*Unit, error) {
	var lines []srcLine
	for i, raw := range strings.Split(src, "\n") {
		lines = append(lines, splitBraces(i+1, raw)...)
	}

	var stmts []statement
	for i := 0; i < len(lines); {
		kind, dir := classify(lines[i].text)
		if kind == otherLine {
			return nil, &ParseError{unitName, lines[i].no, lines[i].text, "unrecognised line"}
		}
		st := statement{kind: kind, directive: dir, text: lines[i].text, line: lines[i].no, first: i}
		i++
		switch {
		case kind == directiveLine && blockDirectives[dir]:
			for i < len(lines) && lines[i].text != "{" {
				st.text += " " + lines[i].text
				i++
			}
		case kind != openBrace && kind != closeBrace:
			for i < len(lines) {
				if k, _ := classify(lines[i].text); k != otherLine {
					break
				}
				st.text += " " + lines[i].text
				i++
			}
		}
		st.last = i - 1
		stmts = append(stmts, st)
	}

	p := &parser{unit: &Unit{Name: unitName}, lines: lines}
	for _, st := range stmts {
		if err := p.statement(st); err != nil {
			return nil, err
		}
	}
	if len(p.stack) > 0 || p.pending != nil {
		return nil, &ParseError{unitName, lines[len(lines)-1].no, lines[len(lines)-1].text, "unterminated block"}
	}
	return p.unit, nil
}

type block struct {
	class  *ClassDecl
	method *MethodDecl
	first  int
}

type parser struct {
	unit    *Unit
	lines   []srcLine
	stack   []block
	pending *block
}

func (p *parser) errorf(st statement, format string, args ...any) error {
	return &ParseError{p.unit.Name, st.line, st.text, fmt.Sprintf(format, args...)}
}

func (p *parser) pos(st statement) Pos {
	return Pos{Unit: p.unit.Name, Line: st.line, Text: st.text}
}

func (p *parser) top() *block {
	if len(p.stack) == 0 {
		return nil
	}
	return &p.stack[len(p.stack)-1]
}

func (p *parser) currentClass() *ClassDecl {
	for i := len(p.stack) - 1; i >= 0; i-- {
		if p.stack[i].class != nil {
			return p.stack[i].class
		}
	}
	return nil
}

func (p *parser) currentMethod() *MethodDecl {
	if b := p.top(); b != nil {
		return b.method
	}
	return nil
}

func (p *parser) statement(st statement) error {
	if p.pending != nil && st.kind != openBrace {
		return p.errorf(st, "expected {")
	}
	switch st.kind {
	case openBrace:
		if p.pending == nil {
			return p.errorf(st, "unexpected {")
		}
		p.stack = append(p.stack, *p.pending)
		p.pending = nil
		return nil
	case closeBrace:
		b := p.top()
		if b == nil {
			return p.errorf(st, "unexpected }")
		}
		p.stack = p.stack[:len(p.stack)-1]
		if b.class != nil && b.class.IsGeneric() {
			texts := make([]string, 0, st.first-b.first+1)
			for _, l := range p.lines[b.first : st.first+1] {
				texts = append(texts, l.text)
			}
			b.class.Template = strings.Join(texts, "\n")
		}
		return nil
	case directiveLine:
		return p.directive(st)
	default:
		m := p.currentMethod()
		if m == nil {
			return p.errorf(st, "instruction outside a method")
		}
		in, err := p.instruction(st)
		if err != nil {
			return err
		}
		m.Body = append(m.Body, in)
		return nil
	}
}

var classFlags = map[string]bool{
	"public": true, "private": true, "auto": true, "ansi": true, "sealed": true, "abstract": true,
	"beforefieldinit": true, "sequential": true, "explicit": true, "interface": true,
	"serializable": true, "nested": true, "static": true, "assembly": true,
}

var methodFlags = map[string]bool{
	"public": true, "private": true, "family": true, "assembly": true, "famandassem": true,
	"famorassem": true, "hidebysig": true, "static": true, "instance": true, "virtual": true,
	"abstract": true, "newslot": true, "final": true, "specialname": true, "rtspecialname": true,
	"strict": true,
}

var fieldFlags = map[string]bool{
	"public": true, "private": true, "family": true, "assembly": true, "static": true,
	"initonly": true, "literal": true, "notserialized": true, "specialname": true, "rtspecialname": true,
}

func readFlags(sp *SignatureParser, allowed map[string]bool) []string {
	var flags []string
	for {
		save := sp.pos
		name, err := sp.ParseName()
		if err != nil || !allowed[name] {
			sp.pos = save
			return flags
		}
		flags = append(flags, name)
	}
}

func (p *parser) directive(st statement) error {
	rest := strings.TrimSpace(st.text[len(st.directive)+1:])
	sp := NewSignatureParser(rest)
	switch st.directive {
	case "class":
		c := &ClassDecl{Pos: p.pos(st)}
		c.Flags = readFlags(sp, classFlags)
		name, err := sp.ParseType()
		if err != nil {
			return p.errorf(st, "%v", err)
		}
		for _, a := range name.Args {
			c.TypeParams = append(c.TypeParams, a.Name)
		}
		c.Name = TypeData{Name: name.Name}
		if sp.acceptWord("extends") {
			base, err := sp.ParseType()
			if err != nil {
				return p.errorf(st, "%v", err)
			}
			c.Extends = &base
		}
		if sp.acceptWord("implements") {
			for {
				it, err := sp.ParseType()
				if err != nil {
					return p.errorf(st, "%v", err)
				}
				c.Implements = append(c.Implements, it)
				if !sp.accept(",") {
					break
				}
			}
		}
		if !sp.EOF() {
			return p.errorf(st, "unexpected %q", sp.Rest())
		}
		p.unit.Classes = append(p.unit.Classes, c)
		p.pending = &block{class: c, first: st.first}

	case "method":
		c := p.currentClass()
		if c == nil || p.currentMethod() != nil {
			return p.errorf(st, "method outside a class")
		}
		m := &MethodDecl{Pos: p.pos(st), Class: c}
		m.Flags = readFlags(sp, methodFlags)
		ret, err := sp.ParseType()
		if err != nil {
			return p.errorf(st, "%v", err)
		}
		m.Return = ret
		if m.Name, err = sp.ParseName(); err != nil {
			return p.errorf(st, "%v", err)
		}
		if m.Params, err = sp.ParseParams(); err != nil {
			return p.errorf(st, "%v", err)
		}
		c.Methods = append(c.Methods, m)
		p.pending = &block{method: m, first: st.first}

	case "field":
		c := p.currentClass()
		if c == nil || p.currentMethod() != nil {
			return p.errorf(st, "field outside a class")
		}
		f := &FieldDecl{Pos: p.pos(st), Class: c}
		f.Flags = readFlags(sp, fieldFlags)
		t, err := sp.ParseType()
		if err != nil {
			return p.errorf(st, "%v", err)
		}
		f.Type = t
		if f.Name, err = sp.ParseName(); err != nil {
			return p.errorf(st, "%v", err)
		}
		c.Fields = append(c.Fields, f)

	case "locals":
		m := p.currentMethod()
		if m == nil {
			return p.errorf(st, "locals outside a method")
		}
		sp.acceptWord("init")
		locals, err := sp.ParseParams()
		if err != nil {
			return p.errorf(st, "%v", err)
		}
		m.Locals = append(m.Locals, locals...)

	case "entrypoint":
		m := p.currentMethod()
		if m == nil {
			return p.errorf(st, "entrypoint outside a method")
		}
		m.EntryPoint = true

	case "maxstack":
		m := p.currentMethod()
		if m == nil {
			return p.errorf(st, "maxstack outside a method")
		}
		n, err := strconv.Atoi(rest)
		if err != nil {
			return p.errorf(st, "invalid maxstack")
		}
		m.MaxStack = n

	case "config":
		fields := strings.Fields(rest)
		if len(fields) != 2 {
			return p.errorf(st, "expected .config Name Value")
		}
		v, err := strconv.ParseInt(fields[1], 0, 64)
		if err != nil {
			return p.errorf(st, "invalid config value")
		}
		p.unit.Configs = append(p.unit.Configs, &ConfigDecl{Pos: p.pos(st), Name: fields[0], Value: int(v)})
	}
	return nil
}

func (p *parser) instruction(st statement) (*Instruction, error) {
	in := &Instruction{Pos: p.pos(st), Index: -1}
	if st.kind == labelLine {
		in.Label = labelOnlyRe.FindStringSubmatch(st.text)[1]
		return in, nil
	}
	m := instructionRe.FindStringSubmatch(st.text)
	in.Label = m[1]
	spelling := strings.ToLower(m[2])
	in.Operand = strings.TrimSpace(st.text[len(m[0]):])
	kind := operandKinds[spelling]

	op := spelling
	switch {
	case strings.HasPrefix(op, "ldc.i4.") && kind == NoOperand:
		in.Op = "ldc.i4"
		if op == "ldc.i4.m1" {
			in.Int = -1
		} else {
			in.Int = int32(op[len(op)-1] - '0')
		}
		return in, p.noOperand(st, in)
	case kind == NoOperand && (strings.HasPrefix(op, "ldarg.") || strings.HasPrefix(op, "ldloc.") || strings.HasPrefix(op, "stloc.")):
		in.Op = op[:5]
		in.Index = int(op[len(op)-1] - '0')
		return in, p.noOperand(st, in)
	case strings.HasSuffix(op, ".s") && kind != NoOperand:
		op = strings.TrimSuffix(op, ".s")
	}
	if te, ok := typedElemOps[op]; ok {
		op = te.Op
		if te.Type != "" {
			t := Type(te.Type)
			in.TypeArg = &t
		}
	}
	if c, ok := canonical[op]; ok {
		op = c
	}
	in.Op = op

	var err error
	switch kind {
	case NoOperand:
		err = p.noOperand(st, in)
	case IntOperand:
		in.Int, err = intLiteral(in.Operand, spelling == "ldc.i8")
	case FloatOperand:
		in.Float, err = floatLiteral(in.Operand, spelling == "ldc.r8")
	case SwitchOperand:
		in.Targets, err = switchTargets(in.Operand)
	case StringOperand:
		in.Str, err = strconv.Unquote(in.Operand)
	case LabelOperand:
		if !labelOnlyRe.MatchString(in.Operand + ":") {
			err = fmt.Errorf("invalid label %q", in.Operand)
		}
		in.Target = in.Operand
	case VarOperand:
		if n, convErr := strconv.Atoi(in.Operand); convErr == nil {
			in.Index = n
		} else if in.Operand == "" {
			err = fmt.Errorf("missing variable")
		} else {
			in.Var = in.Operand
		}
	case MemberOperand:
		var ref MemberRef
		if ref, err = ParseMemberRef(in.Operand); err == nil {
			in.Member = &ref
		}
	case TypeOperand:
		var t TypeData
		if t, err = ParseType(in.Operand); err == nil {
			in.TypeArg = &t
		}
	}
	if err != nil {
		return nil, p.errorf(st, "%s: %v", spelling, err)
	}
	return in, nil
}

// intLiteral reads a 32-bit literal. Unsigned spellings up to 0xFFFFFFFF
// wrap; a 64-bit literal must already fit a signed word.
func intLiteral(s string, wide bool) (int32, error) {
	v, err := strconv.ParseInt(s, 0, 64)
	if err != nil {
		return 0, err
	}
	if v < math.MinInt32 || v > math.MaxUint32 || (wide && v > math.MaxInt32) {
		return 0, fmt.Errorf("literal %s does not fit in 32 bits", s)
	}
	return int32(v), nil
}

// floatLiteral reads a float literal into single precision. A double
// literal is rounded and rejected only when it overflows.
func floatLiteral(s string, wide bool) (float32, error) {
	if !wide {
		f, err := strconv.ParseFloat(s, 32)
		return float32(f), err
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if math.Abs(f) > math.MaxFloat32 && !math.IsInf(f, 0) {
		return 0, fmt.Errorf("literal %s does not fit in 32 bits", s)
	}
	return float32(f), nil
}

// switchTargets reads the parenthesised label list of a switch.
func switchTargets(s string) ([]string, error) {
	inner, ok := strings.CutPrefix(s, "(")
	if ok {
		inner, ok = strings.CutSuffix(inner, ")")
	}
	if !ok {
		return nil, fmt.Errorf("switch needs a (label, ...) list, got %q", s)
	}
	var targets []string
	for _, l := range strings.Split(inner, ",") {
		l = strings.TrimSpace(l)
		if !labelOnlyRe.MatchString(l + ":") {
			return nil, fmt.Errorf("invalid label %q", l)
		}
		targets = append(targets, l)
	}
	return targets, nil
}

func (p *parser) noOperand(st statement, in *Instruction) error {
	if in.Operand != "" {
		return p.errorf(st, "unexpected operand")
	}
	return nil
}
