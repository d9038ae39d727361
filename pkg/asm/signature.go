package asm

import (
	"fmt"
	"strings"
)

// SignatureParser reads type names, member references and declaration
// headers. It understands assembly qualifiers ("[mscorlib]"), the "class",
// "valuetype" and "native" prefixes, quoted identifiers, nested generic
// arguments and the [] & * suffixes.
type SignatureParser struct {
	src string
	pos int
}

func NewSignatureParser(s string) *SignatureParser {
	return &SignatureParser{src: s}
}

func (p *SignatureParser) skipSpace() {
	for p.pos < len(p.src) && (p.src[p.pos] == ' ' || p.src[p.pos] == '\t' || p.src[p.pos] == '\n' || p.src[p.pos] == '\r') {
		p.pos++
	}
}

// EOF reports whether only whitespace remains.
func (p *SignatureParser) EOF() bool {
	p.skipSpace()
	return p.pos >= len(p.src)
}

// Rest returns the unparsed remainder.
func (p *SignatureParser) Rest() string {
	p.skipSpace()
	return p.src[p.pos:]
}

func (p *SignatureParser) peek() byte {
	p.skipSpace()
	if p.pos >= len(p.src) {
		return 0
	}
	return p.src[p.pos]
}

func (p *SignatureParser) accept(lit string) bool {
	p.skipSpace()
	if strings.HasPrefix(p.src[p.pos:], lit) {
		p.pos += len(lit)
		return true
	}
	return false
}

func (p *SignatureParser) expect(lit string) error {
	if !p.accept(lit) {
		return p.errorf("expected %q", lit)
	}
	return nil
}

// acceptWord consumes w only when it is followed by a non-identifier byte.
func (p *SignatureParser) acceptWord(w string) bool {
	p.skipSpace()
	rest := p.src[p.pos:]
	if !strings.HasPrefix(rest, w) {
		return false
	}
	if len(rest) > len(w) && isNameByte(rest[len(w)]) {
		return false
	}
	p.pos += len(w)
	return true
}

func (p *SignatureParser) errorf(format string, args ...any) error {
	return fmt.Errorf("signature %q at %d: %s", p.src, p.pos, fmt.Sprintf(format, args...))
}

func isNameByte(c byte) bool {
	return c == '_' || c == '.' || c == '`' || c == '$' || c == '@' || c == '!' || c == '/' ||
		(c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

// ParseName reads an identifier or a quoted name.
func (p *SignatureParser) ParseName() (string, error) {
	p.skipSpace()
	if p.pos < len(p.src) && p.src[p.pos] == '\'' {
		end := strings.IndexByte(p.src[p.pos+1:], '\'')
		if end < 0 {
			return "", p.errorf("unterminated quoted name")
		}
		name := p.src[p.pos+1 : p.pos+1+end]
		p.pos += end + 2
		return name, nil
	}
	start := p.pos
	for p.pos < len(p.src) && isNameByte(p.src[p.pos]) {
		p.pos++
	}
	if p.pos == start {
		return "", p.errorf("expected name")
	}
	return p.src[start:p.pos], nil
}

// ParseType reads a full type reference.
func (p *SignatureParser) ParseType() (TypeData, error) {
	for p.acceptWord("class") || p.acceptWord("valuetype") || p.acceptWord("native") {
	}
	if p.peek() == '[' {
		end := strings.IndexByte(p.src[p.pos:], ']')
		if end < 0 {
			return TypeData{}, p.errorf("unterminated assembly qualifier")
		}
		p.pos += end + 1
	}
	name, err := p.ParseName()
	if err != nil {
		return TypeData{}, err
	}
	if name == "unsigned" {
		inner, err := p.ParseName()
		if err != nil {
			return TypeData{}, err
		}
		name = "u" + ResolveAlias(inner)
	}
	t := TypeData{Name: ResolveAlias(name)}
	if p.pos < len(p.src) && p.src[p.pos] == '<' {
		p.pos++
		for {
			arg, err := p.ParseType()
			if err != nil {
				return TypeData{}, err
			}
			t.Args = append(t.Args, arg)
			if p.accept(",") {
				continue
			}
			if err := p.expect(">"); err != nil {
				return TypeData{}, err
			}
			break
		}
	}
	for p.pos < len(p.src) {
		switch {
		case strings.HasPrefix(p.src[p.pos:], "[]"):
			t.Suffix += "[]"
			p.pos += 2
		case p.src[p.pos] == '&' || p.src[p.pos] == '*':
			t.Suffix += string(p.src[p.pos])
			p.pos++
		default:
			return t, nil
		}
	}
	return t, nil
}

// ParseParams reads "(Type [name], ...)". Names are optional; in a member
// reference only the types are given.
func (p *SignatureParser) ParseParams() ([]Param, error) {
	if err := p.expect("("); err != nil {
		return nil, err
	}
	var out []Param
	if p.accept(")") {
		return out, nil
	}
	for {
		for p.acceptWord("[in]") || p.acceptWord("[out]") {
		}
		t, err := p.ParseType()
		if err != nil {
			return nil, err
		}
		param := Param{Type: t}
		if c := p.peek(); c != ',' && c != ')' {
			if param.Name, err = p.ParseName(); err != nil {
				return nil, err
			}
		}
		out = append(out, param)
		if p.accept(",") {
			continue
		}
		if err := p.expect(")"); err != nil {
			return nil, err
		}
		return out, nil
	}
}

// ParseType parses a standalone type reference.
func ParseType(s string) (TypeData, error) {
	p := NewSignatureParser(s)
	t, err := p.ParseType()
	if err != nil {
		return t, err
	}
	if !p.EOF() {
		return t, p.errorf("unexpected %q", p.Rest())
	}
	return t, nil
}

// MemberRef is the operand of call, callvirt, newobj and the field
// instructions. Class is empty for classless slot signatures.
type MemberRef struct {
	HasThis  bool
	Type     TypeData
	Class    TypeData
	Name     string
	Args     []TypeData
	IsMethod bool
}

// Signature returns the method key "Ret Class::Name(args)" or the field key
// "Type Class::Name".
func (m MemberRef) Signature() string {
	if m.IsMethod {
		if m.Class.Name == "" {
			return m.Type.String() + " " + SlotSignature(m.Name, m.Args)
		}
		return MethodSignature(m.Type, m.Class, m.Name, m.Args)
	}
	return m.Type.String() + " " + FieldKey(m.Class, m.Name)
}

// SlotSignature returns the classless "Name(args)".
func (m MemberRef) SlotSignature() string { return SlotSignature(m.Name, m.Args) }

func (m MemberRef) String() string { return m.Signature() }

// Substitute resolves generic parameters in the member's types.
func (m MemberRef) Substitute(params map[string]TypeData) MemberRef {
	out := m
	out.Type = m.Type.Substitute(params)
	out.Class = m.Class.Substitute(params)
	out.Args = make([]TypeData, len(m.Args))
	for i, a := range m.Args {
		out.Args[i] = a.Substitute(params)
	}
	return out
}

// ParseMemberRef parses "[instance] Ret Class::Name(Args)" for methods and
// "Type Class::Name" for fields.
func ParseMemberRef(s string) (MemberRef, error) {
	p := NewSignatureParser(s)
	var m MemberRef
	m.HasThis = p.acceptWord("instance")
	p.acceptWord("explicit")
	t, err := p.ParseType()
	if err != nil {
		return m, err
	}
	m.Type = t
	owner, err := p.ParseType()
	if err != nil {
		return m, err
	}
	if p.accept("::") {
		m.Class = owner
		if m.Name, err = p.ParseName(); err != nil {
			return m, err
		}
	} else {
		m.Name = owner.String()
	}
	if p.peek() == '(' {
		params, err := p.ParseParams()
		if err != nil {
			return m, err
		}
		m.IsMethod = true
		m.Args = paramTypes(params)
	}
	if !p.EOF() {
		return m, p.errorf("unexpected %q", p.Rest())
	}
	return m, nil
}
