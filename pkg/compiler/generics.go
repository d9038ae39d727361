package compiler

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"sbc/pkg/asm"
)

var genericParamRe = regexp.MustCompile(`!!?([A-Za-z_][A-Za-z0-9_]*|[0-9]+)`)

// classType maps builtin spellings onto their runtime class so "string"
// and "System.String" share one key.
func classType(t asm.TypeData) asm.TypeData {
	b := t.Bare()
	if name := b.ClassName(); name != b.String() {
		return asm.Type(name)
	}
	return b
}

// classFor finds the class for a type, instantiating a generic template on
// first use. Unknown non-generic names return nil without error.
func (c *Compiler) classFor(t asm.TypeData) (*asm.ClassDecl, error) {
	t = classType(t)
	if cls := c.syms.Class(t.String()); cls != nil {
		return cls, nil
	}
	if len(t.Args) == 0 {
		return nil, nil
	}
	return c.instantiate(t)
}

// typeParams maps both positional and named parameter references of the
// template behind t onto t's arguments.
func (c *Compiler) typeParams(t asm.TypeData) map[string]asm.TypeData {
	params := make(map[string]asm.TypeData, 2*len(t.Args))
	tmpl := c.syms.Templates[t.Name]
	for i, a := range t.Args {
		params[strconv.Itoa(i)] = a
		if tmpl != nil && i < len(tmpl.TypeParams) {
			params[tmpl.TypeParams[i]] = a
		}
	}
	return params
}

// instantiate loads the template text of t.Name with every parameter
// replaced by the printed argument types and registers the result as a
// concrete class named after t.
func (c *Compiler) instantiate(t asm.TypeData) (*asm.ClassDecl, error) {
	tmpl := c.syms.Templates[t.Name]
	if tmpl == nil {
		return nil, fmt.Errorf("unknown generic class %s", t.Name)
	}
	if len(t.Args) != len(tmpl.TypeParams) {
		return nil, fmt.Errorf("generic %s expects %d type arguments, got %d", t.Name, len(tmpl.TypeParams), len(t.Args))
	}
	for _, a := range t.Args {
		if _, ok := a.GenericParam(); ok {
			return nil, fmt.Errorf("cannot instantiate %s with open parameter %s", t.Name, a)
		}
	}

	text, err := instanceText(tmpl, t)
	if err != nil {
		return nil, err
	}
	params := c.typeParams(t)
	var substErr error
	text = replaceOutsideStrings(text, func(tok string) string {
		if strings.HasPrefix(tok, "!!") {
			substErr = fmt.Errorf("generic method parameter %s is not supported", tok)
			return tok
		}
		arg, ok := params[tok[1:]]
		if !ok {
			substErr = fmt.Errorf("unknown type parameter %s in %s", tok, t.Name)
			return tok
		}
		return arg.String()
	})
	if substErr != nil {
		return nil, substErr
	}

	unit, err := asm.Parse(fmt.Sprintf("%s<%s>", tmpl.Unit, t), text)
	if err != nil {
		return nil, err
	}
	if len(unit.Classes) != 1 {
		return nil, defectf("template %s produced %d classes", t.Name, len(unit.Classes))
	}
	cls := unit.Classes[0]
	cls.Name = t
	c.syms.AddClass(cls)
	log.Debugf("instantiated %s", t)
	return cls, nil
}

// replaceOutsideStrings applies genericParamRe to the parts of text that lie
// outside double-quoted literals, so a "!" inside ldstr text stays literal.
func replaceOutsideStrings(text string, repl func(string) string) string {
	var b strings.Builder
	start, quoted := 0, false
	for i := 0; i < len(text); i++ {
		switch {
		case quoted && text[i] == '\\':
			i++
		case text[i] == '"' && quoted:
			b.WriteString(text[start : i+1])
			start, quoted = i+1, false
		case text[i] == '"':
			b.WriteString(genericParamRe.ReplaceAllStringFunc(text[start:i], repl))
			start, quoted = i, true
		}
	}
	if quoted {
		b.WriteString(text[start:])
	} else {
		b.WriteString(genericParamRe.ReplaceAllStringFunc(text[start:], repl))
	}
	return b.String()
}

// instanceText rewrites the template header "Name<T,...>" as the quoted
// instance name so the parser reads it as a plain class.
func instanceText(tmpl *asm.ClassDecl, t asm.TypeData) (string, error) {
	header, body, _ := strings.Cut(tmpl.Template, "\n")
	start := strings.Index(header, tmpl.Name.Name+"<")
	if start < 0 {
		return "", defectf("template header %q lacks %s", header, tmpl.Name.Name)
	}
	depth, end := 0, -1
	for i := start + len(tmpl.Name.Name); i < len(header); i++ {
		switch header[i] {
		case '<':
			depth++
		case '>':
			depth--
		}
		if depth == 0 {
			end = i + 1
			break
		}
	}
	if end < 0 {
		return "", defectf("unbalanced template header %q", header)
	}
	header = header[:start] + "'" + t.String() + "'" + header[end:]
	return header + "\n" + body, nil
}
