// Package testcase extracts literate end-to-end test cases from Markdown.
//
// A test starts at a heading "Test: name". It holds exactly one program
// fence (language "il") and any number of assertion fences:
//
//	returns        the entry point's int32 result
//	output         exact text written to the output cell
//	compile-error  substring of the compile error
//	runtime-error  substring of the runtime fault
//	opcodes        exact instruction count of the linked program
//	input          characters queued for the input cell (not an assertion)
//
// A test with compile-error or opcodes may have no runtime assertion.
package testcase

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// ProgramFence is the fence language of a test's program.
const ProgramFence = "il"

// AssertionType is the fence language of an assertion.
type AssertionType string

const (
	Returns      AssertionType = "returns"
	Output       AssertionType = "output"
	CompileError AssertionType = "compile-error"
	RuntimeError AssertionType = "runtime-error"
	Opcodes      AssertionType = "opcodes"

	inputFence = "input"
)

var assertionTypes = map[string]AssertionType{
	string(Returns):      Returns,
	string(Output):       Output,
	string(CompileError): CompileError,
	string(RuntimeError): RuntimeError,
	string(Opcodes):      Opcodes,
}

// Assertion is one expectation of a test case.
type Assertion struct {
	Type    AssertionType
	Content string
	Line    int
}

// TestCase is one program with its expectations.
type TestCase struct {
	Name       string
	Program    string
	Input      string
	Line       int
	Assertions []Assertion
}

// Assertion returns the first assertion of the given type.
func (tc *TestCase) Assertion(typ AssertionType) (Assertion, bool) {
	for _, a := range tc.Assertions {
		if a.Type == typ {
			return a, true
		}
	}
	return Assertion{}, false
}

// Extract parses a Markdown document into its test cases. Fences outside a
// test must have no language.
func Extract(markdown string) ([]TestCase, error) {
	source := []byte(markdown)
	doc := goldmark.New().Parser().Parse(text.NewReader(source))

	var (
		cases   []TestCase
		current *TestCase
	)
	finish := func() error {
		if current == nil {
			return nil
		}
		if err := validate(current); err != nil {
			return err
		}
		cases = append(cases, *current)
		current = nil
		return nil
	}

	err := ast.Walk(doc, func(node ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch n := node.(type) {
		case *ast.Heading:
			heading := nodeText(n, source)
			if !strings.HasPrefix(heading, "Test: ") {
				return ast.WalkContinue, nil
			}
			if err := finish(); err != nil {
				return ast.WalkStop, err
			}
			current = &TestCase{Name: strings.TrimPrefix(heading, "Test: "), Line: lineNumber(n, source)}

		case *ast.FencedCodeBlock:
			lang := string(n.Language(source))
			line := lineNumber(n, source)
			if current == nil {
				if lang != "" {
					return ast.WalkStop, fmt.Errorf("line %d: %q fence outside of a test", line, lang)
				}
				return ast.WalkContinue, nil
			}
			content := fenceContent(n, source)
			switch typ, isAssertion := assertionTypes[lang]; {
			case lang == ProgramFence:
				if current.Program != "" {
					return ast.WalkStop, fmt.Errorf("line %d: test %q has more than one program", line, current.Name)
				}
				current.Program = content
			case lang == inputFence:
				current.Input += content
			case isAssertion:
				current.Assertions = append(current.Assertions, Assertion{
					Type:    typ,
					Content: strings.TrimRight(content, "\n"),
					Line:    line,
				})
			case lang == "":
			default:
				return ast.WalkStop, fmt.Errorf("line %d: unknown fence %q in test %q", line, lang, current.Name)
			}
		}
		return ast.WalkContinue, nil
	})
	if err != nil {
		return nil, fmt.Errorf("testcase: %w", err)
	}
	if err := finish(); err != nil {
		return nil, fmt.Errorf("testcase: %w", err)
	}
	return cases, nil
}

func validate(tc *TestCase) error {
	if tc.Program == "" {
		return fmt.Errorf("line %d: test %q has no program", tc.Line, tc.Name)
	}
	if len(tc.Assertions) == 0 {
		return fmt.Errorf("line %d: test %q has no assertions", tc.Line, tc.Name)
	}
	_, compileFails := tc.Assertion(CompileError)
	for _, a := range tc.Assertions {
		if compileFails && a.Type != CompileError {
			return fmt.Errorf("line %d: test %q expects a compile error and a %s", a.Line, tc.Name, a.Type)
		}
	}
	return nil
}

func nodeText(node ast.Node, source []byte) string {
	var buf bytes.Buffer
	_ = ast.Walk(node, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if t, ok := n.(*ast.Text); ok && entering {
			buf.Write(t.Segment.Value(source))
		}
		return ast.WalkContinue, nil
	})
	return buf.String()
}

func fenceContent(block *ast.FencedCodeBlock, source []byte) string {
	var buf bytes.Buffer
	lines := block.Lines()
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		buf.Write(seg.Value(source))
	}
	return buf.String()
}

func lineNumber(node ast.Node, source []byte) int {
	start := 0
	if node.Lines().Len() > 0 {
		start = node.Lines().At(0).Start
	}
	if start > len(source) {
		start = len(source)
	}
	return 1 + bytes.Count(source[:start], []byte{'\n'})
}
