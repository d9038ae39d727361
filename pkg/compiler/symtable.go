package compiler

import (
	"sort"

	"sbc/pkg/asm"
)

// SymbolTable maps signatures to declarations. Every table is keyed by the
// canonical printed form, and a later registration under the same key
// replaces the earlier one, so a program can override library members.
type SymbolTable struct {
	Methods      map[string]*asm.MethodDecl
	Classes      map[string]*asm.ClassDecl
	Templates    map[string]*asm.ClassDecl
	StaticFields map[string]*asm.FieldDecl

	order []*asm.MethodDecl
}

func NewSymbolTable() *SymbolTable {
	return &SymbolTable{
		Methods:      make(map[string]*asm.MethodDecl),
		Classes:      make(map[string]*asm.ClassDecl),
		Templates:    make(map[string]*asm.ClassDecl),
		StaticFields: make(map[string]*asm.FieldDecl),
	}
}

// AddClass registers a class with its methods and static fields. Generic
// classes are kept as templates until a concrete instance is referenced.
func (s *SymbolTable) AddClass(cls *asm.ClassDecl) {
	if cls.IsGeneric() {
		s.Templates[cls.Name.String()] = cls
		return
	}
	s.Classes[cls.Name.String()] = cls
	for _, m := range cls.Methods {
		s.Methods[m.Signature()] = m
		s.order = append(s.order, m)
	}
	for _, f := range cls.Fields {
		if f.IsStatic() {
			s.StaticFields[asm.FieldKey(cls.Name, f.Name)] = f
		}
	}
}

// Method returns the live declaration for a signature.
func (s *SymbolTable) Method(sig string) *asm.MethodDecl { return s.Methods[sig] }

// Class returns the class registered under a canonical type name.
func (s *SymbolTable) Class(name string) *asm.ClassDecl { return s.Classes[name] }

// MethodList returns the live methods in registration order, skipping
// declarations that were later overridden.
func (s *SymbolTable) MethodList() []*asm.MethodDecl {
	var out []*asm.MethodDecl
	seen := make(map[*asm.MethodDecl]bool)
	for _, m := range s.order {
		if s.Methods[m.Signature()] == m && !seen[m] {
			seen[m] = true
			out = append(out, m)
		}
	}
	return out
}

// Signatures lists every method signature, sorted.
func (s *SymbolTable) Signatures() []string {
	out := make([]string, 0, len(s.Methods))
	for sig := range s.Methods {
		out = append(out, sig)
	}
	sort.Strings(out)
	return out
}
