// Command sbcdump prints every stage of compiling one source file: the
// preprocessed text, the parsed declarations, the method table with a
// disassembly annotated by source line, and the linked labels.
package main

import (
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"

	"sbc/pkg/asm"
	"sbc/pkg/compiler"
	"sbc/pkg/cpu"
	"sbc/pkg/utils"
)

const testSource = `.class public Program extends System.Object {
	.method public static int32 Main() {
		.entrypoint
		ldc.i4.s 42
		ret
	}
}
`

func main() {
	bare := flag.Bool("bare", false, "do not link the embedded runtime library")
	flag.Parse()

	src := utils.SourceFile{Name: "<builtin>", Dir: ".", Text: testSource}
	if flag.NArg() > 0 {
		files, err := utils.ReadSources(flag.Args()[:1])
		if err != nil {
			fmt.Fprintln(os.Stderr, "read error:", err)
			os.Exit(1)
		}
		src = files[0]
	}

	// Preprocess
	pre, err := asm.Preprocess(src.Text, src.Dir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "preprocess error:", err)
		os.Exit(1)
	}
	fmt.Printf("Source:\n%s\n", pre)

	// Parse
	unit, err := asm.Parse(src.Name, pre)
	if err != nil {
		fmt.Fprintln(os.Stderr, "parse error:", err)
		os.Exit(1)
	}
	fmt.Println("Declarations")
	for _, cls := range unit.Classes {
		printClass(cls)
	}
	fmt.Println()

	// Compile and link
	comp, err := utils.Build(cpu.DefaultConfig(), *bare, []utils.SourceFile{src})
	if err != nil {
		fmt.Fprintln(os.Stderr, "compile error:", err)
		os.Exit(1)
	}

	fmt.Println("Methods")
	for i := range comp.Methods {
		printMethod(comp, &comp.Methods[i])
	}
	fmt.Println()

	fmt.Println("Labels")
	names := make([]string, 0, len(comp.Labels))
	for name := range comp.Labels {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		v, _ := comp.Label(name)
		fmt.Printf("  %-48s 0x%06X\n", name, v)
	}
	fmt.Printf("\n%d instructions in %d words, %d constant words at 0x%X, %d static words\n",
		len(comp.Opcodes), comp.ExecutableSize, len(comp.ConstData), comp.ConstStart, comp.StaticDataCount)
}

func printClass(cls *asm.ClassDecl) {
	header := cls.Name.String()
	if cls.IsGeneric() {
		header += "<" + strings.Join(cls.TypeParams, ",") + ">"
	}
	if cls.Extends != nil {
		header += " : " + cls.Extends.String()
	}
	fmt.Println(" ", header)
	for _, f := range cls.Fields {
		fmt.Println("    field ", f.Signature())
	}
	for _, m := range cls.Methods {
		fmt.Printf("    method %s (%d instructions)\n", m.Signature(), len(m.Body))
	}
}

func printMethod(comp *compiler.Compilation, md *compiler.MethodData) {
	base := comp.Config.ExecutableStart * comp.Config.SlotsPerWord
	fmt.Printf("  %s [%d, %d) frame %d\n", md.Signature, md.AddrIdx, md.End, md.FrameSize)
	if len(md.FrameItems) > 0 {
		fmt.Printf("    frame: %s\n", strings.Join(md.FrameItems, " "))
	}
	var last compiler.SourceLine
	for _, l := range cpu.Disassemble(comp.Config, comp.Memory(), base+md.AddrIdx, base+md.End) {
		if line, ok := comp.LineAt(l.AddrIdx); ok && line != last {
			if line.Line != 0 {
				fmt.Printf("    ; %d: %s\n", line.Line, line.Text)
			}
			last = line
		}
		fmt.Printf("    %6d  %s\n", l.AddrIdx, l)
	}
}
