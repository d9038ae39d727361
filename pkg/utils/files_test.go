package utils

import (
	"os"
	"path/filepath"
	"testing"

	"sbc/pkg/cpu"
)

func TestReadSourcesAndBuild(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "consts.il"), []byte(".alias ANSWER 42\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	main := filepath.Join(dir, "main.il")
	src := `.include "consts.il"
.class public Program extends System.Object {
	.method public static int32 Main() {
		.entrypoint
		ldc.i4 ANSWER
		ret
	}
}
`
	if err := os.WriteFile(main, []byte(src), 0o644); err != nil {
		t.Fatal(err)
	}

	files, err := ReadSources([]string{main})
	if err != nil {
		t.Fatalf("ReadSources failed: %v", err)
	}
	if files[0].Dir != dir {
		t.Errorf("Dir = %q; want %q", files[0].Dir, dir)
	}

	comp, err := Build(cpu.DefaultConfig(), true, files)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if comp.Method("int32 Program::Main()") == nil {
		t.Errorf("Main missing from method table")
	}
	if comp.Method("void System.Console::WriteLine(string)") != nil {
		t.Errorf("bare build linked the runtime")
	}
}

func TestReadSourcesMissing(t *testing.T) {
	if _, err := ReadSources([]string{filepath.Join(t.TempDir(), "nope.il")}); err == nil {
		t.Fatal("expected an error for a missing file")
	}
}
