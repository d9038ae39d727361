package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"sbc/pkg/compiler"
	"sbc/pkg/cpu"
)

const helloSource = `
.class public Program extends System.Object {
	.method public static int32 Main() {
		.entrypoint
		ldstr "hi"
		call void System.Console::WriteLine(string)
		ldc.i4.7
		ret
	}
}
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

func TestCompileAndRun(t *testing.T) {
	dir := t.TempDir()
	src := writeFile(t, dir, "hello.il", helloSource)

	var out bytes.Buffer
	err := run(options{run: true}, []string{src}, &out)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if !strings.HasPrefix(out.String(), "hi\n") {
		t.Errorf("output = %q; want it to start with the program output", out.String())
	}
	if !strings.Contains(out.String(), "returned 7") {
		t.Errorf("output = %q; want the return value", out.String())
	}
}

func TestWriteImageThenRunIt(t *testing.T) {
	dir := t.TempDir()
	src := writeFile(t, dir, "hello.il", helloSource)
	image := filepath.Join(dir, "hello.sbi")
	mif := filepath.Join(dir, "hello.mif")

	var out bytes.Buffer
	if err := run(options{image: image, mif: mif}, []string{src}, &out); err != nil {
		t.Fatalf("compile failed: %v", err)
	}
	text, err := os.ReadFile(mif)
	if err != nil {
		t.Fatalf("read mif: %v", err)
	}
	if !strings.HasSuffix(strings.TrimSpace(string(text)), "END;") {
		t.Errorf("mif does not end with END;")
	}

	out.Reset()
	if err := run(options{loadImage: image, run: true}, nil, &out); err != nil {
		t.Fatalf("run image failed: %v", err)
	}
	if !strings.Contains(out.String(), "returned 7") {
		t.Errorf("output = %q; want the return value", out.String())
	}
}

func TestConfigFileMovesLayout(t *testing.T) {
	dir := t.TempDir()
	src := writeFile(t, dir, "hello.il", helloSource)
	cfgPath := writeFile(t, dir, "layout.toml", "steps_per_run = 50\n")
	image := filepath.Join(dir, "hello.sbi")

	var out bytes.Buffer
	if err := run(options{config: cfgPath, image: image}, []string{src}, &out); err != nil {
		t.Fatalf("compile failed: %v", err)
	}
	data, err := os.ReadFile(image)
	if err != nil {
		t.Fatalf("read image: %v", err)
	}
	comp, err := compiler.UnmarshalImage(data)
	if err != nil {
		t.Fatalf("unmarshal image: %v", err)
	}
	if comp.Config.StepsPerRun != 50 {
		t.Errorf("StepsPerRun = %d; want 50", comp.Config.StepsPerRun)
	}
}

func TestStepLimitWritesSnapshot(t *testing.T) {
	dir := t.TempDir()
	src := writeFile(t, dir, "spin.il", `
.class public Program extends System.Object {
	.method public static void Main() {
		.entrypoint
	spin:
		br.s spin
	}
}
`)
	snap := filepath.Join(dir, "spin.zip")

	var out bytes.Buffer
	err := run(options{run: true, snapshot: snap, bare: true}, []string{src}, &out)
	if !errors.Is(err, cpu.ErrStepLimit) {
		t.Fatalf("err = %v; want step limit", err)
	}
	if _, err := os.Stat(snap); err != nil {
		t.Errorf("snapshot not written: %v", err)
	}
}

func TestNothingToDo(t *testing.T) {
	err := run(options{}, nil, &bytes.Buffer{})
	if !errors.Is(err, errUsage) {
		t.Fatalf("err = %v; want usage error", err)
	}
}
