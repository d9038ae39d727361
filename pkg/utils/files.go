package utils

import (
	"fmt"
	"os"
	"path/filepath"

	"sbc/lib"
	"sbc/pkg/compiler"
	"sbc/pkg/cpu"
)

func GetPathInfo(relPath string) (fullPath string, parentDir string, err error) {
	// Convert to absolute path (resolves ../../ and cleans the path)
	fullPath, err = filepath.Abs(relPath)
	if err != nil {
		return "", "", err
	}

	// Get the directory containing the file
	parentDir = filepath.Dir(fullPath)

	return fullPath, parentDir, nil
}

// SourceFile is a compilation unit read from disk. Name is the path as
// given; Dir resolves includes.
type SourceFile struct {
	Name string
	Dir  string
	Text string
}

// ReadSources reads every path in order.
func ReadSources(paths []string) ([]SourceFile, error) {
	out := make([]SourceFile, 0, len(paths))
	for _, p := range paths {
		full, dir, err := GetPathInfo(p)
		if err != nil {
			return nil, err
		}
		data, err := os.ReadFile(full)
		if err != nil {
			return nil, fmt.Errorf("read source: %w", err)
		}
		out = append(out, SourceFile{Name: p, Dir: dir, Text: string(data)})
	}
	return out, nil
}

// Build compiles the sources, preceded by the embedded runtime unless
// bare is set.
func Build(cfg cpu.Config, bare bool, sources []SourceFile) (*compiler.Compilation, error) {
	c := compiler.New(cfg)
	if !bare {
		if err := c.Load(lib.RuntimeName, lib.Runtime, "."); err != nil {
			return nil, err
		}
	}
	for _, src := range sources {
		if err := c.Load(src.Name, src.Text, src.Dir); err != nil {
			return nil, err
		}
	}
	return c.Compile()
}
