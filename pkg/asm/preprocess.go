package asm

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Preprocess strips comments, splices `.include "file"` directives and
// applies `.alias Name Replacement` substitutions. Included files are
// resolved relative to the including file first, then to the working
// directory. Each file is included at most once and include cycles are
// reported. Removed lines are kept as blank lines so line numbers of the
// top-level source stay stable.
func Preprocess(src string, baseDir string) (string, error) {
	aliases := make(map[string]string)
	return preprocessRecursive(src, baseDir, make(map[string]bool), make(map[string]bool), aliases)
}

func preprocessRecursive(src string, baseDir string, visitedStack map[string]bool, alreadyProcessed map[string]bool, aliases map[string]string) (string, error) {
	lines := strings.Split(src, "\n")
	var result strings.Builder

	for _, line := range lines {
		trimmed := strings.TrimSpace(collapseSpace(stripComments(line)))

		if hasDirective(trimmed, ".alias") {
			fields := strings.Fields(trimmed)
			if len(fields) != 3 {
				return "", fmt.Errorf("invalid alias directive: %s", line)
			}
			aliases[fields[1]] = applyAliases(fields[2], aliases)
			result.WriteString("\n")
			continue
		}

		if hasDirective(trimmed, ".include") {
			parts := strings.SplitN(trimmed, "\"", 3)
			if len(parts) < 3 {
				return "", fmt.Errorf("invalid include directive: %s", line)
			}
			filename := parts[1]

			fullPath := filepath.Join(baseDir, filename)
			if _, err := os.Stat(fullPath); os.IsNotExist(err) {
				if cwdPath, absErr := filepath.Abs(filename); absErr == nil {
					if _, err := os.Stat(cwdPath); err == nil {
						fullPath = cwdPath
					}
				}
			}

			absPath, err := filepath.Abs(fullPath)
			if err != nil {
				return "", err
			}
			if visitedStack[absPath] {
				return "", fmt.Errorf("circular include detected: %s", filename)
			}
			if alreadyProcessed[absPath] {
				result.WriteString("\n")
				continue
			}
			alreadyProcessed[absPath] = true

			content, err := os.ReadFile(fullPath)
			if err != nil {
				return "", fmt.Errorf("failed to read included file %s (path: %s): %w", filename, fullPath, err)
			}

			newStack := make(map[string]bool, len(visitedStack)+1)
			for k, v := range visitedStack {
				newStack[k] = v
			}
			newStack[absPath] = true

			processed, err := preprocessRecursive(string(content), filepath.Dir(fullPath), newStack, alreadyProcessed, aliases)
			if err != nil {
				return "", err
			}
			result.WriteString(processed)
			result.WriteString("\n")
			continue
		}

		result.WriteString(applyAliases(trimmed, aliases))
		result.WriteString("\n")
	}
	return result.String(), nil
}

func hasDirective(line, directive string) bool {
	if !strings.HasPrefix(strings.ToLower(line), directive) {
		return false
	}
	return len(line) == len(directive) || line[len(directive)] == ' '
}

// stripComments removes // comments that are not inside a string literal.
func stripComments(line string) string {
	inString := false
	for i := 0; i < len(line); i++ {
		switch line[i] {
		case '\\':
			if inString {
				i++
			}
		case '"':
			inString = !inString
		case '/':
			if !inString && i+1 < len(line) && line[i+1] == '/' {
				return line[:i]
			}
		}
	}
	return line
}

// collapseSpace turns runs of blanks outside string literals into one space.
func collapseSpace(line string) string {
	var sb strings.Builder
	inString, blank := false, false
	for i := 0; i < len(line); i++ {
		c := line[i]
		if !inString && (c == ' ' || c == '\t' || c == '\r') {
			blank = true
			continue
		}
		if blank {
			sb.WriteByte(' ')
			blank = false
		}
		if c == '"' && (i == 0 || line[i-1] != '\\') {
			inString = !inString
		}
		sb.WriteByte(c)
	}
	return sb.String()
}

func isAliasByte(c byte) bool {
	return c == '_' || c == '.' || c == '`' || c == '$' ||
		(c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

// applyAliases replaces whole names outside string literals. A name is a run
// of identifier bytes including '.', so "Foo" does not match "Foo.Bar".
func applyAliases(input string, aliases map[string]string) string {
	if len(aliases) == 0 {
		return input
	}
	var sb strings.Builder
	n := len(input)
	for i := 0; i < n; {
		c := input[i]
		if c == '"' {
			sb.WriteByte(c)
			i++
			for i < n {
				ch := input[i]
				sb.WriteByte(ch)
				i++
				if ch == '\\' && i < n {
					sb.WriteByte(input[i])
					i++
				} else if ch == '"' {
					break
				}
			}
			continue
		}
		if isAliasByte(c) {
			start := i
			for i < n && isAliasByte(input[i]) {
				i++
			}
			word := input[start:i]
			if repl, ok := aliases[word]; ok {
				sb.WriteString(repl)
			} else {
				sb.WriteString(word)
			}
			continue
		}
		sb.WriteByte(c)
		i++
	}
	return sb.String()
}
