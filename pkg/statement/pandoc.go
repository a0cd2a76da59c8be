// Package statement converts Polygon LaTeX statements to the judge's
// Markdown dialect and ingests their images into media storage.
package statement

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

// Converter turns Polygon-flavored LaTeX into GitHub-flavored Markdown.
type Converter interface {
	TeXToMarkdown(ctx context.Context, tex string) (string, error)
}

// Pandoc is the production Converter, shelling out to the pandoc binary
// with the transformation filter.
type Pandoc struct {
	binary string
}

// minimum supported pandoc major version; older releases lack the Lua
// pandoc.write API the filter uses
const minPandocMajor = 3

// NewPandoc locates pandoc and verifies its version. A missing or too old
// binary is a startup error.
func NewPandoc() (*Pandoc, error) {
	binary, err := exec.LookPath("pandoc")
	if err != nil {
		return nil, fmt.Errorf("pandoc not found in PATH: %w", err)
	}
	major, _, _, err := pandocVersion(binary)
	if err != nil {
		return nil, err
	}
	if major < minPandocMajor {
		return nil, fmt.Errorf("pandoc is too old: need at least %d.0, found major version %d", minPandocMajor, major)
	}
	return &Pandoc{binary: binary}, nil
}

func pandocVersion(binary string) (int, int, int, error) {
	out, err := exec.Command(binary, "--version").Output()
	if err != nil {
		return 0, 0, 0, fmt.Errorf("could not run pandoc --version: %w", err)
	}
	lines := strings.SplitN(string(out), "\n", 2)
	fields := strings.Fields(lines[0])
	if len(fields) < 2 {
		return 0, 0, 0, fmt.Errorf("unexpected pandoc --version output: %q", lines[0])
	}
	parts := strings.Split(fields[1], ".")
	version := make([]int, 3)
	for i := 0; i < len(parts) && i < 3; i++ {
		n, err := strconv.Atoi(parts[i])
		if err != nil {
			return 0, 0, 0, fmt.Errorf("unexpected pandoc version %q: %w", fields[1], err)
		}
		version[i] = n
	}
	return version[0], version[1], version[2], nil
}

// TeXToMarkdown converts one LaTeX fragment. The macro prologue and the Lua
// filter are materialized in a scratch directory for the duration of the
// call.
func (p *Pandoc) TeXToMarkdown(ctx context.Context, tex string) (string, error) {
	dir, err := os.MkdirTemp("", "pandoc")
	if err != nil {
		return "", fmt.Errorf("could not create pandoc scratch directory: %w", err)
	}
	defer os.RemoveAll(dir)

	if err := os.WriteFile(filepath.Join(dir, "input.tex"), []byte(texMacros+tex), 0o644); err != nil {
		return "", fmt.Errorf("could not write pandoc input: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "filter.lua"), []byte(pandocFilter), 0o644); err != nil {
		return "", fmt.Errorf("could not write pandoc filter: %w", err)
	}

	cmd := exec.CommandContext(ctx, p.binary, "--lua-filter=filter.lua", "-t", "gfm", "-o", "output.md", "input.tex")
	cmd.Dir = dir
	if out, err := cmd.CombinedOutput(); err != nil {
		return "", fmt.Errorf("pandoc failed: %w: %s", err, strings.TrimSpace(string(out)))
	}

	md, err := os.ReadFile(filepath.Join(dir, "output.md"))
	if err != nil {
		return "", fmt.Errorf("could not read pandoc output: %w", err)
	}
	return string(md), nil
}
