// Package facts gathers read-only information about a checked-out
// repository: its stack, its file inventory and the most likely fix target
// for a job prompt.
package facts

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Resolution records how a fix target was found.
type Resolution string

const (
	ResolvedByTrace   Resolution = "trace"
	ResolvedByKeyword Resolution = "keyword"
)

// Target is the file (and optionally function) a fix should touch.
type Target struct {
	Path       string     `json:"path"`
	Function   string     `json:"function,omitempty"`
	Line       int        `json:"line,omitempty"`
	Resolution Resolution `json:"resolution"`
}

// Facts is the repository snapshot consulted by planning and auditing.
type Facts struct {
	Root          string   `json:"root"`
	Stack         string   `json:"stack"`
	Files         []string `json:"files"`
	HasTests      bool     `json:"has_tests"`
	HasReadme     bool     `json:"has_readme"`
	HasEnvExample bool     `json:"has_env_example"`
	Target        *Target  `json:"target,omitempty"`
	// BlastRadius is the number of other files that transitively call the
	// target function. Zero when no function was resolved.
	BlastRadius int `json:"blast_radius"`
}

// Provider gathers facts for a repository checkout.
type Provider interface {
	Gather(ctx context.Context, root, prompt string) (Facts, error)
}

// Scanner is the filesystem-backed Provider.
type Scanner struct {
	// MaxFiles caps the inventory; zero means 5000.
	MaxFiles int
}

// skipDirs are never descended into.
var skipDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	"vendor":       true,
	".venv":        true,
	"venv":         true,
	"__pycache__":  true,
	"dist":         true,
	"build":        true,
}

// stackMarkers map a root-level file to the stack it implies. Checked in order.
var stackMarkers = []struct {
	file  string
	stack string
}{
	{"go.mod", "go"},
	{"package.json", "node"},
	{"pyproject.toml", "python"},
	{"requirements.txt", "python"},
	{"setup.py", "python"},
	{"Cargo.toml", "rust"},
}

// Gather walks root and resolves a fix target for prompt.
func (s *Scanner) Gather(ctx context.Context, root, prompt string) (Facts, error) {
	max := s.MaxFiles
	if max <= 0 {
		max = 5000
	}
	f := Facts{Root: root, Stack: "unknown"}

	for _, m := range stackMarkers {
		if _, err := os.Stat(filepath.Join(root, m.file)); err == nil {
			f.Stack = m.stack
			break
		}
	}

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() {
			if path != root && (skipDirs[d.Name()] || strings.HasPrefix(d.Name(), ".")) {
				return filepath.SkipDir
			}
			return nil
		}
		if len(f.Files) >= max {
			return filepath.SkipAll
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		f.Files = append(f.Files, rel)
		return nil
	})
	if err != nil {
		return Facts{}, fmt.Errorf("scan %s: %w", root, err)
	}
	sort.Strings(f.Files)

	for _, rel := range f.Files {
		base := strings.ToLower(filepath.Base(rel))
		switch {
		case base == "readme.md" || base == "readme":
			f.HasReadme = true
		case base == ".env.example":
			f.HasEnvExample = true
		case isTestFile(rel):
			f.HasTests = true
		}
	}

	f.Target = ResolveTarget(root, prompt, f.Files)
	if f.Target != nil && f.Target.Function != "" && strings.HasSuffix(f.Target.Path, ".go") {
		n, err := BlastRadius(root, f.Files, f.Target.Path, f.Target.Function)
		if err != nil {
			return Facts{}, fmt.Errorf("blast radius: %w", err)
		}
		f.BlastRadius = n
	}
	return f, nil
}

func isTestFile(rel string) bool {
	base := filepath.Base(rel)
	switch {
	case strings.HasSuffix(base, "_test.go"):
		return true
	case strings.HasPrefix(base, "test_") && strings.HasSuffix(base, ".py"):
		return true
	case strings.Contains(base, ".test.") || strings.Contains(base, ".spec."):
		return true
	}
	return false
}

// dedupe returns a new slice with duplicates removed, preserving order.
func dedupe(items []string) []string {
	seen := make(map[string]bool)
	result := []string{}
	for _, item := range items {
		if !seen[item] {
			seen[item] = true
			result = append(result, item)
		}
	}
	return result
}
