// Package safety checks that a proposed file rewrite keeps the file's
// structure intact and stays within a small change budget.
package safety

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

// DefaultMaxChangedLines is the default change budget.
const DefaultMaxChangedLines = 25

// DefaultDenylist holds destructive fragments rejected anywhere in new content.
var DefaultDenylist = []string{
	"rm -rf",
	"drop table",
	"alter user",
	"delete from",
	"truncate",
	"chmod 777",
}

// Result is the verdict for one file.
type Result struct {
	Passed       bool   `json:"passed"`
	Reason       string `json:"reason,omitempty"`
	ChangedLines int    `json:"changed_lines"`
	// Parsed is true when both versions parsed with a registered parser.
	Parsed bool `json:"parsed"`
	// Structural is true when imports and top-level declarations match.
	Structural bool `json:"structural"`
}

// Decl is a top-level declaration: a name and its kind.
type Decl struct {
	Name string
	Kind string
}

// Structure is what a SourceParser extracts from a file.
type Structure struct {
	Imports []string
	Decls   []Decl
}

// SourceParser extracts the structure of one language.
type SourceParser interface {
	Parse(path, src string) (Structure, error)
}

// Verifier checks proposed rewrites.
type Verifier struct {
	maxChanged int
	denylist   []string
	parsers    map[string]SourceParser
}

// NewVerifier returns a Verifier with the Go and Python parsers registered. A
// non-positive maxChanged uses DefaultMaxChangedLines; a nil denylist uses
// DefaultDenylist.
func NewVerifier(maxChanged int, denylist []string) *Verifier {
	if maxChanged <= 0 {
		maxChanged = DefaultMaxChangedLines
	}
	if denylist == nil {
		denylist = DefaultDenylist
	}
	v := &Verifier{maxChanged: maxChanged, parsers: make(map[string]SourceParser)}
	for _, d := range denylist {
		v.denylist = append(v.denylist, strings.ToLower(d))
	}
	v.Register(".go", GoParser{})
	v.Register(".py", PythonParser{})
	return v
}

// Register binds a parser to a file extension such as ".py".
func (v *Verifier) Register(ext string, p SourceParser) {
	v.parsers[strings.ToLower(ext)] = p
}

// MaxChangedLines returns the change budget.
func (v *Verifier) MaxChangedLines() int { return v.maxChanged }

// Verify checks newSrc against oldSrc. Files with no registered parser fail.
func (v *Verifier) Verify(path, oldSrc, newSrc string) Result {
	if strings.TrimSpace(newSrc) == "" {
		return Result{Reason: "new content is empty"}
	}

	lower := strings.ToLower(newSrc)
	for _, d := range v.denylist {
		if strings.Contains(lower, d) {
			return Result{Reason: fmt.Sprintf("destructive content %q", d)}
		}
	}

	p, ok := v.parsers[strings.ToLower(filepath.Ext(path))]
	if !ok {
		return Result{Reason: fmt.Sprintf("no structural parser for %s", path)}
	}
	before, err := p.Parse(path, oldSrc)
	if err != nil {
		return Result{Reason: fmt.Sprintf("original does not parse: %v", err)}
	}
	after, err := p.Parse(path, newSrc)
	if err != nil {
		return Result{Reason: fmt.Sprintf("proposal does not parse: %v", err)}
	}

	if diff := setDiff(before.Imports, after.Imports); diff != "" {
		return Result{Parsed: true, Reason: "imports changed: " + diff}
	}
	if diff := setDiff(declKeys(before.Decls), declKeys(after.Decls)); diff != "" {
		return Result{Parsed: true, Reason: "top-level declarations changed: " + diff}
	}

	n := ChangedLines(oldSrc, newSrc)
	if n > v.maxChanged {
		return Result{Parsed: true, Structural: true, ChangedLines: n, Reason: fmt.Sprintf("%d changed lines exceeds budget of %d", n, v.maxChanged)}
	}
	return Result{Passed: true, Parsed: true, Structural: true, ChangedLines: n}
}

// ChangedLines counts added plus removed lines between a and b.
func ChangedLines(a, b string) int {
	m := difflib.NewMatcher(difflib.SplitLines(a), difflib.SplitLines(b))
	n := 0
	for _, op := range m.GetOpCodes() {
		switch op.Tag {
		case 'r':
			n += (op.I2 - op.I1) + (op.J2 - op.J1)
		case 'd':
			n += op.I2 - op.I1
		case 'i':
			n += op.J2 - op.J1
		}
	}
	return n
}

func declKeys(decls []Decl) []string {
	out := make([]string, len(decls))
	for i, d := range decls {
		out[i] = d.Kind + " " + d.Name
	}
	return out
}

// setDiff describes the symmetric difference of two string sets, or "".
func setDiff(a, b []string) string {
	inA := make(map[string]bool, len(a))
	for _, s := range a {
		inA[s] = true
	}
	inB := make(map[string]bool, len(b))
	for _, s := range b {
		inB[s] = true
	}
	var removed, added []string
	for s := range inA {
		if !inB[s] {
			removed = append(removed, s)
		}
	}
	for s := range inB {
		if !inA[s] {
			added = append(added, s)
		}
	}
	if len(removed) == 0 && len(added) == 0 {
		return ""
	}
	sort.Strings(removed)
	sort.Strings(added)
	var parts []string
	if len(removed) > 0 {
		parts = append(parts, "removed "+strings.Join(removed, ", "))
	}
	if len(added) > 0 {
		parts = append(parts, "added "+strings.Join(added, ", "))
	}
	return strings.Join(parts, "; ")
}
