package artifact

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSaveAndLoadText(t *testing.T) {
	s := NewStore(t.TempDir())

	p, err := s.SaveText(7, "diff.patch", "diff --git a/x b/x\n")
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if p != filepath.Join(s.JobDir(7), "diff.patch") {
		t.Errorf("path = %q", p)
	}
	got, err := s.Load(7, "diff.patch")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got != "diff --git a/x b/x\n" {
		t.Errorf("content = %q", got)
	}
}

func TestPathStaysInJobDir(t *testing.T) {
	s := NewStore("/artifacts")
	for _, name := range []string{"../../etc/passwd", "/abs/plan.json", "a/b/c.txt"} {
		p := s.Path(3, name)
		if filepath.Dir(p) != "/artifacts/job-3" {
			t.Errorf("Path(%q) = %q escapes job dir", name, p)
		}
	}
}

func TestSaveJSON(t *testing.T) {
	s := NewStore(t.TempDir())
	p, err := s.SaveJSON(1, "plan", map[string]string{"intent": "fix"})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if !strings.HasSuffix(p, "plan.json") {
		t.Errorf("path = %q, want .json suffix", p)
	}

	data, err := s.Load(1, "plan.json")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	var got map[string]string
	if err := json.Unmarshal([]byte(data), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got["intent"] != "fix" {
		t.Errorf("intent = %q", got["intent"])
	}
}

func TestList(t *testing.T) {
	s := NewStore(t.TempDir())

	names, err := s.List(9)
	if err != nil || names != nil {
		t.Fatalf("missing dir: %v, %v", names, err)
	}

	s.SaveText(9, "a.txt", "a")
	s.SaveJSON(9, "b", 1)
	os.WriteFile(filepath.Join(s.JobDir(9), ".tmp-123"), nil, 0o644)

	names, err = s.List(9)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(names) != 2 || names[0] != "a.txt" || names[1] != "b.json" {
		t.Errorf("names = %v", names)
	}
}

func TestWriteAtomicLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "out.json")
	if err := WriteJSON(path, []int{1, 2}); err != nil {
		t.Fatalf("write: %v", err)
	}
	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Errorf("expected only out.json, got %d entries", len(entries))
	}
	data, _ := os.ReadFile(path)
	if !strings.HasSuffix(string(data), "]\n") {
		t.Errorf("expected trailing newline, got %q", data)
	}
}
