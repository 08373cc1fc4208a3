package executor

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/lucasnoah/autotriage/internal/diagnose"
)

var errEmptyPath = errors.New("missing path argument")

// repoPath resolves rel inside dir, refusing absolute paths and escapes.
func repoPath(dir, rel string) (string, error) {
	if rel == "" {
		return "", errEmptyPath
	}
	if filepath.IsAbs(rel) {
		return "", fmt.Errorf("path %q must be relative to the repository", rel)
	}
	clean := filepath.Clean(filepath.FromSlash(rel))
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes the repository", rel)
	}
	if clean == ".git" || strings.HasPrefix(clean, ".git"+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q is inside .git", rel)
	}
	return filepath.Join(dir, clean), nil
}

func createFile(dir, rel, content string) error {
	full, err := repoPath(dir, rel)
	if err != nil {
		return err
	}
	if _, err := os.Stat(full); err == nil {
		return fmt.Errorf("create %s: file exists", rel)
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("mkdir for %s: %w", rel, err)
	}
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		return fmt.Errorf("create %s: %w", rel, err)
	}
	return nil
}

// editFile replaces the first occurrence of find with replace.
func editFile(dir, rel, find, replace string) error {
	full, err := repoPath(dir, rel)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return fmt.Errorf("read %s: %w", rel, err)
	}
	if find == "" || !strings.Contains(string(data), find) {
		return fmt.Errorf("edit %s: %w", rel, diagnose.ErrAnchorNotFound)
	}
	out := strings.Replace(string(data), find, replace, 1)
	if err := os.WriteFile(full, []byte(out), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", rel, err)
	}
	return nil
}

func appendFile(dir, rel, content string) error {
	full, err := repoPath(dir, rel)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("mkdir for %s: %w", rel, err)
	}
	f, err := os.OpenFile(full, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", rel, err)
	}
	defer f.Close()
	if _, err := f.WriteString(content); err != nil {
		return fmt.Errorf("append %s: %w", rel, err)
	}
	return nil
}

func deleteFile(dir, rel string) error {
	full, err := repoPath(dir, rel)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil {
		return fmt.Errorf("delete %s: %w", rel, err)
	}
	return nil
}

func verifyFileExists(dir, rel string) error {
	full, err := repoPath(dir, rel)
	if err != nil {
		return err
	}
	if _, err := os.Stat(full); err != nil {
		return fmt.Errorf("verify %s exists: %w", rel, err)
	}
	return nil
}

// envRefs match environment variable reads in Go, Python and JavaScript.
var envRefs = []*regexp.Regexp{
	regexp.MustCompile(`os\.(?:Getenv|LookupEnv)\("([A-Z][A-Z0-9_]*)"\)`),
	regexp.MustCompile(`os\.environ(?:\.get)?[\[(]["']([A-Z][A-Z0-9_]*)["']`),
	regexp.MustCompile(`os\.getenv\(["']([A-Z][A-Z0-9_]*)["']`),
	regexp.MustCompile(`process\.env\.([A-Z][A-Z0-9_]*)`),
}

var envSourceExt = map[string]bool{".go": true, ".py": true, ".js": true, ".ts": true, ".mjs": true, ".cjs": true}

// envVars collects environment variable names read by source files.
func envVars(dir string, files []string) ([]string, error) {
	seen := map[string]bool{}
	for _, rel := range files {
		if !envSourceExt[filepath.Ext(rel)] {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(rel)))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("read %s: %w", rel, err)
		}
		for _, re := range envRefs {
			for _, m := range re.FindAllStringSubmatch(string(data), -1) {
				seen[m[1]] = true
			}
		}
	}
	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	sort.Strings(names)
	return names, nil
}

func envExample(vars []string) string {
	var b strings.Builder
	b.WriteString("# Copy to .env and fill in values.\n")
	for _, v := range vars {
		b.WriteString(v + "=\n")
	}
	return b.String()
}
