// Package artifact writes per-job files (plans, diffs, proposals) under an
// artifact directory so reviewers can inspect them outside the event log.
package artifact

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Store manages job artifacts on disk.
type Store struct {
	baseDir string
}

// NewStore creates a Store rooted at baseDir.
func NewStore(baseDir string) *Store {
	return &Store{baseDir: baseDir}
}

// JobDir returns the directory holding a job's artifacts.
func (s *Store) JobDir(jobID int64) string {
	return filepath.Join(s.baseDir, "job-"+strconv.FormatInt(jobID, 10))
}

// Path returns the location of a named artifact. Names are reduced to their
// base so callers cannot escape the job directory.
func (s *Store) Path(jobID int64, name string) string {
	return filepath.Join(s.JobDir(jobID), filepath.Base(filepath.Clean("/"+name)))
}

// SaveText writes a text artifact and returns its path.
func (s *Store) SaveText(jobID int64, name, text string) (string, error) {
	p := s.Path(jobID, name)
	if err := WriteAtomic(p, []byte(text)); err != nil {
		return "", err
	}
	return p, nil
}

// SaveJSON writes v as a JSON artifact and returns its path.
func (s *Store) SaveJSON(jobID int64, name string, v any) (string, error) {
	if !strings.HasSuffix(name, ".json") {
		name += ".json"
	}
	p := s.Path(jobID, name)
	if err := WriteJSON(p, v); err != nil {
		return "", err
	}
	return p, nil
}

// Load reads a text artifact.
func (s *Store) Load(jobID int64, name string) (string, error) {
	data, err := os.ReadFile(s.Path(jobID, name))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// List returns the artifact names recorded for a job.
func (s *Store) List(jobID int64) ([]string, error) {
	entries, err := os.ReadDir(s.JobDir(jobID))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read artifacts: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".tmp-") {
			continue
		}
		names = append(names, e.Name())
	}
	return names, nil
}

// WriteAtomic writes data to a file atomically by writing to a temp file
// in the same directory, then renaming.
func WriteAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	defer func() {
		if tmpName != "" {
			os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename %s -> %s: %w", tmpName, path, err)
	}
	tmpName = ""
	return nil
}

// WriteJSON writes v as pretty-printed JSON to path atomically.
func WriteJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}
	data = append(data, '\n')
	return WriteAtomic(path, data)
}
