package checks

// Failures is what a parser could extract about failing tests.
type Failures struct {
	// Tests are failing test identifiers in first-seen order.
	Tests []string `json:"tests,omitempty"`
	// Files are non-test source files referenced by failures, most
	// referenced first.
	Files   []string `json:"files,omitempty"`
	Excerpt string   `json:"excerpt,omitempty"`
}

// ParseResult holds the normalized output from a parser.
type ParseResult struct {
	Passed   bool     `json:"passed"`
	Summary  string   `json:"summary"`
	Failures Failures `json:"failures"`
}

// Parser converts raw command output into a structured ParseResult.
type Parser interface {
	Parse(stdout string, stderr string, exitCode int) ParseResult
}

// combine joins stdout and stderr the way a terminal would show them.
func combine(stdout, stderr string) string {
	if stderr == "" {
		return stdout
	}
	if stdout == "" {
		return stderr
	}
	return stdout + "\n" + stderr
}

// fileCounter ranks files by how often failures mention them.
type fileCounter struct {
	order  []string
	counts map[string]int
}

func (c *fileCounter) add(path string) {
	if c.counts == nil {
		c.counts = make(map[string]int)
	}
	if c.counts[path] == 0 {
		c.order = append(c.order, path)
	}
	c.counts[path]++
}

// ranked returns files by descending count, ties in first-seen order.
func (c *fileCounter) ranked() []string {
	out := append([]string(nil), c.order...)
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && c.counts[out[j]] > c.counts[out[j-1]]; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

func appendUnique(list []string, s string) []string {
	for _, x := range list {
		if x == s {
			return list
		}
	}
	return append(list, s)
}
