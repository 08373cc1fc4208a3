package config

import (
	"fmt"
	"sort"
	"time"

	"github.com/gobwas/glob"
)

// ValidationError represents a single validation issue with a config.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// recognizedParsers is the set of valid parser names for test output.
var recognizedParsers = map[string]bool{
	"go-test": true,
	"pytest":  true,
	"generic": true,
}

var recognizedExporters = map[string]bool{
	"":       true,
	"none":   true,
	"stdout": true,
}

// Validate checks a Config for semantic errors. It returns all validation
// errors found (empty if valid).
func Validate(cfg *Config) []ValidationError {
	var errs []ValidationError
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if cfg.Database == "" {
		add("database", "is required")
	}
	if cfg.WorkspaceDir == "" {
		add("workspace_dir", "is required")
	}
	if cfg.Workers < 1 {
		add("workers", "must be at least 1, got %d", cfg.Workers)
	}
	if !recognizedExporters[cfg.TraceExporter] {
		add("trace_exporter", "unrecognized exporter %q", cfg.TraceExporter)
	}

	for _, d := range []struct {
		field, value string
	}{
		{"poll_interval", cfg.PollInterval},
		{"ci.poll_interval", cfg.CI.PollInterval},
		{"executor.retry_backoff", cfg.Executor.RetryBackoff},
		{"executor.check_timeout", cfg.Executor.CheckTimeout},
	} {
		if v, err := time.ParseDuration(d.value); err != nil {
			add(d.field, "invalid duration %q", d.value)
		} else if v <= 0 {
			add(d.field, "must be positive, got %s", d.value)
		}
	}

	if cfg.Safety.MaxChangedLines < 0 {
		add("safety.max_changed_lines", "must not be negative")
	}
	if r := cfg.Gate.RejectBelow; r < 0 || r > 1 {
		add("gate.reject_below", "must be within [0,1], got %v", r)
	}
	for i, p := range cfg.Gate.ProtectedPaths {
		if _, err := glob.Compile(p, '/'); err != nil {
			add(fmt.Sprintf("gate.protected_paths[%d]", i), "invalid glob %q: %v", p, err)
		}
	}

	if cfg.CI.Mode < 0 || cfg.CI.Mode > 3 {
		add("ci.mode", "must be 0-3, got %d", cfg.CI.Mode)
	}
	if cfg.CI.MaxAttempts < 1 || cfg.CI.MaxAttempts > MaxCIAttempts {
		add("ci.max_attempts", "must be 1-%d, got %d", MaxCIAttempts, cfg.CI.MaxAttempts)
	}
	if cfg.CI.BackoffSeconds < 0 {
		add("ci.backoff_seconds", "must not be negative")
	}
	if cfg.Executor.StepRetries < 0 {
		add("executor.step_retries", "must not be negative")
	}

	if c := cfg.Generator.Classifier; c != "claude" && c != "static" {
		add("generator.classifier", "must be claude or static, got %q", c)
	}
	if sc := cfg.Generator.StaticConfidence; sc < 0 || sc > 1 {
		add("generator.static_confidence", "must be within [0,1], got %v", sc)
	}

	stacks := make([]string, 0, len(cfg.Commands))
	for stack := range cfg.Commands {
		stacks = append(stacks, stack)
	}
	sort.Strings(stacks)
	for _, stack := range stacks {
		if p := cfg.Commands[stack].Parser; p != "" && !recognizedParsers[p] {
			add(fmt.Sprintf("commands.%s.parser", stack), "unrecognized parser %q", p)
		}
	}

	return errs
}
