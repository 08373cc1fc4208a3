package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults.
const (
	DefaultBaseBranch     = "main"
	DefaultPollInterval   = "2s"
	DefaultWorkers        = 1
	DefaultRejectBelow    = 0.25
	DefaultCIMaxAttempts  = 3
	MaxCIAttempts         = 3
	DefaultCIBackoff      = 300
	DefaultCIPollInterval = "5m"
	DefaultStepRetries    = 2
	DefaultRetryBackoff   = "5s"
	DefaultCheckTimeout   = "10m"
	DefaultModel          = "sonnet"
	DefaultClassifier     = "claude"
)

// Load reads and parses a configuration from the given YAML file path.
// After parsing, it fills in defaults for unset fields.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

// LoadDefault loads the first config found in the standard locations:
// ./autotriage.yaml, ~/.autotriage/config.yaml. With neither present it
// returns the built-in defaults.
func LoadDefault() (*Config, error) {
	for _, path := range Candidates() {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg, nil
}

// Candidates lists the paths LoadDefault searches, in order.
func Candidates() []string {
	candidates := []string{"autotriage.yaml"}
	if dir, err := HomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(dir, "config.yaml"))
	}
	return candidates
}

// HomeDir returns ~/.autotriage.
func HomeDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home directory: %w", err)
	}
	return filepath.Join(home, ".autotriage"), nil
}

func applyDefaults(cfg *Config) {
	if dir, err := HomeDir(); err == nil {
		if cfg.Database == "" {
			cfg.Database = filepath.Join(dir, "autotriage.db")
		}
		if cfg.WorkspaceDir == "" {
			cfg.WorkspaceDir = filepath.Join(dir, "repos")
		}
		if cfg.ArtifactDir == "" {
			cfg.ArtifactDir = filepath.Join(dir, "artifacts")
		}
	}
	if cfg.BaseBranch == "" {
		cfg.BaseBranch = DefaultBaseBranch
	}
	if cfg.PollInterval == "" {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.Workers == 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.Gate.RejectBelow == 0 {
		cfg.Gate.RejectBelow = DefaultRejectBelow
	}
	if cfg.CI.MaxAttempts == 0 {
		cfg.CI.MaxAttempts = DefaultCIMaxAttempts
	}
	if cfg.CI.BackoffSeconds == 0 {
		cfg.CI.BackoffSeconds = DefaultCIBackoff
	}
	if cfg.CI.PollInterval == "" {
		cfg.CI.PollInterval = DefaultCIPollInterval
	}
	if cfg.Executor.StepRetries == 0 {
		cfg.Executor.StepRetries = DefaultStepRetries
	}
	if cfg.Executor.RetryBackoff == "" {
		cfg.Executor.RetryBackoff = DefaultRetryBackoff
	}
	if cfg.Executor.CheckTimeout == "" {
		cfg.Executor.CheckTimeout = DefaultCheckTimeout
	}
	if cfg.Generator.Model == "" {
		cfg.Generator.Model = DefaultModel
	}
	if cfg.Generator.Classifier == "" {
		cfg.Generator.Classifier = DefaultClassifier
	}
}

// Duration parses a duration field, falling back to def when it is empty
// or malformed. Validate reports malformed values.
func Duration(s string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
