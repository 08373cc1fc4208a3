package config

// Config is the top-level configuration parsed from autotriage.yaml.
type Config struct {
	// Database is a SQLite path or a postgres:// DSN.
	Database      string `yaml:"database" json:"database"`
	WorkspaceDir  string `yaml:"workspace_dir" json:"workspace_dir"`
	ArtifactDir   string `yaml:"artifact_dir" json:"artifact_dir"`
	BaseBranch    string `yaml:"base_branch" json:"base_branch"`
	PollInterval  string `yaml:"poll_interval" json:"poll_interval"`
	Workers       int    `yaml:"workers" json:"workers"`
	TraceExporter string `yaml:"trace_exporter" json:"trace_exporter"`

	Safety    Safety              `yaml:"safety" json:"safety"`
	Gate      Gate                `yaml:"gate" json:"gate"`
	CI        CI                  `yaml:"ci" json:"ci"`
	Executor  Executor            `yaml:"executor" json:"executor"`
	Commands  map[string]Commands `yaml:"commands" json:"commands,omitempty"`
	Generator Generator           `yaml:"generator" json:"generator"`
}

// Safety bounds proposed edits.
type Safety struct {
	MaxChangedLines int `yaml:"max_changed_lines" json:"max_changed_lines"`
	// Denylist replaces the built-in destructive fragments when set.
	Denylist []string `yaml:"denylist" json:"denylist,omitempty"`
}

// Gate tunes the confidence gate.
type Gate struct {
	RejectBelow       float64  `yaml:"reject_below" json:"reject_below"`
	SensitivePatterns []string `yaml:"sensitive_patterns" json:"sensitive_patterns,omitempty"`
	// ProtectedPaths are globs such as "deploy/**" that always need review.
	ProtectedPaths []string `yaml:"protected_paths" json:"protected_paths,omitempty"`
}

// CI configures the self-healing watcher.
type CI struct {
	// Mode: 0 disabled, 1 observe only, 2 single retry, 3 full loop.
	Mode           int    `yaml:"mode" json:"mode"`
	MaxAttempts    int    `yaml:"max_attempts" json:"max_attempts"`
	BackoffSeconds int    `yaml:"backoff_seconds" json:"backoff_seconds"`
	PollInterval   string `yaml:"poll_interval" json:"poll_interval"`
	HeadPrefix     string `yaml:"head_prefix" json:"head_prefix"`
}

// Executor tunes step execution.
type Executor struct {
	StepRetries  int    `yaml:"step_retries" json:"step_retries"`
	RetryBackoff string `yaml:"retry_backoff" json:"retry_backoff"`
	CheckTimeout string `yaml:"check_timeout" json:"check_timeout"`
}

// Commands overrides the test and format commands for one stack.
type Commands struct {
	Test   string `yaml:"test" json:"test,omitempty"`
	Format string `yaml:"format" json:"format,omitempty"`
	Parser string `yaml:"parser" json:"parser,omitempty"`
}

// Generator selects the model and prompt templates.
type Generator struct {
	// Model is passed to the claude CLI.
	Model        string `yaml:"model" json:"model"`
	TemplatesDir string `yaml:"templates_dir" json:"templates_dir,omitempty"`
	// Classifier is "claude" or "static"; static maps actions to fixed
	// intents at StaticConfidence without a model call.
	Classifier       string  `yaml:"classifier" json:"classifier"`
	StaticConfidence float64 `yaml:"static_confidence" json:"static_confidence,omitempty"`
}
