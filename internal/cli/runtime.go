package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/autotriage/internal/artifact"
	"github.com/lucasnoah/autotriage/internal/checks"
	"github.com/lucasnoah/autotriage/internal/ci"
	"github.com/lucasnoah/autotriage/internal/ciwatch"
	"github.com/lucasnoah/autotriage/internal/config"
	"github.com/lucasnoah/autotriage/internal/confidence"
	"github.com/lucasnoah/autotriage/internal/executor"
	"github.com/lucasnoah/autotriage/internal/facts"
	"github.com/lucasnoah/autotriage/internal/generator"
	"github.com/lucasnoah/autotriage/internal/github"
	"github.com/lucasnoah/autotriage/internal/runner"
	"github.com/lucasnoah/autotriage/internal/safety"
	"github.com/lucasnoah/autotriage/internal/store"
	"github.com/lucasnoah/autotriage/internal/tracing"
	"github.com/lucasnoah/autotriage/internal/vcs"
)

func loadConfig() (*config.Config, error) {
	if configFile != "" {
		return config.Load(configFile)
	}
	return config.LoadDefault()
}

// openStore opens and migrates the configured database.
func openStore(cfg *config.Config) (*store.Store, error) {
	s, err := store.Open(cfg.Database)
	if err != nil {
		return nil, err
	}
	if err := s.Migrate(); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// runtime holds the production wiring shared by job, worker and ci commands.
type runtime struct {
	cfg      *config.Config
	store    *store.Store
	arts     *artifact.Store
	vcs      *vcs.Manager
	gh       *github.Client
	gen      generator.Generator
	cls      generator.Classifier
	gate     *confidence.Gate
	verifier *safety.Verifier
	progress io.Writer
	shutdown func(context.Context) error
}

func newRuntime(cmd *cobra.Command) (*runtime, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if errs := config.Validate(cfg); len(errs) > 0 {
		return nil, fmt.Errorf("invalid config: %v", errs[0])
	}
	shutdown, err := tracing.Init("autotriage", cfg.TraceExporter, cmd.ErrOrStderr())
	if err != nil {
		return nil, err
	}
	s, err := openStore(cfg)
	if err != nil {
		return nil, err
	}
	gate, err := confidence.NewGate(cfg.Gate.RejectBelow, cfg.Gate.SensitivePatterns, cfg.Gate.ProtectedPaths)
	if err != nil {
		s.Close()
		return nil, err
	}

	claude := generator.NewClaude(generator.ClaudeFn(cfg.Generator.Model), cfg.Generator.TemplatesDir)
	var cls generator.Classifier = claude
	if cfg.Generator.Classifier == "static" {
		cls = generator.Static{Confidence: cfg.Generator.StaticConfidence}
	}

	return &runtime{
		cfg:      cfg,
		store:    s,
		arts:     artifact.NewStore(cfg.ArtifactDir),
		vcs:      vcs.NewManager(&vcs.ExecGit{}, cfg.WorkspaceDir, cfg.BaseBranch),
		gh:       github.NewClient(&github.ExecRunner{}),
		gen:      claude,
		cls:      cls,
		gate:     gate,
		verifier: safety.NewVerifier(cfg.Safety.MaxChangedLines, cfg.Safety.Denylist),
		progress: cmd.ErrOrStderr(),
		shutdown: shutdown,
	}, nil
}

func (rt *runtime) Close() {
	rt.shutdown(context.Background())
	rt.store.Close()
}

func (rt *runtime) executor() *executor.Executor {
	cmds := make(map[string]executor.Commands, len(rt.cfg.Commands))
	for stack, c := range rt.cfg.Commands {
		cmds[stack] = executor.Commands{Test: c.Test, Format: c.Format, Parser: c.Parser}
	}
	ex := executor.New(executor.Deps{
		Repo:      rt.store,
		VCS:       rt.vcs,
		PRs:       rt.gh,
		Checks:    checks.NewRunner(&checks.ExecRunner{}),
		Generator: rt.gen,
		Verifier:  rt.verifier,
		Gate:      rt.gate,
		Artifacts: rt.arts,
	}, executor.Config{
		Commands:     cmds,
		StepRetries:  rt.cfg.Executor.StepRetries,
		RetryBackoff: config.Duration(rt.cfg.Executor.RetryBackoff, 5*time.Second),
		CheckTimeout: config.Duration(rt.cfg.Executor.CheckTimeout, 10*time.Minute),
	})
	ex.SetProgress(rt.progress)
	return ex
}

func (rt *runtime) runner() *runner.Runner {
	r := runner.New(rt.store, rt.vcs, &facts.Scanner{}, rt.cls, rt.executor(), rt.arts,
		config.Duration(rt.cfg.PollInterval, 2*time.Second))
	r.SetProgress(rt.progress)
	return r
}

func (rt *runtime) watcher() *ciwatch.Watcher {
	w := ciwatch.New(ciwatch.Deps{
		CI:        rt.gh,
		Workspace: rt.vcs,
		State:     rt.store,
		Facts:     &facts.Scanner{},
		Generator: rt.gen,
		Verifier:  rt.verifier,
		Gate:      rt.gate,
	}, ciwatch.Config{
		Mode: ciwatch.Mode(rt.cfg.CI.Mode),
		Retry: ci.RetryPolicy{
			MaxAttempts:    rt.cfg.CI.MaxAttempts,
			BackoffSeconds: rt.cfg.CI.BackoffSeconds,
			UnknownRetries: ci.DefaultRetryPolicy.UnknownRetries,
		},
		HeadPrefix: rt.cfg.CI.HeadPrefix,
	})
	w.SetProgress(rt.progress)
	return w
}

// parseRepo splits owner/repo.
func parseRepo(s string) (string, string, error) {
	owner, repo, ok := strings.Cut(s, "/")
	if !ok || owner == "" || repo == "" || strings.Contains(repo, "/") {
		return "", "", fmt.Errorf("invalid repository %q: want owner/repo", s)
	}
	return owner, repo, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
