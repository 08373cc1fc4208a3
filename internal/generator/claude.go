package generator

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/lucasnoah/autotriage/internal/prompt"
)

// LLMFunc sends a prompt to a model and returns the response text.
type LLMFunc func(ctx context.Context, prompt string) (string, error)

// ClaudeFn returns an LLMFunc that shells out to `claude --print`.
func ClaudeFn(model string) LLMFunc {
	if model == "" {
		model = "haiku"
	}
	return func(ctx context.Context, p string) (string, error) {
		cmd := exec.CommandContext(ctx, "claude", "--print", "--model", model, p)
		out, err := cmd.CombinedOutput()
		if err != nil {
			return "", fmt.Errorf("claude --print: %s: %w", strings.TrimSpace(string(out)), err)
		}
		return strings.TrimSpace(string(out)), nil
	}
}

// Claude implements Generator and Classifier on top of an LLMFunc.
type Claude struct {
	ask         LLMFunc
	templateDir string
}

// NewClaude creates a Claude adapter. templateDir may override built-in prompts.
func NewClaude(ask LLMFunc, templateDir string) *Claude {
	return &Claude{ask: ask, templateDir: templateDir}
}

const (
	fileOpen  = "<<<FILE"
	fileClose = "FILE>>>"
	noFix     = "NO_FIX"
)

// Generate asks the model for a full replacement of req.Path.
func (c *Claude) Generate(ctx context.Context, req Request) (Proposal, error) {
	name := prompt.FixTemplate
	vars := prompt.Vars{
		"path":     req.Path,
		"function": req.Function,
		"task":     req.Prompt,
		"evidence": req.Evidence,
		"content":  req.Current,
	}
	if strings.EqualFold(req.Path, "README.md") {
		name = prompt.ReadmeTemplate
		vars = prompt.Vars{"prompt": req.Prompt, "existing": req.Current}
	}
	p, err := prompt.RenderNamed(name, c.templateDir, vars)
	if err != nil {
		return nil, fmt.Errorf("render prompt: %w", err)
	}

	resp, err := c.ask(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("generate %s: %w", req.Path, err)
	}
	return parseProposal(req.Path, resp), nil
}

// parseProposal extracts the fenced file body from a model response.
func parseProposal(path, resp string) Proposal {
	resp = strings.TrimSpace(resp)
	if resp == "" || resp == noFix {
		return NoProposal{Reason: "generator declined"}
	}
	start := strings.Index(resp, fileOpen)
	end := strings.LastIndex(resp, fileClose)
	if start < 0 || end < 0 || end <= start {
		return NoProposal{Reason: "response had no file block"}
	}
	body := strings.TrimPrefix(resp[start+len(fileOpen):end], "\n")
	if strings.TrimSpace(body) == "" {
		return NoProposal{Reason: "empty file block"}
	}
	return &ProposedContent{Path: path, Text: body, Provenance: Generative}
}

// Classify asks the model for an intent and confidence. Any failure to
// produce a usable answer yields confidence 0 rather than an error.
func (c *Claude) Classify(ctx context.Context, action, userPrompt string) (Intent, error) {
	p, err := prompt.RenderNamed(prompt.IntentTemplate, c.templateDir, prompt.Vars{"action": action, "prompt": userPrompt})
	if err != nil {
		return Intent{}, fmt.Errorf("render prompt: %w", err)
	}
	resp, err := c.ask(ctx, p)
	if err != nil {
		return Intent{Name: "unknown"}, nil
	}
	return parseIntent(resp), nil
}

func parseIntent(resp string) Intent {
	fields := strings.Fields(strings.TrimSpace(resp))
	if len(fields) == 0 {
		return Intent{Name: "unknown"}
	}
	if len(fields) < 2 {
		return Intent{Name: "unknown", Model: true}
	}
	conf, err := strconv.ParseFloat(fields[1], 64)
	if err != nil {
		return Intent{Name: strings.ToLower(fields[0]), Model: true}
	}
	return Intent{Name: strings.ToLower(fields[0]), Confidence: conf, Model: true}
}

// Static is a Classifier that maps actions to fixed intents without a model.
type Static struct {
	Confidence float64
}

var staticIntents = map[string]string{
	"fix_bugs":         "bugfix",
	"run_tests":        "test",
	"refactor":         "refactor",
	"add_feature":      "feature",
	"generate_project": "scaffold",
	"create_pr":        "pr",
}

// Classify implements Classifier.
func (s Static) Classify(_ context.Context, action, _ string) (Intent, error) {
	name, ok := staticIntents[action]
	if !ok {
		return Intent{Name: "unknown"}, nil
	}
	return Intent{Name: name, Confidence: s.Confidence}, nil
}
