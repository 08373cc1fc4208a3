package confidence

import (
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/gobwas/glob"

	"github.com/lucasnoah/autotriage/internal/generator"
)

// Mode is the gate's verdict for a proposed change.
type Mode string

const (
	Apply   Mode = "APPLY"
	Propose Mode = "PROPOSE"
	Reject  Mode = "REJECT"
)

// DefaultRejectBelow is the score under which a proposal is discarded.
const DefaultRejectBelow = 0.25

// DefaultSensitiveWords mark paths whose changes always need review.
var DefaultSensitiveWords = []string{
	"auth", "oauth", "token", "identity", "ml", "model", "infra", "terraform",
	"k8s", "kubernetes", "pipeline", "etl", "schema", "database", "migration",
}

// Decision is the gate's verdict with a human-readable reason.
type Decision struct {
	Mode   Mode   `json:"mode"`
	Reason string `json:"reason"`
}

// GateInput is what the gate looks at.
type GateInput struct {
	HasProposal   bool
	Score         float64
	Path          string
	FilesTouched  int
	ImpactedFiles int
	SafetyPassed  bool
	Provenance    generator.Provenance
}

// Gate decides between applying, proposing and rejecting.
type Gate struct {
	rejectBelow float64
	sensitive   *regexp.Regexp
	protected   []glob.Glob
}

// NewGate builds a gate. Empty words fall back to DefaultSensitiveWords;
// protected holds glob patterns matched against slash-separated paths.
func NewGate(rejectBelow float64, words, protected []string) (*Gate, error) {
	if len(words) == 0 {
		words = DefaultSensitiveWords
	}
	quoted := make([]string, len(words))
	for i, w := range words {
		quoted[i] = regexp.QuoteMeta(strings.ToLower(w))
	}
	re, err := regexp.Compile(`(?i)(^|[^a-z])(` + strings.Join(quoted, "|") + `)s?([^a-z]|$)`)
	if err != nil {
		return nil, fmt.Errorf("compile sensitive pattern: %w", err)
	}
	g := &Gate{rejectBelow: rejectBelow, sensitive: re}
	for _, p := range protected {
		gl, err := glob.Compile(p, '/')
		if err != nil {
			return nil, fmt.Errorf("compile protected path %q: %w", p, err)
		}
		g.protected = append(g.protected, gl)
	}
	return g, nil
}

// RejectBelow returns the score floor under which changes are discarded.
func (g *Gate) RejectBelow() float64 { return g.rejectBelow }

// IsSensitive reports whether path falls in a sensitive area.
func (g *Gate) IsSensitive(path string) bool {
	if g.sensitive.MatchString(path) {
		return true
	}
	for _, gl := range g.protected {
		if gl.Match(path) {
			return true
		}
	}
	return false
}

// Decide applies the gate rules in order; the first match wins. A failed
// safety check only downgrades to a proposal, so it is decided before the
// reject floor.
func (g *Gate) Decide(in GateInput) Decision {
	score := in.Score
	if math.IsNaN(score) || math.IsInf(score, 0) {
		score = 0
	}
	switch {
	case !in.HasProposal:
		return Decision{Reject, "no proposal"}
	case !in.SafetyPassed:
		return Decision{Propose, "safety verification failed"}
	case score < g.rejectBelow:
		return Decision{Reject, fmt.Sprintf("confidence %.2f below %.2f", score, g.rejectBelow)}
	case in.FilesTouched > 1:
		return Decision{Propose, fmt.Sprintf("change touches %d files", in.FilesTouched)}
	case in.ImpactedFiles > MaxModestCallers:
		return Decision{Propose, fmt.Sprintf("blast radius %d files", in.ImpactedFiles)}
	case score < 1 && g.IsSensitive(in.Path):
		return Decision{Propose, "sensitive area " + in.Path}
	case score < 1 && in.Provenance == generator.Generative:
		return Decision{Propose, "generative change below full confidence"}
	case score >= 1:
		return Decision{Apply, "full confidence"}
	default:
		return Decision{Propose, fmt.Sprintf("confidence %.2f below full", score)}
	}
}
