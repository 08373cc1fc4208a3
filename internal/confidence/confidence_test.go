package confidence

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucasnoah/autotriage/internal/facts"
	"github.com/lucasnoah/autotriage/internal/generator"
)

func perfect() Inputs {
	return Inputs{
		Resolution:       facts.ResolvedByTrace,
		FunctionResolved: true,
		StructuralPass:   true,
		SafetyPass:       true,
		Provenance:       generator.Mechanical,
		FilesTouched:     1,
		ImpactedFiles:    0,
		FileLines:        120,
	}
}

func TestScore_PerfectIsExactlyOne(t *testing.T) {
	assert.Equal(t, 1.0, Score(perfect()))
	r := Evaluate(perfect())
	assert.True(t, r.Perfect)
	assert.Len(t, r.Parts, 8)
}

func TestScore_AnyFailedGateIsBelowOne(t *testing.T) {
	mutations := map[string]func(*Inputs){
		"keyword":         func(in *Inputs) { in.Resolution = facts.ResolvedByKeyword },
		"unresolved":      func(in *Inputs) { in.Resolution = "" },
		"model involved":  func(in *Inputs) { in.UsedGenerative = true },
		"no structural":   func(in *Inputs) { in.StructuralPass = false },
		"no safety":       func(in *Inputs) { in.SafetyPass = false },
		"generative":      func(in *Inputs) { in.Provenance = generator.Generative },
		"two files":       func(in *Inputs) { in.FilesTouched = 2 },
		"one caller":      func(in *Inputs) { in.ImpactedFiles = 1 },
		"medium file":     func(in *Inputs) { in.FileLines = 301 },
		"zero files":      func(in *Inputs) { in.FilesTouched = 0 },
		"unknown origin":  func(in *Inputs) { in.Provenance = "" },
	}
	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			in := perfect()
			mutate(&in)
			s := Score(in)
			assert.Less(t, s, 1.0)
			assert.GreaterOrEqual(t, s, 0.0)
		})
	}
}

func TestScore_EightGatesWithoutFunction(t *testing.T) {
	in := Inputs{
		Resolution:     facts.ResolvedByTrace,
		StructuralPass: true,
		SafetyPass:     true,
		Provenance:     generator.Mechanical,
		FilesTouched:   1,
		ImpactedFiles:  0,
		FileLines:      120,
	}
	r := Evaluate(in)
	assert.True(t, r.Perfect)
	assert.Equal(t, 1.0, r.Score)

	in.ImpactedFiles = 4
	assert.LessOrEqual(t, Score(in), 1.0+BlastRadiusPenalty-WeightNoCallers+1e-9)
}

func TestScore_ModelInvolvementPenalizedOnce(t *testing.T) {
	in := perfect()
	in.UsedGenerative = true
	assert.InDelta(t, 1.0+WeightGenerative, Score(in), 1e-9)

	in.Provenance = generator.Generative
	assert.InDelta(t, 1.0+WeightGenerative-WeightMechanical, Score(in), 1e-9)
}

func TestScore_BlastRadiusPenalty(t *testing.T) {
	in := perfect()
	in.ImpactedFiles = 4
	assert.InDelta(t, 0.75, Score(in), 1e-9)

	in.ImpactedFiles = 3
	assert.InDelta(t, 0.95, Score(in), 1e-9)
}

func TestScore_ClampedAtZero(t *testing.T) {
	in := Inputs{Provenance: generator.Generative, FilesTouched: 5, ImpactedFiles: 10, FileLines: 5000}
	assert.Equal(t, 0.0, Score(in))
}

func TestScore_FileSizeBands(t *testing.T) {
	base := perfect()
	base.ImpactedFiles = 1 // keep below perfect so bands are visible
	small, medium, large := base, base, base
	medium.FileLines = 800
	large.FileLines = 801
	assert.InDelta(t, 0.95, Score(small), 1e-9)
	assert.InDelta(t, 0.85, Score(medium), 1e-9)
	assert.InDelta(t, 0.75, Score(large), 1e-9)
}

func newGate(t *testing.T, protected ...string) *Gate {
	t.Helper()
	g, err := NewGate(DefaultRejectBelow, nil, protected)
	require.NoError(t, err)
	return g
}

func TestDecide(t *testing.T) {
	g := newGate(t, "deploy/**")
	ok := GateInput{HasProposal: true, Score: 1, Path: "calc/parse.go", FilesTouched: 1, SafetyPassed: true, Provenance: generator.Mechanical}

	tests := []struct {
		name   string
		mutate func(*GateInput)
		want   Mode
	}{
		{"full confidence applies", func(*GateInput) {}, Apply},
		{"no proposal rejects", func(in *GateInput) { in.HasProposal = false }, Reject},
		{"low score rejects", func(in *GateInput) { in.Score = 0.2 }, Reject},
		{"nan rejects", func(in *GateInput) { in.Score = math.NaN() }, Reject},
		{"multi file proposes", func(in *GateInput) { in.FilesTouched = 2 }, Propose},
		{"blast radius proposes", func(in *GateInput) { in.ImpactedFiles = 4 }, Propose},
		{"safety failure proposes", func(in *GateInput) { in.SafetyPassed = false }, Propose},
		{"unsafe below floor still proposes", func(in *GateInput) {
			in.SafetyPassed = false
			in.Score = 0.1
			in.Provenance = generator.Generative
		}, Propose},
		{"sensitive below one proposes", func(in *GateInput) { in.Score = 0.9; in.Path = "internal/auth/session.go" }, Propose},
		{"sensitive at one applies", func(in *GateInput) { in.Path = "internal/auth/session.go" }, Apply},
		{"protected glob proposes", func(in *GateInput) { in.Score = 0.9; in.Path = "deploy/prod/main.go" }, Propose},
		{"generative below one proposes", func(in *GateInput) { in.Score = 0.9; in.Provenance = generator.Generative }, Propose},
		{"mid score proposes", func(in *GateInput) { in.Score = 0.6 }, Propose},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := ok
			tt.mutate(&in)
			d := g.Decide(in)
			assert.Equal(t, tt.want, d.Mode, d.Reason)
			assert.NotEmpty(t, d.Reason)
		})
	}
}

func TestDecide_SafetyFailureNeverRejects(t *testing.T) {
	g := newGate(t)
	in := Inputs{
		Resolution:     facts.ResolvedByKeyword,
		StructuralPass: true,
		SafetyPass:     true,
		Provenance:     generator.Generative,
		FilesTouched:   1,
		FileLines:      400,
	}
	gi := GateInput{HasProposal: true, Score: Score(in), Path: "calc/eval.py", FilesTouched: 1, SafetyPassed: true, Provenance: generator.Generative}
	require.Equal(t, Propose, g.Decide(gi).Mode)

	in.StructuralPass, in.SafetyPass = false, false
	gi.Score, gi.SafetyPassed = Score(in), false
	require.Less(t, gi.Score, DefaultRejectBelow)
	d := g.Decide(gi)
	assert.Equal(t, Propose, d.Mode)
	assert.Equal(t, "safety verification failed", d.Reason)
}

func TestIsSensitive(t *testing.T) {
	g := newGate(t)
	for _, p := range []string{"internal/auth/login.go", "models/user.py", "db/migrations/001.sql", "infra/main.tf", "token.go"} {
		assert.True(t, g.IsSensitive(p), p)
	}
	for _, p := range []string{"calc/parse.go", "web/html.go", "config.yaml", "README.md"} {
		assert.False(t, g.IsSensitive(p), p)
	}
}

func TestNewGate_BadGlob(t *testing.T) {
	_, err := NewGate(0.25, nil, []string{"[unclosed"})
	assert.Error(t, err)
}
