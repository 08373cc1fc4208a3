// Package confidence turns structural evidence about a proposed change into
// a bounded score, and decides whether the change is applied, proposed for
// review or rejected.
package confidence

import (
	"math"

	"github.com/lucasnoah/autotriage/internal/facts"
	"github.com/lucasnoah/autotriage/internal/generator"
)

// Signal weights. With every positive signal present the raw sum is exactly 1.
const (
	WeightTraceResolved   = 0.25
	WeightKeywordResolved = 0.05
	WeightFunction        = 0.10
	WeightStructural      = 0.15
	WeightSafety          = 0.15
	WeightMechanical      = 0.10
	WeightGenerative      = -0.15
	WeightSingleFile      = 0.10
	WeightMultiFile       = -0.30
	WeightNoCallers       = 0.05
	BlastRadiusPenalty    = -0.20
	WeightSmallFile       = 0.10
	WeightLargeFile       = -0.10
)

// Size and blast-radius bands.
const (
	SmallFileLines   = 300
	MediumFileLines  = 800
	MaxModestCallers = 3
)

// belowPerfect is the ceiling for any score that does not satisfy every gate.
const belowPerfect = 0.99

// Inputs is the evidence the scorer looks at. UsedGenerative is set when a
// model took part anywhere in producing the change, even if the final
// rewrite was rule-based.
type Inputs struct {
	Resolution       facts.Resolution     `json:"resolution"`
	FunctionResolved bool                 `json:"function_resolved"`
	StructuralPass   bool                 `json:"structural_pass"`
	SafetyPass       bool                 `json:"safety_pass"`
	Provenance       generator.Provenance `json:"provenance"`
	UsedGenerative   bool                 `json:"used_generative"`
	FilesTouched     int                  `json:"files_touched"`
	ImpactedFiles    int                  `json:"impacted_files"`
	FileLines        int                  `json:"file_lines"`
}

// Part is one weighted contribution to a score.
type Part struct {
	Signal string  `json:"signal"`
	Weight float64 `json:"weight"`
}

// Result is a score with its breakdown.
type Result struct {
	Score   float64 `json:"score"`
	Perfect bool    `json:"perfect"`
	Parts   []Part  `json:"parts"`
}

// Perfect reports whether all eight gates for a full-confidence score hold.
// Function resolution earns credit but is not a gate.
func (in Inputs) Perfect() bool {
	return in.Resolution == facts.ResolvedByTrace &&
		in.StructuralPass &&
		in.SafetyPass &&
		in.Provenance == generator.Mechanical &&
		!in.generative() &&
		in.FilesTouched == 1 &&
		in.ImpactedFiles == 0 &&
		in.FileLines <= SmallFileLines
}

func (in Inputs) generative() bool {
	return in.UsedGenerative || in.Provenance == generator.Generative
}

// Score returns the confidence for in, in [0,1].
func Score(in Inputs) float64 {
	return Evaluate(in).Score
}

// Evaluate scores in and records each contribution.
func Evaluate(in Inputs) Result {
	var r Result
	add := func(signal string, w float64) {
		r.Parts = append(r.Parts, Part{Signal: signal, Weight: w})
		r.Score += w
	}

	switch in.Resolution {
	case facts.ResolvedByTrace:
		add("trace_resolved", WeightTraceResolved)
	case facts.ResolvedByKeyword:
		add("keyword_resolved", WeightKeywordResolved)
	}
	if in.FunctionResolved {
		add("function_resolved", WeightFunction)
	}
	if in.StructuralPass {
		add("structural_pass", WeightStructural)
	}
	if in.SafetyPass {
		add("safety_pass", WeightSafety)
	}
	if in.Provenance == generator.Mechanical {
		add("mechanical", WeightMechanical)
	}
	if in.generative() {
		add("generative", WeightGenerative)
	}
	if in.FilesTouched == 1 {
		add("single_file", WeightSingleFile)
	} else {
		add("multi_file", WeightMultiFile)
	}
	switch {
	case in.ImpactedFiles == 0:
		add("no_callers", WeightNoCallers)
	case in.ImpactedFiles > MaxModestCallers:
		add("blast_radius", BlastRadiusPenalty)
	}
	switch {
	case in.FileLines <= SmallFileLines:
		add("small_file", WeightSmallFile)
	case in.FileLines > MediumFileLines:
		add("large_file", WeightLargeFile)
	}

	r.Score = math.Max(0, math.Min(1, r.Score))
	r.Perfect = in.Perfect()
	if r.Perfect {
		r.Score = 1
	} else if r.Score > belowPerfect {
		r.Score = belowPerfect
	}
	return r
}
