// Package policy maps a confidence score onto a named autonomy policy that
// bounds how much an automated run may do.
package policy

import (
	"math"
	"strconv"
	"strings"
)

// Name identifies an autonomy policy.
type Name string

const (
	Safe       Name = "SAFE"
	Standard   Name = "STANDARD"
	Aggressive Name = "AGGRESSIVE"
)

// Policy bounds the scope and permissions of an execution plan.
type Policy struct {
	Name                     Name `json:"name" yaml:"name"`
	MaxSteps                 int  `json:"max_steps" yaml:"max_steps"`
	MaxFileMutations         int  `json:"max_file_mutations" yaml:"max_file_mutations"`
	MaxUniquePathsMutated    int  `json:"max_unique_paths_mutated" yaml:"max_unique_paths_mutated"`
	AllowDelete              bool `json:"allow_delete" yaml:"allow_delete"`
	AllowPatch               bool `json:"allow_patch" yaml:"allow_patch"`
	RequireApprovalBeforePR  bool `json:"require_approval_before_pr" yaml:"require_approval_before_pr"`
	RequireVerificationForPR bool `json:"require_verification_for_pr" yaml:"require_verification_for_pr"`
}

// Thresholds. Confidence below SafeBelow resolves to SAFE, below
// StandardBelow to STANDARD, anything else to AGGRESSIVE.
const (
	SafeBelow     = 0.55
	StandardBelow = 0.80
)

var (
	safePolicy = Policy{
		Name:                     Safe,
		MaxSteps:                 18,
		MaxFileMutations:         3,
		MaxUniquePathsMutated:    2,
		RequireApprovalBeforePR:  true,
		RequireVerificationForPR: true,
	}
	standardPolicy = Policy{
		Name:                     Standard,
		MaxSteps:                 35,
		MaxFileMutations:         8,
		MaxUniquePathsMutated:    6,
		RequireApprovalBeforePR:  true,
		RequireVerificationForPR: true,
	}
	aggressivePolicy = Policy{
		Name:                     Aggressive,
		MaxSteps:                 70,
		MaxFileMutations:         20,
		MaxUniquePathsMutated:    15,
		AllowDelete:              true,
		AllowPatch:               true,
		RequireVerificationForPR: true,
	}
)

// Resolve returns the policy for the given confidence. NaN and infinite
// values resolve to SAFE.
func Resolve(confidence float64) Policy {
	c := clamp(confidence)
	switch {
	case c < SafeBelow:
		return safePolicy
	case c < StandardBelow:
		return standardPolicy
	default:
		return aggressivePolicy
	}
}

// ResolveAny normalizes an untyped confidence value and resolves it.
func ResolveAny(v any) Policy {
	return Resolve(ConfidenceFrom(v))
}

// ConfidenceFrom converts an untyped value into a confidence in [0,1].
// Anything missing, non-numeric, NaN or infinite becomes 0.
func ConfidenceFrom(v any) float64 {
	var f float64
	switch x := v.(type) {
	case nil:
		return 0
	case float64:
		f = x
	case float32:
		f = float64(x)
	case int:
		f = float64(x)
	case int32:
		f = float64(x)
	case int64:
		f = float64(x)
	case uint:
		f = float64(x)
	case uint64:
		f = float64(x)
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0
		}
		f = parsed
	default:
		return 0
	}
	return clamp(f)
}

func clamp(f float64) float64 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

// AtLeastAsPermissiveAs reports whether p grants everything q grants.
func (p Policy) AtLeastAsPermissiveAs(q Policy) bool {
	if p.MaxSteps < q.MaxSteps || p.MaxFileMutations < q.MaxFileMutations || p.MaxUniquePathsMutated < q.MaxUniquePathsMutated {
		return false
	}
	if q.AllowDelete && !p.AllowDelete {
		return false
	}
	if q.AllowPatch && !p.AllowPatch {
		return false
	}
	if p.RequireApprovalBeforePR && !q.RequireApprovalBeforePR {
		return false
	}
	if p.RequireVerificationForPR && !q.RequireVerificationForPR {
		return false
	}
	return true
}
