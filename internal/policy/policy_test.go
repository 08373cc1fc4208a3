package policy

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolveThresholds(t *testing.T) {
	tests := []struct {
		conf float64
		want Name
	}{
		{0, Safe},
		{0.3, Safe},
		{0.5499, Safe},
		{0.55, Standard},
		{0.79, Standard},
		{0.80, Aggressive},
		{1.0, Aggressive},
		{7, Aggressive},
		{-2, Safe},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Resolve(tt.conf).Name, "Resolve(%v)", tt.conf)
	}
}

func TestResolveLimits(t *testing.T) {
	safe := Resolve(0.1)
	assert.Equal(t, 18, safe.MaxSteps)
	assert.Equal(t, 3, safe.MaxFileMutations)
	assert.Equal(t, 2, safe.MaxUniquePathsMutated)
	assert.False(t, safe.AllowDelete)
	assert.False(t, safe.AllowPatch)
	assert.True(t, safe.RequireApprovalBeforePR)

	agg := Resolve(0.95)
	assert.Equal(t, 70, agg.MaxSteps)
	assert.True(t, agg.AllowDelete)
	assert.True(t, agg.AllowPatch)
	assert.False(t, agg.RequireApprovalBeforePR)
	assert.True(t, agg.RequireVerificationForPR)
}

func TestConfidenceFromFailsClosed(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want float64
	}{
		{"nil", nil, 0},
		{"nan", math.NaN(), 0},
		{"inf", math.Inf(1), 0},
		{"neg inf", math.Inf(-1), 0},
		{"garbage string", "high", 0},
		{"numeric string", "0.7", 0.7},
		{"struct", struct{}{}, 0},
		{"int", 1, 1},
		{"over", 3.5, 1},
		{"under", -0.2, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, ConfidenceFrom(tt.in), 1e-9)
		})
	}
	assert.Equal(t, Safe, ResolveAny("not a number").Name)
	assert.Equal(t, Safe, ResolveAny(math.NaN()).Name)
}

func TestResolveMonotonic(t *testing.T) {
	prev := Resolve(0)
	for i := 1; i <= 100; i++ {
		cur := Resolve(float64(i) / 100)
		assert.True(t, cur.AtLeastAsPermissiveAs(prev), "policy at %d%% is less permissive than below it", i)
		prev = cur
	}
}
