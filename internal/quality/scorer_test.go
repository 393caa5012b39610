package quality

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datalign/datalign/internal/policy"
	"github.com/datalign/datalign/pkg/core"
)

func f(v float64) *float64 { return &v }

func TestNewScorer_RejectsBrokenExpression(t *testing.T) {
	_, err := NewScorer([]policy.QualityCheck{
		{Field: "email", Expr: `value ===`, Weight: 10},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid expression")
}

func TestScore_Checklist(t *testing.T) {
	scorer, err := NewScorer([]policy.QualityCheck{
		{Field: "email", Required: true, Weight: 40},
		{Field: "rating", Range: &policy.RangeCheck{Min: f(0), Max: f(100)}, Weight: 30},
		{Field: "status", Allowed: []string{"active", "inactive"}, Weight: 20},
		{Field: "phone", Weight: 10},
	})
	require.NoError(t, err)

	tests := []struct {
		name      string
		fields    core.FieldMap
		score     int
		numIssues int
	}{
		{
			name: "all checks pass",
			fields: core.FieldMap{
				"email": "a@example.com", "rating": "85", "status": "active", "phone": "111",
			},
			score: 100,
		},
		{
			name:      "missing required field",
			fields:    core.FieldMap{"rating": "85", "status": "active", "phone": "111"},
			score:     60,
			numIssues: 1,
		},
		{
			name: "rating out of range",
			fields: core.FieldMap{
				"email": "a@example.com", "rating": "150", "status": "active", "phone": "111",
			},
			score:     70,
			numIssues: 1,
		},
		{
			name: "rating not numeric",
			fields: core.FieldMap{
				"email": "a@example.com", "rating": "high", "status": "active", "phone": "111",
			},
			score:     70,
			numIssues: 1,
		},
		{
			name: "status not in accepted values",
			fields: core.FieldMap{
				"email": "a@example.com", "rating": "85", "status": "archived", "phone": "111",
			},
			score:     80,
			numIssues: 1,
		},
		{
			name:   "empty record scores zero",
			fields: core.FieldMap{},
			score:  0,
			// One required-missing issue plus a skipped-check note for
			// each of the three optional fields.
			numIssues: 4,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			score, issues := scorer.Score(tt.fields)
			assert.Equal(t, tt.score, score)
			assert.Len(t, issues, tt.numIssues)
		})
	}
}

func TestScore_StarlarkExpression(t *testing.T) {
	scorer, err := NewScorer([]policy.QualityCheck{
		{Field: "email", Expr: `"@" in value`, Weight: 60},
		{Field: "code", Expr: `len(value) == 4 and value.isupper()`, Weight: 40},
	})
	require.NoError(t, err)

	score, issues := scorer.Score(core.FieldMap{"email": "a@example.com", "code": "ABCD"})
	assert.Equal(t, 100, score)
	assert.Empty(t, issues)

	score, issues = scorer.Score(core.FieldMap{"email": "not-an-address", "code": "ab"})
	assert.Equal(t, 0, score)
	assert.Len(t, issues, 2)
}

func TestScore_ExpressionMustYieldBool(t *testing.T) {
	scorer, err := NewScorer([]policy.QualityCheck{
		{Field: "email", Expr: `len(value)`, Weight: 50},
	})
	require.NoError(t, err)

	score, issues := scorer.Score(core.FieldMap{"email": "a@example.com"})
	assert.Equal(t, 0, score)
	require.Len(t, issues, 1)
	assert.Contains(t, issues[0], "did not yield a bool")
}

func TestScore_ClampsToCeiling(t *testing.T) {
	scorer, err := NewScorer([]policy.QualityCheck{
		{Field: "a", Weight: 80},
		{Field: "b", Weight: 80},
	})
	require.NoError(t, err)

	score, _ := scorer.Score(core.FieldMap{"a": "1", "b": "2"})
	assert.Equal(t, MaxScore, score)
}

func TestScore_Deterministic(t *testing.T) {
	scorer, err := NewScorer([]policy.QualityCheck{
		{Field: "email", Required: true, Weight: 50},
		{Field: "rating", Range: &policy.RangeCheck{Min: f(0)}, Weight: 50},
	})
	require.NoError(t, err)

	fields := core.FieldMap{"email": "a@example.com", "rating": "7"}
	first, _ := scorer.Score(fields)
	for i := 0; i < 10; i++ {
		again, _ := scorer.Score(fields)
		assert.Equal(t, first, again)
	}
}
