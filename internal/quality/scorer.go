// Package quality implements the checklist-driven record scorer.
// Scoring is deterministic and side-effect free; malformed input never
// raises, it just contributes zero weight and an issue string.
package quality

import (
	"fmt"
	"strconv"

	"go.starlark.net/starlark"
	"go.starlark.net/syntax"

	"github.com/datalign/datalign/internal/policy"
	"github.com/datalign/datalign/pkg/core"
)

// MaxScore is the clamp ceiling for a record score.
const MaxScore = 100

// Scorer evaluates one entity type's checklist against field maps.
// Custom check expressions are syntax-checked once at build time.
type Scorer struct {
	checks []policy.QualityCheck
	opts   *syntax.FileOptions
}

// NewScorer builds a scorer from a checklist. A check expression that
// fails to parse is a configuration error and aborts construction;
// record-level problems never do.
func NewScorer(checks []policy.QualityCheck) (*Scorer, error) {
	opts := &syntax.FileOptions{}
	for i, check := range checks {
		if check.Expr == "" {
			continue
		}
		if _, err := opts.ParseExpr(fmt.Sprintf("check[%d]", i), check.Expr, 0); err != nil {
			return nil, fmt.Errorf("quality check for %s: invalid expression: %w", check.Field, err)
		}
	}
	return &Scorer{checks: checks, opts: opts}, nil
}

// Score runs the checklist against a field map and returns the clamped
// score plus the list of issues found. Called once to annotate each
// canonical record and again whenever the merge engine weighs a field
// substitution.
func (s *Scorer) Score(fields core.FieldMap) (int, []string) {
	score := 0
	var issues []string

	for _, check := range s.checks {
		ok, issue := s.evaluate(check, fields)
		if ok {
			score += check.Weight
		} else if issue != "" {
			issues = append(issues, issue)
		}
	}

	if score > MaxScore {
		score = MaxScore
	}
	if score < 0 {
		score = 0
	}
	return score, issues
}

// evaluate runs one checklist entry. The boolean is "passed"; the
// string is the issue to report when it did not.
func (s *Scorer) evaluate(check policy.QualityCheck, fields core.FieldMap) (bool, string) {
	if fields.IsNull(check.Field) {
		if check.Required {
			return false, fmt.Sprintf("required field %s is missing", check.Field)
		}
		return false, fmt.Sprintf("field %s is missing, check skipped", check.Field)
	}
	value := fields.Get(check.Field)

	switch {
	case check.Range != nil:
		n, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return false, fmt.Sprintf("field %s value %q is not numeric", check.Field, value)
		}
		if check.Range.Min != nil && n < *check.Range.Min {
			return false, fmt.Sprintf("field %s value %v below minimum %v", check.Field, n, *check.Range.Min)
		}
		if check.Range.Max != nil && n > *check.Range.Max {
			return false, fmt.Sprintf("field %s value %v above maximum %v", check.Field, n, *check.Range.Max)
		}
		return true, ""

	case len(check.Allowed) > 0:
		for _, allowed := range check.Allowed {
			if value == allowed {
				return true, ""
			}
		}
		return false, fmt.Sprintf("field %s value %q not in accepted values", check.Field, value)

	case check.Expr != "":
		return s.evalExpr(check, value)

	default:
		// Presence-only check.
		return true, ""
	}
}

// evalExpr evaluates a Starlark check with `value` bound to the field
// value. Any evaluation error degrades to a failed check.
func (s *Scorer) evalExpr(check policy.QualityCheck, value string) (bool, string) {
	thread := &starlark.Thread{
		Name:  "quality",
		Print: func(_ *starlark.Thread, _ string) {},
	}
	env := starlark.StringDict{"value": starlark.String(value)}

	result, err := starlark.EvalOptions(s.opts, thread, "check", check.Expr, env)
	if err != nil {
		return false, fmt.Sprintf("field %s check %q failed: %v", check.Field, check.Expr, err)
	}

	pass, ok := result.(starlark.Bool)
	if !ok {
		return false, fmt.Sprintf("field %s check %q did not yield a bool", check.Field, check.Expr)
	}
	if !bool(pass) {
		return false, fmt.Sprintf("field %s value %q failed check %q", check.Field, value, check.Expr)
	}
	return true, ""
}
