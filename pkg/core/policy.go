package core

import "fmt"

// ReconciliationRule selects how conflicting field values from
// multiple sources are resolved into one value.
type ReconciliationRule string

// Reconciliation rule constants.
const (
	// RulePreferPrimary takes the primary source's value when non-null,
	// else the fallback's.
	RulePreferPrimary ReconciliationRule = "PREFER_PRIMARY"
	// RuleMostRecent takes the value from the member with the latest
	// captured_at; null never beats non-null regardless of recency.
	RuleMostRecent ReconciliationRule = "MOST_RECENT"
	// RuleMergeFields resolves field by field with PREFER_PRIMARY as the
	// default and logs a conflict when both sides disagree.
	RuleMergeFields ReconciliationRule = "MERGE_FIELDS"
	// RuleSingleSource only admits values from the declared primary
	// source; other sources are ignored without conflict logging.
	RuleSingleSource ReconciliationRule = "SINGLE_SOURCE"
)

// Valid reports whether the rule is one of the known constants.
func (r ReconciliationRule) Valid() bool {
	switch r {
	case RulePreferPrimary, RuleMostRecent, RuleMergeFields, RuleSingleSource:
		return true
	}
	return false
}

// ReconciliationPolicy is the externally supplied, read-only
// configuration that drives merging for one entity type.
type ReconciliationPolicy struct {
	EntityType     string
	PrimarySource  string
	FallbackSource string
	Rule           ReconciliationRule
	// TrackedFields is the subset of fields whose changes open a new
	// history version. Untracked fields never trigger versioning.
	TrackedFields []string
}

// Validate checks the policy for the fatal configuration errors of the
// policy-error class: unknown rule, missing sources.
func (p *ReconciliationPolicy) Validate() error {
	if p.EntityType == "" {
		return fmt.Errorf("policy has no entity type")
	}
	if !p.Rule.Valid() {
		return fmt.Errorf("policy for %s references unknown rule %q", p.EntityType, p.Rule)
	}
	if p.PrimarySource == "" {
		return fmt.Errorf("policy for %s has no primary source", p.EntityType)
	}
	if p.Rule != RuleSingleSource && p.FallbackSource == "" {
		return fmt.Errorf("policy for %s has no fallback source (required for rule %s)", p.EntityType, p.Rule)
	}
	return nil
}
