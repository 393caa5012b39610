// Package merge reconciles an identity group into one canonical
// record under the entity's reconciliation policy, logging every
// cross-source disagreement it resolves.
package merge

import (
	"sort"

	"github.com/datalign/datalign/internal/quality"
	"github.com/datalign/datalign/pkg/core"
)

// Engine merges identity groups for one entity type. Merging is a
// pure function of the group, the policy, and the batch context, which
// is what makes batch replay safe.
type Engine struct {
	policy *core.ReconciliationPolicy
	scorer *quality.Scorer
}

// NewEngine builds a merge engine. The policy must already be
// validated; an invalid rule here is a programming error upstream.
func NewEngine(p *core.ReconciliationPolicy, scorer *quality.Scorer) *Engine {
	return &Engine{policy: p, scorer: scorer}
}

// Merge reconciles one group into a canonical record plus the conflict
// entries produced along the way.
func (e *Engine) Merge(group *core.IdentityGroup, bc core.BatchContext) (*core.CanonicalRecord, []*core.ConflictLogEntry) {
	primary := group.MemberFrom(e.policy.PrimarySource)
	fallback := e.fallbackMember(group)

	fields := make(core.FieldMap)
	sources := make(map[string]string)
	var conflicts []*core.ConflictLogEntry

	for _, name := range e.fieldNames(group) {
		value, sourceID, conflict := e.resolveField(name, primary, fallback)
		if conflict != nil {
			conflict.EntityType = group.EntityType
			conflict.MasterID = group.MasterID
			conflict.BatchID = bc.BatchID
			conflict.CreatedAt = bc.BatchTime
			conflicts = append(conflicts, conflict)
		}
		if value == "" {
			continue
		}
		fields[name] = value
		sources[name] = sourceID
	}

	score, issues := e.scorer.Score(fields)

	return &core.CanonicalRecord{
		MasterID:        group.MasterID,
		EntityType:      group.EntityType,
		BatchID:         bc.BatchID,
		Fields:          fields,
		FieldSources:    sources,
		QualityScore:    score,
		QualityIssues:   issues,
		ContentHash:     fields.Digest(e.policy.TrackedFields),
		MatchMethod:     group.MatchMethod,
		MatchConfidence: group.MatchConfidence,
	}, conflicts
}

// fallbackMember picks the non-primary member contributing values.
// With the two-source model this is the declared fallback source when
// present, else the first other member.
func (e *Engine) fallbackMember(group *core.IdentityGroup) *core.SourceRecord {
	if m := group.MemberFrom(e.policy.FallbackSource); m != nil {
		return m
	}
	for _, m := range group.Members {
		if m.SourceID != e.policy.PrimarySource {
			return m
		}
	}
	return nil
}

// fieldNames returns the sorted union of field names across members:
// the target schema for this group.
func (e *Engine) fieldNames(group *core.IdentityGroup) []string {
	seen := make(map[string]bool)
	for _, m := range group.Members {
		if e.policy.Rule == core.RuleSingleSource && m.SourceID != e.policy.PrimarySource {
			continue
		}
		for name := range m.Payload {
			seen[name] = true
		}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// resolveField applies the policy rule to one field. It returns the
// resolved value ("" when null), the contributing source id, and a
// conflict entry when both sides supplied non-null, unequal values
// under a rule that logs conflicts.
func (e *Engine) resolveField(name string, primary, fallback *core.SourceRecord) (string, string, *core.ConflictLogEntry) {
	pVal, pOK := memberValue(primary, name)
	fVal, fOK := memberValue(fallback, name)

	if e.policy.Rule == core.RuleSingleSource {
		// Values from any other source were already excluded from the
		// target schema; nothing is ever logged as a conflict.
		if pOK {
			return pVal, e.policy.PrimarySource, nil
		}
		return "", "", nil
	}

	var conflict *core.ConflictLogEntry
	disagree := pOK && fOK && pVal != fVal

	value, sourceID := e.pickValue(name, pVal, pOK, fVal, fOK, primary, fallback)

	if disagree {
		conflict = &core.ConflictLogEntry{
			FieldName:      name,
			PrimaryValue:   pVal,
			FallbackValue:  fVal,
			ResolvedValue:  value,
			ResolutionRule: e.policy.Rule,
		}
	}
	return value, sourceID, conflict
}

// pickValue selects the winning value per rule. Null never beats
// non-null, whatever the rule says about recency.
func (e *Engine) pickValue(name, pVal string, pOK bool, fVal string, fOK bool, primary, fallback *core.SourceRecord) (string, string) {
	switch {
	case pOK && !fOK:
		return pVal, primary.SourceID
	case !pOK && fOK:
		return fVal, fallback.SourceID
	case !pOK && !fOK:
		return "", ""
	}

	// Both sides non-null.
	if e.policy.Rule == core.RuleMostRecent && fallback.CapturedAt.After(primary.CapturedAt) {
		// Recency prefers the fallback value, but a substitution that
		// degrades record quality is not an improvement: re-score both
		// candidates and keep the primary value on a loss.
		if !e.substitutionDegrades(name, pVal, fVal, primary) {
			return fVal, fallback.SourceID
		}
	}

	// PREFER_PRIMARY, MERGE_FIELDS default tie-break, MOST_RECENT with
	// an equal-or-older fallback: primary wins.
	return pVal, primary.SourceID
}

// substitutionDegrades scores the primary payload with and without the
// substituted value and reports whether the swap lowers the score.
func (e *Engine) substitutionDegrades(name, pVal, fVal string, primary *core.SourceRecord) bool {
	base := primary.Payload.Clone()
	base[name] = pVal
	before, _ := e.scorer.Score(base)

	base[name] = fVal
	after, _ := e.scorer.Score(base)

	return after < before
}

// memberValue fetches a member's value for a field, reporting null as
// not-ok. A nil member (one-sided group) is simply null everywhere.
func memberValue(m *core.SourceRecord, name string) (string, bool) {
	if m == nil || m.Payload.IsNull(name) {
		return "", false
	}
	return m.Payload.Get(name), true
}
