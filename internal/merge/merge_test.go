package merge

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datalign/datalign/internal/policy"
	"github.com/datalign/datalign/internal/quality"
	"github.com/datalign/datalign/pkg/core"
)

var batchCtx = core.BatchContext{
	BatchID:   "b1",
	BatchTime: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
}

func noChecks(t *testing.T) *quality.Scorer {
	t.Helper()
	scorer, err := quality.NewScorer(nil)
	require.NoError(t, err)
	return scorer
}

func newEngine(t *testing.T, rule core.ReconciliationRule, scorer *quality.Scorer) *Engine {
	t.Helper()
	if scorer == nil {
		scorer = noChecks(t)
	}
	return NewEngine(&core.ReconciliationPolicy{
		EntityType:     "customer",
		PrimarySource:  "crm",
		FallbackSource: "erp",
		Rule:           rule,
		TrackedFields:  []string{"email", "phone"},
	}, scorer)
}

func member(sourceID string, capturedAt time.Time, payload core.FieldMap) *core.SourceRecord {
	return &core.SourceRecord{
		ID:         sourceID + ":1",
		EntityType: "customer",
		SourceID:   sourceID,
		Payload:    payload,
		CapturedAt: capturedAt,
	}
}

func group(members ...*core.SourceRecord) *core.IdentityGroup {
	return &core.IdentityGroup{
		MasterID:        "C1",
		EntityType:      "customer",
		Members:         members,
		MatchMethod:     core.MatchExact,
		MatchConfidence: core.ConfidenceExact,
	}
}

var t0 = time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)

func TestMerge_PreferPrimary(t *testing.T) {
	e := newEngine(t, core.RulePreferPrimary, nil)

	rec, conflicts := e.Merge(group(
		member("crm", t0, core.FieldMap{"email": "new@example.com", "phone": "111"}),
		member("erp", t0.Add(time.Hour), core.FieldMap{"email": "old@example.com", "region": "emea"}),
	), batchCtx)

	assert.Equal(t, "new@example.com", rec.Fields.Get("email"))
	assert.Equal(t, "111", rec.Fields.Get("phone"))
	// Fields only the fallback supplies are still merged in.
	assert.Equal(t, "emea", rec.Fields.Get("region"))
	assert.Equal(t, "crm", rec.FieldSources["email"])
	assert.Equal(t, "erp", rec.FieldSources["region"])

	require.Len(t, conflicts, 1)
	c := conflicts[0]
	assert.Equal(t, "email", c.FieldName)
	assert.Equal(t, "new@example.com", c.PrimaryValue)
	assert.Equal(t, "old@example.com", c.FallbackValue)
	assert.Equal(t, "new@example.com", c.ResolvedValue)
	assert.Equal(t, core.RulePreferPrimary, c.ResolutionRule)
	assert.Equal(t, "b1", c.BatchID)
	assert.Equal(t, batchCtx.BatchTime, c.CreatedAt)
}

func TestMerge_NullNeverWins(t *testing.T) {
	e := newEngine(t, core.RulePreferPrimary, nil)

	rec, conflicts := e.Merge(group(
		member("crm", t0, core.FieldMap{"email": "a@example.com"}),
		member("erp", t0, core.FieldMap{"email": "a@example.com", "phone": "222"}),
	), batchCtx)

	// The primary's null phone does not erase the fallback's value, and
	// agreement is not a conflict.
	assert.Equal(t, "222", rec.Fields.Get("phone"))
	assert.Empty(t, conflicts)
}

func TestMerge_MostRecent(t *testing.T) {
	e := newEngine(t, core.RuleMostRecent, nil)

	t.Run("newer fallback wins", func(t *testing.T) {
		rec, conflicts := e.Merge(group(
			member("crm", t0, core.FieldMap{"email": "stale@example.com"}),
			member("erp", t0.Add(time.Hour), core.FieldMap{"email": "fresh@example.com"}),
		), batchCtx)

		assert.Equal(t, "fresh@example.com", rec.Fields.Get("email"))
		require.Len(t, conflicts, 1)
		assert.Equal(t, "fresh@example.com", conflicts[0].ResolvedValue)
	})

	t.Run("tie keeps primary", func(t *testing.T) {
		rec, _ := e.Merge(group(
			member("crm", t0, core.FieldMap{"email": "p@example.com"}),
			member("erp", t0, core.FieldMap{"email": "f@example.com"}),
		), batchCtx)

		assert.Equal(t, "p@example.com", rec.Fields.Get("email"))
	})
}

func TestMerge_MostRecentRejectsDegradingSubstitution(t *testing.T) {
	// The newer fallback value fails a validity check the primary value
	// passes, so recency loses.
	scorer, err := quality.NewScorer([]policy.QualityCheck{
		{Field: "email", Expr: `"@" in value`, Weight: 50},
	})
	require.NoError(t, err)
	e := newEngine(t, core.RuleMostRecent, scorer)

	rec, conflicts := e.Merge(group(
		member("crm", t0, core.FieldMap{"email": "valid@example.com"}),
		member("erp", t0.Add(time.Hour), core.FieldMap{"email": "not-an-address"}),
	), batchCtx)

	assert.Equal(t, "valid@example.com", rec.Fields.Get("email"))
	require.Len(t, conflicts, 1)
	assert.Equal(t, "valid@example.com", conflicts[0].ResolvedValue)
}

func TestMerge_SingleSource(t *testing.T) {
	e := newEngine(t, core.RuleSingleSource, nil)

	rec, conflicts := e.Merge(group(
		member("crm", t0, core.FieldMap{"email": "a@example.com"}),
		member("erp", t0, core.FieldMap{"email": "b@example.com", "region": "emea"}),
	), batchCtx)

	// Non-primary values are excluded outright, so nothing conflicts.
	assert.Equal(t, "a@example.com", rec.Fields.Get("email"))
	assert.True(t, rec.Fields.IsNull("region"))
	assert.Empty(t, conflicts)
}

func TestMerge_OneSidedGroup(t *testing.T) {
	e := newEngine(t, core.RulePreferPrimary, nil)

	g := group(member("erp", t0, core.FieldMap{"email": "f@example.com"}))
	g.MatchMethod = core.MatchOneSidedFallback
	g.MatchConfidence = core.ConfidenceOneSidedFallback

	rec, conflicts := e.Merge(g, batchCtx)
	assert.Equal(t, "f@example.com", rec.Fields.Get("email"))
	assert.Empty(t, conflicts)
	assert.Equal(t, core.MatchOneSidedFallback, rec.MatchMethod)
}

func TestMerge_ContentHashTracksOnlyTrackedFields(t *testing.T) {
	e := newEngine(t, core.RulePreferPrimary, nil)

	base, _ := e.Merge(group(
		member("crm", t0, core.FieldMap{"email": "a@example.com", "note": "x"}),
	), batchCtx)
	sameTracked, _ := e.Merge(group(
		member("crm", t0, core.FieldMap{"email": "a@example.com", "note": "y"}),
	), batchCtx)
	changedTracked, _ := e.Merge(group(
		member("crm", t0, core.FieldMap{"email": "b@example.com", "note": "x"}),
	), batchCtx)

	assert.Equal(t, base.ContentHash, sameTracked.ContentHash)
	assert.NotEqual(t, base.ContentHash, changedTracked.ContentHash)
}

func TestMerge_Deterministic(t *testing.T) {
	e := newEngine(t, core.RuleMergeFields, nil)

	build := func() (*core.CanonicalRecord, []*core.ConflictLogEntry) {
		return e.Merge(group(
			member("crm", t0, core.FieldMap{"email": "a@example.com", "phone": "111"}),
			member("erp", t0, core.FieldMap{"email": "b@example.com", "region": "emea"}),
		), batchCtx)
	}

	first, firstConflicts := build()
	second, secondConflicts := build()

	assert.Equal(t, first.Fields, second.Fields)
	assert.Equal(t, first.ContentHash, second.ContentHash)
	require.Equal(t, len(firstConflicts), len(secondConflicts))
	for i := range firstConflicts {
		assert.Equal(t, firstConflicts[i].FieldName, secondConflicts[i].FieldName)
		assert.Equal(t, firstConflicts[i].ResolvedValue, secondConflicts[i].ResolvedValue)
	}
}
