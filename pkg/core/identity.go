package core

// MatchMethod describes how an identity group was formed.
type MatchMethod string

// Match method constants, in tie-break order.
const (
	// MatchExact means both sides supplied equal business keys.
	MatchExact MatchMethod = "EXACT"
	// MatchOneSidedPrimary means only the primary source supplied a key.
	MatchOneSidedPrimary MatchMethod = "ONE_SIDED_PRIMARY"
	// MatchOneSidedFallback means only the fallback source supplied a key.
	MatchOneSidedFallback MatchMethod = "ONE_SIDED_FALLBACK"
	// MatchFuzzy is reserved for non-exact key matching.
	MatchFuzzy MatchMethod = "FUZZY"
	// MatchNone means no side supplied a usable key. Groups matched this
	// way are flagged for manual review.
	MatchNone MatchMethod = "NONE"
)

// Confidence values for each match method.
const (
	ConfidenceExact            = 100
	ConfidenceOneSidedPrimary  = 90
	ConfidenceOneSidedFallback = 85
	ConfidenceNone             = 50
)

// IdentityGroup is the set of source records believed to describe one
// real-world entity. Groups are rebuilt every batch; MasterID is
// derived deterministically so reruns of the same input produce the
// same assignment.
type IdentityGroup struct {
	MasterID        string
	EntityType      string
	Members         []*SourceRecord
	MatchConfidence int
	MatchMethod     MatchMethod
}

// MemberFrom returns the group member landed from the given source,
// or nil when that source contributed nothing.
func (g *IdentityGroup) MemberFrom(sourceID string) *SourceRecord {
	for _, m := range g.Members {
		if m.SourceID == sourceID {
			return m
		}
	}
	return nil
}

// NeedsReview reports whether the group should land in the manual
// review queue.
func (g *IdentityGroup) NeedsReview() bool {
	return g.MatchMethod == MatchNone || g.MatchMethod == MatchFuzzy
}
