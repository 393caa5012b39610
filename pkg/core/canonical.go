package core

import "time"

// CanonicalRecord is the merged, policy-applied view of one identity
// group. Recomputed every batch; the content hash over tracked fields
// is what the history store compares for change detection.
type CanonicalRecord struct {
	MasterID   string
	EntityType string
	BatchID    string
	Fields     FieldMap
	// FieldSources maps each populated field to the source system that
	// supplied its resolved value, for auditability.
	FieldSources    map[string]string
	QualityScore    int
	QualityIssues   []string
	ContentHash     string
	MatchMethod     MatchMethod
	MatchConfidence int
}

// ConflictLogEntry records one disagreement between sources on a
// single field for a single master id. Append-only, never mutated.
type ConflictLogEntry struct {
	ID             string
	EntityType     string
	MasterID       string
	FieldName      string
	PrimaryValue   string
	FallbackValue  string
	ResolvedValue  string
	ResolutionRule ReconciliationRule
	BatchID        string
	CreatedAt      time.Time
}
