package core

import "time"

// Store defines the interface for state persistence: landed source
// records, batch runs, canonical/conflict surfaces, history versions,
// process instances, and the manual review queue.
type Store interface {
	Open(path string) error
	Close() error
	Migrate() error

	// Run operations
	CreateRun(batchID string) (*Run, error)
	GetRun(id string) (*Run, error)
	CompleteRun(id string, status RunStatus, errMsg string) error
	GetLatestRun() (*Run, error)
	GetRunByBatch(batchID string) (*Run, error)
	ListRuns(limit int) ([]*Run, error)
	RecordEntityResult(res *EntityResult) error
	GetEntityResults(runID string) ([]*EntityResult, error)

	// Source record landing zone (append-only)
	LandSourceRecords(records []*SourceRecord) (int, error)
	GetSourceRecords(entityType, batchID string) ([]*SourceRecord, error)
	BatchSeen(batchID string) (bool, error)

	// Canonical/conflict surface (replace set scoped by batch)
	ReplaceCanonicalRecords(entityType, batchID string, records []*CanonicalRecord) error
	GetCanonicalRecords(entityType string) ([]*CanonicalRecord, error)
	AppendConflicts(entries []*ConflictLogEntry) error
	GetConflicts(entityType string, limit int) ([]*ConflictLogEntry, error)
	CountConflicts(entityType, masterID, fieldName, batchID string) (int, error)

	// History surface
	GetCurrentVersion(entityType, masterID string) (*HistoryVersion, error)
	CountCurrentVersions(entityType, masterID string) (int, error)
	InsertVersion(v *HistoryVersion) error
	CloseAndInsertVersion(closeID string, closedAt time.Time, next *HistoryVersion) error
	GetVersions(entityType, masterID string) ([]*HistoryVersion, error)
	GetVersionAt(entityType, masterID string, at time.Time) (*HistoryVersion, error)
	ListCurrentVersions(entityType string) ([]*HistoryVersion, error)

	// Process surface
	GetProcessInstance(entityType, processID string) (*ProcessInstance, error)
	UpsertProcessInstance(p *ProcessInstance) error
	ListProcessInstances(entityType string, limit int) ([]*ProcessInstance, error)

	// Manual review queue
	FlagForReview(entityType, masterID, batchID, reason string) error
	ListReviewQueue(entityType string) ([]*ReviewEntry, error)
}

// ReviewEntry is one identity group flagged for manual review because
// automatic matching could not produce a trustworthy assignment.
type ReviewEntry struct {
	ID         string
	EntityType string
	MasterID   string
	BatchID    string
	Reason     string
	CreatedAt  time.Time
}
