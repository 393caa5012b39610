package core

import "time"

// BatchContext carries the batch identity through every stage call.
// It is always passed explicitly; no package holds it as ambient state.
type BatchContext struct {
	// BatchID is the externally supplied, stable batch identifier.
	BatchID string
	// BatchTime is the single timestamp used for all versioning writes
	// in this batch, so close/open interval endpoints line up exactly.
	BatchTime time.Time
}

// RunStatus represents the status of a batch run.
type RunStatus string

// Run status constants.
const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusPartial   RunStatus = "partial"
)

// Run represents one execution of a batch through the pipeline.
type Run struct {
	ID          string
	BatchID     string
	Status      RunStatus
	StartedAt   time.Time
	CompletedAt *time.Time
	Error       string
}

// EntityResultStatus is the per-entity-type outcome inside one run.
type EntityResultStatus string

// Entity result status constants.
const (
	EntityStatusSuccess EntityResultStatus = "success"
	EntityStatusFailed  EntityResultStatus = "failed"
	EntityStatusSkipped EntityResultStatus = "skipped"
	EntityStatusNoOp    EntityResultStatus = "noop"
)

// EntityResult summarizes one entity type's pipeline inside a run.
// Failures are reported at this granularity: one bad entity type never
// blocks unrelated ones.
type EntityResult struct {
	ID          string
	RunID       string
	EntityType  string
	Status      EntityResultStatus
	Records     int
	Groups      int
	Conflicts   int
	NewEntities int
	NewVersions int
	Unchanged   int
	Milestones  int
	ReviewFlags int
	Error       string
	DurationMS  int64
}
