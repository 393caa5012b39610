// Package state persists the engine's durable surfaces in SQLite:
// batch runs, the source-record landing zone, canonical and conflict
// outputs, history versions, process instances, and the manual review
// queue.
package state

import (
	"github.com/datalign/datalign/pkg/core"
)

// Store is an alias for core.Store so callers inside internal/ can
// depend on this package without importing pkg/core directly.
type Store = core.Store

// Re-export run status constants for convenience.
const (
	RunStatusRunning   = core.RunStatusRunning
	RunStatusCompleted = core.RunStatusCompleted
	RunStatusFailed    = core.RunStatusFailed
	RunStatusPartial   = core.RunStatusPartial
)
