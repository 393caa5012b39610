package core

import "time"

// MilestoneEffect is the outcome of recording a milestone event.
type MilestoneEffect string

// Milestone effect constants.
const (
	// MilestoneCreated means the event created the process instance.
	MilestoneCreated MilestoneEffect = "CREATED"
	// MilestoneUpdated means an existing instance was updated in place.
	MilestoneUpdated MilestoneEffect = "UPDATED"
	// MilestoneIgnoredDuplicate means the slot was already populated and
	// the milestone's repeat policy is first-write-wins.
	MilestoneIgnoredDuplicate MilestoneEffect = "IGNORED_DUPLICATE"
	// MilestoneIgnoredOutOfOrder means the instance already reached a
	// terminal milestone and is read-only.
	MilestoneIgnoredOutOfOrder MilestoneEffect = "IGNORED_OUT_OF_ORDER"
)

// RepeatPolicy selects what happens when an event arrives for an
// already-populated milestone slot.
type RepeatPolicy string

// Repeat policy constants. The default is first-write-wins; overwrite
// must be opted into per milestone because the two give materially
// different audit semantics.
const (
	RepeatIgnore    RepeatPolicy = "ignore"
	RepeatOverwrite RepeatPolicy = "overwrite"
)

// MilestoneEvent is an incoming signal that a named milestone occurred
// for a process instance. The idempotency key is
// (ProcessID, Milestone).
type MilestoneEvent struct {
	ProcessID  string
	EntityType string
	Milestone  string
	OccurredAt time.Time
	Payload    FieldMap
	BatchID    string
}

// MilestoneSlot is one named, nullable-until-reached slot on a process
// instance.
type MilestoneSlot struct {
	ReachedAt time.Time `json:"reached_at"`
	Payload   FieldMap  `json:"payload,omitempty"`
}

// ProcessInstance is the accumulating snapshot for one long-running
// process: a single mutable row updated in place as milestones arrive,
// never versioned. Once a terminal milestone is reached the instance
// becomes read-only.
type ProcessInstance struct {
	ProcessID  string
	EntityType string
	// Milestones holds the populated slots keyed by milestone name.
	Milestones map[string]MilestoneSlot
	// Durations holds derived durations between consecutive reached
	// milestones; a pair with a missing endpoint is absent, not zero.
	Durations map[string]time.Duration
	// Status is derived from which slots are populated, never stored as
	// an independent source of truth.
	Status         string
	Terminal       bool
	CreatedBatchID string
	UpdatedBatchID string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Reached reports whether the named milestone slot is populated.
func (p *ProcessInstance) Reached(name string) bool {
	_, ok := p.Milestones[name]
	return ok
}
