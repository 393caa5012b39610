// Package milestone maintains accumulating snapshots for long-running
// process entities: one mutable row per process instance, updated in
// place as milestone events arrive. This is deliberately the opposite
// of the history store's versioning; a process instance is never
// versioned.
package milestone

import (
	"log/slog"
	"sort"
	"time"

	"github.com/datalign/datalign/internal/policy"
	"github.com/datalign/datalign/pkg/core"
)

// Accumulator applies milestone events to process instances under a
// milestone schema.
type Accumulator struct {
	schema *policy.MilestoneSchema
	store  core.Store
	logger *slog.Logger
}

// NewAccumulator creates an accumulator for one process entity type.
func NewAccumulator(schema *policy.MilestoneSchema, store core.Store, logger *slog.Logger) *Accumulator {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Accumulator{schema: schema, store: store, logger: logger}
}

// Record applies one milestone event. Events for unknown milestones
// are rejected as policy errors by the caller before they get here;
// repeats follow the milestone's repeat policy and an instance that
// already reached its terminal milestone is read-only.
func (a *Accumulator) Record(ev *core.MilestoneEvent, bc core.BatchContext) (core.MilestoneEffect, error) {
	inst, err := a.store.GetProcessInstance(ev.EntityType, ev.ProcessID)
	if err != nil {
		return "", err
	}

	effect := core.MilestoneUpdated
	if inst == nil {
		inst = &core.ProcessInstance{
			ProcessID:      ev.ProcessID,
			EntityType:     ev.EntityType,
			Milestones:     map[string]core.MilestoneSlot{},
			CreatedBatchID: bc.BatchID,
			CreatedAt:      bc.BatchTime,
		}
		effect = core.MilestoneCreated
	}

	if inst.Terminal {
		a.logger.Debug("ignored event for terminal instance",
			"entity_type", ev.EntityType, "process_id", ev.ProcessID, "milestone", ev.Milestone)
		return core.MilestoneIgnoredOutOfOrder, nil
	}

	if inst.Reached(ev.Milestone) && a.schema.RepeatPolicyFor(ev.Milestone) == core.RepeatIgnore {
		a.logger.Debug("ignored repeat milestone",
			"entity_type", ev.EntityType, "process_id", ev.ProcessID, "milestone", ev.Milestone)
		return core.MilestoneIgnoredDuplicate, nil
	}

	inst.Milestones[ev.Milestone] = core.MilestoneSlot{
		ReachedAt: ev.OccurredAt,
		Payload:   ev.Payload,
	}
	inst.Status = a.deriveStatus(inst)
	inst.Terminal = a.schema.Terminal != "" && inst.Reached(a.schema.Terminal)
	inst.Durations = a.deriveDurations(inst)
	inst.UpdatedBatchID = bc.BatchID
	inst.UpdatedAt = bc.BatchTime

	if err := a.store.UpsertProcessInstance(inst); err != nil {
		return "", err
	}
	return effect, nil
}

// deriveStatus is a pure function of the populated slots: the name of
// the furthest milestone reached in the schema ordering.
func (a *Accumulator) deriveStatus(inst *core.ProcessInstance) string {
	status := ""
	best := -1
	for name := range inst.Milestones {
		if i := a.schema.Index(name); i > best {
			best = i
			status = name
		}
	}
	return status
}

// deriveDurations measures every consecutive reached pair in the
// ordering plus the named pairs the schema declares. A pair with a
// missing endpoint is simply absent.
func (a *Accumulator) deriveDurations(inst *core.ProcessInstance) map[string]time.Duration {
	durations := map[string]time.Duration{}

	prev := ""
	for _, name := range a.schema.Ordered {
		if !inst.Reached(name) {
			continue
		}
		if prev != "" {
			durations[prev+"_to_"+name] = inst.Milestones[name].ReachedAt.Sub(inst.Milestones[prev].ReachedAt)
		}
		prev = name
	}

	names := make([]string, 0, len(a.schema.Durations))
	for name := range a.schema.Durations {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		spec := a.schema.Durations[name]
		if !inst.Reached(spec.From) || !inst.Reached(spec.To) {
			continue
		}
		durations[name] = inst.Milestones[spec.To].ReachedAt.Sub(inst.Milestones[spec.From].ReachedAt)
	}

	return durations
}

// EventFromCanonical projects a canonical record into a milestone
// event using the schema's field mapping. The timestamp comes from the
// schema's time field when present and parsable, falling back to
// capturedAt.
func EventFromCanonical(rec *core.CanonicalRecord, schema *policy.MilestoneSchema, capturedAt time.Time) *core.MilestoneEvent {
	occurredAt := capturedAt
	if schema.TimeField != "" && !rec.Fields.IsNull(schema.TimeField) {
		if t, err := time.Parse(time.RFC3339, rec.Fields.Get(schema.TimeField)); err == nil {
			occurredAt = t
		}
	}
	return &core.MilestoneEvent{
		ProcessID:  rec.Fields.Get(schema.IDField),
		EntityType: rec.EntityType,
		Milestone:  rec.Fields.Get(schema.MilestoneField),
		OccurredAt: occurredAt,
		Payload:    rec.Fields.Clone(),
		BatchID:    rec.BatchID,
	}
}
