package milestone

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datalign/datalign/internal/policy"
	"github.com/datalign/datalign/internal/state"
	"github.com/datalign/datalign/pkg/core"
)

func orderSchema() *policy.MilestoneSchema {
	return &policy.MilestoneSchema{
		Ordered:        []string{"placed", "paid", "shipped", "delivered"},
		Terminal:       "delivered",
		IDField:        "order_id",
		MilestoneField: "event_type",
		TimeField:      "event_time",
		Durations: map[string]policy.DurationSpec{
			"order_to_delivery": {From: "placed", To: "delivered"},
		},
	}
}

func newTestAccumulator(t *testing.T, schema *policy.MilestoneSchema) (*Accumulator, core.Store) {
	t.Helper()
	store := state.NewSQLiteStore(nil)
	require.NoError(t, store.Open(":memory:"))
	require.NoError(t, store.Migrate())
	t.Cleanup(func() { _ = store.Close() })
	return NewAccumulator(schema, store, nil), store
}

func event(processID, milestone string, at time.Time) *core.MilestoneEvent {
	return &core.MilestoneEvent{
		ProcessID:  processID,
		EntityType: "order_fulfillment",
		Milestone:  milestone,
		OccurredAt: at,
		BatchID:    "b1",
	}
}

func bc(id string, day int) core.BatchContext {
	return core.BatchContext{BatchID: id, BatchTime: time.Date(2024, 3, day, 0, 0, 0, 0, time.UTC)}
}

var t0 = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

func TestRecord_CreatesInstance(t *testing.T) {
	acc, store := newTestAccumulator(t, orderSchema())

	effect, err := acc.Record(event("ord-1", "placed", t0), bc("b1", 1))
	require.NoError(t, err)
	assert.Equal(t, core.MilestoneCreated, effect)

	inst, err := store.GetProcessInstance("order_fulfillment", "ord-1")
	require.NoError(t, err)
	require.NotNil(t, inst)
	assert.Equal(t, "placed", inst.Status)
	assert.False(t, inst.Terminal)
	assert.Equal(t, "b1", inst.CreatedBatchID)
	assert.Empty(t, inst.Durations)
}

func TestRecord_AccumulatesAndDerives(t *testing.T) {
	acc, store := newTestAccumulator(t, orderSchema())

	_, err := acc.Record(event("ord-1", "placed", t0), bc("b1", 1))
	require.NoError(t, err)
	effect, err := acc.Record(event("ord-1", "shipped", t0.Add(48*time.Hour)), bc("b2", 2))
	require.NoError(t, err)
	assert.Equal(t, core.MilestoneUpdated, effect)

	inst, err := store.GetProcessInstance("order_fulfillment", "ord-1")
	require.NoError(t, err)

	// Status is the furthest reached slot even with paid missing.
	assert.Equal(t, "shipped", inst.Status)
	// placed and shipped are the consecutive reached pair; the pairs
	// involving the unreached paid slot are absent, not zero.
	assert.Equal(t, 48*time.Hour, inst.Durations["placed_to_shipped"])
	assert.NotContains(t, inst.Durations, "placed_to_paid")
	assert.NotContains(t, inst.Durations, "paid_to_shipped")
	assert.NotContains(t, inst.Durations, "order_to_delivery")
	assert.Equal(t, "b1", inst.CreatedBatchID)
	assert.Equal(t, "b2", inst.UpdatedBatchID)
}

func TestRecord_OutOfOrderArrivalBackfills(t *testing.T) {
	acc, store := newTestAccumulator(t, orderSchema())

	// shipped arrives before paid; the paid event carries the earlier
	// real-world timestamp and slots in correctly.
	_, err := acc.Record(event("ord-1", "placed", t0), bc("b1", 1))
	require.NoError(t, err)
	_, err = acc.Record(event("ord-1", "shipped", t0.Add(48*time.Hour)), bc("b2", 2))
	require.NoError(t, err)
	_, err = acc.Record(event("ord-1", "paid", t0.Add(2*time.Hour)), bc("b3", 3))
	require.NoError(t, err)

	inst, err := store.GetProcessInstance("order_fulfillment", "ord-1")
	require.NoError(t, err)
	assert.Equal(t, "shipped", inst.Status)
	assert.Equal(t, 2*time.Hour, inst.Durations["placed_to_paid"])
	assert.Equal(t, 46*time.Hour, inst.Durations["paid_to_shipped"])
	assert.NotContains(t, inst.Durations, "placed_to_shipped")
}

func TestRecord_RepeatIgnoredByDefault(t *testing.T) {
	acc, store := newTestAccumulator(t, orderSchema())

	_, err := acc.Record(event("ord-1", "placed", t0), bc("b1", 1))
	require.NoError(t, err)

	effect, err := acc.Record(event("ord-1", "placed", t0.Add(time.Hour)), bc("b2", 2))
	require.NoError(t, err)
	assert.Equal(t, core.MilestoneIgnoredDuplicate, effect)

	inst, err := store.GetProcessInstance("order_fulfillment", "ord-1")
	require.NoError(t, err)
	// First write wins.
	assert.Equal(t, t0, inst.Milestones["placed"].ReachedAt.UTC())
	assert.Equal(t, "b1", inst.UpdatedBatchID)
}

func TestRecord_RepeatOverwriteWhenConfigured(t *testing.T) {
	schema := orderSchema()
	schema.OnRepeat = map[string]core.RepeatPolicy{"shipped": core.RepeatOverwrite}
	acc, store := newTestAccumulator(t, schema)

	_, err := acc.Record(event("ord-1", "shipped", t0), bc("b1", 1))
	require.NoError(t, err)

	effect, err := acc.Record(event("ord-1", "shipped", t0.Add(3*time.Hour)), bc("b2", 2))
	require.NoError(t, err)
	assert.Equal(t, core.MilestoneUpdated, effect)

	inst, err := store.GetProcessInstance("order_fulfillment", "ord-1")
	require.NoError(t, err)
	assert.Equal(t, t0.Add(3*time.Hour), inst.Milestones["shipped"].ReachedAt.UTC())
}

func TestRecord_TerminalFreezesInstance(t *testing.T) {
	acc, store := newTestAccumulator(t, orderSchema())

	_, err := acc.Record(event("ord-1", "placed", t0), bc("b1", 1))
	require.NoError(t, err)
	_, err = acc.Record(event("ord-1", "delivered", t0.Add(72*time.Hour)), bc("b2", 2))
	require.NoError(t, err)

	inst, err := store.GetProcessInstance("order_fulfillment", "ord-1")
	require.NoError(t, err)
	assert.True(t, inst.Terminal)
	assert.Equal(t, "delivered", inst.Status)
	assert.Equal(t, 72*time.Hour, inst.Durations["order_to_delivery"])

	// Any further event, even for an empty slot, is ignored.
	effect, err := acc.Record(event("ord-1", "paid", t0.Add(time.Hour)), bc("b3", 3))
	require.NoError(t, err)
	assert.Equal(t, core.MilestoneIgnoredOutOfOrder, effect)

	inst, err = store.GetProcessInstance("order_fulfillment", "ord-1")
	require.NoError(t, err)
	assert.False(t, inst.Reached("paid"))
	assert.Equal(t, "b2", inst.UpdatedBatchID)
}

func TestRecord_DistinctProcessesStayIndependent(t *testing.T) {
	acc, store := newTestAccumulator(t, orderSchema())

	_, err := acc.Record(event("ord-1", "placed", t0), bc("b1", 1))
	require.NoError(t, err)
	_, err = acc.Record(event("ord-2", "shipped", t0), bc("b1", 1))
	require.NoError(t, err)

	instances, err := store.ListProcessInstances("order_fulfillment", 0)
	require.NoError(t, err)
	assert.Len(t, instances, 2)
}

func TestEventFromCanonical(t *testing.T) {
	schema := orderSchema()
	captured := time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC)

	rec := &core.CanonicalRecord{
		EntityType: "order_fulfillment",
		BatchID:    "b1",
		Fields: core.FieldMap{
			"order_id":   "ord-9",
			"event_type": "shipped",
			"event_time": "2024-03-01T15:30:00Z",
			"carrier":    "dhl",
		},
	}

	ev := EventFromCanonical(rec, schema, captured)
	assert.Equal(t, "ord-9", ev.ProcessID)
	assert.Equal(t, "shipped", ev.Milestone)
	assert.Equal(t, time.Date(2024, 3, 1, 15, 30, 0, 0, time.UTC), ev.OccurredAt)
	assert.Equal(t, "dhl", ev.Payload.Get("carrier"))

	// Unparsable event time falls back to the capture time.
	rec.Fields["event_time"] = "yesterday-ish"
	ev = EventFromCanonical(rec, schema, captured)
	assert.Equal(t, captured, ev.OccurredAt)
}
