package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datalign/datalign/internal/testutil"
	"github.com/datalign/datalign/pkg/core"
)

const customerPolicy = `
entity_type: customer
kind: dimension
primary_source: crm
fallback_source: erp
rule: MERGE_FIELDS
key_fields:
  crm: [customer_id]
  erp: [customer_id]
tracked_fields: [email, phone, rating]
quality:
  - field: email
    required: true
    weight: 50
  - field: rating
    range: {min: 0, max: 100}
    weight: 50
`

const orderPolicy = `
entity_type: order_fulfillment
kind: process
depends_on: [customer]
primary_source: oms
rule: SINGLE_SOURCE
key_fields:
  oms: [order_id, event_type]
milestones:
  ordered: [placed, assigned, shipped, delivered]
  terminal: delivered
  id_field: order_id
  milestone_field: event_type
  time_field: event_time
`

// newTestEngine builds an engine over temp policies and an in-memory
// state store.
func newTestEngine(t *testing.T, policies map[string]string) *Engine {
	t.Helper()

	dir := t.TempDir()
	policiesDir := filepath.Join(dir, "policies")
	require.NoError(t, os.MkdirAll(policiesDir, 0o755))
	for name, doc := range policies {
		require.NoError(t, os.WriteFile(filepath.Join(policiesDir, name), []byte(doc), 0o644))
	}

	eng, err := New(Config{PoliciesDir: policiesDir}, testutil.NewTestLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = eng.Close() })
	return eng
}

func land(t *testing.T, eng *Engine, records ...*core.SourceRecord) {
	t.Helper()
	_, err := eng.Store().LandSourceRecords(records)
	require.NoError(t, err)
}

func rec(id, entityType, sourceID, batchID string, payload core.FieldMap) *core.SourceRecord {
	return &core.SourceRecord{
		ID:         id,
		EntityType: entityType,
		SourceID:   sourceID,
		Payload:    payload,
		CapturedAt: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		BatchID:    batchID,
	}
}

func runBatch(t *testing.T, eng *Engine, batchID string, day int) *RunSummary {
	t.Helper()
	summary, err := eng.Run(context.Background(), RunOptions{
		BatchID:   batchID,
		BatchTime: time.Date(2024, 3, day, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	return summary
}

func TestNew_InvalidPolicies(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.yaml"),
		[]byte("entity_type: broken\nkind: dimension\n"), 0o644))

	_, err := New(Config{PoliciesDir: dir}, nil)
	require.Error(t, err)
}

func TestNew_EmptyPoliciesDir(t *testing.T) {
	_, err := New(Config{PoliciesDir: t.TempDir()}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no entity policies")
}

func TestRun_RequiresBatchID(t *testing.T) {
	eng := newTestEngine(t, map[string]string{"customer.yaml": customerPolicy})

	_, err := eng.Run(context.Background(), RunOptions{})
	require.Error(t, err)
}

func TestRun_EmptyBatchIsNoOp(t *testing.T) {
	eng := newTestEngine(t, map[string]string{"customer.yaml": customerPolicy})

	summary := runBatch(t, eng, "b1", 1)
	require.Len(t, summary.Results, 1)
	assert.Equal(t, core.EntityStatusNoOp, summary.Results[0].Status)
	assert.Equal(t, core.RunStatusCompleted, summary.Run.Status)
}

func TestRun_BatchReplayDetected(t *testing.T) {
	eng := newTestEngine(t, map[string]string{"customer.yaml": customerPolicy})

	land(t, eng, rec("crm:1", "customer", "crm", "b1", core.FieldMap{"customer_id": "c1", "email": "a@example.com"}))

	first := runBatch(t, eng, "b1", 1)
	assert.False(t, first.Replayed)

	second := runBatch(t, eng, "b1", 1)
	assert.True(t, second.Replayed)
	assert.Empty(t, second.Results)

	// History was not touched by the replay.
	versions, err := eng.Store().GetVersions("customer", "c1")
	require.NoError(t, err)
	assert.Len(t, versions, 1)
}

func TestRun_ReplayReportsAppliedBatchRun(t *testing.T) {
	eng := newTestEngine(t, map[string]string{"customer.yaml": customerPolicy})

	land(t, eng, rec("crm:1", "customer", "crm", "b1", core.FieldMap{"customer_id": "c1", "email": "a@example.com"}))
	first := runBatch(t, eng, "b1", 1)

	land(t, eng, rec("crm:2", "customer", "crm", "b2", core.FieldMap{"customer_id": "c1", "email": "b@example.com"}))
	runBatch(t, eng, "b2", 2)

	// Replaying b1 after b2 must report b1's run, not the latest one.
	replay := runBatch(t, eng, "b1", 3)
	assert.True(t, replay.Replayed)
	require.NotNil(t, replay.Run)
	assert.Equal(t, "b1", replay.Run.BatchID)
	assert.Equal(t, first.Run.ID, replay.Run.ID)
}

func TestRun_ForceRerunsAppliedBatch(t *testing.T) {
	eng := newTestEngine(t, map[string]string{"customer.yaml": customerPolicy})

	land(t, eng, rec("crm:1", "customer", "crm", "b1", core.FieldMap{"customer_id": "c1", "email": "a@example.com"}))
	runBatch(t, eng, "b1", 1)

	summary, err := eng.Run(context.Background(), RunOptions{
		BatchID:   "b1",
		BatchTime: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		Force:     true,
	})
	require.NoError(t, err)
	assert.False(t, summary.Replayed)

	// The content hash is unchanged, so even a forced rerun writes no
	// new versions.
	require.Len(t, summary.Results, 1)
	assert.Equal(t, 1, summary.Results[0].Unchanged)
	assert.Equal(t, 0, summary.Results[0].NewVersions)
}

func TestRun_EntityTypeFilter(t *testing.T) {
	eng := newTestEngine(t, map[string]string{
		"customer.yaml": customerPolicy,
		"order.yaml":    orderPolicy,
	})

	land(t, eng,
		rec("crm:1", "customer", "crm", "b1", core.FieldMap{"customer_id": "c1", "email": "a@example.com"}),
		rec("oms:1", "order_fulfillment", "oms", "b1", core.FieldMap{"order_id": "o1", "event_type": "placed"}),
	)

	summary, err := eng.Run(context.Background(), RunOptions{
		BatchID:     "b1",
		BatchTime:   time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		EntityTypes: []string{"customer"},
	})
	require.NoError(t, err)
	require.Len(t, summary.Results, 1)
	assert.Equal(t, "customer", summary.Results[0].EntityType)
}

func TestRun_DependencyOrderAndSkipOnFailure(t *testing.T) {
	// The order policy depends on customer; a broken customer checklist
	// must fail customer and skip order_fulfillment, not crash the run.
	brokenCustomer := customerPolicy + `  - field: email
    expr: "value ==="
    weight: 10
`
	eng := newTestEngine(t, map[string]string{
		"customer.yaml": brokenCustomer,
		"order.yaml":    orderPolicy,
	})

	land(t, eng,
		rec("crm:1", "customer", "crm", "b1", core.FieldMap{"customer_id": "c1", "email": "a@example.com"}),
		rec("oms:1", "order_fulfillment", "oms", "b1", core.FieldMap{"order_id": "o1", "event_type": "placed"}),
	)

	summary := runBatch(t, eng, "b1", 1)
	require.Len(t, summary.Results, 2)

	byType := map[string]*core.EntityResult{}
	for _, r := range summary.Results {
		byType[r.EntityType] = r
	}
	assert.Equal(t, core.EntityStatusFailed, byType["customer"].Status)
	assert.Equal(t, core.EntityStatusSkipped, byType["order_fulfillment"].Status)
	assert.Contains(t, byType["order_fulfillment"].Error, "dependency customer failed")
	assert.Equal(t, core.RunStatusFailed, summary.Run.Status)
}

func TestRun_PartialStatus(t *testing.T) {
	// Two independent entity types: one fails, one succeeds.
	brokenOrder := `
entity_type: order_fulfillment
kind: process
primary_source: oms
rule: SINGLE_SOURCE
key_fields:
  oms: [order_id, event_type]
milestones:
  ordered: [placed, delivered]
  terminal: delivered
  id_field: order_id
  milestone_field: event_type
quality:
  - field: order_id
    expr: "len(value =="
    weight: 10
`
	eng := newTestEngine(t, map[string]string{
		"customer.yaml": customerPolicy,
		"order.yaml":    brokenOrder,
	})

	land(t, eng,
		rec("crm:1", "customer", "crm", "b1", core.FieldMap{"customer_id": "c1", "email": "a@example.com"}),
		rec("oms:1", "order_fulfillment", "oms", "b1", core.FieldMap{"order_id": "o1", "event_type": "placed"}),
	)

	summary := runBatch(t, eng, "b1", 1)
	assert.Equal(t, core.RunStatusPartial, summary.Run.Status)
	assert.Contains(t, summary.Run.Error, "order_fulfillment")
}

func TestRun_RecordsEntityResults(t *testing.T) {
	eng := newTestEngine(t, map[string]string{"customer.yaml": customerPolicy})

	land(t, eng,
		rec("crm:1", "customer", "crm", "b1", core.FieldMap{"customer_id": "c1", "email": "a@example.com", "rating": "42"}),
		rec("erp:1", "customer", "erp", "b1", core.FieldMap{"customer_id": "c1", "phone": "111"}),
	)

	summary := runBatch(t, eng, "b1", 1)

	stored, err := eng.Store().GetEntityResults(summary.Run.ID)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, 2, stored[0].Records)
	assert.Equal(t, 1, stored[0].Groups)
	assert.Equal(t, 1, stored[0].NewEntities)

	// The canonical surface carries the merged fields and provenance.
	canonicals, err := eng.Store().GetCanonicalRecords("customer")
	require.NoError(t, err)
	require.Len(t, canonicals, 1)
	assert.Equal(t, "a@example.com", canonicals[0].Fields.Get("email"))
	assert.Equal(t, "111", canonicals[0].Fields.Get("phone"))
	assert.Equal(t, "crm", canonicals[0].FieldSources["email"])
	assert.Equal(t, "erp", canonicals[0].FieldSources["phone"])
	assert.Equal(t, 100, canonicals[0].QualityScore)
}
