package history

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datalign/datalign/internal/state"
	"github.com/datalign/datalign/pkg/core"
)

func newTestVersioner(t *testing.T) (*Versioner, core.Store) {
	t.Helper()
	store := state.NewSQLiteStore(nil)
	require.NoError(t, store.Open(":memory:"))
	require.NoError(t, store.Migrate())
	t.Cleanup(func() { _ = store.Close() })
	return NewVersioner(store, nil), store
}

func canonical(hash string, fields core.FieldMap) *core.CanonicalRecord {
	return &core.CanonicalRecord{
		EntityType:  "customer",
		MasterID:    "c1",
		Fields:      fields,
		ContentHash: hash,
	}
}

func batch(id string, day int) core.BatchContext {
	return core.BatchContext{
		BatchID:   id,
		BatchTime: time.Date(2024, 3, day, 0, 0, 0, 0, time.UTC),
	}
}

func TestApply_NewEntity(t *testing.T) {
	v, store := newTestVersioner(t)

	effect, err := v.Apply(canonical("h1", core.FieldMap{"email": "a@example.com"}), batch("b1", 1))
	require.NoError(t, err)
	assert.Equal(t, core.EffectNewEntity, effect)

	current, err := store.GetCurrentVersion("customer", "c1")
	require.NoError(t, err)
	require.NotNil(t, current)
	assert.Equal(t, "h1", current.ContentHash)
	assert.Nil(t, current.ValidTo)
	assert.True(t, current.IsCurrent)
	assert.Equal(t, batch("b1", 1).BatchTime, current.ValidFrom.UTC())
}

func TestApply_NoChangeIsIdempotent(t *testing.T) {
	v, store := newTestVersioner(t)

	rec := canonical("h1", core.FieldMap{"email": "a@example.com"})
	_, err := v.Apply(rec, batch("b1", 1))
	require.NoError(t, err)

	// Same hash in a later batch writes nothing.
	effect, err := v.Apply(rec, batch("b2", 2))
	require.NoError(t, err)
	assert.Equal(t, core.EffectNoChange, effect)

	versions, err := store.GetVersions("customer", "c1")
	require.NoError(t, err)
	assert.Len(t, versions, 1)
}

func TestApply_NewVersionClosesOld(t *testing.T) {
	v, store := newTestVersioner(t)

	_, err := v.Apply(canonical("h1", core.FieldMap{"email": "a@example.com"}), batch("b1", 1))
	require.NoError(t, err)

	b2 := batch("b2", 2)
	effect, err := v.Apply(canonical("h2", core.FieldMap{"email": "b@example.com"}), b2)
	require.NoError(t, err)
	assert.Equal(t, core.EffectNewVersion, effect)

	versions, err := store.GetVersions("customer", "c1")
	require.NoError(t, err)
	require.Len(t, versions, 2)

	// Close and open meet at the same instant.
	require.NotNil(t, versions[0].ValidTo)
	assert.Equal(t, b2.BatchTime, versions[0].ValidTo.UTC())
	assert.Equal(t, b2.BatchTime, versions[1].ValidFrom.UTC())
	assert.False(t, versions[0].IsCurrent)
	assert.True(t, versions[1].IsCurrent)

	count, err := store.CountCurrentVersions("customer", "c1")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestApply_ChainPartitionsTime(t *testing.T) {
	v, store := newTestVersioner(t)

	hashes := []string{"h1", "h2", "h3"}
	for i, h := range hashes {
		_, err := v.Apply(canonical(h, core.FieldMap{"v": h}), batch("b", i+1))
		require.NoError(t, err)
	}

	versions, err := store.GetVersions("customer", "c1")
	require.NoError(t, err)
	require.Len(t, versions, 3)

	for i := 0; i < len(versions)-1; i++ {
		require.NotNil(t, versions[i].ValidTo)
		assert.Equal(t, versions[i+1].ValidFrom, *versions[i].ValidTo,
			"interval %d must end where interval %d begins", i, i+1)
	}
	assert.Nil(t, versions[len(versions)-1].ValidTo)

	// Point-in-time lookups resolve to exactly one version.
	at, err := store.GetVersionAt("customer", "c1", batch("", 2).BatchTime.Add(6*time.Hour))
	require.NoError(t, err)
	require.NotNil(t, at)
	assert.Equal(t, "h2", at.ContentHash)

	// An instant on a boundary belongs to the newer interval.
	at, err = store.GetVersionAt("customer", "c1", batch("", 3).BatchTime)
	require.NoError(t, err)
	require.NotNil(t, at)
	assert.Equal(t, "h3", at.ContentHash)
}

// corruptStore reports two current rows regardless of what is stored,
// standing in for a database whose unique index guard was bypassed.
type corruptStore struct {
	core.Store
}

func (corruptStore) CountCurrentVersions(entityType, masterID string) (int, error) {
	return 2, nil
}

func TestApply_CorruptedHistoryIsReported(t *testing.T) {
	_, store := newTestVersioner(t)
	v := NewVersioner(corruptStore{store}, nil)

	_, err := v.Apply(canonical("h3", core.FieldMap{}), batch("b1", 1))
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrConsistencyViolation))

	var cerr *core.ConsistencyError
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, "customer", cerr.EntityType)
	assert.Equal(t, "c1", cerr.MasterID)
}
