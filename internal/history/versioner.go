// Package history maintains the temporal dimension: for each master id
// a gapless, non-overlapping chain of versions with exactly one open
// row. Versions are only ever created and closed, never deleted.
package history

import (
	"log/slog"

	"github.com/datalign/datalign/pkg/core"
)

// Versioner applies canonical records to the version store using
// content-hash change detection.
type Versioner struct {
	store  core.Store
	logger *slog.Logger
}

// NewVersioner creates a versioner backed by the given store.
func NewVersioner(store core.Store, logger *slog.Logger) *Versioner {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Versioner{store: store, logger: logger}
}

// Apply writes one canonical record into the history. The outcome is
// one of three effects: nothing (hash unchanged), a first version for
// a new entity, or a close-and-open transition at the batch time.
// Applying the same canonical record twice in a row is a no-op the
// second time.
func (v *Versioner) Apply(rec *core.CanonicalRecord, bc core.BatchContext) (core.ApplyEffect, error) {
	count, err := v.store.CountCurrentVersions(rec.EntityType, rec.MasterID)
	if err != nil {
		return "", err
	}
	if count > 1 {
		// Corruption is surfaced, never repaired in place.
		return "", &core.ConsistencyError{
			EntityType: rec.EntityType,
			MasterID:   rec.MasterID,
			Detail:     "multiple current versions found at batch start",
		}
	}

	current, err := v.store.GetCurrentVersion(rec.EntityType, rec.MasterID)
	if err != nil {
		return "", err
	}

	if current == nil {
		next := &core.HistoryVersion{
			EntityType:  rec.EntityType,
			MasterID:    rec.MasterID,
			Fields:      rec.Fields.Clone(),
			ContentHash: rec.ContentHash,
			ValidFrom:   bc.BatchTime,
			IsCurrent:   true,
			BatchID:     bc.BatchID,
		}
		if err := v.store.InsertVersion(next); err != nil {
			return "", err
		}
		v.logger.Debug("opened first version",
			"entity_type", rec.EntityType, "master_id", rec.MasterID, "batch_id", bc.BatchID)
		return core.EffectNewEntity, nil
	}

	if current.ContentHash == rec.ContentHash {
		return core.EffectNoChange, nil
	}

	// Close and open share the same instant so intervals stay gapless.
	next := &core.HistoryVersion{
		EntityType:  rec.EntityType,
		MasterID:    rec.MasterID,
		Fields:      rec.Fields.Clone(),
		ContentHash: rec.ContentHash,
		ValidFrom:   bc.BatchTime,
		IsCurrent:   true,
		BatchID:     bc.BatchID,
	}
	if err := v.store.CloseAndInsertVersion(current.ID, bc.BatchTime, next); err != nil {
		return "", err
	}
	v.logger.Debug("opened new version",
		"entity_type", rec.EntityType, "master_id", rec.MasterID,
		"batch_id", bc.BatchID, "previous_hash", current.ContentHash, "hash", rec.ContentHash)
	return core.EffectNewVersion, nil
}
