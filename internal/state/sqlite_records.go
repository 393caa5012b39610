package state

import (
	"fmt"

	"github.com/datalign/datalign/pkg/core"
)

// LandSourceRecords appends raw source records to the landing zone.
// Records that already exist (same id) are skipped so re-landing the
// same file is harmless. Returns the number of records inserted.
func (s *SQLiteStore) LandSourceRecords(records []*core.SourceRecord) (int, error) {
	if s.db == nil {
		return 0, fmt.Errorf("database not opened")
	}
	if len(records) == 0 {
		return 0, nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.Prepare(
		`INSERT OR IGNORE INTO source_records
		 (id, entity_type, source_id, business_key, payload, captured_at, batch_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	inserted := 0
	for _, rec := range records {
		if rec.ID == "" {
			rec.ID = generateID()
		}
		payload, err := marshalFields(rec.Payload)
		if err != nil {
			return 0, fmt.Errorf("failed to encode payload for %s: %w", rec.ID, err)
		}
		res, err := stmt.Exec(rec.ID, rec.EntityType, rec.SourceID, rec.BusinessKey,
			payload, rec.CapturedAt, rec.BatchID)
		if err != nil {
			return 0, fmt.Errorf("failed to land source record %s: %w", rec.ID, err)
		}
		n, _ := res.RowsAffected()
		inserted += int(n)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit landing: %w", err)
	}
	return inserted, nil
}

// GetSourceRecords retrieves landed records for one entity type and
// batch, ordered by source then record id for stable processing.
func (s *SQLiteStore) GetSourceRecords(entityType, batchID string) ([]*core.SourceRecord, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}

	rows, err := s.db.Query(
		`SELECT id, entity_type, source_id, business_key, payload, captured_at, batch_id
		 FROM source_records
		 WHERE entity_type = ? AND batch_id = ?
		 ORDER BY source_id, id`, entityType, batchID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get source records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []*core.SourceRecord
	for rows.Next() {
		rec := &core.SourceRecord{}
		var payload string
		err := rows.Scan(&rec.ID, &rec.EntityType, &rec.SourceID, &rec.BusinessKey,
			&payload, &rec.CapturedAt, &rec.BatchID)
		if err != nil {
			return nil, fmt.Errorf("failed to scan source record: %w", err)
		}
		rec.Payload, err = unmarshalFields(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to decode payload for %s: %w", rec.ID, err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// BatchSeen reports whether a run has already been recorded for the
// given batch id.
func (s *SQLiteStore) BatchSeen(batchID string) (bool, error) {
	if s.db == nil {
		return false, fmt.Errorf("database not opened")
	}

	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM runs WHERE batch_id = ?`, batchID).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check batch: %w", err)
	}
	return count > 0, nil
}
