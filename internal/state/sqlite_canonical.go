package state

import (
	"fmt"
	"time"

	"github.com/datalign/datalign/pkg/core"
)

// ReplaceCanonicalRecords swaps out the canonical surface for one
// entity type in a single transaction. The canonical view is fully
// recomputed each batch, so the previous set is simply replaced.
func (s *SQLiteStore) ReplaceCanonicalRecords(entityType, batchID string, records []*core.CanonicalRecord) error {
	if s.db == nil {
		return fmt.Errorf("database not opened")
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM canonical_records WHERE entity_type = ?`, entityType); err != nil {
		return fmt.Errorf("failed to clear canonical records: %w", err)
	}

	stmt, err := tx.Prepare(
		`INSERT INTO canonical_records
		 (entity_type, master_id, batch_id, fields, field_sources, quality_score,
		  quality_issues, content_hash, match_method, match_confidence)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, rec := range records {
		fields, err := marshalFields(rec.Fields)
		if err != nil {
			return fmt.Errorf("failed to encode fields for %s: %w", rec.MasterID, err)
		}
		sources, err := marshalStringMap(rec.FieldSources)
		if err != nil {
			return fmt.Errorf("failed to encode field sources for %s: %w", rec.MasterID, err)
		}
		issues, err := marshalStrings(rec.QualityIssues)
		if err != nil {
			return fmt.Errorf("failed to encode quality issues for %s: %w", rec.MasterID, err)
		}
		_, err = stmt.Exec(entityType, rec.MasterID, batchID, fields, sources,
			rec.QualityScore, issues, rec.ContentHash, rec.MatchMethod, rec.MatchConfidence)
		if err != nil {
			return fmt.Errorf("failed to insert canonical record %s: %w", rec.MasterID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit canonical records: %w", err)
	}
	return nil
}

// GetCanonicalRecords retrieves the canonical surface for an entity
// type, ordered by master id.
func (s *SQLiteStore) GetCanonicalRecords(entityType string) ([]*core.CanonicalRecord, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}

	rows, err := s.db.Query(
		`SELECT entity_type, master_id, batch_id, fields, field_sources, quality_score,
		        quality_issues, content_hash, match_method, match_confidence
		 FROM canonical_records WHERE entity_type = ? ORDER BY master_id`, entityType,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get canonical records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []*core.CanonicalRecord
	for rows.Next() {
		rec := &core.CanonicalRecord{}
		var fields, sources, issues string
		err := rows.Scan(&rec.EntityType, &rec.MasterID, &rec.BatchID, &fields, &sources,
			&rec.QualityScore, &issues, &rec.ContentHash, &rec.MatchMethod, &rec.MatchConfidence)
		if err != nil {
			return nil, fmt.Errorf("failed to scan canonical record: %w", err)
		}
		if rec.Fields, err = unmarshalFields(fields); err != nil {
			return nil, fmt.Errorf("failed to decode fields for %s: %w", rec.MasterID, err)
		}
		if rec.FieldSources, err = unmarshalStringMap(sources); err != nil {
			return nil, fmt.Errorf("failed to decode field sources for %s: %w", rec.MasterID, err)
		}
		if rec.QualityIssues, err = unmarshalStrings(issues); err != nil {
			return nil, fmt.Errorf("failed to decode quality issues for %s: %w", rec.MasterID, err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// AppendConflicts appends conflict log entries. The log is append-only;
// entries are never updated or deleted.
func (s *SQLiteStore) AppendConflicts(entries []*core.ConflictLogEntry) error {
	if s.db == nil {
		return fmt.Errorf("database not opened")
	}
	if len(entries) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.Prepare(
		`INSERT INTO conflict_log
		 (id, entity_type, master_id, field_name, primary_value, fallback_value,
		  resolved_value, resolution_rule, batch_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, e := range entries {
		if e.ID == "" {
			e.ID = generateID()
		}
		createdAt := e.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		_, err := stmt.Exec(e.ID, e.EntityType, e.MasterID, e.FieldName, e.PrimaryValue,
			e.FallbackValue, e.ResolvedValue, e.ResolutionRule, e.BatchID, createdAt)
		if err != nil {
			return fmt.Errorf("failed to append conflict %s/%s: %w", e.MasterID, e.FieldName, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit conflicts: %w", err)
	}
	return nil
}

// GetConflicts retrieves the most recent conflict log entries for an
// entity type.
func (s *SQLiteStore) GetConflicts(entityType string, limit int) ([]*core.ConflictLogEntry, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}
	// A negative limit means unlimited; zero gets a sane default.
	if limit == 0 {
		limit = 100
	}

	rows, err := s.db.Query(
		`SELECT id, entity_type, master_id, field_name, primary_value, fallback_value,
		        resolved_value, resolution_rule, batch_id, created_at
		 FROM conflict_log WHERE entity_type = ?
		 ORDER BY created_at DESC, master_id, field_name LIMIT ?`, entityType, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get conflicts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []*core.ConflictLogEntry
	for rows.Next() {
		e := &core.ConflictLogEntry{}
		err := rows.Scan(&e.ID, &e.EntityType, &e.MasterID, &e.FieldName, &e.PrimaryValue,
			&e.FallbackValue, &e.ResolvedValue, &e.ResolutionRule, &e.BatchID, &e.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan conflict: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// CountConflicts counts conflict entries matching the given filters.
// Empty filter values match everything.
func (s *SQLiteStore) CountConflicts(entityType, masterID, fieldName, batchID string) (int, error) {
	if s.db == nil {
		return 0, fmt.Errorf("database not opened")
	}

	query := `SELECT COUNT(*) FROM conflict_log WHERE 1=1`
	var args []any
	if entityType != "" {
		query += ` AND entity_type = ?`
		args = append(args, entityType)
	}
	if masterID != "" {
		query += ` AND master_id = ?`
		args = append(args, masterID)
	}
	if fieldName != "" {
		query += ` AND field_name = ?`
		args = append(args, fieldName)
	}
	if batchID != "" {
		query += ` AND batch_id = ?`
		args = append(args, batchID)
	}

	var count int
	if err := s.db.QueryRow(query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count conflicts: %w", err)
	}
	return count, nil
}
