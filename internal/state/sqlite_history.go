package state

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/datalign/datalign/pkg/core"
)

// GetCurrentVersion retrieves the open version for a master id, or nil
// when the entity has no history yet.
func (s *SQLiteStore) GetCurrentVersion(entityType, masterID string) (*core.HistoryVersion, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}

	v, err := scanVersion(s.db.QueryRow(
		`SELECT id, entity_type, master_id, fields, content_hash, valid_from, valid_to, is_current, batch_id
		 FROM history_versions WHERE entity_type = ? AND master_id = ? AND is_current = 1`,
		entityType, masterID,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get current version: %w", err)
	}
	return v, nil
}

// CountCurrentVersions counts rows marked current for a master id.
// Anything other than 0 or 1 is a corrupted history.
func (s *SQLiteStore) CountCurrentVersions(entityType, masterID string) (int, error) {
	if s.db == nil {
		return 0, fmt.Errorf("database not opened")
	}

	var count int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM history_versions WHERE entity_type = ? AND master_id = ? AND is_current = 1`,
		entityType, masterID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count current versions: %w", err)
	}
	return count, nil
}

// InsertVersion inserts a new open version for an entity with no prior
// history.
func (s *SQLiteStore) InsertVersion(v *core.HistoryVersion) error {
	if s.db == nil {
		return fmt.Errorf("database not opened")
	}
	if v.ID == "" {
		v.ID = generateID()
	}

	fields, err := marshalFields(v.Fields)
	if err != nil {
		return fmt.Errorf("failed to encode fields for %s: %w", v.MasterID, err)
	}

	_, err = s.db.Exec(
		`INSERT INTO history_versions
		 (id, entity_type, master_id, fields, content_hash, valid_from, valid_to, is_current, batch_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		v.ID, v.EntityType, v.MasterID, fields, v.ContentHash,
		v.ValidFrom, v.ValidTo, v.IsCurrent, v.BatchID,
	)
	if err != nil {
		return fmt.Errorf("failed to insert version: %w", err)
	}
	return nil
}

// CloseAndInsertVersion closes the version identified by closeID and
// opens next in a single transaction, so the one-current-row invariant
// never has an observable gap.
func (s *SQLiteStore) CloseAndInsertVersion(closeID string, closedAt time.Time, next *core.HistoryVersion) error {
	if s.db == nil {
		return fmt.Errorf("database not opened")
	}
	if next.ID == "" {
		next.ID = generateID()
	}

	fields, err := marshalFields(next.Fields)
	if err != nil {
		return fmt.Errorf("failed to encode fields for %s: %w", next.MasterID, err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.Exec(
		`UPDATE history_versions SET valid_to = ?, is_current = 0 WHERE id = ? AND is_current = 1`,
		closedAt, closeID,
	)
	if err != nil {
		return fmt.Errorf("failed to close version %s: %w", closeID, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("version not found or not current: %s", closeID)
	}

	_, err = tx.Exec(
		`INSERT INTO history_versions
		 (id, entity_type, master_id, fields, content_hash, valid_from, valid_to, is_current, batch_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		next.ID, next.EntityType, next.MasterID, fields, next.ContentHash,
		next.ValidFrom, next.ValidTo, next.IsCurrent, next.BatchID,
	)
	if err != nil {
		return fmt.Errorf("failed to insert next version: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit version transition: %w", err)
	}
	return nil
}

// GetVersions retrieves the full version history for a master id,
// oldest first.
func (s *SQLiteStore) GetVersions(entityType, masterID string) ([]*core.HistoryVersion, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}

	rows, err := s.db.Query(
		`SELECT id, entity_type, master_id, fields, content_hash, valid_from, valid_to, is_current, batch_id
		 FROM history_versions WHERE entity_type = ? AND master_id = ?
		 ORDER BY valid_from`, entityType, masterID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get versions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var versions []*core.HistoryVersion
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan version: %w", err)
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// GetVersionAt retrieves the version that was valid at the given
// instant, or nil when the entity did not exist then.
func (s *SQLiteStore) GetVersionAt(entityType, masterID string, at time.Time) (*core.HistoryVersion, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}

	v, err := scanVersion(s.db.QueryRow(
		`SELECT id, entity_type, master_id, fields, content_hash, valid_from, valid_to, is_current, batch_id
		 FROM history_versions
		 WHERE entity_type = ? AND master_id = ? AND valid_from <= ?
		   AND (valid_to IS NULL OR valid_to > ?)`,
		entityType, masterID, at, at,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get version at instant: %w", err)
	}
	return v, nil
}

// ListCurrentVersions retrieves all open versions for an entity type,
// ordered by master id. This is the current-state view of the
// dimension.
func (s *SQLiteStore) ListCurrentVersions(entityType string) ([]*core.HistoryVersion, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}

	rows, err := s.db.Query(
		`SELECT id, entity_type, master_id, fields, content_hash, valid_from, valid_to, is_current, batch_id
		 FROM history_versions WHERE entity_type = ? AND is_current = 1
		 ORDER BY master_id`, entityType,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list current versions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var versions []*core.HistoryVersion
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan version: %w", err)
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

func scanVersion(row rowScanner) (*core.HistoryVersion, error) {
	v := &core.HistoryVersion{}
	var fields string
	var validTo sql.NullTime

	err := row.Scan(&v.ID, &v.EntityType, &v.MasterID, &fields, &v.ContentHash,
		&v.ValidFrom, &validTo, &v.IsCurrent, &v.BatchID)
	if err != nil {
		return nil, err
	}
	if validTo.Valid {
		v.ValidTo = &validTo.Time
	}
	if v.Fields, err = unmarshalFields(fields); err != nil {
		return nil, err
	}
	return v, nil
}
