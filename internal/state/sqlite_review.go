package state

import (
	"fmt"
	"time"

	"github.com/datalign/datalign/pkg/core"
)

// FlagForReview queues an identity group for manual review. Flagging
// the same group twice in one batch is a no-op.
func (s *SQLiteStore) FlagForReview(entityType, masterID, batchID, reason string) error {
	if s.db == nil {
		return fmt.Errorf("database not opened")
	}

	_, err := s.db.Exec(
		`INSERT OR IGNORE INTO review_queue (id, entity_type, master_id, batch_id, reason, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		generateID(), entityType, masterID, batchID, reason, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to flag for review: %w", err)
	}
	return nil
}

// ListReviewQueue retrieves review entries, newest first. An empty
// entityType lists all entity types.
func (s *SQLiteStore) ListReviewQueue(entityType string) ([]*core.ReviewEntry, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}

	query := `SELECT id, entity_type, master_id, batch_id, reason, created_at FROM review_queue`
	var args []any
	if entityType != "" {
		query += ` WHERE entity_type = ?`
		args = append(args, entityType)
	}
	query += ` ORDER BY created_at DESC, master_id`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list review queue: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []*core.ReviewEntry
	for rows.Next() {
		e := &core.ReviewEntry{}
		err := rows.Scan(&e.ID, &e.EntityType, &e.MasterID, &e.BatchID, &e.Reason, &e.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan review entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
