package state

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/datalign/datalign/pkg/core"
)

// CreateRun creates a new batch run.
func (s *SQLiteStore) CreateRun(batchID string) (*core.Run, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}

	run := &core.Run{
		ID:        generateID(),
		BatchID:   batchID,
		Status:    core.RunStatusRunning,
		StartedAt: time.Now().UTC(),
	}

	_, err := s.db.Exec(
		`INSERT INTO runs (id, batch_id, status, started_at) VALUES (?, ?, ?, ?)`,
		run.ID, run.BatchID, run.Status, run.StartedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}

	return run, nil
}

// GetRun retrieves a run by ID.
func (s *SQLiteStore) GetRun(id string) (*core.Run, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}

	run, err := scanRun(s.db.QueryRow(
		`SELECT id, batch_id, status, started_at, completed_at, error FROM runs WHERE id = ?`, id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// CompleteRun marks a run as completed with the given status.
func (s *SQLiteStore) CompleteRun(id string, status core.RunStatus, errMsg string) error {
	if s.db == nil {
		return fmt.Errorf("database not opened")
	}

	now := time.Now().UTC()
	var errorPtr *string
	if errMsg != "" {
		errorPtr = &errMsg
	}

	result, err := s.db.Exec(
		`UPDATE runs SET status = ?, completed_at = ?, error = ? WHERE id = ?`,
		status, now, errorPtr, id,
	)
	if err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return fmt.Errorf("run not found: %s", id)
	}

	return nil
}

// GetLatestRun retrieves the most recent run, or nil when none exist.
func (s *SQLiteStore) GetLatestRun() (*core.Run, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}

	run, err := scanRun(s.db.QueryRow(
		`SELECT id, batch_id, status, started_at, completed_at, error
		 FROM runs ORDER BY started_at DESC LIMIT 1`,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest run: %w", err)
	}
	return run, nil
}

// GetRunByBatch retrieves the most recent run for the given batch id,
// or nil when the batch has never been run.
func (s *SQLiteStore) GetRunByBatch(batchID string) (*core.Run, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}

	run, err := scanRun(s.db.QueryRow(
		`SELECT id, batch_id, status, started_at, completed_at, error
		 FROM runs WHERE batch_id = ? ORDER BY started_at DESC LIMIT 1`, batchID,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run for batch %s: %w", batchID, err)
	}
	return run, nil
}

// ListRuns retrieves the most recent runs, newest first.
func (s *SQLiteStore) ListRuns(limit int) ([]*core.Run, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.Query(
		`SELECT id, batch_id, status, started_at, completed_at, error
		 FROM runs ORDER BY started_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []*core.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// RecordEntityResult records one entity type's outcome within a run.
func (s *SQLiteStore) RecordEntityResult(res *core.EntityResult) error {
	if s.db == nil {
		return fmt.Errorf("database not opened")
	}

	if res.ID == "" {
		res.ID = generateID()
	}
	var errorPtr *string
	if res.Error != "" {
		errorPtr = &res.Error
	}

	_, err := s.db.Exec(
		`INSERT INTO entity_results
		 (id, run_id, entity_type, status, records, id_groups, conflicts, new_entities,
		  new_versions, unchanged, milestones, review_flags, error, duration_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		res.ID, res.RunID, res.EntityType, res.Status, res.Records, res.Groups, res.Conflicts,
		res.NewEntities, res.NewVersions, res.Unchanged, res.Milestones, res.ReviewFlags,
		errorPtr, res.DurationMS,
	)
	if err != nil {
		return fmt.Errorf("failed to record entity result: %w", err)
	}
	return nil
}

// GetEntityResults retrieves all entity results for a run.
func (s *SQLiteStore) GetEntityResults(runID string) ([]*core.EntityResult, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}

	rows, err := s.db.Query(
		`SELECT id, run_id, entity_type, status, records, id_groups, conflicts, new_entities,
		        new_versions, unchanged, milestones, review_flags, error, duration_ms
		 FROM entity_results WHERE run_id = ? ORDER BY entity_type`, runID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get entity results: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var results []*core.EntityResult
	for rows.Next() {
		res := &core.EntityResult{}
		var errMsg sql.NullString
		err := rows.Scan(&res.ID, &res.RunID, &res.EntityType, &res.Status, &res.Records,
			&res.Groups, &res.Conflicts, &res.NewEntities, &res.NewVersions, &res.Unchanged,
			&res.Milestones, &res.ReviewFlags, &errMsg, &res.DurationMS)
		if err != nil {
			return nil, fmt.Errorf("failed to scan entity result: %w", err)
		}
		if errMsg.Valid {
			res.Error = errMsg.String
		}
		results = append(results, res)
	}
	return results, rows.Err()
}

// rowScanner covers *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*core.Run, error) {
	run := &core.Run{}
	var completedAt sql.NullTime
	var errMsg sql.NullString

	if err := row.Scan(&run.ID, &run.BatchID, &run.Status, &run.StartedAt, &completedAt, &errMsg); err != nil {
		return nil, err
	}
	if completedAt.Valid {
		run.CompletedAt = &completedAt.Time
	}
	if errMsg.Valid {
		run.Error = errMsg.String
	}
	return run, nil
}
