package state

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/datalign/datalign/pkg/core"
)

// Durations are stored as milliseconds in JSON so the column stays
// readable from SQL tooling.

func marshalDurations(d map[string]time.Duration) (string, error) {
	ms := make(map[string]int64, len(d))
	for name, dur := range d {
		ms[name] = dur.Milliseconds()
	}
	data, err := json.Marshal(ms)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func unmarshalDurations(data string) (map[string]time.Duration, error) {
	ms := map[string]int64{}
	if data != "" {
		if err := json.Unmarshal([]byte(data), &ms); err != nil {
			return nil, fmt.Errorf("invalid durations: %w", err)
		}
	}
	d := make(map[string]time.Duration, len(ms))
	for name, v := range ms {
		d[name] = time.Duration(v) * time.Millisecond
	}
	return d, nil
}

// GetProcessInstance retrieves a process instance, or nil when no
// event for this process id has been seen yet.
func (s *SQLiteStore) GetProcessInstance(entityType, processID string) (*core.ProcessInstance, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}

	p, err := scanProcessInstance(s.db.QueryRow(
		`SELECT entity_type, process_id, milestones, durations, status, terminal,
		        created_batch_id, updated_batch_id, created_at, updated_at
		 FROM process_instances WHERE entity_type = ? AND process_id = ?`,
		entityType, processID,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get process instance: %w", err)
	}
	return p, nil
}

// UpsertProcessInstance writes a process instance row, replacing any
// existing row for the same process id.
func (s *SQLiteStore) UpsertProcessInstance(p *core.ProcessInstance) error {
	if s.db == nil {
		return fmt.Errorf("database not opened")
	}

	milestones, err := json.Marshal(p.Milestones)
	if err != nil {
		return fmt.Errorf("failed to encode milestones for %s: %w", p.ProcessID, err)
	}
	durations, err := marshalDurations(p.Durations)
	if err != nil {
		return fmt.Errorf("failed to encode durations for %s: %w", p.ProcessID, err)
	}

	_, err = s.db.Exec(
		`INSERT INTO process_instances
		 (entity_type, process_id, milestones, durations, status, terminal,
		  created_batch_id, updated_batch_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (entity_type, process_id) DO UPDATE SET
		   milestones = excluded.milestones,
		   durations = excluded.durations,
		   status = excluded.status,
		   terminal = excluded.terminal,
		   updated_batch_id = excluded.updated_batch_id,
		   updated_at = excluded.updated_at`,
		p.EntityType, p.ProcessID, string(milestones), durations, p.Status, p.Terminal,
		p.CreatedBatchID, p.UpdatedBatchID, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert process instance %s: %w", p.ProcessID, err)
	}
	return nil
}

// ListProcessInstances retrieves process instances for an entity type,
// most recently updated first.
func (s *SQLiteStore) ListProcessInstances(entityType string, limit int) ([]*core.ProcessInstance, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}
	// A negative limit means unlimited; zero gets a sane default.
	if limit == 0 {
		limit = 100
	}

	rows, err := s.db.Query(
		`SELECT entity_type, process_id, milestones, durations, status, terminal,
		        created_batch_id, updated_batch_id, created_at, updated_at
		 FROM process_instances WHERE entity_type = ?
		 ORDER BY updated_at DESC, process_id LIMIT ?`, entityType, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list process instances: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var instances []*core.ProcessInstance
	for rows.Next() {
		p, err := scanProcessInstance(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan process instance: %w", err)
		}
		instances = append(instances, p)
	}
	return instances, rows.Err()
}

func scanProcessInstance(row rowScanner) (*core.ProcessInstance, error) {
	p := &core.ProcessInstance{}
	var milestones, durations string

	err := row.Scan(&p.EntityType, &p.ProcessID, &milestones, &durations, &p.Status,
		&p.Terminal, &p.CreatedBatchID, &p.UpdatedBatchID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}

	p.Milestones = map[string]core.MilestoneSlot{}
	if milestones != "" {
		if err := json.Unmarshal([]byte(milestones), &p.Milestones); err != nil {
			return nil, fmt.Errorf("invalid milestones: %w", err)
		}
	}
	if p.Durations, err = unmarshalDurations(durations); err != nil {
		return nil, err
	}
	return p, nil
}
