package warehouse

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/datalign/datalign/pkg/core"
)

// Publisher materializes output surfaces into a warehouse as full
// table refreshes, one table per surface with an entity_type column.
type Publisher struct {
	store   core.Store
	adapter Adapter
	logger  *slog.Logger
}

// NewPublisher creates a publisher writing through the given adapter.
func NewPublisher(store core.Store, adapter Adapter, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Publisher{store: store, adapter: adapter, logger: logger}
}

// PublishAll materializes every surface for the given entity types.
func (p *Publisher) PublishAll(ctx context.Context, entityTypes []string) error {
	if err := p.PublishCanonical(ctx, entityTypes); err != nil {
		return err
	}
	if err := p.PublishConflicts(ctx, entityTypes); err != nil {
		return err
	}
	if err := p.PublishHistory(ctx, entityTypes); err != nil {
		return err
	}
	if err := p.PublishCurrent(ctx, entityTypes); err != nil {
		return err
	}
	return p.PublishProcesses(ctx, entityTypes)
}

// PublishCanonical materializes the merged canonical view.
func (p *Publisher) PublishCanonical(ctx context.Context, entityTypes []string) error {
	ddl := `CREATE TABLE canonical_records (
		entity_type TEXT, master_id TEXT, batch_id TEXT, fields TEXT,
		field_sources TEXT, quality_score INTEGER, quality_issues TEXT,
		content_hash TEXT, match_method TEXT, match_confidence INTEGER
	)`
	if err := p.recreate(ctx, "canonical_records", ddl); err != nil {
		return err
	}

	insert := p.insertSQL("canonical_records", 10)
	total := 0
	for _, entityType := range entityTypes {
		records, err := p.store.GetCanonicalRecords(entityType)
		if err != nil {
			return err
		}
		for _, rec := range records {
			fields, err := encodeJSON(rec.Fields)
			if err != nil {
				return err
			}
			sources, err := encodeJSON(rec.FieldSources)
			if err != nil {
				return err
			}
			issues, err := encodeJSON(rec.QualityIssues)
			if err != nil {
				return err
			}
			err = p.adapter.Exec(ctx, insert,
				rec.EntityType, rec.MasterID, rec.BatchID, fields, sources,
				rec.QualityScore, issues, rec.ContentHash, string(rec.MatchMethod), rec.MatchConfidence)
			if err != nil {
				return fmt.Errorf("failed to publish canonical record %s: %w", rec.MasterID, err)
			}
		}
		total += len(records)
	}

	p.logger.Info("published surface", "table", "canonical_records", "rows", total)
	return nil
}

// PublishConflicts materializes the conflict log.
func (p *Publisher) PublishConflicts(ctx context.Context, entityTypes []string) error {
	ddl := `CREATE TABLE conflict_log (
		id TEXT, entity_type TEXT, master_id TEXT, field_name TEXT,
		primary_value TEXT, fallback_value TEXT, resolved_value TEXT,
		resolution_rule TEXT, batch_id TEXT, created_at TIMESTAMP
	)`
	if err := p.recreate(ctx, "conflict_log", ddl); err != nil {
		return err
	}

	insert := p.insertSQL("conflict_log", 10)
	total := 0
	for _, entityType := range entityTypes {
		entries, err := p.store.GetConflicts(entityType, -1)
		if err != nil {
			return err
		}
		for _, e := range entries {
			err = p.adapter.Exec(ctx, insert,
				e.ID, e.EntityType, e.MasterID, e.FieldName, e.PrimaryValue,
				e.FallbackValue, e.ResolvedValue, string(e.ResolutionRule), e.BatchID, e.CreatedAt)
			if err != nil {
				return fmt.Errorf("failed to publish conflict %s: %w", e.ID, err)
			}
		}
		total += len(entries)
	}

	p.logger.Info("published surface", "table", "conflict_log", "rows", total)
	return nil
}

// PublishHistory materializes the full version history.
func (p *Publisher) PublishHistory(ctx context.Context, entityTypes []string) error {
	return p.publishVersions(ctx, "entity_history", entityTypes, func(entityType string) ([]*core.HistoryVersion, error) {
		currents, err := p.store.ListCurrentVersions(entityType)
		if err != nil {
			return nil, err
		}
		var all []*core.HistoryVersion
		for _, cur := range currents {
			versions, err := p.store.GetVersions(entityType, cur.MasterID)
			if err != nil {
				return nil, err
			}
			all = append(all, versions...)
		}
		return all, nil
	})
}

// PublishCurrent materializes the current-state projection: only the
// open version of each entity.
func (p *Publisher) PublishCurrent(ctx context.Context, entityTypes []string) error {
	return p.publishVersions(ctx, "entity_current", entityTypes, p.store.ListCurrentVersions)
}

func (p *Publisher) publishVersions(ctx context.Context, table string, entityTypes []string, fetch func(string) ([]*core.HistoryVersion, error)) error {
	ddl := fmt.Sprintf(`CREATE TABLE %s (
		id TEXT, entity_type TEXT, master_id TEXT, fields TEXT, content_hash TEXT,
		valid_from TIMESTAMP, valid_to TIMESTAMP, is_current BOOLEAN, batch_id TEXT
	)`, table)
	if err := p.recreate(ctx, table, ddl); err != nil {
		return err
	}

	insert := p.insertSQL(table, 9)
	total := 0
	for _, entityType := range entityTypes {
		versions, err := fetch(entityType)
		if err != nil {
			return err
		}
		for _, v := range versions {
			fields, err := encodeJSON(v.Fields)
			if err != nil {
				return err
			}
			err = p.adapter.Exec(ctx, insert,
				v.ID, v.EntityType, v.MasterID, fields, v.ContentHash,
				v.ValidFrom, v.ValidTo, v.IsCurrent, v.BatchID)
			if err != nil {
				return fmt.Errorf("failed to publish version %s: %w", v.ID, err)
			}
		}
		total += len(versions)
	}

	p.logger.Info("published surface", "table", table, "rows", total)
	return nil
}

// PublishProcesses materializes the accumulating snapshots.
func (p *Publisher) PublishProcesses(ctx context.Context, entityTypes []string) error {
	ddl := `CREATE TABLE process_instances (
		entity_type TEXT, process_id TEXT, milestones TEXT, durations TEXT,
		status TEXT, terminal BOOLEAN, created_batch_id TEXT, updated_batch_id TEXT,
		created_at TIMESTAMP, updated_at TIMESTAMP
	)`
	if err := p.recreate(ctx, "process_instances", ddl); err != nil {
		return err
	}

	insert := p.insertSQL("process_instances", 10)
	total := 0
	for _, entityType := range entityTypes {
		instances, err := p.store.ListProcessInstances(entityType, -1)
		if err != nil {
			return err
		}
		for _, inst := range instances {
			milestones, err := encodeJSON(inst.Milestones)
			if err != nil {
				return err
			}
			durations := map[string]int64{}
			for name, d := range inst.Durations {
				durations[name] = d.Milliseconds()
			}
			durJSON, err := encodeJSON(durations)
			if err != nil {
				return err
			}
			err = p.adapter.Exec(ctx, insert,
				inst.EntityType, inst.ProcessID, milestones, durJSON, inst.Status,
				inst.Terminal, inst.CreatedBatchID, inst.UpdatedBatchID, inst.CreatedAt, inst.UpdatedAt)
			if err != nil {
				return fmt.Errorf("failed to publish process instance %s: %w", inst.ProcessID, err)
			}
		}
		total += len(instances)
	}

	p.logger.Info("published surface", "table", "process_instances", "rows", total)
	return nil
}

// recreate drops and recreates a surface table. Publishing is a full
// refresh; incremental warehouse loads are not attempted.
func (p *Publisher) recreate(ctx context.Context, table, ddl string) error {
	if err := p.adapter.Exec(ctx, "DROP TABLE IF EXISTS "+table); err != nil {
		return fmt.Errorf("failed to drop %s: %w", table, err)
	}
	if err := p.adapter.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("failed to create %s: %w", table, err)
	}
	return nil
}

func (p *Publisher) insertSQL(table string, cols int) string {
	placeholders := make([]string, cols)
	for i := range placeholders {
		placeholders[i] = p.adapter.BindVar(i + 1)
	}
	return fmt.Sprintf("INSERT INTO %s VALUES (%s)", table, strings.Join(placeholders, ", "))
}

func encodeJSON(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to encode json: %w", err)
	}
	return string(data), nil
}
