package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/datalign/datalign/internal/history"
	"github.com/datalign/datalign/internal/identity"
	"github.com/datalign/datalign/internal/merge"
	"github.com/datalign/datalign/internal/milestone"
	"github.com/datalign/datalign/internal/policy"
	"github.com/datalign/datalign/internal/quality"
	"github.com/datalign/datalign/pkg/core"
)

// RunOptions controls one batch execution.
type RunOptions struct {
	// BatchID is the externally supplied batch identifier.
	BatchID string
	// BatchTime is the versioning timestamp for the whole batch. Zero
	// means now.
	BatchTime time.Time
	// EntityTypes restricts the run to the named types. Empty runs all.
	EntityTypes []string
	// Force reruns a batch even when a run for it already exists.
	Force bool
}

// RunSummary is the outcome of one batch execution.
type RunSummary struct {
	Run      *core.Run
	Results  []*core.EntityResult
	Replayed bool
}

// Run executes one batch through every selected entity pipeline.
// Pipelines at the same dependency level run in parallel; a failed
// entity type fails alone and skips its dependents, it never blocks
// unrelated types.
func (e *Engine) Run(ctx context.Context, opts RunOptions) (*RunSummary, error) {
	if opts.BatchID == "" {
		return nil, fmt.Errorf("batch id is required")
	}
	bc := core.BatchContext{BatchID: opts.BatchID, BatchTime: opts.BatchTime.UTC()}
	if opts.BatchTime.IsZero() {
		bc.BatchTime = time.Now().UTC()
	}

	if !opts.Force {
		seen, err := e.store.BatchSeen(opts.BatchID)
		if err != nil {
			return nil, err
		}
		if seen {
			e.logger.Info("batch already applied, skipping", "batch_id", opts.BatchID)
			applied, err := e.store.GetRunByBatch(opts.BatchID)
			if err != nil {
				return nil, err
			}
			return &RunSummary{Run: applied, Replayed: true}, nil
		}
	}

	run, err := e.store.CreateRun(opts.BatchID)
	if err != nil {
		return nil, err
	}
	e.logger.Info("batch run started", "run_id", run.ID, "batch_id", opts.BatchID)

	levels, err := e.graph.ExecutionLevels()
	if err != nil {
		_ = e.store.CompleteRun(run.ID, core.RunStatusFailed, err.Error())
		return nil, err
	}

	selected := e.selectTypes(opts.EntityTypes)

	var mu sync.Mutex
	results := make(map[string]*core.EntityResult)

	for _, level := range levels {
		g, gctx := errgroup.WithContext(ctx)
		for _, entityType := range level {
			if !selected[entityType] {
				continue
			}
			g.Go(func() error {
				res := e.runEntity(gctx, entityType, run.ID, bc, results, &mu)
				mu.Lock()
				results[entityType] = res
				mu.Unlock()
				return nil
			})
		}
		// Pipelines only fail entity-scoped; a group error here is a
		// context cancellation.
		if err := g.Wait(); err != nil {
			_ = e.store.CompleteRun(run.ID, core.RunStatusFailed, err.Error())
			return nil, err
		}
	}

	summary := &RunSummary{Run: run}
	var failures []error
	succeeded := 0
	for _, entityType := range e.registry.EntityTypes() {
		res, ok := results[entityType]
		if !ok {
			continue
		}
		if err := e.store.RecordEntityResult(res); err != nil {
			return nil, err
		}
		summary.Results = append(summary.Results, res)
		switch res.Status {
		case core.EntityStatusFailed:
			failures = append(failures, fmt.Errorf("%s: %s", res.EntityType, res.Error))
		case core.EntityStatusSuccess, core.EntityStatusNoOp:
			succeeded++
		}
	}

	status := core.RunStatusCompleted
	errMsg := ""
	if len(failures) > 0 {
		status = core.RunStatusPartial
		if succeeded == 0 {
			status = core.RunStatusFailed
		}
		errMsg = errors.Join(failures...).Error()
	}
	if err := e.store.CompleteRun(run.ID, status, errMsg); err != nil {
		return nil, err
	}
	run.Status = status
	run.Error = errMsg

	e.logger.Info("batch run finished",
		"run_id", run.ID, "batch_id", opts.BatchID, "status", status,
		"entity_types", len(summary.Results), "failed", len(failures))
	return summary, nil
}

// selectTypes resolves the entity type filter against the registry.
func (e *Engine) selectTypes(filter []string) map[string]bool {
	selected := make(map[string]bool)
	if len(filter) == 0 {
		for _, t := range e.registry.EntityTypes() {
			selected[t] = true
		}
		return selected
	}
	for _, t := range filter {
		selected[t] = true
	}
	return selected
}

// runEntity executes one entity type's pipeline. Every failure is
// captured in the result; nothing escapes except through it.
func (e *Engine) runEntity(ctx context.Context, entityType, runID string, bc core.BatchContext, prior map[string]*core.EntityResult, mu *sync.Mutex) *core.EntityResult {
	started := time.Now()
	res := &core.EntityResult{
		RunID:      runID,
		EntityType: entityType,
		Status:     core.EntityStatusSuccess,
	}
	defer func() {
		res.DurationMS = time.Since(started).Milliseconds()
	}()

	// A failed dependency skips this pipeline entirely.
	mu.Lock()
	for _, dep := range e.graph.Dependencies(entityType) {
		if dr, ok := prior[dep]; ok && dr.Status == core.EntityStatusFailed {
			res.Status = core.EntityStatusSkipped
			res.Error = fmt.Sprintf("dependency %s failed", dep)
		}
	}
	mu.Unlock()
	if res.Status == core.EntityStatusSkipped {
		return res
	}

	cfg, _ := e.registry.Get(entityType)

	records, err := e.store.GetSourceRecords(entityType, bc.BatchID)
	if err != nil {
		return failed(res, err)
	}
	res.Records = len(records)
	if len(records) == 0 {
		res.Status = core.EntityStatusNoOp
		return res
	}

	scorer, err := quality.NewScorer(cfg.Quality)
	if err != nil {
		return failed(res, &core.PolicyError{EntityType: entityType, Err: err})
	}

	groups := identity.NewResolver(cfg).Resolve(records)
	res.Groups = len(groups)

	merger := merge.NewEngine(cfg.Policy(), scorer)
	var canonicals []*core.CanonicalRecord
	var conflicts []*core.ConflictLogEntry
	capturedAt := make(map[string]time.Time)

	for _, group := range groups {
		if ctx.Err() != nil {
			return failed(res, ctx.Err())
		}
		rec, groupConflicts := merger.Merge(group, bc)
		canonicals = append(canonicals, rec)
		conflicts = append(conflicts, groupConflicts...)
		for _, m := range group.Members {
			if m.CapturedAt.After(capturedAt[group.MasterID]) {
				capturedAt[group.MasterID] = m.CapturedAt
			}
		}

		if group.NeedsReview() {
			reason := fmt.Sprintf("match method %s (confidence %d)", group.MatchMethod, group.MatchConfidence)
			if err := e.store.FlagForReview(entityType, group.MasterID, bc.BatchID, reason); err != nil {
				return failed(res, err)
			}
			res.ReviewFlags++
		}
	}

	if err := e.store.AppendConflicts(conflicts); err != nil {
		return failed(res, err)
	}
	res.Conflicts = len(conflicts)
	if err := e.store.ReplaceCanonicalRecords(entityType, bc.BatchID, canonicals); err != nil {
		return failed(res, err)
	}

	switch cfg.Kind {
	case policy.KindDimension:
		if err := e.historize(res, canonicals, bc); err != nil {
			return failed(res, err)
		}
	case policy.KindProcess:
		if err := e.accumulate(res, cfg, canonicals, capturedAt, bc); err != nil {
			return failed(res, err)
		}
	}

	e.logger.Info("entity pipeline finished",
		"entity_type", entityType, "batch_id", bc.BatchID,
		"records", res.Records, "groups", res.Groups, "conflicts", res.Conflicts,
		"new_entities", res.NewEntities, "new_versions", res.NewVersions,
		"unchanged", res.Unchanged, "milestones", res.Milestones, "review_flags", res.ReviewFlags)
	return res
}

// historize applies canonical records to the temporal dimension.
func (e *Engine) historize(res *core.EntityResult, canonicals []*core.CanonicalRecord, bc core.BatchContext) error {
	versioner := history.NewVersioner(e.store, e.logger)
	for _, rec := range canonicals {
		effect, err := versioner.Apply(rec, bc)
		if err != nil {
			return err
		}
		switch effect {
		case core.EffectNewEntity:
			res.NewEntities++
		case core.EffectNewVersion:
			res.NewVersions++
		case core.EffectNoChange:
			res.Unchanged++
		}
	}
	return nil
}

// accumulate routes canonical records into the milestone accumulator.
// A record that doesn't project onto the schema (missing process id or
// unknown milestone name) is skipped with a warning; one malformed
// event never takes down the entity type. Events are applied in
// occurrence order so a terminal milestone landing in the same batch
// as an earlier one cannot freeze the instance before the earlier
// milestone is recorded.
func (e *Engine) accumulate(res *core.EntityResult, cfg *policy.EntityConfig, canonicals []*core.CanonicalRecord, capturedAt map[string]time.Time, bc core.BatchContext) error {
	acc := milestone.NewAccumulator(cfg.Milestones, e.store, e.logger)

	events := make([]*core.MilestoneEvent, 0, len(canonicals))
	for _, rec := range canonicals {
		ev := milestone.EventFromCanonical(rec, cfg.Milestones, capturedAt[rec.MasterID])
		if ev.ProcessID == "" {
			e.logger.Warn("event has no process id, skipping",
				"entity_type", rec.EntityType, "master_id", rec.MasterID)
			continue
		}
		if cfg.Milestones.Index(ev.Milestone) < 0 {
			e.logger.Warn("event names unknown milestone, skipping",
				"entity_type", rec.EntityType, "process_id", ev.ProcessID, "milestone", ev.Milestone)
			continue
		}
		events = append(events, ev)
	}

	sort.SliceStable(events, func(i, j int) bool {
		if !events[i].OccurredAt.Equal(events[j].OccurredAt) {
			return events[i].OccurredAt.Before(events[j].OccurredAt)
		}
		return cfg.Milestones.Index(events[i].Milestone) < cfg.Milestones.Index(events[j].Milestone)
	})

	for _, ev := range events {
		effect, err := acc.Record(ev, bc)
		if err != nil {
			return err
		}
		switch effect {
		case core.MilestoneCreated:
			res.NewEntities++
			res.Milestones++
		case core.MilestoneUpdated:
			res.Milestones++
		case core.MilestoneIgnoredDuplicate, core.MilestoneIgnoredOutOfOrder:
			res.Unchanged++
		}
	}
	return nil
}

func failed(res *core.EntityResult, err error) *core.EntityResult {
	res.Status = core.EntityStatusFailed
	res.Error = err.Error()
	return res
}
