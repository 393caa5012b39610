package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/datalign/datalign/internal/cli/output"
	"github.com/datalign/datalign/internal/engine"
	"github.com/datalign/datalign/internal/ingest"
	"github.com/datalign/datalign/pkg/core"
)

// RunCmdOptions holds options for the run command.
type RunCmdOptions struct {
	BatchID   string
	BatchTime string
	Entities  []string
	Force     bool
	Land      bool
}

// NewRunCommand creates the run command.
func NewRunCommand() *cobra.Command {
	opts := &RunCmdOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the reconciliation pipeline for a batch",
		Long: `Execute the full pipeline for one batch: score landed records,
resolve identities across sources, merge under each entity's policy,
and apply the results to the history store or milestone accumulator.

Entity types run in dependency order. A batch that was already applied
is detected and skipped; use --force to reapply it.`,
		Example: `  # Land inbox files and run them as one batch
  datalign run --land

  # Run an already-landed batch at an explicit versioning timestamp
  datalign run --batch batch_2024_03_01 --batch-time 2024-03-01T00:00:00Z

  # Run only selected entity types
  datalign run --batch batch_2024_03_01 --entity customer,order`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runRun(cmd, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.BatchID, "batch", "b", "", "Batch identifier (generated when omitted)")
	cmd.Flags().StringVar(&opts.BatchTime, "batch-time", "", "Versioning timestamp for the batch (RFC 3339, default now)")
	cmd.Flags().StringSliceVarP(&opts.Entities, "entity", "e", nil, "Restrict the run to these entity types")
	cmd.Flags().BoolVar(&opts.Force, "force", false, "Rerun a batch even when it was already applied")
	cmd.Flags().BoolVar(&opts.Land, "land", false, "Land inbox files into this batch before running")

	return cmd
}

func runRun(cmd *cobra.Command, opts *RunCmdOptions) error {
	cmdCtx, cleanup, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	batchTime, err := parseBatchTime(opts.BatchTime)
	if err != nil {
		return err
	}

	batchID := opts.BatchID
	if batchID == "" {
		batchID = newBatchID()
	}

	r := cmdCtx.Renderer
	eng := cmdCtx.Engine

	if opts.Land {
		ingester := ingest.New(cmdCtx.Config.Inbox, eng.Registry(), eng.Store(), cmdCtx.Logger)
		res, err := ingester.Run(batchID)
		if err != nil {
			return fmt.Errorf("failed to land inbox files: %w", err)
		}
		if r.Mode() != output.ModeJSON {
			r.Printf("Landed %d of %d records from %d files\n", res.Landed, res.Records, res.Files)
			for _, path := range res.Skipped {
				r.Errorf("skipped %s: no policy for its entity type\n", path)
			}
		}
	}

	start := time.Now()
	summary, err := eng.Run(cmd.Context(), engine.RunOptions{
		BatchID:     batchID,
		BatchTime:   batchTime,
		EntityTypes: opts.Entities,
		Force:       opts.Force,
	})
	if summary == nil {
		return err
	}

	if r.Mode() == output.ModeJSON {
		if jsonErr := r.JSON(runSummaryJSON(summary)); jsonErr != nil {
			return jsonErr
		}
		return err
	}

	if summary.Replayed {
		r.Printf("Batch %s was already applied; nothing to do (use --force to rerun)\n", batchID)
		return nil
	}

	renderResults(r, summary.Results)
	r.Printf("Run %s: %s (%s)\n", summary.Run.ID, summary.Run.Status, time.Since(start).Round(time.Millisecond))
	if err != nil {
		r.Errorf("Error: %v\n", err)
	}
	return err
}

func renderResults(r *output.Renderer, results []*core.EntityResult) {
	header := []string{"ENTITY", "STATUS", "RECORDS", "GROUPS", "CONFLICTS", "NEW", "VERSIONS", "UNCHANGED", "MILESTONES", "REVIEW", "MS"}
	rows := make([][]string, 0, len(results))
	for _, res := range results {
		rows = append(rows, []string{
			res.EntityType,
			string(res.Status),
			itoa(res.Records),
			itoa(res.Groups),
			itoa(res.Conflicts),
			itoa(res.NewEntities),
			itoa(res.NewVersions),
			itoa(res.Unchanged),
			itoa(res.Milestones),
			itoa(res.ReviewFlags),
			fmt.Sprintf("%d", res.DurationMS),
		})
	}
	r.Table(header, rows)

	for _, res := range results {
		if res.Error != "" {
			r.Errorf("%s: %s\n", res.EntityType, res.Error)
		}
	}
}

// runSummaryOutput is the JSON shape of one run.
type runSummaryOutput struct {
	RunID    string             `json:"run_id"`
	BatchID  string             `json:"batch_id"`
	Status   string             `json:"status"`
	Replayed bool               `json:"replayed"`
	Entities []entityResultJSON `json:"entities"`
}

type entityResultJSON struct {
	EntityType  string `json:"entity_type"`
	Status      string `json:"status"`
	Records     int    `json:"records"`
	Groups      int    `json:"groups"`
	Conflicts   int    `json:"conflicts"`
	NewEntities int    `json:"new_entities"`
	NewVersions int    `json:"new_versions"`
	Unchanged   int    `json:"unchanged"`
	Milestones  int    `json:"milestones"`
	ReviewFlags int    `json:"review_flags"`
	Error       string `json:"error,omitempty"`
	DurationMS  int64  `json:"duration_ms"`
}

func runSummaryJSON(summary *engine.RunSummary) runSummaryOutput {
	out := runSummaryOutput{
		Replayed: summary.Replayed,
		Entities: []entityResultJSON{},
	}
	if summary.Run != nil {
		out.RunID = summary.Run.ID
		out.BatchID = summary.Run.BatchID
		out.Status = string(summary.Run.Status)
	}
	for _, res := range summary.Results {
		out.Entities = append(out.Entities, entityResultJSON{
			EntityType:  res.EntityType,
			Status:      string(res.Status),
			Records:     res.Records,
			Groups:      res.Groups,
			Conflicts:   res.Conflicts,
			NewEntities: res.NewEntities,
			NewVersions: res.NewVersions,
			Unchanged:   res.Unchanged,
			Milestones:  res.Milestones,
			ReviewFlags: res.ReviewFlags,
			Error:       res.Error,
			DurationMS:  res.DurationMS,
		})
	}
	return out
}
