package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/datalign/datalign/internal/cli/output"
)

// NewRunsCommand creates the runs command.
func NewRunsCommand() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "runs [run-id]",
		Short: "Show batch run history",
		Long: `List recent batch runs, or show the per-entity results of one run.

Each run records the batch it applied, its overall status, and one
result row per entity type with the pipeline counters.`,
		Example: `  # List recent runs
  datalign runs

  # Show one run's per-entity results
  datalign runs 3f2a9c`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				return runShowRun(cmd, args[0])
			}
			return runListRuns(cmd, limit)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of runs to list")

	return cmd
}

func runListRuns(cmd *cobra.Command, limit int) error {
	cmdCtx, cleanup, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	runs, err := cmdCtx.Engine.Store().ListRuns(limit)
	if err != nil {
		return fmt.Errorf("failed to list runs: %w", err)
	}

	r := cmdCtx.Renderer
	if r.Mode() == output.ModeJSON {
		return r.JSON(runs)
	}

	header := []string{"RUN", "BATCH", "STATUS", "STARTED", "COMPLETED"}
	rows := make([][]string, 0, len(runs))
	for _, run := range runs {
		rows = append(rows, []string{
			run.ID,
			run.BatchID,
			string(run.Status),
			formatTime(run.StartedAt),
			formatTimePtr(run.CompletedAt),
		})
	}
	r.Table(header, rows)
	return nil
}

func runShowRun(cmd *cobra.Command, runID string) error {
	cmdCtx, cleanup, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	store := cmdCtx.Engine.Store()
	run, err := store.GetRun(runID)
	if err != nil {
		return fmt.Errorf("failed to load run: %w", err)
	}
	if run == nil {
		return fmt.Errorf("run %s not found", runID)
	}

	results, err := store.GetEntityResults(runID)
	if err != nil {
		return fmt.Errorf("failed to load entity results: %w", err)
	}

	r := cmdCtx.Renderer
	if r.Mode() == output.ModeJSON {
		return r.JSON(map[string]any{"run": run, "results": results})
	}

	r.Printf("Run %s  batch=%s  status=%s\n", run.ID, run.BatchID, run.Status)
	if run.Error != "" {
		r.Errorf("Error: %s\n", run.Error)
	}
	renderResults(r, results)
	return nil
}
