package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/datalign/datalign/internal/cli/output"
	"github.com/datalign/datalign/pkg/core"
)

// NewReviewCommand creates the review command.
func NewReviewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "review [entity-type]",
		Short: "Show the manual review queue",
		Long: `Show identity groups flagged for manual review.

Groups land here when automatic matching could not produce a
trustworthy assignment, typically records without a usable business
key. Flagging never blocks a batch; the queue is advisory.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			entityType := ""
			if len(args) == 1 {
				entityType = args[0]
			}
			return runReview(cmd, entityType)
		},
	}

	return cmd
}

func runReview(cmd *cobra.Command, entityType string) error {
	cmdCtx, cleanup, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	store := cmdCtx.Engine.Store()

	var entries []*core.ReviewEntry
	if entityType != "" {
		entries, err = store.ListReviewQueue(entityType)
		if err != nil {
			return fmt.Errorf("failed to load review queue: %w", err)
		}
	} else {
		for _, name := range cmdCtx.Engine.Registry().EntityTypes() {
			batch, err := store.ListReviewQueue(name)
			if err != nil {
				return fmt.Errorf("failed to load review queue for %s: %w", name, err)
			}
			entries = append(entries, batch...)
		}
	}

	r := cmdCtx.Renderer
	if r.Mode() == output.ModeJSON {
		if entries == nil {
			entries = []*core.ReviewEntry{}
		}
		return r.JSON(entries)
	}

	header := []string{"ENTITY", "MASTER", "BATCH", "REASON", "AT"}
	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, []string{
			e.EntityType,
			e.MasterID,
			e.BatchID,
			e.Reason,
			formatTime(e.CreatedAt),
		})
	}
	r.Table(header, rows)
	return nil
}
