package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/datalign/datalign/internal/cli/output"
)

// NewConflictsCommand creates the conflicts command.
func NewConflictsCommand() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "conflicts <entity-type>",
		Short: "Show the conflict log",
		Long: `Show logged source disagreements for an entity type, newest first.

A conflict is recorded whenever both sources supplied different
non-null values for the same field of the same entity, together with
the value the policy resolved to.`,
		Example: `  # Latest conflicts for customers
  datalign conflicts customer

  # More of them
  datalign conflicts customer --limit 500`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConflicts(cmd, args[0], limit)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 100, "Maximum number of conflicts to show")

	return cmd
}

func runConflicts(cmd *cobra.Command, entityType string, limit int) error {
	cmdCtx, cleanup, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	conflicts, err := cmdCtx.Engine.Store().GetConflicts(entityType, limit)
	if err != nil {
		return fmt.Errorf("failed to load conflicts: %w", err)
	}

	r := cmdCtx.Renderer
	if r.Mode() == output.ModeJSON {
		return r.JSON(conflicts)
	}

	header := []string{"MASTER", "FIELD", "PRIMARY", "FALLBACK", "RESOLVED", "RULE", "BATCH", "AT"}
	rows := make([][]string, 0, len(conflicts))
	for _, c := range conflicts {
		rows = append(rows, []string{
			c.MasterID,
			c.FieldName,
			c.PrimaryValue,
			c.FallbackValue,
			c.ResolvedValue,
			string(c.ResolutionRule),
			c.BatchID,
			formatTime(c.CreatedAt),
		})
	}
	r.Table(header, rows)
	return nil
}
