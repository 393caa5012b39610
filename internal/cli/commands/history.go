package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/datalign/datalign/internal/cli/output"
	"github.com/datalign/datalign/pkg/core"
)

// NewHistoryCommand creates the history command.
func NewHistoryCommand() *cobra.Command {
	var at string
	var current bool

	cmd := &cobra.Command{
		Use:   "history <entity-type> [master-id]",
		Short: "Show temporal history versions",
		Long: `Show the version history of reconciled entities.

With a master id, lists that entity's versions oldest first. The
validity intervals are half-open: a version covers [valid_from,
valid_to) and the current version has no valid_to.

Use --at to ask "what did this entity look like at that instant"; the
instant of a transition belongs to the newer version. Without a master
id, --current lists the current version of every entity of the type.`,
		Example: `  # Full version history of one entity
  datalign history customer C-1042

  # Point-in-time lookup
  datalign history customer C-1042 --at 2024-03-15T00:00:00Z

  # Current version of every customer
  datalign history customer --current`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			entityType := args[0]
			if len(args) == 1 {
				if !current {
					return fmt.Errorf("a master id is required unless --current is given")
				}
				return runHistoryCurrent(cmd, entityType)
			}
			return runHistory(cmd, entityType, args[1], at)
		},
	}

	cmd.Flags().StringVar(&at, "at", "", "Show the version valid at this instant (RFC 3339)")
	cmd.Flags().BoolVar(&current, "current", false, "List the current version of every entity of the type")

	return cmd
}

func runHistory(cmd *cobra.Command, entityType, masterID, at string) error {
	cmdCtx, cleanup, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	store := cmdCtx.Engine.Store()
	r := cmdCtx.Renderer

	if at != "" {
		instant, err := time.Parse(time.RFC3339, at)
		if err != nil {
			return fmt.Errorf("invalid --at value %q: expected RFC 3339", at)
		}
		v, err := store.GetVersionAt(entityType, masterID, instant)
		if err != nil {
			return fmt.Errorf("failed to look up version: %w", err)
		}
		if v == nil {
			return fmt.Errorf("no version of %s %s covers %s", entityType, masterID, at)
		}
		return renderVersionDetail(r, v)
	}

	versions, err := store.GetVersions(entityType, masterID)
	if err != nil {
		return fmt.Errorf("failed to load versions: %w", err)
	}
	if len(versions) == 0 {
		return fmt.Errorf("no history for %s %s", entityType, masterID)
	}

	if r.Mode() == output.ModeJSON {
		return r.JSON(versions)
	}
	renderVersions(r, versions)
	return nil
}

func runHistoryCurrent(cmd *cobra.Command, entityType string) error {
	cmdCtx, cleanup, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	versions, err := cmdCtx.Engine.Store().ListCurrentVersions(entityType)
	if err != nil {
		return fmt.Errorf("failed to list current versions: %w", err)
	}

	r := cmdCtx.Renderer
	if r.Mode() == output.ModeJSON {
		return r.JSON(versions)
	}
	renderVersions(r, versions)
	return nil
}

func renderVersions(r *output.Renderer, versions []*core.HistoryVersion) {
	header := []string{"MASTER", "VALID FROM", "VALID TO", "CURRENT", "BATCH", "HASH"}
	rows := make([][]string, 0, len(versions))
	for _, v := range versions {
		current := ""
		if v.IsCurrent {
			current = "yes"
		}
		rows = append(rows, []string{
			v.MasterID,
			formatTime(v.ValidFrom),
			formatTimePtr(v.ValidTo),
			current,
			v.BatchID,
			shortHash(v.ContentHash),
		})
	}
	r.Table(header, rows)
}

func renderVersionDetail(r *output.Renderer, v *core.HistoryVersion) error {
	if r.Mode() == output.ModeJSON {
		return r.JSON(v)
	}

	r.Printf("%s %s  valid [%s, %s)\n", v.EntityType, v.MasterID, formatTime(v.ValidFrom), openEnd(v.ValidTo))

	header := []string{"FIELD", "VALUE"}
	rows := make([][]string, 0, len(v.Fields))
	for _, name := range v.Fields.Names() {
		rows = append(rows, []string{name, v.Fields.Get(name)})
	}
	r.Table(header, rows)
	return nil
}

func openEnd(t *time.Time) string {
	if t == nil {
		return "open"
	}
	return formatTime(*t)
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
