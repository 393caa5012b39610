package commands

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/datalign/datalign/internal/cli/output"
	"github.com/datalign/datalign/pkg/core"
)

// NewMilestonesCommand creates the milestones command.
func NewMilestonesCommand() *cobra.Command {
	var processID string
	var limit int

	cmd := &cobra.Command{
		Use:   "milestones <entity-type>",
		Short: "Show process instances and their milestones",
		Long: `Show accumulating process instances for a process entity type.

Without --process, lists instances with their derived status. With
--process, shows one instance's milestone slots in schema order plus
its derived durations.`,
		Example: `  # List order fulfillment instances
  datalign milestones order

  # Inspect one instance
  datalign milestones order --process O-2017`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if processID != "" {
				return runShowProcess(cmd, args[0], processID)
			}
			return runListProcesses(cmd, args[0], limit)
		},
	}

	cmd.Flags().StringVarP(&processID, "process", "p", "", "Show a single process instance")
	cmd.Flags().IntVarP(&limit, "limit", "n", 100, "Maximum number of instances to list")

	return cmd
}

func runListProcesses(cmd *cobra.Command, entityType string, limit int) error {
	cmdCtx, cleanup, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	instances, err := cmdCtx.Engine.Store().ListProcessInstances(entityType, limit)
	if err != nil {
		return fmt.Errorf("failed to list process instances: %w", err)
	}

	r := cmdCtx.Renderer
	if r.Mode() == output.ModeJSON {
		return r.JSON(instances)
	}

	header := []string{"PROCESS", "STATUS", "TERMINAL", "MILESTONES", "UPDATED BATCH", "UPDATED"}
	rows := make([][]string, 0, len(instances))
	for _, p := range instances {
		terminal := ""
		if p.Terminal {
			terminal = "yes"
		}
		rows = append(rows, []string{
			p.ProcessID,
			p.Status,
			terminal,
			itoa(len(p.Milestones)),
			p.UpdatedBatchID,
			formatTime(p.UpdatedAt),
		})
	}
	r.Table(header, rows)
	return nil
}

func runShowProcess(cmd *cobra.Command, entityType, processID string) error {
	cmdCtx, cleanup, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	p, err := cmdCtx.Engine.Store().GetProcessInstance(entityType, processID)
	if err != nil {
		return fmt.Errorf("failed to load process instance: %w", err)
	}
	if p == nil {
		return fmt.Errorf("process %s %s not found", entityType, processID)
	}

	r := cmdCtx.Renderer
	if r.Mode() == output.ModeJSON {
		return r.JSON(p)
	}

	r.Printf("%s %s  status=%s terminal=%v\n", p.EntityType, p.ProcessID, p.Status, p.Terminal)

	renderMilestoneSlots(r, cmdCtx, p)

	if len(p.Durations) > 0 {
		names := make([]string, 0, len(p.Durations))
		for name := range p.Durations {
			names = append(names, name)
		}
		sort.Strings(names)

		rows := make([][]string, 0, len(names))
		for _, name := range names {
			rows = append(rows, []string{name, p.Durations[name].String()})
		}
		r.Println("")
		r.Table([]string{"DURATION", "ELAPSED"}, rows)
	}
	return nil
}

func renderMilestoneSlots(r *output.Renderer, cmdCtx *CommandContext, p *core.ProcessInstance) {
	// Render slots in schema order when the policy is known, so the
	// table reads as the process timeline.
	var ordered []string
	if cfg, ok := cmdCtx.Engine.Graph().Config(p.EntityType); ok && cfg.Milestones != nil {
		ordered = cfg.Milestones.Ordered
	} else {
		for name := range p.Milestones {
			ordered = append(ordered, name)
		}
		sort.Strings(ordered)
	}

	header := []string{"MILESTONE", "REACHED AT"}
	rows := make([][]string, 0, len(ordered))
	for _, name := range ordered {
		slot, ok := p.Milestones[name]
		reached := ""
		if ok {
			reached = formatTime(slot.ReachedAt)
		}
		rows = append(rows, []string{name, reached})
	}
	r.Table(header, rows)
}
