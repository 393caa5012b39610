package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/datalign/datalign/internal/warehouse"
)

// NewPublishCommand creates the publish command.
func NewPublishCommand() *cobra.Command {
	var entities []string
	var only []string

	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Publish reconciled surfaces to the warehouse",
		Long: `Publish the reconciled surfaces to the configured warehouse target:
canonical records, the conflict log, history versions, the current
view, and process instances.

The warehouse target comes from the "warehouse" section of
datalign.yaml; duckdb and postgres are supported. Tables are recreated
on each publish.`,
		Example: `  # Publish everything for every entity type
  datalign publish

  # Only the history surfaces for customers
  datalign publish --entity customer --only history,current`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runPublish(cmd, entities, only)
		},
	}

	cmd.Flags().StringSliceVarP(&entities, "entity", "e", nil, "Restrict publishing to these entity types")
	cmd.Flags().StringSliceVar(&only, "only", nil, "Publish only these surfaces (canonical|conflicts|history|current|processes)")

	_ = cmd.RegisterFlagCompletionFunc("only", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return []string{"canonical", "conflicts", "history", "current", "processes"}, cobra.ShellCompDirectiveNoFileComp
	})

	return cmd
}

func runPublish(cmd *cobra.Command, entities, only []string) error {
	cmdCtx, cleanup, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	if cmdCtx.Config.Warehouse == nil {
		return fmt.Errorf("no warehouse target configured: add a \"warehouse\" section to datalign.yaml")
	}

	adapterCfg := cmdCtx.Config.Warehouse.ToAdapterConfig()
	adapter, err := warehouse.NewAdapter(adapterCfg)
	if err != nil {
		return err
	}
	if err := adapter.Connect(cmd.Context(), adapterCfg); err != nil {
		return fmt.Errorf("failed to connect to warehouse: %w", err)
	}
	defer func() { _ = adapter.Close() }()

	if len(entities) == 0 {
		entities = cmdCtx.Engine.Registry().EntityTypes()
	}

	publisher := warehouse.NewPublisher(cmdCtx.Engine.Store(), adapter, cmdCtx.Logger)
	ctx := cmd.Context()

	if len(only) == 0 {
		if err := publisher.PublishAll(ctx, entities); err != nil {
			return err
		}
	} else {
		for _, surface := range only {
			var err error
			switch surface {
			case "canonical":
				err = publisher.PublishCanonical(ctx, entities)
			case "conflicts":
				err = publisher.PublishConflicts(ctx, entities)
			case "history":
				err = publisher.PublishHistory(ctx, entities)
			case "current":
				err = publisher.PublishCurrent(ctx, entities)
			case "processes":
				err = publisher.PublishProcesses(ctx, entities)
			default:
				err = fmt.Errorf("unknown surface %q", surface)
			}
			if err != nil {
				return err
			}
		}
	}

	cmdCtx.Renderer.Printf("Published to %s target\n", cmdCtx.Config.Warehouse.Type)
	return nil
}
