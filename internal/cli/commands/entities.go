package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/datalign/datalign/internal/cli/output"
)

// NewEntitiesCommand creates the entities command.
func NewEntitiesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "entities",
		Short: "List configured entity types",
		Long: `List the configured entity types in execution order, with their
kind, sources, reconciliation rule, and dependencies.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runEntities(cmd)
		},
	}
}

func runEntities(cmd *cobra.Command) error {
	cmdCtx, cleanup, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	graph := cmdCtx.Engine.Graph()
	sorted, err := graph.TopologicalSort()
	if err != nil {
		return fmt.Errorf("failed to sort entity types: %w", err)
	}

	r := cmdCtx.Renderer
	if r.Mode() == output.ModeJSON {
		type entityInfo struct {
			EntityType     string   `json:"entity_type"`
			Kind           string   `json:"kind"`
			PrimarySource  string   `json:"primary_source"`
			FallbackSource string   `json:"fallback_source,omitempty"`
			Rule           string   `json:"rule"`
			DependsOn      []string `json:"depends_on,omitempty"`
		}
		infos := make([]entityInfo, 0, len(sorted))
		for _, name := range sorted {
			cfg, ok := graph.Config(name)
			if !ok {
				continue
			}
			infos = append(infos, entityInfo{
				EntityType:     cfg.EntityType,
				Kind:           string(cfg.Kind),
				PrimarySource:  cfg.PrimarySource,
				FallbackSource: cfg.FallbackSource,
				Rule:           string(cfg.Rule),
				DependsOn:      graph.Dependencies(name),
			})
		}
		return r.JSON(infos)
	}

	header := []string{"#", "ENTITY", "KIND", "PRIMARY", "FALLBACK", "RULE", "DEPENDS ON"}
	rows := make([][]string, 0, len(sorted))
	for i, name := range sorted {
		cfg, ok := graph.Config(name)
		if !ok {
			continue
		}
		rows = append(rows, []string{
			itoa(i + 1),
			cfg.EntityType,
			string(cfg.Kind),
			cfg.PrimarySource,
			cfg.FallbackSource,
			string(cfg.Rule),
			strings.Join(graph.Dependencies(name), ", "),
		})
	}
	r.Table(header, rows)
	return nil
}
