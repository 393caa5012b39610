package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/datalign/datalign/internal/ingest"
)

// NewIngestCommand creates the ingest command.
func NewIngestCommand() *cobra.Command {
	var batchID string
	var watch bool

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Land source extracts from the inbox",
		Long: `Read CSV extracts from the inbox directory and land them as source
records for a batch.

The inbox is laid out as <inbox>/<source_id>/<entity_type>.csv; files
whose entity type has no policy are skipped with a warning. Landing is
idempotent: re-ingesting the same file into the same batch lands
nothing new.

With --watch the command keeps running and lands a fresh batch each
time a CSV file in the inbox changes.`,
		Example: `  # Land the inbox into a generated batch id
  datalign ingest

  # Land into an explicit batch, then run it
  datalign ingest --batch batch_2024_03_01
  datalign run --batch batch_2024_03_01

  # Keep landing as files arrive
  datalign ingest --watch`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runIngest(cmd, batchID, watch)
		},
	}

	cmd.Flags().StringVarP(&batchID, "batch", "b", "", "Batch identifier (generated when omitted)")
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "Watch the inbox and land new batches as files change")

	return cmd
}

func runIngest(cmd *cobra.Command, batchID string, watch bool) error {
	cmdCtx, cleanup, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	r := cmdCtx.Renderer
	ingester := ingest.New(cmdCtx.Config.Inbox, cmdCtx.Engine.Registry(), cmdCtx.Engine.Store(), cmdCtx.Logger)

	land := func(id string) error {
		res, err := ingester.Run(id)
		if err != nil {
			return err
		}
		r.Printf("Batch %s: landed %d of %d records from %d files\n",
			id, res.Landed, res.Records, res.Files)
		for _, path := range res.Skipped {
			r.Errorf("skipped %s: no policy for its entity type\n", path)
		}
		return nil
	}

	if !watch {
		if batchID == "" {
			batchID = newBatchID()
		}
		return land(batchID)
	}

	r.Printf("Watching %s for changes (Ctrl-C to stop)\n", cmdCtx.Config.Inbox)
	err = ingester.Watch(cmd.Context(), func() error {
		if err := land(newBatchID()); err != nil {
			r.Errorf("ingest failed: %v\n", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("watch failed: %w", err)
	}
	return nil
}
