// Package ingest lands batch files from the inbox into the source
// record landing zone. Each source system drops CSV files under its
// own directory; landed records are immutable and tagged with the
// batch id they arrived in.
package ingest

import (
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/datalign/datalign/internal/policy"
	"github.com/datalign/datalign/pkg/core"
)

// Result summarizes one ingest pass.
type Result struct {
	Files   int
	Records int
	Landed  int
	Skipped []string
}

// Ingester reads inbox files and lands them as source records.
type Ingester struct {
	inbox    string
	registry *policy.Registry
	store    core.Store
	logger   *slog.Logger
}

// New creates an ingester over the given inbox directory. The inbox
// layout is <inbox>/<source_id>/<entity_type>.csv; the first header
// row names the payload fields.
func New(inbox string, registry *policy.Registry, store core.Store, logger *slog.Logger) *Ingester {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Ingester{inbox: inbox, registry: registry, store: store, logger: logger}
}

// Run lands every inbox file into the given batch. Files whose name
// does not resolve to a configured entity type are skipped and
// reported, not failed: a foreign file in the inbox must never block
// the batch. Re-ingesting the same files is a no-op because record ids
// are derived from their position.
func (in *Ingester) Run(batchID string) (*Result, error) {
	sources, err := os.ReadDir(in.inbox)
	if err != nil {
		return nil, fmt.Errorf("failed to read inbox: %w", err)
	}

	res := &Result{}
	for _, src := range sources {
		if !src.IsDir() || strings.HasPrefix(src.Name(), ".") {
			continue
		}
		sourceID := src.Name()

		files, err := filepath.Glob(filepath.Join(in.inbox, sourceID, "*.csv"))
		if err != nil {
			return nil, fmt.Errorf("failed to scan source %s: %w", sourceID, err)
		}
		sort.Strings(files)

		for _, path := range files {
			entityType := entityTypeOf(path)
			if _, ok := in.registry.Get(entityType); !ok {
				in.logger.Warn("skipping inbox file for unconfigured entity type",
					"file", path, "entity_type", entityType)
				res.Skipped = append(res.Skipped, path)
				continue
			}

			records, err := in.readFile(path, sourceID, entityType, batchID)
			if err != nil {
				return nil, fmt.Errorf("failed to read %s: %w", path, err)
			}

			landed, err := in.store.LandSourceRecords(records)
			if err != nil {
				return nil, fmt.Errorf("failed to land %s: %w", path, err)
			}

			res.Files++
			res.Records += len(records)
			res.Landed += landed
			in.logger.Info("landed inbox file",
				"file", path, "source", sourceID, "entity_type", entityType,
				"records", len(records), "new", landed, "batch_id", batchID)
		}
	}
	return res, nil
}

// readFile parses one CSV file into source records. Empty cells are
// omitted from the payload so they read back as null.
func (in *Ingester) readFile(path, sourceID, entityType, batchID string) ([]*core.SourceRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	capturedAt := time.Now().UTC()
	if info, err := f.Stat(); err == nil {
		capturedAt = info.ModTime().UTC()
	}

	reader := csv.NewReader(f)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}

	base := filepath.Base(path)
	var records []*core.SourceRecord
	for row := 1; ; row++ {
		cells, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", row, err)
		}

		payload := core.FieldMap{}
		for i, cell := range cells {
			if i >= len(header) {
				break
			}
			if cell = strings.TrimSpace(cell); cell != "" {
				payload[header[i]] = cell
			}
		}

		records = append(records, &core.SourceRecord{
			// Stable per file position, so re-landing dedupes.
			ID:         fmt.Sprintf("%s:%s:%s:%d", sourceID, batchID, base, row),
			EntityType: entityType,
			SourceID:   sourceID,
			Payload:    payload,
			CapturedAt: capturedAt,
			BatchID:    batchID,
		})
	}
	return records, nil
}

// entityTypeOf maps a file name to its entity type: the base name up
// to the first dot, so customer.csv and customer.2024-03-01.csv both
// land as customer.
func entityTypeOf(path string) string {
	base := filepath.Base(path)
	if i := strings.Index(base, "."); i >= 0 {
		return base[:i]
	}
	return base
}
