// Package commands implements the datalign subcommands.
package commands

import (
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/datalign/datalign/internal/cli/config"
	"github.com/datalign/datalign/internal/cli/output"
	"github.com/datalign/datalign/internal/engine"
)

// CommandContext bundles what most commands need: the loaded config, the
// logger, a renderer for the selected output mode, and a ready engine.
type CommandContext struct {
	Config   *config.Config
	Logger   *slog.Logger
	Renderer *output.Renderer
	Engine   *engine.Engine
}

// NewCommandContext builds the shared command context. The returned
// cleanup function closes the engine and must always be deferred.
func NewCommandContext(cmd *cobra.Command) (*CommandContext, func(), error) {
	cfg := currentConfig()
	logger := config.GetLogger(cmd.Context())

	eng, err := engine.New(engine.Config{
		PoliciesDir: cfg.PoliciesDir,
		StatePath:   cfg.StatePath,
		Inbox:       cfg.Inbox,
	}, logger)
	if err != nil {
		return nil, nil, err
	}

	cmdCtx := &CommandContext{
		Config:   cfg,
		Logger:   logger,
		Renderer: newRenderer(cmd, cfg),
		Engine:   eng,
	}
	cleanup := func() { _ = eng.Close() }
	return cmdCtx, cleanup, nil
}

func currentConfig() *config.Config {
	if cfg := config.GetCurrentConfig(); cfg != nil {
		return cfg
	}
	return &config.Config{
		PoliciesDir:  config.DefaultPoliciesDir,
		Inbox:        config.DefaultInbox,
		StatePath:    config.DefaultStateFile,
		OutputFormat: config.DefaultOutput,
	}
}

func newRenderer(cmd *cobra.Command, cfg *config.Config) *output.Renderer {
	return output.NewRenderer(cmd.OutOrStdout(), cmd.ErrOrStderr(), output.ParseMode(cfg.OutputFormat))
}

// newBatchID derives a batch identifier from the wall clock, for
// commands where the caller did not supply one.
func newBatchID() string {
	return "batch_" + time.Now().UTC().Format("20060102T150405")
}

// parseBatchTime parses the --batch-time flag value.
func parseBatchTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid batch time %q: expected RFC 3339, e.g. 2024-03-01T00:00:00Z", s)
	}
	return t, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}

func itoa(n int) string {
	return strconv.Itoa(n)
}
