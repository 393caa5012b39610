// Package engine orchestrates batch execution: it wires the policy
// registry, the entity dependency graph, and the state store, and runs
// each entity type's pipeline (score, resolve, merge, historize or
// accumulate) in dependency order.
package engine

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/datalign/datalign/internal/dag"
	"github.com/datalign/datalign/internal/policy"
	"github.com/datalign/datalign/internal/state"
	"github.com/datalign/datalign/pkg/core"
)

// Config holds the engine's filesystem layout.
type Config struct {
	// PoliciesDir holds the per-entity policy documents.
	PoliciesDir string
	// StatePath is the SQLite state database. Empty means in-memory.
	StatePath string
	// Inbox is the batch file landing directory.
	Inbox string
}

// Engine is the batch orchestrator.
type Engine struct {
	config   Config
	registry *policy.Registry
	graph    *dag.Graph
	store    core.Store
	logger   *slog.Logger
}

// New creates an engine: loads and validates policies, builds the
// dependency graph, and opens the migrated state store.
func New(cfg Config, logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	registry, err := policy.Load(cfg.PoliciesDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load policies: %w", err)
	}
	if registry.Len() == 0 {
		return nil, fmt.Errorf("no entity policies found in %s", cfg.PoliciesDir)
	}

	graph, err := dag.Build(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to build dependency graph: %w", err)
	}

	statePath := cfg.StatePath
	if statePath == "" {
		statePath = ":memory:"
	} else if err := os.MkdirAll(filepath.Dir(statePath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}

	store := state.NewSQLiteStore(logger)
	if err := store.Open(statePath); err != nil {
		return nil, err
	}
	if err := store.Migrate(); err != nil {
		_ = store.Close()
		return nil, err
	}

	return &Engine{
		config:   cfg,
		registry: registry,
		graph:    graph,
		store:    store,
		logger:   logger,
	}, nil
}

// Close releases the engine's resources.
func (e *Engine) Close() error {
	if e.store != nil {
		return e.store.Close()
	}
	return nil
}

// Store exposes the state store for read-side commands.
func (e *Engine) Store() core.Store {
	return e.store
}

// Registry exposes the loaded policy registry.
func (e *Engine) Registry() *policy.Registry {
	return e.registry
}

// Graph exposes the entity dependency graph.
func (e *Engine) Graph() *dag.Graph {
	return e.graph
}
