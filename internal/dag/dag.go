// Package dag orders entity-type pipelines by their declared
// dependencies. It supports cycle detection, topological sorting, and
// level grouping for parallel execution.
package dag

import (
	"fmt"
	"sort"

	"github.com/datalign/datalign/internal/policy"
)

// Graph is the dependency graph over entity types. An edge from A to B
// means B declared depends_on A, so A's pipeline must finish first.
type Graph struct {
	configs  map[string]*policy.EntityConfig
	children map[string][]string // upstream -> downstream
	parents  map[string][]string // downstream -> upstream
}

// NewGraph creates an empty graph.
func NewGraph() *Graph {
	return &Graph{
		configs:  make(map[string]*policy.EntityConfig),
		children: make(map[string][]string),
		parents:  make(map[string][]string),
	}
}

// Build constructs the graph for every entity type in the registry.
// Unknown depends_on references are rejected by the registry at load
// time, so edges here always resolve.
func Build(reg *policy.Registry) (*Graph, error) {
	g := NewGraph()
	for _, entityType := range reg.EntityTypes() {
		cfg, _ := reg.Get(entityType)
		g.AddEntity(cfg)
	}
	for _, entityType := range reg.EntityTypes() {
		cfg, _ := reg.Get(entityType)
		for _, dep := range cfg.DependsOn {
			if err := g.AddDependency(dep, entityType); err != nil {
				return nil, err
			}
		}
	}
	if cycle := g.Cycle(); cycle != nil {
		return nil, fmt.Errorf("dependency cycle between entity types: %v", cycle)
	}
	return g, nil
}

// AddEntity registers an entity type in the graph.
func (g *Graph) AddEntity(cfg *policy.EntityConfig) {
	if _, exists := g.configs[cfg.EntityType]; exists {
		g.configs[cfg.EntityType] = cfg
		return
	}
	g.configs[cfg.EntityType] = cfg
	g.children[cfg.EntityType] = []string{}
	g.parents[cfg.EntityType] = []string{}
}

// AddDependency records that downstream depends on upstream.
func (g *Graph) AddDependency(upstream, downstream string) error {
	if _, exists := g.configs[upstream]; !exists {
		return fmt.Errorf("unknown entity type %q in dependency", upstream)
	}
	if _, exists := g.configs[downstream]; !exists {
		return fmt.Errorf("unknown entity type %q in dependency", downstream)
	}
	if upstream == downstream {
		return fmt.Errorf("entity type %q depends on itself", upstream)
	}

	if !contains(g.children[upstream], downstream) {
		g.children[upstream] = append(g.children[upstream], downstream)
	}
	if !contains(g.parents[downstream], upstream) {
		g.parents[downstream] = append(g.parents[downstream], upstream)
	}
	return nil
}

// Config returns the configuration for an entity type.
func (g *Graph) Config(entityType string) (*policy.EntityConfig, bool) {
	cfg, ok := g.configs[entityType]
	return cfg, ok
}

// Dependencies returns the upstream entity types of the given one.
func (g *Graph) Dependencies(entityType string) []string {
	return g.parents[entityType]
}

// Dependents returns the downstream entity types of the given one.
func (g *Graph) Dependents(entityType string) []string {
	return g.children[entityType]
}

// Size returns the number of entity types in the graph.
func (g *Graph) Size() int {
	return len(g.configs)
}

// Cycle returns a dependency cycle as a path of entity types, or nil
// when the graph is acyclic.
func (g *Graph) Cycle() []string {
	visited := make(map[string]bool)
	onStack := make(map[string]bool)
	cameFrom := make(map[string]string)

	var cycle []string

	var dfs func(id string) bool
	dfs = func(id string) bool {
		visited[id] = true
		onStack[id] = true

		for _, child := range g.children[id] {
			if !visited[child] {
				cameFrom[child] = id
				if dfs(child) {
					return true
				}
			} else if onStack[child] {
				cycle = []string{child}
				for curr := id; curr != child; curr = cameFrom[curr] {
					cycle = append([]string{curr}, cycle...)
				}
				cycle = append([]string{child}, cycle...)
				return true
			}
		}

		onStack[id] = false
		return false
	}

	ids := make([]string, 0, len(g.configs))
	for id := range g.configs {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		if !visited[id] {
			if dfs(id) {
				return cycle
			}
		}
	}
	return nil
}

// TopologicalSort returns entity types with dependencies before
// dependents. Ties are broken alphabetically so the order is stable
// across runs.
func (g *Graph) TopologicalSort() ([]string, error) {
	if cycle := g.Cycle(); cycle != nil {
		return nil, fmt.Errorf("dependency cycle between entity types: %v", cycle)
	}

	visited := make(map[string]bool)
	var order []string

	var visit func(id string)
	visit = func(id string) {
		if visited[id] {
			return
		}
		visited[id] = true

		parents := append([]string(nil), g.parents[id]...)
		sort.Strings(parents)
		for _, parent := range parents {
			visit(parent)
		}
		order = append(order, id)
	}

	ids := make([]string, 0, len(g.configs))
	for id := range g.configs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		visit(id)
	}

	return order, nil
}

// ExecutionLevels groups entity types by dependency depth. Types in
// one level have no edges between them and can run in parallel once
// the previous level completes; level 0 has no dependencies at all.
func (g *Graph) ExecutionLevels() ([][]string, error) {
	if cycle := g.Cycle(); cycle != nil {
		return nil, fmt.Errorf("dependency cycle between entity types: %v", cycle)
	}

	assigned := make(map[string]int)

	var levelOf func(id string) int
	levelOf = func(id string) int {
		if level, ok := assigned[id]; ok {
			return level
		}

		level := 0
		for _, parent := range g.parents[id] {
			if pl := levelOf(parent) + 1; pl > level {
				level = pl
			}
		}
		assigned[id] = level
		return level
	}

	maxLevel := 0
	for id := range g.configs {
		if level := levelOf(id); level > maxLevel {
			maxLevel = level
		}
	}

	levels := make([][]string, maxLevel+1)
	for id, level := range assigned {
		levels[level] = append(levels[level], id)
	}
	for i := range levels {
		sort.Strings(levels[i])
	}
	if len(g.configs) == 0 {
		return nil, nil
	}
	return levels, nil
}

// Roots returns entity types with no dependencies.
func (g *Graph) Roots() []string {
	var roots []string
	for id := range g.configs {
		if len(g.parents[id]) == 0 {
			roots = append(roots, id)
		}
	}
	sort.Strings(roots)
	return roots
}

func contains(slice []string, str string) bool {
	for _, s := range slice {
		if s == str {
			return true
		}
	}
	return false
}
