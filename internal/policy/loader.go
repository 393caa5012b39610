package policy

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Registry holds the validated entity configurations for one project.
type Registry struct {
	configs map[string]*EntityConfig
}

// Load reads every *.yaml/*.yml document under dir into a registry.
// A document that fails validation aborts the load: a broken policy
// file is a deployment error, not something to run around.
func Load(dir string) (*Registry, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read policies directory: %w", err)
	}

	reg := &Registry{configs: make(map[string]*EntityConfig)}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml") {
			continue
		}

		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read policy %s: %w", name, err)
		}

		var cfg EntityConfig
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse policy %s: %w", name, err)
		}
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid policy %s: %w", name, err)
		}
		if _, dup := reg.configs[cfg.EntityType]; dup {
			return nil, fmt.Errorf("duplicate policy for entity type %s (%s)", cfg.EntityType, name)
		}
		reg.configs[cfg.EntityType] = &cfg
	}

	// Dependencies must reference configured entity types.
	for _, cfg := range reg.configs {
		for _, dep := range cfg.DependsOn {
			if _, ok := reg.configs[dep]; !ok {
				return nil, fmt.Errorf("entity type %s depends on unknown entity type %s", cfg.EntityType, dep)
			}
		}
	}

	return reg, nil
}

// Get returns the config for an entity type.
func (r *Registry) Get(entityType string) (*EntityConfig, bool) {
	cfg, ok := r.configs[entityType]
	return cfg, ok
}

// EntityTypes returns all configured entity types in sorted order.
func (r *Registry) EntityTypes() []string {
	types := make([]string, 0, len(r.configs))
	for t := range r.configs {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Len returns the number of configured entity types.
func (r *Registry) Len() int {
	return len(r.configs)
}
