package warehouse

import (
	"fmt"
	"sort"
	"sync"
)

// Factory creates a new, unconnected adapter instance.
type Factory func() Adapter

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

// Register makes an adapter available under the given type name.
// Adapters register themselves from init().
func Register(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = factory
}

// Get returns the factory for an adapter type.
func Get(name string) (Factory, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	factory, ok := registry[name]
	return factory, ok
}

// IsRegistered reports whether an adapter type is available.
func IsRegistered(name string) bool {
	_, ok := Get(name)
	return ok
}

// ListAdapters returns the registered adapter type names, sorted.
func ListAdapters() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewAdapter creates an unconnected adapter for the config's type.
func NewAdapter(cfg Config) (Adapter, error) {
	factory, ok := Get(cfg.Type)
	if !ok {
		return nil, fmt.Errorf("unknown warehouse type %q (available: %v)", cfg.Type, ListAdapters())
	}
	return factory(), nil
}
