package datasource

import (
	"maps"
	"slices"
	"sync"

	"github.com/ekaya-inc/ekaya-analyst/pkg/models"
)

// Factory builds an adapter from the config map of a datasource.
type Factory func(config map[string]any) (ForeignAdapter, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[models.DatasourceType]Factory)
)

// Register makes an adapter available for a foreign datasource type. Adapter
// packages call it from init; a later registration replaces an earlier one.
func Register(t models.DatasourceType, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[t] = factory
}

// Lookup returns the factory registered for t.
func Lookup(t models.DatasourceType) (Factory, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	f, ok := registry[t]
	return f, ok
}

// Types returns the registered datasource types, sorted.
func Types() []models.DatasourceType {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return slices.Sorted(maps.Keys(registry))
}
