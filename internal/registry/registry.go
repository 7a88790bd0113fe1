// Package registry resolves adapter ids to the adapter implementations the
// workers can run.
package registry

import (
	"slices"

	"github.com/ironscout/harvester/internal/config"
)

// Adapter describes a registered scrape adapter.
type Adapter struct {
	ID      string
	Name    string
	Version string
}

// Registry is a static, read-only set of adapters.
type Registry struct {
	adapters map[string]Adapter
}

// New builds a registry from the configured adapters. Later duplicates win.
func New(cfgs []config.AdapterConfig) *Registry {
	r := &Registry{adapters: make(map[string]Adapter, len(cfgs))}
	for _, c := range cfgs {
		name := c.Name
		if name == "" {
			name = c.ID
		}
		r.adapters[c.ID] = Adapter{ID: c.ID, Name: name, Version: c.Version}
	}
	return r
}

// Get returns the adapter registered under id.
func (r *Registry) Get(id string) (Adapter, bool) {
	a, ok := r.adapters[id]
	return a, ok
}

// IDs returns the registered ids in sorted order.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.adapters))
	for id := range r.adapters {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}
