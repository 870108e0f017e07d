package adapter

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"dbferry/internal/config"
)

// Factory constructs an adapter for one endpoint.
type Factory struct {
	// Name is the primary driver name (e.g. "postgres").
	Name string

	// Aliases are alternative names ("postgresql", "pg").
	Aliases []string

	// Open builds a connected adapter from endpoint settings.
	Open func(cfg *config.Endpoint) (Adapter, error)
}

var (
	registryMu sync.RWMutex
	factories  = make(map[string]*Factory)
)

// Register adds an adapter factory to the global registry. Called from each
// connector package's init(). Panics on duplicate names.
func Register(f *Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()

	if _, exists := factories[f.Name]; exists {
		panic(fmt.Sprintf("adapter %q already registered", f.Name))
	}
	factories[f.Name] = f
	for _, alias := range f.Aliases {
		if _, exists := factories[alias]; exists {
			panic(fmt.Sprintf("adapter alias %q already registered", alias))
		}
		factories[alias] = f
	}
}

// Open builds an adapter for the endpoint's configured type.
func Open(cfg *config.Endpoint) (Adapter, error) {
	registryMu.RLock()
	f, exists := factories[strings.ToLower(cfg.Type)]
	registryMu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("unknown database type: %q (available: %v)", cfg.Type, Available())
	}
	return f.Open(cfg)
}

// Available returns a sorted list of registered primary names.
func Available() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	seen := make(map[string]bool)
	for _, f := range factories {
		seen[f.Name] = true
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
