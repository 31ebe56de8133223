package registry

import (
	"fmt"
	"sort"
	"sync"
)

var (
	modules   = make(map[string]Module)
	modulesMu sync.RWMutex
)

// Register adds a module to the registry.
// Panics if a module with the same key is already registered.
func Register(m Module) {
	modulesMu.Lock()
	defer modulesMu.Unlock()

	if _, exists := modules[m.Key]; exists {
		panic(fmt.Sprintf("module already registered: %s", m.Key))
	}
	if m.Key == "" {
		panic("module key must not be empty")
	}

	modules[m.Key] = m
}

// Get returns a module by key.
// Returns false if not found.
func Get(key string) (Module, bool) {
	modulesMu.RLock()
	defer modulesMu.RUnlock()

	m, ok := modules[key]
	return m, ok
}

// All returns all registered modules, sorted by key for consistent ordering.
func All() []Module {
	modulesMu.RLock()
	defer modulesMu.RUnlock()

	result := make([]Module, 0, len(modules))
	for _, m := range modules {
		result = append(result, m)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Key < result[j].Key
	})

	return result
}

// Keys returns all registered module keys, sorted.
func Keys() []string {
	modulesMu.RLock()
	defer modulesMu.RUnlock()

	keys := make([]string, 0, len(modules))
	for k := range modules {
		keys = append(keys, k)
	}

	sort.Strings(keys)
	return keys
}

// Count returns the number of registered modules.
func Count() int {
	modulesMu.RLock()
	defer modulesMu.RUnlock()
	return len(modules)
}

// Clear removes all registered modules.
// Primarily useful for testing.
func Clear() {
	modulesMu.Lock()
	defer modulesMu.Unlock()
	modules = make(map[string]Module)
}
