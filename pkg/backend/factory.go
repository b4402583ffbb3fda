package backend

import (
	"fmt"
	"sort"
	"sync"
)

// Factory constructs a backend instance from its config record. The returned
// value's capabilities are discovered by interface satisfaction.
type Factory func(cfg InstanceConfig) (any, error)

var (
	factoriesMu sync.RWMutex
	factories   = make(map[string]Factory)
)

// RegisterFactory binds an instance name (appium, selenium, easyocr, ...) to
// its constructor. Intended for init-time registration; re-registering a
// name replaces the factory.
func RegisterFactory(name string, f Factory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	factories[name] = f
}

// LookupFactory returns the factory registered under name.
func LookupFactory(name string) (Factory, bool) {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	f, ok := factories[name]
	return f, ok
}

// FactoryNames returns all registered factory names, sorted.
func FactoryNames() []string {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// build constructs the instance for cfg via its registered factory.
func build(cfg InstanceConfig) (any, error) {
	f, ok := LookupFactory(cfg.Name)
	if !ok {
		return nil, fmt.Errorf("no factory registered for backend %q (known: %v)",
			cfg.Name, FactoryNames())
	}
	inst, err := f(cfg)
	if err != nil {
		return nil, fmt.Errorf("constructing backend %q: %w", cfg.Name, err)
	}
	return inst, nil
}
