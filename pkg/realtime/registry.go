package realtime

import (
	"sort"
	"sync"
)

// Factory creates an unconnected transport.
type Factory func() (Transport, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[ProviderName]Factory)
)

// Register makes a transport factory available by provider name.
// Registering the same name twice replaces the earlier factory.
func Register(name ProviderName, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = f
}

// Lookup returns the registered factory for name.
func Lookup(name ProviderName) (Factory, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	f, ok := registry[name]
	return f, ok
}

// Providers lists registered provider names in sorted order.
func Providers() []ProviderName {
	registryMu.RLock()
	defer registryMu.RUnlock()
	out := make([]ProviderName, 0, len(registry))
	for name := range registry {
		out = append(out, name)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
