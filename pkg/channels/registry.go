package channels

import (
	"sort"
	"sync"

	"github.com/tinyland-inc/bridgeclaw/pkg/bus"
	"github.com/tinyland-inc/bridgeclaw/pkg/config"
	"github.com/tinyland-inc/bridgeclaw/pkg/logger"
)

// Factory constructs one channel instance from the loaded configuration.
type Factory func(cfg *config.Config, b *bus.MessageBus) (Channel, error)

// registration binds a channel identifier to its enabled flag and factory.
// The manager never names a concrete channel type; this table is the only
// seam between it and the implementations.
type registration struct {
	enabled func(*config.Config) bool
	factory Factory
}

var (
	registryMu sync.Mutex
	registry   = make(map[string]registration)
)

// Register adds a channel factory under name. Registration happens in each
// implementation package's init; a collision is last-write-wins with a
// warning so tests can shadow real channels.
func Register(name string, enabled func(*config.Config) bool, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()

	if _, exists := registry[name]; exists {
		logger.WarnCF("registry", "channel registration overwritten", map[string]any{"channel": name})
	}
	registry[name] = registration{enabled: enabled, factory: factory}
}

// ClearRegistry empties the registration table. Test isolation only.
func ClearRegistry() {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry = make(map[string]registration)
}

// registeredNames returns the registered channel identifiers, sorted for
// deterministic construction order.
func registeredNames() []string {
	registryMu.Lock()
	defer registryMu.Unlock()

	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func lookup(name string) (registration, bool) {
	registryMu.Lock()
	defer registryMu.Unlock()
	reg, ok := registry[name]
	return reg, ok
}
