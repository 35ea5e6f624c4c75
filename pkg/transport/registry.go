// Package transport holds the registry of transport implementations.
// Implementations register a factory from their init() functions.
package transport

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/leapstack-labs/leapref/pkg/core"
)

// Factory builds a transport from configuration.
type Factory func(cfg core.TransportConfig, logger *slog.Logger) (core.Transport, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

// Register adds a transport factory to the registry.
// Called by transport implementations in their init() functions.
func Register(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = factory
}

// Get retrieves a transport factory by name.
func Get(name string) (Factory, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	f, ok := registry[name]
	return f, ok
}

// New creates a transport based on config type.
// The logger is passed to the factory (nil uses a discard logger).
func New(cfg core.TransportConfig, logger *slog.Logger) (core.Transport, error) {
	if cfg.Type == "" {
		return nil, fmt.Errorf("transport type not specified")
	}
	factory, ok := Get(cfg.Type)
	if !ok {
		return nil, &UnknownTransportError{
			Type:      cfg.Type,
			Available: List(),
		}
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return factory(cfg, logger)
}

// List returns all registered transport names (sorted).
func List() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsRegistered checks if a transport type is registered.
func IsRegistered(name string) bool {
	registryMu.RLock()
	defer registryMu.RUnlock()
	_, ok := registry[name]
	return ok
}

// UnknownTransportError is returned when an unknown transport type is requested.
type UnknownTransportError struct {
	Type      string
	Available []string
}

func (e *UnknownTransportError) Error() string {
	return fmt.Sprintf("unknown transport type %q\nAvailable transports: %v\nHint: Check transport in leapref.yaml", e.Type, e.Available)
}
