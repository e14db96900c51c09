package providers

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	// ErrAdapterNotFound is returned when no adapter serves a provider id
	ErrAdapterNotFound = errors.New("adapter not found")

	// ErrAdapterAlreadyRegistered is returned when trying to register a duplicate adapter
	ErrAdapterAlreadyRegistered = errors.New("adapter already registered")
)

// Registry maps provider ids to adapter instances
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

// NewRegistry creates a new adapter registry
func NewRegistry() *Registry {
	return &Registry{
		adapters: make(map[string]Adapter),
	}
}

// Register registers an adapter instance under its provider id
func (r *Registry) Register(adapter Adapter) error {
	if adapter == nil {
		return errors.New("adapter cannot be nil")
	}

	id := adapter.ProviderID()
	if id == "" {
		return errors.New("adapter provider id cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.adapters[id]; exists {
		return fmt.Errorf("%w: %s", ErrAdapterAlreadyRegistered, id)
	}
	r.adapters[id] = adapter
	return nil
}

// Get retrieves the adapter for a provider id
func (r *Registry) Get(providerID string) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	adapter, exists := r.adapters[providerID]
	if !exists {
		return nil, ErrAdapterNotFound
	}
	return adapter, nil
}

// List returns all registered provider ids, sorted
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.adapters))
	for id := range r.adapters {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Count returns the number of registered adapters
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.adapters)
}

// AdapterBuilder creates an adapter from common configuration
type AdapterBuilder func(cfg Config) (Adapter, error)

// RegistryBuilder helps build a registry with multiple adapters
type RegistryBuilder struct {
	builders map[string]AdapterBuilder
	order    []string
}

// NewRegistryBuilder creates a new registry builder
func NewRegistryBuilder() *RegistryBuilder {
	return &RegistryBuilder{
		builders: make(map[string]AdapterBuilder),
	}
}

// WithAdapter registers a builder for a provider id
func (rb *RegistryBuilder) WithAdapter(providerID string, builder AdapterBuilder) *RegistryBuilder {
	if _, exists := rb.builders[providerID]; !exists {
		rb.order = append(rb.order, providerID)
	}
	rb.builders[providerID] = builder
	return rb
}

// Build creates every adapter. configs supplies per-provider overrides;
// providers without an entry get base.
func (rb *RegistryBuilder) Build(base Config, configs map[string]Config) (*Registry, error) {
	registry := NewRegistry()
	for _, id := range rb.order {
		cfg, ok := configs[id]
		if !ok {
			cfg = base
		}
		adapter, err := rb.builders[id](cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to build adapter %s: %w", id, err)
		}
		if err := registry.Register(adapter); err != nil {
			return nil, fmt.Errorf("failed to register adapter %s: %w", id, err)
		}
	}
	return registry, nil
}
