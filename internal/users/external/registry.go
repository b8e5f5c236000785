// Copyright (c) 2026 Agora. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package external

import (
	"sort"
	"sync"

	"github.com/taibuivan/agora/internal/platform/apperr"
)

// Registry holds the configured providers by name.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

// NewRegistry returns a registry containing providers.
func NewRegistry(providers ...Provider) *Registry {
	registry := &Registry{providers: make(map[string]Provider, len(providers))}
	for _, provider := range providers {
		registry.Register(provider)
	}
	return registry
}

// Register adds or replaces a provider.
func (registry *Registry) Register(provider Provider) {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	registry.providers[provider.Name()] = provider
}

// Get returns the provider called name or NOT_FOUND.
func (registry *Registry) Get(name string) (Provider, error) {
	registry.mu.RLock()
	defer registry.mu.RUnlock()
	provider, ok := registry.providers[name]
	if !ok {
		return nil, apperr.NotFound("Identity provider")
	}
	return provider, nil
}

// Names lists the registered providers alphabetically.
func (registry *Registry) Names() []string {
	registry.mu.RLock()
	defer registry.mu.RUnlock()
	names := make([]string, 0, len(registry.providers))
	for name := range registry.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
