// Package provider routes platforms to vendor adapters and shares outbound
// HTTP plumbing between them.
package provider

import (
	"fmt"

	"github.com/wina-futureobjects/track-futura/internal/scraper"
)

// Registry maps platforms and providers to the adapter that serves them.
// New vendors plug in by registering an adapter; orchestration code never
// branches on vendor identity.
type Registry struct {
	byPlatform map[scraper.Platform]scraper.Adapter
	byProvider map[scraper.Provider]scraper.Adapter
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		byPlatform: make(map[scraper.Platform]scraper.Adapter),
		byProvider: make(map[scraper.Provider]scraper.Adapter),
	}
}

// Register binds an adapter to the platforms it handles.
func (r *Registry) Register(adapter scraper.Adapter, platforms ...scraper.Platform) {
	r.byProvider[adapter.Provider()] = adapter
	for _, p := range platforms {
		r.byPlatform[p] = adapter
	}
}

// ForPlatform returns the adapter handling the given platform.
func (r *Registry) ForPlatform(platform scraper.Platform) (scraper.Adapter, error) {
	adapter, ok := r.byPlatform[platform]
	if !ok {
		return nil, fmt.Errorf("no provider registered for platform %q", platform)
	}
	return adapter, nil
}

// ForProvider returns the adapter for the given vendor.
func (r *Registry) ForProvider(p scraper.Provider) (scraper.Adapter, error) {
	adapter, ok := r.byProvider[p]
	if !ok {
		return nil, fmt.Errorf("no adapter registered for provider %q", p)
	}
	return adapter, nil
}
