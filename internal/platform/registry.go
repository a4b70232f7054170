package platform

import (
	"fmt"
	"sort"

	"github.com/cuongbtq/fanout-publisher/internal/domain"
)

// Registry maps platforms to their adapters
type Registry struct {
	adapters map[domain.Platform]Adapter
}

// NewRegistry creates a registry holding the given adapters
func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[domain.Platform]Adapter, len(adapters))}
	for _, a := range adapters {
		r.Register(a)
	}
	return r
}

// Register adds or replaces the adapter for a.Platform()
func (r *Registry) Register(a Adapter) {
	r.adapters[a.Platform()] = a
}

// Lookup returns the adapter for p
func (r *Registry) Lookup(p domain.Platform) (Adapter, error) {
	a, ok := r.adapters[p]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedPlatform, p)
	}
	return a, nil
}

// Platforms returns the registered platforms in sorted order
func (r *Registry) Platforms() []domain.Platform {
	out := make([]domain.Platform, 0, len(r.adapters))
	for p := range r.adapters {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
