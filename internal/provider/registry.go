package provider

import (
	"fmt"
	"sort"
	"sync"
)

// DefaultRegistry is the default source registry implementation.
type DefaultRegistry struct {
	sources map[string]Source
	primary string
	mu      sync.RWMutex
}

// NewRegistry creates a new source registry.
func NewRegistry() *DefaultRegistry {
	return &DefaultRegistry{
		sources: make(map[string]Source),
	}
}

// Register adds a new source. The first source becomes primary.
func (r *DefaultRegistry) Register(s Source) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sources[s.ID()]; exists {
		return fmt.Errorf("source with ID '%s' already registered", s.ID())
	}

	r.sources[s.ID()] = s
	if r.primary == "" {
		r.primary = s.ID()
	}
	return nil
}

// Get returns source by ID.
func (r *DefaultRegistry) Get(id string) (Source, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sources[id]
	return s, ok
}

// All returns all registered sources ordered by ID.
func (r *DefaultRegistry) All() []Source {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Source, 0, len(r.sources))
	for _, s := range r.sources {
		result = append(result, s)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID() < result[j].ID() })
	return result
}

// Primary returns the primary source, or nil if none is registered.
func (r *DefaultRegistry) Primary() Source {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.primary == "" {
		return nil
	}
	return r.sources[r.primary]
}

// SetPrimary sets the primary source.
func (r *DefaultRegistry) SetPrimary(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sources[id]; !exists {
		return fmt.Errorf("source '%s' not found", id)
	}
	r.primary = id
	return nil
}

// Remove removes a source by ID. If it was primary, the lowest remaining ID
// becomes primary.
func (r *DefaultRegistry) Remove(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sources[id]; !exists {
		return fmt.Errorf("source '%s' not found", id)
	}
	delete(r.sources, id)

	if r.primary == id {
		r.primary = ""
		for newID := range r.sources {
			if r.primary == "" || newID < r.primary {
				r.primary = newID
			}
		}
	}
	return nil
}
