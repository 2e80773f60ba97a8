package game

import (
	"fmt"
	"sort"
	"sync"
)

// Registry holds the scoring adapter of every supported game type.
type Registry struct {
	mu       sync.RWMutex
	adapters map[Type]Adapter
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[Type]Adapter)}
}

// Register adds an adapter. Panics on duplicate types.
func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t := a.Info().Type
	if _, exists := r.adapters[t]; exists {
		panic(fmt.Sprintf("game type %q already registered", t))
	}
	r.adapters[t] = a
}

// Get returns the adapter for a game type.
func (r *Registry) Get(t Type) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[t]
	return a, ok
}

// List returns info for all registered game types, ordered by type.
func (r *Registry) List() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()
	infos := make([]Info, 0, len(r.adapters))
	for _, a := range r.adapters {
		infos = append(infos, a.Info())
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Type < infos[j].Type })
	return infos
}
