package ecs

import "fmt"

// Registry tracks every component store by kind, preserving registration
// order so bulk operations and snapshots stay deterministic.
type Registry struct {
	order  []Store
	byKind map[string]Store
}

func NewRegistry() *Registry {
	return &Registry{
		order:  make([]Store, 0, 16),
		byKind: make(map[string]Store, 16),
	}
}

// Register adds a component store under its kind name.
func (r *Registry) Register(store Store) error {
	if _, dup := r.byKind[store.Kind()]; dup {
		return fmt.Errorf("component kind %q registered twice", store.Kind())
	}
	r.order = append(r.order, store)
	r.byKind[store.Kind()] = store
	return nil
}

func (r *Registry) Lookup(kind string) (Store, bool) {
	s, ok := r.byKind[kind]
	return s, ok
}

// RemoveAll clears the given entity from every registered component store.
func (r *Registry) RemoveAll(id EntityID) {
	for _, s := range r.order {
		s.Remove(id)
	}
}

// Each visits stores in registration order.
func (r *Registry) Each(fn func(Store)) {
	for _, s := range r.order {
		fn(s)
	}
}
