package fields

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Store persists field definitions
type Store interface {
	FieldDefinitions() []Definition
	SaveFieldDefinitions(ctx context.Context, defs []Definition) error
}

// Registry answers field metadata queries per (entity type, bundle)
type Registry struct {
	mu    sync.RWMutex
	store Store
	defs  map[string]Definition
}

// NewRegistry loads the definitions held by store. A nil store keeps
// definitions in memory only.
func NewRegistry(store Store) *Registry {
	r := &Registry{store: store, defs: make(map[string]Definition)}
	if store != nil {
		for _, d := range store.FieldDefinitions() {
			r.defs[d.key()] = d
		}
	}
	return r
}

// Definitions returns the fields attached to a bundle, sorted by name
func (r *Registry) Definitions(entityType, bundle string) []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Definition
	for _, d := range r.defs {
		if d.EntityType == entityType && d.Bundle == bundle {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Definition returns a single field, or false when it does not exist
func (r *Registry) Definition(entityType, bundle, name string) (Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.defs[Definition{EntityType: entityType, Bundle: bundle, Name: name}.key()]
	return d, ok
}

// All returns every definition, sorted by entity type, bundle and name
func (r *Registry) All() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sortedLocked()
}

// Has reports whether the field already exists on the bundle
func (r *Registry) Has(entityType, bundle, name string) bool {
	_, ok := r.Definition(entityType, bundle, name)
	return ok
}

// Add stores def. Adding a field that already exists returns false and
// leaves the stored definition untouched.
func (r *Registry) Add(ctx context.Context, def Definition) (bool, error) {
	r.mu.Lock()
	if _, ok := r.defs[def.key()]; ok {
		r.mu.Unlock()
		return false, nil
	}
	r.defs[def.key()] = def
	snapshot := r.sortedLocked()
	r.mu.Unlock()

	// the store may notify listeners that call back into the registry, so
	// it is written without holding the lock
	if err := r.persist(ctx, snapshot); err != nil {
		r.mu.Lock()
		delete(r.defs, def.key())
		r.mu.Unlock()
		return false, err
	}
	return true, nil
}

// Remove deletes a field. Unknown fields are ignored.
func (r *Registry) Remove(ctx context.Context, entityType, bundle, name string) error {
	key := Definition{EntityType: entityType, Bundle: bundle, Name: name}.key()

	r.mu.Lock()
	old, ok := r.defs[key]
	if !ok {
		r.mu.Unlock()
		return nil
	}
	delete(r.defs, key)
	snapshot := r.sortedLocked()
	r.mu.Unlock()

	if err := r.persist(ctx, snapshot); err != nil {
		r.mu.Lock()
		r.defs[key] = old
		r.mu.Unlock()
		return err
	}
	return nil
}

// Reload replaces the in-memory definitions with the store's
func (r *Registry) Reload() {
	if r.store == nil {
		return
	}
	defs := r.store.FieldDefinitions()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.defs = make(map[string]Definition, len(defs))
	for _, d := range defs {
		r.defs[d.key()] = d
	}
}

func (r *Registry) persist(ctx context.Context, defs []Definition) error {
	if r.store == nil {
		return nil
	}
	if err := r.store.SaveFieldDefinitions(ctx, defs); err != nil {
		return fmt.Errorf("failed to save field definitions: %w", err)
	}
	return nil
}

func (r *Registry) sortedLocked() []Definition {
	out := make([]Definition, 0, len(r.defs))
	for _, d := range r.defs {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].key() < out[j].key() })
	return out
}
