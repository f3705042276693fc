package groups

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/platinummonkey/og/pkg/events"
	"github.com/platinummonkey/og/pkg/fields"
)

// Store persists the declared group bundles keyed by entity type
type Store interface {
	GroupMap() map[string][]string
	SaveGroupMap(ctx context.Context, groups map[string][]string) error
}

// Listener reacts to group bundles being declared or removed
type Listener interface {
	GroupAdded(ctx context.Context, entityType, bundle string) error
	GroupRemoved(ctx context.Context, entityType, bundle string) error
}

// FieldSource lists field definitions
type FieldSource interface {
	Definitions(entityType, bundle string) []fields.Definition
	All() []fields.Definition
}

// RelationMap is keyed by group type, group bundle and content entity type
// and lists the content bundles that can reference the group bundle
type RelationMap map[string]map[string]map[string][]string

// Manager is the registry of (entity type, bundle) pairs declared as groups
type Manager struct {
	store  Store
	fields FieldSource
	bus    *events.Bus

	mu          sync.RWMutex
	listeners   []Listener
	groups      map[string][]string
	relationMap RelationMap
}

// NewManager loads the group map from store. bus may be nil.
func NewManager(store Store, fieldSource FieldSource, bus *events.Bus) *Manager {
	m := &Manager{store: store, fields: fieldSource, bus: bus}
	m.load()
	if bus != nil {
		bus.Subscribe(func(_ context.Context, e events.Event) {
			switch e.Kind {
			case events.FieldChanged, events.ConfigSaved, events.CacheInvalidated:
				m.Reset()
			}
		})
	}
	return m
}

// AddListener registers l for add and remove notifications
func (m *Manager) AddListener(l Listener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, l)
}

func (m *Manager) load() {
	groups := make(map[string][]string)
	if m.store != nil {
		for entityType, bundles := range m.store.GroupMap() {
			groups[entityType] = append([]string(nil), bundles...)
		}
	}
	m.mu.Lock()
	m.groups = groups
	m.relationMap = nil
	m.mu.Unlock()
}

// Reset reloads the group map and drops derived caches
func (m *Manager) Reset() {
	m.load()
}

// IsGroup reports whether the pair was declared as a group
func (m *Manager) IsGroup(entityType, bundle string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return contains(m.groups[entityType], bundle)
}

// AddGroup declares the pair as a group. Adding an existing pair is a no-op.
func (m *Manager) AddGroup(ctx context.Context, entityType, bundle string) error {
	m.mu.Lock()
	if contains(m.groups[entityType], bundle) {
		m.mu.Unlock()
		return nil
	}
	next := m.copyLocked()
	next[entityType] = append(next[entityType], bundle)
	sort.Strings(next[entityType])
	if err := m.persistLocked(ctx, next); err != nil {
		m.mu.Unlock()
		return err
	}
	listeners := append([]Listener(nil), m.listeners...)
	m.mu.Unlock()

	for _, l := range listeners {
		if err := l.GroupAdded(ctx, entityType, bundle); err != nil {
			return fmt.Errorf("group %s %s added but listener failed: %w", entityType, bundle, err)
		}
	}

	m.publish(ctx, entityType, bundle)
	return nil
}

// RemoveGroup removes the pair. Removing an unknown pair is a no-op.
func (m *Manager) RemoveGroup(ctx context.Context, entityType, bundle string) error {
	m.mu.Lock()
	if !contains(m.groups[entityType], bundle) {
		m.mu.Unlock()
		return nil
	}
	next := m.copyLocked()
	remaining := next[entityType][:0]
	for _, b := range next[entityType] {
		if b != bundle {
			remaining = append(remaining, b)
		}
	}
	if len(remaining) == 0 {
		delete(next, entityType)
	} else {
		next[entityType] = remaining
	}
	if err := m.persistLocked(ctx, next); err != nil {
		m.mu.Unlock()
		return err
	}
	listeners := append([]Listener(nil), m.listeners...)
	m.mu.Unlock()

	for _, l := range listeners {
		if err := l.GroupRemoved(ctx, entityType, bundle); err != nil {
			return fmt.Errorf("group %s %s removed but listener failed: %w", entityType, bundle, err)
		}
	}

	m.publish(ctx, entityType, bundle)
	return nil
}

func (m *Manager) copyLocked() map[string][]string {
	out := make(map[string][]string, len(m.groups))
	for k, v := range m.groups {
		out[k] = append([]string(nil), v...)
	}
	return out
}

func (m *Manager) persistLocked(ctx context.Context, next map[string][]string) error {
	if m.store != nil {
		if err := m.store.SaveGroupMap(ctx, next); err != nil {
			return fmt.Errorf("failed to save group map: %w", err)
		}
	}
	m.groups = next
	m.relationMap = nil
	return nil
}

func (m *Manager) publish(ctx context.Context, entityType, bundle string) {
	if m.bus != nil {
		m.bus.Publish(ctx, events.Event{Kind: events.GroupTypeChanged, EntityType: entityType, Bundle: bundle})
	}
}

// GetAllGroupBundles returns the group bundles of entityType, sorted
func (m *Manager) GetAllGroupBundles(entityType string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.groups[entityType]...)
}

// GetGroupMap returns a copy of every declared group bundle
func (m *Manager) GetGroupMap() map[string][]string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.copyLocked()
}

// IsGroupContent reports whether the bundle carries an audience field
func (m *Manager) IsGroupContent(entityType, bundle string) bool {
	if m.fields == nil {
		return false
	}
	for _, def := range m.fields.Definitions(entityType, bundle) {
		if def.IsAudience() {
			return true
		}
	}
	return false
}

// GetGroupRelationMap returns which content bundles can reference each group
// bundle. The map is memoised until the next change.
func (m *Manager) GetGroupRelationMap() RelationMap {
	m.mu.RLock()
	if m.relationMap != nil {
		defer m.mu.RUnlock()
		return m.relationMap.clone()
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.relationMap == nil {
		m.relationMap = m.buildRelationMapLocked()
	}
	return m.relationMap.clone()
}

func (r RelationMap) clone() RelationMap {
	out := make(RelationMap, len(r))
	for groupType, byBundle := range r {
		out[groupType] = make(map[string]map[string][]string, len(byBundle))
		for groupBundle, byType := range byBundle {
			out[groupType][groupBundle] = make(map[string][]string, len(byType))
			for entityType, bundles := range byType {
				out[groupType][groupBundle][entityType] = append([]string(nil), bundles...)
			}
		}
	}
	return out
}

func (m *Manager) buildRelationMapLocked() RelationMap {
	out := make(RelationMap)
	if m.fields == nil {
		return out
	}

	for _, def := range m.fields.All() {
		if !def.IsAudience() {
			continue
		}
		for _, groupBundle := range m.groups[def.TargetType] {
			if !def.AllowsBundle(groupBundle) {
				continue
			}
			if out[def.TargetType] == nil {
				out[def.TargetType] = make(map[string]map[string][]string)
			}
			if out[def.TargetType][groupBundle] == nil {
				out[def.TargetType][groupBundle] = make(map[string][]string)
			}
			bundles := out[def.TargetType][groupBundle][def.EntityType]
			if !contains(bundles, def.Bundle) {
				bundles = append(bundles, def.Bundle)
				sort.Strings(bundles)
				out[def.TargetType][groupBundle][def.EntityType] = bundles
			}
		}
	}
	return out
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
