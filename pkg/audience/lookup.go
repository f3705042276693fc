package audience

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/platinummonkey/og/pkg/entity"
	"github.com/platinummonkey/og/pkg/events"
	"github.com/platinummonkey/og/pkg/fields"
	"github.com/platinummonkey/og/pkg/membership"
)

// GroupsByType maps a group entity type to loaded groups
type GroupsByType map[string][]*entity.Content

// EntityGroupCache memoises GetEntityGroups for one unit of work
type EntityGroupCache struct {
	mu      sync.Mutex
	entries map[string]GroupsByType
}

// NewEntityGroupCache creates a cache that resets on every invalidating
// event published on bus. bus may be nil.
func NewEntityGroupCache(bus *events.Bus) *EntityGroupCache {
	c := &EntityGroupCache{entries: make(map[string]GroupsByType)}
	if bus != nil {
		bus.Subscribe(func(_ context.Context, e events.Event) {
			if e.Kind.Invalidates() {
				c.Reset()
			}
		})
	}
	return c
}

func (c *EntityGroupCache) get(key string) (GroupsByType, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	g, ok := c.entries[key]
	return g, ok
}

func (c *EntityGroupCache) set(key string, g GroupsByType) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = g
}

// Reset drops every entry
func (c *EntityGroupCache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]GroupsByType)
}

// Len returns the number of entries
func (c *EntityGroupCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Lookup resolves the groups of group content and the content of groups
type Lookup struct {
	helper      *Helper
	store       entity.Storage
	memberships UserGroupSource
	cache       *EntityGroupCache
}

// NewLookup creates a lookup. A nil cache disables memoisation.
func NewLookup(helper *Helper, store entity.Storage, memberships UserGroupSource, cache *EntityGroupCache) *Lookup {
	if cache == nil {
		cache = NewEntityGroupCache(nil)
	}
	return &Lookup{helper: helper, store: store, memberships: memberships, cache: cache}
}

// GetGroupIDs returns the ids of the groups e references through its
// audience fields, keyed by group type. Empty groupType and groupBundle
// match every group.
func (l *Lookup) GetGroupIDs(ctx context.Context, e entity.Entity, groupType, groupBundle string) (map[string][]int64, error) {
	if e.EntityType() == entity.UserEntityType {
		return nil, ErrUserEntity
	}

	out := make(map[string][]int64)
	for _, def := range l.helper.GetAllGroupAudienceFields(e.EntityType(), e.Bundle(), groupType, groupBundle) {
		for _, ref := range values(e, def.Name) {
			if ref.Type == def.TargetType {
				out[ref.Type] = append(out[ref.Type], ref.ID)
			}
		}
	}

	for t, ids := range out {
		ids = entity.SortIDs(ids)
		if groupBundle != "" {
			groups, err := l.store.LoadMultiple(ctx, t, ids)
			if err != nil {
				return nil, err
			}
			ids = ids[:0]
			for _, g := range groups {
				if g.Bundle() == groupBundle {
					ids = append(ids, g.ID())
				}
			}
		}
		if len(ids) == 0 {
			delete(out, t)
			continue
		}
		out[t] = ids
	}
	return out, nil
}

// GetGroups loads the groups e references, keyed by group type
func (l *Lookup) GetGroups(ctx context.Context, e entity.Entity, groupType, groupBundle string) (GroupsByType, error) {
	ids, err := l.GetGroupIDs(ctx, e, groupType, groupBundle)
	if err != nil {
		return nil, err
	}
	return l.load(ctx, ids)
}

// GetGroupCount returns the number of existing groups e references
func (l *Lookup) GetGroupCount(ctx context.Context, e entity.Entity, groupType, groupBundle string) (int, error) {
	groups, err := l.GetGroups(ctx, e, groupType, groupBundle)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, list := range groups {
		count += len(list)
	}
	return count, nil
}

// GetGroupContentIDs returns the ids of content referencing group, keyed
// by entity type. A non-empty entityTypes restricts the content types
// searched. Users are members, not content, and are never returned.
func (l *Lookup) GetGroupContentIDs(ctx context.Context, group entity.Entity, entityTypes []string) (map[string][]int64, error) {
	wanted := make(map[string]bool, len(entityTypes))
	for _, t := range entityTypes {
		wanted[t] = true
	}

	out := make(map[string][]int64)
	for _, def := range l.helper.fields.All() {
		if !IsGroupAudienceField(def) || def.Type == fields.TypeMembershipReference {
			continue
		}
		if def.TargetType != group.EntityType() || !def.AllowsBundle(group.Bundle()) {
			continue
		}
		if len(wanted) > 0 && !wanted[def.EntityType] {
			continue
		}

		ids, err := l.store.Query(def.EntityType).
			Condition("bundle", def.Bundle, entity.OpEquals).
			References(def.Name, group.EntityType(), []int64{group.ID()}).
			Execute(ctx)
		if err != nil {
			return nil, err
		}
		out[def.EntityType] = append(out[def.EntityType], ids...)
	}

	for t, ids := range out {
		if len(ids) == 0 {
			delete(out, t)
			continue
		}
		out[t] = entity.SortIDs(ids)
	}
	return out, nil
}

// GetEntityGroups returns the groups of an entity keyed by group type. A
// user's groups come from memberships in states; other entities use their
// audience fields, optionally only fieldName. Results are memoised per
// sorted states.
func (l *Lookup) GetEntityGroups(ctx context.Context, entityType string, id int64, states []membership.State, fieldName string) (GroupsByType, error) {
	key := fmt.Sprintf("%s:%d:%s:%s", entityType, id, membership.StatesKey(states), fieldName)
	if cached, ok := l.cache.get(key); ok {
		return cached, nil
	}

	var ids map[string][]int64
	if entityType == entity.UserEntityType {
		var err error
		ids, err = l.memberships.GetUserGroupIDs(ctx, id, states)
		if err != nil {
			return nil, err
		}
	} else {
		e, err := l.store.Load(ctx, entityType, id)
		if err != nil {
			return nil, err
		}
		ids = make(map[string][]int64)
		if e != nil {
			for _, def := range l.helper.GetAllGroupAudienceFields(e.EntityType(), e.Bundle(), "", "") {
				if fieldName != "" && def.Name != fieldName {
					continue
				}
				for _, ref := range e.FieldValues(def.Name) {
					if ref.Type == def.TargetType {
						ids[ref.Type] = append(ids[ref.Type], ref.ID)
					}
				}
			}
		}
	}

	groups, err := l.load(ctx, ids)
	if err != nil {
		return nil, err
	}
	l.cache.set(key, groups)
	return groups, nil
}

// ReferencedGroups returns every group e belongs to through its audience
// fields, ordered by type and id. Users have none.
func (l *Lookup) ReferencedGroups(ctx context.Context, e entity.Entity) ([]entity.Entity, error) {
	if e.EntityType() == entity.UserEntityType {
		return nil, nil
	}
	groups, err := l.GetGroups(ctx, e, "", "")
	if err != nil {
		return nil, err
	}

	types := make([]string, 0, len(groups))
	for t := range groups {
		types = append(types, t)
	}
	sort.Strings(types)

	var out []entity.Entity
	for _, t := range types {
		for _, g := range groups[t] {
			out = append(out, g)
		}
	}
	return out, nil
}

func (l *Lookup) load(ctx context.Context, ids map[string][]int64) (GroupsByType, error) {
	out := make(GroupsByType, len(ids))
	for groupType, list := range ids {
		if len(list) == 0 {
			continue
		}
		groups, err := l.store.LoadMultiple(ctx, groupType, entity.SortIDs(list))
		if err != nil {
			return nil, err
		}
		if len(groups) > 0 {
			out[groupType] = groups
		}
	}
	return out, nil
}
