package membership

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/platinummonkey/og/pkg/entity"
	"github.com/platinummonkey/og/pkg/events"
)

// Manager answers membership questions for one unit of work. Results of
// GetMemberships are memoised until the next membership or role change.
type Manager struct {
	repo Repository

	mu    sync.Mutex
	cache map[string][]*Membership
}

// NewManager creates a manager over repo. When bus is not nil the manager
// resets itself on every invalidating event.
func NewManager(repo Repository, bus *events.Bus) *Manager {
	m := &Manager{repo: repo, cache: make(map[string][]*Membership)}
	if bus != nil {
		bus.Subscribe(func(_ context.Context, e events.Event) {
			if e.Kind.Invalidates() {
				m.Reset()
			}
		})
	}
	return m
}

// Reset drops every memoised result
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cache = make(map[string][]*Membership)
}

func cacheKey(uid int64, states []State) string {
	return fmt.Sprintf("getMemberships|%d|%s", uid, StatesKey(states))
}

// GetMemberships returns the user's memberships in states. Empty states mean
// active only. The state order does not affect the cache entry used.
func (m *Manager) GetMemberships(ctx context.Context, uid int64, states []State) ([]*Membership, error) {
	key := cacheKey(uid, states)

	m.mu.Lock()
	cached, ok := m.cache[key]
	m.mu.Unlock()
	if ok {
		return cached, nil
	}

	loaded, err := m.repo.LoadByUser(ctx, uid, normalizeStates(states))
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.cache[key] = loaded
	m.mu.Unlock()
	return loaded, nil
}

// GetMembership returns the first membership of uid in group among states,
// or nil
func (m *Manager) GetMembership(ctx context.Context, group entity.Entity, uid int64, states []State) (*Membership, error) {
	memberships, err := m.GetMemberships(ctx, uid, states)
	if err != nil {
		return nil, err
	}
	for _, membership := range memberships {
		if membership.BelongsTo(group) {
			return membership, nil
		}
	}
	return nil, nil
}

// CreateMembership returns an unsaved membership. An empty type means
// DefaultType.
func (m *Manager) CreateMembership(group entity.Entity, user entity.Account, membershipType string) *Membership {
	membership := New(group, user.ID())
	if membershipType != "" {
		membership.Type = membershipType
	}
	return membership
}

// IsMember reports whether uid has a membership in group among states.
// Empty states mean active only.
func (m *Manager) IsMember(ctx context.Context, group entity.Entity, uid int64, states []State) (bool, error) {
	membership, err := m.GetMembership(ctx, group, uid, states)
	return membership != nil, err
}

// IsMemberPending reports whether uid has a pending membership in group
func (m *Manager) IsMemberPending(ctx context.Context, group entity.Entity, uid int64) (bool, error) {
	return m.IsMember(ctx, group, uid, []State{StatePending})
}

// IsMemberBlocked reports whether uid has a blocked membership in group
func (m *Manager) IsMemberBlocked(ctx context.Context, group entity.Entity, uid int64) (bool, error) {
	return m.IsMember(ctx, group, uid, []State{StateBlocked})
}

// GetUserGroupIDs returns the ids of the user's groups keyed by entity type
func (m *Manager) GetUserGroupIDs(ctx context.Context, uid int64, states []State) (map[string][]int64, error) {
	memberships, err := m.GetMemberships(ctx, uid, states)
	if err != nil {
		return nil, err
	}

	out := make(map[string][]int64)
	for _, membership := range memberships {
		out[membership.EntityType] = append(out[membership.EntityType], membership.EntityID)
	}
	for entityType, ids := range out {
		out[entityType] = entity.SortIDs(ids)
	}
	return out, nil
}

// GetUserGroups loads the user's groups keyed by entity type
func (m *Manager) GetUserGroups(ctx context.Context, store entity.Storage, uid int64, states []State) (map[string][]*entity.Content, error) {
	ids, err := m.GetUserGroupIDs(ctx, uid, states)
	if err != nil {
		return nil, err
	}

	types := make([]string, 0, len(ids))
	for t := range ids {
		types = append(types, t)
	}
	sort.Strings(types)

	out := make(map[string][]*entity.Content, len(ids))
	for _, entityType := range types {
		groups, err := store.LoadMultiple(ctx, entityType, ids[entityType])
		if err != nil {
			return nil, err
		}
		if len(groups) > 0 {
			out[entityType] = groups
		}
	}
	return out, nil
}

// Save persists membership. The repository publishes the change, which
// resets this manager.
func (m *Manager) Save(ctx context.Context, membership *Membership) error {
	if err := m.repo.Save(ctx, membership); err != nil {
		return err
	}
	m.Reset()
	return nil
}

// Delete removes membership
func (m *Manager) Delete(ctx context.Context, membership *Membership) error {
	if err := m.repo.Delete(ctx, membership); err != nil {
		return err
	}
	m.Reset()
	return nil
}
