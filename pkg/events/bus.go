package events

import (
	"context"
	"sync"
)

// Kind identifies what changed
type Kind string

const (
	RoleSaved         Kind = "role.saved"
	RoleDeleted       Kind = "role.deleted"
	MembershipSaved   Kind = "membership.saved"
	MembershipDeleted Kind = "membership.deleted"
	GroupTypeChanged  Kind = "group_type.changed"
	FieldChanged      Kind = "field.changed"
	ConfigSaved       Kind = "config.saved"
	// CacheInvalidated is broadcast by an explicit cache reset so other
	// components can drop derived caches
	CacheInvalidated Kind = "cache.invalidated"
)

// Invalidates reports whether the change makes resolved permissions stale
func (k Kind) Invalidates() bool {
	switch k {
	case RoleSaved, RoleDeleted, MembershipSaved, MembershipDeleted,
		GroupTypeChanged, FieldChanged, ConfigSaved, CacheInvalidated:
		return true
	}
	return false
}

// Event describes a mutation
type Event struct {
	Kind       Kind
	EntityType string
	Bundle     string
	GroupIDs   []int64
	RoleID     string
	UserID     int64
}

// Listener handles a published event
type Listener func(ctx context.Context, e Event)

type subscription struct {
	kind     Kind
	listener Listener
}

// Bus dispatches events synchronously to listeners in subscription order
type Bus struct {
	mu   sync.RWMutex
	subs []subscription
}

// NewBus creates an empty bus
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers l for every kind
func (b *Bus) Subscribe(l Listener) {
	b.On("", l)
}

// On registers l for a single kind. An empty kind matches every event.
func (b *Bus) On(kind Kind, l Listener) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, subscription{kind: kind, listener: l})
}

// Publish calls every matching listener before returning
func (b *Bus) Publish(ctx context.Context, e Event) {
	b.mu.RLock()
	subs := make([]subscription, len(b.subs))
	copy(subs, b.subs)
	b.mu.RUnlock()

	for _, s := range subs {
		if s.kind == "" || s.kind == e.Kind {
			s.listener(ctx, e)
		}
	}
}

// Len returns the number of subscriptions
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
