package roles

import (
	"context"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/platinummonkey/og/pkg/events"
)

// Loader is the read side of the role store
type Loader interface {
	Load(ctx context.Context, rid string) (*Role, error)
	LoadByName(ctx context.Context, groupType, groupBundle, name string) (*Role, error)
	LoadMultiple(ctx context.Context, rids []string) ([]*Role, error)
}

// CachedStore is a process-wide LRU of roles in front of a Loader. Missing
// roles are not cached.
type CachedStore struct {
	next   Loader
	cache  *lru.LRU[string, *Role]
	hits   atomic.Int64
	misses atomic.Int64
}

// Stats reports cache effectiveness
type Stats struct {
	Hits      int64
	Misses    int64
	ItemCount int
}

// NewCachedStore caches up to size roles for ttl
func NewCachedStore(next Loader, size int, ttl time.Duration) *CachedStore {
	if size < 1 {
		size = 1
	}
	return &CachedStore{
		next:  next,
		cache: lru.NewLRU[string, *Role](size, nil, ttl),
	}
}

// Load returns a copy of the cached role, loading it on a miss
func (c *CachedStore) Load(ctx context.Context, rid string) (*Role, error) {
	if role, ok := c.cache.Get(rid); ok {
		c.hits.Add(1)
		return role.clone(), nil
	}
	c.misses.Add(1)

	role, err := c.next.Load(ctx, rid)
	if err != nil || role == nil {
		return role, err
	}
	c.cache.Add(rid, role.clone())
	return role, nil
}

// LoadByName resolves the rid and loads through the cache
func (c *CachedStore) LoadByName(ctx context.Context, groupType, groupBundle, name string) (*Role, error) {
	return c.Load(ctx, RoleID(groupType, groupBundle, name))
}

// LoadMultiple serves cached roles and loads the rest in one call
func (c *CachedStore) LoadMultiple(ctx context.Context, rids []string) ([]*Role, error) {
	out := make([]*Role, 0, len(rids))
	var missing []string
	for _, rid := range rids {
		if role, ok := c.cache.Get(rid); ok {
			c.hits.Add(1)
			out = append(out, role.clone())
			continue
		}
		c.misses.Add(1)
		missing = append(missing, rid)
	}

	if len(missing) > 0 {
		loaded, err := c.next.LoadMultiple(ctx, missing)
		if err != nil {
			return nil, err
		}
		for _, role := range loaded {
			c.cache.Add(role.ID, role.clone())
			out = append(out, role)
		}
	}

	sortRoles(out)
	return out, nil
}

// Purge drops every cached role
func (c *CachedStore) Purge() {
	c.cache.Purge()
}

// Listener purges the cache on role and group type changes
func (c *CachedStore) Listener() events.Listener {
	return func(_ context.Context, e events.Event) {
		switch e.Kind {
		case events.RoleSaved, events.RoleDeleted, events.GroupTypeChanged, events.CacheInvalidated:
			c.cache.Purge()
		}
	}
}

// Stats returns hit and miss counters
func (c *CachedStore) Stats() Stats {
	return Stats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		ItemCount: c.cache.Len(),
	}
}

func (r *Role) clone() *Role {
	cp := *r
	cp.Permissions = append([]string(nil), r.Permissions...)
	return &cp
}
