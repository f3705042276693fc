package access

import (
	"fmt"
	"sort"
	"sync"
)

// Resolution passes. The pre_alter snapshot comes straight from roles; the
// post_alter snapshot has been through every SnapshotAlterer.
const (
	PassPreAlter  = "pre_alter"
	PassPostAlter = "post_alter"
)

// Snapshot is the resolved permission set of one user in one group
type Snapshot struct {
	Permissions map[string]bool `json:"permissions"`
	IsAdmin     bool            `json:"is_admin"`
	// NonMember is set when the permissions come from the non-member role
	NonMember bool `json:"non_member,omitempty"`
}

// NewSnapshot returns a snapshot holding permissions
func NewSnapshot(permissions ...string) Snapshot {
	s := Snapshot{Permissions: make(map[string]bool, len(permissions))}
	for _, p := range permissions {
		s.Permissions[p] = true
	}
	return s
}

// Has reports whether the snapshot grants permission
func (s Snapshot) Has(permission string) bool {
	return s.Permissions[permission]
}

// Grant adds a permission
func (s *Snapshot) Grant(permission string) {
	if s.Permissions == nil {
		s.Permissions = make(map[string]bool)
	}
	s.Permissions[permission] = true
}

// Revoke removes a permission
func (s *Snapshot) Revoke(permission string) {
	delete(s.Permissions, permission)
}

// List returns the granted permissions sorted
func (s Snapshot) List() []string {
	out := make([]string, 0, len(s.Permissions))
	for p, ok := range s.Permissions {
		if ok {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out
}

// Clone returns a deep copy
func (s Snapshot) Clone() Snapshot {
	out := s
	out.Permissions = make(map[string]bool, len(s.Permissions))
	for p, ok := range s.Permissions {
		out.Permissions[p] = ok
	}
	return out
}

// SnapshotKey identifies a cached snapshot
type SnapshotKey struct {
	GroupType string
	GroupID   int64
	UID       int64
	Pass      string
}

func (k SnapshotKey) String() string {
	return fmt.Sprintf("%s:%d:%d:%s", k.GroupType, k.GroupID, k.UID, k.Pass)
}

// ResolutionCache holds the snapshots resolved during one unit of work
type ResolutionCache struct {
	mu      sync.RWMutex
	entries map[SnapshotKey]Snapshot
}

// NewResolutionCache creates an empty cache
func NewResolutionCache() *ResolutionCache {
	return &ResolutionCache{entries: make(map[SnapshotKey]Snapshot)}
}

// Get returns the snapshot stored under key
func (c *ResolutionCache) Get(key SnapshotKey) (Snapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.entries[key]
	return s, ok
}

// Set stores a snapshot
func (c *ResolutionCache) Set(key SnapshotKey, s Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = s
}

// Reset drops every entry
func (c *ResolutionCache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[SnapshotKey]Snapshot)
}

// Len returns the number of entries
func (c *ResolutionCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
