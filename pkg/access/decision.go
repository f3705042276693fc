package access

import (
	"fmt"
	"sort"

	"github.com/platinummonkey/og/pkg/entity"
)

// AdministerGroup is the global permission that bypasses group checks
const AdministerGroup = "administer group"

// MaxAgePermanent marks a decision that stays valid until one of its tags
// or contexts changes
const MaxAgePermanent = -1

// Rules that produce a decision, reported in Decision.Reason
const (
	RuleSuperuser       = "superuser"
	RuleAdministerGroup = "administer_group"
	RuleOwner           = "owner"
	RuleAdminRole       = "admin_role"
	RuleRole            = "role"
	RuleNonMember       = "non_member"
	RuleDenied          = "denied"
	RuleNoGroups        = "no_groups"
)

// Cache metadata attached to decisions
const (
	ContextUser            = "user"
	ContextUserPermissions = "user.permissions"
	ContextRole            = "og_role"
	SettingsTag            = "config:og.settings"
)

// Decision is the result of an access check together with the cache
// metadata a caller needs to store it
type Decision struct {
	Allowed  bool     `json:"allowed"`
	Reason   string   `json:"reason"`
	Contexts []string `json:"contexts,omitempty"`
	Tags     []string `json:"tags,omitempty"`
	MaxAge   int      `json:"max_age"`
}

// Allow returns an allowed decision
func Allow(reason string) Decision {
	return Decision{Allowed: true, Reason: reason, MaxAge: MaxAgePermanent}
}

// Deny returns a denied decision
func Deny(reason string) Decision {
	return Decision{Reason: reason, MaxAge: MaxAgePermanent}
}

// WithContexts returns d with contexts added
func (d Decision) WithContexts(contexts ...string) Decision {
	d.Contexts = mergeStrings(d.Contexts, contexts)
	return d
}

// WithTags returns d with tags added
func (d Decision) WithTags(tags ...string) Decision {
	d.Tags = mergeStrings(d.Tags, tags)
	return d
}

// Or combines two decisions. The result is allowed when either is, and it
// carries the cache metadata of both.
func (d Decision) Or(other Decision) Decision {
	out := d
	switch {
	case !d.Allowed && other.Allowed:
		out.Allowed = true
		out.Reason = other.Reason
	case !d.Allowed && other.Reason != "":
		out.Reason = other.Reason
	}
	out.Contexts = mergeStrings(d.Contexts, other.Contexts)
	out.Tags = mergeStrings(d.Tags, other.Tags)
	out.MaxAge = mergeMaxAge(d.MaxAge, other.MaxAge)
	return out
}

func (d Decision) String() string {
	verdict := "deny"
	if d.Allowed {
		verdict = "allow"
	}
	return fmt.Sprintf("%s(%s)", verdict, d.Reason)
}

// GroupTag is the cache tag of a group entity
func GroupTag(group entity.Entity) string {
	return fmt.Sprintf("%s:%d", group.EntityType(), group.ID())
}

func mergeStrings(a, b []string) []string {
	if len(b) == 0 {
		return a
	}
	seen := make(map[string]bool, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, list := range [][]string{a, b} {
		for _, s := range list {
			if !seen[s] {
				seen[s] = true
				out = append(out, s)
			}
		}
	}
	sort.Strings(out)
	return out
}

func mergeMaxAge(a, b int) int {
	if a == MaxAgePermanent {
		return b
	}
	if b == MaxAgePermanent || a < b {
		return a
	}
	return b
}
