// Package roles stores group-scoped roles and their permission grants.
//
// A role is identified by its rid, "<group type>-<group bundle>-<name>", and
// every group bundle gets three built-in roles when it is declared: the
// required non-member and member roles and an administrator role flagged
// IsAdmin. Deleting a role detaches it from every membership in the same
// transaction.
//
// CachedStore keeps recently used roles in an expirable LRU shared across
// requests and is purged by role events.
package roles
