// Package groups is the registry of entity bundles declared as groups.
//
// AddGroup and RemoveGroup are idempotent. A real change is persisted to the
// og.settings object, handed to registered listeners (the role store creates
// or deletes the bundle's default roles), clears the memoised relation map
// and is published as events.GroupTypeChanged.
package groups
