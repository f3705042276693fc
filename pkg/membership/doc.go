// Package membership stores the links between users and groups.
//
// A Membership carries a state (active, pending or blocked), a type and the
// rids of its assigned roles. At most one membership may exist per user and
// group; Store.Save enforces it together with role scoping.
//
// Manager is request scoped. It memoises GetMemberships by user and by the
// sorted, deduplicated state set, so [active, pending] and [pending, active]
// share an entry. Any invalidating event on the scope bus clears it.
package membership
