// Package og wires the group access packages into a running system.
//
// A Service owns what is shared by the whole process: the database, the
// og.settings store, field metadata, the role LRU and the optional Redis
// snapshot cache. Each request gets its own Scope from NewScope (or
// ScopeMiddleware), which builds a fresh event bus, membership manager,
// group registry, audience lookup and access engine. Events published in a
// scope are forwarded to the Service listeners, so a role change in one
// request purges the role LRU and bumps the shared snapshot generation for
// every worker.
//
//	svc := og.NewService(og.ServiceOptions{DB: db, Settings: settings, Redis: rdb})
//	sc := svc.NewScope()
//	decision, err := sc.Engine.UserAccess(ctx, group, "edit content", user, false)
//
// Handlers exposes the scope operations over HTTP and OrphanPurger removes
// memberships and references whose group was deleted.
package og
