// Package cli implements the og administration command.
//
// # Overview
//
// The og command works directly against the configured database, Redis and
// og.settings file, so group types, memberships and roles can be managed
// without the HTTP daemon. Mutations publish the same invalidation events as
// the daemon, and with Redis configured every running daemon sees them.
//
// # Commands
//
// Schema and maintenance:
//
//	og migrate
//	og purge
//	og cache invalidate [group-id...]
//
// Group types and group entities:
//
//	og group add node club
//	og group create node club "Chess club" --owner 7
//	og group list
//
// Memberships and roles:
//
//	og member add node 1 5 --state pending
//	og role create node club editor --permission "edit content"
//	og role grant node 1 5 node-club-editor
//	og role show node club editor -o json
//
// Access checks run as the user named by --as:
//
//	og access check node 1 "edit content" --as 5
//	og access entity node 12 "update any post node" --as 5 --permissions "access content"
package cli
