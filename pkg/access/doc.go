// Package access decides what users may do inside groups.
//
// The Engine resolves a user's permissions in a group into a Snapshot,
// built from the user's active membership roles or from the non-member role,
// and applies the bypass rules in a fixed order:
//
//  1. the superuser is always allowed
//  2. accounts holding "administer group" are allowed
//  3. the group owner is allowed when group_manager_full_access is on
//  4. admin roles are allowed
//  5. permissions of the user's roles are allowed
//  6. users without a membership get the non-member role's permissions
//  7. everything else is denied
//
// Snapshots are cached per unit of work in a ResolutionCache under a
// pre_alter and a post_alter pass. A RedisSnapshotCache can sit behind it to
// share snapshots between requests; invalidating events bump its generation.
package access
