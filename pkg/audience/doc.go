// Package audience handles the fields that place content in groups.
//
// A Helper inspects and creates audience fields, a Lookup resolves which
// groups an entity belongs to and which content a group holds, and a
// SelectionHandler lists the groups a user may pick for a field. User
// audience fields store their values as memberships, which
// MembershipStorageConfig reports as custom storage.
package audience
