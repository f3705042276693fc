package access

import (
	"fmt"

	"github.com/platinummonkey/og/pkg/entity"
)

// PermissionCatalog maps entity operations to group permissions
type PermissionCatalog interface {
	// GroupPermissions lists the permissions that allow operation on the
	// group entity itself
	GroupPermissions(operation string, group entity.Entity) []string
	// ContentPermissions lists the permissions that allow user to perform
	// operation on content inside a group
	ContentPermissions(operation string, content entity.Entity, user entity.Account) []string
}

// DefaultCatalog maps operations to "<op> group" for groups and to
// "<op> own|any <bundle> <type>" for content
type DefaultCatalog struct{}

func (DefaultCatalog) GroupPermissions(operation string, _ entity.Entity) []string {
	return []string{fmt.Sprintf("%s group", operation)}
}

func (DefaultCatalog) ContentPermissions(operation string, content entity.Entity, user entity.Account) []string {
	anyPerm := fmt.Sprintf("%s any %s %s", operation, content.Bundle(), content.EntityType())
	if owned, ok := content.(entity.Owned); ok && user != nil && user.IsAuthenticated() && owned.OwnerID() == user.ID() {
		return []string{fmt.Sprintf("%s own %s %s", operation, content.Bundle(), content.EntityType()), anyPerm}
	}
	return []string{anyPerm}
}
