package audit

import (
	"context"
	"fmt"

	"github.com/platinummonkey/og/pkg/access"
	"github.com/platinummonkey/og/pkg/contextkeys"
	"github.com/platinummonkey/og/pkg/entity"
	"github.com/platinummonkey/og/pkg/events"
)

var eventTypes = map[events.Kind]struct {
	eventType EventType
	resource  ResourceType
}{
	events.RoleSaved:         {EventTypeRoleSave, ResourceTypeRole},
	events.RoleDeleted:       {EventTypeRoleDelete, ResourceTypeRole},
	events.MembershipSaved:   {EventTypeMembershipSave, ResourceTypeMembership},
	events.MembershipDeleted: {EventTypeMembershipDelete, ResourceTypeMembership},
	events.GroupTypeChanged:  {EventTypeGroupTypeChange, ResourceTypeGroup},
	events.FieldChanged:      {EventTypeFieldChange, ResourceTypeField},
	events.ConfigSaved:       {EventTypeConfigChange, ResourceTypeConfig},
}

// Listener records bus mutations as audit events. Events without an audit
// mapping, such as cache invalidations, are ignored.
func Listener(logger Logger) events.Listener {
	return func(ctx context.Context, e events.Event) {
		mapping, ok := eventTypes[e.Kind]
		if !ok {
			return
		}

		event := &AuditEvent{
			EventType:    mapping.eventType,
			Status:       EventStatusSuccess,
			ResourceType: mapping.resource,
			GroupType:    e.EntityType,
			GroupIDs:     e.GroupIDs,
			Message:      string(e.Kind),
		}
		switch mapping.resource {
		case ResourceTypeRole:
			event.ResourceID = e.RoleID
		case ResourceTypeMembership:
			event.ResourceID = fmt.Sprintf("%d", e.UserID)
		case ResourceTypeGroup, ResourceTypeField:
			event.ResourceID = fmt.Sprintf("%s:%s", e.EntityType, e.Bundle)
		}
		if account, ok := ctx.Value(contextkeys.PrincipalKey).(entity.Account); ok && account.IsAuthenticated() {
			uid := account.ID()
			event.UserID = &uid
		}
		_ = logger.Log(ctx, event)
	}
}

// DenialInterceptor records denied access decisions. It never changes the
// decision.
func DenialInterceptor(logger Logger) access.Interceptor {
	return access.InterceptorFunc(func(ctx context.Context, d access.Decision, group entity.Entity, permission string, user entity.Account) access.Decision {
		if d.Allowed {
			return d
		}
		uid := user.ID()
		_ = logger.Log(ctx, &AuditEvent{
			EventType:    EventTypeAccessDenied,
			Status:       EventStatusDenied,
			UserID:       &uid,
			ResourceType: ResourceTypeGroup,
			ResourceID:   access.GroupTag(group),
			GroupType:    group.EntityType(),
			GroupIDs:     []int64{group.ID()},
			Message:      fmt.Sprintf("denied %q", permission),
			Metadata:     map[string]interface{}{"rule": d.Reason},
		})
		return d
	})
}
