package og

import (
	"context"
	"errors"
	"fmt"

	"github.com/platinummonkey/og/pkg/audit"
	"github.com/platinummonkey/og/pkg/entity"
	"github.com/platinummonkey/og/pkg/membership"
	"github.com/platinummonkey/og/pkg/roles"
)

var (
	// ErrNotGroup is returned when an operation needs a group entity
	ErrNotGroup = errors.New("entity is not a group")
	// ErrNotMember is returned when a role change targets a user without a
	// membership in the group
	ErrNotMember = errors.New("user is not a member of the group")
	// ErrRoleNotFound is returned when a role id does not exist
	ErrRoleNotFound = errors.New("role not found")
)

var anyState = []membership.State{membership.StateActive, membership.StatePending, membership.StateBlocked}

// GetRole returns the role named name of the group type and bundle, or nil
func (sc *Scope) GetRole(ctx context.Context, entityType, bundle, name string) (*roles.Role, error) {
	return sc.service.roleLRU.LoadByName(ctx, entityType, bundle, name)
}

// LoadGroup loads a group entity. It returns nil, nil when the entity does
// not exist and ErrNotGroup when its bundle is not a group.
func (sc *Scope) LoadGroup(ctx context.Context, entityType string, id int64) (*entity.Content, error) {
	group, err := sc.Entities.Load(ctx, entityType, id)
	if err != nil || group == nil {
		return nil, err
	}
	if !sc.Groups.IsGroup(group.EntityType(), group.Bundle()) {
		return nil, fmt.Errorf("%s %d: %w", entityType, id, ErrNotGroup)
	}
	return group, nil
}

// Subscribe creates a membership of user in group in the given state. An
// empty state means active.
func (sc *Scope) Subscribe(ctx context.Context, group entity.Entity, user entity.Account, state membership.State, membershipType string) (*membership.Membership, error) {
	if !sc.Groups.IsGroup(group.EntityType(), group.Bundle()) {
		return nil, ErrNotGroup
	}
	m := sc.Memberships.CreateMembership(group, user, membershipType)
	if state != "" {
		m.State = state
	}
	if err := sc.Memberships.Save(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

// Unsubscribe deletes the membership of uid in group, in any state.
// A user without a membership is a no-op.
func (sc *Scope) Unsubscribe(ctx context.Context, group entity.Entity, uid int64) error {
	m, err := sc.Memberships.GetMembership(ctx, group, uid, anyState)
	if err != nil || m == nil {
		return err
	}
	return sc.Memberships.Delete(ctx, m)
}

// GrantRole assigns the role rid to the membership of uid in group
func (sc *Scope) GrantRole(ctx context.Context, group entity.Entity, uid int64, rid string) error {
	role, err := sc.service.roleLRU.Load(ctx, rid)
	if err != nil {
		return err
	}
	if role == nil {
		return fmt.Errorf("%s: %w", rid, ErrRoleNotFound)
	}

	err = sc.updateRoles(ctx, group, uid, func(m *membership.Membership) { m.AddRole(role) })
	sc.auditRoleChange(ctx, audit.EventTypeMembershipRoleGrant, group, uid, rid, err)
	return err
}

// RevokeRole removes the role rid from the membership of uid in group
func (sc *Scope) RevokeRole(ctx context.Context, group entity.Entity, uid int64, rid string) error {
	err := sc.updateRoles(ctx, group, uid, func(m *membership.Membership) { m.RevokeRole(rid) })
	sc.auditRoleChange(ctx, audit.EventTypeMembershipRoleRevoke, group, uid, rid, err)
	return err
}

func (sc *Scope) updateRoles(ctx context.Context, group entity.Entity, uid int64, change func(*membership.Membership)) error {
	current, err := sc.Memberships.GetMembership(ctx, group, uid, anyState)
	if err != nil {
		return err
	}
	if current == nil {
		return fmt.Errorf("uid %d in %s %d: %w", uid, group.EntityType(), group.ID(), ErrNotMember)
	}

	// the manager hands out cached memberships
	m := *current
	m.Roles = append([]string(nil), current.Roles...)
	change(&m)
	return sc.Memberships.Save(ctx, &m)
}

func (sc *Scope) auditRoleChange(ctx context.Context, eventType audit.EventType, group entity.Entity, uid int64, rid string, err error) {
	event := &audit.AuditEvent{
		EventType:    eventType,
		Status:       audit.EventStatusSuccess,
		ResourceType: audit.ResourceTypeMembership,
		ResourceID:   fmt.Sprintf("%d", uid),
		GroupType:    group.EntityType(),
		GroupIDs:     []int64{group.ID()},
		Message:      fmt.Sprintf("%s %s", eventType, rid),
		Metadata:     map[string]interface{}{"rid": rid},
	}
	if err != nil {
		event.Status = audit.EventStatusFailure
		event.ErrorMessage = err.Error()
	}
	_ = sc.service.audit.Log(ctx, event)
}

// InvalidateCache drops every resolution snapshot in this scope and, through
// the forwarded event, in the shared cache
func (sc *Scope) InvalidateCache(ctx context.Context, groupIDs []int64) {
	sc.Engine.InvalidateCache(ctx, groupIDs)
}
