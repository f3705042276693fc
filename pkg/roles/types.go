package roles

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/go-playground/validator/v10"
)

// Built-in role names
const (
	NonMember     = "non-member"
	Member        = "member"
	Administrator = "administrator"
)

// Role types. Required roles exist for every group bundle and cannot be
// deleted on their own.
const (
	TypeRequired = "required"
	TypeStandard = "standard"
)

// DefaultModule tags permissions granted without an explicit module
const DefaultModule = "og"

// ErrInvalidRole is returned when a role fails validation
var ErrInvalidRole = errors.New("invalid role")

var validate = validator.New()

// Role is a named set of permissions scoped to a group type and bundle
type Role struct {
	ID          string    `json:"id"`
	Name        string    `json:"name" validate:"required,max=64"`
	Label       string    `json:"label" validate:"max=255"`
	GroupType   string    `json:"group_type" validate:"required,max=64"`
	GroupBundle string    `json:"group_bundle" validate:"required,max=64"`
	IsAdmin     bool      `json:"is_admin"`
	RoleType    string    `json:"role_type" validate:"omitempty,oneof=required standard"`
	Weight      int       `json:"weight"`
	Permissions []string  `json:"permissions" validate:"dive,required,max=255"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// RolePermission is a single permission grant
type RolePermission struct {
	ID         int64  `json:"id"`
	RoleID     string `json:"rid"`
	Permission string `json:"permission"`
	Module     string `json:"module"`
}

// RoleID builds the rid of a role
func RoleID(groupType, groupBundle, name string) string {
	return fmt.Sprintf("%s-%s-%s", groupType, groupBundle, name)
}

// New returns an unsaved standard role
func New(groupType, groupBundle, name string, permissions ...string) *Role {
	return &Role{
		ID:          RoleID(groupType, groupBundle, name),
		Name:        name,
		Label:       name,
		GroupType:   groupType,
		GroupBundle: groupBundle,
		RoleType:    TypeStandard,
		Permissions: permissions,
	}
}

// Validate checks struct constraints and fills derived fields
func (r *Role) Validate() error {
	if r.RoleType == "" {
		r.RoleType = TypeStandard
	}
	if err := validate.Struct(r); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRole, err)
	}
	expected := RoleID(r.GroupType, r.GroupBundle, r.Name)
	if r.ID == "" {
		r.ID = expected
	} else if r.ID != expected {
		return fmt.Errorf("%w: id %q does not match %q", ErrInvalidRole, r.ID, expected)
	}
	if r.Label == "" {
		r.Label = r.Name
	}
	return nil
}

// HasPermission reports whether the role grants permission
func (r *Role) HasPermission(permission string) bool {
	for _, p := range r.Permissions {
		if p == permission {
			return true
		}
	}
	return false
}

// IsRequired reports whether the role is one of the built-in required roles
func (r *Role) IsRequired() bool {
	return r.RoleType == TypeRequired
}

// GrantPermission adds permission to the in-memory role
func (r *Role) GrantPermission(permission string) {
	if !r.HasPermission(permission) {
		r.Permissions = append(r.Permissions, permission)
	}
}

// RevokePermission removes permission from the in-memory role
func (r *Role) RevokePermission(permission string) {
	out := r.Permissions[:0]
	for _, p := range r.Permissions {
		if p != permission {
			out = append(out, p)
		}
	}
	r.Permissions = out
}

// DefaultRoles returns the roles created for a new group bundle
func DefaultRoles(groupType, groupBundle string) []*Role {
	nonMember := New(groupType, groupBundle, NonMember, "subscribe")
	nonMember.Label = "Non-member"
	nonMember.RoleType = TypeRequired
	nonMember.Weight = -2

	member := New(groupType, groupBundle, Member)
	member.Label = "Member"
	member.RoleType = TypeRequired
	member.Weight = -1

	admin := New(groupType, groupBundle, Administrator)
	admin.Label = "Administrator"
	admin.IsAdmin = true

	return []*Role{nonMember, member, admin}
}

func sortRoles(roles []*Role) {
	sort.SliceStable(roles, func(i, j int) bool {
		if roles[i].Weight != roles[j].Weight {
			return roles[i].Weight < roles[j].Weight
		}
		return roles[i].Name < roles[j].Name
	})
}
