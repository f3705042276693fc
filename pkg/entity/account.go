package entity

import (
	"context"

	"github.com/platinummonkey/og/pkg/contextkeys"
)

// Account is an acting principal
type Account interface {
	ID() int64
	IsAuthenticated() bool
	HasPermission(permission string) bool
}

// User is an account that is also a user entity
type User struct {
	UID  int64  `json:"uid"`
	Name string `json:"name"`
	// Permissions are site-wide grants such as "administer group"
	Permissions []string `json:"permissions,omitempty"`
}

// NewUser returns a user with the given site-wide permissions
func NewUser(uid int64, name string, permissions ...string) *User {
	return &User{UID: uid, Name: name, Permissions: permissions}
}

// Anonymous returns the anonymous account
func Anonymous() *User {
	return &User{UID: AnonymousID, Name: "anonymous"}
}

func (u *User) ID() int64          { return u.UID }
func (u *User) EntityType() string { return UserEntityType }
func (u *User) Bundle() string     { return UserEntityType }

func (u *User) IsAuthenticated() bool { return u.UID != AnonymousID }

func (u *User) HasPermission(permission string) bool {
	if u.UID == SuperuserID {
		return true
	}
	for _, p := range u.Permissions {
		if p == permission {
			return true
		}
	}
	return false
}

// PrincipalProvider supplies the current account
type PrincipalProvider interface {
	CurrentUser(ctx context.Context) Account
}

// ContextPrincipal reads the account stored under contextkeys.PrincipalKey
type ContextPrincipal struct{}

// CurrentUser returns the context account, or anonymous when there is none
func (ContextPrincipal) CurrentUser(ctx context.Context) Account {
	if account, ok := ctx.Value(contextkeys.PrincipalKey).(Account); ok && account != nil {
		return account
	}
	return Anonymous()
}

// StaticPrincipal always returns the same account
type StaticPrincipal struct {
	Account Account
}

func (p StaticPrincipal) CurrentUser(context.Context) Account {
	if p.Account == nil {
		return Anonymous()
	}
	return p.Account
}
