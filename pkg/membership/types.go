package membership

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/platinummonkey/og/pkg/entity"
	"github.com/platinummonkey/og/pkg/roles"
)

// State is the lifecycle state of a membership
type State string

const (
	StateActive  State = "active"
	StatePending State = "pending"
	StateBlocked State = "blocked"
)

// DefaultType is the membership type used when none is given
const DefaultType = "og_membership_type_default"

var (
	// ErrDuplicateMembership is returned when a user already has a
	// membership in the group
	ErrDuplicateMembership = errors.New("membership already exists")
	// ErrInvalidMembership is returned when a membership fails validation
	ErrInvalidMembership = errors.New("invalid membership")
)

var validate = validator.New()

// Membership links a user to a group
type Membership struct {
	ID           int64     `json:"id"`
	UID          int64     `json:"uid" validate:"gt=0"`
	EntityType   string    `json:"entity_type" validate:"required,max=64"`
	EntityBundle string    `json:"entity_bundle" validate:"required,max=64"`
	EntityID     int64     `json:"etid" validate:"gt=0"`
	State        State     `json:"state" validate:"oneof=active pending blocked"`
	Type         string    `json:"type" validate:"required,max=64"`
	Roles        []string  `json:"roles"`
	CreatedAt    time.Time `json:"created_at"`
}

// New returns an unsaved active membership of the default type
func New(group entity.Entity, uid int64) *Membership {
	return &Membership{
		UID:          uid,
		EntityType:   group.EntityType(),
		EntityBundle: group.Bundle(),
		EntityID:     group.ID(),
		State:        StateActive,
		Type:         DefaultType,
	}
}

// Group returns a reference to the membership's group
func (m *Membership) Group() entity.Ref {
	return entity.Ref{Type: m.EntityType, ID: m.EntityID}
}

// BelongsTo reports whether the membership is for group
func (m *Membership) BelongsTo(group entity.Entity) bool {
	return m.EntityType == group.EntityType() && m.EntityID == group.ID()
}

// HasRole reports whether rid is assigned
func (m *Membership) HasRole(rid string) bool {
	for _, r := range m.Roles {
		if r == rid {
			return true
		}
	}
	return false
}

// AddRole assigns role. Assigning the same role twice is a no-op.
func (m *Membership) AddRole(role *roles.Role) {
	if !m.HasRole(role.ID) {
		m.Roles = append(m.Roles, role.ID)
	}
}

// RevokeRole removes rid from the assigned roles
func (m *Membership) RevokeRole(rid string) {
	out := m.Roles[:0]
	for _, r := range m.Roles {
		if r != rid {
			out = append(out, r)
		}
	}
	m.Roles = out
}

// Validate checks struct constraints
func (m *Membership) Validate() error {
	if m.Type == "" {
		m.Type = DefaultType
	}
	if m.State == "" {
		m.State = StateActive
	}
	if err := validate.Struct(m); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidMembership, err)
	}
	return nil
}

// normalizeStates sorts and deduplicates states. Empty means active only.
func normalizeStates(states []State) []State {
	if len(states) == 0 {
		return []State{StateActive}
	}
	seen := make(map[State]bool, len(states))
	out := make([]State, 0, len(states))
	for _, s := range states {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// StatesKey returns the canonical string form of a state set
func StatesKey(states []State) string {
	normalized := normalizeStates(states)
	parts := make([]string, len(normalized))
	for i, s := range normalized {
		parts[i] = string(s)
	}
	return strings.Join(parts, ",")
}
