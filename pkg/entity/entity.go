package entity

import "sort"

// UserEntityType is the entity type of accounts
const UserEntityType = "user"

// Well-known account ids
const (
	AnonymousID int64 = 0
	SuperuserID int64 = 1
)

// Entity is anything addressable by (type, bundle, id)
type Entity interface {
	EntityType() string
	Bundle() string
	ID() int64
}

// Owned is implemented by entities that expose an owner
type Owned interface {
	Entity
	OwnerID() int64
}

// Fieldable exposes reference field values
type Fieldable interface {
	Entity
	FieldValues(field string) []Ref
}

// Ref points at another entity
type Ref struct {
	Type string `json:"target_type" db:"target_type"`
	ID   int64  `json:"target_id" db:"target_id"`
}

// Content is a stored entity with its reference fields
type Content struct {
	Type       string           `json:"entity_type"`
	BundleName string           `json:"bundle"`
	EntityID   int64            `json:"id"`
	Label      string           `json:"label"`
	Owner      int64            `json:"owner_id"`
	References map[string][]Ref `json:"references,omitempty"`
}

// NewContent returns an unsaved entity
func NewContent(entityType, bundle, label string, owner int64) *Content {
	return &Content{Type: entityType, BundleName: bundle, Label: label, Owner: owner}
}

func (c *Content) EntityType() string { return c.Type }
func (c *Content) Bundle() string     { return c.BundleName }
func (c *Content) ID() int64          { return c.EntityID }
func (c *Content) OwnerID() int64     { return c.Owner }

// FieldValues returns the references held by field
func (c *Content) FieldValues(field string) []Ref {
	return c.References[field]
}

// SetFieldValues replaces the references held by field
func (c *Content) SetFieldValues(field string, refs []Ref) {
	if c.References == nil {
		c.References = make(map[string][]Ref)
	}
	if len(refs) == 0 {
		delete(c.References, field)
		return
	}
	c.References[field] = append([]Ref(nil), refs...)
}

// AddReference appends ref to field unless it is already present
func (c *Content) AddReference(field string, ref Ref) {
	for _, existing := range c.References[field] {
		if existing == ref {
			return
		}
	}
	if c.References == nil {
		c.References = make(map[string][]Ref)
	}
	c.References[field] = append(c.References[field], ref)
}

// FieldNames returns the names of populated reference fields, sorted
func (c *Content) FieldNames() []string {
	names := make([]string, 0, len(c.References))
	for name := range c.References {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
