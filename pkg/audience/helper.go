package audience

import (
	"context"
	"errors"
	"fmt"

	"github.com/platinummonkey/og/pkg/entity"
	"github.com/platinummonkey/og/pkg/events"
	"github.com/platinummonkey/og/pkg/fields"
)

var (
	// ErrFieldNotFound is returned when an entity bundle has no field of
	// the requested name
	ErrFieldNotFound = errors.New("field not found")
	// ErrNotAudienceField is returned when a field does not reference groups
	ErrNotAudienceField = errors.New("not an audience field")
	// ErrCardinalityReached is returned when an audience field is full
	ErrCardinalityReached = errors.New("field cardinality reached")
	// ErrUserEntity is returned by group content lookups given a user
	ErrUserEntity = errors.New("user entities are not group content")
)

// FieldRegistry is the field metadata the helper reads and extends
type FieldRegistry interface {
	Definitions(entityType, bundle string) []fields.Definition
	Definition(entityType, bundle, name string) (fields.Definition, bool)
	All() []fields.Definition
	Add(ctx context.Context, def fields.Definition) (bool, error)
}

// IsGroupAudienceField reports whether def references groups
func IsGroupAudienceField(def fields.Definition) bool {
	return def.IsAudience()
}

// Helper answers questions about audience fields
type Helper struct {
	fields FieldRegistry
	bus    *events.Bus
}

// NewHelper creates a helper. bus may be nil.
func NewHelper(registry FieldRegistry, bus *events.Bus) *Helper {
	return &Helper{fields: registry, bus: bus}
}

// CheckFieldCardinality reports whether another group can be added to the
// audience field fieldName of e
func (h *Helper) CheckFieldCardinality(e entity.Entity, fieldName string) (bool, error) {
	def, ok := h.fields.Definition(e.EntityType(), e.Bundle(), fieldName)
	if !ok {
		return false, fmt.Errorf("%w: no field %s on %s %s", ErrFieldNotFound, fieldName, e.Bundle(), e.EntityType())
	}
	if !IsGroupAudienceField(def) {
		return false, fmt.Errorf("%w: %s on %s %s", ErrNotAudienceField, fieldName, e.Bundle(), e.EntityType())
	}
	if def.Unlimited() {
		return true, nil
	}
	return len(values(e, fieldName)) < def.Cardinality, nil
}

// EnsureCapacity returns ErrCardinalityReached when fieldName of e is full
func (h *Helper) EnsureCapacity(e entity.Entity, fieldName string) error {
	ok, err := h.CheckFieldCardinality(e, fieldName)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s on %s %d", ErrCardinalityReached, fieldName, e.EntityType(), e.ID())
	}
	return nil
}

// AddGroup appends group to the audience field of content after checking
// the field's cardinality and target constraints
func (h *Helper) AddGroup(content *entity.Content, fieldName string, group entity.Entity) error {
	if err := h.EnsureCapacity(content, fieldName); err != nil {
		return err
	}
	def, _ := h.fields.Definition(content.EntityType(), content.Bundle(), fieldName)
	if def.TargetType != group.EntityType() || !def.AllowsBundle(group.Bundle()) {
		return fmt.Errorf("%w: %s cannot reference %s %s", ErrNotAudienceField, fieldName, group.Bundle(), group.EntityType())
	}
	content.AddReference(fieldName, entity.Ref{Type: group.EntityType(), ID: group.ID()})
	return nil
}

// GetMatchingField returns the first audience field of e that can take a
// group of the given type and bundle, or "" when there is none
func (h *Helper) GetMatchingField(e entity.Entity, groupType, groupBundle string) (string, error) {
	for _, def := range h.GetAllGroupAudienceFields(e.EntityType(), e.Bundle(), "", "") {
		if def.TargetType != groupType || !def.AllowsBundle(groupBundle) {
			continue
		}
		ok, err := h.CheckFieldCardinality(e, def.Name)
		if err != nil {
			return "", err
		}
		if ok {
			return def.Name, nil
		}
	}
	return "", nil
}

// GetAllGroupAudienceFields returns the audience fields of a bundle. A
// non-empty groupType or groupBundle keeps only fields that can target it.
func (h *Helper) GetAllGroupAudienceFields(entityType, bundle, groupType, groupBundle string) []fields.Definition {
	var out []fields.Definition
	for _, def := range h.fields.Definitions(entityType, bundle) {
		if !IsGroupAudienceField(def) {
			continue
		}
		if groupType != "" && def.TargetType != groupType {
			continue
		}
		if groupBundle != "" && !def.AllowsBundle(groupBundle) {
			continue
		}
		out = append(out, def)
	}
	return out
}

// CreateField attaches the audience field built by pluginID to a bundle.
// Creating a field that already exists is a no-op.
func (h *Helper) CreateField(ctx context.Context, pluginID, entityType, bundle string, opts fields.Options) (fields.Definition, error) {
	plugin, err := fields.LookupPlugin(pluginID)
	if err != nil {
		return fields.Definition{}, err
	}
	def, err := plugin.Build(entityType, bundle, opts)
	if err != nil {
		return fields.Definition{}, err
	}

	if existing, ok := h.fields.Definition(entityType, bundle, def.Name); ok {
		return existing, nil
	}
	added, err := h.fields.Add(ctx, def)
	if err != nil {
		return fields.Definition{}, fmt.Errorf("failed to create field %s: %w", def.Name, err)
	}
	if added && h.bus != nil {
		h.bus.Publish(ctx, events.Event{Kind: events.FieldChanged, EntityType: entityType, Bundle: bundle})
	}
	return def, nil
}

func values(e entity.Entity, fieldName string) []entity.Ref {
	if f, ok := e.(entity.Fieldable); ok {
		return f.FieldValues(fieldName)
	}
	return nil
}
