package fields

import (
	"errors"
	"fmt"
)

// Audience field types
const (
	// TypeMembershipReference links users to groups. Values are stored as
	// memberships rather than plain references.
	TypeMembershipReference = "og_membership_reference"
	// TypeStandardReference links non-user content to groups
	TypeStandardReference = "og_standard_reference"
)

// DefaultFieldName is the audience field name used when none is given
const DefaultFieldName = "og_group_ref"

// CardinalityUnlimited allows any number of values on a field
const CardinalityUnlimited = -1

// ErrUnknownFieldPlugin is returned when a field plugin id has no definition
var ErrUnknownFieldPlugin = errors.New("unknown field plugin")

// Definition describes a field attached to an (entity type, bundle) pair
type Definition struct {
	Name          string   `yaml:"name" json:"name"`
	EntityType    string   `yaml:"entity_type" json:"entity_type"`
	Bundle        string   `yaml:"bundle" json:"bundle"`
	Type          string   `yaml:"type" json:"type"`
	Cardinality   int      `yaml:"cardinality" json:"cardinality"`
	TargetType    string   `yaml:"target_type" json:"target_type"`
	TargetBundles []string `yaml:"target_bundles,omitempty" json:"target_bundles,omitempty"`
	// Handler names the selection handler, "og:default" unless overridden
	Handler         string            `yaml:"handler,omitempty" json:"handler,omitempty"`
	HandlerSettings map[string]string `yaml:"handler_settings,omitempty" json:"handler_settings,omitempty"`
	// StorageSettings belong to the field storage, not the bundle instance
	StorageSettings map[string]string `yaml:"storage_settings,omitempty" json:"storage_settings,omitempty"`
}

// IsAudience reports whether the field references groups
func (d Definition) IsAudience() bool {
	return d.Type == TypeMembershipReference || d.Type == TypeStandardReference
}

// Unlimited reports whether the field accepts any number of values
func (d Definition) Unlimited() bool {
	return d.Cardinality == CardinalityUnlimited
}

// AllowsBundle reports whether the field may target the given group bundle.
// An empty bundle list accepts every bundle.
func (d Definition) AllowsBundle(bundle string) bool {
	if len(d.TargetBundles) == 0 {
		return true
	}
	for _, b := range d.TargetBundles {
		if b == bundle {
			return true
		}
	}
	return false
}

func (d Definition) key() string {
	return fmt.Sprintf("%s:%s:%s", d.EntityType, d.Bundle, d.Name)
}

// Plugin builds base definitions for a named audience field
type Plugin struct {
	ID          string
	Type        string
	Cardinality int
	TargetType  string
	// EntityTypes restricts which entity types can carry the field. Empty
	// means any.
	EntityTypes []string
}

// Plugins are the built-in audience field plugins keyed by id
var Plugins = map[string]Plugin{
	"og_group_ref": {
		ID:          "og_group_ref",
		Type:        TypeStandardReference,
		Cardinality: CardinalityUnlimited,
		TargetType:  "node",
	},
	"og_user_group_ref": {
		ID:          "og_user_group_ref",
		Type:        TypeMembershipReference,
		Cardinality: CardinalityUnlimited,
		TargetType:  "node",
		EntityTypes: []string{"user"},
	},
}

// Options override parts of a plugin's base definition
type Options struct {
	FieldName     string
	TargetType    string
	TargetBundles []string
	Cardinality   *int
	Handler       string
}

// Build returns the definition the plugin produces for the given bundle
func (p Plugin) Build(entityType, bundle string, opts Options) (Definition, error) {
	if len(p.EntityTypes) > 0 {
		allowed := false
		for _, t := range p.EntityTypes {
			if t == entityType {
				allowed = true
				break
			}
		}
		if !allowed {
			return Definition{}, fmt.Errorf("field plugin %s cannot be attached to %s entities", p.ID, entityType)
		}
	}

	def := Definition{
		Name:          p.ID,
		EntityType:    entityType,
		Bundle:        bundle,
		Type:          p.Type,
		Cardinality:   p.Cardinality,
		TargetType:    p.TargetType,
		TargetBundles: opts.TargetBundles,
		Handler:       "og:default",
	}
	if opts.FieldName != "" {
		def.Name = opts.FieldName
	}
	if opts.TargetType != "" {
		def.TargetType = opts.TargetType
	}
	if opts.Cardinality != nil {
		def.Cardinality = *opts.Cardinality
	}
	if opts.Handler != "" {
		def.Handler = opts.Handler
	}
	return def, nil
}

// LookupPlugin returns the plugin registered under id
func LookupPlugin(id string) (Plugin, error) {
	p, ok := Plugins[id]
	if !ok {
		return Plugin{}, fmt.Errorf("%w: %s", ErrUnknownFieldPlugin, id)
	}
	return p, nil
}
