package audience

import "github.com/platinummonkey/og/pkg/fields"

// MembershipStorageConfig marks user audience fields as custom storage:
// their values are memberships, not rows in the reference table. Every other
// method is served by the wrapped config.
type MembershipStorageConfig struct {
	fields.StorageConfig
}

// NewMembershipStorageConfig wraps inner
func NewMembershipStorageConfig(inner fields.StorageConfig) *MembershipStorageConfig {
	return &MembershipStorageConfig{StorageConfig: inner}
}

func (c *MembershipStorageConfig) HasCustomStorage() bool { return true }

// StorageConfigFor returns the storage config of def
func StorageConfigFor(def fields.Definition) fields.StorageConfig {
	base := fields.NewStorageConfig(def)
	if def.Type == fields.TypeMembershipReference {
		return NewMembershipStorageConfig(base)
	}
	return base
}
