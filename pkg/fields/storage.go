package fields

// StorageConfig describes how a field's values are persisted
type StorageConfig interface {
	Name() string
	EntityType() string
	Type() string
	Cardinality() int
	Setting(key string) string
	// HasCustomStorage is true when values live outside the entity's own
	// reference table
	HasCustomStorage() bool
	IsMultiple() bool
	Definition() Definition
}

// BaseStorageConfig exposes a Definition as a StorageConfig with default
// storage
type BaseStorageConfig struct {
	def Definition
}

// NewStorageConfig wraps def
func NewStorageConfig(def Definition) *BaseStorageConfig {
	return &BaseStorageConfig{def: def}
}

func (c *BaseStorageConfig) Name() string       { return c.def.Name }
func (c *BaseStorageConfig) EntityType() string { return c.def.EntityType }
func (c *BaseStorageConfig) Type() string       { return c.def.Type }
func (c *BaseStorageConfig) Cardinality() int   { return c.def.Cardinality }

func (c *BaseStorageConfig) Setting(key string) string {
	if key == "target_type" {
		return c.def.TargetType
	}
	return c.def.StorageSettings[key]
}

func (c *BaseStorageConfig) HasCustomStorage() bool { return false }

func (c *BaseStorageConfig) IsMultiple() bool {
	return c.def.Cardinality == CardinalityUnlimited || c.def.Cardinality > 1
}

func (c *BaseStorageConfig) Definition() Definition { return c.def }
