package entity

import "context"

// Operator is a query condition operator
type Operator string

const (
	OpEquals Operator = "="
	OpIn     Operator = "IN"
	OpNotIn  Operator = "NOT IN"
)

// Condition filters a query on a base field
type Condition struct {
	Field    string
	Value    interface{}
	Operator Operator
}

// Query selects entity ids of one entity type
type Query interface {
	Condition(field string, value interface{}, op Operator) Query
	// References keeps entities whose field points at any of targetIDs
	References(field, targetType string, targetIDs []int64) Query
	Limit(n int) Query
	Execute(ctx context.Context) ([]int64, error)
}

// Storage loads and persists entities. Load returns nil, nil when the entity
// does not exist.
type Storage interface {
	Load(ctx context.Context, entityType string, id int64) (*Content, error)
	LoadMultiple(ctx context.Context, entityType string, ids []int64) ([]*Content, error)
	Query(entityType string) Query
	Save(ctx context.Context, c *Content) error
	Delete(ctx context.Context, entityType string, id int64) error
}
