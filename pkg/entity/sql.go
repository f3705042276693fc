package entity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
)

// queryable columns of og_entity
var baseColumns = map[string]bool{
	"id":       true,
	"bundle":   true,
	"label":    true,
	"owner_id": true,
}

type entityRow struct {
	EntityType string `db:"entity_type"`
	ID         int64  `db:"id"`
	Bundle     string `db:"bundle"`
	Label      string `db:"label"`
	OwnerID    int64  `db:"owner_id"`
}

type referenceRow struct {
	EntityType string `db:"entity_type"`
	EntityID   int64  `db:"entity_id"`
	FieldName  string `db:"field_name"`
	Delta      int    `db:"delta"`
	TargetType string `db:"target_type"`
	TargetID   int64  `db:"target_id"`
}

// SQLStorage implements Storage on og_entity and og_entity_reference
type SQLStorage struct {
	db     *sqlx.DB
	logger logrus.FieldLogger
}

// NewSQLStorage wraps db. driver selects the placeholder style.
func NewSQLStorage(db *sql.DB, driver string, logger logrus.FieldLogger) *SQLStorage {
	if logger == nil {
		logger = logrus.New()
	}
	return &SQLStorage{
		db:     sqlx.NewDb(db, driver),
		logger: logger.WithField("component", "entity_storage"),
	}
}

// Load returns the entity, or nil when it does not exist
func (s *SQLStorage) Load(ctx context.Context, entityType string, id int64) (*Content, error) {
	var row entityRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind(
		"SELECT entity_type, id, bundle, label, owner_id FROM og_entity WHERE entity_type = ? AND id = ?",
	), entityType, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load %s %d: %w", entityType, id, err)
	}

	content := row.content()
	refs, err := s.loadReferences(ctx, entityType, []int64{id})
	if err != nil {
		return nil, err
	}
	attachReferences([]*Content{content}, refs)
	return content, nil
}

// LoadMultiple returns the existing entities among ids, ordered by id
func (s *SQLStorage) LoadMultiple(ctx context.Context, entityType string, ids []int64) ([]*Content, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	query, args, err := sqlx.In(
		"SELECT entity_type, id, bundle, label, owner_id FROM og_entity WHERE entity_type = ? AND id IN (?) ORDER BY id",
		entityType, ids,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}

	var rows []entityRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to load %s entities: %w", entityType, err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	contents := make([]*Content, len(rows))
	found := make([]int64, len(rows))
	for i, row := range rows {
		contents[i] = row.content()
		found[i] = row.ID
	}

	refs, err := s.loadReferences(ctx, entityType, found)
	if err != nil {
		return nil, err
	}
	attachReferences(contents, refs)
	return contents, nil
}

func (s *SQLStorage) loadReferences(ctx context.Context, entityType string, ids []int64) ([]referenceRow, error) {
	query, args, err := sqlx.In(`
		SELECT entity_type, entity_id, field_name, delta, target_type, target_id
		FROM og_entity_reference
		WHERE entity_type = ? AND entity_id IN (?)
		ORDER BY entity_id, field_name, delta`,
		entityType, ids,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}

	var refs []referenceRow
	if err := s.db.SelectContext(ctx, &refs, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to load references: %w", err)
	}
	return refs, nil
}

func attachReferences(contents []*Content, refs []referenceRow) {
	byID := make(map[int64]*Content, len(contents))
	for _, c := range contents {
		byID[c.EntityID] = c
	}
	for _, r := range refs {
		if c, ok := byID[r.EntityID]; ok {
			if c.References == nil {
				c.References = make(map[string][]Ref)
			}
			c.References[r.FieldName] = append(c.References[r.FieldName], Ref{Type: r.TargetType, ID: r.TargetID})
		}
	}
}

func (r entityRow) content() *Content {
	return &Content{
		Type:       r.EntityType,
		BundleName: r.Bundle,
		EntityID:   r.ID,
		Label:      r.Label,
		Owner:      r.OwnerID,
	}
}

// Save inserts or updates c and replaces its references. A zero id is
// assigned the next free id for the entity type.
func (s *SQLStorage) Save(ctx context.Context, c *Content) error {
	if c.Type == "" || c.BundleName == "" {
		return fmt.Errorf("entity type and bundle are required")
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	id := c.EntityID
	if id == 0 {
		if err := tx.GetContext(ctx, &id, tx.Rebind(
			"SELECT COALESCE(MAX(id), 0) + 1 FROM og_entity WHERE entity_type = ?",
		), c.Type); err != nil {
			return fmt.Errorf("failed to allocate id: %w", err)
		}
	}

	_, err = tx.ExecContext(ctx, tx.Rebind(`
		INSERT INTO og_entity (entity_type, id, bundle, label, owner_id)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (entity_type, id) DO UPDATE SET
			bundle = excluded.bundle,
			label = excluded.label,
			owner_id = excluded.owner_id`),
		c.Type, id, c.BundleName, c.Label, c.Owner,
	)
	if err != nil {
		return fmt.Errorf("failed to save %s %d: %w", c.Type, id, err)
	}

	if _, err := tx.ExecContext(ctx, tx.Rebind(
		"DELETE FROM og_entity_reference WHERE entity_type = ? AND entity_id = ?",
	), c.Type, id); err != nil {
		return fmt.Errorf("failed to clear references: %w", err)
	}

	for _, field := range c.FieldNames() {
		for delta, ref := range c.References[field] {
			_, err := tx.ExecContext(ctx, tx.Rebind(`
				INSERT INTO og_entity_reference (entity_type, entity_id, field_name, delta, target_type, target_id)
				VALUES (?, ?, ?, ?, ?, ?)`),
				c.Type, id, field, delta, ref.Type, ref.ID,
			)
			if err != nil {
				return fmt.Errorf("failed to save reference %s[%d]: %w", field, delta, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	c.EntityID = id
	s.logger.WithFields(logrus.Fields{"entity_type": c.Type, "id": id}).Debug("Entity saved")
	return nil
}

// Delete removes the entity and the references it holds. References pointing
// at it are left for the orphan purge.
func (s *SQLStorage) Delete(ctx context.Context, entityType string, id int64) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, tx.Rebind(
		"DELETE FROM og_entity_reference WHERE entity_type = ? AND entity_id = ?",
	), entityType, id); err != nil {
		return fmt.Errorf("failed to delete references: %w", err)
	}
	if _, err := tx.ExecContext(ctx, tx.Rebind(
		"DELETE FROM og_entity WHERE entity_type = ? AND id = ?",
	), entityType, id); err != nil {
		return fmt.Errorf("failed to delete %s %d: %w", entityType, id, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// DeleteDanglingReferences removes references whose target entity no longer
// exists and returns how many were removed
func (s *SQLStorage) DeleteDanglingReferences(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM og_entity_reference
		WHERE NOT EXISTS (
			SELECT 1 FROM og_entity e
			WHERE e.entity_type = og_entity_reference.target_type
			AND e.id = og_entity_reference.target_id
		)`)
	if err != nil {
		return 0, fmt.Errorf("failed to delete dangling references: %w", err)
	}
	return res.RowsAffected()
}

// Query starts a query over entityType
func (s *SQLStorage) Query(entityType string) Query {
	return &sqlQuery{storage: s, entityType: entityType}
}

type referenceFilter struct {
	field      string
	targetType string
	targetIDs  []int64
}

type sqlQuery struct {
	storage    *SQLStorage
	entityType string
	conditions []Condition
	references []referenceFilter
	limit      int
}

func (q *sqlQuery) Condition(field string, value interface{}, op Operator) Query {
	if op == "" {
		op = OpEquals
	}
	q.conditions = append(q.conditions, Condition{Field: field, Value: value, Operator: op})
	return q
}

func (q *sqlQuery) References(field, targetType string, targetIDs []int64) Query {
	q.references = append(q.references, referenceFilter{field: field, targetType: targetType, targetIDs: targetIDs})
	return q
}

func (q *sqlQuery) Limit(n int) Query {
	q.limit = n
	return q
}

// build renders the query with ? placeholders and unexpanded slice args
func (q *sqlQuery) build() (string, []interface{}, error) {
	var b strings.Builder
	args := []interface{}{q.entityType}
	b.WriteString("SELECT id FROM og_entity WHERE entity_type = ?")

	for _, c := range q.conditions {
		if !baseColumns[c.Field] {
			return "", nil, fmt.Errorf("unknown query field: %s", c.Field)
		}
		switch c.Operator {
		case OpEquals:
			b.WriteString(" AND " + c.Field + " = ?")
			args = append(args, c.Value)
		case OpIn, OpNotIn:
			n, err := sliceLen(c.Value)
			if err != nil {
				return "", nil, fmt.Errorf("condition on %s: %w", c.Field, err)
			}
			if n == 0 {
				// Nothing is IN an empty set; everything is NOT IN it.
				if c.Operator == OpIn {
					b.WriteString(" AND 1 = 0")
				}
				continue
			}
			b.WriteString(" AND " + c.Field + " " + string(c.Operator) + " (?)")
			args = append(args, c.Value)
		default:
			return "", nil, fmt.Errorf("unsupported operator: %s", c.Operator)
		}
	}

	for _, r := range q.references {
		if len(r.targetIDs) == 0 {
			b.WriteString(" AND 1 = 0")
			continue
		}
		b.WriteString(` AND id IN (
			SELECT entity_id FROM og_entity_reference
			WHERE entity_type = ? AND field_name = ? AND target_type = ? AND target_id IN (?))`)
		args = append(args, q.entityType, r.field, r.targetType, r.targetIDs)
	}

	b.WriteString(" ORDER BY id")
	if q.limit > 0 {
		fmt.Fprintf(&b, " LIMIT %d", q.limit)
	}
	return b.String(), args, nil
}

// Execute returns matching ids in ascending order
func (q *sqlQuery) Execute(ctx context.Context) ([]int64, error) {
	query, args, err := q.build()
	if err != nil {
		return nil, err
	}
	query, args, err = sqlx.In(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to expand query: %w", err)
	}

	var ids []int64
	if err := q.storage.db.SelectContext(ctx, &ids, q.storage.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", q.entityType, err)
	}
	return ids, nil
}

func sliceLen(v interface{}) (int, error) {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice {
		return 0, fmt.Errorf("IN requires a slice, got %T", v)
	}
	return rv.Len(), nil
}

// SortIDs sorts ids in place and removes duplicates
func SortIDs(ids []int64) []int64 {
	if len(ids) == 0 {
		return ids
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := ids[:1]
	for _, id := range ids[1:] {
		if id != out[len(out)-1] {
			out = append(out, id)
		}
	}
	return out
}
