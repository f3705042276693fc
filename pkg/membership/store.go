package membership

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/platinummonkey/og/pkg/events"
	"github.com/platinummonkey/og/pkg/roles"
	"github.com/sirupsen/logrus"
)

// Reader loads memberships
type Reader interface {
	LoadByUser(ctx context.Context, uid int64, states []State) ([]*Membership, error)
}

// Writer persists memberships
type Writer interface {
	Save(ctx context.Context, m *Membership) error
	Delete(ctx context.Context, m *Membership) error
}

// Repository is the full membership store surface used by Manager
type Repository interface {
	Reader
	Writer
}

// Store persists memberships in og_membership and og_membership_role
type Store struct {
	db     *sql.DB
	roles  roles.Loader
	bus    *events.Bus
	logger logrus.FieldLogger
}

// NewStore creates a membership store. roleLoader validates assigned roles.
func NewStore(db *sql.DB, roleLoader roles.Loader, logger logrus.FieldLogger) *Store {
	if logger == nil {
		logger = logrus.New()
	}
	return &Store{db: db, roles: roleLoader, logger: logger.WithField("component", "membership_store")}
}

// WithBus returns a copy of the store that publishes membership events to bus
func (s *Store) WithBus(bus *events.Bus) *Store {
	cp := *s
	cp.bus = bus
	return &cp
}

const membershipColumns = "id, uid, entity_type, entity_bundle, etid, state, type, created_at"

// Save validates and persists m with its role assignments
func (s *Store) Save(ctx context.Context, m *Membership) error {
	if err := m.Validate(); err != nil {
		return err
	}
	if err := s.validateRoles(ctx, m); err != nil {
		return err
	}

	var existing int64
	err := s.db.QueryRowContext(ctx,
		"SELECT id FROM og_membership WHERE uid = $1 AND entity_type = $2 AND etid = $3 AND id <> $4",
		m.UID, m.EntityType, m.EntityID, m.ID,
	).Scan(&existing)
	switch {
	case err == nil:
		return fmt.Errorf("%w: user %d already has membership %d in %s %d",
			ErrDuplicateMembership, m.UID, existing, m.EntityType, m.EntityID)
	case !errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("failed to check existing membership: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	if m.ID == 0 {
		if m.CreatedAt.IsZero() {
			m.CreatedAt = time.Now().UTC()
		}
		err = tx.QueryRowContext(ctx, `
			INSERT INTO og_membership (uid, entity_type, entity_bundle, etid, state, type, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING id
		`, m.UID, m.EntityType, m.EntityBundle, m.EntityID, string(m.State), m.Type, m.CreatedAt).Scan(&m.ID)
		if err != nil {
			return fmt.Errorf("failed to create membership: %w", err)
		}
	} else {
		if _, err := tx.ExecContext(ctx, `
			UPDATE og_membership SET uid = $1, entity_type = $2, entity_bundle = $3, etid = $4, state = $5, type = $6
			WHERE id = $7
		`, m.UID, m.EntityType, m.EntityBundle, m.EntityID, string(m.State), m.Type, m.ID); err != nil {
			return fmt.Errorf("failed to update membership: %w", err)
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM og_membership_role WHERE membership_id = $1", m.ID); err != nil {
			return fmt.Errorf("failed to clear membership roles: %w", err)
		}
	}

	for _, rid := range m.Roles {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO og_membership_role (membership_id, rid) VALUES ($1, $2)", m.ID, rid,
		); err != nil {
			return fmt.Errorf("failed to assign role %s: %w", rid, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"membership_id": m.ID,
		"uid":           m.UID,
		"group":         fmt.Sprintf("%s:%d", m.EntityType, m.EntityID),
		"state":         m.State,
	}).Debug("Membership saved")
	s.publish(ctx, events.MembershipSaved, m)
	return nil
}

// validateRoles rejects roles from another group bundle and the built-in
// non-member role
func (s *Store) validateRoles(ctx context.Context, m *Membership) error {
	if len(m.Roles) == 0 {
		return nil
	}
	if s.roles == nil {
		return fmt.Errorf("%w: no role store configured", ErrInvalidMembership)
	}

	loaded, err := s.roles.LoadMultiple(ctx, m.Roles)
	if err != nil {
		return err
	}
	found := make(map[string]*roles.Role, len(loaded))
	for _, r := range loaded {
		found[r.ID] = r
	}

	for _, rid := range m.Roles {
		role, ok := found[rid]
		if !ok {
			return fmt.Errorf("%w: role %s does not exist", ErrInvalidMembership, rid)
		}
		if role.GroupType != m.EntityType || role.GroupBundle != m.EntityBundle {
			return fmt.Errorf("%w: role %s belongs to %s %s, not %s %s", ErrInvalidMembership,
				rid, role.GroupType, role.GroupBundle, m.EntityType, m.EntityBundle)
		}
		if role.Name == roles.NonMember {
			return fmt.Errorf("%w: the %s role cannot be assigned", ErrInvalidMembership, roles.NonMember)
		}
	}
	return nil
}

// Delete removes m and its role assignments
func (s *Store) Delete(ctx context.Context, m *Membership) error {
	if m.ID == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM og_membership_role WHERE membership_id = $1", m.ID); err != nil {
		return fmt.Errorf("failed to delete membership roles: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM og_membership WHERE id = $1", m.ID); err != nil {
		return fmt.Errorf("failed to delete membership: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.publish(ctx, events.MembershipDeleted, m)
	return nil
}

func (s *Store) publish(ctx context.Context, kind events.Kind, m *Membership) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(ctx, events.Event{
		Kind:       kind,
		EntityType: m.EntityType,
		Bundle:     m.EntityBundle,
		GroupIDs:   []int64{m.EntityID},
		UserID:     m.UID,
	})
}

// Load returns a membership by id, or nil
func (s *Store) Load(ctx context.Context, id int64) (*Membership, error) {
	out, err := s.query(ctx, "SELECT "+membershipColumns+" FROM og_membership WHERE id = $1", id)
	if err != nil || len(out) == 0 {
		return nil, err
	}
	return out[0], nil
}

// LoadByUser returns the user's memberships in the given states, ordered by id
func (s *Store) LoadByUser(ctx context.Context, uid int64, states []State) ([]*Membership, error) {
	clause, args := stateClause(normalizeStates(states), 2)
	return s.query(ctx,
		"SELECT "+membershipColumns+" FROM og_membership WHERE uid = $1 AND "+clause+" ORDER BY id",
		append([]interface{}{uid}, args...)...)
}

// LoadByGroup returns the group's memberships in the given states
func (s *Store) LoadByGroup(ctx context.Context, entityType string, etid int64, states []State) ([]*Membership, error) {
	clause, args := stateClause(normalizeStates(states), 3)
	return s.query(ctx,
		"SELECT "+membershipColumns+" FROM og_membership WHERE entity_type = $1 AND etid = $2 AND "+clause+" ORDER BY id",
		append([]interface{}{entityType, etid}, args...)...)
}

// CountByGroup counts the group's memberships in the given states
func (s *Store) CountByGroup(ctx context.Context, entityType string, etid int64, states []State) (int, error) {
	clause, args := stateClause(normalizeStates(states), 3)
	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM og_membership WHERE entity_type = $1 AND etid = $2 AND "+clause,
		append([]interface{}{entityType, etid}, args...)...,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count memberships: %w", err)
	}
	return count, nil
}

// DeleteByGroup removes every membership of a group and returns how many
// were removed
func (s *Store) DeleteByGroup(ctx context.Context, entityType string, etid int64) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM og_membership_role WHERE membership_id IN (
			SELECT id FROM og_membership WHERE entity_type = $1 AND etid = $2
		)`, entityType, etid); err != nil {
		return 0, fmt.Errorf("failed to delete membership roles: %w", err)
	}
	res, err := tx.ExecContext(ctx, "DELETE FROM og_membership WHERE entity_type = $1 AND etid = $2", entityType, etid)
	if err != nil {
		return 0, fmt.Errorf("failed to delete memberships: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}

	n, _ := res.RowsAffected()
	if n > 0 && s.bus != nil {
		s.bus.Publish(ctx, events.Event{Kind: events.MembershipDeleted, EntityType: entityType, GroupIDs: []int64{etid}})
	}
	return n, nil
}

// DeleteOrphans removes memberships whose group entity no longer exists in
// og_entity and returns how many were removed
func (s *Store) DeleteOrphans(ctx context.Context) (int64, error) {
	const orphaned = `
		SELECT m.id FROM og_membership m
		WHERE NOT EXISTS (
			SELECT 1 FROM og_entity e WHERE e.entity_type = m.entity_type AND e.id = m.etid
		)`

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM og_membership_role WHERE membership_id IN ("+orphaned+")"); err != nil {
		return 0, fmt.Errorf("failed to delete orphaned membership roles: %w", err)
	}
	res, err := tx.ExecContext(ctx, "DELETE FROM og_membership WHERE id IN ("+orphaned+")")
	if err != nil {
		return 0, fmt.Errorf("failed to delete orphaned memberships: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return res.RowsAffected()
}

func (s *Store) query(ctx context.Context, query string, args ...interface{}) ([]*Membership, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query memberships: %w", err)
	}

	var out []*Membership
	byID := make(map[int64]*Membership)
	for rows.Next() {
		m := &Membership{}
		var state string
		if err := rows.Scan(&m.ID, &m.UID, &m.EntityType, &m.EntityBundle, &m.EntityID, &state, &m.Type, &m.CreatedAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan membership: %w", err)
		}
		m.State = State(state)
		m.Roles = []string{}
		out = append(out, m)
		byID[m.ID] = m
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to query memberships: %w", err)
	}

	if len(out) == 0 {
		return nil, nil
	}
	if err := s.attachRoles(ctx, byID); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) attachRoles(ctx context.Context, byID map[int64]*Membership) error {
	placeholders := make([]string, 0, len(byID))
	args := make([]interface{}, 0, len(byID))
	for id := range byID {
		args = append(args, id)
		placeholders = append(placeholders, fmt.Sprintf("$%d", len(args)))
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT membership_id, rid FROM og_membership_role WHERE membership_id IN ("+strings.Join(placeholders, ", ")+") ORDER BY membership_id, rid",
		args...)
	if err != nil {
		return fmt.Errorf("failed to load membership roles: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id int64
		var rid string
		if err := rows.Scan(&id, &rid); err != nil {
			return fmt.Errorf("failed to scan membership role: %w", err)
		}
		if m, ok := byID[id]; ok {
			m.Roles = append(m.Roles, rid)
		}
	}
	return rows.Err()
}

// stateClause renders "state IN ($n, ...)" starting at placeholder n
func stateClause(states []State, n int) (string, []interface{}) {
	placeholders := make([]string, len(states))
	args := make([]interface{}, len(states))
	for i, st := range states {
		placeholders[i] = fmt.Sprintf("$%d", n+i)
		args[i] = string(st)
	}
	return "state IN (" + strings.Join(placeholders, ", ") + ")", args
}
