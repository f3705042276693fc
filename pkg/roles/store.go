package roles

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/platinummonkey/og/pkg/events"
	"github.com/sirupsen/logrus"
)

// Store handles role persistence
type Store struct {
	db     *sql.DB
	bus    *events.Bus
	logger logrus.FieldLogger
}

// NewStore creates a role store
func NewStore(db *sql.DB, logger logrus.FieldLogger) *Store {
	if logger == nil {
		logger = logrus.New()
	}
	return &Store{db: db, logger: logger.WithField("component", "role_store")}
}

// WithBus returns a copy of the store that publishes role events to bus
func (s *Store) WithBus(bus *events.Bus) *Store {
	cp := *s
	cp.bus = bus
	return &cp
}

func (s *Store) publish(ctx context.Context, e events.Event) {
	if s.bus != nil {
		s.bus.Publish(ctx, e)
	}
}

const roleColumns = "rid, name, label, group_type, group_bundle, is_admin, role_type, weight, created_at, updated_at"

// Save validates and upserts the role along with its permission set
func (s *Store) Save(ctx context.Context, role *Role) error {
	if err := role.Validate(); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	created := role.CreatedAt
	if created.IsZero() {
		created = now
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO og_role (`+roleColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (rid) DO UPDATE SET
			label = excluded.label,
			is_admin = excluded.is_admin,
			role_type = excluded.role_type,
			weight = excluded.weight,
			updated_at = excluded.updated_at
	`, role.ID, role.Name, role.Label, role.GroupType, role.GroupBundle,
		role.IsAdmin, role.RoleType, role.Weight, created, now)
	if err != nil {
		return fmt.Errorf("failed to save role: %w", err)
	}

	if err := syncPermissions(ctx, tx, role.ID, role.Permissions); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	role.CreatedAt = created
	role.UpdatedAt = now
	s.logger.WithField("rid", role.ID).Debug("Role saved")
	s.publish(ctx, events.Event{
		Kind:       events.RoleSaved,
		EntityType: role.GroupType,
		Bundle:     role.GroupBundle,
		RoleID:     role.ID,
	})
	return nil
}

// syncPermissions makes the stored grants equal to permissions, keeping the
// module of grants that survive
func syncPermissions(ctx context.Context, tx *sql.Tx, rid string, permissions []string) error {
	rows, err := tx.QueryContext(ctx, "SELECT permission FROM og_role_permission WHERE rid = $1", rid)
	if err != nil {
		return fmt.Errorf("failed to load permissions: %w", err)
	}
	existing := make(map[string]bool)
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan permission: %w", err)
		}
		existing[p] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to load permissions: %w", err)
	}

	wanted := make(map[string]bool, len(permissions))
	for _, p := range permissions {
		wanted[p] = true
		if existing[p] {
			continue
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO og_role_permission (rid, permission, module) VALUES ($1, $2, $3)",
			rid, p, DefaultModule,
		); err != nil {
			return fmt.Errorf("failed to grant %q: %w", p, err)
		}
		existing[p] = true
	}

	for p := range existing {
		if wanted[p] {
			continue
		}
		if _, err := tx.ExecContext(ctx,
			"DELETE FROM og_role_permission WHERE rid = $1 AND permission = $2", rid, p,
		); err != nil {
			return fmt.Errorf("failed to revoke %q: %w", p, err)
		}
	}
	return nil
}

// Load returns a role by rid, or nil when it does not exist
func (s *Store) Load(ctx context.Context, rid string) (*Role, error) {
	role := &Role{}
	err := s.db.QueryRowContext(ctx,
		"SELECT "+roleColumns+" FROM og_role WHERE rid = $1", rid,
	).Scan(&role.ID, &role.Name, &role.Label, &role.GroupType, &role.GroupBundle,
		&role.IsAdmin, &role.RoleType, &role.Weight, &role.CreatedAt, &role.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load role %s: %w", rid, err)
	}

	if err := s.attachPermissions(ctx, []*Role{role}); err != nil {
		return nil, err
	}
	return role, nil
}

// LoadByName returns the named role of a group bundle, or nil
func (s *Store) LoadByName(ctx context.Context, groupType, groupBundle, name string) (*Role, error) {
	return s.Load(ctx, RoleID(groupType, groupBundle, name))
}

// LoadMultiple returns the existing roles among rids, ordered by weight
func (s *Store) LoadMultiple(ctx context.Context, rids []string) ([]*Role, error) {
	if len(rids) == 0 {
		return nil, nil
	}

	placeholders := make([]string, len(rids))
	args := make([]interface{}, len(rids))
	for i, rid := range rids {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = rid
	}

	return s.queryRoles(ctx,
		"SELECT "+roleColumns+" FROM og_role WHERE rid IN ("+strings.Join(placeholders, ", ")+")",
		args...)
}

// LoadByGroup returns every role of a group bundle, ordered by weight
func (s *Store) LoadByGroup(ctx context.Context, groupType, groupBundle string) ([]*Role, error) {
	return s.queryRoles(ctx,
		"SELECT "+roleColumns+" FROM og_role WHERE group_type = $1 AND group_bundle = $2",
		groupType, groupBundle)
}

func (s *Store) queryRoles(ctx context.Context, query string, args ...interface{}) ([]*Role, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query roles: %w", err)
	}

	var out []*Role
	for rows.Next() {
		role := &Role{}
		if err := rows.Scan(&role.ID, &role.Name, &role.Label, &role.GroupType, &role.GroupBundle,
			&role.IsAdmin, &role.RoleType, &role.Weight, &role.CreatedAt, &role.UpdatedAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan role: %w", err)
		}
		out = append(out, role)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to query roles: %w", err)
	}

	if err := s.attachPermissions(ctx, out); err != nil {
		return nil, err
	}
	sortRoles(out)
	return out, nil
}

func (s *Store) attachPermissions(ctx context.Context, roles []*Role) error {
	if len(roles) == 0 {
		return nil
	}

	byID := make(map[string]*Role, len(roles))
	placeholders := make([]string, 0, len(roles))
	args := make([]interface{}, 0, len(roles))
	for _, r := range roles {
		byID[r.ID] = r
		r.Permissions = []string{}
		args = append(args, r.ID)
		placeholders = append(placeholders, fmt.Sprintf("$%d", len(args)))
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT rid, permission FROM og_role_permission WHERE rid IN ("+strings.Join(placeholders, ", ")+") ORDER BY id",
		args...)
	if err != nil {
		return fmt.Errorf("failed to load permissions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var rid, permission string
		if err := rows.Scan(&rid, &permission); err != nil {
			return fmt.Errorf("failed to scan permission: %w", err)
		}
		if r, ok := byID[rid]; ok {
			r.Permissions = append(r.Permissions, permission)
		}
	}
	return rows.Err()
}

// Permissions returns the grant rows of a role
func (s *Store) Permissions(ctx context.Context, rid string) ([]RolePermission, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, rid, permission, module FROM og_role_permission WHERE rid = $1 ORDER BY id", rid)
	if err != nil {
		return nil, fmt.Errorf("failed to load permissions: %w", err)
	}
	defer rows.Close()

	var out []RolePermission
	for rows.Next() {
		var p RolePermission
		if err := rows.Scan(&p.ID, &p.RoleID, &p.Permission, &p.Module); err != nil {
			return nil, fmt.Errorf("failed to scan permission: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// GrantPermission adds a single grant tagged with module
func (s *Store) GrantPermission(ctx context.Context, rid, permission, module string) error {
	if module == "" {
		module = DefaultModule
	}
	role, err := s.Load(ctx, rid)
	if err != nil {
		return err
	}
	if role == nil {
		return fmt.Errorf("%w: role %s does not exist", ErrInvalidRole, rid)
	}
	if role.HasPermission(permission) {
		return nil
	}

	if _, err := s.db.ExecContext(ctx,
		"INSERT INTO og_role_permission (rid, permission, module) VALUES ($1, $2, $3)",
		rid, permission, module,
	); err != nil {
		return fmt.Errorf("failed to grant %q: %w", permission, err)
	}

	s.publish(ctx, events.Event{Kind: events.RoleSaved, EntityType: role.GroupType, Bundle: role.GroupBundle, RoleID: rid})
	return nil
}

// RevokePermission removes a single grant
func (s *Store) RevokePermission(ctx context.Context, rid, permission string) error {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM og_role_permission WHERE rid = $1 AND permission = $2", rid, permission)
	if err != nil {
		return fmt.Errorf("failed to revoke %q: %w", permission, err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		s.publish(ctx, events.Event{Kind: events.RoleSaved, RoleID: rid})
	}
	return nil
}

// RoleIDsWithPermission returns the rids granting permission. Empty group
// type or bundle match any.
func (s *Store) RoleIDsWithPermission(ctx context.Context, permission, groupType, groupBundle string) ([]string, error) {
	query := `
		SELECT r.rid FROM og_role r
		JOIN og_role_permission p ON p.rid = r.rid
		WHERE p.permission = $1`
	args := []interface{}{permission}
	if groupType != "" {
		args = append(args, groupType)
		query += fmt.Sprintf(" AND r.group_type = $%d", len(args))
	}
	if groupBundle != "" {
		args = append(args, groupBundle)
		query += fmt.Sprintf(" AND r.group_bundle = $%d", len(args))
	}
	query += " ORDER BY r.rid"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query roles: %w", err)
	}
	defer rows.Close()

	var rids []string
	for rows.Next() {
		var rid string
		if err := rows.Scan(&rid); err != nil {
			return nil, fmt.Errorf("failed to scan role id: %w", err)
		}
		rids = append(rids, rid)
	}
	return rids, rows.Err()
}

// Delete removes a standard role and detaches it from every membership.
// Required roles can only go away with their group bundle.
func (s *Store) Delete(ctx context.Context, rid string) error {
	role, err := s.Load(ctx, rid)
	if err != nil {
		return err
	}
	if role == nil {
		return nil
	}
	if role.IsRequired() {
		return fmt.Errorf("%w: required role %s cannot be deleted", ErrInvalidRole, rid)
	}
	return s.deleteRoles(ctx, []*Role{role})
}

func (s *Store) deleteRoles(ctx context.Context, roles []*Role) error {
	if len(roles) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	for _, role := range roles {
		for _, stmt := range []string{
			"DELETE FROM og_membership_role WHERE rid = $1",
			"DELETE FROM og_role_permission WHERE rid = $1",
			"DELETE FROM og_role WHERE rid = $1",
		} {
			if _, err := tx.ExecContext(ctx, stmt, role.ID); err != nil {
				return fmt.Errorf("failed to delete role %s: %w", role.ID, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	for _, role := range roles {
		s.logger.WithField("rid", role.ID).Info("Role deleted")
		s.publish(ctx, events.Event{
			Kind:       events.RoleDeleted,
			EntityType: role.GroupType,
			Bundle:     role.GroupBundle,
			RoleID:     role.ID,
		})
	}
	return nil
}

// CreateDefaultRoles creates the built-in roles of a group bundle that do
// not exist yet and returns the ones it created
func (s *Store) CreateDefaultRoles(ctx context.Context, groupType, groupBundle string) ([]*Role, error) {
	var created []*Role
	for _, role := range DefaultRoles(groupType, groupBundle) {
		existing, err := s.Load(ctx, role.ID)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			continue
		}
		if err := s.Save(ctx, role); err != nil {
			return nil, err
		}
		created = append(created, role)
	}
	return created, nil
}

// GroupAdded creates the default roles for a new group bundle
func (s *Store) GroupAdded(ctx context.Context, groupType, groupBundle string) error {
	_, err := s.CreateDefaultRoles(ctx, groupType, groupBundle)
	return err
}

// GroupRemoved deletes every role of a removed group bundle
func (s *Store) GroupRemoved(ctx context.Context, groupType, groupBundle string) error {
	roles, err := s.LoadByGroup(ctx, groupType, groupBundle)
	if err != nil {
		return err
	}
	return s.deleteRoles(ctx, roles)
}
