package roles

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	_ "github.com/mattn/go-sqlite3"
	"github.com/platinummonkey/og/pkg/events"
	"github.com/platinummonkey/og/pkg/storage"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, storage.RunMigrations(context.Background(), db, storage.DriverSQLite, GetMigrations(), quietLogger()))
	return db
}

func TestRole_Validate(t *testing.T) {
	tests := []struct {
		name    string
		role    *Role
		wantErr bool
	}{
		{"valid", New("node", "club", "editor", "edit content"), false},
		{"derives id", &Role{Name: "editor", GroupType: "node", GroupBundle: "club"}, false},
		{"missing name", &Role{GroupType: "node", GroupBundle: "club"}, true},
		{"missing bundle", &Role{Name: "editor", GroupType: "node"}, true},
		{"mismatched id", &Role{ID: "node-team-editor", Name: "editor", GroupType: "node", GroupBundle: "club"}, true},
		{"bad role type", &Role{Name: "editor", GroupType: "node", GroupBundle: "club", RoleType: "magic"}, true},
		{"empty permission", New("node", "club", "editor", ""), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.role.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidRole)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "node-club-editor", tt.role.ID)
		})
	}
}

func TestStore_SaveLoad(t *testing.T) {
	ctx := context.Background()
	bus := events.NewBus()
	var published []events.Event
	bus.Subscribe(func(_ context.Context, e events.Event) { published = append(published, e) })

	store := NewStore(setupTestDB(t), quietLogger()).WithBus(bus)

	editor := New("node", "club", "editor", "edit content", "view content")
	require.NoError(t, store.Save(ctx, editor))
	require.Len(t, published, 1)
	assert.Equal(t, events.RoleSaved, published[0].Kind)
	assert.Equal(t, "node-club-editor", published[0].RoleID)

	loaded, err := store.Load(ctx, "node-club-editor")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, "editor", loaded.Name)
	assert.False(t, loaded.IsAdmin)
	assert.ElementsMatch(t, []string{"edit content", "view content"}, loaded.Permissions)
	assert.False(t, loaded.CreatedAt.IsZero())

	t.Run("save replaces permission set", func(t *testing.T) {
		loaded.Permissions = []string{"view content", "delete content"}
		require.NoError(t, store.Save(ctx, loaded))

		again, err := store.LoadByName(ctx, "node", "club", "editor")
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"view content", "delete content"}, again.Permissions)
	})

	t.Run("grant and revoke single permission", func(t *testing.T) {
		require.NoError(t, store.GrantPermission(ctx, "node-club-editor", "publish content", "og_ui"))
		grants, err := store.Permissions(ctx, "node-club-editor")
		require.NoError(t, err)

		modules := map[string]string{}
		for _, g := range grants {
			modules[g.Permission] = g.Module
		}
		assert.Equal(t, "og_ui", modules["publish content"])
		assert.Equal(t, DefaultModule, modules["view content"])

		require.NoError(t, store.RevokePermission(ctx, "node-club-editor", "publish content"))
		role, err := store.Load(ctx, "node-club-editor")
		require.NoError(t, err)
		assert.False(t, role.HasPermission("publish content"))
	})

	t.Run("grant on missing role", func(t *testing.T) {
		err := store.GrantPermission(ctx, "node-club-ghost", "x", "")
		assert.ErrorIs(t, err, ErrInvalidRole)
	})

	t.Run("missing role is nil", func(t *testing.T) {
		role, err := store.Load(ctx, "node-club-ghost")
		require.NoError(t, err)
		assert.Nil(t, role)
	})

	t.Run("invalid role is not saved", func(t *testing.T) {
		err := store.Save(ctx, &Role{Name: "x"})
		assert.ErrorIs(t, err, ErrInvalidRole)
	})
}

func TestStore_DefaultRoles(t *testing.T) {
	ctx := context.Background()
	store := NewStore(setupTestDB(t), quietLogger())

	created, err := store.CreateDefaultRoles(ctx, "node", "club")
	require.NoError(t, err)
	assert.Len(t, created, 3)

	created, err = store.CreateDefaultRoles(ctx, "node", "club")
	require.NoError(t, err)
	assert.Empty(t, created, "second call must not recreate roles")

	roles, err := store.LoadByGroup(ctx, "node", "club")
	require.NoError(t, err)
	require.Len(t, roles, 3)
	assert.Equal(t, NonMember, roles[0].Name)
	assert.Equal(t, Member, roles[1].Name)
	assert.Equal(t, Administrator, roles[2].Name)
	assert.True(t, roles[2].IsAdmin)
	assert.True(t, roles[0].IsRequired())
	assert.True(t, roles[0].HasPermission("subscribe"))

	t.Run("required roles cannot be deleted", func(t *testing.T) {
		err := store.Delete(ctx, RoleID("node", "club", Member))
		assert.ErrorIs(t, err, ErrInvalidRole)
	})

	t.Run("group removal deletes every role", func(t *testing.T) {
		require.NoError(t, store.GroupRemoved(ctx, "node", "club"))
		roles, err := store.LoadByGroup(ctx, "node", "club")
		require.NoError(t, err)
		assert.Empty(t, roles)
	})
}

func TestStore_DeleteDetachesMemberships(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	store := NewStore(db, quietLogger())

	require.NoError(t, store.Save(ctx, New("node", "club", "editor")))
	_, err := db.Exec("INSERT INTO og_membership_role (membership_id, rid) VALUES (1, 'node-club-editor'), (2, 'node-club-editor')")
	require.NoError(t, err)

	require.NoError(t, store.Delete(ctx, "node-club-editor"))

	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM og_membership_role").Scan(&count))
	assert.Equal(t, 0, count)

	// Deleting again is a no-op.
	assert.NoError(t, store.Delete(ctx, "node-club-editor"))
}

func TestStore_RoleIDsWithPermission(t *testing.T) {
	ctx := context.Background()
	store := NewStore(setupTestDB(t), quietLogger())

	require.NoError(t, store.Save(ctx, New("node", "club", "editor", "edit content")))
	require.NoError(t, store.Save(ctx, New("node", "team", "editor", "edit content")))
	require.NoError(t, store.Save(ctx, New("node", "club", "viewer", "view content")))

	rids, err := store.RoleIDsWithPermission(ctx, "edit content", "", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"node-club-editor", "node-team-editor"}, rids)

	rids, err = store.RoleIDsWithPermission(ctx, "edit content", "node", "team")
	require.NoError(t, err)
	assert.Equal(t, []string{"node-team-editor"}, rids)

	rids, err = store.RoleIDsWithPermission(ctx, "fly", "node", "")
	require.NoError(t, err)
	assert.Empty(t, rids)
}

func TestStore_PropagatesErrors(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	boom := errors.New("connection refused")
	mock.ExpectQuery("SELECT rid, name").WillReturnError(boom)

	_, err = NewStore(db, quietLogger()).Load(context.Background(), "node-club-editor")
	assert.ErrorIs(t, err, boom)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCachedStore(t *testing.T) {
	ctx := context.Background()
	store := NewStore(setupTestDB(t), quietLogger())
	require.NoError(t, store.Save(ctx, New("node", "club", "editor", "edit content")))

	cached := NewCachedStore(store, 16, time.Minute)

	first, err := cached.Load(ctx, "node-club-editor")
	require.NoError(t, err)
	require.NotNil(t, first)

	second, err := cached.LoadByName(ctx, "node", "club", "editor")
	require.NoError(t, err)
	assert.Equal(t, first.Permissions, second.Permissions)

	stats := cached.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)

	t.Run("returned roles are copies", func(t *testing.T) {
		second.Permissions[0] = "mutated"
		third, err := cached.Load(ctx, "node-club-editor")
		require.NoError(t, err)
		assert.Equal(t, []string{"edit content"}, third.Permissions)
	})

	t.Run("role events purge", func(t *testing.T) {
		bus := events.NewBus()
		bus.Subscribe(cached.Listener())

		require.NoError(t, store.WithBus(bus).Save(ctx, New("node", "club", "editor", "edit content", "delete content")))
		assert.Equal(t, 0, cached.Stats().ItemCount)

		role, err := cached.Load(ctx, "node-club-editor")
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"edit content", "delete content"}, role.Permissions)
	})

	t.Run("load multiple mixes hits and misses", func(t *testing.T) {
		require.NoError(t, store.Save(ctx, New("node", "club", "viewer", "view content")))
		roles, err := cached.LoadMultiple(ctx, []string{"node-club-editor", "node-club-viewer", "node-club-ghost"})
		require.NoError(t, err)
		assert.Len(t, roles, 2)
	})
}
