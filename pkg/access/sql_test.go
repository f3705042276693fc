package access

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/platinummonkey/og/pkg/entity"
	"github.com/platinummonkey/og/pkg/events"
	"github.com/platinummonkey/og/pkg/membership"
	"github.com/platinummonkey/og/pkg/roles"
	"github.com/platinummonkey/og/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestEngine_SQLStores runs the engine over the SQL stores with the role LRU
// in front of them
func TestEngine_SQLStores(t *testing.T) {
	ctx := context.Background()

	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	var migrations []storage.Migration
	migrations = append(migrations, entity.GetMigrations()...)
	migrations = append(migrations, roles.GetMigrations()...)
	migrations = append(migrations, membership.GetMigrations()...)
	require.NoError(t, storage.RunMigrations(ctx, db, storage.DriverSQLite, migrations, quietLogger()))

	entities := entity.NewSQLStorage(db, storage.DriverSQLite, quietLogger())
	group := entity.NewContent("node", "club", "Chess club", 7)
	require.NoError(t, entities.Save(ctx, group))

	bus := events.NewBus()
	roleCache := roles.NewCachedStore(roles.NewStore(db, quietLogger()), 16, time.Minute)
	bus.Subscribe(roleCache.Listener())
	roleStore := roles.NewStore(db, quietLogger()).WithBus(bus)
	_, err = roleStore.CreateDefaultRoles(ctx, "node", "club")
	require.NoError(t, err)

	editor := roles.New("node", "club", "editor", "edit content")
	require.NoError(t, roleStore.Save(ctx, editor))

	memberships := membership.NewStore(db, roleCache, quietLogger()).WithBus(bus)
	manager := membership.NewManager(memberships, bus)
	off := fullAccess(false)
	engine := NewEngine(Options{
		Memberships: manager,
		Roles:       roleCache,
		Groups:      groupSet{"node:club": true},
		Settings:    &off,
		Bus:         bus,
		Logger:      quietLogger(),
	})

	u1 := entity.NewUser(5, "u1")
	m := manager.CreateMembership(group, u1, "")
	m.Roles = []string{editor.ID}
	require.NoError(t, manager.Save(ctx, m))

	d, err := engine.UserAccess(ctx, group, "edit content", u1, false)
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	d, err = engine.UserAccess(ctx, group, "delete content", u1, false)
	require.NoError(t, err)
	assert.False(t, d.Allowed)

	// a role change published on the bus is visible immediately
	require.NotZero(t, engine.Cache().Len())
	require.NoError(t, roleStore.GrantPermission(ctx, editor.ID, "delete content", ""))
	assert.Zero(t, engine.Cache().Len())

	d, err = engine.UserAccess(ctx, group, "delete content", u1, false)
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	// blocking the membership withdraws the role
	m.State = membership.StateBlocked
	require.NoError(t, manager.Save(ctx, m))

	d, err = engine.UserAccess(ctx, group, "edit content", u1, false)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
}
