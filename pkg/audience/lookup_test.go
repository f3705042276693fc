package audience

import (
	"context"
	"database/sql"
	"io"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/platinummonkey/og/pkg/entity"
	"github.com/platinummonkey/og/pkg/events"
	"github.com/platinummonkey/og/pkg/fields"
	"github.com/platinummonkey/og/pkg/membership"
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

// userGroups serves GetUserGroupIDs from a fixed map
type userGroups struct {
	ids   map[int64]map[string][]int64
	calls int
}

func (u *userGroups) GetUserGroupIDs(_ context.Context, uid int64, _ []membership.State) (map[string][]int64, error) {
	u.calls++
	return u.ids[uid], nil
}

type lookupFixture struct {
	store   *entity.SQLStorage
	helper  *Helper
	users   *userGroups
	bus     *events.Bus
	cache   *EntityGroupCache
	lookup  *Lookup
	club1   *entity.Content
	club2   *entity.Content
	team1   *entity.Content
	article *entity.Content
	post    *entity.Content
	post2   *entity.Content
}

func setupLookup(t *testing.T) *lookupFixture {
	t.Helper()
	ctx := context.Background()

	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, storage.RunMigrations(ctx, db, storage.DriverSQLite, entity.GetMigrations(), quietLogger()))

	f := &lookupFixture{
		store: entity.NewSQLStorage(db, storage.DriverSQLite, quietLogger()),
		users: &userGroups{ids: make(map[int64]map[string][]int64)},
		bus:   events.NewBus(),
	}

	registry := fields.NewRegistry(nil)
	f.helper = NewHelper(registry, f.bus)
	_, err = f.helper.CreateField(ctx, fields.DefaultFieldName, "node", "post", fields.Options{})
	require.NoError(t, err)
	_, err = f.helper.CreateField(ctx, "og_user_group_ref", entity.UserEntityType, entity.UserEntityType, fields.Options{})
	require.NoError(t, err)

	f.club1 = entity.NewContent("node", "club", "Chess", 2)
	f.club2 = entity.NewContent("node", "club", "Go", 2)
	f.team1 = entity.NewContent("node", "team", "Relay", 2)
	f.article = entity.NewContent("node", "article", "News", 2)
	for _, c := range []*entity.Content{f.club1, f.club2, f.team1, f.article} {
		require.NoError(t, f.store.Save(ctx, c))
	}

	f.post = entity.NewContent("node", "post", "Meetup", 5)
	f.post.AddReference("og_group_ref", entity.Ref{Type: "node", ID: f.team1.ID()})
	f.post.AddReference("og_group_ref", entity.Ref{Type: "node", ID: f.club1.ID()})
	require.NoError(t, f.store.Save(ctx, f.post))

	f.post2 = entity.NewContent("node", "post", "Orphaned", 5)
	f.post2.AddReference("og_group_ref", entity.Ref{Type: "node", ID: f.club2.ID()})
	f.post2.AddReference("og_group_ref", entity.Ref{Type: "node", ID: 999})
	require.NoError(t, f.store.Save(ctx, f.post2))

	f.cache = NewEntityGroupCache(f.bus)
	f.lookup = NewLookup(f.helper, f.store, f.users, f.cache)
	return f
}

func ids(groups []*entity.Content) []int64 {
	out := make([]int64, 0, len(groups))
	for _, g := range groups {
		out = append(out, g.ID())
	}
	return out
}

func TestLookup_GetGroupIDs(t *testing.T) {
	ctx := context.Background()
	f := setupLookup(t)

	got, err := f.lookup.GetGroupIDs(ctx, f.post, "", "")
	require.NoError(t, err)
	assert.Equal(t, map[string][]int64{"node": {f.club1.ID(), f.team1.ID()}}, got)

	got, err = f.lookup.GetGroupIDs(ctx, f.post, "node", "club")
	require.NoError(t, err)
	assert.Equal(t, map[string][]int64{"node": {f.club1.ID()}}, got)

	got, err = f.lookup.GetGroupIDs(ctx, f.post, "taxonomy_term", "")
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = f.lookup.GetGroupIDs(ctx, entity.NewUser(5, "u5"), "", "")
	assert.ErrorIs(t, err, ErrUserEntity)
}

func TestLookup_GetGroups(t *testing.T) {
	ctx := context.Background()
	f := setupLookup(t)

	groups, err := f.lookup.GetGroups(ctx, f.post, "", "")
	require.NoError(t, err)
	assert.Equal(t, []int64{f.club1.ID(), f.team1.ID()}, ids(groups["node"]))

	count, err := f.lookup.GetGroupCount(ctx, f.post2, "", "")
	require.NoError(t, err)
	assert.Equal(t, 1, count, "references to deleted groups are not counted")

	referenced, err := f.lookup.ReferencedGroups(ctx, f.post)
	require.NoError(t, err)
	require.Len(t, referenced, 2)
	assert.Equal(t, f.club1.ID(), referenced[0].ID())
	assert.Equal(t, f.team1.ID(), referenced[1].ID())

	referenced, err = f.lookup.ReferencedGroups(ctx, entity.NewUser(5, "u5"))
	require.NoError(t, err)
	assert.Empty(t, referenced)
}

func TestLookup_GetGroupContentIDs(t *testing.T) {
	ctx := context.Background()
	f := setupLookup(t)

	got, err := f.lookup.GetGroupContentIDs(ctx, f.club1, nil)
	require.NoError(t, err)
	assert.Equal(t, map[string][]int64{"node": {f.post.ID()}}, got)

	got, err = f.lookup.GetGroupContentIDs(ctx, f.club1, []string{"comment"})
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = f.lookup.GetGroupContentIDs(ctx, f.article, nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestLookup_GetEntityGroups(t *testing.T) {
	ctx := context.Background()
	f := setupLookup(t)

	t.Run("content uses audience fields", func(t *testing.T) {
		groups, err := f.lookup.GetEntityGroups(ctx, "node", f.post.ID(), nil, "")
		require.NoError(t, err)
		assert.Equal(t, []int64{f.club1.ID(), f.team1.ID()}, ids(groups["node"]))

		groups, err = f.lookup.GetEntityGroups(ctx, "node", f.post.ID(), nil, "og_other_ref")
		require.NoError(t, err)
		assert.Empty(t, groups)

		groups, err = f.lookup.GetEntityGroups(ctx, "node", 12345, nil, "")
		require.NoError(t, err)
		assert.Empty(t, groups)
	})

	t.Run("users use memberships and share entries across state order", func(t *testing.T) {
		f.cache.Reset()
		f.users.ids[5] = map[string][]int64{"node": {f.club2.ID(), f.club1.ID()}}

		first, err := f.lookup.GetEntityGroups(ctx, entity.UserEntityType, 5,
			[]membership.State{membership.StatePending, membership.StateActive}, "")
		require.NoError(t, err)
		second, err := f.lookup.GetEntityGroups(ctx, entity.UserEntityType, 5,
			[]membership.State{membership.StateActive, membership.StatePending}, "")
		require.NoError(t, err)

		assert.Equal(t, first, second)
		assert.Equal(t, []int64{f.club1.ID(), f.club2.ID()}, ids(first["node"]))
		assert.Equal(t, 1, f.users.calls)
		assert.Equal(t, 1, f.cache.Len())
	})

	t.Run("invalidating events reset the cache", func(t *testing.T) {
		require.NotZero(t, f.cache.Len())
		f.bus.Publish(ctx, events.Event{Kind: events.MembershipSaved, UserID: 5})
		assert.Zero(t, f.cache.Len())
	})
}
