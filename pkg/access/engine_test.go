package access

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/platinummonkey/og/pkg/contextkeys"
	"github.com/platinummonkey/og/pkg/entity"
	"github.com/platinummonkey/og/pkg/events"
	"github.com/platinummonkey/og/pkg/membership"
	"github.com/platinummonkey/og/pkg/observability"
	"github.com/platinummonkey/og/pkg/roles"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

type fakeMemberships struct {
	memberships []*membership.Membership
	calls       int
	err         error
}

func (f *fakeMemberships) GetMembership(_ context.Context, group entity.Entity, uid int64, states []membership.State) (*membership.Membership, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	for _, m := range f.memberships {
		if m.UID != uid || !m.BelongsTo(group) {
			continue
		}
		for _, s := range states {
			if m.State == s {
				return m, nil
			}
		}
	}
	return nil, nil
}

func (f *fakeMemberships) add(group entity.Entity, uid int64, state membership.State, rids ...string) *membership.Membership {
	m := membership.New(group, uid)
	m.ID = int64(len(f.memberships) + 1)
	m.State = state
	m.Roles = rids
	f.memberships = append(f.memberships, m)
	return m
}

type fakeRoles struct {
	roles map[string]*roles.Role
	calls int
}

func newFakeRoles() *fakeRoles {
	return &fakeRoles{roles: make(map[string]*roles.Role)}
}

func (f *fakeRoles) put(r *roles.Role) *roles.Role {
	f.roles[r.ID] = r
	return r
}

func (f *fakeRoles) Load(_ context.Context, rid string) (*roles.Role, error) {
	f.calls++
	return f.roles[rid], nil
}

func (f *fakeRoles) LoadByName(_ context.Context, groupType, groupBundle, name string) (*roles.Role, error) {
	f.calls++
	return f.roles[roles.RoleID(groupType, groupBundle, name)], nil
}

func (f *fakeRoles) LoadMultiple(_ context.Context, rids []string) ([]*roles.Role, error) {
	f.calls++
	var out []*roles.Role
	for _, rid := range rids {
		if r, ok := f.roles[rid]; ok {
			out = append(out, r)
		}
	}
	return out, nil
}

type fullAccess bool

func (f fullAccess) FullAccess() bool { return bool(f) }

type groupSet map[string]bool

func (g groupSet) IsGroup(entityType, bundle string) bool { return g[entityType+":"+bundle] }

type resolverMap map[int64][]entity.Entity

func (r resolverMap) ReferencedGroups(_ context.Context, e entity.Entity) ([]entity.Entity, error) {
	return r[e.ID()], nil
}

type engineFixture struct {
	memberships *fakeMemberships
	roles       *fakeRoles
	settings    *fullAccess
	g1          *entity.Content
	g2          *entity.Content
	u1          *entity.User
	owner       *entity.User
	editor      *roles.Role
}

func newEngineFixture() *engineFixture {
	f := &engineFixture{
		memberships: &fakeMemberships{},
		roles:       newFakeRoles(),
		g1:          &entity.Content{Type: "node", BundleName: "club", EntityID: 10, Owner: 7},
		g2:          &entity.Content{Type: "node", BundleName: "club", EntityID: 20, Owner: 8},
		u1:          entity.NewUser(5, "u1"),
		owner:       entity.NewUser(7, "owner1"),
	}
	off := fullAccess(false)
	f.settings = &off

	for _, r := range roles.DefaultRoles("node", "club") {
		f.roles.put(r)
	}
	f.editor = f.roles.put(roles.New("node", "club", "editor", "edit content"))
	return f
}

func (f *engineFixture) engine(opts Options) *Engine {
	opts.Memberships = f.memberships
	opts.Roles = f.roles
	if opts.Groups == nil {
		opts.Groups = groupSet{"node:club": true}
	}
	opts.Settings = f.settings
	opts.Logger = quietLogger()
	return NewEngine(opts)
}

func TestUserAccess_Superuser(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture()
	e := f.engine(Options{})
	admin := entity.NewUser(entity.SuperuserID, "admin")

	for _, perm := range []string{"edit content", "never granted", "administer group"} {
		for _, g := range []*entity.Content{f.g1, f.g2} {
			d, err := e.UserAccess(ctx, g, perm, admin, false)
			require.NoError(t, err)
			assert.True(t, d.Allowed, "%s in %s", perm, GroupTag(g))
			assert.Equal(t, RuleSuperuser, d.Reason)
			assert.Equal(t, []string{ContextUser}, d.Contexts)
		}
	}
	assert.Zero(t, f.memberships.calls)
}

func TestUserAccess_AdministerGroupPermission(t *testing.T) {
	f := newEngineFixture()
	e := f.engine(Options{})
	moderator := entity.NewUser(9, "moderator", AdministerGroup)

	d, err := e.UserAccess(context.Background(), f.g1, "anything", moderator, false)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, RuleAdministerGroup, d.Reason)
	assert.Contains(t, d.Tags, SettingsTag)
	assert.Contains(t, d.Tags, "node:10")
}

func TestUserAccess_AdminRoleBypass(t *testing.T) {
	f := newEngineFixture()
	f.memberships.add(f.g1, f.u1.ID(), membership.StateActive, roles.RoleID("node", "club", roles.Administrator))
	e := f.engine(Options{})

	d, err := e.UserAccess(context.Background(), f.g1, "a permission nobody registered", f.u1, false)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, RuleAdminRole, d.Reason)
}

func TestUserAccess_Scenarios(t *testing.T) {
	ctx := context.Background()

	t.Run("A: role grants only its permissions", func(t *testing.T) {
		f := newEngineFixture()
		f.memberships.add(f.g1, f.u1.ID(), membership.StateActive, f.editor.ID)
		e := f.engine(Options{})

		d, err := e.UserAccess(ctx, f.g1, "edit content", f.u1, false)
		require.NoError(t, err)
		assert.True(t, d.Allowed)
		assert.Equal(t, RuleRole, d.Reason)

		d, err = e.UserAccess(ctx, f.g1, "delete content", f.u1, false)
		require.NoError(t, err)
		assert.False(t, d.Allowed)
		assert.Equal(t, RuleDenied, d.Reason)
	})

	t.Run("B: no bleed into another group", func(t *testing.T) {
		f := newEngineFixture()
		f.memberships.add(f.g1, f.u1.ID(), membership.StateActive, f.editor.ID)
		e := f.engine(Options{})

		d, err := e.UserAccess(ctx, f.g2, "edit content", f.u1, false)
		require.NoError(t, err)
		assert.False(t, d.Allowed)
	})

	t.Run("C: owner bypass follows full access setting", func(t *testing.T) {
		f := newEngineFixture()
		e := f.engine(Options{})

		*f.settings = true
		d, err := e.UserAccess(ctx, f.g1, "unregistered permission", f.owner, false)
		require.NoError(t, err)
		assert.True(t, d.Allowed)
		assert.Equal(t, RuleOwner, d.Reason)

		*f.settings = false
		d, err = e.UserAccess(ctx, f.g1, "unregistered permission", f.owner, false)
		require.NoError(t, err)
		assert.False(t, d.Allowed)
	})

	t.Run("C: anonymous never owns", func(t *testing.T) {
		f := newEngineFixture()
		*f.settings = true
		g := &entity.Content{Type: "node", BundleName: "club", EntityID: 30, Owner: entity.AnonymousID}
		e := f.engine(Options{})

		d, err := e.UserAccess(ctx, g, "unregistered permission", entity.Anonymous(), false)
		require.NoError(t, err)
		assert.False(t, d.Allowed)
	})

	t.Run("D: blocked membership withholds every role", func(t *testing.T) {
		f := newEngineFixture()
		f.memberships.add(f.g1, f.u1.ID(), membership.StateBlocked, roles.RoleID("node", "club", roles.Administrator))
		e := f.engine(Options{})

		manager := membership.NewManager(&listRepo{memberships: f.memberships.memberships}, nil)
		blocked, err := manager.IsMemberBlocked(ctx, f.g1, f.u1.ID())
		require.NoError(t, err)
		assert.True(t, blocked)

		d, err := e.UserAccess(ctx, f.g1, "anything", f.u1, false)
		require.NoError(t, err)
		assert.False(t, d.Allowed)

		// non-member defaults are withheld as well
		d, err = e.UserAccess(ctx, f.g1, "subscribe", f.u1, false)
		require.NoError(t, err)
		assert.False(t, d.Allowed)
	})
}

// listRepo serves memberships to a membership.Manager
type listRepo struct {
	memberships []*membership.Membership
}

func (r *listRepo) LoadByUser(_ context.Context, uid int64, states []membership.State) ([]*membership.Membership, error) {
	var out []*membership.Membership
	for _, m := range r.memberships {
		for _, s := range states {
			if m.UID == uid && m.State == s {
				out = append(out, m)
			}
		}
	}
	return out, nil
}

func (r *listRepo) Save(context.Context, *membership.Membership) error   { return nil }
func (r *listRepo) Delete(context.Context, *membership.Membership) error { return nil }

func TestUserAccess_Scoping(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture()
	f.memberships.add(f.g1, f.u1.ID(), membership.StateActive, f.editor.ID)
	f.memberships.add(f.g2, f.u1.ID(), membership.StateActive)
	e := f.engine(Options{})

	d, err := e.UserAccess(ctx, f.g1, "edit content", f.u1, false)
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	d, err = e.UserAccess(ctx, f.g2, "edit content", f.u1, false)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
}

func TestUserAccess_NonMemberDefault(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture()
	e := f.engine(Options{})

	d, err := e.UserAccess(ctx, f.g1, "subscribe", f.u1, false)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, RuleNonMember, d.Reason)

	d, err = e.UserAccess(ctx, f.g1, "subscribe", entity.Anonymous(), false)
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	// joining with a role that grants nothing removes the default
	f.memberships.add(f.g1, f.u1.ID(), membership.StateActive)
	e.InvalidateCache(ctx, []int64{f.g1.ID()})

	d, err = e.UserAccess(ctx, f.g1, "subscribe", f.u1, false)
	require.NoError(t, err)
	assert.False(t, d.Allowed)

	f.roles.roles[roles.RoleID("node", "club", roles.Member)].GrantPermission("subscribe")
	e.InvalidateCache(ctx, nil)

	d, err = e.UserAccess(ctx, f.g1, "subscribe", f.u1, false)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, RuleRole, d.Reason)
}

func TestUserAccess_PendingIsNonMember(t *testing.T) {
	f := newEngineFixture()
	f.memberships.add(f.g1, f.u1.ID(), membership.StatePending, f.editor.ID)
	e := f.engine(Options{})

	d, err := e.UserAccess(context.Background(), f.g1, "edit content", f.u1, false)
	require.NoError(t, err)
	assert.False(t, d.Allowed)

	d, err = e.UserAccess(context.Background(), f.g1, "subscribe", f.u1, false)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestUserAccess_CacheIdempotence(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture()
	f.memberships.add(f.g1, f.u1.ID(), membership.StateActive, f.editor.ID)
	metrics := observability.NewMetrics(nil)
	e := f.engine(Options{Metrics: metrics})

	first, err := e.UserAccess(ctx, f.g1, "edit content", f.u1, false)
	require.NoError(t, err)
	membershipCalls, roleCalls := f.memberships.calls, f.roles.calls
	require.NotZero(t, membershipCalls)

	second, err := e.UserAccess(ctx, f.g1, "edit content", f.u1, false)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, membershipCalls, f.memberships.calls)
	assert.Equal(t, roleCalls, f.roles.calls)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.ResolutionCacheTotal.WithLabelValues(PassPostAlter, "hit")))
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.AccessChecksTotal.WithLabelValues("allowed", RuleRole)))
}

func TestUserAccess_Invalidation(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture()
	f.memberships.add(f.g1, f.u1.ID(), membership.StateActive, f.editor.ID)
	bus := events.NewBus()
	e := f.engine(Options{Bus: bus})

	var notified [][]int64
	e.OnInvalidate(func(_ context.Context, ids []int64) { notified = append(notified, ids) })
	var published []events.Kind
	bus.Subscribe(func(_ context.Context, ev events.Event) { published = append(published, ev.Kind) })

	_, err := e.UserAccess(ctx, f.g1, "edit content", f.u1, false)
	require.NoError(t, err)
	calls := f.memberships.calls

	t.Run("explicit invalidation re-reads storage", func(t *testing.T) {
		e.InvalidateCache(ctx, []int64{10})
		assert.Zero(t, e.Cache().Len())
		assert.Equal(t, [][]int64{{10}}, notified)
		assert.Equal(t, []events.Kind{events.CacheInvalidated}, published)

		d, err := e.UserAccess(ctx, f.g1, "edit content", f.u1, false)
		require.NoError(t, err)
		assert.True(t, d.Allowed)
		assert.Greater(t, f.memberships.calls, calls)
	})

	t.Run("mutation events clear the cache", func(t *testing.T) {
		require.NotZero(t, e.Cache().Len())
		bus.Publish(ctx, events.Event{Kind: events.RoleSaved, RoleID: f.editor.ID})
		assert.Zero(t, e.Cache().Len())
	})
}

func TestUserAccess_Alteration(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture()
	f.memberships.add(f.g1, f.u1.ID(), membership.StateActive, f.editor.ID)
	e := f.engine(Options{})

	e.AddAlterer(SnapshotAltererFunc(func(_ context.Context, s *Snapshot, _ entity.Entity, _ entity.Account) {
		s.Grant("approve content")
		s.Revoke("edit content")
	}))
	var order []string
	e.AddInterceptor(InterceptorFunc(func(_ context.Context, d Decision, _ entity.Entity, p string, _ entity.Account) Decision {
		order = append(order, "first")
		if p == "approve content" {
			d.Reason = "first"
		}
		return d
	}))
	e.AddInterceptor(InterceptorFunc(func(_ context.Context, d Decision, _ entity.Entity, p string, _ entity.Account) Decision {
		order = append(order, "second")
		if p == "approve content" {
			d.Reason += "+second"
		}
		return d
	}))

	d, err := e.UserAccess(ctx, f.g1, "approve content", f.u1, false)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, "first+second", d.Reason)
	assert.Equal(t, []string{"first", "second"}, order)

	d, err = e.UserAccess(ctx, f.g1, "edit content", f.u1, false)
	require.NoError(t, err)
	assert.False(t, d.Allowed)

	order = nil
	d, err = e.UserAccess(ctx, f.g1, "edit content", f.u1, true)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Empty(t, order)

	d, err = e.UserAccess(ctx, f.g1, "approve content", f.u1, true)
	require.NoError(t, err)
	assert.False(t, d.Allowed)

	_, pre := e.Cache().Get(SnapshotKey{GroupType: "node", GroupID: 10, UID: 5, Pass: PassPreAlter})
	_, post := e.Cache().Get(SnapshotKey{GroupType: "node", GroupID: 10, UID: 5, Pass: PassPostAlter})
	assert.True(t, pre)
	assert.True(t, post)
}

func TestUserAccess_CurrentUser(t *testing.T) {
	f := newEngineFixture()
	f.memberships.add(f.g1, f.u1.ID(), membership.StateActive, f.editor.ID)
	e := f.engine(Options{})

	ctx := contextkeys.WithPrincipal(context.Background(), entity.Account(f.u1))
	d, err := e.UserAccess(ctx, f.g1, "edit content", nil, false)
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	d, err = e.UserAccess(context.Background(), f.g1, "edit content", nil, false)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
}

func TestUserAccess_StorageErrorPropagates(t *testing.T) {
	f := newEngineFixture()
	boom := errors.New("connection reset")
	f.memberships.err = boom
	e := f.engine(Options{})

	_, err := e.UserAccess(context.Background(), f.g1, "edit content", f.u1, false)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Zero(t, e.Cache().Len())
}

func TestUserAccessEntity(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture()
	f.memberships.add(f.g2, f.u1.ID(), membership.StateActive, f.editor.ID)

	post := &entity.Content{Type: "node", BundleName: "post", EntityID: 100, Owner: 5}
	orphan := &entity.Content{Type: "node", BundleName: "post", EntityID: 101, Owner: 5}
	e := f.engine(Options{Resolver: resolverMap{100: {f.g1, f.g2}}})

	d, err := e.UserAccessEntity(ctx, "edit content", post, f.u1)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Contains(t, d.Tags, "node:10")
	assert.Contains(t, d.Tags, "node:20")

	d, err = e.UserAccessEntity(ctx, "delete content", post, f.u1)
	require.NoError(t, err)
	assert.False(t, d.Allowed)

	d, err = e.UserAccessEntity(ctx, "edit content", orphan, f.u1)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, RuleNoGroups, d.Reason)

	// the group itself is checked directly
	d, err = e.UserAccessEntity(ctx, "edit content", f.g2, f.u1)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestUserAccessEntityOperation(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture()
	f.editor.GrantPermission("update own post node")
	f.editor.GrantPermission("update group")
	f.memberships.add(f.g1, f.u1.ID(), membership.StateActive, f.editor.ID)

	mine := &entity.Content{Type: "node", BundleName: "post", EntityID: 100, Owner: f.u1.ID()}
	theirs := &entity.Content{Type: "node", BundleName: "post", EntityID: 101, Owner: 99}
	e := f.engine(Options{Resolver: resolverMap{100: {f.g1}, 101: {f.g1}}})

	d, err := e.UserAccessEntityOperation(ctx, "update", mine, f.u1)
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	d, err = e.UserAccessEntityOperation(ctx, "update", theirs, f.u1)
	require.NoError(t, err)
	assert.False(t, d.Allowed)

	d, err = e.UserAccessGroupContentEntityOperation(ctx, "update", f.g2, mine, f.u1)
	require.NoError(t, err)
	assert.False(t, d.Allowed)

	d, err = e.UserAccessEntityOperation(ctx, "update", f.g1, f.u1)
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	d, err = e.UserAccessEntityOperation(ctx, "delete", f.g1, f.u1)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
}

func TestDefaultCatalog(t *testing.T) {
	post := &entity.Content{Type: "node", BundleName: "post", EntityID: 1, Owner: 5}

	assert.Equal(t, []string{"update group"}, DefaultCatalog{}.GroupPermissions("update", post))
	assert.Equal(t,
		[]string{"delete own post node", "delete any post node"},
		DefaultCatalog{}.ContentPermissions("delete", post, entity.NewUser(5, "author")))
	assert.Equal(t,
		[]string{"delete any post node"},
		DefaultCatalog{}.ContentPermissions("delete", post, entity.NewUser(6, "other")))
	assert.Equal(t,
		[]string{"delete any post node"},
		DefaultCatalog{}.ContentPermissions("delete", &entity.Content{Type: "node", BundleName: "post"}, entity.Anonymous()))
}

func TestDecision_Or(t *testing.T) {
	a := Deny(RuleDenied).WithTags("node:1").WithContexts(ContextRole)
	b := Allow(RuleRole).WithTags("node:2")

	got := a.Or(b)
	assert.True(t, got.Allowed)
	assert.Equal(t, RuleRole, got.Reason)
	assert.Equal(t, []string{"node:1", "node:2"}, got.Tags)
	assert.Equal(t, []string{ContextRole}, got.Contexts)
	assert.Equal(t, MaxAgePermanent, got.MaxAge)

	c := Deny(RuleDenied)
	c.MaxAge = 60
	assert.Equal(t, 60, Deny(RuleNoGroups).Or(c).MaxAge)
	assert.Equal(t, "deny(denied)", c.String())
}
