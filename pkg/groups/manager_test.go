package groups

import (
	"context"
	"errors"
	"testing"

	"github.com/platinummonkey/og/pkg/events"
	"github.com/platinummonkey/og/pkg/fields"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryStore struct {
	groups map[string][]string
	saves  int
	err    error
}

func (s *memoryStore) GroupMap() map[string][]string { return s.groups }

func (s *memoryStore) SaveGroupMap(_ context.Context, groups map[string][]string) error {
	if s.err != nil {
		return s.err
	}
	s.saves++
	s.groups = groups
	return nil
}

type recordingListener struct {
	added, removed []string
	err            error
}

func (l *recordingListener) GroupAdded(_ context.Context, entityType, bundle string) error {
	l.added = append(l.added, entityType+":"+bundle)
	return l.err
}

func (l *recordingListener) GroupRemoved(_ context.Context, entityType, bundle string) error {
	l.removed = append(l.removed, entityType+":"+bundle)
	return l.err
}

func TestManager_AddRemove(t *testing.T) {
	ctx := context.Background()
	store := &memoryStore{groups: map[string][]string{}}
	bus := events.NewBus()
	var published []events.Event
	bus.Subscribe(func(_ context.Context, e events.Event) { published = append(published, e) })

	m := NewManager(store, nil, bus)
	listener := &recordingListener{}
	m.AddListener(listener)

	require.NoError(t, m.AddGroup(ctx, "node", "club"))
	assert.True(t, m.IsGroup("node", "club"))
	assert.False(t, m.IsGroup("node", "team"))
	assert.Equal(t, []string{"node:club"}, listener.added)
	require.Len(t, published, 1)
	assert.Equal(t, events.GroupTypeChanged, published[0].Kind)

	t.Run("add is idempotent", func(t *testing.T) {
		require.NoError(t, m.AddGroup(ctx, "node", "club"))
		assert.Equal(t, 1, store.saves)
		assert.Len(t, listener.added, 1)
		assert.Len(t, published, 1)
	})

	t.Run("remove unknown is a no-op", func(t *testing.T) {
		require.NoError(t, m.RemoveGroup(ctx, "node", "team"))
		require.NoError(t, m.RemoveGroup(ctx, "taxonomy_term", "club"))
		assert.Empty(t, listener.removed)
		assert.Equal(t, 1, store.saves)
	})

	t.Run("bundles are sorted", func(t *testing.T) {
		require.NoError(t, m.AddGroup(ctx, "node", "alpha"))
		assert.Equal(t, []string{"alpha", "club"}, m.GetAllGroupBundles("node"))
	})

	t.Run("remove", func(t *testing.T) {
		require.NoError(t, m.RemoveGroup(ctx, "node", "club"))
		require.NoError(t, m.RemoveGroup(ctx, "node", "alpha"))
		assert.False(t, m.IsGroup("node", "club"))
		assert.Equal(t, []string{"node:club", "node:alpha"}, listener.removed)
		assert.Empty(t, m.GetGroupMap())
		assert.Empty(t, store.groups)
	})
}

func TestManager_Failures(t *testing.T) {
	ctx := context.Background()

	t.Run("store failure leaves registry unchanged", func(t *testing.T) {
		boom := errors.New("read-only file system")
		m := NewManager(&memoryStore{groups: map[string][]string{}, err: boom}, nil, nil)

		err := m.AddGroup(ctx, "node", "club")
		assert.ErrorIs(t, err, boom)
		assert.False(t, m.IsGroup("node", "club"))
	})

	t.Run("listener failure is reported", func(t *testing.T) {
		boom := errors.New("role store down")
		m := NewManager(&memoryStore{groups: map[string][]string{}}, nil, nil)
		m.AddListener(&recordingListener{err: boom})

		err := m.AddGroup(ctx, "node", "club")
		assert.ErrorIs(t, err, boom)
		assert.True(t, m.IsGroup("node", "club"))
	})
}

func TestManager_RelationMap(t *testing.T) {
	ctx := context.Background()
	registry := fields.NewRegistry(nil)
	for _, def := range []fields.Definition{
		{Name: "og_group_ref", EntityType: "node", Bundle: "post", Type: fields.TypeStandardReference, TargetType: "node"},
		{Name: "og_group_ref", EntityType: "node", Bundle: "event", Type: fields.TypeStandardReference, TargetType: "node", TargetBundles: []string{"club"}},
		{Name: "og_user_group_ref", EntityType: "user", Bundle: "user", Type: fields.TypeMembershipReference, TargetType: "node"},
		{Name: "body", EntityType: "node", Bundle: "post", Type: "text"},
	} {
		_, err := registry.Add(ctx, def)
		require.NoError(t, err)
	}

	bus := events.NewBus()
	m := NewManager(&memoryStore{groups: map[string][]string{"node": {"club", "team"}}}, registry, bus)

	relations := m.GetGroupRelationMap()
	assert.Equal(t, []string{"event", "post"}, relations["node"]["club"]["node"])
	assert.Equal(t, []string{"post"}, relations["node"]["team"]["node"])
	assert.Equal(t, []string{"user"}, relations["node"]["club"]["user"])

	assert.True(t, m.IsGroupContent("node", "post"))
	assert.False(t, m.IsGroupContent("node", "page"))

	t.Run("callers cannot modify the registry", func(t *testing.T) {
		mutated := m.GetGroupRelationMap()
		mutated["node"]["club"]["node"][0] = "mutated"
		delete(mutated["node"], "team")
		mutated["user"] = nil

		fresh := m.GetGroupRelationMap()
		assert.Equal(t, []string{"event", "post"}, fresh["node"]["club"]["node"])
		assert.Equal(t, []string{"post"}, fresh["node"]["team"]["node"])
		assert.NotContains(t, fresh, "user")
	})

	t.Run("field change rebuilds the map", func(t *testing.T) {
		_, err := registry.Add(ctx, fields.Definition{
			Name: "og_group_ref", EntityType: "node", Bundle: "page", Type: fields.TypeStandardReference, TargetType: "node",
		})
		require.NoError(t, err)

		assert.NotContains(t, m.GetGroupRelationMap()["node"]["team"]["node"], "page")
		bus.Publish(ctx, events.Event{Kind: events.FieldChanged})
		assert.Contains(t, m.GetGroupRelationMap()["node"]["team"]["node"], "page")
	})
}
