package audience

import (
	"context"
	"testing"

	"github.com/platinummonkey/og/pkg/entity"
	"github.com/platinummonkey/og/pkg/events"
	"github.com/platinummonkey/og/pkg/fields"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(i int) *int { return &i }

func TestHelper_CreateField(t *testing.T) {
	ctx := context.Background()
	registry := fields.NewRegistry(nil)
	bus := events.NewBus()
	var published []events.Event
	bus.Subscribe(func(_ context.Context, e events.Event) { published = append(published, e) })
	h := NewHelper(registry, bus)

	def, err := h.CreateField(ctx, fields.DefaultFieldName, "node", "post", fields.Options{})
	require.NoError(t, err)
	assert.Equal(t, "og_group_ref", def.Name)
	assert.Equal(t, fields.TypeStandardReference, def.Type)
	assert.True(t, registry.Has("node", "post", "og_group_ref"))
	require.Len(t, published, 1)
	assert.Equal(t, events.FieldChanged, published[0].Kind)

	t.Run("existing field is left alone", func(t *testing.T) {
		again, err := h.CreateField(ctx, fields.DefaultFieldName, "node", "post", fields.Options{Cardinality: intPtr(1)})
		require.NoError(t, err)
		assert.Equal(t, fields.CardinalityUnlimited, again.Cardinality)
		assert.Len(t, published, 1)
	})

	t.Run("custom name", func(t *testing.T) {
		def, err := h.CreateField(ctx, fields.DefaultFieldName, "node", "post", fields.Options{
			FieldName:     "og_club_ref",
			TargetBundles: []string{"club"},
			Cardinality:   intPtr(1),
		})
		require.NoError(t, err)
		assert.Equal(t, "og_club_ref", def.Name)
		assert.Equal(t, 1, def.Cardinality)
	})

	t.Run("unknown plugin", func(t *testing.T) {
		_, err := h.CreateField(ctx, "og_missing", "node", "post", fields.Options{})
		assert.ErrorIs(t, err, fields.ErrUnknownFieldPlugin)
	})

	t.Run("plugin restricted to users", func(t *testing.T) {
		_, err := h.CreateField(ctx, "og_user_group_ref", "node", "post", fields.Options{})
		assert.Error(t, err)

		def, err := h.CreateField(ctx, "og_user_group_ref", entity.UserEntityType, entity.UserEntityType, fields.Options{})
		require.NoError(t, err)
		assert.Equal(t, fields.TypeMembershipReference, def.Type)
	})
}

func helperWithFields(t *testing.T) *Helper {
	t.Helper()
	ctx := context.Background()
	registry := fields.NewRegistry(nil)
	for _, def := range []fields.Definition{
		{Name: "og_club_ref", EntityType: "node", Bundle: "post", Type: fields.TypeStandardReference, Cardinality: 1, TargetType: "node", TargetBundles: []string{"club"}},
		{Name: "og_group_ref", EntityType: "node", Bundle: "post", Type: fields.TypeStandardReference, Cardinality: fields.CardinalityUnlimited, TargetType: "node"},
		{Name: "og_term_ref", EntityType: "node", Bundle: "post", Type: fields.TypeStandardReference, Cardinality: 2, TargetType: "taxonomy_term"},
		{Name: "body", EntityType: "node", Bundle: "post", Type: "text"},
	} {
		_, err := registry.Add(ctx, def)
		require.NoError(t, err)
	}
	return NewHelper(registry, nil)
}

func TestHelper_CheckFieldCardinality(t *testing.T) {
	h := helperWithFields(t)
	post := entity.NewContent("node", "post", "Hello", 5)

	ok, err := h.CheckFieldCardinality(post, "og_club_ref")
	require.NoError(t, err)
	assert.True(t, ok)

	post.AddReference("og_club_ref", entity.Ref{Type: "node", ID: 1})
	ok, err = h.CheckFieldCardinality(post, "og_club_ref")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = h.CheckFieldCardinality(post, "og_group_ref")
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = h.CheckFieldCardinality(post, "missing")
	assert.ErrorIs(t, err, ErrFieldNotFound)

	_, err = h.CheckFieldCardinality(post, "body")
	assert.ErrorIs(t, err, ErrNotAudienceField)
}

func TestHelper_AddGroup(t *testing.T) {
	h := helperWithFields(t)
	post := entity.NewContent("node", "post", "Hello", 5)
	club := &entity.Content{Type: "node", BundleName: "club", EntityID: 1}
	other := &entity.Content{Type: "node", BundleName: "club", EntityID: 2}
	team := &entity.Content{Type: "node", BundleName: "team", EntityID: 3}

	require.NoError(t, h.AddGroup(post, "og_club_ref", club))
	assert.ErrorIs(t, h.AddGroup(post, "og_club_ref", other), ErrCardinalityReached)

	post2 := entity.NewContent("node", "post", "Other", 5)
	assert.ErrorIs(t, h.AddGroup(post2, "og_club_ref", team), ErrNotAudienceField)
	assert.Empty(t, post2.FieldValues("og_club_ref"))
}

func TestHelper_GetMatchingField(t *testing.T) {
	h := helperWithFields(t)
	post := entity.NewContent("node", "post", "Hello", 5)

	name, err := h.GetMatchingField(post, "node", "club")
	require.NoError(t, err)
	assert.Equal(t, "og_club_ref", name)

	post.AddReference("og_club_ref", entity.Ref{Type: "node", ID: 1})
	name, err = h.GetMatchingField(post, "node", "club")
	require.NoError(t, err)
	assert.Equal(t, "og_group_ref", name)

	name, err = h.GetMatchingField(post, "node", "team")
	require.NoError(t, err)
	assert.Equal(t, "og_group_ref", name)

	name, err = h.GetMatchingField(post, "commerce_store", "default")
	require.NoError(t, err)
	assert.Empty(t, name)
}

func TestHelper_GetAllGroupAudienceFields(t *testing.T) {
	h := helperWithFields(t)

	names := func(defs []fields.Definition) []string {
		var out []string
		for _, d := range defs {
			out = append(out, d.Name)
		}
		return out
	}

	assert.Equal(t, []string{"og_club_ref", "og_group_ref", "og_term_ref"}, names(h.GetAllGroupAudienceFields("node", "post", "", "")))
	assert.Equal(t, []string{"og_club_ref", "og_group_ref"}, names(h.GetAllGroupAudienceFields("node", "post", "node", "")))
	assert.Equal(t, []string{"og_group_ref"}, names(h.GetAllGroupAudienceFields("node", "post", "node", "team")))
	assert.Empty(t, h.GetAllGroupAudienceFields("node", "page", "", ""))
}

func TestStorageConfigFor(t *testing.T) {
	standard := StorageConfigFor(fields.Definition{Name: "og_group_ref", EntityType: "node", Type: fields.TypeStandardReference, Cardinality: -1, TargetType: "node"})
	assert.False(t, standard.HasCustomStorage())

	def := fields.Definition{Name: "og_user_group_ref", EntityType: "user", Type: fields.TypeMembershipReference, Cardinality: 3, TargetType: "node"}
	membershipCfg := StorageConfigFor(def)
	assert.True(t, membershipCfg.HasCustomStorage())
	assert.Equal(t, "og_user_group_ref", membershipCfg.Name())
	assert.Equal(t, "user", membershipCfg.EntityType())
	assert.Equal(t, 3, membershipCfg.Cardinality())
	assert.True(t, membershipCfg.IsMultiple())
	assert.Equal(t, "node", membershipCfg.Setting("target_type"))
	assert.Equal(t, def, membershipCfg.Definition())
}
