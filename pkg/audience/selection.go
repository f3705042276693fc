package audience

import (
	"context"
	"fmt"

	"github.com/platinummonkey/og/pkg/entity"
	"github.com/platinummonkey/og/pkg/fields"
	"github.com/platinummonkey/og/pkg/membership"
)

// DefaultHandler is the selection handler of audience fields
const DefaultHandler = "og:default"

// FieldModeAdmin lists the groups the user is not a member of
const FieldModeAdmin = "admin"

// BundleLister lists the group bundles of an entity type
type BundleLister interface {
	GetAllGroupBundles(entityType string) []string
}

// UserGroupSource returns the ids of a user's groups keyed by entity type
type UserGroupSource interface {
	GetUserGroupIDs(ctx context.Context, uid int64, states []membership.State) (map[string][]int64, error)
}

// SelectionHelper holds the collaborators shared by group selection
// handlers
type SelectionHelper struct {
	Groups      BundleLister
	Memberships UserGroupSource
	Principal   entity.PrincipalProvider
}

// UserGroupIDs returns the current user's active groups of targetType
func (h SelectionHelper) UserGroupIDs(ctx context.Context, targetType string) ([]int64, error) {
	principal := h.Principal
	if principal == nil {
		principal = entity.ContextPrincipal{}
	}
	user := principal.CurrentUser(ctx)
	if !user.IsAuthenticated() {
		return nil, nil
	}
	ids, err := h.Memberships.GetUserGroupIDs(ctx, user.ID(), nil)
	if err != nil {
		return nil, err
	}
	return ids[targetType], nil
}

// SelectionOptions override the field's handler configuration
type SelectionOptions struct {
	Handler         string
	HandlerSettings map[string]string
}

// SelectionHandler lists the groups selectable in an audience field
type SelectionHandler struct {
	Field      fields.Definition
	TargetType string
	Handler    string
	Settings   map[string]string
	helper     SelectionHelper
}

// GetSelectionHandler returns the selection handler of an audience field.
// Option settings take precedence over the field's handler settings.
func GetSelectionHandler(def fields.Definition, opts SelectionOptions, helper SelectionHelper) (*SelectionHandler, error) {
	if !IsGroupAudienceField(def) {
		return nil, fmt.Errorf("%w: %s", ErrNotAudienceField, def.Name)
	}

	settings := make(map[string]string, len(def.HandlerSettings)+len(opts.HandlerSettings))
	for k, v := range def.HandlerSettings {
		settings[k] = v
	}
	for k, v := range opts.HandlerSettings {
		settings[k] = v
	}

	handler := def.Handler
	if opts.Handler != "" {
		handler = opts.Handler
	}
	if handler == "" {
		handler = DefaultHandler
	}

	return &SelectionHandler{
		Field:      def,
		TargetType: def.TargetType,
		Handler:    handler,
		Settings:   settings,
		helper:     helper,
	}, nil
}

// Bundles returns the group bundles the field may select
func (s *SelectionHandler) Bundles() []string {
	var out []string
	for _, b := range s.helper.Groups.GetAllGroupBundles(s.TargetType) {
		if s.Field.AllowsBundle(b) {
			out = append(out, b)
		}
	}
	return out
}

// BuildQuery returns the query for selectable groups. In admin mode the
// user's own groups are excluded; otherwise only they are selectable. A
// user without groups may select any group of the target bundles.
func (s *SelectionHandler) BuildQuery(ctx context.Context, store entity.Storage) (entity.Query, error) {
	q := store.Query(s.TargetType).Condition("bundle", s.Bundles(), entity.OpIn)

	ids, err := s.helper.UserGroupIDs(ctx, s.TargetType)
	if err != nil {
		return nil, err
	}

	// users without groups are only restricted to group bundles
	if len(ids) == 0 {
		return q, nil
	}
	if s.Settings["field_mode"] == FieldModeAdmin {
		return q.Condition("id", ids, entity.OpNotIn), nil
	}
	return q.Condition("id", ids, entity.OpIn), nil
}

// ReferenceableIDs runs BuildQuery
func (s *SelectionHandler) ReferenceableIDs(ctx context.Context, store entity.Storage) ([]int64, error) {
	q, err := s.BuildQuery(ctx, store)
	if err != nil {
		return nil, err
	}
	return q.Execute(ctx)
}
