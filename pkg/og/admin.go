package og

import (
	"context"
	"strconv"
	"strings"

	"github.com/platinummonkey/og/pkg/access"
	"github.com/platinummonkey/og/pkg/config"
	"github.com/platinummonkey/og/pkg/entity"
)

// NoAdminItemsMessage is shown when a user may use none of a group's
// administrative routes
const NoAdminItemsMessage = "You do not have any administrative items."

// RouteSource lists the configured administrative routes
type RouteSource interface {
	AdminRoutes() []config.AdminRoute
}

// AdminLink is an administrative route resolved for one group
type AdminLink struct {
	Name        string `json:"name"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Href        string `json:"href"`
}

// AdminRoutes lists the administrative routes a user may use on a group
type AdminRoutes struct {
	routes RouteSource
	engine *access.Engine
}

// NewAdminRoutes creates an overview over routes checked with engine
func NewAdminRoutes(routes RouteSource, engine *access.Engine) *AdminRoutes {
	return &AdminRoutes{routes: routes, engine: engine}
}

// Overview returns the routes whose permission user holds in group, in
// configuration order. A nil user means the current user.
func (a *AdminRoutes) Overview(ctx context.Context, group entity.Entity, user entity.Account) ([]AdminLink, error) {
	var links []AdminLink
	for _, route := range a.routes.AdminRoutes() {
		decision, err := a.engine.UserAccess(ctx, group, route.Permission, user, false)
		if err != nil {
			return nil, err
		}
		if !decision.Allowed {
			continue
		}
		links = append(links, AdminLink{
			Name:        route.Name,
			Title:       route.Title,
			Description: route.Description,
			Href:        expandPath(route.Path, group),
		})
	}
	return links, nil
}

func expandPath(path string, group entity.Entity) string {
	return strings.NewReplacer(
		"{entity_type}", group.EntityType(),
		"{id}", strconv.FormatInt(group.ID(), 10),
	).Replace(path)
}

// AdminRoutes returns the overview of the scope's engine
func (sc *Scope) AdminRoutes() *AdminRoutes {
	return NewAdminRoutes(sc.service.settings, sc.Engine)
}
