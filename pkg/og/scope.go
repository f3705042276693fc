package og

import (
	"context"
	"net/http"

	"github.com/platinummonkey/og/pkg/access"
	"github.com/platinummonkey/og/pkg/audience"
	"github.com/platinummonkey/og/pkg/audit"
	"github.com/platinummonkey/og/pkg/contextkeys"
	"github.com/platinummonkey/og/pkg/entity"
	"github.com/platinummonkey/og/pkg/events"
	"github.com/platinummonkey/og/pkg/fields"
	"github.com/platinummonkey/og/pkg/groups"
	"github.com/platinummonkey/og/pkg/membership"
	"github.com/platinummonkey/og/pkg/roles"
)

// Scope holds every cache that must not outlive a request: the membership
// manager, the group registry, the entity group cache and the engine's
// resolution cache. Events published on its Bus are forwarded to the
// Service listeners.
type Scope struct {
	Bus         *events.Bus
	Entities    entity.Storage
	Roles       *roles.Store
	Memberships *membership.Manager
	Groups      *groups.Manager
	Audience    *audience.Helper
	Lookup      *audience.Lookup
	Engine      *access.Engine

	service     *Service
	memberStore *membership.Store
}

// NewScope wires a fresh set of request scoped collaborators
func (s *Service) NewScope() *Scope {
	bus := events.NewBus()
	bus.Subscribe(s.bus.Publish)

	roleStore := s.roles.WithBus(bus)
	memberStore := membership.NewStore(s.db, s.roleLRU, s.logger).WithBus(bus)
	memberships := membership.NewManager(memberStore, bus)

	groupManager := groups.NewManager(s.settings, s.fields, bus)
	groupManager.AddListener(roleStore)

	helper := audience.NewHelper(s.fields, bus)
	lookup := audience.NewLookup(helper, s.entities, memberships, audience.NewEntityGroupCache(bus))

	opts := access.Options{
		Memberships: memberships,
		Roles:       s.roleLRU,
		Groups:      groupManager,
		Resolver:    lookup,
		Settings:    s.settings,
		Bus:         bus,
		Metrics:     s.metrics,
		Logger:      s.logger,
	}
	if s.shared != nil {
		opts.Shared = s.shared
	}
	engine := access.NewEngine(opts)
	engine.AddInterceptor(audit.DenialInterceptor(s.audit))

	return &Scope{
		Bus:         bus,
		Entities:    s.entities,
		Roles:       roleStore,
		Memberships: memberships,
		Groups:      groupManager,
		Audience:    helper,
		Lookup:      lookup,
		Engine:      engine,
		service:     s,
		memberStore: memberStore,
	}
}

// MembershipStore returns the SQL membership store bound to the scope's bus
func (sc *Scope) MembershipStore() *membership.Store {
	return sc.memberStore
}

// SelectionHandler returns the group selection handler of an audience field
func (sc *Scope) SelectionHandler(def fields.Definition, opts audience.SelectionOptions) (*audience.SelectionHandler, error) {
	return audience.GetSelectionHandler(def, opts, audience.SelectionHelper{
		Groups:      sc.Groups,
		Memberships: sc.Memberships,
		Principal:   entity.ContextPrincipal{},
	})
}

// ScopeMiddleware creates a Scope per request and stores it in the context
func (s *Service) ScopeMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := contextkeys.WithScope(r.Context(), s.NewScope())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ScopeFrom returns the request's Scope, or nil outside ScopeMiddleware
func ScopeFrom(ctx context.Context) *Scope {
	sc, _ := ctx.Value(contextkeys.ScopeKey).(*Scope)
	return sc
}
