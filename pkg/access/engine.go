package access

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/platinummonkey/og/pkg/entity"
	"github.com/platinummonkey/og/pkg/events"
	"github.com/platinummonkey/og/pkg/membership"
	"github.com/platinummonkey/og/pkg/observability"
	"github.com/platinummonkey/og/pkg/roles"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var engineTracer = otel.Tracer("og/access/engine")

// MembershipSource finds a user's membership in a group
type MembershipSource interface {
	GetMembership(ctx context.Context, group entity.Entity, uid int64, states []membership.State) (*membership.Membership, error)
}

// GroupChecker reports whether an entity bundle is a group
type GroupChecker interface {
	IsGroup(entityType, bundle string) bool
}

// GroupResolver returns the groups an entity belongs to through its
// audience fields
type GroupResolver interface {
	ReferencedGroups(ctx context.Context, e entity.Entity) ([]entity.Entity, error)
}

// Settings exposes the configuration flags the engine reads
type Settings interface {
	FullAccess() bool
}

// SharedCache is a cross-request snapshot store. GetOrLoad reports whether
// the snapshot was found without calling load.
type SharedCache interface {
	GetOrLoad(ctx context.Context, key SnapshotKey, load func(context.Context) (Snapshot, error)) (Snapshot, bool, error)
	Invalidate(ctx context.Context) error
}

// SnapshotAlterer rewrites a resolved snapshot before it is cached
type SnapshotAlterer interface {
	AlterSnapshot(ctx context.Context, snapshot *Snapshot, group entity.Entity, user entity.Account)
}

// SnapshotAltererFunc adapts a function to SnapshotAlterer
type SnapshotAltererFunc func(ctx context.Context, snapshot *Snapshot, group entity.Entity, user entity.Account)

func (f SnapshotAltererFunc) AlterSnapshot(ctx context.Context, snapshot *Snapshot, group entity.Entity, user entity.Account) {
	f(ctx, snapshot, group, user)
}

// Interceptor may replace a decision after it has been made
type Interceptor interface {
	Intercept(ctx context.Context, decision Decision, group entity.Entity, permission string, user entity.Account) Decision
}

// InterceptorFunc adapts a function to Interceptor
type InterceptorFunc func(ctx context.Context, decision Decision, group entity.Entity, permission string, user entity.Account) Decision

func (f InterceptorFunc) Intercept(ctx context.Context, decision Decision, group entity.Entity, permission string, user entity.Account) Decision {
	return f(ctx, decision, group, permission, user)
}

// InvalidationListener is called after InvalidateCache
type InvalidationListener func(ctx context.Context, groupIDs []int64)

// Options wires an Engine. Memberships, Roles and Groups are required.
type Options struct {
	Memberships MembershipSource
	Roles       roles.Loader
	Groups      GroupChecker
	Resolver    GroupResolver
	Settings    Settings
	Principal   entity.PrincipalProvider
	Catalog     PermissionCatalog
	Cache       *ResolutionCache
	Shared      SharedCache
	Bus         *events.Bus
	Metrics     *observability.Metrics
	Logger      logrus.FieldLogger
}

// Engine decides whether a user may perform a permission in a group
type Engine struct {
	memberships MembershipSource
	roles       roles.Loader
	groups      GroupChecker
	resolver    GroupResolver
	settings    Settings
	principal   entity.PrincipalProvider
	catalog     PermissionCatalog
	cache       *ResolutionCache
	shared      SharedCache
	bus         *events.Bus
	metrics     *observability.Metrics
	logger      logrus.FieldLogger

	mu           sync.RWMutex
	alterers     []SnapshotAlterer
	interceptors []Interceptor
	listeners    []InvalidationListener
}

// NewEngine creates an engine. When opts.Bus is set the resolution cache is
// cleared on every invalidating event.
func NewEngine(opts Options) *Engine {
	e := &Engine{
		memberships: opts.Memberships,
		roles:       opts.Roles,
		groups:      opts.Groups,
		resolver:    opts.Resolver,
		settings:    opts.Settings,
		principal:   opts.Principal,
		catalog:     opts.Catalog,
		cache:       opts.Cache,
		shared:      opts.Shared,
		bus:         opts.Bus,
		metrics:     opts.Metrics,
		logger:      opts.Logger,
	}
	if e.principal == nil {
		e.principal = entity.ContextPrincipal{}
	}
	if e.catalog == nil {
		e.catalog = DefaultCatalog{}
	}
	if e.cache == nil {
		e.cache = NewResolutionCache()
	}
	if e.logger == nil {
		e.logger = logrus.New()
	}
	if e.bus != nil {
		e.bus.Subscribe(func(_ context.Context, ev events.Event) {
			if !ev.Kind.Invalidates() {
				return
			}
			e.cache.Reset()
			if e.metrics != nil {
				e.metrics.CacheInvalidationsTotal.WithLabelValues(string(ev.Kind)).Inc()
			}
		})
	}
	return e
}

// AddAlterer registers a snapshot alterer
func (e *Engine) AddAlterer(a SnapshotAlterer) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.alterers = append(e.alterers, a)
}

// AddInterceptor registers a decision interceptor. Interceptors run in
// registration order.
func (e *Engine) AddInterceptor(i Interceptor) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.interceptors = append(e.interceptors, i)
}

// OnInvalidate registers a listener for InvalidateCache
func (e *Engine) OnInvalidate(l InvalidationListener) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listeners = append(e.listeners, l)
}

// Cache returns the engine's resolution cache
func (e *Engine) Cache() *ResolutionCache {
	return e.cache
}

// InvalidateCache clears resolved snapshots, publishes CacheInvalidated and
// calls the registered invalidation listeners
func (e *Engine) InvalidateCache(ctx context.Context, groupIDs []int64) {
	e.cache.Reset()
	if e.bus != nil {
		e.bus.Publish(ctx, events.Event{Kind: events.CacheInvalidated, GroupIDs: groupIDs})
	}

	e.mu.RLock()
	listeners := make([]InvalidationListener, len(e.listeners))
	copy(listeners, e.listeners)
	e.mu.RUnlock()

	for _, l := range listeners {
		l(ctx, groupIDs)
	}
}

func (e *Engine) currentUser(ctx context.Context, user entity.Account) entity.Account {
	if user != nil {
		return user
	}
	return e.principal.CurrentUser(ctx)
}

// UserAccess decides whether user holds permission in group. A nil user
// means the current user. skipAlter bypasses snapshot alterers and
// interceptors.
func (e *Engine) UserAccess(ctx context.Context, group entity.Entity, permission string, user entity.Account, skipAlter bool) (Decision, error) {
	ctx, span := engineTracer.Start(ctx, "UserAccess",
		trace.WithAttributes(
			attribute.String("group.type", group.EntityType()),
			attribute.Int64("group.id", group.ID()),
			attribute.String("permission", permission),
			attribute.Bool("skip_alter", skipAlter),
		),
	)
	defer span.End()

	start := time.Now()
	user = e.currentUser(ctx, user)
	span.SetAttributes(attribute.Int64("user.id", user.ID()))

	decision, err := e.decide(ctx, group, permission, user, skipAlter)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to resolve group permissions")
		return Decision{}, fmt.Errorf("failed to resolve %q in %s: %w", permission, GroupTag(group), err)
	}

	if !skipAlter {
		e.mu.RLock()
		interceptors := e.interceptors
		e.mu.RUnlock()
		for _, i := range interceptors {
			decision = i.Intercept(ctx, decision, group, permission, user)
		}
	}

	span.SetAttributes(
		attribute.Bool("allowed", decision.Allowed),
		attribute.String("rule", decision.Reason),
	)
	e.observe("user_access", decision, start)

	e.logger.WithFields(logrus.Fields{
		"group":      GroupTag(group),
		"permission": permission,
		"user_id":    user.ID(),
		"allowed":    decision.Allowed,
		"rule":       decision.Reason,
	}).Debug("Group access decided")

	return decision, nil
}

func (e *Engine) decide(ctx context.Context, group entity.Entity, permission string, user entity.Account, skipAlter bool) (Decision, error) {
	tags := []string{SettingsTag, GroupTag(group)}

	if user.ID() == entity.SuperuserID {
		return Allow(RuleSuperuser).WithContexts(ContextUser).WithTags(tags...), nil
	}

	if user.HasPermission(AdministerGroup) {
		return Allow(RuleAdministerGroup).WithContexts(ContextUserPermissions, ContextRole).WithTags(tags...), nil
	}

	if owned, ok := group.(entity.Owned); ok && user.IsAuthenticated() && owned.OwnerID() == user.ID() && e.fullAccess() {
		return Allow(RuleOwner).WithContexts(ContextUser, ContextUserPermissions, ContextRole).WithTags(tags...), nil
	}

	snapshot, err := e.Snapshot(ctx, group, user, skipAlter)
	if err != nil {
		return Decision{}, err
	}

	var decision Decision
	switch {
	case snapshot.IsAdmin:
		decision = Allow(RuleAdminRole)
	case snapshot.Has(permission) && snapshot.NonMember:
		decision = Allow(RuleNonMember)
	case snapshot.Has(permission):
		decision = Allow(RuleRole)
	default:
		decision = Deny(RuleDenied)
	}
	return decision.WithContexts(ContextUserPermissions, ContextRole).WithTags(tags...), nil
}

func (e *Engine) fullAccess() bool {
	return e.settings != nil && e.settings.FullAccess()
}

// Snapshot returns the permission snapshot of user in group, resolving it
// through the caches. skipAlter returns the pre_alter snapshot.
func (e *Engine) Snapshot(ctx context.Context, group entity.Entity, user entity.Account, skipAlter bool) (Snapshot, error) {
	user = e.currentUser(ctx, user)
	key := SnapshotKey{GroupType: group.EntityType(), GroupID: group.ID(), UID: user.ID(), Pass: PassPreAlter}

	pre := func(ctx context.Context) (Snapshot, error) {
		return e.cached(ctx, key, func(ctx context.Context) (Snapshot, error) {
			return e.resolve(ctx, group, user)
		})
	}
	if skipAlter {
		return pre(ctx)
	}

	postKey := key
	postKey.Pass = PassPostAlter
	return e.cached(ctx, postKey, func(ctx context.Context) (Snapshot, error) {
		base, err := pre(ctx)
		if err != nil {
			return Snapshot{}, err
		}
		altered := base.Clone()

		e.mu.RLock()
		alterers := e.alterers
		e.mu.RUnlock()
		for _, a := range alterers {
			a.AlterSnapshot(ctx, &altered, group, user)
		}
		return altered, nil
	})
}

func (e *Engine) cached(ctx context.Context, key SnapshotKey, load func(context.Context) (Snapshot, error)) (Snapshot, error) {
	if s, ok := e.cache.Get(key); ok {
		e.countCache(key.Pass, "hit")
		return s, nil
	}

	var (
		s      Snapshot
		err    error
		result = "miss"
	)
	if e.shared != nil {
		var hit bool
		s, hit, err = e.shared.GetOrLoad(ctx, key, load)
		if hit {
			result = "shared_hit"
		}
	} else {
		s, err = load(ctx)
	}
	if err != nil {
		return Snapshot{}, err
	}

	e.cache.Set(key, s)
	e.countCache(key.Pass, result)
	return s, nil
}

// resolve builds a pre_alter snapshot from storage. Active members get the
// member role plus their assigned roles. Users without an active
// membership get the non-member role unless they are blocked.
func (e *Engine) resolve(ctx context.Context, group entity.Entity, user entity.Account) (Snapshot, error) {
	snapshot := NewSnapshot()

	if user.IsAuthenticated() {
		active, err := e.memberships.GetMembership(ctx, group, user.ID(), []membership.State{membership.StateActive})
		if err != nil {
			return Snapshot{}, err
		}
		if active != nil {
			rids := []string{roles.RoleID(group.EntityType(), group.Bundle(), roles.Member)}
			for _, rid := range active.Roles {
				if rid != rids[0] {
					rids = append(rids, rid)
				}
			}
			loaded, err := e.roles.LoadMultiple(ctx, rids)
			if err != nil {
				return Snapshot{}, err
			}
			for _, role := range loaded {
				if role.IsAdmin {
					snapshot.IsAdmin = true
				}
				for _, p := range role.Permissions {
					snapshot.Grant(p)
				}
			}
			return snapshot, nil
		}

		blocked, err := e.memberships.GetMembership(ctx, group, user.ID(), []membership.State{membership.StateBlocked})
		if err != nil {
			return Snapshot{}, err
		}
		if blocked != nil {
			return snapshot, nil
		}
	}

	role, err := e.roles.LoadByName(ctx, group.EntityType(), group.Bundle(), roles.NonMember)
	if err != nil {
		return Snapshot{}, err
	}
	snapshot.NonMember = true
	if role != nil {
		for _, p := range role.Permissions {
			snapshot.Grant(p)
		}
	}
	return snapshot, nil
}

// UserAccessEntity allows when user holds permission in the entity itself
// (when it is a group) or in any group the entity belongs to
func (e *Engine) UserAccessEntity(ctx context.Context, permission string, ent entity.Entity, user entity.Account) (Decision, error) {
	ctx, span := engineTracer.Start(ctx, "UserAccessEntity",
		trace.WithAttributes(
			attribute.String("entity.type", ent.EntityType()),
			attribute.Int64("entity.id", ent.ID()),
			attribute.String("permission", permission),
		),
	)
	defer span.End()

	start := time.Now()
	user = e.currentUser(ctx, user)

	result, err := e.eachGroup(ctx, ent, func(group entity.Entity, _ bool) (Decision, error) {
		return e.UserAccess(ctx, group, permission, user, false)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to check entity access")
		return Decision{}, err
	}

	span.SetAttributes(attribute.Bool("allowed", result.Allowed))
	e.observe("user_access_entity", result, start)
	return result, nil
}

// eachGroup runs check against ent when it is a group and then against the
// groups it references, stopping at the first allow
func (e *Engine) eachGroup(ctx context.Context, ent entity.Entity, check func(group entity.Entity, self bool) (Decision, error)) (Decision, error) {
	result := Deny(RuleNoGroups)

	if e.groups != nil && e.groups.IsGroup(ent.EntityType(), ent.Bundle()) {
		d, err := check(ent, true)
		if err != nil {
			return Decision{}, err
		}
		result = result.Or(d)
		if result.Allowed {
			return result, nil
		}
	}

	if e.resolver == nil {
		return result, nil
	}
	groups, err := e.resolver.ReferencedGroups(ctx, ent)
	if err != nil {
		return Decision{}, err
	}
	for _, group := range groups {
		d, err := check(group, false)
		if err != nil {
			return Decision{}, err
		}
		result = result.Or(d)
		if result.Allowed {
			return result, nil
		}
	}
	return result, nil
}

// UserAccessEntityOperation checks an operation on an entity. Group entities
// are checked against their group permissions and content against the
// content permissions of every group it belongs to.
func (e *Engine) UserAccessEntityOperation(ctx context.Context, operation string, ent entity.Entity, user entity.Account) (Decision, error) {
	start := time.Now()
	user = e.currentUser(ctx, user)

	decision, err := e.eachGroup(ctx, ent, func(group entity.Entity, self bool) (Decision, error) {
		if self {
			return e.anyPermission(ctx, group, e.catalog.GroupPermissions(operation, ent), user)
		}
		return e.UserAccessGroupContentEntityOperation(ctx, operation, group, ent, user)
	})
	if err != nil {
		return Decision{}, err
	}
	e.observe("user_access_entity_operation", decision, start)
	return decision, nil
}

// UserAccessGroupContentEntityOperation checks an operation on content in
// the context of a single group
func (e *Engine) UserAccessGroupContentEntityOperation(ctx context.Context, operation string, group, content entity.Entity, user entity.Account) (Decision, error) {
	user = e.currentUser(ctx, user)
	return e.anyPermission(ctx, group, e.catalog.ContentPermissions(operation, content, user), user)
}

func (e *Engine) anyPermission(ctx context.Context, group entity.Entity, permissions []string, user entity.Account) (Decision, error) {
	result := Deny(RuleDenied)
	for _, p := range permissions {
		d, err := e.UserAccess(ctx, group, p, user, false)
		if err != nil {
			return Decision{}, err
		}
		result = result.Or(d)
		if result.Allowed {
			break
		}
	}
	return result, nil
}

func (e *Engine) observe(operation string, d Decision, start time.Time) {
	if e.metrics == nil {
		return
	}
	result := "denied"
	if d.Allowed {
		result = "allowed"
	}
	e.metrics.AccessChecksTotal.WithLabelValues(result, d.Reason).Inc()
	e.metrics.AccessCheckDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

func (e *Engine) countCache(pass, result string) {
	if e.metrics != nil {
		e.metrics.ResolutionCacheTotal.WithLabelValues(pass, result).Inc()
	}
}
