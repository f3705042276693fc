package og

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/platinummonkey/og/pkg/access"
	"github.com/platinummonkey/og/pkg/entity"
	"github.com/platinummonkey/og/pkg/httputil"
	"github.com/platinummonkey/og/pkg/membership"
	"github.com/platinummonkey/og/pkg/roles"
	"github.com/sirupsen/logrus"
)

// Group permissions checked by the HTTP surface
const (
	PermissionManageMembers            = "manage members"
	PermissionSubscribe                = "subscribe"
	PermissionSubscribeWithoutApproval = "subscribe without approval"
	PermissionUnsubscribe              = "unsubscribe"
)

var validate = validator.New()

// Handlers serves the group access API
type Handlers struct {
	service *Service
	logger  logrus.FieldLogger
}

// NewHandlers creates the API handlers
func NewHandlers(service *Service) *Handlers {
	return &Handlers{service: service, logger: service.logger}
}

// RegisterRoutes mounts the API on r. Every route runs in its own Scope.
func (h *Handlers) RegisterRoutes(r *mux.Router) {
	api := r.NewRoute().Subrouter()
	api.Use(PrincipalMiddleware(h.logger), h.service.ScopeMiddleware)

	manage := access.RequirePermission(scopeEngine, h.group, PermissionManageMembers)
	unsubscribe := access.RequirePermission(scopeEngine, h.group, PermissionUnsubscribe)

	api.HandleFunc("/groups/{type}/{gid:[0-9]+}/access", h.checkAccess).Methods(http.MethodGet)
	api.HandleFunc("/groups/{type}/{gid:[0-9]+}/admin", h.adminOverview).Methods(http.MethodGet)
	api.HandleFunc("/groups/{type}/{gid:[0-9]+}/subscribe", h.subscribe).Methods(http.MethodPost)
	api.Handle("/groups/{type}/{gid:[0-9]+}/subscribe", unsubscribe(http.HandlerFunc(h.unsubscribe))).Methods(http.MethodDelete)
	api.Handle("/groups/{type}/{gid:[0-9]+}/members", manage(http.HandlerFunc(h.addMember))).Methods(http.MethodPost)
	api.Handle("/groups/{type}/{gid:[0-9]+}/members/{uid:[0-9]+}", manage(http.HandlerFunc(h.removeMember))).Methods(http.MethodDelete)
	api.Handle("/groups/{type}/{gid:[0-9]+}/members/{uid:[0-9]+}/roles/{rid}", manage(http.HandlerFunc(h.grantRole))).Methods(http.MethodPut)
	api.Handle("/groups/{type}/{gid:[0-9]+}/members/{uid:[0-9]+}/roles/{rid}", manage(http.HandlerFunc(h.revokeRole))).Methods(http.MethodDelete)
	api.HandleFunc("/entities/{type}/{id:[0-9]+}/groups", h.entityGroups).Methods(http.MethodGet)
	api.HandleFunc("/roles/{type}/{bundle}/{name}", h.getRole).Methods(http.MethodGet)
	api.HandleFunc("/cache/invalidate", h.invalidateCache).Methods(http.MethodPost)
}

func scopeEngine(r *http.Request) *access.Engine {
	return ScopeFrom(r.Context()).Engine
}

// group loads the group named by the route. Missing entities and
// non-group entities both yield nil.
func (h *Handlers) group(r *http.Request) (entity.Entity, error) {
	entityType, err := httputil.ParsePathString(r, "type")
	if err != nil {
		return nil, nil
	}
	gid, err := httputil.ParsePathInt64(r, "gid")
	if err != nil {
		return nil, nil
	}
	group, err := ScopeFrom(r.Context()).LoadGroup(r.Context(), entityType, gid)
	if errors.Is(err, ErrNotGroup) {
		return nil, nil
	}
	if err != nil || group == nil {
		return nil, err
	}
	return group, nil
}

// requireGroup writes the error response and returns nil when the route's
// group cannot be served
func (h *Handlers) requireGroup(w http.ResponseWriter, r *http.Request) entity.Entity {
	group, err := h.group(r)
	if err != nil {
		h.writeError(w, r, err)
		return nil
	}
	if group == nil {
		httputil.WriteNotFoundError(w, "group not found")
		return nil
	}
	return group
}

func (h *Handlers) checkAccess(w http.ResponseWriter, r *http.Request) {
	group := h.requireGroup(w, r)
	if group == nil {
		return
	}
	permission := r.URL.Query().Get("permission")
	if !httputil.RequireNonEmpty(w, permission, "permission") {
		return
	}
	skipAlter, err := httputil.ParseQueryBool(r, "skip_alter", false)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	decision, err := ScopeFrom(r.Context()).Engine.UserAccess(r.Context(), group, permission, nil, skipAlter)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	_ = httputil.WriteSuccess(w, decision)
}

type adminOverviewResponse struct {
	Items   []AdminLink `json:"items"`
	Message string      `json:"message,omitempty"`
}

func (h *Handlers) adminOverview(w http.ResponseWriter, r *http.Request) {
	group := h.requireGroup(w, r)
	if group == nil {
		return
	}
	links, err := ScopeFrom(r.Context()).AdminRoutes().Overview(r.Context(), group, nil)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	resp := adminOverviewResponse{Items: links}
	if len(links) == 0 {
		resp.Items = []AdminLink{}
		resp.Message = NoAdminItemsMessage
	}
	_ = httputil.WriteSuccess(w, resp)
}

// subscribe lets the current user join a group. Holders of "subscribe
// without approval" become active members, holders of "subscribe" pending
// ones.
func (h *Handlers) subscribe(w http.ResponseWriter, r *http.Request) {
	group := h.requireGroup(w, r)
	if group == nil {
		return
	}
	sc := ScopeFrom(r.Context())
	user := entity.ContextPrincipal{}.CurrentUser(r.Context())
	if !user.IsAuthenticated() {
		httputil.WriteForbidden(w, "anonymous users cannot subscribe")
		return
	}

	state := membership.StatePending
	decision, err := sc.Engine.UserAccess(r.Context(), group, PermissionSubscribeWithoutApproval, user, false)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if decision.Allowed {
		state = membership.StateActive
	} else {
		decision, err = sc.Engine.UserAccess(r.Context(), group, PermissionSubscribe, user, false)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		if !decision.Allowed {
			httputil.WriteForbidden(w, "insufficient group permissions")
			return
		}
	}

	m, err := sc.Subscribe(r.Context(), group, user, state, "")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	_ = httputil.WriteCreated(w, m)
}

func (h *Handlers) unsubscribe(w http.ResponseWriter, r *http.Request) {
	group := h.requireGroup(w, r)
	if group == nil {
		return
	}
	user := entity.ContextPrincipal{}.CurrentUser(r.Context())
	if err := ScopeFrom(r.Context()).Unsubscribe(r.Context(), group, user.ID()); err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

type addMemberRequest struct {
	UID   int64            `json:"uid" validate:"gt=0"`
	State membership.State `json:"state" validate:"omitempty,oneof=active pending blocked"`
	Type  string           `json:"type" validate:"max=64"`
}

func (h *Handlers) addMember(w http.ResponseWriter, r *http.Request) {
	group := h.requireGroup(w, r)
	if group == nil {
		return
	}
	var req addMemberRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if err := validate.Struct(req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	m, err := ScopeFrom(r.Context()).Subscribe(r.Context(), group, entity.NewUser(req.UID, ""), req.State, req.Type)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	_ = httputil.WriteCreated(w, m)
}

func (h *Handlers) removeMember(w http.ResponseWriter, r *http.Request) {
	group := h.requireGroup(w, r)
	if group == nil {
		return
	}
	uid, ok := httputil.ParsePathInt64OrError(w, r, "uid")
	if !ok {
		return
	}
	if err := ScopeFrom(r.Context()).Unsubscribe(r.Context(), group, uid); err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

func (h *Handlers) grantRole(w http.ResponseWriter, r *http.Request) {
	h.changeRole(w, r, (*Scope).GrantRole)
}

func (h *Handlers) revokeRole(w http.ResponseWriter, r *http.Request) {
	h.changeRole(w, r, (*Scope).RevokeRole)
}

func (h *Handlers) changeRole(w http.ResponseWriter, r *http.Request, change func(*Scope, context.Context, entity.Entity, int64, string) error) {
	group := h.requireGroup(w, r)
	if group == nil {
		return
	}
	uid, ok := httputil.ParsePathInt64OrError(w, r, "uid")
	if !ok {
		return
	}
	rid, ok := httputil.ParsePathStringOrError(w, r, "rid")
	if !ok {
		return
	}
	if err := change(ScopeFrom(r.Context()), r.Context(), group, uid, rid); err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

func (h *Handlers) entityGroups(w http.ResponseWriter, r *http.Request) {
	entityType, ok := httputil.ParsePathStringOrError(w, r, "type")
	if !ok {
		return
	}
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	user := entity.ContextPrincipal{}.CurrentUser(r.Context())
	ownAccount := entityType == entity.UserEntityType && user.IsAuthenticated() && user.ID() == id
	if !ownAccount && !h.authorizeAdmin(w, r) {
		return
	}

	var states []membership.State
	for _, s := range httputil.ParseQueryList(r, "states") {
		states = append(states, membership.State(s))
	}

	groups, err := ScopeFrom(r.Context()).Lookup.GetEntityGroups(r.Context(), entityType, id, states, r.URL.Query().Get("field"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	_ = httputil.WriteSuccess(w, groups)
}

func (h *Handlers) getRole(w http.ResponseWriter, r *http.Request) {
	if !h.authorizeAdmin(w, r) {
		return
	}
	vars := mux.Vars(r)
	role, err := ScopeFrom(r.Context()).GetRole(r.Context(), vars["type"], vars["bundle"], vars["name"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if role == nil {
		httputil.WriteNotFoundError(w, "role not found")
		return
	}
	_ = httputil.WriteSuccess(w, role)
}

type invalidateRequest struct {
	GroupIDs []int64 `json:"group_ids"`
}

func (h *Handlers) invalidateCache(w http.ResponseWriter, r *http.Request) {
	if !h.authorizeAdmin(w, r) {
		return
	}
	var req invalidateRequest
	if r.ContentLength > 0 && !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	ScopeFrom(r.Context()).InvalidateCache(r.Context(), req.GroupIDs)
	httputil.WriteNoContent(w)
}

// authorizeAdmin writes 403 unless the principal holds the global
// administer group permission
func (h *Handlers) authorizeAdmin(w http.ResponseWriter, r *http.Request) bool {
	user := entity.ContextPrincipal{}.CurrentUser(r.Context())
	if !user.HasPermission(access.AdministerGroup) {
		httputil.WriteForbidden(w, "insufficient permissions")
		return false
	}
	return true
}

func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrNotGroup), errors.Is(err, ErrNotMember), errors.Is(err, ErrRoleNotFound):
		httputil.WriteNotFoundError(w, err.Error())
	case errors.Is(err, membership.ErrDuplicateMembership):
		httputil.WriteConflict(w, err.Error())
	case errors.Is(err, membership.ErrInvalidMembership), errors.Is(err, roles.ErrInvalidRole):
		httputil.WriteValidationError(w, err)
	default:
		httputil.LoggerFrom(r.Context(), h.logger).WithError(err).Error("Request failed")
		httputil.WriteInternalError(w, errors.New("internal server error"))
	}
}
