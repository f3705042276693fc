package access

import (
	"net/http"

	"github.com/platinummonkey/og/pkg/entity"
	"github.com/platinummonkey/og/pkg/httputil"
)

// EngineFunc returns the engine serving a request
type EngineFunc func(r *http.Request) *Engine

// GroupFunc returns the group a request targets. A nil group means the
// route does not match a group.
type GroupFunc func(r *http.Request) (entity.Entity, error)

// RequirePermission returns middleware that lets a request through only when
// the current user holds permission in the request's group
func RequirePermission(engine EngineFunc, group GroupFunc, permission string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			g, err := group(r)
			if err != nil {
				httputil.WriteInternalError(w, err)
				return
			}
			if g == nil {
				httputil.WriteNotFoundError(w, "group not found")
				return
			}

			decision, err := engine(r).UserAccess(r.Context(), g, permission, nil, false)
			if err != nil {
				httputil.WriteErrorMessage(w, http.StatusInternalServerError, "permission check failed")
				return
			}
			if !decision.Allowed {
				httputil.WriteErrorMessage(w, http.StatusForbidden, "insufficient group permissions")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
