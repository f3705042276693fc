package og

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/platinummonkey/og/pkg/contextkeys"
	"github.com/platinummonkey/og/pkg/entity"
	"github.com/platinummonkey/og/pkg/httputil"
	"github.com/sirupsen/logrus"
)

// Headers set by the authenticating proxy in front of ogd
const (
	UserIDHeader      = "X-OG-User-ID"
	UserNameHeader    = "X-OG-User-Name"
	PermissionsHeader = "X-OG-Permissions"
)

// PrincipalMiddleware stores the account described by the identity headers
// in the context. Requests without a user id run as anonymous.
func PrincipalMiddleware(logger logrus.FieldLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			account := entity.Anonymous()
			if raw := r.Header.Get(UserIDHeader); raw != "" {
				uid, err := strconv.ParseInt(raw, 10, 64)
				if err != nil || uid < 0 {
					httputil.WriteBadRequest(w, "invalid "+UserIDHeader)
					return
				}
				account = entity.NewUser(uid, r.Header.Get(UserNameHeader), splitPermissions(r.Header.Get(PermissionsHeader))...)
			}

			ctx := contextkeys.WithPrincipal(r.Context(), entity.Account(account))
			scoped := httputil.LoggerFrom(ctx, logger).WithField("user_id", account.ID())
			ctx = contextkeys.WithLogger(ctx, scoped)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func splitPermissions(raw string) []string {
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
