// Package httputil provides HTTP utilities for standardized request/response handling.
//
// # Responses
//
//	httputil.WriteJSON(w, http.StatusOK, data)
//	httputil.WriteForbidden(w, "insufficient group permissions")
//	httputil.WriteValidationError(w, err) // validator.ValidationErrors become details
//
// # Request Parsing
//
//	var req GrantRoleRequest
//	if !httputil.ParseJSONOrError(w, r, &req) {
//		return // Error response already written
//	}
//	gid, ok := httputil.ParsePathInt64OrError(w, r, "gid")
//	states := httputil.ParseQueryList(r, "states")
//
// # Middleware
//
//	httputil.Chain(
//		httputil.RequestIDMiddleware(logger),
//		httputil.LoggingMiddleware(logger),
//		httputil.RecoveryMiddleware(logger),
//		httputil.MaxBytesMiddleware(1<<20),
//	)
//
// RequestIDMiddleware must run first so the request scoped logger it stores
// is picked up by LoggerFrom in the middleware and handlers after it.
package httputil
