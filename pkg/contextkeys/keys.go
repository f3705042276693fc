// Package contextkeys provides centralized context key definitions
//
// IMPORTANT: All context keys used across the application must be defined here.
// This prevents typos, documents dependencies, and makes key usage discoverable.
//
// USAGE PATTERN:
//
//	import "github.com/platinummonkey/og/pkg/contextkeys"
//	ctx = contextkeys.WithPrincipal(ctx, account)
//	account := ctx.Value(contextkeys.PrincipalKey).(entity.Account)
package contextkeys

import "context"

// Key is the type for context keys to prevent collisions
type Key string

const (
	// PrincipalKey contains the authenticated account
	// Set by: og.Handlers principal middleware, cmd/og --as flag
	// Required by: entity.ContextPrincipal (current user provider)
	// Type: entity.Account
	PrincipalKey Key = "principal"

	// ScopeKey contains the per-request og scope
	// Set by: og.Service.ScopeMiddleware
	// Used by: HTTP handlers that run access checks
	// Type: *og.Scope
	ScopeKey Key = "og_scope"

	// RequestIDKey contains request ID string (UUID)
	// Set by: httputil.RequestIDMiddleware
	// Used by: Logger, audit trail
	// Type: string
	RequestIDKey Key = "request_id"

	// LoggerKey contains logrus.FieldLogger
	// Set by: httputil.RequestIDMiddleware
	// Used by: Handlers that need structured logging with request context
	// Type: logrus.FieldLogger
	LoggerKey Key = "logger"
)

// WithPrincipal adds the current account to the context
func WithPrincipal(ctx context.Context, account interface{}) context.Context {
	return context.WithValue(ctx, PrincipalKey, account)
}

// WithScope adds the request scope to the context
func WithScope(ctx context.Context, scope interface{}) context.Context {
	return context.WithValue(ctx, ScopeKey, scope)
}

// WithRequestID adds request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// WithLogger adds logger to the context
func WithLogger(ctx context.Context, logger interface{}) context.Context {
	return context.WithValue(ctx, LoggerKey, logger)
}

// GetRequestID retrieves request ID from context
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}
