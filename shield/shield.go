// Package shield provides the HTTP middleware guarding the control API:
// security headers, body limits, request IDs, bearer-token auth and a
// per-client rate limit for trade endpoints.
//
// Usage:
//
//	r := chi.NewRouter()
//	for _, mw := range shield.APIStack(64 * 1024) {
//	    r.Use(mw)
//	}
//	r.Use(shield.BearerAuth(hash, "/health"))
package shield

import (
	"context"
	"log/slog"
	"net/http"
)

type contextKey string

// LoggerKey is the context key for the per-request structured logger.
const LoggerKey contextKey = "shield_logger"

// GetLogger retrieves the per-request logger from the context.
// Returns slog.Default() if no logger was set.
func GetLogger(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(LoggerKey).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}

// APIStack returns the standard middleware stack for the JSON control API.
// Order: HeadToGet, SecurityHeaders, MaxBody, RequestID.
func APIStack(maxBody int64) []func(http.Handler) http.Handler {
	return []func(http.Handler) http.Handler{
		HeadToGet,
		SecurityHeaders(DefaultHeaders()),
		MaxBody(maxBody),
		RequestID,
	}
}
