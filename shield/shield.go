// Package shield provides the HTTP middleware applied to vigil's debug
// endpoint: security headers, per-request trace IDs with a structured
// logger, and HEAD method handling.
package shield

import (
	"context"
	"net/http"
)

type contextKey string

const (
	// TraceIDKey is the context key for the request trace ID.
	TraceIDKey contextKey = "shield_trace_id"

	// LoggerKey is the context key for the per-request structured logger.
	LoggerKey contextKey = "shield_logger"
)

// DefaultDebugStack returns the standard middleware stack for vigil's
// debug server, ordered HeadToGet → SecurityHeaders → TraceID.
func DefaultDebugStack() []func(http.Handler) http.Handler {
	return []func(http.Handler) http.Handler{
		HeadToGet,
		SecurityHeaders(DefaultHeaders()),
		TraceID,
	}
}

// GetTraceID retrieves the trace ID from the request context.
func GetTraceID(ctx context.Context) string {
	v, _ := ctx.Value(TraceIDKey).(string)
	return v
}
