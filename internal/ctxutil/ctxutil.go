// Package ctxutil provides shared context key accessors.
//
// The request id is attached by the server middleware and read by the service
// layer for telemetry records; both import ctxutil instead of each other.
package ctxutil

import "context"

type contextKey string

const keyRequestID contextKey = "request_id"

// WithRequestID returns a new context carrying the request id.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, keyRequestID, requestID)
}

// RequestID extracts the request id from the context, or "" if absent.
func RequestID(ctx context.Context) string {
	if v, ok := ctx.Value(keyRequestID).(string); ok {
		return v
	}
	return ""
}
