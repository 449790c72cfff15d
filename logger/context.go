package logger

import (
	"context"
)

// ContextKey is used for context values
type ContextKey string

const (
	// PoolNameKey is the context key for the pool name
	PoolNameKey ContextKey = "pool"
	// RequestIDKey is the context key for request ID
	RequestIDKey ContextKey = "request_id"
)

// WithPoolName tags the context with the pool the work belongs to
func WithPoolName(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, PoolNameKey, name)
}

// WithRequestID tags the context with a request ID
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, RequestIDKey, id)
}

// ExtractContextValues extracts logging-relevant values from context
func ExtractContextValues(ctx context.Context) []any {
	if ctx == nil {
		return nil
	}

	var args []any

	if pool, ok := ctx.Value(PoolNameKey).(string); ok {
		args = append(args, "pool", pool)
	}

	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		args = append(args, "request_id", requestID)
	}

	return args
}
