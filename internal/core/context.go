package core

import "context"

type contextKey string

const ctxKeyRequester contextKey = "requester"

// ContextWithRequester records who started an operation (client IP for
// HTTP requests, "cli" for the import command).
func ContextWithRequester(ctx context.Context, who string) context.Context {
	return context.WithValue(ctx, ctxKeyRequester, who)
}

// RequesterFromContext returns the value stored by ContextWithRequester.
func RequesterFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKeyRequester).(string); ok {
		return v
	}
	return ""
}
