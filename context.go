package authcore

import "context"

type contextKey int

const (
	clientIPKey contextKey = iota
	userAgentKey
)

// WithClientIP attaches the caller's address to ctx. The engine keys the
// per-IP and per-route rate windows on it and records it in sessions and
// login history. Without it those two scopes are skipped.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPKey, ip)
}

// WithUserAgent attaches the caller's user agent to ctx.
func WithUserAgent(ctx context.Context, userAgent string) context.Context {
	return context.WithValue(ctx, userAgentKey, userAgent)
}

func clientIPFromContext(ctx context.Context) string {
	return stringFromContext(ctx, clientIPKey)
}

func userAgentFromContext(ctx context.Context) string {
	return stringFromContext(ctx, userAgentKey)
}

func stringFromContext(ctx context.Context, key contextKey) string {
	if ctx == nil {
		return ""
	}
	v, _ := ctx.Value(key).(string)
	return v
}
