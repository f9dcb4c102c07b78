package auth

import "context"

type contextKey string

const authContextKey contextKey = "auth"

// WithContext attaches a Context to ctx.
func WithContext(ctx context.Context, auth *Context) context.Context {
	return context.WithValue(ctx, authContextKey, auth)
}

// FromContext retrieves the Context attached by Middleware, if any.
func FromContext(ctx context.Context) *Context {
	auth, ok := ctx.Value(authContextKey).(*Context)
	if !ok {
		return nil
	}
	return auth
}
