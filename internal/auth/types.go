// Package auth implements the shared-secret X-API-Key check spec.md's
// external interface requires, plus a per-key rate limiter. There is no
// scope or token store here — every request either carries the
// deployment's configured secret, arrives from a loopback address when
// loopback bypass is enabled, or is rejected.
package auth

// Context holds what the middleware learned about a request's
// authentication: whether it presented the configured key, or was allowed
// in via loopback bypass.
type Context struct {
	Authenticated bool
	ViaLoopback   bool
	// RateLimitKey is what the rate limiter should key on — the API key
	// when one was presented, the remote address otherwise.
	RateLimitKey string
}
