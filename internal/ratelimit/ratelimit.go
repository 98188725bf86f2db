// Package ratelimit provides a pluggable per-key rate limiting interface.
//
// The default implementation is an in-memory fixed window (WindowLimiter),
// used to keep expensive operations like solution generation from being
// re-triggered for the same ticket in quick succession. Multi-instance
// deployments can substitute a shared implementation — the Limiter interface
// is the contract.
package ratelimit

import "context"

// Limiter decides whether a request identified by key should be allowed.
// Implementations must be safe for concurrent use.
type Limiter interface {
	// Allow returns true if the request should proceed, and the number of
	// seconds until the key is allowed again when it should not.
	// Errors signal a limiter malfunction; callers should fail open.
	Allow(ctx context.Context, key string) (allowed bool, retryAfterSeconds int, err error)

	// Close releases resources (cleanup goroutines, connections).
	Close() error
}

// NoopLimiter permits every request. Used when rate limiting is disabled.
type NoopLimiter struct{}

// Allow always returns true.
func (NoopLimiter) Allow(context.Context, string) (bool, int, error) { return true, 0, nil }

// Close is a no-op.
func (NoopLimiter) Close() error { return nil }
