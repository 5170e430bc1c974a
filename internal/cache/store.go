// Package cache provides TTL-bounded key/value storage for the portal.
package cache

import (
	"context"
	"time"
)

// Backend defines the interface for raw cache storage.
// Both the Redis and in-memory implementations satisfy this interface and
// must honor identical TTL semantics, so callers are backend-agnostic.
type Backend interface {
	// Put stores value under key for ttl. A non-positive ttl must leave the
	// key absent on the next read.
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Fetch returns the stored value, or found=false if the key is absent
	// or its ttl has elapsed.
	Fetch(ctx context.Context, key string) (value []byte, found bool, err error)

	// Remove deletes a key regardless of expiry state and reports whether
	// it was present.
	Remove(ctx context.Context, key string) (bool, error)

	// RemoveMatching deletes every key that starts with prefix and contains
	// substr, returning the number of keys removed.
	RemoveMatching(ctx context.Context, prefix, substr string) (int, error)

	// Kind returns the backend identity ("redis" or "memory").
	Kind() string

	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error

	Close() error
}
