// Package cache provides a generic, thread-safe TTL cache.
//
// Entries expire a fixed duration after they are written and are never
// returned past their expiry. Expired entries are lazily removed on read and
// swept by a background cleanup goroutine. Statistics are always collected;
// Prometheus metrics export is optional via WithMetrics.
package cache

import (
	"github.com/c360/flownet/errors"
)

// Cache represents a generic TTL cache parameterized by value type V.
type Cache[V any] interface {
	// Get retrieves a value by key. Returns the value and true if present
	// and not expired, zero value and false otherwise.
	Get(key string) (V, bool)

	// Set stores a value with the given key and resets its expiry.
	// Returns true if a new entry was created, false if updated.
	Set(key string, value V) (bool, error)

	// Delete removes an entry by key. Returns true if the key existed.
	Delete(key string) (bool, error)

	// Clear removes all entries from the cache.
	Clear() error

	// Size returns the current number of entries in the cache.
	Size() int

	// Keys returns all non-expired keys currently in the cache.
	Keys() []string

	// Stats returns cache statistics.
	Stats() *Statistics

	// Close shuts down the cache and its background cleanup goroutine.
	Close() error
}

// EvictCallback is called when an entry is evicted from the cache.
type EvictCallback[V any] func(key string, value V)

// validateKey validates a cache key for basic requirements.
func validateKey(key string) error {
	if key == "" {
		return errors.WrapInvalid(errors.ErrValidation, "cache", "validateKey", "key cannot be empty")
	}
	return nil
}
