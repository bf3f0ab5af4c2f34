// Package store provides counter backends for fixed-window rate limiting.
package store

import (
	"context"
	"time"
)

// Decision is the outcome of a single admission check.
type Decision struct {
	// Allowed reports whether the request was admitted.
	Allowed bool

	// Count is the number of admitted requests in the current window.
	Count int64

	// Remaining is how many more requests the window will admit.
	Remaining int64

	// ResetAt is when the current window ends.
	ResetAt time.Time
}

// Stats describes the records currently held by a store.
type Stats struct {
	TotalEntries int
	Keys         []string
}

// Store defines the interface for rate limit storage backends.
// Implementations must be safe for concurrent use.
type Store interface {
	// Check admits or rejects a request for key under a fixed window of the given
	// length allowing at most limit requests. A rejected request does not change
	// the stored count.
	Check(ctx context.Context, key string, limit int64, window time.Duration) (Decision, error)

	// Get retrieves the current count for the given key without incrementing.
	// Returns 0 if the key doesn't exist or its window has ended.
	Get(ctx context.Context, key string) (int64, error)

	// Reset removes the counter for the given key.
	Reset(ctx context.Context, key string) error

	// Stats reports the records held by the store.
	Stats(ctx context.Context) (Stats, error)

	// Close releases any resources held by the store.
	Close() error
}

func decide(count, limit int64, allowed bool, resetAt time.Time) Decision {
	return Decision{
		Allowed:   allowed,
		Count:     count,
		Remaining: max(0, limit-count),
		ResetAt:   resetAt,
	}
}
