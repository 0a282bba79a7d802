package cache

import (
	"context"
	"time"
)

// DefaultTTL is the retention applied when a caller passes a non-positive TTL.
const DefaultTTL = 5 * time.Minute

// Store is a read-through cache for frequently fetched records. Writers must
// invalidate entries whenever the underlying record mutates.
type Store[T any] interface {
	Get(ctx context.Context, key string) (T, bool, error)
	Set(ctx context.Context, key string, value T, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}
