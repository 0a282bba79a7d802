package cache

import (
	"context"
	"sync"
	"time"
)

type entry[T any] struct {
	value     T
	expiresAt time.Time
}

// MemoryStore is an in-process Store implementation. Entries are evicted
// lazily on read and opportunistically on write.
type MemoryStore[T any] struct {
	mu      sync.Mutex
	entries map[string]entry[T]
	now     func() time.Time
}

// MemoryOption customises MemoryStore construction.
type MemoryOption[T any] func(*MemoryStore[T])

// WithClock injects a custom clock primarily for tests.
func WithClock[T any](clock func() time.Time) MemoryOption[T] {
	return func(s *MemoryStore[T]) {
		if clock != nil {
			s.now = clock
		}
	}
}

// NewMemoryStore constructs an empty memory-backed cache.
func NewMemoryStore[T any](opts ...MemoryOption[T]) *MemoryStore[T] {
	store := &MemoryStore[T]{
		entries: make(map[string]entry[T]),
		now:     time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(store)
		}
	}
	return store
}

// Get returns the cached value when present and unexpired.
func (s *MemoryStore[T]) Get(_ context.Context, key string) (T, bool, error) {
	var zero T
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return zero, false, nil
	}
	if !e.expiresAt.IsZero() && !s.now().Before(e.expiresAt) {
		delete(s.entries, key)
		return zero, false, nil
	}
	return e.value, true, nil
}

// Set stores the value under key for the given TTL.
func (s *MemoryStore[T]) Set(_ context.Context, key string, value T, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for k, e := range s.entries {
		if !e.expiresAt.IsZero() && !now.Before(e.expiresAt) {
			delete(s.entries, k)
		}
	}
	s.entries[key] = entry[T]{value: value, expiresAt: now.Add(ttl)}
	return nil
}

// Delete removes the entry for key, if any.
func (s *MemoryStore[T]) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, key)
	return nil
}

var _ Store[any] = (*MemoryStore[any])(nil)
