package presets

import (
	"time"

	"github.com/mirkobrombin/go-decay/v1/store"
)

// NewSessionStore creates a TimedStore tuned for session tracking, where
// entries must be reclaimed close to their deadline even when nothing
// reads them. The sweeper runs often and samples the whole keyspace, so
// expiration callbacks fire promptly.
func NewSessionStore[K comparable, V any](ttl time.Duration, opts ...store.Option[K, V]) (*store.TimedStore[K, V], error) {
	opts = append([]store.Option[K, V]{
		store.WithSweepInterval[K, V](250 * time.Millisecond),
		store.WithSampleProbability[K, V](1.0),
		store.WithRepeatThreshold[K, V](0.1),
	}, opts...)
	return store.New[K, V](ttl, opts...)
}

// NewCacheStore creates a TimedStore tuned for caching, where stale
// entries are tolerable until the next read and sweep cost should stay
// low. It keeps the default sampling profile with a relaxed interval.
func NewCacheStore[K comparable, V any](ttl time.Duration, opts ...store.Option[K, V]) (*store.TimedStore[K, V], error) {
	opts = append([]store.Option[K, V]{
		store.WithSweepInterval[K, V](5 * time.Second),
	}, opts...)
	return store.New[K, V](ttl, opts...)
}

// NewManualStore creates a TimedStore with no background sweeper at all.
// Entries expire only when read, which suits short-lived stores drained
// by their owner and tests that need full control over time.
func NewManualStore[K comparable, V any](ttl time.Duration, opts ...store.Option[K, V]) (*store.TimedStore[K, V], error) {
	opts = append([]store.Option[K, V]{
		store.WithoutSweep[K, V](),
	}, opts...)
	return store.New[K, V](ttl, opts...)
}
