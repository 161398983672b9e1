// Package notify fans out expiration events from a TimedStore to local
// watchers and to external transports.
package notify

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/mirkobrombin/go-decay/v1/metrics"
)

// Event describes one expired entry. ID is unique per expiration and is
// what wire transports deduplicate on.
type Event[K comparable, V any] struct {
	ID    string    `json:"id"`
	Key   K         `json:"key"`
	Value V         `json:"value"`
	At    time.Time `json:"at"`
}

// NewEvent returns an Event for key and value stamped with a fresh ID
// and the current time.
func NewEvent[K comparable, V any](key K, value V) Event[K, V] {
	return Event[K, V]{
		ID:    uuid.NewString(),
		Key:   key,
		Value: value,
		At:    time.Now(),
	}
}

// Sink receives expiration events. Implementations must be safe for
// concurrent use.
type Sink[K comparable, V any] interface {
	Publish(ctx context.Context, evt Event[K, V]) error
}

// Watcher is the subscription side of a bus. The returned channel
// receives events for key until the context is canceled or Unwatch is
// called, after which it is closed.
type Watcher[K comparable, V any] interface {
	Watch(ctx context.Context, key K) (<-chan Event[K, V], error)
	Unwatch(ctx context.Context, key K, ch <-chan Event[K, V]) error
}

// Metrics holds published and delivered counts for a bus.
type Metrics struct {
	Published uint64
	Delivered uint64
}

// Publisher adapts a sink into a callback suitable for a TimedStore.
// Each expired entry becomes one event published on a background
// context. Publish failures are logged and counted, never surfaced, so
// a broken transport cannot stall expiration.
func Publisher[K comparable, V any](sink Sink[K, V]) func(key K, value V) {
	return func(key K, value V) {
		metrics.ExpirationCounter.Inc()
		evt := NewEvent(key, value)
		if err := sink.Publish(context.Background(), evt); err != nil {
			slog.Warn("decay: expiration event publish failed", "key", key, "error", err)
			metrics.PublishErrorCounter.Inc()
			return
		}
		metrics.PublishCounter.Inc()
	}
}

// InMemoryBus is a process-local Sink with per-key watchers and
// all-event subscribers. Sends are non-blocking: a watcher that is not
// draining its channel loses events rather than stalling the bus.
type InMemoryBus[K comparable, V any] struct {
	mu   sync.Mutex
	subs map[K][]chan Event[K, V]
	all  []chan Event[K, V]

	published atomic.Uint64
	delivered atomic.Uint64
}

// NewInMemoryBus returns an empty InMemoryBus.
func NewInMemoryBus[K comparable, V any]() *InMemoryBus[K, V] {
	return &InMemoryBus[K, V]{subs: make(map[K][]chan Event[K, V])}
}

// Publish implements Sink.
func (b *InMemoryBus[K, V]) Publish(ctx context.Context, evt Event[K, V]) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	b.mu.Lock()
	chans := append([]chan Event[K, V](nil), b.subs[evt.Key]...)
	chans = append(chans, b.all...)
	b.mu.Unlock()

	b.published.Add(1)
	for _, ch := range chans {
		select {
		case ch <- evt:
			b.delivered.Add(1)
		default:
		}
	}
	return nil
}

// Watch implements Watcher.
func (b *InMemoryBus[K, V]) Watch(ctx context.Context, key K) (<-chan Event[K, V], error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	ch := make(chan Event[K, V], 1)
	b.mu.Lock()
	b.subs[key] = append(b.subs[key], ch)
	b.mu.Unlock()
	go func() {
		<-ctx.Done()
		_ = b.Unwatch(context.Background(), key, ch)
	}()
	return ch, nil
}

// Unwatch implements Watcher.
func (b *InMemoryBus[K, V]) Unwatch(ctx context.Context, key K, ch <-chan Event[K, V]) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	b.mu.Lock()
	subs := b.subs[key]
	for i, c := range subs {
		if c == ch {
			subs[i] = subs[len(subs)-1]
			subs = subs[:len(subs)-1]
			b.subs[key] = subs
			close(c)
			break
		}
	}
	if len(subs) == 0 {
		delete(b.subs, key)
	}
	b.mu.Unlock()
	return nil
}

// Subscribe returns a channel receiving every event regardless of key,
// until the context is canceled or Unsubscribe is called.
func (b *InMemoryBus[K, V]) Subscribe(ctx context.Context) (<-chan Event[K, V], error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	ch := make(chan Event[K, V], 1)
	b.mu.Lock()
	b.all = append(b.all, ch)
	b.mu.Unlock()
	go func() {
		<-ctx.Done()
		_ = b.Unsubscribe(context.Background(), ch)
	}()
	return ch, nil
}

// Unsubscribe removes an all-event subscriber.
func (b *InMemoryBus[K, V]) Unsubscribe(ctx context.Context, ch <-chan Event[K, V]) error {
	b.mu.Lock()
	for i, c := range b.all {
		if c == ch {
			b.all[i] = b.all[len(b.all)-1]
			b.all = b.all[:len(b.all)-1]
			close(c)
			break
		}
	}
	b.mu.Unlock()
	return nil
}

// Metrics returns the published and delivered counts.
func (b *InMemoryBus[K, V]) Metrics() Metrics {
	return Metrics{
		Published: b.published.Load(),
		Delivered: b.delivered.Load(),
	}
}
