package store

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	hashiuuid "github.com/hashicorp/go-uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/mirkobrombin/go-decay/v1/store")

var (
	// ErrMissingTimeout is returned by New when no positive timeout is given.
	ErrMissingTimeout = errors.New("missing timeout")
	// ErrKeyNotFound is returned by SetExpiration for absent keys.
	ErrKeyNotFound = errors.New("key not found")
	// ErrConflictingExpiration is returned by SetExpiration when both
	// Extend and TTL are set.
	ErrConflictingExpiration = errors.New("extend and ttl are mutually exclusive")
)

// Callback is invoked with an expired key and the value it held. It runs
// synchronously on whichever goroutine discovered the expiration, so a slow
// callback delays that reader or the sweeper. Extra arguments are bound by
// capturing them in the closure.
type Callback[K comparable, V any] func(key K, value V)

// entry pairs a value with its expiration deadline. Keeping both in one
// record means insert, overwrite, and delete of the pair is a single
// atomic step under the store mutex.
type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// TimedStore is a concurrent key-value store whose entries expire after a
// fixed timeout. Expired entries are removed lazily when read and actively
// by a per-store background sweeper.
type TimedStore[K comparable, V any] struct {
	mu      sync.RWMutex
	entries map[K]entry[V]

	timeout       time.Duration
	sweepInterval time.Duration
	sampleProb    float64
	repeatRatio   float64
	callback      Callback[K, V]
	sweepDisabled bool
	now           func() time.Time

	id     string
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	hits    atomic.Uint64
	misses  atomic.Uint64
	expired atomic.Uint64

	hitCounter     prometheus.Counter
	missCounter    prometheus.Counter
	expiredCounter prometheus.Counter
	sweepHist      prometheus.Histogram
	traceEnabled   bool
}

const (
	defaultSweepInterval   = time.Second
	defaultSampleProb      = 0.25
	defaultRepeatThreshold = 0.25
)

// New returns a TimedStore whose entries live for timeout after each write.
// The timeout is mandatory; there is no sensible default, so a zero or
// negative value fails with ErrMissingTimeout.
//
// Unless disabled with WithoutSweep (or a non-positive sweep interval), a
// background goroutine is started that samples the keyspace and expires
// stale entries. Call Stop or Close to end it; it is never restarted.
func New[K comparable, V any](timeout time.Duration, opts ...Option[K, V]) (*TimedStore[K, V], error) {
	if timeout <= 0 {
		return nil, ErrMissingTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &TimedStore[K, V]{
		entries:       make(map[K]entry[V]),
		timeout:       timeout,
		sweepInterval: defaultSweepInterval,
		sampleProb:    defaultSampleProb,
		repeatRatio:   defaultRepeatThreshold,
		now:           time.Now,
		ctx:           ctx,
		cancel:        cancel,
	}
	if id, err := hashiuuid.GenerateUUID(); err == nil {
		s.id = id
	}
	for _, opt := range opts {
		opt(s)
	}
	if !s.sweepDisabled && s.sweepInterval > 0 {
		s.wg.Add(1)
		go s.sweeper()
	}
	return s, nil
}

// Get returns the live value for key. The boolean reports whether a live
// value was present: false means the key was never written, was deleted,
// or had expired. An expired entry is removed inline, with the callback
// fired, before Get returns.
func (s *TimedStore[K, V]) Get(key K) (V, bool) {
	var span trace.Span
	if s.traceEnabled {
		_, span = tracer.Start(context.Background(), "Store.Get")
		defer span.End()
	}
	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()
	if !ok {
		s.miss(span)
		var zero V
		return zero, false
	}
	now := s.now()
	if !now.Before(e.expiresAt) {
		slog.Debug("decay: deleting expired key", "store", s.id, "key", key)
		if v, expired := s.expireIfStale(key, now); expired {
			s.runCallback(key, v)
		}
		s.miss(span)
		var zero V
		return zero, false
	}
	s.hits.Add(1)
	if s.hitCounter != nil {
		s.hitCounter.Inc()
	}
	if s.traceEnabled {
		span.SetAttributes(attribute.String("decay.store.result", "hit"))
	}
	return e.value, true
}

func (s *TimedStore[K, V]) miss(span trace.Span) {
	s.misses.Add(1)
	if s.missCounter != nil {
		s.missCounter.Inc()
	}
	if s.traceEnabled {
		span.SetAttributes(attribute.String("decay.store.result", "miss"))
	}
}

// Set inserts or overwrites the entry for key and resets its deadline to
// now plus the store timeout. There is no expiration check on write: a
// write always establishes a fresh live entry regardless of prior state.
func (s *TimedStore[K, V]) Set(key K, value V) {
	if s.traceEnabled {
		_, span := tracer.Start(context.Background(), "Store.Set")
		defer span.End()
	}
	deadline := s.now().Add(s.timeout)
	s.mu.Lock()
	s.entries[key] = entry[V]{value: value, expiresAt: deadline}
	s.mu.Unlock()
}

// Delete removes key unconditionally and returns the value that was
// present, expired or not. The expiration callback never fires for an
// explicit delete.
func (s *TimedStore[K, V]) Delete(key K) (V, bool) {
	if s.traceEnabled {
		_, span := tracer.Start(context.Background(), "Store.Delete")
		defer span.End()
	}
	s.mu.Lock()
	e, ok := s.entries[key]
	if ok {
		delete(s.entries, key)
	}
	s.mu.Unlock()
	if !ok {
		var zero V
		return zero, false
	}
	return e.value, true
}

// ExpirationUpdate describes a deadline-only mutation for SetExpiration.
// Extend adds to the entry's current deadline; TTL sets the deadline to
// now plus TTL. The two are mutually exclusive; leaving both zero makes
// SetExpiration a no-op beyond the existence check.
type ExpirationUpdate struct {
	IgnoreMissing bool
	Extend        time.Duration
	TTL           time.Duration
}

// SetExpiration mutates only the deadline of an existing entry. An absent
// key yields ErrKeyNotFound unless upd.IgnoreMissing is set, in which case
// it returns nil with the store unmodified.
func (s *TimedStore[K, V]) SetExpiration(key K, upd ExpirationUpdate) error {
	if s.traceEnabled {
		_, span := tracer.Start(context.Background(), "Store.SetExpiration")
		defer span.End()
	}
	if upd.Extend != 0 && upd.TTL != 0 {
		return ErrConflictingExpiration
	}
	s.mu.Lock()
	e, ok := s.entries[key]
	if !ok {
		s.mu.Unlock()
		if upd.IgnoreMissing {
			return nil
		}
		return ErrKeyNotFound
	}
	switch {
	case upd.Extend != 0:
		e.expiresAt = e.expiresAt.Add(upd.Extend)
	case upd.TTL != 0:
		e.expiresAt = s.now().Add(upd.TTL)
	default:
		s.mu.Unlock()
		return nil
	}
	s.entries[key] = e
	s.mu.Unlock()
	return nil
}

// Len reports the number of entries currently held. Entries past their
// deadline but not yet swept still count; Len promises a consistent
// snapshot, not that every counted key would still read as present.
func (s *TimedStore[K, V]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// TTL returns the time remaining until key's recorded deadline, which is
// negative for an entry already past it. The boolean is false if the key
// is absent. TTL never triggers expiration.
func (s *TimedStore[K, V]) TTL(key K) (time.Duration, bool) {
	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()
	if !ok {
		return 0, false
	}
	return e.expiresAt.Sub(s.now()), true
}

// Keys returns a restartable sequence over a snapshot of the keys held at
// call time. Iteration performs no expiration checks, so it may yield keys
// that a Get would report as absent.
func (s *TimedStore[K, V]) Keys() iter.Seq[K] {
	s.mu.RLock()
	keys := make([]K, 0, len(s.entries))
	for k := range s.entries {
		keys = append(keys, k)
	}
	s.mu.RUnlock()
	return func(yield func(K) bool) {
		for _, k := range keys {
			if !yield(k) {
				return
			}
		}
	}
}

// Values returns a restartable sequence over a snapshot of the values held
// at call time, with the same no-expiration-check semantics as Keys.
func (s *TimedStore[K, V]) Values() iter.Seq[V] {
	s.mu.RLock()
	values := make([]V, 0, len(s.entries))
	for _, e := range s.entries {
		values = append(values, e.value)
	}
	s.mu.RUnlock()
	return func(yield func(V) bool) {
		for _, v := range values {
			if !yield(v) {
				return
			}
		}
	}
}

// All returns a restartable sequence over a snapshot of the key-value
// pairs held at call time, with the same no-expiration-check semantics as
// Keys.
func (s *TimedStore[K, V]) All() iter.Seq2[K, V] {
	type pair struct {
		key   K
		value V
	}
	s.mu.RLock()
	pairs := make([]pair, 0, len(s.entries))
	for k, e := range s.entries {
		pairs = append(pairs, pair{key: k, value: e.value})
	}
	s.mu.RUnlock()
	return func(yield func(K, V) bool) {
		for _, p := range pairs {
			if !yield(p.key, p.value) {
				return
			}
		}
	}
}

// String renders the current entries as key: (value, deadline) pairs.
func (s *TimedStore[K, V]) String() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var b strings.Builder
	b.WriteString("TimedStore{")
	first := true
	for k, e := range s.entries {
		if !first {
			b.WriteString(", ")
		}
		first = false
		fmt.Fprintf(&b, "%v: (%v, %s)", k, e.value, e.expiresAt.Format(time.RFC3339Nano))
	}
	b.WriteString("}")
	return b.String()
}

// expireIfStale removes key if it is still present and still past its
// deadline, returning the removed value. Both the lazy read path and the
// sweeper funnel through here, so exactly one caller wins a racing
// expiration and only the winner fires the callback.
func (s *TimedStore[K, V]) expireIfStale(key K, now time.Time) (V, bool) {
	s.mu.Lock()
	e, ok := s.entries[key]
	if !ok || now.Before(e.expiresAt) {
		s.mu.Unlock()
		var zero V
		return zero, false
	}
	delete(s.entries, key)
	s.mu.Unlock()
	s.expired.Add(1)
	if s.expiredCounter != nil {
		s.expiredCounter.Inc()
	}
	return e.value, true
}

// runCallback invokes the configured callback outside any store lock. The
// entry is already fully removed by the time it runs, so a failing
// callback cannot corrupt the store; panics are recovered and logged.
func (s *TimedStore[K, V]) runCallback(key K, value V) {
	if s.callback == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			slog.Error("decay: expiration callback panicked", "store", s.id, "key", key, "panic", r)
		}
	}()
	s.callback(key, value)
}

// Stats reports process-local counters about store usage.
type Stats struct {
	Hits    uint64
	Misses  uint64
	Expired uint64
	Size    int
}

// Metrics returns current counters for the store.
func (s *TimedStore[K, V]) Metrics() Stats {
	s.mu.RLock()
	size := len(s.entries)
	s.mu.RUnlock()
	return Stats{
		Hits:    s.hits.Load(),
		Misses:  s.misses.Load(),
		Expired: s.expired.Load(),
		Size:    size,
	}
}

// Stop cancels the background sweeper without waiting for it to exit.
// Stopping is one-way; a new store must be created to sweep again. Entries
// keep their recorded deadlines and lazy expiration still applies on Get.
func (s *TimedStore[K, V]) Stop() {
	s.cancel()
}

// Close stops the sweeper and blocks until its in-flight pass or sleep has
// finished. Like Stop it leaves the entries in place.
func (s *TimedStore[K, V]) Close() {
	s.cancel()
	s.wg.Wait()
}
