package store

import (
	"context"
	"log/slog"
	"math/rand"
	"time"

	"go.opentelemetry.io/otel/attribute"
)

// keyDeadline is one element of a sweep snapshot.
type keyDeadline[K comparable] struct {
	key       K
	expiresAt time.Time
}

// sweeper runs the active expiration loop until the store is stopped.
// Cancellation is level-triggered: it is observed between passes and
// during the interval sleep, so an in-flight pass always completes.
//
// The algorithm is the one Redis uses for expired keys. Each pass samples
// the keyspace probabilistically and expires the stale entries it finds;
// when the stale fraction of the sample reaches the repeat threshold the
// next pass starts immediately, otherwise the sweeper sleeps for the
// configured interval. Cost per pass is proportional to the sample, not
// the store, trading exactness for bounded work.
func (s *TimedStore[K, V]) sweeper() {
	defer s.wg.Done()
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	for {
		if s.ctx.Err() != nil {
			return
		}
		if s.sweepOnce(rng) {
			continue
		}
		select {
		case <-s.ctx.Done():
			return
		case <-time.After(s.sweepInterval):
		}
	}
}

// sweepOnce performs a single sampling pass and reports whether the next
// pass should run immediately.
func (s *TimedStore[K, V]) sweepOnce(rng *rand.Rand) bool {
	var start time.Time
	if s.sweepHist != nil {
		start = time.Now()
	}
	now := s.now()

	s.mu.RLock()
	snapshot := make([]keyDeadline[K], 0, len(s.entries))
	for k, e := range s.entries {
		snapshot = append(snapshot, keyDeadline[K]{key: k, expiresAt: e.expiresAt})
	}
	s.mu.RUnlock()

	checked := 0
	var stale []K
	for _, kd := range snapshot {
		if rng.Float64() > s.sampleProb {
			continue
		}
		checked++
		if !now.Before(kd.expiresAt) {
			stale = append(stale, kd.key)
		}
	}

	// An entry rewritten after the snapshot fails the re-check inside
	// expireIfStale and survives with its fresh deadline.
	for _, k := range stale {
		if v, expired := s.expireIfStale(k, now); expired {
			slog.Debug("decay: sweeper expired key", "store", s.id, "key", k)
			s.runCallback(k, v)
		}
	}

	ratio := 0.0
	if checked > 0 {
		ratio = float64(len(stale)) / float64(checked)
	}
	if s.sweepHist != nil {
		s.sweepHist.Observe(time.Since(start).Seconds())
	}
	if s.traceEnabled {
		_, span := tracer.Start(context.Background(), "Store.Sweep")
		span.SetAttributes(
			attribute.Int("decay.sweep.checked", checked),
			attribute.Int("decay.sweep.stale", len(stale)),
			attribute.Float64("decay.sweep.ratio", ratio),
		)
		span.End()
	}
	return ratio >= s.repeatRatio
}
