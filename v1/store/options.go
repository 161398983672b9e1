package store

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Option configures a TimedStore.
type Option[K comparable, V any] func(*TimedStore[K, V])

// WithSweepInterval sets how long the sweeper sleeps between passes when
// the stale ratio stays below the repeat threshold. A zero or negative
// duration disables the background sweeper. The default is one second.
func WithSweepInterval[K comparable, V any](d time.Duration) Option[K, V] {
	return func(s *TimedStore[K, V]) {
		s.sweepInterval = d
	}
}

// WithSampleProbability sets the probability that a sweep pass examines
// any given entry. Each entry is an independent draw, so the number of
// entries actually checked varies from pass to pass. Values outside
// [0, 1] are ignored. The default is 0.25.
func WithSampleProbability[K comparable, V any](p float64) Option[K, V] {
	return func(s *TimedStore[K, V]) {
		if p >= 0.0 && p <= 1.0 {
			s.sampleProb = p
		}
	}
}

// WithRepeatThreshold sets the stale fraction of sampled entries at or
// above which a sweep pass repeats immediately instead of sleeping.
// Values outside [0, 1] are ignored. The default is 0.25.
func WithRepeatThreshold[K comparable, V any](r float64) Option[K, V] {
	return func(s *TimedStore[K, V]) {
		if r >= 0.0 && r <= 1.0 {
			s.repeatRatio = r
		}
	}
}

// WithCallback sets the function invoked once per expired entry, from
// whichever goroutine discovered the expiration.
func WithCallback[K comparable, V any](fn Callback[K, V]) Option[K, V] {
	return func(s *TimedStore[K, V]) {
		s.callback = fn
	}
}

// WithoutSweep creates the store without a background sweeper. Entries
// then expire only lazily, when read. Sweeping cannot be enabled later.
func WithoutSweep[K comparable, V any]() Option[K, V] {
	return func(s *TimedStore[K, V]) {
		s.sweepDisabled = true
	}
}

// WithClock overrides the wall clock used for deadlines and staleness
// checks.
func WithClock[K comparable, V any](now func() time.Time) Option[K, V] {
	return func(s *TimedStore[K, V]) {
		if now != nil {
			s.now = now
		}
	}
}

// WithMetrics enables Prometheus metrics collection using the provided registerer.
func WithMetrics[K comparable, V any](reg prometheus.Registerer) Option[K, V] {
	return func(s *TimedStore[K, V]) {
		s.hitCounter = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "decay_store_hits_total",
			Help: "Total number of reads that returned a live value",
		})
		s.missCounter = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "decay_store_misses_total",
			Help: "Total number of reads of absent or expired keys",
		})
		s.expiredCounter = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "decay_store_expired_total",
			Help: "Total number of entries removed by expiration",
		})
		s.sweepHist = prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "decay_store_sweep_seconds",
			Help:    "Duration of sweep passes",
			Buckets: prometheus.DefBuckets,
		})
		reg.MustRegister(s.hitCounter, s.missCounter, s.expiredCounter, s.sweepHist)
	}
}

// WithTracing enables OpenTelemetry tracing for store operations.
func WithTracing[K comparable, V any]() Option[K, V] {
	return func(s *TimedStore[K, V]) {
		s.traceEnabled = true
	}
}
