package notify

import (
	"context"
	"errors"
	"sync"
	"time"
)

var ErrCircuitOpen = errors.New("circuit breaker is open")

type breakerState int

const (
	stateClosed breakerState = iota
	stateOpen
	stateHalfOpen
)

// BreakerSink decorates a Sink with circuit breaker logic. After
// threshold consecutive failures the circuit opens and publishes fail
// fast with ErrCircuitOpen; after timeout a single probe is let through
// and its outcome decides whether the circuit closes again.
type BreakerSink[K comparable, V any] struct {
	sink      Sink[K, V]
	mu        sync.Mutex
	state     breakerState
	failures  int
	threshold int
	timeout   time.Duration
	lastFail  time.Time
}

// NewBreakerSink returns a BreakerSink wrapping sink.
func NewBreakerSink[K comparable, V any](sink Sink[K, V], threshold int, timeout time.Duration) *BreakerSink[K, V] {
	return &BreakerSink[K, V]{
		sink:      sink,
		threshold: threshold,
		timeout:   timeout,
		state:     stateClosed,
	}
}

// IsHealthy returns true if the circuit is closed or ready to probe.
func (cb *BreakerSink[K, V]) IsHealthy() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == stateOpen {
		return time.Since(cb.lastFail) > cb.timeout
	}
	return true
}

// allow handles the transition from open to half-open based on timeout.
func (cb *BreakerSink[K, V]) allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case stateClosed:
		return true
	case stateOpen:
		if time.Since(cb.lastFail) > cb.timeout {
			cb.state = stateHalfOpen
			return true
		}
		return false
	case stateHalfOpen:
		// Only one probe at a time.
		return false
	}
	return false
}

func (cb *BreakerSink[K, V]) onSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	switch cb.state {
	case stateHalfOpen:
		cb.state = stateClosed
		cb.failures = 0
	case stateClosed:
		cb.failures = 0
	}
}

func (cb *BreakerSink[K, V]) onFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.lastFail = time.Now()
	cb.failures++
	if cb.state == stateClosed && cb.failures >= cb.threshold {
		cb.state = stateOpen
	} else if cb.state == stateHalfOpen {
		cb.state = stateOpen
	}
}

// Publish implements Sink with circuit breaker logic.
func (cb *BreakerSink[K, V]) Publish(ctx context.Context, evt Event[K, V]) error {
	if !cb.allow() {
		return ErrCircuitOpen
	}
	if err := cb.sink.Publish(ctx, evt); err != nil {
		cb.onFailure()
		return err
	}
	cb.onSuccess()
	return nil
}
