package notify

import (
	"context"
	"errors"
	"testing"
	"time"
)

type scriptedSink[K comparable, V any] struct {
	publishFunc func(ctx context.Context, evt Event[K, V]) error
	*InMemoryBus[K, V]
}

func (s *scriptedSink[K, V]) Publish(ctx context.Context, evt Event[K, V]) error {
	if s.publishFunc != nil {
		return s.publishFunc(ctx, evt)
	}
	return s.InMemoryBus.Publish(ctx, evt)
}

func TestBreakerSinkStateTransitions(t *testing.T) {
	sink := &scriptedSink[string, string]{InMemoryBus: NewInMemoryBus[string, string]()}
	threshold := 2
	timeout := 50 * time.Millisecond
	cb := NewBreakerSink[string, string](sink, threshold, timeout)

	ctx := context.Background()
	evt := NewEvent("key", "v")
	failErr := errors.New("fail")

	if !cb.IsHealthy() {
		t.Fatal("expected healthy initially")
	}

	sink.publishFunc = func(ctx context.Context, evt Event[string, string]) error { return failErr }
	if err := cb.Publish(ctx, evt); err != failErr {
		t.Fatalf("expected failErr, got %v", err)
	}
	if !cb.IsHealthy() {
		t.Fatal("expected healthy after 1 failure (threshold 2)")
	}

	if err := cb.Publish(ctx, evt); err != failErr {
		t.Fatalf("expected failErr, got %v", err)
	}
	if cb.IsHealthy() {
		t.Fatal("expected open after threshold reached")
	}
	if err := cb.Publish(ctx, evt); err != ErrCircuitOpen {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}

	time.Sleep(timeout + 10*time.Millisecond)

	if !cb.IsHealthy() {
		t.Fatal("expected healthy (time passed)")
	}

	sink.publishFunc = func(ctx context.Context, evt Event[string, string]) error { return nil }
	if err := cb.Publish(ctx, evt); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !cb.IsHealthy() {
		t.Fatal("expected healthy after success")
	}
	if cb.failures != 0 {
		t.Fatalf("expected failures=0, got %d", cb.failures)
	}

	sink.publishFunc = func(ctx context.Context, evt Event[string, string]) error { return failErr }
	cb.Publish(ctx, evt)
	cb.Publish(ctx, evt)
	if cb.IsHealthy() {
		t.Fatal("expected open")
	}

	time.Sleep(timeout + 10*time.Millisecond)
	if err := cb.Publish(ctx, evt); err != failErr {
		t.Fatalf("expected failErr, got %v", err)
	}
	if cb.IsHealthy() {
		t.Fatal("expected open after half-open failure")
	}
	if err := cb.Publish(ctx, evt); err != ErrCircuitOpen {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
}

func TestBreakerSinkPassthrough(t *testing.T) {
	sink := &scriptedSink[string, string]{InMemoryBus: NewInMemoryBus[string, string]()}
	cb := NewBreakerSink[string, string](sink, 5, time.Minute)

	ctx := context.Background()
	ch, err := sink.InMemoryBus.Watch(ctx, "foo")
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	if err := cb.Publish(ctx, NewEvent("foo", "v")); err != nil {
		t.Fatal(err)
	}
	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event on underlying bus")
	}
}
