package notify

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	natsserver "github.com/nats-io/nats-server/v2/test"
	nats "github.com/nats-io/nats.go"
)

func newNATSBus(t *testing.T) (*NATSBus[string, string], context.Context) {
	t.Helper()
	addr := os.Getenv("DECAY_TEST_NATS_ADDR")
	forceReal := os.Getenv("DECAY_TEST_FORCE_REAL") == "true"

	if forceReal && addr == "" {
		t.Fatal("DECAY_TEST_FORCE_REAL is true but DECAY_TEST_NATS_ADDR is empty")
	}

	var conn *nats.Conn
	var s *server.Server
	var err error

	if addr != "" {
		t.Logf("TestNATSBus: using real NATS at %s", addr)
		conn, err = nats.Connect(addr)
		if err != nil {
			t.Fatalf("connect: %v", err)
		}
	} else {
		t.Log("TestNATSBus: using embedded NATS server")
		s = natsserver.RunRandClientPortServer()
		conn, err = nats.Connect(s.ClientURL())
		if err != nil {
			t.Fatalf("connect: %v", err)
		}
	}

	bus, err := NewNATSBus[string, string](NATSBusOptions{Conn: conn})
	if err != nil {
		t.Fatalf("NewNATSBus: %v", err)
	}
	ctx := context.Background()
	t.Cleanup(func() {
		conn.Close()
		if s != nil {
			s.Shutdown()
		}
	})
	return bus, ctx
}

func TestNATSBusPublishWatchFlowAndMetrics(t *testing.T) {
	bus, ctx := newNATSBus(t)
	ch, err := bus.Watch(ctx, "key")
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	if err := bus.Publish(ctx, NewEvent("key", "value")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	select {
	case evt := <-ch:
		if evt.Key != "key" || evt.Value != "value" {
			t.Fatalf("unexpected event %+v", evt)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for publish")
	}
	if got := bus.Metrics().Published; got != 1 {
		t.Fatalf("expected published 1 got %d", got)
	}
	waitMetric(t, func() uint64 { return bus.Metrics().Delivered }, 1)
}

func TestNATSBusContextBasedUnwatch(t *testing.T) {
	bus, _ := newNATSBus(t)
	subCtx, cancel := context.WithCancel(context.Background())
	ch, err := bus.Watch(subCtx, "key")
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	cancel()
	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected channel closed")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for unwatch")
	}
	bus.mu.Lock()
	defer bus.mu.Unlock()
	if _, ok := bus.subs["key"]; ok {
		t.Fatal("watcher still present after context cancel")
	}
}

func TestNATSBusDropsGarbagePayload(t *testing.T) {
	bus, ctx := newNATSBus(t)
	ch, err := bus.Watch(ctx, "key")
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	if err := bus.conn.Publish(bus.subject, []byte("{not json")); err != nil {
		t.Fatalf("raw publish: %v", err)
	}
	if err := bus.Publish(ctx, NewEvent("key", "value")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	select {
	case evt := <-ch:
		if evt.Value != "value" {
			t.Fatalf("unexpected event %+v", evt)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for valid event")
	}
}

func TestNATSBusCloseClosesWatchers(t *testing.T) {
	bus, ctx := newNATSBus(t)
	ch, err := bus.Watch(ctx, "key")
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	if err := bus.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected channel closed")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for close")
	}
}
