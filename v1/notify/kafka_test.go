package notify

import (
	"context"
	"os"
	"testing"

	sarama "github.com/IBM/sarama"
	"github.com/google/uuid"
)

func newKafkaSink(t *testing.T) (*KafkaSink[string, string], context.Context) {
	t.Helper()
	addr := os.Getenv("DECAY_TEST_KAFKA_ADDR")
	if addr == "" {
		t.Skip("DECAY_TEST_KAFKA_ADDR not set, skipping Kafka integration tests")
	}
	t.Logf("TestKafkaSink: using real Kafka at %s", addr)

	config := sarama.NewConfig()
	config.Producer.Return.Successes = true

	sink, err := NewKafkaSink[string, string]([]string{addr}, "decay-test-"+uuid.NewString(), config)
	if err != nil {
		t.Fatalf("NewKafkaSink: %v", err)
	}

	ctx := context.Background()
	t.Cleanup(func() {
		_ = sink.Close()
	})
	return sink, ctx
}

func TestKafkaSinkPublishAndMetrics(t *testing.T) {
	sink, ctx := newKafkaSink(t)

	if err := sink.Publish(ctx, NewEvent("key", "value")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if got := sink.Metrics().Published; got != 1 {
		t.Fatalf("expected published 1 got %d", got)
	}
}

func TestKafkaSinkPublishAfterClose(t *testing.T) {
	sink, ctx := newKafkaSink(t)
	_ = sink.Close()

	if err := sink.Publish(ctx, NewEvent("key", "value")); err == nil {
		t.Fatal("expected publish error on closed producer")
	}
}
