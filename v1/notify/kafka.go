package notify

import (
	"context"
	"fmt"
	"sync/atomic"

	sarama "github.com/IBM/sarama"
)

// KafkaSink publishes expiration events to a Kafka topic. It is
// publish-only: durable consumption belongs to whatever pipeline reads
// the topic, not to this package.
type KafkaSink[K comparable, V any] struct {
	producer  sarama.SyncProducer
	topic     string
	codec     Codec
	published atomic.Uint64
}

// NewKafkaSink creates a KafkaSink producing to topic on the given
// brokers. A nil cfg gets a default configuration; Producer.Return.
// Successes is forced on because the sync producer requires it.
func NewKafkaSink[K comparable, V any](brokers []string, topic string, cfg *sarama.Config) (*KafkaSink[K, V], error) {
	if cfg == nil {
		cfg = sarama.NewConfig()
	}
	if !cfg.Producer.Return.Successes {
		cfg.Producer.Return.Successes = true
	}
	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, err
	}
	return &KafkaSink[K, V]{
		producer: producer,
		topic:    topic,
		codec:    JSONCodec{},
	}, nil
}

// Publish implements Sink. The event key becomes the Kafka message key,
// so expirations of the same entry land in the same partition.
func (s *KafkaSink[K, V]) Publish(ctx context.Context, evt Event[K, V]) error {
	payload, err := s.codec.Marshal(evt)
	if err != nil {
		return err
	}
	msg := &sarama.ProducerMessage{
		Topic: s.topic,
		Key:   sarama.StringEncoder(fmt.Sprint(evt.Key)),
		Value: sarama.ByteEncoder(payload),
	}
	if _, _, err := s.producer.SendMessage(msg); err != nil {
		return err
	}
	s.published.Add(1)
	return nil
}

// Metrics returns the published count.
func (s *KafkaSink[K, V]) Metrics() Metrics {
	return Metrics{Published: s.published.Load()}
}

// Close releases the underlying producer.
func (s *KafkaSink[K, V]) Close() error {
	return s.producer.Close()
}
