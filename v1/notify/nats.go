package notify

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	nats "github.com/nats-io/nats.go"
)

const defaultNATSSubject = "decay.expirations"

// NATSBusOptions configures the NATSBus.
type NATSBusOptions struct {
	Conn    *nats.Conn
	Subject string // defaults to "decay.expirations"
	Codec   Codec  // defaults to JSONCodec
}

// NATSBus carries expiration events across processes over a NATS
// subject. NATS does not redeliver on this path, so dispatch needs no
// ID tracking.
type NATSBus[K comparable, V any] struct {
	conn    *nats.Conn
	subject string
	codec   Codec
	sub     *nats.Subscription

	mu   sync.Mutex
	subs map[K][]chan Event[K, V]

	published atomic.Uint64
	delivered atomic.Uint64
}

// NewNATSBus returns a NATSBus using the provided connection.
func NewNATSBus[K comparable, V any](opts NATSBusOptions) (*NATSBus[K, V], error) {
	subject := opts.Subject
	if subject == "" {
		subject = defaultNATSSubject
	}
	codec := opts.Codec
	if codec == nil {
		codec = JSONCodec{}
	}
	b := &NATSBus[K, V]{
		conn:    opts.Conn,
		subject: subject,
		codec:   codec,
		subs:    make(map[K][]chan Event[K, V]),
	}
	sub, err := b.conn.Subscribe(subject, func(msg *nats.Msg) {
		var evt Event[K, V]
		if err := b.codec.Unmarshal(msg.Data, &evt); err != nil {
			slog.Warn("decay: dropping undecodable event", "subject", b.subject, "error", err)
			return
		}
		b.mu.Lock()
		chans := append([]chan Event[K, V](nil), b.subs[evt.Key]...)
		b.mu.Unlock()
		for _, c := range chans {
			select {
			case c <- evt:
				b.delivered.Add(1)
			default:
			}
		}
	})
	if err != nil {
		return nil, err
	}
	b.sub = sub
	return b, nil
}

// Publish implements Sink.
func (b *NATSBus[K, V]) Publish(ctx context.Context, evt Event[K, V]) error {
	payload, err := b.codec.Marshal(evt)
	if err != nil {
		return err
	}
	if err := b.conn.Publish(b.subject, payload); err != nil {
		return err
	}
	b.published.Add(1)
	return nil
}

// Watch implements Watcher.
func (b *NATSBus[K, V]) Watch(ctx context.Context, key K) (<-chan Event[K, V], error) {
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
func (b *NATSBus[K, V]) Unwatch(ctx context.Context, key K, ch <-chan Event[K, V]) error {
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

// Metrics returns the published and delivered counts.
func (b *NATSBus[K, V]) Metrics() Metrics {
	return Metrics{
		Published: b.published.Load(),
		Delivered: b.delivered.Load(),
	}
}

// Close drops the NATS subscription and closes all watcher channels.
// The connection itself belongs to the caller.
func (b *NATSBus[K, V]) Close() error {
	err := b.sub.Unsubscribe()

	b.mu.Lock()
	for key, subs := range b.subs {
		for _, c := range subs {
			close(c)
		}
		delete(b.subs, key)
	}
	b.mu.Unlock()
	return err
}
