package notify

import (
	"context"
	stdErrors "errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	redis "github.com/redis/go-redis/v9"

	decayerrors "github.com/mirkobrombin/go-decay/v1/errors"
)

const defaultRedisChannel = "decay:expirations"

// RedisBusOptions configures the RedisBus.
type RedisBusOptions struct {
	Client  *redis.Client
	Channel string // defaults to "decay:expirations"
	Codec   Codec  // defaults to JSONCodec
}

// RedisBus carries expiration events across processes over Redis
// pub/sub. Every bus publishes to and consumes from a single channel;
// events are deduplicated by ID on dispatch, so a process also
// subscribed to its own publishes delivers each event once.
type RedisBus[K comparable, V any] struct {
	client  *redis.Client
	channel string
	codec   Codec

	mu   sync.Mutex
	subs map[K][]chan Event[K, V]
	seen map[string]time.Time

	published atomic.Uint64
	delivered atomic.Uint64

	pubsub  *redis.PubSub
	closeCh chan struct{}
	wg      sync.WaitGroup
}

// NewRedisBus returns a RedisBus consuming from the configured channel.
// The subscription is established before returning, so events published
// after NewRedisBus returns are not missed.
func NewRedisBus[K comparable, V any](opts RedisBusOptions) (*RedisBus[K, V], error) {
	channel := opts.Channel
	if channel == "" {
		channel = defaultRedisChannel
	}
	codec := opts.Codec
	if codec == nil {
		codec = JSONCodec{}
	}
	b := &RedisBus[K, V]{
		client:  opts.Client,
		channel: channel,
		codec:   codec,
		subs:    make(map[K][]chan Event[K, V]),
		seen:    make(map[string]time.Time),
		closeCh: make(chan struct{}),
	}
	b.pubsub = b.client.Subscribe(context.Background(), channel)
	if _, err := b.pubsub.Receive(context.Background()); err != nil {
		_ = b.pubsub.Close()
		return nil, err
	}
	b.wg.Add(2)
	go b.dispatch()
	go b.cleanupSeen()
	return b, nil
}

// Publish implements Sink.
func (b *RedisBus[K, V]) Publish(ctx context.Context, evt Event[K, V]) error {
	select {
	case <-b.closeCh:
		return decayerrors.ErrConnectionClosed
	default:
	}
	payload, err := b.codec.Marshal(evt)
	if err != nil {
		return err
	}
	if err := b.client.Publish(ctx, b.channel, payload).Err(); err != nil {
		if stdErrors.Is(err, context.DeadlineExceeded) {
			return decayerrors.ErrTimeout
		}
		return err
	}
	b.published.Add(1)
	return nil
}

// Watch implements Watcher.
func (b *RedisBus[K, V]) Watch(ctx context.Context, key K) (<-chan Event[K, V], error) {
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
func (b *RedisBus[K, V]) Unwatch(ctx context.Context, key K, ch <-chan Event[K, V]) error {
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

// checkSeen records id and reports whether it was already seen.
func (b *RedisBus[K, V]) checkSeen(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.seen[id]; ok {
		return true
	}
	b.seen[id] = time.Now()
	return false
}

func (b *RedisBus[K, V]) cleanupSeen() {
	defer b.wg.Done()
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			b.mu.Lock()
			now := time.Now()
			for id, t := range b.seen {
				if now.Sub(t) > time.Minute {
					delete(b.seen, id)
				}
			}
			b.mu.Unlock()
		case <-b.closeCh:
			return
		}
	}
}

func (b *RedisBus[K, V]) dispatch() {
	defer b.wg.Done()
	ch := b.pubsub.Channel()
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var evt Event[K, V]
			if err := b.codec.Unmarshal([]byte(msg.Payload), &evt); err != nil {
				slog.Warn("decay: dropping undecodable event", "channel", b.channel, "error", err)
				continue
			}
			if b.checkSeen(evt.ID) {
				continue
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
		case <-b.closeCh:
			return
		}
	}
}

// Metrics returns the published and delivered counts.
func (b *RedisBus[K, V]) Metrics() Metrics {
	return Metrics{
		Published: b.published.Load(),
		Delivered: b.delivered.Load(),
	}
}

// Close stops the dispatch loop and closes all watcher channels.
func (b *RedisBus[K, V]) Close() error {
	close(b.closeCh)
	err := b.pubsub.Close()
	b.wg.Wait()

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
