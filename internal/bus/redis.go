package bus

import (
	"context"
	"fmt"
	"strings"
	"sync"

	goredis "github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix namespaces bus channels in Redis.
const DefaultRedisPrefix = "edgewatch"

// RedisBus relays bus topics through Redis pub/sub.
//
// All topics share one PubSub connection, so messages published to a
// channel arrive in publish order.
type RedisBus struct {
	client goredis.UniversalClient
	prefix string
	fan    *fanout

	mu sync.Mutex
	ps *goredis.PubSub

	done chan struct{}
	wg   sync.WaitGroup
}

// NewRedis creates a bus backed by client. Channels are named
// "<prefix>:<topic>".
func NewRedis(ctx context.Context, client goredis.UniversalClient, prefix string, opts Options) *RedisBus {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	b := &RedisBus{
		client: client,
		prefix: prefix,
		fan:    newFanout(opts),
		ps:     client.Subscribe(ctx),
		done:   make(chan struct{}),
	}

	b.wg.Add(1)
	go b.receive()

	return b
}

func (b *RedisBus) channel(topic string) string {
	return b.prefix + ":" + topic
}

func (b *RedisBus) receive() {
	defer b.wg.Done()

	msgs := b.ps.Channel()
	for {
		select {
		case <-b.done:
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			topic, found := strings.CutPrefix(msg.Channel, b.prefix+":")
			if !found {
				continue
			}
			b.fan.deliver(topic, []byte(msg.Payload))
		}
	}
}

func (b *RedisBus) Subscribe(ctx context.Context, topic string, h Handler) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	m, first, err := b.fan.add(ctx, topic, h)
	if err != nil {
		return nil, err
	}

	if first {
		if err := b.ps.Subscribe(ctx, b.channel(topic)); err != nil {
			b.fan.remove(m)
			return nil, fmt.Errorf("subscribing %q: %w", topic, err)
		}
	}

	return newSubscription(m, b.release), nil
}

func (b *RedisBus) release(m *mailbox) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.fan.remove(m) {
		return
	}
	// The subscriber context may already be done; the unsubscribe must
	// still reach Redis.
	if err := b.ps.Unsubscribe(context.WithoutCancel(m.ctx), b.channel(m.topic)); err != nil {
		b.fan.opts.Logger.Warn("redis bus unsubscribe failed", "topic", m.topic, "error", err)
	}
}

func (b *RedisBus) Publish(ctx context.Context, topic string, payload []byte) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if err := b.client.Publish(ctx, b.channel(topic), payload).Err(); err != nil {
		return fmt.Errorf("publishing %q: %w", topic, err)
	}
	return nil
}

// Close shuts the PubSub connection. The Redis client belongs to the caller.
func (b *RedisBus) Close() error {
	b.mu.Lock()
	select {
	case <-b.done:
		b.mu.Unlock()
		return nil
	default:
	}
	b.fan.close()
	close(b.done)
	err := b.ps.Close()
	b.mu.Unlock()

	b.wg.Wait()
	return err
}
