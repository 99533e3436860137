package bus

import (
	"context"
	"slices"
)

// MemoryBus delivers within the current process.
type MemoryBus struct {
	fan *fanout
}

// NewMemory creates an in-process bus.
func NewMemory(opts Options) *MemoryBus {
	return &MemoryBus{fan: newFanout(opts)}
}

func (b *MemoryBus) Subscribe(ctx context.Context, topic string, h Handler) (Subscription, error) {
	m, _, err := b.fan.add(ctx, topic, h)
	if err != nil {
		return nil, err
	}
	return newSubscription(m, func(m *mailbox) { b.fan.remove(m) }), nil
}

func (b *MemoryBus) Publish(_ context.Context, topic string, payload []byte) error {
	if topic == "" {
		return ErrInvalidTopic
	}

	b.fan.mu.RLock()
	closed := b.fan.closed
	b.fan.mu.RUnlock()
	if closed {
		return ErrClosed
	}

	// Subscribers share one copy; the caller may reuse its buffer.
	b.fan.deliver(topic, slices.Clone(payload))
	return nil
}

// SubscriberCount reports how many local handlers are subscribed to topic.
func (b *MemoryBus) SubscriberCount(topic string) int {
	return b.fan.subscriberCount(topic)
}

func (b *MemoryBus) Close() error {
	b.fan.close()
	return nil
}
