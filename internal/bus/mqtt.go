package bus

import (
	"context"
	"fmt"
	"sync"

	"github.com/edgewatch/edgewatch-core/internal/infrastructure/mqtt"
)

// MQTTClient is the subset of *mqtt.Client the MQTT driver needs.
type MQTTClient interface {
	Topics() mqtt.Topics
	QoS() byte
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
}

// MQTTBus relays bus topics through an MQTT broker so sessions on several
// instances can reach each other.
//
// One broker subscription is held per topic with at least one local
// subscriber. Payloads published here are delivered to local subscribers
// only when they come back from the broker, never short-circuited.
type MQTTBus struct {
	client MQTTClient
	topics mqtt.Topics
	qos    byte
	fan    *fanout

	// mu serialises broker subscribe/unsubscribe against local changes.
	mu sync.Mutex
}

// NewMQTT creates a bus backed by client.
func NewMQTT(client MQTTClient, opts Options) *MQTTBus {
	return &MQTTBus{
		client: client,
		topics: client.Topics(),
		qos:    client.QoS(),
		fan:    newFanout(opts),
	}
}

func (b *MQTTBus) Subscribe(ctx context.Context, topic string, h Handler) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	m, first, err := b.fan.add(ctx, topic, h)
	if err != nil {
		return nil, err
	}

	if first {
		if err := b.client.Subscribe(b.topics.Bus(topic), b.qos, b.receive); err != nil {
			b.fan.remove(m)
			return nil, fmt.Errorf("subscribing %q: %w", topic, err)
		}
	}

	return newSubscription(m, b.release), nil
}

func (b *MQTTBus) release(m *mailbox) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.fan.remove(m) {
		return
	}
	if err := b.client.Unsubscribe(b.topics.Bus(m.topic)); err != nil {
		b.fan.opts.Logger.Warn("mqtt bus unsubscribe failed", "topic", m.topic, "error", err)
	}
}

// receive is the broker message handler shared by every bus topic.
func (b *MQTTBus) receive(mqttTopic string, payload []byte) error {
	name, ok := b.topics.BusName(mqttTopic)
	if !ok {
		return fmt.Errorf("unexpected topic %q", mqttTopic)
	}
	b.fan.deliver(name, payload)
	return nil
}

func (b *MQTTBus) Publish(_ context.Context, topic string, payload []byte) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if err := b.client.Publish(b.topics.Bus(topic), payload, b.qos, false); err != nil {
		return fmt.Errorf("publishing %q: %w", topic, err)
	}
	return nil
}

// Close drops every broker subscription this bus holds. The MQTT client
// itself belongs to the caller.
func (b *MQTTBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, topic := range b.fan.topicNames() {
		if err := b.client.Unsubscribe(b.topics.Bus(topic)); err != nil {
			b.fan.opts.Logger.Warn("mqtt bus unsubscribe failed", "topic", topic, "error", err)
		}
	}
	b.fan.close()
	return nil
}
