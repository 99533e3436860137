package bus

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/edgewatch/edgewatch-core/internal/infrastructure/mqtt"
)

// fakeBroker loops publishes back to subscribed handlers, like a broker
// with a single connected client.
type fakeBroker struct {
	mu           sync.Mutex
	handlers     map[string]mqtt.MessageHandler
	subscribes   []string
	unsubscribes []string
	subscribeErr error
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{handlers: make(map[string]mqtt.MessageHandler)}
}

func (f *fakeBroker) Topics() mqtt.Topics { return mqtt.Topics{Prefix: "test"} }
func (f *fakeBroker) QoS() byte           { return 1 }

func (f *fakeBroker) Publish(topic string, payload []byte, _ byte, _ bool) error {
	f.mu.Lock()
	h := f.handlers[topic]
	f.mu.Unlock()
	if h != nil {
		return h(topic, payload)
	}
	return nil
}

func (f *fakeBroker) Subscribe(topic string, _ byte, handler mqtt.MessageHandler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subscribeErr != nil {
		return f.subscribeErr
	}
	f.handlers[topic] = handler
	f.subscribes = append(f.subscribes, topic)
	return nil
}

func (f *fakeBroker) Unsubscribe(topic string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.handlers, topic)
	f.unsubscribes = append(f.unsubscribes, topic)
	return nil
}

func (f *fakeBroker) counts() (subs, unsubs int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subscribes), len(f.unsubscribes)
}

func TestMQTTBus_RoundTrip(t *testing.T) {
	broker := newFakeBroker()
	b := NewMQTT(broker, Options{})
	t.Cleanup(func() { _ = b.Close() })
	ctx := context.Background()

	c := newCollector()
	if _, err := b.Subscribe(ctx, "device:42", c.handle); err != nil {
		t.Fatal(err)
	}
	if _, ok := broker.handlers["test/bus/device/42"]; !ok {
		t.Fatalf("broker subscriptions = %v, want test/bus/device/42", broker.subscribes)
	}

	if err := b.Publish(ctx, "device:42", []byte(`{"message_type":"operation"}`)); err != nil {
		t.Fatal(err)
	}
	if got := c.waitFor(t, 1); got[0] != `{"message_type":"operation"}` {
		t.Errorf("got %v", got)
	}
}

func TestMQTTBus_SharesBrokerSubscriptionPerTopic(t *testing.T) {
	broker := newFakeBroker()
	b := NewMQTT(broker, Options{})
	t.Cleanup(func() { _ = b.Close() })
	ctx := context.Background()

	first, err := b.Subscribe(ctx, "user:7", newCollector().handle)
	if err != nil {
		t.Fatal(err)
	}
	second, err := b.Subscribe(ctx, "user:7", newCollector().handle)
	if err != nil {
		t.Fatal(err)
	}

	if subs, _ := broker.counts(); subs != 1 {
		t.Errorf("broker subscribes = %d, want 1", subs)
	}

	first.Unsubscribe()
	if _, unsubs := broker.counts(); unsubs != 0 {
		t.Errorf("broker unsubscribed while a local subscriber remains")
	}
	second.Unsubscribe()
	if _, unsubs := broker.counts(); unsubs != 1 {
		t.Errorf("broker unsubscribes = %d, want 1", unsubs)
	}
}

func TestMQTTBus_SubscribeFailureRollsBack(t *testing.T) {
	broker := newFakeBroker()
	broker.subscribeErr = mqtt.ErrNotConnected
	b := NewMQTT(broker, Options{})
	t.Cleanup(func() { _ = b.Close() })

	_, err := b.Subscribe(context.Background(), "device:1", newCollector().handle)
	if !errors.Is(err, mqtt.ErrNotConnected) {
		t.Fatalf("Subscribe() error = %v, want ErrNotConnected", err)
	}
	if n := b.fan.subscriberCount("device:1"); n != 0 {
		t.Errorf("local subscriber left behind after failed subscribe: %d", n)
	}

	// A later subscribe retries the broker.
	broker.mu.Lock()
	broker.subscribeErr = nil
	broker.mu.Unlock()
	if _, err := b.Subscribe(context.Background(), "device:1", newCollector().handle); err != nil {
		t.Fatalf("retry Subscribe() error = %v", err)
	}
}

func TestMQTTBus_IgnoresForeignTopics(t *testing.T) {
	b := NewMQTT(newFakeBroker(), Options{})
	t.Cleanup(func() { _ = b.Close() })

	if err := b.receive("other/thing", []byte("x")); err == nil {
		t.Error("receive() accepted a non-bus topic")
	}
}

func TestMQTTBus_CloseReleasesBroker(t *testing.T) {
	broker := newFakeBroker()
	b := NewMQTT(broker, Options{})

	for _, topic := range []string{"device:1", "device:2"} {
		if _, err := b.Subscribe(context.Background(), topic, newCollector().handle); err != nil {
			t.Fatal(err)
		}
	}
	if err := b.Close(); err != nil {
		t.Fatal(err)
	}
	if _, unsubs := broker.counts(); unsubs != 2 {
		t.Errorf("broker unsubscribes after Close = %d, want 2", unsubs)
	}
}
