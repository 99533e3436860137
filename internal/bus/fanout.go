package bus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/edgewatch/edgewatch-core/internal/metrics"
)

const (
	// DefaultMailboxSize is the per-subscriber queue length.
	DefaultMailboxSize = 256

	// DefaultDeliveryTimeout is how long a publish waits on one full
	// mailbox before dropping the payload for that subscriber.
	DefaultDeliveryTimeout = 250 * time.Millisecond
)

// Options configures the local delivery core shared by all drivers.
type Options struct {
	MailboxSize     int
	DeliveryTimeout time.Duration
	Logger          Logger
	Metrics         *metrics.Metrics
}

func (o Options) withDefaults() Options {
	if o.MailboxSize <= 0 {
		o.MailboxSize = DefaultMailboxSize
	}
	if o.DeliveryTimeout <= 0 {
		o.DeliveryTimeout = DefaultDeliveryTimeout
	}
	if o.Logger == nil {
		o.Logger = noopLogger{}
	}
	return o
}

// fanout tracks local subscribers per topic and feeds their mailboxes.
type fanout struct {
	opts Options

	mu     sync.RWMutex
	topics map[string]map[*mailbox]struct{}
	closed bool
}

func newFanout(opts Options) *fanout {
	return &fanout{
		opts:   opts.withDefaults(),
		topics: make(map[string]map[*mailbox]struct{}),
	}
}

// add registers a mailbox. first reports whether it is the topic's first
// local subscriber.
func (f *fanout) add(ctx context.Context, topic string, h Handler) (m *mailbox, first bool, err error) {
	if topic == "" {
		return nil, false, ErrInvalidTopic
	}
	if h == nil {
		return nil, false, ErrNilHandler
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return nil, false, ErrClosed
	}

	m = &mailbox{
		topic:   topic,
		handler: h,
		ctx:     ctx,
		queue:   make(chan []byte, f.opts.MailboxSize),
		done:    make(chan struct{}),
		logger:  f.opts.Logger,
		metrics: f.opts.Metrics,
	}

	subs, ok := f.topics[topic]
	if !ok {
		subs = make(map[*mailbox]struct{})
		f.topics[topic] = subs
	}
	subs[m] = struct{}{}
	go m.run()

	return m, !ok, nil
}

// remove unregisters m. last reports whether the topic has no local
// subscribers left. Removing an unknown mailbox is a no-op.
func (f *fanout) remove(m *mailbox) (last bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	subs, ok := f.topics[m.topic]
	if !ok {
		return false
	}
	if _, ok := subs[m]; !ok {
		return false
	}
	delete(subs, m)
	m.stop()

	if len(subs) == 0 {
		delete(f.topics, m.topic)
		return true
	}
	return false
}

// deliver enqueues payload for every subscriber of topic. A full mailbox
// holds the publisher for at most DeliveryTimeout; after that the payload
// is dropped for that subscriber only.
func (f *fanout) deliver(topic string, payload []byte) {
	f.mu.RLock()
	boxes := make([]*mailbox, 0, len(f.topics[topic]))
	for m := range f.topics[topic] {
		boxes = append(boxes, m)
	}
	f.mu.RUnlock()

	for _, m := range boxes {
		if !m.enqueue(payload, f.opts.DeliveryTimeout) {
			f.opts.Metrics.BusDelivery("dropped")
			f.opts.Logger.Warn("bus subscriber mailbox full, dropping message",
				"topic", topic,
				"error", ErrDeliveryFailed,
			)
		}
	}
}

func (f *fanout) subscriberCount(topic string) int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.topics[topic])
}

func (f *fanout) topicNames() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	names := make([]string, 0, len(f.topics))
	for t := range f.topics {
		names = append(names, t)
	}
	return names
}

// close stops every mailbox and rejects further subscriptions.
func (f *fanout) close() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return
	}
	f.closed = true
	for topic, subs := range f.topics {
		for m := range subs {
			m.stop()
		}
		delete(f.topics, topic)
	}
}

type mailbox struct {
	topic   string
	handler Handler
	ctx     context.Context
	queue   chan []byte
	done    chan struct{}
	once    sync.Once
	logger  Logger
	metrics *metrics.Metrics
}

// enqueue queues payload, waiting up to timeout for room. It reports
// false only when the wait timed out; a stopped mailbox discards the
// payload.
func (m *mailbox) enqueue(payload []byte, timeout time.Duration) bool {
	select {
	case <-m.done:
		return true
	case m.queue <- payload:
		return true
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case m.queue <- payload:
		return true
	case <-m.done:
		return true
	case <-timer.C:
		return false
	}
}

func (m *mailbox) run() {
	for {
		select {
		case <-m.done:
			return
		case payload := <-m.queue:
			// Unsubscribed while this payload waited: drop it.
			select {
			case <-m.done:
				return
			default:
			}
			m.dispatch(payload)
		}
	}
}

func (m *mailbox) dispatch(payload []byte) {
	defer func() {
		if r := recover(); r != nil {
			m.metrics.BusDelivery("failed")
			m.logger.Error("bus handler panic recovered", "topic", m.topic, "panic", r)
		}
	}()

	if err := m.handler(m.ctx, m.topic, payload); err != nil {
		m.metrics.BusDelivery("failed")
		m.logger.Warn("bus handler failed",
			"topic", m.topic,
			"error", fmt.Errorf("%w: %w", ErrDeliveryFailed, err),
		)
		return
	}
	m.metrics.BusDelivery("delivered")
}

func (m *mailbox) stop() {
	m.once.Do(func() { close(m.done) })
}

// subscription binds a mailbox to the driver that created it.
type subscription struct {
	m        *mailbox
	once     sync.Once
	release  func(*mailbox)
	stopWait func() bool
}

func newSubscription(m *mailbox, release func(*mailbox)) *subscription {
	s := &subscription{m: m, release: release}
	// Unsubscribe automatically when the subscriber's context ends.
	s.stopWait = context.AfterFunc(m.ctx, s.Unsubscribe)
	return s
}

func (s *subscription) Topic() string {
	return s.m.topic
}

func (s *subscription) Unsubscribe() {
	s.once.Do(func() {
		s.stopWait()
		s.release(s.m)
	})
}
