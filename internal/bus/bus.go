// Package bus is the Topic Bus: named fan-out channels connecting device
// sessions, command publishers and notification observers.
//
// Three drivers share one local delivery core:
//   - MemoryBus delivers within the process (single instance, tests)
//   - MQTTBus relays through an MQTT broker
//   - RedisBus relays through Redis pub/sub
//
// Each subscriber owns a bounded mailbox drained by its own goroutine, so
// payloads from one publisher to one topic reach each subscriber in
// publish order and a failing subscriber never affects the others.
//
// Delivery is at-least-once to every subscriber that keeps up. When a
// subscriber's mailbox is full the publisher waits up to
// Options.DeliveryTimeout for room; if the subscriber is still stalled the
// payload is dropped for it alone, counted and logged. A stalled
// subscriber therefore delays publishers by at most that timeout and can
// miss payloads; it never blocks them indefinitely.
package bus

import (
	"context"
	"errors"
)

var (
	ErrClosed       = errors.New("bus: closed")
	ErrInvalidTopic = errors.New("bus: topic cannot be empty")
	ErrNilHandler   = errors.New("bus: handler cannot be nil")

	// ErrDeliveryFailed is logged (never returned to publishers) when a
	// subscriber's mailbox is full or its handler fails.
	ErrDeliveryFailed = errors.New("bus: delivery failed")
)

// Handler receives payloads published to a subscribed topic. Calls for one
// subscription are sequential. A returned error is logged as a delivery
// failure for that subscriber only.
type Handler func(ctx context.Context, topic string, payload []byte) error

// Subscription is one handler registered on one topic.
type Subscription interface {
	Topic() string
	// Unsubscribe stops delivery. Safe to call more than once and from
	// within the handler.
	Unsubscribe()
}

// Bus is the Topic Bus port.
type Bus interface {
	// Subscribe registers h on topic until Unsubscribe is called or ctx
	// ends. ctx is also passed to every handler call.
	Subscribe(ctx context.Context, topic string, h Handler) (Subscription, error)

	// Publish fans payload out to every current subscriber of topic.
	// The payload must not be modified after the call.
	Publish(ctx context.Context, topic string, payload []byte) error

	Close() error
}

// Logger is the logging interface used by the bus drivers.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}
