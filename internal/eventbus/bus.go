// Package eventbus provides the pluggable transport behind the Events
// Transaction Adapter (C12): the abstract publish/hasHandlers contract from
// the external interfaces section, backed by either NATS JetStream or
// Kafka (via franz-go), selected by configuration.
package eventbus

import (
	"context"
	"time"
)

// Message is the wire representation of one published event.
type Message struct {
	ID        string
	Subject   string
	Type      string
	Data      []byte
	Timestamp time.Time
}

// Handler processes one delivered message. Returning an error signals the
// transport to retry delivery where the transport supports it.
type Handler func(ctx context.Context, msg *Message) error

// Subscription can be cancelled.
type Subscription interface {
	Unsubscribe() error
}

// Bus is the abstract event transport the coordinator's events adapter
// publishes through. Every concrete transport (NATS, Kafka) implements it.
type Bus interface {
	Publish(ctx context.Context, subject string, msg *Message) error
	Subscribe(ctx context.Context, subject string, handler Handler) (Subscription, error)
	// HasHandlers reports whether at least one local subscriber is
	// registered for subject — the validator consults this so an event
	// nobody can consume is not silently published into the void.
	HasHandlers(subject string) bool
	Close() error
}
