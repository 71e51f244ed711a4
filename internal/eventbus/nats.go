package eventbus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/northstack/katalyst/internal/config"
	"github.com/northstack/katalyst/pkg/logger"
)

// NATSBus implements Bus using NATS, with JetStream for durable delivery
// when enabled. The stream layout is a single general event stream rather
// than one per entity type, since these events are transaction-scoped
// rather than tied to any one resource kind.
type NATSBus struct {
	conn   *nats.Conn
	js     nats.JetStreamContext
	logger *logger.Logger
	mu     sync.RWMutex
	subs   []*nats.Subscription
	byKey  map[string]int
	closed bool
}

type natsSubscription struct {
	bus *NATSBus
	sub *nats.Subscription
}

func (s *natsSubscription) Unsubscribe() error {
	s.bus.mu.Lock()
	s.bus.byKey[s.sub.Subject]--
	s.bus.mu.Unlock()
	return s.sub.Unsubscribe()
}

// NewNATSBus connects to NATS and, if enabled, ensures the durable
// KATALYST_EVENTS stream exists.
func NewNATSBus(cfg *config.EventBusConfig, log *logger.Logger) (*NATSBus, error) {
	opts := []nats.Option{
		nats.Name(cfg.ClientID),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	}

	conn, err := nats.Connect(cfg.NATSURL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	bus := &NATSBus{conn: conn, logger: log, byKey: make(map[string]int)}

	if cfg.JetStreamEnabled {
		js, err := conn.JetStream()
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to create JetStream context: %w", err)
		}
		bus.js = js

		_, err = js.AddStream(&nats.StreamConfig{
			Name:      "KATALYST_EVENTS",
			Subjects:  []string{"katalyst.>"},
			Retention: nats.LimitsPolicy,
			MaxAge:    7 * 24 * time.Hour,
			MaxBytes:  1024 * 1024 * 1024,
			Discard:   nats.DiscardOld,
			Storage:   nats.FileStorage,
			Replicas:  1,
		})
		if err != nil && err != nats.ErrStreamNameAlreadyInUse {
			log.Warn().Err(err).Msg("failed to create katalyst events stream")
		}
	}

	log.Info().Str("url", cfg.NATSURL).Bool("jetstream", cfg.JetStreamEnabled).Msg("connected to NATS")
	return bus, nil
}

func (b *NATSBus) Publish(ctx context.Context, subject string, msg *Message) error {
	b.mu.RLock()
	closed := b.closed
	b.mu.RUnlock()
	if closed {
		return fmt.Errorf("event bus is closed")
	}

	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	msg.Subject = subject

	var err error
	if b.js != nil {
		_, err = b.js.Publish(subject, msg.Data)
	} else {
		err = b.conn.Publish(subject, msg.Data)
	}
	if err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	b.logger.Debug().Str("subject", subject).Str("event_id", msg.ID).Msg("event published")
	return nil
}

func (b *NATSBus) Subscribe(ctx context.Context, subject string, handler Handler) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, fmt.Errorf("event bus is closed")
	}

	sub, err := b.conn.Subscribe(subject, func(m *nats.Msg) {
		msg := &Message{Subject: m.Subject, Data: m.Data, Timestamp: time.Now()}
		if err := handler(context.Background(), msg); err != nil {
			b.logger.Error().Err(err).Str("subject", subject).Msg("event handler error")
		}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}

	b.subs = append(b.subs, sub)
	b.byKey[subject]++
	return &natsSubscription{bus: b, sub: sub}, nil
}

func (b *NATSBus) HasHandlers(subject string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.byKey[subject] > 0
}

func (b *NATSBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true

	for _, sub := range b.subs {
		if err := sub.Unsubscribe(); err != nil {
			b.logger.Warn().Err(err).Msg("failed to unsubscribe")
		}
	}
	if err := b.conn.Drain(); err != nil {
		b.logger.Warn().Err(err).Msg("failed to drain NATS connection")
	}
	b.logger.Info().Msg("NATS event bus closed")
	return nil
}
