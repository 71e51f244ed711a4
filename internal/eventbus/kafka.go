package eventbus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/northstack/katalyst/internal/config"
	"github.com/northstack/katalyst/pkg/logger"
)

// KafkaBus implements Bus over franz-go, the alternate transport selectable
// via config.EventBusConfig.Transport. A standalone produce/consume client
// and a handler-map dispatch layer collapse into one type here, satisfying
// the shared Bus interface so the coordinator's events adapter never needs
// to know which transport is live.
type KafkaBus struct {
	client *kgo.Client
	logger *logger.Logger
	topic  string

	mu       sync.RWMutex
	handlers map[string][]Handler
	closed   bool
	cancel   context.CancelFunc
}

// NewKafkaBus dials cfg.KafkaBrokers and starts a background fetch loop
// across cfg.KafkaTopic, dispatching to whichever handlers Subscribe has
// registered by subject.
func NewKafkaBus(cfg *config.EventBusConfig, log *logger.Logger) (*KafkaBus, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.KafkaBrokers...),
		kgo.ConsumerGroup(cfg.ClientID),
		kgo.ConsumeTopics(cfg.KafkaTopic),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka client: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	bus := &KafkaBus{
		client: client, logger: log, topic: cfg.KafkaTopic,
		handlers: make(map[string][]Handler), cancel: cancel,
	}

	go bus.consumeLoop(ctx)

	log.Info().Interface("brokers", cfg.KafkaBrokers).Str("topic", cfg.KafkaTopic).Msg("connected to Kafka")
	return bus, nil
}

// Publish produces msg to the shared topic, carrying subject as the record
// key so every subscriber can filter on it.
func (b *KafkaBus) Publish(ctx context.Context, subject string, msg *Message) error {
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

	record := &kgo.Record{Topic: b.topic, Key: []byte(subject), Value: msg.Data}
	results := b.client.ProduceSync(ctx, record)
	if err := results.FirstErr(); err != nil {
		return fmt.Errorf("failed to produce event: %w", err)
	}

	b.logger.Debug().Str("subject", subject).Str("event_id", msg.ID).Msg("event published")
	return nil
}

type kafkaSubscription struct {
	bus     *KafkaBus
	subject string
	index   int
}

func (s *kafkaSubscription) Unsubscribe() error {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	handlers := s.bus.handlers[s.subject]
	if s.index < len(handlers) {
		s.bus.handlers[s.subject] = append(handlers[:s.index], handlers[s.index+1:]...)
	}
	return nil
}

// Subscribe registers handler for subject. Every subscriber shares the same
// underlying consumer group; dispatch happens in the background fetch loop
// by matching a record's key against the subject.
func (b *KafkaBus) Subscribe(ctx context.Context, subject string, handler Handler) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, fmt.Errorf("event bus is closed")
	}

	b.handlers[subject] = append(b.handlers[subject], handler)
	return &kafkaSubscription{bus: b, subject: subject, index: len(b.handlers[subject]) - 1}, nil
}

func (b *KafkaBus) HasHandlers(subject string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[subject]) > 0
}

func (b *KafkaBus) consumeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		fetches := b.client.PollFetches(ctx)
		if fetches.IsClientClosed() {
			return
		}

		for _, err := range fetches.Errors() {
			b.logger.Error().Err(err.Err).Str("topic", err.Topic).Msg("kafka fetch error")
		}

		fetches.EachRecord(func(record *kgo.Record) {
			subject := string(record.Key)
			msg := &Message{ID: subject, Subject: subject, Data: record.Value, Timestamp: record.Timestamp}

			b.mu.RLock()
			handlers := append([]Handler(nil), b.handlers[subject]...)
			b.mu.RUnlock()

			for _, h := range handlers {
				if err := h(ctx, msg); err != nil {
					b.logger.Error().Err(err).Str("subject", subject).Msg("event handler error")
				}
			}
		})
	}
}

func (b *KafkaBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	b.cancel()
	b.client.Close()
	b.logger.Info().Msg("Kafka event bus closed")
	return nil
}
