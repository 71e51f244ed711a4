// Package coordinator implements the Transaction Coordinator (C7), the
// central orchestrator that drives a transaction body through its phases,
// and the Events Transaction Adapter (C12) it runs as a built-in,
// always-critical participant.
package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/northstack/katalyst/internal/adapter"
	"github.com/northstack/katalyst/internal/dedup"
	"github.com/northstack/katalyst/internal/eventbus"
	"github.com/northstack/katalyst/internal/eventvalidate"
	"github.com/northstack/katalyst/internal/txn"
	"github.com/northstack/katalyst/pkg/errors"
	"github.com/northstack/katalyst/pkg/logger"
)

// EventsAdapter publishes a transaction's queued events at BEFORE_COMMIT,
// having already validated every one of them at BEFORE_COMMIT_VALIDATION
// (§4.12's Events Transaction Adapter). It is always critical: a validation
// failure aborts the transaction rather than committing state nothing can
// ever announce. Publish failures are logged and never abort it.
type EventsAdapter struct {
	Bus    eventbus.Bus
	Dedup  dedup.Store
	Logger *logger.Logger
}

// NewEventsAdapter wires bus, dedup, and log into an EventsAdapter.
func NewEventsAdapter(bus eventbus.Bus, dedupStore dedup.Store, log *logger.Logger) *EventsAdapter {
	return &EventsAdapter{Bus: bus, Dedup: dedupStore, Logger: log}
}

func (a *EventsAdapter) Name() string     { return "Events" }
func (a *EventsAdapter) Priority() int    { return 5 }
func (a *EventsAdapter) IsCritical() bool { return true }

// OnPhase implements adapter.Adapter.
func (a *EventsAdapter) OnPhase(ctx context.Context, phase adapter.Phase) error {
	switch phase {
	case adapter.PhaseBeforeCommitValidation:
		return a.validate(ctx)
	case adapter.PhaseBeforeCommit:
		return a.publish(ctx)
	case adapter.PhaseOnRollback:
		a.rollback(ctx)
		return nil
	default:
		return nil
	}
}

// validate checks every queued event has at least one registered handler,
// aggregating every failure into a single EventValidationFailed error
// rather than stopping at the first (§4.11).
func (a *EventsAdapter) validate(ctx context.Context) error {
	ec := txn.Events(ctx)
	if ec == nil {
		return nil
	}

	pending := ec.Peek()
	if len(pending) == 0 {
		return nil
	}

	results := eventvalidate.ValidateAll(pending, a.Bus.HasHandlers)

	var failures []string
	for _, r := range results {
		if !r.IsValid {
			failures = append(failures, fmt.Sprintf("%s (%s): %s", r.EventType, r.EventID, r.Error))
		}
	}
	if len(failures) == 0 {
		return nil
	}

	return errors.EventValidation(strings.Join(failures, "; "), fmt.Errorf("%d of %d events failed validation", len(failures), len(pending)))
}

// publish drains the queue and publishes each event in FIFO order. An event
// already marked published in the dedup store is skipped and removed from
// the queue without a publish call, covering the crash-recovery case where
// a prior attempt got the event out before the rest of the commit landed
// (§4.10, §4.12). A publish failure is logged and the loop continues; the
// event is marked published whether or not the publish succeeded.
func (a *EventsAdapter) publish(ctx context.Context) error {
	ec := txn.Events(ctx)
	if ec == nil {
		return nil
	}

	events := ec.Drain()
	for _, evt := range events {
		if a.Dedup != nil {
			published, err := a.Dedup.IsEventPublished(ctx, evt.EventID)
			if err == nil && published {
				continue
			}
		}

		data, err := json.Marshal(evt.Payload)
		if err != nil {
			a.Logger.Error().Err(err).Str("event_id", evt.EventID).Str("event_type", evt.EventType).
				Msg("failed to marshal event payload, skipping publish")
			continue
		}

		msg := &eventbus.Message{ID: evt.EventID, Subject: evt.EventType, Type: evt.EventType, Data: data}
		if err := a.Bus.Publish(ctx, evt.EventType, msg); err != nil {
			wrapped := errors.PublishFailure(evt.EventID, err)
			a.Logger.Error().Err(wrapped).Msg("event publish failed")
		}

		// Marked regardless of publish outcome: the transaction still
		// commits on a publish failure (§7 PublishFailure policy), and a
		// second attempt at this event id must not re-publish it.
		if a.Dedup != nil {
			if err := a.Dedup.MarkAsPublished(ctx, evt.EventID); err != nil {
				a.Logger.Warn().Err(err).Str("event_id", evt.EventID).Msg("failed to mark event published")
			}
		}
	}

	return nil
}

// rollback discards every queued event without publishing or touching the
// dedup store.
func (a *EventsAdapter) rollback(ctx context.Context) {
	if ec := txn.Events(ctx); ec != nil {
		ec.Clear()
	}
}
