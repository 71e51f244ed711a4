// Package eventvalidate implements the Event Publishing Validator (C11): a
// single check asking whether any handler is registered for an event's
// runtime type before the events transaction adapter (C12) commits to
// publishing it.
package eventvalidate

import (
	"fmt"

	"github.com/northstack/katalyst/internal/txn"
)

// Result is the outcome of validating one pending event.
type Result struct {
	EventID   string
	EventType string
	IsValid   bool
	Error     string
}

// HandlerPredicate answers whether at least one handler is registered for
// eventType. Implementations that panic are not recovered here: a panicking
// predicate propagates out of Validate and, via C12, aborts the transaction
// (§4.11).
type HandlerPredicate func(eventType string) bool

// Validate checks evt against hasHandlers. A false predicate result produces
// an invalid Result carrying a message naming the event type; it is never
// itself an error return, matching C12's expectation of an aggregable
// per-event outcome rather than a short-circuiting exception.
func Validate(evt txn.PendingEvent, hasHandlers HandlerPredicate) Result {
	if hasHandlers(evt.EventType) {
		return Result{EventID: evt.EventID, EventType: evt.EventType, IsValid: true}
	}
	return Result{
		EventID:   evt.EventID,
		EventType: evt.EventType,
		IsValid:   false,
		Error:     fmt.Sprintf("no handler registered for event type %q", evt.EventType),
	}
}

// ValidateAll validates every event in events, returning one Result per
// event in the same order.
func ValidateAll(events []txn.PendingEvent, hasHandlers HandlerPredicate) []Result {
	results := make([]Result, len(events))
	for i, evt := range events {
		results[i] = Validate(evt, hasHandlers)
	}
	return results
}
