// Package txn carries the ambient transaction context (C9): the workflow id
// propagated through context.Context, and the per-transaction FIFO queue of
// pending events a transaction body queues for publication on commit.
package txn

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

type workflowIDKey struct{}
type eventContextKey struct{}
type operationIndexKey struct{}

// OperationIndexer hands out the next 0-based operationIndex for a
// workflow (§3: "monotonically increasing operationIndex, 0-based within a
// workflow"). It lives alongside the event context as ambient,
// per-transaction state so C4's tracked(...) wrapper never has to pass an
// index explicitly through repository call chains.
type OperationIndexer struct {
	next int64
}

// Next allocates and returns the next operation index, starting at 0.
func (o *OperationIndexer) Next() int64 {
	return atomic.AddInt64(&o.next, 1) - 1
}

// PendingEvent is a domain event queued during a transaction body, held
// until the transaction commits (or discarded on rollback). EventID must be
// a stable, globally-unique string (Queue assigns a UUID when it is empty);
// EventType is the only other required field, and Payload and Metadata stay
// opaque and transport-agnostic.
type PendingEvent struct {
	EventID   string
	EventType string
	Payload   interface{}
	Metadata  map[string]string
}

// EventContext is the per-transaction FIFO queue of pending events. It is
// safe for concurrent use because a transaction body may queue events from
// goroutines it spawns.
type EventContext struct {
	mu     sync.Mutex
	events []PendingEvent
}

// Queue appends an event to the end of the queue.
func (c *EventContext) Queue(evt PendingEvent) {
	if evt.EventID == "" {
		evt.EventID = uuid.NewString()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, evt)
}

// Peek returns a snapshot of every currently queued event without removing
// them, used by BEFORE_COMMIT_VALIDATION to inspect the queue before
// BEFORE_COMMIT later drains it.
func (c *EventContext) Peek() []PendingEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	snapshot := make([]PendingEvent, len(c.events))
	copy(snapshot, c.events)
	return snapshot
}

// Drain returns every queued event in FIFO order and empties the queue.
func (c *EventContext) Drain() []PendingEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	drained := c.events
	c.events = nil
	return drained
}

// Clear empties the queue without returning its contents, used on rollback
// so queued events are never published.
func (c *EventContext) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = nil
}

// NewWorkflowID allocates a fresh workflow identifier.
func NewWorkflowID() string {
	return uuid.NewString()
}

// WithWorkflow attaches a workflow id and a fresh event context to ctx,
// the idiomatic Go substitute for a coroutine-local: every function that
// receives the returned context can recover both ambient values without a
// process-wide singleton.
func WithWorkflow(ctx context.Context, workflowID string) context.Context {
	ctx = context.WithValue(ctx, workflowIDKey{}, workflowID)
	ctx = context.WithValue(ctx, eventContextKey{}, &EventContext{})
	ctx = context.WithValue(ctx, operationIndexKey{}, &OperationIndexer{})
	return ctx
}

// WorkflowID recovers the ambient workflow id, or "" if none is set.
func WorkflowID(ctx context.Context) string {
	id, _ := ctx.Value(workflowIDKey{}).(string)
	return id
}

// Events recovers the ambient event context. It returns nil if ctx was
// never derived from WithWorkflow — callers that queue events must always
// run inside a transaction body, so a nil result indicates a programming
// error rather than something to default around.
func Events(ctx context.Context) *EventContext {
	ec, _ := ctx.Value(eventContextKey{}).(*EventContext)
	return ec
}

// NextOperationIndex allocates the next operationIndex for the ambient
// workflow, or 0 if ctx carries none (a programming error by the caller,
// mirrored here rather than panicking so a misused tracked() call degrades
// instead of crashing the request).
func NextOperationIndex(ctx context.Context) int64 {
	idx, _ := ctx.Value(operationIndexKey{}).(*OperationIndexer)
	if idx == nil {
		return 0
	}
	return idx.Next()
}

// QueueEvent is a convenience wrapper for Events(ctx).Queue, used by
// transaction bodies that want to publish a domain event on commit.
func QueueEvent(ctx context.Context, eventType string, payload interface{}, metadata map[string]string) {
	if ec := Events(ctx); ec != nil {
		ec.Queue(PendingEvent{EventType: eventType, Payload: payload, Metadata: metadata})
	}
}
