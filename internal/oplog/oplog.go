// Package oplog implements the durable, append-only Operation Log Store
// (C1) and the tracked-repository wrapper (C4) that writes to it without
// blocking the repository call it instruments.
package oplog

import (
	"context"
	"encoding/json"
	"reflect"
	"strings"
	"time"

	"github.com/northstack/katalyst/internal/txn"
	"github.com/northstack/katalyst/pkg/logger"
)

// Status is the lifecycle state of a single operation-log entry.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusCommitted Status = "COMMITTED"
	StatusUndone    Status = "UNDONE"
	StatusFailed    Status = "FAILED"
)

// Closed set of well-known operation types (§3). Repositories may also
// declare their own; the core never inspects the string beyond matching it
// against an undo strategy's CanHandle.
const (
	OpInsert       = "INSERT"
	OpUpdate       = "UPDATE"
	OpDelete       = "DELETE"
	OpAPICall      = "API_CALL"
	OpExternalCall = "EXTERNAL_CALL"
	OpNotification = "NOTIFICATION"
)

// errorMessageLimit bounds how much of a failure message is retained per
// entry; longer messages are truncated rather than rejected.
const errorMessageLimit = 2000

// Entry is one row of the operation log: a single tracked side effect
// performed on behalf of a workflow, in the order it happened.
type Entry struct {
	WorkflowID     string
	OperationIndex int64
	OperationType  string
	ResourceType   string
	ResourceID     string
	Status         Status
	OperationData  json.RawMessage
	UndoData       json.RawMessage
	ErrorMessage   string
	CreatedAt      time.Time
	CommittedAt    *time.Time
	UndoneAt       *time.Time
	LastErrorAt    *time.Time
}

// Store is the append-only, per-workflow-ordered operation log contract
// (§4.1). LogOperation swallows storage errors after logging a warning;
// the Mark* writes log a warning and also return the error, which the
// coordinator logs without failing the transaction. Every read returns an
// empty result on storage error rather than propagating it, since the
// framework must never let bookkeeping failures surface as the caller's
// own error.
type Store interface {
	// LogOperation appends a PENDING row for (workflowId, operationIndex).
	// Failures are logged and swallowed: the underlying repository call has
	// already returned by the time this is invoked from Tracked.
	LogOperation(ctx context.Context, entry *Entry)
	// GetPendingOperations returns PENDING rows for a workflow, ascending
	// by operationIndex.
	GetPendingOperations(ctx context.Context, workflowID string) []*Entry
	// GetAllOperations returns every row for a workflow, any status,
	// ascending by operationIndex — the ordering the undo engine (C6)
	// reverses and the recovery job (C14) relies on.
	GetAllOperations(ctx context.Context, workflowID string) []*Entry
	// MarkAsCommitted transitions one entry to COMMITTED and stamps
	// CommittedAt.
	MarkAsCommitted(ctx context.Context, workflowID string, operationIndex int64) error
	// MarkAllAsCommitted transitions every PENDING entry of a workflow to
	// COMMITTED, used by the coordinator at the end of a successful
	// transaction.
	MarkAllAsCommitted(ctx context.Context, workflowID string) error
	// MarkAsUndone transitions one entry to UNDONE and stamps UndoneAt.
	MarkAsUndone(ctx context.Context, workflowID string, operationIndex int64) error
	// MarkAsFailed transitions one entry to FAILED and records a
	// (possibly truncated) error message.
	MarkAsFailed(ctx context.Context, workflowID string, operationIndex int64, errMsg string) error
	// GetFailedOperations scans every workflow for FAILED rows, ordered by
	// CreatedAt ascending.
	GetFailedOperations(ctx context.Context) []*Entry
	// DeleteOldOperations removes rows with CreatedAt <= beforeMillis and
	// status != PENDING. PENDING rows are never reaped.
	DeleteOldOperations(ctx context.Context, beforeMillis int64) int
}

// Tracked wraps a repository call: the body executes and its result is
// retained unconditionally, then — if an ambient workflow id is present on
// ctx — an entry is asynchronously appended to store describing the call.
// The append never blocks the caller and a failure to append never changes
// the returned result (§4.4 steps 1-4).
//
// resourceType follows the convention in §4.4: when the caller passes "",
// it is derived by stripping a trailing "Repository" suffix from the
// repository value's type name, falling back to "Unknown" if nothing
// remains.
func Tracked[T any](ctx context.Context, store Store, repo interface{}, operationType, resourceType, resourceID string, operationData, undoData json.RawMessage, body func(ctx context.Context) (T, error)) (T, error) {
	result, bodyErr := body(ctx)

	workflowID := txn.WorkflowID(ctx)
	if workflowID == "" || store == nil {
		return result, bodyErr
	}

	if resourceType == "" {
		resourceType = resourceTypeOf(repo)
	}

	operationIndex := txn.NextOperationIndex(ctx)

	// The entry is logged PENDING regardless of the body's outcome: §3's
	// invariant is PENDING -> {COMMITTED, FAILED}, and only the
	// coordinator (on commit) or the recovery job (post-hoc) transitions
	// it away from PENDING.
	entry := &Entry{
		WorkflowID:     workflowID,
		OperationIndex: operationIndex,
		OperationType:  operationType,
		ResourceType:   resourceType,
		ResourceID:     resourceID,
		Status:         StatusPending,
		OperationData:  operationData,
		UndoData:       undoData,
	}

	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.FromContext(ctx).Error().
					Interface("panic", r).Str("workflow_id", workflowID).
					Msg("recovered from panic while logging operation")
			}
		}()
		logEntrySafely(ctx, store, entry)
	}()

	return result, bodyErr
}

func logEntrySafely(ctx context.Context, store Store, entry *Entry) {
	bgCtx := context.WithoutCancel(ctx)
	log := logger.FromContext(ctx)
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("operation log store panicked")
		}
	}()
	store.LogOperation(bgCtx, entry)
}

// resourceTypeOf strips a trailing "Repository" from repo's type name,
// falling back to "Unknown" if nothing remains.
func resourceTypeOf(repo interface{}) string {
	if repo == nil {
		return "Unknown"
	}
	t := reflect.TypeOf(repo)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	name := t.Name()
	name = strings.TrimSuffix(name, "Repository")
	if name == "" {
		return "Unknown"
	}
	return name
}

// TruncateError bounds msg to errorMessageLimit bytes so pathologically
// long driver/bus error strings never blow out the error_message column.
func TruncateError(msg string) string {
	if len(msg) <= errorMessageLimit {
		return msg
	}
	return msg[:errorMessageLimit]
}
