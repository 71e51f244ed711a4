// Package wfstate implements the durable Workflow State Store (C2): the
// record of record for whether a workflow started, committed, or failed,
// kept deliberately separate from the in-memory Workflow State Machine
// (see internal/workflow) so a process crash never loses the durable
// record even though it loses in-memory machine state.
package wfstate

import (
	"context"
	"time"
)

// Status is the durable lifecycle status of a workflow (§3).
type Status string

const (
	StatusStarted    Status = "STARTED"
	StatusCommitted  Status = "COMMITTED"
	StatusFailed     Status = "FAILED"
	StatusUndone     Status = "UNDONE"
	StatusFailedUndo Status = "FAILED_UNDO"
)

// Record is the durable row for one workflow.
type Record struct {
	WorkflowID        string
	WorkflowName      string
	Status            Status
	TotalOperations   int
	FailedAtOperation *int64
	ErrorMessage      string
	CreatedAt         time.Time
	CompletedAt       *time.Time
}

// Store persists workflow status transitions independently of the
// in-memory state machine (§4.2). Writes never block the enclosing
// transaction's success path; recoverable errors are logged by the caller
// and swallowed. Read queries return a nil record / empty slice on error.
type Store interface {
	// StartWorkflow creates the STARTED row for a new workflow.
	StartWorkflow(ctx context.Context, workflowID, workflowName string) error
	// CommitWorkflow transitions a workflow to COMMITTED and stamps
	// CompletedAt.
	CommitWorkflow(ctx context.Context, workflowID string, totalOperations int) error
	// FailWorkflow transitions a workflow to FAILED, recording the given
	// operation index (the coordinator passes the highest index logged so
	// far, nil if none were logged yet) and an error message.
	FailWorkflow(ctx context.Context, workflowID string, failedAtOperation *int64, errMsg string) error
	// MarkAsUndone transitions a FAILED workflow to UNDONE or
	// FAILED_UNDO and stamps CompletedAt.
	MarkAsUndone(ctx context.Context, workflowID string, succeeded bool) error
	// GetWorkflowState returns the record for a workflow, or nil if it
	// does not exist or a storage error occurred.
	GetWorkflowState(ctx context.Context, workflowID string) *Record
	// GetFailedWorkflows returns FAILED and FAILED_UNDO rows, ordered by
	// CreatedAt ascending — the query the recovery job (C14) scans with.
	GetFailedWorkflows(ctx context.Context) []*Record
	// DeleteOldWorkflows removes COMMITTED rows with CreatedAt <=
	// beforeMillis, returning the count removed.
	DeleteOldWorkflows(ctx context.Context, beforeMillis int64) int
}
