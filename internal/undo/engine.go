package undo

import (
	"context"

	"github.com/northstack/katalyst/internal/oplog"
	"github.com/northstack/katalyst/pkg/errors"
	"github.com/northstack/katalyst/pkg/logger"
)

// StepResult records the reversal attempt for one operation-log entry.
type StepResult struct {
	OperationIndex int64
	OperationType  string
	ResourceType   string
	Succeeded      bool
	Error          string
}

// Result aggregates an undo pass over one workflow's full operation list
// (§4.6).
type Result struct {
	WorkflowID string
	Total      int
	Succeeded  int
	Failed     int
	Steps      []StepResult
}

// Store is the subset of oplog.Store the engine needs to record the
// outcome of each reversed step.
type Store interface {
	MarkAsUndone(ctx context.Context, workflowID string, operationIndex int64) error
}

// Engine orchestrates best-effort reversal of a failed workflow's
// operations in LIFO order (C6). A failure in one step never stops the
// remaining steps from being attempted — aborting on the first failure
// would leave later operations unreversed, and best-effort undo maximizes
// recovered state (§4.6 rationale, §9 open question resolved in favor of
// continuing).
type Engine struct {
	Registry *Registry
	Store    Store
	Policy   RetryPolicy
	Logger   *logger.Logger
}

// NewEngine builds an undo engine over registry, persisting outcomes to
// store under the given retry policy.
func NewEngine(registry *Registry, store Store, policy RetryPolicy, log *logger.Logger) *Engine {
	return &Engine{Registry: registry, Store: store, Policy: policy, Logger: log}
}

// Undo reverses entries in LIFO order (highest operationIndex first),
// running each through its resolved strategy under the engine's retry
// policy, and returns the aggregate result. entries must already be sorted
// ascending by operationIndex, the order GetAllOperations/
// GetPendingOperations return.
func (e *Engine) Undo(ctx context.Context, workflowID string, entries []*oplog.Entry) *Result {
	result := &Result{WorkflowID: workflowID, Total: len(entries)}

	for i := len(entries) - 1; i >= 0; i-- {
		entry := entries[i]
		step := StepResult{
			OperationIndex: entry.OperationIndex,
			OperationType:  entry.OperationType,
			ResourceType:   entry.ResourceType,
		}

		strategy := e.Registry.Resolve(entry.OperationType, entry.ResourceType)
		if strategy == nil {
			step.Error = "no undo strategy registered for " + entry.OperationType + "/" + entry.ResourceType
			result.Failed++
			result.Steps = append(result.Steps, step)
			e.logFailure(workflowID, entry, step.Error)
			continue
		}

		ok := e.Policy.Run(ctx, func(ctx context.Context) (bool, error) {
			return true, strategy.Undo(ctx, entry)
		})

		if ok {
			step.Succeeded = true
			result.Succeeded++
			if e.Store != nil {
				if err := e.Store.MarkAsUndone(ctx, workflowID, entry.OperationIndex); err != nil {
					e.Logger.Warn().Err(err).Str("workflow_id", workflowID).
						Int64("operation_index", entry.OperationIndex).Msg("failed to mark operation undone")
				}
			}
		} else {
			step.Error = "undo failed after retries"
			result.Failed++
			e.logFailure(workflowID, entry, step.Error)
		}

		result.Steps = append(result.Steps, step)
	}

	return result
}

func (e *Engine) logFailure(workflowID string, entry *oplog.Entry, msg string) {
	wrapped := errors.UndoStepFailure(entry.OperationIndex, errFromMessage(msg))
	e.Logger.Error().Err(wrapped).Str("workflow_id", workflowID).
		Str("resource_type", entry.ResourceType).Msg("undo step failed")
}

type plainError string

func (e plainError) Error() string { return string(e) }

func errFromMessage(msg string) error { return plainError(msg) }
