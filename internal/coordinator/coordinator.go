package coordinator

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/northstack/katalyst/internal/adapter"
	"github.com/northstack/katalyst/internal/oplog"
	"github.com/northstack/katalyst/internal/txn"
	"github.com/northstack/katalyst/internal/wfstate"
	"github.com/northstack/katalyst/pkg/errors"
	"github.com/northstack/katalyst/pkg/logger"
)

// Body is a transaction body: it runs inside the database transaction and
// under the ambient workflow context, and returns the value the coordinator
// hands back to the transaction's caller on success.
type Body[T any] func(ctx context.Context, tx pgx.Tx) (T, error)

// TxRunner is the transactional primitive the coordinator needs from the
// storage layer: begin a DB transaction, run fn, commit or roll back. The
// production implementation is *storage.DB; tests substitute a fake so
// the coordinator's phase/adapter/event-dedup behavior can be exercised
// without a real Postgres instance.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error
}

// Coordinator is the Transaction Coordinator (C7): it drives a body through
// begin/validate/commit/rollback, firing the adapter registry at each phase
// and keeping the durable operation log and workflow state stores in sync
// (§4.7).
type Coordinator struct {
	DB       TxRunner
	Adapters *adapter.Registry
	OpLog    oplog.Store
	WFState  wfstate.Store
	Logger   *logger.Logger
}

// New wires the coordinator's collaborators.
func New(db TxRunner, adapters *adapter.Registry, opLog oplog.Store, wfState wfstate.Store, log *logger.Logger) *Coordinator {
	return &Coordinator{DB: db, Adapters: adapters, OpLog: opLog, WFState: wfState, Logger: log}
}

type txKey struct{}

// txHolder wraps the transaction handle so a nested Run detects the outer
// transaction even when the TxRunner hands its body a nil pgx.Tx.
type txHolder struct{ tx pgx.Tx }

func withTx(ctx context.Context, tx pgx.Tx) context.Context {
	return context.WithValue(ctx, txKey{}, txHolder{tx: tx})
}

func txFromContext(ctx context.Context) (pgx.Tx, bool) {
	h, ok := ctx.Value(txKey{}).(txHolder)
	return h.tx, ok
}

// Run executes body as a transaction named workflowName. If workflowID is
// empty, a fresh UUID v4 is allocated. A call made from inside another
// transaction's body (ctx already carries a database transaction) shares
// the outer workflow id, context, and database transaction: it does not
// re-begin and is a no-op for C2/C9 setup and teardown (§4.7 step 6).
func Run[T any](ctx context.Context, c *Coordinator, workflowName, workflowID string, body Body[T]) (T, error) {
	var zero T

	if tx, ok := txFromContext(ctx); ok {
		return body(ctx, tx)
	}

	if workflowID == "" {
		workflowID = txn.NewWorkflowID()
	}
	ctx = txn.WithWorkflow(ctx, workflowID)

	if _, err := c.Adapters.Run(ctx, adapter.PhaseBeforeBegin, c.Logger); err != nil {
		c.Logger.Error().Err(err).Str("workflow_id", workflowID).Msg("BEFORE_BEGIN aborted transaction")
		return zero, err
	}

	var result T
	var bodyErr error

	txErr := c.DB.WithTx(ctx, func(tx pgx.Tx) error {
		ctx := withTx(ctx, tx)

		if _, err := c.Adapters.Run(ctx, adapter.PhaseAfterBegin, c.Logger); err != nil {
			return err
		}

		if err := c.WFState.StartWorkflow(ctx, workflowID, workflowName); err != nil {
			c.Logger.Warn().Err(err).Str("workflow_id", workflowID).Msg("failed to record workflow start")
		}

		result, bodyErr = body(ctx, tx)
		if bodyErr != nil {
			return errors.UserBody(bodyErr)
		}

		if _, err := c.Adapters.RunFailFast(ctx, adapter.PhaseBeforeCommitValidation, c.Logger); err != nil {
			return err
		}

		if _, err := c.Adapters.RunFailFast(ctx, adapter.PhaseBeforeCommit, c.Logger); err != nil {
			return err
		}

		return nil
	})

	if txErr != nil {
		c.Adapters.RunBestEffort(ctx, adapter.PhaseOnRollback, c.Logger)
		c.Adapters.RunBestEffort(ctx, adapter.PhaseAfterRollback, c.Logger)

		failedAt := c.highestOperationIndex(ctx, workflowID)
		if err := c.WFState.FailWorkflow(ctx, workflowID, failedAt, txErr.Error()); err != nil {
			c.Logger.Warn().Err(err).Str("workflow_id", workflowID).Msg("failed to record workflow failure")
		}

		return zero, txErr
	}

	c.Adapters.RunBestEffort(ctx, adapter.PhaseAfterCommit, c.Logger)

	entries := c.OpLog.GetAllOperations(ctx, workflowID)
	if err := c.WFState.CommitWorkflow(ctx, workflowID, len(entries)); err != nil {
		c.Logger.Warn().Err(err).Str("workflow_id", workflowID).Msg("failed to record workflow commit")
	}
	if err := c.OpLog.MarkAllAsCommitted(ctx, workflowID); err != nil {
		c.Logger.Warn().Err(err).Str("workflow_id", workflowID).Msg("failed to mark operations committed")
	}

	return result, nil
}

// highestOperationIndex returns the highest operationIndex logged so far
// for workflowID, or nil if none was logged (§4.7 step 8c). Entries are
// appended asynchronously by oplog.Tracked, so a failure that happens
// immediately after the last tracked call can race the background write;
// this reflects whatever has landed by the time rollback runs.
func (c *Coordinator) highestOperationIndex(ctx context.Context, workflowID string) *int64 {
	entries := c.OpLog.GetAllOperations(ctx, workflowID)
	if len(entries) == 0 {
		return nil
	}
	highest := entries[0].OperationIndex
	for _, e := range entries[1:] {
		if e.OperationIndex > highest {
			highest = e.OperationIndex
		}
	}
	return &highest
}
