package main

import (
	"context"
	"fmt"

	"github.com/northstack/katalyst/internal/oplog"
	"github.com/northstack/katalyst/internal/undo"
	"github.com/northstack/katalyst/internal/wfstate"
	"github.com/northstack/katalyst/pkg/logger"
)

// undoRecoverer adapts the undo engine to recovery.Recoverer. The
// registration sample has no checkpoint re-entry of its own — its
// transaction bodies are one-shot closures, not a resumable workflow
// definition — so both strategies fall back to reversing whatever the
// failed workflow already logged, which is the safe default when a
// concrete domain doesn't supply its own resumption logic.
type undoRecoverer struct {
	OpLog oplog.Store
	Undo  *undo.Engine
	Log   *logger.Logger
}

func (r *undoRecoverer) ResumeFromCheckpoint(ctx context.Context, record *wfstate.Record) error {
	return r.undoWorkflow(ctx, record)
}

func (r *undoRecoverer) Retry(ctx context.Context, record *wfstate.Record) error {
	return r.undoWorkflow(ctx, record)
}

func (r *undoRecoverer) undoWorkflow(ctx context.Context, record *wfstate.Record) error {
	entries := r.OpLog.GetAllOperations(ctx, record.WorkflowID)
	if len(entries) == 0 {
		return nil
	}

	result := r.Undo.Undo(ctx, record.WorkflowID, entries)
	r.Log.Info().Str("workflow_id", record.WorkflowID).
		Int("total", result.Total).Int("succeeded", result.Succeeded).Int("failed", result.Failed).
		Msg("recovery undo pass completed")

	if result.Failed > 0 {
		return fmt.Errorf("undo recovery left %d of %d operations unreversed", result.Failed, result.Total)
	}
	return nil
}
