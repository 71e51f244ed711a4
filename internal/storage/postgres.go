// Package storage provides the PostgreSQL-backed implementations of the
// Operation Log Store (C1) and Workflow State Store (C2), plus the
// transactional primitive the coordinator (C7) wraps a transaction's
// before/after body with.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/northstack/katalyst/internal/config"
	"github.com/northstack/katalyst/internal/oplog"
	"github.com/northstack/katalyst/internal/wfstate"
	katerrors "github.com/northstack/katalyst/pkg/errors"
	"github.com/northstack/katalyst/pkg/logger"
)

// DB wraps a pgxpool for database operations and implements both the
// operation log store and workflow state store contracts.
type DB struct {
	pool   *pgxpool.Pool
	logger *logger.Logger
}

// New creates a new PostgreSQL connection pool.
func New(ctx context.Context, cfg *config.DatabaseConfig, log *logger.Logger) (*DB, error) {
	connString := fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Name, cfg.SSLMode,
	)

	poolConfig, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxOpenConns)
	poolConfig.MinConns = int32(cfg.MaxIdleConns)
	poolConfig.MaxConnLifetime = cfg.ConnMaxLifetime
	poolConfig.MaxConnIdleTime = cfg.ConnMaxIdleTime
	poolConfig.ConnConfig.ConnectTimeout = 10 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Info().Str("host", cfg.Host).Int("port", cfg.Port).Str("database", cfg.Name).
		Msg("connected to PostgreSQL")

	return &DB{pool: pool, logger: log}, nil
}

func (db *DB) Close() {
	db.pool.Close()
	db.logger.Info().Msg("PostgreSQL connection closed")
}

func (db *DB) Pool() *pgxpool.Pool { return db.pool }

// WithTx runs fn inside a transaction, rolling back on error or panic and
// committing otherwise. This is the transactional primitive the
// coordinator (C7) uses to wrap a transaction's before/after body; the
// pgx.Tx it hands to fn is the same connection user repository code
// receives, so no inner call ever acquires a second one (§5).
func (db *DB) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback(ctx)
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			db.logger.Error().Err(rbErr).Msg("failed to rollback transaction")
		}
		return err
	}

	return tx.Commit(ctx)
}

// Begin starts a transaction directly, for callers that need explicit
// control over commit/rollback timing rather than the fn-scoped WithTx
// helper. The coordinator uses WithTx, not Begin.
func (db *DB) Begin(ctx context.Context) (pgx.Tx, error) {
	return db.pool.Begin(ctx)
}

// Migrate runs the core schema migrations (§6).
func (db *DB) Migrate(ctx context.Context) error {
	migrations := []string{
		migrationCreateWorkflowState,
		migrationCreateOperationLog,
		migrationCreateIndexes,
	}

	for i, migration := range migrations {
		if _, err := db.pool.Exec(ctx, migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}

	db.logger.Info().Int("count", len(migrations)).Msg("database migrations completed")
	return nil
}

const migrationCreateWorkflowState = `
CREATE TABLE IF NOT EXISTS workflow_state (
    workflow_id TEXT PRIMARY KEY,
    workflow_name TEXT NOT NULL,
    status TEXT NOT NULL,
    total_operations INT NOT NULL DEFAULT 0,
    failed_at_operation INT NULL,
    error_message TEXT NULL,
    created_at BIGINT NOT NULL,
    completed_at BIGINT NULL
);
`

const migrationCreateOperationLog = `
CREATE TABLE IF NOT EXISTS operation_log (
    workflow_id TEXT NOT NULL,
    operation_index INT NOT NULL,
    operation_type TEXT NOT NULL,
    resource_type TEXT NOT NULL,
    resource_id TEXT NULL,
    operation_data TEXT NULL,
    undo_data TEXT NULL,
    status TEXT NOT NULL,
    error_message TEXT NULL,
    created_at BIGINT NOT NULL,
    committed_at BIGINT NULL,
    undone_at BIGINT NULL,
    last_error_at BIGINT NULL,
    PRIMARY KEY (workflow_id, operation_index)
);
`

const migrationCreateIndexes = `
CREATE INDEX IF NOT EXISTS idx_operation_log_status ON operation_log(status);
CREATE INDEX IF NOT EXISTS idx_operation_log_created_at ON operation_log(created_at);
CREATE INDEX IF NOT EXISTS idx_workflow_state_status_created_at ON workflow_state(status, created_at);
`

// OperationLog returns an oplog.Store backed by this pool.
func (db *DB) OperationLog() oplog.Store { return opLogStore{db} }

// WorkflowState returns a wfstate.Store backed by this pool.
func (db *DB) WorkflowState() wfstate.Store { return workflowStateStore{db} }

type opLogStore struct{ db *DB }

type workflowStateStore struct{ db *DB }

// --- oplog.Store ---

func (s opLogStore) LogOperation(ctx context.Context, entry *oplog.Entry) {
	now := time.Now()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now
	}
	_, err := s.db.pool.Exec(ctx, `
		INSERT INTO operation_log
			(workflow_id, operation_index, operation_type, resource_type, resource_id,
			 operation_data, undo_data, status, error_message, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (workflow_id, operation_index) DO NOTHING`,
		entry.WorkflowID, entry.OperationIndex, entry.OperationType, entry.ResourceType,
		nullableString(entry.ResourceID), nullableBytes(entry.OperationData), nullableBytes(entry.UndoData),
		entry.Status, nullableString(entry.ErrorMessage), entry.CreatedAt.UnixMilli(),
	)
	if err != nil {
		wrapped := katerrors.LogWriteFailure(entry.OperationType, entry.ResourceType, err)
		s.db.logger.Warn().Err(wrapped).Str("workflow_id", entry.WorkflowID).
			Int64("operation_index", entry.OperationIndex).Msg("failed to log operation")
	}
}

func (s opLogStore) GetPendingOperations(ctx context.Context, workflowID string) []*oplog.Entry {
	return s.db.listEntries(ctx, `
		SELECT workflow_id, operation_index, operation_type, resource_type,
		       COALESCE(resource_id, ''), operation_data, undo_data, status,
		       COALESCE(error_message, ''), created_at, committed_at, undone_at, last_error_at
		FROM operation_log WHERE workflow_id = $1 AND status = $2 ORDER BY operation_index ASC`,
		workflowID, oplog.StatusPending)
}

func (s opLogStore) GetAllOperations(ctx context.Context, workflowID string) []*oplog.Entry {
	return s.db.listEntries(ctx, `
		SELECT workflow_id, operation_index, operation_type, resource_type,
		       COALESCE(resource_id, ''), operation_data, undo_data, status,
		       COALESCE(error_message, ''), created_at, committed_at, undone_at, last_error_at
		FROM operation_log WHERE workflow_id = $1 ORDER BY operation_index ASC`,
		workflowID)
}

func (s opLogStore) MarkAsCommitted(ctx context.Context, workflowID string, operationIndex int64) error {
	_, err := s.db.pool.Exec(ctx, `
		UPDATE operation_log SET status = $1, committed_at = $2
		WHERE workflow_id = $3 AND operation_index = $4`,
		oplog.StatusCommitted, time.Now().UnixMilli(), workflowID, operationIndex)
	if err != nil {
		s.db.logger.Warn().Err(err).Str("workflow_id", workflowID).Msg("failed to mark operation committed")
	}
	return err
}

func (s opLogStore) MarkAllAsCommitted(ctx context.Context, workflowID string) error {
	_, err := s.db.pool.Exec(ctx, `
		UPDATE operation_log SET status = $1, committed_at = $2
		WHERE workflow_id = $3 AND status = $4`,
		oplog.StatusCommitted, time.Now().UnixMilli(), workflowID, oplog.StatusPending)
	if err != nil {
		s.db.logger.Warn().Err(err).Str("workflow_id", workflowID).Msg("failed to mark all operations committed")
	}
	return err
}

func (s opLogStore) MarkAsUndone(ctx context.Context, workflowID string, operationIndex int64) error {
	_, err := s.db.pool.Exec(ctx, `
		UPDATE operation_log SET status = $1, undone_at = $2
		WHERE workflow_id = $3 AND operation_index = $4`,
		oplog.StatusUndone, time.Now().UnixMilli(), workflowID, operationIndex)
	if err != nil {
		s.db.logger.Warn().Err(err).Str("workflow_id", workflowID).Msg("failed to mark operation undone")
	}
	return err
}

func (s opLogStore) MarkAsFailed(ctx context.Context, workflowID string, operationIndex int64, errMsg string) error {
	now := time.Now().UnixMilli()
	_, err := s.db.pool.Exec(ctx, `
		UPDATE operation_log SET status = $1, error_message = $2, last_error_at = $3
		WHERE workflow_id = $4 AND operation_index = $5`,
		oplog.StatusFailed, nullableString(oplog.TruncateError(errMsg)), now, workflowID, operationIndex)
	if err != nil {
		s.db.logger.Warn().Err(err).Str("workflow_id", workflowID).Msg("failed to mark operation failed")
	}
	return err
}

func (s opLogStore) GetFailedOperations(ctx context.Context) []*oplog.Entry {
	return s.db.listEntries(ctx, `
		SELECT workflow_id, operation_index, operation_type, resource_type,
		       COALESCE(resource_id, ''), operation_data, undo_data, status,
		       COALESCE(error_message, ''), created_at, committed_at, undone_at, last_error_at
		FROM operation_log WHERE status = $1 ORDER BY created_at ASC`,
		oplog.StatusFailed)
}

func (s opLogStore) DeleteOldOperations(ctx context.Context, beforeMillis int64) int {
	tag, err := s.db.pool.Exec(ctx, `
		DELETE FROM operation_log WHERE created_at <= $1 AND status != $2`,
		beforeMillis, oplog.StatusPending)
	if err != nil {
		s.db.logger.Warn().Err(err).Msg("failed to delete old operations")
		return 0
	}
	return int(tag.RowsAffected())
}

func (db *DB) listEntries(ctx context.Context, query string, args ...interface{}) []*oplog.Entry {
	rows, err := db.pool.Query(ctx, query, args...)
	if err != nil {
		db.logger.Warn().Err(err).Msg("failed to query operation log")
		return nil
	}
	defer rows.Close()

	var entries []*oplog.Entry
	for rows.Next() {
		e := &oplog.Entry{}
		var createdAt int64
		var committedAt, undoneAt, lastErrorAt *int64
		if err := rows.Scan(&e.WorkflowID, &e.OperationIndex, &e.OperationType, &e.ResourceType,
			&e.ResourceID, &e.OperationData, &e.UndoData, &e.Status,
			&e.ErrorMessage, &createdAt, &committedAt, &undoneAt, &lastErrorAt); err != nil {
			db.logger.Warn().Err(err).Msg("failed to scan operation log row")
			return nil
		}
		e.CreatedAt = time.UnixMilli(createdAt)
		e.CommittedAt = millisToTime(committedAt)
		e.UndoneAt = millisToTime(undoneAt)
		e.LastErrorAt = millisToTime(lastErrorAt)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		db.logger.Warn().Err(err).Msg("failed to iterate operation log rows")
		return nil
	}
	return entries
}

// --- wfstate.Store ---

func (s workflowStateStore) StartWorkflow(ctx context.Context, workflowID, workflowName string) error {
	_, err := s.db.pool.Exec(ctx,
		`INSERT INTO workflow_state (workflow_id, workflow_name, status, created_at) VALUES ($1, $2, $3, $4)`,
		workflowID, workflowName, wfstate.StatusStarted, time.Now().UnixMilli(),
	)
	if err != nil {
		s.db.logger.Warn().Err(err).Str("workflow_id", workflowID).Msg("failed to start workflow")
	}
	return err
}

func (s workflowStateStore) CommitWorkflow(ctx context.Context, workflowID string, totalOperations int) error {
	_, err := s.db.pool.Exec(ctx, `
		UPDATE workflow_state SET status = $1, total_operations = $2, completed_at = $3
		WHERE workflow_id = $4`,
		wfstate.StatusCommitted, totalOperations, time.Now().UnixMilli(), workflowID,
	)
	if err != nil {
		s.db.logger.Warn().Err(err).Str("workflow_id", workflowID).Msg("failed to commit workflow")
	}
	return err
}

func (s workflowStateStore) FailWorkflow(ctx context.Context, workflowID string, failedAtOperation *int64, errMsg string) error {
	_, err := s.db.pool.Exec(ctx, `
		UPDATE workflow_state SET status = $1, failed_at_operation = $2, error_message = $3, completed_at = $4
		WHERE workflow_id = $5`,
		wfstate.StatusFailed, failedAtOperation, nullableString(errMsg), time.Now().UnixMilli(), workflowID,
	)
	if err != nil {
		s.db.logger.Warn().Err(err).Str("workflow_id", workflowID).Msg("failed to fail workflow")
	}
	return err
}

func (s workflowStateStore) MarkAsUndone(ctx context.Context, workflowID string, succeeded bool) error {
	status := wfstate.StatusUndone
	if !succeeded {
		status = wfstate.StatusFailedUndo
	}
	_, err := s.db.pool.Exec(ctx, `
		UPDATE workflow_state SET status = $1, completed_at = $2 WHERE workflow_id = $3`,
		status, time.Now().UnixMilli(), workflowID,
	)
	if err != nil {
		s.db.logger.Warn().Err(err).Str("workflow_id", workflowID).Msg("failed to mark workflow undone")
	}
	return err
}

func (s workflowStateStore) GetWorkflowState(ctx context.Context, workflowID string) *wfstate.Record {
	r := &wfstate.Record{}
	var createdAt int64
	var completedAt *int64
	err := s.db.pool.QueryRow(ctx, `
		SELECT workflow_id, workflow_name, status, total_operations, failed_at_operation,
		       COALESCE(error_message, ''), created_at, completed_at
		FROM workflow_state WHERE workflow_id = $1`,
		workflowID,
	).Scan(&r.WorkflowID, &r.WorkflowName, &r.Status, &r.TotalOperations, &r.FailedAtOperation,
		&r.ErrorMessage, &createdAt, &completedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil
	}
	if err != nil {
		s.db.logger.Warn().Err(err).Str("workflow_id", workflowID).Msg("failed to get workflow state")
		return nil
	}
	r.CreatedAt = time.UnixMilli(createdAt)
	r.CompletedAt = millisToTime(completedAt)
	return r
}

func (s workflowStateStore) GetFailedWorkflows(ctx context.Context) []*wfstate.Record {
	rows, err := s.db.pool.Query(ctx, `
		SELECT workflow_id, workflow_name, status, total_operations, failed_at_operation,
		       COALESCE(error_message, ''), created_at, completed_at
		FROM workflow_state WHERE status IN ($1, $2) ORDER BY created_at ASC`,
		wfstate.StatusFailed, wfstate.StatusFailedUndo,
	)
	if err != nil {
		s.db.logger.Warn().Err(err).Msg("failed to query failed workflows")
		return nil
	}
	defer rows.Close()

	var records []*wfstate.Record
	for rows.Next() {
		r := &wfstate.Record{}
		var createdAt int64
		var completedAt *int64
		if err := rows.Scan(&r.WorkflowID, &r.WorkflowName, &r.Status, &r.TotalOperations,
			&r.FailedAtOperation, &r.ErrorMessage, &createdAt, &completedAt); err != nil {
			s.db.logger.Warn().Err(err).Msg("failed to scan failed workflow row")
			return nil
		}
		r.CreatedAt = time.UnixMilli(createdAt)
		r.CompletedAt = millisToTime(completedAt)
		records = append(records, r)
	}
	return records
}

func (s workflowStateStore) DeleteOldWorkflows(ctx context.Context, beforeMillis int64) int {
	tag, err := s.db.pool.Exec(ctx, `
		DELETE FROM workflow_state WHERE status = $1 AND created_at <= $2`,
		wfstate.StatusCommitted, beforeMillis,
	)
	if err != nil {
		s.db.logger.Warn().Err(err).Msg("failed to delete old workflows")
		return 0
	}
	return int(tag.RowsAffected())
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullableBytes(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

func millisToTime(ms *int64) *time.Time {
	if ms == nil {
		return nil
	}
	t := time.UnixMilli(*ms)
	return &t
}
