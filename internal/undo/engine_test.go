package undo

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/northstack/katalyst/internal/oplog"
	"github.com/northstack/katalyst/pkg/logger"
)

type fakeDeleter struct {
	deleted []string
}

func (f *fakeDeleter) Delete(ctx context.Context, resourceType, resourceID string) error {
	f.deleted = append(f.deleted, resourceID)
	return nil
}

// failingWriter always fails for a configured resourceType, used to model
// the DELETE strategy's deterministic failure in scenario 5.
type failingWriter struct {
	written []string
	failFor string
}

func (w *failingWriter) Write(ctx context.Context, resourceType string, preImage map[string]interface{}) error {
	if resourceType == w.failFor {
		return errors.New("deterministic failure")
	}
	w.written = append(w.written, resourceType)
	return nil
}

func testLogger() *logger.Logger { return logger.New("error", "json", os.Stderr) }

func preImage(t *testing.T, fields map[string]interface{}) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(fields)
	require.NoError(t, err)
	return b
}

func TestUndoEngine_BestEffortReversalInLIFOOrder(t *testing.T) {
	deleter := &fakeDeleter{}
	// The DELETE-undo strategy writes the pre-image via Writer; configure it
	// to fail only for resourceType "C" to model scenario 5's deterministic
	// DELETE-strategy failure.
	writer := &failingWriter{failFor: "C"}

	registry := DefaultRegistry(deleter, writer, nil)
	engine := NewEngine(registry, nil, RetryPolicy{MaxRetries: 0, Retryable: func(error) bool { return true }}, testLogger())

	entries := []*oplog.Entry{
		{OperationIndex: 0, OperationType: oplog.OpInsert, ResourceType: "A", ResourceID: "a-1"},
		{OperationIndex: 1, OperationType: oplog.OpUpdate, ResourceType: "B", UndoData: preImage(t, map[string]interface{}{"name": "old-b"})},
		{OperationIndex: 2, OperationType: oplog.OpDelete, ResourceType: "C", UndoData: preImage(t, map[string]interface{}{"id": "c-1"})},
	}

	result := engine.Undo(context.Background(), "wf-undo", entries)

	require.Len(t, result.Steps, 3)
	// LIFO: index 2 (DELETE/C) first, then 1 (UPDATE/B), then 0 (INSERT/A).
	assert.Equal(t, int64(2), result.Steps[0].OperationIndex)
	assert.Equal(t, int64(1), result.Steps[1].OperationIndex)
	assert.Equal(t, int64(0), result.Steps[2].OperationIndex)

	assert.False(t, result.Steps[0].Succeeded, "DELETE-undo for C is configured to fail")
	assert.True(t, result.Steps[1].Succeeded, "UPDATE-undo for B must still run and succeed")
	assert.True(t, result.Steps[2].Succeeded, "INSERT-undo for A must still run and succeed")

	assert.Equal(t, 2, result.Succeeded)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, []string{"a-1"}, deleter.deleted)
	assert.Equal(t, []string{"B"}, writer.written)
}

func TestUndoEngine_MissingStrategyCountsAsFailure(t *testing.T) {
	registry := NewRegistry()
	engine := NewEngine(registry, nil, RetryPolicy{MaxRetries: 0, Retryable: func(error) bool { return true }}, testLogger())

	entries := []*oplog.Entry{{OperationIndex: 0, OperationType: "UNKNOWN_TYPE", ResourceType: "X"}}
	result := engine.Undo(context.Background(), "wf-unknown", entries)

	assert.Equal(t, 0, result.Succeeded)
	assert.Equal(t, 1, result.Failed)
	assert.Contains(t, result.Steps[0].Error, "no undo strategy registered")
}

func TestInsertUndo_MissingResourceIDFails(t *testing.T) {
	deleter := &fakeDeleter{}
	strategy := &InsertUndo{Deleter: deleter}
	err := strategy.Undo(context.Background(), &oplog.Entry{OperationType: oplog.OpInsert, ResourceType: "A"})
	require.Error(t, err)
	assert.Empty(t, deleter.deleted)
}

func TestUpdateUndo_MissingUndoDataFails(t *testing.T) {
	writer := &failingWriter{}
	strategy := &UpdateUndo{Writer: writer}
	err := strategy.Undo(context.Background(), &oplog.Entry{OperationType: oplog.OpUpdate, ResourceType: "B"})
	require.Error(t, err)
}

func TestRegistry_ResolveTriesInRegistrationOrder(t *testing.T) {
	deleter := &fakeDeleter{}
	writer := &failingWriter{}
	registry := DefaultRegistry(deleter, writer, nil)

	assert.IsType(t, &InsertUndo{}, registry.Resolve(oplog.OpInsert, "anything"))
	assert.IsType(t, &UpdateUndo{}, registry.Resolve(oplog.OpUpdate, "anything"))
	assert.IsType(t, &DeleteUndo{}, registry.Resolve(oplog.OpDelete, "anything"))
	assert.IsType(t, &APICallUndo{}, registry.Resolve(oplog.OpAPICall, "anything"))
	assert.Nil(t, registry.Resolve("NO_SUCH_TYPE", "anything"))
}
