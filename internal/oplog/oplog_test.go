package oplog

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/northstack/katalyst/internal/txn"
)

// memStore is a minimal in-memory Store fake, sufficient for exercising
// Tracked's fire-and-forget write path without a real database.
type memStore struct {
	mu      sync.Mutex
	entries []*Entry
}

func newMemStore() *memStore { return &memStore{} }

func (m *memStore) LogOperation(ctx context.Context, entry *Entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry)
}

func (m *memStore) GetPendingOperations(ctx context.Context, workflowID string) []*Entry {
	return nil
}

func (m *memStore) GetAllOperations(ctx context.Context, workflowID string) []*Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Entry
	for _, e := range m.entries {
		if e.WorkflowID == workflowID {
			out = append(out, e)
		}
	}
	return out
}

func (m *memStore) MarkAsCommitted(ctx context.Context, workflowID string, operationIndex int64) error {
	return nil
}
func (m *memStore) MarkAllAsCommitted(ctx context.Context, workflowID string) error { return nil }
func (m *memStore) MarkAsUndone(ctx context.Context, workflowID string, operationIndex int64) error {
	return nil
}
func (m *memStore) MarkAsFailed(ctx context.Context, workflowID string, operationIndex int64, errMsg string) error {
	return nil
}
func (m *memStore) GetFailedOperations(ctx context.Context) []*Entry { return nil }
func (m *memStore) DeleteOldOperations(ctx context.Context, beforeMillis int64) int { return 0 }

func (m *memStore) snapshot() []*Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Entry, len(m.entries))
	copy(out, m.entries)
	return out
}

// waitForEntries polls until n entries have been logged or the deadline
// passes, since Tracked logs asynchronously in its own goroutine.
func waitForEntries(t *testing.T, store *memStore, workflowID string, n int) []*Entry {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		got := store.GetAllOperations(context.Background(), workflowID)
		if len(got) >= n {
			return got
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d entries, got %d", n, len(store.GetAllOperations(context.Background(), workflowID)))
	return nil
}

type WidgetRepository struct{}

type Repository struct{}

func TestTracked_ReturnsBodyResultRegardlessOfLogging(t *testing.T) {
	store := newMemStore()
	ctx := txn.WithWorkflow(context.Background(), "wf-1")

	result, err := Tracked(ctx, store, &WidgetRepository{}, OpInsert, "", "widget-1", nil, nil,
		func(ctx context.Context) (string, error) { return "created", nil })

	require.NoError(t, err)
	assert.Equal(t, "created", result)

	entries := waitForEntries(t, store, "wf-1", 1)
	assert.Equal(t, OpInsert, entries[0].OperationType)
	assert.Equal(t, "Widget", entries[0].ResourceType, "derived from WidgetRepository by stripping the Repository suffix")
	assert.Equal(t, "widget-1", entries[0].ResourceID)
	assert.Equal(t, StatusPending, entries[0].Status)
}

func TestTracked_PreservesBodyErrorEvenWhenLogged(t *testing.T) {
	store := newMemStore()
	ctx := txn.WithWorkflow(context.Background(), "wf-2")
	boom := errors.New("insert failed")

	result, err := Tracked(ctx, store, &WidgetRepository{}, OpInsert, "", "widget-2", nil, nil,
		func(ctx context.Context) (int, error) { return 0, boom })

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, result)
	waitForEntries(t, store, "wf-2", 1)
}

func TestTracked_NoOpWhenNoAmbientWorkflow(t *testing.T) {
	store := newMemStore()
	ctx := context.Background()

	result, err := Tracked(ctx, store, &WidgetRepository{}, OpInsert, "", "widget-3", nil, nil,
		func(ctx context.Context) (string, error) { return "created", nil })

	require.NoError(t, err)
	assert.Equal(t, "created", result)
	time.Sleep(10 * time.Millisecond)
	assert.Empty(t, store.snapshot())
}

func TestTracked_AllocatesIncreasingOperationIndexPerWorkflow(t *testing.T) {
	store := newMemStore()
	ctx := txn.WithWorkflow(context.Background(), "wf-4")

	for i := 0; i < 3; i++ {
		_, err := Tracked(ctx, store, &WidgetRepository{}, OpUpdate, "", "widget-4", nil, nil,
			func(ctx context.Context) (bool, error) { return true, nil })
		require.NoError(t, err)
	}

	entries := waitForEntries(t, store, "wf-4", 3)
	assert.Equal(t, []int64{0, 1, 2}, []int64{entries[0].OperationIndex, entries[1].OperationIndex, entries[2].OperationIndex})
}

func TestTracked_ExplicitResourceTypeOverridesDerivation(t *testing.T) {
	store := newMemStore()
	ctx := txn.WithWorkflow(context.Background(), "wf-5")

	_, err := Tracked(ctx, store, &WidgetRepository{}, OpInsert, "CustomType", "id-5", nil, nil,
		func(ctx context.Context) (string, error) { return "ok", nil })
	require.NoError(t, err)

	entries := waitForEntries(t, store, "wf-5", 1)
	assert.Equal(t, "CustomType", entries[0].ResourceType)
}

func TestResourceTypeOf_FallsBackToUnknownForNilOrBareName(t *testing.T) {
	assert.Equal(t, "Unknown", resourceTypeOf(nil))
	assert.Equal(t, "Unknown", resourceTypeOf(&Repository{}))
	assert.Equal(t, "Widget", resourceTypeOf(&WidgetRepository{}))
}

func TestTruncateError_TruncatesBeyondLimit(t *testing.T) {
	short := "boom"
	assert.Equal(t, short, TruncateError(short))

	long := strings.Repeat("x", errorMessageLimit+500)
	truncated := TruncateError(long)
	assert.Len(t, truncated, errorMessageLimit)
}
