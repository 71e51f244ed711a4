package adapter

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/northstack/katalyst/pkg/logger"
)

type fakeAdapter struct {
	name      string
	priority  int
	critical  bool
	failPhase Phase
	calls     *[]string
}

func (f *fakeAdapter) Name() string  { return f.name }
func (f *fakeAdapter) Priority() int { return f.priority }
func (f *fakeAdapter) IsCritical() bool { return f.critical }
func (f *fakeAdapter) OnPhase(ctx context.Context, phase Phase) error {
	if f.calls != nil {
		*f.calls = append(*f.calls, f.name)
	}
	if phase == f.failPhase {
		return errors.New("boom")
	}
	return nil
}

func testLogger() *logger.Logger {
	return logger.New("error", "json", os.Stderr)
}

func TestRegistry_OrderingDescendingPriority(t *testing.T) {
	var calls []string
	r := NewRegistry()
	r.Register(&fakeAdapter{name: "low", priority: 1, calls: &calls})
	r.Register(&fakeAdapter{name: "high", priority: 10, calls: &calls})
	r.Register(&fakeAdapter{name: "mid", priority: 5, calls: &calls})

	r.RunBestEffort(context.Background(), PhaseAfterCommit, testLogger())
	r.RunBestEffort(context.Background(), PhaseAfterCommit, testLogger())

	assert.Equal(t, []string{"high", "mid", "low", "high", "mid", "low"}, calls)
}

func TestRegistry_StableTieBreak(t *testing.T) {
	var calls []string
	r := NewRegistry()
	r.Register(&fakeAdapter{name: "first", priority: 5, calls: &calls})
	r.Register(&fakeAdapter{name: "second", priority: 5, calls: &calls})

	r.RunBestEffort(context.Background(), PhaseAfterCommit, testLogger())

	assert.Equal(t, []string{"first", "second"}, calls)
}

func TestRegistry_RunFailFast_StopsOnCriticalFailure(t *testing.T) {
	var calls []string
	r := NewRegistry()
	r.Register(&fakeAdapter{name: "high", priority: 10, critical: true, failPhase: PhaseBeforeCommit, calls: &calls})
	r.Register(&fakeAdapter{name: "low", priority: 1, calls: &calls})

	results, err := r.RunFailFast(context.Background(), PhaseBeforeCommit, testLogger())

	require.Error(t, err)
	assert.Equal(t, []string{"high"}, calls, "low-priority adapter must not run after a critical failure")
	assert.True(t, results.HasCriticalFailures())
}

func TestRegistry_RunFailFast_ContinuesPastNonCriticalFailure(t *testing.T) {
	var calls []string
	r := NewRegistry()
	r.Register(&fakeAdapter{name: "high", priority: 10, critical: false, failPhase: PhaseBeforeCommit, calls: &calls})
	r.Register(&fakeAdapter{name: "low", priority: 1, calls: &calls})

	results, err := r.RunFailFast(context.Background(), PhaseBeforeCommit, testLogger())

	require.NoError(t, err)
	assert.Equal(t, []string{"high", "low"}, calls)
	assert.Len(t, results.GetNonCriticalFailures(), 1)
	assert.Len(t, results.GetSuccesses(), 1)
}

func TestRegistry_RunBestEffort_NeverStops(t *testing.T) {
	var calls []string
	r := NewRegistry()
	r.Register(&fakeAdapter{name: "a", priority: 10, critical: true, failPhase: PhaseOnRollback, calls: &calls})
	r.Register(&fakeAdapter{name: "b", priority: 1, calls: &calls})

	results := r.RunBestEffort(context.Background(), PhaseOnRollback, testLogger())

	assert.Equal(t, []string{"a", "b"}, calls)
	assert.True(t, results.HasCriticalFailures())
	assert.Len(t, results.GetSuccesses(), 1)
}

func TestIsFailFast(t *testing.T) {
	assert.True(t, IsFailFast(PhaseBeforeBegin))
	assert.True(t, IsFailFast(PhaseAfterBegin))
	assert.True(t, IsFailFast(PhaseBeforeCommitValidation))
	assert.True(t, IsFailFast(PhaseBeforeCommit))
	assert.False(t, IsFailFast(PhaseAfterCommit))
	assert.False(t, IsFailFast(PhaseOnRollback))
	assert.False(t, IsFailFast(PhaseAfterRollback))
}

func TestRegistry_Run_DispatchesByPhasePolicy(t *testing.T) {
	r := NewRegistry()
	r.Register(&fakeAdapter{name: "critical", priority: 1, critical: true, failPhase: PhaseBeforeCommit})

	_, err := r.Run(context.Background(), PhaseBeforeCommit, testLogger())
	assert.Error(t, err, "BEFORE_COMMIT is fail-fast, a critical failure must surface")

	results, err := r.Run(context.Background(), PhaseAfterCommit, testLogger())
	assert.NoError(t, err, "AFTER_COMMIT is best-effort, it never returns an error")
	assert.NotNil(t, results)
}
