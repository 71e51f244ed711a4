package workflow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMachine_HappyPathTransitions(t *testing.T) {
	m := New("wf-1")
	assert.Equal(t, StateCreated, m.CurrentState())

	require.True(t, m.Transition(TransitionBeginExecution, "started"))
	assert.Equal(t, StateRunning, m.CurrentState())

	require.True(t, m.Transition(TransitionCommit, "done"))
	assert.Equal(t, StateCommitted, m.CurrentState())
	assert.True(t, m.IsTerminal())
	assert.False(t, m.IsActive())
}

func TestMachine_PauseResume(t *testing.T) {
	m := New("wf-2")
	require.True(t, m.Transition(TransitionBeginExecution, ""))
	require.True(t, m.Transition(TransitionPause, "waiting on external call"))
	assert.Equal(t, StatePaused, m.CurrentState())
	require.True(t, m.Transition(TransitionResume, ""))
	assert.Equal(t, StateRunning, m.CurrentState())
}

func TestMachine_FailRetryUndoCycle(t *testing.T) {
	m := New("wf-3")
	require.True(t, m.Transition(TransitionBeginExecution, ""))
	require.True(t, m.Transition(TransitionFail, "db error"))
	assert.True(t, m.CanUndo())

	require.True(t, m.Transition(TransitionBeginUndo, ""))
	assert.Equal(t, StateUndoing, m.CurrentState())
	require.True(t, m.Transition(TransitionUndoComplete, ""))
	assert.Equal(t, StateUndone, m.CurrentState())
	assert.True(t, m.IsTerminal())
}

func TestMachine_FailThenUndoFail(t *testing.T) {
	m := New("wf-4")
	require.True(t, m.Transition(TransitionBeginExecution, ""))
	require.True(t, m.Transition(TransitionFail, ""))
	require.True(t, m.Transition(TransitionBeginUndo, ""))
	require.True(t, m.Transition(TransitionUndoFail, "undo could not reach remote"))
	assert.Equal(t, StateFailedUndo, m.CurrentState())
	assert.True(t, m.IsTerminal())
}

func TestMachine_RetryFromFailed(t *testing.T) {
	m := New("wf-5")
	require.True(t, m.Transition(TransitionBeginExecution, ""))
	require.True(t, m.Transition(TransitionFail, ""))
	require.True(t, m.Transition(TransitionRetry, "retrying"))
	assert.Equal(t, StateRunning, m.CurrentState())
}

func TestMachine_IllegalTransitionIsRejectedWithoutMutation(t *testing.T) {
	m := New("wf-6")
	before := m.CurrentState()
	historyLen := m.HistoryLen()

	assert.False(t, m.Transition(TransitionCommit, "too early"))
	assert.Equal(t, before, m.CurrentState())
	assert.Equal(t, historyLen, m.HistoryLen())

	assert.False(t, m.Transition(Transition("NOT_A_REAL_TRANSITION"), ""))
	assert.Equal(t, before, m.CurrentState())
	assert.Equal(t, historyLen, m.HistoryLen())
}

func TestMachine_TerminalStatesRejectEverything(t *testing.T) {
	m := New("wf-7")
	require.True(t, m.Transition(TransitionBeginExecution, ""))
	require.True(t, m.Transition(TransitionCommit, ""))

	for _, kind := range []Transition{
		TransitionBeginExecution, TransitionPause, TransitionResume,
		TransitionCommit, TransitionFail, TransitionRetry,
		TransitionBeginUndo, TransitionUndoComplete, TransitionUndoFail,
	} {
		assert.False(t, m.Transition(kind, ""), "terminal state must reject %s", kind)
	}
}

func TestMachine_Describe(t *testing.T) {
	m := New("wf-8")
	assert.Equal(t, "wf-8: CREATED (1 transitions)", m.Describe())
	m.Transition(TransitionBeginExecution, "")
	assert.Equal(t, "wf-8: RUNNING (2 transitions)", m.Describe())
}

func TestRegistry_CreateGetCleanup(t *testing.T) {
	r := NewRegistry()
	m := r.Create("wf-9")
	got, ok := r.Get("wf-9")
	require.True(t, ok)
	assert.Same(t, m, got)

	_, ok = r.Get("missing")
	assert.False(t, ok)

	m.Transition(TransitionBeginExecution, "")
	m.Transition(TransitionCommit, "")
	// Not yet old enough to be cleaned up.
	assert.Equal(t, 0, r.CleanupOlderThan(time.Hour))

	assert.Equal(t, 1, r.CleanupOlderThan(-time.Second))
	_, ok = r.Get("wf-9")
	assert.False(t, ok)
}
