// Package workflow implements the in-memory Workflow State Machine (C3) and
// the checkpoint-based Workflow Composer (C13). The machine's states are
// intentionally not kept in lockstep with the durable workflow_state table
// (internal/wfstate): the machine tracks the richer in-process lifecycle of
// a running transaction (e.g. PAUSED has no storage row), while the store
// only records whether a workflow started, committed, failed, or was undone.
package workflow

import (
	"fmt"
	"sync"
	"time"
)

// State is one of the eight states a workflow's in-memory machine can be in
// (§3).
type State string

const (
	StateCreated    State = "CREATED"
	StateRunning    State = "RUNNING"
	StatePaused     State = "PAUSED"
	StateCommitted  State = "COMMITTED"
	StateFailed     State = "FAILED"
	StateUndoing    State = "UNDOING"
	StateUndone     State = "UNDONE"
	StateFailedUndo State = "FAILED_UNDO"
)

// Transition is the closed set of transition kinds the machine accepts.
// Any other request — or one of these requested from the wrong state —
// yields false without mutating state or history (§3, §8).
type Transition string

const (
	TransitionBeginExecution Transition = "BEGIN_EXECUTION"
	TransitionPause          Transition = "PAUSE"
	TransitionResume         Transition = "RESUME"
	TransitionCommit         Transition = "COMMIT"
	TransitionFail           Transition = "FAIL"
	TransitionRetry          Transition = "RETRY"
	TransitionBeginUndo      Transition = "BEGIN_UNDO"
	TransitionUndoComplete   Transition = "UNDO_COMPLETE"
	TransitionUndoFail       Transition = "UNDO_FAIL"
)

var transitionTable = map[State]map[Transition]State{
	StateCreated: {
		TransitionBeginExecution: StateRunning,
	},
	StateRunning: {
		TransitionPause:  StatePaused,
		TransitionCommit: StateCommitted,
		TransitionFail:   StateFailed,
	},
	StatePaused: {
		TransitionResume: StateRunning,
	},
	StateFailed: {
		TransitionRetry:     StateRunning,
		TransitionBeginUndo: StateUndoing,
	},
	StateUndoing: {
		TransitionUndoComplete: StateUndone,
		TransitionUndoFail:     StateFailedUndo,
	},
}

var terminalStates = map[State]bool{
	StateCommitted:  true,
	StateUndone:     true,
	StateFailedUndo: true,
}

// HistoryEntry records one transition a machine actually applied, in the
// order it occurred. History is append-only: entries are never mutated or
// removed retroactively.
type HistoryEntry struct {
	State      State
	At         time.Time
	Transition Transition
	Reason     string
}

// Machine is the pure in-memory, single-workflow state machine described by
// C3. It carries no storage dependency and no internal locking beyond what
// is needed to protect its own fields — a workflow is owned by exactly one
// coordinator at a time, so cross-goroutine coordination is the caller's
// responsibility (§4.3).
type Machine struct {
	mu         sync.Mutex
	WorkflowID string
	State      State
	History    []HistoryEntry
	CreatedAt  time.Time
}

// New constructs a machine for workflowID, recording CREATED at the current
// time.
func New(workflowID string) *Machine {
	now := time.Now()
	return &Machine{
		WorkflowID: workflowID,
		State:      StateCreated,
		CreatedAt:  now,
		History:    []HistoryEntry{{State: StateCreated, At: now, Transition: "", Reason: "created"}},
	}
}

// Transition applies kind if legal from the current state, appending to
// history and returning true. An illegal request — wrong kind, wrong
// state, or an unknown kind — returns false and leaves state and history
// untouched.
func (m *Machine) Transition(kind Transition, reason string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	next, ok := transitionTable[m.State][kind]
	if !ok {
		return false
	}

	m.State = next
	m.History = append(m.History, HistoryEntry{State: next, At: time.Now(), Transition: kind, Reason: reason})
	return true
}

// CanUndo reports whether the machine is in FAILED, the only state from
// which BEGIN_UNDO is legal.
func (m *Machine) CanUndo() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.State == StateFailed
}

// IsTerminal reports whether the machine is in one of the three terminal
// states: COMMITTED, UNDONE, FAILED_UNDO.
func (m *Machine) IsTerminal() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return terminalStates[m.State]
}

// IsActive is the negation of IsTerminal.
func (m *Machine) IsActive() bool {
	return !m.IsTerminal()
}

// CurrentState returns the machine's current state.
func (m *Machine) CurrentState() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.State
}

// HistoryLen returns the number of transitions recorded, including the
// initial CREATED entry.
func (m *Machine) HistoryLen() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.History)
}

// Describe renders "<workflowId>: <state> (<historyLength> transitions)"
// per §4.3.
func (m *Machine) Describe() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fmt.Sprintf("%s: %s (%d transitions)", m.WorkflowID, m.State, len(m.History))
}

// Registry keys a set of machines by workflow id, the shape a coordinator
// process actually needs: one machine per in-flight workflow, reaped once
// terminal and past a retention window.
type Registry struct {
	mu        sync.RWMutex
	machines  map[string]*Machine
}

// NewRegistry creates an empty machine registry.
func NewRegistry() *Registry {
	return &Registry{machines: make(map[string]*Machine)}
}

// Create registers and returns a new machine for workflowID.
func (r *Registry) Create(workflowID string) *Machine {
	m := New(workflowID)
	r.mu.Lock()
	r.machines[workflowID] = m
	r.mu.Unlock()
	return m
}

// Get retrieves the machine for workflowID, if any.
func (r *Registry) Get(workflowID string) (*Machine, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.machines[workflowID]
	return m, ok
}

// CleanupOlderThan removes terminal machines whose last transition is older
// than retention, returning the count removed.
func (r *Registry) CleanupOlderThan(retention time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := time.Now().Add(-retention)
	removed := 0
	for id, m := range r.machines {
		if !m.IsTerminal() {
			continue
		}
		last := m.History[len(m.History)-1].At
		if last.Before(cutoff) {
			delete(r.machines, id)
			removed++
		}
	}
	return removed
}
