// Package adapter implements the Adapter Registry (C8): an ordered,
// prioritized set of cross-cutting participants notified at every phase of
// a transaction. Adapters reach the Transaction Event Context (C9, in
// internal/txn) through the ctx passed to OnPhase; this package does not
// import it.
package adapter

import (
	"context"
	"sort"
	"time"

	"github.com/northstack/katalyst/pkg/errors"
	"github.com/northstack/katalyst/pkg/logger"
)

// Phase is one of the recognized transaction lifecycle points (§3).
type Phase string

const (
	PhaseBeforeBegin            Phase = "BEFORE_BEGIN"
	PhaseAfterBegin             Phase = "AFTER_BEGIN"
	PhaseBeforeCommitValidation Phase = "BEFORE_COMMIT_VALIDATION"
	PhaseBeforeCommit           Phase = "BEFORE_COMMIT"
	PhaseAfterCommit            Phase = "AFTER_COMMIT"
	PhaseOnRollback             Phase = "ON_ROLLBACK"
	PhaseAfterRollback          Phase = "AFTER_ROLLBACK"
)

// failFastPhases runs in descending-priority order and stops (re-raising)
// the moment a critical adapter fails. The remaining phases are
// best-effort: every adapter runs regardless of earlier failures.
var failFastPhases = map[Phase]bool{
	PhaseBeforeBegin:            true,
	PhaseAfterBegin:             true,
	PhaseBeforeCommitValidation: true,
	PhaseBeforeCommit:           true,
}

// IsFailFast reports whether phase uses the fail-fast execution mode
// (§4.8's "Per-phase policy used by C7").
func IsFailFast(phase Phase) bool { return failFastPhases[phase] }

// Adapter is a cross-cutting participant notified at every phase of a
// transaction (§3's Adapter Descriptor).
type Adapter interface {
	Name() string
	Priority() int
	IsCritical() bool
	OnPhase(ctx context.Context, phase Phase) error
}

// Registry holds the ordered set of registered adapters. Registration
// order is preserved among adapters of equal priority, and execution order
// within a phase is always descending priority, ties broken by
// registration order (§3, §8).
type Registry struct {
	adapters []Adapter
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds adapter to the registry.
func (r *Registry) Register(a Adapter) {
	r.adapters = append(r.adapters, a)
}

// ordered returns adapters sorted by descending priority, stable on ties
// (Go's sort.SliceStable preserves registration order among equal
// priorities).
func (r *Registry) ordered() []Adapter {
	ordered := make([]Adapter, len(r.adapters))
	copy(ordered, r.adapters)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Priority() > ordered[j].Priority()
	})
	return ordered
}

// AdapterResult records one adapter's outcome for one phase.
type AdapterResult struct {
	Adapter  string
	Phase    Phase
	Success  bool
	Error    error
	Duration time.Duration
}

// PhaseExecutionResults aggregates every adapter's outcome for one phase
// invocation.
type PhaseExecutionResults struct {
	Phase   Phase
	Results []AdapterResult
}

func (p *PhaseExecutionResults) HasCriticalFailures() bool {
	return len(p.GetCriticalFailures()) > 0
}

func (p *PhaseExecutionResults) GetCriticalFailures() []AdapterResult {
	var out []AdapterResult
	for _, r := range p.Results {
		if !r.Success && r.Error != nil && errors.Is(r.Error, errors.KindCriticalAdapter) {
			out = append(out, r)
		}
	}
	return out
}

func (p *PhaseExecutionResults) GetNonCriticalFailures() []AdapterResult {
	var out []AdapterResult
	for _, r := range p.Results {
		if !r.Success && r.Error != nil && errors.Is(r.Error, errors.KindNonCriticalAdapter) {
			out = append(out, r)
		}
	}
	return out
}

func (p *PhaseExecutionResults) GetSuccesses() []AdapterResult {
	var out []AdapterResult
	for _, r := range p.Results {
		if r.Success {
			out = append(out, r)
		}
	}
	return out
}

func (p *PhaseExecutionResults) TotalDuration() time.Duration {
	var total time.Duration
	for _, r := range p.Results {
		total += r.Duration
	}
	return total
}

// RunFailFast invokes every adapter for phase in priority order; the
// moment a critical adapter fails, it stops and returns the wrapping
// CriticalAdapterError alongside the partial results. A non-critical
// failure is recorded and execution continues.
func (r *Registry) RunFailFast(ctx context.Context, phase Phase, log *logger.Logger) (*PhaseExecutionResults, error) {
	results := &PhaseExecutionResults{Phase: phase}

	for _, a := range r.ordered() {
		start := time.Now()
		err := a.OnPhase(ctx, phase)
		duration := time.Since(start)

		if err == nil {
			results.Results = append(results.Results, AdapterResult{Adapter: a.Name(), Phase: phase, Success: true, Duration: duration})
			continue
		}

		if a.IsCritical() {
			wrapped := errors.CriticalAdapter(a.Name(), err)
			results.Results = append(results.Results, AdapterResult{Adapter: a.Name(), Phase: phase, Success: false, Error: wrapped, Duration: duration})
			return results, wrapped
		}

		wrapped := errors.NonCriticalAdapter(a.Name(), err)
		log.Warn().Err(wrapped).Str("adapter", a.Name()).Str("phase", string(phase)).Msg("non-critical adapter failed")
		results.Results = append(results.Results, AdapterResult{Adapter: a.Name(), Phase: phase, Success: false, Error: wrapped, Duration: duration})
	}

	return results, nil
}

// RunBestEffort invokes every adapter for phase in priority order and never
// re-raises: every failure, critical or not, is logged and aggregated.
func (r *Registry) RunBestEffort(ctx context.Context, phase Phase, log *logger.Logger) *PhaseExecutionResults {
	results := &PhaseExecutionResults{Phase: phase}

	for _, a := range r.ordered() {
		start := time.Now()
		err := a.OnPhase(ctx, phase)
		duration := time.Since(start)

		if err == nil {
			results.Results = append(results.Results, AdapterResult{Adapter: a.Name(), Phase: phase, Success: true, Duration: duration})
			continue
		}

		var wrapped error
		if a.IsCritical() {
			wrapped = errors.CriticalAdapter(a.Name(), err)
		} else {
			wrapped = errors.NonCriticalAdapter(a.Name(), err)
		}
		log.Warn().Err(wrapped).Str("adapter", a.Name()).Str("phase", string(phase)).Msg("adapter failed during best-effort phase")
		results.Results = append(results.Results, AdapterResult{Adapter: a.Name(), Phase: phase, Success: false, Error: wrapped, Duration: duration})
	}

	return results
}

// Run dispatches to RunFailFast or RunBestEffort according to the phase's
// policy (§4.8).
func (r *Registry) Run(ctx context.Context, phase Phase, log *logger.Logger) (*PhaseExecutionResults, error) {
	if IsFailFast(phase) {
		return r.RunFailFast(ctx, phase, log)
	}
	return r.RunBestEffort(ctx, phase, log), nil
}
