package workflow

import (
	"context"
	"fmt"
	"time"
)

// StepFunc performs one step's work.
type StepFunc func(ctx context.Context) error

// step is one named unit of work in a composed workflow.
type step struct {
	name string
	run  StepFunc
}

// Checkpoint is a named position inside a composed workflow from which
// execution can resume. It carries only an integer step index; it is not
// durable by itself — persisting which checkpoint was last passed is the
// caller's responsibility, typically via the operation/workflow stores
// (§4.12).
type Checkpoint struct {
	Name      string
	StepIndex int
}

// ComposedWorkflow is the immutable result of Builder.Build(): a named,
// ordered sequence of steps plus the checkpoints declared between them.
type ComposedWorkflow struct {
	Name        string
	ID          string
	steps       []step
	Checkpoints []Checkpoint
}

// Builder programmatically assembles a multi-step workflow (C13).
type Builder struct {
	name        string
	id          string
	steps       []step
	checkpoints []Checkpoint
}

// NewBuilder starts a composed workflow named name with the given id
// (typically the ambient workflow id from the enclosing transaction).
func NewBuilder(name, id string) *Builder {
	return &Builder{name: name, id: id}
}

// Step appends a named unit of work.
func (b *Builder) Step(name string, run StepFunc) *Builder {
	b.steps = append(b.steps, step{name: name, run: run})
	return b
}

// Checkpoint records a named checkpoint bound to the index of the next
// step that will be appended — resuming from it re-enters execution there.
func (b *Builder) Checkpoint(name string) *Builder {
	b.checkpoints = append(b.checkpoints, Checkpoint{Name: name, StepIndex: len(b.steps)})
	return b
}

// Build finalizes the workflow.
func (b *Builder) Build() *ComposedWorkflow {
	return &ComposedWorkflow{Name: b.name, ID: b.id, steps: b.steps, Checkpoints: b.checkpoints}
}

// StepResult records the outcome of one executed step.
type StepResult struct {
	Name      string
	Succeeded bool
	Duration  time.Duration
	Error     string
}

// Status is the terminal outcome of an Execute/ResumeFrom call.
type Status string

const (
	StatusSucceeded Status = "SUCCEEDED"
	StatusFailed    Status = "FAILED"
)

// Result aggregates the outcome of running a composed workflow, whether
// from the start or resumed from a checkpoint.
type Result struct {
	WorkflowID string
	Status     Status
	Steps      []StepResult
}

// Execute runs every step in order starting at index 0.
func (w *ComposedWorkflow) Execute(ctx context.Context) *Result {
	return w.run(ctx, 0)
}

// ResumeFrom looks up the named checkpoint and starts at its StepIndex. It
// returns an error if no checkpoint with that name exists; the workflow is
// not run in that case.
func (w *ComposedWorkflow) ResumeFrom(ctx context.Context, checkpointName string) (*Result, error) {
	for _, cp := range w.Checkpoints {
		if cp.Name == checkpointName {
			return w.run(ctx, cp.StepIndex), nil
		}
	}
	return nil, fmt.Errorf("checkpoint not found: %s", checkpointName)
}

func (w *ComposedWorkflow) run(ctx context.Context, from int) *Result {
	result := &Result{WorkflowID: w.ID, Status: StatusSucceeded}

	for i := from; i < len(w.steps); i++ {
		s := w.steps[i]
		start := time.Now()
		err := s.run(ctx)
		duration := time.Since(start)

		if err != nil {
			result.Steps = append(result.Steps, StepResult{
				Name: s.name, Succeeded: false, Duration: duration, Error: err.Error(),
			})
			result.Status = StatusFailed
			return result
		}

		result.Steps = append(result.Steps, StepResult{Name: s.name, Succeeded: true, Duration: duration})
	}

	return result
}
