package executor

import (
	"context"
	"fmt"

	"github.com/nkashyap/hireflow/model"
)

type Outcome string

const OUTCOME_SUCCESS Outcome = "success"
const OUTCOME_NEEDS_INPUT Outcome = "needs_input"
const OUTCOME_FAILURE Outcome = "failure"

// Result is what the external step executor reports back. Success carries the
// step output, NeedsInput carries the prompt for a human, Failure carries the
// error detail.
type Result struct {
	Outcome Outcome
	Output  any
	Prompt  string
	Err     error
}

func Success(output any) Result {
	return Result{Outcome: OUTCOME_SUCCESS, Output: output}
}

func NeedsInput(prompt string) Result {
	return Result{Outcome: OUTCOME_NEEDS_INPUT, Prompt: prompt}
}

func Failure(err error) Result {
	return Result{Outcome: OUTCOME_FAILURE, Err: err}
}

// WorkflowContext is the read-only view of the owning execution handed to the
// executor: prior step outputs and the clarification log, so a re-invoked step
// can see the human response it asked for.
type WorkflowContext struct {
	ExecutionId    string
	WorkflowType   string
	EntityId       string
	EntityType     string
	Outputs        map[string]any
	Clarifications []model.Clarification
}

// StepExecutor runs the actual step logic, resume parsing, interview
// scheduling and so on. The engine only decides whether and when to call it.
type StepExecutor interface {
	Execute(ctx context.Context, step *model.StepExecution, wfCtx WorkflowContext) Result
}

// Func adapts a plain function to StepExecutor.
type Func func(ctx context.Context, step *model.StepExecution, wfCtx WorkflowContext) Result

func (f Func) Execute(ctx context.Context, step *model.StepExecution, wfCtx WorkflowContext) Result {
	return f(ctx, step, wfCtx)
}

// Registry dispatches executors by step type. Registration happens at startup
// alongside catalog load; Resolve never mutates.
type Registry struct {
	executors map[string]StepExecutor
}

func NewRegistry() *Registry {
	return &Registry{executors: make(map[string]StepExecutor)}
}

func (r *Registry) Register(stepType string, ex StepExecutor) {
	r.executors[stepType] = ex
}

func (r *Registry) Resolve(stepType string) (StepExecutor, error) {
	ex, ok := r.executors[stepType]
	if !ok {
		return nil, fmt.Errorf("no executor registered for step type %s", stepType)
	}
	return ex, nil
}
