package model

import "fmt"

type UnknownWorkflowTypeError struct {
	WorkflowType string
}

func (e UnknownWorkflowTypeError) Error() string {
	return fmt.Sprintf("unknown workflow type %s", e.WorkflowType)
}

type DuplicateExecutionError struct {
	WorkflowType string
	EntityId     string
}

func (e DuplicateExecutionError) Error() string {
	return fmt.Sprintf("execution of %s already running for entity %s", e.WorkflowType, e.EntityId)
}

type NotEligibleApproverError struct {
	Approver  string
	StepOrder int
}

func (e NotEligibleApproverError) Error() string {
	return fmt.Sprintf("%s is not an eligible approver for step %d", e.Approver, e.StepOrder)
}

type AlreadyVotedError struct {
	Approver  string
	StepOrder int
}

func (e AlreadyVotedError) Error() string {
	return fmt.Sprintf("%s already voted on step %d", e.Approver, e.StepOrder)
}

type StepNotAwaitingApprovalError struct {
	StepOrder int
	Status    StepStatus
}

func (e StepNotAwaitingApprovalError) Error() string {
	return fmt.Sprintf("step %d is %s, not awaiting approval", e.StepOrder, e.Status)
}

type ClarificationNotPendingError struct {
	ClarificationId string
}

func (e ClarificationNotPendingError) Error() string {
	return fmt.Sprintf("clarification %s is not pending", e.ClarificationId)
}

// ExecutorFailureError wraps a failure reported by the external step executor.
// Timeout reports whether the failure was a cancellation of a hung call rather
// than a genuine step failure.
type ExecutorFailureError struct {
	StepType string
	Detail   string
	Timeout  bool
}

func (e ExecutorFailureError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("executor for %s timed out: %s", e.StepType, e.Detail)
	}
	return fmt.Sprintf("executor for %s failed: %s", e.StepType, e.Detail)
}
