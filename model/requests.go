package model

type StartExecutionRequest struct {
	WorkflowType string `json:"workflowType"`
	EntityId     string `json:"entityId"`
	EntityType   string `json:"entityType"`
}

type ApprovalRequest struct {
	Approver string `json:"approver"`
}

type ClarificationRequest struct {
	Prompt string `json:"prompt"`
}

type ClarificationResolution struct {
	Response    any    `json:"response"`
	RespondedBy string `json:"respondedBy"`
}

// ExecutionView is the read model returned by the API: the execution plus all
// of its step records, in order.
type ExecutionView struct {
	Execution      *WorkflowExecution `json:"execution"`
	Steps          []*StepExecution   `json:"steps"`
	CompletedSteps int                `json:"completedSteps"`
}
