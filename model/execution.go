package model

import "time"

type ExecutionStatus string

const EXECUTION_RUNNING ExecutionStatus = "running"
const EXECUTION_PAUSED ExecutionStatus = "paused"
const EXECUTION_COMPLETED ExecutionStatus = "completed"
const EXECUTION_FAILED ExecutionStatus = "failed"

func (s ExecutionStatus) Terminal() bool {
	return s == EXECUTION_COMPLETED || s == EXECUTION_FAILED
}

type StepStatus string

const STEP_PENDING StepStatus = "pending"
const STEP_SCHEDULED StepStatus = "scheduled"
const STEP_AWAITING_APPROVAL StepStatus = "awaiting_approval"
const STEP_IN_PROGRESS StepStatus = "in_progress"
const STEP_COMPLETED StepStatus = "completed"
const STEP_FAILED StepStatus = "failed"
const STEP_SKIPPED StepStatus = "skipped"

func (s StepStatus) Terminal() bool {
	return s == STEP_COMPLETED || s == STEP_FAILED || s == STEP_SKIPPED
}

// WorkflowExecution is one run of a workflow definition against one entity,
// for example a hiring workflow against a candidate application.
type WorkflowExecution struct {
	Id             string          `json:"id"`
	WorkflowType   string          `json:"workflowType"`
	EntityId       string          `json:"entityId"`
	EntityType     string          `json:"entityType"`
	Status         ExecutionStatus `json:"status"`
	CurrentStep    int             `json:"currentStep"`
	TotalSteps     int             `json:"totalSteps"`
	Outputs        map[string]any  `json:"outputs"`
	Clarifications []Clarification `json:"clarifications"`
	ErrorMessage   string          `json:"errorMessage,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
	CompletedAt    *time.Time      `json:"completedAt,omitempty"`
}

// HasPendingClarification reports whether the step still waits on a human
// answer.
func (wf *WorkflowExecution) HasPendingClarification(stepOrder int) bool {
	for _, cl := range wf.Clarifications {
		if cl.StepOrder == stepOrder && cl.Status == CLARIFICATION_PENDING {
			return true
		}
	}
	return false
}

func (wf *WorkflowExecution) Clone() *WorkflowExecution {
	cp := *wf
	cp.Outputs = make(map[string]any, len(wf.Outputs))
	for k, v := range wf.Outputs {
		cp.Outputs[k] = v
	}
	cp.Clarifications = make([]Clarification, len(wf.Clarifications))
	copy(cp.Clarifications, wf.Clarifications)
	return &cp
}

// StepExecution is one step of a WorkflowExecution. It carries a snapshot of
// the StepDefinition taken when the execution was created.
type StepExecution struct {
	ExecutionId string `json:"executionId"`

	OrderNumber             int      `json:"orderNumber"`
	StepType                string   `json:"stepType"`
	StepName                string   `json:"stepName"`
	StepDescription         string   `json:"stepDescription"`
	AutoStart               bool     `json:"autoStart"`
	RequiredHumanApproval   bool     `json:"requiredHumanApproval"`
	NumberOfApprovalsNeeded int      `json:"numberOfApprovalsNeeded"`
	Approvers               []string `json:"approvers"`
	DelayInSeconds          int      `json:"delayInSeconds"`
	Skippable               bool     `json:"skippable"`
	MaxRetries              int      `json:"maxRetries"`

	Status            StepStatus `json:"status"`
	ApprovalsReceived []string   `json:"approvalsReceived"`
	ManuallyTriggered bool       `json:"manuallyTriggered"`
	Attempts          int        `json:"attempts"`
	EligibleAt        *time.Time `json:"eligibleAt,omitempty"`
	StartedAt         *time.Time `json:"startedAt,omitempty"`
	CompletedAt       *time.Time `json:"completedAt,omitempty"`
	Result            any        `json:"result,omitempty"`
	FailureReason     string     `json:"failureReason,omitempty"`
}

// NewStepExecution snapshots a StepDefinition into a fresh pending step.
func NewStepExecution(executionId string, def StepDefinition) *StepExecution {
	approvers := make([]string, len(def.Approvers))
	copy(approvers, def.Approvers)
	return &StepExecution{
		ExecutionId:             executionId,
		OrderNumber:             def.OrderNumber,
		StepType:                def.StepType,
		StepName:                def.StepName,
		StepDescription:         def.StepDescription,
		AutoStart:               def.AutoStart,
		RequiredHumanApproval:   def.RequiredHumanApproval,
		NumberOfApprovalsNeeded: def.NumberOfApprovalsNeeded,
		Approvers:               approvers,
		DelayInSeconds:          def.DelayInSeconds,
		Skippable:               def.Skippable,
		MaxRetries:              def.MaxRetries,
		Status:                  STEP_PENDING,
		ApprovalsReceived:       []string{},
	}
}

// ApprovalRequired mirrors StepDefinition.ApprovalRequired on the snapshot.
func (s *StepExecution) ApprovalRequired() bool {
	return s.RequiredHumanApproval && s.NumberOfApprovalsNeeded > 0
}

func (s *StepExecution) QuorumReached() bool {
	return len(s.ApprovalsReceived) >= s.NumberOfApprovalsNeeded
}

// WakeAt is the earliest instant a scheduled step may start.
func (s *StepExecution) WakeAt() time.Time {
	if s.EligibleAt == nil {
		return time.Time{}
	}
	return s.EligibleAt.Add(time.Duration(s.DelayInSeconds) * time.Second)
}

func (s *StepExecution) Clone() *StepExecution {
	cp := *s
	cp.Approvers = make([]string, len(s.Approvers))
	copy(cp.Approvers, s.Approvers)
	cp.ApprovalsReceived = make([]string, len(s.ApprovalsReceived))
	copy(cp.ApprovalsReceived, s.ApprovalsReceived)
	if s.EligibleAt != nil {
		t := *s.EligibleAt
		cp.EligibleAt = &t
	}
	if s.StartedAt != nil {
		t := *s.StartedAt
		cp.StartedAt = &t
	}
	if s.CompletedAt != nil {
		t := *s.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}
