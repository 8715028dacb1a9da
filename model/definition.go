package model

import "fmt"

// StepDefinition describes one step of a workflow definition. Definitions are
// immutable after catalog load; executions carry a snapshot of these fields so
// later catalog changes never alter in-flight state.
type StepDefinition struct {
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
}

// ApprovalRequired reports whether the step actually gates on human votes.
// A step flagged for approval with a quorum of zero is normalized to "no
// approval needed".
func (sd StepDefinition) ApprovalRequired() bool {
	return sd.RequiredHumanApproval && sd.NumberOfApprovalsNeeded > 0
}

type WorkflowDefinition struct {
	Name    string           `json:"name"`
	Version int              `json:"version"`
	Steps   []StepDefinition `json:"steps"`
}

func (wd *WorkflowDefinition) Validate() error {
	if wd.Name == "" {
		return fmt.Errorf("workflow definition without name")
	}
	if len(wd.Steps) == 0 {
		return fmt.Errorf("workflow %s has no steps", wd.Name)
	}
	seen := make(map[int]bool)
	prev := 0
	for _, step := range wd.Steps {
		if step.OrderNumber <= 0 {
			return fmt.Errorf("workflow %s step %q: order number must be positive", wd.Name, step.StepName)
		}
		if seen[step.OrderNumber] {
			return fmt.Errorf("workflow %s: duplicate order number %d", wd.Name, step.OrderNumber)
		}
		if step.OrderNumber < prev {
			return fmt.Errorf("workflow %s: steps not ordered by order number", wd.Name)
		}
		if step.StepType == "" {
			return fmt.Errorf("workflow %s step %d: missing step type", wd.Name, step.OrderNumber)
		}
		if step.DelayInSeconds < 0 {
			return fmt.Errorf("workflow %s step %d: negative delay", wd.Name, step.OrderNumber)
		}
		if step.ApprovalRequired() && len(step.Approvers) == 0 {
			return fmt.Errorf("workflow %s step %d: approval required but no approvers", wd.Name, step.OrderNumber)
		}
		if step.ApprovalRequired() && step.NumberOfApprovalsNeeded > len(step.Approvers) {
			return fmt.Errorf("workflow %s step %d: quorum %d exceeds %d approvers", wd.Name, step.OrderNumber, step.NumberOfApprovalsNeeded, len(step.Approvers))
		}
		seen[step.OrderNumber] = true
		prev = step.OrderNumber
	}
	return nil
}
