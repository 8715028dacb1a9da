package model

import "time"

type ClarificationStatus string

const CLARIFICATION_PENDING ClarificationStatus = "pending"
const CLARIFICATION_RESOLVED ClarificationStatus = "resolved"

// Clarification is a resumable pause point: a step asked for human input and
// the execution waits until someone answers. It is not a failure state.
type Clarification struct {
	Id          string              `json:"id"`
	StepOrder   int                 `json:"stepOrder"`
	Prompt      string              `json:"prompt"`
	Status      ClarificationStatus `json:"status"`
	Response    any                 `json:"response,omitempty"`
	RespondedBy string              `json:"respondedBy,omitempty"`
	RaisedAt    time.Time           `json:"raisedAt"`
	ResolvedAt  *time.Time          `json:"resolvedAt,omitempty"`
}
