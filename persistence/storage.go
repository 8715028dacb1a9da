package persistence

import (
	"fmt"
	"time"

	"github.com/nkashyap/hireflow/model"
)

type StorageLayerError struct {
	Message string
}

func (e StorageLayerError) Error() string {
	return fmt.Sprintf("storage layer error %s", e.Message)
}

type NotFoundError struct {
	Kind string
	Id   string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.Id)
}

// ExecutionStorage is the persistence collaborator of the engine: plain CRUD
// over execution and step records plus the scheduled-steps query the delay
// scheduler uses for wake-ups and restart recovery.
//
// CreateExecution persists the execution together with all of its step
// records; the engine materializes the full step plan eagerly at start.
type ExecutionStorage interface {
	CreateExecution(wf *model.WorkflowExecution, steps []*model.StepExecution) error
	GetExecution(executionId string) (*model.WorkflowExecution, error)
	UpdateExecution(wf *model.WorkflowExecution) error
	DeleteExecution(executionId string) error

	GetSteps(executionId string) ([]*model.StepExecution, error)
	GetStep(executionId string, orderNumber int) (*model.StepExecution, error)
	UpdateStep(step *model.StepExecution) error

	// FindActiveExecution returns the running or paused execution of the given
	// workflow type for an entity, or a NotFoundError when there is none.
	FindActiveExecution(workflowType string, entityType string, entityId string) (*model.WorkflowExecution, error)

	// ScheduledStepsDue returns steps in scheduled state whose delay has
	// elapsed at the given instant. It reads persisted state, so scheduled
	// wake-ups survive a process restart.
	ScheduledStepsDue(now time.Time) ([]*model.StepExecution, error)
}
