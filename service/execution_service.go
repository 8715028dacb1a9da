package service

import (
	"context"

	"github.com/nkashyap/hireflow/approval"
	"github.com/nkashyap/hireflow/cache"
	"github.com/nkashyap/hireflow/clarification"
	"github.com/nkashyap/hireflow/engine"
	"github.com/nkashyap/hireflow/model"
	"github.com/nkashyap/hireflow/persistence"
)

// WorkflowExecutionService is the facade the API layer talks to. It composes
// the coordinator, the approval gate and the clarification bridge, and owns
// the rule that a quorum vote or a resolved clarification is followed by an
// Advance.
type WorkflowExecutionService struct {
	coordinator *engine.Coordinator
	gate        *approval.Gate
	bridge      *clarification.Bridge
	storage     persistence.ExecutionStorage
	stateCache  *cache.ExecutionStateCache
}

func NewWorkflowExecutionService(
	coordinator *engine.Coordinator,
	gate *approval.Gate,
	bridge *clarification.Bridge,
	storage persistence.ExecutionStorage,
	stateCache *cache.ExecutionStateCache,
) *WorkflowExecutionService {
	return &WorkflowExecutionService{
		coordinator: coordinator,
		gate:        gate,
		bridge:      bridge,
		storage:     storage,
		stateCache:  stateCache,
	}
}

func (s *WorkflowExecutionService) StartWorkflow(ctx context.Context, workflowType string, entityType string, entityId string) (*model.ExecutionView, error) {
	wf, err := s.coordinator.Start(workflowType, entityType, entityId)
	if err != nil {
		return nil, err
	}
	if err := s.coordinator.Advance(ctx, wf.Id); err != nil {
		return nil, err
	}
	return s.GetExecution(wf.Id)
}

func (s *WorkflowExecutionService) GetExecution(executionId string) (*model.ExecutionView, error) {
	wf, err := s.storage.GetExecution(executionId)
	if err != nil {
		return nil, err
	}
	steps, err := s.storage.GetSteps(executionId)
	if err != nil {
		return nil, err
	}
	completed := 0
	for _, step := range steps {
		if step.Status == model.STEP_COMPLETED || step.Status == model.STEP_SKIPPED {
			completed++
		}
	}
	return &model.ExecutionView{Execution: wf, Steps: steps, CompletedSteps: completed}, nil
}

// GetExecutionStatus consults the terminal-status cache before storage.
func (s *WorkflowExecutionService) GetExecutionStatus(executionId string) (model.ExecutionStatus, error) {
	if status, ok := s.stateCache.GetStatus(executionId); ok {
		return status, nil
	}
	wf, err := s.storage.GetExecution(executionId)
	if err != nil {
		return "", err
	}
	if wf.Status.Terminal() {
		s.stateCache.SaveStatus(executionId, wf.Status)
	}
	return wf.Status, nil
}

func (s *WorkflowExecutionService) TriggerStep(ctx context.Context, executionId string, stepOrder int) error {
	return s.coordinator.TriggerStep(ctx, executionId, stepOrder)
}

func (s *WorkflowExecutionService) Approve(ctx context.Context, executionId string, stepOrder int, approver string) (approval.VoteResult, error) {
	result, err := s.gate.RecordApproval(executionId, stepOrder, approver)
	if err != nil {
		return "", err
	}
	if result == approval.QUORUM_REACHED {
		if err := s.coordinator.Advance(ctx, executionId); err != nil {
			return result, err
		}
	}
	return result, nil
}

func (s *WorkflowExecutionService) RaiseClarification(executionId string, stepOrder int, prompt string) (string, error) {
	return s.bridge.Raise(executionId, stepOrder, prompt)
}

func (s *WorkflowExecutionService) ResolveClarification(ctx context.Context, executionId string, clarificationId string, response any, respondedBy string) error {
	if err := s.bridge.Resolve(executionId, clarificationId, response, respondedBy); err != nil {
		return err
	}
	return s.coordinator.Advance(ctx, executionId)
}

func (s *WorkflowExecutionService) Pause(executionId string) error {
	return s.coordinator.Pause(executionId)
}

func (s *WorkflowExecutionService) Resume(ctx context.Context, executionId string) error {
	return s.coordinator.Resume(ctx, executionId)
}
