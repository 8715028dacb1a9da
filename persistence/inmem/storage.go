package inmem

import (
	"sort"
	"sync"
	"time"

	"github.com/nkashyap/hireflow/model"
	"github.com/nkashyap/hireflow/persistence"
)

var _ persistence.ExecutionStorage = new(InMemStorage)

// InMemStorage keeps execution state in process memory. It is the default for
// tests and local runs. All reads and writes copy records so callers never
// share memory with the store.
type InMemStorage struct {
	mu         sync.RWMutex
	executions map[string]*model.WorkflowExecution
	steps      map[string][]*model.StepExecution
}

func NewInMemStorage() *InMemStorage {
	return &InMemStorage{
		executions: make(map[string]*model.WorkflowExecution),
		steps:      make(map[string][]*model.StepExecution),
	}
}

func (s *InMemStorage) CreateExecution(wf *model.WorkflowExecution, steps []*model.StepExecution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.executions[wf.Id] = wf.Clone()
	stored := make([]*model.StepExecution, 0, len(steps))
	for _, step := range steps {
		stored = append(stored, step.Clone())
	}
	sort.Slice(stored, func(i, j int) bool {
		return stored[i].OrderNumber < stored[j].OrderNumber
	})
	s.steps[wf.Id] = stored
	return nil
}

func (s *InMemStorage) GetExecution(executionId string) (*model.WorkflowExecution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	wf, ok := s.executions[executionId]
	if !ok {
		return nil, persistence.NotFoundError{Kind: "execution", Id: executionId}
	}
	return wf.Clone(), nil
}

func (s *InMemStorage) UpdateExecution(wf *model.WorkflowExecution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.executions[wf.Id]; !ok {
		return persistence.NotFoundError{Kind: "execution", Id: wf.Id}
	}
	s.executions[wf.Id] = wf.Clone()
	return nil
}

func (s *InMemStorage) DeleteExecution(executionId string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.executions, executionId)
	delete(s.steps, executionId)
	return nil
}

func (s *InMemStorage) GetSteps(executionId string) ([]*model.StepExecution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	steps, ok := s.steps[executionId]
	if !ok {
		return nil, persistence.NotFoundError{Kind: "execution", Id: executionId}
	}
	out := make([]*model.StepExecution, 0, len(steps))
	for _, step := range steps {
		out = append(out, step.Clone())
	}
	return out, nil
}

func (s *InMemStorage) GetStep(executionId string, orderNumber int) (*model.StepExecution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, step := range s.steps[executionId] {
		if step.OrderNumber == orderNumber {
			return step.Clone(), nil
		}
	}
	return nil, persistence.NotFoundError{Kind: "step", Id: executionId}
}

func (s *InMemStorage) UpdateStep(step *model.StepExecution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	steps := s.steps[step.ExecutionId]
	for i, existing := range steps {
		if existing.OrderNumber == step.OrderNumber {
			steps[i] = step.Clone()
			return nil
		}
	}
	return persistence.NotFoundError{Kind: "step", Id: step.ExecutionId}
}

func (s *InMemStorage) FindActiveExecution(workflowType string, entityType string, entityId string) (*model.WorkflowExecution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, wf := range s.executions {
		if wf.WorkflowType == workflowType && wf.EntityType == entityType && wf.EntityId == entityId && !wf.Status.Terminal() {
			return wf.Clone(), nil
		}
	}
	return nil, persistence.NotFoundError{Kind: "execution", Id: entityId}
}

func (s *InMemStorage) ScheduledStepsDue(now time.Time) ([]*model.StepExecution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var due []*model.StepExecution
	for _, steps := range s.steps {
		for _, step := range steps {
			if step.Status == model.STEP_SCHEDULED && !step.WakeAt().After(now) {
				due = append(due, step.Clone())
			}
		}
	}
	return due, nil
}
