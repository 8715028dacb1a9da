package clarification

import (
	"time"

	"github.com/google/uuid"
	"github.com/nkashyap/hireflow/logger"
	"github.com/nkashyap/hireflow/model"
	"github.com/nkashyap/hireflow/persistence"
	"github.com/nkashyap/hireflow/util"
	"go.uber.org/zap"
)

// Bridge translates "this step needs human input" signals into a pending
// clarification on the execution and resolves them back into the step record.
// Unlike the approval gate there is no vote count: a single authorized answer
// resolves a clarification.
type Bridge struct {
	storage persistence.ExecutionStorage
	locks   *util.KeyedMutex
	now     func() time.Time
}

func NewBridge(storage persistence.ExecutionStorage, locks *util.KeyedMutex) *Bridge {
	return &Bridge{
		storage: storage,
		locks:   locks,
		now:     time.Now,
	}
}

// Raise appends a pending clarification for the step and parks the step in
// awaiting_approval so the coordinator makes no forward progress on it.
func (b *Bridge) Raise(executionId string, stepOrder int, prompt string) (string, error) {
	b.locks.Lock(executionId)
	defer b.locks.Unlock(executionId)

	wf, err := b.storage.GetExecution(executionId)
	if err != nil {
		return "", err
	}
	step, err := b.storage.GetStep(executionId, stepOrder)
	if err != nil {
		return "", err
	}
	if step.Status.Terminal() || step.Status == model.STEP_IN_PROGRESS {
		// a running executor raises its own clarifications through the
		// needs-input outcome; an out-of-band one would be lost when the
		// outcome is recorded
		return "", model.StepNotAwaitingApprovalError{StepOrder: stepOrder, Status: step.Status}
	}
	id := b.Apply(wf, step, prompt)
	if err := b.storage.UpdateStep(step); err != nil {
		return "", err
	}
	if err := b.storage.UpdateExecution(wf); err != nil {
		return "", err
	}
	return id, nil
}

// Apply records the clarification on already-loaded records. The caller holds
// the execution lock and persists both records afterwards; the coordinator
// uses this when the executor itself reports needs-input.
func (b *Bridge) Apply(wf *model.WorkflowExecution, step *model.StepExecution, prompt string) string {
	id := uuid.New().String()
	wf.Clarifications = append(wf.Clarifications, model.Clarification{
		Id:        id,
		StepOrder: step.OrderNumber,
		Prompt:    prompt,
		Status:    model.CLARIFICATION_PENDING,
		RaisedAt:  b.now(),
	})
	if step.Status != model.STEP_AWAITING_APPROVAL {
		step.Status = model.STEP_AWAITING_APPROVAL
	}
	logger.Info("clarification raised", zap.String("executionId", wf.Id), zap.Int("step", step.OrderNumber), zap.String("clarificationId", id))
	return id
}

// Resolve stores the human response and puts the step back in pending with a
// manual trigger set, so the next advance re-runs the executor with the
// response visible in the workflow context.
func (b *Bridge) Resolve(executionId string, clarificationId string, response any, respondedBy string) error {
	b.locks.Lock(executionId)
	defer b.locks.Unlock(executionId)

	wf, err := b.storage.GetExecution(executionId)
	if err != nil {
		return err
	}
	var target *model.Clarification
	for i := range wf.Clarifications {
		if wf.Clarifications[i].Id == clarificationId {
			target = &wf.Clarifications[i]
			break
		}
	}
	if target == nil {
		return persistence.NotFoundError{Kind: "clarification", Id: clarificationId}
	}
	if target.Status != model.CLARIFICATION_PENDING {
		return model.ClarificationNotPendingError{ClarificationId: clarificationId}
	}
	step, err := b.storage.GetStep(executionId, target.StepOrder)
	if err != nil {
		return err
	}
	if step.Status != model.STEP_AWAITING_APPROVAL {
		return model.StepNotAwaitingApprovalError{StepOrder: step.OrderNumber, Status: step.Status}
	}

	resolvedAt := b.now()
	target.Status = model.CLARIFICATION_RESOLVED
	target.Response = response
	target.RespondedBy = respondedBy
	target.ResolvedAt = &resolvedAt

	step.Status = model.STEP_PENDING
	step.ManuallyTriggered = true

	if err := b.storage.UpdateStep(step); err != nil {
		return err
	}
	if err := b.storage.UpdateExecution(wf); err != nil {
		return err
	}
	logger.Info("clarification resolved", zap.String("executionId", executionId), zap.String("clarificationId", clarificationId), zap.String("respondedBy", respondedBy))
	return nil
}
