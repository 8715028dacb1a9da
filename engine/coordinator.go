package engine

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/nkashyap/hireflow/analytics"
	"github.com/nkashyap/hireflow/cache"
	"github.com/nkashyap/hireflow/catalog"
	"github.com/nkashyap/hireflow/clarification"
	"github.com/nkashyap/hireflow/executor"
	"github.com/nkashyap/hireflow/logger"
	"github.com/nkashyap/hireflow/model"
	"github.com/nkashyap/hireflow/persistence"
	"github.com/nkashyap/hireflow/util"
	"go.uber.org/zap"
)

// DelayScheduler registers a wake-up for a step whose delay has not elapsed
// yet. The persisted scheduled step record is the durable source of truth;
// this registration only makes the wake-up prompt.
type DelayScheduler interface {
	ScheduleFor(executionId string, stepOrder int, eligibleAt time.Time, delaySeconds int)
}

type Options struct {
	// ExecutorTimeout bounds one external executor call. Zero disables the bound.
	ExecutorTimeout time.Duration
	// MaxExecutorAttempts is the default number of tries per step before it is
	// recorded as failed. A step's MaxRetries snapshot overrides it.
	MaxExecutorAttempts int
	// AllowDuplicateExecutions permits more than one concurrent execution of a
	// workflow type for the same entity. Default policy forbids it.
	AllowDuplicateExecutions bool
}

// Coordinator drives the per-execution state machine: it materializes step
// records when an execution starts, decides when the step at current_step may
// run, invokes the external executor and records the outcome.
//
// All transitions of one execution are serialized on a per-execution lock.
// The executor call itself runs outside the lock; the pending→in_progress
// transition is the guard that keeps concurrent Advance calls from invoking
// the executor twice for the same step.
type Coordinator struct {
	catalog    *catalog.Catalog
	storage    persistence.ExecutionStorage
	registry   *executor.Registry
	bridge     *clarification.Bridge
	locks      *util.KeyedMutex
	stateCache *cache.ExecutionStateCache
	audit      *analytics.ExecutionAuditLog
	scheduler  DelayScheduler
	opts       Options
	now        func() time.Time
}

func NewCoordinator(
	cat *catalog.Catalog,
	storage persistence.ExecutionStorage,
	registry *executor.Registry,
	bridge *clarification.Bridge,
	locks *util.KeyedMutex,
	stateCache *cache.ExecutionStateCache,
	audit *analytics.ExecutionAuditLog,
	opts Options,
) *Coordinator {
	if opts.MaxExecutorAttempts <= 0 {
		opts.MaxExecutorAttempts = 1
	}
	return &Coordinator{
		catalog:    cat,
		storage:    storage,
		registry:   registry,
		bridge:     bridge,
		locks:      locks,
		stateCache: stateCache,
		audit:      audit,
		opts:       opts,
		now:        time.Now,
	}
}

// SetScheduler wires the delay scheduler after construction; the scheduler
// itself needs Advance as its wake-up callback.
func (c *Coordinator) SetScheduler(s DelayScheduler) {
	c.scheduler = s
}

// Start creates a WorkflowExecution and eagerly materializes one StepExecution
// per definition step, snapshotting the definition fields. It does not run any
// step; the caller invokes Advance for that.
func (c *Coordinator) Start(workflowType string, entityType string, entityId string) (*model.WorkflowExecution, error) {
	def, err := c.catalog.DefinitionFor(workflowType)
	if err != nil {
		return nil, err
	}
	if !c.opts.AllowDuplicateExecutions {
		existing, err := c.storage.FindActiveExecution(workflowType, entityType, entityId)
		if err != nil {
			var notFound persistence.NotFoundError
			if !errors.As(err, &notFound) {
				return nil, err
			}
		} else if existing != nil {
			return nil, model.DuplicateExecutionError{WorkflowType: workflowType, EntityId: entityId}
		}
	}
	wf := &model.WorkflowExecution{
		Id:           uuid.New().String(),
		WorkflowType: workflowType,
		EntityId:     entityId,
		EntityType:   entityType,
		Status:       model.EXECUTION_RUNNING,
		CurrentStep:  0,
		TotalSteps:   len(def.Steps),
		Outputs:      make(map[string]any),
		CreatedAt:    c.now(),
	}
	steps := make([]*model.StepExecution, 0, len(def.Steps))
	for _, stepDef := range def.Steps {
		steps = append(steps, model.NewStepExecution(wf.Id, stepDef))
	}
	if err := c.storage.CreateExecution(wf, steps); err != nil {
		return nil, err
	}
	logger.Info("execution started",
		zap.String("executionId", wf.Id),
		zap.String("workflowType", workflowType),
		zap.String("entityId", entityId),
		zap.Int("steps", wf.TotalSteps))
	return wf, nil
}

// Advance re-evaluates the step at current_step and moves the execution as far
// as the gates allow. It is idempotent and safe to call concurrently from the
// scheduler's wake-up, an approval vote and a completion callback.
func (c *Coordinator) Advance(ctx context.Context, executionId string) error {
	if status, ok := c.stateCache.GetStatus(executionId); ok && status.Terminal() {
		return nil
	}
	c.locks.Lock(executionId)
	defer c.locks.Unlock(executionId)

	for {
		wf, err := c.storage.GetExecution(executionId)
		if err != nil {
			return err
		}
		if wf.Status != model.EXECUTION_RUNNING {
			return nil
		}
		if wf.CurrentStep >= wf.TotalSteps {
			return c.complete(wf)
		}
		steps, err := c.storage.GetSteps(executionId)
		if err != nil {
			return err
		}
		step := steps[wf.CurrentStep]

		if step.Status.Terminal() {
			wf.CurrentStep++
			if err := c.storage.UpdateExecution(wf); err != nil {
				return err
			}
			continue
		}
		if step.Status == model.STEP_IN_PROGRESS {
			// executor already running for this step elsewhere
			return nil
		}

		ready, err := c.evaluateGates(wf, steps, step)
		if err != nil {
			return err
		}
		if !ready {
			return nil
		}
		if err := c.runStep(ctx, wf, step); err != nil {
			return err
		}
	}
}

// evaluateGates applies the eligibility, delay and approval gates to the
// current step. It returns true when the step may run now; otherwise the step
// has been parked in the appropriate waiting state.
func (c *Coordinator) evaluateGates(wf *model.WorkflowExecution, steps []*model.StepExecution, step *model.StepExecution) (bool, error) {
	switch step.Status {
	case model.STEP_PENDING:
		if wf.CurrentStep > 0 && !steps[wf.CurrentStep-1].Status.Terminal() {
			return false, nil
		}
		if !step.AutoStart && !step.ManuallyTriggered {
			// manual step, waits for an explicit trigger
			return false, nil
		}
		// the delay is served once; a step sent back to pending by a resolved
		// clarification already waited it out
		if step.EligibleAt == nil {
			eligibleAt := c.now()
			step.EligibleAt = &eligibleAt
			if step.DelayInSeconds > 0 {
				step.Status = model.STEP_SCHEDULED
				if err := c.storage.UpdateStep(step); err != nil {
					return false, err
				}
				if c.scheduler != nil {
					c.scheduler.ScheduleFor(wf.Id, step.OrderNumber, eligibleAt, step.DelayInSeconds)
				}
				logger.Info("step scheduled",
					zap.String("executionId", wf.Id),
					zap.Int("step", step.OrderNumber),
					zap.Int("delaySeconds", step.DelayInSeconds))
				return false, nil
			}
		}
	case model.STEP_SCHEDULED:
		if c.now().Before(step.WakeAt()) {
			return false, nil
		}
	case model.STEP_AWAITING_APPROVAL:
		if wf.HasPendingClarification(step.OrderNumber) {
			// halted on human input; only Resolve moves the step on
			return false, nil
		}
		if !step.ApprovalRequired() {
			return false, nil
		}
		if !step.QuorumReached() {
			return false, nil
		}
	}
	if step.ApprovalRequired() && !step.QuorumReached() {
		step.Status = model.STEP_AWAITING_APPROVAL
		if err := c.storage.UpdateStep(step); err != nil {
			return false, err
		}
		logger.Info("step awaiting approval",
			zap.String("executionId", wf.Id),
			zap.Int("step", step.OrderNumber),
			zap.Int("needed", step.NumberOfApprovalsNeeded))
		return false, nil
	}
	return true, nil
}

// runStep invokes the external executor for a step whose gates are satisfied.
// The lock is released for the duration of the call and re-acquired to record
// the outcome.
func (c *Coordinator) runStep(ctx context.Context, wf *model.WorkflowExecution, step *model.StepExecution) error {
	startedAt := c.now()
	step.Status = model.STEP_IN_PROGRESS
	if step.StartedAt == nil {
		step.StartedAt = &startedAt
	}
	if err := c.storage.UpdateStep(step); err != nil {
		return err
	}

	wfCtx := executor.WorkflowContext{
		ExecutionId:    wf.Id,
		WorkflowType:   wf.WorkflowType,
		EntityId:       wf.EntityId,
		EntityType:     wf.EntityType,
		Outputs:        wf.Outputs,
		Clarifications: wf.Clarifications,
	}
	maxAttempts := c.opts.MaxExecutorAttempts
	if step.MaxRetries > 0 {
		maxAttempts = step.MaxRetries + 1
	}

	var res executor.Result
	c.locks.Unlock(wf.Id)
	for {
		step.Attempts++
		res = c.invoke(ctx, step, wfCtx)
		if res.Outcome != executor.OUTCOME_FAILURE || step.Attempts >= maxAttempts {
			break
		}
		logger.Info("retrying step executor",
			zap.String("executionId", wf.Id),
			zap.Int("step", step.OrderNumber),
			zap.Int("attempt", step.Attempts),
			zap.Error(res.Err))
	}
	c.locks.Lock(wf.Id)

	// the execution may have been paused while the executor ran; record the
	// outcome either way, the paused check at the top of Advance stops further
	// progress
	fresh, err := c.storage.GetExecution(wf.Id)
	if err != nil {
		return err
	}
	return c.recordOutcome(fresh, step, res)
}

func (c *Coordinator) invoke(ctx context.Context, step *model.StepExecution, wfCtx executor.WorkflowContext) executor.Result {
	ex, err := c.registry.Resolve(step.StepType)
	if err != nil {
		return executor.Failure(model.ExecutorFailureError{StepType: step.StepType, Detail: err.Error()})
	}
	if c.opts.ExecutorTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.ExecutorTimeout)
		defer cancel()
	}
	done := make(chan executor.Result, 1)
	go func() {
		done <- ex.Execute(ctx, step.Clone(), wfCtx)
	}()
	select {
	case res := <-done:
		return res
	case <-ctx.Done():
		// a hung executor must not starve the execution
		return executor.Failure(model.ExecutorFailureError{StepType: step.StepType, Detail: ctx.Err().Error(), Timeout: true})
	}
}

func (c *Coordinator) recordOutcome(wf *model.WorkflowExecution, step *model.StepExecution, res executor.Result) error {
	completedAt := c.now()
	switch res.Outcome {
	case executor.OUTCOME_SUCCESS:
		step.Status = model.STEP_COMPLETED
		step.CompletedAt = &completedAt
		step.Result = res.Output
		wf.Outputs[strconv.Itoa(step.OrderNumber)] = res.Output
		c.audit.RecordStepSuccess(wf.Id, step.StepName, step.OrderNumber, res.Output)
		logger.Info("step completed", zap.String("executionId", wf.Id), zap.Int("step", step.OrderNumber))
	case executor.OUTCOME_NEEDS_INPUT:
		// a normal, resumable pause point, not a failure
		step.ManuallyTriggered = false
		c.bridge.Apply(wf, step, res.Prompt)
	case executor.OUTCOME_FAILURE:
		detail := "executor failure"
		if res.Err != nil {
			detail = res.Err.Error()
		}
		step.CompletedAt = &completedAt
		step.FailureReason = detail
		c.audit.RecordStepFailure(wf.Id, step.StepName, step.OrderNumber, detail)
		if step.Skippable {
			step.Status = model.STEP_SKIPPED
			logger.Warn("skippable step failed, continuing",
				zap.String("executionId", wf.Id),
				zap.Int("step", step.OrderNumber),
				zap.String("reason", detail))
		} else {
			step.Status = model.STEP_FAILED
			wf.Status = model.EXECUTION_FAILED
			wf.ErrorMessage = detail
			wf.CompletedAt = &completedAt
			c.stateCache.SaveStatus(wf.Id, model.EXECUTION_FAILED)
			logger.Error("step failed, execution failed",
				zap.String("executionId", wf.Id),
				zap.Int("step", step.OrderNumber),
				zap.String("reason", detail))
		}
	}
	if err := c.storage.UpdateStep(step); err != nil {
		return err
	}
	return c.storage.UpdateExecution(wf)
}

func (c *Coordinator) complete(wf *model.WorkflowExecution) error {
	completedAt := c.now()
	wf.Status = model.EXECUTION_COMPLETED
	wf.CompletedAt = &completedAt
	if err := c.storage.UpdateExecution(wf); err != nil {
		return err
	}
	c.stateCache.SaveStatus(wf.Id, model.EXECUTION_COMPLETED)
	logger.Info("execution completed", zap.String("executionId", wf.Id))
	return nil
}

// TriggerStep is the explicit start signal for a step with auto_start false.
// The trigger is remembered on the step, so triggering a future step takes
// effect once execution reaches it.
func (c *Coordinator) TriggerStep(ctx context.Context, executionId string, stepOrder int) error {
	c.locks.Lock(executionId)
	step, err := c.storage.GetStep(executionId, stepOrder)
	if err != nil {
		c.locks.Unlock(executionId)
		return err
	}
	if step.Status.Terminal() {
		c.locks.Unlock(executionId)
		return model.StepNotAwaitingApprovalError{StepOrder: stepOrder, Status: step.Status}
	}
	if !step.ManuallyTriggered {
		step.ManuallyTriggered = true
		if err := c.storage.UpdateStep(step); err != nil {
			c.locks.Unlock(executionId)
			return err
		}
	}
	c.locks.Unlock(executionId)
	return c.Advance(ctx, executionId)
}

// Pause stops new step invocations. An in-flight executor call finishes and
// its result is recorded, but the execution does not advance further.
func (c *Coordinator) Pause(executionId string) error {
	c.locks.Lock(executionId)
	defer c.locks.Unlock(executionId)
	wf, err := c.storage.GetExecution(executionId)
	if err != nil {
		return err
	}
	if wf.Status != model.EXECUTION_RUNNING {
		return nil
	}
	wf.Status = model.EXECUTION_PAUSED
	if err := c.storage.UpdateExecution(wf); err != nil {
		return err
	}
	logger.Info("execution paused", zap.String("executionId", executionId))
	return nil
}

func (c *Coordinator) Resume(ctx context.Context, executionId string) error {
	c.locks.Lock(executionId)
	wf, err := c.storage.GetExecution(executionId)
	if err != nil {
		c.locks.Unlock(executionId)
		return err
	}
	if wf.Status != model.EXECUTION_PAUSED {
		c.locks.Unlock(executionId)
		return nil
	}
	wf.Status = model.EXECUTION_RUNNING
	if err := c.storage.UpdateExecution(wf); err != nil {
		c.locks.Unlock(executionId)
		return err
	}
	c.locks.Unlock(executionId)
	logger.Info("execution resumed", zap.String("executionId", executionId))
	return c.Advance(ctx, executionId)
}
