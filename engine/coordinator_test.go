package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/nkashyap/hireflow/cache"
	"github.com/nkashyap/hireflow/catalog"
	"github.com/nkashyap/hireflow/clarification"
	"github.com/nkashyap/hireflow/executor"
	"github.com/nkashyap/hireflow/model"
	"github.com/nkashyap/hireflow/persistence"
	"github.com/nkashyap/hireflow/persistence/inmem"
	"github.com/nkashyap/hireflow/util"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	coordinator *Coordinator
	storage     *inmem.InMemStorage
	bridge      *clarification.Bridge
	registry    *executor.Registry
	clock       *fakeClock
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Add(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newFixture(t *testing.T, defs []model.WorkflowDefinition, opts Options) *fixture {
	t.Helper()
	cat, err := catalog.New(defs)
	require.NoError(t, err)
	storage := inmem.NewInMemStorage()
	locks := util.NewKeyedMutex()
	bridge := clarification.NewBridge(storage, locks)
	registry := executor.NewRegistry()
	coordinator := NewCoordinator(cat, storage, registry, bridge, locks, cache.NewExecutionStateCache(), nil, opts)
	clock := newFakeClock()
	coordinator.now = clock.Now
	return &fixture{
		coordinator: coordinator,
		storage:     storage,
		bridge:      bridge,
		registry:    registry,
		clock:       clock,
	}
}

func succeedWith(output any) executor.StepExecutor {
	return executor.Func(func(ctx context.Context, step *model.StepExecution, wfCtx executor.WorkflowContext) executor.Result {
		return executor.Success(output)
	})
}

func hiringDefinition() model.WorkflowDefinition {
	return model.WorkflowDefinition{
		Name:    "hiring_process",
		Version: 1,
		Steps: []model.StepDefinition{
			{OrderNumber: 1, StepType: "resume_analysis", StepName: "Resume Analysis", AutoStart: true},
			{
				OrderNumber:             2,
				StepType:                "offer_approval",
				StepName:                "Offer Approval",
				AutoStart:               true,
				RequiredHumanApproval:   true,
				NumberOfApprovalsNeeded: 2,
				Approvers:               []string{"alice", "bob", "carol"},
			},
			{OrderNumber: 3, StepType: "send_offer", StepName: "Send Offer", AutoStart: false},
		},
	}
}

func TestStartMaterializesStepsEagerly(t *testing.T) {
	def := hiringDefinition()
	f := newFixture(t, []model.WorkflowDefinition{def}, Options{})

	wf, err := f.coordinator.Start("hiring_process", "application", "app-1")
	require.NoError(t, err)
	require.Equal(t, model.EXECUTION_RUNNING, wf.Status)
	require.Equal(t, 0, wf.CurrentStep)
	require.Equal(t, 3, wf.TotalSteps)

	steps, err := f.storage.GetSteps(wf.Id)
	require.NoError(t, err)
	require.Len(t, steps, 3)
	for i, step := range steps {
		require.Equal(t, model.STEP_PENDING, step.Status)
		require.Equal(t, def.Steps[i].OrderNumber, step.OrderNumber)
		require.Equal(t, def.Steps[i].StepType, step.StepType)
		require.Equal(t, def.Steps[i].StepName, step.StepName)
		require.Equal(t, def.Steps[i].AutoStart, step.AutoStart)
		require.Equal(t, def.Steps[i].RequiredHumanApproval, step.RequiredHumanApproval)
		require.Equal(t, def.Steps[i].NumberOfApprovalsNeeded, step.NumberOfApprovalsNeeded)
		require.ElementsMatch(t, def.Steps[i].Approvers, step.Approvers)
	}
}

func TestStartUnknownWorkflowType(t *testing.T) {
	f := newFixture(t, []model.WorkflowDefinition{hiringDefinition()}, Options{})
	_, err := f.coordinator.Start("nope", "application", "app-1")
	var unknown model.UnknownWorkflowTypeError
	require.ErrorAs(t, err, &unknown)
}

func TestStartDuplicatePolicy(t *testing.T) {
	f := newFixture(t, []model.WorkflowDefinition{hiringDefinition()}, Options{})
	_, err := f.coordinator.Start("hiring_process", "application", "app-1")
	require.NoError(t, err)

	_, err = f.coordinator.Start("hiring_process", "application", "app-1")
	var duplicate model.DuplicateExecutionError
	require.ErrorAs(t, err, &duplicate)

	// other entity is fine
	_, err = f.coordinator.Start("hiring_process", "application", "app-2")
	require.NoError(t, err)
}

func TestStartDuplicateAllowedByConfig(t *testing.T) {
	f := newFixture(t, []model.WorkflowDefinition{hiringDefinition()}, Options{AllowDuplicateExecutions: true})
	_, err := f.coordinator.Start("hiring_process", "application", "app-1")
	require.NoError(t, err)
	_, err = f.coordinator.Start("hiring_process", "application", "app-1")
	require.NoError(t, err)
}

// The three step scenario: an automated step, a quorum gated step and a
// manually triggered step.
func TestAdvanceThroughApprovalAndManualTrigger(t *testing.T) {
	f := newFixture(t, []model.WorkflowDefinition{hiringDefinition()}, Options{})
	executed := make(map[string]int)
	var mu sync.Mutex
	record := func(name string) executor.StepExecutor {
		return executor.Func(func(ctx context.Context, step *model.StepExecution, wfCtx executor.WorkflowContext) executor.Result {
			mu.Lock()
			executed[name]++
			mu.Unlock()
			return executor.Success(name + "-done")
		})
	}
	f.registry.Register("resume_analysis", record("resume_analysis"))
	f.registry.Register("offer_approval", record("offer_approval"))
	f.registry.Register("send_offer", record("send_offer"))

	wf, err := f.coordinator.Start("hiring_process", "application", "app-1")
	require.NoError(t, err)

	require.NoError(t, f.coordinator.Advance(context.Background(), wf.Id))

	steps, _ := f.storage.GetSteps(wf.Id)
	require.Equal(t, model.STEP_COMPLETED, steps[0].Status)
	require.Equal(t, model.STEP_AWAITING_APPROVAL, steps[1].Status)
	require.Equal(t, model.STEP_PENDING, steps[2].Status)
	require.Equal(t, 0, executed["offer_approval"])

	current, _ := f.storage.GetExecution(wf.Id)
	require.Equal(t, 1, current.CurrentStep)
	require.Equal(t, model.EXECUTION_RUNNING, current.Status)

	// votes arrive; quorum is two of three
	step, _ := f.storage.GetStep(wf.Id, 2)
	step.ApprovalsReceived = []string{"alice"}
	require.NoError(t, f.storage.UpdateStep(step))
	require.NoError(t, f.coordinator.Advance(context.Background(), wf.Id))
	require.Equal(t, 0, executed["offer_approval"])

	step, _ = f.storage.GetStep(wf.Id, 2)
	step.ApprovalsReceived = []string{"alice", "bob"}
	require.NoError(t, f.storage.UpdateStep(step))
	require.NoError(t, f.coordinator.Advance(context.Background(), wf.Id))
	require.Equal(t, 1, executed["offer_approval"])

	// stops at the manual step
	current, _ = f.storage.GetExecution(wf.Id)
	require.Equal(t, model.EXECUTION_RUNNING, current.Status)
	require.Equal(t, 2, current.CurrentStep)
	require.Equal(t, 0, executed["send_offer"])

	require.NoError(t, f.coordinator.TriggerStep(context.Background(), wf.Id, 3))
	require.Equal(t, 1, executed["send_offer"])

	current, _ = f.storage.GetExecution(wf.Id)
	require.Equal(t, model.EXECUTION_COMPLETED, current.Status)
	require.Equal(t, 3, current.CurrentStep)
	require.Equal(t, "resume_analysis-done", current.Outputs["1"])
	require.Equal(t, "send_offer-done", current.Outputs["3"])
}

func TestAdvanceIsIdempotent(t *testing.T) {
	f := newFixture(t, []model.WorkflowDefinition{hiringDefinition()}, Options{})
	invocations := 0
	f.registry.Register("resume_analysis", executor.Func(func(ctx context.Context, step *model.StepExecution, wfCtx executor.WorkflowContext) executor.Result {
		invocations++
		return executor.Success(nil)
	}))

	wf, err := f.coordinator.Start("hiring_process", "application", "app-1")
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		require.NoError(t, f.coordinator.Advance(context.Background(), wf.Id))
	}
	require.Equal(t, 1, invocations)

	current, _ := f.storage.GetExecution(wf.Id)
	require.Equal(t, 1, current.CurrentStep)
	steps, _ := f.storage.GetSteps(wf.Id)
	require.Equal(t, model.STEP_AWAITING_APPROVAL, steps[1].Status)
}

func TestDelayGateHoldsUntilElapsed(t *testing.T) {
	def := model.WorkflowDefinition{
		Name: "delayed",
		Steps: []model.StepDefinition{
			{OrderNumber: 1, StepType: "send_offer", StepName: "Send Offer", AutoStart: true, DelayInSeconds: 30},
		},
	}
	f := newFixture(t, []model.WorkflowDefinition{def}, Options{})
	invocations := 0
	f.registry.Register("send_offer", executor.Func(func(ctx context.Context, step *model.StepExecution, wfCtx executor.WorkflowContext) executor.Result {
		invocations++
		return executor.Success(nil)
	}))

	wf, err := f.coordinator.Start("delayed", "application", "app-1")
	require.NoError(t, err)
	require.NoError(t, f.coordinator.Advance(context.Background(), wf.Id))

	step, _ := f.storage.GetStep(wf.Id, 1)
	require.Equal(t, model.STEP_SCHEDULED, step.Status)
	require.NotNil(t, step.EligibleAt)
	require.Equal(t, 0, invocations)

	f.clock.Add(29 * time.Second)
	require.NoError(t, f.coordinator.Advance(context.Background(), wf.Id))
	require.Equal(t, 0, invocations)

	f.clock.Add(2 * time.Second)
	require.NoError(t, f.coordinator.Advance(context.Background(), wf.Id))
	require.Equal(t, 1, invocations)

	current, _ := f.storage.GetExecution(wf.Id)
	require.Equal(t, model.EXECUTION_COMPLETED, current.Status)
}

// A scheduled step survives losing all in-memory state; a fresh coordinator
// over the same storage picks it up once the delay has elapsed.
func TestDelaySurvivesRestart(t *testing.T) {
	def := model.WorkflowDefinition{
		Name: "delayed",
		Steps: []model.StepDefinition{
			{OrderNumber: 1, StepType: "send_offer", StepName: "Send Offer", AutoStart: true, DelayInSeconds: 60},
		},
	}
	f := newFixture(t, []model.WorkflowDefinition{def}, Options{})
	f.registry.Register("send_offer", succeedWith("sent"))

	wf, err := f.coordinator.Start("delayed", "application", "app-1")
	require.NoError(t, err)
	require.NoError(t, f.coordinator.Advance(context.Background(), wf.Id))
	step, _ := f.storage.GetStep(wf.Id, 1)
	require.Equal(t, model.STEP_SCHEDULED, step.Status)

	// new coordinator over the same storage, fresh locks and cache
	cat, err := catalog.New([]model.WorkflowDefinition{def})
	require.NoError(t, err)
	locks := util.NewKeyedMutex()
	registry := executor.NewRegistry()
	registry.Register("send_offer", succeedWith("sent"))
	restarted := NewCoordinator(cat, f.storage, registry, clarification.NewBridge(f.storage, locks), locks, cache.NewExecutionStateCache(), nil, Options{})
	restarted.now = f.clock.Now

	f.clock.Add(59 * time.Second)
	due, err := f.storage.ScheduledStepsDue(f.clock.Now())
	require.NoError(t, err)
	require.Empty(t, due)

	f.clock.Add(2 * time.Second)
	due, err = f.storage.ScheduledStepsDue(f.clock.Now())
	require.NoError(t, err)
	require.Len(t, due, 1)
	require.NoError(t, restarted.Advance(context.Background(), due[0].ExecutionId))

	current, _ := f.storage.GetExecution(wf.Id)
	require.Equal(t, model.EXECUTION_COMPLETED, current.Status)
}

func TestNonSkippableFailureFailsExecution(t *testing.T) {
	f := newFixture(t, []model.WorkflowDefinition{hiringDefinition()}, Options{})
	f.registry.Register("resume_analysis", executor.Func(func(ctx context.Context, step *model.StepExecution, wfCtx executor.WorkflowContext) executor.Result {
		return executor.Failure(errors.New("model unavailable"))
	}))

	wf, err := f.coordinator.Start("hiring_process", "application", "app-1")
	require.NoError(t, err)
	require.NoError(t, f.coordinator.Advance(context.Background(), wf.Id))

	current, _ := f.storage.GetExecution(wf.Id)
	require.Equal(t, model.EXECUTION_FAILED, current.Status)
	require.Equal(t, "model unavailable", current.ErrorMessage)
	require.Equal(t, 0, current.CurrentStep)

	steps, _ := f.storage.GetSteps(wf.Id)
	require.Equal(t, model.STEP_FAILED, steps[0].Status)
	require.Equal(t, model.STEP_PENDING, steps[1].Status)

	// no further progress
	require.NoError(t, f.coordinator.Advance(context.Background(), wf.Id))
	current, _ = f.storage.GetExecution(wf.Id)
	require.Equal(t, 0, current.CurrentStep)
}

func TestSkippableFailureContinues(t *testing.T) {
	def := model.WorkflowDefinition{
		Name: "screening",
		Steps: []model.StepDefinition{
			{OrderNumber: 1, StepType: "screening", StepName: "Screening", AutoStart: true, Skippable: true},
			{OrderNumber: 2, StepType: "resume_analysis", StepName: "Resume Analysis", AutoStart: true},
		},
	}
	f := newFixture(t, []model.WorkflowDefinition{def}, Options{})
	f.registry.Register("screening", executor.Func(func(ctx context.Context, step *model.StepExecution, wfCtx executor.WorkflowContext) executor.Result {
		return executor.Failure(errors.New("screening service down"))
	}))
	f.registry.Register("resume_analysis", succeedWith("scored"))

	wf, err := f.coordinator.Start("screening", "application", "app-1")
	require.NoError(t, err)
	require.NoError(t, f.coordinator.Advance(context.Background(), wf.Id))

	steps, _ := f.storage.GetSteps(wf.Id)
	require.Equal(t, model.STEP_SKIPPED, steps[0].Status)
	require.Equal(t, "screening service down", steps[0].FailureReason)
	require.Equal(t, model.STEP_COMPLETED, steps[1].Status)

	current, _ := f.storage.GetExecution(wf.Id)
	require.Equal(t, model.EXECUTION_COMPLETED, current.Status)
}

func TestExecutorRetriesBounded(t *testing.T) {
	def := model.WorkflowDefinition{
		Name: "flaky",
		Steps: []model.StepDefinition{
			{OrderNumber: 1, StepType: "send_offer", StepName: "Send Offer", AutoStart: true, MaxRetries: 2},
		},
	}
	f := newFixture(t, []model.WorkflowDefinition{def}, Options{})
	calls := 0
	f.registry.Register("send_offer", executor.Func(func(ctx context.Context, step *model.StepExecution, wfCtx executor.WorkflowContext) executor.Result {
		calls++
		if calls < 3 {
			return executor.Failure(fmt.Errorf("smtp unavailable, attempt %d", calls))
		}
		return executor.Success("sent")
	}))

	wf, err := f.coordinator.Start("flaky", "application", "app-1")
	require.NoError(t, err)
	require.NoError(t, f.coordinator.Advance(context.Background(), wf.Id))

	require.Equal(t, 3, calls)
	step, _ := f.storage.GetStep(wf.Id, 1)
	require.Equal(t, model.STEP_COMPLETED, step.Status)
	require.Equal(t, 3, step.Attempts)
}

func TestExecutorRetriesExhausted(t *testing.T) {
	def := model.WorkflowDefinition{
		Name: "flaky",
		Steps: []model.StepDefinition{
			{OrderNumber: 1, StepType: "send_offer", StepName: "Send Offer", AutoStart: true},
		},
	}
	f := newFixture(t, []model.WorkflowDefinition{def}, Options{MaxExecutorAttempts: 2})
	calls := 0
	f.registry.Register("send_offer", executor.Func(func(ctx context.Context, step *model.StepExecution, wfCtx executor.WorkflowContext) executor.Result {
		calls++
		return executor.Failure(errors.New("smtp unavailable"))
	}))

	wf, err := f.coordinator.Start("flaky", "application", "app-1")
	require.NoError(t, err)
	require.NoError(t, f.coordinator.Advance(context.Background(), wf.Id))

	require.Equal(t, 2, calls)
	current, _ := f.storage.GetExecution(wf.Id)
	require.Equal(t, model.EXECUTION_FAILED, current.Status)
}

func TestExecutorTimeout(t *testing.T) {
	def := model.WorkflowDefinition{
		Name: "slow",
		Steps: []model.StepDefinition{
			{OrderNumber: 1, StepType: "resume_analysis", StepName: "Resume Analysis", AutoStart: true},
		},
	}
	f := newFixture(t, []model.WorkflowDefinition{def}, Options{ExecutorTimeout: 50 * time.Millisecond})
	f.registry.Register("resume_analysis", executor.Func(func(ctx context.Context, step *model.StepExecution, wfCtx executor.WorkflowContext) executor.Result {
		<-ctx.Done()
		time.Sleep(time.Second)
		return executor.Success(nil)
	}))

	wf, err := f.coordinator.Start("slow", "application", "app-1")
	require.NoError(t, err)
	require.NoError(t, f.coordinator.Advance(context.Background(), wf.Id))

	current, _ := f.storage.GetExecution(wf.Id)
	require.Equal(t, model.EXECUTION_FAILED, current.Status)
	step, _ := f.storage.GetStep(wf.Id, 1)
	require.Equal(t, model.STEP_FAILED, step.Status)
	require.Contains(t, step.FailureReason, "timed out")
}

func TestNeedsInputRaisesClarificationAndResumes(t *testing.T) {
	def := model.WorkflowDefinition{
		Name: "salary",
		Steps: []model.StepDefinition{
			{OrderNumber: 1, StepType: "offer_approval", StepName: "Offer Approval", AutoStart: true},
		},
	}
	f := newFixture(t, []model.WorkflowDefinition{def}, Options{})
	f.registry.Register("offer_approval", executor.Func(func(ctx context.Context, step *model.StepExecution, wfCtx executor.WorkflowContext) executor.Result {
		for _, cl := range wfCtx.Clarifications {
			if cl.StepOrder == step.OrderNumber && cl.Status == model.CLARIFICATION_RESOLVED {
				return executor.Success(map[string]any{"approvedSalary": cl.Response})
			}
		}
		return executor.NeedsInput("approve salary of 120k?")
	}))

	wf, err := f.coordinator.Start("salary", "application", "app-1")
	require.NoError(t, err)
	require.NoError(t, f.coordinator.Advance(context.Background(), wf.Id))

	step, _ := f.storage.GetStep(wf.Id, 1)
	require.Equal(t, model.STEP_AWAITING_APPROVAL, step.Status)

	current, _ := f.storage.GetExecution(wf.Id)
	require.Len(t, current.Clarifications, 1)
	cl := current.Clarifications[0]
	require.Equal(t, model.CLARIFICATION_PENDING, cl.Status)
	require.Equal(t, "approve salary of 120k?", cl.Prompt)

	// advance alone makes no progress while the clarification is pending
	require.NoError(t, f.coordinator.Advance(context.Background(), wf.Id))
	step, _ = f.storage.GetStep(wf.Id, 1)
	require.Equal(t, model.STEP_AWAITING_APPROVAL, step.Status)

	require.NoError(t, f.bridge.Resolve(wf.Id, cl.Id, "yes", "hiring-manager"))
	require.NoError(t, f.coordinator.Advance(context.Background(), wf.Id))

	current, _ = f.storage.GetExecution(wf.Id)
	require.Equal(t, model.EXECUTION_COMPLETED, current.Status)
	require.Equal(t, map[string]any{"approvedSalary": "yes"}, current.Outputs["1"])
	require.Equal(t, model.CLARIFICATION_RESOLVED, current.Clarifications[0].Status)
	require.Equal(t, "hiring-manager", current.Clarifications[0].RespondedBy)
}

// An approval-gated step whose executor asks for input must halt on the
// pending clarification even though quorum is already satisfied.
func TestNeedsInputAfterQuorumHaltsUntilResolve(t *testing.T) {
	def := model.WorkflowDefinition{
		Name: "gated",
		Steps: []model.StepDefinition{
			{
				OrderNumber:             1,
				StepType:                "offer_approval",
				StepName:                "Offer Approval",
				AutoStart:               true,
				RequiredHumanApproval:   true,
				NumberOfApprovalsNeeded: 1,
				Approvers:               []string{"hr-lead"},
			},
		},
	}
	f := newFixture(t, []model.WorkflowDefinition{def}, Options{})
	invocations := 0
	f.registry.Register("offer_approval", executor.Func(func(ctx context.Context, step *model.StepExecution, wfCtx executor.WorkflowContext) executor.Result {
		invocations++
		for _, cl := range wfCtx.Clarifications {
			if cl.StepOrder == step.OrderNumber && cl.Status == model.CLARIFICATION_RESOLVED {
				return executor.Success(cl.Response)
			}
		}
		return executor.NeedsInput("confirm the compensation band")
	}))

	wf, err := f.coordinator.Start("gated", "application", "app-1")
	require.NoError(t, err)
	require.NoError(t, f.coordinator.Advance(context.Background(), wf.Id))
	require.Equal(t, 0, invocations)

	step, _ := f.storage.GetStep(wf.Id, 1)
	require.Equal(t, model.STEP_AWAITING_APPROVAL, step.Status)
	step.ApprovalsReceived = []string{"hr-lead"}
	require.NoError(t, f.storage.UpdateStep(step))

	require.NoError(t, f.coordinator.Advance(context.Background(), wf.Id))
	require.Equal(t, 1, invocations)

	current, _ := f.storage.GetExecution(wf.Id)
	require.Len(t, current.Clarifications, 1)
	step, _ = f.storage.GetStep(wf.Id, 1)
	require.Equal(t, model.STEP_AWAITING_APPROVAL, step.Status)

	// repeated advances neither re-invoke nor pile up clarifications
	for i := 0; i < 3; i++ {
		require.NoError(t, f.coordinator.Advance(context.Background(), wf.Id))
	}
	require.Equal(t, 1, invocations)
	current, _ = f.storage.GetExecution(wf.Id)
	require.Len(t, current.Clarifications, 1)

	require.NoError(t, f.bridge.Resolve(wf.Id, current.Clarifications[0].Id, "band C", "hr-lead"))
	require.NoError(t, f.coordinator.Advance(context.Background(), wf.Id))
	require.Equal(t, 2, invocations)

	current, _ = f.storage.GetExecution(wf.Id)
	require.Equal(t, model.EXECUTION_COMPLETED, current.Status)
	require.Equal(t, "band C", current.Outputs["1"])
}

// Out-of-band clarifications are rejected while the executor runs; otherwise
// the outcome write-back would silently drop them.
func TestRaiseRejectedWhileExecutorRunning(t *testing.T) {
	def := model.WorkflowDefinition{
		Name: "single",
		Steps: []model.StepDefinition{
			{OrderNumber: 1, StepType: "resume_analysis", StepName: "Resume Analysis", AutoStart: true},
		},
	}
	f := newFixture(t, []model.WorkflowDefinition{def}, Options{})
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	f.registry.Register("resume_analysis", executor.Func(func(ctx context.Context, step *model.StepExecution, wfCtx executor.WorkflowContext) executor.Result {
		started <- struct{}{}
		<-release
		return executor.Success("scored")
	}))

	wf, err := f.coordinator.Start("single", "application", "app-1")
	require.NoError(t, err)

	advanceDone := make(chan error, 1)
	go func() {
		advanceDone <- f.coordinator.Advance(context.Background(), wf.Id)
	}()
	<-started

	_, err = f.bridge.Raise(wf.Id, 1, "mid-flight question")
	var wrongState model.StepNotAwaitingApprovalError
	require.ErrorAs(t, err, &wrongState)
	require.Equal(t, model.STEP_IN_PROGRESS, wrongState.Status)

	close(release)
	require.NoError(t, <-advanceDone)

	current, _ := f.storage.GetExecution(wf.Id)
	require.Equal(t, model.EXECUTION_COMPLETED, current.Status)
	require.Empty(t, current.Clarifications)
}

type faultyFinderStorage struct {
	*inmem.InMemStorage
}

func (s *faultyFinderStorage) FindActiveExecution(workflowType string, entityType string, entityId string) (*model.WorkflowExecution, error) {
	return nil, persistence.StorageLayerError{Message: "connection reset"}
}

// A storage fault during the duplicate check must fail the start, not slip
// through as "no duplicate".
func TestStartPropagatesDuplicateCheckFault(t *testing.T) {
	cat, err := catalog.New([]model.WorkflowDefinition{hiringDefinition()})
	require.NoError(t, err)
	storage := &faultyFinderStorage{InMemStorage: inmem.NewInMemStorage()}
	locks := util.NewKeyedMutex()
	coordinator := NewCoordinator(cat, storage, executor.NewRegistry(), clarification.NewBridge(storage, locks), locks, cache.NewExecutionStateCache(), nil, Options{})

	_, err = coordinator.Start("hiring_process", "application", "app-1")
	var storageErr persistence.StorageLayerError
	require.ErrorAs(t, err, &storageErr)
}

// A delay is served once; a clarification resolution must not re-arm it.
func TestResolutionDoesNotReapplyDelay(t *testing.T) {
	def := model.WorkflowDefinition{
		Name: "delayed",
		Steps: []model.StepDefinition{
			{OrderNumber: 1, StepType: "send_offer", StepName: "Send Offer", AutoStart: true, DelayInSeconds: 30},
		},
	}
	f := newFixture(t, []model.WorkflowDefinition{def}, Options{})
	invocations := 0
	f.registry.Register("send_offer", executor.Func(func(ctx context.Context, step *model.StepExecution, wfCtx executor.WorkflowContext) executor.Result {
		invocations++
		for _, cl := range wfCtx.Clarifications {
			if cl.StepOrder == step.OrderNumber && cl.Status == model.CLARIFICATION_RESOLVED {
				return executor.Success("sent")
			}
		}
		return executor.NeedsInput("confirm the offer letter template")
	}))

	wf, err := f.coordinator.Start("delayed", "application", "app-1")
	require.NoError(t, err)
	require.NoError(t, f.coordinator.Advance(context.Background(), wf.Id))
	step, _ := f.storage.GetStep(wf.Id, 1)
	require.Equal(t, model.STEP_SCHEDULED, step.Status)

	f.clock.Add(31 * time.Second)
	require.NoError(t, f.coordinator.Advance(context.Background(), wf.Id))
	require.Equal(t, 1, invocations)

	current, _ := f.storage.GetExecution(wf.Id)
	require.Len(t, current.Clarifications, 1)
	require.NoError(t, f.bridge.Resolve(wf.Id, current.Clarifications[0].Id, "standard", "hr-lead"))

	// no clock movement; the re-run must not wait out the delay again
	require.NoError(t, f.coordinator.Advance(context.Background(), wf.Id))
	require.Equal(t, 2, invocations)
	step, _ = f.storage.GetStep(wf.Id, 1)
	require.Equal(t, model.STEP_COMPLETED, step.Status)
	current, _ = f.storage.GetExecution(wf.Id)
	require.Equal(t, model.EXECUTION_COMPLETED, current.Status)
}

func TestPauseBlocksNewSteps(t *testing.T) {
	def := model.WorkflowDefinition{
		Name: "two",
		Steps: []model.StepDefinition{
			{OrderNumber: 1, StepType: "resume_analysis", StepName: "Resume Analysis", AutoStart: true},
			{OrderNumber: 2, StepType: "screening", StepName: "Screening", AutoStart: true},
		},
	}
	f := newFixture(t, []model.WorkflowDefinition{def}, Options{})
	f.registry.Register("resume_analysis", succeedWith("scored"))
	invocations := 0
	f.registry.Register("screening", executor.Func(func(ctx context.Context, step *model.StepExecution, wfCtx executor.WorkflowContext) executor.Result {
		invocations++
		return executor.Success(nil)
	}))

	wf, err := f.coordinator.Start("two", "application", "app-1")
	require.NoError(t, err)
	require.NoError(t, f.coordinator.Pause(wf.Id))

	require.NoError(t, f.coordinator.Advance(context.Background(), wf.Id))
	require.Equal(t, 0, invocations)
	steps, _ := f.storage.GetSteps(wf.Id)
	require.Equal(t, model.STEP_PENDING, steps[0].Status)

	require.NoError(t, f.coordinator.Resume(context.Background(), wf.Id))
	require.Equal(t, 1, invocations)
	current, _ := f.storage.GetExecution(wf.Id)
	require.Equal(t, model.EXECUTION_COMPLETED, current.Status)
}

func TestConcurrentAdvanceInvokesExecutorOnce(t *testing.T) {
	def := model.WorkflowDefinition{
		Name: "single",
		Steps: []model.StepDefinition{
			{OrderNumber: 1, StepType: "resume_analysis", StepName: "Resume Analysis", AutoStart: true},
		},
	}
	f := newFixture(t, []model.WorkflowDefinition{def}, Options{})
	var mu sync.Mutex
	invocations := 0
	f.registry.Register("resume_analysis", executor.Func(func(ctx context.Context, step *model.StepExecution, wfCtx executor.WorkflowContext) executor.Result {
		mu.Lock()
		invocations++
		mu.Unlock()
		time.Sleep(20 * time.Millisecond)
		return executor.Success(nil)
	}))

	wf, err := f.coordinator.Start("single", "application", "app-1")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = f.coordinator.Advance(context.Background(), wf.Id)
		}()
	}
	wg.Wait()

	require.Equal(t, 1, invocations)
	current, _ := f.storage.GetExecution(wf.Id)
	require.Equal(t, model.EXECUTION_COMPLETED, current.Status)
}
