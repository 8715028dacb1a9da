package approval

import (
	"testing"

	"github.com/nkashyap/hireflow/model"
	"github.com/nkashyap/hireflow/persistence/inmem"
	"github.com/nkashyap/hireflow/util"
	"github.com/stretchr/testify/require"
)

func seedAwaitingStep(t *testing.T, storage *inmem.InMemStorage) *model.StepExecution {
	t.Helper()
	wf := &model.WorkflowExecution{
		Id:           "exec-1",
		WorkflowType: "hiring_process",
		EntityId:     "app-1",
		EntityType:   "application",
		Status:       model.EXECUTION_RUNNING,
		TotalSteps:   1,
		Outputs:      map[string]any{},
	}
	step := model.NewStepExecution(wf.Id, model.StepDefinition{
		OrderNumber:             1,
		StepType:                "offer_approval",
		StepName:                "Offer Approval",
		AutoStart:               true,
		RequiredHumanApproval:   true,
		NumberOfApprovalsNeeded: 2,
		Approvers:               []string{"alice", "bob", "carol"},
	})
	step.Status = model.STEP_AWAITING_APPROVAL
	require.NoError(t, storage.CreateExecution(wf, []*model.StepExecution{step}))
	return step
}

func TestRecordApprovalQuorum(t *testing.T) {
	storage := inmem.NewInMemStorage()
	seedAwaitingStep(t, storage)
	gate := NewGate(storage, util.NewKeyedMutex(), nil)

	res, err := gate.RecordApproval("exec-1", 1, "alice")
	require.NoError(t, err)
	require.Equal(t, QUORUM_PENDING, res)

	res, err = gate.RecordApproval("exec-1", 1, "bob")
	require.NoError(t, err)
	require.Equal(t, QUORUM_REACHED, res)

	step, err := storage.GetStep("exec-1", 1)
	require.NoError(t, err)
	require.Equal(t, []string{"alice", "bob"}, step.ApprovalsReceived)
}

func TestRecordApprovalRejectsIneligibleApprover(t *testing.T) {
	storage := inmem.NewInMemStorage()
	seedAwaitingStep(t, storage)
	gate := NewGate(storage, util.NewKeyedMutex(), nil)

	_, err := gate.RecordApproval("exec-1", 1, "mallory")
	var notEligible model.NotEligibleApproverError
	require.ErrorAs(t, err, &notEligible)
	require.Equal(t, "mallory", notEligible.Approver)

	// the rejected vote left no trace
	step, err := storage.GetStep("exec-1", 1)
	require.NoError(t, err)
	require.Empty(t, step.ApprovalsReceived)
}

func TestRecordApprovalRejectsDuplicateVote(t *testing.T) {
	storage := inmem.NewInMemStorage()
	seedAwaitingStep(t, storage)
	gate := NewGate(storage, util.NewKeyedMutex(), nil)

	_, err := gate.RecordApproval("exec-1", 1, "alice")
	require.NoError(t, err)

	_, err = gate.RecordApproval("exec-1", 1, "alice")
	var already model.AlreadyVotedError
	require.ErrorAs(t, err, &already)

	step, err := storage.GetStep("exec-1", 1)
	require.NoError(t, err)
	require.Equal(t, []string{"alice"}, step.ApprovalsReceived)
}

func TestRecordApprovalRequiresAwaitingStatus(t *testing.T) {
	storage := inmem.NewInMemStorage()
	step := seedAwaitingStep(t, storage)
	step.Status = model.STEP_COMPLETED
	require.NoError(t, storage.UpdateStep(step))
	gate := NewGate(storage, util.NewKeyedMutex(), nil)

	_, err := gate.RecordApproval("exec-1", 1, "alice")
	var wrongState model.StepNotAwaitingApprovalError
	require.ErrorAs(t, err, &wrongState)
	require.Equal(t, model.STEP_COMPLETED, wrongState.Status)
}

func TestRecordApprovalUnknownExecution(t *testing.T) {
	gate := NewGate(inmem.NewInMemStorage(), util.NewKeyedMutex(), nil)
	_, err := gate.RecordApproval("nope", 1, "alice")
	require.Error(t, err)
}
