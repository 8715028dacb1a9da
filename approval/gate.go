package approval

import (
	"github.com/nkashyap/hireflow/analytics"
	"github.com/nkashyap/hireflow/logger"
	"github.com/nkashyap/hireflow/model"
	"github.com/nkashyap/hireflow/persistence"
	"github.com/nkashyap/hireflow/util"
	"go.uber.org/zap"
)

type VoteResult string

const QUORUM_PENDING VoteResult = "quorum_pending"
const QUORUM_REACHED VoteResult = "quorum_reached"

// Gate tracks approver votes on a step and decides when quorum is met. It
// shares the per-execution lock with the coordinator, so a vote and a delayed
// wake-up can never race on the same step.
type Gate struct {
	storage persistence.ExecutionStorage
	locks   *util.KeyedMutex
	audit   *analytics.ExecutionAuditLog
}

func NewGate(storage persistence.ExecutionStorage, locks *util.KeyedMutex, audit *analytics.ExecutionAuditLog) *Gate {
	return &Gate{
		storage: storage,
		locks:   locks,
		audit:   audit,
	}
}

// RecordApproval adds one vote. Quorum uses a strict count of distinct
// eligible approvers; reaching it tells the caller to advance the execution.
func (g *Gate) RecordApproval(executionId string, stepOrder int, approverId string) (VoteResult, error) {
	g.locks.Lock(executionId)
	defer g.locks.Unlock(executionId)

	step, err := g.storage.GetStep(executionId, stepOrder)
	if err != nil {
		return "", err
	}
	if step.Status != model.STEP_AWAITING_APPROVAL {
		return "", model.StepNotAwaitingApprovalError{StepOrder: stepOrder, Status: step.Status}
	}
	if !contains(step.Approvers, approverId) {
		return "", model.NotEligibleApproverError{Approver: approverId, StepOrder: stepOrder}
	}
	if contains(step.ApprovalsReceived, approverId) {
		return "", model.AlreadyVotedError{Approver: approverId, StepOrder: stepOrder}
	}

	step.ApprovalsReceived = append(step.ApprovalsReceived, approverId)
	if err := g.storage.UpdateStep(step); err != nil {
		return "", err
	}
	g.audit.RecordApproval(executionId, stepOrder, approverId)
	logger.Info("approval recorded",
		zap.String("executionId", executionId),
		zap.Int("step", stepOrder),
		zap.String("approver", approverId),
		zap.Int("votes", len(step.ApprovalsReceived)),
		zap.Int("needed", step.NumberOfApprovalsNeeded))

	if step.QuorumReached() {
		return QUORUM_REACHED, nil
	}
	return QUORUM_PENDING, nil
}

func contains(list []string, value string) bool {
	for _, v := range list {
		if v == value {
			return true
		}
	}
	return false
}
