package rest

import (
	"encoding/json"
	"net/http"

	"github.com/nkashyap/hireflow/logger"
	"github.com/nkashyap/hireflow/model"
	"go.uber.org/zap"
)

func (s *Server) HandleApprove(w http.ResponseWriter, r *http.Request) {
	executionId, order, ok := executionStepVars(w, r)
	if !ok {
		return
	}
	var req model.ApprovalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	defer r.Body.Close()
	result, err := s.executionService.Approve(r.Context(), executionId, order, req.Approver)
	if err != nil {
		logger.Error("error recording approval",
			zap.String("executionId", executionId),
			zap.Int("step", order),
			zap.String("approver", req.Approver),
			zap.Error(err))
		respondWithError(w, statusFor(err), err.Error())
		return
	}
	respondOK(w, map[string]string{"result": string(result)})
}
