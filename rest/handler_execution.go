package rest

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/nkashyap/hireflow/logger"
	"github.com/nkashyap/hireflow/model"
	"go.uber.org/zap"
)

func (s *Server) HandleStartExecution(w http.ResponseWriter, r *http.Request) {
	var req model.StartExecutionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	defer r.Body.Close()
	view, err := s.executionService.StartWorkflow(r.Context(), req.WorkflowType, req.EntityType, req.EntityId)
	if err != nil {
		logger.Error("error starting execution", zap.String("workflowType", req.WorkflowType), zap.Error(err))
		respondWithError(w, statusFor(err), err.Error())
		return
	}
	respondWithJSON(w, http.StatusCreated, view)
}

func (s *Server) HandleGetExecution(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	view, err := s.executionService.GetExecution(vars["id"])
	if err != nil {
		respondWithError(w, statusFor(err), err.Error())
		return
	}
	respondOK(w, view)
}

func (s *Server) HandleTriggerStep(w http.ResponseWriter, r *http.Request) {
	executionId, order, ok := executionStepVars(w, r)
	if !ok {
		return
	}
	if err := s.executionService.TriggerStep(r.Context(), executionId, order); err != nil {
		logger.Error("error triggering step", zap.String("executionId", executionId), zap.Int("step", order), zap.Error(err))
		respondWithError(w, statusFor(err), err.Error())
		return
	}
	respondOK(w, map[string]string{"message": "triggered"})
}

func (s *Server) HandlePause(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := s.executionService.Pause(vars["id"]); err != nil {
		respondWithError(w, statusFor(err), err.Error())
		return
	}
	respondOK(w, map[string]string{"message": "paused"})
}

func (s *Server) HandleResume(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := s.executionService.Resume(r.Context(), vars["id"]); err != nil {
		respondWithError(w, statusFor(err), err.Error())
		return
	}
	respondOK(w, map[string]string{"message": "resumed"})
}

func executionStepVars(w http.ResponseWriter, r *http.Request) (string, int, bool) {
	vars := mux.Vars(r)
	order, err := strconv.Atoi(vars["order"])
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid step order")
		return "", 0, false
	}
	return vars["id"], order, true
}
