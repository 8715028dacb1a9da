package rest

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/nkashyap/hireflow/logger"
	"github.com/nkashyap/hireflow/model"
	"go.uber.org/zap"
)

func (s *Server) HandleRaiseClarification(w http.ResponseWriter, r *http.Request) {
	executionId, order, ok := executionStepVars(w, r)
	if !ok {
		return
	}
	var req model.ClarificationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	defer r.Body.Close()
	clarificationId, err := s.executionService.RaiseClarification(executionId, order, req.Prompt)
	if err != nil {
		logger.Error("error raising clarification", zap.String("executionId", executionId), zap.Int("step", order), zap.Error(err))
		respondWithError(w, statusFor(err), err.Error())
		return
	}
	respondWithJSON(w, http.StatusCreated, map[string]string{"clarificationId": clarificationId})
}

func (s *Server) HandleResolveClarification(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	var req model.ClarificationResolution
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	defer r.Body.Close()
	err := s.executionService.ResolveClarification(r.Context(), vars["id"], vars["clarificationId"], req.Response, req.RespondedBy)
	if err != nil {
		logger.Error("error resolving clarification",
			zap.String("executionId", vars["id"]),
			zap.String("clarificationId", vars["clarificationId"]),
			zap.Error(err))
		respondWithError(w, statusFor(err), err.Error())
		return
	}
	respondOK(w, map[string]string{"message": "resolved"})
}
